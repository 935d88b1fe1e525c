// Package config loads the firesync command's YAML configuration.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
	"github.com/c0deZ3R0/firesync/logging"
)

// Backend kinds.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Config is the complete command configuration.
type Config struct {
	// Creator is stored on every dispatched action. Defaults to a random UUID.
	Creator    string         `yaml:"creator"`
	Collection string         `yaml:"collection"`
	Backend    BackendConfig  `yaml:"backend"`
	Logging    logging.Config `yaml:"logging"`
	Metrics    MetricsConfig  `yaml:"metrics"`
}

type BackendConfig struct {
	Kind      string          `yaml:"kind"`
	Firestore FirestoreConfig `yaml:"firestore"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Postgres  PostgresConfig  `yaml:"postgres"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatabaseID      string `yaml:"database_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type SQLiteConfig struct {
	DSN          string        `yaml:"dsn"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Creator:    uuid.NewString(),
		Collection: "actions",
		Backend: BackendConfig{
			Kind: BackendMemory,
			SQLite: SQLiteConfig{
				DSN:          "firesync.db",
				PollInterval: 250 * time.Millisecond,
			},
		},
		Logging: logging.DefaultConfig,
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(errors.OpConfig, errors.Component("config"), errors.KindNotFound, fmt.Errorf("read config file: %w", err))
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	creator := cfg.Creator
	cfg.Creator = ""

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("parse config: %w", err))
	}
	if cfg.Creator == "" {
		cfg.Creator = creator
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.NewValidationError(errors.OpConfig, fmt.Errorf(format, args...))
	}

	if c.Creator == "" {
		return invalid("creator is required")
	}
	if err := docstore.ValidateCollection(c.Collection); err != nil {
		return errors.NewValidationError(errors.OpConfig, err)
	}

	switch c.Backend.Kind {
	case BackendMemory:
	case BackendSQLite:
		if c.Backend.SQLite.DSN == "" {
			return invalid("backend.sqlite.dsn is required")
		}
		if c.Backend.SQLite.PollInterval < 0 {
			return invalid("backend.sqlite.poll_interval must not be negative")
		}
	case BackendPostgres:
		if c.Backend.Postgres.DSN == "" {
			return invalid("backend.postgres.dsn is required")
		}
	case BackendFirestore:
		if c.Backend.Firestore.ProjectID == "" {
			return invalid("backend.firestore.project_id is required")
		}
	default:
		return invalid("unknown backend kind %q", c.Backend.Kind)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return invalid("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return invalid("unknown logging format %q", c.Logging.Format)
	}
	return nil
}
