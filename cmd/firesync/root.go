package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/firesync/config"
	"github.com/c0deZ3R0/firesync/logging"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "firesync",
		Short: "Sync Redux-style actions through a shared document collection",
		Long: `firesync - append actions to a remote document collection and replay the
actions every client has appended, in server timestamp order.

Backends: memory, sqlite, postgres and firestore. Settings come from the YAML
file named by --config; the flags below override it.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.String("backend", "", "backend kind: memory, sqlite, postgres or firestore")
	flags.String("dsn", "", "data source for the sqlite or postgres backend")
	flags.String("collection", "", "collection path actions are stored in")
	flags.String("creator", "", "creator id stored on dispatched actions")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")

	rootCmd.AddCommand(newDispatchCmd(), newListenCmd(), newWatchCmd())
	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or the defaults without it, applies the flag
// overrides and initializes logging on the command's error stream.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"backend", &cfg.Backend.Kind},
		{"collection", &cfg.Collection},
		{"creator", &cfg.Creator},
		{"log-level", &cfg.Logging.Level},
		{"log-format", &cfg.Logging.Format},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.dst, _ = cmd.Flags().GetString(o.flag)
		}
	}
	if cmd.Flags().Changed("dsn") {
		dsn, _ := cmd.Flags().GetString("dsn")
		switch cfg.Backend.Kind {
		case config.BackendSQLite:
			cfg.Backend.SQLite.DSN = dsn
		case config.BackendPostgres:
			cfg.Backend.Postgres.DSN = dsn
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Logging.Output = cmd.ErrOrStderr()
	logging.Init(cfg.Logging)
	return cfg, nil
}
