package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c0deZ3R0/firesync/config"
	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/docstore/firestore"
	"github.com/c0deZ3R0/firesync/docstore/memstore"
	"github.com/c0deZ3R0/firesync/docstore/postgres"
	"github.com/c0deZ3R0/firesync/docstore/sqlite"
	"github.com/c0deZ3R0/firesync/errors"
	"github.com/c0deZ3R0/firesync/logging"
)

// openStore connects to the backend cfg selects.
func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	logger := logging.Default()

	switch cfg.Backend.Kind {
	case config.BackendMemory:
		return memstore.New(memstore.WithLogger(logger)), nil

	case config.BackendSQLite:
		c := sqlite.DefaultConfig(cfg.Backend.SQLite.DSN)
		c.Logger = logger
		if cfg.Backend.SQLite.PollInterval > 0 {
			c.PollInterval = cfg.Backend.SQLite.PollInterval
		}
		store, err := sqlite.New(c)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendPostgres:
		c := postgres.DefaultConfig(cfg.Backend.Postgres.DSN)
		c.Logger = logger
		store, err := postgres.New(c)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendFirestore:
		store, err := firestore.New(ctx, firestore.Config{
			ProjectID:       cfg.Backend.Firestore.ProjectID,
			DatabaseID:      cfg.Backend.Firestore.DatabaseID,
			CredentialsFile: cfg.Backend.Firestore.CredentialsFile,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind))
}

func closeStore(store docstore.Store) {
	if err := store.Close(); err != nil {
		logging.Warn("closing document store", slog.String("error", err.Error()))
	}
}
