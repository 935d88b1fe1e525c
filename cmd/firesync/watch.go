package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/firesync"
	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/logging"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the collection's raw change notifications",
		Long: `Print every change notification of the collection, including pending writes
and modifications, as JSON lines. Runs until interrupted or the subscription
fails.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

// changeLine is the printed form of a docstore.Change.
type changeLine struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Pending bool           `json:"pending,omitempty"`
	Data    map[string]any `json:"data"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	adapter, err := firesync.New(cfg.Creator, store, cfg.Collection, firesync.DispatcherFunc(func(firesync.Action) {}),
		firesync.WithLogger(logging.Default()),
	)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}
	unsubscribe := adapter.Watch(ctx, cfg.Collection,
		func(changes []docstore.Change) {
			if err := writeChanges(enc, changes); err != nil {
				fail(err)
			}
		},
		fail,
	)
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}

func writeChanges(enc *json.Encoder, changes []docstore.Change) error {
	for _, c := range changes {
		line := changeLine{
			Kind:    c.Kind.String(),
			ID:      c.Doc.ID,
			Pending: c.Doc.HasPendingWrites,
			Data:    c.Doc.Data,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write change: %w", err)
		}
	}
	return nil
}
