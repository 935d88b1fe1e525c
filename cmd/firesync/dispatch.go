package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/firesync"
	"github.com/c0deZ3R0/firesync/errors"
)

func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <json|->",
		Short: "Append one action to the collection",
		Long: `Append one action, given as a JSON object or read from stdin with "-", to the
collection. The creator and a server timestamp are added to it. Prints the new
document's path.`,
		Example: `  firesync dispatch '{"type":"INCREMENT","by":1}'
  echo '{"type":"RESET"}' | firesync dispatch -`,
		Args: cobra.ExactArgs(1),
		RunE: runDispatch,
	}
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	action, err := readAction(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// nothing is listened to, so local dispatches go nowhere
	adapter, err := firesync.New(cfg.Creator, store, cfg.Collection, firesync.DispatcherFunc(func(firesync.Action) {}))
	if err != nil {
		return err
	}
	ref, err := adapter.Dispatch(ctx, action)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ref.Path())
	return nil
}

// readAction parses arg, or stdin when arg is "-", as a JSON object.
func readAction(stdin io.Reader, arg string) (firesync.Action, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return nil, errors.NewValidationError(errors.OpDispatch, fmt.Errorf("read action: %w", err))
		}
	}

	var action firesync.Action
	if err := json.Unmarshal(bytes.TrimSpace(data), &action); err != nil {
		return nil, errors.NewValidationError(errors.OpDispatch, fmt.Errorf("action must be a JSON object: %w", err))
	}
	if action == nil {
		return nil, errors.NewValidationError(errors.OpDispatch, fmt.Errorf("action must be a JSON object, not null"))
	}
	return action, nil
}
