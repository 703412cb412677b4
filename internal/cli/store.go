package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryatkins/liftgate/internal/kvstore"
)

// StoreOptions holds flags shared by the store subcommands.
type StoreOptions struct {
	*RootOptions
	Database string
}

// storeDocument is the JSON payload for store get.
type storeDocument struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// storeWriteResult is the JSON payload for store set and remove.
type storeWriteResult struct {
	Key   string `json:"key"`
	Bytes int    `json:"bytes,omitempty"`
}

// storeKeyList is the JSON payload for store keys.
type storeKeyList struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// NewStoreCommand creates the store command group.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and edit a persisted store",
		Long: `Operate directly on a liftgate SQLite store.

Values are JSON documents; set validates the payload before writing.
Keys are NFC-normalized the same way the app normalizes them, so a key
typed with combining characters addresses the same row the app wrote.

Examples:
  liftgate store set --db ./liftgate.db training_program '{"id":"p1"}'
  liftgate store get --db ./liftgate.db training_program
  liftgate store keys --db ./liftgate.db
  liftgate store remove --db ./liftgate.db workout_logs`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newStoreGetCommand(opts))
	cmd.AddCommand(newStoreSetCommand(opts))
	cmd.AddCommand(newStoreRemoveCommand(opts))
	cmd.AddCommand(newStoreKeysCommand(opts))

	return cmd
}

func newStoreGetCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <key>",
		Short:         "Print the document stored under a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreGet(opts, args[0], cmd)
		},
	}
}

func newStoreSetCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <key> <json>",
		Short:         "Write a JSON document under a key",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreSet(opts, args[0], args[1], cmd)
		},
	}
}

func newStoreRemoveCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <key>",
		Short:         "Delete the document stored under a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreRemove(opts, args[0], cmd)
		},
	}
}

func newStoreKeysCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "keys",
		Short:         "List all stored keys",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreKeys(opts, cmd)
		},
	}
}

func runStoreGet(opts *StoreOptions, key string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := kvstore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	value, err := st.Get(ctx, key)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read key", err)
	}
	if value == nil {
		normalized := kvstore.NormalizeKey(key)
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("key not found: %s", normalized), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("key not found: %s", normalized))
	}

	if formatter.Format == "json" {
		return formatter.Success(storeDocument{
			Key:   kvstore.NormalizeKey(key),
			Value: value,
		})
	}

	// The stored value is already a JSON document; print it as-is.
	fmt.Fprintln(formatter.Writer, string(value))
	return nil
}

func runStoreSet(opts *StoreOptions, key, payload string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Reject malformed payloads before touching the store.
	if !json.Valid([]byte(payload)) {
		_ = formatter.Error(ErrCodeBadInput, "value is not valid JSON", nil)
		return NewExitError(ExitCommandError, "value is not valid JSON")
	}

	st, err := kvstore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	if err := st.Set(ctx, key, json.RawMessage(payload)); err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write key", err)
	}

	normalized := kvstore.NormalizeKey(key)
	formatter.VerboseLog("wrote %d bytes under %q", len(payload), normalized)

	if formatter.Format == "json" {
		return formatter.Success(storeWriteResult{Key: normalized, Bytes: len(payload)})
	}
	fmt.Fprintf(formatter.Writer, "✓ stored %q (%d bytes)\n", normalized, len(payload))
	return nil
}

func runStoreRemove(opts *StoreOptions, key string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := kvstore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	// Remove is idempotent; removing an absent key succeeds.
	if err := st.Remove(ctx, key); err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to remove key", err)
	}

	normalized := kvstore.NormalizeKey(key)
	if formatter.Format == "json" {
		return formatter.Success(storeWriteResult{Key: normalized})
	}
	fmt.Fprintf(formatter.Writer, "✓ removed %q\n", normalized)
	return nil
}

func runStoreKeys(opts *StoreOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := kvstore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	keys, err := st.Keys(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list keys", err)
	}

	if formatter.Format == "json" {
		if keys == nil {
			keys = []string{}
		}
		return formatter.Success(storeKeyList{Keys: keys, Count: len(keys)})
	}

	if len(keys) == 0 {
		fmt.Fprintln(formatter.Writer, "(no keys)")
		return nil
	}
	for _, k := range keys {
		fmt.Fprintln(formatter.Writer, k)
	}
	return nil
}
