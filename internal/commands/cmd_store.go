package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/internal/core/logging"
	"github.com/prdeck/prdeck/internal/store/badgerkv"
)

type StoreCmd struct {
	flags *Flags

	prefix string
	yes    bool
}

// NewStoreCmd creates a new store maintenance command.
func NewStoreCmd(flags *Flags) *StoreCmd {
	return &StoreCmd{flags: flags}
}

// Register adds the store command to the application.
func (cmd *StoreCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "store",
		Usage: "Inspect and maintain the local cache store",
		Commands: []*cli.Command{
			{
				Name:      "keys",
				Usage:     "List keys in the cache store",
				UsageText: "prdeck store keys [options]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "prefix",
						Usage:       "only list keys with this prefix",
						Destination: &cmd.prefix,
					},
				},
				Action: cmd.runKeys,
			},
			{
				Name:      "get",
				Usage:     "Print the value stored under a key",
				UsageText: "prdeck store get <key>",
				Action:    cmd.runGet,
			},
			{
				Name:      "clear",
				Usage:     "Delete keys from the cache store",
				UsageText: "prdeck store clear [options]",
				Description: `Deletes cached records so they are refetched on next use. Viewed-state
keys are included when they match the prefix, so prefer a narrow prefix
like "bundle:" unless you really want a full reset.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "prefix",
						Usage:       "only delete keys with this prefix",
						Destination: &cmd.prefix,
					},
					&cli.BoolFlag{
						Name:        "yes",
						Usage:       "skip confirmation",
						Destination: &cmd.yes,
					},
				},
				Action: cmd.runClear,
			},
		},
	})

	return app
}

func (cmd *StoreCmd) open() (kv.KV, error) {
	return badgerkv.Open(filepath.Join(cmd.flags.Config.DataDir, "store"))
}

func (cmd *StoreCmd) runKeys(ctx context.Context, c *cli.Command) error {
	store, err := cmd.open()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListKeys(ctx, cmd.prefix)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	for _, k := range keys {
		fmt.Fprintln(c.Root().Writer, k)
	}
	return nil
}

func (cmd *StoreCmd) runGet(ctx context.Context, c *cli.Command) error {
	key := c.Args().First()
	if key == "" {
		return fmt.Errorf("usage: prdeck store get <key>")
	}

	store, err := cmd.open()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var value json.RawMessage
	if err := store.Get(ctx, key, &value); err != nil {
		if kv.IsNotFound(err) {
			return fmt.Errorf("key %q not found", key)
		}
		return fmt.Errorf("get %q: %w", key, err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, value, "", "  "); err != nil {
		// Not valid JSON, print raw
		fmt.Fprintln(c.Root().Writer, string(value))
		return nil
	}

	fmt.Fprintln(c.Root().Writer, pretty.String())
	return nil
}

func (cmd *StoreCmd) runClear(ctx context.Context, c *cli.Command) error {
	if cmd.prefix == "" && !cmd.yes {
		return fmt.Errorf("refusing to clear the entire store without --yes")
	}

	store, err := cmd.open()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListKeys(ctx, cmd.prefix)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			return fmt.Errorf("delete %q: %w", k, err)
		}
	}

	logger := logging.Component("store")
	logger.Info().
		Str("prefix", cmd.prefix).
		Int("deleted", len(keys)).
		Msg("cleared cache keys")

	fmt.Fprintf(c.Root().Writer, "deleted %d key(s)\n", len(keys))
	return nil
}
