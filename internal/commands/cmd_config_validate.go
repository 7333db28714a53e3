package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/prdeck/prdeck/internal/core/config"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "prdeck config validate [options]",
				Description: "Validates the configuration file and prints the configured hosts.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	// Config loaded and validated in the Before hook, so getting here
	// means it parsed. ValidateDeep adds the I/O and URL checks.
	err := cfg.ValidateDeep(cmd.flags.ConfigPath)
	warnings := cfg.Warnings()

	if cmd.format == "json" {
		out := struct {
			Valid    bool                       `json:"valid"`
			Error    string                     `json:"error,omitempty"`
			Warnings []config.ValidationWarning `json:"warnings,omitempty"`
			Hosts    []string                   `json:"hosts"`
		}{
			Valid:    err == nil,
			Warnings: warnings,
			Hosts:    hostNames(cfg.Hosts),
		}
		if err != nil {
			out.Error = err.Error()
		}

		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := c.Root().Writer
	fmt.Fprintf(w, "config: %s\n", cmd.flags.ConfigPath)
	fmt.Fprintf(w, "data dir: %s\n", cfg.DataDir)
	for _, name := range hostNames(cfg.Hosts) {
		h := cfg.Hosts[name]
		fmt.Fprintf(w, "host %s: kind=%s base_url=%s\n", name, h.Kind, h.BaseURL)
	}

	for _, warn := range warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", warn.Item, warn.Message)
	}

	if err != nil {
		fmt.Fprintf(w, "invalid: %s\n", err)
		return cli.Exit("", 1)
	}

	fmt.Fprintln(w, "configuration is valid")
	return nil
}

func hostNames[T any](hosts map[string]T) []string {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
