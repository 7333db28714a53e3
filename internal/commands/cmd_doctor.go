package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/prdeck/prdeck/internal/core/doctor"
)

type DoctorCmd struct {
	flags  *Flags
	format string
}

// NewDoctorCmd creates a new doctor command.
func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

// Register adds the doctor command to the application.
func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Check the environment for problems",
		UsageText:   "prdeck doctor [options]",
		Description: "Runs configuration, credential, and cache store checks and reports the results.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath),
		doctor.NewStoreCheck(cmd.flags.Config.DataDir),
	}

	results := doctor.RunAll(ctx, checks)

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		w := c.Root().Writer
		for _, r := range results {
			fmt.Fprintf(w, "%s\n", r.Name)
			for _, item := range r.Items {
				if item.Detail != "" {
					fmt.Fprintf(w, "  [%s] %s: %s\n", item.Status, item.Label, item.Detail)
				} else {
					fmt.Fprintf(w, "  [%s] %s\n", item.Status, item.Label)
				}
			}
		}

		passed, warned, failed := doctor.Summary(results)
		fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
	}

	if _, _, failed := doctor.Summary(results); failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}
