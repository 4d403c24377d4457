package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/pseudomuto/waypoint/pkg/engine"
)

// infoCmd creates the info command showing the merged file/history view.
func infoCmd() *cli.Command {
	return &cli.Command{
		Name:    "info",
		Aliases: []string{"status"},
		Usage:   "Show migration status",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				infos, err := w.Info(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(c.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tDESCRIPTION\tTYPE\tSTATE\tINSTALLED ON")
				for _, info := range infos {
					installed := ""
					if info.InstalledOn != nil {
						installed = info.InstalledOn.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						info.Version, info.Description, info.Type, info.State, installed)
				}
				return tw.Flush()
			})
		},
	}
}

// validateCmd creates the validate command.
func validateCmd() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate applied migrations against local files",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "treat unknown history rows as errors",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				report, err := w.ValidateStrict(ctx, c.Bool("strict"))
				if err != nil {
					return err
				}

				for _, issue := range report.Warnings {
					fmt.Fprintf(c.Writer, "warning: %s: %s (%s)\n", issue.Script, issue.Detail, issue.Kind)
				}
				if report.Valid {
					fmt.Fprintln(c.Writer, "Validation passed")
					return nil
				}
				for _, issue := range report.Errors {
					fmt.Fprintf(c.Writer, "error: %s: %s (%s)\n", issue.Script, issue.Detail, issue.Kind)
				}
				return &engine.ValidationError{Issues: report.Errors}
			})
		},
	}
}

// repairCmd creates the repair command.
func repairCmd() *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Remove failed history rows and realign checksums",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				report, err := w.Repair(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.Writer, "Removed %d failed row(s), updated %d checksum(s)\n",
					report.RemovedFailed, report.UpdatedChecksums)
				return nil
			})
		},
	}
}

// baselineCmd creates the baseline command.
func baselineCmd() *cli.Command {
	return &cli.Command{
		Name:  "baseline",
		Usage: "Mark an existing schema as migrated through a version",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "baseline-version",
				Usage: "version to baseline at (default: from config)",
			},
			&cli.StringFlag{
				Name:  "baseline-description",
				Usage: "description for the baseline row",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				return w.Baseline(ctx, c.String("baseline-version"), c.String("baseline-description"))
			})
		},
	}
}

// undoCmd creates the undo command.
func undoCmd() *cli.Command {
	return &cli.Command{
		Name:  "undo",
		Usage: "Revert applied migrations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "number of migrations to revert (default: 1)",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "revert everything above this version",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				report, err := w.Undo(ctx, engine.UndoTarget{
					Count:   int(c.Int("count")),
					Version: c.String("target"),
				})
				if report != nil {
					for _, d := range report.Undone {
						fmt.Fprintf(c.Writer, "Undone %s (%dms)\n", d.Script, d.DurationMs)
					}
				}
				return err
			})
		},
	}
}

// cleanCmd creates the clean command.
func cleanCmd() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Drop every object in the configured schema",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "allow-clean",
				Usage: "confirm the destructive clean operation",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				dropped, err := w.Clean(ctx, c.Bool("allow-clean"))
				if err != nil {
					return err
				}
				for _, name := range dropped {
					fmt.Fprintf(c.Writer, "Dropped %s\n", name)
				}
				fmt.Fprintf(c.Writer, "Dropped %d object(s)\n", len(dropped))
				return nil
			})
		},
	}
}
