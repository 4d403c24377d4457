package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/pseudomuto/waypoint/pkg/engine"
	"github.com/pseudomuto/waypoint/pkg/multi"
)

// migrateCmd creates the migrate command for applying pending
// migrations. With a multi_database configuration present the run fans
// out across all configured databases in dependency order.
func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"apply"},
		Usage:   "Apply pending migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "highest version to apply (default: all pending)",
			},
			&cli.StringFlag{
				Name:  "database",
				Usage: "run only this named database from a multi_database config",
			},
			&cli.BoolFlag{
				Name:  "fail-fast",
				Usage: "cancel remaining databases after the first failure (multi-database only)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			if len(cfg.MultiDatabase) > 0 {
				orch := multi.New(cfg, nil)
				orch.FailFast = c.Bool("fail-fast")
				results, err := orch.Migrate(ctx, c.String("database"), c.String("target"))
				printMultiResults(c, results)
				return err
			}

			return withEngine(ctx, c, func(w *engine.Waypoint) error {
				report, err := w.Migrate(ctx, c.String("target"))
				printMigrateReport(c, report)
				return err
			})
		},
	}
}

func printMigrateReport(c *cli.Command, report *engine.MigrateReport) {
	if report == nil {
		return
	}
	for _, d := range report.PerMigration {
		status := "OK"
		if !d.Success {
			status = "FAILED"
		}
		fmt.Fprintf(c.Writer, "%-8s %s (%dms)\n", status, d.Script, d.DurationMs)
	}
	fmt.Fprintf(c.Writer, "Applied %d migration(s) in %dms\n", report.Applied, report.TotalTimeMs)
}

func printMultiResults(c *cli.Command, results []multi.Result) {
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(c.Writer, "%-12s skipped\n", r.Name)
		case r.Err != nil:
			fmt.Fprintf(c.Writer, "%-12s failed: %v\n", r.Name, r.Err)
		default:
			fmt.Fprintf(c.Writer, "%-12s applied %d migration(s) (%dms)\n",
				r.Name, r.Report.Applied, r.Report.TotalTimeMs)
		}
	}
}
