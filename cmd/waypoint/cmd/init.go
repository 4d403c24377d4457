package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/pseudomuto/waypoint/pkg/consts"
)

const starterConfig = `# waypoint configuration
database:
  url: postgres://localhost:5432/postgres
  ssl_mode: prefer

migrations:
  locations:
    - db/migrations
  schema: public
  table: waypoint_schema_history
  validate_on_migrate: true
`

const starterMigration = `-- Example migration. Rename and edit, then run: waypoint migrate
CREATE TABLE example (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL
);
`

// initCmd scaffolds a waypoint project: the config file and an empty
// migration directory with a starter migration.
func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new waypoint project in the current directory",
		Action: func(ctx context.Context, c *cli.Command) error {
			configPath := c.String("config")
			if _, err := os.Stat(configPath); err == nil {
				return errors.Errorf("%s already exists", configPath)
			}

			migrationsDir := filepath.Join("db", "migrations")
			if err := os.MkdirAll(migrationsDir, consts.ModeDir); err != nil {
				return errors.Wrap(err, "failed to create migrations directory")
			}

			if err := os.WriteFile(configPath, []byte(starterConfig), consts.ModeFile); err != nil {
				return errors.Wrap(err, "failed to write config file")
			}

			starter := filepath.Join(migrationsDir, "V1__example.sql")
			if _, err := os.Stat(starter); os.IsNotExist(err) {
				if err := os.WriteFile(starter, []byte(starterMigration), consts.ModeFile); err != nil {
					return errors.Wrap(err, "failed to write starter migration")
				}
			}

			fmt.Fprintf(c.Writer, "Initialized waypoint project (%s, %s)\n", configPath, migrationsDir)
			return nil
		},
	}
}
