package consts

import "os"

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// DefaultSchema is the schema the history table lives in unless
	// configured otherwise
	DefaultSchema = "public"

	// DefaultHistoryTable is the default name of the schema history table
	DefaultHistoryTable = "waypoint_schema_history"

	// DefaultMigrationsDir is the default migration location
	DefaultMigrationsDir = "db/migrations"
)
