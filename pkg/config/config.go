// Package config defines the resolved configuration record consumed by
// the migration engine and a YAML loader for the CLI.
//
// The engine itself never reads files or environment variables; it
// receives a fully resolved Config. The loader here exists for the
// waypoint binary and for tests.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pseudomuto/waypoint/pkg/consts"
)

type (
	// Database holds connection settings for a single target.
	Database struct {
		// URL is the postgres:// connection URL. jdbc:postgresql: URLs
		// are accepted and rewritten by NormalizeURL.
		URL string `yaml:"url"`

		// SSLMode is one of disable, prefer, require.
		SSLMode string `yaml:"ssl_mode,omitempty"`

		// ConnectTimeout bounds each connection attempt, in seconds.
		ConnectTimeout int `yaml:"connect_timeout,omitempty"`

		// StatementTimeout is the server-side statement timeout in
		// seconds. Zero leaves statements unbounded.
		StatementTimeout int `yaml:"statement_timeout,omitempty"`

		// ConnectRetries is how many times a failed connect is retried.
		ConnectRetries int `yaml:"connect_retries,omitempty"`

		// KeepaliveSecs enables TCP keepalive probes at this interval.
		KeepaliveSecs int `yaml:"keepalive_secs,omitempty"`

		// LockTimeout bounds advisory lock acquisition, in seconds.
		// Zero blocks indefinitely.
		LockTimeout int `yaml:"lock_timeout,omitempty"`
	}

	// Migrations holds migration behavior settings.
	Migrations struct {
		// Locations are the directories scanned for migration files.
		Locations []string `yaml:"locations"`

		// Schema is where the history table lives. Defaults to public.
		Schema string `yaml:"schema,omitempty"`

		// Table is the history table name. Defaults to
		// waypoint_schema_history.
		Table string `yaml:"table,omitempty"`

		// OutOfOrder allows applying versions below the highest applied
		// version.
		OutOfOrder bool `yaml:"out_of_order,omitempty"`

		// ValidateOnMigrate runs validate before each migrate run.
		ValidateOnMigrate bool `yaml:"validate_on_migrate,omitempty"`

		// BaselineVersion is the version recorded by the baseline
		// command. Defaults to "1".
		BaselineVersion string `yaml:"baseline_version,omitempty"`

		// Environment is the active environment used by env directives.
		Environment string `yaml:"environment,omitempty"`

		// DependencyOrdering orders the plan by waypoint:depends
		// directives instead of plain version order.
		DependencyOrdering bool `yaml:"dependency_ordering,omitempty"`

		// InstalledBy overrides the installed_by history column.
		// Defaults to the database user.
		InstalledBy string `yaml:"installed_by,omitempty"`

		// CleanEnabled allows the clean command to run.
		CleanEnabled bool `yaml:"clean_enabled,omitempty"`

		// BatchTransaction wraps all pending migrations of a run in one
		// enclosing transaction.
		BatchTransaction bool `yaml:"batch_transaction,omitempty"`
	}

	// Hooks lists explicitly configured hook scripts per phase, in
	// addition to the well-known filenames discovered next to
	// migrations.
	Hooks struct {
		BeforeMigrate     []string `yaml:"before_migrate,omitempty"`
		AfterMigrate      []string `yaml:"after_migrate,omitempty"`
		BeforeEachMigrate []string `yaml:"before_each_migrate,omitempty"`
		AfterEachMigrate  []string `yaml:"after_each_migrate,omitempty"`
	}

	// Reversals configures automatic reversal capture.
	Reversals struct {
		// Enabled turns on pre/post snapshot capture and reversal SQL
		// generation for versioned migrations.
		Enabled bool `yaml:"enabled,omitempty"`

		// WarnDataLoss prepends warnings to reversals that drop tables
		// or columns.
		WarnDataLoss bool `yaml:"warn_data_loss,omitempty"`
	}

	// NamedDatabase is one entry of a multi-database setup.
	NamedDatabase struct {
		// Name is the unique logical name of this target.
		Name string `yaml:"name"`

		// URL is the connection URL for this target.
		URL string `yaml:"url"`

		// DependsOn lists databases that must migrate before this one.
		DependsOn []string `yaml:"depends_on,omitempty"`

		// Migrations are the location directories for this target.
		Migrations []string `yaml:"migrations,omitempty"`

		// Schema and Table override the history table placement.
		Schema string `yaml:"schema,omitempty"`
		Table  string `yaml:"table,omitempty"`
	}

	// Config is the resolved configuration record the engine consumes.
	Config struct {
		Database     Database          `yaml:"database"`
		Migrations   Migrations        `yaml:"migrations"`
		Hooks        Hooks             `yaml:"hooks,omitempty"`
		Placeholders map[string]string `yaml:"placeholders,omitempty"`
		Reversals    Reversals         `yaml:"reversals,omitempty"`

		// MultiDatabase, when present, drives the multi-database
		// orchestrator instead of the single-target engine.
		MultiDatabase []NamedDatabase `yaml:"multi_database,omitempty"`
	}
)

// Default returns a Config carrying the engine defaults.
func Default() Config {
	return Config{
		Database: Database{
			SSLMode:        "prefer",
			ConnectTimeout: 30,
			KeepaliveSecs:  120,
		},
		Migrations: Migrations{
			Locations:         []string{consts.DefaultMigrationsDir},
			Schema:            consts.DefaultSchema,
			Table:             consts.DefaultHistoryTable,
			ValidateOnMigrate: true,
			BaselineVersion:   "1",
		},
		Reversals: Reversals{Enabled: true, WarnDataLoss: true},
	}
}

// Load parses a Config from YAML, applying defaults for unset fields.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal waypoint config")
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadFile loads a Config from the given path.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to open config file %s", path)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Migrations.Schema == "" {
		cfg.Migrations.Schema = def.Migrations.Schema
	}
	if cfg.Migrations.Table == "" {
		cfg.Migrations.Table = def.Migrations.Table
	}
	if len(cfg.Migrations.Locations) == 0 {
		cfg.Migrations.Locations = def.Migrations.Locations
	}
	if cfg.Migrations.BaselineVersion == "" {
		cfg.Migrations.BaselineVersion = def.Migrations.BaselineVersion
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = def.Database.SSLMode
	}
}

// Validate checks for the configuration errors the engine refuses to
// start with.
func (c *Config) Validate() error {
	if len(c.MultiDatabase) == 0 && c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Migrations.BatchTransaction && c.Migrations.OutOfOrder {
		// Batch mode re-plans the whole run as one unit; combining it
		// with out-of-order insertion has no defined rank semantics.
		return errors.New("batch_transaction and out_of_order are mutually exclusive")
	}
	return nil
}

// ConnectTimeoutDuration returns the connect timeout as a Duration.
func (d Database) ConnectTimeoutDuration() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// StatementTimeoutDuration returns the statement timeout as a Duration.
func (d Database) StatementTimeoutDuration() time.Duration {
	return time.Duration(d.StatementTimeout) * time.Second
}

// KeepaliveDuration returns the keepalive interval as a Duration.
func (d Database) KeepaliveDuration() time.Duration {
	return time.Duration(d.KeepaliveSecs) * time.Second
}

// LockTimeoutDuration returns the lock timeout as a Duration.
func (d Database) LockTimeoutDuration() time.Duration {
	return time.Duration(d.LockTimeout) * time.Second
}

// NormalizeURL rewrites JDBC-style connection URLs to standard
// PostgreSQL ones:
//
//	jdbc:postgresql://host:port/db?user=x&password=y
//	  -> postgresql://x:y@host:port/db
//
// postgres:// and postgresql:// URLs pass through unchanged unless they
// carry user or password query parameters, which are moved into the
// authority the same way.
func NormalizeURL(raw string) string {
	url := strings.TrimPrefix(raw, "jdbc:")

	base, query, hasQuery := strings.Cut(url, "?")
	if !hasQuery {
		return url
	}

	var user, password string
	var other []string
	for _, param := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			other = append(other, param)
			continue
		}
		switch strings.ToLower(key) {
		case "user":
			user = value
		case "password":
			password = value
		default:
			other = append(other, param)
		}
	}

	if user == "" && password == "" {
		return url
	}

	scheme, rest, ok := cutScheme(base)
	if !ok {
		return url
	}

	var auth string
	switch {
	case user != "" && password != "":
		auth = user + ":" + password + "@"
	case user != "":
		auth = user + "@"
	default:
		auth = ":" + password + "@"
	}

	result := scheme + "://" + auth + rest
	if len(other) > 0 {
		result += "?" + strings.Join(other, "&")
	}
	return result
}

func cutScheme(base string) (scheme, rest string, ok bool) {
	for _, s := range []string{"postgresql", "postgres"} {
		if r, found := strings.CutPrefix(base, s+"://"); found {
			return s, r, true
		}
	}
	return "", "", false
}

// NormalizeLocation strips the Flyway-compatible filesystem: prefix from
// a migration location.
func NormalizeLocation(location string) string {
	return strings.TrimPrefix(location, "filesystem:")
}
