// Package engine drives migrations against a single PostgreSQL database:
// it composes the resolver, planner, history store, and connection into
// the public operations Migrate, Info, Validate, Repair, Baseline, Undo,
// and Clean.
package engine

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/config"
	"github.com/pseudomuto/waypoint/pkg/history"
	"github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/pseudomuto/waypoint/pkg/postgres"
	"github.com/pseudomuto/waypoint/pkg/schema"
)

// Waypoint is the single-database migration engine. Create one with New
// (which connects) or WithClient (which adopts an existing session), run
// operations, then Close.
type Waypoint struct {
	cfg    config.Config
	client *postgres.Client
	store  *history.Store
	logger *slog.Logger
}

// Option customizes engine construction.
type Option func(*Waypoint)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Waypoint) { w.logger = logger }
}

// New validates the configuration and connects to the database,
// retrying per database.connect_retries.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Waypoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Waypoint{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}

	sslMode, err := postgres.ParseSSLMode(cfg.Database.SSLMode)
	if err != nil {
		return nil, err
	}

	client, err := postgres.Connect(ctx, postgres.ConnectOptions{
		URL:              config.NormalizeURL(cfg.Database.URL),
		SSLMode:          sslMode,
		ConnectTimeout:   cfg.Database.ConnectTimeoutDuration(),
		ConnectRetries:   cfg.Database.ConnectRetries,
		StatementTimeout: cfg.Database.StatementTimeoutDuration(),
		Keepalive:        cfg.Database.KeepaliveDuration(),
		Logger:           w.logger,
	})
	if err != nil {
		return nil, err
	}

	w.client = client
	w.store = history.NewStore(cfg.Migrations.Schema, cfg.Migrations.Table)
	return w, nil
}

// WithClient builds an engine around an existing session. The caller
// retains ownership of the client.
func WithClient(cfg config.Config, client *postgres.Client, opts ...Option) *Waypoint {
	w := &Waypoint{
		cfg:    cfg,
		client: client,
		store:  history.NewStore(cfg.Migrations.Schema, cfg.Migrations.Table),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Close terminates the database session.
func (w *Waypoint) Close(ctx context.Context) error {
	return w.client.Close(ctx)
}

// Client exposes the underlying session, mainly for tests.
func (w *Waypoint) Client() *postgres.Client { return w.client }

// withLock runs fn while holding the advisory lock that serializes
// runners against this history table. The lock is released on every exit
// path; a release failure is logged, not returned, since the session
// drop releases it anyway.
func (w *Waypoint) withLock(ctx context.Context, fn func() error) error {
	schemaName := w.cfg.Migrations.Schema
	table := w.cfg.Migrations.Table

	if err := w.client.AcquireLock(ctx, schemaName, table, w.cfg.Database.LockTimeoutDuration()); err != nil {
		return err
	}
	defer func() {
		if err := w.client.ReleaseLock(context.WithoutCancel(ctx), schemaName, table); err != nil {
			w.logger.Warn("failed to release advisory lock", "error", err)
		}
	}()

	return fn()
}

// placeholders assembles the substitution map for a run: user-defined
// placeholders plus the built-in schema, user, and database names, each
// registered under both its plain and waypoint:-prefixed spelling.
func (w *Waypoint) placeholders(ctx context.Context) (map[string]string, error) {
	user, err := w.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	db, err := w.client.CurrentDatabase(ctx)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(w.cfg.Placeholders)+6)
	for k, v := range w.cfg.Placeholders {
		merged[k] = v
	}
	for _, kv := range [][2]string{
		{"schema", w.cfg.Migrations.Schema},
		{"user", user},
		{"database", db},
	} {
		merged[kv[0]] = kv[1]
		merged["waypoint:"+kv[0]] = kv[1]
	}

	return merged, nil
}

// installedBy returns the value recorded in the installed_by column.
func (w *Waypoint) installedBy(ctx context.Context) string {
	if w.cfg.Migrations.InstalledBy != "" {
		return w.cfg.Migrations.InstalledBy
	}
	user, err := w.client.CurrentUser(ctx)
	if err != nil {
		return "waypoint"
	}
	return user
}

// resolve scans the configured locations with the run's placeholder map.
func (w *Waypoint) resolve(ctx context.Context) (*migration.ResolvedSet, map[string]string, error) {
	placeholders, err := w.placeholders(ctx)
	if err != nil {
		return nil, nil, err
	}

	locations := make([]string, 0, len(w.cfg.Migrations.Locations))
	for _, loc := range w.cfg.Migrations.Locations {
		locations = append(locations, config.NormalizeLocation(loc))
	}

	set, err := migration.Resolve(locations, migration.ResolveOptions{
		Placeholders: placeholders,
		Logger:       w.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return set, placeholders, nil
}

// Snapshot captures the current state of the configured schema.
func (w *Waypoint) Snapshot(ctx context.Context) (*schema.Snapshot, error) {
	return schema.Introspect(ctx, w.client.Conn(), w.cfg.Migrations.Schema)
}

// Drift compares the live schema against a reference snapshot and
// returns the differences, empty when the schema matches.
func (w *Waypoint) Drift(ctx context.Context, reference *schema.Snapshot) ([]schema.Change, error) {
	if reference == nil {
		return nil, errors.New("drift requires a reference snapshot")
	}
	live, err := w.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return schema.Diff(reference, live), nil
}
