package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pseudomuto/waypoint/pkg/config"
	"github.com/pseudomuto/waypoint/pkg/engine"
	"github.com/pseudomuto/waypoint/pkg/plan"
)

// startPostgres spins up a disposable PostgreSQL container, skipping the
// test when Docker is not available.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("waypoint"),
		tcpostgres.WithUsername("waypoint"),
		tcpostgres.WithPassword("waypoint"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping: docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func testConfig(url, dir string) config.Config {
	cfg := config.Default()
	cfg.Database.URL = url
	cfg.Database.SSLMode = "disable"
	cfg.Migrations.Locations = []string{dir}
	return cfg
}

func newEngine(t *testing.T, cfg config.Config) *engine.Waypoint {
	t.Helper()
	w, err := engine.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func queryOne[T any](t *testing.T, url, sql string, args ...any) T {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	defer func() { _ = conn.Close(ctx) }()

	var out T
	require.NoError(t, conn.QueryRow(ctx, sql, args...).Scan(&out))
	return out
}

func TestEngineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startPostgres(t)
	dir := t.TempDir()
	ctx := context.Background()

	write(t, dir, "V1__A.sql", "CREATE TABLE t(id int);")
	write(t, dir, "V2__B.sql", "INSERT INTO t VALUES (1);")

	cfg := testConfig(url, dir)
	w := newEngine(t, cfg)

	// ── S1: clean migrate ──
	report, err := w.Migrate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, report.Applied)
	require.Equal(t, int64(1), queryOne[int64](t, url, "SELECT count(*) FROM t"))

	ranks := queryOne[int64](t, url, "SELECT max(installed_rank) FROM waypoint_schema_history")
	require.Equal(t, int64(2), ranks)

	// Idempotent: a second run applies nothing.
	report, err = w.Migrate(ctx, "")
	require.NoError(t, err)
	require.Zero(t, report.Applied)

	// ── S2: checksum drift ──
	write(t, dir, "V1__A.sql", "CREATE TABLE t(id int);\n-- touched")
	validation, err := w.Validate(ctx)
	require.NoError(t, err)
	require.False(t, validation.Valid)
	require.Len(t, validation.Errors, 1)
	require.Equal(t, "V1__A.sql", validation.Errors[0].Script)
	require.Equal(t, engine.IssueChecksumMismatch, validation.Errors[0].Kind)

	// ── S3: repair ──
	repair, err := w.Repair(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, repair.UpdatedChecksums)

	validation, err = w.Validate(ctx)
	require.NoError(t, err)
	require.True(t, validation.Valid)

	// ── S4: out-of-order ──
	write(t, dir, "V1.5__C.sql", "CREATE TABLE t15(id int);")
	_, err = w.Migrate(ctx, "")
	var oooErr *plan.OutOfOrderError
	require.ErrorAs(t, err, &oooErr)

	oooCfg := cfg
	oooCfg.Migrations.OutOfOrder = true
	oooEngine := newEngine(t, oooCfg)
	report, err = oooEngine.Migrate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)
	require.Equal(t, int64(3),
		queryOne[int64](t, url, "SELECT installed_rank FROM waypoint_schema_history WHERE version = '1.5'"))

	// ── S5: repeatable re-apply ──
	write(t, dir, "R__V.sql", "CREATE OR REPLACE VIEW v AS SELECT 1;")
	report, err = oooEngine.Migrate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)

	write(t, dir, "R__V.sql", "CREATE OR REPLACE VIEW v AS SELECT 2;")
	report, err = oooEngine.Migrate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)

	report, err = oooEngine.Migrate(ctx, "")
	require.NoError(t, err)
	require.Zero(t, report.Applied)

	// ── S6: undo via U file ──
	write(t, dir, "U2__B.sql", "DELETE FROM t WHERE id=1;")
	undo, err := oooEngine.Undo(ctx, engine.UndoTarget{Count: 1})
	require.NoError(t, err)
	require.Len(t, undo.Undone, 1)
	require.Equal(t, "U2__B.sql", undo.Undone[0].Script)
	require.Equal(t, int64(0), queryOne[int64](t, url, "SELECT count(*) FROM t"))

	forwardSuccess := queryOne[bool](t, url,
		"SELECT success FROM waypoint_schema_history WHERE version = '2' AND type = 'SQL'")
	require.False(t, forwardSuccess)

	// Info reflects the undo.
	infos, err := oooEngine.Info(ctx)
	require.NoError(t, err)
	var sawUndone bool
	for _, info := range infos {
		if info.Script == "V2__B.sql" && info.State == engine.StateUndone {
			sawUndone = true
		}
	}
	require.True(t, sawUndone)
}

func TestEngineFailedMigrationAtomicity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startPostgres(t)
	dir := t.TempDir()
	ctx := context.Background()

	write(t, dir, "V1__ok.sql", "CREATE TABLE good(id int);")
	write(t, dir, "V2__bad.sql", "CREATE TABLE half(id int); SELECT nope_not_a_function();")

	w := newEngine(t, testConfig(url, dir))
	report, err := w.Migrate(ctx, "")

	var migErr *engine.MigrationError
	require.ErrorAs(t, err, &migErr)
	require.Equal(t, "V2__bad.sql", migErr.Script)
	require.Equal(t, 1, report.Applied)

	// The failed migration left no side effects and no successful row.
	exists := queryOne[bool](t, url,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'half')")
	require.False(t, exists)

	failedRows := queryOne[int64](t, url,
		"SELECT count(*) FROM waypoint_schema_history WHERE script = 'V2__bad.sql' AND success = FALSE")
	require.Equal(t, int64(1), failedRows)
}

func TestEngineBaselineAndClean(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startPostgres(t)
	dir := t.TempDir()
	ctx := context.Background()

	write(t, dir, "V1__a.sql", "CREATE TABLE a(id int);")
	write(t, dir, "V2__b.sql", "CREATE TABLE b(id int);")

	w := newEngine(t, testConfig(url, dir))

	require.NoError(t, w.Baseline(ctx, "1", "initial state"))
	require.ErrorIs(t, w.Baseline(ctx, "1", ""), engine.ErrBaselineExists)

	// Migrate skips everything at or below the baseline.
	report, err := w.Migrate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)
	require.Equal(t, []string{"V2__b.sql"}, []string{report.PerMigration[0].Script})

	// Clean requires explicit permission.
	_, err = w.Clean(ctx, false)
	require.ErrorIs(t, err, engine.ErrCleanDisabled)

	dropped, err := w.Clean(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, dropped)

	exists := queryOne[bool](t, url,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'b')")
	require.False(t, exists)
}

func TestEngineConcurrentRunners(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startPostgres(t)
	dir := t.TempDir()
	ctx := context.Background()

	write(t, dir, "V1__a.sql", "CREATE TABLE c1(id int);")
	write(t, dir, "V2__b.sql", "INSERT INTO c1 VALUES (1);")

	cfg := testConfig(url, dir)

	// ── S7: two runners race; the advisory lock serializes them ──
	var wg sync.WaitGroup
	applied := make([]int, 2)
	errs := make([]error, 2)

	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := engine.New(ctx, cfg)
			if err != nil {
				errs[i] = err
				return
			}
			defer func() { _ = w.Close(context.Background()) }()

			report, err := w.Migrate(ctx, "")
			errs[i] = err
			if report != nil {
				applied[i] = report.Applied
			}
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 2, applied[0]+applied[1], "exactly one runner applies the migrations")

	rows := queryOne[int64](t, url, "SELECT count(*) FROM waypoint_schema_history WHERE success")
	require.Equal(t, int64(2), rows)
	require.Equal(t, int64(1), queryOne[int64](t, url, "SELECT count(*) FROM c1"))
}

func TestEngineReversalCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	url := startPostgres(t)
	dir := t.TempDir()
	ctx := context.Background()

	write(t, dir, "V1__make_table.sql", "CREATE TABLE widgets(id int);")

	w := newEngine(t, testConfig(url, dir))
	_, err := w.Migrate(ctx, "")
	require.NoError(t, err)

	reversal := queryOne[*string](t, url,
		"SELECT reversal_sql FROM waypoint_schema_history WHERE version = '1'")
	require.NotNil(t, reversal)
	require.Contains(t, *reversal, "DROP TABLE")
	require.Contains(t, *reversal, "widgets")

	// Undo falls back to the stored reversal when no U file exists.
	undo, err := w.Undo(ctx, engine.UndoTarget{Count: 1})
	require.NoError(t, err)
	require.Len(t, undo.Undone, 1)
	require.True(t, undo.Undone[0].AutoReversal)

	exists := queryOne[bool](t, url,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'widgets')")
	require.False(t, exists)
}
