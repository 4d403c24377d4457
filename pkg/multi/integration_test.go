package multi_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pseudomuto/waypoint/pkg/config"
	. "github.com/pseudomuto/waypoint/pkg/multi"
)

func TestOrchestratorMigrate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

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

	coreDir := t.TempDir()
	appDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(coreDir, "V1__core.sql"),
		[]byte("CREATE TABLE core_t(id int);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "V1__app.sql"),
		[]byte("CREATE TABLE app_t(id int);"), 0o644))

	// Two logical databases sharing one server, separated by history
	// table so each run keeps its own ledger.
	cfg := config.Default()
	cfg.Database.SSLMode = "disable"
	cfg.MultiDatabase = []config.NamedDatabase{
		{Name: "app", URL: url, DependsOn: []string{"core"}, Migrations: []string{appDir}, Table: "app_history"},
		{Name: "core", URL: url, Migrations: []string{coreDir}, Table: "core_history"},
	}

	orch := New(cfg, nil)
	results, err := orch.Migrate(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// core runs before app per depends_on.
	require.Equal(t, "core", results[0].Name)
	require.Equal(t, "app", results[1].Name)
	require.Equal(t, 1, results[0].Report.Applied)
	require.Equal(t, 1, results[1].Report.Applied)

	// Filtering to one database does not run its dependencies again.
	results, err = orch.Migrate(ctx, "app", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "app", results[0].Name)
	require.Zero(t, results[0].Report.Applied)
}
