package multi_test

import (
	"testing"

	"github.com/pseudomuto/waypoint/pkg/config"
	. "github.com/pseudomuto/waypoint/pkg/multi"
	"github.com/stretchr/testify/require"
)

func db(name string, dependsOn ...string) config.NamedDatabase {
	return config.NamedDatabase{Name: name, URL: "postgres://localhost/" + name, DependsOn: dependsOn}
}

func TestExecutionOrder(t *testing.T) {
	tests := []struct {
		name      string
		databases []config.NamedDatabase
		expected  []string
	}{
		{
			name:      "no dependencies keeps config order",
			databases: []config.NamedDatabase{db("a"), db("b"), db("c")},
			expected:  []string{"a", "b", "c"},
		},
		{
			name:      "simple chain",
			databases: []config.NamedDatabase{db("app", "auth"), db("auth")},
			expected:  []string{"auth", "app"},
		},
		{
			name: "diamond",
			databases: []config.NamedDatabase{
				db("reporting", "app", "auth"),
				db("app", "core"),
				db("auth", "core"),
				db("core"),
			},
			expected: []string{"core", "app", "auth", "reporting"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := ExecutionOrder(tt.databases)
			require.NoError(t, err)
			require.Equal(t, tt.expected, order)
		})
	}
}

func TestExecutionOrderDeterministic(t *testing.T) {
	databases := []config.NamedDatabase{db("z"), db("m"), db("a")}
	first, err := ExecutionOrder(databases)
	require.NoError(t, err)
	for range 10 {
		again, err := ExecutionOrder(databases)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestExecutionOrderCycle(t *testing.T) {
	_, err := ExecutionOrder([]config.NamedDatabase{
		db("a", "b"), db("b", "a"),
	})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.ElementsMatch(t, []string{"a", "b"}, cycleErr.Names)
}

func TestExecutionOrderUnknownDependency(t *testing.T) {
	_, err := ExecutionOrder([]config.NamedDatabase{db("a", "ghost")})

	var unknown *UnknownDatabaseError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "ghost", unknown.Name)
	require.Contains(t, unknown.Available, "a")
}
