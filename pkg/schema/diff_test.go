package schema_test

import (
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/schema"
	"github.com/stretchr/testify/require"
)

func emptySnapshot() *Snapshot { return &Snapshot{} }

func usersTable(cols ...ColumnDef) TableDef {
	if len(cols) == 0 {
		cols = []ColumnDef{{Name: "id", DataType: "integer", OrdinalPosition: 1}}
	}
	return TableDef{Schema: "public", Name: "users", Columns: cols}
}

func TestDiffTableAdded(t *testing.T) {
	before := emptySnapshot()
	after := emptySnapshot()
	after.Tables = append(after.Tables, usersTable())

	changes := Diff(before, after)
	require.Len(t, changes, 1)
	require.Equal(t, TableAdded, changes[0].Kind)
	require.Equal(t, "users", changes[0].Name)

	// The reverse direction drops the table.
	reverse := Diff(after, before)
	require.Len(t, reverse, 1)
	require.Equal(t, TableDropped, reverse[0].Kind)
}

func TestDiffColumnAddedAndDropped(t *testing.T) {
	before := emptySnapshot()
	before.Tables = append(before.Tables, usersTable())

	after := emptySnapshot()
	after.Tables = append(after.Tables, usersTable(
		ColumnDef{Name: "id", DataType: "integer", OrdinalPosition: 1},
		ColumnDef{Name: "email", DataType: "character varying", Nullable: true, OrdinalPosition: 2},
	))

	changes := Diff(before, after)
	require.Len(t, changes, 1)
	require.Equal(t, ColumnAdded, changes[0].Kind)
	require.Equal(t, "email", changes[0].Column)

	reverse := Diff(after, before)
	require.Len(t, reverse, 1)
	require.Equal(t, ColumnDropped, reverse[0].Kind)
}

func TestDiffColumnAltered(t *testing.T) {
	before := emptySnapshot()
	before.Tables = append(before.Tables, usersTable(
		ColumnDef{Name: "id", DataType: "integer", OrdinalPosition: 1},
	))
	after := emptySnapshot()
	after.Tables = append(after.Tables, usersTable(
		ColumnDef{Name: "id", DataType: "bigint", OrdinalPosition: 1},
	))

	changes := Diff(before, after)
	require.Len(t, changes, 1)
	require.Equal(t, ColumnAltered, changes[0].Kind)
	require.Equal(t, "bigint", changes[0].ColumnDef.DataType)
}

func TestDiffViewAltered(t *testing.T) {
	before := emptySnapshot()
	before.Views = append(before.Views, ViewDef{Name: "v", Definition: "SELECT 1"})
	after := emptySnapshot()
	after.Views = append(after.Views, ViewDef{Name: "v", Definition: "SELECT 2"})

	changes := Diff(before, after)
	require.Len(t, changes, 1)
	require.Equal(t, ViewAltered, changes[0].Kind)
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	snap := emptySnapshot()
	snap.Tables = append(snap.Tables, usersTable())
	snap.Indexes = append(snap.Indexes, IndexDef{Name: "idx", TableName: "users", Definition: "CREATE INDEX idx ON users (id)"})

	require.Empty(t, Diff(snap, snap))
}

func TestDiffConstraints(t *testing.T) {
	before := emptySnapshot()
	after := emptySnapshot()
	after.Constraints = append(after.Constraints, ConstraintDef{
		TableName: "users", Name: "users_pkey", Type: "PRIMARY KEY", Definition: "PRIMARY KEY (id)",
	})

	changes := Diff(before, after)
	require.Len(t, changes, 1)
	require.Equal(t, ConstraintAdded, changes[0].Kind)

	reverse := Diff(after, before)
	require.Equal(t, ConstraintDropped, reverse[0].Kind)
}
