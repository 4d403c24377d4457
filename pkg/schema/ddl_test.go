package schema_test

import (
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/schema"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/golden"
)

func TestGenerateDDL(t *testing.T) {
	changes := []Change{
		{Kind: TableDropped, Name: "orders"},
		{Kind: TableAdded, Name: "users", TableDef: &TableDef{
			Name: "users",
			Columns: []ColumnDef{
				{Name: "id", DataType: "integer"},
				{Name: "email", DataType: "character varying", Nullable: true},
			},
		}},
		{Kind: ColumnAdded, Table: "t", Column: "created_at", ColumnDef: &ColumnDef{
			Name: "created_at", DataType: "timestamptz", Default: ptr("now()"),
		}},
		{Kind: ColumnAltered, Table: "t", Column: "n", ColumnDef: &ColumnDef{
			Name: "n", DataType: "bigint", Nullable: true,
		}},
		{Kind: IndexAdded, Name: "idx", IndexDef: &IndexDef{
			Name: "idx", TableName: "t", Definition: "CREATE INDEX idx ON t (n)",
		}},
		{Kind: ViewAltered, Name: "v", ViewDef: &ViewDef{Name: "v", Definition: "SELECT 1;"}},
		{Kind: EnumAdded, Name: "mood", EnumDef: &EnumDef{
			Name: "mood", Values: []string{"happy", "sad"},
		}},
		{Kind: ConstraintDropped, Name: "users_pkey", Table: "users"},
	}

	golden.Assert(t, GenerateDDL(changes), "reversal.golden")
}

func TestGenerateDDLDropView(t *testing.T) {
	ddl := GenerateDDL([]Change{{Kind: ViewDropped, Name: "stats"}})
	require.Equal(t, `DROP VIEW IF EXISTS "stats" CASCADE;`, ddl)
}

func TestGenerateDDLEmpty(t *testing.T) {
	require.Empty(t, GenerateDDL(nil))
}

func ptr[T any](v T) *T { return &v }
