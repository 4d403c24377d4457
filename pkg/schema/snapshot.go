// Package schema provides PostgreSQL schema introspection, snapshot
// diffing, and DDL generation.
//
// The engine uses it for two things: capturing before/after snapshots
// around a migration to generate reversal SQL, and detecting drift
// between the live schema and a previously captured snapshot.
package schema

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/history"
)

type (
	// Snapshot is a point-in-time description of one PostgreSQL schema.
	Snapshot struct {
		Tables      []TableDef
		Views       []ViewDef
		Indexes     []IndexDef
		Sequences   []SequenceDef
		Functions   []FunctionDef
		Enums       []EnumDef
		Constraints []ConstraintDef
	}

	// TableDef describes a base table and its columns.
	TableDef struct {
		Schema  string
		Name    string
		Columns []ColumnDef
	}

	// ColumnDef describes one table column.
	ColumnDef struct {
		Name            string
		DataType        string
		Nullable        bool
		Default         *string
		OrdinalPosition int32
	}

	// ViewDef describes a regular or materialized view.
	ViewDef struct {
		Schema       string
		Name         string
		Definition   string
		Materialized bool
	}

	// IndexDef describes an index by its full CREATE INDEX statement.
	IndexDef struct {
		Schema     string
		Name       string
		TableName  string
		Definition string
		Unique     bool
	}

	// SequenceDef describes a sequence.
	SequenceDef struct {
		Schema   string
		Name     string
		DataType string
	}

	// FunctionDef describes a function or procedure.
	FunctionDef struct {
		Schema     string
		Name       string
		Arguments  string
		ReturnType string
		Language   string
		Definition string
	}

	// EnumDef describes an enum type and its ordered labels.
	EnumDef struct {
		Schema string
		Name   string
		Values []string
	}

	// ConstraintDef describes a table constraint.
	ConstraintDef struct {
		Schema     string
		TableName  string
		Name       string
		Type       string
		Definition string
	}
)

// Introspect captures a snapshot of the named schema.
func Introspect(ctx context.Context, q history.Querier, schema string) (*Snapshot, error) {
	snap := &Snapshot{}

	var err error
	if snap.Tables, err = introspectTables(ctx, q, schema); err != nil {
		return nil, err
	}
	if snap.Views, err = introspectViews(ctx, q, schema); err != nil {
		return nil, err
	}
	if snap.Indexes, err = introspectIndexes(ctx, q, schema); err != nil {
		return nil, err
	}
	if snap.Sequences, err = introspectSequences(ctx, q, schema); err != nil {
		return nil, err
	}
	if snap.Functions, err = introspectFunctions(ctx, q, schema); err != nil {
		return nil, err
	}
	if snap.Enums, err = introspectEnums(ctx, q, schema); err != nil {
		return nil, err
	}
	if snap.Constraints, err = introspectConstraints(ctx, q, schema); err != nil {
		return nil, err
	}

	return snap, nil
}

func introspectTables(ctx context.Context, q history.Querier, schema string) ([]TableDef, error) {
	rows, err := q.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tables")
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan table name")
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tables")
	}

	tables := make([]TableDef, 0, len(names))
	for _, name := range names {
		cols, err := introspectColumns(ctx, q, schema, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, TableDef{Schema: schema, Name: name, Columns: cols})
	}

	return tables, nil
}

func introspectColumns(ctx context.Context, q history.Querier, schema, table string) ([]ColumnDef, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name, data_type, is_nullable, column_default, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list columns of %s", table)
	}
	defer rows.Close()

	var cols []ColumnDef
	for rows.Next() {
		var c ColumnDef
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &c.Default, &c.OrdinalPosition); err != nil {
			return nil, errors.Wrap(err, "failed to scan column")
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func introspectViews(ctx context.Context, q history.Querier, schema string) ([]ViewDef, error) {
	rows, err := q.Query(ctx, `
		SELECT table_name, view_definition
		FROM information_schema.views
		WHERE table_schema = $1
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list views")
	}

	var views []ViewDef
	for rows.Next() {
		var v ViewDef
		var def *string
		if err := rows.Scan(&v.Name, &def); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan view")
		}
		v.Schema = schema
		if def != nil {
			v.Definition = *def
		}
		views = append(views, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate views")
	}

	matRows, err := q.Query(ctx, `
		SELECT c.relname, pg_get_viewdef(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind = 'm'
		ORDER BY c.relname`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list materialized views")
	}
	defer matRows.Close()

	for matRows.Next() {
		var v ViewDef
		var def *string
		if err := matRows.Scan(&v.Name, &def); err != nil {
			return nil, errors.Wrap(err, "failed to scan materialized view")
		}
		v.Schema = schema
		v.Materialized = true
		if def != nil {
			v.Definition = *def
		}
		views = append(views, v)
	}

	return views, matRows.Err()
}

func introspectIndexes(ctx context.Context, q history.Querier, schema string) ([]IndexDef, error) {
	rows, err := q.Query(ctx, `
		SELECT indexname, tablename, indexdef
		FROM pg_indexes
		WHERE schemaname = $1
		ORDER BY indexname`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list indexes")
	}
	defer rows.Close()

	var indexes []IndexDef
	for rows.Next() {
		var idx IndexDef
		if err := rows.Scan(&idx.Name, &idx.TableName, &idx.Definition); err != nil {
			return nil, errors.Wrap(err, "failed to scan index")
		}
		idx.Schema = schema
		idx.Unique = strings.Contains(strings.ToUpper(idx.Definition), "UNIQUE")
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func introspectSequences(ctx context.Context, q history.Querier, schema string) ([]SequenceDef, error) {
	rows, err := q.Query(ctx, `
		SELECT sequence_name, data_type
		FROM information_schema.sequences
		WHERE sequence_schema = $1
		ORDER BY sequence_name`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sequences")
	}
	defer rows.Close()

	var seqs []SequenceDef
	for rows.Next() {
		var s SequenceDef
		if err := rows.Scan(&s.Name, &s.DataType); err != nil {
			return nil, errors.Wrap(err, "failed to scan sequence")
		}
		s.Schema = schema
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}

func introspectFunctions(ctx context.Context, q history.Querier, schema string) ([]FunctionDef, error) {
	rows, err := q.Query(ctx, `
		SELECT p.proname,
		       pg_get_function_arguments(p.oid),
		       pg_get_function_result(p.oid),
		       l.lanname,
		       pg_get_functiondef(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		JOIN pg_language l ON l.oid = p.prolang
		WHERE n.nspname = $1 AND p.prokind IN ('f', 'p')
		ORDER BY p.proname`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list functions")
	}
	defer rows.Close()

	var funcs []FunctionDef
	for rows.Next() {
		var f FunctionDef
		var ret, def *string
		if err := rows.Scan(&f.Name, &f.Arguments, &ret, &f.Language, &def); err != nil {
			return nil, errors.Wrap(err, "failed to scan function")
		}
		f.Schema = schema
		if ret != nil {
			f.ReturnType = *ret
		}
		if def != nil {
			f.Definition = *def
		}
		funcs = append(funcs, f)
	}
	return funcs, rows.Err()
}

func introspectEnums(ctx context.Context, q history.Querier, schema string) ([]EnumDef, error) {
	rows, err := q.Query(ctx, `
		SELECT t.typname, array_agg(e.enumlabel ORDER BY e.enumsortorder)::text[]
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		GROUP BY t.typname
		ORDER BY t.typname`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enum types")
	}
	defer rows.Close()

	var enums []EnumDef
	for rows.Next() {
		var e EnumDef
		if err := rows.Scan(&e.Name, &e.Values); err != nil {
			return nil, errors.Wrap(err, "failed to scan enum type")
		}
		e.Schema = schema
		enums = append(enums, e)
	}
	return enums, rows.Err()
}

func introspectConstraints(ctx context.Context, q history.Querier, schema string) ([]ConstraintDef, error) {
	rows, err := q.Query(ctx, `
		SELECT tc.table_name, tc.constraint_name, tc.constraint_type,
		       pg_get_constraintdef(c.oid)
		FROM information_schema.table_constraints tc
		JOIN pg_constraint c ON c.conname = tc.constraint_name
		JOIN pg_namespace n ON n.oid = c.connamespace
		WHERE tc.constraint_schema = $1 AND n.nspname = $1
		ORDER BY tc.table_name, tc.constraint_name`, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list constraints")
	}
	defer rows.Close()

	var constraints []ConstraintDef
	for rows.Next() {
		var c ConstraintDef
		var def *string
		if err := rows.Scan(&c.TableName, &c.Name, &c.Type, &def); err != nil {
			return nil, errors.Wrap(err, "failed to scan constraint")
		}
		c.Schema = schema
		if def != nil {
			c.Definition = *def
		}
		constraints = append(constraints, c)
	}
	return constraints, rows.Err()
}
