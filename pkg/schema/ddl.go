package schema

import (
	"fmt"
	"strings"

	"github.com/pseudomuto/waypoint/pkg/postgres"
)

// GenerateDDL renders a sequence of changes as executable DDL statements
// joined by blank lines. Changes that cannot be expressed mechanically
// (altered functions) become review comments.
func GenerateDDL(changes []Change) string {
	var statements []string

	for _, c := range changes {
		switch c.Kind {
		case TableAdded:
			statements = append(statements, createTableDDL(c.TableDef))
		case TableDropped:
			statements = append(statements, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", postgres.QuoteIdent(c.Name)))
		case ColumnAdded:
			statements = append(statements, addColumnDDL(c.Table, c.ColumnDef))
		case ColumnDropped:
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;",
				postgres.QuoteIdent(c.Table), postgres.QuoteIdent(c.Column)))
		case ColumnAltered:
			statements = append(statements, alterColumnDDL(c.Table, c.Column, c.ColumnDef)...)
		case IndexAdded:
			statements = append(statements, c.IndexDef.Definition+";")
		case IndexDropped:
			statements = append(statements, fmt.Sprintf("DROP INDEX IF EXISTS %s;", postgres.QuoteIdent(c.Name)))
		case ViewAdded:
			statements = append(statements, createViewDDL(c.ViewDef, false))
		case ViewDropped:
			statements = append(statements, fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE;", postgres.QuoteIdent(c.Name)))
		case ViewAltered:
			statements = append(statements, createViewDDL(c.ViewDef, true))
		case SequenceAdded:
			statements = append(statements, fmt.Sprintf("CREATE SEQUENCE %s;", postgres.QuoteIdent(c.Name)))
		case SequenceDropped:
			statements = append(statements, fmt.Sprintf("DROP SEQUENCE IF EXISTS %s;", postgres.QuoteIdent(c.Name)))
		case FunctionAdded:
			statements = append(statements, strings.TrimSuffix(c.FunctionDef.Definition, ";")+";")
		case FunctionDropped:
			statements = append(statements, fmt.Sprintf("DROP FUNCTION IF EXISTS %s CASCADE;", postgres.QuoteIdent(c.Name)))
		case FunctionAltered:
			statements = append(statements, fmt.Sprintf("-- Function %s was altered; manual review needed", c.Name))
		case EnumAdded:
			statements = append(statements, createEnumDDL(c.EnumDef))
		case EnumDropped:
			statements = append(statements, fmt.Sprintf("DROP TYPE IF EXISTS %s CASCADE;", postgres.QuoteIdent(c.Name)))
		case ConstraintAdded:
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s;",
				postgres.QuoteIdent(c.Table), postgres.QuoteIdent(c.Name), c.ConstraintDef.Definition))
		case ConstraintDropped:
			statements = append(statements, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;",
				postgres.QuoteIdent(c.Table), postgres.QuoteIdent(c.Name)))
		}
	}

	return strings.Join(statements, "\n\n")
}

func createTableDDL(t *TableDef) string {
	cols := make([]string, 0, len(t.Columns))
	for i := range t.Columns {
		cols = append(cols, "    "+columnDDL(&t.Columns[i]))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", postgres.QuoteIdent(t.Name), strings.Join(cols, ",\n"))
}

func columnDDL(c *ColumnDef) string {
	col := postgres.QuoteIdent(c.Name) + " " + c.DataType
	if !c.Nullable {
		col += " NOT NULL"
	}
	if c.Default != nil {
		col += " DEFAULT " + *c.Default
	}
	return col
}

func addColumnDDL(table string, c *ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", postgres.QuoteIdent(table), columnDDL(c))
}

func alterColumnDDL(table, column string, to *ColumnDef) []string {
	qt := postgres.QuoteIdent(table)
	qc := postgres.QuoteIdent(column)

	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;", qt, qc, to.DataType),
	}
	if to.Nullable {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", qt, qc))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", qt, qc))
	}
	if to.Default != nil {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", qt, qc, *to.Default))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", qt, qc))
	}
	return stmts
}

func createViewDDL(v *ViewDef, orReplace bool) string {
	keyword := "VIEW"
	if v.Materialized {
		keyword = "MATERIALIZED VIEW"
	}
	create := "CREATE"
	if orReplace && !v.Materialized {
		create = "CREATE OR REPLACE"
	}
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.Definition), ";"))
	return fmt.Sprintf("%s %s %s AS %s;", create, keyword, postgres.QuoteIdent(v.Name), body)
}

func createEnumDDL(e *EnumDef) string {
	values := make([]string, 0, len(e.Values))
	for _, v := range e.Values {
		values = append(values, "'"+strings.ReplaceAll(v, "'", "''")+"'")
	}
	return fmt.Sprintf("CREATE TYPE %s AS ENUM (%s);", postgres.QuoteIdent(e.Name), strings.Join(values, ", "))
}
