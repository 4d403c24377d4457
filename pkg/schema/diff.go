package schema

import "fmt"

// DiffKind labels one difference between two snapshots.
type DiffKind string

const (
	TableAdded         DiffKind = "table_added"
	TableDropped       DiffKind = "table_dropped"
	ColumnAdded        DiffKind = "column_added"
	ColumnDropped      DiffKind = "column_dropped"
	ColumnAltered      DiffKind = "column_altered"
	IndexAdded         DiffKind = "index_added"
	IndexDropped       DiffKind = "index_dropped"
	ViewAdded          DiffKind = "view_added"
	ViewDropped        DiffKind = "view_dropped"
	ViewAltered        DiffKind = "view_altered"
	SequenceAdded      DiffKind = "sequence_added"
	SequenceDropped    DiffKind = "sequence_dropped"
	FunctionAdded      DiffKind = "function_added"
	FunctionDropped    DiffKind = "function_dropped"
	FunctionAltered    DiffKind = "function_altered"
	EnumAdded          DiffKind = "enum_added"
	EnumDropped        DiffKind = "enum_dropped"
	ConstraintAdded    DiffKind = "constraint_added"
	ConstraintDropped  DiffKind = "constraint_dropped"
)

// Change is a single difference between two snapshots. Only the fields
// relevant to its Kind are populated.
type Change struct {
	Kind DiffKind

	// Name is the primary object name (table, view, index, ...).
	Name string

	// Table qualifies column and constraint changes.
	Table string

	// Column qualifies column changes.
	Column string

	// TableDef carries the full definition for table_added.
	TableDef *TableDef

	// ColumnDef carries the definition for column_added and the target
	// definition for column_altered.
	ColumnDef *ColumnDef

	// IndexDef carries the definition for index_added.
	IndexDef *IndexDef

	// ViewDef carries the definition for view_added and view_altered.
	ViewDef *ViewDef

	// FunctionDef carries the definition for function_added.
	FunctionDef *FunctionDef

	// EnumDef carries the definition for enum_added.
	EnumDef *EnumDef

	// ConstraintDef carries the definition for constraint_added.
	ConstraintDef *ConstraintDef

	// SequenceDef carries the definition for sequence_added.
	SequenceDef *SequenceDef
}

// String renders the change for drift reports.
func (c Change) String() string {
	switch c.Kind {
	case TableAdded:
		return "+ TABLE " + c.Name
	case TableDropped:
		return "- TABLE " + c.Name
	case ColumnAdded:
		return fmt.Sprintf("+ COLUMN %s.%s (%s)", c.Table, c.Column, c.ColumnDef.DataType)
	case ColumnDropped:
		return fmt.Sprintf("- COLUMN %s.%s", c.Table, c.Column)
	case ColumnAltered:
		return fmt.Sprintf("~ COLUMN %s.%s", c.Table, c.Column)
	case IndexAdded:
		return "+ INDEX " + c.Name
	case IndexDropped:
		return "- INDEX " + c.Name
	case ViewAdded:
		return "+ VIEW " + c.Name
	case ViewDropped:
		return "- VIEW " + c.Name
	case ViewAltered:
		return "~ VIEW " + c.Name
	case SequenceAdded:
		return "+ SEQUENCE " + c.Name
	case SequenceDropped:
		return "- SEQUENCE " + c.Name
	case FunctionAdded:
		return "+ FUNCTION " + c.Name
	case FunctionDropped:
		return "- FUNCTION " + c.Name
	case FunctionAltered:
		return "~ FUNCTION " + c.Name
	case EnumAdded:
		return "+ TYPE " + c.Name + " (enum)"
	case EnumDropped:
		return "- TYPE " + c.Name + " (enum)"
	case ConstraintAdded:
		return fmt.Sprintf("+ CONSTRAINT %s ON %s", c.Name, c.Table)
	case ConstraintDropped:
		return fmt.Sprintf("- CONSTRAINT %s ON %s", c.Name, c.Table)
	}
	return string(c.Kind) + " " + c.Name
}

// Diff compares two snapshots and returns the changes required to turn
// before into after. Diff(after, before) therefore yields the reversal of
// a migration that moved the schema from before to after.
func Diff(before, after *Snapshot) []Change {
	var changes []Change

	for i := range before.Tables {
		bt := &before.Tables[i]
		if at := findTable(after, bt.Name); at != nil {
			changes = append(changes, diffColumns(bt.Name, bt.Columns, at.Columns)...)
		} else {
			changes = append(changes, Change{Kind: TableDropped, Name: bt.Name})
		}
	}
	for i := range after.Tables {
		at := &after.Tables[i]
		if findTable(before, at.Name) == nil {
			changes = append(changes, Change{Kind: TableAdded, Name: at.Name, TableDef: at})
		}
	}

	for i := range before.Views {
		bv := &before.Views[i]
		if av := findView(after, bv.Name); av != nil {
			if bv.Definition != av.Definition {
				changes = append(changes, Change{Kind: ViewAltered, Name: bv.Name, ViewDef: av})
			}
		} else {
			changes = append(changes, Change{Kind: ViewDropped, Name: bv.Name})
		}
	}
	for i := range after.Views {
		av := &after.Views[i]
		if findView(before, av.Name) == nil {
			changes = append(changes, Change{Kind: ViewAdded, Name: av.Name, ViewDef: av})
		}
	}

	for i := range before.Indexes {
		if findIndex(after, before.Indexes[i].Name) == nil {
			changes = append(changes, Change{Kind: IndexDropped, Name: before.Indexes[i].Name})
		}
	}
	for i := range after.Indexes {
		ai := &after.Indexes[i]
		if findIndex(before, ai.Name) == nil {
			changes = append(changes, Change{Kind: IndexAdded, Name: ai.Name, IndexDef: ai})
		}
	}

	for i := range before.Sequences {
		if findSequence(after, before.Sequences[i].Name) == nil {
			changes = append(changes, Change{Kind: SequenceDropped, Name: before.Sequences[i].Name})
		}
	}
	for i := range after.Sequences {
		as := &after.Sequences[i]
		if findSequence(before, as.Name) == nil {
			changes = append(changes, Change{Kind: SequenceAdded, Name: as.Name, SequenceDef: as})
		}
	}

	for i := range before.Functions {
		bf := &before.Functions[i]
		if af := findFunction(after, bf.Name); af != nil {
			if bf.Definition != af.Definition {
				changes = append(changes, Change{Kind: FunctionAltered, Name: bf.Name, FunctionDef: af})
			}
		} else {
			changes = append(changes, Change{Kind: FunctionDropped, Name: bf.Name})
		}
	}
	for i := range after.Functions {
		af := &after.Functions[i]
		if findFunction(before, af.Name) == nil {
			changes = append(changes, Change{Kind: FunctionAdded, Name: af.Name, FunctionDef: af})
		}
	}

	for i := range before.Enums {
		if findEnum(after, before.Enums[i].Name) == nil {
			changes = append(changes, Change{Kind: EnumDropped, Name: before.Enums[i].Name})
		}
	}
	for i := range after.Enums {
		ae := &after.Enums[i]
		if findEnum(before, ae.Name) == nil {
			changes = append(changes, Change{Kind: EnumAdded, Name: ae.Name, EnumDef: ae})
		}
	}

	for i := range before.Constraints {
		bc := &before.Constraints[i]
		if findConstraint(after, bc.TableName, bc.Name) == nil {
			changes = append(changes, Change{Kind: ConstraintDropped, Name: bc.Name, Table: bc.TableName})
		}
	}
	for i := range after.Constraints {
		ac := &after.Constraints[i]
		if findConstraint(before, ac.TableName, ac.Name) == nil {
			changes = append(changes, Change{Kind: ConstraintAdded, Name: ac.Name, Table: ac.TableName, ConstraintDef: ac})
		}
	}

	return changes
}

func diffColumns(table string, before, after []ColumnDef) []Change {
	var changes []Change
	for i := range before {
		bc := &before[i]
		if ac := findColumn(after, bc.Name); ac != nil {
			if !columnsEqual(bc, ac) {
				changes = append(changes, Change{
					Kind: ColumnAltered, Table: table, Column: bc.Name, ColumnDef: ac,
				})
			}
		} else {
			changes = append(changes, Change{Kind: ColumnDropped, Table: table, Column: bc.Name})
		}
	}
	for i := range after {
		ac := &after[i]
		if findColumn(before, ac.Name) == nil {
			changes = append(changes, Change{Kind: ColumnAdded, Table: table, Column: ac.Name, ColumnDef: ac})
		}
	}
	return changes
}

func columnsEqual(a, b *ColumnDef) bool {
	if a.Name != b.Name || a.DataType != b.DataType || a.Nullable != b.Nullable {
		return false
	}
	switch {
	case a.Default == nil && b.Default == nil:
		return true
	case a.Default != nil && b.Default != nil:
		return *a.Default == *b.Default
	}
	return false
}

func findTable(s *Snapshot, name string) *TableDef {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

func findColumn(cols []ColumnDef, name string) *ColumnDef {
	for i := range cols {
		if cols[i].Name == name {
			return &cols[i]
		}
	}
	return nil
}

func findView(s *Snapshot, name string) *ViewDef {
	for i := range s.Views {
		if s.Views[i].Name == name {
			return &s.Views[i]
		}
	}
	return nil
}

func findIndex(s *Snapshot, name string) *IndexDef {
	for i := range s.Indexes {
		if s.Indexes[i].Name == name {
			return &s.Indexes[i]
		}
	}
	return nil
}

func findSequence(s *Snapshot, name string) *SequenceDef {
	for i := range s.Sequences {
		if s.Sequences[i].Name == name {
			return &s.Sequences[i]
		}
	}
	return nil
}

func findFunction(s *Snapshot, name string) *FunctionDef {
	for i := range s.Functions {
		if s.Functions[i].Name == name {
			return &s.Functions[i]
		}
	}
	return nil
}

func findEnum(s *Snapshot, name string) *EnumDef {
	for i := range s.Enums {
		if s.Enums[i].Name == name {
			return &s.Enums[i]
		}
	}
	return nil
}

func findConstraint(s *Snapshot, table, name string) *ConstraintDef {
	for i := range s.Constraints {
		if s.Constraints[i].TableName == table && s.Constraints[i].Name == name {
			return &s.Constraints[i]
		}
	}
	return nil
}
