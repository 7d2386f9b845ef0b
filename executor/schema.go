package executor

import "github.com/relational/dbcore/common"

// ColumnInfo names one output column of an operator: the FROM-clause
// alias it came from (empty once past a Project) and its declared type.
type ColumnInfo struct {
	Alias string
	Name  string
	Kind  common.ValueKind
}

// Schema is an operator's output shape, in row-value order. Expression
// evaluation resolves a bound planner.ColumnRef against a Schema rather
// than trusting ColumnRef.Ordinal directly, since Ordinal is only valid
// against the single base table Bind resolved it against — a join's
// output row concatenates two schemas, shifting every right-side
// column's position.
type Schema []ColumnInfo

// Resolve finds the row-value offset of a (alias, column) pair. alias
// may be empty to match any table's column of that name, as long as
// exactly one candidate exists (spec §4.7 binder already rejected an
// ambiguous unqualified reference at bind time, so this only has to
// handle the qualified case precisely).
func (s Schema) Resolve(alias, column string) (int, bool) {
	for i, c := range s {
		if c.Name != column {
			continue
		}
		if alias == "" || c.Alias == alias {
			return i, true
		}
	}
	return 0, false
}

// Concat builds the schema of a join's output row: left's columns
// followed by right's, in that order (the same order buildJoinTree's
// row-concatenation uses).
func Concat(left, right Schema) Schema {
	out := make(Schema, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

// TableSchema builds the output schema of a base table scan.
func TableSchema(alias string, columns []ColumnInfo) Schema {
	out := make(Schema, len(columns))
	for i, c := range columns {
		out[i] = ColumnInfo{Alias: alias, Name: c.Name, Kind: c.Kind}
	}
	return out
}
