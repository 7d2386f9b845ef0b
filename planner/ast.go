// Package planner turns the parser's logical AST (spec §6) into an
// executable plan tree: binding, normalization, join-order enumeration,
// access-method selection (enumerated joins are always hash joins), a
// cost model driven by catalog statistics, and a bounded plan cache
// (spec §4.7).
package planner

import "github.com/relational/dbcore/common"

// Stmt is any top-level statement the parser can hand the planner (spec
// §6 "AST contract (consumed)"). The planner never constructs these —
// they are produced upstream by the (out-of-scope) SQL front end — but
// owns every type after this point.
type Stmt interface {
	isStmt()
}

type SelectStmt struct {
	Projections []Expr
	From        []TableRef
	Where       Expr // nil if absent
	GroupBy     []Expr
	Having      Expr
	OrderBy     []OrderTerm
	Limit       *int64
	Distinct    bool
	SetOp       *SetOp // nil unless this is one side of a UNION/INTERSECT/EXCEPT
}

func (*SelectStmt) isStmt() {}

// SetOpKind is the combinator joining two SELECTs together.
type SetOpKind int

const (
	SetOpUnion SetOpKind = iota
	SetOpIntersect
	SetOpExcept
)

type SetOp struct {
	Kind  SetOpKind
	All   bool
	Right *SelectStmt
}

type OrderTerm struct {
	Expr Expr
	Desc bool
}

// JoinKind tags how a TableRef attaches to the FROM entries before it.
// The first entry in a FROM list is always the join tree's root and its
// Join/On fields are ignored.
type JoinKind int

const (
	// JoinInner is both a plain FROM-list comma join (predicate, if any,
	// carried in the WHERE clause and classified by Normalize) and an
	// explicit `JOIN ... ON` (predicate carried in On instead).
	JoinInner JoinKind = iota
	// JoinLeft preserves every row of the join tree built so far,
	// padding this TableRef's columns with NULL where On has no match
	// (spec §4.8 join semantics).
	JoinLeft
)

// TableRef is one FROM-clause entry: either a base table or a derived
// subquery, optionally aliased.
type TableRef struct {
	Table    string // empty when Subquery is set
	Alias    string
	Subquery *SelectStmt

	// Join and On describe how this entry attaches to the FROM entries
	// before it. Both are zero for a comma-joined entry relying on
	// WHERE-clause predicates (the default, reorderable by join-order
	// enumeration); setting On pins this entry's join in FROM order
	// instead of letting the cost-based enumerator reorder it, since
	// On's predicate — unlike a WHERE conjunct — is tied to this
	// specific join step.
	Join JoinKind
	On   Expr
}

// AliasOrTable returns the name later pipeline stages key this FROM
// entry by: Alias when set, else the bare table name.
func (r TableRef) AliasOrTable() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Table
}

// Outer reports whether this entry joins in as a LEFT JOIN.
func (r TableRef) Outer() bool { return r.Join == JoinLeft }

type InsertStmt struct {
	Table    string
	Columns  []string
	Values   [][]Expr   // nil when Subquery is set
	Subquery *SelectStmt
}

func (*InsertStmt) isStmt() {}

type Assignment struct {
	Column string
	Value  Expr
}

type UpdateStmt struct {
	Table       string
	Assignments []Assignment
	Where       Expr
}

func (*UpdateStmt) isStmt() {}

type DeleteStmt struct {
	Table string
	Where Expr
}

func (*DeleteStmt) isStmt() {}

type ColumnDef struct {
	Name     string
	Type     common.ValueKind
	Nullable bool
}

type ConstraintDef struct {
	Name            string
	Kind            int // mirrors catalog.ConstraintKind; planner stays decoupled from catalog's iota values at the AST layer
	Columns         []string
	RefTable        string
	RefColumns      []string
	OnDeleteCascade bool
	OnUpdateCascade bool
	CheckExpr       string
}

type CreateTableStmt struct {
	Name        string
	Columns     []ColumnDef
	Constraints []ConstraintDef
}

func (*CreateTableStmt) isStmt() {}

type DropTableStmt struct {
	Name    string
	Cascade bool
}

func (*DropTableStmt) isStmt() {}

type CreateIndexStmt struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

func (*CreateIndexStmt) isStmt() {}

type DropIndexStmt struct {
	Name  string
	Table string
}

func (*DropIndexStmt) isStmt() {}

type TxnStmtKind int

const (
	TxnBegin TxnStmtKind = iota
	TxnCommit
	TxnRollback
)

type TxnStmt struct {
	Kind TxnStmtKind
}

func (*TxnStmt) isStmt() {}

// Expr is any scalar or boolean expression node (spec §6 "Expressions").
type Expr interface {
	isExpr()
}

type Literal struct {
	Value common.Value
}

func (*Literal) isExpr() {}

// ColumnRef is a (possibly table-qualified) column reference. Table is
// empty until Bind resolves it to a concrete table/alias.
type ColumnRef struct {
	Table  string
	Column string

	// Resolved set by Bind; Ordinal is the column's position in its
	// owning table's schema, ResolvedType its declared type.
	Resolved     bool
	Ordinal      int
	ResolvedType common.ValueKind
}

func (*ColumnRef) isExpr() {}

type BinaryOpKind int

const (
	OpAnd BinaryOpKind = iota
	OpOr
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAdd
	OpSub
	OpMul
	OpDiv
)

type BinaryOp struct {
	Kind        BinaryOpKind
	Left, Right Expr
}

func (*BinaryOp) isExpr() {}

type UnaryOpKind int

const (
	OpNot UnaryOpKind = iota
	OpNeg
)

type UnaryOp struct {
	Kind UnaryOpKind
	Expr Expr
}

func (*UnaryOp) isExpr() {}

type FunctionCall struct {
	Name string
	Args []Expr
}

func (*FunctionCall) isExpr() {}

type AggregateKind int

const (
	AggCount AggregateKind = iota
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
)

type Aggregate struct {
	Kind AggregateKind
	Arg  Expr // nil for AggCountStar
}

func (*Aggregate) isExpr() {}

type Subquery struct {
	Query *SelectStmt
}

func (*Subquery) isExpr() {}

type In struct {
	Expr     Expr
	List     []Expr    // nil when Subquery is set
	Subquery *SelectStmt
	Negate   bool
}

func (*In) isExpr() {}

type Between struct {
	Expr       Expr
	Low, High  Expr
	Negate     bool
}

func (*Between) isExpr() {}

type Like struct {
	Expr    Expr
	Pattern Expr
	Negate  bool
}

func (*Like) isExpr() {}

type IsNull struct {
	Expr   Expr
	Negate bool
}

func (*IsNull) isExpr() {}

type CaseWhen struct {
	When Expr
	Then Expr
}

type Case struct {
	Operand Expr // nil for a searched CASE
	Whens   []CaseWhen
	Else    Expr
}

func (*Case) isExpr() {}
