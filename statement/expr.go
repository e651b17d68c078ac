package statement

import (
	"strings"

	"github.com/pkg/errors"
)

// ExprKind how a value was written
type ExprKind int

const (
	ExprParameter ExprKind = iota
	ExprLiteral
	ExprOther
)

// LiteralType of an ExprLiteral
type LiteralType int

const (
	LiteralString LiteralType = iota
	LiteralNumber
	LiteralNull
	LiteralBool
	LiteralOther
)

// Expr a value expression: a "?" marker, a literal, or anything else kept verbatim
type Expr struct {
	Kind ExprKind
	// ParameterIndex zero based, for ExprParameter
	ParameterIndex int
	// Value decoded literal value
	Value       interface{}
	LiteralType LiteralType
	// Text the expression exactly as written
	Text string
	Span Span
}

// Resolve the runtime value: the bound parameter or the literal.
// Other expressions have no value known before execution.
func (e Expr) Resolve(params []interface{}) (interface{}, bool, error) {
	switch e.Kind {
	case ExprParameter:
		if e.ParameterIndex < 0 || e.ParameterIndex >= len(params) {
			return nil, false, errors.Errorf("parameter %d not bound, %d given", e.ParameterIndex+1, len(params))
		}
		return params[e.ParameterIndex], true, nil
	case ExprLiteral:
		return e.Value, true, nil
	}
	return nil, false, nil
}

// Operator of a column predicate
type Operator int

const (
	OpEqual Operator = iota
	OpIn
	OpBetween
)

// Condition a predicate on a column; Table is empty when the owner cannot be
// determined, which matches any referenced table.
type Condition struct {
	Table    string
	Column   string
	Operator Operator
	Values   []Expr
	// Span covers the whole predicate, ColumnSpan the column reference
	Span       Span
	ColumnSpan Span
}

// AndCondition predicates joined by AND
type AndCondition []Condition

// Assignment "column = value" in SET lists
type Assignment struct {
	Column Identifier
	Value  Expr
	Span   Span
}

// InsertRow one VALUES tuple
type InsertRow struct {
	Values []Expr
	Span   Span
}

// InsertClause columns and values of an INSERT
type InsertClause struct {
	Table   Table
	Columns []Identifier
	// ColumnsEnd offset of the ")" closing the column list, -1 without one
	ColumnsEnd int
	Rows       []InsertRow
	// ValuesSpan covers every tuple of VALUES
	ValuesSpan Span
	// Set assignments of the INSERT ... SET form
	Set []Assignment
	// SetEnd offset just past the last SET assignment
	SetEnd int
	// OnDuplicate assignments of ON DUPLICATE KEY UPDATE
	OnDuplicate []Assignment
}

// IsSetForm whether the INSERT ... SET form was used
func (c *InsertClause) IsSetForm() bool {
	return len(c.Set) > 0
}

// ColumnNames names of the explicit columns, or of the SET assignments
func (c *InsertClause) ColumnNames() []string {
	var names []string
	if c.IsSetForm() {
		for _, a := range c.Set {
			names = append(names, a.Column.Value)
		}
		return names
	}
	for _, col := range c.Columns {
		names = append(names, col.Value)
	}
	return names
}

// RowValues value lists per row, SET form counted as one row
func (c *InsertClause) RowValues() [][]Expr {
	if c.IsSetForm() {
		values := make([]Expr, 0, len(c.Set))
		for _, a := range c.Set {
			values = append(values, a.Value)
		}
		return [][]Expr{values}
	}
	rows := make([][]Expr, 0, len(c.Rows))
	for _, r := range c.Rows {
		rows = append(rows, r.Values)
	}
	return rows
}

func lower(s string) string {
	return strings.ToLower(s)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
