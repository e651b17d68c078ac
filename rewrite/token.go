package rewrite

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// ErrTokenOverlap two tokens claim the same text
var ErrTokenOverlap = errors.New("rewrite tokens overlap")

// Token a rewritable span [Start, Stop) of the original SQL; Start == Stop inserts text.
type Token interface {
	Start() int
	Stop() int
}

// UnitToken rendered differently for every unit
type UnitToken interface {
	Token
	RenderUnit(unit route.Unit) (string, error)
}

// OnceToken rendered the same for every unit
type OnceToken interface {
	Token
	Render() (string, error)
}

// ParameterToken a token that owns the parameter markers inside its span and binds
// its own parameters instead
type ParameterToken interface {
	Token
	Parameters(unit route.Unit) []interface{}
}

type span struct {
	start, stop int
}

func (s span) Start() int { return s.start }

func (s span) Stop() int { return s.stop }

func (s span) overlaps(other Token) bool {
	return s.start < other.Stop() && other.Start() < s.stop
}

// TokenSet tokens sorted by position, never overlapping
type TokenSet struct {
	tokens []Token
}

// Add inserts token keeping the set ordered
func (ts *TokenSet) Add(token Token) error {
	if token.Start() > token.Stop() || token.Start() < 0 {
		return errors.Errorf("invalid token span [%d, %d)", token.Start(), token.Stop())
	}
	s := span{start: token.Start(), stop: token.Stop()}
	for _, each := range ts.tokens {
		if s.overlaps(each) {
			return errors.Wrapf(ErrTokenOverlap, "[%d, %d) and [%d, %d)", s.start, s.stop, each.Start(), each.Stop())
		}
	}
	i := sort.Search(len(ts.tokens), func(i int) bool {
		other := ts.tokens[i]
		if other.Start() != s.start {
			return other.Start() > s.start
		}
		return other.Stop() > s.stop
	})
	ts.tokens = append(ts.tokens, nil)
	copy(ts.tokens[i+1:], ts.tokens[i:])
	ts.tokens[i] = token
	return nil
}

func (ts *TokenSet) covers(s statement.Span) bool {
	for _, each := range ts.tokens {
		if each.Start() <= s.Start && s.Stop <= each.Stop() && each.Start() < each.Stop() {
			return true
		}
	}
	return false
}

func (ts *TokenSet) Tokens() []Token {
	return append([]Token(nil), ts.tokens...)
}

func (ts *TokenSet) Len() int {
	return len(ts.tokens)
}

// TableToken a logic table name, replaced by the unit's actual table
type TableToken struct {
	span
	LogicTable string
	Quote      statement.QuoteCharacter
}

func NewTableToken(s statement.Span, logicTable string, quote statement.QuoteCharacter) *TableToken {
	return &TableToken{span: span{s.Start, s.Stop}, LogicTable: logicTable, Quote: quote}
}

// RenderUnit 没有映射时使用小写的逻辑表名
func (t *TableToken) RenderUnit(unit route.Unit) (string, error) {
	actual, ok := unit.ActualTable(t.LogicTable)
	if !ok {
		actual = strings.ToLower(t.LogicTable)
	}
	return t.Quote.Wrap(actual), nil
}

// IndexToken an index name; gets the actual table as suffix on units where the logic
// table is sharded, so indexes of sibling tables in one schema do not collide.
type IndexToken struct {
	span
	LogicIndex string
	LogicTable string
	Quote      statement.QuoteCharacter
}

func NewIndexToken(s statement.Span, logicIndex, logicTable string, quote statement.QuoteCharacter) *IndexToken {
	return &IndexToken{span: span{s.Start, s.Stop}, LogicIndex: logicIndex, LogicTable: logicTable, Quote: quote}
}

func (t *IndexToken) RenderUnit(unit route.Unit) (string, error) {
	actual, ok := unit.ActualTable(t.LogicTable)
	if !ok || strings.EqualFold(actual, t.LogicTable) {
		return t.Quote.Wrap(t.LogicIndex), nil
	}
	return t.Quote.Wrap(t.LogicIndex + "_" + actual), nil
}

// InsertValuesToken every VALUES tuple; a unit renders the rows routed to it
type InsertValuesToken struct {
	span
	Rows []optimize.Row
	// Nodes data nodes per row, empty when the row is not tied to any node
	Nodes   [][]rule.DataNode
	Dialect parser.Dialect
}

func NewInsertValuesToken(s statement.Span, rows []optimize.Row, nodes [][]rule.DataNode) *InsertValuesToken {
	return &InsertValuesToken{span: span{s.Start, s.Stop}, Rows: rows, Nodes: nodes}
}

func (t *InsertValuesToken) included(i int, unit route.Unit) bool {
	if i >= len(t.Nodes) || len(t.Nodes[i]) == 0 {
		return true
	}
	for _, node := range t.Nodes[i] {
		if unit.Contains(node) {
			return true
		}
	}
	return false
}

func (t *InsertValuesToken) RenderUnit(unit route.Unit) (string, error) {
	var tuples []string
	for i, row := range t.Rows {
		if !t.included(i, unit) {
			continue
		}
		values := make([]string, 0, len(row.Values))
		for _, v := range row.Values {
			text, err := renderValue(v, t.Dialect)
			if err != nil {
				return "", errors.Wrapf(err, "row %d column %s", i+1, v.Column)
			}
			values = append(values, text)
		}
		tuples = append(tuples, "("+strings.Join(values, ", ")+")")
	}
	if len(tuples) == 0 {
		return "", errors.Errorf("no inserted row belongs to unit %s", unit)
	}
	return strings.Join(tuples, ", "), nil
}

func (t *InsertValuesToken) Parameters(unit route.Unit) []interface{} {
	var params []interface{}
	for i, row := range t.Rows {
		if t.included(i, unit) {
			params = append(params, row.Parameters()...)
		}
	}
	return params
}

func renderValue(v optimize.Value, dialect parser.Dialect) (string, error) {
	switch {
	case v.AsParameter:
		return "?", nil
	case v.Source == optimize.SourceExpression:
		return v.Text, nil
	case v.Source == optimize.SourceLiteral && !v.Substituted && v.Text != "":
		return v.Text, nil
	}
	return DialectLiteral(dialect, v.Value)
}

// InsertColumnsToken columns appended to the INSERT column list
type InsertColumnsToken struct {
	span
	Columns []string
}

func NewInsertColumnsToken(position int, columns []string) *InsertColumnsToken {
	return &InsertColumnsToken{span: span{position, position}, Columns: columns}
}

func (t *InsertColumnsToken) Render() (string, error) {
	return ", " + strings.Join(t.Columns, ", "), nil
}

// ColumnNameToken a column renamed, e.g. to its cipher column
type ColumnNameToken struct {
	span
	Column string
	Quote  statement.QuoteCharacter
}

func NewColumnNameToken(s statement.Span, column string, quote statement.QuoteCharacter) *ColumnNameToken {
	return &ColumnNameToken{span: span{s.Start, s.Stop}, Column: column, Quote: quote}
}

func (t *ColumnNameToken) Render() (string, error) {
	return t.Quote.Wrap(t.Column), nil
}

// Item a column with the value written for it
type Item struct {
	Column      string
	Value       interface{}
	AsParameter bool
	Dialect     parser.Dialect
}

func (i Item) render() (string, error) {
	if i.AsParameter {
		return "?", nil
	}
	return DialectLiteral(i.Dialect, i.Value)
}

func renderItems(items []Item) (string, error) {
	parts := make([]string, 0, len(items))
	for _, each := range items {
		value, err := each.render()
		if err != nil {
			return "", errors.Wrapf(err, "column %s", each.Column)
		}
		parts = append(parts, each.Column+" = "+value)
	}
	return strings.Join(parts, ", "), nil
}

func itemParameters(items []Item) []interface{} {
	var params []interface{}
	for _, each := range items {
		if each.AsParameter {
			params = append(params, each.Value)
		}
	}
	return params
}

// InsertSetAddItemsToken assignments appended to INSERT ... SET
type InsertSetAddItemsToken struct {
	span
	Items []Item
}

func NewInsertSetAddItemsToken(position int, items []Item) *InsertSetAddItemsToken {
	return &InsertSetAddItemsToken{span: span{position, position}, Items: items}
}

func (t *InsertSetAddItemsToken) Render() (string, error) {
	text, err := renderItems(t.Items)
	if err != nil {
		return "", err
	}
	return ", " + text, nil
}

func (t *InsertSetAddItemsToken) Parameters(route.Unit) []interface{} {
	return itemParameters(t.Items)
}

// EncryptAssignmentToken "column = value" replaced by the cipher assignment and, when
// configured, the assisted query assignment
type EncryptAssignmentToken struct {
	span
	Items []Item
}

func NewEncryptAssignmentToken(s statement.Span, items []Item) *EncryptAssignmentToken {
	return &EncryptAssignmentToken{span: span{s.Start, s.Stop}, Items: items}
}

func (t *EncryptAssignmentToken) Render() (string, error) {
	return renderItems(t.Items)
}

func (t *EncryptAssignmentToken) Parameters(route.Unit) []interface{} {
	return itemParameters(t.Items)
}

// EncryptPredicateToken a predicate on an encrypted column, compared on the stored form
type EncryptPredicateToken struct {
	span
	Column   string
	Operator statement.Operator
	Values   []Item
}

func NewEncryptPredicateToken(s statement.Span, column string, op statement.Operator, values []Item) *EncryptPredicateToken {
	return &EncryptPredicateToken{span: span{s.Start, s.Stop}, Column: column, Operator: op, Values: values}
}

func (t *EncryptPredicateToken) Render() (string, error) {
	values := make([]string, 0, len(t.Values))
	for _, each := range t.Values {
		value, err := each.render()
		if err != nil {
			return "", err
		}
		values = append(values, value)
	}
	switch t.Operator {
	case statement.OpEqual:
		if len(values) != 1 {
			return "", errors.Errorf("equality on %s needs one value, got %d", t.Column, len(values))
		}
		return t.Column + " = " + values[0], nil
	case statement.OpIn:
		return t.Column + " IN (" + strings.Join(values, ", ") + ")", nil
	}
	return "", errors.Errorf("unsupported operator on encrypted column %s", t.Column)
}

func (t *EncryptPredicateToken) Parameters(route.Unit) []interface{} {
	return itemParameters(t.Values)
}
