package rewrite

import (
	"github.com/pkg/errors"

	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// GenerateTokens builds every token of stmt. insert is the optimized INSERT, nil for other
// statements; result places inserted rows on units. Literals are rendered for dialect.
func GenerateTokens(shardingRule *rule.ShardingRule, dialect parser.Dialect, stmt *statement.Statement, params []interface{}, insert *optimize.InsertResult, result *route.Result) (*TokenSet, error) {
	g := &generator{rule: shardingRule, dialect: dialect, stmt: stmt, params: params, tokens: &TokenSet{}}
	g.indexTokens()
	if stmt.Insert != nil && insert != nil {
		var nodes [][]rule.DataNode
		if result != nil {
			nodes = result.ConditionNodes
		}
		g.insertTokens(insert, nodes)
	}
	if len(stmt.Update) > 0 && len(stmt.Tables) > 0 {
		g.assignmentTokens(stmt.Tables[0].Name.Value)
	}
	g.predicateTokens()
	g.tableTokens()
	if g.err != nil {
		return nil, g.err
	}
	return g.tokens, nil
}

type generator struct {
	rule    *rule.ShardingRule
	dialect parser.Dialect
	stmt    *statement.Statement
	params  []interface{}
	tokens  *TokenSet
	err     error
}

func (g *generator) item(column string, value interface{}, asParameter bool) Item {
	return Item{Column: column, Value: value, AsParameter: asParameter, Dialect: g.dialect}
}

func (g *generator) add(token Token) {
	if g.err != nil {
		return
	}
	g.err = g.tokens.Add(token)
}

func (g *generator) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

// tableTokens 列的表名前缀已被加密替换覆盖时跳过
func (g *generator) tableTokens() {
	for _, each := range g.stmt.TableOccurrences {
		if g.tokens.covers(each.Span) {
			continue
		}
		g.add(NewTableToken(each.Span, each.LogicTable, each.Quote))
	}
}

func (g *generator) indexTokens() {
	indexes := g.stmt.Indexes
	for _, each := range indexes {
		logicTable := g.indexTable(each)
		if logicTable == "" {
			continue
		}
		g.add(NewIndexToken(each.Name.Span, each.Name.Value, logicTable, each.Name.Quote))
	}
	if renamed := g.stmt.RenameIndex; renamed != nil && len(indexes) > 0 {
		if logicTable := g.indexTable(indexes[0]); logicTable != "" {
			g.add(NewIndexToken(renamed.Span, renamed.Value, logicTable, renamed.Quote))
		}
	}
}

// indexTable 优先使用 ON 指定的表，其次按逻辑索引查找
func (g *generator) indexTable(index statement.Index) string {
	if index.Table != nil {
		return index.Table.Name.Value
	}
	if tr, ok := g.rule.FindTableRuleByLogicIndex(index.Name.Value); ok {
		return tr.LogicTable
	}
	if len(g.stmt.Tables) > 0 {
		return g.stmt.Tables[0].Name.Value
	}
	return ""
}

func (g *generator) insertTokens(insert *optimize.InsertResult, nodes [][]rule.DataNode) {
	clause := g.stmt.Insert
	encryptRule := g.rule.EncryptRule()
	written := len(insert.Columns) - len(insert.AppendedColumns)
	if clause.IsSetForm() {
		row := insert.Rows[0]
		for j, assignment := range clause.Set {
			c, ok := encryptRule.FindColumn(insert.Table, assignment.Column.Value)
			if !ok {
				continue
			}
			value := row.Values[j]
			g.add(NewEncryptAssignmentToken(assignment.Span, []Item{
				g.item(assignment.Column.Quote.Wrap(c.CipherColumn), value.Value, value.AsParameter),
			}))
		}
		if len(insert.AppendedColumns) > 0 {
			var items []Item
			for j, column := range insert.AppendedColumns {
				value := row.Values[written+j]
				items = append(items, g.item(column, value.Value, value.AsParameter))
			}
			g.add(NewInsertSetAddItemsToken(clause.SetEnd, items))
		}
		return
	}
	for _, column := range clause.Columns {
		if c, ok := encryptRule.FindColumn(insert.Table, column.Value); ok {
			g.add(NewColumnNameToken(column.Span, c.CipherColumn, column.Quote))
		}
	}
	if len(insert.AppendedColumns) > 0 {
		if clause.ColumnsEnd < 0 {
			g.fail(errors.Errorf("cannot append columns %v to insert without column list", insert.AppendedColumns))
			return
		}
		g.add(NewInsertColumnsToken(clause.ColumnsEnd, insert.AppendedColumns))
	}
	values := NewInsertValuesToken(clause.ValuesSpan, insert.Rows, nodes)
	values.Dialect = g.dialect
	g.add(values)
}

func (g *generator) assignmentTokens(table string) {
	encryptRule := g.rule.EncryptRule()
	for _, assignment := range g.stmt.Update {
		c, ok := encryptRule.FindColumn(table, assignment.Column.Value)
		if !ok {
			continue
		}
		plain, asParameter, err := g.resolve(assignment.Value, c.LogicColumn)
		if err != nil {
			g.fail(err)
			return
		}
		cipher, err := c.Encrypt(plain)
		if err != nil {
			g.fail(err)
			return
		}
		items := []Item{g.item(assignment.Column.Quote.Wrap(c.CipherColumn), cipher, asParameter)}
		if c.AssistedQueryColumn != "" {
			assisted, err := c.AssistedValue(plain)
			if err != nil {
				g.fail(err)
				return
			}
			items = append(items, g.item(assignment.Column.Quote.Wrap(c.AssistedQueryColumn), assisted, asParameter))
		}
		g.add(NewEncryptAssignmentToken(assignment.Span, items))
	}
}

func (g *generator) predicateTokens() {
	encryptRule := g.rule.EncryptRule()
	seen := map[int]struct{}{}
	for _, and := range g.stmt.Where {
		for _, predicate := range and {
			if _, ok := seen[predicate.Span.Start]; ok {
				continue
			}
			c, ok := g.encryptColumn(encryptRule, predicate)
			if !ok {
				continue
			}
			seen[predicate.Span.Start] = struct{}{}
			if predicate.Operator == statement.OpBetween {
				g.fail(errors.Errorf("range condition on encrypted column %s", c.LogicColumn))
				return
			}
			column, digest := c.CipherColumn, false
			if c.AssistedQueryColumn != "" {
				column, digest = c.AssistedQueryColumn, true
			}
			var values []Item
			for _, expr := range predicate.Values {
				plain, asParameter, err := g.resolve(expr, c.LogicColumn)
				if err != nil {
					g.fail(err)
					return
				}
				var stored interface{}
				if digest {
					stored, err = c.AssistedValue(plain)
				} else {
					stored, err = c.Encrypt(plain)
				}
				if err != nil {
					g.fail(err)
					return
				}
				values = append(values, g.item(column, stored, asParameter))
			}
			g.add(NewEncryptPredicateToken(predicate.Span, column, predicate.Operator, values))
		}
	}
}

func (g *generator) encryptColumn(encryptRule *rule.EncryptRule, predicate statement.Condition) (rule.EncryptColumn, bool) {
	if predicate.Table != "" {
		return encryptRule.FindColumn(predicate.Table, predicate.Column)
	}
	for _, table := range g.stmt.TableNames() {
		if c, ok := encryptRule.FindColumn(table, predicate.Column); ok {
			return c, true
		}
	}
	return rule.EncryptColumn{}, false
}

func (g *generator) resolve(expr statement.Expr, column string) (interface{}, bool, error) {
	value, known, err := expr.Resolve(g.params)
	if err != nil {
		return nil, false, err
	}
	if !known {
		return nil, false, errors.Wrapf(optimize.ErrUnencryptableValue, "column %s", column)
	}
	return value, expr.Kind == statement.ExprParameter, nil
}
