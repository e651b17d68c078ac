package checker

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/statement"
)

// ErrInsertWithoutValues an INSERT into a sharded table carries no row
var ErrInsertWithoutValues = errors.New("insert statement has no values")

func checkInsert(ctx *Context) error {
	insert := ctx.Statement.Insert
	if insert == nil {
		return nil
	}
	table := insert.Table.Name.Value
	if !ctx.Rule.IsShardingTable(table) {
		return nil
	}
	if len(insert.RowValues()) == 0 {
		return errors.Wrapf(ErrInsertWithoutValues, "table %s", table)
	}
	for _, each := range insert.OnDuplicate {
		if ctx.Rule.IsShardingColumn(each.Column.Value, table) {
			return &UnsupportedShardingOperationError{Operation: "ON DUPLICATE KEY UPDATE " + each.Column.Value, Table: table}
		}
	}
	return nil
}

// checkUpdate a sharding column may only be "updated" to the value the WHERE pins it to
func checkUpdate(ctx *Context) error {
	stmt := ctx.Statement
	for _, table := range stmt.TableNames() {
		if !ctx.Rule.IsShardingTable(table) {
			continue
		}
		for _, each := range stmt.Update {
			if !ctx.Rule.IsShardingColumn(each.Column.Value, table) {
				continue
			}
			if !pinnedByWhere(stmt, table, each) {
				return &UnsupportedShardingOperationError{Operation: "UPDATE sharding column " + each.Column.Value, Table: table}
			}
		}
	}
	return nil
}

func pinnedByWhere(stmt *statement.Statement, table string, assignment statement.Assignment) bool {
	if len(stmt.Where) == 0 {
		return false
	}
	for _, and := range stmt.Where {
		pinned := false
		for _, c := range and {
			if c.Operator != statement.OpEqual || !strings.EqualFold(c.Column, assignment.Column.Value) {
				continue
			}
			if c.Table != "" && !strings.EqualFold(c.Table, table) {
				continue
			}
			if sameValue(c.Values[0], assignment.Value) {
				pinned = true
			}
		}
		if !pinned {
			return false
		}
	}
	return true
}

// sameValue parameters are unknown before binding and always pass
func sameValue(a, b statement.Expr) bool {
	if a.Kind == statement.ExprParameter || b.Kind == statement.ExprParameter {
		return true
	}
	if a.Kind == statement.ExprLiteral && b.Kind == statement.ExprLiteral {
		return reflect.DeepEqual(a.Value, b.Value)
	}
	return a.Text == b.Text
}
