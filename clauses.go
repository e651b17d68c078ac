package shardroute

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gorm/shardroute/route"
)

const (
	writeName = "gorm:shard_route:write"
	readName  = "gorm:shard_route:read"
)

// ModifyStatement forces the operation of the statement, e.g. db.Clauses(shardroute.Write)
func (op Operation) ModifyStatement(stmt *gorm.Statement) {
	var optName string
	if op == Write {
		optName = writeName
		stmt.Settings.Delete(readName)
	} else if op == Read {
		optName = readName
		stmt.Settings.Delete(writeName)
	}

	if optName != "" {
		stmt.Settings.Store(optName, struct{}{})
	}
}

// Build implements clause.Expression interface
func (op Operation) Build(clause.Builder) {
}

// DatabaseHint supplies hint sharding values of table's database strategy
//
//	db.Clauses(shardroute.DatabaseHint("t_order", 1)).Find(&orders)
func DatabaseHint(table string, values ...interface{}) clause.Expression {
	return hint{table: table, values: values}
}

// TableHint supplies hint sharding values of table's table strategy
func TableHint(table string, values ...interface{}) clause.Expression {
	return hint{table: table, values: values, tables: true}
}

type hint struct {
	table  string
	values []interface{}
	tables bool
}

// ModifyStatement 将 hint 分片值放入 statement 的 context
func (h hint) ModifyStatement(stmt *gorm.Statement) {
	if h.tables {
		stmt.Context = route.WithTableHint(stmt.Context, h.table, h.values...)
		return
	}
	stmt.Context = route.WithDatabaseHint(stmt.Context, h.table, h.values...)
}

// Build implements clause.Expression interface
func (h hint) Build(clause.Builder) {
}
