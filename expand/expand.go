package expand

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// PreBuildSql
//
//	@Description: 提前构造SQL，用于路由；已有SQL（Raw/Exec）时不处理
//	@param db
func PreBuildSql(db *gorm.DB) {
	stmt := db.Statement
	if stmt.SQL.Len() > 0 || len(stmt.BuildClauses) == 0 {
		return
	}
	switch stmt.BuildClauses[0] {
	case "INSERT":
		stmt.SQL.Grow(180)
		stmt.AddClauseIfNotExists(clause.Insert{})
		stmt.AddClause(callbacks.ConvertToCreateValues(stmt))
		stmt.Build(stmt.BuildClauses...)
	case "UPDATE":
		stmt.SQL.Grow(180)
		stmt.AddClauseIfNotExists(clause.Update{})
		if _, ok := stmt.Clauses["SET"]; !ok {
			if set := callbacks.ConvertToAssignments(stmt); len(set) != 0 {
				stmt.AddClause(set)
			} else {
				return
			}
		}
		stmt.Build(stmt.BuildClauses...)
	case "SELECT":
		callbacks.BuildQuerySQL(db)
	case "DELETE":
		stmt.SQL.Grow(100)
		stmt.AddClauseIfNotExists(clause.Delete{})
		if stmt.Schema != nil {
			addPrimaryKeyCondition(stmt, stmt.ReflectValue)
			if stmt.ReflectValue.CanAddr() && stmt.Dest != stmt.Model && stmt.Model != nil {
				addPrimaryKeyCondition(stmt, reflect.ValueOf(stmt.Model))
			}
		}
		stmt.AddClauseIfNotExists(clause.From{})
		stmt.Build(stmt.BuildClauses...)
	}
}

// addPrimaryKeyCondition 删除带主键的模型时追加主键条件
func addPrimaryKeyCondition(stmt *gorm.Statement, value reflect.Value) {
	_, queryValues := schema.GetIdentityFieldValuesMap(stmt.Context, value, stmt.Schema.PrimaryFields)
	column, values := schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, queryValues)
	if len(values) > 0 {
		stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.IN{Column: column, Values: values}}})
	}
}
