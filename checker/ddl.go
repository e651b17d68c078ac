package checker

import (
	"strings"

	"gorm/shardroute/statement"
)

func checkCreateTable(ctx *Context) error {
	stmt := ctx.Statement
	if stmt.IfNotExists || len(stmt.Tables) == 0 {
		return nil
	}
	table := stmt.Tables[0]
	if ctx.schema(table.OwnerName()).HasTable(table.Name.Value) {
		return &TableExistsError{Table: table.Name.Value}
	}
	return nil
}

func checkDropTable(ctx *Context) error {
	stmt := ctx.Statement
	if stmt.Cascade {
		table := ""
		if len(stmt.Tables) > 0 {
			table = stmt.Tables[0].Name.Value
		}
		return &UnsupportedShardingOperationError{Operation: "DROP TABLE ... CASCADE", Table: table}
	}
	if stmt.IfExists {
		return nil
	}
	var missing []string
	for _, table := range stmt.Tables {
		if !ctx.schema(table.OwnerName()).HasTable(table.Name.Value) {
			missing = append(missing, table.Name.Value)
		}
	}
	if len(missing) > 0 {
		return &NoSuchTableError{Tables: missing}
	}
	return nil
}

func checkAlterTable(ctx *Context) error {
	stmt := ctx.Statement
	if stmt.RenameTo == nil {
		return nil
	}
	for _, table := range append(append([]statement.Table(nil), stmt.Tables...), *stmt.RenameTo) {
		if ctx.Rule.IsShardingTable(table.Name.Value) {
			return &UnsupportedShardingOperationError{Operation: "ALTER TABLE ... RENAME", Table: table.Name.Value}
		}
	}
	return nil
}

func checkRenameTable(ctx *Context) error {
	for _, pair := range ctx.Statement.RenamePairs {
		if ctx.Rule.IsShardingTable(pair.From.Name.Value) {
			return &UnsupportedShardingOperationError{Operation: "RENAME TABLE", Table: pair.From.Name.Value}
		}
	}
	return nil
}

func checkCreateIndex(ctx *Context) error {
	stmt := ctx.Statement
	if stmt.IfNotExists || len(stmt.Indexes) == 0 {
		return nil
	}
	index := stmt.Indexes[0]
	table, ok := indexTable(stmt, index)
	if !ok {
		return nil
	}
	schema := ctx.schema(table.OwnerName())
	if !schema.HasTable(table.Name.Value) {
		return &NoSuchTableError{Tables: []string{table.Name.Value}}
	}
	if schema.HasIndex(table.Name.Value, index.Name.Value) {
		return &DuplicateIndexError{Index: index.Name.Value}
	}
	return nil
}

func checkAlterIndex(ctx *Context) error {
	stmt := ctx.Statement
	if len(stmt.Indexes) == 0 {
		return nil
	}
	index := stmt.Indexes[0]
	schema := ctx.schema(index.OwnerName())
	if !indexExists(schema, index) {
		return &IndexNotExistError{Index: index.Name.Value}
	}
	if stmt.RenameIndex != nil {
		renamed := statement.Index{Name: *stmt.RenameIndex, Owner: index.Owner, Table: index.Table}
		if indexExists(schema, renamed) {
			return &DuplicateIndexError{Index: stmt.RenameIndex.Value}
		}
	}
	return nil
}

func checkDropIndex(ctx *Context) error {
	stmt := ctx.Statement
	if stmt.IfExists {
		return nil
	}
	for _, index := range stmt.Indexes {
		if !indexExists(ctx.schema(index.OwnerName()), index) {
			return &IndexNotExistError{Index: index.Name.Value}
		}
	}
	return nil
}

func checkCreateView(ctx *Context) error {
	return checkViewTables(ctx)
}

func checkAlterView(ctx *Context) error {
	if err := checkViewTables(ctx); err != nil {
		return err
	}
	stmt := ctx.Statement
	if stmt.View == nil || stmt.RenameTo == nil {
		return nil
	}
	view, renamed := stmt.View.Name.Value, stmt.RenameTo.Name.Value
	if !ctx.Rule.IsShardingTable(view) && !ctx.Rule.IsShardingTable(renamed) {
		return nil
	}
	if binding, ok := ctx.Rule.FindBindingTableRule(view); ok && binding.HasLogicTable(renamed) {
		return nil
	}
	return &RenamedViewWithoutSameConfigurationError{View: view, NewView: renamed}
}

// checkViewTables sharded tables under a view must be bound to the view
func checkViewTables(ctx *Context) error {
	stmt := ctx.Statement
	if stmt.View == nil {
		return nil
	}
	view := stmt.View.Name.Value
	var tables []statement.Table
	if stmt.ViewSelect != nil {
		tables = stmt.ViewSelect.Tables
	} else {
		for _, each := range stmt.Tables {
			if !strings.EqualFold(each.Name.Value, view) {
				tables = append(tables, each)
			}
		}
	}
	for _, table := range tables {
		name := table.Name.Value
		if !ctx.Rule.IsShardingTable(name) {
			continue
		}
		if binding, ok := ctx.Rule.FindBindingTableRule(view); ok && binding.HasLogicTable(name) {
			continue
		}
		return &EngagedViewError{View: view, Table: name}
	}
	return nil
}

func checkRoutine(operation string) func(ctx *Context) error {
	return func(ctx *Context) error {
		routine := ctx.Statement.Routine
		if routine == nil {
			return nil
		}
		for _, table := range routine.Tables {
			if ctx.Rule.IsShardingTable(table.Name.Value) {
				return &UnsupportedShardingOperationError{Operation: operation, Table: table.Name.Value}
			}
		}
		for _, table := range routine.ExistingTables {
			if !ctx.schema(table.OwnerName()).HasTable(table.Name.Value) {
				return &NoSuchTableError{Tables: []string{table.Name.Value}}
			}
		}
		for _, table := range routine.NotExistingTables {
			if ctx.schema(table.OwnerName()).HasTable(table.Name.Value) {
				return &TableExistsError{Table: table.Name.Value}
			}
		}
		return nil
	}
}

func indexTable(stmt *statement.Statement, index statement.Index) (statement.Table, bool) {
	if index.Table != nil {
		return *index.Table, true
	}
	if len(stmt.Tables) > 0 {
		return stmt.Tables[0], true
	}
	return statement.Table{}, false
}

func indexExists(schema interface {
	HasIndex(table, index string) bool
	ContainsIndex(index string) bool
}, index statement.Index) bool {
	if index.Table != nil {
		return schema.HasIndex(index.Table.Name.Value, index.Name.Value)
	}
	return schema.ContainsIndex(index.Name.Value)
}
