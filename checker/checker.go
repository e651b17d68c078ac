package checker

import (
	"github.com/pkg/errors"

	"gorm/shardroute/metadata"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// Context what a validator sees
type Context struct {
	Rule          *rule.ShardingRule
	Database      metadata.Database
	CurrentSchema string
	Statement     *statement.Statement
}

// Checker a predicate selecting the statements it validates
type Checker struct {
	Name  string
	Match func(stmt *statement.Statement) bool
	Check func(ctx *Context) error
}

// Registry checkers in declaration order; the first matching one validates a statement
type Registry struct {
	checkers []Checker
}

func NewRegistry(checkers ...Checker) *Registry {
	return &Registry{checkers: checkers}
}

// DefaultRegistry the built-in checkers for sharded DDL and DML
func DefaultRegistry() *Registry {
	return NewRegistry(
		kindChecker("create table", statement.KindCreateTable, checkCreateTable),
		kindChecker("alter table", statement.KindAlterTable, checkAlterTable),
		kindChecker("drop table", statement.KindDropTable, checkDropTable),
		kindChecker("rename table", statement.KindRenameTable, checkRenameTable),
		kindChecker("create index", statement.KindCreateIndex, checkCreateIndex),
		kindChecker("alter index", statement.KindAlterIndex, checkAlterIndex),
		kindChecker("drop index", statement.KindDropIndex, checkDropIndex),
		kindChecker("create view", statement.KindCreateView, checkCreateView),
		kindChecker("alter view", statement.KindAlterView, checkAlterView),
		kindChecker("create function", statement.KindCreateFunction, checkRoutine("CREATE FUNCTION")),
		kindChecker("create procedure", statement.KindCreateProcedure, checkRoutine("CREATE PROCEDURE")),
		kindChecker("insert", statement.KindInsert, checkInsert),
		kindChecker("update", statement.KindUpdate, checkUpdate),
	)
}

// Register appends a checker after the existing ones
func (r *Registry) Register(c Checker) *Registry {
	r.checkers = append(r.checkers, c)
	return r
}

// Find the first checker matching stmt
func (r *Registry) Find(stmt *statement.Statement) (Checker, bool) {
	for _, c := range r.checkers {
		if c.Match(stmt) {
			return c, true
		}
	}
	return Checker{}, false
}

// Check validates stmt; statements no checker matches pass
func (r *Registry) Check(shardingRule *rule.ShardingRule, database metadata.Database, currentSchema string, stmt *statement.Statement) error {
	if stmt == nil {
		return errors.New("nil statement")
	}
	c, ok := r.Find(stmt)
	if !ok {
		return nil
	}
	return c.Check(&Context{Rule: shardingRule, Database: database, CurrentSchema: currentSchema, Statement: stmt})
}

var defaultRegistry = DefaultRegistry()

// Check validates stmt with the default registry
func Check(shardingRule *rule.ShardingRule, database metadata.Database, currentSchema string, stmt *statement.Statement) error {
	return defaultRegistry.Check(shardingRule, database, currentSchema, stmt)
}

func kindChecker(name string, kind statement.Kind, check func(ctx *Context) error) Checker {
	return Checker{
		Name:  name,
		Match: func(stmt *statement.Statement) bool { return stmt.Kind == kind },
		Check: check,
	}
}

// schema the owner's schema, else the current one; a missing schema is empty
func (ctx *Context) schema(owner string) metadata.Schema {
	name := owner
	if name == "" {
		name = ctx.CurrentSchema
	}
	if ctx.Database != nil {
		if s, ok := ctx.Database.Schema(name); ok {
			return s
		}
	}
	return metadata.NewMemorySchema()
}
