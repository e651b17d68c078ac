package shardroute

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"gorm/shardroute/expand"
	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/statement"
)

// ErrCrossShardQuery a read routed to several units; merging results is not supported
var ErrCrossShardQuery = errors.New("query routed to more than one unit")

// guess decides the operation from the bound statement
const guess Operation = ""

func (sr *ShardRoute) registerCallbacks() {
	sr.Callback().Create().Before("*").Register("gorm:shard_route", sr.switchWrite)
	sr.Callback().Query().Before("*").Register("gorm:shard_route", sr.switchRead)
	sr.Callback().Update().Before("*").Register("gorm:shard_route", sr.switchWrite)
	sr.Callback().Delete().Before("*").Register("gorm:shard_route", sr.switchWrite)
	sr.Callback().Row().Before("*").Register("gorm:shard_route", sr.switchRead)
	sr.Callback().Raw().Before("*").Register("gorm:shard_route", sr.switchGuess)
}

func (sr *ShardRoute) switchWrite(db *gorm.DB) {
	if !isTransaction(db.Statement.ConnPool) {
		sr.base(db, Write)
	}
}

func (sr *ShardRoute) switchRead(db *gorm.DB) {
	if isTransaction(db.Statement.ConnPool) {
		return
	}
	_, locking := db.Statement.Clauses["FOR"]
	if _, ok := db.Statement.Settings.Load(writeName); ok || locking {
		sr.base(db, Write)
	} else if db.Statement.SQL.Len() > 0 {
		sr.base(db, guess)
	} else {
		sr.base(db, Read)
	}
}

func (sr *ShardRoute) switchGuess(db *gorm.DB) {
	if !isTransaction(db.Statement.ConnPool) {
		sr.base(db, guess)
	}
}

// base 预构建 SQL 后绑定、路由并改写，然后切换到目标连接池
func (sr *ShardRoute) base(db *gorm.DB, op Operation) {
	if db.Error != nil || bypassed(db.Statement.Context) {
		return
	}
	expand.PreBuildSql(db)
	stmt := db.Statement
	sql, vars := stmt.SQL.String(), stmt.Vars
	if strings.TrimSpace(sql) == "" {
		return
	}
	postgres := isPostgres(db.Dialector)
	dialect := parser.MySQL
	if postgres {
		var err error
		if sql, vars, err = fromDollarMarks(sql, vars); err != nil {
			db.AddError(err)
			return
		}
		dialect = parser.PostgreSQL
	}
	bound, err := parser.ParseDialect(sql, dialect)
	if err != nil {
		db.AddError(err)
		return
	}
	// 无法识别的语句按原样在默认连接上执行
	if bound.Kind == statement.KindOther {
		return
	}
	if op == guess {
		op = guessOperation(stmt, bound, sql)
	}

	execution, err := sr.engine.ProcessStatement(stmt.Context, bound, vars)
	if err != nil {
		db.AddError(err)
		return
	}
	if err = sr.dispatch(stmt, execution, op, postgres); err != nil {
		db.AddError(err)
		return
	}
	if execution.Insert != nil {
		backfillKeys(stmt, execution.Insert)
	}
}

func guessOperation(stmt *gorm.Statement, bound *statement.Statement, sql string) Operation {
	if _, ok := stmt.Settings.Load(writeName); ok {
		return Write
	}
	if _, ok := stmt.Settings.Load(readName); ok {
		return Read
	}
	trimmed := strings.ToLower(strings.TrimSpace(sql))
	if bound.Kind.IsQuery() && !strings.HasSuffix(trimmed, "for update") && !strings.HasSuffix(trimmed, "for share") {
		return Read
	}
	return Write
}

// dispatch points the statement at the routed units: one unit runs in place, several
// writes fan out, an always-false statement touches nothing
func (sr *ShardRoute) dispatch(stmt *gorm.Statement, execution *Execution, op Operation, postgres bool) error {
	markStmtRouteMode(stmt, execution.Route)
	units := execution.Units
	switch {
	case execution.AlwaysFalse():
		return sr.alwaysFalse(stmt, execution, op, postgres)
	case len(units) == 1:
		connPool, _, err := sr.pool(stmt, execution.Rule, units[0].Unit.DataSourceName, op)
		if err != nil {
			return err
		}
		setSQL(stmt, units[0].SQL, units[0].Parameters, postgres)
		stmt.ConnPool = connPool
		return nil
	case op == Read:
		return errors.Wrapf(ErrCrossShardQuery, "%s", execution.Route)
	}

	targets := make([]unitPool, 0, len(units))
	for _, unit := range units {
		connPool, name, err := sr.pool(stmt, execution.Rule, unit.Unit.DataSourceName, Write)
		if err != nil {
			return err
		}
		sql := unit.SQL
		if postgres {
			sql = toDollarMarks(sql)
		}
		targets = append(targets, unitPool{name: name, pool: connPool, sql: sql, vars: unit.Parameters})
	}
	stmt.ConnPool = &shardPool{ConnPool: targets[0].pool, units: targets}
	return nil
}

// alwaysFalse writes affect nothing; queries run a statement returning no rows so
// callers scan an empty result
func (sr *ShardRoute) alwaysFalse(stmt *gorm.Statement, execution *Execution, op Operation, postgres bool) error {
	connPool := stmt.ConnPool
	if names := execution.Rule.DataSourceNames(); len(names) > 0 {
		var err error
		if connPool, _, err = sr.pool(stmt, execution.Rule, names[0], op); err != nil {
			return err
		}
	}
	if op == Write {
		stmt.ConnPool = emptyPool{ConnPool: connPool}
		return nil
	}
	empty := "SELECT NULL FROM DUAL WHERE 1 = 0"
	if postgres {
		empty = "SELECT NULL WHERE 1 = 0"
	}
	setSQL(stmt, empty, nil, false)
	stmt.ConnPool = connPool
	return nil
}

func setSQL(stmt *gorm.Statement, sql string, vars []interface{}, postgres bool) {
	if postgres {
		sql = toDollarMarks(sql)
	}
	stmt.SQL.Reset()
	stmt.SQL.WriteString(sql)
	stmt.Vars = vars
}

// backfillKeys 将生成的主键写回模型
func backfillKeys(stmt *gorm.Statement, insert *optimize.InsertResult) {
	keys := insert.GeneratedKeys()
	if stmt.Schema == nil || insert.GeneratedKeyColumn == "" || len(keys) == 0 {
		return
	}
	field := stmt.Schema.LookUpField(insert.GeneratedKeyColumn)
	if field == nil {
		return
	}
	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len() && i < len(keys); i++ {
			stmt.AddError(field.Set(stmt.Context, reflect.Indirect(rv.Index(i)), keys[i]))
		}
	case reflect.Struct:
		stmt.AddError(field.Set(stmt.Context, rv, keys[0]))
	}
}

func isTransaction(connPool gorm.ConnPool) bool {
	_, ok := connPool.(gorm.TxCommitter)
	return ok
}
