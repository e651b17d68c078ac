package shardroute

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm/logger"

	"gorm/shardroute/checker"
	"gorm/shardroute/metadata"
	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// ErrNoRule the holder has no rule published
var ErrNoRule = errors.New("no sharding rule")

// Engine runs check, insert optimization, routing and rewriting of one statement on a
// single rule snapshot
type Engine struct {
	holder        *rule.Holder
	database      metadata.Database
	checkers      *checker.Registry
	currentSchema string
	dialect       parser.Dialect
	insertOptions optimize.Options
	logger        logger.Interface
	trace         bool
}

type EngineOption func(e *Engine)

// WithCheckers replaces the built-in supported-SQL checkers
func WithCheckers(registry *checker.Registry) EngineOption {
	return func(e *Engine) {
		e.checkers = registry
	}
}

// WithCurrentSchema schema of unqualified names
func WithCurrentSchema(schema string) EngineOption {
	return func(e *Engine) {
		e.currentSchema = schema
	}
}

func WithDialect(dialect parser.Dialect) EngineOption {
	return func(e *Engine) {
		e.dialect = dialect
	}
}

// WithSynthesizedValueMode how generated keys and assisted query values enter the SQL
func WithSynthesizedValueMode(mode optimize.SynthesizedValueMode) EngineOption {
	return func(e *Engine) {
		e.insertOptions.SynthesizedValueMode = mode
	}
}

// WithTrace logs route results at info level
func WithTrace(l logger.Interface) EngineOption {
	return func(e *Engine) {
		e.logger = l
		e.trace = l != nil
	}
}

func NewEngine(holder *rule.Holder, database metadata.Database, opts ...EngineOption) *Engine {
	e := &Engine{
		holder:   holder,
		database: database,
		checkers: checker.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.database == nil {
		e.database = metadata.NewMemoryDatabase()
	}
	return e
}

// Execution everything the pipeline produced for one statement
type Execution struct {
	// Rule the snapshot every step used
	Rule      *rule.ShardingRule
	Version   int64
	Statement *statement.Statement
	Insert    *optimize.InsertResult
	Route     *route.Result
	Units     []rewrite.SQLUnit
}

// AlwaysFalse whether no unit has to execute
func (e *Execution) AlwaysFalse() bool {
	return e.Route != nil && e.Route.AlwaysFalse
}

// Snapshot the current rule
func (e *Engine) Snapshot() (*rule.ShardingRule, error) {
	current := e.holder.Load()
	if current == nil {
		return nil, ErrNoRule
	}
	return current, nil
}

// Check validates stmt with the checkers
func (e *Engine) Check(shardingRule *rule.ShardingRule, stmt *statement.Statement) error {
	return e.checkers.Check(shardingRule, e.database, e.currentSchema, stmt)
}

// OptimizeInsert nil for statements other than INSERT
func (e *Engine) OptimizeInsert(shardingRule *rule.ShardingRule, stmt *statement.Statement, params []interface{}) (*optimize.InsertResult, error) {
	if stmt.Kind != statement.KindInsert {
		return nil, nil
	}
	return optimize.Optimize(shardingRule, stmt, params, e.insertOptions)
}

// Route sharding conditions come from the optimized rows for INSERT, from WHERE otherwise.
// An inserted row of a sharded table resolving to several data nodes is rejected.
func (e *Engine) Route(ctx context.Context, shardingRule *rule.ShardingRule, stmt *statement.Statement, params []interface{}, insert *optimize.InsertResult) (*route.Result, error) {
	conditions := &route.ShardingConditions{}
	if insert != nil {
		conditions = insert.Conditions()
	} else if stmt.Kind.IsDML() {
		var err error
		if conditions, err = route.NewConditions(shardingRule, stmt, params); err != nil {
			return nil, err
		}
	}
	result, err := route.New(shardingRule).Route(ctx, stmt, conditions)
	if err != nil {
		return nil, err
	}
	if err = checker.CheckInsertRoute(shardingRule, stmt, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) Rewrite(shardingRule *rule.ShardingRule, stmt *statement.Statement, params []interface{}, insert *optimize.InsertResult, result *route.Result) ([]rewrite.SQLUnit, error) {
	return rewrite.New(shardingRule).WithDialect(e.dialect).Rewrite(stmt, params, insert, result)
}

// Process parses sql and runs the pipeline
func (e *Engine) Process(ctx context.Context, sql string, params []interface{}) (*Execution, error) {
	stmt, err := parser.ParseDialect(sql, e.dialect)
	if err != nil {
		return nil, err
	}
	return e.ProcessStatement(ctx, stmt, params)
}

// ProcessStatement runs the pipeline for a bound statement on one snapshot
func (e *Engine) ProcessStatement(ctx context.Context, stmt *statement.Statement, params []interface{}) (*Execution, error) {
	current, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	if stmt.ParameterCount() > len(params) {
		return nil, errors.Errorf("statement has %d parameters, %d given", stmt.ParameterCount(), len(params))
	}
	execution := &Execution{Rule: current, Version: e.holder.Version(), Statement: stmt}
	if err = e.Check(current, stmt); err != nil {
		return nil, err
	}
	if execution.Insert, err = e.OptimizeInsert(current, stmt, params); err != nil {
		return nil, err
	}
	if execution.Route, err = e.Route(ctx, current, stmt, params, execution.Insert); err != nil {
		return nil, err
	}
	if execution.Units, err = e.Rewrite(current, stmt, params, execution.Insert, execution.Route); err != nil {
		return nil, err
	}
	if e.trace {
		e.logger.Info(ctx, "rule version %d, %s routed to %s", execution.Version, stmt.Kind, execution.Route)
	}
	return execution, nil
}
