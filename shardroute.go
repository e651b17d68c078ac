package shardroute

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"gorm/shardroute/checker"
	"gorm/shardroute/metadata"
	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/rule"
)

// Operation whether a statement may go to a replica
type Operation string

const (
	Write Operation = "write"
	Read  Operation = "read"
)

// ErrDataSourceNotFound a routed data source has no connection pool
var ErrDataSourceNotFound = errors.New("data source not configured")

// ShardRoute gorm plugin: statements are bound, routed by the sharding rule and
// rewritten to the actual tables, then executed on the pools of the routed data sources.
type ShardRoute struct {
	*gorm.DB
	holder *rule.Holder
	config Config
	engine *Engine
	// physical data source name -> pool
	pools            map[string]gorm.ConnPool
	prepareStmtStore map[gorm.ConnPool]*gorm.PreparedStmtDB
}

type Config struct {
	// DataSources physical data sources; one missing from the map uses the pool of the
	// gorm.DB the plugin is installed on
	DataSources map[string]DialectorConfig
	// Database catalog for DDL checks, the physical data sources when nil
	Database      metadata.Database
	CurrentSchema string
	Checkers      *checker.Registry
	// SynthesizedValueMode how generated keys are written into INSERT statements
	SynthesizedValueMode optimize.SynthesizedValueMode
	// 打印路由信息
	TraceRouteMode bool
}

// DialectorConfig dialector及连接池配置
type DialectorConfig struct {
	Dialector    gorm.Dialector
	MaxOpen      int
	MaxIdleConns int
	MaxLifetime  time.Duration
	MaxIdleTime  time.Duration
}

func Register(holder *rule.Holder, config Config) *ShardRoute {
	return &ShardRoute{
		holder:           holder,
		config:           config,
		pools:            map[string]gorm.ConnPool{},
		prepareStmtStore: map[gorm.ConnPool]*gorm.PreparedStmtDB{},
	}
}

func (sr *ShardRoute) Name() string {
	return "gorm:shard_route"
}

// Engine the pipeline the plugin runs, nil before Initialize
func (sr *ShardRoute) Engine() *Engine {
	return sr.engine
}

// Holder publishes rule changes to the plugin
func (sr *ShardRoute) Holder() *rule.Holder {
	return sr.holder
}

func (sr *ShardRoute) Initialize(db *gorm.DB) error {
	sr.DB = db
	if sr.holder.Load() == nil {
		return ErrNoRule
	}
	if err := sr.compile(); err != nil {
		return err
	}

	dialect := parser.MySQL
	if isPostgres(db.Dialector) {
		dialect = parser.PostgreSQL
	}
	database := sr.config.Database
	if database == nil {
		database = metadata.NewGormDatabase(sr.holder, sr.config.CurrentSchema, sr.gormDataSources())
	}
	opts := []EngineOption{
		WithDialect(dialect),
		WithCurrentSchema(sr.config.CurrentSchema),
		WithSynthesizedValueMode(sr.config.SynthesizedValueMode),
	}
	if sr.config.Checkers != nil {
		opts = append(opts, WithCheckers(sr.config.Checkers))
	}
	if sr.config.TraceRouteMode {
		sr.Logger = NewRouteModeLogger(sr.Logger)
		opts = append(opts, WithTrace(sr.Logger))
	}
	sr.engine = NewEngine(sr.holder, database, opts...)
	sr.registerCallbacks()
	return nil
}

// compile opens a pool per physical data source of the rule
func (sr *ShardRoute) compile() error {
	connPool := sr.DB.Config.ConnPool
	if preparedStmtDB, ok := connPool.(*gorm.PreparedStmtDB); ok {
		connPool = preparedStmtDB.ConnPool
	}
	for _, name := range physicalDataSources(sr.holder.Load()) {
		cfg, ok := sr.config.DataSources[name]
		if !ok || cfg.Dialector == nil {
			sr.pools[name] = connPool
			continue
		}
		pool, err := sr.convertToConnPool(cfg)
		if err != nil {
			return errors.Wrapf(err, "open data source %s", name)
		}
		sr.pools[name] = pool
	}
	return nil
}

func (sr *ShardRoute) convertToConnPool(dialectorConfig DialectorConfig) (gorm.ConnPool, error) {
	config := *sr.DB.Config
	db, err := gorm.Open(dialectorConfig.Dialector, &config)
	if err != nil {
		return nil, err
	}
	connPool := db.Config.ConnPool
	if preparedStmtDB, ok := connPool.(*gorm.PreparedStmtDB); ok {
		connPool = preparedStmtDB.ConnPool
	}
	sr.prepareStmtStore[connPool] = &gorm.PreparedStmtDB{
		ConnPool:    db.Config.ConnPool,
		Stmts:       map[string]*gorm.Stmt{},
		Mux:         &sync.RWMutex{},
		PreparedSQL: make([]string, 0, 100),
	}
	// 配置参数
	configurePool(connPool, dialectorConfig)
	return connPool, nil
}

type bypassKey struct{}

// bypassed statements run as built on the pool they carry
func bypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// gormDataSources sessions on the physical pools, for catalog lookups
func (sr *ShardRoute) gormDataSources() map[string]*gorm.DB {
	result := make(map[string]*gorm.DB, len(sr.pools))
	ctx := context.WithValue(context.Background(), bypassKey{}, true)
	for name, pool := range sr.pools {
		session := sr.DB.Session(&gorm.Session{NewDB: true, SkipHooks: true, Context: ctx})
		session.Statement.ConnPool = pool
		result[name] = session
	}
	return result
}

// pool the pool serving a logical data source, the primary for writes
func (sr *ShardRoute) pool(stmt *gorm.Statement, current *rule.ShardingRule, logical string, op Operation) (gorm.ConnPool, string, error) {
	name := current.ActualDataSourceName(logical, op == Write)
	connPool, ok := sr.pools[name]
	if !ok {
		return nil, name, errors.Wrapf(ErrDataSourceNotFound, "%s", name)
	}
	if stmt.DB.PrepareStmt {
		if preparedStmt, ok := sr.prepareStmtStore[connPool]; ok {
			return &gorm.PreparedStmtDB{
				ConnPool: connPool,
				Mux:      preparedStmt.Mux,
				Stmts:    preparedStmt.Stmts,
			}, name, nil
		}
	}
	return connPool, name, nil
}

// physicalDataSources every primary and replica behind the rule's logical data sources
func physicalDataSources(current *rule.ShardingRule) []string {
	var names []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, ok := seen[name]; ok || name == "" {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, rw := range current.ReadWriteSplitRules() {
		add(rw.Primary)
		for _, replica := range rw.Replicas {
			add(replica)
		}
	}
	for _, name := range current.DataSourceNames() {
		add(current.ActualDataSourceName(name, true))
	}
	return names
}

func isPostgres(dialector gorm.Dialector) bool {
	return dialector != nil && dialector.Name() == "postgres"
}
