package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gorm/shardroute"
	"gorm/shardroute/optimize"
	"gorm/shardroute/rule"
	"gorm/shardroute/util/str"
)

const (
	DBTypeMySQL    = "mysql"
	DBTypePostgres = "postgres"
)

var ErrDefaultDBNotExist = errors.New("default db not exist")

// DBConfig database config，时间单位为秒
type DBConfig struct {
	DBType       string `yaml:"dbType" json:"dbType"`
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns" json:"maxIdleConns"`
	MaxLifetime  int    `yaml:"maxLifetime" json:"maxLifetime"`
	MaxIdleTime  int    `yaml:"maxIdleTime" json:"maxIdleTime"`
}

// OrmConfig orm global config
type OrmConfig struct {
	Debug          bool   `yaml:"debug" json:"debug"`
	TablePrefix    string `yaml:"tablePrefix" json:"tablePrefix"`
	SingularTable  bool   `yaml:"singularTable" json:"singularTable"`
	PrepareStmt    bool   `yaml:"prepareStmt" json:"prepareStmt"`
	TraceRouteMode bool   `yaml:"traceRouteMode" json:"traceRouteMode"`
	CurrentSchema  string `yaml:"currentSchema" json:"currentSchema"`
	// auto | literal | parameter
	SynthesizedValueMode string `yaml:"synthesizedValueMode" json:"synthesizedValueMode"`
}

// Config 数据源与分片规则
type Config struct {
	Orm OrmConfig `yaml:"orm" json:"orm"`
	// Default 插件所在的 gorm.DB，未在 DataSources 中配置的数据源共用它的连接池
	Default DBConfig `yaml:"default" json:"default"`
	// DataSources physical data source name -> config
	DataSources map[string]DBConfig `yaml:"dataSources" json:"dataSources"`
	Rule        rule.Configuration  `yaml:"rule" json:"rule"`
}

// Load reads a yaml config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse yaml config
func Parse(data []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parse yaml config")
	}
	return c, nil
}

// ParseJSON json config
func ParseJSON(text string) (*Config, error) {
	c := new(Config)
	if err := str.ConvertStrToStruct(text, c); err != nil {
		return nil, errors.Wrap(err, "parse json config")
	}
	return c, nil
}

// NewOrmDB opens the default db and installs the shard route plugin built from c
func NewOrmDB(c *Config, opts ...rule.Option) (*gorm.DB, *shardroute.ShardRoute, error) {
	if c.Default.DSN == "" {
		return nil, nil, ErrDefaultDBNotExist
	}
	defaultDialector, err := openDialector(c.Default)
	if err != nil {
		return nil, nil, err
	}
	db, err := gorm.Open(defaultDialector, defaultConfig(&c.Orm))
	if err != nil {
		return nil, nil, errors.Wrap(err, "open default dialector")
	}
	if c.Orm.Debug {
		db = db.Debug()
	}
	plugin, err := NewShardRoute(c, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err = db.Use(plugin); err != nil {
		return nil, nil, errors.Wrap(err, "use shard route")
	}
	return db, plugin, nil
}

// NewShardRoute builds the rule and the plugin without opening the default db
func NewShardRoute(c *Config, opts ...rule.Option) (*shardroute.ShardRoute, error) {
	shardingRule, err := rule.New(&c.Rule, opts...)
	if err != nil {
		return nil, err
	}
	mode, err := synthesizedValueMode(c.Orm.SynthesizedValueMode)
	if err != nil {
		return nil, err
	}
	dataSources := make(map[string]shardroute.DialectorConfig, len(c.DataSources))
	// name: physical data source name
	for name, cfg := range c.DataSources {
		dialector, err := openDialector(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "data source %s", name)
		}
		dataSources[name] = shardroute.DialectorConfig{
			Dialector:    dialector,
			MaxOpen:      cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
			MaxLifetime:  time.Duration(cfg.MaxLifetime) * time.Second,
			MaxIdleTime:  time.Duration(cfg.MaxIdleTime) * time.Second,
		}
	}
	return shardroute.Register(rule.NewHolder(shardingRule), shardroute.Config{
		DataSources:          dataSources,
		CurrentSchema:        c.Orm.CurrentSchema,
		SynthesizedValueMode: mode,
		TraceRouteMode:       c.Orm.TraceRouteMode,
	}), nil
}

func openDialector(cfg DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBType) {
	case DBTypeMySQL, "":
		return mysql.Open(cfg.DSN), nil
	case DBTypePostgres:
		return postgres.Open(cfg.DSN), nil
	}
	return nil, errors.Errorf("unsupported db type %q", cfg.DBType)
}

func synthesizedValueMode(text string) (optimize.SynthesizedValueMode, error) {
	switch strings.ToLower(text) {
	case "", "auto":
		return optimize.SynthesizedAuto, nil
	case "literal":
		return optimize.SynthesizedLiteral, nil
	case "parameter":
		return optimize.SynthesizedParameter, nil
	}
	return 0, errors.Errorf("unknown synthesized value mode %q", text)
}

func defaultConfig(ormConfig *OrmConfig) (config *gorm.Config) {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   ormConfig.TablePrefix,
			SingularTable: ormConfig.SingularTable,
		},
		Logger:      newLogger,
		PrepareStmt: ormConfig.PrepareStmt,
	}
}
