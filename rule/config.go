package rule

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	StrategyNone     = "none"
	StrategyStandard = "standard"
	StrategyComplex  = "complex"
	StrategyHint     = "hint"

	// AlgorithmMod built-in hash mod algorithm, props: count
	AlgorithmMod = "mod"
)

// Configuration 分片规则配置
type Configuration struct {
	DataSources             []string                      `yaml:"dataSources" json:"dataSources"`
	DefaultDataSource       string                        `yaml:"defaultDataSource" json:"defaultDataSource"`
	Tables                  []TableConfiguration          `yaml:"tables" json:"tables"`
	BindingTables           []string                      `yaml:"bindingTables" json:"bindingTables"`
	BroadcastTables         []BroadcastTableConfiguration `yaml:"broadcastTables" json:"broadcastTables"`
	DefaultDatabaseStrategy *StrategyConfiguration        `yaml:"defaultDatabaseStrategy" json:"defaultDatabaseStrategy"`
	DefaultTableStrategy    *StrategyConfiguration        `yaml:"defaultTableStrategy" json:"defaultTableStrategy"`
	DefaultKeyGenerator     *KeyGeneratorConfiguration    `yaml:"defaultKeyGenerator" json:"defaultKeyGenerator"`
	ReadWriteSplits         []ReadWriteSplitConfiguration `yaml:"readWriteSplits" json:"readWriteSplits"`
	Encrypt                 *EncryptConfiguration         `yaml:"encrypt" json:"encrypt"`
}

type TableConfiguration struct {
	LogicTable       string                     `yaml:"logicTable" json:"logicTable"`
	ActualDataNodes  string                     `yaml:"actualDataNodes" json:"actualDataNodes"`
	LogicIndex       string                     `yaml:"logicIndex" json:"logicIndex"`
	DatabaseStrategy *StrategyConfiguration     `yaml:"databaseStrategy" json:"databaseStrategy"`
	TableStrategy    *StrategyConfiguration     `yaml:"tableStrategy" json:"tableStrategy"`
	KeyGenerator     *KeyGeneratorConfiguration `yaml:"keyGenerator" json:"keyGenerator"`
}

type BroadcastTableConfiguration struct {
	Table             string `yaml:"table" json:"table"`
	GenerateKeyColumn string `yaml:"generateKeyColumn" json:"generateKeyColumn"`
}

// StrategyConfiguration type may be left empty and is then inferred from the other fields
type StrategyConfiguration struct {
	Type                string            `yaml:"type" json:"type"`
	ShardingColumn      string            `yaml:"shardingColumn" json:"shardingColumn"`
	ShardingColumns     string            `yaml:"shardingColumns" json:"shardingColumns"`
	AlgorithmExpression string            `yaml:"algorithmExpression" json:"algorithmExpression"`
	Algorithm           string            `yaml:"algorithm" json:"algorithm"`
	RangeAlgorithm      string            `yaml:"rangeAlgorithm" json:"rangeAlgorithm"`
	Props               map[string]string `yaml:"props" json:"props"`
}

type options struct {
	precise       map[string]PreciseAlgorithm
	ranges        map[string]RangeAlgorithm
	complex       map[string]ComplexKeysAlgorithm
	hint          map[string]HintAlgorithm
	keyGenerators map[string]KeyGenerator
	encryptors    map[string]Encryptor
}

// Option registers code supplied algorithms, generators and encryptors under the names
// configuration refers to.
type Option func(*options)

func WithPreciseAlgorithm(name string, algorithm PreciseAlgorithm) Option {
	return func(o *options) { o.precise[strings.ToLower(name)] = algorithm }
}

func WithRangeAlgorithm(name string, algorithm RangeAlgorithm) Option {
	return func(o *options) { o.ranges[strings.ToLower(name)] = algorithm }
}

func WithComplexAlgorithm(name string, algorithm ComplexKeysAlgorithm) Option {
	return func(o *options) { o.complex[strings.ToLower(name)] = algorithm }
}

func WithHintAlgorithm(name string, algorithm HintAlgorithm) Option {
	return func(o *options) { o.hint[strings.ToLower(name)] = algorithm }
}

func WithKeyGenerator(kind string, generator KeyGenerator) Option {
	return func(o *options) { o.keyGenerators[strings.ToUpper(kind)] = generator }
}

func WithEncryptor(name string, encryptor Encryptor) Option {
	return func(o *options) { o.encryptors[strings.ToLower(name)] = encryptor }
}

func newOptions(opts []Option) *options {
	o := &options{
		precise:       map[string]PreciseAlgorithm{},
		ranges:        map[string]RangeAlgorithm{},
		complex:       map[string]ComplexKeysAlgorithm{},
		hint:          map[string]HintAlgorithm{},
		keyGenerators: map[string]KeyGenerator{},
		encryptors:    map[string]Encryptor{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) strategy(cfg *StrategyConfiguration) (ShardingStrategy, error) {
	if cfg == nil {
		return nil, nil
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" {
		switch {
		case cfg.ShardingColumns != "":
			kind = StrategyComplex
		case cfg.ShardingColumn != "":
			kind = StrategyStandard
		case cfg.Algorithm != "" || cfg.AlgorithmExpression != "":
			kind = StrategyHint
		default:
			kind = StrategyNone
		}
	}
	algorithm := strings.ToLower(cfg.Algorithm)
	switch kind {
	case StrategyNone:
		return NoneStrategy{}, nil
	case StrategyStandard:
		precise, err := o.preciseAlgorithm(cfg)
		if err != nil {
			return nil, err
		}
		var ranged RangeAlgorithm
		if cfg.RangeAlgorithm != "" {
			var ok bool
			if ranged, ok = o.ranges[strings.ToLower(cfg.RangeAlgorithm)]; !ok {
				return nil, errors.Wrapf(ErrAlgorithmNotFound, "range algorithm %q", cfg.RangeAlgorithm)
			}
		} else if r, ok := precise.(RangeAlgorithm); ok {
			ranged = r
		}
		return NewStandardStrategy(cfg.ShardingColumn, precise, ranged)
	case StrategyComplex:
		columns := splitNames(cfg.ShardingColumns)
		if a, ok := o.complex[algorithm]; ok {
			return NewComplexStrategy(columns, a)
		}
		if cfg.AlgorithmExpression == "" {
			return nil, errors.Wrapf(ErrAlgorithmNotFound, "complex algorithm %q", cfg.Algorithm)
		}
		a, err := NewComplexInlineAlgorithm(columns, cfg.AlgorithmExpression)
		if err != nil {
			return nil, err
		}
		return NewComplexStrategy(columns, a)
	case StrategyHint:
		if a, ok := o.hint[algorithm]; ok {
			return NewHintStrategy(a)
		}
		if cfg.AlgorithmExpression == "" {
			return nil, errors.Wrapf(ErrAlgorithmNotFound, "hint algorithm %q", cfg.Algorithm)
		}
		a, err := NewHintInlineAlgorithm(cfg.AlgorithmExpression)
		if err != nil {
			return nil, err
		}
		return NewHintStrategy(a)
	}
	return nil, errors.Wrapf(ErrInvalidStrategy, "unknown type %q", cfg.Type)
}

func (o *options) preciseAlgorithm(cfg *StrategyConfiguration) (PreciseAlgorithm, error) {
	name := strings.ToLower(cfg.Algorithm)
	if a, ok := o.precise[name]; ok {
		return a, nil
	}
	if name == AlgorithmMod {
		count, err := strconv.ParseInt(cfg.Props["count"], 10, 64)
		if err != nil || count <= 0 {
			return nil, errors.Wrapf(ErrInvalidStrategy, "mod algorithm needs a positive count, got %q", cfg.Props["count"])
		}
		return ModAlgorithm{Count: count}, nil
	}
	if cfg.AlgorithmExpression != "" {
		return NewInlineAlgorithm(cfg.ShardingColumn, cfg.AlgorithmExpression)
	}
	return nil, errors.Wrapf(ErrAlgorithmNotFound, "precise algorithm %q", cfg.Algorithm)
}

func splitNames(text string) []string {
	var result []string
	for _, each := range strings.Split(text, ",") {
		if each = strings.TrimSpace(each); each != "" {
			result = append(result, each)
		}
	}
	return result
}
