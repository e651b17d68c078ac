package rule

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const (
	KeyGeneratorSnowflake = "SNOWFLAKE"
	KeyGeneratorIncrement = "INCREMENT"
)

// KeyGenerator produces values for an auto-generated key column; safe for concurrent use.
type KeyGenerator interface {
	GenerateKey() interface{}
}

// SnowflakeGenerator 雪花算法
type SnowflakeGenerator struct {
	node *snowflake.Node
}

func NewSnowflakeGenerator(workerID int64) (*SnowflakeGenerator, error) {
	node, err := snowflake.NewNode(workerID)
	if err != nil {
		return nil, errors.Wrapf(err, "snowflake worker %d", workerID)
	}
	return &SnowflakeGenerator{node: node}, nil
}

func (g *SnowflakeGenerator) GenerateKey() interface{} {
	return g.node.Generate().Int64()
}

// IncrementGenerator 自增，从 offset+1 开始
type IncrementGenerator struct {
	counter *atomic.Int64
}

func NewIncrementGenerator(offset int64) *IncrementGenerator {
	return &IncrementGenerator{counter: atomic.NewInt64(offset)}
}

func (g *IncrementGenerator) GenerateKey() interface{} {
	return g.counter.Inc()
}

// KeyGeneratorConfiguration generated key column and how values are produced
type KeyGeneratorConfiguration struct {
	Column string            `yaml:"column" json:"column"`
	Type   string            `yaml:"type" json:"type"`
	Props  map[string]string `yaml:"props" json:"props"`
}

func newKeyGenerator(cfg *KeyGeneratorConfiguration, custom map[string]KeyGenerator) (KeyGenerator, error) {
	kind := strings.ToUpper(strings.TrimSpace(cfg.Type))
	if g, ok := custom[kind]; ok {
		return g, nil
	}
	switch kind {
	case "", KeyGeneratorSnowflake:
		workerID, err := int64Prop(cfg.Props, "worker-id")
		if err != nil {
			return nil, err
		}
		return NewSnowflakeGenerator(workerID)
	case KeyGeneratorIncrement:
		offset, err := int64Prop(cfg.Props, "offset")
		if err != nil {
			return nil, err
		}
		return NewIncrementGenerator(offset), nil
	}
	return nil, errors.Wrapf(ErrKeyGeneratorNotFound, "type %q", cfg.Type)
}

func int64Prop(props map[string]string, key string) (int64, error) {
	v, ok := props[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "property %s", key)
	}
	return n, nil
}
