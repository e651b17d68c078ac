package rule

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const (
	LoadBalanceRandom     = "random"
	LoadBalanceRoundRobin = "round_robin"
)

// LoadBalancer picks one replica for a read
type LoadBalancer interface {
	Choose(name string, replicas []string) string
}

// RandomLoadBalancer 随机路由
type RandomLoadBalancer struct{}

func (RandomLoadBalancer) Choose(_ string, replicas []string) string {
	return replicas[rand.Intn(len(replicas))]
}

// RoundRobinLoadBalancer 轮询
type RoundRobinLoadBalancer struct {
	next *atomic.Uint64
}

func NewRoundRobinLoadBalancer() *RoundRobinLoadBalancer {
	return &RoundRobinLoadBalancer{next: atomic.NewUint64(0)}
}

func (b *RoundRobinLoadBalancer) Choose(_ string, replicas []string) string {
	n := b.next.Inc() - 1
	return replicas[n%uint64(len(replicas))]
}

// ReadWriteSplitConfiguration a primary data source and its replicas exposed under one name
type ReadWriteSplitConfiguration struct {
	Name         string   `yaml:"name" json:"name"`
	Primary      string   `yaml:"primary" json:"primary"`
	Replicas     []string `yaml:"replicas" json:"replicas"`
	LoadBalancer string   `yaml:"loadBalancer" json:"loadBalancer"`
}

// ReadWriteSplitRule writes go to the primary, reads to a replica
type ReadWriteSplitRule struct {
	Name     string
	Primary  string
	Replicas []string
	balancer LoadBalancer
}

func newReadWriteSplitRule(cfg ReadWriteSplitConfiguration) (*ReadWriteSplitRule, error) {
	if cfg.Name == "" || cfg.Primary == "" {
		return nil, errors.Wrap(ErrDataSourceNotFound, "read/write split group needs a name and a primary")
	}
	r := &ReadWriteSplitRule{Name: cfg.Name, Primary: cfg.Primary, Replicas: copyStrings(cfg.Replicas)}
	switch strings.ToLower(cfg.LoadBalancer) {
	case "", LoadBalanceRandom:
		r.balancer = RandomLoadBalancer{}
	case LoadBalanceRoundRobin:
		r.balancer = NewRoundRobinLoadBalancer()
	default:
		return nil, errors.Errorf("unknown load balancer %q for group %s", cfg.LoadBalancer, cfg.Name)
	}
	return r, nil
}

// DataSourceName resolves the physical data source for one statement
func (r *ReadWriteSplitRule) DataSourceName(write bool) string {
	if write || len(r.Replicas) == 0 {
		return r.Primary
	}
	return r.balancer.Choose(r.Name, r.Replicas)
}

func (r *ReadWriteSplitRule) contains(dataSource string) bool {
	return strings.EqualFold(r.Primary, dataSource) || containsFold(r.Replicas, dataSource)
}
