package rule

import (
	"go.uber.org/atomic"
)

// Holder publishes the current ShardingRule; a statement reads one snapshot
// and keeps using it even if a newer rule is swapped in meanwhile.
type Holder struct {
	current *atomic.Pointer[ShardingRule]
	version *atomic.Int64
}

func NewHolder(initial *ShardingRule) *Holder {
	return &Holder{current: atomic.NewPointer(initial), version: atomic.NewInt64(0)}
}

func (h *Holder) Load() *ShardingRule {
	return h.current.Load()
}

// Swap installs next and returns the rule it replaced
func (h *Holder) Swap(next *ShardingRule) *ShardingRule {
	old := h.current.Swap(next)
	h.version.Inc()
	return old
}

// Version number of swaps so far
func (h *Holder) Version() int64 {
	return h.version.Load()
}
