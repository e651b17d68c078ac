package rule

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func orderConfiguration() *Configuration {
	return &Configuration{
		DataSources:       []string{"ds_0", "ds_1"},
		DefaultDataSource: "ds_0",
		Tables: []TableConfiguration{
			{
				LogicTable:       "t_order",
				ActualDataNodes:  "ds_${0..1}.t_order_${0..1}",
				LogicIndex:       "order_index",
				DatabaseStrategy: &StrategyConfiguration{ShardingColumn: "user_id", AlgorithmExpression: "ds_${user_id % 2}"},
				TableStrategy:    &StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_${order_id % 2}"},
				KeyGenerator:     &KeyGeneratorConfiguration{Column: "order_id", Type: KeyGeneratorIncrement},
			},
			{
				LogicTable:       "t_order_item",
				ActualDataNodes:  "ds_${0..1}.t_order_item_${0..1}",
				DatabaseStrategy: &StrategyConfiguration{ShardingColumn: "user_id", AlgorithmExpression: "ds_${user_id % 2}"},
				TableStrategy:    &StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_item_${order_id % 2}"},
			},
			{LogicTable: "t_log"},
		},
		BindingTables:   []string{"t_order, t_order_item"},
		BroadcastTables: []BroadcastTableConfiguration{{Table: "t_config", GenerateKeyColumn: "id"}},
	}
}

func TestNewDataNode(t *testing.T) {
	node, err := NewDataNode("ds_0.t_order_0")
	require.NoError(t, err)
	require.Equal(t, DataNode{DataSourceName: "ds_0", TableName: "t_order_0"}, node)
	require.True(t, node.Equal(DataNode{DataSourceName: "DS_0", TableName: "T_ORDER_0"}))
	require.Equal(t, "ds_0.t_order_0", node.String())

	for _, text := range []string{"ds_0", "ds.0.t", ".t_order", "ds_0."} {
		_, err := NewDataNode(text)
		require.ErrorIs(t, err, ErrInvalidDataNode, text)
	}
}

func TestNewShardingRule(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)
	require.Equal(t, []string{"ds_0", "ds_1"}, r.DataSourceNames())

	tr, ok := r.FindTableRule("T_ORDER")
	require.True(t, ok)
	require.Len(t, tr.ActualDataNodes(), 4)
	require.Equal(t, []string{"ds_0", "ds_1"}, tr.ActualDataSourceNames())
	require.Equal(t, []string{"t_order_0", "t_order_1"}, tr.ActualTableNames("ds_1"))
	index, ok := tr.DataNodeIndex(DataNode{DataSourceName: "DS_1", TableName: "t_order_1"})
	require.True(t, ok)
	require.Equal(t, 3, index)
	_, ok = tr.DataNodeIndex(DataNode{DataSourceName: "ds_1", TableName: "t_order_9"})
	require.False(t, ok)

	// 未配置数据节点时在每个数据源上使用逻辑表名
	logRule, ok := r.FindTableRule("t_log")
	require.True(t, ok)
	require.Equal(t, []DataNode{{"ds_0", "t_log"}, {"ds_1", "t_log"}}, logRule.ActualDataNodes())
}

func TestNewShardingRuleUnknownDataSource(t *testing.T) {
	cfg := orderConfiguration()
	cfg.Tables[0].ActualDataNodes = "ds_${0..2}.t_order_0"
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrDataSourceNotFound)

	cfg = orderConfiguration()
	cfg.BindingTables = []string{"t_order, t_missing"}
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrTableRuleNotFound)
}

func TestGetTableRule(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)

	broadcast, err := r.GetTableRule("t_config")
	require.NoError(t, err)
	require.Equal(t, []DataNode{{"ds_0", "t_config"}, {"ds_1", "t_config"}}, broadcast.ActualDataNodes())

	unsharded, err := r.GetTableRule("t_user")
	require.NoError(t, err)
	require.Equal(t, []DataNode{{"ds_0", "t_user"}}, unsharded.ActualDataNodes())

	cfg := orderConfiguration()
	cfg.DefaultDataSource = ""
	r, err = New(cfg)
	require.NoError(t, err)
	_, err = r.GetTableRule("t_user")
	require.ErrorIs(t, err, ErrTableRuleNotFound)
}

func TestBindingTables(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)

	require.True(t, r.IsAllBindingTables([]string{"t_order", "T_ORDER_ITEM"}))
	require.True(t, r.IsAllBindingTables([]string{"t_order"}))
	require.False(t, r.IsAllBindingTables([]string{"t_order", "t_log"}))
	require.False(t, r.IsAllBindingTables([]string{"t_log"}))
	require.False(t, r.IsAllBindingTables(nil))

	binding, ok := r.FindBindingTableRule("t_order_item")
	require.True(t, ok)
	require.Equal(t, []string{"t_order", "t_order_item"}, binding.LogicTables())

	actual, err := binding.BindingActualTable("ds_1", "t_order_item", "t_order", "t_order_1")
	require.NoError(t, err)
	require.Equal(t, "t_order_item_1", actual)

	// 位置推导双向一致
	back, err := binding.BindingActualTable("ds_1", "t_order", "t_order_item", actual)
	require.NoError(t, err)
	require.Equal(t, "t_order_1", back)

	_, err = binding.BindingActualTable("ds_1", "t_order_item", "t_order", "t_order_9")
	require.ErrorIs(t, err, ErrBindingTableMisaligned)
	_, err = binding.BindingActualTable("ds_1", "t_log", "t_order", "t_order_1")
	require.ErrorIs(t, err, ErrBindingTableMisaligned)
}

func TestDefaultAndBroadcastQueries(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)

	require.True(t, r.IsAllInDefaultDataSource([]string{"t_user", "t_address"}))
	require.False(t, r.IsAllInDefaultDataSource([]string{"t_user", "t_order"}))
	require.False(t, r.IsAllInDefaultDataSource([]string{"t_config"}))
	require.False(t, r.IsAllInDefaultDataSource(nil))

	require.True(t, r.IsAllBroadcastTables([]string{"T_CONFIG"}))
	require.False(t, r.IsAllBroadcastTables([]string{"t_config", "t_order"}))
	require.False(t, r.IsAllBroadcastTables(nil))

	require.True(t, r.IsShardingColumn("USER_ID", "t_order"))
	require.True(t, r.IsShardingColumn("order_id", "t_order"))
	require.False(t, r.IsShardingColumn("status", "t_order"))
	require.False(t, r.IsShardingColumn("user_id", "t_user"))

	tr, ok := r.FindTableRuleByActualTable("t_order_item_1")
	require.True(t, ok)
	require.Equal(t, "t_order_item", tr.LogicTable)
	tr, ok = r.FindTableRuleByLogicIndex("ORDER_INDEX")
	require.True(t, ok)
	require.Equal(t, "t_order", tr.LogicTable)
}

func TestGenerateKey(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)

	column, ok := r.FindGenerateKeyColumn("t_order")
	require.True(t, ok)
	require.Equal(t, "order_id", column)
	first, err := r.GenerateKey("t_order")
	require.NoError(t, err)
	second, err := r.GenerateKey("t_order")
	require.NoError(t, err)
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)

	column, ok = r.FindGenerateKeyColumn("t_config")
	require.True(t, ok)
	require.Equal(t, "id", column)
	key, err := r.GenerateKey("t_config")
	require.NoError(t, err)
	require.IsType(t, int64(0), key)

	_, ok = r.FindGenerateKeyColumn("t_order_item")
	require.False(t, ok)
	_, err = r.GenerateKey("t_user")
	require.ErrorIs(t, err, ErrTableRuleNotFound)
}

func TestGenerateKeyConcurrently(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)

	for _, table := range []string{"t_order", "t_config"} {
		t.Run(table, func(t *testing.T) {
			var (
				g    errgroup.Group
				mu   sync.Mutex
				keys = map[interface{}]struct{}{}
			)
			for i := 0; i < 8; i++ {
				g.Go(func() error {
					generated := make([]interface{}, 0, 500)
					for j := 0; j < 500; j++ {
						key, err := r.GenerateKey(table)
						if err != nil {
							return err
						}
						generated = append(generated, key)
					}
					mu.Lock()
					defer mu.Unlock()
					for _, key := range generated {
						keys[key] = struct{}{}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			require.Len(t, keys, 8*500)
		})
	}
}

func TestFindDataNode(t *testing.T) {
	r, err := New(orderConfiguration())
	require.NoError(t, err)

	node, err := r.FindDataNode("", "t_order")
	require.NoError(t, err)
	require.Equal(t, DataNode{"ds_0", "t_order_0"}, node)
	node, err = r.FindDataNode("ds_1", "t_order")
	require.NoError(t, err)
	require.Equal(t, DataNode{"ds_1", "t_order_0"}, node)

	_, err = r.FindDataNode("ds_9", "t_order")
	require.True(t, errors.Is(err, ErrDataNodeNotFound))
}

func TestReadWriteSplit(t *testing.T) {
	cfg := &Configuration{
		DataSources:       []string{"primary_0", "replica_0_0", "replica_0_1", "ds_1"},
		DefaultDataSource: "primary_0",
		ReadWriteSplits: []ReadWriteSplitConfiguration{{
			Name:         "ds_0",
			Primary:      "primary_0",
			Replicas:     []string{"replica_0_0", "replica_0_1"},
			LoadBalancer: LoadBalanceRoundRobin,
		}},
		Tables: []TableConfiguration{{LogicTable: "t_order", ActualDataNodes: "primary_0.t_order, ds_1.t_order"}},
	}
	r, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"ds_0", "ds_1"}, r.DataSourceNames())
	require.Equal(t, "ds_0", r.DefaultDataSourceName())
	require.Equal(t, "primary_0", r.ActualDefaultDataSourceName())

	tr, _ := r.FindTableRule("t_order")
	require.Equal(t, []string{"ds_0", "ds_1"}, tr.ActualDataSourceNames())

	require.Equal(t, "primary_0", r.ActualDataSourceName("ds_0", true))
	require.Equal(t, "replica_0_0", r.ActualDataSourceName("ds_0", false))
	require.Equal(t, "replica_0_1", r.ActualDataSourceName("ds_0", false))
	require.Equal(t, "replica_0_0", r.ActualDataSourceName("ds_0", false))
	require.Equal(t, "ds_1", r.ActualDataSourceName("ds_1", false))
}

func TestHolderSwap(t *testing.T) {
	first, err := New(orderConfiguration())
	require.NoError(t, err)
	second, err := New(orderConfiguration())
	require.NoError(t, err)

	h := NewHolder(first)
	snapshot := h.Load()
	require.Same(t, first, h.Swap(second))
	require.Same(t, second, h.Load())
	require.Same(t, first, snapshot)
	require.Equal(t, int64(1), h.Version())
}
