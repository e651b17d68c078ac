package shardroute

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"gorm/shardroute/checker"
	"gorm/shardroute/metadata"
	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/rule"
)

func orderConfiguration() *rule.Configuration {
	byUser := &rule.StrategyConfiguration{ShardingColumn: "user_id", AlgorithmExpression: "ds_${user_id % 2}"}
	return &rule.Configuration{
		DataSources:       []string{"ds_0", "ds_1"},
		DefaultDataSource: "ds_0",
		Tables: []rule.TableConfiguration{
			{
				LogicTable:       "t_order",
				ActualDataNodes:  "ds_${0..1}.t_order_${0..1}",
				DatabaseStrategy: byUser,
				TableStrategy:    &rule.StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_${order_id % 2}"},
				KeyGenerator:     &rule.KeyGeneratorConfiguration{Column: "order_id", Type: rule.KeyGeneratorIncrement},
			},
			{
				LogicTable:       "t_order_item",
				ActualDataNodes:  "ds_${0..1}.t_order_item_${0..1}",
				DatabaseStrategy: byUser,
				TableStrategy:    &rule.StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_item_${order_id % 2}"},
			},
		},
		BindingTables:   []string{"t_order, t_order_item"},
		BroadcastTables: []rule.BroadcastTableConfiguration{{Table: "t_config"}},
	}
}

func newHolder(t *testing.T) *rule.Holder {
	r, err := rule.New(orderConfiguration())
	require.NoError(t, err)
	return rule.NewHolder(r)
}

func sqlOf(execution *Execution) []string {
	var result []string
	for _, unit := range execution.Units {
		result = append(result, fmt.Sprintf("%s: %s", unit.Unit.DataSourceName, unit.SQL))
	}
	return result
}

func TestEngineProcessSelect(t *testing.T) {
	e := NewEngine(newHolder(t), nil)
	execution, err := e.Process(context.Background(), "SELECT * FROM t_order o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.user_id = ? AND o.order_id = ?", []interface{}{1, 2})
	require.NoError(t, err)
	require.False(t, execution.AlwaysFalse())
	require.Nil(t, execution.Insert)
	require.Equal(t, []string{
		"ds_1: SELECT * FROM t_order_0 o JOIN t_order_item_0 i ON o.order_id = i.order_id WHERE o.user_id = ? AND o.order_id = ?",
	}, sqlOf(execution))
	require.Equal(t, []interface{}{1, 2}, execution.Units[0].Parameters)

	execution, err = e.Process(context.Background(), "SELECT * FROM t_config", nil)
	require.NoError(t, err)
	require.Len(t, execution.Units, 1)
}

func TestEngineProcessInsert(t *testing.T) {
	e := NewEngine(newHolder(t), nil)
	execution, err := e.Process(context.Background(), "INSERT INTO t_order (user_id, status) VALUES (?, ?), (?, ?)", []interface{}{10, "init", 11, "init"})
	require.NoError(t, err)
	require.NotNil(t, execution.Insert)
	require.Equal(t, []interface{}{int64(1), int64(2)}, execution.Insert.GeneratedKeys())
	require.Equal(t, []string{
		"ds_0: INSERT INTO t_order_1 (user_id, status, order_id) VALUES (?, ?, ?)",
		"ds_1: INSERT INTO t_order_0 (user_id, status, order_id) VALUES (?, ?, ?)",
	}, sqlOf(execution))

	literal := NewEngine(newHolder(t), nil, WithSynthesizedValueMode(optimize.SynthesizedLiteral))
	execution, err = literal.Process(context.Background(), "INSERT INTO t_order (user_id, status) VALUES (?, ?)", []interface{}{10, "init"})
	require.NoError(t, err)
	require.Equal(t, []string{"ds_0: INSERT INTO t_order_1 (user_id, status, order_id) VALUES (?, ?, 1)"}, sqlOf(execution))
}

func TestEngineInsertRoutedToMultipleNodes(t *testing.T) {
	e := NewEngine(newHolder(t), nil)
	// order_id 缺失时一行会落到 ds_0 的两张表
	_, err := e.Process(context.Background(), "INSERT INTO t_order_item (user_id, status) VALUES (10, 'x')", nil)
	var multiple *checker.InsertRoutedToMultipleNodesError
	require.ErrorAs(t, err, &multiple)
	require.Equal(t, "t_order_item", multiple.Table)
	require.Equal(t, 1, multiple.Row)
	require.ElementsMatch(t, []string{"ds_0.t_order_item_0", "ds_0.t_order_item_1"}, multiple.Nodes)

	_, err = e.Process(context.Background(), "INSERT INTO t_order_item (user_id, order_id) VALUES (10, 1), (11, ?)", []interface{}{3})
	require.NoError(t, err)

	// 广播表写入每个数据源
	execution, err := e.Process(context.Background(), "INSERT INTO t_config (k, v) VALUES ('a', 'b')", nil)
	require.NoError(t, err)
	require.Equal(t, []string{
		"ds_0: INSERT INTO t_config (k, v) VALUES ('a', 'b')",
		"ds_1: INSERT INTO t_config (k, v) VALUES ('a', 'b')",
	}, sqlOf(execution))
}

func TestEngineInsertRowsLandOnce(t *testing.T) {
	e := NewEngine(newHolder(t), nil)
	for _, c := range []struct {
		name   string
		sql    string
		params []interface{}
		rows   int
		units  int
	}{
		{"sharded", "INSERT INTO t_order_item (user_id, order_id, memo) VALUES (?, ?, ?), (?, ?, ?), (?, ?, ?), (?, ?, ?)",
			[]interface{}{0, 0, "r1", 0, 1, "r2", 1, 0, "r3", 1, 2, "r4"}, 4, 3},
		{"unsharded", "INSERT INTO t_user (id, memo) VALUES (?, ?), (?, ?), (?, ?)",
			[]interface{}{1, "r1", 2, "r2", 3, "r3"}, 3, 1},
	} {
		t.Run(c.name, func(t *testing.T) {
			execution, err := e.Process(context.Background(), c.sql, c.params)
			require.NoError(t, err)
			require.Len(t, execution.Units, c.units)
			tuples := 0
			seen := map[string]int{}
			for _, unit := range execution.Units {
				tuples += strings.Count(unit.SQL[strings.Index(unit.SQL, "VALUES"):], "(")
				for _, p := range unit.Parameters {
					if memo, ok := p.(string); ok {
						seen[memo]++
					}
				}
			}
			require.Equal(t, c.rows, tuples)
			require.Len(t, seen, c.rows)
			for memo, count := range seen {
				require.Equal(t, 1, count, memo)
			}
		})
	}
}

func TestEngineRewriteIsRepeatable(t *testing.T) {
	e := NewEngine(newHolder(t), nil)
	for _, sql := range []string{
		"SELECT * FROM t_order o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.user_id = ?",
		"UPDATE t_order SET status = ? WHERE user_id = ?",
		"INSERT INTO t_order (user_id, status) VALUES (?, ?), (?, ?)",
	} {
		stmt, err := parser.Parse(sql)
		require.NoError(t, err)
		params := make([]interface{}, stmt.ParameterCount())
		for i := range params {
			params[i] = i + 1
		}
		current, err := e.Snapshot()
		require.NoError(t, err)
		insert, err := e.OptimizeInsert(current, stmt, params)
		require.NoError(t, err)
		result, err := e.Route(context.Background(), current, stmt, params, insert)
		require.NoError(t, err)

		first, err := e.Rewrite(current, stmt, params, insert, result)
		require.NoError(t, err)
		second, err := e.Rewrite(current, stmt, params, insert, result)
		require.NoError(t, err)
		require.Equal(t, first, second, sql)
	}
}

func TestEngineSnapshotUnderSwap(t *testing.T) {
	holder := newHolder(t)
	e := NewEngine(holder, nil)
	cfg := orderConfiguration()
	cfg.Tables[0].ActualDataNodes = "ds_${0..1}.t_order_${0..3}"
	cfg.Tables[0].TableStrategy.AlgorithmExpression = "t_order_${order_id % 4}"
	wide, err := rule.New(cfg)
	require.NoError(t, err)
	narrow := holder.Load()

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				holder.Swap(wide)
			} else {
				holder.Swap(narrow)
			}
		}
		return nil
	})
	executions := make([]*Execution, 200)
	for i := range executions {
		i := i
		g.Go(func() error {
			execution, err := e.Process(context.Background(), "SELECT * FROM t_order WHERE user_id = 1", nil)
			executions[i] = execution
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, execution := range executions {
		tr, err := execution.Rule.GetTableRule("t_order")
		require.NoError(t, err)
		require.Len(t, execution.Units, len(tr.ActualTableNames("ds_1")))
		for _, unit := range execution.Units {
			actual, ok := unit.Unit.ActualTable("t_order")
			require.True(t, ok)
			require.True(t, tr.IsExisted(actual))
		}
	}
}

func TestEngineAlwaysFalse(t *testing.T) {
	e := NewEngine(newHolder(t), nil)
	execution, err := e.Process(context.Background(), "DELETE FROM t_order WHERE user_id = 1 AND user_id = 2", nil)
	require.NoError(t, err)
	require.True(t, execution.AlwaysFalse())
	require.Empty(t, execution.Units)
}

func TestEngineCheck(t *testing.T) {
	database := metadata.NewMemoryDatabase()
	database.AddSchema("logic_db").AddTable("t_order")
	e := NewEngine(newHolder(t), database, WithCurrentSchema("logic_db"))

	_, err := e.Process(context.Background(), "CREATE TABLE t_order (order_id BIGINT, user_id INT)", nil)
	var exists *checker.TableExistsError
	require.ErrorAs(t, err, &exists)
	require.Equal(t, "t_order", exists.Table)

	execution, err := e.Process(context.Background(), "CREATE TABLE IF NOT EXISTS t_order (order_id BIGINT, user_id INT)", nil)
	require.NoError(t, err)
	require.Len(t, execution.Units, 4)

	// 替换为空的检查器后不再校验
	e = NewEngine(newHolder(t), database, WithCurrentSchema("logic_db"), WithCheckers(checker.NewRegistry()))
	_, err = e.Process(context.Background(), "CREATE TABLE t_order (order_id BIGINT, user_id INT)", nil)
	require.NoError(t, err)
}

func TestEngineErrors(t *testing.T) {
	_, err := NewEngine(rule.NewHolder(nil), nil).Process(context.Background(), "SELECT * FROM t_order", nil)
	require.ErrorIs(t, err, ErrNoRule)

	e := NewEngine(newHolder(t), nil)
	_, err = e.Process(context.Background(), "SELECT * FROM t_order WHERE user_id = ? AND order_id = ?", []interface{}{1})
	require.Error(t, err)

	_, err = e.Process(context.Background(), "SELECT * FROM", nil)
	require.ErrorIs(t, err, parser.ErrSyntax)
}

func TestEngineSnapshot(t *testing.T) {
	holder := newHolder(t)
	e := NewEngine(holder, nil)
	execution, err := e.Process(context.Background(), "SELECT * FROM t_order WHERE user_id = 1", nil)
	require.NoError(t, err)
	require.Len(t, execution.Units, 2)
	require.EqualValues(t, 0, execution.Version)

	// 新规则只对之后的语句生效
	cfg := orderConfiguration()
	cfg.Tables[0].ActualDataNodes = "ds_${0..1}.t_order_${0..3}"
	cfg.Tables[0].TableStrategy.AlgorithmExpression = "t_order_${order_id % 4}"
	next, err := rule.New(cfg)
	require.NoError(t, err)
	old := holder.Swap(next)
	require.Same(t, execution.Rule, old)

	execution, err = e.Process(context.Background(), "SELECT * FROM t_order WHERE user_id = 1", nil)
	require.NoError(t, err)
	require.Len(t, execution.Units, 4)
	require.EqualValues(t, 1, execution.Version)
	require.Same(t, next, execution.Rule)
}

type recordLogger struct {
	logger.Interface
	infos []string
}

func (l *recordLogger) Info(_ context.Context, msg string, args ...interface{}) {
	l.infos = append(l.infos, fmt.Sprintf(msg, args...))
}

func TestEngineTrace(t *testing.T) {
	l := &recordLogger{Interface: logger.Discard}
	e := NewEngine(newHolder(t), nil, WithTrace(l))
	_, err := e.Process(context.Background(), "UPDATE t_order SET status = 'paid' WHERE user_id = 1 AND order_id = 2", nil)
	require.NoError(t, err)
	require.Len(t, l.infos, 1)
	require.Contains(t, l.infos[0], "ds_1")
	require.Contains(t, l.infos[0], "t_order_0")
}
