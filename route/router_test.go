package route

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

func newRule(t *testing.T, defaultDataSource string) *rule.ShardingRule {
	byUser := &rule.StrategyConfiguration{ShardingColumn: "user_id", AlgorithmExpression: "ds_${user_id % 2}"}
	r, err := rule.New(&rule.Configuration{
		DataSources:       []string{"ds_0", "ds_1"},
		DefaultDataSource: defaultDataSource,
		Tables: []rule.TableConfiguration{
			{LogicTable: "t_order", ActualDataNodes: "ds_${0..1}.t_order_${0..1}", LogicIndex: "order_index", DatabaseStrategy: byUser,
				TableStrategy: &rule.StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_${order_id % 2}"}},
			{LogicTable: "t_order_item", ActualDataNodes: "ds_${0..1}.t_order_item_${0..1}", DatabaseStrategy: byUser,
				TableStrategy: &rule.StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_item_${order_id % 2}"}},
			{LogicTable: "t_log", ActualDataNodes: "ds_${0..1}.t_log_${0..1}"},
			{LogicTable: "t_hint", ActualDataNodes: "ds_${0..1}.t_hint",
				DatabaseStrategy: &rule.StrategyConfiguration{Type: rule.StrategyHint, AlgorithmExpression: "ds_${value % 2}"}},
		},
		BindingTables:   []string{"t_order, t_order_item"},
		BroadcastTables: []rule.BroadcastTableConfiguration{{Table: "t_config"}},
	})
	require.NoError(t, err)
	return r
}

func literal(v interface{}) statement.Expr {
	return statement.Expr{Kind: statement.ExprLiteral, LiteralType: statement.LiteralNumber, Value: v}
}

func predicate(table, column string, op statement.Operator, values ...interface{}) statement.Condition {
	c := statement.Condition{Table: table, Column: column, Operator: op}
	for _, v := range values {
		c.Values = append(c.Values, literal(v))
	}
	return c
}

func newStatement(kind statement.Kind, tables ...string) *statement.Statement {
	stmt := &statement.Statement{Kind: kind}
	for _, each := range tables {
		stmt.Tables = append(stmt.Tables, statement.Table{Name: statement.Identifier{Value: each}})
	}
	return stmt
}

func route(t *testing.T, r *rule.ShardingRule, stmt *statement.Statement) *Result {
	return routeContext(t, context.Background(), r, stmt)
}

func routeContext(t *testing.T, ctx context.Context, r *rule.ShardingRule, stmt *statement.Statement) *Result {
	conditions, err := NewConditions(r, stmt, nil)
	require.NoError(t, err)
	result, err := New(r).Route(ctx, stmt, conditions)
	require.NoError(t, err)
	return result
}

func unitStrings(result *Result) []string {
	var units []string
	for _, u := range result.Units {
		units = append(units, u.String())
	}
	return units
}

func TestRouteSingleTable(t *testing.T) {
	r := newRule(t, "ds_0")

	stmt := newStatement(statement.KindSelect, "t_order")
	stmt.Where = []statement.AndCondition{{
		predicate("t_order", "user_id", statement.OpEqual, 1),
		predicate("", "order_id", statement.OpEqual, 2),
	}}
	require.Equal(t, []string{"ds_1[t_order:t_order_0]"}, unitStrings(route(t, r, stmt)))

	stmt.Where = nil
	require.Equal(t, []string{
		"ds_0[t_order:t_order_0]", "ds_0[t_order:t_order_1]",
		"ds_1[t_order:t_order_0]", "ds_1[t_order:t_order_1]",
	}, unitStrings(route(t, r, stmt)))

	stmt.Where = []statement.AndCondition{{predicate("t_order", "user_id", statement.OpIn, 3, 2, 3)}}
	require.Equal(t, []string{
		"ds_0[t_order:t_order_0]", "ds_0[t_order:t_order_1]",
		"ds_1[t_order:t_order_0]", "ds_1[t_order:t_order_1]",
	}, unitStrings(route(t, r, stmt)))

	// OR 分支取并集
	stmt.Where = []statement.AndCondition{
		{predicate("t_order", "user_id", statement.OpEqual, 1), predicate("t_order", "order_id", statement.OpEqual, 1)},
		{predicate("t_order", "user_id", statement.OpEqual, 0), predicate("t_order", "order_id", statement.OpEqual, 0)},
	}
	require.Equal(t, []string{"ds_0[t_order:t_order_0]", "ds_1[t_order:t_order_1]"}, unitStrings(route(t, r, stmt)))
}

func TestRouteAlwaysFalse(t *testing.T) {
	r := newRule(t, "ds_0")
	stmt := newStatement(statement.KindSelect, "t_order")
	stmt.Where = []statement.AndCondition{{
		predicate("t_order", "user_id", statement.OpEqual, 1),
		predicate("t_order", "user_id", statement.OpEqual, 2),
	}}
	result := route(t, r, stmt)
	require.True(t, result.AlwaysFalse)
	require.Empty(t, result.Units)

	// 计算出的分片不在数据节点内
	narrow, err := rule.New(&rule.Configuration{
		DataSources: []string{"ds_0"},
		Tables: []rule.TableConfiguration{{LogicTable: "t_order", ActualDataNodes: "ds_0.t_order_0",
			TableStrategy: &rule.StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_${order_id % 2}"}}},
	})
	require.NoError(t, err)
	stmt.Where = []statement.AndCondition{{predicate("t_order", "order_id", statement.OpEqual, 1)}}
	result = route(t, narrow, stmt)
	require.True(t, result.AlwaysFalse)
}

func TestRouteBindingTables(t *testing.T) {
	r := newRule(t, "ds_0")
	stmt := newStatement(statement.KindSelect, "t_order", "t_order_item")
	stmt.Where = []statement.AndCondition{{predicate("t_order", "user_id", statement.OpEqual, 1)}}
	require.Equal(t, []string{
		"ds_1[t_order:t_order_0, t_order_item:t_order_item_0]",
		"ds_1[t_order:t_order_1, t_order_item:t_order_item_1]",
	}, unitStrings(route(t, r, stmt)))

	// 绑定表各自计算的结果与位置推导不一致时丢弃
	stmt.Where = []statement.AndCondition{{
		predicate("t_order", "order_id", statement.OpEqual, 1),
		predicate("t_order_item", "order_id", statement.OpEqual, 2),
	}}
	require.True(t, route(t, r, stmt).AlwaysFalse)
}

func TestRouteCartesian(t *testing.T) {
	r := newRule(t, "ds_0")
	stmt := newStatement(statement.KindSelect, "t_order", "t_log")
	stmt.Where = []statement.AndCondition{{predicate("t_order", "user_id", statement.OpEqual, 0)}}
	require.Equal(t, []string{
		"ds_0[t_order:t_order_0, t_log:t_log_0]",
		"ds_0[t_order:t_order_0, t_log:t_log_1]",
		"ds_0[t_order:t_order_1, t_log:t_log_0]",
		"ds_0[t_order:t_order_1, t_log:t_log_1]",
	}, unitStrings(route(t, r, stmt)))
}

func TestRouteBroadcastAndDefault(t *testing.T) {
	r := newRule(t, "ds_1")

	require.Equal(t, []string{"ds_1[t_config:t_config]"}, unitStrings(route(t, r, newStatement(statement.KindSelect, "t_config"))))
	require.Equal(t, []string{"ds_0[t_config:t_config]", "ds_1[t_config:t_config]"}, unitStrings(route(t, r, newStatement(statement.KindUpdate, "t_config"))))
	require.Equal(t, []string{"ds_1[t_user:t_user, t_address:t_address]"}, unitStrings(route(t, r, newStatement(statement.KindSelect, "t_user", "t_address"))))

	stmt := newStatement(statement.KindSelect, "t_order", "t_config")
	stmt.Where = []statement.AndCondition{{predicate("t_order", "user_id", statement.OpEqual, 1), predicate("t_order", "order_id", statement.OpEqual, 1)}}
	require.Equal(t, []string{"ds_1[t_order:t_order_1, t_config:t_config]"}, unitStrings(route(t, r, stmt)))

	_, err := New(r).Route(context.Background(), newStatement(statement.KindSelect, "t_order", "t_user"), nil)
	require.ErrorIs(t, err, ErrMixedRoute)

	noDefault := newRule(t, "")
	_, err = New(noDefault).Route(context.Background(), newStatement(statement.KindSelect, "t_order", "t_user"), nil)
	require.ErrorIs(t, err, rule.ErrTableRuleNotFound)

	require.Equal(t, []string{"ds_0[]"}, unitStrings(route(t, noDefault, newStatement(statement.KindSelect))))
	require.Equal(t, []string{"ds_0[]", "ds_1[]"}, unitStrings(route(t, noDefault, newStatement(statement.KindOther))))
}

func TestRouteDDL(t *testing.T) {
	r := newRule(t, "ds_0")

	stmt := newStatement(statement.KindCreateTable, "t_order")
	stmt.Where = []statement.AndCondition{{predicate("t_order", "user_id", statement.OpEqual, 1)}}
	require.Len(t, route(t, r, stmt).Units, 4)

	index := newStatement(statement.KindCreateIndex)
	index.Indexes = []statement.Index{{Name: statement.Identifier{Value: "order_index"}}}
	require.Equal(t, []string{
		"ds_0[t_order:t_order_0]", "ds_0[t_order:t_order_1]",
		"ds_1[t_order:t_order_0]", "ds_1[t_order:t_order_1]",
	}, unitStrings(route(t, r, index)))

	require.Len(t, route(t, r, newStatement(statement.KindDropTable, "t_config")).Units, 2)
	require.Equal(t, []string{"ds_0[t_user:t_user]"}, unitStrings(route(t, r, newStatement(statement.KindTruncateTable, "t_user"))))
}

func TestRouteHint(t *testing.T) {
	r := newRule(t, "ds_0")
	stmt := newStatement(statement.KindSelect, "t_hint")
	require.Len(t, route(t, r, stmt).Units, 2)

	ctx := WithDatabaseHint(context.Background(), "T_HINT", 3)
	require.Equal(t, []string{"ds_1[t_hint:t_hint]"}, unitStrings(routeContext(t, ctx, r, stmt)))

	// 子 context 追加的值不影响父 context
	child := WithDatabaseHint(ctx, "t_hint", 2)
	require.Len(t, routeContext(t, child, r, stmt).Units, 2)
	require.Len(t, routeContext(t, ctx, r, stmt).Units, 1)
}

func TestConditionNodes(t *testing.T) {
	r := newRule(t, "ds_0")
	stmt := newStatement(statement.KindInsert, "t_order")
	conditions := &ShardingConditions{Conditions: []ShardingCondition{
		{Values: []rule.ShardingValue{{Table: "t_order", Column: "user_id", Values: []interface{}{10}}, {Table: "t_order", Column: "order_id", Values: []interface{}{1}}}},
		{Values: []rule.ShardingValue{{Table: "t_order", Column: "user_id", Values: []interface{}{11}}, {Table: "t_order", Column: "order_id", Values: []interface{}{2}}}},
	}}
	result, err := New(r).Route(context.Background(), stmt, conditions)
	require.NoError(t, err)
	require.Equal(t, []string{"ds_0[t_order:t_order_1]", "ds_1[t_order:t_order_0]"}, unitStrings(result))
	require.Equal(t, [][]rule.DataNode{
		{{DataSourceName: "ds_0", TableName: "t_order_1"}},
		{{DataSourceName: "ds_1", TableName: "t_order_0"}},
	}, result.ConditionNodes)
	require.Equal(t, []string{"ds_0", "ds_1"}, result.DataSourceNames())
}

func TestShardingValueIdentity(t *testing.T) {
	for _, c := range []struct {
		name     string
		a, b     []interface{}
		expected []interface{}
	}{
		{"same integer of other width", []interface{}{int64(1)}, []interface{}{1}, []interface{}{int64(1)}},
		{"number never equals string", []interface{}{int64(1)}, []interface{}{"1"}, nil},
		{"bytes equal string", []interface{}{[]byte("a")}, []interface{}{"a"}, []interface{}{[]byte("a")}},
		{"float is not integer", []interface{}{1.5}, []interface{}{1}, nil},
	} {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, intersect(c.a, c.b))
		})
	}
	require.Equal(t, []interface{}{1, "1", uint8(2)}, distinct([]interface{}{1, "1", int64(1), uint8(2), 2}))
}
