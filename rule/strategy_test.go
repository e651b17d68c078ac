package rule

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInlineExpressionExpand(t *testing.T) {
	tests := []struct {
		expr   string
		expect []string
	}{
		{"ds_${0..1}.t_order_${0..1}", []string{"ds_0.t_order_0", "ds_0.t_order_1", "ds_1.t_order_0", "ds_1.t_order_1"}},
		{"ds_0.t_user, ds_1.t_user", []string{"ds_0.t_user", "ds_1.t_user"}},
		{"t_${['a', 'b']}_$->{[0, 1]}", []string{"t_a_0", "t_a_1", "t_b_0", "t_b_1"}},
		{"t_order_${1 + 2}", []string{"t_order_3"}},
		{"t_order", []string{"t_order"}},
	}
	for _, tt := range tests {
		expr, err := ParseInline(tt.expr)
		require.NoError(t, err, tt.expr)
		values, err := expr.Expand()
		require.NoError(t, err, tt.expr)
		require.Equal(t, tt.expect, values, tt.expr)
	}

	_, err := ParseInline("t_${0..1")
	require.ErrorIs(t, err, ErrInlineExpression)
	_, err = ParseInline("t_${3..1}")
	require.ErrorIs(t, err, ErrInlineExpression)
}

func TestInlineExpressionEvaluate(t *testing.T) {
	expr, err := ParseInline("t_order_${order_id % 4}")
	require.NoError(t, err)
	require.Equal(t, []string{"order_id"}, expr.Variables())

	for value, expect := range map[interface{}]string{int64(5): "t_order_1", 8: "t_order_0", int32(7): "t_order_3"} {
		target, err := expr.Evaluate(map[string]interface{}{"order_id": value})
		require.NoError(t, err)
		require.Equal(t, expect, target)
	}

	expr, err = ParseInline("t_user_${mod(hashcode(name), 2)}")
	require.NoError(t, err)
	target, err := expr.Evaluate(map[string]interface{}{"name": "b"})
	require.NoError(t, err)
	// "b".hashCode() == 98
	require.Equal(t, "t_user_0", target)

	expr, err = ParseInline("${parse('ds_', value)}")
	require.NoError(t, err)
	target, err = expr.Evaluate(map[string]interface{}{"value": 1})
	require.NoError(t, err)
	require.Equal(t, "ds_1", target)
}

func TestStandardStrategy(t *testing.T) {
	algorithm, err := NewInlineAlgorithm("order_id", "t_order_${order_id % 2}")
	require.NoError(t, err)
	strategy, err := NewStandardStrategy("order_id", algorithm, nil)
	require.NoError(t, err)
	available := []string{"t_order_0", "t_order_1"}

	targets, err := strategy.DoSharding(available, []ShardingValue{{Table: "t_order", Column: "ORDER_ID", Values: []interface{}{1, 3, 4}}})
	require.NoError(t, err)
	require.Equal(t, []string{"t_order_1", "t_order_0"}, targets)

	targets, err = strategy.DoSharding(available, []ShardingValue{{Table: "t_order", Column: "user_id", Values: []interface{}{1}}})
	require.NoError(t, err)
	require.Equal(t, available, targets)

	targets, err = strategy.DoSharding(available, []ShardingValue{{Table: "t_order", Column: "order_id", Range: &Range{Lower: 1, Upper: 5}}})
	require.NoError(t, err)
	require.Equal(t, available, targets)

	// 计算结果不在可用目标中时被丢弃
	targets, err = strategy.DoSharding([]string{"t_order_0"}, []ShardingValue{{Table: "t_order", Column: "order_id", Values: []interface{}{1}}})
	require.NoError(t, err)
	require.Empty(t, targets)

	_, err = NewStandardStrategy("", algorithm, nil)
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestModAlgorithm(t *testing.T) {
	strategy, err := NewStandardStrategy("id", ModAlgorithm{Count: 4}, ModAlgorithm{Count: 4})
	require.NoError(t, err)
	available := []string{"t_0", "t_1", "t_2", "t_3"}

	targets, err := strategy.DoSharding(available, []ShardingValue{{Column: "id", Values: []interface{}{6, "b"}}})
	require.NoError(t, err)
	require.Equal(t, []string{"t_2"}, targets)

	targets, err = strategy.DoSharding(available, []ShardingValue{{Column: "id", Range: &Range{Lower: 1, Upper: 2}}})
	require.NoError(t, err)
	require.Equal(t, []string{"t_1", "t_2"}, targets)

	targets, err = strategy.DoSharding(available, []ShardingValue{{Column: "id", Range: &Range{Lower: 1, Upper: 10}}})
	require.NoError(t, err)
	require.Equal(t, available, targets)
}

func TestComplexStrategy(t *testing.T) {
	algorithm, err := NewComplexInlineAlgorithm([]string{"user_id", "order_id"}, "t_order_${(user_id + order_id) % 2}")
	require.NoError(t, err)
	strategy, err := NewComplexStrategy([]string{"user_id", "order_id"}, algorithm)
	require.NoError(t, err)
	available := []string{"t_order_0", "t_order_1"}

	targets, err := strategy.DoSharding(available, []ShardingValue{
		{Column: "user_id", Values: []interface{}{1}},
		{Column: "order_id", Values: []interface{}{1}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"t_order_0"}, targets)

	targets, err = strategy.DoSharding(available, []ShardingValue{{Column: "user_id", Values: []interface{}{1}}})
	require.NoError(t, err)
	require.Equal(t, available, targets)

	targets, err = strategy.DoSharding(available, nil)
	require.NoError(t, err)
	require.Equal(t, available, targets)
}

func TestHintStrategy(t *testing.T) {
	algorithm, err := NewHintInlineAlgorithm("ds_${value}")
	require.NoError(t, err)
	strategy, err := NewHintStrategy(algorithm)
	require.NoError(t, err)
	require.True(t, IsHintStrategy(strategy))
	require.False(t, IsHintStrategy(NoneStrategy{}))

	targets, err := strategy.DoSharding([]string{"ds_0", "ds_1"}, []ShardingValue{{Values: []interface{}{1}}})
	require.NoError(t, err)
	require.Equal(t, []string{"ds_1"}, targets)

	targets, err = strategy.DoSharding([]string{"ds_0", "ds_1"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"ds_0", "ds_1"}, targets)
}

func TestStrategyConfigurationInference(t *testing.T) {
	o := newOptions(nil)

	s, err := o.strategy(&StrategyConfiguration{})
	require.NoError(t, err)
	require.IsType(t, NoneStrategy{}, s)

	s, err = o.strategy(&StrategyConfiguration{ShardingColumn: "id", Algorithm: "MOD", Props: map[string]string{"count": "2"}})
	require.NoError(t, err)
	standard := s.(*StandardStrategy)
	require.NotNil(t, standard.Range)

	s, err = o.strategy(&StrategyConfiguration{ShardingColumns: "a, b", AlgorithmExpression: "t_${a + b}"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, s.ShardingColumns())

	s, err = o.strategy(&StrategyConfiguration{AlgorithmExpression: "ds_${value}"})
	require.NoError(t, err)
	require.True(t, IsHintStrategy(s))

	_, err = o.strategy(&StrategyConfiguration{ShardingColumn: "id", Algorithm: "custom"})
	require.ErrorIs(t, err, ErrAlgorithmNotFound)
	_, err = o.strategy(&StrategyConfiguration{Type: "unknown"})
	require.ErrorIs(t, err, ErrInvalidStrategy)
}
