package optimize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

type prefixEncryptor struct{}

func (prefixEncryptor) Encrypt(_ string, plain interface{}) (interface{}, error) {
	return fmt.Sprintf("enc:%v", plain), nil
}

func (prefixEncryptor) AssistedEncrypt(_ string, plain interface{}) (interface{}, error) {
	return fmt.Sprintf("digest:%v", plain), nil
}

func newRule(t *testing.T) *rule.ShardingRule {
	r, err := rule.New(&rule.Configuration{
		DataSources:       []string{"ds_0", "ds_1"},
		DefaultDataSource: "ds_0",
		Tables: []rule.TableConfiguration{{
			LogicTable:       "t_order",
			ActualDataNodes:  "ds_${0..1}.t_order_${0..1}",
			DatabaseStrategy: &rule.StrategyConfiguration{ShardingColumn: "user_id", AlgorithmExpression: "ds_${user_id % 2}"},
			TableStrategy:    &rule.StrategyConfiguration{ShardingColumn: "order_id", AlgorithmExpression: "t_order_${order_id % 2}"},
			KeyGenerator:     &rule.KeyGeneratorConfiguration{Column: "order_id", Type: rule.KeyGeneratorIncrement},
		}},
		Encrypt: &rule.EncryptConfiguration{Tables: map[string]rule.EncryptTableConfiguration{
			"t_user": {Columns: map[string]rule.EncryptColumnConfiguration{
				"phone": {CipherColumn: "phone_cipher", AssistedQueryColumn: "phone_digest", Encryptor: "prefix"},
			}},
		}},
	}, rule.WithEncryptor("prefix", prefixEncryptor{}))
	require.NoError(t, err)
	return r
}

func param(index int) statement.Expr {
	return statement.Expr{Kind: statement.ExprParameter, ParameterIndex: index, Text: "?"}
}

func literal(v interface{}, text string) statement.Expr {
	return statement.Expr{Kind: statement.ExprLiteral, Value: v, Text: text}
}

func insertStatement(table string, columns []string, rows ...[]statement.Expr) *statement.Statement {
	clause := &statement.InsertClause{Table: statement.Table{Name: statement.Identifier{Value: table}}, ColumnsEnd: -1}
	for _, c := range columns {
		clause.Columns = append(clause.Columns, statement.Identifier{Value: c})
	}
	for _, r := range rows {
		clause.Rows = append(clause.Rows, statement.InsertRow{Values: r})
	}
	return &statement.Statement{Kind: statement.KindInsert, Tables: []statement.Table{clause.Table}, Insert: clause}
}

func TestOptimizeGeneratesKeys(t *testing.T) {
	r := newRule(t)
	stmt := insertStatement("t_order", []string{"user_id", "status"},
		[]statement.Expr{param(0), param(1)},
		[]statement.Expr{param(2), param(3)})

	result, err := Optimize(r, stmt, []interface{}{10, "init", 11, "init"}, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"user_id", "status", "order_id"}, result.Columns)
	require.Equal(t, []string{"order_id"}, result.AppendedColumns)
	require.Equal(t, "order_id", result.GeneratedKeyColumn)
	require.Len(t, result.Rows, 2)

	require.Equal(t, []interface{}{10, "init", int64(1)}, result.Rows[0].Parameters())
	require.Equal(t, []interface{}{11, "init", int64(2)}, result.Rows[1].Parameters())
	require.Equal(t, []interface{}{int64(1), int64(2)}, result.GeneratedKeys())

	for i, row := range result.Rows {
		require.Len(t, row.Condition.Values, 2, "row %d", i)
		require.Equal(t, "user_id", row.Condition.Values[0].Column)
		require.Equal(t, "order_id", row.Condition.Values[1].Column)
	}
	require.Equal(t, []interface{}{11}, result.Rows[1].Condition.Values[0].Values)
	require.Len(t, result.Conditions().Conditions, 2)
}

func TestOptimizeLiteralRows(t *testing.T) {
	r := newRule(t)
	stmt := insertStatement("t_order", []string{"user_id", "status"},
		[]statement.Expr{literal(int64(10), "10"), literal("init", "'init'")})

	result, err := Optimize(r, stmt, nil, Options{})
	require.NoError(t, err)
	key := result.Rows[0].Values[2]
	require.Equal(t, SourceSynthesized, key.Source)
	require.False(t, key.AsParameter)
	require.Empty(t, result.Rows[0].Parameters())

	// 显式要求参数绑定
	result, err = Optimize(r, stmt, nil, Options{SynthesizedValueMode: SynthesizedParameter})
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(2)}, result.Rows[0].Parameters())
}

func TestOptimizeKeepsExplicitKey(t *testing.T) {
	r := newRule(t)
	stmt := insertStatement("t_order", []string{"order_id", "user_id"},
		[]statement.Expr{param(0), literal(int64(3), "3")})

	result, err := Optimize(r, stmt, []interface{}{100}, Options{SynthesizedValueMode: SynthesizedLiteral})
	require.NoError(t, err)
	require.Equal(t, []string{"order_id", "user_id"}, result.Columns)
	require.Empty(t, result.GeneratedKeyColumn)
	require.Nil(t, result.Rows[0].GeneratedKey)
	require.Equal(t, 0, result.Rows[0].Values[0].ParameterIndex)
	require.Equal(t, -1, result.Rows[0].Values[1].ParameterIndex)
	require.Len(t, result.Rows[0].Condition.Values, 2)
}

func TestOptimizeExpressionIsNotShardingValue(t *testing.T) {
	r := newRule(t)
	stmt := insertStatement("t_order", []string{"user_id", "order_id"},
		[]statement.Expr{{Kind: statement.ExprOther, Text: "uuid_short()"}, literal(int64(4), "4")})

	result, err := Optimize(r, stmt, nil, Options{})
	require.NoError(t, err)
	require.Len(t, result.Rows[0].Condition.Values, 1)
	require.Equal(t, SourceExpression, result.Rows[0].Values[0].Source)
}

func TestOptimizeEncrypt(t *testing.T) {
	r := newRule(t)
	stmt := insertStatement("t_user", []string{"name", "phone"},
		[]statement.Expr{param(0), param(1)})

	result, err := Optimize(r, stmt, []interface{}{"tom", "138"}, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"name", "phone", "phone_digest"}, result.Columns)
	require.Equal(t, []interface{}{"tom", "enc:138", "digest:138"}, result.Rows[0].Parameters())
	require.True(t, result.Rows[0].Values[1].Substituted)

	stmt = insertStatement("t_user", []string{"name", "phone"},
		[]statement.Expr{param(0), {Kind: statement.ExprOther, Text: "concat('1', '2')"}})
	_, err = Optimize(r, stmt, []interface{}{"tom"}, Options{})
	require.ErrorIs(t, err, ErrUnencryptableValue)
}

func TestOptimizeErrors(t *testing.T) {
	r := newRule(t)

	_, err := Optimize(r, insertStatement("t_order", []string{"user_id", "status"}, []statement.Expr{param(0)}), []interface{}{1}, Options{})
	require.ErrorIs(t, err, ErrColumnValueCountMismatch)

	_, err = Optimize(r, insertStatement("t_order", []string{"user_id"}), nil, Options{})
	require.ErrorIs(t, err, ErrInsertWithoutValues)

	_, err = Optimize(r, insertStatement("t_order", nil, []statement.Expr{param(0)}), []interface{}{1}, Options{})
	require.ErrorIs(t, err, ErrInsertColumnsRequired)

	_, err = Optimize(r, &statement.Statement{Kind: statement.KindSelect}, nil, Options{})
	require.ErrorIs(t, err, ErrNotInsert)

	// 参数不足
	_, err = Optimize(r, insertStatement("t_order", []string{"user_id"}, []statement.Expr{param(1)}), []interface{}{1}, Options{})
	require.Error(t, err)
}

func TestOptimizeUnshardedWithoutColumns(t *testing.T) {
	r := newRule(t)
	result, err := Optimize(r, insertStatement("t_other", nil, []statement.Expr{literal(int64(1), "1"), param(0)}), []interface{}{"x"}, Options{})
	require.NoError(t, err)
	require.Empty(t, result.Columns)
	require.Equal(t, []interface{}{"x"}, result.Rows[0].Parameters())
	require.Empty(t, result.Rows[0].Condition.Values)
}
