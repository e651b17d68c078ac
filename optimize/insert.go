package optimize

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

var (
	ErrNotInsert                = errors.New("not an insert statement")
	ErrInsertWithoutValues      = errors.New("insert statement has no values")
	ErrColumnValueCountMismatch = errors.New("column count does not match value count")
	ErrInsertColumnsRequired    = errors.New("insert into a sharded or encrypted table needs an explicit column list")
	ErrUnencryptableValue       = errors.New("value of an encrypted column must be a literal or a parameter")
)

// SynthesizedValueMode how values the engine adds (generated keys, assisted query values)
// are written into the SQL
type SynthesizedValueMode int

const (
	// SynthesizedAuto bind as a new parameter when the row itself uses parameters, else literal
	SynthesizedAuto SynthesizedValueMode = iota
	SynthesizedLiteral
	SynthesizedParameter
)

type Options struct {
	SynthesizedValueMode SynthesizedValueMode
}

// ValueSource where an optimized value came from
type ValueSource int

const (
	SourceParameter ValueSource = iota
	SourceLiteral
	SourceExpression
	SourceSynthesized
)

// Value one cell of an optimized row
type Value struct {
	Column string
	Value  interface{}
	Source ValueSource
	// ParameterIndex the original marker index for SourceParameter, -1 otherwise
	ParameterIndex int
	// Text the value as written, for literals and expressions
	Text string
	// Substituted the value is the ciphertext of what was written
	Substituted bool
	// AsParameter rendered as "?" bound to Value
	AsParameter bool
}

// Row one inserted row after optimization
type Row struct {
	Values       []Value
	Condition    route.ShardingCondition
	GeneratedKey interface{}
}

// Parameters values bound by the row's markers, in order
func (r Row) Parameters() []interface{} {
	var params []interface{}
	for _, v := range r.Values {
		if v.AsParameter {
			params = append(params, v.Value)
		}
	}
	return params
}

// InsertResult rows with their final column list: the written columns, then the generated
// key column if it had to be added, then assisted query columns.
type InsertResult struct {
	Table              string
	Columns            []string
	AppendedColumns    []string
	GeneratedKeyColumn string
	Rows               []Row
}

// Conditions one sharding condition per row
func (r *InsertResult) Conditions() *route.ShardingConditions {
	conditions := &route.ShardingConditions{}
	for _, row := range r.Rows {
		conditions.Conditions = append(conditions.Conditions, row.Condition)
	}
	return conditions
}

// GeneratedKeys keys generated for the rows, in row order
func (r *InsertResult) GeneratedKeys() []interface{} {
	var keys []interface{}
	for _, row := range r.Rows {
		if row.GeneratedKey != nil {
			keys = append(keys, row.GeneratedKey)
		}
	}
	return keys
}

// Optimize expands an INSERT into per-row values and sharding conditions.
func Optimize(shardingRule *rule.ShardingRule, stmt *statement.Statement, params []interface{}, opts Options) (*InsertResult, error) {
	if stmt == nil || stmt.Kind != statement.KindInsert || stmt.Insert == nil {
		return nil, ErrNotInsert
	}
	insert := stmt.Insert
	table := insert.Table.Name.Value
	columns := insert.ColumnNames()
	rows := insert.RowValues()
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrInsertWithoutValues, "table %s", table)
	}

	encryptRule := shardingRule.EncryptRule()
	keyColumn, hasKey := shardingRule.FindGenerateKeyColumn(table)
	if len(columns) == 0 {
		if shardingRule.IsShardingTable(table) || hasKey || encryptRule.IsEncryptTable(table) {
			return nil, errors.Wrapf(ErrInsertColumnsRequired, "table %s", table)
		}
	}

	result := &InsertResult{Table: table, Columns: append([]string(nil), columns...)}
	generate := hasKey && len(columns) > 0 && !containsFold(columns, keyColumn)
	if generate {
		result.GeneratedKeyColumn = keyColumn
		result.AppendedColumns = append(result.AppendedColumns, keyColumn)
	}
	var assisted []rule.EncryptColumn
	for _, column := range columns {
		if c, ok := encryptRule.FindColumn(table, column); ok && c.AssistedQueryColumn != "" {
			assisted = append(assisted, c)
			result.AppendedColumns = append(result.AppendedColumns, c.AssistedQueryColumn)
		}
	}
	result.Columns = append(result.Columns, result.AppendedColumns...)

	for i, exprs := range rows {
		if len(columns) > 0 && len(exprs) != len(columns) {
			return nil, errors.Wrapf(ErrColumnValueCountMismatch, "row %d has %d values for %d columns", i+1, len(exprs), len(columns))
		}
		row, err := optimizeRow(shardingRule, table, columns, exprs, params)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		synthesizeAsParameter := opts.SynthesizedValueMode == SynthesizedParameter ||
			(opts.SynthesizedValueMode == SynthesizedAuto && row.usesParameters())
		if generate {
			key, err := shardingRule.GenerateKey(table)
			if err != nil {
				return nil, err
			}
			row.GeneratedKey = key
			row.Values = append(row.Values, Value{Column: keyColumn, Value: key, Source: SourceSynthesized, ParameterIndex: -1, AsParameter: synthesizeAsParameter})
			if shardingRule.IsShardingColumn(keyColumn, table) {
				row.Condition.Values = append(row.Condition.Values, rule.ShardingValue{Table: table, Column: keyColumn, Values: []interface{}{key}})
			}
		}
		for _, c := range assisted {
			plain := row.plain[strings.ToLower(c.LogicColumn)]
			value, err := c.AssistedValue(plain)
			if err != nil {
				return nil, err
			}
			row.Values = append(row.Values, Value{Column: c.AssistedQueryColumn, Value: value, Source: SourceSynthesized, ParameterIndex: -1, AsParameter: synthesizeAsParameter})
		}
		result.Rows = append(result.Rows, row.Row)
	}
	return result, nil
}

type optimizingRow struct {
	Row
	// plaintext values by lower-cased column, before encryption
	plain map[string]interface{}
}

func (r *optimizingRow) usesParameters() bool {
	for _, v := range r.Values {
		if v.Source == SourceParameter {
			return true
		}
	}
	return false
}

func optimizeRow(shardingRule *rule.ShardingRule, table string, columns []string, exprs []statement.Expr, params []interface{}) (*optimizingRow, error) {
	row := &optimizingRow{plain: map[string]interface{}{}}
	encryptRule := shardingRule.EncryptRule()
	for j, expr := range exprs {
		column := ""
		if j < len(columns) {
			column = columns[j]
		}
		value := Value{Column: column, ParameterIndex: -1, Text: expr.Text}
		known := true
		switch expr.Kind {
		case statement.ExprParameter:
			v, _, err := expr.Resolve(params)
			if err != nil {
				return nil, err
			}
			value.Value, value.Source, value.ParameterIndex, value.AsParameter = v, SourceParameter, expr.ParameterIndex, true
		case statement.ExprLiteral:
			value.Value, value.Source = expr.Value, SourceLiteral
		default:
			value.Source, known = SourceExpression, false
		}
		if column != "" {
			row.plain[strings.ToLower(column)] = value.Value
			if c, ok := encryptRule.FindColumn(table, column); ok {
				if !known {
					return nil, errors.Wrapf(ErrUnencryptableValue, "column %s", column)
				}
				cipher, err := c.Encrypt(value.Value)
				if err != nil {
					return nil, err
				}
				value.Value, value.Substituted = cipher, true
			}
			if known && shardingRule.IsShardingColumn(column, table) {
				row.Condition.Values = append(row.Condition.Values, rule.ShardingValue{Table: table, Column: column, Values: []interface{}{row.plain[strings.ToLower(column)]}})
			}
		}
		row.Values = append(row.Values, value)
	}
	return row, nil
}

func containsFold(values []string, value string) bool {
	for _, each := range values {
		if strings.EqualFold(each, value) {
			return true
		}
	}
	return false
}
