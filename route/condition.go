package route

import (
	"context"
	"fmt"
	"strings"

	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// ShardingCondition sharding values one branch of the WHERE clause (or one inserted row) fixes
type ShardingCondition struct {
	Values []rule.ShardingValue
}

// ValuesOf the values of a logic table
func (c ShardingCondition) ValuesOf(logicTable string) []rule.ShardingValue {
	var result []rule.ShardingValue
	for _, each := range c.Values {
		if strings.EqualFold(each.Table, logicTable) {
			result = append(result, each)
		}
	}
	return result
}

// ShardingConditions no condition means every node is a candidate; AlwaysFalse means none is
type ShardingConditions struct {
	Conditions  []ShardingCondition
	AlwaysFalse bool
}

// NewConditions extracts the sharding values of a statement's WHERE clause, one condition
// per OR branch. Branches whose predicates contradict each other are dropped; when every
// branch is dropped the statement can match nothing.
func NewConditions(shardingRule *rule.ShardingRule, stmt *statement.Statement, params []interface{}) (*ShardingConditions, error) {
	result := &ShardingConditions{}
	if len(stmt.Where) == 0 {
		return result, nil
	}
	tables := stmt.TableNames()
	for _, and := range stmt.Where {
		condition, contradicted, err := newCondition(shardingRule, tables, and, params)
		if err != nil {
			return nil, err
		}
		if !contradicted {
			result.Conditions = append(result.Conditions, condition)
		}
	}
	result.AlwaysFalse = len(result.Conditions) == 0
	return result, nil
}

func newCondition(shardingRule *rule.ShardingRule, tables []string, and statement.AndCondition, params []interface{}) (ShardingCondition, bool, error) {
	var condition ShardingCondition
	for _, predicate := range and {
		for _, table := range candidateTables(tables, predicate.Table) {
			if !shardingRule.IsShardingColumn(predicate.Column, table) {
				continue
			}
			value, known, err := shardingValue(table, predicate, params)
			if err != nil {
				return condition, false, err
			}
			if !known {
				continue
			}
			if !merge(&condition, value) {
				return condition, true, nil
			}
		}
	}
	return condition, false, nil
}

func candidateTables(tables []string, owner string) []string {
	if owner == "" {
		return tables
	}
	for _, each := range tables {
		if strings.EqualFold(each, owner) {
			return []string{each}
		}
	}
	return nil
}

func shardingValue(table string, predicate statement.Condition, params []interface{}) (rule.ShardingValue, bool, error) {
	value := rule.ShardingValue{Table: table, Column: predicate.Column}
	resolved := make([]interface{}, 0, len(predicate.Values))
	for _, expr := range predicate.Values {
		v, known, err := expr.Resolve(params)
		if err != nil || !known {
			return value, false, err
		}
		resolved = append(resolved, v)
	}
	switch predicate.Operator {
	case statement.OpBetween:
		if len(resolved) != 2 {
			return value, false, nil
		}
		value.Range = &rule.Range{Lower: resolved[0], Upper: resolved[1]}
	default:
		value.Values = distinct(resolved)
	}
	return value, true, nil
}

// merge ANDs value into the condition; false when the result can match nothing
func merge(condition *ShardingCondition, value rule.ShardingValue) bool {
	for i, each := range condition.Values {
		if !strings.EqualFold(each.Table, value.Table) || !strings.EqualFold(each.Column, value.Column) {
			continue
		}
		switch {
		case each.Range != nil && value.Range == nil:
			condition.Values[i] = value
		case each.Range == nil && value.Range == nil:
			condition.Values[i].Values = intersect(each.Values, value.Values)
			return len(condition.Values[i].Values) > 0
		}
		return true
	}
	condition.Values = append(condition.Values, value)
	return true
}

// valueKey identity of a sharding value: integers of any width compare by value, a
// number never equals a string
func valueKey(v interface{}) string {
	switch n := v.(type) {
	case []byte:
		return "string:" + string(n)
	case int:
		return fmt.Sprintf("int:%d", n)
	case int8:
		return fmt.Sprintf("int:%d", n)
	case int16:
		return fmt.Sprintf("int:%d", n)
	case int32:
		return fmt.Sprintf("int:%d", n)
	case int64:
		return fmt.Sprintf("int:%d", n)
	case uint:
		return fmt.Sprintf("int:%d", n)
	case uint8:
		return fmt.Sprintf("int:%d", n)
	case uint16:
		return fmt.Sprintf("int:%d", n)
	case uint32:
		return fmt.Sprintf("int:%d", n)
	case uint64:
		return fmt.Sprintf("int:%d", n)
	case float32:
		return fmt.Sprintf("float64:%v", float64(n))
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func distinct(values []interface{}) []interface{} {
	seen := map[string]struct{}{}
	result := make([]interface{}, 0, len(values))
	for _, v := range values {
		key := valueKey(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, v)
	}
	return result
}

func intersect(a, b []interface{}) []interface{} {
	keys := map[string]struct{}{}
	for _, v := range b {
		keys[valueKey(v)] = struct{}{}
	}
	var result []interface{}
	for _, v := range a {
		if _, ok := keys[valueKey(v)]; ok {
			result = append(result, v)
		}
	}
	return result
}

type hintKey struct{}

type hints struct {
	database map[string][]interface{}
	table    map[string][]interface{}
}

func hintsFrom(ctx context.Context) hints {
	h, _ := ctx.Value(hintKey{}).(hints)
	copied := hints{database: map[string][]interface{}{}, table: map[string][]interface{}{}}
	for k, v := range h.database {
		copied.database[k] = v
	}
	for k, v := range h.table {
		copied.table[k] = v
	}
	return copied
}

// WithDatabaseHint 预设分库值，供 hint 策略使用
func WithDatabaseHint(ctx context.Context, logicTable string, values ...interface{}) context.Context {
	h := hintsFrom(ctx)
	key := strings.ToLower(logicTable)
	h.database[key] = append(append([]interface{}(nil), h.database[key]...), values...)
	return context.WithValue(ctx, hintKey{}, h)
}

// WithTableHint 预设分表值，供 hint 策略使用
func WithTableHint(ctx context.Context, logicTable string, values ...interface{}) context.Context {
	h := hintsFrom(ctx)
	key := strings.ToLower(logicTable)
	h.table[key] = append(append([]interface{}(nil), h.table[key]...), values...)
	return context.WithValue(ctx, hintKey{}, h)
}

func hintValues(ctx context.Context, logicTable string, database bool) []rule.ShardingValue {
	if ctx == nil {
		return nil
	}
	h, ok := ctx.Value(hintKey{}).(hints)
	if !ok {
		return nil
	}
	source := h.table
	if database {
		source = h.database
	}
	values, ok := source[strings.ToLower(logicTable)]
	if !ok || len(values) == 0 {
		return nil
	}
	return []rule.ShardingValue{{Table: logicTable, Values: values}}
}
