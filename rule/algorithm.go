package rule

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/util/str"
)

// PreciseValue one value of an = or IN predicate
type PreciseValue struct {
	Table  string
	Column string
	Value  interface{}
}

// RangeValue a BETWEEN predicate
type RangeValue struct {
	Table  string
	Column string
	Range  Range
}

// ComplexValues every sharding column value the statement carries for a complex strategy
type ComplexValues struct {
	Table  string
	Values map[string][]interface{}
	Ranges map[string]Range
}

type PreciseAlgorithm interface {
	DoPreciseSharding(available []string, value PreciseValue) (string, error)
}

type RangeAlgorithm interface {
	DoRangeSharding(available []string, value RangeValue) ([]string, error)
}

type ComplexKeysAlgorithm interface {
	DoComplexSharding(available []string, values ComplexValues) ([]string, error)
}

type HintAlgorithm interface {
	DoHintSharding(available []string, values []interface{}) ([]string, error)
}

// InlineAlgorithm renders the target name from an inline expression, e.g. "t_order_${order_id % 2}"
type InlineAlgorithm struct {
	column     string
	expression *InlineExpression
}

func NewInlineAlgorithm(column, expression string) (*InlineAlgorithm, error) {
	expr, err := ParseInline(expression)
	if err != nil {
		return nil, err
	}
	return &InlineAlgorithm{column: column, expression: expr}, nil
}

func (a *InlineAlgorithm) DoPreciseSharding(_ []string, value PreciseValue) (string, error) {
	return a.expression.Evaluate(map[string]interface{}{a.column: value.Value})
}

// ModAlgorithm hash mod sharding: integers are taken as is, other values by their Java hash code.
// The result n selects the available target whose name ends with "_n" (or with n).
type ModAlgorithm struct {
	Count int64
}

func (a ModAlgorithm) DoPreciseSharding(available []string, value PreciseValue) (string, error) {
	if a.Count <= 0 {
		return "", errors.Wrap(ErrInvalidStrategy, "mod algorithm needs a positive count")
	}
	n, err := toInt64(value.Value)
	if err != nil {
		n = int64(str.Hashcode(formatValue(value.Value)))
	}
	index := n % a.Count
	if index < 0 {
		index = -index
	}
	return a.target(available, index), nil
}

func (a ModAlgorithm) DoRangeSharding(available []string, value RangeValue) ([]string, error) {
	lower, err := toInt64(value.Range.Lower)
	if err != nil {
		return copyStrings(available), nil
	}
	upper, err := toInt64(value.Range.Upper)
	if err != nil {
		return copyStrings(available), nil
	}
	if upper-lower+1 >= a.Count {
		return copyStrings(available), nil
	}
	var targets []string
	for i := lower; i <= upper; i++ {
		index := i % a.Count
		if index < 0 {
			index = -index
		}
		targets = append(targets, a.target(available, index))
	}
	return targets, nil
}

func (a ModAlgorithm) target(available []string, index int64) string {
	suffix := strconv.FormatInt(index, 10)
	for _, each := range available {
		if strings.HasSuffix(each, "_"+suffix) {
			return each
		}
	}
	for _, each := range available {
		if strings.HasSuffix(each, suffix) {
			return each
		}
	}
	return suffix
}

// ComplexInlineAlgorithm evaluates one expression over the cartesian product of its columns' values
type ComplexInlineAlgorithm struct {
	columns    []string
	expression *InlineExpression
}

func NewComplexInlineAlgorithm(columns []string, expression string) (*ComplexInlineAlgorithm, error) {
	expr, err := ParseInline(expression)
	if err != nil {
		return nil, err
	}
	return &ComplexInlineAlgorithm{columns: columns, expression: expr}, nil
}

func (a *ComplexInlineAlgorithm) DoComplexSharding(available []string, values ComplexValues) ([]string, error) {
	combinations := []map[string]interface{}{{}}
	for _, column := range a.columns {
		columnValues, ok := lookupFold(values.Values, column)
		if !ok {
			// 缺少任一列时无法计算，全路由
			return copyStrings(available), nil
		}
		next := make([]map[string]interface{}, 0, len(combinations)*len(columnValues))
		for _, combination := range combinations {
			for _, v := range columnValues {
				params := make(map[string]interface{}, len(combination)+1)
				for k, pv := range combination {
					params[k] = pv
				}
				params[column] = v
				next = append(next, params)
			}
		}
		combinations = next
	}
	targets := make([]string, 0, len(combinations))
	for _, params := range combinations {
		target, err := a.expression.Evaluate(params)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// HintInlineAlgorithm evaluates an expression over the variable "value" for each hint value
type HintInlineAlgorithm struct {
	expression *InlineExpression
}

func NewHintInlineAlgorithm(expression string) (*HintInlineAlgorithm, error) {
	expr, err := ParseInline(expression)
	if err != nil {
		return nil, err
	}
	return &HintInlineAlgorithm{expression: expr}, nil
}

func (a *HintInlineAlgorithm) DoHintSharding(_ []string, values []interface{}) ([]string, error) {
	targets := make([]string, 0, len(values))
	for _, v := range values {
		target, err := a.expression.Evaluate(map[string]interface{}{"value": v})
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func lookupFold(values map[string][]interface{}, column string) ([]interface{}, bool) {
	if v, ok := values[column]; ok {
		return v, true
	}
	for k, v := range values {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}
