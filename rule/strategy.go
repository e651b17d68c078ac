package rule

import (
	"strings"

	"github.com/pkg/errors"
)

// Range a BETWEEN bound, both ends inclusive
type Range struct {
	Lower interface{}
	Upper interface{}
}

// ShardingValue the values one condition carries for a column of a logic table.
// Hint values are carried with an empty Column.
type ShardingValue struct {
	Table  string
	Column string
	Values []interface{}
	Range  *Range
}

// ShardingStrategy decides which of the available targets (data source names or
// actual table names) a set of sharding values lands on.
type ShardingStrategy interface {
	ShardingColumns() []string
	DoSharding(available []string, values []ShardingValue) ([]string, error)
}

// NoneStrategy never narrows
type NoneStrategy struct{}

func (NoneStrategy) ShardingColumns() []string { return nil }

func (NoneStrategy) DoSharding(available []string, _ []ShardingValue) ([]string, error) {
	return copyStrings(available), nil
}

// StandardStrategy single column, precise algorithm for = and IN, optional range algorithm for BETWEEN.
type StandardStrategy struct {
	Column  string
	Precise PreciseAlgorithm
	Range   RangeAlgorithm
}

func NewStandardStrategy(column string, precise PreciseAlgorithm, ranged RangeAlgorithm) (*StandardStrategy, error) {
	if column == "" || precise == nil {
		return nil, errors.Wrap(ErrInvalidStrategy, "standard strategy needs a column and a precise algorithm")
	}
	return &StandardStrategy{Column: column, Precise: precise, Range: ranged}, nil
}

func (s *StandardStrategy) ShardingColumns() []string { return []string{s.Column} }

func (s *StandardStrategy) DoSharding(available []string, values []ShardingValue) ([]string, error) {
	value, ok := findShardingValue(values, s.Column)
	if !ok {
		return copyStrings(available), nil
	}
	if value.Range != nil {
		if s.Range == nil {
			return copyStrings(available), nil
		}
		targets, err := s.Range.DoRangeSharding(available, RangeValue{Table: value.Table, Column: s.Column, Range: *value.Range})
		if err != nil {
			return nil, err
		}
		return retainAvailable(available, targets), nil
	}
	targets := make([]string, 0, len(value.Values))
	for _, each := range value.Values {
		target, err := s.Precise.DoPreciseSharding(available, PreciseValue{Table: value.Table, Column: s.Column, Value: each})
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return retainAvailable(available, targets), nil
}

// ComplexStrategy several columns handed to one algorithm together
type ComplexStrategy struct {
	Columns   []string
	Algorithm ComplexKeysAlgorithm
}

func NewComplexStrategy(columns []string, algorithm ComplexKeysAlgorithm) (*ComplexStrategy, error) {
	if len(columns) == 0 || algorithm == nil {
		return nil, errors.Wrap(ErrInvalidStrategy, "complex strategy needs columns and an algorithm")
	}
	return &ComplexStrategy{Columns: columns, Algorithm: algorithm}, nil
}

func (s *ComplexStrategy) ShardingColumns() []string { return copyStrings(s.Columns) }

func (s *ComplexStrategy) DoSharding(available []string, values []ShardingValue) ([]string, error) {
	keys := ComplexValues{Values: map[string][]interface{}{}, Ranges: map[string]Range{}}
	for _, column := range s.Columns {
		value, ok := findShardingValue(values, column)
		if !ok {
			continue
		}
		keys.Table = value.Table
		if value.Range != nil {
			keys.Ranges[column] = *value.Range
		} else {
			keys.Values[column] = value.Values
		}
	}
	if len(keys.Values) == 0 && len(keys.Ranges) == 0 {
		return copyStrings(available), nil
	}
	targets, err := s.Algorithm.DoComplexSharding(available, keys)
	if err != nil {
		return nil, err
	}
	return retainAvailable(available, targets), nil
}

// HintStrategy values come from hints instead of the statement
type HintStrategy struct {
	Algorithm HintAlgorithm
}

func NewHintStrategy(algorithm HintAlgorithm) (*HintStrategy, error) {
	if algorithm == nil {
		return nil, errors.Wrap(ErrInvalidStrategy, "hint strategy needs an algorithm")
	}
	return &HintStrategy{Algorithm: algorithm}, nil
}

func (s *HintStrategy) ShardingColumns() []string { return nil }

func (s *HintStrategy) DoSharding(available []string, values []ShardingValue) ([]string, error) {
	var hints []interface{}
	for _, each := range values {
		hints = append(hints, each.Values...)
	}
	if len(hints) == 0 {
		return copyStrings(available), nil
	}
	targets, err := s.Algorithm.DoHintSharding(available, hints)
	if err != nil {
		return nil, err
	}
	return retainAvailable(available, targets), nil
}

// IsHintStrategy reports whether values for strategy must be read from hints
func IsHintStrategy(strategy ShardingStrategy) bool {
	_, ok := strategy.(*HintStrategy)
	return ok
}

func findShardingValue(values []ShardingValue, column string) (ShardingValue, bool) {
	for _, each := range values {
		if strings.EqualFold(each.Column, column) {
			return each, true
		}
	}
	return ShardingValue{}, false
}

// retainAvailable keeps targets that are available, first seen order, without duplicates,
// spelled the way the available list spells them.
func retainAvailable(available, targets []string) []string {
	result := make([]string, 0, len(targets))
	for _, target := range targets {
		for _, each := range available {
			if strings.EqualFold(each, target) {
				if !containsFold(result, each) {
					result = append(result, each)
				}
				break
			}
		}
	}
	return result
}

func copyStrings(values []string) []string {
	return append([]string(nil), values...)
}
