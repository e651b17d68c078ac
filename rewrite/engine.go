package rewrite

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/optimize"
	"gorm/shardroute/parser"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// SQLUnit the SQL and parameters one unit executes
type SQLUnit struct {
	Unit       route.Unit
	SQL        string
	Parameters []interface{}
}

// Engine rewrites statements against one rule snapshot
type Engine struct {
	rule    *rule.ShardingRule
	dialect parser.Dialect
}

func New(shardingRule *rule.ShardingRule) *Engine {
	return &Engine{rule: shardingRule}
}

// WithDialect literals of synthesized and encrypted values follow dialect
func (e *Engine) WithDialect(dialect parser.Dialect) *Engine {
	e.dialect = dialect
	return e
}

// Rewrite one SQL unit per routed unit, in route order. An always-false result has none.
func (e *Engine) Rewrite(stmt *statement.Statement, params []interface{}, insert *optimize.InsertResult, result *route.Result) ([]SQLUnit, error) {
	if result == nil || result.AlwaysFalse {
		return nil, nil
	}
	tokens, err := GenerateTokens(e.rule, e.dialect, stmt, params, insert, result)
	if err != nil {
		return nil, err
	}
	once := map[Token]string{}
	units := make([]SQLUnit, 0, len(result.Units))
	for _, unit := range result.Units {
		sql, unitParams, err := assemble(stmt, params, tokens, unit, once)
		if err != nil {
			return nil, errors.Wrapf(err, "rewrite for %s", unit)
		}
		units = append(units, SQLUnit{Unit: unit, SQL: sql, Parameters: unitParams})
	}
	return units, nil
}

// Assemble splices tokens into the statement's SQL for one unit
func Assemble(stmt *statement.Statement, params []interface{}, tokens *TokenSet, unit route.Unit) (string, []interface{}, error) {
	return assemble(stmt, params, tokens, unit, map[Token]string{})
}

func assemble(stmt *statement.Statement, params []interface{}, tokens *TokenSet, unit route.Unit, once map[Token]string) (string, []interface{}, error) {
	original := stmt.SQL
	markers := stmt.ParameterMarkers
	var sb strings.Builder
	var result []interface{}
	cursor, marker := 0, 0

	keep := func(until int) error {
		for marker < len(markers) && markers[marker] < until {
			if marker >= len(params) {
				return errors.Errorf("parameter %d not bound, %d given", marker+1, len(params))
			}
			result = append(result, params[marker])
			marker++
		}
		return nil
	}

	for _, token := range tokens.tokens {
		if token.Stop() > len(original) {
			return "", nil, errors.Errorf("token [%d, %d) outside sql of length %d", token.Start(), token.Stop(), len(original))
		}
		sb.WriteString(original[cursor:token.Start()])
		text, err := render(token, unit, once)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(text)
		cursor = token.Stop()

		if err := keep(token.Start()); err != nil {
			return "", nil, err
		}
		if p, ok := token.(ParameterToken); ok {
			for marker < len(markers) && markers[marker] < token.Stop() {
				marker++
			}
			result = append(result, p.Parameters(unit)...)
		}
	}
	sb.WriteString(original[cursor:])
	if err := keep(len(original) + 1); err != nil {
		return "", nil, err
	}
	return sb.String(), result, nil
}

func render(token Token, unit route.Unit, once map[Token]string) (string, error) {
	switch t := token.(type) {
	case UnitToken:
		return t.RenderUnit(unit)
	case OnceToken:
		if text, ok := once[token]; ok {
			return text, nil
		}
		text, err := t.Render()
		if err != nil {
			return "", err
		}
		once[token] = text
		return text, nil
	}
	return "", errors.Errorf("token %T cannot render", token)
}
