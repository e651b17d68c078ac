package parser

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"gorm/shardroute/statement"
)

// maxConjunctions bounds the disjunctive form; beyond it the WHERE clause is treated as
// unconstrained
const maxConjunctions = 256

// valueExpr one value up to a ',' or ')' at depth 0, or a token end accepts
func (p *parser) valueExpr(end func(token) bool) (statement.Expr, error) {
	from := p.pos
	depth := 0
	for !p.eof() {
		t := p.peek()
		if depth == 0 && (t.typ == ',' || t.typ == ')' || (end != nil && end(t))) {
			break
		}
		switch t.typ {
		case '(':
			depth++
		case ')':
			depth--
		}
		p.next()
	}
	if from == p.pos {
		return statement.Expr{}, p.errorf("expected value")
	}
	return p.exprOf(from, p.pos), nil
}

// exprOf classifies tokens [from, to): a marker, a literal, or any other expression
func (p *parser) exprOf(from, to int) statement.Expr {
	first, last := p.tokens[from], p.tokens[to-1]
	expr := statement.Expr{
		Kind: statement.ExprOther,
		Text: p.sql[first.start:last.stop],
		Span: statement.Span{Start: first.start, Stop: last.stop},
	}
	switch to - from {
	case 1:
		p.classify(&expr, first, false)
	case 2:
		if first.typ == '-' && (last.typ == sqlparser.INTEGRAL || last.typ == sqlparser.FLOAT) {
			p.classify(&expr, last, true)
		}
	}
	return expr
}

func (p *parser) classify(expr *statement.Expr, t token, negative bool) {
	sign := ""
	if negative {
		sign = "-"
	}
	switch t.typ {
	case sqlparser.VALUE_ARG:
		if index, ok := p.markers[t.start]; ok {
			expr.Kind = statement.ExprParameter
			expr.ParameterIndex = index
		}
	case sqlparser.STRING:
		if p.dialect == PostgreSQL && t.quote == statement.QuoteDouble {
			return
		}
		expr.Kind, expr.LiteralType, expr.Value = statement.ExprLiteral, statement.LiteralString, t.val
	case sqlparser.INTEGRAL:
		expr.Kind, expr.LiteralType = statement.ExprLiteral, statement.LiteralNumber
		if v, err := strconv.ParseInt(sign+t.val, 10, 64); err == nil {
			expr.Value = v
		} else if v, err := strconv.ParseUint(t.val, 10, 64); err == nil && !negative {
			expr.Value = v
		} else {
			expr.LiteralType, expr.Value = statement.LiteralOther, sign+t.val
		}
	case sqlparser.FLOAT:
		if v, err := strconv.ParseFloat(sign+t.val, 64); err == nil {
			expr.Kind, expr.LiteralType, expr.Value = statement.ExprLiteral, statement.LiteralNumber, v
		}
	case sqlparser.HEXNUM:
		if v, err := strconv.ParseInt(strings.TrimPrefix(strings.ToLower(t.val), "0x"), 16, 64); err == nil {
			expr.Kind, expr.LiteralType, expr.Value = statement.ExprLiteral, statement.LiteralNumber, v
		}
	case sqlparser.HEX:
		if v, err := hex.DecodeString(t.val); err == nil {
			expr.Kind, expr.LiteralType, expr.Value = statement.ExprLiteral, statement.LiteralOther, v
		}
	case sqlparser.NULL:
		expr.Kind, expr.LiteralType, expr.Value = statement.ExprLiteral, statement.LiteralNull, nil
	case sqlparser.TRUE, sqlparser.FALSE:
		expr.Kind, expr.LiteralType, expr.Value = statement.ExprLiteral, statement.LiteralBool, t.typ == sqlparser.TRUE
	}
}

// parseWhere the WHERE clause of the outer statement in disjunctive normal form
func (p *parser) parseWhere() error {
	where := p.indexOf(0, "where")
	if where < 0 {
		return nil
	}
	p.pos = where + 1
	conditions := p.orExpr()
	for _, and := range conditions {
		if len(and) > 0 {
			p.stmt.Where = conditions
			return nil
		}
	}
	return nil
}

func unknown() []statement.AndCondition {
	return []statement.AndCondition{{}}
}

func (p *parser) orExpr() []statement.AndCondition {
	result := p.andExpr()
	for p.peek().typ == sqlparser.OR {
		p.next()
		result = append(result, p.andExpr()...)
		if len(result) > maxConjunctions {
			p.skipPredicate()
			return unknown()
		}
	}
	return result
}

func (p *parser) andExpr() []statement.AndCondition {
	result := p.primaryCondition()
	for p.peek().typ == sqlparser.AND {
		p.next()
		right := p.primaryCondition()
		if len(result)*len(right) > maxConjunctions {
			result = unknown()
			continue
		}
		var product []statement.AndCondition
		for _, left := range result {
			for _, each := range right {
				and := make(statement.AndCondition, 0, len(left)+len(each))
				product = append(product, append(append(and, left...), each...))
			}
		}
		result = product
	}
	return result
}

func (p *parser) primaryCondition() []statement.AndCondition {
	t := p.peek()
	switch {
	case t.typ == sqlparser.NOT || t.is("exists"):
		p.skipPredicate()
		return unknown()
	case t.typ == '(' && !p.peekAt(1).is("select"):
		save := p.pos
		p.next()
		inner := p.orExpr()
		if p.acceptChar(')') && p.atPredicateEnd() {
			return inner
		}
		p.pos = save
		p.skipPredicate()
		return unknown()
	}
	return p.predicate()
}

// predicate "column = v", "column IN (v, ...)" or "column BETWEEN v AND v" where every v
// is a marker or a literal; anything else constrains nothing.
func (p *parser) predicate() []statement.AndCondition {
	from, start := p.pos, p.peek()
	condition, ok := p.columnRef()
	if !ok {
		p.skipPredicate()
		return unknown()
	}
	switch p.peek().typ {
	case '=':
		p.next()
		if value, ok := p.simpleValue(); ok && p.atPredicateEnd() {
			condition.Operator = statement.OpEqual
			condition.Values = []statement.Expr{value}
			return p.known(condition, start, value.Span.Stop)
		}
	case sqlparser.IN:
		p.next()
		if !p.acceptChar('(') {
			break
		}
		var values []statement.Expr
		for {
			value, ok := p.simpleValue()
			if !ok {
				break
			}
			values = append(values, value)
			if !p.acceptChar(',') {
				break
			}
		}
		closing := p.peek()
		if len(values) > 0 && p.acceptChar(')') && p.atPredicateEnd() {
			condition.Operator = statement.OpIn
			condition.Values = values
			return p.known(condition, start, closing.stop)
		}
	case sqlparser.BETWEEN:
		p.next()
		low, ok := p.simpleValue()
		if !ok || p.peek().typ != sqlparser.AND {
			break
		}
		p.next()
		if high, ok := p.simpleValue(); ok && p.atPredicateEnd() {
			condition.Operator = statement.OpBetween
			condition.Values = []statement.Expr{low, high}
			return p.known(condition, start, high.Span.Stop)
		}
	}
	p.pos = from
	p.skipPredicate()
	return unknown()
}

func (p *parser) known(condition statement.Condition, start token, stop int) []statement.AndCondition {
	condition.Span = statement.Span{Start: start.start, Stop: stop}
	return []statement.AndCondition{{condition}}
}

// columnRef [[schema.]table.]column not followed by "(" or "."
func (p *parser) columnRef() (statement.Condition, bool) {
	var parts []token
	i := 0
	for {
		t := p.peekAt(i)
		if !p.isValueIdent(t) || t.typ == sqlparser.NULL || t.is("not", "exists", "case", "interval", "binary") {
			return statement.Condition{}, false
		}
		parts = append(parts, t)
		if p.peekAt(i+1).typ != '.' {
			break
		}
		i += 2
	}
	if p.peekAt(i+1).typ == '(' || len(parts) > 3 {
		return statement.Condition{}, false
	}
	p.pos += i + 1
	column := parts[len(parts)-1]
	condition := statement.Condition{
		Column:     column.val,
		ColumnSpan: statement.Span{Start: parts[0].start, Stop: column.stop},
	}
	if len(parts) > 1 {
		owner := parts[len(parts)-2].val
		if table, ok := p.stmt.ResolveTable(owner); ok {
			condition.Table = table
		} else {
			condition.Table = owner
		}
	}
	return condition, true
}

// simpleValue a marker or a literal, nothing consumed otherwise
func (p *parser) simpleValue() (statement.Expr, bool) {
	for _, n := range []int{1, 2} {
		if p.pos+n > len(p.tokens) {
			break
		}
		expr := p.exprOf(p.pos, p.pos+n)
		if expr.Kind == statement.ExprOther {
			continue
		}
		p.pos += n
		return expr, true
	}
	return statement.Expr{}, false
}

func (p *parser) atPredicateEnd() bool {
	t := p.peek()
	return t == eofToken || t.typ == ')' || t.typ == sqlparser.AND || t.typ == sqlparser.OR || clauseEnd(t)
}

func clauseEnd(t token) bool {
	return t.is("group", "having", "order", "limit", "for", "lock", "union", "returning", "window", "offset")
}

// skipPredicate consumes up to the next AND/OR/")" of the enclosing expression; the AND
// of a BETWEEN belongs to the predicate.
func (p *parser) skipPredicate() {
	depth := 0
	between := false
	for !p.eof() {
		t := p.peek()
		if depth == 0 {
			switch {
			case t.typ == ')' || clauseEnd(t) || t.typ == sqlparser.OR:
				return
			case t.typ == sqlparser.BETWEEN:
				between = true
			case t.typ == sqlparser.AND:
				if !between {
					return
				}
				between = false
			}
		}
		switch t.typ {
		case '(':
			depth++
		case ')':
			depth--
		}
		p.next()
	}
}
