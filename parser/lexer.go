package parser

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"

	"gorm/shardroute/statement"
)

type token struct {
	typ   int
	val   string
	quote statement.QuoteCharacter
	start int
	stop  int
}

var eofToken = token{start: -1, stop: -1}

// isWord identifiers and keywords
func (t token) isWord() bool {
	switch t.typ {
	case sqlparser.ID:
		return true
	case 0, sqlparser.STRING, sqlparser.INTEGRAL, sqlparser.FLOAT, sqlparser.HEXNUM, sqlparser.HEX, sqlparser.BIT_LITERAL,
		sqlparser.VALUE_ARG, sqlparser.LIST_ARG, sqlparser.NULL, sqlparser.TRUE, sqlparser.FALSE:
		return false
	}
	return t.val != "" && isLetter(t.val[0])
}

// is whether t is one of the unquoted keywords
func (t token) is(words ...string) bool {
	if !t.isWord() || t.quote != statement.QuoteNone {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.val, w) {
			return true
		}
	}
	return false
}

func (t token) isMarker(sql string) bool {
	return t.typ == sqlparser.VALUE_ARG && sql[t.start] == '?'
}

func (t token) ident() statement.Identifier {
	return statement.Identifier{Value: t.val, Quote: t.quote, Span: statement.Span{Start: t.start, Stop: t.stop}}
}

// tokenize scans sql keeping the byte span of every token.
// The tokenizer reports where a token ends; it starts after the blanks that follow
// the previous one.
func tokenize(sql string) ([]token, error) {
	if strings.Contains(sql, "/*!") {
		return nil, errors.Wrap(ErrSyntax, "mysql specific comments are not supported")
	}
	tkn := sqlparser.NewStringTokenizer(sql)
	var tokens []token
	prev := 0
	for {
		typ, val := tkn.Scan()
		if typ == 0 {
			return tokens, nil
		}
		stop := tkn.Position - 1
		if stop > len(sql) {
			stop = len(sql)
		}
		start := prev
		for start < stop && isBlank(sql[start]) {
			start++
		}
		prev = stop
		switch typ {
		case sqlparser.LEX_ERROR:
			return nil, errors.Wrapf(ErrSyntax, "unexpected %q at position %d", sql[start:stop], start+1)
		case sqlparser.COMMENT:
			continue
		}
		t := token{typ: typ, val: string(val), start: start, stop: stop}
		switch {
		case typ == sqlparser.ID && sql[start] == '`':
			t.quote = statement.QuoteBack
		case typ == sqlparser.STRING && sql[start] == '"':
			t.quote = statement.QuoteDouble
		}
		tokens = append(tokens, t)
	}
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_' || c == '@'
}

// firstStatement tokens before the first ';'
func firstStatement(tokens []token) []token {
	for i, t := range tokens {
		if t.typ == ';' {
			return tokens[:i]
		}
	}
	return tokens
}
