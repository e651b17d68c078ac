package parser

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"

	"gorm/shardroute/statement"
)

// ErrSyntax the text is not SQL this binder understands
var ErrSyntax = errors.New("sql syntax error")

// Dialect decides how double-quoted text is read: an identifier for PostgreSQL, a
// string literal in value positions for MySQL.
type Dialect int

const (
	MySQL Dialect = iota
	PostgreSQL
)

// Parse binds a MySQL statement
func Parse(sql string) (*statement.Statement, error) {
	return ParseDialect(sql, MySQL)
}

// ParseDialect binds sql into the statement model: kind, referenced tables and
// indexes with their positions, WHERE predicates in disjunctive form, INSERT rows
// and SET assignments.
func ParseDialect(sql string, dialect Dialect) (*statement.Statement, error) {
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	// 存储过程与函数体内可以有多条语句
	if !isRoutine(tokens) {
		tokens = firstStatement(tokens)
	}
	if len(tokens) == 0 {
		return nil, errors.Wrap(ErrSyntax, "empty statement")
	}
	p := &parser{
		sql:      sql,
		dialect:  dialect,
		tokens:   tokens,
		stmt:     &statement.Statement{SQL: sql},
		markers:  map[int]int{},
		recorded: map[int]struct{}{},
	}
	for _, t := range tokens {
		if t.isMarker(sql) {
			p.markers[t.start] = len(p.stmt.ParameterMarkers)
			p.stmt.ParameterMarkers = append(p.stmt.ParameterMarkers, t.start)
		}
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.stmt, nil
}

type parser struct {
	sql     string
	dialect Dialect
	tokens  []token
	pos     int
	stmt    *statement.Statement
	// markers token start -> parameter index
	markers map[int]int
	// recorded starts of table occurrences
	recorded map[int]struct{}
}

func (p *parser) parse() error {
	first := p.peek()
	switch {
	case first.is("select") || first.typ == '(':
		p.stmt.Kind = statement.KindSelect
	case first.is("insert", "replace"):
		p.stmt.Kind = statement.KindInsert
	case first.is("update"):
		p.stmt.Kind = statement.KindUpdate
	case first.is("delete"):
		p.stmt.Kind = statement.KindDelete
	case first.is("create", "alter", "drop", "rename", "truncate"):
		return p.parseDDL()
	default:
		p.stmt.Kind = statement.KindOther
		return nil
	}
	if p.dialect == MySQL {
		if _, err := sqlparser.Parse(p.sql[:p.tokens[len(p.tokens)-1].stop]); err != nil {
			return errors.Wrap(ErrSyntax, err.Error())
		}
	}
	return p.parseDML()
}

func (p *parser) peek() token {
	return p.peekAt(0)
}

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.tokens) {
		return eofToken
	}
	return p.tokens[p.pos+n]
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) eof() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) accept(words ...string) bool {
	if p.peek().is(words...) {
		p.pos++
		return true
	}
	return false
}

// acceptSeq consumes the words only when all of them follow in order
func (p *parser) acceptSeq(words ...string) bool {
	for i, w := range words {
		if !p.peekAt(i).is(w) {
			return false
		}
	}
	p.pos += len(words)
	return true
}

func (p *parser) acceptChar(c int) bool {
	if p.peek().typ == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectChar(c int) (token, error) {
	t := p.peek()
	if t.typ != c {
		return t, p.errorf("expected %q", rune(c))
	}
	p.pos++
	return t, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	t := p.peek()
	if t == eofToken {
		return errors.Wrapf(ErrSyntax, format+" at end of statement", args...)
	}
	return errors.Wrapf(ErrSyntax, format+" near %q at position %d", append(args, p.sql[t.start:t.stop], t.start+1)...)
}

// isIdent identifier positions accept double-quoted names in both dialects
func (p *parser) isIdent(t token) bool {
	return t.isWord() || (t.typ == sqlparser.STRING && t.quote == statement.QuoteDouble)
}

// isValueIdent in value positions MySQL reads double quotes as a string
func (p *parser) isValueIdent(t token) bool {
	if t.typ == sqlparser.STRING {
		return p.dialect == PostgreSQL && t.quote == statement.QuoteDouble
	}
	return t.isWord()
}

// tableName [owner.]name; the span of the name covers the owner
func (p *parser) tableName() (statement.Table, bool) {
	first := p.peek()
	if !p.isIdent(first) {
		return statement.Table{}, false
	}
	p.next()
	table := statement.Table{Name: first.ident()}
	if p.peek().typ == '.' && p.isIdent(p.peekAt(1)) {
		p.next()
		second := p.next()
		owner := first.ident()
		table.Owner = &owner
		table.Name = second.ident()
		table.Name.Span.Start = first.start
	}
	return table, true
}

var notAlias = map[string]struct{}{
	"returning": {}, "window": {}, "using": {}, "on": {}, "set": {}, "where": {}, "values": {}, "value": {},
	"partition": {}, "use": {}, "force": {}, "ignore": {},
}

func (p *parser) alias(table *statement.Table) {
	if p.accept("as") {
		if t := p.peek(); p.isIdent(t) {
			p.next()
			table.Alias = t.val
		}
		return
	}
	t := p.peek()
	if t.typ != sqlparser.ID && !(t.typ == sqlparser.STRING && t.quote == statement.QuoteDouble) {
		return
	}
	if _, ok := notAlias[strings.ToLower(t.val)]; ok && t.quote == statement.QuoteNone {
		return
	}
	p.next()
	table.Alias = t.val
}

// tableAt a table factor starting at token i, and where it ends
func (p *parser) tableAt(i int) (statement.Table, int, bool) {
	save := p.pos
	defer func() { p.pos = save }()
	p.pos = i
	table, ok := p.tableName()
	if !ok || (table.Owner == nil && table.Name.Quote == statement.QuoteNone && strings.EqualFold(table.Name.Value, "dual")) {
		return statement.Table{}, i, false
	}
	p.alias(&table)
	return table, p.pos, true
}

// scanTables table factors after FROM and JOIN in tokens [from, to), subqueries
// included. FROM inside function calls such as EXTRACT(x FROM y) is not a table list.
func (p *parser) scanTables(from, to int) []statement.Table {
	var tables []statement.Table
	parens := []bool{true}
	for i := from; i < to; i++ {
		t := p.tokens[i]
		switch {
		case t.typ == '(':
			parens = append(parens, i+1 < to && p.tokens[i+1].is("select"))
		case t.typ == ')':
			if len(parens) > 1 {
				parens = parens[:len(parens)-1]
			}
		case t.is("from", "join", "straight_join") && parens[len(parens)-1]:
			j := i + 1
			for j < to {
				table, next, ok := p.tableAt(j)
				if !ok {
					break
				}
				tables = append(tables, table)
				j = next
				if !t.is("from") || j >= to || p.tokens[j].typ != ',' {
					break
				}
				j++
			}
		}
	}
	return tables
}

func (p *parser) addTables(tables ...statement.Table) {
	for _, table := range tables {
		if _, ok := p.recorded[table.Name.Span.Start]; ok {
			continue
		}
		p.recorded[table.Name.Span.Start] = struct{}{}
		p.stmt.Tables = append(p.stmt.Tables, table)
		p.occurrence(table.Name.Value, table.Name.Quote, table.Name.Span)
	}
	sort.SliceStable(p.stmt.Tables, func(i, j int) bool {
		return p.stmt.Tables[i].Name.Span.Start < p.stmt.Tables[j].Name.Span.Start
	})
}

func (p *parser) occurrence(logicTable string, quote statement.QuoteCharacter, span statement.Span) {
	p.stmt.TableOccurrences = append(p.stmt.TableOccurrences, statement.TableOccurrence{LogicTable: logicTable, Quote: quote, Span: span})
	p.recorded[span.Start] = struct{}{}
	sort.SliceStable(p.stmt.TableOccurrences, func(i, j int) bool {
		return p.stmt.TableOccurrences[i].Span.Start < p.stmt.TableOccurrences[j].Span.Start
	})
}

func (p *parser) isTableName(name string) bool {
	for _, each := range p.stmt.Tables {
		if strings.EqualFold(each.Name.Value, name) {
			return true
		}
	}
	return false
}

// ownerOccurrences table names qualifying columns, "t.col" or "schema.t.col"
func (p *parser) ownerOccurrences() {
	tokens := p.tokens
	for i := 0; i+2 < len(tokens); i++ {
		t := tokens[i]
		if !p.isIdent(t) || tokens[i+1].typ != '.' || !p.isIdent(tokens[i+2]) {
			continue
		}
		if i > 0 && tokens[i-1].typ == '.' {
			continue
		}
		if _, ok := p.recorded[t.start]; ok {
			continue
		}
		table := t
		if i+4 < len(tokens) && tokens[i+3].typ == '.' && p.isIdent(tokens[i+4]) {
			table = tokens[i+2]
		}
		if !p.isTableName(table.val) {
			continue
		}
		p.occurrence(table.val, table.quote, statement.Span{Start: t.start, Stop: table.stop})
	}
}

// indexOf position of the first word at parenthesis depth 0 in [from, len), -1 if absent
func (p *parser) indexOf(from int, words ...string) int {
	depth := 0
	for i := from; i < len(p.tokens); i++ {
		t := p.tokens[i]
		switch {
		case t.typ == '(':
			depth++
		case t.typ == ')':
			depth--
		case depth == 0 && t.is(words...):
			return i
		}
	}
	return -1
}

func (p *parser) skipParens() error {
	if _, err := p.expectChar('('); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		if p.eof() {
			return p.errorf("unbalanced parenthesis")
		}
		switch p.next().typ {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return nil
}
