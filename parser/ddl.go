package parser

import (
	"gorm/shardroute/statement"
)

var ddlObjects = []string{"table", "index", "view", "function", "procedure", "trigger", "database", "schema", "sequence", "event"}

// objectAt position of the object word after CREATE / ALTER / DROP, skipping modifiers
// such as OR REPLACE, UNIQUE or DEFINER = x
func objectAt(tokens []token, from int) int {
	for i := from; i < len(tokens) && i < from+12; i++ {
		t := tokens[i]
		if t.typ == '(' {
			return -1
		}
		if t.is(ddlObjects...) {
			return i
		}
	}
	return -1
}

func isRoutine(tokens []token) bool {
	if len(tokens) == 0 || !tokens[0].is("create") {
		return false
	}
	i := objectAt(tokens, 1)
	return i > 0 && tokens[i].is("function", "procedure")
}

func (p *parser) parseDDL() error {
	verb := p.next()
	if verb.is("rename") {
		return p.parseRenameTable()
	}
	if verb.is("truncate") {
		p.stmt.Kind = statement.KindTruncateTable
		p.accept("table")
		return p.tableList(nil)
	}
	at := objectAt(p.tokens, p.pos)
	if at < 0 {
		p.stmt.Kind = statement.KindOther
		return nil
	}
	object := p.tokens[at]
	p.pos = at + 1
	switch {
	case verb.is("create") && object.is("table"):
		return p.parseCreateTable()
	case verb.is("create") && object.is("index"):
		return p.parseCreateIndex()
	case verb.is("create") && object.is("view"):
		p.stmt.Kind = statement.KindCreateView
		return p.parseView()
	case verb.is("create") && object.is("function"):
		p.stmt.Kind = statement.KindCreateFunction
		return p.parseRoutine()
	case verb.is("create") && object.is("procedure"):
		p.stmt.Kind = statement.KindCreateProcedure
		return p.parseRoutine()
	case verb.is("alter") && object.is("table"):
		return p.parseAlterTable()
	case verb.is("alter") && object.is("index"):
		return p.parseAlterIndex()
	case verb.is("alter") && object.is("view"):
		p.stmt.Kind = statement.KindAlterView
		return p.parseView()
	case verb.is("drop") && object.is("table"):
		p.stmt.Kind = statement.KindDropTable
		p.stmt.IfExists = p.acceptSeq("if", "exists")
		if err := p.tableList(nil); err != nil {
			return err
		}
		p.stmt.Cascade = p.accept("cascade")
		return nil
	case verb.is("drop") && object.is("index"):
		return p.parseDropIndex()
	case verb.is("drop") && object.is("view"):
		p.stmt.Kind = statement.KindDropView
		p.stmt.IfExists = p.acceptSeq("if", "exists")
		return p.tableList(func(view statement.Table) {
			if p.stmt.View == nil {
				p.stmt.View = &view
			}
		})
	}
	p.stmt.Kind = statement.KindOther
	return nil
}

// tableList "t1, t2, ..."
func (p *parser) tableList(each func(statement.Table)) error {
	for {
		table, ok := p.tableName()
		if !ok {
			return p.errorf("expected table name")
		}
		p.addTables(table)
		if each != nil {
			each(table)
		}
		if !p.acceptChar(',') {
			return nil
		}
	}
}

func (p *parser) parseCreateTable() error {
	p.stmt.Kind = statement.KindCreateTable
	p.stmt.IfNotExists = p.acceptSeq("if", "not", "exists")
	table, ok := p.tableName()
	if !ok {
		return p.errorf("expected table name")
	}
	p.addTables(table)
	p.addTables(p.referencedTables(p.pos)...)
	p.addTables(p.scanTables(p.pos, len(p.tokens))...)
	return nil
}

// referencedTables tables after REFERENCES and LIKE in [from, len)
func (p *parser) referencedTables(from int) []statement.Table {
	var tables []statement.Table
	for i := from; i < len(p.tokens); i++ {
		if !p.tokens[i].is("references", "like") {
			continue
		}
		if table, ok := p.tableNameAt(i + 1); ok {
			tables = append(tables, table)
		}
	}
	return tables
}

func (p *parser) tableNameAt(i int) (statement.Table, bool) {
	save := p.pos
	defer func() { p.pos = save }()
	p.pos = i
	return p.tableName()
}

// indexName [owner.]name
func (p *parser) indexName() (statement.Index, bool) {
	table, ok := p.tableName()
	if !ok {
		return statement.Index{}, false
	}
	return statement.Index{Name: table.Name, Owner: table.Owner}, true
}

func (p *parser) parseCreateIndex() error {
	p.stmt.Kind = statement.KindCreateIndex
	p.accept("concurrently")
	p.stmt.IfNotExists = p.acceptSeq("if", "not", "exists")
	var index statement.Index
	named := false
	if !p.peek().is("on") {
		if index, named = p.indexName(); !named {
			return p.errorf("expected index name")
		}
	}
	if !p.accept("on") {
		return p.errorf("expected ON")
	}
	p.accept("only")
	table, ok := p.tableName()
	if !ok {
		return p.errorf("expected table name")
	}
	p.addTables(table)
	if named {
		index.Table = &table
		p.stmt.Indexes = append(p.stmt.Indexes, index)
	}
	return nil
}

func (p *parser) parseAlterIndex() error {
	p.stmt.Kind = statement.KindAlterIndex
	p.stmt.IfExists = p.acceptSeq("if", "exists")
	index, ok := p.indexName()
	if !ok {
		return p.errorf("expected index name")
	}
	p.stmt.Indexes = append(p.stmt.Indexes, index)
	if p.acceptSeq("rename", "to") {
		renamed, ok := p.indexName()
		if !ok {
			return p.errorf("expected index name")
		}
		p.stmt.RenameIndex = &renamed.Name
	}
	return nil
}

func (p *parser) parseDropIndex() error {
	p.stmt.Kind = statement.KindDropIndex
	p.accept("concurrently")
	p.stmt.IfExists = p.acceptSeq("if", "exists")
	for {
		index, ok := p.indexName()
		if !ok {
			return p.errorf("expected index name")
		}
		p.stmt.Indexes = append(p.stmt.Indexes, index)
		if !p.acceptChar(',') {
			break
		}
	}
	if p.accept("on") {
		table, ok := p.tableName()
		if !ok {
			return p.errorf("expected table name")
		}
		p.addTables(table)
		for i := range p.stmt.Indexes {
			p.stmt.Indexes[i].Table = &table
		}
	}
	p.stmt.Cascade = p.accept("cascade")
	return nil
}

// parseAlterTable RENAME [TO|AS] t, RENAME INDEX a TO b, ADD/DROP INDEX and REFERENCES
func (p *parser) parseAlterTable() error {
	p.stmt.Kind = statement.KindAlterTable
	p.stmt.IfExists = p.acceptSeq("if", "exists")
	p.accept("only")
	table, ok := p.tableName()
	if !ok {
		return p.errorf("expected table name")
	}
	p.addTables(table)
	p.addTables(p.referencedTables(p.pos)...)

	depth := 0
	for i := p.pos; i < len(p.tokens); i++ {
		t := p.tokens[i]
		switch {
		case t.typ == '(':
			depth++
		case t.typ == ')':
			depth--
		case depth > 0:
		case t.is("rename"):
			i = p.alterRename(i+1, table)
		case t.is("index", "key") && i > p.pos && !p.tokens[i-1].is("primary", "foreign"):
			if next := p.peekToken(i + 1); p.isIdent(next) && !next.is("if", "using") {
				index, _ := p.indexNameAt(i + 1)
				index.Table = &table
				p.stmt.Indexes = append(p.stmt.Indexes, index)
			}
		}
	}
	return nil
}

// alterRename the clause after RENAME at i, returns the last position it consumed
func (p *parser) alterRename(i int, table statement.Table) int {
	t := p.peekToken(i)
	switch {
	case t.is("index", "key"):
		index, ok := p.indexNameAt(i + 1)
		if !ok || !p.peekToken(i+2).is("to") {
			return i
		}
		renamed, ok := p.indexNameAt(i + 3)
		if !ok {
			return i
		}
		index.Table = &table
		p.stmt.Indexes = append(p.stmt.Indexes, index)
		p.stmt.RenameIndex = &renamed.Name
		return i + 3
	case t.is("column", "constraint"):
		return i
	case t.is("to", "as"):
		i++
	case p.peekToken(i + 1).is("to"):
		// PostgreSQL "RENAME col TO new"
		return i
	}
	renamed, ok := p.tableNameAt(i)
	if !ok {
		return i
	}
	p.stmt.RenameTo = &renamed
	p.occurrence(renamed.Name.Value, renamed.Name.Quote, renamed.Name.Span)
	return i
}

func (p *parser) peekToken(i int) token {
	if i < 0 || i >= len(p.tokens) {
		return eofToken
	}
	return p.tokens[i]
}

func (p *parser) indexNameAt(i int) (statement.Index, bool) {
	save := p.pos
	defer func() { p.pos = save }()
	p.pos = i
	return p.indexName()
}

// parseView CREATE / ALTER VIEW v [(columns)] AS SELECT ..., or ALTER VIEW v RENAME TO w
func (p *parser) parseView() error {
	if p.stmt.Kind == statement.KindCreateView {
		p.stmt.IfNotExists = p.acceptSeq("if", "not", "exists")
	}
	view, ok := p.tableName()
	if !ok {
		return p.errorf("expected view name")
	}
	p.addTables(view)
	p.stmt.View = &view
	if p.stmt.Kind == statement.KindAlterView && p.acceptSeq("rename", "to") {
		renamed, ok := p.tableName()
		if !ok {
			return p.errorf("expected view name")
		}
		p.stmt.RenameTo = &renamed
		p.occurrence(renamed.Name.Value, renamed.Name.Quote, renamed.Name.Span)
		return nil
	}
	as := p.indexOf(p.pos, "as")
	if as < 0 {
		return nil
	}
	tables := p.scanTables(as+1, len(p.tokens))
	start := len(p.sql)
	if as+1 < len(p.tokens) {
		start = p.tokens[as+1].start
	}
	p.stmt.ViewSelect = &statement.Statement{Kind: statement.KindSelect, SQL: p.sql[start:], Tables: tables}
	p.addTables(tables...)
	p.ownerOccurrences()
	return nil
}

// parseRoutine tables a function or procedure body reads, modifies and creates
func (p *parser) parseRoutine() error {
	if _, ok := p.tableName(); !ok {
		return p.errorf("expected routine name")
	}
	routine := &statement.Routine{}
	existing := p.scanTables(p.pos, len(p.tokens))
	var created []statement.Table
	for i := p.pos; i < len(p.tokens); i++ {
		t := p.tokens[i]
		var next int
		switch {
		case t.is("into") && i > 0 && p.tokens[i-1].is("insert", "replace", "ignore"):
			next = i + 1
		case t.is("update") && !p.peekToken(i-1).is("key", "for"):
			next = i + 1
			for p.peekToken(next).is("low_priority", "ignore") {
				next++
			}
		case t.is("table") && p.peekToken(i-1).is("alter", "truncate"):
			next = i + 1
		case t.is("table") && p.peekToken(i-1).is("create", "temporary"):
			j := i + 1
			if p.peekToken(j).is("if") {
				// IF NOT EXISTS 不要求表不存在
				if table, ok := p.tableNameAt(j + 3); ok {
					routine.Tables = append(routine.Tables, table)
				}
				continue
			}
			if table, ok := p.tableNameAt(j); ok {
				created = append(created, table)
			}
			continue
		default:
			continue
		}
		if table, ok := p.tableNameAt(next); ok {
			existing = append(existing, table)
		}
	}
	routine.ExistingTables = existing
	routine.NotExistingTables = created
	routine.Tables = append(append(routine.Tables, existing...), created...)
	p.stmt.Routine = routine
	p.addTables(routine.Tables...)
	return nil
}

// parseRenameTable RENAME TABLE a TO b [, c TO d]
func (p *parser) parseRenameTable() error {
	p.stmt.Kind = statement.KindRenameTable
	p.accept("table")
	for {
		from, ok := p.tableName()
		if !ok {
			return p.errorf("expected table name")
		}
		if !p.accept("to") {
			return p.errorf("expected TO")
		}
		to, ok := p.tableName()
		if !ok {
			return p.errorf("expected table name")
		}
		p.addTables(from)
		p.stmt.RenamePairs = append(p.stmt.RenamePairs, statement.RenamePair{From: from, To: to})
		if !p.acceptChar(',') {
			return nil
		}
	}
}
