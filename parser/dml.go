package parser

import (
	"gorm/shardroute/statement"
)

func (p *parser) parseDML() error {
	switch p.stmt.Kind {
	case statement.KindInsert:
		if err := p.parseInsert(); err != nil {
			return err
		}
	case statement.KindUpdate:
		if err := p.parseUpdate(); err != nil {
			return err
		}
	}
	p.addTables(p.scanTables(0, len(p.tokens))...)
	if p.stmt.Kind == statement.KindDelete {
		p.deleteTargets()
	}
	p.ownerOccurrences()
	return p.parseWhere()
}

func (p *parser) parseInsert() error {
	p.next()
	for p.accept("low_priority", "delayed", "high_priority", "ignore") {
	}
	p.accept("into")
	table, ok := p.tableName()
	if !ok {
		return p.errorf("expected table name")
	}
	p.addTables(table)
	if p.accept("partition") {
		if err := p.skipParens(); err != nil {
			return err
		}
	}
	clause := &statement.InsertClause{Table: table, ColumnsEnd: -1}
	p.stmt.Insert = clause

	if p.peek().typ == '(' && !p.peekAt(1).is("select") {
		p.next()
		for p.peek().typ != ')' {
			column, ok := p.columnName()
			if !ok {
				return p.errorf("expected column name")
			}
			clause.Columns = append(clause.Columns, column)
			if !p.acceptChar(',') {
				break
			}
		}
		closing, err := p.expectChar(')')
		if err != nil {
			return err
		}
		clause.ColumnsEnd = closing.start
	}

	switch {
	case p.accept("values", "value"):
		if err := p.insertRows(clause); err != nil {
			return err
		}
	case p.accept("set"):
		set, err := p.assignments(insertSetEnd)
		if err != nil {
			return err
		}
		clause.Set = set
		clause.SetEnd = set[len(set)-1].Span.Stop
	}
	if p.acceptSeq("on", "duplicate", "key", "update") {
		onDuplicate, err := p.assignments(insertSetEnd)
		if err != nil {
			return err
		}
		clause.OnDuplicate = onDuplicate
	}
	return nil
}

func insertSetEnd(t token) bool {
	return t.is("on", "returning")
}

func (p *parser) insertRows(clause *statement.InsertClause) error {
	for {
		open, err := p.expectChar('(')
		if err != nil {
			return err
		}
		var values []statement.Expr
		for p.peek().typ != ')' {
			value, err := p.valueExpr(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
			if !p.acceptChar(',') {
				break
			}
		}
		closing, err := p.expectChar(')')
		if err != nil {
			return err
		}
		row := statement.InsertRow{Values: values, Span: statement.Span{Start: open.start, Stop: closing.stop}}
		if len(clause.Rows) == 0 {
			clause.ValuesSpan.Start = row.Span.Start
		}
		clause.ValuesSpan.Stop = row.Span.Stop
		clause.Rows = append(clause.Rows, row)
		if !p.acceptChar(',') {
			return nil
		}
	}
}

func (p *parser) parseUpdate() error {
	p.next()
	for p.accept("low_priority", "ignore") {
	}
	for {
		table, ok := p.tableName()
		if !ok {
			return p.errorf("expected table name")
		}
		p.alias(&table)
		p.addTables(table)
		if !p.acceptChar(',') {
			break
		}
	}
	set := p.indexOf(p.pos, "set")
	if set < 0 {
		return p.errorf("expected SET")
	}
	p.pos = set + 1
	assignments, err := p.assignments(func(t token) bool {
		return t.is("where", "order", "limit", "returning", "from")
	})
	if err != nil {
		return err
	}
	p.stmt.Update = assignments
	return nil
}

// deleteTargets "DELETE t1 FROM t1 JOIN t2": t1 before FROM names a referenced table
func (p *parser) deleteTargets() {
	from := p.indexOf(0, "from")
	for i := 1; i < from; i++ {
		t := p.tokens[i]
		if !p.isIdent(t) || t.is("low_priority", "quick", "ignore") {
			continue
		}
		if _, ok := p.recorded[t.start]; ok || !p.isTableName(t.val) {
			continue
		}
		p.occurrence(t.val, t.quote, statement.Span{Start: t.start, Stop: t.stop})
	}
}

// columnName [owner.]column, the identifier of the column itself
func (p *parser) columnName() (statement.Identifier, bool) {
	t := p.peek()
	if !p.isIdent(t) {
		return statement.Identifier{}, false
	}
	p.next()
	for p.peek().typ == '.' && p.isIdent(p.peekAt(1)) {
		p.next()
		t = p.next()
	}
	return t.ident(), true
}

func (p *parser) assignments(end func(token) bool) ([]statement.Assignment, error) {
	var result []statement.Assignment
	for {
		start := p.peek()
		column, ok := p.columnName()
		if !ok {
			return nil, p.errorf("expected column name")
		}
		if _, err := p.expectChar('='); err != nil {
			return nil, err
		}
		value, err := p.valueExpr(end)
		if err != nil {
			return nil, err
		}
		result = append(result, statement.Assignment{
			Column: column,
			Value:  value,
			Span:   statement.Span{Start: start.start, Stop: value.Span.Stop},
		})
		if !p.acceptChar(',') {
			return result, nil
		}
	}
}
