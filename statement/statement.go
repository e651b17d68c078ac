package statement

// Kind closed set of statement kinds the engine understands
type Kind int

const (
	KindOther Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindCreateTable
	KindAlterTable
	KindDropTable
	KindRenameTable
	KindTruncateTable
	KindCreateIndex
	KindAlterIndex
	KindDropIndex
	KindCreateView
	KindAlterView
	KindDropView
	KindCreateFunction
	KindCreateProcedure
)

var kindNames = map[Kind]string{
	KindOther:           "OTHER",
	KindSelect:          "SELECT",
	KindInsert:          "INSERT",
	KindUpdate:          "UPDATE",
	KindDelete:          "DELETE",
	KindCreateTable:     "CREATE TABLE",
	KindAlterTable:      "ALTER TABLE",
	KindDropTable:       "DROP TABLE",
	KindRenameTable:     "RENAME TABLE",
	KindTruncateTable:   "TRUNCATE TABLE",
	KindCreateIndex:     "CREATE INDEX",
	KindAlterIndex:      "ALTER INDEX",
	KindDropIndex:       "DROP INDEX",
	KindCreateView:      "CREATE VIEW",
	KindAlterView:       "ALTER VIEW",
	KindDropView:        "DROP VIEW",
	KindCreateFunction:  "CREATE FUNCTION",
	KindCreateProcedure: "CREATE PROCEDURE",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

func (k Kind) IsDML() bool {
	return k >= KindSelect && k <= KindDelete
}

func (k Kind) IsDDL() bool {
	return k >= KindCreateTable
}

// IsQuery statements that only read
func (k Kind) IsQuery() bool {
	return k == KindSelect
}

// Span half-open byte range [Start, Stop) of the original SQL text
type Span struct {
	Start int
	Stop  int
}

func (s Span) Len() int {
	return s.Stop - s.Start
}

// QuoteCharacter how an identifier was delimited
type QuoteCharacter int

const (
	QuoteNone QuoteCharacter = iota
	QuoteBack
	QuoteDouble
	QuoteBracket
)

// QuoteOf recognizes the delimiter opening an identifier
func QuoteOf(c byte) QuoteCharacter {
	switch c {
	case '`':
		return QuoteBack
	case '"':
		return QuoteDouble
	case '[':
		return QuoteBracket
	}
	return QuoteNone
}

// Wrap delimits value the same way
func (q QuoteCharacter) Wrap(value string) string {
	switch q {
	case QuoteBack:
		return "`" + value + "`"
	case QuoteDouble:
		return `"` + value + `"`
	case QuoteBracket:
		return "[" + value + "]"
	}
	return value
}

// Identifier a name as written, with its position
type Identifier struct {
	Value string
	Quote QuoteCharacter
	Span  Span
}

// Table a table reference; Span of the Name covers the owner too when it is qualified
type Table struct {
	Name  Identifier
	Owner *Identifier
	Alias string
}

// OwnerName the qualifying schema, empty when unqualified
func (t Table) OwnerName() string {
	if t.Owner == nil {
		return ""
	}
	return t.Owner.Value
}

// Index an index reference of index DDL
type Index struct {
	Name  Identifier
	Owner *Identifier
	// Table the table named by "ON t", nil otherwise
	Table *Table
}

func (i Index) OwnerName() string {
	if i.Owner == nil {
		return ""
	}
	return i.Owner.Value
}

// RenamePair one "a TO b" of RENAME TABLE
type RenamePair struct {
	From Table
	To   Table
}

// Routine tables a function or procedure body touches
type Routine struct {
	// Tables every table referenced by the body
	Tables []Table
	// ExistingTables tables the body reads or modifies, which must exist
	ExistingTables []Table
	// NotExistingTables tables the body creates, which must not exist yet
	NotExistingTables []Table
}

// Statement a bound statement: kind, referenced tables with their spans and the parts
// routing, checking and rewriting need.
type Statement struct {
	Kind Kind
	SQL  string

	// Tables every table reference in textual order
	Tables []Table
	// TableOccurrences spans where a logic table name appears (FROM, JOIN, column owners)
	TableOccurrences []TableOccurrence
	// ParameterMarkers byte offsets of the "?" markers, the i-th marker binds params[i]
	ParameterMarkers []int
	// Where disjunction of conjunctions of column predicates
	Where []AndCondition

	Insert *InsertClause
	Update []Assignment

	IfExists    bool
	IfNotExists bool
	Cascade     bool
	RenameTo    *Table
	RenamePairs []RenamePair
	Indexes     []Index
	RenameIndex *Identifier
	View        *Table
	ViewSelect  *Statement
	Routine     *Routine
}

// TableOccurrence one appearance of a logic table name in the text
type TableOccurrence struct {
	LogicTable string
	Quote      QuoteCharacter
	Span       Span
}

// TableNames distinct table names in order of first reference
func (s *Statement) TableNames() []string {
	var names []string
	seen := map[string]struct{}{}
	for _, t := range s.Tables {
		key := lower(t.Name.Value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, t.Name.Value)
	}
	return names
}

// ParameterCount number of "?" markers
func (s *Statement) ParameterCount() int {
	return len(s.ParameterMarkers)
}

// ResolveTable maps an alias or table name used as a column owner to its table name
func (s *Statement) ResolveTable(owner string) (string, bool) {
	for _, t := range s.Tables {
		if t.Alias != "" && equalFold(t.Alias, owner) {
			return t.Name.Value, true
		}
	}
	for _, t := range s.Tables {
		if equalFold(t.Name.Value, owner) {
			return t.Name.Value, true
		}
	}
	return "", false
}
