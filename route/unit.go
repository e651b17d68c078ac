package route

import (
	"strings"

	"gorm/shardroute/rule"
)

// TableMapper a logic table and the actual table it stands for in one unit
type TableMapper struct {
	LogicName  string
	ActualName string
}

// Unit one physical execution target: a (logical) data source and the actual table
// every referenced logic table maps to there.
type Unit struct {
	DataSourceName string
	Tables         []TableMapper
}

// ActualTable the actual name of logicTable in this unit
func (u Unit) ActualTable(logicTable string) (string, bool) {
	for _, each := range u.Tables {
		if strings.EqualFold(each.LogicName, logicTable) {
			return each.ActualName, true
		}
	}
	return "", false
}

// Contains whether node is one of this unit's tables
func (u Unit) Contains(node rule.DataNode) bool {
	if !strings.EqualFold(u.DataSourceName, node.DataSourceName) {
		return false
	}
	for _, each := range u.Tables {
		if strings.EqualFold(each.ActualName, node.TableName) {
			return true
		}
	}
	return false
}

func (u Unit) String() string {
	var sb strings.Builder
	sb.WriteString(u.DataSourceName)
	sb.WriteString("[")
	for i, each := range u.Tables {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(each.LogicName)
		sb.WriteString(":")
		sb.WriteString(each.ActualName)
	}
	sb.WriteString("]")
	return sb.String()
}

// Result the units a statement runs on. An always-false result has no unit and is not
// an error: the statement affects no row.
type Result struct {
	Units       []Unit
	AlwaysFalse bool
	// ConditionNodes data nodes each sharding condition resolved to, aligned with the
	// conditions routed; used to place inserted rows.
	ConditionNodes [][]rule.DataNode
}

// DataSourceNames distinct data sources of the units, in unit order
func (r *Result) DataSourceNames() []string {
	var result []string
	for _, u := range r.Units {
		found := false
		for _, each := range result {
			if strings.EqualFold(each, u.DataSourceName) {
				found = true
				break
			}
		}
		if !found {
			result = append(result, u.DataSourceName)
		}
	}
	return result
}

func (r *Result) String() string {
	if r.AlwaysFalse {
		return "always false"
	}
	parts := make([]string, 0, len(r.Units))
	for _, u := range r.Units {
		parts = append(parts, u.String())
	}
	return strings.Join(parts, "; ")
}
