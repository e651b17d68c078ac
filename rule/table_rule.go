package rule

import (
	"strings"

	"github.com/pkg/errors"
)

// TableRule a logic table and the physical tables that back it
type TableRule struct {
	LogicTable        string
	LogicIndex        string
	DatabaseStrategy  ShardingStrategy
	TableStrategy     ShardingStrategy
	GenerateKeyColumn string
	KeyGenerator      KeyGenerator

	actualDataNodes []DataNode
	// nodeIndex position in actualDataNodes, keyed by the lower-cased node
	nodeIndex   map[DataNode]int
	dataSources []string
	tables      map[string][]string
}

// NewTableRule nodes must reference known data sources; without nodes the logic table
// is placed on every data source under its own name.
func NewTableRule(logicTable string, dataSources []string, nodes []DataNode) (*TableRule, error) {
	if len(nodes) == 0 {
		for _, ds := range dataSources {
			nodes = append(nodes, DataNode{DataSourceName: ds, TableName: logicTable})
		}
	}
	r := &TableRule{LogicTable: logicTable, nodeIndex: map[DataNode]int{}, tables: map[string][]string{}}
	for _, node := range nodes {
		if !containsFold(dataSources, node.DataSourceName) {
			return nil, errors.Wrapf(ErrDataSourceNotFound, "%q in data node %s of table %s", node.DataSourceName, node, logicTable)
		}
		if _, ok := r.nodeIndex[node.lower()]; ok {
			continue
		}
		r.nodeIndex[node.lower()] = len(r.actualDataNodes)
		key := strings.ToLower(node.DataSourceName)
		if _, ok := r.tables[key]; !ok {
			r.dataSources = append(r.dataSources, node.DataSourceName)
		}
		r.tables[key] = append(r.tables[key], node.TableName)
		r.actualDataNodes = append(r.actualDataNodes, node)
	}
	return r, nil
}

// ActualDataNodes in declaration order
func (r *TableRule) ActualDataNodes() []DataNode {
	return append([]DataNode(nil), r.actualDataNodes...)
}

// ActualDataSourceNames distinct, in order of first appearance
func (r *TableRule) ActualDataSourceNames() []string {
	return copyStrings(r.dataSources)
}

// ActualTableNames the actual tables of this rule on one data source
func (r *TableRule) ActualTableNames(dataSource string) []string {
	return copyStrings(r.tables[strings.ToLower(dataSource)])
}

// ActualTables every distinct actual table name
func (r *TableRule) ActualTables() []string {
	var result []string
	for _, node := range r.actualDataNodes {
		if !containsFold(result, node.TableName) {
			result = append(result, node.TableName)
		}
	}
	return result
}

// IsExisted whether actualTable backs this logic table on any data source
func (r *TableRule) IsExisted(actualTable string) bool {
	for _, node := range r.actualDataNodes {
		if strings.EqualFold(node.TableName, actualTable) {
			return true
		}
	}
	return false
}

// DataNodeIndex position of node in the declared node list
func (r *TableRule) DataNodeIndex(node DataNode) (int, bool) {
	i, ok := r.nodeIndex[node.lower()]
	return i, ok
}

func (r *TableRule) actualTableIndex(dataSource, actualTable string) int {
	for i, each := range r.tables[strings.ToLower(dataSource)] {
		if strings.EqualFold(each, actualTable) {
			return i
		}
	}
	return -1
}

// BindingTableRule logic tables sharded identically, joined without cartesian products
type BindingTableRule struct {
	tableRules []*TableRule
}

func NewBindingTableRule(tableRules ...*TableRule) *BindingTableRule {
	return &BindingTableRule{tableRules: tableRules}
}

func (r *BindingTableRule) HasLogicTable(logicTable string) bool {
	return r.find(logicTable) != nil
}

func (r *BindingTableRule) LogicTables() []string {
	result := make([]string, 0, len(r.tableRules))
	for _, each := range r.tableRules {
		result = append(result, each.LogicTable)
	}
	return result
}

func (r *BindingTableRule) TableRules() []*TableRule {
	return append([]*TableRule(nil), r.tableRules...)
}

// BindingActualTable deduces logicTable's actual table on dataSource from the position
// otherActualTable holds among otherLogicTable's actual tables there.
func (r *BindingTableRule) BindingActualTable(dataSource, logicTable, otherLogicTable, otherActualTable string) (string, error) {
	target, other := r.find(logicTable), r.find(otherLogicTable)
	if target == nil || other == nil {
		return "", errors.Wrapf(ErrBindingTableMisaligned, "%s and %s are not bound together", logicTable, otherLogicTable)
	}
	index := other.actualTableIndex(dataSource, otherActualTable)
	if index < 0 {
		return "", errors.Wrapf(ErrBindingTableMisaligned, "%s.%s is not an actual table of %s", dataSource, otherActualTable, otherLogicTable)
	}
	actualTables := target.tables[strings.ToLower(dataSource)]
	if index >= len(actualTables) {
		return "", errors.Wrapf(ErrBindingTableMisaligned, "%s has no actual table at position %d on %s", logicTable, index, dataSource)
	}
	return actualTables[index], nil
}

func (r *BindingTableRule) find(logicTable string) *TableRule {
	for _, each := range r.tableRules {
		if strings.EqualFold(each.LogicTable, logicTable) {
			return each
		}
	}
	return nil
}

// BroadcastTableRule a table fully replicated on every data source
type BroadcastTableRule struct {
	LogicTable        string
	GenerateKeyColumn string
}
