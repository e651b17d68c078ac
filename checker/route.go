package checker

import (
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// CheckInsertRoute every row inserted into a sharded table must land on exactly one data node
func CheckInsertRoute(shardingRule *rule.ShardingRule, stmt *statement.Statement, result *route.Result) error {
	if stmt.Kind != statement.KindInsert || stmt.Insert == nil || result == nil || result.AlwaysFalse {
		return nil
	}
	table := stmt.Insert.Table.Name.Value
	if !shardingRule.IsShardingTable(table) {
		return nil
	}
	for i, nodes := range result.ConditionNodes {
		if len(nodes) <= 1 {
			continue
		}
		names := make([]string, 0, len(nodes))
		for _, node := range nodes {
			names = append(names, node.String())
		}
		return &InsertRoutedToMultipleNodesError{Table: table, Row: i + 1, Nodes: names}
	}
	return nil
}
