package route

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// ErrMixedRoute sharded and default data source tables in one statement
var ErrMixedRoute = errors.New("cannot route sharded tables together with tables of the default data source")

// Router resolves statements to units against one rule snapshot
type Router struct {
	rule *rule.ShardingRule
}

func New(shardingRule *rule.ShardingRule) *Router {
	return &Router{rule: shardingRule}
}

// Route resolves stmt. conditions may be nil, meaning unconstrained.
func (rt *Router) Route(ctx context.Context, stmt *statement.Statement, conditions *ShardingConditions) (*Result, error) {
	if stmt == nil {
		return nil, errors.New("nil statement")
	}
	if conditions == nil {
		conditions = &ShardingConditions{}
	}
	tables := routeTables(rt.rule, stmt)
	if stmt.Kind.IsDDL() {
		return rt.routeDDL(ctx, tables)
	}
	if conditions.AlwaysFalse {
		return &Result{AlwaysFalse: true}, nil
	}
	switch {
	case len(tables) == 0:
		if stmt.Kind.IsQuery() {
			return rt.unicast(nil), nil
		}
		return rt.broadcast(nil), nil
	case rt.rule.IsAllInDefaultDataSource(tables):
		return rt.defaultRoute(tables), nil
	case rt.rule.IsAllBroadcastTables(tables):
		if stmt.Kind.IsQuery() {
			return rt.unicast(tables), nil
		}
		return rt.broadcast(tables), nil
	}
	return rt.routeSharding(ctx, tables, conditions.Conditions)
}

// routeTables referenced tables; index DDL without a table is resolved through the logic index
func routeTables(shardingRule *rule.ShardingRule, stmt *statement.Statement) []string {
	tables := stmt.TableNames()
	for _, index := range stmt.Indexes {
		if index.Table != nil {
			if !containsFold(tables, index.Table.Name.Value) {
				tables = append(tables, index.Table.Name.Value)
			}
			continue
		}
		if tr, ok := shardingRule.FindTableRuleByLogicIndex(index.Name.Value); ok && !containsFold(tables, tr.LogicTable) {
			tables = append(tables, tr.LogicTable)
		}
	}
	return tables
}

func (rt *Router) routeDDL(ctx context.Context, tables []string) (*Result, error) {
	switch {
	case len(tables) == 0:
		return rt.broadcast(nil), nil
	case rt.rule.IsAllInDefaultDataSource(tables):
		return rt.defaultRoute(tables), nil
	case rt.rule.IsAllBroadcastTables(tables):
		return rt.broadcast(tables), nil
	}
	// 分片表的 DDL 下发到每个数据节点
	return rt.routeSharding(ctx, tables, nil)
}

func (rt *Router) routeSharding(ctx context.Context, tables []string, conditions []ShardingCondition) (*Result, error) {
	var sharded, broadcast []string
	for _, each := range tables {
		switch {
		case rt.rule.IsShardingTable(each):
			sharded = append(sharded, each)
		case rt.rule.IsBroadcastTable(each):
			broadcast = append(broadcast, each)
		default:
			if _, err := rt.rule.GetTableRule(each); err != nil {
				return nil, err
			}
			return nil, errors.Wrapf(ErrMixedRoute, "table %s", each)
		}
	}

	result := &Result{}
	nodes := make(map[string][]rule.DataNode, len(sharded))
	for i, logicTable := range sharded {
		tr, _ := rt.rule.FindTableRule(logicTable)
		all, perCondition, err := rt.routeTable(ctx, tr, conditions)
		if err != nil {
			return nil, err
		}
		nodes[strings.ToLower(logicTable)] = all
		if i == 0 {
			result.ConditionNodes = perCondition
		}
	}

	var units []Unit
	var err error
	if len(sharded) == 1 || rt.rule.IsAllBindingTables(sharded) {
		units, err = rt.bindingUnits(sharded, nodes)
	} else {
		units = rt.cartesianUnits(sharded, nodes)
	}
	if err != nil {
		return nil, err
	}
	for i := range units {
		for _, each := range broadcast {
			units[i].Tables = append(units[i].Tables, TableMapper{LogicName: each, ActualName: each})
		}
	}
	result.Units = units
	result.AlwaysFalse = len(units) == 0
	return result, nil
}

// routeTable the nodes of one table for every condition, and their union in declaration order
func (rt *Router) routeTable(ctx context.Context, tr *rule.TableRule, conditions []ShardingCondition) ([]rule.DataNode, [][]rule.DataNode, error) {
	routed := conditions
	if len(routed) == 0 {
		routed = []ShardingCondition{{}}
	}
	var all []rule.DataNode
	perCondition := make([][]rule.DataNode, 0, len(routed))
	for _, condition := range routed {
		nodes, err := rt.routeCondition(ctx, tr, condition)
		if err != nil {
			return nil, nil, err
		}
		perCondition = append(perCondition, nodes)
		for _, node := range nodes {
			if !containsNode(all, node) {
				all = append(all, node)
			}
		}
	}
	rt.sortNodes(tr, all)
	if len(conditions) == 0 {
		perCondition = nil
	}
	return all, perCondition, nil
}

func (rt *Router) routeCondition(ctx context.Context, tr *rule.TableRule, condition ShardingCondition) ([]rule.DataNode, error) {
	values := condition.ValuesOf(tr.LogicTable)
	databaseStrategy := rt.rule.DatabaseShardingStrategy(tr)
	databaseValues := values
	if rule.IsHintStrategy(databaseStrategy) {
		databaseValues = hintValues(ctx, tr.LogicTable, true)
	}
	dataSources, err := databaseStrategy.DoSharding(tr.ActualDataSourceNames(), databaseValues)
	if err != nil {
		return nil, errors.Wrapf(err, "database sharding of %s", tr.LogicTable)
	}
	tableStrategy := rt.rule.TableShardingStrategy(tr)
	tableValues := values
	if rule.IsHintStrategy(tableStrategy) {
		tableValues = hintValues(ctx, tr.LogicTable, false)
	}
	var nodes []rule.DataNode
	for _, ds := range dataSources {
		actualTables, err := tableStrategy.DoSharding(tr.ActualTableNames(ds), tableValues)
		if err != nil {
			return nil, errors.Wrapf(err, "table sharding of %s", tr.LogicTable)
		}
		for _, actual := range actualTables {
			nodes = append(nodes, rule.DataNode{DataSourceName: ds, TableName: actual})
		}
	}
	rt.sortNodes(tr, nodes)
	return nodes, nil
}

// sortNodes data source declaration order, then actual node declaration order
func (rt *Router) sortNodes(tr *rule.TableRule, nodes []rule.DataNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		di, dj := rt.rule.DataSourceIndex(nodes[i].DataSourceName), rt.rule.DataSourceIndex(nodes[j].DataSourceName)
		if di != dj {
			return di < dj
		}
		ni, _ := tr.DataNodeIndex(nodes[i])
		nj, _ := tr.DataNodeIndex(nodes[j])
		return ni < nj
	})
}

// bindingUnits route the first table and deduce its partners positionally; a unit is kept
// only when every partner's own routing agrees with the deduction.
func (rt *Router) bindingUnits(sharded []string, nodes map[string][]rule.DataNode) ([]Unit, error) {
	primary := sharded[0]
	binding, _ := rt.rule.FindBindingTableRule(primary)
	var units []Unit
	for _, node := range nodes[strings.ToLower(primary)] {
		unit := Unit{DataSourceName: node.DataSourceName, Tables: []TableMapper{{LogicName: primary, ActualName: node.TableName}}}
		aligned := true
		for _, partner := range sharded[1:] {
			actual, err := binding.BindingActualTable(node.DataSourceName, partner, primary, node.TableName)
			if err != nil {
				return nil, err
			}
			if !containsNode(nodes[strings.ToLower(partner)], rule.DataNode{DataSourceName: node.DataSourceName, TableName: actual}) {
				aligned = false
				break
			}
			unit.Tables = append(unit.Tables, TableMapper{LogicName: partner, ActualName: actual})
		}
		if aligned {
			units = append(units, unit)
		}
	}
	return units, nil
}

// cartesianUnits every combination of the tables' actual tables on a shared data source
func (rt *Router) cartesianUnits(sharded []string, nodes map[string][]rule.DataNode) []Unit {
	var units []Unit
	for _, ds := range rt.rule.DataSourceNames() {
		combinations := [][]TableMapper{{}}
		for _, logicTable := range sharded {
			var actualTables []string
			for _, node := range nodes[strings.ToLower(logicTable)] {
				if strings.EqualFold(node.DataSourceName, ds) {
					actualTables = append(actualTables, node.TableName)
				}
			}
			next := make([][]TableMapper, 0, len(combinations)*len(actualTables))
			for _, combination := range combinations {
				for _, actual := range actualTables {
					mappers := append(append([]TableMapper(nil), combination...), TableMapper{LogicName: logicTable, ActualName: actual})
					next = append(next, mappers)
				}
			}
			combinations = next
		}
		for _, combination := range combinations {
			units = append(units, Unit{DataSourceName: ds, Tables: combination})
		}
	}
	return units
}

func (rt *Router) defaultRoute(tables []string) *Result {
	return &Result{Units: []Unit{{DataSourceName: rt.rule.DefaultDataSourceName(), Tables: identity(tables)}}}
}

// unicast one data source is enough: the default one if configured, else the first
func (rt *Router) unicast(tables []string) *Result {
	ds := rt.rule.DefaultDataSourceName()
	if ds == "" {
		ds = rt.rule.DataSourceNames()[0]
	}
	return &Result{Units: []Unit{{DataSourceName: ds, Tables: identity(tables)}}}
}

func (rt *Router) broadcast(tables []string) *Result {
	result := &Result{}
	for _, ds := range rt.rule.DataSourceNames() {
		result.Units = append(result.Units, Unit{DataSourceName: ds, Tables: identity(tables)})
	}
	return result
}

func identity(tables []string) []TableMapper {
	mappers := make([]TableMapper, 0, len(tables))
	for _, each := range tables {
		mappers = append(mappers, TableMapper{LogicName: each, ActualName: each})
	}
	return mappers
}

func containsFold(values []string, value string) bool {
	for _, each := range values {
		if strings.EqualFold(each, value) {
			return true
		}
	}
	return false
}

func containsNode(nodes []rule.DataNode, node rule.DataNode) bool {
	for _, each := range nodes {
		if each.Equal(node) {
			return true
		}
	}
	return false
}
