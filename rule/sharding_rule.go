package rule

import (
	"strings"

	"github.com/pkg/errors"
)

// ShardingRule the immutable aggregate every routing decision reads from
type ShardingRule struct {
	dataSourceNames         []string
	defaultDataSource       string
	tableRules              []*TableRule
	bindingTableRules       []*BindingTableRule
	broadcastTableRules     []*BroadcastTableRule
	defaultDatabaseStrategy ShardingStrategy
	defaultTableStrategy    ShardingStrategy
	defaultKeyColumn        string
	defaultKeyGenerator     KeyGenerator
	readWriteSplits         []*ReadWriteSplitRule
	encryptRule             *EncryptRule
}

// New builds a rule from configuration
func New(cfg *Configuration, opts ...Option) (*ShardingRule, error) {
	if cfg == nil {
		return nil, errors.New("nil sharding configuration")
	}
	o := newOptions(opts)
	r := &ShardingRule{}
	for _, each := range cfg.ReadWriteSplits {
		rw, err := newReadWriteSplitRule(each)
		if err != nil {
			return nil, err
		}
		r.readWriteSplits = append(r.readWriteSplits, rw)
	}
	r.dataSourceNames = r.logicalDataSources(cfg.DataSources)
	if len(r.dataSourceNames) == 0 {
		return nil, errors.Wrap(ErrDataSourceNotFound, "no data source configured")
	}
	if cfg.DefaultDataSource != "" {
		r.defaultDataSource = r.logicalName(cfg.DefaultDataSource)
		if !containsFold(r.dataSourceNames, r.defaultDataSource) {
			return nil, errors.Wrapf(ErrDataSourceNotFound, "default data source %q", cfg.DefaultDataSource)
		}
	}

	var err error
	if r.defaultDatabaseStrategy, err = o.strategy(cfg.DefaultDatabaseStrategy); err != nil {
		return nil, errors.Wrap(err, "default database strategy")
	}
	if r.defaultDatabaseStrategy == nil {
		r.defaultDatabaseStrategy = NoneStrategy{}
	}
	if r.defaultTableStrategy, err = o.strategy(cfg.DefaultTableStrategy); err != nil {
		return nil, errors.Wrap(err, "default table strategy")
	}
	if r.defaultTableStrategy == nil {
		r.defaultTableStrategy = NoneStrategy{}
	}
	defaultKey := cfg.DefaultKeyGenerator
	if defaultKey == nil {
		defaultKey = &KeyGeneratorConfiguration{Type: KeyGeneratorSnowflake}
	}
	r.defaultKeyColumn = defaultKey.Column
	if r.defaultKeyGenerator, err = newKeyGenerator(defaultKey, o.keyGenerators); err != nil {
		return nil, errors.Wrap(err, "default key generator")
	}

	for _, each := range cfg.Tables {
		tr, err := r.newTableRule(each, o)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", each.LogicTable)
		}
		if _, exists := r.FindTableRule(tr.LogicTable); exists {
			return nil, errors.Errorf("duplicate table rule %s", tr.LogicTable)
		}
		r.tableRules = append(r.tableRules, tr)
	}
	for _, group := range cfg.BindingTables {
		var members []*TableRule
		for _, name := range splitNames(group) {
			tr, ok := r.FindTableRule(name)
			if !ok {
				return nil, errors.Wrapf(ErrTableRuleNotFound, "binding table %s", name)
			}
			members = append(members, tr)
		}
		r.bindingTableRules = append(r.bindingTableRules, NewBindingTableRule(members...))
	}
	for _, each := range cfg.BroadcastTables {
		r.broadcastTableRules = append(r.broadcastTableRules, &BroadcastTableRule{LogicTable: each.Table, GenerateKeyColumn: each.GenerateKeyColumn})
	}
	if r.encryptRule, err = newEncryptRule(cfg.Encrypt, o.encryptors); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ShardingRule) newTableRule(cfg TableConfiguration, o *options) (*TableRule, error) {
	var nodes []DataNode
	if cfg.ActualDataNodes != "" {
		expr, err := ParseInline(cfg.ActualDataNodes)
		if err != nil {
			return nil, err
		}
		texts, err := expr.Expand()
		if err != nil {
			return nil, err
		}
		for _, text := range texts {
			node, err := NewDataNode(text)
			if err != nil {
				return nil, err
			}
			node.DataSourceName = r.logicalName(node.DataSourceName)
			nodes = append(nodes, node)
		}
	}
	tr, err := NewTableRule(cfg.LogicTable, r.dataSourceNames, nodes)
	if err != nil {
		return nil, err
	}
	tr.LogicIndex = cfg.LogicIndex
	if tr.DatabaseStrategy, err = o.strategy(cfg.DatabaseStrategy); err != nil {
		return nil, errors.Wrap(err, "database strategy")
	}
	if tr.TableStrategy, err = o.strategy(cfg.TableStrategy); err != nil {
		return nil, errors.Wrap(err, "table strategy")
	}
	if cfg.KeyGenerator != nil {
		tr.GenerateKeyColumn = cfg.KeyGenerator.Column
		if cfg.KeyGenerator.Type != "" {
			if tr.KeyGenerator, err = newKeyGenerator(cfg.KeyGenerator, o.keyGenerators); err != nil {
				return nil, err
			}
		}
	}
	return tr, nil
}

// logicalDataSources 读写分离组以组名代替主库，从库不单独暴露
func (r *ShardingRule) logicalDataSources(raw []string) []string {
	var result []string
	for _, name := range raw {
		logical := r.logicalName(name)
		if rw := r.findReadWriteSplit(logical); rw == nil && r.isReplica(name) {
			continue
		}
		if !containsFold(result, logical) {
			result = append(result, logical)
		}
	}
	for _, rw := range r.readWriteSplits {
		if !containsFold(result, rw.Name) {
			result = append(result, rw.Name)
		}
	}
	return result
}

func (r *ShardingRule) logicalName(name string) string {
	for _, rw := range r.readWriteSplits {
		if strings.EqualFold(rw.Primary, name) || strings.EqualFold(rw.Name, name) {
			return rw.Name
		}
	}
	return name
}

func (r *ShardingRule) isReplica(name string) bool {
	for _, rw := range r.readWriteSplits {
		if containsFold(rw.Replicas, name) {
			return true
		}
	}
	return false
}

func (r *ShardingRule) findReadWriteSplit(name string) *ReadWriteSplitRule {
	for _, rw := range r.readWriteSplits {
		if strings.EqualFold(rw.Name, name) {
			return rw
		}
	}
	return nil
}

// DataSourceNames logical data source names in declaration order
func (r *ShardingRule) DataSourceNames() []string {
	return copyStrings(r.dataSourceNames)
}

// DefaultDataSourceName empty when unsharded tables cannot be routed
func (r *ShardingRule) DefaultDataSourceName() string {
	return r.defaultDataSource
}

// DataSourceIndex declaration position of a logical data source, -1 when unknown
func (r *ShardingRule) DataSourceIndex(name string) int {
	for i, each := range r.dataSourceNames {
		if strings.EqualFold(each, name) {
			return i
		}
	}
	return -1
}

// ActualDataSourceName resolves a logical data source to the physical one serving a
// write (primary) or a read (a replica picked by the group's load balancer).
func (r *ShardingRule) ActualDataSourceName(logical string, write bool) string {
	if rw := r.findReadWriteSplit(logical); rw != nil {
		return rw.DataSourceName(write)
	}
	return logical
}

// ActualDefaultDataSourceName the primary behind the default data source
func (r *ShardingRule) ActualDefaultDataSourceName() string {
	if r.defaultDataSource == "" {
		return ""
	}
	return r.ActualDataSourceName(r.defaultDataSource, true)
}

// ReadWriteSplitRules configured groups
func (r *ShardingRule) ReadWriteSplitRules() []*ReadWriteSplitRule {
	return append([]*ReadWriteSplitRule(nil), r.readWriteSplits...)
}

func (r *ShardingRule) TableRules() []*TableRule {
	return append([]*TableRule(nil), r.tableRules...)
}

func (r *ShardingRule) BindingTableRules() []*BindingTableRule {
	return append([]*BindingTableRule(nil), r.bindingTableRules...)
}

func (r *ShardingRule) BroadcastTableRules() []*BroadcastTableRule {
	return append([]*BroadcastTableRule(nil), r.broadcastTableRules...)
}

func (r *ShardingRule) EncryptRule() *EncryptRule {
	return r.encryptRule
}

// FindTableRule explicit rule of a logic table, case-insensitive
func (r *ShardingRule) FindTableRule(logicTable string) (*TableRule, bool) {
	for _, each := range r.tableRules {
		if strings.EqualFold(each.LogicTable, logicTable) {
			return each, true
		}
	}
	return nil, false
}

// FindTableRuleByActualTable the rule an actual table belongs to
func (r *ShardingRule) FindTableRuleByActualTable(actualTable string) (*TableRule, bool) {
	for _, each := range r.tableRules {
		if each.IsExisted(actualTable) {
			return each, true
		}
	}
	return nil, false
}

// FindTableRuleByLogicIndex the rule whose logic index is index
func (r *ShardingRule) FindTableRuleByLogicIndex(index string) (*TableRule, bool) {
	for _, each := range r.tableRules {
		if each.LogicIndex != "" && strings.EqualFold(each.LogicIndex, index) {
			return each, true
		}
	}
	return nil, false
}

// GetTableRule explicit rule, else broadcast over every data source, else a single
// node on the default data source.
func (r *ShardingRule) GetTableRule(logicTable string) (*TableRule, error) {
	if tr, ok := r.FindTableRule(logicTable); ok {
		return tr, nil
	}
	if r.IsBroadcastTable(logicTable) {
		return NewTableRule(logicTable, r.dataSourceNames, nil)
	}
	if r.defaultDataSource != "" {
		return NewTableRule(logicTable, r.dataSourceNames, []DataNode{{DataSourceName: r.defaultDataSource, TableName: logicTable}})
	}
	return nil, errors.Wrapf(ErrTableRuleNotFound, "cannot find table rule and default data source with logic table %q", logicTable)
}

// FindBindingTableRule the binding group a logic table belongs to
func (r *ShardingRule) FindBindingTableRule(logicTable string) (*BindingTableRule, bool) {
	for _, each := range r.bindingTableRules {
		if each.HasLogicTable(logicTable) {
			return each, true
		}
	}
	return nil, false
}

// IsShardingTable whether an explicit table rule exists
func (r *ShardingRule) IsShardingTable(logicTable string) bool {
	_, ok := r.FindTableRule(logicTable)
	return ok
}

func (r *ShardingRule) IsBroadcastTable(logicTable string) bool {
	for _, each := range r.broadcastTableRules {
		if strings.EqualFold(each.LogicTable, logicTable) {
			return true
		}
	}
	return false
}

// IsAllBroadcastTables non-empty and every table is broadcast
func (r *ShardingRule) IsAllBroadcastTables(logicTables []string) bool {
	if len(logicTables) == 0 {
		return false
	}
	for _, each := range logicTables {
		if !r.IsBroadcastTable(each) {
			return false
		}
	}
	return true
}

// IsAllBindingTables the binding group of the first bound name must contain every name
func (r *ShardingRule) IsAllBindingTables(logicTables []string) bool {
	if len(logicTables) == 0 {
		return false
	}
	var group *BindingTableRule
	for _, each := range logicTables {
		if found, ok := r.FindBindingTableRule(each); ok {
			group = found
			break
		}
	}
	if group == nil {
		return false
	}
	for _, each := range logicTables {
		if !group.HasLogicTable(each) {
			return false
		}
	}
	return true
}

// IsAllInDefaultDataSource non-empty and no table is sharded or broadcast
func (r *ShardingRule) IsAllInDefaultDataSource(logicTables []string) bool {
	if r.defaultDataSource == "" || len(logicTables) == 0 {
		return false
	}
	for _, each := range logicTables {
		if r.IsShardingTable(each) || r.IsBroadcastTable(each) {
			return false
		}
	}
	return true
}

// DatabaseShardingStrategy the rule's own strategy or the default
func (r *ShardingRule) DatabaseShardingStrategy(tr *TableRule) ShardingStrategy {
	if tr != nil && tr.DatabaseStrategy != nil {
		return tr.DatabaseStrategy
	}
	return r.defaultDatabaseStrategy
}

// TableShardingStrategy the rule's own strategy or the default
func (r *ShardingRule) TableShardingStrategy(tr *TableRule) ShardingStrategy {
	if tr != nil && tr.TableStrategy != nil {
		return tr.TableStrategy
	}
	return r.defaultTableStrategy
}

// IsShardingColumn whether column drives the database or table strategy of logicTable
func (r *ShardingRule) IsShardingColumn(column, logicTable string) bool {
	tr, ok := r.FindTableRule(logicTable)
	if !ok {
		return false
	}
	return containsFold(r.DatabaseShardingStrategy(tr).ShardingColumns(), column) ||
		containsFold(r.TableShardingStrategy(tr).ShardingColumns(), column)
}

// FindGenerateKeyColumn the auto-generated key column of a sharded or broadcast table
func (r *ShardingRule) FindGenerateKeyColumn(logicTable string) (string, bool) {
	if tr, ok := r.FindTableRule(logicTable); ok {
		if tr.GenerateKeyColumn != "" {
			return tr.GenerateKeyColumn, true
		}
		return r.defaultKeyColumn, r.defaultKeyColumn != ""
	}
	for _, each := range r.broadcastTableRules {
		if strings.EqualFold(each.LogicTable, logicTable) && each.GenerateKeyColumn != "" {
			return each.GenerateKeyColumn, true
		}
	}
	return "", false
}

// GenerateKey a new key from the table's generator or the default one
func (r *ShardingRule) GenerateKey(logicTable string) (interface{}, error) {
	if tr, ok := r.FindTableRule(logicTable); ok {
		if tr.KeyGenerator != nil {
			return tr.KeyGenerator.GenerateKey(), nil
		}
		return r.defaultKeyGenerator.GenerateKey(), nil
	}
	if r.IsBroadcastTable(logicTable) {
		return r.defaultKeyGenerator.GenerateKey(), nil
	}
	return nil, errors.Wrapf(ErrTableRuleNotFound, "cannot generate key for %q", logicTable)
}

// FindDataNode the first data node of logicTable, on dataSource when it is not empty
func (r *ShardingRule) FindDataNode(dataSource, logicTable string) (DataNode, error) {
	tr, err := r.GetTableRule(logicTable)
	if err != nil {
		return DataNode{}, err
	}
	for _, each := range tr.actualDataNodes {
		if dataSource == "" || strings.EqualFold(each.DataSourceName, dataSource) {
			return each, nil
		}
	}
	return DataNode{}, errors.Wrapf(ErrDataNodeNotFound, "cannot find actual data node for data source %q and logic table %q", dataSource, logicTable)
}
