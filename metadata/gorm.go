package metadata

import (
	"strings"

	"gorm.io/gorm"

	"gorm/shardroute/rule"
)

// GormDatabase answers lookups from the physical data sources through gorm's Migrator.
// A logic table is checked on its first data node; the logic index of a sharded table
// is looked up with the actual-table suffix it carries on that node.
type GormDatabase struct {
	holder *rule.Holder
	// physical data source name -> db
	dataSources map[string]*gorm.DB
	schema      string
}

func NewGormDatabase(holder *rule.Holder, schema string, dataSources map[string]*gorm.DB) *GormDatabase {
	return &GormDatabase{holder: holder, schema: schema, dataSources: dataSources}
}

func (d *GormDatabase) Schema(name string) (Schema, bool) {
	if d.schema != "" && !strings.EqualFold(name, d.schema) {
		return nil, false
	}
	return gormSchema{d}, true
}

type gormSchema struct {
	*GormDatabase
}

func (s gormSchema) node(table string) (rule.DataNode, *gorm.DB, bool) {
	current := s.holder.Load()
	node, err := current.FindDataNode("", table)
	if err != nil {
		return rule.DataNode{}, nil, false
	}
	db, ok := s.dataSources[current.ActualDataSourceName(node.DataSourceName, true)]
	return node, db, ok
}

func (s gormSchema) HasTable(table string) bool {
	node, db, ok := s.node(table)
	return ok && db.Migrator().HasTable(node.TableName)
}

func (s gormSchema) HasIndex(table, index string) bool {
	node, db, ok := s.node(table)
	if !ok {
		return false
	}
	if db.Migrator().HasIndex(node.TableName, index) {
		return true
	}
	return node.TableName != table && db.Migrator().HasIndex(node.TableName, index+"_"+node.TableName)
}

func (s gormSchema) ContainsIndex(index string) bool {
	current := s.holder.Load()
	if tr, ok := current.FindTableRuleByLogicIndex(index); ok {
		return s.HasIndex(tr.LogicTable, index)
	}
	return false
}
