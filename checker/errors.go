package checker

import (
	"fmt"
	"strings"
)

// TableExistsError a table to be created already exists
type TableExistsError struct {
	Table string
}

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("table '%s' already exists", e.Table)
}

// NoSuchTableError tables that must exist do not
type NoSuchTableError struct {
	Tables []string
}

func (e *NoSuchTableError) Error() string {
	return fmt.Sprintf("table '%s' does not exist", strings.Join(e.Tables, ", "))
}

// DuplicateIndexError an index to be created or renamed to already exists
type DuplicateIndexError struct {
	Index string
}

func (e *DuplicateIndexError) Error() string {
	return fmt.Sprintf("duplicate index name '%s'", e.Index)
}

// IndexNotExistError an index to be altered or dropped does not exist
type IndexNotExistError struct {
	Index string
}

func (e *IndexNotExistError) Error() string {
	return fmt.Sprintf("index '%s' does not exist", e.Index)
}

// UnsupportedShardingOperationError an operation that cannot be carried out on a sharded table
type UnsupportedShardingOperationError struct {
	Operation string
	Table     string
}

func (e *UnsupportedShardingOperationError) Error() string {
	return fmt.Sprintf("can not support operation '%s' with sharding table '%s'", e.Operation, e.Table)
}

// EngagedViewError a view defined over a sharded table it is not bound to
type EngagedViewError struct {
	View  string
	Table string
}

func (e *EngagedViewError) Error() string {
	return fmt.Sprintf("view '%s' is engaged with sharding table '%s' without binding", e.View, e.Table)
}

// RenamedViewWithoutSameConfigurationError renaming a view across sharding configurations
type RenamedViewWithoutSameConfigurationError struct {
	View    string
	NewView string
}

func (e *RenamedViewWithoutSameConfigurationError) Error() string {
	return fmt.Sprintf("view '%s' can not be renamed to '%s' without the same sharding configuration", e.View, e.NewView)
}

// InsertRoutedToMultipleNodesError an inserted row resolves to more than one data node
type InsertRoutedToMultipleNodesError struct {
	Table string
	Row   int
	Nodes []string
}

func (e *InsertRoutedToMultipleNodesError) Error() string {
	return fmt.Sprintf("row %d inserted into '%s' routes to multiple data nodes: %s", e.Row, e.Table, strings.Join(e.Nodes, ", "))
}
