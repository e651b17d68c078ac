package metadata

import (
	"strings"
	"sync"
)

// Schema table and index lookups of one schema; names compare case-insensitively
type Schema interface {
	HasTable(table string) bool
	HasIndex(table, index string) bool
	// ContainsIndex whether any table of the schema owns index
	ContainsIndex(index string) bool
}

// Database resolves schemas by name
type Database interface {
	Schema(name string) (Schema, bool)
}

// MemoryDatabase schemas kept in memory
type MemoryDatabase struct {
	mu      sync.RWMutex
	schemas map[string]*MemorySchema
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{schemas: map[string]*MemorySchema{}}
}

// AddSchema returns the schema, creating it on first use
func (d *MemoryDatabase) AddSchema(name string) *MemorySchema {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(name)
	if s, ok := d.schemas[key]; ok {
		return s
	}
	s := NewMemorySchema()
	d.schemas[key] = s
	return s
}

func (d *MemoryDatabase) Schema(name string) (Schema, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schemas[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return s, true
}

// MemorySchema table -> index names
type MemorySchema struct {
	mu     sync.RWMutex
	tables map[string]map[string]struct{}
}

func NewMemorySchema() *MemorySchema {
	return &MemorySchema{tables: map[string]map[string]struct{}{}}
}

func (s *MemorySchema) AddTable(table string, indexes ...string) *MemorySchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(table)
	if _, ok := s.tables[key]; !ok {
		s.tables[key] = map[string]struct{}{}
	}
	for _, index := range indexes {
		s.tables[key][strings.ToLower(index)] = struct{}{}
	}
	return s
}

func (s *MemorySchema) AddIndex(table, index string) *MemorySchema {
	return s.AddTable(table, index)
}

func (s *MemorySchema) HasTable(table string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[strings.ToLower(table)]
	return ok
}

func (s *MemorySchema) HasIndex(table, index string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indexes, ok := s.tables[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = indexes[strings.ToLower(index)]
	return ok
}

func (s *MemorySchema) ContainsIndex(index string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, indexes := range s.tables {
		if _, ok := indexes[strings.ToLower(index)]; ok {
			return true
		}
	}
	return false
}
