package rule

import (
	"strings"

	"github.com/pkg/errors"
)

// Encryptor turns a plaintext value into its stored form; cryptography lives with the caller.
type Encryptor interface {
	Encrypt(column string, plain interface{}) (interface{}, error)
}

// AssistedEncryptor additionally derives a queryable value (e.g. a digest) for equality lookups
type AssistedEncryptor interface {
	Encryptor
	AssistedEncrypt(column string, plain interface{}) (interface{}, error)
}

type EncryptColumnConfiguration struct {
	CipherColumn        string `yaml:"cipherColumn" json:"cipherColumn"`
	AssistedQueryColumn string `yaml:"assistedQueryColumn" json:"assistedQueryColumn"`
	Encryptor           string `yaml:"encryptor" json:"encryptor"`
}

type EncryptTableConfiguration struct {
	Columns map[string]EncryptColumnConfiguration `yaml:"columns" json:"columns"`
}

type EncryptConfiguration struct {
	Tables map[string]EncryptTableConfiguration `yaml:"tables" json:"tables"`
}

// EncryptColumn how one logic column is stored
type EncryptColumn struct {
	LogicColumn         string
	CipherColumn        string
	AssistedQueryColumn string
	Encryptor           Encryptor
}

// EncryptRule logic table -> logic column -> encrypt column, lookups are case-insensitive
type EncryptRule struct {
	tables map[string][]EncryptColumn
}

func newEncryptRule(cfg *EncryptConfiguration, encryptors map[string]Encryptor) (*EncryptRule, error) {
	r := &EncryptRule{tables: map[string][]EncryptColumn{}}
	if cfg == nil {
		return r, nil
	}
	for table, tableCfg := range cfg.Tables {
		var columns []EncryptColumn
		for column, columnCfg := range tableCfg.Columns {
			encryptor, ok := encryptors[strings.ToLower(columnCfg.Encryptor)]
			if !ok {
				return nil, errors.Wrapf(ErrEncryptorNotFound, "%q for %s.%s", columnCfg.Encryptor, table, column)
			}
			if columnCfg.AssistedQueryColumn != "" {
				if _, ok := encryptor.(AssistedEncryptor); !ok {
					return nil, errors.Errorf("encryptor %q for %s.%s cannot derive assisted query values", columnCfg.Encryptor, table, column)
				}
			}
			cipher := columnCfg.CipherColumn
			if cipher == "" {
				cipher = column
			}
			columns = append(columns, EncryptColumn{
				LogicColumn:         column,
				CipherColumn:        cipher,
				AssistedQueryColumn: columnCfg.AssistedQueryColumn,
				Encryptor:           encryptor,
			})
		}
		r.tables[strings.ToLower(table)] = columns
	}
	return r, nil
}

// FindColumn the encrypt configuration of table.column, if any
func (r *EncryptRule) FindColumn(table, column string) (EncryptColumn, bool) {
	if r == nil {
		return EncryptColumn{}, false
	}
	for _, each := range r.tables[strings.ToLower(table)] {
		if strings.EqualFold(each.LogicColumn, column) {
			return each, true
		}
	}
	return EncryptColumn{}, false
}

// IsEncryptTable whether any column of table is encrypted
func (r *EncryptRule) IsEncryptTable(table string) bool {
	return r != nil && len(r.tables[strings.ToLower(table)]) > 0
}

// Encrypt ciphertext for the plain value
func (c EncryptColumn) Encrypt(plain interface{}) (interface{}, error) {
	value, err := c.Encryptor.Encrypt(c.LogicColumn, plain)
	return value, errors.Wrapf(err, "encrypt column %s", c.LogicColumn)
}

// AssistedValue the assisted query value for the plain value
func (c EncryptColumn) AssistedValue(plain interface{}) (interface{}, error) {
	assisted, ok := c.Encryptor.(AssistedEncryptor)
	if !ok || c.AssistedQueryColumn == "" {
		return nil, errors.Errorf("column %s has no assisted query column", c.LogicColumn)
	}
	value, err := assisted.AssistedEncrypt(c.LogicColumn, plain)
	return value, errors.Wrapf(err, "assisted encrypt column %s", c.LogicColumn)
}
