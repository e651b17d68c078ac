package rewrite

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser/dependency/sqltypes"

	"gorm/shardroute/parser"
)

const literalTimeLayout = "2006-01-02 15:04:05.999999"

// Literal renders a Go value as MySQL literal text
func Literal(value interface{}) (string, error) {
	return DialectLiteral(parser.MySQL, value)
}

// DialectLiteral renders a Go value as literal text of dialect.
// MySQL strings are escaped with backslashes; PostgreSQL strings only double the quote,
// backslashes stay literal under standard_conforming_strings.
func DialectLiteral(dialect parser.Dialect, value interface{}) (string, error) {
	v, err := literalValue(value)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		if dialect == parser.PostgreSQL {
			return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
		}
	case []byte:
		if dialect == parser.PostgreSQL {
			return `'\x` + hex.EncodeToString(v) + "'", nil
		}
	case float32:
		return string(strconv.AppendFloat(nil, float64(v), 'g', -1, 32)), nil
	}
	sv, err := sqltypes.InterfaceToValue(v)
	if err != nil {
		return "", errors.Wrapf(err, "cannot render %T as literal", value)
	}
	buf := &bytes.Buffer{}
	sv.EncodeSQL(buf)
	return buf.String(), nil
}

// literalValue narrows value to nil, bool, string, []byte, int64, uint64, float32 or float64
func literalValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, bool, string, []byte, int64, uint64, float32, float64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case time.Time:
		return v.Format(literalTimeLayout), nil
	case driver.Valuer:
		inner, err := v.Value()
		if err != nil {
			return nil, errors.Wrap(err, "literal value")
		}
		if _, again := inner.(driver.Valuer); again {
			return nil, errors.Errorf("cannot render %T as literal", value)
		}
		return literalValue(inner)
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, errors.Errorf("cannot render %T as literal", value)
}
