package shardroute

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// fromDollarMarks turns postgres $n parameters into ordered ? markers, the returned
// vars follow marker order
func fromDollarMarks(sql string, vars []interface{}) (string, []interface{}, error) {
	if !strings.Contains(sql, "$") {
		return sql, vars, nil
	}
	var (
		b       strings.Builder
		ordered = make([]interface{}, 0, len(vars))
		quote   byte
	)
	b.Grow(len(sql))
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '$' && i+1 < len(sql) && isDigit(sql[i+1]):
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			n, _ := strconv.Atoi(sql[i+1 : j])
			if n < 1 || n > len(vars) {
				return "", nil, errors.Errorf("parameter $%d out of range, %d given", n, len(vars))
			}
			ordered = append(ordered, vars[n-1])
			b.WriteByte('?')
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), ordered, nil
}

// toDollarMarks numbers ? markers as $1, $2, ...
func toDollarMarks(sql string) string {
	if !strings.Contains(sql, "?") {
		return sql
	}
	var (
		b     strings.Builder
		n     int
		quote byte
	)
	b.Grow(len(sql) + 8)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
