package rule

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"

	"gorm/shardroute/util/str"
)

var inlineRange = regexp.MustCompile(`^\s*(-?\d+)\s*\.\.\s*(-?\d+)\s*$`)

// inlineFunctions 表达式中可用的函数
var inlineFunctions = map[string]govaluate.ExpressionFunction{
	"parse": func(args ...interface{}) (interface{}, error) {
		var sb strings.Builder
		for _, arg := range args {
			sb.WriteString(formatValue(arg))
		}
		return sb.String(), nil
	},
	"hashcode": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.Errorf("hashcode expects 1 argument, got %d", len(args))
		}
		return float64(str.Hashcode(formatValue(args[0]))), nil
	},
	"mod": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.Errorf("mod expects 2 arguments, got %d", len(args))
		}
		a, err := toInt64(args[0])
		if err != nil {
			return nil, err
		}
		b, err := toInt64(args[1])
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return nil, errors.New("mod by zero")
		}
		return math.Abs(float64(a % b)), nil
	},
}

type inlinePart struct {
	literal string
	// placeholder content, empty for literal parts
	placeholder bool
	rangeFrom   int64
	rangeTo     int64
	isRange     bool
	list        []string
	isList      bool
	expr        *govaluate.EvaluableExpression
}

// InlineExpression a Groovy-style inline expression such as
// "ds_${0..1}.t_order_${[0, 1]}" or "t_order_${user_id % 2}".
type InlineExpression struct {
	text  string
	items [][]inlinePart
}

// ParseInline compiles an inline expression; "$->{" is accepted as an alias of "${".
func ParseInline(text string) (*InlineExpression, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(text), "$->{", "${")
	if normalized == "" {
		return nil, errors.Wrap(ErrInlineExpression, "empty expression")
	}
	result := &InlineExpression{text: text}
	for _, item := range splitTopLevel(normalized) {
		parts, err := parseInlineItem(strings.TrimSpace(item))
		if err != nil {
			return nil, errors.Wrapf(err, "expression %q", text)
		}
		result.items = append(result.items, parts)
	}
	return result, nil
}

func (e *InlineExpression) String() string {
	return e.text
}

// Variables names referenced by evaluable placeholders
func (e *InlineExpression) Variables() []string {
	var vars []string
	for _, item := range e.items {
		for _, part := range item {
			if part.expr != nil {
				for _, v := range part.expr.Vars() {
					if !containsFold(vars, v) {
						vars = append(vars, v)
					}
				}
			}
		}
	}
	return vars
}

// Expand enumerates every value described by the expression, item by item,
// placeholders cross-joined left to right.
func (e *InlineExpression) Expand() ([]string, error) {
	var result []string
	for _, item := range e.items {
		values := []string{""}
		for _, part := range item {
			candidates, err := part.candidates()
			if err != nil {
				return nil, errors.Wrapf(err, "expression %q", e.text)
			}
			next := make([]string, 0, len(values)*len(candidates))
			for _, prefix := range values {
				for _, c := range candidates {
					next = append(next, prefix+c)
				}
			}
			values = next
		}
		result = append(result, values...)
	}
	return result, nil
}

// Evaluate renders a single-valued expression against parameters.
func (e *InlineExpression) Evaluate(parameters map[string]interface{}) (string, error) {
	if len(e.items) != 1 {
		return "", errors.Wrapf(ErrInlineExpression, "%q is not single valued", e.text)
	}
	var sb strings.Builder
	for _, part := range e.items[0] {
		switch {
		case !part.placeholder:
			sb.WriteString(part.literal)
		case part.expr != nil:
			value, err := part.expr.Evaluate(parameters)
			if err != nil {
				return "", errors.Wrapf(ErrInlineExpression, "evaluate %q: %v", e.text, err)
			}
			sb.WriteString(formatValue(value))
		default:
			candidates, _ := part.candidates()
			if len(candidates) != 1 {
				return "", errors.Wrapf(ErrInlineExpression, "%q is not single valued", e.text)
			}
			sb.WriteString(candidates[0])
		}
	}
	return sb.String(), nil
}

func (p inlinePart) candidates() ([]string, error) {
	switch {
	case !p.placeholder:
		return []string{p.literal}, nil
	case p.isRange:
		var values []string
		for i := p.rangeFrom; i <= p.rangeTo; i++ {
			values = append(values, strconv.FormatInt(i, 10))
		}
		return values, nil
	case p.isList:
		return p.list, nil
	default:
		value, err := p.expr.Evaluate(nil)
		if err != nil {
			return nil, errors.Wrap(ErrInlineExpression, err.Error())
		}
		return []string{formatValue(value)}, nil
	}
}

func parseInlineItem(item string) ([]inlinePart, error) {
	var parts []inlinePart
	for len(item) > 0 {
		start := strings.Index(item, "${")
		if start < 0 {
			parts = append(parts, inlinePart{literal: item})
			break
		}
		if start > 0 {
			parts = append(parts, inlinePart{literal: item[:start]})
		}
		end := matchBrace(item, start+1)
		if end < 0 {
			return nil, errors.Wrap(ErrInlineExpression, "unclosed placeholder")
		}
		part, err := parsePlaceholder(strings.TrimSpace(item[start+2 : end]))
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		item = item[end+1:]
	}
	return parts, nil
}

func parsePlaceholder(content string) (inlinePart, error) {
	part := inlinePart{placeholder: true}
	if m := inlineRange.FindStringSubmatch(content); m != nil {
		from, _ := strconv.ParseInt(m[1], 10, 64)
		to, _ := strconv.ParseInt(m[2], 10, 64)
		if from > to {
			return part, errors.Wrapf(ErrInlineExpression, "descending range %q", content)
		}
		part.isRange, part.rangeFrom, part.rangeTo = true, from, to
		return part, nil
	}
	if strings.HasPrefix(content, "[") && strings.HasSuffix(content, "]") {
		part.isList = true
		for _, each := range splitTopLevel(content[1 : len(content)-1]) {
			part.list = append(part.list, strings.Trim(strings.TrimSpace(each), `'"`))
		}
		return part, nil
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(content, inlineFunctions)
	if err != nil {
		return part, errors.Wrapf(ErrInlineExpression, "%q: %v", content, err)
	}
	part.expr = expr
	return part, nil
}

// matchBrace position of the '}' closing the '{' at open
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits on commas that are outside braces, brackets and quotes
func splitTopLevel(s string) []string {
	var (
		result []string
		depth  int
		quote  byte
		last   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '{' || c == '[' || c == '(':
			depth++
		case c == '}' || c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			result = append(result, s[last:i])
			last = i + 1
		}
	}
	return append(result, s[last:])
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case float64:
		// 整数结果不带小数位
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return formatValue(float64(v))
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "not an integer: %q", v)
		}
		return n, nil
	default:
		return 0, errors.Errorf("not an integer: %v (%T)", value, value)
	}
}
