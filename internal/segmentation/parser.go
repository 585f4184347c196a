package segmentation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseJSON decodes, validates and parses a filter document. It returns the
// parsed tree and the canonical JSON form (keys sorted) for storage.
func ParseJSON(data []byte) (Filter, json.RawMessage, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: filter must be a JSON object", ErrInvalidFilter)
	}
	if err := Validate(obj); err != nil {
		return nil, nil, err
	}
	f, err := Parse(obj)
	if err != nil {
		return nil, nil, err
	}
	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return f, canonical, nil
}

// Parse converts a decoded filter object into a typed tree. It assumes the
// whitelist check already passed and rejects shapes the tree cannot express
// (operators in field position, wrong value types, bad regular expressions)
// with an error wrapping ErrInvalidFilter.
func Parse(obj map[string]any) (Filter, error) {
	return parseObject(obj, nil)
}

type parseError struct {
	path string
	msg  string
}

func (e *parseError) Error() string {
	if e.path == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidFilter, e.msg)
	}
	return fmt.Sprintf("%v at %s: %s", ErrInvalidFilter, e.path, e.msg)
}

func (e *parseError) Unwrap() error { return ErrInvalidFilter }

func invalid(path []string, format string, args ...any) error {
	return &parseError{path: strings.Join(path, "."), msg: fmt.Sprintf(format, args...)}
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func extend(path []string, elems ...string) []string {
	out := make([]string, 0, len(path)+len(elems))
	out = append(out, path...)
	return append(out, elems...)
}

// parseObject handles a document-level object: field keys and logical
// operators, implicitly ANDed.
func parseObject(obj map[string]any, path []string) (Filter, error) {
	var clauses []Filter
	for _, key := range sortedKeys(obj) {
		val := obj[key]
		keyPath := extend(path, key)

		if !strings.HasPrefix(key, OperatorSigil) {
			f, err := parseFieldExpr(Field(key), val, keyPath)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, f)
			continue
		}

		op := Operator(key)
		switch {
		case op.isLogical():
			arr, ok := val.([]any)
			if !ok || len(arr) == 0 {
				return nil, invalid(keyPath, "%s expects a non-empty array of filters", op)
			}
			sub := make([]Filter, 0, len(arr))
			for i, elem := range arr {
				elemObj, ok := elem.(map[string]any)
				if !ok {
					return nil, invalid(extend(keyPath, strconv.Itoa(i)), "%s elements must be objects", op)
				}
				f, err := parseObject(elemObj, extend(keyPath, strconv.Itoa(i)))
				if err != nil {
					return nil, err
				}
				sub = append(sub, f)
			}
			clauses = append(clauses, &Logical{Op: op, Clauses: sub})
		case op == OpNot:
			inner, ok := val.(map[string]any)
			if !ok {
				return nil, invalid(keyPath, "$not expects an object")
			}
			f, err := parseObject(inner, keyPath)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &Not{Clause: f})
		default:
			return nil, invalid(keyPath, "operator %s must be applied to a field", op)
		}
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return &Logical{Op: OpAnd, Clauses: clauses}, nil
}

// parseFieldExpr handles the value under a field key: either a literal
// (implicit $eq) or an object of operators.
func parseFieldExpr(field Field, val any, path []string) (Filter, error) {
	obj, isObj := val.(map[string]any)
	if !isObj {
		if _, isArr := val.([]any); isArr {
			return nil, invalid(path, "array equality is not supported; use $in")
		}
		s, err := scalarFor(field, OpEq, val, path)
		if err != nil {
			return nil, err
		}
		return &Condition{Field: field, Op: OpEq, Value: s}, nil
	}

	if len(obj) == 0 {
		return nil, invalid(path, "empty operator object")
	}

	var clauses []Filter
	for _, key := range sortedKeys(obj) {
		keyPath := extend(path, key)
		if !strings.HasPrefix(key, OperatorSigil) {
			return nil, invalid(keyPath, "nested documents are not supported")
		}
		op := Operator(key)
		v := obj[key]

		switch op {
		case OpOptions:
			if _, ok := obj[string(OpRegex)]; !ok {
				return nil, invalid(keyPath, "$options requires $regex")
			}
			continue
		case OpAnd, OpOr, OpNor:
			return nil, invalid(keyPath, "%s cannot be applied to a field", op)
		case OpNot:
			f, err := parseNot(field, v, keyPath)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, f)
			continue
		}

		c, err := parseCondition(field, op, v, obj, keyPath)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return &Logical{Op: OpAnd, Clauses: clauses}, nil
}

func parseNot(field Field, v any, path []string) (Filter, error) {
	switch t := v.(type) {
	case map[string]any:
		inner, err := parseFieldExpr(field, t, path)
		if err != nil {
			return nil, err
		}
		return &Not{Clause: inner}, nil
	case string:
		c, err := regexCondition(field, t, "", path)
		if err != nil {
			return nil, err
		}
		return &Not{Clause: c}, nil
	default:
		return nil, invalid(path, "$not expects an operator object or a pattern")
	}
}

func parseCondition(field Field, op Operator, v any, siblings map[string]any, path []string) (*Condition, error) {
	switch op {
	case OpExists:
		b, ok := v.(bool)
		if !ok {
			return nil, invalid(path, "$exists expects true or false")
		}
		return &Condition{Field: field, Op: op, Exists: b}, nil

	case OpRegex:
		pattern, ok := v.(string)
		if !ok {
			return nil, invalid(path, "$regex expects a string")
		}
		var options string
		if raw, ok := siblings[string(OpOptions)]; ok {
			if options, ok = raw.(string); !ok {
				return nil, invalid(extend(path[:len(path)-1], string(OpOptions)), "$options expects a string")
			}
		}
		return regexCondition(field, pattern, options, path)

	case OpIn, OpNin:
		arr, ok := v.([]any)
		if !ok {
			return nil, invalid(path, "%s expects an array", op)
		}
		list := make([]Scalar, 0, len(arr))
		for i, elem := range arr {
			s, err := scalarFor(field, op, elem, extend(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			if s.Null {
				return nil, invalid(extend(path, strconv.Itoa(i)), "null is not allowed in %s", op)
			}
			list = append(list, s)
		}
		return &Condition{Field: field, Op: op, List: list}, nil

	case OpSize:
		if field.Kind() != KindCount {
			return nil, invalid(path, "$size only applies to %s", FieldOrders)
		}
		n, ok := v.(float64)
		if !ok || n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return nil, invalid(path, "$size expects a non-negative integer up to %d", math.MaxInt32)
		}
		return &Condition{Field: field, Op: op, Value: Scalar{Num: n}}, nil

	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		s, err := scalarFor(field, op, v, path)
		if err != nil {
			return nil, err
		}
		if s.Null && op != OpEq && op != OpNe {
			return nil, invalid(path, "%s does not accept null", op)
		}
		return &Condition{Field: field, Op: op, Value: s}, nil
	}
	return nil, invalid(path, "unsupported operator %s", op)
}

// regexOptions maps the accepted option letters to Go regexp flags.
var regexOptions = map[rune]bool{'i': true, 'm': true, 's': true}

func regexCondition(field Field, pattern, options string, path []string) (*Condition, error) {
	if field.Kind() != KindString {
		return nil, invalid(path, "$regex only applies to text fields")
	}
	for _, r := range options {
		if !regexOptions[r] {
			return nil, invalid(path, "unsupported regex option %q", r)
		}
	}
	pattern, lifted, err := portablePattern(pattern)
	if err != nil {
		return nil, invalid(path, "bad pattern: %v", err)
	}
	options += lifted
	re, err := compileRegex(pattern, options)
	if err != nil {
		return nil, invalid(path, "bad pattern: %v", err)
	}
	return &Condition{Field: field, Op: OpRegex, Pattern: pattern, Options: dedupe(options), re: re}, nil
}

// unportableEscapes are escapes Go's regexp accepts but PostgreSQL's ARE
// flavour does not.
var unportableEscapes = map[byte]bool{'p': true, 'P': true, 'Q': true, 'E': true, 'z': true, 'C': true}

// portablePattern keeps patterns to the syntax Go and PostgreSQL share, so
// Match and QueryBuilder agree. A leading (?flags) group using only i, m or
// s is stripped and returned as option letters. Any other (? group except
// (?: is rejected, as are unportable escapes.
func portablePattern(pattern string) (string, string, error) {
	var lifted string
	if strings.HasPrefix(pattern, "(?") {
		if end := strings.IndexByte(pattern, ')'); end > 2 {
			flags := pattern[2:end]
			if strings.Trim(flags, "ims") == "" {
				lifted, pattern = flags, pattern[end+1:]
			}
		}
	}

	inClass := false
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; {
		case c == '\\':
			if i+1 < len(pattern) && unportableEscapes[pattern[i+1]] {
				return "", "", fmt.Errorf("escape \\%c is not supported", pattern[i+1])
			}
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			// A ']' right after '[' or '[^' is a literal.
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				i++
			}
			if i+1 < len(pattern) && pattern[i+1] == ']' {
				i++
			}
		case c == '(' && i+1 < len(pattern) && pattern[i+1] == '?':
			if i+2 >= len(pattern) || pattern[i+2] != ':' {
				return "", "", fmt.Errorf("inline flags and named groups are not supported")
			}
		}
	}
	return pattern, lifted, nil
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	if options != "" {
		pattern = "(?" + dedupe(options) + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func dedupe(s string) string {
	seen := map[rune]bool{}
	var b strings.Builder
	for _, r := range s {
		if !seen[r] {
			seen[r] = true
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dateLayouts are accepted for date fields, most specific first.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// scalarFor types a literal according to the field kind.
func scalarFor(field Field, op Operator, v any, path []string) (Scalar, error) {
	if v == nil {
		return Scalar{Null: true}, nil
	}
	switch field.Kind() {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return Scalar{}, invalid(path, "%s expects a string for %s", op, field)
		}
		return Scalar{Str: s}, nil
	case KindNumber, KindCount:
		n, ok := v.(float64)
		if !ok {
			return Scalar{}, invalid(path, "%s expects a number for %s", op, field)
		}
		return Scalar{Num: n}, nil
	case KindDate:
		s, ok := v.(string)
		if !ok {
			return Scalar{}, invalid(path, "%s expects a date string for %s", op, field)
		}
		t, ok := parseDate(s)
		if !ok {
			return Scalar{}, invalid(path, "unrecognised date %q", s)
		}
		return Scalar{Time: t}, nil
	}
	return Scalar{}, invalid(path, "unknown field %s", field)
}
