package segmentation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// CustomerColumns is the column list every customer query selects, in scan
// order.
const CustomerColumns = `c.id, c.first_name, c.last_name, c.email, c.phone, c.total_spent,
		c.last_order, c.orders, c.preferred_category, c.preferred_day, c.preferred_channel,
		c.created_by, c.created_at`

// SortOrder selects the ORDER BY of a customer query.
type SortOrder int

const (
	// SortCreated orders by creation time, oldest first.
	SortCreated SortOrder = iota
	// SortTotalSpentDesc puts the biggest spenders first.
	SortTotalSpentDesc
)

// column describes how a field is read in SQL: the value expression and the
// predicate that is true when the value is present.
type column struct {
	expr    string
	present string
}

var columns = map[Field]column{
	FieldFirstName:         {"c.first_name", "c.first_name <> ''"},
	FieldLastName:          {"c.last_name", "c.last_name <> ''"},
	FieldEmail:             {"c.email", "c.email <> ''"},
	FieldPhone:             {"c.phone", "c.phone <> ''"},
	FieldPreferredCategory: {"c.preferred_category", "c.preferred_category <> ''"},
	FieldPreferredDay:      {"c.preferred_day", "c.preferred_day <> ''"},
	FieldPreferredChannel:  {"c.preferred_channel", "c.preferred_channel <> ''"},
	FieldTotalSpent:        {"c.total_spent", ""},
	FieldOrders:            {"jsonb_array_length(c.orders)", ""},
	FieldCreatedAt:         {"c.created_at", ""},
	FieldLastOrder:         {"c.last_order", "c.last_order IS NOT NULL"},
}

// QueryBuilder compiles a parsed Filter into a parameterised PostgreSQL
// query over the customers table. Every predicate it emits is two-valued
// (never NULL), so NOT and $nor behave exactly like Match.
type QueryBuilder struct {
	args       []interface{}
	argCounter int
	sort       SortOrder
	limit      int
}

// NewQueryBuilder creates a new QueryBuilder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

// SetSort sets the result order
func (qb *QueryBuilder) SetSort(order SortOrder) *QueryBuilder {
	qb.sort = order
	return qb
}

// SetLimit caps the number of rows; zero means no limit.
func (qb *QueryBuilder) SetLimit(limit int) *QueryBuilder {
	qb.limit = limit
	return qb
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

func (qb *QueryBuilder) reset() {
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1
}

// BuildQuery builds a complete SELECT for customers matching f.
func (qb *QueryBuilder) BuildQuery(f Filter) (string, []interface{}, error) {
	qb.reset()

	where, err := qb.build(f)
	if err != nil {
		return "", nil, err
	}

	query := "SELECT " + CustomerColumns + "\nFROM customers c\nWHERE " + where
	switch qb.sort {
	case SortTotalSpentDesc:
		query += "\nORDER BY c.total_spent DESC, c.created_at ASC, c.id ASC"
	default:
		query += "\nORDER BY c.created_at ASC, c.id ASC"
	}
	if qb.limit > 0 {
		query += "\nLIMIT " + qb.nextArg(qb.limit)
	}
	return query, qb.args, nil
}

// BuildCountQuery builds a COUNT query for f.
func (qb *QueryBuilder) BuildCountQuery(f Filter) (string, []interface{}, error) {
	qb.reset()

	where, err := qb.build(f)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM customers c WHERE " + where, qb.args, nil
}

func (qb *QueryBuilder) build(f Filter) (string, error) {
	switch t := f.(type) {
	case *Logical:
		return qb.buildLogical(t)
	case *Not:
		inner, err := qb.build(t.Clause)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *Condition:
		return qb.buildCondition(t)
	case nil:
		return "TRUE", nil
	}
	return "", fmt.Errorf("%w: unknown filter node %T", ErrInvalidFilter, f)
}

func (qb *QueryBuilder) buildLogical(l *Logical) (string, error) {
	if len(l.Clauses) == 0 {
		if l.Op == OpOr {
			return "FALSE", nil
		}
		return "TRUE", nil
	}

	parts := make([]string, 0, len(l.Clauses))
	for _, cl := range l.Clauses {
		sql, err := qb.build(cl)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}

	switch l.Op {
	case OpAnd:
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case OpOr:
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case OpNor:
		return "NOT (" + strings.Join(parts, " OR ") + ")", nil
	}
	return "", fmt.Errorf("%w: unknown logical operator %s", ErrInvalidFilter, l.Op)
}

func (qb *QueryBuilder) buildCondition(cond *Condition) (string, error) {
	col, ok := columns[cond.Field]
	if !ok {
		return "", fmt.Errorf("%w: unknown field %s", ErrDisallowedField, cond.Field)
	}
	kind := cond.Field.Kind()

	present := col.present
	if present == "" {
		present = "TRUE"
	}
	// guard ANDs the presence check in front of a comparison for optional
	// columns; required columns need no guard.
	guard := func(cmp string) string {
		if col.present == "" {
			return cmp
		}
		return "(" + col.present + " AND " + cmp + ")"
	}
	negGuard := func(cmp string) string {
		if col.present == "" {
			return cmp
		}
		return "(NOT (" + col.present + ") OR " + cmp + ")"
	}

	switch cond.Op {
	case OpExists:
		if cond.Exists {
			return present, nil
		}
		return "NOT (" + present + ")", nil

	case OpEq:
		if cond.Value.Null {
			return "NOT (" + present + ")", nil
		}
		return guard(fmt.Sprintf("%s = %s", col.expr, qb.scalarArg(kind, cond.Value))), nil

	case OpNe:
		if cond.Value.Null {
			return present, nil
		}
		return negGuard(fmt.Sprintf("%s <> %s", col.expr, qb.scalarArg(kind, cond.Value))), nil

	case OpGt, OpGte, OpLt, OpLte:
		sqlOp := map[Operator]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[cond.Op]
		lhs := col.expr
		if kind == KindString {
			lhs += ` COLLATE "C"`
		}
		return guard(fmt.Sprintf("%s %s %s", lhs, sqlOp, qb.scalarArg(kind, cond.Value))), nil

	case OpSize:
		return fmt.Sprintf("%s = %s", col.expr, qb.nextArg(int64(cond.Value.Num))), nil

	case OpIn:
		if len(cond.List) == 0 {
			return "FALSE", nil
		}
		return guard(fmt.Sprintf("%s = ANY(%s)", col.expr, qb.listArg(kind, cond.List))), nil

	case OpNin:
		if len(cond.List) == 0 {
			return "TRUE", nil
		}
		return negGuard(fmt.Sprintf("NOT (%s = ANY(%s))", col.expr, qb.listArg(kind, cond.List))), nil

	case OpRegex:
		if kind != KindString {
			return "", fmt.Errorf("%w: $regex on %s", ErrInvalidFilter, cond.Field)
		}
		return guard(fmt.Sprintf("%s ~ %s", col.expr, qb.nextArg(postgresPattern(cond.Pattern, cond.Options)))), nil
	}

	return "", fmt.Errorf("%w: unsupported operator %s", ErrDisallowedOperator, cond.Op)
}

func (qb *QueryBuilder) scalarArg(kind FieldKind, s Scalar) string {
	switch kind {
	case KindNumber:
		return qb.nextArg(s.Num) + "::float8"
	case KindCount:
		return qb.nextArg(s.Num) + "::float8"
	case KindDate:
		return qb.nextArg(s.Time.UTC()) + "::timestamptz"
	}
	return qb.nextArg(s.Str)
}

func (qb *QueryBuilder) listArg(kind FieldKind, list []Scalar) string {
	switch kind {
	case KindNumber, KindCount:
		nums := make(pq.Float64Array, len(list))
		for i, s := range list {
			nums[i] = s.Num
		}
		return qb.nextArg(nums) + "::float8[]"
	case KindDate:
		dates := make(pq.StringArray, len(list))
		for i, s := range list {
			dates[i] = s.Time.UTC().Format(time.RFC3339Nano)
		}
		return qb.nextArg(dates) + "::timestamptz[]"
	}
	strs := make(pq.StringArray, len(list))
	for i, s := range list {
		strs[i] = s.Str
	}
	return qb.nextArg(strs) + "::text[]"
}

// postgresPattern prefixes pattern with the PostgreSQL embedded options that
// reproduce Go's regexp semantics for the given option letters. Without s,
// '.' does not match a newline; m makes ^ and $ match at line breaks.
func postgresPattern(pattern, options string) string {
	var hasI, hasM, hasS bool
	for _, r := range options {
		switch r {
		case 'i':
			hasI = true
		case 'm':
			hasM = true
		case 's':
			hasS = true
		}
	}

	var flags string
	switch {
	case hasM && hasS:
		flags = "w"
	case hasM:
		flags = "n"
	case hasS:
		flags = "s"
	default:
		flags = "p"
	}
	if hasI {
		flags += "i"
	}
	return "(?" + flags + ")" + pattern
}

// HashRule generates a short stable hash of a canonical rule, used to
// correlate log lines for the same filter.
func HashRule(rule []byte) string {
	hash := sha256.Sum256(rule)
	return hex.EncodeToString(hash[:8])
}
