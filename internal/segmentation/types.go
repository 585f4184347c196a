// Package segmentation turns customer filters into something the CRM can run.
//
// A filter arrives as an untrusted JSON object (usually written by a language
// model) in a MongoDB-like dialect. It is checked against a whitelist of
// customer fields and operators (Validate), converted into a typed tree
// (Parse), and then either evaluated in memory (Match) or compiled into a
// PostgreSQL WHERE clause (QueryBuilder).
package segmentation

import (
	"regexp"
	"time"
)

// ==========================================
// FIELDS
// ==========================================

// Field is a customer attribute a filter may reference.
type Field string

const (
	FieldFirstName         Field = "firstName"
	FieldLastName          Field = "lastName"
	FieldEmail             Field = "email"
	FieldPhone             Field = "phone"
	FieldCreatedAt         Field = "createdAt"
	FieldTotalSpent        Field = "totalSpent"
	FieldPreferredCategory Field = "preferredCategory"
	FieldPreferredDay      Field = "preferredDay"
	FieldPreferredChannel  Field = "preferredChannel"
	FieldLastOrder         Field = "lastOrder"
	FieldOrders            Field = "orders"
)

// FieldKind decides how values for a field are typed and compared.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindDate
	// KindCount fields compare by number of elements (orders).
	KindCount
)

var fieldKinds = map[Field]FieldKind{
	FieldFirstName:         KindString,
	FieldLastName:          KindString,
	FieldEmail:             KindString,
	FieldPhone:             KindString,
	FieldCreatedAt:         KindDate,
	FieldTotalSpent:        KindNumber,
	FieldPreferredCategory: KindString,
	FieldPreferredDay:      KindString,
	FieldPreferredChannel:  KindString,
	FieldLastOrder:         KindDate,
	FieldOrders:            KindCount,
}

// Kind returns the field's kind. Unknown fields report KindString; callers
// only see fields that passed IsAllowedField.
func (f Field) Kind() FieldKind { return fieldKinds[f] }

// IsAllowedField reports whether name is a whitelisted customer field.
func IsAllowedField(name string) bool {
	_, ok := fieldKinds[Field(name)]
	return ok
}

// AllowedFields returns the whitelisted field names.
func AllowedFields() []Field {
	return []Field{
		FieldFirstName, FieldLastName, FieldEmail, FieldPhone, FieldCreatedAt,
		FieldTotalSpent, FieldPreferredCategory, FieldPreferredDay,
		FieldPreferredChannel, FieldLastOrder, FieldOrders,
	}
}

// ==========================================
// OPERATORS
// ==========================================

// Operator is a filter keyword. All operators start with OperatorSigil.
type Operator string

// OperatorSigil marks a key as an operator rather than a field.
const OperatorSigil = "$"

const (
	OpEq      Operator = "$eq"
	OpNe      Operator = "$ne"
	OpGt      Operator = "$gt"
	OpGte     Operator = "$gte"
	OpLt      Operator = "$lt"
	OpLte     Operator = "$lte"
	OpSize    Operator = "$size"
	OpIn      Operator = "$in"
	OpNin     Operator = "$nin"
	OpRegex   Operator = "$regex"
	OpOptions Operator = "$options"
	OpExists  Operator = "$exists"
	OpAnd     Operator = "$and"
	OpOr      Operator = "$or"
	OpNot     Operator = "$not"
	OpNor     Operator = "$nor"
)

var allowedOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpSize: true, OpIn: true, OpNin: true, OpRegex: true, OpOptions: true,
	OpExists: true, OpAnd: true, OpOr: true, OpNot: true, OpNor: true,
}

// IsAllowedOperator reports whether name is a whitelisted operator.
func IsAllowedOperator(name string) bool {
	return allowedOperators[Operator(name)]
}

// AllowedOperators returns the whitelisted operators in a stable order.
func AllowedOperators() []Operator {
	return []Operator{
		OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpSize, OpIn, OpNin,
		OpRegex, OpOptions, OpExists, OpAnd, OpOr, OpNot, OpNor,
	}
}

func (op Operator) isLogical() bool {
	return op == OpAnd || op == OpOr || op == OpNor
}

// ==========================================
// FILTER TREE
// ==========================================

// Filter is a parsed, whitelisted predicate over customers. The concrete
// types are Condition, Logical and Not.
type Filter interface {
	filter()
}

// Scalar is a typed comparison value. Which member is meaningful depends on
// the field kind; Null marks an explicit JSON null.
type Scalar struct {
	Null bool
	Str  string
	Num  float64
	Time time.Time
}

// Condition compares one field with one operator.
type Condition struct {
	Field Field
	Op    Operator

	// Value is set for $eq $ne $gt $gte $lt $lte $size.
	Value Scalar
	// List is set for $in and $nin.
	List []Scalar
	// Pattern and Options are set for $regex.
	Pattern string
	Options string
	// Exists is set for $exists.
	Exists bool

	re *regexp.Regexp
}

// Logical combines clauses with $and, $or or $nor. An $and with no clauses
// matches everything.
type Logical struct {
	Op      Operator
	Clauses []Filter
}

// Not negates a clause.
type Not struct {
	Clause Filter
}

func (*Condition) filter() {}
func (*Logical) filter()   {}
func (*Not) filter()       {}

// MatchAll is the filter produced by an empty object.
func MatchAll() Filter { return &Logical{Op: OpAnd} }

// IsMatchAll reports whether f selects every customer without testing any
// field, as `{}` or `{"$and":[{}]}` do.
func IsMatchAll(f Filter) bool {
	l, ok := f.(*Logical)
	if !ok {
		return false
	}
	switch l.Op {
	case OpAnd:
		for _, c := range l.Clauses {
			if !IsMatchAll(c) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range l.Clauses {
			if IsMatchAll(c) {
				return true
			}
		}
	}
	return false
}
