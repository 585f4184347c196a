package segmentation

import (
	"time"

	"github.com/ignite/audience-crm/internal/domain"
)

// Match evaluates f against a single customer. It is the in-memory
// counterpart of QueryBuilder and the two must agree for every filter.
//
// Missing values: an empty string field and a nil lastOrder are absent.
// Comparisons, $eq and $regex against an absent value are false; $ne and
// $nin are true.
func Match(f Filter, c *domain.Customer) bool {
	switch t := f.(type) {
	case *Logical:
		return matchLogical(t, c)
	case *Not:
		return !Match(t.Clause, c)
	case *Condition:
		return matchCondition(t, c)
	}
	return false
}

// FilterCustomers returns the customers matching f, preserving input order.
func FilterCustomers(f Filter, customers []domain.Customer) []domain.Customer {
	out := make([]domain.Customer, 0, len(customers))
	for i := range customers {
		if Match(f, &customers[i]) {
			out = append(out, customers[i])
		}
	}
	return out
}

func matchLogical(l *Logical, c *domain.Customer) bool {
	switch l.Op {
	case OpAnd:
		for _, cl := range l.Clauses {
			if !Match(cl, c) {
				return false
			}
		}
		return true
	case OpOr:
		for _, cl := range l.Clauses {
			if Match(cl, c) {
				return true
			}
		}
		return false
	case OpNor:
		for _, cl := range l.Clauses {
			if Match(cl, c) {
				return false
			}
		}
		return true
	}
	return false
}

// fieldValue is a customer attribute lifted into the Scalar shape.
type fieldValue struct {
	Scalar
	present bool
}

func valueOf(field Field, c *domain.Customer) fieldValue {
	str := func(s string) fieldValue { return fieldValue{Scalar{Str: s}, s != ""} }
	switch field {
	case FieldFirstName:
		return str(c.FirstName)
	case FieldLastName:
		return str(c.LastName)
	case FieldEmail:
		return str(c.Email)
	case FieldPhone:
		return str(c.Phone)
	case FieldPreferredCategory:
		return str(c.PreferredCategory)
	case FieldPreferredDay:
		return str(c.PreferredDay)
	case FieldPreferredChannel:
		return str(c.PreferredChannel)
	case FieldTotalSpent:
		return fieldValue{Scalar{Num: c.TotalSpent}, true}
	case FieldOrders:
		return fieldValue{Scalar{Num: float64(len(c.Orders))}, true}
	case FieldCreatedAt:
		return fieldValue{Scalar{Time: c.CreatedAt.UTC()}, !c.CreatedAt.IsZero()}
	case FieldLastOrder:
		if c.LastOrder == nil {
			return fieldValue{}
		}
		return fieldValue{Scalar{Time: c.LastOrder.UTC()}, true}
	}
	return fieldValue{}
}

func matchCondition(cond *Condition, c *domain.Customer) bool {
	v := valueOf(cond.Field, c)
	kind := cond.Field.Kind()

	switch cond.Op {
	case OpExists:
		return v.present == cond.Exists
	case OpEq:
		if cond.Value.Null {
			return !v.present
		}
		return v.present && compare(kind, v.Scalar, cond.Value) == 0
	case OpNe:
		if cond.Value.Null {
			return v.present
		}
		return !v.present || compare(kind, v.Scalar, cond.Value) != 0
	case OpGt:
		return v.present && compare(kind, v.Scalar, cond.Value) > 0
	case OpGte:
		return v.present && compare(kind, v.Scalar, cond.Value) >= 0
	case OpLt:
		return v.present && compare(kind, v.Scalar, cond.Value) < 0
	case OpLte:
		return v.present && compare(kind, v.Scalar, cond.Value) <= 0
	case OpSize:
		return v.Num == cond.Value.Num
	case OpIn:
		return v.present && inList(kind, v.Scalar, cond.List)
	case OpNin:
		return !v.present || !inList(kind, v.Scalar, cond.List)
	case OpRegex:
		re := cond.re
		if re == nil {
			var err error
			if re, err = compileRegex(cond.Pattern, cond.Options); err != nil {
				return false
			}
		}
		return v.present && re.MatchString(v.Str)
	}
	return false
}

func inList(kind FieldKind, v Scalar, list []Scalar) bool {
	for _, s := range list {
		if compare(kind, v, s) == 0 {
			return true
		}
	}
	return false
}

// compare returns -1, 0 or 1 for a against b.
func compare(kind FieldKind, a, b Scalar) int {
	switch kind {
	case KindNumber, KindCount:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case KindDate:
		return compareTime(a.Time, b.Time)
	}
	switch {
	case a.Str < b.Str:
		return -1
	case a.Str > b.Str:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
