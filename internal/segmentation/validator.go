package segmentation

import (
	"sort"
	"strconv"
	"strings"
)

// Validate walks an untrusted decoded JSON value and returns the first key
// that is neither a whitelisted field nor a whitelisted operator, as a
// *ViolationError. It recurses into objects and into object elements of
// arrays; primitive array elements are never inspected.
//
// Keys are visited in sorted order, so the reported violation is stable for a
// given input. Callers should not depend on which of several violations wins.
func Validate(raw any) error {
	return validateValue(raw, nil)
}

func validateValue(v any, path []string) error {
	switch t := v.(type) {
	case map[string]any:
		return validateObject(t, path)
	case []any:
		for i, elem := range t {
			switch elem.(type) {
			case map[string]any, []any:
				if err := validateValue(elem, append(path, strconv.Itoa(i))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateObject(obj map[string]any, path []string) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if strings.HasPrefix(key, OperatorSigil) {
			if !IsAllowedOperator(key) {
				return violation(path, key, ErrDisallowedOperator)
			}
		} else if !IsAllowedField(key) {
			return violation(path, key, ErrDisallowedField)
		}

		// Copy so sibling branches never share a backing array.
		child := make([]string, len(path), len(path)+1)
		copy(child, path)
		if err := validateValue(obj[key], append(child, key)); err != nil {
			return err
		}
	}
	return nil
}
