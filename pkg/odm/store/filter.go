package store

import (
	"fmt"
	"strings"
)

// Match evaluates a MongoDB-style filter against doc for engines that cannot
// push filters down. It supports implicit equality, the comparison operators,
// $in/$nin, $exists and the $and/$or/$nor combinators. An empty or nil filter
// matches every document.
func Match(doc, filter Document) (bool, error) {
	for key, cond := range filter {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc Document, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		clauses, ok := AsSlice(cond)
		if !ok || len(clauses) == 0 {
			return false, fmt.Errorf("%w: %s needs a non-empty array", ErrInvalidFilter, key)
		}
		return matchLogical(doc, key, clauses)
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, key)
	}

	value, found := Lookup(doc, key)
	if ops, ok := AsMap(cond); ok && isOperatorMap(ops) {
		for op, arg := range ops {
			ok, err := matchOperator(value, found, op, arg)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return found && matchEq(value, cond), nil
}

func matchLogical(doc Document, op string, clauses []any) (bool, error) {
	for _, c := range clauses {
		sub, ok := AsMap(c)
		if !ok {
			return false, fmt.Errorf("%w: %s clauses must be documents", ErrInvalidFilter, op)
		}
		ok, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		switch op {
		case "$and":
			if !ok {
				return false, nil
			}
		case "$or":
			if ok {
				return true, nil
			}
		case "$nor":
			if ok {
				return false, nil
			}
		}
	}
	return op != "$or", nil
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// matchEq applies MongoDB equality: a scalar condition also matches an array
// field containing it.
func matchEq(value, cond any) bool {
	if Equal(value, cond) {
		return true
	}
	if _, condIsArray := AsSlice(cond); condIsArray {
		return false
	}
	if values, ok := AsSlice(value); ok {
		for _, v := range values {
			if Equal(v, cond) {
				return true
			}
		}
	}
	return false
}

func matchCompare(value, arg any, accept func(int) bool) bool {
	candidates := []any{value}
	if values, ok := AsSlice(value); ok {
		candidates = values
	}
	for _, v := range candidates {
		if c, ok := Compare(v, arg); ok && accept(c) {
			return true
		}
	}
	return false
}

func matchOperator(value any, found bool, op string, arg any) (bool, error) {
	switch op {
	case "$eq":
		return found && matchEq(value, arg), nil
	case "$ne":
		return !found || !matchEq(value, arg), nil
	case "$gt":
		return found && matchCompare(value, arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return found && matchCompare(value, arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return found && matchCompare(value, arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return found && matchCompare(value, arg, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		list, ok := AsSlice(arg)
		if !ok {
			return false, fmt.Errorf("%w: %s needs an array", ErrInvalidFilter, op)
		}
		in := false
		for _, candidate := range list {
			if (found && matchEq(value, candidate)) || (!found && candidate == nil) {
				in = true
				break
			}
		}
		if op == "$in" {
			return in, nil
		}
		return !in, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			want = arg != nil && !Equal(arg, 0)
		}
		return found == want, nil
	case "$not":
		sub, ok := AsMap(arg)
		if !ok {
			return false, fmt.Errorf("%w: $not needs an operator document", ErrInvalidFilter)
		}
		for innerOp, innerArg := range sub {
			ok, err := matchOperator(value, found, innerOp, innerArg)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
}

// IDFromFilter returns the identity value when filter addresses exactly one
// document by equality on _id.
func IDFromFilter(filter Document) (any, bool) {
	if len(filter) != 1 {
		return nil, false
	}
	id, ok := filter[IDKey]
	if !ok || id == nil {
		return nil, false
	}
	if m, isMap := AsMap(id); isMap {
		if len(m) != 1 {
			return nil, false
		}
		eq, ok := m["$eq"]
		return eq, ok
	}
	return id, true
}

// IDsFromFilter returns the identity values when filter is exactly {_id: {$in: [...]}}.
func IDsFromFilter(filter Document) ([]any, bool) {
	if len(filter) != 1 {
		return nil, false
	}
	m, ok := AsMap(filter[IDKey])
	if !ok || len(m) != 1 {
		return nil, false
	}
	return AsSlice(m["$in"])
}
