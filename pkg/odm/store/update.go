package store

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// IsOperatorUpdate reports whether update is made of $-operators rather than
// being a replacement document.
func IsOperatorUpdate(update Document) bool {
	if len(update) == 0 {
		return false
	}
	for k := range update {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// ApplyUpdate returns a copy of doc with update applied. inserting enables
// $setOnInsert for upserts. Replacement documents keep the original _id.
func ApplyUpdate(doc, update Document, inserting bool) (Document, error) {
	if !IsOperatorUpdate(update) {
		for k := range update {
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("%w: cannot mix operators and fields", ErrInvalidUpdate)
			}
		}
		out := Clone(update)
		if out == nil {
			out = Document{}
		}
		if id, ok := doc[IDKey]; ok {
			out[IDKey] = id
		}
		return out, nil
	}

	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	for op, arg := range update {
		fields, ok := AsMap(arg)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a document", ErrInvalidUpdate, op)
		}
		for path, value := range fields {
			if err := applyOperator(out, op, path, value, inserting); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func applyOperator(doc Document, op, path string, value any, inserting bool) error {
	switch op {
	case "$set":
		setPath(doc, path, cloneValue(value))
	case "$setOnInsert":
		if inserting {
			setPath(doc, path, cloneValue(value))
		}
	case "$unset":
		unsetPath(doc, path)
	case "$inc":
		current, _ := Lookup(doc, path)
		sum, err := addNumbers(current, value)
		if err != nil {
			return fmt.Errorf("%w: $inc on %s: %v", ErrInvalidUpdate, path, err)
		}
		setPath(doc, path, sum)
	case "$push":
		current, found := Lookup(doc, path)
		var list []any
		if found && current != nil {
			existing, ok := AsSlice(current)
			if !ok {
				return fmt.Errorf("%w: $push on non-array field %s", ErrInvalidUpdate, path)
			}
			list = append(list, existing...)
		}
		if each, ok := AsMap(value); ok {
			if items, ok := AsSlice(each["$each"]); ok {
				for _, item := range items {
					list = append(list, cloneValue(item))
				}
				setPath(doc, path, list)
				return nil
			}
		}
		setPath(doc, path, append(list, cloneValue(value)))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
	return nil
}

func addNumbers(current, delta any) (any, error) {
	if current == nil {
		current = 0
	}
	if !isNumber(current) || !isNumber(delta) {
		return nil, fmt.Errorf("non-numeric operand")
	}
	if isInteger(current) && isInteger(delta) {
		return cast.ToInt64(current) + cast.ToInt64(delta), nil
	}
	return cast.ToFloat64(current) + cast.ToFloat64(delta), nil
}

func isInteger(v any) bool {
	switch v.(type) {
	case float32, float64:
		return false
	}
	return isNumber(v)
}

func setPath(doc Document, path string, value any) {
	segments := strings.Split(path, ".")
	current := map[string]any(doc)
	for _, seg := range segments[:len(segments)-1] {
		next, ok := AsMap(current[seg])
		if !ok {
			created := Document{}
			current[seg] = created
			next = created
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func unsetPath(doc Document, path string) {
	segments := strings.Split(path, ".")
	current := map[string]any(doc)
	for _, seg := range segments[:len(segments)-1] {
		next, ok := AsMap(current[seg])
		if !ok {
			return
		}
		current = next
	}
	delete(current, segments[len(segments)-1])
}

// UpsertSeed builds the document inserted by an upsert: the equality fields of
// the filter with the update applied on top.
func UpsertSeed(filter, update Document) (Document, error) {
	seed := Document{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if ops, ok := AsMap(v); ok && isOperatorMap(ops) {
			if eq, ok := ops["$eq"]; ok {
				setPath(seed, k, cloneValue(eq))
			}
			continue
		}
		setPath(seed, k, cloneValue(v))
	}
	return ApplyUpdate(seed, update, true)
}
