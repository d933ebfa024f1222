package store

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// KeyOf returns a canonical string for an identity value so ids of the same
// value compare equal regardless of how the engine returned them.
func KeyOf(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case *primitive.ObjectID:
		if v == nil {
			return ""
		}
		return v.Hex()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	}
	if s, err := cast.ToStringE(id); err == nil {
		return s
	}
	return fmt.Sprintf("%v", id)
}

// AsMap views v as a string-keyed map when it is one of the map shapes engines return.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return m, true
	case primitive.M:
		return m, true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

// AsSlice views v as a []any when it is a slice other than []byte.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case primitive.A:
		return s, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Clone deep-copies a document, normalising nested maps to Document and arrays to []any.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := AsMap(v); ok {
		return Clone(Document(m))
	}
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	if s, ok := AsSlice(v); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// Lookup resolves a dotted path inside doc. Numeric segments index arrays;
// other segments fan out over array elements the way MongoDB does.
func Lookup(doc map[string]any, path string) (any, bool) {
	return lookup(doc, strings.Split(path, "."))
}

func lookup(v any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return v, true
	}
	if m, ok := AsMap(v); ok {
		next, found := m[segments[0]]
		if !found {
			return nil, false
		}
		return lookup(next, segments[1:])
	}
	if s, ok := AsSlice(v); ok {
		if i, err := strconv.Atoi(segments[0]); err == nil {
			if i < 0 || i >= len(s) {
				return nil, false
			}
			return lookup(s[i], segments[1:])
		}
		var found []any
		for _, e := range s {
			if r, ok := lookup(e, segments); ok {
				found = append(found, r)
			}
		}
		return found, len(found) > 0
	}
	return nil, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

// Compare orders two scalar values. ok is false when they are not of comparable kinds.
func Compare(a, b any) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil || b == nil:
		return 0, false
	case isNumber(a) && isNumber(b):
		fa, fb := cast.ToFloat64(a), cast.ToFloat64(b)
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}

	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0, true
			}
			if !av {
				return -1, true
			}
			return 1, true
		}
	case primitive.ObjectID:
		if bv, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(av[:], bv[:]), true
		}
	}
	return 0, false
}

// Equal reports deep equality of two stored values, treating numbers of
// different Go types as equal when they hold the same value.
func Equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	if am, ok := AsMap(a); ok {
		bm, ok := AsMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, found := bm[k]
			if !found || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if as, ok := AsSlice(a); ok {
		bs, ok := AsSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}
