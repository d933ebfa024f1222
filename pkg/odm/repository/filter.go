package repository

import (
	"strings"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// rewriteFilter renames the program identity key to store.IDKey so callers can
// filter on the field name they declared. Logical operators are followed into
// their clause lists, and "$<idKey>" field paths inside $expr are rewritten
// except within $literal.
func rewriteFilter(filter store.Document, idKey string) store.Document {
	if filter == nil || idKey == "" || idKey == store.IDKey {
		return filter
	}
	out := make(store.Document, len(filter))
	for k, v := range filter {
		switch k {
		case idKey:
			out[store.IDKey] = v
		case "$and", "$or", "$nor":
			out[k] = rewriteClauses(v, idKey)
		case "$expr":
			out[k] = rewriteExpr(v, idKey)
		default:
			out[k] = v
		}
	}
	return out
}

func rewriteClauses(v any, idKey string) any {
	clauses, ok := store.AsSlice(v)
	if !ok {
		return v
	}
	out := make([]any, len(clauses))
	for i, c := range clauses {
		if m, ok := store.AsMap(c); ok {
			out[i] = rewriteFilter(store.Document(m), idKey)
			continue
		}
		out[i] = c
	}
	return out
}

func rewriteExpr(v any, idKey string) any {
	switch e := v.(type) {
	case string:
		path := "$" + idKey
		if e == path {
			return "$" + store.IDKey
		}
		if strings.HasPrefix(e, path+".") {
			return "$" + store.IDKey + e[len(path):]
		}
		return e
	}
	if m, ok := store.AsMap(v); ok {
		out := make(store.Document, len(m))
		for k, val := range m {
			if k == "$literal" {
				out[k] = val
				continue
			}
			out[k] = rewriteExpr(val, idKey)
		}
		return out
	}
	if items, ok := store.AsSlice(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = rewriteExpr(item, idKey)
		}
		return out
	}
	return v
}
