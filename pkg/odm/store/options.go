package store

// ReturnDocument selects which image FindOneAndUpdate returns.
type ReturnDocument int

const (
	// Before returns the document as it was before the update.
	Before ReturnDocument = iota
	// After returns the document as it is after the update.
	After
)

// SortField is one key of a sort specification. Direction is 1 or -1.
type SortField struct {
	Key       string
	Direction int
}

// FindOptions controls ordering and windowing of Find.
type FindOptions struct {
	Sort  []SortField
	Skip  int64
	Limit int64
}

// ReplaceOptions controls ReplaceOne.
type ReplaceOptions struct {
	Upsert bool
}

// UpdateOptions controls UpdateOne.
type UpdateOptions struct {
	Upsert bool
}

// FindOneAndUpdateOptions controls FindOneAndUpdate.
type FindOneAndUpdateOptions struct {
	ReturnDocument ReturnDocument
	Upsert         bool
	Sort           []SortField
}

// FindOneAndDeleteOptions controls FindOneAndDelete.
type FindOneAndDeleteOptions struct {
	Sort []SortField
}

// IndexKey is one entry of an index key specification. Value is a direction
// (1, -1) or an index type such as "text" or "2dsphere".
type IndexKey struct {
	Field string
	Value any
}

// IndexOptions is passed through to the engine's index creation call.
type IndexOptions struct {
	Unique             bool
	Sparse             bool
	Background         bool
	PartialFilter      Document
	ExpireAfterSeconds *int32
	Weights            map[string]int32
	DefaultLanguage    string
	LanguageOverride   string
	TextIndexVersion   int32
	SphereIndexVersion int32
	Bits               int32
	Min                *float64
	Max                *float64
	BucketSize         int32
	Collation          map[string]any
	StorageEngine      map[string]any
}

// IndexSpec describes one index: its name, ordered key specification and options.
type IndexSpec struct {
	Name    string
	Keys    []IndexKey
	Options IndexOptions
}

// Fields returns the key fields of the index in order.
func (s IndexSpec) Fields() []string {
	fields := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		fields[i] = k.Field
	}
	return fields
}
