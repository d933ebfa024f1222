package mongodb

import (
	"fmt"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// toBSON converts documents and arrays into the driver's native shapes
func toBSON(v any) any {
	if m, ok := store.AsMap(v); ok {
		out := make(bson.M, len(m))
		for k, val := range m {
			out[k] = toBSON(val)
		}
		return out
	}
	if s, ok := store.AsSlice(v); ok {
		out := make(bson.A, len(s))
		for i, val := range s {
			out[i] = toBSON(val)
		}
		return out
	}
	return v
}

// toFilter converts filter, treating nil as the match-all filter
func toFilter(filter store.Document) any {
	if filter == nil {
		return bson.M{}
	}
	return toBSON(filter)
}

func fromBSON(m bson.M) store.Document {
	return store.Clone(store.Document(m))
}

func sortDoc(keys []store.SortField) bson.D {
	d := make(bson.D, len(keys))
	for i, k := range keys {
		d[i] = bson.E{Key: k.Key, Value: k.Direction}
	}
	return d
}

func indexModel(spec store.IndexSpec) (mongo.IndexModel, error) {
	keys := make(bson.D, len(spec.Keys))
	for i, k := range spec.Keys {
		keys[i] = bson.E{Key: k.Field, Value: k.Value}
	}
	opts, err := indexOptions(spec)
	if err != nil {
		return mongo.IndexModel{}, err
	}
	return mongo.IndexModel{Keys: keys, Options: opts}, nil
}

func indexOptions(spec store.IndexSpec) (*options.IndexOptions, error) {
	o := spec.Options
	io := options.Index()
	if spec.Name != "" {
		io.SetName(spec.Name)
	}
	if o.Unique {
		io.SetUnique(true)
	}
	if o.Sparse {
		io.SetSparse(true)
	}
	if o.Background {
		io.SetBackground(true)
	}
	if o.PartialFilter != nil {
		io.SetPartialFilterExpression(toBSON(o.PartialFilter))
	}
	if o.ExpireAfterSeconds != nil {
		io.SetExpireAfterSeconds(*o.ExpireAfterSeconds)
	}
	if len(o.Weights) > 0 {
		w := make(bson.M, len(o.Weights))
		for k, v := range o.Weights {
			w[k] = v
		}
		io.SetWeights(w)
	}
	if o.DefaultLanguage != "" {
		io.SetDefaultLanguage(o.DefaultLanguage)
	}
	if o.LanguageOverride != "" {
		io.SetLanguageOverride(o.LanguageOverride)
	}
	if o.TextIndexVersion != 0 {
		io.SetTextVersion(o.TextIndexVersion)
	}
	if o.SphereIndexVersion != 0 {
		io.SetSphereVersion(o.SphereIndexVersion)
	}
	if o.Bits != 0 {
		io.SetBits(o.Bits)
	}
	if o.Min != nil {
		io.SetMin(*o.Min)
	}
	if o.Max != nil {
		io.SetMax(*o.Max)
	}
	if o.BucketSize != 0 {
		io.SetBucketSize(o.BucketSize)
	}
	if o.Collation != nil {
		c, err := collation(o.Collation)
		if err != nil {
			return nil, err
		}
		io.SetCollation(c)
	}
	if o.StorageEngine != nil {
		io.SetStorageEngine(toBSON(o.StorageEngine))
	}
	return io, nil
}

// collation reads a collation document such as {locale: "en", strength: 2}
func collation(m map[string]any) (*options.Collation, error) {
	c := &options.Collation{}
	for k, v := range m {
		var err error
		switch k {
		case "locale":
			c.Locale, err = cast.ToStringE(v)
		case "caseLevel":
			c.CaseLevel, err = cast.ToBoolE(v)
		case "caseFirst":
			c.CaseFirst, err = cast.ToStringE(v)
		case "strength":
			c.Strength, err = cast.ToIntE(v)
		case "numericOrdering":
			c.NumericOrdering, err = cast.ToBoolE(v)
		case "alternate":
			c.Alternate, err = cast.ToStringE(v)
		case "maxVariable":
			c.MaxVariable, err = cast.ToStringE(v)
		case "normalization":
			c.Normalization, err = cast.ToBoolE(v)
		case "backwards":
			c.Backwards, err = cast.ToBoolE(v)
		default:
			err = fmt.Errorf("unknown option %q", k)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid collation: %s: %w", k, err)
		}
	}
	return c, nil
}
