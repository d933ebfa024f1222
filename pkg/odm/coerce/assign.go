package coerce

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrConversion is returned when a stored value cannot be converted to a field's type
var ErrConversion = errors.New("cannot convert stored value")

// ApplyRule hydrates src into dst using the rule registered for dst's type.
// handled is false when no rule exists.
func ApplyRule(dst reflect.Value, src any) (handled bool, err error) {
	rule, ok := Lookup(dst.Type())
	if !ok {
		return false, nil
	}
	if src == nil {
		dst.SetZero()
		return true, nil
	}
	v, err := rule.Hydrate(src)
	if err != nil {
		return true, err
	}
	dst.Set(reflect.ValueOf(v))
	return true, nil
}

// AssignScalar stores src into the scalar dst, converting between numeric,
// string and bool representations the way engines tend to return them
// (int32 for small integers, float64 from JSON, and so on). An ObjectID
// assigned to a string becomes its hex form.
func AssignScalar(dst reflect.Value, src any) error {
	if src == nil {
		dst.SetZero()
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		if id, ok := src.(primitive.ObjectID); ok {
			dst.SetString(id.Hex())
			return nil
		}
		if sv.Kind() != reflect.String {
			return mismatch(dst, src)
		}
		dst.SetString(sv.String())
	case reflect.Bool:
		b, err := cast.ToBoolE(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("%w: %d overflows %s", ErrConversion, n, dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("%w: %d overflows %s", ErrConversion, n, dst.Type())
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("%w: %g overflows %s", ErrConversion, f, dst.Type())
		}
		dst.SetFloat(f)
	case reflect.Interface:
		if !sv.Type().Implements(dst.Type()) {
			return mismatch(dst, src)
		}
		dst.Set(sv)
	default:
		if sv.Type().ConvertibleTo(dst.Type()) {
			dst.Set(sv.Convert(dst.Type()))
			return nil
		}
		return mismatch(dst, src)
	}
	return nil
}

func mismatch(dst reflect.Value, src any) error {
	return fmt.Errorf("%w: %T into %s", ErrConversion, src, dst.Type())
}
