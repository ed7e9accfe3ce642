package manifest

import (
	"fmt"
	"reflect"

	"github.com/mgomes/units/units"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// exporter is implemented by script engine values that can hand out a plain
// Go representation of themselves.
type exporter interface {
	Export() any
}

// ctyToNative recursively converts a cty.Value to its most natural Go
// counterpart. Numbers become float64.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number to float64: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}

// toCty converts exported unit values into cty so manifests can reference
// them. Values with no cty form, such as functions, become null.
func toCty(v any) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case cty.Value:
		return val
	case exporter:
		return toCty(val.Export())
	case units.Exports:
		return toCty(map[string]any(val))
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, item := range val {
			attrs[k] = toCty(item)
		}
		return cty.ObjectVal(attrs)
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(val))
		for i, item := range val {
			elems[i] = toCty(item)
		}
		return cty.TupleVal(elems)
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberIntVal(int64(val))
	case int64:
		return cty.NumberIntVal(val)
	case float64:
		return cty.NumberFloatVal(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return cty.NullVal(cty.DynamicPseudoType)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			converted := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				converted[iter.Key().String()] = iter.Value().Interface()
			}
			return toCty(converted)
		}
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return toCty(items)
	}

	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	out, err := gocty.ToCtyValue(v, ty)
	if err != nil {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return out
}
