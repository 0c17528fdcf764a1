package tools

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
)

// ToJSONValue deep-converts v into values encoding/json round-trips without loss
// of shape: maps (keys stringified), slices, strings, numbers, bools and nil.
//
// Values implementing json.Marshaler, and structs, are unwrapped by going through
// their JSON encoding. encoding.TextMarshaler and fmt.Stringer values become
// their text. Anything else is stringified with %v.
func ToJSONValue(v any) any {
	switch vv := v.(type) {
	case nil:
		return nil
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return vv
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(vv, &decoded); err != nil {
			return string(vv)
		}
		return decoded
	case []byte:
		return string(vv)
	case map[string]any:
		ret := make(map[string]any, len(vv))
		for k, e := range vv {
			ret[k] = ToJSONValue(e)
		}
		return ret
	case []any:
		ret := make([]any, 0, len(vv))
		for _, e := range vv {
			ret = append(ret, ToJSONValue(e))
		}
		return ret
	case json.Marshaler:
		return viaJSON(v)
	case encoding.TextMarshaler:
		b, err := vv.MarshalText()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	case fmt.Stringer:
		return vv.String()
	case error:
		return vv.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return ToJSONValue(rv.Elem().Interface())
	case reflect.Map:
		ret := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ret[fmt.Sprintf("%v", iter.Key().Interface())] = ToJSONValue(iter.Value().Interface())
		}
		return ret
	case reflect.Slice, reflect.Array:
		ret := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ret = append(ret, ToJSONValue(rv.Index(i).Interface()))
		}
		return ret
	case reflect.Struct:
		return viaJSON(v)
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func viaJSON(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return string(b)
	}
	return decoded
}
