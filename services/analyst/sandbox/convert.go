// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// FromGo converts a plain Go value into its Starlark equivalent.
//
// Description:
//
//	Supports the data shapes produced by dataset ingestion: nil, bool,
//	integers, floats, strings, byte slices, []any, and map[string]any.
//	Map keys are inserted in sorted order so conversion is deterministic.
//
// Inputs:
//
//	v - The Go value to convert.
//
// Outputs:
//
//	starlark.Value - The converted value.
//	error - Non-nil for unsupported Go types.
func FromGo(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []byte:
		return starlark.Bytes(val), nil

	case []any:
		items := make([]starlark.Value, 0, len(val))
		for _, item := range val {
			converted, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			items = append(items, converted)
		}
		return starlark.NewList(items), nil

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			converted, err := FromGo(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToGo converts a Starlark value back into a plain Go value.
//
// Description:
//
//	The inverse of FromGo for transferable values. Integers that fit in
//	int64 come back as int64; larger integers come back as their decimal
//	string. Non-transferable values (functions, modules) convert to
//	their display string.
func ToGo(v starlark.Value) any {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i
		}
		return val.String()
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case starlark.Bytes:
		return []byte(val)

	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			out = append(out, ToGo(val.Index(i)))
		}
		return out

	case starlark.Tuple:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, ToGo(item))
		}
		return out

	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			out[key] = ToGo(item[1])
		}
		return out

	case *starlark.Set:
		var out []any
		iter := val.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			out = append(out, ToGo(elem))
		}
		return out

	default:
		return v.String()
	}
}
