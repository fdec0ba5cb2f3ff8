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
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// TableModule returns the "table" capability: helpers over datasets
// represented as lists of dicts (one dict per row).
//
// Exposed functions: column, unique, group_count, sort_by, head.
func TableModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "table",
		Members: starlark.StringDict{
			"column":      starlark.NewBuiltin("table.column", tableColumn),
			"unique":      starlark.NewBuiltin("table.unique", tableUnique),
			"group_count": starlark.NewBuiltin("table.group_count", tableGroupCount),
			"sort_by":     starlark.NewBuiltin("table.sort_by", tableSortBy),
			"head":        starlark.NewBuiltin("table.head", tableHead),
		},
	}
}

// rowSlice converts a list-of-dicts value to a slice of dicts.
func rowSlice(fn string, v starlark.Value) ([]*starlark.Dict, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want list of dicts", fn, v.Type())
	}

	rows := make([]*starlark.Dict, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		row, ok := list.Index(i).(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: row %d is %s, want dict", fn, i, list.Index(i).Type())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// cell returns the named column of a row, or None if absent.
func cell(row *starlark.Dict, key string) starlark.Value {
	v, found, err := row.Get(starlark.String(key))
	if err != nil || !found {
		return starlark.None
	}
	return v
}

func tableColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rowsVal starlark.Value
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &rowsVal, &key); err != nil {
		return nil, err
	}
	rows, err := rowSlice(b.Name(), rowsVal)
	if err != nil {
		return nil, err
	}

	out := make([]starlark.Value, 0, len(rows))
	for _, row := range rows {
		out = append(out, cell(row, key))
	}
	return starlark.NewList(out), nil
}

func tableUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rowsVal starlark.Value
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &rowsVal, &key); err != nil {
		return nil, err
	}
	rows, err := rowSlice(b.Name(), rowsVal)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []starlark.Value
	for _, row := range rows {
		v := cell(row, key)
		repr := v.String()
		if seen[repr] {
			continue
		}
		seen[repr] = true
		out = append(out, v)
	}
	return starlark.NewList(out), nil
}

func tableGroupCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rowsVal starlark.Value
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &rowsVal, &key); err != nil {
		return nil, err
	}
	rows, err := rowSlice(b.Name(), rowsVal)
	if err != nil {
		return nil, err
	}

	counts := starlark.NewDict(8)
	for _, row := range rows {
		v := cell(row, key)
		prev, found, err := counts.Get(v)
		if err != nil {
			return nil, fmt.Errorf("%s: unhashable value in column %q: %w", b.Name(), key, err)
		}
		n := 0
		if found {
			i, _ := prev.(starlark.Int).Int64()
			n = int(i)
		}
		if err := counts.SetKey(v, starlark.MakeInt(n+1)); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func tableSortBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rowsVal starlark.Value
	var key string
	var reverse bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"rows", &rowsVal, "key", &key, "reverse?", &reverse); err != nil {
		return nil, err
	}
	rows, err := rowSlice(b.Name(), rowsVal)
	if err != nil {
		return nil, err
	}

	sorted := make([]*starlark.Dict, len(rows))
	copy(sorted, rows)

	var sortErr error
	sort.SliceStable(sorted, func(i, j int) bool {
		less, err := starlark.Compare(syntax.LT, cell(sorted[i], key), cell(sorted[j], key))
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if reverse {
			return !less
		}
		return less
	})
	if sortErr != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), sortErr)
	}

	out := make([]starlark.Value, len(sorted))
	for i, row := range sorted {
		out[i] = row
	}
	return starlark.NewList(out), nil
}

func tableHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rowsVal starlark.Value
	n := 10
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &rowsVal, &n); err != nil {
		return nil, err
	}
	list, ok := rowsVal.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want list", b.Name(), rowsVal.Type())
	}
	if n < 0 {
		n = 0
	}
	if n > list.Len() {
		n = list.Len()
	}

	out := make([]starlark.Value, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, list.Index(i))
	}
	return starlark.NewList(out), nil
}
