// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func TestTransferable(t *testing.T) {
	list := starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.String("a")})

	dict := starlark.NewDict(1)
	require.NoError(t, dict.SetKey(starlark.String("k"), starlark.Float(1.5)))

	listWithFn := starlark.NewList([]starlark.Value{
		starlark.NewBuiltin("f", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.None, nil
		}),
	})

	tests := []struct {
		name  string
		value starlark.Value
		want  bool
	}{
		{"none", starlark.None, true},
		{"bool", starlark.True, true},
		{"int", starlark.MakeInt(42), true},
		{"float", starlark.Float(1.5), true},
		{"string", starlark.String("x"), true},
		{"bytes", starlark.Bytes("x"), true},
		{"list of scalars", list, true},
		{"tuple", starlark.Tuple{starlark.MakeInt(1)}, true},
		{"dict of scalars", dict, true},
		{"builtin", starlark.NewBuiltin("f", nil), false},
		{"module", &starlarkstruct.Module{Name: "m"}, false},
		{"list containing function", listWithFn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transferable(tt.value))
		})
	}
}

func TestEnvironment_CloneAndNames(t *testing.T) {
	env := Environment{
		"b": starlark.MakeInt(2),
		"a": starlark.MakeInt(1),
	}

	assert.Equal(t, []string{"a", "b"}, env.Names())

	clone := env.Clone()
	clone["c"] = starlark.MakeInt(3)

	assert.Len(t, env, 2)
	assert.Len(t, clone, 3)
}

func TestConvert_RoundTrip(t *testing.T) {
	in := map[string]any{
		"name":   "widget",
		"count":  int64(3),
		"price":  9.99,
		"active": true,
		"tags":   []any{"a", "b"},
		"note":   nil,
	}

	v, err := FromGo(in)
	require.NoError(t, err)

	out, ok := ToGo(v).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestConvert_RejectsUnsupportedTypes(t *testing.T) {
	_, err := FromGo(struct{}{})
	assert.Error(t, err)

	_, err = FromGo([]any{make(chan int)})
	assert.Error(t, err)
}
