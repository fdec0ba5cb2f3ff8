// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sandbox executes generated Starlark code in an isolated
// interpreter with a controlled variable environment and a closed set of
// library capabilities.
//
// The central contract is transactional: a run either succeeds and yields
// a new environment with its transferable results folded in, or it fails
// and the prior environment is returned untouched. Partial effects never
// leak across attempts.
package sandbox

import (
	"sort"

	"go.starlark.net/starlark"
)

// Environment is the named variable set visible to executed code.
//
// Values are Starlark values so datasets survive across runs without
// re-conversion. The executor treats a given Environment as immutable;
// successful runs produce a new one via Clone.
type Environment map[string]starlark.Value

// Clone returns a shallow copy of the environment.
//
// Values are shared, not copied: the executor freezes every value before
// it enters an environment, so sharing is safe.
func (e Environment) Clone() Environment {
	out := make(Environment, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Names returns the variable names in sorted order.
func (e Environment) Names() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Transferable reports whether a value may persist in the environment
// across runs.
//
// Description:
//
//	Only plain data survives: None, booleans, numbers, strings, bytes,
//	and lists, tuples, dicts, and sets composed of transferable values.
//	Functions, builtins, and modules are never transferable, which keeps
//	capability handles from leaking into the persistent environment.
func Transferable(v starlark.Value) bool {
	switch val := v.(type) {
	case starlark.NoneType, starlark.Bool, starlark.Int, starlark.Float,
		starlark.String, starlark.Bytes:
		return true

	case *starlark.List:
		for i := 0; i < val.Len(); i++ {
			if !Transferable(val.Index(i)) {
				return false
			}
		}
		return true

	case starlark.Tuple:
		for _, item := range val {
			if !Transferable(item) {
				return false
			}
		}
		return true

	case *starlark.Dict:
		for _, item := range val.Items() {
			if !Transferable(item[0]) || !Transferable(item[1]) {
				return false
			}
		}
		return true

	case *starlark.Set:
		ok := true
		iter := val.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			if !Transferable(elem) {
				ok = false
				break
			}
		}
		return ok

	default:
		return false
	}
}
