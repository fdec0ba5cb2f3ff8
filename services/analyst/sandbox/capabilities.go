// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"log/slog"
	"sort"
	"sync"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// CapabilityRegistry maps capability identifiers to the Starlark modules
// exposed to executed code.
//
// The registry is the closed allow-list: code can only reach modules
// whose identifiers appear in the task's capability list AND in this
// registry. Identifiers that resolve to nothing are skipped, not errors,
// so tasks keep working when a capability is withdrawn from a deployment.
//
// Thread Safety: CapabilityRegistry is safe for concurrent use.
type CapabilityRegistry struct {
	mu      sync.RWMutex
	modules map[string]starlark.Value
}

// NewCapabilityRegistry creates a registry with the standard capability
// set: math, time, json, stats, and table.
func NewCapabilityRegistry() *CapabilityRegistry {
	r := &CapabilityRegistry{modules: make(map[string]starlark.Value)}
	r.Register("math", starlarkmath.Module)
	r.Register("time", starlarktime.Module)
	r.Register("json", starlarkjson.Module)
	r.Register("stats", StatsModule())
	r.Register("table", TableModule())
	return r
}

// Register adds or replaces a capability module.
func (r *CapabilityRegistry) Register(name string, module starlark.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = module
}

// Names returns the registered capability identifiers, sorted.
func (r *CapabilityRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a task's capability identifiers to loadable modules.
//
// Description:
//
//	Resolution is best-effort: identifiers with no registered module are
//	skipped and logged at debug level. The run proceeds with whatever
//	resolved; code that then references the missing name fails at
//	execution like any other undefined reference.
//
// Inputs:
//
//	names - The capability identifiers requested by the task.
//
// Outputs:
//
//	starlark.StringDict - The resolved modules keyed by identifier.
func (r *CapabilityRegistry) Resolve(names []string) starlark.StringDict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := make(starlark.StringDict, len(names))
	for _, name := range names {
		module, ok := r.modules[name]
		if !ok {
			slog.Debug("Capability not available, skipping",
				slog.String("capability", name),
			)
			continue
		}
		resolved[name] = module
	}
	return resolved
}
