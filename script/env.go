package script

import (
	"maps"
	"slices"
)

// Env is the program's single, flat variable context. Names are unique and
// the last assignment wins. An Env is not safe for concurrent use; each run
// owns its own.
type Env struct {
	vars map[string]string
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{vars: make(map[string]string)}
}

// Lookup returns the value bound to name. Referencing a name that has never
// been assigned declares it, bound to the empty string.
func (e *Env) Lookup(name string) string {
	val, ok := e.vars[name]
	if !ok {
		e.vars[name] = ""
	}
	return val
}

// Assign binds name to value, replacing any previous binding.
func (e *Env) Assign(name, value string) {
	e.vars[name] = value
}

// Len returns the number of declared variables.
func (e *Env) Len() int {
	return len(e.vars)
}

// Snapshot returns a copy of all bindings.
func (e *Env) Snapshot() map[string]string {
	return maps.Clone(e.vars)
}

// Names returns the declared variable names in sorted order.
func (e *Env) Names() []string {
	return slices.Sorted(maps.Keys(e.vars))
}
