// Package env implements the shell's Environment: namespaced variable
// paths, the synthetic "env" (OS environment proxy) and "pipe" (job stdout
// proxy) paths, the function registry, and current-path resolution.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/washlang/wash/internal/value"
)

// EnvPath and PipePath name the two synthetic paths.
const (
	EnvPath  = "env"
	PipePath = "pipe"
)

// Func is a host-provided callable registered under a name in Functions.
type Func func(args value.Value, e *Environment) (value.Value, error)

// VarTable maps a variable name to its Value within one path.
type VarTable map[string]value.Value

// PipeSource is implemented by internal/process.Table to back the "pipe"
// synthetic path: each running job with captured stdout exposes its file
// descriptor handle as a Flat value keyed by job id.
type PipeSource interface {
	PipeVar(id string) (value.Value, bool)
	PipeAll() []PipeEntry
}

// PipeEntry is one (job id, fd handle) pair surfaced by a PipeSource.
type PipeEntry struct {
	ID  string
	Val value.Value
}

// Environment coordinates path variable tables, the function registry, and
// the current path used to resolve unqualified variable references.
type Environment struct {
	paths       map[string]VarTable
	functions   map[string]Func
	currentPath string
	pipes       PipeSource
}

// New returns an Environment with only the empty path allocated.
func New() *Environment {
	return &Environment{
		paths:     map[string]VarTable{"": {}},
		functions: map[string]Func{},
	}
}

// SetPipeSource wires the job table backing the "pipe" synthetic path.
func (e *Environment) SetPipeSource(p PipeSource) { e.pipes = p }

// CurrentPath returns the path implicitly prepended to unqualified lookups.
func (e *Environment) CurrentPath() string { return e.currentPath }

// SetCurrentPath changes the current path.
func (e *Environment) SetCurrentPath(path string) { e.currentPath = path }

// RegisterFunc installs a host function under name, replacing any prior
// registration.
func (e *Environment) RegisterFunc(name string, fn Func) { e.functions[name] = fn }

// RunFunc implements the `runf(name, args)` contract: look up a function and
// invoke it, propagating any error.
func (e *Environment) RunFunc(name string, args value.Value) (value.Value, error) {
	fn, ok := e.functions[name]
	if !ok {
		return value.NewEmpty(), fmt.Errorf("no such function: %s", name)
	}
	return fn(args, e)
}

// HasFunc reports whether name is registered, for compile-time Call
// validation.
func (e *Environment) HasFunc(name string) bool {
	_, ok := e.functions[name]
	return ok
}

// FuncNames returns the names of every registered function, in no
// particular order, for the `builtins` listing command.
func (e *Environment) FuncNames() []string {
	names := make([]string, 0, len(e.functions))
	for n := range e.functions {
		names = append(names, n)
	}
	return names
}

func (e *Environment) table(path string) (VarTable, bool) {
	t, ok := e.paths[path]
	return t, ok
}

func (e *Environment) ensureTable(path string) VarTable {
	t, ok := e.paths[path]
	if !ok {
		t = VarTable{}
		e.paths[path] = t
	}
	return t
}

// GetV implements `getv(name)`: resolve name in the current path, falling
// back to the empty path.
func (e *Environment) GetV(name string) (value.Value, bool) {
	return e.GetVP(name, e.currentPath)
}

// GetVP implements `getvp(name, path)`.
func (e *Environment) GetVP(name, path string) (value.Value, bool) {
	switch path {
	case EnvPath:
		s, ok := os.LookupEnv(name)
		if !ok {
			return value.NewEmpty(), false
		}
		return value.NewFlat(s), true
	case PipePath:
		if e.pipes == nil {
			return value.NewEmpty(), false
		}
		return e.pipes.PipeVar(name)
	}
	if t, ok := e.table(path); ok {
		if v, ok := t[name]; ok {
			return v, true
		}
	}
	if path != "" {
		if t, ok := e.table(""); ok {
			if v, ok := t[name]; ok {
				return v, true
			}
		}
	}
	return value.NewEmpty(), false
}

// InsV implements `insv(name, val)` against the current path.
func (e *Environment) InsV(name string, val value.Value) error {
	return e.InsVP(name, e.currentPath, val)
}

// InsVP implements `insvp(name, path, val)`: Empty removes the variable;
// `env` proxies to the OS; `pipe` is read-only.
func (e *Environment) InsVP(name, path string, val value.Value) error {
	switch path {
	case EnvPath:
		if val.IsEmpty() {
			return os.Unsetenv(name)
		}
		if val.Kind() != value.Flat {
			return fmt.Errorf("$env:%s must be set to a flat value", name)
		}
		return os.Setenv(name, val.Text())
	case PipePath:
		return fmt.Errorf("$pipe:%s is read-only", name)
	}
	t := e.ensureTable(path)
	if val.IsEmpty() {
		delete(t, name)
		return nil
	}
	t[name] = val
	return nil
}

// GetAll implements `getall()` over the current path.
func (e *Environment) GetAll() value.Value { return e.GetAllP(e.currentPath) }

// GetAllP implements `getallp(path)`: enumerate all variables as
// Long(Long(Flat(name), value)), sorted by name for determinism.
func (e *Environment) GetAllP(path string) value.Value {
	var names []string
	var lookup func(string) (value.Value, bool)

	switch path {
	case EnvPath:
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				names = append(names, kv[:i])
			}
		}
		lookup = func(n string) (value.Value, bool) { return e.GetVP(n, EnvPath) }
	case PipePath:
		if e.pipes != nil {
			for _, pe := range e.pipes.PipeAll() {
				names = append(names, pe.ID)
			}
		}
		lookup = func(n string) (value.Value, bool) { return e.GetVP(n, PipePath) }
	default:
		t, _ := e.table(path)
		for n := range t {
			names = append(names, n)
		}
		lookup = func(n string) (value.Value, bool) { v, ok := t[n]; return v, ok }
	}

	sort.Strings(names)
	pairs := make([]value.Value, 0, len(names))
	for _, n := range names {
		v, ok := lookup(n)
		if !ok {
			continue
		}
		pairs = append(pairs, value.NewLong(value.NewFlat(n), v))
	}
	return value.NewLong(pairs...)
}
