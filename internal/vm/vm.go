// Package vm implements the stack virtual machine that executes a
// compiled ir.SectionTable against an env.Environment: spec.md §4.4.
package vm

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/ir"
	"github.com/washlang/wash/internal/logio"
	"github.com/washlang/wash/internal/panicerr"
	"github.com/washlang/wash/internal/value"
)

var (
	varPathRe = regexp.MustCompile(`^\$([^ \t\r\n"():]*):([^ \t\r\n"():]*)$`)
	varRe     = regexp.MustCompile(`^\$([^ \t\r\n"():]+)$`)
)

// stop is the sentinel error text produced by `&&`'s short-circuit Fail
// (spec.md §7). IsStop recognizes it.
const stop = "stop"

// IsStop reports whether err is the Stop sentinel, which callers should
// treat as "halt this line cleanly" rather than an error to report.
func IsStop(err error) bool { return err != nil && err.Error() == stop }

// VM holds the two pieces of runtime state spec.md §4.4 describes: the
// current front value (CFV) register and the value stack (VS), plus the
// program (section table) and the environment instructions read and write
// through.
type VM struct {
	table    *ir.SectionTable
	environ  *env.Environment
	position ir.SectionID
	cfv      value.Value
	vs       []value.Value
	logger   *logio.Logger
}

// VMOption configures a VM at construction time.
type VMOption func(*VM)

// WithLogger attaches a logger that traces each executed instruction at
// "TRACE" level.
func WithLogger(l *logio.Logger) VMOption {
	return func(v *VM) { v.logger = l }
}

// New returns a VM ready to execute table against e.
func New(table *ir.SectionTable, e *env.Environment, opts ...VMOption) *VM {
	v := &VM{table: table, environ: e, position: ir.Run}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run executes the program from Run to completion (falling off the end of
// a section with no further Jump/Branch), returning the final CFV.
func (vm *VM) Run() (value.Value, error) {
	vm.position = ir.Run
	vm.cfv = value.NewEmpty()
	vm.vs = nil

	for {
		actions := vm.table.Actions(vm.position)
		if actions == nil && !vm.table.Has(vm.position) {
			return value.Value{}, fmt.Errorf("reached unknown section %v", vm.position)
		}

		jumped := false
		for _, a := range actions {
			if vm.logger != nil {
				vm.logger.Printf("TRACE", "%v %v", vm.position, a.Op)
			}
			moved, err := vm.step(a)
			if err != nil {
				return value.Value{}, err
			}
			if moved {
				jumped = true
				break
			}
		}
		if !jumped {
			return vm.cfv, nil
		}
	}
}

// RunSafe runs the program the way cmd/wash's REPL driver does: isolated in
// its own goroutine so a VM bug (index panic, nil deref) becomes an error
// instead of taking down the whole shell.
func (vm *VM) RunSafe() (value.Value, error) {
	var result value.Value
	err := panicerr.Recover("vm", func() error {
		var runErr error
		result, runErr = vm.Run()
		return runErr
	})
	return result, err
}

// Continue resumes execution at (section, offset) — the count of section's
// instructions already executed in a prior call — preserving CFV/VS across
// the call, and runs until falling off the end of a section with no
// Jump/Branch taken. It returns the section/offset to resume from on the
// next call, which callers track to drive a compiler whose section table
// keeps growing one line at a time (cmd/wash's REPL, internal/script's file
// loader): each line's newly appended instructions run exactly once, rather
// than re-running the whole program's accumulated prefix from Run every
// time — loop bodies reached via a back-edge Jump still re-execute in full,
// since their offset naturally resets to 0 on entry.
func (vm *VM) Continue(section ir.SectionID, offset int) (value.Value, ir.SectionID, int, error) {
	vm.position = section
	for {
		actions := vm.table.Actions(vm.position)
		if actions == nil && !vm.table.Has(vm.position) {
			return value.Value{}, vm.position, offset, fmt.Errorf("reached unknown section %v", vm.position)
		}
		jumped := false
		for offset < len(actions) {
			a := actions[offset]
			if vm.logger != nil {
				vm.logger.Printf("TRACE", "%v[%d] %v", vm.position, offset, a.Op)
			}
			moved, err := vm.step(a)
			offset++
			if err != nil {
				return value.Value{}, vm.position, offset, err
			}
			if moved {
				jumped = true
				break
			}
		}
		if !jumped {
			return vm.cfv, vm.position, offset, nil
		}
		offset = 0
	}
}

// ContinueSafe is Continue wrapped in panicerr.Recover, matching RunSafe.
func (vm *VM) ContinueSafe(section ir.SectionID, offset int) (value.Value, ir.SectionID, int, error) {
	var result value.Value
	var outSection ir.SectionID
	var outOffset int
	err := panicerr.Recover("vm", func() error {
		var runErr error
		result, outSection, outOffset, runErr = vm.Continue(section, offset)
		return runErr
	})
	return result, outSection, outOffset, err
}

// step executes one instruction. It returns moved=true when the
// instruction changed vm.position (Jump/Branch taken), telling Run to
// restart iteration from the new section.
func (vm *VM) step(a ir.Action) (moved bool, err error) {
	switch a.Op {
	case ir.OpJump:
		vm.position = ir.Number(a.N)
		return true, nil

	case ir.OpBranch:
		if !vm.cfv.IsEmpty() {
			vm.position = ir.Number(a.N)
			return true, nil
		}
		return false, nil

	case ir.OpSet:
		if a.Flat {
			vm.cfv = value.NewFlat(a.Text)
		} else {
			vm.cfv = value.NewEmpty()
		}
		return false, nil

	case ir.OpInsert:
		if a.Flat {
			vm.push(value.NewFlat(a.Text))
		} else {
			vm.push(value.NewEmpty())
		}
		return false, nil

	case ir.OpReInsert:
		if v, ok := vm.pop(); ok {
			vm.push(v)
			vm.push(v)
		}
		return false, nil

	case ir.OpTemp:
		vm.push(vm.cfv)
		vm.cfv = value.NewEmpty()
		return false, nil

	case ir.OpTop:
		if len(vm.vs) == 0 {
			vm.cfv = value.NewEmpty()
		} else {
			vm.cfv = vm.vs[len(vm.vs)-1]
		}
		return false, nil

	case ir.OpSwap:
		top, ok := vm.pop()
		if !ok {
			top = value.NewEmpty()
		}
		vm.push(vm.cfv)
		vm.cfv = top
		return false, nil

	case ir.OpGet:
		y, ok := vm.pop()
		if !ok {
			vm.cfv = value.NewEmpty()
		} else {
			vm.cfv = value.Append(vm.cfv, y)
		}
		return false, nil

	case ir.OpJoin:
		vm.cfv = value.NewLong(vm.popN(a.N)...)
		return false, nil

	case ir.OpCall:
		result, callErr := vm.environ.RunFunc(a.Text, vm.cfv)
		if callErr != nil {
			return false, callErr
		}
		vm.cfv = result
		return false, nil

	case ir.OpProc:
		vargs := vm.popN(a.N)
		var args value.Value
		switch len(vargs) {
		case 0:
			args = value.NewEmpty()
		case 1:
			args = vargs[0]
		default:
			args = value.NewLong(vargs...)
		}
		result, callErr := vm.environ.RunFunc(a.Text, args)
		if callErr != nil {
			return false, callErr
		}
		vm.push(result)
		return false, nil

	case ir.OpFail:
		return false, fmt.Errorf("%s", a.Text)

	case ir.OpDStore:
		if a.Path == "" {
			err = vm.environ.InsV(a.Text, vm.cfv)
		} else {
			err = vm.environ.InsVP(a.Text, a.Path, vm.cfv)
		}
		if err != nil {
			return false, err
		}
		vm.cfv = value.NewEmpty()
		return false, nil

	case ir.OpUnStack:
		top, ok := vm.pop()
		if !ok {
			top = value.NewEmpty()
		}
		if a.Path == "" {
			err = vm.environ.InsV(a.Text, top)
		} else {
			err = vm.environ.InsVP(a.Text, a.Path, top)
		}
		return false, err

	case ir.OpStack:
		var v value.Value
		var ok bool
		if a.Path == "" {
			v, ok = vm.environ.GetV(a.Text)
		} else {
			v, ok = vm.environ.GetVP(a.Text, a.Path)
		}
		_ = ok
		vm.push(v)
		return false, nil

	case ir.OpStore:
		name, ok := vm.pop()
		if !ok {
			return false, fmt.Errorf("no variable name found")
		}
		if name.Kind() != value.Flat {
			return false, fmt.Errorf("variable names must be flat")
		}
		path, ident, resolveErr := resolveVarName(name.Text())
		if resolveErr != nil {
			return false, resolveErr
		}
		if err := vm.environ.InsVP(ident, path, vm.cfv); err != nil {
			return false, err
		}
		vm.cfv = value.NewEmpty()
		return false, nil

	case ir.OpLoad:
		if vm.cfv.Kind() != value.Flat {
			return false, fmt.Errorf("variable names must be flat")
		}
		path, ident, resolveErr := resolveVarName(vm.cfv.Text())
		if resolveErr != nil {
			return false, resolveErr
		}
		v, _ := vm.environ.GetVP(ident, path)
		vm.cfv = v
		return false, nil

	case ir.OpSave:
		if vm.cfv.Kind() != value.Flat {
			return false, fmt.Errorf("function names must be flat")
		}
		sectionNum := a.N
		vm.environ.RegisterFunc(vm.cfv.Text(), sectionFunc(vm.table, ir.Number(sectionNum)))
		vm.cfv = value.NewEmpty()
		return false, nil

	case ir.OpArgs:
		// Reserved extension: a called section's argument value is already
		// CFV on entry (set by Call/Proc's env.RunFunc invocation), so Args
		// is a no-op placeholder kept for forward compatibility with
		// spec.md §4.1's optional extension list.
		return false, nil

	case ir.OpIndex:
		idx, ok := vm.pop()
		if !ok || idx.Kind() != value.Flat {
			vm.cfv = value.NewEmpty()
			return false, nil
		}
		vm.cfv = indexInto(vm.cfv, idx.Text())
		return false, nil
	}
	return false, fmt.Errorf("unknown opcode %v", a.Op)
}

func (vm *VM) push(v value.Value) { vm.vs = append(vm.vs, v) }

func (vm *VM) pop() (value.Value, bool) {
	if len(vm.vs) == 0 {
		return value.Value{}, false
	}
	v := vm.vs[len(vm.vs)-1]
	vm.vs = vm.vs[:len(vm.vs)-1]
	return v, true
}

// popN pops the last n values off VS (fewer if VS is shorter), returning
// them in original (bottom-to-top) order.
func (vm *VM) popN(n int) []value.Value {
	idx := len(vm.vs) - n
	if idx < 0 {
		idx = 0
	}
	popped := append([]value.Value{}, vm.vs[idx:]...)
	vm.vs = vm.vs[:idx]
	return popped
}

// resolveVarName splits a Store/Load operand into (path, name), matching
// $path:name (defaulting path to "" when name matches bare $name).
func resolveVarName(s string) (path, name string, err error) {
	if m := varPathRe.FindStringSubmatch(s); m != nil {
		return m[1], m[2], nil
	}
	if m := varRe.FindStringSubmatch(s); m != nil {
		return "", m[1], nil
	}
	return "", "", fmt.Errorf("variable name %q could not be resolved into $path:name", s)
}

// sectionFunc adapts a compiled section into an env.Func: a user-defined
// function invoked via Call(name) binds its argument as CFV and as $0, runs
// a fresh VM positioned at section, and returns its result.
func sectionFunc(table *ir.SectionTable, section ir.SectionID) env.Func {
	return func(args value.Value, e *env.Environment) (value.Value, error) {
		if err := e.InsV("0", args); err != nil {
			return value.NewEmpty(), err
		}
		sub := New(table, e)
		sub.position = section
		sub.cfv = args
		return sub.runFrom(section)
	}
}

// runFrom is Run's loop entered at an arbitrary section, used to invoke a
// user-defined function's body without resetting CFV/VS.
func (vm *VM) runFrom(start ir.SectionID) (value.Value, error) {
	vm.position = start
	for {
		actions := vm.table.Actions(vm.position)
		if actions == nil && !vm.table.Has(vm.position) {
			return value.Value{}, fmt.Errorf("reached unknown section %v", vm.position)
		}
		jumped := false
		for _, a := range actions {
			moved, err := vm.step(a)
			if err != nil {
				return value.Value{}, err
			}
			if moved {
				jumped = true
				break
			}
		}
		if !jumped {
			return vm.cfv, nil
		}
	}
}

// indexInto supports the optional Index extension: a key lookup into
// Long(Long(k,v)) pair lists — the shape getall()'s results take — or, when
// no key matches, selecting one element of a Long CFV by integer string index.
func indexInto(v value.Value, idx string) value.Value {
	if v.Kind() != value.Long {
		return value.NewEmpty()
	}
	for _, e := range v.List() {
		if e.Kind() == value.Long && e.Len() == 2 && e.List()[0].Kind() == value.Flat && e.List()[0].Text() == idx {
			return e.List()[1]
		}
	}
	if n, err := strconv.Atoi(idx); err == nil && n >= 0 && n < v.Len() {
		return v.List()[n]
	}
	return value.NewEmpty()
}
