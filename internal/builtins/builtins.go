// Package builtins implements the host functions the compiler emits Call
// instructions for (spec.md §6), plus the supplemental interactive
// commands (cd, builtins, outs, exit, jobs, source) spec.md's ambient
// shell surface adds beyond the core instruction set.
package builtins

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/process"
	"github.com/washlang/wash/internal/value"
)

// Deps bundles what the builtins need beyond the (args, env) calling
// convention every env.Func shares: the job table for run/job/open_*, and
// the compiler + VM runner for source.
type Deps struct {
	Procs *process.Table
	// RunScript compiles and executes one file's lines in-process, the
	// in-process equivalent of the original's dlopen-based script loading
	// (see internal/script). It is injected by the caller (cmd/wash passes
	// script.Runner.Run); when nil, `source` returns an error.
	RunScript func(e *env.Environment, path string, args value.Value) (value.Value, error)
	// Ctx, when set, is consulted fresh for every run/job spawn so a SIGINT
	// delivered while a child is blocking can cancel it without aborting
	// later lines (spec.md §5: interrupts are scoped to the current line).
	// nil means context.Background().
	Ctx func() context.Context
}

func (d Deps) ctx() context.Context {
	if d.Ctx != nil {
		return d.Ctx()
	}
	return context.Background()
}

// Register installs every builtin into e.
func Register(e *env.Environment, deps Deps) {
	e.RegisterFunc("run", deps.run)
	e.RegisterFunc("job", deps.job)
	e.RegisterFunc("describe_process_output", describeProcessOutput)
	e.RegisterFunc("equal?", equalPredicate)
	e.RegisterFunc("re_equal?", reEqualPredicate)
	e.RegisterFunc("not?", notPredicate)
	e.RegisterFunc("run_failed?", runFailedPredicate)
	e.RegisterFunc("dot", dot)
	e.RegisterFunc("getall", getall)
	e.RegisterFunc("flatten_eqlist", flattenEqlist)
	e.RegisterFunc("open_input", deps.openInput)
	e.RegisterFunc("open_output", deps.openOutput)

	e.RegisterFunc("cd", cd)
	e.RegisterFunc("builtins", builtinsList)
	e.RegisterFunc("outs", outs)
	e.RegisterFunc("exit", exitFunc)
	e.RegisterFunc("jobs", deps.jobs)
	e.RegisterFunc("source", deps.source)
}

// argv splits a command Value (Flat or Long-of-Flat) into process argument
// words, the shape `run`/`job` expect their CFV in per spec.md §6.
func argv(args value.Value) []string {
	switch args.Kind() {
	case value.Empty:
		return nil
	case value.Flat:
		return []string{args.Text()}
	case value.Long:
		words := make([]string, 0, args.Len())
		for _, e := range args.List() {
			if e.Kind() == value.Flat {
				words = append(words, e.Text())
			}
		}
		return words
	}
	return nil
}

// stdinHandleAndArgv splits a leading "@<n>" redirect-from-handle token (the
// shape `|`'s compiled sequence produces, spec.md §4.3's `|` handler) from
// the rest of the command words.
func (d Deps) stdinHandleAndArgv(words []string) (handle string, rest []string) {
	if len(words) == 0 {
		return "", nil
	}
	if strings.HasPrefix(words[0], "@") {
		return words[0], words[1:]
	}
	return "", words
}

func (d Deps) run(args value.Value, _ *env.Environment) (value.Value, error) {
	words := argv(args)
	handle, rest := d.stdinHandleAndArgv(words)

	var stdin io.Reader = os.Stdin
	if handle != "" {
		if f, ok := d.Procs.Handle(handle); ok {
			stdin = f
			defer d.Procs.CloseHandle(handle)
		} else if r, ok := d.Procs.PipeOutput(handle); ok {
			stdin = r
		}
	}

	result, err := d.Procs.Run(d.ctx(), rest, stdin, os.Stdout, os.Stderr)
	if err != nil {
		return value.NewEmpty(), err
	}
	return encodeResult(result), nil
}

func (d Deps) job(args value.Value, _ *env.Environment) (value.Value, error) {
	words := argv(args)
	_, rest := d.stdinHandleAndArgv(words)
	id, err := d.Procs.Spawn(d.ctx(), rest, true)
	if err != nil {
		return value.NewEmpty(), err
	}
	return value.NewFlat(strconv.Itoa(id)), nil
}

func encodeResult(r process.Result) value.Value {
	success := "0"
	if r.Success {
		success = "1"
	}
	return value.NewLong(value.NewFlat(success), value.NewFlat(strconv.Itoa(r.Code)))
}

func decodeResult(v value.Value) (success bool, code int) {
	if v.Kind() != value.Long || v.Len() < 2 {
		return true, 0
	}
	success = v.List()[0].Text() == "1"
	code, _ = strconv.Atoi(v.List()[1].Text())
	return success, code
}

// describeProcessOutput implements spec.md §6's describe_process_output:
// format a run result into the Value returned to the user — silent on
// success, a short status line on failure.
func describeProcessOutput(args value.Value, _ *env.Environment) (value.Value, error) {
	success, code := decodeResult(args)
	if success {
		return value.NewEmpty(), nil
	}
	return value.NewFlat(fmt.Sprintf("exited with status %d", code)), nil
}

// equalPredicate implements `equal?`: args is Long(x, y); structural
// equality, per spec.md §6's predicate convention (non-Empty iff true).
func equalPredicate(args value.Value, _ *env.Environment) (value.Value, error) {
	if args.Kind() != value.Long || args.Len() != 2 {
		return value.NewEmpty(), nil
	}
	if args.List()[0].Equal(args.List()[1]) {
		return value.NewFlat("1"), nil
	}
	return value.NewEmpty(), nil
}

// reEqualPredicate implements `re_equal?`: args is Long(x, pattern); x
// flattened matches pattern as a regular expression.
func reEqualPredicate(args value.Value, _ *env.Environment) (value.Value, error) {
	if args.Kind() != value.Long || args.Len() != 2 {
		return value.NewEmpty(), nil
	}
	pattern := args.List()[1].Flatten(" ")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return value.NewEmpty(), fmt.Errorf("re_equal?: %w", err)
	}
	if re.MatchString(args.List()[0].Flatten(" ")) {
		return value.NewFlat("1"), nil
	}
	return value.NewEmpty(), nil
}

// notPredicate inverts truthiness: Empty becomes true, anything else false.
func notPredicate(args value.Value, _ *env.Environment) (value.Value, error) {
	if args.IsEmpty() {
		return value.NewFlat("1"), nil
	}
	return value.NewEmpty(), nil
}

// runFailedPredicate implements `run_failed?`, used by `&&`'s short-circuit
// (spec.md §4.3's handle_amperamper): true iff the run()/job() result
// denotes a non-zero exit.
func runFailedPredicate(args value.Value, _ *env.Environment) (value.Value, error) {
	success, _ := decodeResult(args)
	if success {
		return value.NewEmpty(), nil
	}
	return value.NewFlat("1"), nil
}

// dot concatenates the flattened text of a Long's elements with no
// separator — used for redirection-tag and $pipe: composition.
func dot(args value.Value, _ *env.Environment) (value.Value, error) {
	return value.NewFlat(args.Flatten("")), nil
}

// getall implements `getall`: args is Empty (enumerate the current path) or
// Flat(path) (enumerate a named path).
func getall(args value.Value, e *env.Environment) (value.Value, error) {
	if args.IsEmpty() {
		return e.GetAll(), nil
	}
	if args.Kind() != value.Flat {
		return value.NewEmpty(), fmt.Errorf("getall: path must be flat")
	}
	return e.GetAllP(args.Text()), nil
}

// flattenEqlist implements `flatten_eqlist`: pretty-print a getall() result
// as "name=value" lines.
func flattenEqlist(args value.Value, _ *env.Environment) (value.Value, error) {
	return value.NewFlat(value.FlattenPairs(args, "\n", "=")), nil
}

func (d Deps) openInput(args value.Value, _ *env.Environment) (value.Value, error) {
	if args.Kind() != value.Flat {
		return value.NewEmpty(), fmt.Errorf("open_input: path must be flat")
	}
	handle, err := d.Procs.OpenInput(args.Text())
	if err != nil {
		return value.NewEmpty(), err
	}
	return value.NewFlat(handle), nil
}

func (d Deps) openOutput(args value.Value, _ *env.Environment) (value.Value, error) {
	if args.Kind() != value.Flat {
		return value.NewEmpty(), fmt.Errorf("open_output: path must be flat")
	}
	handle, err := d.Procs.OpenOutput(args.Text())
	if err != nil {
		return value.NewEmpty(), err
	}
	return value.NewFlat(handle), nil
}

// cd changes the process's working directory, expanding a leading "~" the
// way the original's expand_path does.
func cd(args value.Value, _ *env.Environment) (value.Value, error) {
	target := args.Flatten(" ")
	if target == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return value.NewEmpty(), err
		}
		target = home
	} else if strings.HasPrefix(target, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			target = filepath.Join(home, strings.TrimPrefix(target, "~"))
		}
	}
	if err := os.Chdir(target); err != nil {
		return value.NewEmpty(), fmt.Errorf("cd: %w", err)
	}
	return value.NewEmpty(), nil
}

// builtinsList implements `builtins`: enumerate registered function names.
func builtinsList(_ value.Value, e *env.Environment) (value.Value, error) {
	names := e.FuncNames()
	sort.Strings(names)
	vs := make([]value.Value, len(names))
	for i, n := range names {
		vs[i] = value.NewFlat(n)
	}
	return value.NewLong(vs...), nil
}

// outs writes args to stdout, adding a trailing newline if it flattens to
// one that doesn't already end with one.
func outs(args value.Value, _ *env.Environment) (value.Value, error) {
	s := args.Flatten(" ")
	fmt.Print(s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Println()
	}
	return value.NewEmpty(), nil
}

// exitStatus is a sentinel error cmd/wash recognizes to terminate the REPL
// with a specific process exit code.
type exitStatus struct{ Code int }

func (e exitStatus) Error() string { return fmt.Sprintf("exit %d", e.Code) }

// AsExit reports whether err is an exit request, returning its code.
func AsExit(err error) (int, bool) {
	if ee, ok := err.(exitStatus); ok {
		return ee.Code, true
	}
	return 0, false
}

func exitFunc(args value.Value, _ *env.Environment) (value.Value, error) {
	code := 0
	if args.Kind() == value.Flat {
		if n, err := strconv.Atoi(args.Text()); err == nil {
			code = n
		}
	}
	return value.NewEmpty(), exitStatus{Code: code}
}

func (d Deps) jobs(_ value.Value, _ *env.Environment) (value.Value, error) {
	infos := d.Procs.GetJobs()
	vs := make([]value.Value, 0, len(infos))
	for _, info := range infos {
		status := "running"
		if !info.Running {
			status = "finished"
		}
		kind := "background"
		if info.Piped {
			kind = "piped"
		}
		vs = append(vs, value.NewFlat(fmt.Sprintf("job %d: %s (%s)", info.ID, status, kind)))
	}
	return value.NewLong(vs...), nil
}

// source implements the `source` builtin: compile and run a file's lines
// in-process (internal/script), the modern equivalent of the original's
// dlopen-based script loading (out of scope per spec.md §1).
func (d Deps) source(args value.Value, e *env.Environment) (value.Value, error) {
	if args.Kind() != value.Flat {
		return value.NewEmpty(), fmt.Errorf("source: path must be flat")
	}
	if d.RunScript == nil {
		return value.NewEmpty(), fmt.Errorf("source: not supported in this context")
	}
	return d.RunScript(e, args.Text(), value.NewEmpty())
}
