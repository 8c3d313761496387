// Command wash is an interactive POSIX-ish shell: it reads lines at a
// terminal, tokenizes and compiles each one into the stack-machine IR
// (internal/compiler, internal/ir), and drives a single persistent VM
// (internal/vm) forward line by line against a long-lived environment
// (internal/env).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/washlang/wash/internal/builtins"
	"github.com/washlang/wash/internal/compiler"
	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/flushio"
	"github.com/washlang/wash/internal/ir"
	"github.com/washlang/wash/internal/logio"
	"github.com/washlang/wash/internal/process"
	"github.com/washlang/wash/internal/reader"
	"github.com/washlang/wash/internal/runeio"
	"github.com/washlang/wash/internal/script"
	"github.com/washlang/wash/internal/term"
	"github.com/washlang/wash/internal/vm"
)

func main() {
	os.Exit(run())
}

// run wires up the shell and drives its REPL to completion, returning the
// process exit code (spec.md §6). It is split out from main so that
// deferred cleanup (restoring the terminal, draining background jobs) runs
// before the process actually exits.
func run() int {
	var trace bool
	var teePath string
	flag.BoolVar(&trace, "trace", false, "enable VM trace logging")
	flag.StringVar(&teePath, "tee", "", "additionally write prompt output to this file")
	flag.Parse()

	log := logio.Logger{}
	log.SetOutput(os.Stderr)

	termCtl := term.NewController(os.Stdin)
	if err := termCtl.EnterRaw(); err != nil {
		log.Errorf("%+v", err)
		return log.ExitCode()
	}
	defer termCtl.Close()

	// out is the REPL's buffered output stream: plain os.Stdout normally,
	// or a tee to an additional log file under -tee, composed through
	// flushio's WriteFlushers.
	out := flushio.NewWriteFlusher(os.Stdout)
	if teePath != "" {
		f, err := os.Create(teePath)
		if err != nil {
			log.Errorf("%+v", err)
			return log.ExitCode()
		}
		defer f.Close()
		out = flushio.WriteFlushers(out, flushio.NewWriteFlusher(f))
	}

	procs := process.NewTable(termCtl)
	defer procs.Shutdown()

	e := env.New()
	e.SetPipeSource(procs)

	// lineCtx holds the current line's cancellable context: a fresh one is
	// installed before every line and cancelled after it, so that a SIGINT
	// aborts only the line in flight rather than every line thereafter
	// (spec.md §5's "interrupting cancels the current line's remaining
	// sections... job table is preserved across interrupts").
	var lineCtx atomicContext
	lineCtx.set(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			lineCtx.cancelCurrent()
		}
	}()

	runner := script.NewRunner()
	builtins.Register(e, builtins.Deps{
		Procs:     procs,
		RunScript: runner.Run,
		Ctx:       lineCtx.get,
	})

	c := compiler.New()
	m := vm.New(c.Table, e, vmOpts(trace, &log)...)

	r := newREPL(os.Stdin, out, c, m, &log, &lineCtx)
	if code := r.loop(); code != 0 {
		return code
	}
	return log.ExitCode()
}

// atomicContext lets the SIGINT handler goroutine cancel whichever line's
// context the REPL goroutine currently has installed, without a data race.
type atomicContext struct {
	v atomic.Value // context.CancelFunc paired with its context via contextPair
}

type contextPair struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// set installs a fresh cancellable context derived from parent, cancelling
// whatever context was previously installed.
func (a *atomicContext) set(parent context.Context) {
	if prev, ok := a.v.Load().(contextPair); ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	a.v.Store(contextPair{ctx: ctx, cancel: cancel})
}

// get returns the currently installed context, consulted fresh by
// builtins.Deps.Ctx on every run/job spawn.
func (a *atomicContext) get() context.Context {
	if p, ok := a.v.Load().(contextPair); ok {
		return p.ctx
	}
	return context.Background()
}

// cancelCurrent aborts whatever line context is currently installed.
func (a *atomicContext) cancelCurrent() {
	if p, ok := a.v.Load().(contextPair); ok {
		p.cancel()
	}
}

func vmOpts(trace bool, log *logio.Logger) []vm.VMOption {
	if !trace {
		return nil
	}
	return []vm.VMOption{vm.WithLogger(log)}
}

// repl drives one persistent Compiler/VM pair line by line, the same
// incremental-execution shape internal/script.Runner uses for files: each
// line's newly appended instructions run exactly once via Continue, rather
// than replaying the whole program's history on every prompt.
type repl struct {
	in      *bufio.Scanner
	out     flushio.WriteFlusher
	c       *compiler.Compiler
	m       *vm.VM
	log     *logio.Logger
	lineCtx *atomicContext

	section ir.SectionID
	offset  int
}

func newREPL(in *os.File, out flushio.WriteFlusher, c *compiler.Compiler, m *vm.VM, log *logio.Logger, lineCtx *atomicContext) *repl {
	return &repl{
		in:      bufio.NewScanner(in),
		out:     out,
		c:       c,
		m:       m,
		log:     log,
		lineCtx: lineCtx,
		section: ir.Run,
	}
}

// loop reads and executes lines until EOF or an `exit` builtin call,
// returning the process exit code (spec.md §6's "Exit codes" contract).
func (r *repl) loop() int {
	for {
		fmt.Fprint(r.out, r.prompt())
		r.out.Flush()
		if !r.in.Scan() {
			if err := r.in.Err(); err != nil {
				r.log.Errorf("%+v", err)
				return r.log.ExitCode()
			}
			return 0 // clean EOF at prompt
		}

		r.lineCtx.set(context.Background())
		if err := r.runLine(r.in.Text()); err != nil {
			if code, ok := builtins.AsExit(err); ok {
				return code
			}
			if vm.IsStop(err) {
				// Stop is a sentinel: the driver suppresses user-visible
				// reporting, per spec.md §7.
				continue
			}
			r.log.Errorf("%+v", err)
		}
	}
}

func (r *repl) prompt() string {
	if r.c.InBlock() {
		return "... "
	}
	return "$ "
}

func (r *repl) runLine(text string) error {
	if err := r.c.AddLine(reader.Tokenize(text)); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if r.c.InBlock() {
		return nil
	}
	if err := r.c.Table.Validate(); err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	result, _, _, err := r.m.ContinueSafe(r.section, r.offset)
	// Resync to the compiler's own current position rather than trust the
	// VM's returned cursor: a short-circuited `&&` leaves Continue parked in
	// the dedicated Fail section handle_amperamper allocates, which nothing
	// ever appends to again (mirrors internal/script.Runner.Run).
	r.section = r.c.Position()
	r.offset = len(r.c.Table.Actions(r.section))

	if err != nil {
		return err
	}
	if !result.IsEmpty() {
		// A spawned command's result can carry arbitrary bytes (e.g. a
		// child's captured control output echoed back through $pipe:); write
		// it through runeio so control characters are escaped rather than
		// replayed raw to the terminal.
		if _, err := runeio.WriteANSIString(r.out, result.Flatten(" ")+"\n"); err != nil {
			return err
		}
	}
	return r.out.Flush()
}
