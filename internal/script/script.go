// Package script implements the `source` builtin's file-loading path: read
// a file rune by rune, assemble lines, compile each one against a shared
// Compiler, and run the compiled program against an Environment. This is
// the in-process equivalent of the original's dlopen-based shared-object
// script loading (original_source/src/script.rs) — out of scope here per
// spec.md §1 — kept only as "load and execute another file's lines now."
package script

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/washlang/wash/internal/compiler"
	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/fileinput"
	"github.com/washlang/wash/internal/ir"
	"github.com/washlang/wash/internal/reader"
	"github.com/washlang/wash/internal/value"
	"github.com/washlang/wash/internal/vm"
)

// Runner loads and executes wash scripts against a shared environment.
type Runner struct{}

// NewRunner returns a Runner ready to load scripts.
func NewRunner() *Runner { return &Runner{} }

// Run compiles and executes every line of the file at path against e,
// returning the final line's result value. args becomes $0 in the script's
// top-level scope before the first line runs.
func (r *Runner) Run(e *env.Environment, path string, args value.Value) (value.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return value.NewEmpty(), fmt.Errorf("source: %w", err)
	}
	defer f.Close()

	if !args.IsEmpty() {
		if err := e.InsV("0", args); err != nil {
			return value.NewEmpty(), err
		}
	}

	c := compiler.New()
	m := vm.New(c.Table, e)
	var result value.Value
	section, offset := ir.Run, 0

	var line strings.Builder
	runLine := func(name string, lineNo int) error {
		if line.Len() == 0 {
			return nil
		}
		text := line.String()
		line.Reset()

		if err := c.AddLine(reader.Tokenize(text)); err != nil {
			return fmt.Errorf("source: %s:%d: %w", name, lineNo, err)
		}
		if c.InBlock() {
			return nil
		}
		if err := c.Table.Validate(); err != nil {
			return fmt.Errorf("source: %s:%d: %w", name, lineNo, err)
		}

		var runErr error
		result, _, _, runErr = m.ContinueSafe(section, offset)
		// Resync to the compiler's own current position rather than trust
		// Continue's returned cursor: a short-circuited `&&` leaves Continue
		// parked in the dedicated Fail section handle_amperamper allocates,
		// which nothing ever appends to again.
		section = c.Position()
		offset = len(c.Table.Actions(section))
		if runErr != nil && !vm.IsStop(runErr) {
			return fmt.Errorf("source: %s:%d: %w", name, lineNo, runErr)
		}
		return nil
	}

	// fileinput.Input tracks (name, line) location across the rune stream,
	// the same bookkeeping a live REPL prompt uses for error feedback.
	in := &fileinput.Input{Queue: []io.Reader{f}}
	for {
		ch, _, rerr := in.ReadRune()
		switch {
		case ch == '\n':
			if err := runLine(in.Last.Name, in.Last.Line); err != nil {
				return value.NewEmpty(), err
			}
		case rerr == io.EOF:
			if err := runLine(in.Last.Name, in.Last.Line); err != nil {
				return value.NewEmpty(), err
			}
			if c.InBlock() {
				return value.NewEmpty(), fmt.Errorf("source: %s: unterminated block", path)
			}
			return result, nil
		case rerr != nil:
			return value.NewEmpty(), fmt.Errorf("source: %s: %w", path, rerr)
		default:
			line.WriteRune(ch)
		}
	}
}
