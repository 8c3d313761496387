// Package term manages the shell's terminal mode: raw mode while reading a
// line at the prompt, restored to the saved (cooked) attributes around
// synchronous child execution, per spec.md §5.
package term

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Controller saves a terminal's original attributes and toggles between raw
// (interactive reading) and cooked (child process execution) mode.
type Controller struct {
	fd       int
	orig     *term.State
	raw      bool
	disabled bool
}

// NewController wraps the given file descriptor's terminal state. If fd is
// not a terminal (e.g. input is a pipe or file), the returned Controller's
// methods become no-ops, tolerating non-TTY input.
func NewController(f *os.File) *Controller {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return &Controller{fd: fd, disabled: true}
	}
	return &Controller{fd: fd}
}

// EnterRaw puts the terminal into raw mode, remembering the original state
// so Restore can undo it. Safe to call repeatedly; only the first call in a
// raw/cooked cycle takes effect.
func (c *Controller) EnterRaw() error {
	if c.disabled || c.raw {
		return nil
	}
	st, err := term.MakeRaw(c.fd)
	if err != nil {
		return fmt.Errorf("term: enter raw mode: %w", err)
	}
	c.orig = st
	c.raw = true
	return nil
}

// Suspend restores cooked mode before a synchronous child inherits the
// terminal, per spec.md §5's "restore the terminal's saved attributes
// before fork/exec".
func (c *Controller) Suspend() error {
	if c.disabled || !c.raw || c.orig == nil {
		return nil
	}
	if err := term.Restore(c.fd, c.orig); err != nil {
		return fmt.Errorf("term: suspend: %w", err)
	}
	c.raw = false
	return nil
}

// Restore reinstalls raw mode after the synchronous child has exited.
func (c *Controller) Restore() error {
	if c.disabled {
		return nil
	}
	return c.EnterRaw()
}

// Close restores the terminal's original state unconditionally, for use at
// shell shutdown.
func (c *Controller) Close() error {
	if c.disabled || c.orig == nil {
		return nil
	}
	return term.Restore(c.fd, c.orig)
}
