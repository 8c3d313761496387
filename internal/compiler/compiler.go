// Package compiler implements the line compiler: it turns one input.Value
// parse tree into a sequence of ir.Action instructions, dispatching to
// registered syntactic handlers for operator and block-keyword words.
package compiler

import (
	"fmt"
	"regexp"

	"github.com/washlang/wash/internal/input"
	"github.com/washlang/wash/internal/ir"
)

// Outcome tags what a Handler's invocation means for the enclosing
// compilation: keep draining the line, stop compiling it, or open a new
// block that subsequent lines compile into until a closing `}`.
type Outcome int

// The three handler outcomes (spec §4.3).
const (
	Continue Outcome = iota
	Stop
	More
)

// Result is what a Handler returns.
type Result struct {
	Outcome Outcome
	Section ir.SectionID // meaningful only when Outcome == More
}

// Cursor is the mutable, front-extractable argument tail a Handler
// consumes from (the "contents" parameter of spec §4.3).
type Cursor struct {
	items []input.Value
}

// NewCursor wraps items for front-popping consumption.
func NewCursor(items []input.Value) *Cursor { return &Cursor{items: items} }

// Empty reports whether the cursor has no items left.
func (c *Cursor) Empty() bool { return len(c.items) == 0 }

// Front returns the next item without consuming it.
func (c *Cursor) Front() (input.Value, bool) {
	if c.Empty() {
		return input.Value{}, false
	}
	return c.items[0], true
}

// PopFront removes and returns the next item.
func (c *Cursor) PopFront() (input.Value, bool) {
	if c.Empty() {
		return input.Value{}, false
	}
	v := c.items[0]
	c.items = c.items[1:]
	return v, true
}

// SkipSplits discards leading Split items.
func (c *Cursor) SkipSplits() {
	for {
		v, ok := c.Front()
		if !ok || v.Kind() != input.Split {
			return
		}
		c.PopFront()
	}
}

// DrainUntilOpenBrace pops and returns every item up to (and consuming) a
// bare `{` Short token, or to the end of the cursor if none is found — the
// shape every block-opening handler (if!/elif!/while!/act!) uses to collect
// its condition/header tokens.
func (c *Cursor) DrainUntilOpenBrace() []input.Value {
	var values []input.Value
	for {
		v, ok := c.PopFront()
		if !ok {
			break
		}
		if v.Kind() == input.Short && v.Text() == "{" {
			break
		}
		values = append(values, v)
	}
	return values
}

// DrainAll pops and returns every remaining item.
func (c *Cursor) DrainAll() []input.Value {
	values := c.items
	c.items = nil
	return values
}

// Handler is a compile-time syntactic handler, registered under an operator
// or block-keyword word (spec §4.3). It rewrites *out in place and may
// adjust *count, the live element counter of the enclosing Long.
type Handler func(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error)

var (
	varPathRe = regexp.MustCompile(`^\$([^ \t\r\n"():]*):([^ \t\r\n"():]*)$`)
	varRe     = regexp.MustCompile(`^\$([^ \t\r\n"():]+)$`)
)

// Compiler holds all compile-time state threaded through Process: the
// section table under construction, the handler registry, the current
// write position, the open-block stack, and per-line endline actions.
type Compiler struct {
	Table    *ir.SectionTable
	handlers map[string]Handler
	position ir.SectionID
	endline  []ir.Action
	blocks   []ir.SectionID
	elif     *ir.SectionID
	secLoop  bool
}

// New returns a Compiler with the standard handler set registered (see
// handlers.go) and an empty section table positioned at Run.
func New() *Compiler {
	c := &Compiler{
		Table:    ir.NewSectionTable(),
		handlers: map[string]Handler{},
		position: ir.Run,
	}
	RegisterHandlers(c)
	return c
}

// AddHandler registers callback under word, replacing any prior handler.
func (c *Compiler) AddHandler(word string, callback Handler) { c.handlers[word] = callback }

// AddEndline queues an action to run after the current line's compiled body.
func (c *Compiler) AddEndline(a ir.Action) { c.endline = append(c.endline, a) }

// InBlock reports whether any block is currently open.
func (c *Compiler) InBlock() bool { return len(c.blocks) > 0 }

// Position returns the section currently being written to.
func (c *Compiler) Position() ir.SectionID { return c.position }

// MoveTo repositions the write head to id, allocating it if needed.
func (c *Compiler) MoveTo(id ir.SectionID) {
	c.position = id
	if !c.Table.Has(id) {
		c.Table.AppendAll(id)
	}
}

// NewSection allocates a fresh Number(n) section, moves the write head to
// it, and returns the PREVIOUS position (mirroring AST::new_section).
func (c *Compiler) NewSection() ir.SectionID {
	prev := c.position
	id := c.Table.AllocateNumber()
	c.position = id
	return prev
}

// AppendToCurrent appends actions to the section at the current position.
func (c *Compiler) AppendToCurrent(actions ...ir.Action) {
	c.Table.AppendAll(c.position, actions...)
}

// PopFromCurrent removes and returns the last action written to the current
// section, or false if it is empty.
func (c *Compiler) PopFromCurrent() (ir.Action, bool) {
	cur := c.Table.Actions(c.position)
	if len(cur) == 0 {
		return ir.Action{}, false
	}
	last := cur[len(cur)-1]
	c.Table.SetActions(c.position, cur[:len(cur)-1])
	return last, true
}

// PushBlock records that a new block was opened ending at id.
func (c *Compiler) PushBlock(id ir.SectionID) { c.blocks = append(c.blocks, id) }

// Elif returns the currently open if/elif chain's elif section, if any.
func (c *Compiler) Elif() (ir.SectionID, bool) {
	if c.elif == nil {
		return ir.SectionID{}, false
	}
	return *c.elif, true
}

// SetElif records the if/elif chain's current elif section.
func (c *Compiler) SetElif(id ir.SectionID) { c.elif = &id }

// ClearElif ends the currently open if/elif chain.
func (c *Compiler) ClearElif() { c.elif = nil }

// SetLooping marks that the block about to close is a while-loop, so
// EndBlock emits a back-edge Jump rather than falling through.
func (c *Compiler) SetLooping() { c.secLoop = true }

// EndBlock pops the innermost open block and emits its terminating jump,
// matching AST::end_block. A target that isn't a numbered section (func!
// reusing the Run section as its close target, say) falls through without
// any jump at all: the block just being closed was never entered inline, so
// there is nothing to jump back from.
func (c *Compiler) EndBlock() error {
	if len(c.blocks) == 0 {
		return fmt.Errorf("no block to end")
	}
	target := c.blocks[len(c.blocks)-1]
	c.blocks = c.blocks[:len(c.blocks)-1]

	if target.Kind == ir.SectionNumber {
		if c.secLoop {
			if c.position.Kind != ir.SectionNumber {
				return fmt.Errorf("cannot loop back from a non-numbered section")
			}
			c.AppendToCurrent(ir.Jump(c.position.Num))
			c.secLoop = false
		} else {
			c.AppendToCurrent(ir.Jump(target.Num))
		}
		c.MoveTo(target)
		return nil
	}
	c.MoveTo(target)
	return nil
}

// AddLine compiles one top-level line (run == true) and appends its
// instructions, plus any queued endline actions, to the current section.
func (c *Compiler) AddLine(line input.Value) error {
	out, err := c.Process(line, true)
	if err != nil {
		return err
	}
	out = append(out, c.endline...)
	c.endline = nil
	c.AppendToCurrent(out...)
	return nil
}

// Process implements spec.md §4.2 rules 1–8: compile one InputValue into an
// instruction list. run means "a value produced at this outer position
// should be interpreted as a command invocation".
func (c *Compiler) Process(v input.Value, run bool) ([]ir.Action, error) {
	switch v.Kind() {
	case input.Split:
		return nil, nil

	case input.Short:
		s := v.Text()
		if h, ok := c.handlers[s]; ok {
			return c.runHandler(h, NewCursor(nil))
		}
		return c.compileShort(s, run), nil

	case input.Literal:
		return []ir.Action{ir.Set(v.Text())}, nil

	case input.Long:
		return c.processLong(v.Items(), run)

	case input.Function:
		return c.processFunction(v.Name(), v.Items())
	}
	return nil, nil
}

// runHandler invokes h and folds its Result into compiler state, returning
// the instructions it wrote to out.
func (c *Compiler) runHandler(h Handler, cur *Cursor) ([]ir.Action, error) {
	var out []ir.Action
	count := 0
	res, err := h(cur, &count, &out, c)
	if err != nil {
		return nil, err
	}
	if res.Outcome == More {
		c.PushBlock(res.Section)
	}
	return out, nil
}

func (c *Compiler) compileShort(s string, run bool) []ir.Action {
	if m := varPathRe.FindStringSubmatch(s); m != nil {
		path, name := m[1], m[2]
		if name == "" {
			var out []ir.Action
			if path == "" {
				out = append(out, ir.SetEmpty())
			} else {
				out = append(out, ir.Set(path))
			}
			out = append(out, ir.Call("getall"))
			if run {
				out = append(out, ir.Call("flatten_eqlist"))
			}
			return out
		}
		return []ir.Action{ir.Set(s), ir.Load()}
	}
	if varRe.MatchString(s) {
		return []ir.Action{ir.Set(s), ir.Load()}
	}
	out := []ir.Action{ir.Set(s)}
	if run {
		out = append(out, ir.Call("run"), ir.Call("describe_process_output"))
	}
	return out
}

// processLong implements rule 7: drain items left to right, dispatching
// handler words and accumulating everything else via Temp, then Get/Join
// the accumulated count.
func (c *Compiler) processLong(items []input.Value, run bool) ([]ir.Action, error) {
	var out []ir.Action
	count := 0
	cur := NewCursor(items)

	for {
		item, ok := cur.PopFront()
		if !ok {
			break
		}
		if item.Kind() == input.Short {
			if h, ok := c.handlers[item.Text()]; ok {
				res, err := h(cur, &count, &out, c)
				if err != nil {
					return nil, err
				}
				switch res.Outcome {
				case Continue:
					continue
				case Stop:
					return out, nil
				case More:
					c.PushBlock(res.Section)
					continue
				}
			}
		}
		aclist, err := c.Process(item, false)
		if err != nil {
			return nil, err
		}
		out = append(out, aclist...)
		if len(aclist) > 0 {
			out = append(out, ir.Temp())
			count++
		}
	}

	if count == 1 {
		out = append(out, ir.Get())
		if run {
			out = append(out, ir.Call("run"), ir.Call("describe_process_output"))
		}
	} else if count > 1 {
		out = append(out, ir.Join(count))
		if run {
			out = append(out, ir.Call("run"), ir.Call("describe_process_output"))
		}
	}
	return out, nil
}

// processFunction implements rule 8.
func (c *Compiler) processFunction(name string, args []input.Value) ([]ir.Action, error) {
	blocksBefore := append([]ir.SectionID{}, c.blocks...)
	var aclist []ir.Action
	var err error
	switch len(args) {
	case 0:
		aclist = nil
	case 1:
		aclist, err = c.Process(args[0], false)
	default:
		aclist, err = c.processLong(args, false)
	}
	if err != nil {
		return nil, err
	}
	if blocksEqual(c.blocks, blocksBefore) {
		aclist = append(aclist, ir.Call(name))
	}
	return aclist, nil
}

func blocksEqual(a, b []ir.SectionID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
