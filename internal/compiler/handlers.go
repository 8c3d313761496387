package compiler

import (
	"fmt"

	"github.com/washlang/wash/internal/input"
	"github.com/washlang/wash/internal/ir"
)

// StopSignal is the sentinel error-message text a `Fail` produced by `&&`'s
// short-circuit carries; callers (the VM driver) recognize it and suppress
// user-visible error reporting (spec.md §7).
const StopSignal = "stop"

// RegisterHandlers installs the full required handler set (spec.md §4.3)
// into c.
func RegisterHandlers(c *Compiler) {
	c.AddHandler("=", handleEqual)
	c.AddHandler("==", handleEqualEqual)
	c.AddHandler("~=", handleTildeEqual)
	c.AddHandler(".", handleDot)
	c.AddHandler("&;", handleSemiAmper)
	c.AddHandler("&", handleAmper)
	c.AddHandler("&&", handleAmperAmper)
	c.AddHandler("|", handleBar)
	c.AddHandler(">", handleGeq)
	c.AddHandler("<", handleLeq)

	c.AddHandler("if!", handleIf)
	c.AddHandler("elif!", handleElif)
	c.AddHandler("else!", handleElse)
	c.AddHandler("while!", handleWhile)
	c.AddHandler("act!", handleAct)
	c.AddHandler("func!", handleFunc)
	c.AddHandler("}", handleEndBlock)
}

// flushOutTo appends *out to section id's instruction list and empties
// *out, mirroring the original compiler's DList::append move semantics.
func (c *Compiler) flushOutTo(id ir.SectionID, out *[]ir.Action) {
	c.Table.AppendAll(id, *out...)
	*out = nil
}

func (c *Compiler) flushOutToCurrent(out *[]ir.Action) {
	c.flushOutTo(c.position, out)
}

// popOperand pops one operand token, skipping a single leading Split when
// more tokens remain after it — the "a literal separator before the real
// operand" shape used by =, ==, ~=, ., >, and <.
func popOperand(cur *Cursor) (input.Value, bool) {
	v, ok := cur.PopFront()
	if !ok {
		return input.Value{}, false
	}
	if v.Kind() == input.Split && !cur.Empty() {
		v, ok = cur.PopFront()
	}
	return v, ok
}

func mustNumber(id ir.SectionID) int {
	if id.Kind != ir.SectionNumber {
		panic("compiler: expected a numbered section")
	}
	return id.Num
}

func continueResult() (Result, error) { return Result{Outcome: Continue}, nil }
func stopResult() (Result, error)     { return Result{Outcome: Stop}, nil }
func moreResult(id ir.SectionID) (Result, error) {
	return Result{Outcome: More, Section: id}, nil
}

// handleEqual implements `=` (assignment), spec.md §4.3.
func handleEqual(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	var back1, back2 ir.Action
	var have1, have2 bool
	back1, have1 = popLast(out)
	back2, have2 = popLast(out)

	if have1 && have2 && back1 == ir.Temp() && back2 == ir.Load() {
		*out = append(*out, ir.Temp())
	} else {
		if have2 {
			*out = append(*out, back2)
		}
		if have1 {
			*out = append(*out, back1)
		}
	}

	var newacs []ir.Action
	if contents.Empty() {
		newacs = append(newacs, ir.SetEmpty())
	} else {
		v, _ := popOperand(contents)
		aclist, err := c.Process(v, false)
		if err != nil {
			return Result{}, err
		}
		if len(aclist) == 0 {
			newacs = append(newacs, ir.SetEmpty())
		} else {
			newacs = aclist
		}
	}
	newacs = append(newacs, ir.Store())

	contents.SkipSplits()
	if !contents.Empty() {
		*out = append(*out, ir.ReInsert(), ir.Top(), ir.Load(), ir.Swap(), ir.Temp())
		c.AddEndline(ir.SetEmpty())
		c.AddEndline(ir.Get())
		c.AddEndline(ir.Store())
	}

	*out = append(*out, newacs...)
	*count--
	return continueResult()
}

func popLast(out *[]ir.Action) (ir.Action, bool) {
	if len(*out) == 0 {
		return ir.Action{}, false
	}
	last := (*out)[len(*out)-1]
	*out = (*out)[:len(*out)-1]
	return last, true
}

// equalEqualInner is the shared body of `==` and `~=`.
func equalEqualInner(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) error {
	if *count > 1 {
		*out = append(*out, ir.Join(*count), ir.Temp())
	}
	contents.SkipSplits()
	remaining := contents.DrainAll()
	switch len(remaining) {
	case 0:
		*out = append(*out, ir.InsertEmpty())
	case 1:
		aclist, err := c.Process(remaining[0], false)
		if err != nil {
			return err
		}
		*out = append(*out, aclist...)
		*out = append(*out, ir.Temp())
	default:
		aclist, err := c.processLong(remaining, false)
		if err != nil {
			return err
		}
		*out = append(*out, aclist...)
		*out = append(*out, ir.Temp())
	}
	*out = append(*out, ir.Join(2))
	*count = 0
	return nil
}

func handleEqualEqual(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if err := equalEqualInner(contents, count, out, c); err != nil {
		return Result{}, err
	}
	*out = append(*out, ir.Call("equal?"))
	return stopResult()
}

func handleTildeEqual(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if err := equalEqualInner(contents, count, out, c); err != nil {
		return Result{}, err
	}
	*out = append(*out, ir.Call("re_equal?"))
	return stopResult()
}

// handleDot implements `.` (concatenate).
func handleDot(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if contents.Empty() {
		*out = append(*out, ir.InsertEmpty())
	} else {
		v, _ := popOperand(contents)
		aclist, err := c.Process(v, false)
		if err != nil {
			return Result{}, err
		}
		if len(aclist) == 0 {
			*out = append(*out, ir.InsertEmpty())
		} else {
			*out = append(*out, aclist...)
			*out = append(*out, ir.Temp())
		}
	}
	*out = append(*out, ir.Join(2), ir.Call("dot"))
	if !contents.Empty() || *count > 1 {
		*out = append(*out, ir.Temp())
	} else {
		*count--
	}
	return continueResult()
}

func handleSemiAmper(_ *Cursor, count *int, out *[]ir.Action, _ *Compiler) (Result, error) {
	if *count > 0 {
		*out = append(*out, ir.Join(*count))
		*count = 0
	}
	*out = append(*out, ir.Call("run"))
	return continueResult()
}

func handleAmper(_ *Cursor, count *int, out *[]ir.Action, _ *Compiler) (Result, error) {
	if *count > 0 {
		*out = append(*out, ir.Join(*count))
		*count = 0
	}
	*out = append(*out, ir.Call("job"))
	return continueResult()
}

func handleAmperAmper(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if _, err := handleSemiAmper(contents, count, out, c); err != nil {
		return Result{}, err
	}
	*out = append(*out, ir.Call("run_failed?"))

	oldSection := c.NewSection()
	newNum := mustNumber(c.position)
	c.AppendToCurrent(ir.Fail(StopSignal))
	c.MoveTo(oldSection)
	*out = append(*out, ir.Branch(newNum))
	return continueResult()
}

func handleBar(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if _, err := handleAmper(contents, count, out, c); err != nil {
		return Result{}, err
	}
	*out = append(*out, ir.Insert("$pipe:"), ir.Temp(), ir.Join(2), ir.Call("dot"), ir.Load(), ir.Temp())
	*count++
	return continueResult()
}

func handleGeq(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if *count > 0 {
		*out = append(*out, ir.Join(*count))
		*count = 1
	}
	*out = append(*out, ir.Temp())
	if contents.Empty() {
		return Result{}, fmt.Errorf("no file name given")
	}
	v, _ := popOperand(contents)
	aclist, err := c.Process(v, false)
	if err != nil {
		return Result{}, err
	}
	if len(aclist) == 0 {
		return Result{}, fmt.Errorf("no file name given")
	}
	*out = append(*out, aclist...)
	*out = append(*out, ir.Call("open_output"), ir.Temp(), ir.Set("@out:"), ir.Get(), ir.Call("dot"))
	return continueResult()
}

func handleLeq(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	if *count > 0 {
		*out = append(*out, ir.Join(*count))
		*count = 1
	}
	*out = append(*out, ir.Temp())
	if contents.Empty() {
		return Result{}, fmt.Errorf("no file name given")
	}
	v, _ := popOperand(contents)
	aclist, err := c.Process(v, false)
	if err != nil {
		return Result{}, err
	}
	if len(aclist) == 0 {
		return Result{}, fmt.Errorf("no file name given")
	}
	*out = append(*out, aclist...)
	*out = append(*out, ir.Call("open_input"), ir.Temp(), ir.Set("@"), ir.Get(), ir.Call("dot"))
	return continueResult()
}

func handleIf(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	c.flushOutToCurrent(out)
	values := contents.DrainUntilOpenBrace()
	aclist, err := c.processLong(values, false)
	if err != nil {
		return Result{}, err
	}

	oldSection := c.NewSection()
	secnum := mustNumber(c.position)
	c.NewSection()
	finalsec := mustNumber(c.position)
	c.NewSection()
	elifsec := mustNumber(c.position)

	c.MoveTo(oldSection)
	aclist = append(aclist, ir.Branch(secnum), ir.Jump(elifsec))
	c.AppendToCurrent(aclist...)

	c.MoveTo(ir.Number(elifsec))
	c.SetElif(ir.Number(elifsec))
	c.AppendToCurrent(ir.Jump(finalsec))

	*count = 0
	c.MoveTo(ir.Number(secnum))
	return moreResult(ir.Number(finalsec))
}

func handleElif(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	oldSection, ok := c.Elif()
	if !ok {
		return Result{}, fmt.Errorf("no preceding if block for elif!")
	}
	c.flushOutToCurrent(out)
	values := contents.DrainUntilOpenBrace()
	aclist, err := c.processLong(values, false)
	if err != nil {
		return Result{}, err
	}

	c.NewSection()
	secnum := mustNumber(c.position)
	c.NewSection()
	elifsec := mustNumber(c.position)

	c.MoveTo(oldSection)
	last, ok := c.PopFromCurrent()
	if !ok || last.Op != ir.OpJump {
		return Result{}, fmt.Errorf("elif section malformed")
	}
	finalsec := last.N

	aclist = append(aclist, ir.Branch(secnum), ir.Jump(elifsec))
	c.AppendToCurrent(aclist...)

	c.MoveTo(ir.Number(elifsec))
	c.SetElif(ir.Number(elifsec))
	c.AppendToCurrent(ir.Jump(finalsec))

	*count = 0
	c.MoveTo(ir.Number(secnum))
	return moreResult(ir.Number(finalsec))
}

func handleElse(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	c.flushOutToCurrent(out)
	oldSection, ok := c.Elif()
	if !ok {
		return Result{}, fmt.Errorf("no preceding if block for else!")
	}
	contents.DrainUntilOpenBrace()

	c.MoveTo(oldSection)
	last, ok := c.PopFromCurrent()
	if !ok || last.Op != ir.OpJump {
		return Result{}, fmt.Errorf("elif section malformed")
	}
	finalsec := last.N

	c.ClearElif()
	*count = 0
	return moreResult(ir.Number(finalsec))
}

func handleWhile(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	c.flushOutToCurrent(out)
	values := contents.DrainUntilOpenBrace()
	aclist, err := c.processLong(values, false)
	if err != nil {
		return Result{}, err
	}

	oldSec := c.NewSection()
	newsec := mustNumber(c.position)
	c.NewSection()
	finalsec := mustNumber(c.position)

	c.MoveTo(oldSec)
	c.AppendToCurrent(ir.Jump(newsec))

	c.MoveTo(ir.Number(newsec))
	aclist = append(aclist, ir.Call("not?"), ir.Branch(finalsec))
	c.AppendToCurrent(aclist...)

	*count = 0
	c.SetLooping()
	return moreResult(ir.Number(finalsec))
}

func handleAct(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	c.flushOutToCurrent(out)
	contents.DrainUntilOpenBrace()

	oldSec := c.NewSection()
	newsec := mustNumber(c.position)
	c.NewSection()
	finalsec := mustNumber(c.position)

	c.MoveTo(oldSec)
	c.AppendToCurrent(ir.Jump(newsec))
	c.MoveTo(ir.Number(newsec))

	*count = 0
	return moreResult(ir.Number(finalsec))
}

// handleFunc implements `func!`, the optional named-function extension of
// spec.md §4.1's Save opcode: `func! name { body }` compiles body into a new
// section and registers it under name via Save. Unlike if!/while!/act!, the
// body is never entered by falling into it from the func! line itself; it
// is only entered later through Call/Save's sectionFunc. So func! uses a
// plain two-section shape and reuses the pre-block position as the block's
// own close target, rather than allocating a third "final" section the way
// the inline-executing blocks do.
func handleFunc(contents *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	c.flushOutToCurrent(out)
	values := contents.DrainUntilOpenBrace()

	var nameTok input.Value
	found := false
	for _, v := range values {
		if v.Kind() != input.Split {
			nameTok = v
			found = true
			break
		}
	}
	if !found {
		return Result{}, fmt.Errorf("func! requires a name")
	}

	oldSec := c.NewSection()
	newsec := mustNumber(c.position)

	c.MoveTo(oldSec)
	nameAcs, err := c.Process(nameTok, false)
	if err != nil {
		return Result{}, err
	}
	c.AppendToCurrent(nameAcs...)
	c.AppendToCurrent(ir.Save(newsec))

	c.MoveTo(ir.Number(newsec))
	*count = 0
	return moreResult(oldSec)
}

func handleEndBlock(_ *Cursor, count *int, out *[]ir.Action, c *Compiler) (Result, error) {
	c.flushOutToCurrent(out)
	if *count > 0 {
		if *count > 1 {
			c.AppendToCurrent(ir.Join(*count))
		} else {
			c.AppendToCurrent(ir.Get())
		}
		c.AppendToCurrent(ir.Call("run"), ir.Call("describe_process_output"))
	}
	if err := c.EndBlock(); err != nil {
		return Result{}, err
	}
	*count = 0
	return continueResult()
}
