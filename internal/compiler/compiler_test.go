package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/washlang/wash/internal/compiler"
	"github.com/washlang/wash/internal/ir"
	"github.com/washlang/wash/internal/reader"
)

func compileLine(t *testing.T, c *compiler.Compiler, line string) {
	t.Helper()
	require.NoError(t, c.AddLine(reader.Tokenize(line)))
}

func TestAssignment(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `$x = hello`)

	run := c.Table.Actions(ir.Run)
	require.NotEmpty(t, run)
	last := run[len(run)-1]
	require.Equal(t, ir.OpStore, last.Op)
}

func TestBareWordRunsAsCommand(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `ls`)

	run := c.Table.Actions(ir.Run)
	require.Len(t, run, 3)
	require.Equal(t, ir.OpSet, run[0].Op)
	require.Equal(t, "ls", run[0].Text)
	require.Equal(t, ir.OpCall, run[1].Op)
	require.Equal(t, "run", run[1].Text)
	require.Equal(t, ir.OpCall, run[2].Op)
	require.Equal(t, "describe_process_output", run[2].Text)
}

func TestVariableLoad(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `$x`)

	run := c.Table.Actions(ir.Run)
	require.Len(t, run, 2)
	require.Equal(t, ir.OpSet, run[0].Op)
	require.Equal(t, "$x", run[0].Text)
	require.Equal(t, ir.OpLoad, run[1].Op)
}

func TestEqualityHandlerStopsLine(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `$x == hello`)

	run := c.Table.Actions(ir.Run)
	require.NotEmpty(t, run)
	last := run[len(run)-1]
	require.Equal(t, ir.OpCall, last.Op)
	require.Equal(t, "equal?", last.Text)
}

func TestIfBlockAllocatesSectionsAndValidates(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `if! $x == 1 {`)
	compileLine(t, c, `echo hi`)
	compileLine(t, c, `}`)

	require.NoError(t, c.Table.Validate())
	require.False(t, c.InBlock())
}

func TestIfElseBlockValidates(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `if! $x == 1 {`)
	compileLine(t, c, `echo a`)
	compileLine(t, c, `} else! {`)
	compileLine(t, c, `echo b`)
	compileLine(t, c, `}`)

	require.NoError(t, c.Table.Validate())
	require.False(t, c.InBlock())
}

func TestWhileBlockValidatesAndLoops(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `while! $x == 1 {`)
	compileLine(t, c, `echo hi`)
	compileLine(t, c, `}`)

	require.NoError(t, c.Table.Validate())
	require.False(t, c.InBlock())

	// The loop body closes with a back-edge Jump to its own header section.
	var sawBackEdge bool
	for _, id := range c.Table.IDs() {
		for _, a := range c.Table.Actions(id) {
			if a.Op == ir.OpJump && id == ir.Number(a.N) {
				sawBackEdge = true
			}
		}
	}
	require.True(t, sawBackEdge)
}

func TestActBlockValidates(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `act! {`)
	compileLine(t, c, `echo hi`)
	compileLine(t, c, `}`)

	require.NoError(t, c.Table.Validate())
}

func TestFuncBlockRegistersSave(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `func! greet {`)
	compileLine(t, c, `echo hi`)
	compileLine(t, c, `}`)

	require.NoError(t, c.Table.Validate())

	found := false
	for _, id := range c.Table.IDs() {
		for _, a := range c.Table.Actions(id) {
			if a.Op == ir.OpSave {
				found = true
			}
		}
	}
	require.True(t, found, "expected a Save instruction somewhere in the program")
}

func TestFuncBlockClosesBackToEnclosingSectionWithoutStrayJump(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `func! greet {`)
	compileLine(t, c, `echo hi`)
	compileLine(t, c, `}`)

	require.NoError(t, c.Table.Validate())
	require.False(t, c.InBlock())

	// func!'s close target is Run itself (ir.Run isn't ir.SectionNumber), so
	// EndBlock must take its non-numbered fallthrough path: move back to Run
	// without appending a jump anywhere. A line compiled after the closing
	// `}` has to land back in Run, not in some leftover section nothing else
	// reaches.
	require.Equal(t, ir.Run, c.Position())

	compileLine(t, c, `echo after`)
	run := c.Table.Actions(ir.Run)
	require.NotEmpty(t, run)
	last := run[len(run)-1]
	require.NotEqual(t, ir.OpJump, last.Op, "closing func! must not append a jump to the enclosing section")
}

func TestPipeHandlerJoinsAndLoadsPipeVar(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `ls | wc`)

	run := c.Table.Actions(ir.Run)
	require.NotEmpty(t, run)
	var sawLoad bool
	for _, a := range run {
		if a.Op == ir.OpLoad {
			sawLoad = true
		}
	}
	require.True(t, sawLoad)
}

func TestAndAndShortCircuitAllocatesBranch(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `ls && echo ok`)

	require.NoError(t, c.Table.Validate())
	run := c.Table.Actions(ir.Run)
	var sawBranch bool
	for _, a := range run {
		if a.Op == ir.OpBranch {
			sawBranch = true
		}
	}
	require.True(t, sawBranch)
}

func TestRedirectOutputHandler(t *testing.T) {
	c := compiler.New()
	compileLine(t, c, `ls > out.txt`)

	run := c.Table.Actions(ir.Run)
	var sawOpenOutput bool
	for _, a := range run {
		if a.Op == ir.OpCall && a.Text == "open_output" {
			sawOpenOutput = true
		}
	}
	require.True(t, sawOpenOutput)
}
