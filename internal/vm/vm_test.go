package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/washlang/wash/internal/compiler"
	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/ir"
	"github.com/washlang/wash/internal/reader"
	"github.com/washlang/wash/internal/value"
	"github.com/washlang/wash/internal/vm"
)

func TestSetAndGetEmpty(t *testing.T) {
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run, ir.Set("hello"), ir.Temp(), ir.Get())

	m := vm.New(table, env.New())
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, value.Flat, result.Kind())
	require.Equal(t, "hello", result.Text())
}

func TestGetWithEmptyStackResetsCFV(t *testing.T) {
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run, ir.Set("kept"), ir.Get())

	m := vm.New(table, env.New())
	result, err := m.Run()
	require.NoError(t, err)
	require.True(t, result.IsEmpty())
}

func TestJoinCombinesStackTop(t *testing.T) {
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run,
		ir.Set("a"), ir.Temp(),
		ir.Set("b"), ir.Temp(),
		ir.Join(2),
	)

	m := vm.New(table, env.New())
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, value.Long, result.Kind())
	require.Len(t, result.List(), 2)
	require.Equal(t, "a", result.List()[0].Text())
	require.Equal(t, "b", result.List()[1].Text())
}

func TestBranchTakenWhenCFVNonEmpty(t *testing.T) {
	table := ir.NewSectionTable()
	other := table.AllocateNumber()
	table.AppendAll(ir.Run, ir.Set("kept"), ir.Branch(other.Num))
	table.AppendAll(other, ir.Set("branched"))

	m := vm.New(table, env.New())
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, "branched", result.Text())
}

func TestBranchNotTakenWhenCFVEmpty(t *testing.T) {
	table := ir.NewSectionTable()
	other := table.AllocateNumber()
	table.AppendAll(ir.Run, ir.SetEmpty(), ir.Branch(other.Num), ir.Set("overwritten"))
	table.AppendAll(other, ir.Set("branched"))

	m := vm.New(table, env.New())
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, "overwritten", result.Text())
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run,
		ir.Set("$x"), ir.Temp(),
		ir.Set("hi"), ir.Store(),
		ir.Set("$x"), ir.Load(),
	)

	m := vm.New(table, env.New())
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, "hi", result.Text())
}

func TestStorePathedVariable(t *testing.T) {
	e := env.New()
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run,
		ir.Set("$scope:x"), ir.Temp(),
		ir.Set("v"), ir.Store(),
	)

	m := vm.New(table, e)
	_, err := m.Run()
	require.NoError(t, err)

	got, ok := e.GetVP("x", "scope")
	require.True(t, ok)
	require.Equal(t, "v", got.Text())
}

func TestFailReturnsErrorAndStopSentinelRecognized(t *testing.T) {
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run, ir.Fail("stop"))

	m := vm.New(table, env.New())
	_, err := m.Run()
	require.Error(t, err)
	require.True(t, vm.IsStop(err))
}

func TestCallInvokesRegisteredFunction(t *testing.T) {
	e := env.New()
	e.RegisterFunc("shout", func(args value.Value, _ *env.Environment) (value.Value, error) {
		return value.NewFlat(args.Text() + "!"), nil
	})
	table := ir.NewSectionTable()
	table.AppendAll(ir.Run, ir.Set("hi"), ir.Call("shout"))

	m := vm.New(table, e)
	result, err := m.Run()
	require.NoError(t, err)
	require.Equal(t, "hi!", result.Text())
}

func TestCompilerAndVMIntegrationAssignment(t *testing.T) {
	e := env.New()
	c := compiler.New()
	require.NoError(t, c.AddLine(reader.Tokenize("$x = hello")))
	require.NoError(t, c.Table.Validate())

	m := vm.New(c.Table, e)
	_, err := m.Run()
	require.NoError(t, err)

	got, ok := e.GetV("x")
	require.True(t, ok)
	require.Equal(t, "hello", got.Text())
}

func TestSaveRegistersCallableFunction(t *testing.T) {
	e := env.New()
	c := compiler.New()
	require.NoError(t, c.AddLine(reader.Tokenize("func! greet {")))
	require.NoError(t, c.AddLine(reader.Tokenize("$result = $0")))
	require.NoError(t, c.AddLine(reader.Tokenize("}")))
	require.NoError(t, c.Table.Validate())

	m := vm.New(c.Table, e)
	_, err := m.Run()
	require.NoError(t, err)
	require.True(t, e.HasFunc("greet"))
}

// Closing a func! block must reuse the pre-block section (Run, at top
// level) as its close target rather than falling through into a fresh
// section: otherwise every line typed after the closing `}`, including the
// call below, ends up appended into the function's own body and calling it
// recurses forever instead of returning.
func TestFuncDefinitionCanBeCalledAfterDefinition(t *testing.T) {
	e := env.New()
	c := compiler.New()
	require.NoError(t, c.AddLine(reader.Tokenize("func! greet {")))
	require.NoError(t, c.AddLine(reader.Tokenize("$result = $0")))
	require.NoError(t, c.AddLine(reader.Tokenize("}")))
	require.NoError(t, c.AddLine(reader.Tokenize("greet(world)")))
	require.NoError(t, c.Table.Validate())

	m := vm.New(c.Table, e)
	_, err := m.Run()
	require.NoError(t, err)

	got, ok := e.GetV("result")
	require.True(t, ok)
	require.Equal(t, "world", got.Text())
}

// A second call must still return correctly: if the body section ever grew
// a stray trailing Jump back into whatever line followed its definition,
// each successive call would recurse further instead of returning once.
func TestFuncDefinitionCanBeCalledMultipleTimes(t *testing.T) {
	e := env.New()
	c := compiler.New()
	require.NoError(t, c.AddLine(reader.Tokenize("func! greet {")))
	require.NoError(t, c.AddLine(reader.Tokenize("$result = $0")))
	require.NoError(t, c.AddLine(reader.Tokenize("}")))
	require.NoError(t, c.AddLine(reader.Tokenize("greet(first)")))
	require.NoError(t, c.AddLine(reader.Tokenize("greet(second)")))
	require.NoError(t, c.Table.Validate())

	m := vm.New(c.Table, e)
	_, err := m.Run()
	require.NoError(t, err)

	got, ok := e.GetV("result")
	require.True(t, ok)
	require.Equal(t, "second", got.Text())
}
