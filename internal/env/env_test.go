package env_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/value"
)

func TestRoundTrip(t *testing.T) {
	e := env.New()
	require.NoError(t, e.InsV("x", value.NewFlat("hello")))
	v, ok := e.GetV("x")
	require.True(t, ok)
	require.Equal(t, "hello", v.Text())
}

func TestEmptyRemoves(t *testing.T) {
	e := env.New()
	require.NoError(t, e.InsV("x", value.NewFlat("hello")))
	require.NoError(t, e.InsV("x", value.NewEmpty()))
	_, ok := e.GetV("x")
	require.False(t, ok)
}

func TestCurrentPathFallsBackToEmptyPath(t *testing.T) {
	e := env.New()
	require.NoError(t, e.InsVP("global", "", value.NewFlat("g")))
	e.SetCurrentPath("scope")
	v, ok := e.GetV("global")
	require.True(t, ok)
	require.Equal(t, "g", v.Text())
}

func TestEnvPathProxiesOS(t *testing.T) {
	e := env.New()
	require.NoError(t, e.InsVP("WASH_TEST_VAR", env.EnvPath, value.NewFlat("bar")))
	v, ok := e.GetVP("WASH_TEST_VAR", env.EnvPath)
	require.True(t, ok)
	require.Equal(t, "bar", v.Text())

	require.NoError(t, e.InsVP("WASH_TEST_VAR", env.EnvPath, value.NewEmpty()))
	_, ok = e.GetVP("WASH_TEST_VAR", env.EnvPath)
	require.False(t, ok)
}

func TestPipePathIsReadOnly(t *testing.T) {
	e := env.New()
	err := e.InsVP("1", env.PipePath, value.NewFlat("@3"))
	require.Error(t, err)
}

type fakePipes struct{}

func (fakePipes) PipeVar(id string) (value.Value, bool) {
	if id == "1" {
		return value.NewFlat("@3"), true
	}
	return value.NewEmpty(), false
}

func (fakePipes) PipeAll() []env.PipeEntry {
	return []env.PipeEntry{{ID: "1", Val: value.NewFlat("@3")}}
}

func TestPipePathReadsFromSource(t *testing.T) {
	e := env.New()
	e.SetPipeSource(fakePipes{})
	v, ok := e.GetVP("1", env.PipePath)
	require.True(t, ok)
	require.Equal(t, "@3", v.Text())

	all := e.GetAllP(env.PipePath)
	require.Equal(t, 1, all.Len())
}

func TestRunFunc(t *testing.T) {
	e := env.New()
	e.RegisterFunc("echo_len", func(args value.Value, _ *env.Environment) (value.Value, error) {
		return value.NewFlat(args.Text()), nil
	})
	v, err := e.RunFunc("echo_len", value.NewFlat("hi"))
	require.NoError(t, err)
	require.Equal(t, "hi", v.Text())

	_, err = e.RunFunc("missing", value.NewEmpty())
	require.Error(t, err)
}
