package script_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/washlang/wash/internal/builtins"
	"github.com/washlang/wash/internal/env"
	"github.com/washlang/wash/internal/process"
	"github.com/washlang/wash/internal/script"
	"github.com/washlang/wash/internal/value"
)

func newEnv(t *testing.T) *env.Environment {
	t.Helper()
	e := env.New()
	builtins.Register(e, builtins.Deps{Procs: process.NewTable(nil)})
	return e
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.wash")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunSequentialAssignmentsDoNotReexecute(t *testing.T) {
	e := newEnv(t)
	path := writeScript(t, "$x = one\n$y = two\n")

	r := script.NewRunner()
	_, err := r.Run(e, path, value.NewEmpty())
	require.NoError(t, err)

	x, ok := e.GetV("x")
	require.True(t, ok)
	require.Equal(t, "one", x.Text())

	y, ok := e.GetV("y")
	require.True(t, ok)
	require.Equal(t, "two", y.Text())
}

func TestRunIfBlockExecutesOnce(t *testing.T) {
	e := newEnv(t)
	path := writeScript(t, "$count = 0\nif! $count == 0 {\n$hit = yes\n}\n")

	r := script.NewRunner()
	_, err := r.Run(e, path, value.NewEmpty())
	require.NoError(t, err)

	hit, ok := e.GetV("hit")
	require.True(t, ok)
	require.Equal(t, "yes", hit.Text())
}

func TestRunPassesArgsAsDollarZero(t *testing.T) {
	e := newEnv(t)
	path := writeScript(t, "$result = $0\n")

	r := script.NewRunner()
	_, err := r.Run(e, path, value.NewFlat("hello"))
	require.NoError(t, err)

	result, ok := e.GetV("result")
	require.True(t, ok)
	require.Equal(t, "hello", result.Text())
}

func TestRunDoesNotReexecuteEarlierLinesAsLinesAreAppended(t *testing.T) {
	e := env.New()
	procs := process.NewTable(nil)
	builtins.Register(e, builtins.Deps{Procs: procs})
	path := writeScript(t, "true &\nfalse &\n")

	r := script.NewRunner()
	_, err := r.Run(e, path, value.NewEmpty())
	require.NoError(t, err)

	require.Len(t, procs.GetJobs(), 2, "each line's job must be spawned exactly once")
}

func TestRunMissingFileErrors(t *testing.T) {
	e := newEnv(t)
	r := script.NewRunner()
	_, err := r.Run(e, filepath.Join(t.TempDir(), "nope.wash"), value.NewEmpty())
	require.Error(t, err)
}
