package reader_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/washlang/wash/internal/input"
	"github.com/washlang/wash/internal/reader"
)

func TestTokenizeSingleShort(t *testing.T) {
	v := reader.Tokenize("echo")
	require.Equal(t, input.Short, v.Kind())
	require.Equal(t, "echo", v.Text())
}

func TestTokenizeWordsAndSplits(t *testing.T) {
	v := reader.Tokenize("echo hello")
	require.Equal(t, input.Long, v.Kind())
	items := v.Items()
	require.Len(t, items, 3)
	require.Equal(t, input.Short, items[0].Kind())
	require.Equal(t, input.Split, items[1].Kind())
	require.Equal(t, input.Short, items[2].Kind())
}

func TestTokenizeLiteral(t *testing.T) {
	v := reader.Tokenize(`echo "hello world"`)
	items := v.Items()
	require.Equal(t, input.Literal, items[2].Kind())
	require.Equal(t, "hello world", items[2].Text())
}

func TestTokenizeFunction(t *testing.T) {
	v := reader.Tokenize(`equal?($x,hello)`)
	require.Equal(t, input.Function, v.Kind())
	require.Equal(t, "equal?", v.Name())
	args := v.Items()
	require.Len(t, args, 3)
	require.Equal(t, input.Short, args[0].Kind())
	require.Equal(t, "$x", args[0].Text())
	require.Equal(t, input.Split, args[1].Kind())
	require.Equal(t, input.Short, args[2].Kind())
}

func TestTokenizeGroup(t *testing.T) {
	v := reader.Tokenize("(a b)")
	require.Equal(t, input.Long, v.Kind())
	require.Len(t, v.Items(), 3)
}

func TestTokenizeVariableReference(t *testing.T) {
	v := reader.Tokenize("$path:name")
	require.Equal(t, input.Short, v.Kind())
	require.Equal(t, "$path:name", v.Text())
}
