package disasm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felinelang/feline/lang/compiler"
	"github.com/felinelang/feline/lang/disasm"
)

func TestFunctionListsInstructionsInOrder(t *testing.T) {
	fn, err := compiler.Compile([]byte(`var x = 1 + 2; print x;`), "test.fn")
	require.NoError(t, err)

	out := disasm.Function(fn)
	require.True(t, strings.HasPrefix(out, "== <script> ==\n"))
	require.Contains(t, out, "CONST")
	require.Contains(t, out, "ADD")
	require.Contains(t, out, "PRINT")
	require.Contains(t, out, "RETURN")
	require.Less(t, strings.Index(out, "CONST"), strings.Index(out, "ADD"))
	require.Less(t, strings.Index(out, "ADD"), strings.Index(out, "PRINT"))
	require.Less(t, strings.Index(out, "PRINT"), strings.Index(out, "RETURN"))
}

func TestFunctionAnnotatesClosureUpvalues(t *testing.T) {
	fn, err := compiler.Compile([]byte(`
function outer() {
	var captured = 1;
	function inner() { return captured; }
	return inner;
}
`), "test.fn")
	require.NoError(t, err)

	// inner's CLOSURE (the one carrying the upvalue descriptor) lives in
	// outer's chunk, not the script's.
	var outer *compiler.Function
	for _, c := range fn.Chunk.Constants {
		if f, ok := c.(*compiler.Function); ok && f.Name == "outer" {
			outer = f
		}
	}
	require.NotNil(t, outer)

	out := disasm.Function(outer)
	require.Contains(t, out, "CLOSURE")
	require.Contains(t, out, "[local")
}
