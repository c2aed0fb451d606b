// Package disasm is a minimal, internal-only bytecode disassembler.
// Disassembler tooling is explicitly out of scope for Feline (spec.md §1);
// this package exists only so tests can assert on instruction listings
// instead of raw byte offsets. Its only tests are its own smoke tests;
// lang/compiler has no tests of its own.
package disasm

import (
	"fmt"
	"strings"

	"github.com/felinelang/feline/lang/compiler"
)

// Function renders fn's chunk as one line per instruction: offset, source
// line, opcode name, and any immediate operand. CLOSURE's trailing upvalue
// descriptors are rendered inline since they aren't a fixed-width immediate.
func Function(fn *compiler.Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name(fn))
	code := fn.Chunk.Code
	for off := 0; off < len(code); {
		off = instruction(&sb, fn, off)
	}
	return sb.String()
}

func name(fn *compiler.Function) string {
	if fn.Name == "" {
		return "<script>"
	}
	return fn.Name
}

func instruction(sb *strings.Builder, fn *compiler.Function, off int) int {
	code := fn.Chunk.Code
	op := compiler.Opcode(code[off])
	line := fn.Chunk.LineAt(off)
	fmt.Fprintf(sb, "%04d %4d %s", off, line, op)

	width := compiler.OperandWidth(op)
	next := off + 1 + width

	switch width {
	case 1:
		fmt.Fprintf(sb, " %d", code[off+1])
	case 2:
		u16 := uint16(code[off+1])<<8 | uint16(code[off+2])
		fmt.Fprintf(sb, " %d", u16)
		if isConstantOp(op) && int(u16) < len(fn.Chunk.Constants) {
			fmt.Fprintf(sb, " (%v)", fn.Chunk.Constants[u16])
		}
	case 3:
		u16 := uint16(code[off+1])<<8 | uint16(code[off+2])
		fmt.Fprintf(sb, " %d %d", u16, code[off+3])
	}

	if op == compiler.CLOSURE {
		u16 := uint16(code[off+1])<<8 | uint16(code[off+2])
		if int(u16) < len(fn.Chunk.Constants) {
			if nested, ok := fn.Chunk.Constants[u16].(*compiler.Function); ok {
				for i := 0; i < nested.UpvalueCount; i++ {
					isLocal := code[next] == 1
					idx := uint16(code[next+1])<<8 | uint16(code[next+2])
					kind := "upvalue"
					if isLocal {
						kind = "local"
					}
					fmt.Fprintf(sb, " [%s %d]", kind, idx)
					next += 3
				}
			}
		}
	}

	sb.WriteByte('\n')
	return next
}

func isConstantOp(op compiler.Opcode) bool {
	switch op {
	case compiler.CONST, compiler.DEF_GLOBAL, compiler.GET_GLOBAL, compiler.SET_GLOBAL,
		compiler.GET_PROP, compiler.SET_PROP, compiler.SET_PROP_KV, compiler.GET_SUPER,
		compiler.CLASS, compiler.METHOD, compiler.IMPORT, compiler.EXPORT:
		return true
	default:
		return false
	}
}
