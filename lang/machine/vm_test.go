package machine_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felinelang/feline/lang/machine"
)

// run compiles and executes src as a throwaway module in t.TempDir, and
// returns everything written via PRINT.
func run(t *testing.T, cfg machine.Config, src string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.fn")
	vm := machine.New(cfg)
	var buf bytes.Buffer
	vm.Out = &buf
	err := vm.Run([]byte(src), path, dir)
	return buf.String(), err
}

// S1 — Closures capture by reference (spec.md §8).
func TestClosuresCaptureByReference(t *testing.T) {
	out, err := run(t, machine.Config{}, `
function makeCounter() { var n = 0;
  function inc() { n = n + 1; return n; } return inc; }
var c = makeCounter(); print c(); print c(); print c();
`)
	require.NoError(t, err)
	require.Equal(t, "1\n2\n3\n", out)
}

// S2 — Exception propagation across calls.
func TestExceptionPropagationAcrossCalls(t *testing.T) {
	out, err := run(t, machine.Config{}, `
function a() { throw "oops"; }
function b() { a(); }
try { b(); } catch(e) { print e; }
`)
	require.NoError(t, err)
	require.Equal(t, "oops\n", out)
}

// S3 — Inheritance and super invocation.
func TestInheritanceAndSuperInvocation(t *testing.T) {
	out, err := run(t, machine.Config{}, `
class A { greet() { return "A"; } }
class B : A { greet() { return super.greet() + "B"; } }
print B().greet();
`)
	require.NoError(t, err)
	require.Equal(t, "AB\n", out)
}

// S4 — List index semantics, including negative-index wraparound and
// out-of-range access raising a catchable IndexRangeException.
func TestListIndexSemantics(t *testing.T) {
	out, err := run(t, machine.Config{}, `
var L = [10, 20, 30]; print L[-1]; print L[0]; try { print L[5]; } catch(e) { print "caught"; }
`)
	require.NoError(t, err)
	require.Equal(t, "30\n10\ncaught\n", out)
}

// S5 — Module import is cached: two imports of the same path yield the
// same Import instance, so a value exported as a reference compares equal.
func TestModuleImportIsCached(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "m.fn"), []byte(`var k = {}; export k as k;`), 0o644)
	require.NoError(t, err)

	mainPath := filepath.Join(dir, "main.fn")
	vm := machine.New(machine.Config{})
	var buf bytes.Buffer
	vm.Out = &buf
	err = vm.Run([]byte(`import m as m; import m as m2; print m.k == m2.k;`), mainPath, dir)
	require.NoError(t, err)
	require.Equal(t, "true\n", buf.String())
}

// S6 — GC under stress does not affect results: the same program run with
// and without StressGC produces the same final concatenation.
func TestGCUnderStressDoesNotAffectResults(t *testing.T) {
	src := `
var s = "";
var i = 0;
while (i < 2000) {
  s = s + "x";
  i = i + 1;
}
print s;
`
	normal, err := run(t, machine.Config{}, src)
	require.NoError(t, err)

	stressed, err := run(t, machine.Config{StressGC: true}, src)
	require.NoError(t, err)

	require.Equal(t, normal, stressed)
	require.Equal(t, strings.Repeat("x", 2000)+"\n", normal)
}

// Invariant 1 — equal string literals share one object identity: Equal
// compares objects by pointer, so concatenating the same literal content
// two different ways must still compare equal.
func TestStringLiteralsWithEqualContentAreIdentical(t *testing.T) {
	out, err := run(t, machine.Config{}, `
var a = "hel" + "lo";
var b = "he" + "llo";
print a == b;
`)
	require.NoError(t, err)
	require.Equal(t, "true\n", out)
}

// Invariant 3 — a successful try/catch restores the operand stack to its
// pre-try size: observable here as the program completing and printing
// the expected value with no leftover state corrupting the next statement.
func TestTryCatchRestoresStackSize(t *testing.T) {
	out, err := run(t, machine.Config{}, `
function f() {
  try {
    throw "x";
  } catch (e) {
    var unused = 1;
  }
  return 42;
}
print f();
print f();
`)
	require.NoError(t, err)
	require.Equal(t, "42\n42\n", out)
}

// Invariant 4 — list indexing wraps modulo length for any in-range negative
// index, not just -1.
func TestListIndexModuloSemantics(t *testing.T) {
	out, err := run(t, machine.Config{}, `
var L = [0, 1, 2, 3, 4];
print L[-2];
print L[-5];
`)
	require.NoError(t, err)
	require.Equal(t, "3\n0\n", out)
}

// Invariant 5 — instanceof is reflexive on an instance's own class and
// transitive up the superclass chain.
func TestInstanceofReflexiveAndTransitive(t *testing.T) {
	out, err := run(t, machine.Config{}, `
class A {}
class B : A {}
class C : B {}
var c = C();
print c instanceof C;
print c instanceof B;
print c instanceof A;
`)
	require.NoError(t, err)
	require.Equal(t, "true\ntrue\ntrue\n", out)
}

// Uncaught exceptions at top level are reported as a *machine.UncaughtException
// carrying the thrown class name and message (spec.md §7).
func TestUncaughtExceptionPropagatesToCaller(t *testing.T) {
	_, err := run(t, machine.Config{}, `
function boom() { var L = []; print L[0]; }
boom();
`)
	require.Error(t, err)
	var uncaught *machine.UncaughtException
	require.ErrorAs(t, err, &uncaught)
	require.Equal(t, "IndexRangeException", uncaught.ClassName)
}

// Deeply recursive calls raise a catchable StackOverflowException rather
// than crashing the host process, and MaxCallDepth is honored when set.
func TestStackOverflowIsCatchable(t *testing.T) {
	out, err := run(t, machine.Config{MaxCallDepth: 64}, `
function recurse() { return recurse(); }
try { recurse(); } catch (e) { print "caught overflow"; }
`)
	require.NoError(t, err)
	require.Equal(t, "caught overflow\n", out)
}
