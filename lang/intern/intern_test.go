package intern_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felinelang/feline/lang/intern"
)

func newEntry(s string) *intern.Entry {
	return &intern.Entry{Value: s, Hash: intern.FNV1a32(s)}
}

func TestInternReturnsSameEntryForEqualContent(t *testing.T) {
	tbl := intern.New(0)
	a := tbl.Intern("hello", newEntry)
	b := tbl.Intern("hello", newEntry)
	require.Same(t, a, b)
	require.Equal(t, 1, tbl.Len())
}

func TestInternDistinctStringsGetDistinctEntries(t *testing.T) {
	tbl := intern.New(0)
	a := tbl.Intern("hello", newEntry)
	b := tbl.Intern("world", newEntry)
	require.NotSame(t, a, b)
	require.Equal(t, 2, tbl.Len())
}

func TestLookupWithoutCreating(t *testing.T) {
	tbl := intern.New(0)
	_, ok := tbl.Lookup("absent")
	require.False(t, ok)

	tbl.Intern("present", newEntry)
	e, ok := tbl.Lookup("present")
	require.True(t, ok)
	require.Equal(t, "present", e.Value)
}

func TestRemoveIfDropsOnlyUnkept(t *testing.T) {
	tbl := intern.New(0)
	tbl.Intern("keep", newEntry)
	tbl.Intern("drop", newEntry)

	tbl.RemoveIf(func(e *intern.Entry) bool { return e.Value == "keep" })

	require.Equal(t, 1, tbl.Len())
	_, ok := tbl.Lookup("keep")
	require.True(t, ok)
	_, ok = tbl.Lookup("drop")
	require.False(t, ok)
}

func TestRemove(t *testing.T) {
	tbl := intern.New(0)
	tbl.Intern("x", newEntry)
	tbl.Remove("x")
	_, ok := tbl.Lookup("x")
	require.False(t, ok)
}

func TestFNV1a32IsDeterministic(t *testing.T) {
	require.Equal(t, intern.FNV1a32("feline"), intern.FNV1a32("feline"))
	require.NotEqual(t, intern.FNV1a32("feline"), intern.FNV1a32("nenuphar"))
}
