// Package intern implements Feline's string-interning table: the
// open-addressed hash map keyed by string content that backs Invariant 1
// ("two string literals with equal content have equal object identity").
// It is grounded on the teacher's own use of github.com/dolthub/swiss for
// every hash table in the virtual machine (lang/machine/map.go).
package intern

import (
	"github.com/dolthub/swiss"
)

// Table deduplicates strings by content, handing back a single *Entry per
// distinct string value for the lifetime it stays reachable.
//
// Entry is a minimal, GC-agnostic handle: lang/machine wraps it with the
// heap-object header (mark bit, intrusive list pointer) that every traced
// object needs, so this package stays free of any dependency on the VM or
// garbage collector.
type Entry struct {
	Value string
	Hash  uint32
}

// Table is a weak map from string content to its unique Entry. "Weak" here
// means the collector drops (via RemoveIf) every entry whose backing object
// was not marked, before it sweeps, per spec.md's weak-string-interning
// requirement — the table itself holds no GC roots.
type Table struct {
	m *swiss.Map[string, *Entry]
}

// New returns an empty intern table with initial capacity for at least size
// distinct strings.
func New(size int) *Table {
	if size < 8 {
		size = 8
	}
	return &Table{m: swiss.NewMap[string, *Entry](uint32(size))}
}

// Intern returns the canonical Entry for s, creating one via newEntry if s
// has not been seen before.
func (t *Table) Intern(s string, newEntry func(string) *Entry) *Entry {
	if e, ok := t.m.Get(s); ok {
		return e
	}
	e := newEntry(s)
	t.m.Put(s, e)
	return e
}

// Lookup returns the existing Entry for s without creating one.
func (t *Table) Lookup(s string) (*Entry, bool) {
	return t.m.Get(s)
}

// Remove deletes s's entry. The collector drops unmarked entries through
// RemoveIf instead.
func (t *Table) Remove(s string) {
	t.m.Delete(s)
}

// Len reports how many distinct strings are currently interned.
func (t *Table) Len() int {
	return int(t.m.Count())
}

// RemoveIf deletes every entry for which keep returns false, used by the GC
// to sweep the whole table in one weak-reference pass. The keys to delete are
// collected during iteration and deleted afterwards.
func (t *Table) RemoveIf(keep func(e *Entry) bool) {
	var dead []string
	t.m.Iter(func(k string, e *Entry) bool {
		if !keep(e) {
			dead = append(dead, k)
		}
		return false
	})
	for _, k := range dead {
		t.m.Delete(k)
	}
}

// FNV1a32 computes the 32-bit FNV-1a hash the original Feline VM caches on
// every string object.
func FNV1a32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
