// Package breakpoints implements the software breakpoint table: the map
// from (kind, address) to the instruction word displaced by a planted
// BKPT, shared by the RSP dispatcher's z/Z handlers and the step
// engine's temporary breakpoints.
package breakpoints

// Kind distinguishes the matchpoint types RSP's z/Z packets can name.
// Only Memory is backed by real target support; the others are accepted
// and reported as unsupported per the dispatcher's z/Z handling.
type Kind int

const (
	Memory Kind = iota
	Hardware
	WriteWatch
	ReadWatch
	AccessWatch
)

type key struct {
	kind Kind
	addr uint32
}

// Entry is one planted breakpoint: the original instruction word that
// was displaced when the BKPT opcode was written to addr.
type Entry struct {
	Kind    Kind
	Addr    uint32
	Saved   uint16
	planted bool // true if the step engine planted this, false if GDB did
}

// Table is a breakpoint table for one core. It is not safe for
// concurrent use; the dispatcher's single-threaded loop is its only
// caller.
type Table struct {
	entries map[key]*Entry
}

// New returns an empty breakpoint table.
func New() *Table {
	return &Table{entries: make(map[key]*Entry)}
}

// Add records a breakpoint, returning the previous entry at the same
// (kind, addr) if one existed (the caller must not re-save saved words
// on top of an existing entry).
func (t *Table) Add(kind Kind, addr uint32, saved uint16) (previous *Entry, existed bool) {
	k := key{kind, addr}
	previous, existed = t.entries[k]
	t.entries[k] = &Entry{Kind: kind, Addr: addr, Saved: saved}
	return previous, existed
}

// Lookup returns the entry at (kind, addr), if any.
func (t *Table) Lookup(kind Kind, addr uint32) (*Entry, bool) {
	e, ok := t.entries[key{kind, addr}]
	return e, ok
}

// Remove deletes the entry at (kind, addr) and returns it.
func (t *Table) Remove(kind Kind, addr uint32) (*Entry, bool) {
	k := key{kind, addr}
	e, ok := t.entries[k]
	if ok {
		delete(t.entries, k)
	}
	return e, ok
}

// Len reports the number of live entries, used by tests asserting the
// table returns to its prior size after a step or continue.
func (t *Table) Len() int {
	return len(t.entries)
}

// PlantTemporary is used by the step engine: it records a step-engine
// breakpoint at addr, which RemoveTemporary takes out again on unwind.
// If a user breakpoint already exists there, PlantTemporary leaves it
// untouched and reports that no new entry was made so the step engine
// knows not to remove it afterward.
func (t *Table) PlantTemporary(addr uint32, saved uint16) (planted bool) {
	k := key{Memory, addr}
	if _, exists := t.entries[k]; exists {
		return false
	}
	t.entries[k] = &Entry{Kind: Memory, Addr: addr, Saved: saved, planted: true}
	return true
}

// RemoveTemporary undoes PlantTemporary; it is a no-op if the address
// was never marked as a step-engine plant (i.e. a user breakpoint owns
// it).
func (t *Table) RemoveTemporary(addr uint32) (*Entry, bool) {
	k := key{Memory, addr}
	e, ok := t.entries[k]
	if !ok || !e.planted {
		return nil, false
	}
	delete(t.entries, k)
	return e, true
}
