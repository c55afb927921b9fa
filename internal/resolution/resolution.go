// Package resolution records failed symbolic references.
//
// Once a reference from a type fails to resolve, every later attempt
// must fail the same way, even if the missing type appears afterwards.
// The table keeps the first error per (referrer, index) and, separately,
// the first nest host error. All Table methods require the registry lock.
package resolution

import (
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/utils"
)

// Key names one symbolic reference: the referring type and the index of
// the reference within it.
type Key struct {
	Referrer *model.TypeDescriptor
	Index    int
}

// Entry is what the table holds for a key. Err is nil when only a nest
// host error was recorded.
type Entry struct {
	Err           error
	NestHostError string
}

// Table maps references to their recorded failures.
type Table struct {
	entries map[Key]*Entry
	logger  utils.Logger
}

// NewTable creates an empty table.
func NewTable(logger utils.Logger) *Table {
	return &Table{
		entries: make(map[Key]*Entry),
		logger:  utils.Component(logger, "resolution"),
	}
}

// Add records err for key unless an error is already recorded. It
// reports whether err was stored.
func (t *Table) Add(key Key, err error) bool {
	if key.Referrer == nil || err == nil {
		return false
	}
	e := t.entries[key]
	if e == nil {
		e = &Entry{}
		t.entries[key] = e
	}
	if e.Err != nil {
		return false
	}
	e.Err = err
	t.logger.Debug("recorded resolution error for %s#%d: %v", key.Referrer.Name, key.Index, err)
	return true
}

// AddNestHostError records msg as the nest host error for key. An
// earlier message is kept.
func (t *Table) AddNestHostError(key Key, msg string) bool {
	if key.Referrer == nil || msg == "" {
		return false
	}
	e := t.entries[key]
	if e == nil {
		e = &Entry{}
		t.entries[key] = e
	}
	if e.NestHostError != "" {
		return false
	}
	e.NestHostError = msg
	return true
}

// Find returns a copy of the entry for key, or nil.
func (t *Table) Find(key Key) *Entry {
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Delete removes every entry of referrer and returns how many went.
func (t *Table) Delete(referrer *model.TypeDescriptor) int {
	removed := 0
	for k := range t.entries {
		if k.Referrer == referrer {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// Purge removes the entries whose referrer belongs to a namespace that
// isAlive rejects.
func (t *Table) Purge(isAlive func(uint64) bool) int {
	removed := 0
	for k := range t.entries {
		if !isAlive(k.Referrer.LoaderID) {
			delete(t.entries, k)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Debug("purged %d resolution errors", removed)
	}
	return removed
}

// Len returns the number of recorded entries.
func (t *Table) Len() int { return len(t.entries) }
