// Package symbol implements the interned-name table.
//
// Every name used as a key anywhere in the registry (type names, package
// names, module names) is a *Symbol obtained from a Table. Equal byte
// sequences map to a single *Symbol for as long as it is referenced, so
// symbols can be compared by pointer.
//
// Symbols are reference counted. Intern returns a symbol with one
// reference owned by the caller; structures that keep a symbol beyond the
// call that produced it take their own reference with IncRef and release it
// with DecRef. A symbol whose count drops to zero stays in the table until
// the next Purge, so a concurrent Intern can still revive it.
package symbol

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
)

// permanentRefCount pins a symbol; IncRef/DecRef become no-ops.
const permanentRefCount = int32(-1)

// Symbol is an immutable interned byte sequence.
type Symbol struct {
	name string
	hash uint64
	refs atomic.Int32
}

// String returns the symbol text.
func (s *Symbol) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.name
}

// Hash returns the hash computed when the symbol was interned.
func (s *Symbol) Hash() uint64 {
	return s.hash
}

// Len returns the length of the symbol text in bytes.
func (s *Symbol) Len() int {
	return len(s.name)
}

// RefCount returns the current reference count, or -1 for permanent symbols.
func (s *Symbol) RefCount() int32 {
	return s.refs.Load()
}

// IsPermanent reports whether the symbol is pinned.
func (s *Symbol) IsPermanent() bool {
	return s.refs.Load() == permanentRefCount
}

// IncRef takes an additional reference.
func (s *Symbol) IncRef() {
	for {
		n := s.refs.Load()
		if n == permanentRefCount {
			return
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// DecRef releases a reference. Releasing below zero panics.
func (s *Symbol) DecRef() {
	for {
		n := s.refs.Load()
		if n == permanentRefCount {
			return
		}
		if n <= 0 {
			panic("symbol: refcount underflow for " + s.name)
		}
		if s.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Table deduplicates names. The zero value is not usable; call NewTable.
type Table struct {
	seed    maphash.Seed
	mu      sync.RWMutex
	symbols map[string]*Symbol
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{
		seed:    maphash.MakeSeed(),
		symbols: make(map[string]*Symbol),
	}
}

// Intern returns the canonical symbol for name with one new reference.
func (t *Table) Intern(name string) *Symbol {
	t.mu.RLock()
	s, ok := t.symbols[name]
	if ok {
		s.IncRef()
	}
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.symbols[name]; ok {
		s.IncRef()
		return s
	}
	s = &Symbol{name: name, hash: maphash.String(t.seed, name)}
	s.refs.Store(1)
	t.symbols[name] = s
	return s
}

// InternBytes is Intern for a byte slice.
func (t *Table) InternBytes(b []byte) *Symbol {
	return t.Intern(string(b))
}

// InternPermanent returns a pinned symbol that is never purged.
func (t *Table) InternPermanent(name string) *Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.symbols[name]
	if !ok {
		s = &Symbol{name: name, hash: maphash.String(t.seed, name)}
		t.symbols[name] = s
	}
	s.refs.Store(permanentRefCount)
	return s
}

// Lookup returns the symbol for name without creating it or taking a reference.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[name]
	return s, ok
}

// Len returns the number of symbols currently in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.symbols)
}

// Purge removes every symbol whose reference count is zero and returns how
// many were removed.
func (t *Table) Purge() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for name, s := range t.symbols {
		if s.refs.Load() == 0 {
			delete(t.symbols, name)
			removed++
		}
	}
	return removed
}
