// Package placeholder implements the table of in-flight resolutions.
//
// An entry exists for a (name, namespace) pair while at least one thread
// is loading it, resolving one of its super types, or defining it. The
// entry records which threads take part in each action so that a thread
// re-entering its own resolution is reported as circular instead of
// waiting on itself. All Table methods require the registry Lock.
package placeholder

import (
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
	"github.com/classreg/pkg/utils"
)

// Action is the kind of work a thread is doing under an entry.
type Action int

const (
	LoadInstance Action = iota
	LoadSuper
	DefineClass
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case LoadInstance:
		return "LOAD_INSTANCE"
	case LoadSuper:
		return "LOAD_SUPER"
	case DefineClass:
		return "DEFINE_CLASS"
	default:
		return "UNKNOWN"
	}
}

// Key identifies an entry.
type Key struct {
	Name        *symbol.Symbol
	NamespaceID uint64
}

// Entry is one in-flight resolution.
type Entry struct {
	key       Key
	superName *symbol.Symbol
	definer   *Thread
	instance  *model.TypeDescriptor

	// seen[action] is a multiset; a thread may appear more than once.
	seen [3][]*Thread
}

// Name returns the entry's type name.
func (e *Entry) Name() *symbol.Symbol { return e.key.Name }

// SuperName returns the super type being resolved under LoadSuper.
func (e *Entry) SuperName() *symbol.Symbol { return e.superName }

// Definer returns the thread currently defining the type, or nil.
func (e *Entry) Definer() *Thread { return e.definer }

// SetDefiner records t as the definer; nil clears it.
func (e *Entry) SetDefiner(t *Thread) { e.definer = t }

// Instance returns the descriptor published by the last successful definer.
func (e *Entry) Instance() *model.TypeDescriptor { return e.instance }

// SetInstance records the definer's result.
func (e *Entry) SetInstance(td *model.TypeDescriptor) { e.instance = td }

// InstanceLoadInProgress reports whether a thread holds LoadInstance.
func (e *Entry) InstanceLoadInProgress() bool { return len(e.seen[LoadInstance]) > 0 }

// SuperLoadInProgress reports whether a thread holds LoadSuper.
func (e *Entry) SuperLoadInProgress() bool { return len(e.seen[LoadSuper]) > 0 }

// DefineInProgress reports whether a thread holds DefineClass.
func (e *Entry) DefineInProgress() bool { return len(e.seen[DefineClass]) > 0 }

// HasSeenThread reports whether t participates in action.
func (e *Entry) HasSeenThread(t *Thread, action Action) bool {
	for _, s := range e.seen[action] {
		if s == t {
			return true
		}
	}
	return false
}

// Participants returns how many threads are registered for action.
func (e *Entry) Participants(action Action) int {
	return len(e.seen[action])
}

// Owners returns every thread taking part in the entry, including the
// definer.
func (e *Entry) Owners() []*Thread {
	var out []*Thread
	if e.definer != nil {
		out = append(out, e.definer)
	}
	for _, q := range e.seen {
		out = append(out, q...)
	}
	return out
}

func (e *Entry) addSeen(t *Thread, action Action) {
	e.seen[action] = append(e.seen[action], t)
}

func (e *Entry) removeSeen(t *Thread, action Action) bool {
	q := e.seen[action]
	for i, s := range q {
		if s == t {
			e.seen[action] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Entry) isEmpty() bool {
	return e.definer == nil &&
		len(e.seen[LoadInstance]) == 0 &&
		len(e.seen[LoadSuper]) == 0 &&
		len(e.seen[DefineClass]) == 0
}

// Table holds the in-flight entries.
type Table struct {
	entries map[Key]*Entry
	logger  utils.Logger
}

// NewTable creates an empty table.
func NewTable(logger utils.Logger) *Table {
	return &Table{
		entries: make(map[Key]*Entry),
		logger:  utils.Component(logger, "placeholder"),
	}
}

// Get returns the entry for (name, nsID), or nil.
func (t *Table) Get(name *symbol.Symbol, nsID uint64) *Entry {
	return t.entries[Key{Name: name, NamespaceID: nsID}]
}

// FindAndAdd registers thread for action under (name, nsID), creating the
// entry if needed. For LoadSuper, superName is recorded.
func (t *Table) FindAndAdd(name *symbol.Symbol, nsID uint64, action Action, superName *symbol.Symbol, thread *Thread) *Entry {
	key := Key{Name: name, NamespaceID: nsID}
	e, ok := t.entries[key]
	if !ok {
		name.IncRef()
		e = &Entry{key: key}
		t.entries[key] = e
	}
	if action == LoadSuper && superName != nil && e.superName != superName {
		superName.IncRef()
		if e.superName != nil {
			e.superName.DecRef()
		}
		e.superName = superName
	}
	e.addSeen(thread, action)
	t.logger.Debug("%s %s ns=%d thread=%s", action, name, nsID, thread)
	return e
}

// FindAndRemove unregisters thread for action. The entry is dropped once
// no thread takes part in it and it has no definer.
func (t *Table) FindAndRemove(name *symbol.Symbol, nsID uint64, action Action, thread *Thread) {
	key := Key{Name: name, NamespaceID: nsID}
	e, ok := t.entries[key]
	if !ok {
		return
	}
	e.removeSeen(thread, action)
	if action == LoadSuper && len(e.seen[LoadSuper]) == 0 && e.superName != nil {
		e.superName.DecRef()
		e.superName = nil
	}
	if e.isEmpty() {
		delete(t.entries, key)
		if e.superName != nil {
			e.superName.DecRef()
		}
		name.DecRef()
	}
}

// CheckSeenThread reports whether thread already takes part in action for
// (name, nsID).
func (t *Table) CheckSeenThread(name *symbol.Symbol, nsID uint64, action Action, thread *Thread) bool {
	e := t.Get(name, nsID)
	return e != nil && e.HasSeenThread(thread, action)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Each calls fn for every entry until fn returns false.
func (t *Table) Each(fn func(*Entry) bool) {
	for _, e := range t.entries {
		if !fn(e) {
			return
		}
	}
}
