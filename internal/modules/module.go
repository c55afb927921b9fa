package modules

import (
	"sync/atomic"

	"github.com/classreg/pkg/symbol"
)

// unnamedModuleName is printed for modules without a name.
const unnamedModuleName = "unnamed module"

// Module groups packages and records which modules it can read.
type Module struct {
	graph    *Graph
	name     *symbol.Symbol
	version  string
	location string
	owner    Owner

	open              atomic.Bool
	canReadAllUnnamed atomic.Bool
	defaultReadEdges  atomic.Bool
	mustWalkReads     atomic.Bool
	reads             atomic.Pointer[[]*Module]

	sharedPathIndex int
	patched         bool
}

// Name returns the module name, or nil for an unnamed module.
func (m *Module) Name() *symbol.Symbol { return m.name }

// IsNamed reports whether the module has a name.
func (m *Module) IsNamed() bool { return m.name != nil }

// Version returns the module version.
func (m *Module) Version() string { return m.version }

// Location returns where the module was loaded from.
func (m *Module) Location() string { return m.location }

// Owner returns the defining namespace.
func (m *Module) Owner() Owner { return m.owner }

// SharedPathIndex returns the archive classpath entry of the module's
// location, or model.NoSharedPathIndex.
func (m *Module) SharedPathIndex() int { return m.sharedPathIndex }

// IsPatched reports whether the module was defined with patched content.
func (m *Module) IsPatched() bool { return m.patched }

// IsOpen reports whether the module opens all its packages.
func (m *Module) IsOpen() bool { return m.open.Load() }

// CanReadAllUnnamed reports whether the module reads every unnamed module.
func (m *Module) CanReadAllUnnamed() bool { return m.canReadAllUnnamed.Load() }

// HasDefaultReadEdges reports whether the module reads the unnamed modules
// of the builtin namespaces.
func (m *Module) HasDefaultReadEdges() bool { return m.defaultReadEdges.Load() }

// MustWalkReads reports whether the read set references a module of a
// non-builtin namespace and must be purged when namespaces unload.
func (m *Module) MustWalkReads() bool { return m.mustWalkReads.Load() }

// String returns the module name.
func (m *Module) String() string {
	if m == nil {
		return "<nil>"
	}
	if m.name == nil {
		return unnamedModuleName
	}
	return m.name.String()
}

// Reads returns a snapshot of the explicit read edges.
func (m *Module) Reads() []*Module {
	if p := m.reads.Load(); p != nil {
		return *p
	}
	return nil
}

// CanRead reports whether m can read to.
func (m *Module) CanRead(to *Module) bool {
	if !m.IsNamed() || to == m {
		return true
	}
	if root := m.graph.Root(); root != nil && to == root {
		return true
	}
	if !to.IsNamed() {
		if m.CanReadAllUnnamed() {
			return true
		}
		if m.HasDefaultReadEdges() && to.owner.Kind().IsBuiltin() {
			return true
		}
	}
	for _, r := range m.Reads() {
		if r == to {
			return true
		}
	}
	return false
}

// AddRead adds a read edge to to. A nil to means every unnamed module.
// Unnamed modules already read everything, so adding to them is a no-op.
func (m *Module) AddRead(to *Module) {
	if !m.IsNamed() {
		return
	}
	defer m.graph.lock()()

	if to == nil {
		m.canReadAllUnnamed.Store(true)
		return
	}
	current := m.Reads()
	for _, r := range current {
		if r == to {
			return
		}
	}
	next := make([]*Module, len(current), len(current)+1)
	copy(next, current)
	next = append(next, to)
	m.reads.Store(&next)
	m.setReadWalkRequired(to.owner)
}

func (m *Module) setReadWalkRequired(other Owner) {
	if m.mustWalkReads.Load() || other == nil {
		return
	}
	if other.ID() != m.owner.ID() && !other.Kind().IsBuiltin() {
		m.mustWalkReads.Store(true)
		m.graph.logger.Debug("module %s must walk reads after edge to namespace %d", m, other.ID())
	}
}

// SetCanReadAllUnnamed makes m read every unnamed module.
func (m *Module) SetCanReadAllUnnamed() {
	m.canReadAllUnnamed.Store(true)
}

// SetDefaultReadEdges sets the default-read-edges flag and returns its
// previous value.
func (m *Module) SetDefaultReadEdges(v bool) bool {
	return m.defaultReadEdges.Swap(v)
}

// SetOpen opens the module. A module never becomes strict again.
func (m *Module) SetOpen() {
	m.open.Store(true)
}

// PurgeReads drops read edges to modules whose namespace is no longer
// alive and recomputes the walk flag. It returns how many edges were
// removed.
func (m *Module) PurgeReads() int {
	if !m.MustWalkReads() {
		return 0
	}
	defer m.graph.lock()()

	current := m.Reads()
	kept := make([]*Module, 0, len(current))
	walk := false
	for _, r := range current {
		if r.owner != nil && !r.owner.IsAlive() {
			continue
		}
		kept = append(kept, r)
		if r.owner != nil && r.owner.ID() != m.owner.ID() && !r.owner.Kind().IsBuiltin() {
			walk = true
		}
	}
	m.reads.Store(&kept)
	m.mustWalkReads.Store(walk)
	return len(current) - len(kept)
}
