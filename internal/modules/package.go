package modules

import (
	"sync/atomic"

	"github.com/classreg/pkg/symbol"
)

// Export flags.
const (
	ExportUnqualified int32 = 0x1
	ExportAllUnnamed  int32 = 0x2
)

// maxArchiveBit bounds the shared path indices tracked per package.
const maxArchiveBit = 64

// Package is a named package and its export state. Export state only
// widens: not exported, then qualified, then unqualified.
type Package struct {
	name   *symbol.Symbol
	module *Module

	exportFlags     atomic.Int32
	qualified       atomic.Pointer[[]*Module]
	mustWalkExports atomic.Bool

	// bit i set: a type of this package was restored from shared path i.
	definedByArchive atomic.Uint64
}

// Name returns the package name.
func (p *Package) Name() *symbol.Symbol { return p.name }

// Module returns the module the package belongs to.
func (p *Package) Module() *Module { return p.module }

// String returns the package name.
func (p *Package) String() string {
	if p == nil {
		return "<nil>"
	}
	return p.name.String()
}

// IsUnqualifiedExported reports whether every module may access the package.
func (p *Package) IsUnqualifiedExported() bool {
	return p.module.IsOpen() || p.exportFlags.Load()&ExportUnqualified != 0
}

// IsExportedAllUnnamed reports whether every unnamed module may access the
// package.
func (p *Package) IsExportedAllUnnamed() bool {
	return p.module.IsOpen() || p.exportFlags.Load()&(ExportUnqualified|ExportAllUnnamed) != 0
}

// IsExported reports whether the package is exported to at least one module.
func (p *Package) IsExported() bool {
	return p.IsUnqualifiedExported() || p.IsExportedAllUnnamed() || len(p.QualifiedExports()) > 0
}

// QualifiedExports returns a snapshot of the qualified export targets.
func (p *Package) QualifiedExports() []*Module {
	if q := p.qualified.Load(); q != nil {
		return *q
	}
	return nil
}

// IsQExportedTo reports whether the package is exported to m through a
// qualified export or the all-unnamed flag.
func (p *Package) IsQExportedTo(m *Module) bool {
	if p.IsExportedAllUnnamed() && !m.IsNamed() {
		return true
	}
	for _, q := range p.QualifiedExports() {
		if q == m {
			return true
		}
	}
	return false
}

// IsExportedTo reports whether m may access the package.
func (p *Package) IsExportedTo(m *Module) bool {
	return p.IsUnqualifiedExported() || p.IsQExportedTo(m)
}

// MustWalkExports reports whether qualified exports reference a module of
// a non-builtin namespace.
func (p *Package) MustWalkExports() bool {
	return p.mustWalkExports.Load()
}

// SetExported exports the package to m, or to everyone when m is nil.
// Once unqualified, further qualified exports are ignored.
func (p *Package) SetExported(m *Module) {
	g := p.module.graph
	defer g.lock()()

	if p.IsUnqualifiedExported() {
		return
	}
	if m == nil {
		p.exportFlags.Store(ExportUnqualified)
		return
	}
	current := p.QualifiedExports()
	for _, q := range current {
		if q == m {
			return
		}
	}
	next := make([]*Module, len(current), len(current)+1)
	copy(next, current)
	next = append(next, m)
	p.qualified.Store(&next)

	if !p.mustWalkExports.Load() && m.owner != nil && p.module.owner != nil &&
		m.owner.ID() != p.module.owner.ID() && !m.owner.Kind().IsBuiltin() {
		p.mustWalkExports.Store(true)
	}
}

// SetExportedAllUnnamed exports the package to every unnamed module.
func (p *Package) SetExportedAllUnnamed() {
	g := p.module.graph
	defer g.lock()()

	if p.IsUnqualifiedExported() {
		return
	}
	p.exportFlags.Store(p.exportFlags.Load() | ExportAllUnnamed)
}

// PurgeQualifiedExports drops qualified exports to modules of dead
// namespaces and returns how many were removed.
func (p *Package) PurgeQualifiedExports() int {
	if !p.MustWalkExports() {
		return 0
	}
	g := p.module.graph
	defer g.lock()()

	current := p.QualifiedExports()
	kept := make([]*Module, 0, len(current))
	walk := false
	for _, q := range current {
		if q.owner != nil && !q.owner.IsAlive() {
			continue
		}
		kept = append(kept, q)
		if q.owner != nil && q.owner.ID() != p.module.owner.ID() && !q.owner.Kind().IsBuiltin() {
			walk = true
		}
	}
	p.qualified.Store(&kept)
	p.mustWalkExports.Store(walk)
	return len(current) - len(kept)
}

// SetDefinedByArchive records that a type of the package was restored
// from shared path index.
func (p *Package) SetDefinedByArchive(index int) {
	if index < 0 || index >= maxArchiveBit {
		return
	}
	bit := uint64(1) << uint(index)
	for {
		old := p.definedByArchive.Load()
		if old&bit != 0 || p.definedByArchive.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// IsDefinedByArchive reports whether SetDefinedByArchive(index) was called.
func (p *Package) IsDefinedByArchive(index int) bool {
	if index < 0 || index >= maxArchiveBit {
		return false
	}
	return p.definedByArchive.Load()&(uint64(1)<<uint(index)) != 0
}
