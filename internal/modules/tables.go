package modules

import (
	"github.com/classreg/internal/chtable"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
)

// Per-namespace table sizes.
const (
	moduleTableSize  = 109
	packageTableSize = 109
)

// ModuleDefinition describes a named module to define.
type ModuleDefinition struct {
	Name            *symbol.Symbol
	Version         string
	Location        string
	Open            bool
	SharedPathIndex int
	Patched         bool
}

// ModuleTable holds the named modules of one namespace.
type ModuleTable struct {
	graph *Graph
	owner Owner
	table *chtable.Table[*Module]
}

// NewModuleTable creates the module table of owner.
func (g *Graph) NewModuleTable(owner Owner) *ModuleTable {
	return &ModuleTable{
		graph: g,
		owner: owner,
		table: chtable.New[*Module](chtable.Options{InitialSize: moduleTableSize}),
	}
}

// Lookup returns the module named name, or nil.
func (t *ModuleTable) Lookup(name *symbol.Symbol) *Module {
	m, _ := t.table.Lookup(name)
	return m
}

// Define creates a named module. Defining a name twice in one namespace
// is a DUPLICATE_DEFINITION error. Defining the root module name in the
// boot namespace publishes the graph's root.
func (t *ModuleTable) Define(def ModuleDefinition) (*Module, error) {
	if def.Name == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "module name is required")
	}
	m := &Module{
		graph:           t.graph,
		name:            def.Name,
		version:         def.Version,
		location:        def.Location,
		owner:           t.owner,
		sharedPathIndex: def.SharedPathIndex,
		patched:         def.Patched,
	}
	if def.Open {
		m.open.Store(true)
	}

	unlock := t.graph.lock()
	_, inserted := t.table.InsertIfAbsent(def.Name, m)
	if inserted {
		_, _ = t.table.GrowIfNeeded()
		if t.owner.Kind() == model.LoaderKindBoot && def.Name.String() == t.graph.rootName {
			t.graph.root.Store(m)
		}
	}
	unlock()

	if !inserted {
		return nil, apperrors.Newf(apperrors.CodeDuplicateDefinition,
			"module %s is already defined", def.Name)
	}
	t.graph.logger.Debug("defined module %s version=%q location=%q", m, def.Version, def.Location)
	return m, nil
}

// Each calls fn for every module until fn returns false.
func (t *ModuleTable) Each(fn func(*Module) bool) {
	t.table.Each(func(_ *symbol.Symbol, m *Module) bool { return fn(m) })
}

// Len returns the number of modules.
func (t *ModuleTable) Len() int {
	return t.table.Len()
}

// Release drops the table's name references.
func (t *ModuleTable) Release() {
	t.table.Release()
}

// PackageTable holds the packages of one namespace.
type PackageTable struct {
	graph *Graph
	table *chtable.Table[*Package]
}

// NewPackageTable creates an empty package table.
func (g *Graph) NewPackageTable() *PackageTable {
	return &PackageTable{
		graph: g,
		table: chtable.New[*Package](chtable.Options{InitialSize: packageTableSize}),
	}
}

// Lookup returns the package named name, or nil.
func (t *PackageTable) Lookup(name *symbol.Symbol) *Package {
	p, _ := t.table.Lookup(name)
	return p
}

// LookupOrCreate returns the package named name, creating it in module
// when absent. An existing package keeps its module.
func (t *PackageTable) LookupOrCreate(name *symbol.Symbol, module *Module) *Package {
	if p := t.Lookup(name); p != nil {
		return p
	}
	defer t.graph.lock()()
	node, inserted := t.table.InsertIfAbsent(name, &Package{name: name, module: module})
	if inserted {
		_, _ = t.table.GrowIfNeeded()
	}
	return node.Value()
}

// Define creates a package in module. A package already defined in a
// different module is a DUPLICATE_DEFINITION error.
func (t *PackageTable) Define(name *symbol.Symbol, module *Module) (*Package, error) {
	p := t.LookupOrCreate(name, module)
	if p.module != module {
		return p, apperrors.Newf(apperrors.CodeDuplicateDefinition,
			"package %s is already defined in module %s", name, p.module)
	}
	return p, nil
}

// Each calls fn for every package until fn returns false.
func (t *PackageTable) Each(fn func(*Package) bool) {
	t.table.Each(func(_ *symbol.Symbol, p *Package) bool { return fn(p) })
}

// Len returns the number of packages.
func (t *PackageTable) Len() int {
	return t.table.Len()
}

// Release drops the table's name references.
func (t *PackageTable) Release() {
	t.table.Release()
}
