package modules

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
)

type testOwner struct {
	id   uint64
	kind model.LoaderKind
	dead atomic.Bool
}

func (o *testOwner) ID() uint64             { return o.id }
func (o *testOwner) Kind() model.LoaderKind { return o.kind }
func (o *testOwner) IsAlive() bool          { return !o.dead.Load() }

type fixture struct {
	graph  *Graph
	syms   *symbol.Table
	boot   *testOwner
	app    *testOwner
	custom *testOwner
	bootM  *ModuleTable
	appM   *ModuleTable
	custM  *ModuleTable
	base   *Module
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		graph:  NewGraph("", nil),
		syms:   symbol.NewTable(),
		boot:   &testOwner{id: 0, kind: model.LoaderKindBoot},
		app:    &testOwner{id: 2, kind: model.LoaderKindApp},
		custom: &testOwner{id: 7, kind: model.LoaderKindCustom},
	}
	f.bootM = f.graph.NewModuleTable(f.boot)
	f.appM = f.graph.NewModuleTable(f.app)
	f.custM = f.graph.NewModuleTable(f.custom)

	base, err := f.bootM.Define(ModuleDefinition{Name: f.syms.Intern("java.base"), Version: "11.0.2"})
	require.NoError(t, err)
	f.base = base
	return f
}

func (f *fixture) define(t *testing.T, table *ModuleTable, name string) *Module {
	m, err := table.Define(ModuleDefinition{Name: f.syms.Intern(name), SharedPathIndex: model.NoSharedPathIndex})
	require.NoError(t, err)
	return m
}

func TestModuleTable_DefineRootAndDuplicate(t *testing.T) {
	f := newFixture(t)

	assert.Same(t, f.base, f.graph.Root())
	assert.Same(t, f.base, f.bootM.Lookup(f.syms.Intern("java.base")))

	_, err := f.bootM.Define(ModuleDefinition{Name: f.syms.Intern("java.base")})
	assert.True(t, apperrors.IsDuplicateDefinition(err))

	// The same name in another namespace is a different module.
	other := f.define(t, f.appM, "java.base")
	assert.NotSame(t, f.base, other)
	assert.Same(t, f.base, f.graph.Root())
}

func TestModule_CanRead(t *testing.T) {
	f := newFixture(t)
	a := f.define(t, f.appM, "com.a")
	b := f.define(t, f.appM, "com.b")
	unnamedApp := f.graph.NewUnnamedModule(f.app)
	unnamedCustom := f.graph.NewUnnamedModule(f.custom)

	assert.True(t, unnamedApp.CanRead(a), "unnamed reads everything")
	assert.True(t, a.CanRead(f.base), "everyone reads the root module")
	assert.True(t, a.CanRead(a))
	assert.False(t, a.CanRead(b))
	assert.False(t, a.CanRead(unnamedApp))

	a.AddRead(b)
	a.AddRead(b)
	assert.True(t, a.CanRead(b))
	assert.Len(t, a.Reads(), 1)
	assert.False(t, b.CanRead(a), "edges are directional")

	assert.False(t, a.SetDefaultReadEdges(true))
	assert.True(t, a.CanRead(unnamedApp), "default read edges cover builtin unnamed modules")
	assert.False(t, a.CanRead(unnamedCustom))

	a.AddRead(nil)
	assert.True(t, a.CanReadAllUnnamed())
	assert.True(t, a.CanRead(unnamedCustom))
}

func TestModule_AddReadToUnnamedIsNoop(t *testing.T) {
	f := newFixture(t)
	unnamed := f.graph.NewUnnamedModule(f.app)
	a := f.define(t, f.appM, "com.a")

	unnamed.AddRead(a)
	assert.Empty(t, unnamed.Reads())
}

func TestModule_ReadWalkRequiredAndPurge(t *testing.T) {
	f := newFixture(t)
	a := f.define(t, f.appM, "com.a")
	b := f.define(t, f.appM, "com.b")
	c := f.define(t, f.custM, "com.c")

	a.AddRead(b)
	assert.False(t, a.MustWalkReads(), "edges within builtin namespaces never go stale")

	a.AddRead(c)
	assert.True(t, a.MustWalkReads())

	f.custom.dead.Store(true)
	assert.Equal(t, 1, a.PurgeReads())
	assert.False(t, a.MustWalkReads())
	assert.True(t, a.CanRead(b))
	assert.False(t, a.CanRead(c))
	assert.Equal(t, 0, a.PurgeReads())
}

func TestModule_SetOpenIsMonotonic(t *testing.T) {
	f := newFixture(t)
	a := f.define(t, f.appM, "com.a")

	assert.False(t, a.IsOpen())
	a.SetOpen()
	a.SetOpen()
	assert.True(t, a.IsOpen())
	assert.True(t, f.graph.NewUnnamedModule(f.app).IsOpen())
}

func TestPackage_ExportMonotonicity(t *testing.T) {
	f := newFixture(t)
	owner := f.define(t, f.appM, "com.owner")
	m1 := f.define(t, f.appM, "com.m1")
	m2 := f.define(t, f.appM, "com.m2")
	pkgs := f.graph.NewPackageTable()
	p := pkgs.LookupOrCreate(f.syms.Intern("com/owner/api"), owner)

	assert.False(t, p.IsExported())
	assert.False(t, p.IsExportedTo(m1))

	p.SetExported(m1)
	assert.True(t, p.IsExported())
	assert.True(t, p.IsQExportedTo(m1))
	assert.False(t, p.IsExportedTo(m2))

	p.SetExported(nil)
	assert.True(t, p.IsUnqualifiedExported())
	for _, m := range []*Module{m1, m2, f.base, f.graph.NewUnnamedModule(f.custom)} {
		assert.True(t, p.IsExportedTo(m), "exported to %s", m)
	}

	// Later qualified exports cannot narrow the package.
	p.SetExported(m2)
	assert.True(t, p.IsUnqualifiedExported())
	assert.True(t, p.IsExported())
}

func TestPackage_ExportedAllUnnamed(t *testing.T) {
	f := newFixture(t)
	owner := f.define(t, f.appM, "com.owner")
	named := f.define(t, f.appM, "com.named")
	pkgs := f.graph.NewPackageTable()
	p := pkgs.LookupOrCreate(f.syms.Intern("com/owner/internal"), owner)

	p.SetExportedAllUnnamed()
	assert.True(t, p.IsExported())
	assert.True(t, p.IsExportedTo(f.graph.NewUnnamedModule(f.app)))
	assert.False(t, p.IsExportedTo(named))
}

func TestPackage_OpenModuleExportsEverything(t *testing.T) {
	f := newFixture(t)
	owner := f.define(t, f.appM, "com.owner")
	other := f.define(t, f.appM, "com.other")
	p := f.graph.NewPackageTable().LookupOrCreate(f.syms.Intern("com/owner/x"), owner)

	owner.SetOpen()
	assert.True(t, p.IsExportedTo(other))
}

func TestPackage_PurgeQualifiedExports(t *testing.T) {
	f := newFixture(t)
	owner := f.define(t, f.appM, "com.owner")
	builtin := f.define(t, f.appM, "com.builtin")
	foreign := f.define(t, f.custM, "com.foreign")
	p := f.graph.NewPackageTable().LookupOrCreate(f.syms.Intern("com/owner/api"), owner)

	p.SetExported(builtin)
	assert.False(t, p.MustWalkExports())
	p.SetExported(foreign)
	assert.True(t, p.MustWalkExports())

	f.custom.dead.Store(true)
	assert.Equal(t, 1, p.PurgeQualifiedExports())
	assert.False(t, p.MustWalkExports())
	assert.True(t, p.IsQExportedTo(builtin))
	assert.False(t, p.IsQExportedTo(foreign))
}

func TestPackageTable_Define(t *testing.T) {
	f := newFixture(t)
	a := f.define(t, f.appM, "com.a")
	b := f.define(t, f.appM, "com.b")
	pkgs := f.graph.NewPackageTable()
	name := f.syms.Intern("com/shared")

	p, err := pkgs.Define(name, a)
	require.NoError(t, err)
	again, err := pkgs.Define(name, a)
	require.NoError(t, err)
	assert.Same(t, p, again)

	_, err = pkgs.Define(name, b)
	assert.True(t, apperrors.IsDuplicateDefinition(err))
	assert.Same(t, p, pkgs.Lookup(name))
}

func TestPackageTable_ConcurrentLookupOrCreate(t *testing.T) {
	f := newFixture(t)
	a := f.define(t, f.appM, "com.a")
	pkgs := f.graph.NewPackageTable()
	name := f.syms.Intern("com/a/impl")

	results := make([]*Package, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = pkgs.LookupOrCreate(name, a)
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	assert.Equal(t, 1, pkgs.Len())
}

func TestPackage_DefinedByArchive(t *testing.T) {
	f := newFixture(t)
	p := f.graph.NewPackageTable().LookupOrCreate(f.syms.Intern("p"), f.base)

	p.SetDefinedByArchive(3)
	assert.True(t, p.IsDefinedByArchive(3))
	assert.False(t, p.IsDefinedByArchive(2))
	p.SetDefinedByArchive(-1)
	p.SetDefinedByArchive(64)
	assert.False(t, p.IsDefinedByArchive(64))
}

func TestGraph_VerifyAccess(t *testing.T) {
	f := newFixture(t)
	from := f.define(t, f.appM, "com.from")
	to := f.define(t, f.appM, "com.to")
	pkgs := f.graph.NewPackageTable()
	p := pkgs.LookupOrCreate(f.syms.Intern("com/to/api"), to)

	err := f.graph.VerifyAccess(from, p)
	assert.True(t, apperrors.IsAccessError(err))
	assert.Contains(t, err.Error(), "does not read")

	from.AddRead(to)
	err = f.graph.VerifyAccess(from, p)
	assert.True(t, apperrors.IsAccessError(err))
	assert.Contains(t, err.Error(), "does not export")

	p.SetExported(from)
	assert.NoError(t, f.graph.VerifyAccess(from, p))
	assert.NoError(t, f.graph.VerifyAccess(to, p))
}

func TestSameVersion(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"11.0.2", "11.0.2", true},
		{"1.0", "1.0.0", true},
		{"1.0.0", "1.0.1", false},
		{"abc", "abc", true},
		{"abc", "1.0", false},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, SameVersion(tt.a, tt.b))
		})
	}
}
