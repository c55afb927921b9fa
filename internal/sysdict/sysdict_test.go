package sysdict_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/sysdict"
	"github.com/classreg/internal/testutil"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// newLoader returns a loader serving java/lang/Object from boot.
func newLoader() *testutil.MemoryLoader {
	return testutil.NewMemoryLoader().Add(model.LoaderKindBoot, testutil.Class(model.ObjectTypeName, ""))
}

func newRegistry(t *testing.T, opts sysdict.Options) *sysdict.Dictionary {
	t.Helper()
	d, err := sysdict.New(opts)
	require.NoError(t, err)
	return d
}

func register(t *testing.T, d *sysdict.Dictionary, name string, opts namespace.Options) *namespace.Namespace {
	t.Helper()
	ns, err := d.Namespaces().Register(name, model.LoaderKindCustom, opts)
	require.NoError(t, err)
	return ns
}

func TestNew_Defaults(t *testing.T) {
	d := newRegistry(t, sysdict.Options{})

	cfg := d.Config()
	assert.Equal(t, namespace.DefaultTableConfig(), cfg.Tables)
	assert.Equal(t, sysdict.DefaultConfig().RootModule, cfg.RootModule)
	assert.False(t, cfg.StrictDuplicateCheck, "a zero config leaves the duplicate check off")
	assert.Nil(t, d.Archive())

	require.NotNil(t, d.Modules().Root())
	assert.Equal(t, cfg.RootModule, d.Modules().Root().Name().String())
	assert.Equal(t, namespace.BootID, d.Namespaces().Boot().ID())

	s := d.Stats()
	assert.Equal(t, 3, s.Namespaces)
	assert.Zero(t, s.Bindings)
	assert.Zero(t, s.Placeholders)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		tables namespace.TableConfig
	}{
		{"negative boot size", namespace.TableConfig{BootSize: -1, DefaultSize: 107, LoadFactor: 2, MaxSize: 2000}},
		{"zero load factor", namespace.TableConfig{BootSize: 1009, DefaultSize: 107, MaxSize: 2000}},
		{"max below initial", namespace.TableConfig{BootSize: 1009, DefaultSize: 107, LoadFactor: 2, MaxSize: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sysdict.New(sysdict.Options{Config: sysdict.Config{Tables: tt.tables}})
			testutil.AssertCode(t, err, apperrors.CodeConfigError)
		})
	}
}

func TestStats_CountsBindings(t *testing.T) {
	loader := newLoader().Add(model.LoaderKindApp, testutil.Class("com/a/Foo", model.ObjectTypeName))
	d := newRegistry(t, sysdict.Options{Config: sysdict.DefaultConfig(), Loader: loader})

	_, err := d.ResolveOrFail(context.Background(), "com/a/Foo", d.Namespaces().App(), nil)
	require.NoError(t, err)

	s := d.Stats()
	// Object in boot, platform and app; Foo in app.
	assert.Equal(t, 4, s.Bindings)
	assert.Equal(t, int64(2), s.Parses)
	assert.Equal(t, int64(2), s.Definitions)
	assert.Zero(t, s.Placeholders)
	assert.Positive(t, s.Symbols)
}

func TestVerifyAccess(t *testing.T) {
	loader := newLoader().Add(model.LoaderKindApp,
		testutil.Class("com/lib/Api", model.ObjectTypeName),
		testutil.Class("com/a/Foo", model.ObjectTypeName),
	)
	d := newRegistry(t, sysdict.Options{Config: sysdict.DefaultConfig(), Loader: loader})
	app := d.Namespaces().App()
	ctx := context.Background()

	lib, err := app.Modules().Define(modules.ModuleDefinition{Name: d.Symbols().Intern("com.lib"), SharedPathIndex: model.NoSharedPathIndex})
	require.NoError(t, err)
	user, err := app.Modules().Define(modules.ModuleDefinition{Name: d.Symbols().Intern("com.user"), SharedPathIndex: model.NoSharedPathIndex})
	require.NoError(t, err)
	pkg := app.Packages().LookupOrCreate(d.Symbols().Intern("com/lib"), lib)

	api, err := d.ResolveOrFail(ctx, "com/lib/Api", app, nil)
	require.NoError(t, err)
	foo, err := d.ResolveOrFail(ctx, "com/a/Foo", app, nil)
	require.NoError(t, err)

	err = d.VerifyAccess(user, api)
	testutil.AssertCode(t, err, apperrors.CodeAccessError)
	assert.Contains(t, err.Error(), "does not read")

	user.AddRead(lib)
	err = d.VerifyAccess(user, api)
	testutil.AssertCode(t, err, apperrors.CodeAccessError)
	assert.Contains(t, err.Error(), "does not export")

	pkg.SetExported(user)
	assert.NoError(t, d.VerifyAccess(user, api))
	assert.NoError(t, d.VerifyAccess(lib, api))

	// Classpath types live in the unnamed module, which a named module
	// does not read by default.
	testutil.AssertCode(t, d.VerifyAccess(user, foo), apperrors.CodeAccessError)
	assert.NoError(t, d.VerifyAccess(app.UnnamedModule(), api))

	testutil.AssertCode(t, d.VerifyAccess(nil, api), apperrors.CodeInvalidInput)
}
