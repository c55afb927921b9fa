package dumper_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classreg/internal/dumper"
	"github.com/classreg/internal/storage"
	"github.com/classreg/internal/testutil"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// dumped runs a dump of the basic classlist and returns the fixture.
func dumped(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, basicClasslist)
	_, err := newDumper(t, dumper.Options{Config: f.cfg}).Dump(context.Background(), dumper.DumpRequest{})
	require.NoError(t, err)
	return f
}

func TestRestore_ResolvesWithoutParsing(t *testing.T) {
	f := dumped(t)
	parser := testutil.NewCountingParser()
	d := newDumper(t, dumper.Options{Config: f.cfg, Parser: parser})

	r, err := d.Restore(context.Background(), dumper.RestoreRequest{})
	require.NoError(t, err)
	defer r.Close()
	require.NotNil(t, r.Index)
	assert.NoError(t, r.Rejected)
	assert.Equal(t, 4, r.Index.Len())

	app := r.Registry.Namespaces().App()
	bar, err := r.Registry.ResolveOrFail(context.Background(), "com/a/Bar", app, nil)
	require.NoError(t, err)
	assert.True(t, bar.Shared)
	assert.Equal(t, "file://"+filepath.ToSlash(f.jar), bar.Source)
	testutil.AssertSuperChain(t, bar, "com/a/Foo", model.ObjectTypeName)
	require.Len(t, bar.InterfaceTypes, 1)
	assert.True(t, bar.InterfaceTypes[0].Shared)
	assert.Zero(t, parser.Total(), "archived types are not parsed")

	object := r.Registry.FindInstanceType(model.ObjectTypeName, r.Registry.Namespaces().Boot(), nil)
	require.NotNil(t, object)
	assert.True(t, object.Shared)
	assert.Same(t, object, bar.Super.Super)

	proxy, err := r.Registry.FindLambdaProxy(context.Background(), "com/a/Bar", app, "run ()Ljava/lang/Runnable; ()V")
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, "com/a/Bar$$Lambda$0", proxy.Name)
}

func TestRestore_ApprovesArchivedDomain(t *testing.T) {
	f := dumped(t)
	d := newDumper(t, dumper.Options{Config: f.cfg})

	r, err := d.Restore(context.Background(), dumper.RestoreRequest{})
	require.NoError(t, err)
	defer r.Close()
	require.NotNil(t, r.Index)

	app := r.Registry.Namespaces().App()
	bar, err := r.Registry.ResolveOrFail(context.Background(), "com/a/Bar", app, nil)
	require.NoError(t, err)
	require.NotEqual(t, model.NoSharedPathIndex, bar.SharedPathIndex)

	pd := r.Index.Paths().ProtectionDomain(bar.SharedPathIndex, nil)
	require.NotNil(t, pd)
	assert.Equal(t, "file://"+filepath.ToSlash(f.jar), pd.CodeSource)
	assert.Same(t, bar, r.Registry.FindInstanceType("com/a/Bar", app, pd))
	assert.Nil(t, r.Registry.FindInstanceType("com/a/Bar", app, model.NewProtectionDomain(pd.CodeSource)),
		"domains are compared by identity")
}

func TestRestore_Preload(t *testing.T) {
	f := dumped(t)
	f.cfg.Archive.PreloadWorkers = 2
	parser := testutil.NewCountingParser()
	d := newDumper(t, dumper.Options{Config: f.cfg, Parser: parser})

	r, err := d.Restore(context.Background(), dumper.RestoreRequest{Preload: true})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 4, r.Preloaded)
	assert.Zero(t, r.PreloadMisses)
	assert.Zero(t, parser.Total())
	assert.Positive(t, r.Registry.Stats().SharedLoads)

	foo := r.Registry.FindInstanceType("com/a/Foo", r.Registry.Namespaces().App(), nil)
	require.NotNil(t, foo)
	assert.True(t, foo.Shared)
}

func TestRestore_RejectsChangedClasspath(t *testing.T) {
	f := dumped(t)
	// Rewriting the jar with an extra class changes its size.
	testutil.WriteClassJar(t, f.jar,
		testutil.Class("com/a/Foo", model.ObjectTypeName),
		testutil.Class("com/a/Task", model.ObjectTypeName),
		testutil.Class("com/a/Bar", "com/a/Foo", "com/a/Task"),
		testutil.Class("com/a/Extra", model.ObjectTypeName),
	)
	parser := testutil.NewCountingParser()
	d := newDumper(t, dumper.Options{Config: f.cfg, Parser: parser})

	r, err := d.Restore(context.Background(), dumper.RestoreRequest{Preload: true})
	require.NoError(t, err)
	defer r.Close()
	assert.Nil(t, r.Index)
	assert.Nil(t, r.Registry.Archive())
	testutil.AssertCode(t, r.Rejected, apperrors.CodeArchiveInvalid)
	assert.Zero(t, r.Preloaded)

	bar, err := r.Registry.ResolveOrFail(context.Background(), "com/a/Bar", r.Registry.Namespaces().App(), nil)
	require.NoError(t, err)
	assert.False(t, bar.Shared)
	assert.Equal(t, 1, parser.Count("com/a/Bar"))
}

func TestRestore_CorruptArchive(t *testing.T) {
	f := dumped(t)
	require.NoError(t, os.WriteFile(f.cfg.Archive.OutputPath, []byte("not an archive"), 0644))
	d := newDumper(t, dumper.Options{Config: f.cfg})

	r, err := d.Restore(context.Background(), dumper.RestoreRequest{})
	require.NoError(t, err)
	defer r.Close()
	assert.Nil(t, r.Index)
	testutil.AssertCode(t, r.Rejected, apperrors.CodeArchiveInvalid)
}

func TestRestore_RootModuleMismatch(t *testing.T) {
	f := dumped(t)
	f.cfg.Registry.RootModule = "java.core"
	d := newDumper(t, dumper.Options{Config: f.cfg})

	r, err := d.Restore(context.Background(), dumper.RestoreRequest{})
	require.NoError(t, err)
	defer r.Close()
	assert.Nil(t, r.Index)
	assert.Contains(t, r.Rejected.Error(), "root module java.base")
}

func TestRestore_FromStorage(t *testing.T) {
	f := newFixture(t, basicClasslist)
	store, err := storage.NewLocalStore(filepath.Join(f.dir, "store"))
	require.NoError(t, err)
	d := newDumper(t, dumper.Options{Config: f.cfg, Store: store})
	result, err := d.Dump(context.Background(), dumper.DumpRequest{})
	require.NoError(t, err)

	local := filepath.Join(f.dir, "fetched", "app.jsa")
	r, err := d.Restore(context.Background(), dumper.RestoreRequest{ArchivePath: local, StorageKey: result.StorageKey})
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, testutil.FileExists(t, local))
	require.NotNil(t, r.Index)
	assert.Equal(t, result.Archive.Types, r.Index.Len())

	_, err = d.Restore(context.Background(), dumper.RestoreRequest{ArchivePath: local, StorageKey: "archives/missing/app.jsa"})
	testutil.AssertCode(t, err, apperrors.CodeNotFound)
}

func TestRestore_StorageNotConfigured(t *testing.T) {
	f := dumped(t)
	d := newDumper(t, dumper.Options{Config: f.cfg})

	_, err := d.Restore(context.Background(), dumper.RestoreRequest{StorageKey: "archives/app/app.jsa"})
	testutil.AssertCode(t, err, apperrors.CodeConfigError)
}

func TestRestore_RequiresPath(t *testing.T) {
	f := newFixture(t, basicClasslist)
	f.cfg.Archive.OutputPath = ""
	d := newDumper(t, dumper.Options{Config: f.cfg})

	_, err := d.Restore(context.Background(), dumper.RestoreRequest{})
	testutil.AssertCode(t, err, apperrors.CodeConfigError)
}
