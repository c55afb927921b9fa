package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

func TestStatPath_Kinds(t *testing.T) {
	dir := t.TempDir()

	classes := filepath.Join(dir, "classes")
	require.NoError(t, os.MkdirAll(filepath.Join(classes, "META-INF"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(classes, "META-INF", "MANIFEST.MF"), []byte("Created-By: test\n"), 0644))

	image := filepath.Join(dir, ModulesImageName)
	require.NoError(t, os.WriteFile(image, []byte("jimage"), 0644))

	jar := writeJar(t, dir, "lib.jar", "Implementation-Title: lib\n")
	plain := writeJar(t, dir, "bare.jar", "")

	tests := []struct {
		name     string
		path     string
		kind     EntryKind
		manifest bool
	}{
		{"directory", classes, KindDirectory, true},
		{"modules image", image, KindModulesImage, false},
		{"jar", jar, KindJar, true},
		{"jar without manifest", plain, KindJar, false},
		{"missing", filepath.Join(dir, "gone.jar"), KindNonExistent, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := StatPath(i, tt.path, false)
			require.NoError(t, err)
			assert.Equal(t, i, e.Index)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.manifest, len(e.ManifestBytes) > 0)
		})
	}
	assert.Equal(t, "jar", KindJar.String())
	assert.Equal(t, "kind(9)", EntryKind(9).String())
}

func TestParseManifest(t *testing.T) {
	m := ParseManifest([]byte("Manifest-Version: 1.0\r\nClass-Path: a.jar\r\n  b.jar\r\nbroken line\r\n\r\nName: ignored\r\n"))
	assert.Equal(t, "1.0", m.Get("Manifest-Version"))
	assert.Equal(t, "a.jar b.jar", m.Get("Class-Path"))
	assert.Equal(t, "", m.Get("Name"), "only the main section is read")

	var none *Manifest
	assert.Equal(t, "", none.Get("x"))
}

func TestPathTable_FirstWriterWins(t *testing.T) {
	jar := writeJar(t, t.TempDir(), "app.jar", "Main-Class: Foo\n")
	e, err := StatPath(0, jar, false)
	require.NoError(t, err)
	table := NewPathTable([]*PathEntry{e})

	var created atomic.Int32
	create := func(_ *PathEntry, cs string) *model.ProtectionDomain {
		created.Add(1)
		return model.NewProtectionDomain(cs)
	}

	const workers = 16
	domains := make([]*model.ProtectionDomain, workers)
	manifests := make([]*Manifest, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			domains[i] = table.ProtectionDomain(0, create)
			manifests[i] = table.Manifest(0)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, domains[0], domains[i])
		assert.Same(t, manifests[0], manifests[i])
	}
	assert.GreaterOrEqual(t, created.Load(), int32(1))
	assert.Equal(t, table.URL(0), domains[0].CodeSource)
	assert.Equal(t, "Foo", manifests[0].Get("Main-Class"))

	assert.Nil(t, table.ProtectionDomain(3, create))
	assert.Nil(t, table.Manifest(-1))
	assert.Equal(t, "", table.URL(5))
	assert.Equal(t, 1, table.Len())
	assert.Same(t, e, table.Entry(0))
}

func TestPathTable_DefaultDomainAndImageURL(t *testing.T) {
	table := NewPathTable([]*PathEntry{{Index: 0, Path: "/jdk/lib/modules", Kind: KindModulesImage}})
	assert.Equal(t, "jrt:/", table.URL(0))
	pd := table.ProtectionDomain(0, nil)
	require.NotNil(t, pd)
	assert.Equal(t, "jrt:/", pd.CodeSource)
}

func TestPathTable_Validate(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*PathTable, []string) {
		dir := t.TempDir()
		jar := writeJar(t, dir, "app.jar", "")
		classes := filepath.Join(dir, "classes")
		require.NoError(t, os.Mkdir(classes, 0755))
		missing := filepath.Join(dir, "later.jar")

		var entries []*PathEntry
		for i, p := range []string{jar, classes, missing} {
			e, err := StatPath(i, p, false)
			require.NoError(t, err)
			entries = append(entries, e)
		}
		return NewPathTable(entries), []string{jar, classes, missing}
	}

	t.Run("matching classpath", func(t *testing.T) {
		table, cp := setup(t)
		assert.NoError(t, table.Validate(ctx, ValidateOptions{Classpath: append(cp, "/extra.jar"), CheckTimestamps: true, Workers: 2}))
	})

	t.Run("short classpath", func(t *testing.T) {
		table, cp := setup(t)
		assert.True(t, apperrors.IsArchiveInvalid(table.Validate(ctx, ValidateOptions{Classpath: cp[:1]})))
	})

	t.Run("reordered classpath", func(t *testing.T) {
		table, cp := setup(t)
		cp[0], cp[1] = cp[1], cp[0]
		assert.True(t, apperrors.IsArchiveInvalid(table.Validate(ctx, ValidateOptions{Classpath: cp})))
	})

	t.Run("jar size changed", func(t *testing.T) {
		table, cp := setup(t)
		f, err := os.OpenFile(cp[0], os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.Write([]byte("junk"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		assert.True(t, apperrors.IsArchiveInvalid(table.Validate(ctx, ValidateOptions{Classpath: cp})))
	})

	t.Run("jar touched", func(t *testing.T) {
		table, cp := setup(t)
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(cp[0], later, later))
		assert.NoError(t, table.Validate(ctx, ValidateOptions{Classpath: cp}))
		assert.True(t, apperrors.IsArchiveInvalid(table.Validate(ctx, ValidateOptions{Classpath: cp, CheckTimestamps: true})))
	})

	t.Run("missing entry appeared", func(t *testing.T) {
		table, cp := setup(t)
		require.NoError(t, os.WriteFile(cp[2], []byte("x"), 0644))
		assert.True(t, apperrors.IsArchiveInvalid(table.Validate(ctx, ValidateOptions{Classpath: cp})))
	})

	t.Run("directory replaced by file", func(t *testing.T) {
		table, cp := setup(t)
		require.NoError(t, os.Remove(cp[1]))
		require.NoError(t, os.WriteFile(cp[1], []byte("x"), 0644))
		assert.True(t, apperrors.IsArchiveInvalid(table.Validate(ctx, ValidateOptions{Classpath: cp})))
	})
}
