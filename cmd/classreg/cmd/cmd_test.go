package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classreg/pkg/config"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/utils"
)

func TestApplyDumpFlags(t *testing.T) {
	defer func() {
		classlistPath, outputPath, compressionName = "", "", ""
		appPath, excludePrefixes = nil, nil
	}()

	c := config.Default()
	classlistPath = "/tmp/classlist"
	outputPath = "/tmp/app.jsa"
	compressionName = "gzip"
	appPath = []string{"a.jar", "classes"}
	excludePrefixes = []string{"com/a/gen/"}

	require.NoError(t, applyDumpFlags(c))
	assert.Equal(t, "/tmp/classlist", c.Archive.ClasslistPath)
	assert.Equal(t, "/tmp/app.jsa", c.Archive.OutputPath)
	assert.Equal(t, "gzip", c.Archive.Compression)
	assert.Equal(t, []string{"a.jar", "classes"}, c.Classpath.App)
	assert.Equal(t, []string{"com/a/gen/"}, c.Archive.ExcludePrefixes)

	compressionName = "lz4"
	err := applyDumpFlags(c)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestWatchFile_DebouncesWrites(t *testing.T) {
	logger = &utils.NullLogger{}
	dir := t.TempDir()
	target := filepath.Join(dir, "classlist")
	require.NoError(t, os.WriteFile(target, []byte("java/lang/Object\n"), 0644))

	w, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, w, target, 100*time.Millisecond, func() { calls <- struct{}{} })
	}()

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte("java/lang/Object\ncom/a/Foo\n"), 0644))
	}

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("classlist write did not trigger a dump")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, calls, "a burst of writes triggers one dump")
}
