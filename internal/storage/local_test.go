package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
)

func newLocal(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestNewLocalStore(t *testing.T) {
	t.Run("CreatesBaseDirectory", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "storage")

		s, err := NewLocalStore(base)
		require.NoError(t, err)
		assert.Equal(t, base, s.BasePath())

		info, err := os.Stat(base)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("EmptyPathDefaults", func(t *testing.T) {
		origDir, err := os.Getwd()
		require.NoError(t, err)
		defer os.Chdir(origDir)
		require.NoError(t, os.Chdir(t.TempDir()))

		s, err := NewLocalStore("")
		require.NoError(t, err)
		assert.Equal(t, "./storage", s.BasePath())
	})
}

func TestLocalStore_UploadDownload(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()
	content := []byte("archive payload")

	require.NoError(t, s.Upload(ctx, "archives/nightly/app.jsa", bytes.NewReader(content)))

	data, err := os.ReadFile(filepath.Join(dir, "archives", "nightly", "app.jsa"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	rc, err := s.Download(ctx, "archives/nightly/app.jsa")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entries, err := os.ReadDir(filepath.Join(dir, "archives", "nightly"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestLocalStore_UploadFileDownloadFile(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "app.jsa")
	require.NoError(t, os.WriteFile(src, []byte("snapshot"), 0644))

	require.NoError(t, s.UploadFile(ctx, "a/app.jsa", src))

	dst := filepath.Join(t.TempDir(), "restore", "app.jsa")
	require.NoError(t, s.DownloadFile(ctx, "a/app.jsa", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))

	err = s.UploadFile(ctx, "a/missing.jsa", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLocalStore_DownloadMissing(t *testing.T) {
	s, _ := newLocal(t)

	_, err := s.Download(context.Background(), "missing.jsa")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	err = s.DownloadFile(context.Background(), "missing.jsa", filepath.Join(t.TempDir(), "x"))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLocalStore_DeleteAndExists(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Upload(ctx, "x.jsa", bytes.NewReader([]byte("x"))))

	ok, err := s.Exists(ctx, "x.jsa")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "x.jsa"))
	ok, err = s.Exists(ctx, "x.jsa")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx, "x.jsa"), "deleting twice is not an error")
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "/", "../outside.jsa", "a/../../b"} {
		err := s.Upload(ctx, key, bytes.NewReader(nil))
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err), "key %q", key)
	}
	assert.Empty(t, s.GetURL("../x"))
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s, _ := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Upload(ctx, "x", bytes.NewReader(nil)), context.Canceled)
	_, err := s.Exists(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "x"), context.Canceled)
}

func TestLocalStore_GetURL(t *testing.T) {
	s, dir := newLocal(t)
	assert.Equal(t, filepath.Join(dir, "path", "to", "app.jsa"), s.GetURL("path/to/app.jsa"))
}

func TestPublishAndFetch(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "app.jsa")
	require.NoError(t, os.WriteFile(src, []byte("snapshot"), 0644))

	key := ArchiveKey("archives", "nightly", src)
	assert.Equal(t, "archives/nightly/app.jsa", key)

	url, err := Publish(ctx, s, key, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archives", "nightly", "app.jsa"), url)

	dst := filepath.Join(t.TempDir(), "app.jsa")
	require.NoError(t, Fetch(ctx, s, key, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))

	err = Fetch(ctx, s, "archives/other/app.jsa", dst)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = Publish(ctx, s, key, filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, apperrors.CodeUploadError, apperrors.GetErrorCode(err))
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "nightly/app.jsa", ArchiveKey("", "nightly", "/out/app.jsa"))
	assert.Equal(t, "a/b/nightly/app.jsa", ArchiveKey("/a/b/", "nightly", "app.jsa"))
	assert.Equal(t, "archives/app.jsa", ArchiveKey("archives", "", "app.jsa"))
}
