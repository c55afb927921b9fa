package archive

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// EntryKind classifies a classpath entry.
type EntryKind uint8

const (
	KindNonExistent EntryKind = iota
	KindModulesImage
	KindDirectory
	KindJar
)

// String returns the kind name.
func (k EntryKind) String() string {
	switch k {
	case KindNonExistent:
		return "non-existent"
	case KindModulesImage:
		return "modules-image"
	case KindDirectory:
		return "directory"
	case KindJar:
		return "jar"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ModulesImageName is the file name of the runtime modules image.
const ModulesImageName = "modules"

const manifestName = "META-INF/MANIFEST.MF"

// maxManifestSize bounds a manifest read from a jar.
const maxManifestSize = 1 << 20

// PathEntry is one classpath entry seen while dumping.
type PathEntry struct {
	Index          int       `json:"index"`
	Path           string    `json:"path"`
	Kind           EntryKind `json:"kind"`
	Size           int64     `json:"size"`
	ModTime        int64     `json:"mod_time"`
	ManifestBytes  []byte    `json:"-"`
	FromModulePath bool      `json:"from_module_path"`
}

// StatPath describes the entry at path. A missing path yields a
// non-existent entry rather than an error.
func StatPath(index int, path string, fromModulePath bool) (*PathEntry, error) {
	e := &PathEntry{Index: index, Path: filepath.Clean(path), FromModulePath: fromModulePath}
	info, err := os.Stat(e.Path)
	if errors.Is(err, fs.ErrNotExist) {
		e.Kind = KindNonExistent
		return e, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to stat classpath entry "+path, err)
	}
	e.ModTime = info.ModTime().UnixNano()

	switch {
	case info.IsDir():
		e.Kind = KindDirectory
		e.ManifestBytes, err = readDirManifest(e.Path)
	case filepath.Base(e.Path) == ModulesImageName:
		e.Kind = KindModulesImage
		e.Size = info.Size()
	default:
		e.Kind = KindJar
		e.Size = info.Size()
		e.ManifestBytes, err = readJarManifest(e.Path)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func readDirManifest(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(manifestName)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read manifest in "+dir, err)
	}
	return data, nil
}

// readJarManifest returns the jar's manifest, or nil when the file is not
// a zip or carries none.
func readJarManifest(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to open manifest in "+path, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read manifest in "+path, err)
		}
		return data, nil
	}
	return nil, nil
}

// Manifest holds the main attributes of a jar manifest.
type Manifest struct {
	Attributes map[string]string
}

// Get returns the value of attribute name.
func (m *Manifest) Get(name string) string {
	if m == nil {
		return ""
	}
	return m.Attributes[name]
}

// ParseManifest parses the main section of a manifest. Continuation lines
// start with a single space.
func ParseManifest(data []byte) *Manifest {
	m := &Manifest{Attributes: make(map[string]string)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	last := ""
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") && last != "" {
			m.Attributes[last] += line[1:]
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		last = strings.TrimSpace(key)
		m.Attributes[last] = strings.TrimSpace(value)
	}
	return m
}

// PathTable holds the dumped classpath entries and the values derived
// from them at restore time. Each derived value is computed on first use
// and published with compare-and-swap; a losing writer adopts the value
// already in the slot.
type PathTable struct {
	entries   []*PathEntry
	manifests []atomic.Pointer[Manifest]
	urls      []atomic.Pointer[string]
	domains   []atomic.Pointer[model.ProtectionDomain]
}

// NewPathTable creates a table over entries, which must be ordered by index.
func NewPathTable(entries []*PathEntry) *PathTable {
	return &PathTable{
		entries:   entries,
		manifests: make([]atomic.Pointer[Manifest], len(entries)),
		urls:      make([]atomic.Pointer[string], len(entries)),
		domains:   make([]atomic.Pointer[model.ProtectionDomain], len(entries)),
	}
}

// Len returns the number of entries.
func (t *PathTable) Len() int { return len(t.entries) }

// Entry returns entry i, or nil when i is out of range.
func (t *PathTable) Entry(i int) *PathEntry {
	if i < 0 || i >= len(t.entries) {
		return nil
	}
	return t.entries[i]
}

// Entries returns all entries.
func (t *PathTable) Entries() []*PathEntry { return t.entries }

// Manifest returns the parsed manifest of entry i, or nil if it has none.
func (t *PathTable) Manifest(i int) *Manifest {
	e := t.Entry(i)
	if e == nil || len(e.ManifestBytes) == 0 {
		return nil
	}
	if m := t.manifests[i].Load(); m != nil {
		return m
	}
	t.manifests[i].CompareAndSwap(nil, ParseManifest(e.ManifestBytes))
	return t.manifests[i].Load()
}

// URL returns the code-source URL of entry i.
func (t *PathTable) URL(i int) string {
	e := t.Entry(i)
	if e == nil {
		return ""
	}
	if u := t.urls[i].Load(); u != nil {
		return *u
	}
	var s string
	if e.Kind == KindModulesImage {
		s = "jrt:/"
	} else {
		abs, err := filepath.Abs(e.Path)
		if err != nil {
			abs = e.Path
		}
		s = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	t.urls[i].CompareAndSwap(nil, &s)
	return *t.urls[i].Load()
}

// ProtectionDomain returns the protection domain of entry i, creating it
// with create on first use. Concurrent callers all observe the first
// published domain.
func (t *PathTable) ProtectionDomain(i int, create func(e *PathEntry, codeSource string) *model.ProtectionDomain) *model.ProtectionDomain {
	e := t.Entry(i)
	if e == nil {
		return nil
	}
	if pd := t.domains[i].Load(); pd != nil {
		return pd
	}
	if create == nil {
		create = func(_ *PathEntry, cs string) *model.ProtectionDomain { return model.NewProtectionDomain(cs) }
	}
	t.domains[i].CompareAndSwap(nil, create(e, t.URL(i)))
	return t.domains[i].Load()
}

// ValidateOptions controls PathTable.Validate.
type ValidateOptions struct {
	// Classpath is the runtime classpath; the dumped entries must be a
	// prefix of it.
	Classpath []string
	// CheckTimestamps compares modification times as well as sizes.
	CheckTimestamps bool
	// Workers bounds the parallel stat calls; 0 means no bound.
	Workers int
}

// Validate checks that the runtime classpath matches the dumped entries.
// Any mismatch is ARCHIVE_INVALID.
func (t *PathTable) Validate(ctx context.Context, opts ValidateOptions) error {
	if len(opts.Classpath) < len(t.entries) {
		return apperrors.Newf(apperrors.CodeArchiveInvalid,
			"runtime classpath has %d entries, archive was dumped with %d", len(opts.Classpath), len(t.entries))
	}
	for i, e := range t.entries {
		if e.Index != i {
			return apperrors.Newf(apperrors.CodeArchiveInvalid, "classpath entry %s has index %d at position %d", e.Path, e.Index, i)
		}
		if filepath.Clean(opts.Classpath[i]) != e.Path {
			return apperrors.Newf(apperrors.CodeArchiveInvalid,
				"classpath mismatch at %d: archive has %s, runtime has %s", i, e.Path, opts.Classpath[i])
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for _, e := range t.entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return validateEntry(e, opts.CheckTimestamps)
		})
	}
	return g.Wait()
}

func validateEntry(e *PathEntry, checkTimestamps bool) error {
	info, err := os.Stat(e.Path)
	if e.Kind == KindNonExistent {
		if err == nil {
			return apperrors.Newf(apperrors.CodeArchiveInvalid, "classpath entry %s did not exist at dump time", e.Path)
		}
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveInvalid, "classpath entry "+e.Path+" is not accessible", err)
	}
	if (e.Kind == KindDirectory) != info.IsDir() {
		return apperrors.Newf(apperrors.CodeArchiveInvalid, "classpath entry %s changed kind (was %s)", e.Path, e.Kind)
	}
	if e.Kind == KindDirectory {
		return nil
	}
	if info.Size() != e.Size {
		return apperrors.Newf(apperrors.CodeArchiveInvalid, "classpath entry %s changed size: %d != %d", e.Path, info.Size(), e.Size)
	}
	if checkTimestamps && e.Kind != KindModulesImage && info.ModTime().UnixNano() != e.ModTime {
		return apperrors.Newf(apperrors.CodeArchiveInvalid, "classpath entry %s has been modified", e.Path)
	}
	return nil
}
