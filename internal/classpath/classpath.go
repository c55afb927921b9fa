// Package classpath finds class bytes in directories and jar files and
// supplies them to the registry per namespace.
package classpath

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/classreg/internal/classfile"
	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/utils"
)

// BuiltinSource is the source reported for synthesized bootstrap types.
const BuiltinSource = "jrt:/java.base"

const classSuffix = ".class"

// maxClassSize bounds a class file read from a jar.
const maxClassSize = 64 << 20

// Path is an ordered list of directories and jar files.
type Path struct {
	entries []string

	mu   sync.Mutex
	jars map[string]*zip.ReadCloser
}

// NewPath creates a search path. Entries are cleaned; empty ones are
// dropped.
func NewPath(entries ...string) *Path {
	p := &Path{jars: make(map[string]*zip.ReadCloser)}
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			p.entries = append(p.entries, filepath.Clean(e))
		}
	}
	return p
}

// Split parses a list separated by the OS path-list separator.
func Split(list string) []string {
	if list == "" {
		return nil
	}
	return filepath.SplitList(list)
}

// Entries returns the search path.
func (p *Path) Entries() []string {
	if p == nil {
		return nil
	}
	return p.entries
}

// Find returns the bytes of the class name and the entry it was found in.
func (p *Path) Find(name string) ([]byte, string, error) {
	if p == nil {
		return nil, "", notFound(name)
	}
	rel := name + classSuffix
	for _, entry := range p.entries {
		info, err := os.Stat(entry)
		if err != nil {
			continue
		}
		var data []byte
		if info.IsDir() {
			data, err = os.ReadFile(filepath.Join(entry, filepath.FromSlash(rel)))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
		} else {
			data, err = p.readJar(entry, rel)
		}
		if err != nil {
			return nil, "", apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read "+rel+" from "+entry, err)
		}
		if data != nil {
			return data, entry, nil
		}
	}
	return nil, "", notFound(name)
}

func (p *Path) readJar(path, rel string) ([]byte, error) {
	p.mu.Lock()
	zr, ok := p.jars[path]
	if !ok {
		var err error
		zr, err = zip.OpenReader(path)
		if err != nil {
			p.mu.Unlock()
			return nil, nil
		}
		p.jars[path] = zr
	}
	p.mu.Unlock()

	f, err := zr.Open(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxClassSize))
}

// Close releases open jar files.
func (p *Path) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for k, zr := range p.jars {
		if err := zr.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.jars, k)
	}
	return first
}

func notFound(name string) error {
	return apperrors.Newf(apperrors.CodeNotFound, "class %s not found", name)
}

// Options configures NewLoader.
type Options struct {
	Boot     []string
	Platform []string
	App      []string
	// Bootstrap synthesizes java/lang/Object for the boot namespace when
	// the boot path does not provide it.
	Bootstrap bool
	Logger    utils.Logger
}

// Loader supplies class bytes for a namespace from the path of its kind.
// Custom namespaces use the path registered for them.
type Loader struct {
	paths     map[model.LoaderKind]*Path
	bootstrap map[string][]byte
	logger    utils.Logger

	mu     sync.RWMutex
	custom map[uint64]*Path
}

// NewLoader creates a loader.
func NewLoader(opts Options) *Loader {
	l := &Loader{
		paths: map[model.LoaderKind]*Path{
			model.LoaderKindBoot:     NewPath(opts.Boot...),
			model.LoaderKindPlatform: NewPath(opts.Platform...),
			model.LoaderKindApp:      NewPath(opts.App...),
		},
		bootstrap: make(map[string][]byte),
		logger:    utils.Component(opts.Logger, "classpath"),
		custom:    make(map[uint64]*Path),
	}
	if opts.Bootstrap {
		l.bootstrap[model.ObjectTypeName] = classfile.Encode(&classfile.Info{Name: model.ObjectTypeName})
	}
	return l
}

// Path returns the search path of a builtin kind.
func (l *Loader) Path(kind model.LoaderKind) *Path {
	return l.paths[kind]
}

// Classpath returns the boot, platform and app entries in order.
func (l *Loader) Classpath() []string {
	var out []string
	for _, kind := range []model.LoaderKind{model.LoaderKindBoot, model.LoaderKindPlatform, model.LoaderKindApp} {
		out = append(out, l.paths[kind].Entries()...)
	}
	return out
}

// Register sets the search path of a custom namespace.
func (l *Loader) Register(nsID uint64, p *Path) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.custom[nsID] = p
}

// Load returns the bytes of name for ns and where they came from. A
// missing class is NOT_FOUND.
func (l *Loader) Load(_ context.Context, name string, ns *namespace.Namespace) ([]byte, string, error) {
	var p *Path
	if ns.IsBuiltin() {
		p = l.paths[ns.Kind()]
	} else {
		l.mu.RLock()
		p = l.custom[ns.ID()]
		l.mu.RUnlock()
	}
	data, source, err := p.Find(name)
	if apperrors.IsNotFound(err) && ns.IsBoot() {
		if b, ok := l.bootstrap[name]; ok {
			l.logger.Debug("synthesized bootstrap type %s", name)
			return b, BuiltinSource, nil
		}
	}
	if err != nil {
		return nil, "", err
	}
	l.logger.Debug("found %s in %s for %s", name, source, ns)
	return data, source, nil
}

// Close releases every open jar file.
func (l *Loader) Close() error {
	var first error
	for _, p := range l.paths {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.custom {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
