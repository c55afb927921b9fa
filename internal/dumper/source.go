package dumper

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/classreg/internal/classlist"
	"github.com/classreg/internal/classpath"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/sysdict"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// sourceLoader serves classlist lines that name a source to the source
// namespace and delegates everything else to the classpath loader.
type sourceLoader struct {
	inner sysdict.Loader
	lines map[string]*classlist.Line

	mu    sync.Mutex
	ns    *namespace.Namespace
	paths map[string]*classpath.Path
}

func newSourceLoader(inner sysdict.Loader, list *classlist.List) *sourceLoader {
	l := &sourceLoader{
		inner: inner,
		lines: make(map[string]*classlist.Line),
		paths: make(map[string]*classpath.Path),
	}
	for _, line := range list.Lines {
		if _, dup := l.lines[line.Name]; line.HasSource() && !dup {
			l.lines[line.Name] = line
		}
	}
	return l
}

func (l *sourceLoader) bind(ns *namespace.Namespace) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ns = ns
}

func (l *sourceLoader) isSource(ns *namespace.Namespace) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ns != nil && ns == l.ns
}

// line returns the source line declaring name, or nil.
func (l *sourceLoader) line(name string) *classlist.Line {
	return l.lines[name]
}

// Load implements sysdict.Loader.
func (l *sourceLoader) Load(ctx context.Context, name string, ns *namespace.Namespace) ([]byte, string, error) {
	if !l.isSource(ns) {
		return l.inner.Load(ctx, name, ns)
	}
	line := l.lines[name]
	if line == nil {
		return nil, "", apperrors.Newf(apperrors.CodeNotFound, "class %s has no source in the classlist", name)
	}
	data, _, err := l.path(line.Source).Find(name)
	if err != nil {
		return nil, "", err
	}
	return data, line.Source, nil
}

func (l *sourceLoader) path(source string) *classpath.Path {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.paths[source]
	if !ok {
		p = classpath.NewPath(source)
		l.paths[source] = p
	}
	return p
}

// Close releases the jar files opened for sources.
func (l *sourceLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, p := range l.paths {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// sourceParser checks a type parsed for the source namespace against the
// super class and interfaces its classlist line declares by id.
type sourceParser struct {
	inner   sysdict.Parser
	list    *classlist.List
	sources *sourceLoader
}

// Parse implements sysdict.Parser.
func (p *sourceParser) Parse(ctx context.Context, req sysdict.ParseRequest) (*model.TypeDescriptor, error) {
	td, err := p.inner.Parse(ctx, req)
	if err != nil || !p.sources.isSource(req.Namespace) {
		return td, err
	}
	line := p.sources.line(td.Name)
	if line == nil {
		return td, nil
	}

	want := ""
	if s := p.list.ByID(line.SuperID); s != nil {
		want = s.Name
	}
	if td.SuperName != want {
		return nil, apperrors.Newf(apperrors.CodeLinkageError,
			"%s (line %d) declares super class %q, the class file names %q", td.Name, line.LineNo, want, td.SuperName)
	}

	declared := make([]string, 0, len(line.Interfaces))
	for _, id := range line.Interfaces {
		if itf := p.list.ByID(id); itf != nil {
			declared = append(declared, itf.Name)
		}
	}
	got := append([]string(nil), td.Interfaces...)
	sort.Strings(declared)
	sort.Strings(got)
	if strings.Join(declared, " ") != strings.Join(got, " ") {
		return nil, apperrors.Newf(apperrors.CodeLinkageError,
			"%s (line %d) declares interfaces [%s], the class file names [%s]",
			td.Name, line.LineNo, strings.Join(declared, " "), strings.Join(got, " "))
	}
	return td, nil
}
