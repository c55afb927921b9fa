// Package testutil provides fixtures for testing the registry: class
// files on disk, an in-memory loader and a parser that counts its calls.
package testutil

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/classreg/internal/classfile"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/sysdict"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// Class returns the header of a class named name.
func Class(name, super string, interfaces ...string) classfile.Info {
	return classfile.Info{Name: name, SuperName: super, Interfaces: interfaces}
}

// WriteClassDir writes each class under dir as name.class.
func WriteClassDir(t *testing.T, dir string, infos ...classfile.Info) {
	t.Helper()
	for _, info := range infos {
		path := filepath.Join(dir, filepath.FromSlash(info.Name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, classfile.Encode(&info), 0644); err != nil {
			t.Fatalf("failed to write class %s: %v", info.Name, err)
		}
	}
}

// WriteClassJar writes a jar at path holding the classes.
func WriteClassJar(t *testing.T, path string, infos ...classfile.Info) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create jar: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, info := range infos {
		w, err := zw.Create(info.Name + ".class")
		if err != nil {
			t.Fatalf("failed to add %s: %v", info.Name, err)
		}
		if _, err := w.Write(classfile.Encode(&info)); err != nil {
			t.Fatalf("failed to write %s: %v", info.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close jar: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close jar: %v", err)
	}
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// FileExists checks if a file exists.
func FileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

// MemoryLoader serves encoded classes per builtin kind and per custom
// namespace id.
type MemoryLoader struct {
	mu     sync.Mutex
	byKind map[model.LoaderKind]map[string][]byte
	byID   map[uint64]map[string][]byte
	calls  map[string]int
}

// NewMemoryLoader creates an empty loader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{
		byKind: make(map[model.LoaderKind]map[string][]byte),
		byID:   make(map[uint64]map[string][]byte),
		calls:  make(map[string]int),
	}
}

// Add makes the classes visible to the builtin namespace of kind.
func (l *MemoryLoader) Add(kind model.LoaderKind, infos ...classfile.Info) *MemoryLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	add(l.byKind, kind, infos)
	return l
}

// AddFor makes the classes visible to the custom namespace with id.
func (l *MemoryLoader) AddFor(id uint64, infos ...classfile.Info) *MemoryLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	add(l.byID, id, infos)
	return l
}

func add[K comparable](m map[K]map[string][]byte, k K, infos []classfile.Info) {
	if m[k] == nil {
		m[k] = make(map[string][]byte)
	}
	for _, info := range infos {
		m[k][info.Name] = classfile.Encode(&info)
	}
}

// Load implements sysdict.Loader.
func (l *MemoryLoader) Load(_ context.Context, name string, ns *namespace.Namespace) ([]byte, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[name]++
	classes := l.byID[ns.ID()]
	if ns.IsBuiltin() {
		classes = l.byKind[ns.Kind()]
	}
	data, ok := classes[name]
	if !ok {
		return nil, "", apperrors.Newf(apperrors.CodeNotFound, "class %s not found", name)
	}
	return data, "memory:" + ns.Name(), nil
}

// Calls returns how often name was requested.
func (l *MemoryLoader) Calls(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// CountingParser wraps a parser and counts parses per type name.
type CountingParser struct {
	Parser sysdict.Parser
	// Delay is slept before each parse to widen race windows.
	Delay time.Duration

	mu     sync.Mutex
	counts map[string]int
	total  int
}

// NewCountingParser wraps sysdict.ClassFileParser.
func NewCountingParser() *CountingParser {
	return &CountingParser{Parser: sysdict.ClassFileParser{}}
}

// Parse implements sysdict.Parser.
func (p *CountingParser) Parse(ctx context.Context, req sysdict.ParseRequest) (*model.TypeDescriptor, error) {
	if p.Delay > 0 {
		time.Sleep(p.Delay)
	}
	td, err := p.Parser.Parse(ctx, req)
	name := req.NameHint
	if name == "" && td != nil {
		name = td.Name
	}
	p.mu.Lock()
	if p.counts == nil {
		p.counts = make(map[string]int)
	}
	p.counts[name]++
	p.total++
	p.mu.Unlock()
	return td, err
}

// Count returns how often name was parsed.
func (p *CountingParser) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Total returns the number of parses.
func (p *CountingParser) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
