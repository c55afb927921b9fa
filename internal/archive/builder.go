package archive

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/classreg/internal/modules"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/utils"
)

// BuilderOptions configures NewBuilder.
type BuilderOptions struct {
	RootModule string
	// PackageOf returns the runtime package of a type, or nil for the
	// unnamed package.
	PackageOf func(td *model.TypeDescriptor) *modules.Package
	Logger    utils.Logger
}

// Builder collects the records of an archive during a dump. Indices are
// assigned in insertion order and never change.
type Builder struct {
	mu        sync.Mutex
	logger    utils.Logger
	packageOf func(td *model.TypeDescriptor) *modules.Package

	rootModule string
	entries    []*PathEntry
	pathIndex  map[string]int

	types     []*TypeRecord
	typeIndex map[*model.TypeDescriptor]int
	typeNames map[string]int

	moduleRecs  []*ModuleRecord
	moduleIndex map[*modules.Module]int

	packageRecs  []*PackageRecord
	packageIndex map[*modules.Package]int

	lambdaProxies []*LambdaProxyRecord
	lambdaCount   map[int]int
	lambdaForms   []string
}

// NewBuilder creates an empty builder.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.PackageOf == nil {
		opts.PackageOf = func(*model.TypeDescriptor) *modules.Package { return nil }
	}
	return &Builder{
		logger:       utils.Component(opts.Logger, "archive"),
		packageOf:    opts.PackageOf,
		rootModule:   opts.RootModule,
		pathIndex:    make(map[string]int),
		typeIndex:    make(map[*model.TypeDescriptor]int),
		typeNames:    make(map[string]int),
		moduleIndex:  make(map[*modules.Module]int),
		packageIndex: make(map[*modules.Package]int),
		lambdaCount:  make(map[int]int),
	}
}

// AddPath records a classpath entry and returns its index. Adding the
// same path again returns the existing index.
func (b *Builder) AddPath(path string, fromModulePath bool) (int, error) {
	clean := filepath.Clean(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.pathIndex[clean]; ok {
		return i, nil
	}
	e, err := StatPath(len(b.entries), clean, fromModulePath)
	if err != nil {
		return NoIndex, err
	}
	b.entries = append(b.entries, e)
	b.pathIndex[clean] = e.Index
	b.logger.Debug("classpath entry %d: %s (%s)", e.Index, e.Path, e.Kind)
	return e.Index, nil
}

// PathIndex returns the index of path, or NoIndex.
func (b *Builder) PathIndex(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.pathIndex[filepath.Clean(path)]; ok {
		return i
	}
	return NoIndex
}

// AddModule records m and the modules it reads. Unnamed modules are not
// recorded and yield NoIndex.
func (b *Builder) AddModule(m *modules.Module) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addModuleLocked(m)
}

func (b *Builder) addModuleLocked(m *modules.Module) int {
	if m == nil || !m.IsNamed() {
		return NoIndex
	}
	if i, ok := b.moduleIndex[m]; ok {
		return i
	}
	i := len(b.moduleRecs)
	rec := &ModuleRecord{
		Name:      m.Name().String(),
		Version:   m.Version(),
		Location:  m.Location(),
		Open:      m.IsOpen(),
		PathIndex: m.SharedPathIndex(),
	}
	if m.Owner() != nil {
		rec.LoaderKind = m.Owner().Kind()
	}
	if rec.PathIndex >= len(b.entries) {
		rec.PathIndex = NoIndex
	}
	b.moduleRecs = append(b.moduleRecs, rec)
	b.moduleIndex[m] = i

	for _, r := range m.Reads() {
		if ri := b.addModuleLocked(r); ri != NoIndex {
			rec.Reads = append(rec.Reads, ri)
		}
	}
	return i
}

// AddPackage records p, its module and its export state.
func (b *Builder) AddPackage(p *modules.Package) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addPackageLocked(p)
}

func (b *Builder) addPackageLocked(p *modules.Package) int {
	if p == nil {
		return NoIndex
	}
	if i, ok := b.packageIndex[p]; ok {
		return i
	}
	rec := &PackageRecord{
		Name:        p.Name().String(),
		ModuleIndex: b.addModuleLocked(p.Module()),
	}
	if owner := p.Module().Owner(); owner != nil {
		rec.LoaderKind = owner.Kind()
	}
	if p.IsUnqualifiedExported() {
		rec.ExportFlags |= uint8(modules.ExportUnqualified)
	}
	if p.IsExportedAllUnnamed() {
		rec.ExportFlags |= uint8(modules.ExportAllUnnamed)
	}
	for _, q := range p.QualifiedExports() {
		if qi := b.addModuleLocked(q); qi != NoIndex {
			rec.QualifiedExports = append(rec.QualifiedExports, qi)
		}
	}
	i := len(b.packageRecs)
	b.packageRecs = append(b.packageRecs, rec)
	b.packageIndex[p] = i
	return i
}

// AddType records td after its super type and interfaces. Only builtin
// loader kinds can be archived.
func (b *Builder) AddType(td *model.TypeDescriptor) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addTypeLocked(td, 0)
}

// maxTypeDepth bounds super type chains followed while adding a type.
const maxTypeDepth = 1024

func (b *Builder) addTypeLocked(td *model.TypeDescriptor, depth int) (int, error) {
	if i, ok := b.typeIndex[td]; ok {
		return i, nil
	}
	if depth > maxTypeDepth {
		return NoIndex, apperrors.Newf(apperrors.CodeInvalidInput, "super type chain of %s is too deep", td.Name)
	}
	if !td.LoaderKind.IsBuiltin() {
		return NoIndex, apperrors.Newf(apperrors.CodeInvalidInput, "type %s of %s loader cannot be archived", td.Name, td.LoaderKind)
	}
	if i, ok := b.typeNames[td.Name]; ok {
		return NoIndex, apperrors.Newf(apperrors.CodeDuplicateDefinition,
			"type %s already archived for %s loader", td.Name, b.types[i].LoaderKind)
	}
	if td.SuperName != "" && td.Super == nil {
		return NoIndex, apperrors.Newf(apperrors.CodeInvalidInput, "super type %s of %s is not resolved", td.SuperName, td.Name)
	}

	rec := &TypeRecord{
		Name:         td.Name,
		SuperIndex:   NoIndex,
		LoaderKind:   td.LoaderKind,
		PathIndex:    td.SharedPathIndex,
		ModuleIndex:  NoIndex,
		PackageIndex: NoIndex,
		Digest:       td.Digest,
	}
	if td.Super != nil {
		si, err := b.addTypeLocked(td.Super, depth+1)
		if err != nil {
			return NoIndex, err
		}
		rec.SuperIndex = si
	}
	for _, itf := range td.InterfaceTypes {
		ii, err := b.addTypeLocked(itf, depth+1)
		if err != nil {
			return NoIndex, err
		}
		rec.Interfaces = append(rec.Interfaces, ii)
	}
	if rec.PathIndex == NoIndex && td.Source != "" {
		if pi, ok := b.pathIndex[filepath.Clean(td.Source)]; ok {
			rec.PathIndex = pi
		}
	}
	if rec.PathIndex >= len(b.entries) {
		rec.PathIndex = NoIndex
	}
	if pkg := b.packageOf(td); pkg != nil {
		rec.PackageIndex = b.addPackageLocked(pkg)
		rec.ModuleIndex = b.addModuleLocked(pkg.Module())
	}

	i := len(b.types)
	b.types = append(b.types, rec)
	b.typeIndex[td] = i
	b.typeNames[td.Name] = i
	return i, nil
}

// AddLambdaProxy records a generated proxy for a call site of caller,
// which must already be archived.
func (b *Builder) AddLambdaProxy(caller, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ci, ok := b.typeNames[caller]
	if !ok {
		return "", apperrors.Newf(apperrors.CodeNotFound, "lambda proxy caller %s is not archived", caller)
	}
	name := fmt.Sprintf("%s$$Lambda$%d", caller, b.lambdaCount[ci])
	b.lambdaCount[ci]++
	b.lambdaProxies = append(b.lambdaProxies, &LambdaProxyRecord{CallerIndex: ci, Key: key, ProxyName: name})
	return name, nil
}

// AddLambdaFormLine records a lambda-form invoker line verbatim.
func (b *Builder) AddLambdaFormLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lambdaForms = append(b.lambdaForms, line)
}

// Len returns the number of archived types.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.types)
}

// Build returns the archive. The builder must not be used afterwards.
func (b *Builder) Build() *Archive {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := &Archive{
		Header: Header{
			Version:    FormatVersion,
			CreatedAt:  time.Now().UTC(),
			RootModule: b.rootModule,
		},
		Entries:         b.entries,
		Types:           b.types,
		Modules:         b.moduleRecs,
		Packages:        b.packageRecs,
		LambdaProxies:   b.lambdaProxies,
		LambdaFormLines: b.lambdaForms,
	}
	b.logger.Info("archive built: %d types, %d modules, %d packages, %d classpath entries",
		len(a.Types), len(a.Modules), len(a.Packages), len(a.Entries))
	return a
}
