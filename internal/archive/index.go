package archive

import (
	"context"
	"sync/atomic"

	"github.com/classreg/internal/modules"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/utils"
)

// IndexOptions configures NewIndex.
type IndexOptions struct {
	// Roots receives the archived lambda proxies; nil uses HeapRoots.
	Roots Roots
	// LoaderIDs maps builtin loader kinds to the ids of the namespaces
	// that will define restored types.
	LoaderIDs map[model.LoaderKind]uint64
	Logger    utils.Logger
}

type lambdaKey struct {
	caller string
	key    string
}

// Index is the restore-time view of an archive. Every type record is
// materialized once as a shared descriptor; restored bindings use these
// exact descriptors.
type Index struct {
	archive *Archive
	paths   *PathTable
	roots   Roots
	logger  utils.Logger

	descriptors  []*model.TypeDescriptor
	byName       map[string]int
	byDescriptor map[*model.TypeDescriptor]int
	lambdaRoots  map[lambdaKey]int

	validated atomic.Bool
}

// NewIndex materializes a. Lambda proxies are published to the roots so
// each can be claimed once.
func NewIndex(a *Archive, opts IndexOptions) *Index {
	if opts.Roots == nil {
		opts.Roots = NewHeapRoots()
	}
	x := &Index{
		archive:      a,
		paths:        NewPathTable(a.Entries),
		roots:        opts.Roots,
		logger:       utils.Component(opts.Logger, "archive"),
		descriptors:  make([]*model.TypeDescriptor, len(a.Types)),
		byName:       make(map[string]int, len(a.Types)),
		byDescriptor: make(map[*model.TypeDescriptor]int, len(a.Types)),
		lambdaRoots:  make(map[lambdaKey]int, len(a.LambdaProxies)),
	}

	for i, rec := range a.Types {
		td := x.materialize(rec, opts.LoaderIDs)
		if rec.SuperIndex != NoIndex {
			td.SuperName = a.Types[rec.SuperIndex].Name
			td.Super = x.descriptors[rec.SuperIndex]
		}
		for _, itf := range rec.Interfaces {
			td.Interfaces = append(td.Interfaces, a.Types[itf].Name)
			td.InterfaceTypes = append(td.InterfaceTypes, x.descriptors[itf])
		}
		x.descriptors[i] = td
		x.byDescriptor[td] = i
		if _, dup := x.byName[rec.Name]; !dup {
			x.byName[rec.Name] = i
		}
	}

	for _, l := range a.LambdaProxies {
		caller := a.Types[l.CallerIndex]
		proxy := x.materialize(&TypeRecord{
			Name:         l.ProxyName,
			SuperIndex:   NoIndex,
			LoaderKind:   caller.LoaderKind,
			PathIndex:    caller.PathIndex,
			ModuleIndex:  caller.ModuleIndex,
			PackageIndex: caller.PackageIndex,
		}, opts.LoaderIDs)
		proxy.SuperName = model.ObjectTypeName
		x.lambdaRoots[lambdaKey{caller.Name, l.Key}] = x.roots.AppendRoot(proxy)
	}
	return x
}

func (x *Index) materialize(rec *TypeRecord, loaderIDs map[model.LoaderKind]uint64) *model.TypeDescriptor {
	td := &model.TypeDescriptor{
		Name:            rec.Name,
		LoaderID:        loaderIDs[rec.LoaderKind],
		LoaderKind:      rec.LoaderKind,
		SharedPathIndex: rec.PathIndex,
		Shared:          true,
		Digest:          rec.Digest,
	}
	if rec.PathIndex != NoIndex {
		td.Source = x.paths.URL(rec.PathIndex)
	}
	if m := x.archive.Module(rec.ModuleIndex); m != nil {
		td.ModuleName = m.Name
	}
	return td
}

// Archive returns the underlying archive.
func (x *Index) Archive() *Archive { return x.archive }

// Paths returns the classpath table.
func (x *Index) Paths() *PathTable { return x.paths }

// Len returns the number of archived types.
func (x *Index) Len() int { return len(x.descriptors) }

// Validate checks the runtime classpath against the archive. Lookups
// return nothing until it succeeds.
func (x *Index) Validate(ctx context.Context, opts ValidateOptions) error {
	if err := x.paths.Validate(ctx, opts); err != nil {
		x.logger.Warn("archive rejected: %v", err)
		return err
	}
	x.validated.Store(true)
	x.logger.Info("archive validated: %d types, %d classpath entries", len(x.descriptors), x.paths.Len())
	return nil
}

// IsValidated reports whether Validate succeeded.
func (x *Index) IsValidated() bool { return x.validated.Load() }

// Lookup returns the archived descriptor and record for name.
func (x *Index) Lookup(name string) (*model.TypeDescriptor, *TypeRecord) {
	if !x.validated.Load() {
		return nil, nil
	}
	i, ok := x.byName[name]
	if !ok {
		return nil, nil
	}
	return x.descriptors[i], x.archive.Types[i]
}

// Descriptor returns the descriptor of type record i, or nil.
func (x *Index) Descriptor(i int) *model.TypeDescriptor {
	if i < 0 || i >= len(x.descriptors) {
		return nil
	}
	return x.descriptors[i]
}

// Record returns the record td was materialized from.
func (x *Index) Record(td *model.TypeDescriptor) *TypeRecord {
	i, ok := x.byDescriptor[td]
	if !ok {
		return nil
	}
	return x.archive.Types[i]
}

// ClaimLambdaProxy returns the archived proxy for key of caller. A proxy
// is handed out once; later calls return nil.
func (x *Index) ClaimLambdaProxy(caller, key string) *model.TypeDescriptor {
	i, ok := x.lambdaRoots[lambdaKey{caller, key}]
	if !ok {
		return nil
	}
	td, _ := x.roots.GetRoot(i, true).(*model.TypeDescriptor)
	return td
}

// ReleaseLambdaProxy returns a proxy claimed by ClaimLambdaProxy whose
// definition failed, so a later call can claim it again.
func (x *Index) ReleaseLambdaProxy(caller, key string, proxy *model.TypeDescriptor) {
	if i, ok := x.lambdaRoots[lambdaKey{caller, key}]; ok && proxy != nil {
		x.roots.SetRoot(i, proxy)
	}
}

// IsVisible reports whether rec may be restored for a namespace of kind
// whose runtime package for the type is pkg.
func (x *Index) IsVisible(rec *TypeRecord, kind model.LoaderKind, pkg *modules.Package) bool {
	return IsVisible(x.archive, rec, kind, pkg)
}

// IsVisible reports whether rec may be restored for a namespace of kind.
// The namespace kind must match the dumped one. A type dumped in a named
// module needs its runtime package in a module of the same name and
// version loaded from the same classpath entry; a type dumped in an
// unnamed module must not now belong to a named one.
func IsVisible(a *Archive, rec *TypeRecord, kind model.LoaderKind, pkg *modules.Package) bool {
	if rec.LoaderKind != kind {
		return false
	}
	dumped := a.Module(rec.ModuleIndex)
	if dumped == nil {
		return pkg == nil || !pkg.Module().IsNamed()
	}
	if pkg == nil || !pkg.Module().IsNamed() {
		return false
	}
	m := pkg.Module()
	return m.Name().String() == dumped.Name &&
		m.SharedPathIndex() == dumped.PathIndex &&
		modules.SameVersion(m.Version(), dumped.Version)
}
