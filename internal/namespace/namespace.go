// Package namespace models the delegation contexts types are resolved in
// and tracks which of them are still reachable.
package namespace

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/classreg/internal/dictionary"
	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/placeholder"
	"github.com/classreg/pkg/model"
)

// Identities of the builtin namespaces, fixed by creation order.
const (
	BootID     uint64 = 0
	PlatformID uint64 = 1
	AppID      uint64 = 2
)

// BuiltinIDs maps each builtin kind to its namespace identity.
func BuiltinIDs() map[model.LoaderKind]uint64 {
	return map[model.LoaderKind]uint64{
		model.LoaderKindBoot:     BootID,
		model.LoaderKindPlatform: PlatformID,
		model.LoaderKindApp:      AppID,
	}
}

// Options configures a registered namespace.
type Options struct {
	// ParallelCapable namespaces may resolve different names concurrently
	// and do not serialize loads of the same name through a marker.
	ParallelCapable bool
	// ExternalLock is the application-level lock a non-parallel-capable
	// namespace holds while resolving. It is released while waiting on
	// another thread's resolution.
	ExternalLock placeholder.ExternalLock
	// Parent is consulted before the namespace's own loader. Nil means the
	// bootstrap namespace, except for the bootstrap namespace itself.
	Parent *Namespace
}

// Namespace is one delegation context.
type Namespace struct {
	id              uint64
	name            string
	kind            model.LoaderKind
	parallelCapable bool
	externalLock    placeholder.ExternalLock
	parent          *Namespace

	dictionary *dictionary.Dictionary
	modules    *modules.ModuleTable
	packages   *modules.PackageTable
	unnamed    *modules.Module

	alive    atomic.Bool
	released atomic.Bool

	depMu        sync.Mutex
	dependencies []*Namespace

	// metaspaceMu serializes bookkeeping of types defined here so it does
	// not contend on the registry lock.
	metaspaceMu sync.Mutex
	defined     []*model.TypeDescriptor
}

// ID returns the namespace identity.
func (n *Namespace) ID() uint64 { return n.id }

// Name returns the namespace's display name.
func (n *Namespace) Name() string { return n.name }

// Kind returns the namespace kind.
func (n *Namespace) Kind() model.LoaderKind { return n.kind }

// IsBoot reports whether n is the bootstrap namespace.
func (n *Namespace) IsBoot() bool { return n.kind == model.LoaderKindBoot }

// IsBuiltin reports whether n is the boot, platform or app namespace.
func (n *Namespace) IsBuiltin() bool { return n.kind.IsBuiltin() }

// IsParallelCapable reports whether n resolves without load markers.
// The bootstrap namespace always uses markers.
func (n *Namespace) IsParallelCapable() bool { return n.parallelCapable && !n.IsBoot() }

// ExternalLock returns the application-level lock, or nil. Parallel-capable
// namespaces never use one.
func (n *Namespace) ExternalLock() placeholder.ExternalLock {
	if n.IsParallelCapable() {
		return nil
	}
	return n.externalLock
}

// Parent returns the namespace consulted first, or nil for the bootstrap
// namespace.
func (n *Namespace) Parent() *Namespace { return n.parent }

// IsAlive reports whether n has not been unloaded.
func (n *Namespace) IsAlive() bool { return n.alive.Load() }

// IsReleased reports whether the application dropped n.
func (n *Namespace) IsReleased() bool { return n.released.Load() }

// Dictionary returns the namespace's registry of resolved types.
func (n *Namespace) Dictionary() *dictionary.Dictionary { return n.dictionary }

// Modules returns the namespace's module table.
func (n *Namespace) Modules() *modules.ModuleTable { return n.modules }

// Packages returns the namespace's package table.
func (n *Namespace) Packages() *modules.PackageTable { return n.packages }

// UnnamedModule returns the namespace's unnamed module.
func (n *Namespace) UnnamedModule() *modules.Module { return n.unnamed }

// String returns "name(kind#id)".
func (n *Namespace) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s#%d)", n.name, n.kind, n.id)
}

// RecordDefined appends td to the list of types defined here.
func (n *Namespace) RecordDefined(td *model.TypeDescriptor) {
	n.metaspaceMu.Lock()
	n.defined = append(n.defined, td)
	n.metaspaceMu.Unlock()
}

// Defined returns a snapshot of the types defined here.
func (n *Namespace) Defined() []*model.TypeDescriptor {
	n.metaspaceMu.Lock()
	defer n.metaspaceMu.Unlock()
	out := make([]*model.TypeDescriptor, len(n.defined))
	copy(out, n.defined)
	return out
}

// Dependencies returns a snapshot of the namespaces n keeps alive.
func (n *Namespace) Dependencies() []*Namespace {
	n.depMu.Lock()
	defer n.depMu.Unlock()
	out := make([]*Namespace, len(n.dependencies))
	copy(out, n.dependencies)
	return out
}

func (n *Namespace) addDependency(to *Namespace) bool {
	n.depMu.Lock()
	defer n.depMu.Unlock()
	for _, d := range n.dependencies {
		if d == to {
			return false
		}
	}
	n.dependencies = append(n.dependencies, to)
	return true
}

func (n *Namespace) release() {
	n.dictionary.Release()
	n.modules.Release()
	n.packages.Release()
	n.metaspaceMu.Lock()
	n.defined = nil
	n.metaspaceMu.Unlock()
}
