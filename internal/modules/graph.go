// Package modules implements the module/package visibility graph.
//
// Structural updates (read edges, export flags, table inserts) are
// serialized by the graph's module lock, which is distinct from the
// registry lock. Queries read copy-on-write snapshots and never take it.
package modules

import (
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"

	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/utils"
)

// DefaultRootModule is the module every module can read.
const DefaultRootModule = "java.base"

// Owner is the namespace that defines modules and packages.
type Owner interface {
	ID() uint64
	Kind() model.LoaderKind
	// IsAlive reports false once the namespace is being unloaded.
	IsAlive() bool
}

// Graph owns the module lock and the root module.
type Graph struct {
	mu       sync.Mutex
	rootName string
	root     atomic.Pointer[Module]
	logger   utils.Logger
}

// NewGraph creates a graph whose root module will be named rootName.
func NewGraph(rootName string, logger utils.Logger) *Graph {
	if rootName == "" {
		rootName = DefaultRootModule
	}
	return &Graph{
		rootName: rootName,
		logger:   utils.Component(logger, "modules"),
	}
}

// RootName returns the root module name.
func (g *Graph) RootName() string {
	return g.rootName
}

// Root returns the root module once it has been defined.
func (g *Graph) Root() *Module {
	return g.root.Load()
}

// NewUnnamedModule creates the unnamed module of owner. Unnamed modules
// are open and read every module.
func (g *Graph) NewUnnamedModule(owner Owner) *Module {
	m := &Module{
		graph:           g,
		owner:           owner,
		sharedPathIndex: model.NoSharedPathIndex,
	}
	m.open.Store(true)
	m.canReadAllUnnamed.Store(true)
	return m
}

func (g *Graph) lock() func() {
	g.mu.Lock()
	return g.mu.Unlock
}

// VerifyAccess checks that code in from may access types of pkg.
func (g *Graph) VerifyAccess(from *Module, pkg *Package) error {
	to := pkg.Module()
	if from == to {
		return nil
	}
	if !from.CanRead(to) {
		return apperrors.Newf(apperrors.CodeAccessError,
			"module %s does not read module %s", from, to)
	}
	if !pkg.IsExportedTo(from) {
		return apperrors.Newf(apperrors.CodeAccessError,
			"module %s does not export %s to module %s", to, pkg, from)
	}
	return nil
}

// SameVersion reports whether two module versions are equal. Versions
// that both parse as semantic versions are compared semantically
// ("1.0" equals "1.0.0"); otherwise the raw strings must match.
func SameVersion(a, b string) bool {
	if a == b {
		return true
	}
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	return va.Equal(vb)
}
