package namespace

import (
	"sync"

	"github.com/classreg/internal/chtable"
	"github.com/classreg/internal/dictionary"
	"github.com/classreg/internal/modules"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/utils"
)

// TableConfig sizes the per-namespace dictionaries.
type TableConfig struct {
	BootSize    int
	DefaultSize int
	LoadFactor  int
	MaxSize     int
}

// DefaultTableConfig returns the stock dictionary sizes.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		BootSize:    1009,
		DefaultSize: 107,
		LoadFactor:  chtable.DefaultLoadFactor,
		MaxSize:     1600033,
	}
}

// TeardownFunc runs after unloading with the namespaces that died.
type TeardownFunc func(dead []*Namespace)

// Graph owns every namespace. The bootstrap, platform and app namespaces
// are created with the graph and never unloaded.
type Graph struct {
	mu       sync.Mutex
	nextID   uint64
	byID     map[uint64]*Namespace
	order    []*Namespace
	boot     *Namespace
	platform *Namespace
	app      *Namespace
	teardown []TeardownFunc

	tables  TableConfig
	modules *modules.Graph
	logger  utils.Logger
}

// NewGraph creates the graph with its builtin namespaces.
func NewGraph(tables TableConfig, mg *modules.Graph, logger utils.Logger) *Graph {
	g := &Graph{
		byID:    make(map[uint64]*Namespace),
		tables:  tables,
		modules: mg,
		logger:  utils.Component(logger, "namespace"),
	}
	g.boot = g.create("boot", model.LoaderKindBoot, Options{})
	g.platform = g.create("platform", model.LoaderKindPlatform, Options{ParallelCapable: true, Parent: g.boot})
	g.app = g.create("app", model.LoaderKindApp, Options{ParallelCapable: true, Parent: g.platform})
	return g
}

func (g *Graph) create(name string, kind model.LoaderKind, opts Options) *Namespace {
	size := g.tables.DefaultSize
	if kind == model.LoaderKindBoot {
		size = g.tables.BootSize
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ns := &Namespace{
		id:              g.nextID,
		name:            name,
		kind:            kind,
		parallelCapable: opts.ParallelCapable,
		externalLock:    opts.ExternalLock,
		parent:          opts.Parent,
	}
	if kind != model.LoaderKindBoot && ns.parent == nil {
		ns.parent = g.boot
	}
	g.nextID++
	ns.alive.Store(true)
	ns.dictionary = dictionary.New(chtable.Options{
		InitialSize: size,
		LoadFactor:  g.tables.LoadFactor,
		MaxBuckets:  g.tables.MaxSize,
	}, g.logger)
	ns.modules = g.modules.NewModuleTable(ns)
	ns.packages = g.modules.NewPackageTable()
	ns.unnamed = g.modules.NewUnnamedModule(ns)

	g.byID[ns.id] = ns
	g.order = append(g.order, ns)
	return ns
}

// Modules returns the module graph shared by all namespaces.
func (g *Graph) Modules() *modules.Graph { return g.modules }

// Boot returns the bootstrap namespace.
func (g *Graph) Boot() *Namespace { return g.boot }

// Platform returns the platform namespace.
func (g *Graph) Platform() *Namespace { return g.platform }

// App returns the application namespace.
func (g *Graph) App() *Namespace { return g.app }

// Builtin returns the builtin namespace of kind, or nil.
func (g *Graph) Builtin(kind model.LoaderKind) *Namespace {
	switch kind {
	case model.LoaderKindBoot:
		return g.boot
	case model.LoaderKindPlatform:
		return g.platform
	case model.LoaderKindApp:
		return g.app
	default:
		return nil
	}
}

// Register creates a user namespace. Builtin kinds cannot be registered
// again.
func (g *Graph) Register(name string, kind model.LoaderKind, opts Options) (*Namespace, error) {
	if kind.IsBuiltin() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"%s namespace is created with the graph", kind)
	}
	ns := g.create(name, kind, opts)
	g.logger.Debug("registered namespace %s parallel=%v", ns, opts.ParallelCapable)
	return ns, nil
}

// Lookup returns the live namespace with id, or nil.
func (g *Graph) Lookup(id uint64) *Namespace {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byID[id]
}

// Release records that the application no longer references ns. The
// namespace is unloaded by the next DoUnloading once nothing live
// depends on it.
func (g *Graph) Release(ns *Namespace) error {
	if ns.IsBuiltin() {
		return apperrors.Newf(apperrors.CodeInvalidInput, "cannot release builtin namespace %s", ns)
	}
	ns.released.Store(true)
	return nil
}

// RecordDependency records that from must keep to alive. Builtin targets
// are never unloaded and are not recorded.
func (g *Graph) RecordDependency(from, to *Namespace) {
	if from == nil || to == nil || from == to || to.IsBuiltin() {
		return
	}
	if from.addDependency(to) {
		g.logger.Debug("namespace %s depends on %s", from, to)
	}
}

// OnTeardown registers fn to run after each unloading pass that finds
// dead namespaces.
func (g *Graph) OnTeardown(fn TeardownFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.teardown = append(g.teardown, fn)
}

// DoUnloading marks every namespace that is neither held by the
// application nor reachable through dependency edges of a held one as
// dead, runs the teardown hooks, releases the dead namespaces' tables and
// returns them.
func (g *Graph) DoUnloading() []*Namespace {
	g.mu.Lock()
	reachable := make(map[*Namespace]bool, len(g.order))
	var stack []*Namespace
	for _, ns := range g.order {
		if !ns.IsReleased() {
			reachable[ns] = true
			stack = append(stack, ns)
		}
	}
	for len(stack) > 0 {
		ns := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range ns.Dependencies() {
			if !reachable[dep] {
				reachable[dep] = true
				stack = append(stack, dep)
			}
		}
	}

	var dead []*Namespace
	live := g.order[:0]
	for _, ns := range g.order {
		if reachable[ns] {
			live = append(live, ns)
			continue
		}
		ns.alive.Store(false)
		delete(g.byID, ns.id)
		dead = append(dead, ns)
	}
	g.order = live
	hooks := append([]TeardownFunc(nil), g.teardown...)
	g.mu.Unlock()

	if len(dead) == 0 {
		return nil
	}
	for _, fn := range hooks {
		fn(dead)
	}
	for _, ns := range dead {
		ns.release()
		g.logger.Info("unloaded namespace %s", ns)
	}
	return dead
}

// Each calls fn for every live namespace until fn returns false.
func (g *Graph) Each(fn func(*Namespace) bool) {
	g.mu.Lock()
	snapshot := append([]*Namespace(nil), g.order...)
	g.mu.Unlock()
	for _, ns := range snapshot {
		if !fn(ns) {
			return
		}
	}
}

// Len returns the number of live namespaces.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}
