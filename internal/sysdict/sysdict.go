// Package sysdict is the registry facade. It resolves and defines types
// in namespaces, coordinating the per-namespace dictionaries, the table
// of in-flight resolutions, loader constraints, the module graph and an
// optional shared archive.
//
// Lookups of published bindings take no lock. Every change to a
// dictionary, the placeholder table or the constraint table happens under
// one registry lock, which is never held while calling the parser or the
// loader.
package sysdict

import (
	"sync"
	"sync/atomic"

	"github.com/classreg/internal/archive"
	"github.com/classreg/internal/constraints"
	"github.com/classreg/internal/dictionary"
	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/placeholder"
	"github.com/classreg/internal/resolution"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
	"github.com/classreg/pkg/utils"
)

const scope = "github.com/classreg/internal/sysdict"

// Config holds the registry settings.
type Config struct {
	Tables namespace.TableConfig
	// AllowParallelDefine lets parallel-capable namespaces load the same
	// name concurrently; the first definition wins and the others reuse it.
	AllowParallelDefine bool
	// StrictDuplicateCheck turns a second definition of a name in one
	// namespace into an error instead of returning the first.
	StrictDuplicateCheck bool
	RootModule           string
	// ModuleVersions gives the runtime version of builtin modules by name.
	// Archived types of a module dumped at another version are not restored.
	ModuleVersions map[string]string
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Tables:               namespace.DefaultTableConfig(),
		StrictDuplicateCheck: true,
		RootModule:           modules.DefaultRootModule,
	}
}

func (c Config) validate() error {
	t := c.Tables
	if t.BootSize <= 0 || t.DefaultSize <= 0 || t.LoadFactor <= 0 || t.MaxSize <= 0 {
		return apperrors.Newf(apperrors.CodeConfigError,
			"table sizes must be positive: boot=%d default=%d load_factor=%d max=%d",
			t.BootSize, t.DefaultSize, t.LoadFactor, t.MaxSize)
	}
	if t.MaxSize < t.BootSize || t.MaxSize < t.DefaultSize {
		return apperrors.Newf(apperrors.CodeConfigError,
			"max table size %d is below the initial sizes", t.MaxSize)
	}
	return nil
}

// Options configures New.
type Options struct {
	Config Config
	// Parser defaults to ClassFileParser.
	Parser Parser
	// Loader supplies bytes for names that are neither bound nor archived.
	// Without one every such name is NOT_FOUND.
	Loader Loader
	// Checker approves protection domains; nil approves everything.
	Checker dictionary.PackageAccessChecker
	// Archive is a validated archive index whose types may be restored.
	// Its loader ids must be namespace.BuiltinIDs().
	Archive *archive.Index
	Symbols *symbol.Table
	Logger  utils.Logger
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Namespaces     int   `json:"namespaces"`
	Bindings       int   `json:"bindings"`
	Placeholders   int   `json:"placeholders"`
	Constraints    int   `json:"constraints"`
	Symbols        int   `json:"symbols"`
	Parses         int64 `json:"parses"`
	Definitions    int64 `json:"definitions"`
	SharedLoads    int64 `json:"shared_loads"`
	ArchiveRejects int64 `json:"archive_rejects"`
	Waits          int64 `json:"waits"`
	Circularities  int64 `json:"circularities"`
	Arrays         int   `json:"arrays"`
	Resolution     int   `json:"resolution_errors"`
	Hidden         int64 `json:"hidden"`
}

// Dictionary is the registry facade. Create it with New; it is safe for
// concurrent use.
type Dictionary struct {
	cfg     Config
	parser  Parser
	loader  Loader
	checker dictionary.PackageAccessChecker
	logger  utils.Logger

	symbols    *symbol.Table
	namespaces *namespace.Graph
	archive    *archive.Index

	// lock guards placeholders, constraints, waiting and every dictionary
	// write.
	lock         *placeholder.Lock
	placeholders *placeholder.Table
	constraints  *constraints.Table
	waiting      map[*placeholder.Thread]placeholder.Key
	// domains maps each protection domain to the namespace that first
	// defined a type with it. Approvals of a domain end with its owner.
	domains map[*model.ProtectionDomain]*namespace.Namespace

	// arrays holds the array type of each component, keyed by arrayKey.
	arrays sync.Map
	// errors records failed symbolic references. Guarded by lock.
	errors    *resolution.Table
	hiddenSeq atomic.Uint64

	parses         atomic.Int64
	definitions    atomic.Int64
	sharedLoads    atomic.Int64
	archiveRejects atomic.Int64
	circularities  atomic.Int64
}

// New creates the registry with its builtin namespaces. When an archive
// is given its module and package records are restored first.
func New(opts Options) (*Dictionary, error) {
	cfg := opts.Config
	if cfg.Tables == (namespace.TableConfig{}) {
		cfg.Tables = namespace.DefaultTableConfig()
	}
	if cfg.RootModule == "" {
		cfg.RootModule = modules.DefaultRootModule
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	parser := opts.Parser
	if parser == nil {
		parser = ClassFileParser{}
	}
	symbols := opts.Symbols
	if symbols == nil {
		symbols = symbol.NewTable()
	}

	d := &Dictionary{
		cfg:          cfg,
		parser:       parser,
		loader:       opts.Loader,
		checker:      opts.Checker,
		logger:       utils.Component(opts.Logger, "sysdict"),
		symbols:      symbols,
		namespaces:   namespace.NewGraph(cfg.Tables, modules.NewGraph(cfg.RootModule, opts.Logger), opts.Logger),
		lock:         placeholder.NewLock(),
		placeholders: placeholder.NewTable(opts.Logger),
		constraints:  constraints.NewTable(opts.Logger),
		waiting:      make(map[*placeholder.Thread]placeholder.Key),
		domains:      make(map[*model.ProtectionDomain]*namespace.Namespace),
		errors:       resolution.NewTable(opts.Logger),
	}

	if opts.Archive != nil {
		if !opts.Archive.IsValidated() {
			return nil, apperrors.New(apperrors.CodeArchiveInvalid, "archive must be validated before it is attached")
		}
		if err := d.restoreModules(opts.Archive); err != nil {
			return nil, err
		}
		d.archive = opts.Archive
	}
	if d.namespaces.Modules().Root() == nil {
		root := symbols.Intern(cfg.RootModule)
		_, err := d.namespaces.Boot().Modules().Define(modules.ModuleDefinition{
			Name:            root,
			SharedPathIndex: model.NoSharedPathIndex,
		})
		root.DecRef()
		if err != nil {
			return nil, err
		}
	}
	d.namespaces.OnTeardown(d.teardown)

	d.logger.Info("registry ready: root module %s, parallel define %v, strict duplicates %v, archive %v",
		cfg.RootModule, cfg.AllowParallelDefine, cfg.StrictDuplicateCheck, d.archive != nil)
	return d, nil
}

// Config returns the settings in effect.
func (d *Dictionary) Config() Config { return d.cfg }

// Namespaces returns the namespace graph.
func (d *Dictionary) Namespaces() *namespace.Graph { return d.namespaces }

// Modules returns the module graph.
func (d *Dictionary) Modules() *modules.Graph { return d.namespaces.Modules() }

// Symbols returns the symbol table.
func (d *Dictionary) Symbols() *symbol.Table { return d.symbols }

// Archive returns the attached archive, or nil.
func (d *Dictionary) Archive() *archive.Index { return d.archive }

// FindInstanceType returns the type bound to name in ns if pd is approved
// for it. It takes no lock and never loads.
func (d *Dictionary) FindInstanceType(name string, ns *namespace.Namespace, pd *model.ProtectionDomain) *model.TypeDescriptor {
	sym, ok := d.symbols.Lookup(name)
	if !ok || ns == nil {
		return nil
	}
	return ns.Dictionary().Find(sym, pd)
}

// VerifyAccess checks that code in module from may access td: from must
// read the module of td's package and that package must be exported to
// from. It is ACCESS_ERROR otherwise.
func (d *Dictionary) VerifyAccess(from *modules.Module, td *model.TypeDescriptor) error {
	if from == nil || td == nil {
		return apperrors.New(apperrors.CodeInvalidInput, "module and type are required")
	}
	ns := d.namespaces.Lookup(td.LoaderID)
	if ns == nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "defining namespace of %s is unloaded", td.Name)
	}
	var pkg *modules.Package
	if sym, ok := d.symbols.Lookup(model.PackageOf(td.Name)); ok {
		pkg = ns.Packages().Lookup(sym)
	}
	if pkg == nil {
		if !from.CanRead(ns.UnnamedModule()) {
			return apperrors.Newf(apperrors.CodeAccessError,
				"module %s does not read the unnamed module of %s", from, ns)
		}
		return nil
	}
	return d.Modules().VerifyAccess(from, pkg)
}

// Stats returns current counters.
func (d *Dictionary) Stats() Stats {
	s := Stats{
		Symbols:        d.symbols.Len(),
		Parses:         d.parses.Load(),
		Definitions:    d.definitions.Load(),
		SharedLoads:    d.sharedLoads.Load(),
		ArchiveRejects: d.archiveRejects.Load(),
		Waits:          d.lock.Waits(),
		Circularities:  d.circularities.Load(),
		Hidden:         int64(d.hiddenSeq.Load()),
	}
	d.arrays.Range(func(_, _ any) bool {
		s.Arrays++
		return true
	})
	d.namespaces.Each(func(ns *namespace.Namespace) bool {
		s.Namespaces++
		s.Bindings += ns.Dictionary().Len()
		return true
	})
	d.lock.Lock()
	s.Placeholders = d.placeholders.Len()
	s.Constraints = d.constraints.Len()
	s.Resolution = d.errors.Len()
	d.lock.Unlock()
	return s
}
