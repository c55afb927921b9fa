// Package dumper drives a dump run: it resolves every type a classlist
// names, writes the resolved graph as an archive, publishes the file and
// records it in the catalog. Restore attaches such an archive to a fresh
// registry.
package dumper

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/classreg/internal/archive"
	"github.com/classreg/internal/classlist"
	"github.com/classreg/internal/classpath"
	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/repository"
	"github.com/classreg/internal/storage"
	"github.com/classreg/internal/sysdict"
	"github.com/classreg/pkg/compression"
	"github.com/classreg/pkg/config"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/filter"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/telemetry"
	"github.com/classreg/pkg/utils"
)

const scope = "github.com/classreg/internal/dumper"

// SourceNamespace names the namespace that defines classlist types
// loaded from an explicit source.
const SourceNamespace = "classlist-source"

// Options configures New.
type Options struct {
	Config *config.Config
	// Store receives the archive file; nil skips publication.
	Store storage.Store
	// Catalog records the dump; nil skips it.
	Catalog repository.CatalogRepository
	// Parser defaults to sysdict.ClassFileParser.
	Parser sysdict.Parser
	Logger utils.Logger
}

// Dumper runs dumps and restores for one configuration.
type Dumper struct {
	cfg     *config.Config
	store   storage.Store
	catalog repository.CatalogRepository
	parser  sysdict.Parser
	exclude *filter.TypeFilter
	logger  utils.Logger
}

// New creates a dumper.
func New(opts Options) (*Dumper, error) {
	if opts.Config == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is required")
	}
	parser := opts.Parser
	if parser == nil {
		parser = sysdict.ClassFileParser{}
	}
	exclude := filter.NewWithRules(filter.Rules{})
	if opts.Config.Archive.ExcludeGenerated {
		exclude = filter.New()
	}
	exclude.AddPrefixes(opts.Config.Archive.ExcludePrefixes)
	return &Dumper{
		cfg:     opts.Config,
		store:   opts.Store,
		catalog: opts.Catalog,
		parser:  parser,
		exclude: exclude,
		logger:  utils.Component(opts.Logger, "dumper"),
	}, nil
}

// RegistryConfig maps the registry section of the configuration.
func RegistryConfig(cfg *config.RegistryConfig) sysdict.Config {
	// Entries were checked when the configuration was loaded.
	versions, _ := cfg.ModuleVersionMap()
	return sysdict.Config{
		Tables: namespace.TableConfig{
			BootSize:    cfg.BootTableSize,
			DefaultSize: cfg.DefaultTableSize,
			LoadFactor:  cfg.ResizeLoadFactor,
			MaxSize:     cfg.MaxTableSize,
		},
		AllowParallelDefine:  cfg.AllowParallelDefine,
		StrictDuplicateCheck: cfg.StrictDuplicateCheck,
		RootModule:           cfg.RootModule,
		ModuleVersions:       versions,
	}
}

// LoaderOptions maps the classpath section of the configuration.
func LoaderOptions(cfg *config.ClasspathConfig, logger utils.Logger) classpath.Options {
	return classpath.Options{
		Boot:      cfg.Boot,
		Platform:  cfg.Platform,
		App:       cfg.App,
		Bootstrap: cfg.Bootstrap,
		Logger:    logger,
	}
}

// DumpRequest names one dump run.
type DumpRequest struct {
	// Snapshot names the catalog row and the storage key; it defaults to
	// the output file name without its extension.
	Snapshot string
}

// DumpResult summarizes a dump run.
type DumpResult struct {
	Snapshot   string        `json:"snapshot"`
	OutputPath string        `json:"output_path"`
	Archive    archive.Stats `json:"archive"`
	Registry   sysdict.Stats `json:"registry"`
	// Loaded counts classlist lines that resolved.
	Loaded int `json:"loaded"`
	// Skipped counts lines that did not resolve and were left out.
	Skipped int `json:"skipped"`
	// Unregistered counts types defined from an explicit source. They
	// are resolved but not archived.
	Unregistered int `json:"unregistered"`
	// Excluded counts resolved types left out of the archive.
	Excluded   int           `json:"excluded"`
	StorageKey string        `json:"storage_key,omitempty"`
	StorageURL string        `json:"storage_url,omitempty"`
	SnapshotID int64         `json:"snapshot_id,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Dump resolves the configured classlist and writes the archive.
func (d *Dumper) Dump(ctx context.Context, req DumpRequest) (*DumpResult, error) {
	if err := d.cfg.ValidateForDump(); err != nil {
		return nil, err
	}
	start := time.Now()
	out := d.cfg.Archive.OutputPath
	snapshot := req.Snapshot
	if snapshot == "" {
		snapshot = strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))
	}

	ctx, span := telemetry.Start(ctx, scope, "dumper.Dump",
		attribute.String("classlist", d.cfg.Archive.ClasslistPath),
		attribute.String("snapshot", snapshot),
	)
	result, err := d.dump(ctx, snapshot)
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("archive.types", result.Archive.Types))
	telemetry.End(span, nil)
	d.logger.Info("dump %s finished in %v: %d types, %d loaded, %d skipped, %d unregistered, %d excluded",
		snapshot, result.Duration, result.Archive.Types, result.Loaded, result.Skipped, result.Unregistered, result.Excluded)
	return result, nil
}

func (d *Dumper) dump(ctx context.Context, snapshot string) (*DumpResult, error) {
	cfg := d.cfg
	list, err := classlist.ParseFile(cfg.Archive.ClasslistPath)
	if err != nil {
		return nil, err
	}
	d.logger.Info("classlist %s: %d types, %d lambda proxies, %d lambda forms",
		cfg.Archive.ClasslistPath, len(list.Lines), len(list.LambdaProxies), len(list.LambdaFormInvokers))

	codecType, err := compression.ParseType(cfg.Archive.Compression)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid archive compression", err)
	}

	loader := classpath.NewLoader(LoaderOptions(&cfg.Classpath, d.logger))
	defer loader.Close()

	sources := newSourceLoader(loader, list)
	registry, err := sysdict.New(sysdict.Options{
		Config: RegistryConfig(&cfg.Registry),
		Parser: &sourceParser{inner: d.parser, list: list, sources: sources},
		Loader: sources,
		Logger: d.logger,
	})
	if err != nil {
		return nil, err
	}
	graph := registry.Namespaces()
	sourceNS, err := graph.Register(SourceNamespace, model.LoaderKindCustom, namespace.Options{Parent: graph.App()})
	if err != nil {
		return nil, err
	}
	sources.bind(sourceNS)
	defer sources.Close()

	result := &DumpResult{Snapshot: snapshot, OutputPath: cfg.Archive.OutputPath}
	if err := d.resolveAll(ctx, registry, list, sourceNS, result); err != nil {
		return nil, err
	}

	a, err := d.build(registry, loader, list, result)
	if err != nil {
		return nil, err
	}

	codec, err := compression.New(codecType)
	if err != nil {
		return nil, err
	}
	defer codec.Close()
	if err := archive.WriteFile(cfg.Archive.OutputPath, a, codec); err != nil {
		return nil, err
	}
	result.Archive = a.Stats()
	result.Registry = registry.Stats()
	d.logger.Info("archive written to %s (%s)", cfg.Archive.OutputPath, codecType)

	if d.store != nil {
		key := storage.ArchiveKey(cfg.Archive.StorageKeyPrefix, snapshot, cfg.Archive.OutputPath)
		url, err := storage.Publish(ctx, d.store, key, cfg.Archive.OutputPath)
		if err != nil {
			return nil, err
		}
		result.StorageKey = key
		result.StorageURL = url
		d.logger.Info("archive published as %s", key)
	}

	if d.catalog != nil {
		snap := &repository.Snapshot{
			Name:          snapshot,
			ArchivePath:   cfg.Archive.OutputPath,
			StorageKey:    result.StorageKey,
			StorageURL:    result.StorageURL,
			Compression:   codecType.String(),
			RootModule:    a.Header.RootModule,
			FormatVersion: int(a.Header.Version),
			Types:         result.Archive.Types,
			Modules:       result.Archive.Modules,
			Packages:      result.Archive.Packages,
			Entries:       result.Archive.Entries,
			LambdaProxies: result.Archive.LambdaProxies,
			CreatedAt:     a.Header.CreatedAt,
		}
		types, paths := CatalogRows(a)
		if err := d.catalog.SaveSnapshot(ctx, snap, types, paths); err != nil {
			return nil, err
		}
		result.SnapshotID = snap.ID
		d.logger.Info("snapshot %s recorded with id %d", snapshot, snap.ID)
	}
	return result, nil
}

// resolveAll resolves the classlist in order. Source lines are defined
// in the source namespace and must resolve; the rest go through the app
// namespace and are skipped when missing or malformed.
func (d *Dumper) resolveAll(ctx context.Context, registry *sysdict.Dictionary, list *classlist.List,
	sourceNS *namespace.Namespace, result *DumpResult) error {
	app := registry.Namespaces().App()
	for _, line := range list.Lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line.HasSource() {
			td, err := registry.ResolveOrFail(ctx, line.Name, sourceNS, nil)
			if err != nil {
				return apperrors.Wrap(apperrors.GetErrorCode(err),
					fmt.Sprintf("classlist line %d: failed to load %s from %s", line.LineNo, line.Name, line.Source), err)
			}
			if td.LoaderID == sourceNS.ID() {
				result.Unregistered++
			} else {
				d.logger.Warn("%s from %s resolved to the %s definition", line.Name, line.Source, td.LoaderKind)
			}
			result.Loaded++
			continue
		}

		_, err := registry.ResolveOrFail(ctx, line.Name, app, nil)
		switch {
		case err == nil:
			result.Loaded++
		case apperrors.IsCircularResolution(err), apperrors.IsConstraintViolation(err):
			return apperrors.Wrap(apperrors.GetErrorCode(err),
				fmt.Sprintf("classlist line %d: %s", line.LineNo, line.Name), err)
		case apperrors.IsRecoverable(err), apperrors.IsLinkageError(err),
			apperrors.GetErrorCode(err) == apperrors.CodeParseError,
			apperrors.GetErrorCode(err) == apperrors.CodeInvalidInput:
			d.logger.Warn("skipping %s (line %d): %v", line.Name, line.LineNo, err)
			result.Skipped++
		default:
			return err
		}
	}
	return nil
}

// build records the classpath and every type the builtin namespaces
// defined, except the ones the exclusion filter matches.
func (d *Dumper) build(registry *sysdict.Dictionary, loader *classpath.Loader, list *classlist.List,
	result *DumpResult) (*archive.Archive, error) {
	graph := registry.Namespaces()
	symbols := registry.Symbols()
	b := archive.NewBuilder(archive.BuilderOptions{
		RootModule: registry.Config().RootModule,
		PackageOf: func(td *model.TypeDescriptor) *modules.Package {
			ns := graph.Lookup(td.LoaderID)
			name := td.PackageName()
			if ns == nil || name == "" {
				return nil
			}
			sym, ok := symbols.Lookup(name)
			if !ok {
				return nil
			}
			return ns.Packages().Lookup(sym)
		},
		Logger: d.logger,
	})

	for _, entry := range loader.Classpath() {
		if _, err := b.AddPath(entry, false); err != nil {
			return nil, err
		}
	}
	for _, kind := range []model.LoaderKind{model.LoaderKindBoot, model.LoaderKindPlatform, model.LoaderKindApp} {
		for _, td := range graph.Builtin(kind).Defined() {
			if reason, culprit := d.exclude.Check(td); reason != filter.ReasonNone {
				d.logger.Debug("excluding %s (%s match on %s)", td.Name, reason, culprit)
				result.Excluded++
				continue
			}
			if _, err := b.AddType(td); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range list.LambdaProxies {
		name, err := b.AddLambdaProxy(p.Caller, p.Key())
		if err != nil {
			d.logger.Warn("skipping lambda proxy of %s (line %d): %v", p.Caller, p.LineNo, err)
			continue
		}
		d.logger.Debug("lambda proxy %s for %s", name, p.Key())
	}
	for _, line := range list.LambdaFormInvokers {
		b.AddLambdaFormLine(line)
	}
	return b.Build(), nil
}

// CatalogRows flattens a into catalog rows. Lambda proxies are listed as
// types of their caller's loader.
func CatalogRows(a *archive.Archive) ([]repository.TypeEntry, []repository.PathEntry) {
	types := make([]repository.TypeEntry, 0, len(a.Types)+len(a.LambdaProxies))
	for _, rec := range a.Types {
		e := repository.TypeEntry{
			Name:       rec.Name,
			SuperName:  a.SuperName(rec),
			LoaderKind: rec.LoaderKind.String(),
			PathIndex:  rec.PathIndex,
			Digest:     rec.Digest,
		}
		if m := a.Module(rec.ModuleIndex); m != nil {
			e.Module = m.Name
		}
		if p := a.Package(rec.PackageIndex); p != nil {
			e.Package = p.Name
		}
		types = append(types, e)
	}
	for _, l := range a.LambdaProxies {
		caller := a.Types[l.CallerIndex]
		types = append(types, repository.TypeEntry{
			Name:        l.ProxyName,
			SuperName:   model.ObjectTypeName,
			LoaderKind:  caller.LoaderKind.String(),
			PathIndex:   caller.PathIndex,
			Package:     model.PackageOf(l.ProxyName),
			LambdaProxy: true,
		})
	}

	paths := make([]repository.PathEntry, 0, len(a.Entries))
	for _, e := range a.Entries {
		paths = append(paths, repository.PathEntry{
			Index:   e.Index,
			Path:    e.Path,
			Kind:    e.Kind.String(),
			Size:    e.Size,
			ModTime: e.ModTime,
		})
	}
	return types, paths
}
