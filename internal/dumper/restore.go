package dumper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/classreg/internal/archive"
	"github.com/classreg/internal/classpath"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/placeholder"
	"github.com/classreg/internal/storage"
	"github.com/classreg/internal/sysdict"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/parallel"
	"github.com/classreg/pkg/telemetry"
)

// RestoreRequest selects the archive to attach.
type RestoreRequest struct {
	// ArchivePath defaults to the configured output path.
	ArchivePath string
	// StorageKey, when set, fetches the archive from the store into
	// ArchivePath first.
	StorageKey string
	// Preload resolves every archived type before returning.
	Preload bool
}

// Restored is a registry with an archive attached.
type Restored struct {
	Registry *sysdict.Dictionary
	Loader   *classpath.Loader
	// Index is nil when the archive was rejected.
	Index *archive.Index
	// Rejected explains why the archive was not attached.
	Rejected  error
	Preloaded int
	// PreloadMisses counts archived types that were resolved by parsing
	// or not at all.
	PreloadMisses int
}

// Close releases the classpath.
func (r *Restored) Close() error {
	return r.Loader.Close()
}

// Restore builds a registry from the configured classpath and attaches
// the archive when it matches. An archive that is unreadable or does not
// match the classpath is logged and left out; the registry then resolves
// everything from the classpath.
func (d *Dumper) Restore(ctx context.Context, req RestoreRequest) (*Restored, error) {
	path := req.ArchivePath
	if path == "" {
		path = d.cfg.Archive.OutputPath
	}
	if path == "" {
		return nil, apperrors.New(apperrors.CodeConfigError, "archive path is required")
	}

	ctx, span := telemetry.Start(ctx, scope, "dumper.Restore",
		attribute.String("archive", path),
		attribute.Bool("preload", req.Preload),
	)
	r, err := d.restore(ctx, path, req)
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("archive.attached", r.Index != nil))
	telemetry.End(span, nil)
	return r, nil
}

func (d *Dumper) restore(ctx context.Context, path string, req RestoreRequest) (*Restored, error) {
	if req.StorageKey != "" {
		if d.store == nil {
			return nil, apperrors.New(apperrors.CodeConfigError, "storage is not configured")
		}
		if err := storage.Fetch(ctx, d.store, req.StorageKey, path); err != nil {
			return nil, err
		}
		d.logger.Info("fetched archive %s to %s", req.StorageKey, path)
	}

	loader := classpath.NewLoader(LoaderOptions(&d.cfg.Classpath, d.logger))
	index, rejected, err := d.openIndex(ctx, path, loader)
	if err != nil {
		loader.Close()
		return nil, err
	}

	registry, err := sysdict.New(sysdict.Options{
		Config:  RegistryConfig(&d.cfg.Registry),
		Parser:  d.parser,
		Loader:  loader,
		Archive: index,
		Logger:  d.logger,
	})
	if err != nil {
		loader.Close()
		return nil, err
	}
	r := &Restored{Registry: registry, Loader: loader, Index: index, Rejected: rejected}

	if req.Preload && index != nil {
		if err := d.preload(ctx, r); err != nil {
			loader.Close()
			return nil, err
		}
	}
	return r, nil
}

// openIndex reads and validates the archive. ARCHIVE_INVALID is returned
// as the rejection, not as an error.
func (d *Dumper) openIndex(ctx context.Context, path string, loader *classpath.Loader) (*archive.Index, error, error) {
	a, err := archive.ReadFile(path)
	if err != nil {
		if apperrors.IsArchiveInvalid(err) {
			d.logger.Warn("archive %s not used: %v", path, err)
			return nil, err, nil
		}
		return nil, nil, err
	}
	if a.Header.RootModule != "" && a.Header.RootModule != d.cfg.Registry.RootModule {
		err := apperrors.Newf(apperrors.CodeArchiveInvalid,
			"archive was dumped with root module %s, registry uses %s", a.Header.RootModule, d.cfg.Registry.RootModule)
		d.logger.Warn("archive %s not used: %v", path, err)
		return nil, err, nil
	}

	index := archive.NewIndex(a, archive.IndexOptions{LoaderIDs: namespace.BuiltinIDs(), Logger: d.logger})
	err = index.Validate(ctx, archive.ValidateOptions{
		Classpath:       loader.Classpath(),
		CheckTimestamps: d.cfg.Archive.ValidateTimestamps,
		Workers:         d.cfg.Archive.PreloadWorkers,
	})
	if err != nil {
		if apperrors.IsArchiveInvalid(err) {
			d.logger.Warn("archive %s not used: %v", path, err)
			return nil, err, nil
		}
		return nil, nil, err
	}
	d.logger.Info("archive %s attached: %d types", path, index.Len())
	return index, nil, nil
}

// preload resolves every archived type in its namespace. Circularities
// and constraint violations abort; other failures are counted.
func (d *Dumper) preload(ctx context.Context, r *Restored) error {
	records := r.Index.Archive().Types
	graph := r.Registry.Namespaces()
	start := time.Now()

	tracker := parallel.NewProgressTracker(int64(len(records)), func(done, total int64) {
		d.logger.Debug("preloaded %d/%d archived types", done, total)
	}, time.Second)
	tracker.Start(ctx)
	defer tracker.Stop()

	var misses atomic.Int64
	var seq atomic.Uint64
	config := parallel.DefaultPoolConfig().WithWorkers(d.cfg.Archive.PreloadWorkers)
	processed, err := parallel.ForEach(ctx, records, config, func(ctx context.Context, rec *archive.TypeRecord) error {
		defer tracker.Increment()
		ns := graph.Builtin(rec.LoaderKind)
		if ns == nil {
			misses.Add(1)
			return nil
		}
		ctx = placeholder.WithThread(ctx, placeholder.NewThread(fmt.Sprintf("preload-%d", seq.Add(1))))
		td, err := r.Registry.ResolveOrFail(ctx, rec.Name, ns, nil)
		switch {
		case err == nil:
			if !td.Shared {
				misses.Add(1)
			}
			return nil
		case apperrors.IsCircularResolution(err), apperrors.IsConstraintViolation(err):
			return err
		default:
			d.logger.Warn("preload of %s failed: %v", rec.Name, err)
			misses.Add(1)
			return nil
		}
	})
	if err != nil {
		return err
	}
	r.PreloadMisses = int(misses.Load())
	r.Preloaded = int(processed) - r.PreloadMisses
	d.logger.Info("preloaded %d archived types in %v (%d misses)", r.Preloaded, time.Since(start), r.PreloadMisses)
	return nil
}
