package sysdict

import (
	"context"

	"github.com/classreg/internal/archive"
	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
)

// restoreModules defines the archived modules and packages in the
// builtin namespaces. A module the namespace already has is kept. A
// module whose runtime version differs from the dumped one is defined at
// the runtime version, which hides its archived types.
func (d *Dictionary) restoreModules(x *archive.Index) error {
	a := x.Archive()
	mods := make([]*modules.Module, len(a.Modules))
	for i, rec := range a.Modules {
		ns := d.namespaces.Builtin(rec.LoaderKind)
		if ns == nil {
			continue
		}
		version := rec.Version
		if v, ok := d.cfg.ModuleVersions[rec.Name]; ok {
			if !modules.SameVersion(v, rec.Version) {
				d.logger.Warn("module %s was dumped at version %q but the runtime has %q; its archived types are not used",
					rec.Name, rec.Version, v)
			}
			version = v
		}
		name := d.symbols.Intern(rec.Name)
		m := ns.Modules().Lookup(name)
		if m == nil {
			var err error
			m, err = ns.Modules().Define(modules.ModuleDefinition{
				Name:            name,
				Version:         version,
				Location:        rec.Location,
				Open:            rec.Open,
				SharedPathIndex: rec.PathIndex,
			})
			if err != nil {
				name.DecRef()
				return err
			}
		}
		name.DecRef()
		mods[i] = m
	}
	for i, rec := range a.Modules {
		if mods[i] == nil {
			continue
		}
		for _, r := range rec.Reads {
			if mods[r] != nil {
				mods[i].AddRead(mods[r])
			}
		}
	}

	for _, rec := range a.Packages {
		ns := d.namespaces.Builtin(rec.LoaderKind)
		if ns == nil {
			continue
		}
		module := ns.UnnamedModule()
		if rec.ModuleIndex != archive.NoIndex && mods[rec.ModuleIndex] != nil {
			module = mods[rec.ModuleIndex]
		}
		name := d.symbols.Intern(rec.Name)
		pkg := ns.Packages().LookupOrCreate(name, module)
		name.DecRef()

		flags := int32(rec.ExportFlags)
		if flags&modules.ExportUnqualified != 0 {
			pkg.SetExported(nil)
			continue
		}
		if flags&modules.ExportAllUnnamed != 0 {
			pkg.SetExportedAllUnnamed()
		}
		for _, q := range rec.QualifiedExports {
			if mods[q] != nil {
				pkg.SetExported(mods[q])
			}
		}
	}
	d.logger.Info("restored %d modules and %d packages from archive", len(a.Modules), len(a.Packages))
	return nil
}

// LoadSharedType resolves name in ns from the archive only. It returns
// the existing binding if name is already resolved in ns, and nil when
// the archive has no usable record for it.
func (d *Dictionary) LoadSharedType(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	if ns == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "namespace is required")
	}
	td, err := d.resolve(ctx, name, ns, pd, func(ctx context.Context, name string, _ *symbol.Symbol,
		ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
		td, err := d.loadShared(ctx, name, ns, pd)
		if err == nil && td == nil {
			err = apperrors.Newf(apperrors.CodeNotFound, "%s is not archived for %s", name, ns)
		}
		return td, err
	})
	if apperrors.GetErrorCode(err) == apperrors.CodeNotFound {
		return nil, nil
	}
	return td, err
}

// loadShared defines the archived descriptor of name in ns if the record
// is visible to ns and its super types resolve to the archived ones. A
// rejected record yields nil so the caller falls back to parsing.
func (d *Dictionary) loadShared(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	x := d.archive
	if x == nil || !ns.IsBuiltin() {
		return nil, nil
	}
	td, rec := x.Lookup(name)
	if td == nil {
		return nil, nil
	}

	var pkg *modules.Package
	if pkgName := model.PackageOf(name); pkgName != "" {
		if sym, ok := d.symbols.Lookup(pkgName); ok {
			pkg = ns.Packages().Lookup(sym)
		}
	}
	if !x.IsVisible(rec, ns.Kind(), pkg) {
		return d.rejectShared(name, ns, "not visible")
	}

	if td.Super != nil {
		super, err := d.resolveSuper(ctx, name, td.SuperName, ns, pd, true)
		if err != nil {
			if apperrors.IsRecoverable(err) || apperrors.IsLinkageError(err) {
				return d.rejectShared(name, ns, "super class "+td.SuperName+" did not resolve")
			}
			return nil, err
		}
		if super != td.Super {
			return d.rejectShared(name, ns, "super class "+td.SuperName+" is not the archived one")
		}
	}
	for i, itf := range td.Interfaces {
		it, err := d.resolveSuper(ctx, name, itf, ns, pd, false)
		if err != nil {
			if apperrors.IsRecoverable(err) || apperrors.IsLinkageError(err) {
				return d.rejectShared(name, ns, "interface "+itf+" did not resolve")
			}
			return nil, err
		}
		if it != td.InterfaceTypes[i] {
			return d.rejectShared(name, ns, "interface "+itf+" is not the archived one")
		}
	}

	var result *model.TypeDescriptor
	var err error
	if ns.IsBoot() || ns.IsParallelCapable() {
		result, err = d.findOrDefine(ctx, td, ns)
	} else {
		result, err = d.defineInstance(td, ns)
	}
	if err != nil {
		return nil, err
	}
	if result == td {
		d.sharedLoads.Add(1)
		d.approveSharedDomain(td, ns)
	}
	return result, nil
}

// approveSharedDomain approves, on the binding of td in ns, the domain of
// the classpath entry td was dumped from. Code from that entry then sees
// the binding without a package access check. Boot types have no domain.
func (d *Dictionary) approveSharedDomain(td *model.TypeDescriptor, ns *namespace.Namespace) {
	if ns.IsBoot() || td.SharedPathIndex == model.NoSharedPathIndex {
		return
	}
	pd := d.archive.Paths().ProtectionDomain(td.SharedPathIndex, nil)
	if pd == nil {
		return
	}
	sym := d.symbols.Intern(td.Name)
	ns.Dictionary().ApprovePrincipalSet(sym, pd)
	sym.DecRef()
	d.ownDomain(pd, ns)
}

func (d *Dictionary) rejectShared(name string, ns *namespace.Namespace, reason string) (*model.TypeDescriptor, error) {
	d.archiveRejects.Add(1)
	d.logger.Debug("archived %s rejected for %s: %s", name, ns, reason)
	return nil, nil
}

// FindLambdaProxy defines the archived proxy generated for key in caller,
// an archived type bound in ns. Each proxy is handed out once; nil means
// there is none left to claim.
func (d *Dictionary) FindLambdaProxy(ctx context.Context, caller string, ns *namespace.Namespace, key string) (*model.TypeDescriptor, error) {
	if d.archive == nil || ns == nil {
		return nil, nil
	}
	callerType := d.FindInstanceType(caller, ns, nil)
	if callerType == nil || !callerType.Shared {
		return nil, nil
	}
	definer := d.namespaces.Lookup(callerType.LoaderID)
	if definer == nil {
		return nil, nil
	}
	proxy := d.archive.ClaimLambdaProxy(caller, key)
	if proxy == nil {
		return nil, nil
	}

	td, err := d.defineLambdaProxy(ctx, proxy, definer)
	if err != nil {
		d.archive.ReleaseLambdaProxy(caller, key, proxy)
		return nil, err
	}
	d.sharedLoads.Add(1)
	d.logger.Debug("claimed lambda proxy %s for %s", td.Name, caller)
	return td, nil
}

func (d *Dictionary) defineLambdaProxy(ctx context.Context, proxy *model.TypeDescriptor, definer *namespace.Namespace) (*model.TypeDescriptor, error) {
	super, err := d.resolveInstance(ctx, proxy.SuperName, definer, nil)
	if err != nil {
		return nil, err
	}
	proxy.Super = super
	return d.defineInstance(proxy, definer)
}
