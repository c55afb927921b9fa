package sysdict

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/placeholder"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
	"github.com/classreg/pkg/telemetry"
)

// Define parses data and defines the result in ns. nameHint, when set,
// must match the parsed name. A second definition of a name in ns is
// DUPLICATE_DEFINITION under the strict duplicate check; otherwise the
// first definition is returned.
func (d *Dictionary) Define(ctx context.Context, data []byte, nameHint string, ns *namespace.Namespace,
	pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	if ns == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "namespace is required")
	}
	if !ns.IsAlive() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "namespace %s is unloaded", ns)
	}
	if model.IsArrayName(nameHint) {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "array type %s cannot be defined", nameHint)
	}
	ctx, span := telemetry.Start(ctx, scope, "sysdict.Define",
		attribute.String("type.name", nameHint),
		attribute.String("namespace", ns.String()),
	)
	ctx, t := placeholder.EnsureThread(ctx)
	if lk := ns.ExternalLock(); lk != nil {
		lk.Enter(t)
		defer lk.Exit(t)
	}

	var source string
	if pd != nil {
		source = pd.CodeSource
	}
	td, err := d.defineFromBytes(ctx, data, nameHint, source, ns, pd)
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	if pd != nil {
		sym := d.symbols.Intern(td.Name)
		ns.Dictionary().ApprovePrincipalSet(sym, pd)
		sym.DecRef()
		d.ownDomain(pd, ns)
	}
	return td, nil
}

// ownDomain makes ns the owner of pd unless another namespace is.
func (d *Dictionary) ownDomain(pd *model.ProtectionDomain, ns *namespace.Namespace) {
	d.lock.Lock()
	if _, ok := d.domains[pd]; !ok {
		d.domains[pd] = ns
	}
	d.lock.Unlock()
}

func (d *Dictionary) defineFromBytes(ctx context.Context, data []byte, nameHint, source string,
	ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	td, err := d.parse(ctx, data, nameHint, source, ns, pd)
	if err != nil {
		return nil, err
	}
	if ns.IsBoot() || ns.IsParallelCapable() {
		return d.findOrDefine(ctx, td, ns)
	}
	return d.defineInstance(td, ns)
}

// parse runs the parser outside the lock and makes sure the result is
// linked to its super types.
func (d *Dictionary) parse(ctx context.Context, data []byte, nameHint, source string,
	ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	d.parses.Add(1)
	resolver := boundResolver{d: d, ns: ns, pd: pd}
	td, err := d.parser.Parse(ctx, ParseRequest{
		Bytes:     data,
		NameHint:  nameHint,
		Source:    source,
		Namespace: ns,
		Resolver:  resolver,
	})
	if err != nil {
		return nil, d.linkError(nameHint, err)
	}
	if td == nil || td.Name == "" {
		return nil, apperrors.Newf(apperrors.CodeParseError, "parser returned no type for %q", nameHint)
	}
	if nameHint != "" && td.Name != nameHint {
		return nil, apperrors.Newf(apperrors.CodeLinkageError, "%s (wrong name: %s)", nameHint, td.Name)
	}
	if td.SuperName == "" && td.Name != model.ObjectTypeName {
		return nil, apperrors.Newf(apperrors.CodeParseError, "%s has no super class", td.Name)
	}
	if td.Source == "" {
		td.Source = source
	}

	if td.SuperName != "" && td.Super == nil {
		if td.Super, err = resolver.ResolveSuper(ctx, td.Name, td.SuperName, true); err != nil {
			return nil, d.linkError(td.Name, err)
		}
	}
	if td.Super != nil && td.Super.Name != td.SuperName {
		return nil, apperrors.Newf(apperrors.CodeLinkageError,
			"%s names super class %s but was linked to %s", td.Name, td.SuperName, td.Super.Name)
	}
	if len(td.InterfaceTypes) == 0 && len(td.Interfaces) > 0 {
		for _, itf := range td.Interfaces {
			it, err := resolver.ResolveSuper(ctx, td.Name, itf, false)
			if err != nil {
				return nil, d.linkError(td.Name, err)
			}
			td.InterfaceTypes = append(td.InterfaceTypes, it)
		}
	}
	return td, nil
}

// linkError turns a missing super type into a linkage failure of the
// type being defined, so callers do not mistake it for the type itself
// being absent.
func (d *Dictionary) linkError(name string, err error) error {
	if apperrors.GetErrorCode(err) == apperrors.CodeNotFound {
		return apperrors.Newf(apperrors.CodeLinkageError, "linking %s: %s", name, apperrors.GetErrorMessage(err))
	}
	if apperrors.GetErrorCode(err) == apperrors.CodeUnknown {
		return apperrors.Wrap(apperrors.CodeParseError, "parsing "+name, err)
	}
	return err
}

// findOrDefine defines td in ns, letting concurrent definers of the same
// name wait for each other. With parallel define the first result is
// reused; otherwise later definers run into the duplicate check.
func (d *Dictionary) findOrDefine(ctx context.Context, td *model.TypeDescriptor, ns *namespace.Namespace) (*model.TypeDescriptor, error) {
	_, t := placeholder.EnsureThread(ctx)
	sym := d.symbols.Intern(td.Name)
	defer sym.DecRef()
	parallel := d.cfg.AllowParallelDefine && ns.IsParallelCapable()

	d.lock.Lock()
	if parallel {
		if check := ns.Dictionary().FindClass(sym); check != nil {
			d.lock.Unlock()
			return check, nil
		}
	}
	e := d.placeholders.FindAndAdd(sym, ns.ID(), placeholder.DefineClass, nil, t)
	for e.Definer() != nil {
		d.lock.Wait(t, ns.ExternalLock())
	}
	if parallel && e.Instance() != nil {
		winner := e.Instance()
		d.placeholders.FindAndRemove(sym, ns.ID(), placeholder.DefineClass, t)
		d.lock.NotifyAll()
		d.lock.Unlock()
		d.logger.Debug("%s reused parallel definition of %s", ns, sym)
		return winner, nil
	}
	e.SetDefiner(t)
	d.lock.Unlock()

	result, err := d.defineInstance(td, ns)

	d.lock.Lock()
	if err == nil {
		e.SetInstance(result)
	}
	e.SetDefiner(nil)
	d.placeholders.FindAndRemove(sym, ns.ID(), placeholder.DefineClass, t)
	d.lock.NotifyAll()
	d.lock.Unlock()
	return result, err
}

// defineInstance checks td against existing bindings and constraints
// and publishes it.
func (d *Dictionary) defineInstance(td *model.TypeDescriptor, ns *namespace.Namespace) (*model.TypeDescriptor, error) {
	sym := d.symbols.Intern(td.Name)
	defer sym.DecRef()

	if !td.Shared {
		td.LoaderID = ns.ID()
		td.LoaderKind = ns.Kind()
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if existing := ns.Dictionary().FindClass(sym); existing != nil {
		if existing == td {
			return existing, nil
		}
		if d.cfg.StrictDuplicateCheck {
			err := apperrors.Newf(apperrors.CodeDuplicateDefinition,
				"%s attempted duplicate definition of %s", ns, sym)
			d.logger.Warn("%v", err)
			return nil, err
		}
		d.logger.Debug("%s reuses the first definition of %s", ns, sym)
		return existing, nil
	}
	if err := d.constraints.CheckOrUpdate(td, ns, sym); err != nil {
		return nil, err
	}
	if err := d.updateDictionary(sym, td, ns); err != nil {
		return nil, err
	}
	d.definitions.Add(1)
	d.logger.Debug("defined %s in %s source=%s shared=%v", sym, ns, td.Source, td.Shared)
	return td, nil
}

// updateDictionary attaches td to its package and publishes the binding.
// Requires the lock.
func (d *Dictionary) updateDictionary(sym *symbol.Symbol, td *model.TypeDescriptor, ns *namespace.Namespace) error {
	module, err := d.moduleFor(td, ns)
	if err != nil {
		return err
	}
	if pkgName := td.PackageName(); pkgName != "" {
		pkgSym := d.symbols.Intern(pkgName)
		pkg := ns.Packages().LookupOrCreate(pkgSym, module)
		pkgSym.DecRef()
		if td.Shared {
			pkg.SetDefinedByArchive(td.SharedPathIndex)
		}
	}
	if _, err := ns.Dictionary().AddBinding(sym, td); err != nil {
		return err
	}
	ns.RecordDefined(td)
	return nil
}

// moduleFor returns the module td belongs to in ns, defining a named
// module the first time one of its types appears.
func (d *Dictionary) moduleFor(td *model.TypeDescriptor, ns *namespace.Namespace) (*modules.Module, error) {
	if td.ModuleName == "" {
		return ns.UnnamedModule(), nil
	}
	name := d.symbols.Intern(td.ModuleName)
	defer name.DecRef()
	if m := ns.Modules().Lookup(name); m != nil {
		return m, nil
	}
	m, err := ns.Modules().Define(modules.ModuleDefinition{
		Name:            name,
		Version:         d.cfg.ModuleVersions[td.ModuleName],
		Location:        td.Source,
		SharedPathIndex: model.NoSharedPathIndex,
	})
	if apperrors.IsDuplicateDefinition(err) {
		return ns.Modules().Lookup(name), nil
	}
	return m, err
}
