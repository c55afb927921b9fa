package sysdict

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/placeholder"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
	"github.com/classreg/pkg/telemetry"
)

// ResolveOrNull resolves name in ns. A name that no strategy can find
// yields nil without an error; every other failure is returned.
func (d *Dictionary) ResolveOrNull(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	td, err := d.ResolveOrFail(ctx, name, ns, pd)
	if apperrors.GetErrorCode(err) == apperrors.CodeNotFound {
		return nil, nil
	}
	return td, err
}

// ResolveOrFail resolves name in ns, loading and defining it if needed.
// A name that cannot be found is NOT_FOUND.
func (d *Dictionary) ResolveOrFail(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	ctx, span := telemetry.Start(ctx, scope, "sysdict.Resolve",
		attribute.String("type.name", name),
		attribute.String("namespace", ns.String()),
	)
	td, err := d.resolveName(ctx, name, ns, pd)
	if err == nil {
		span.SetAttributes(attribute.Bool("type.shared", td.Shared))
	}
	telemetry.End(span, err)
	if err != nil {
		if apperrors.GetErrorCode(err) == apperrors.CodeNotFound {
			return nil, apperrors.Wrap(apperrors.CodeNotFound,
				fmt.Sprintf("no definition of %s visible from %s", name, ns), err)
		}
		return nil, err
	}
	return td, nil
}

// ResolveSuper resolves superName as the super class (or an interface
// when isSuperclass is false) of childName, which is being defined in ns.
// A child that is already being resolved as a super type on the same
// thread is CIRCULAR_RESOLUTION.
func (d *Dictionary) ResolveSuper(ctx context.Context, childName, superName string, ns *namespace.Namespace,
	pd *model.ProtectionDomain, isSuperclass bool) (*model.TypeDescriptor, error) {
	if ns == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "namespace is required")
	}
	return d.resolveSuper(ctx, childName, superName, ns, pd, isSuperclass)
}

func (d *Dictionary) resolveSuper(ctx context.Context, childName, superName string, ns *namespace.Namespace,
	pd *model.ProtectionDomain, isSuperclass bool) (*model.TypeDescriptor, error) {
	ctx, t := placeholder.EnsureThread(ctx)
	if childName == superName {
		return nil, d.circularity(childName, ns)
	}

	child := d.symbols.Intern(childName)
	defer child.DecRef()

	super := d.symbols.Intern(superName)
	defer super.DecRef()

	// A re-resolution of an already defined child takes its linked super.
	if isSuperclass {
		if td := ns.Dictionary().FindClass(child); td != nil && td.Super != nil && td.Super.Name == superName {
			return d.validate(ctx, super, td.Super, ns, pd)
		}
	}

	d.lock.Lock()
	if d.placeholders.CheckSeenThread(child, ns.ID(), placeholder.LoadSuper, t) {
		d.lock.Unlock()
		return nil, d.circularity(childName, ns)
	}
	d.placeholders.FindAndAdd(child, ns.ID(), placeholder.LoadSuper, super, t)
	d.lock.Unlock()

	td, err := d.resolveInstance(ctx, superName, ns, pd)

	d.lock.Lock()
	d.placeholders.FindAndRemove(child, ns.ID(), placeholder.LoadSuper, t)
	d.lock.NotifyAll()
	d.lock.Unlock()

	if err != nil {
		return nil, err
	}
	return td, nil
}

// usesLoadMarker reports whether resolutions in ns serialize per name.
// Only parallel-capable namespaces with parallel define enabled load the
// same name concurrently.
func (d *Dictionary) usesLoadMarker(ns *namespace.Namespace) bool {
	return !(d.cfg.AllowParallelDefine && ns.IsParallelCapable())
}

// loadFunc produces a definition for a name that is not bound yet.
type loadFunc func(ctx context.Context, name string, sym *symbol.Symbol, ns *namespace.Namespace,
	pd *model.ProtectionDomain) (*model.TypeDescriptor, error)

// resolveName resolves an instance or array type name. An instance name
// may be given in its descriptor form "Lp/C;".
func (d *Dictionary) resolveName(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	if model.IsArrayName(name) {
		if ns == nil {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "namespace is required")
		}
		return d.resolveArray(ctx, name, ns, pd)
	}
	return d.resolveInstance(ctx, model.StripEnvelope(name), ns, pd)
}

func (d *Dictionary) resolveInstance(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	return d.resolve(ctx, name, ns, pd, d.loadInstance)
}

// resolve returns the binding of name in ns, running load under the
// namespace's locking rules when there is none.
func (d *Dictionary) resolve(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain,
	load loadFunc) (*model.TypeDescriptor, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "type name is required")
	}
	if ns == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "namespace is required")
	}
	if !ns.IsAlive() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "namespace %s is unloaded", ns)
	}
	ctx, t := placeholder.EnsureThread(ctx)

	sym := d.symbols.Intern(name)
	defer sym.DecRef()

	dict := ns.Dictionary()
	if td := dict.Find(sym, pd); td != nil {
		return td, nil
	}

	if lk := ns.ExternalLock(); lk != nil {
		lk.Enter(t)
		defer lk.Exit(t)
	}

	marker := d.usesLoadMarker(ns)
	d.lock.Lock()
	td, err := d.awaitInstance(t, sym, ns, marker)
	if err != nil || td != nil {
		d.lock.Unlock()
		if err != nil {
			return nil, err
		}
		return d.validate(ctx, sym, td, ns, pd)
	}
	if marker {
		d.placeholders.FindAndAdd(sym, ns.ID(), placeholder.LoadInstance, nil, t)
	}
	d.lock.Unlock()

	td, err = load(ctx, name, sym, ns, pd)

	if marker {
		d.lock.Lock()
		d.placeholders.FindAndRemove(sym, ns.ID(), placeholder.LoadInstance, t)
		d.lock.NotifyAll()
		d.lock.Unlock()
	}
	if err != nil {
		return nil, err
	}
	return d.validate(ctx, sym, td, ns, pd)
}

// awaitInstance waits until no other thread is working on (sym, ns) and
// returns the binding if one appeared meanwhile. Re-entering a resolution
// this thread already takes part in is circular. Requires the lock.
func (d *Dictionary) awaitInstance(t *placeholder.Thread, sym *symbol.Symbol, ns *namespace.Namespace, marker bool) (*model.TypeDescriptor, error) {
	for {
		if td := ns.Dictionary().FindClass(sym); td != nil {
			return td, nil
		}
		e := d.placeholders.Get(sym, ns.ID())
		if e == nil {
			return nil, nil
		}
		if e.HasSeenThread(t, placeholder.LoadInstance) || e.HasSeenThread(t, placeholder.LoadSuper) {
			return nil, d.circularity(sym.String(), ns)
		}
		if !marker {
			return nil, nil
		}
		if d.waitsOn(t, e) {
			return nil, d.circularity(sym.String(), ns)
		}
		d.waiting[t] = placeholder.Key{Name: sym, NamespaceID: ns.ID()}
		d.lock.Wait(t, ns.ExternalLock())
		delete(d.waiting, t)
	}
}

// waitsOn reports whether an owner of e is, directly or through other
// waiting threads, waiting on something t owns. Requires the lock.
func (d *Dictionary) waitsOn(t *placeholder.Thread, e *placeholder.Entry) bool {
	visited := make(map[*placeholder.Thread]bool)
	stack := e.Owners()
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if o == t {
			return true
		}
		if visited[o] {
			continue
		}
		visited[o] = true
		if k, ok := d.waiting[o]; ok {
			if next := d.placeholders.Get(k.Name, k.NamespaceID); next != nil {
				stack = append(stack, next.Owners()...)
			}
		}
	}
	return false
}

// loadInstance finds a definition for name: the archive for builtin
// namespaces, then the parent, then the namespace's own loader.
func (d *Dictionary) loadInstance(ctx context.Context, name string, sym *symbol.Symbol, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	if ns.IsBuiltin() {
		td, err := d.loadShared(ctx, name, ns, pd)
		if err != nil || td != nil {
			return td, err
		}
	}

	if parent := ns.Parent(); parent != nil {
		td, err := d.resolveInstance(ctx, name, parent, nil)
		if err == nil {
			return d.recordInitiating(sym, td, ns)
		}
		if apperrors.GetErrorCode(err) != apperrors.CodeNotFound {
			return nil, err
		}
	}

	if d.loader == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "class %s not found", name)
	}
	data, source, err := d.loader.Load(ctx, name, ns)
	if err != nil {
		return nil, err
	}
	return d.defineFromBytes(ctx, data, name, source, ns, pd)
}

// recordInitiating binds a type defined by another namespace in ns.
func (d *Dictionary) recordInitiating(sym *symbol.Symbol, td *model.TypeDescriptor, ns *namespace.Namespace) (*model.TypeDescriptor, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if existing := ns.Dictionary().FindClass(sym); existing != nil {
		if existing != td {
			return nil, apperrors.Newf(apperrors.CodeLinkageError,
				"%s attempted duplicate definition of %s", ns, sym)
		}
		return existing, nil
	}
	if err := d.constraints.CheckOrUpdate(td, ns, sym); err != nil {
		return nil, err
	}
	if _, err := ns.Dictionary().AddBinding(sym, td); err != nil {
		return nil, err
	}
	if definer := d.namespaces.Lookup(td.LoaderID); definer != nil {
		d.namespaces.RecordDependency(ns, definer)
	}
	d.logger.Debug("%s initiated %s defined by namespace %d", ns, sym, td.LoaderID)
	return td, nil
}

func (d *Dictionary) validate(ctx context.Context, sym *symbol.Symbol, td *model.TypeDescriptor,
	ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	if err := ns.Dictionary().ValidateProtectionDomain(ctx, sym, td, pd, d.checker); err != nil {
		return nil, err
	}
	return td, nil
}

func (d *Dictionary) circularity(name string, ns *namespace.Namespace) error {
	d.circularities.Add(1)
	err := apperrors.Newf(apperrors.CodeCircularResolution, "class circularity detected resolving %s in %s", name, ns)
	d.logger.Warn("%v", err)
	return err
}
