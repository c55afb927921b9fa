package sysdict

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/telemetry"
)

// DefineHidden defines a hidden type from data on behalf of host. A
// hidden type is never bound by name, so no lookup can find it; callers
// hold on to the returned descriptor. Its name is the parsed name with a
// unique "+0x<seq>" suffix.
//
// A strong hidden type lives and dies with host. Otherwise it gets a
// namespace of its own, child of host, that the caller releases with
// ReleaseHidden once the type is no longer used.
func (d *Dictionary) DefineHidden(ctx context.Context, data []byte, nameHint string, host *namespace.Namespace,
	pd *model.ProtectionDomain, strong bool) (*model.TypeDescriptor, error) {
	if host == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "host namespace is required")
	}
	if !host.IsAlive() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "namespace %s is unloaded", host)
	}
	ctx, span := telemetry.Start(ctx, scope, "sysdict.DefineHidden",
		attribute.String("type.name", nameHint),
		attribute.String("namespace", host.String()),
		attribute.Bool("hidden.strong", strong),
	)
	td, err := d.defineHidden(ctx, data, nameHint, host, pd, strong)
	telemetry.End(span, err)
	return td, err
}

func (d *Dictionary) defineHidden(ctx context.Context, data []byte, nameHint string, host *namespace.Namespace,
	pd *model.ProtectionDomain, strong bool) (*model.TypeDescriptor, error) {
	var source string
	if pd != nil {
		source = pd.CodeSource
	}
	td, err := d.parse(ctx, data, nameHint, source, host, pd)
	if err != nil {
		return nil, err
	}
	td.Name += "+0x" + strconv.FormatUint(d.hiddenSeq.Add(1), 16)
	td.Hidden = true
	td.Shared = false
	td.SharedPathIndex = model.NoSharedPathIndex

	owner := host
	if !strong {
		owner, err = d.namespaces.Register(td.Name, model.LoaderKindHidden, namespace.Options{Parent: host})
		if err != nil {
			return nil, err
		}
		d.namespaces.RecordDependency(owner, host)
	}
	td.LoaderID = owner.ID()
	td.LoaderKind = owner.Kind()
	d.lock.Lock()
	_, err = d.moduleFor(td, host)
	d.lock.Unlock()
	if err != nil {
		return nil, err
	}
	owner.RecordDefined(td)
	if pd != nil {
		d.ownDomain(pd, owner)
	}
	d.definitions.Add(1)
	d.logger.Debug("defined hidden type %s for %s strong=%v", td.Name, host, strong)
	return td, nil
}

// ReleaseHidden releases the namespace of a non-strong hidden type so the
// next Unload can reclaim it.
func (d *Dictionary) ReleaseHidden(td *model.TypeDescriptor) error {
	if td == nil || !td.Hidden {
		return apperrors.New(apperrors.CodeInvalidInput, "not a hidden type")
	}
	if td.LoaderKind != model.LoaderKindHidden {
		return apperrors.Newf(apperrors.CodeInvalidInput, "%s is a strong hidden type", td.Name)
	}
	ns := d.namespaces.Lookup(td.LoaderID)
	if ns == nil {
		return nil
	}
	return d.namespaces.Release(ns)
}
