package sysdict

import (
	"context"
	"errors"

	"github.com/classreg/internal/resolution"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// ResolveReference resolves the symbolic reference at index of referrer
// to name, in the namespace that defined referrer. A failure is recorded
// and every later call for the same reference returns that first error,
// even once name becomes resolvable.
func (d *Dictionary) ResolveReference(ctx context.Context, referrer *model.TypeDescriptor, index int, name string,
	pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	if referrer == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "referrer is required")
	}
	if err := d.FindResolutionError(referrer, index); err != nil {
		return nil, err
	}
	ns := d.namespaces.Lookup(referrer.LoaderID)
	if ns == nil || !ns.IsAlive() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "namespace of %s is unloaded", referrer.Name)
	}
	td, err := d.ResolveOrFail(ctx, name, ns, pd)
	if err == nil {
		return td, nil
	}
	if !recordable(err) {
		return nil, err
	}
	d.AddResolutionError(referrer, index, err)
	return nil, d.FindResolutionError(referrer, index)
}

// recordable reports whether err is a property of the reference rather
// than of the call.
func recordable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch apperrors.GetErrorCode(err) {
	case apperrors.CodeInvalidInput, apperrors.CodeUnknown, apperrors.CodeConfigError:
		return false
	}
	return true
}

// AddResolutionError records err for the reference at index of referrer
// unless one is already recorded.
func (d *Dictionary) AddResolutionError(referrer *model.TypeDescriptor, index int, err error) {
	d.lock.Lock()
	d.errors.Add(resolution.Key{Referrer: referrer, Index: index}, err)
	d.lock.Unlock()
}

// FindResolutionError returns the recorded error for the reference, or nil.
func (d *Dictionary) FindResolutionError(referrer *model.TypeDescriptor, index int) error {
	d.lock.Lock()
	e := d.errors.Find(resolution.Key{Referrer: referrer, Index: index})
	d.lock.Unlock()
	if e == nil {
		return nil
	}
	return e.Err
}

// AddNestHostError records why the nest host at index of referrer was
// rejected. The first message is kept.
func (d *Dictionary) AddNestHostError(referrer *model.TypeDescriptor, index int, msg string) {
	d.lock.Lock()
	d.errors.AddNestHostError(resolution.Key{Referrer: referrer, Index: index}, msg)
	d.lock.Unlock()
}

// FindNestHostError returns the recorded nest host message, or "".
func (d *Dictionary) FindNestHostError(referrer *model.TypeDescriptor, index int) string {
	d.lock.Lock()
	e := d.errors.Find(resolution.Key{Referrer: referrer, Index: index})
	d.lock.Unlock()
	if e == nil {
		return ""
	}
	return e.NestHostError
}

// DeleteResolutionErrors drops everything recorded for referrer, as when
// it is redefined.
func (d *Dictionary) DeleteResolutionErrors(referrer *model.TypeDescriptor) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.errors.Delete(referrer)
}
