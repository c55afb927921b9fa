// Package dictionary implements the per-namespace registry of resolved
// types.
//
// Each binding carries the set of protection domains already known to be
// allowed to see it. The set is an append-only lock-free list; a domain
// that is not yet visible to a reader only causes the caller to run the
// access check again.
package dictionary

import (
	"context"
	"sync/atomic"

	"github.com/classreg/internal/chtable"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
	"github.com/classreg/pkg/utils"
)

// PackageAccessChecker decides whether pd may see td. It runs outside the
// registry lock.
type PackageAccessChecker interface {
	CheckPackageAccess(ctx context.Context, td *model.TypeDescriptor, pd *model.ProtectionDomain) error
}

// PackageAccessFunc adapts a function to PackageAccessChecker.
type PackageAccessFunc func(ctx context.Context, td *model.TypeDescriptor, pd *model.ProtectionDomain) error

// CheckPackageAccess calls f.
func (f PackageAccessFunc) CheckPackageAccess(ctx context.Context, td *model.TypeDescriptor, pd *model.ProtectionDomain) error {
	return f(ctx, td, pd)
}

type pdNode struct {
	pd   *model.ProtectionDomain
	next *pdNode
}

// Entry is one binding.
type Entry struct {
	td      *model.TypeDescriptor
	pdSet   atomic.Pointer[pdNode]
	pdCount atomic.Int32
}

// Type returns the bound descriptor.
func (e *Entry) Type() *model.TypeDescriptor {
	return e.td
}

// IsApproved reports whether pd is in the approved set. A nil pd is
// always approved.
func (e *Entry) IsApproved(pd *model.ProtectionDomain) bool {
	if pd == nil {
		return true
	}
	for n := e.pdSet.Load(); n != nil; n = n.next {
		if n.pd == pd {
			return true
		}
	}
	return false
}

// approve prepends pd unless it is already present.
func (e *Entry) approve(pd *model.ProtectionDomain) bool {
	for {
		head := e.pdSet.Load()
		for n := head; n != nil; n = n.next {
			if n.pd == pd {
				return false
			}
		}
		if e.pdSet.CompareAndSwap(head, &pdNode{pd: pd, next: head}) {
			e.pdCount.Add(1)
			return true
		}
	}
}

// ProtectionDomains returns a snapshot of the approved set.
func (e *Entry) ProtectionDomains() []*model.ProtectionDomain {
	var out []*model.ProtectionDomain
	for n := e.pdSet.Load(); n != nil; n = n.next {
		out = append(out, n.pd)
	}
	return out
}

// Dictionary maps type names to descriptors for one namespace.
// Reads are lock-free. AddBinding and PurgeProtectionDomains must be
// called with the registry lock held.
type Dictionary struct {
	table  *chtable.Table[*Entry]
	logger utils.Logger
}

// New creates a dictionary with the given table options.
func New(opts chtable.Options, logger utils.Logger) *Dictionary {
	return &Dictionary{
		table:  chtable.New[*Entry](opts),
		logger: utils.Component(logger, "dictionary"),
	}
}

// Find returns the type bound to name if pd is approved for it.
func (d *Dictionary) Find(name *symbol.Symbol, pd *model.ProtectionDomain) *model.TypeDescriptor {
	e, ok := d.table.Lookup(name)
	if !ok || !e.IsApproved(pd) {
		return nil
	}
	return e.td
}

// FindClass returns the type bound to name, ignoring protection domains.
func (d *Dictionary) FindClass(name *symbol.Symbol) *model.TypeDescriptor {
	if e, ok := d.table.Lookup(name); ok {
		return e.td
	}
	return nil
}

// FindEntry returns the binding for name, or nil.
func (d *Dictionary) FindEntry(name *symbol.Symbol) *Entry {
	e, _ := d.table.Lookup(name)
	return e
}

// AddBinding publishes name→td. Binding the same descriptor again is a
// no-op. A different descriptor for an existing name returns the existing
// one together with a DUPLICATE_DEFINITION error.
func (d *Dictionary) AddBinding(name *symbol.Symbol, td *model.TypeDescriptor) (*model.TypeDescriptor, error) {
	node, inserted := d.table.InsertIfAbsent(name, &Entry{td: td})
	if !inserted {
		existing := node.Value().td
		if existing == td {
			return existing, nil
		}
		return existing, apperrors.Newf(apperrors.CodeDuplicateDefinition,
			"duplicate binding for %s", name)
	}

	if _, err := d.table.GrowIfNeeded(); err != nil {
		d.logger.Warn("dictionary resize disabled at %d buckets: %v", d.table.Buckets(), err)
	}
	return td, nil
}

// ApprovePrincipalSet records that pd may see the binding for name.
// It reports whether pd was newly added.
func (d *Dictionary) ApprovePrincipalSet(name *symbol.Symbol, pd *model.ProtectionDomain) bool {
	if pd == nil {
		return false
	}
	e, ok := d.table.Lookup(name)
	if !ok {
		return false
	}
	added := e.approve(pd)
	if added {
		d.logger.Debug("approved %s for %s", pd, name)
	}
	return added
}

// IsApproved reports whether pd is already approved for name.
func (d *Dictionary) IsApproved(name *symbol.Symbol, pd *model.ProtectionDomain) bool {
	e, ok := d.table.Lookup(name)
	return ok && e.IsApproved(pd)
}

// ValidateProtectionDomain runs checker for a domain not yet approved for
// name and approves it when the check passes. td must be the type bound
// to name.
func (d *Dictionary) ValidateProtectionDomain(ctx context.Context, name *symbol.Symbol, td *model.TypeDescriptor,
	pd *model.ProtectionDomain, checker PackageAccessChecker) error {
	if pd == nil || d.IsApproved(name, pd) {
		return nil
	}
	if checker != nil {
		if err := checker.CheckPackageAccess(ctx, td, pd); err != nil {
			if apperrors.GetErrorCode(err) != apperrors.CodeUnknown {
				return err
			}
			return apperrors.Wrap(apperrors.CodeAccessError,
				"package access denied for "+td.Name, err)
		}
	}
	d.ApprovePrincipalSet(name, pd)
	return nil
}

// PurgeProtectionDomains drops domains for which isAlive returns false and
// returns how many were removed. Readers keep walking the old list.
func (d *Dictionary) PurgeProtectionDomains(isAlive func(*model.ProtectionDomain) bool) int {
	removed := 0
	d.table.Each(func(_ *symbol.Symbol, e *Entry) bool {
		var kept []*model.ProtectionDomain
		for n := e.pdSet.Load(); n != nil; n = n.next {
			if isAlive(n.pd) {
				kept = append(kept, n.pd)
			} else {
				removed++
			}
		}
		if len(kept) == int(e.pdCount.Load()) {
			return true
		}
		var head *pdNode
		for i := len(kept) - 1; i >= 0; i-- {
			head = &pdNode{pd: kept[i], next: head}
		}
		e.pdSet.Store(head)
		e.pdCount.Store(int32(len(kept)))
		return true
	})
	return removed
}

// Each calls fn for every binding until fn returns false.
func (d *Dictionary) Each(fn func(name *symbol.Symbol, td *model.TypeDescriptor) bool) {
	d.table.Each(func(key *symbol.Symbol, e *Entry) bool {
		return fn(key, e.td)
	})
}

// Len returns the number of bindings.
func (d *Dictionary) Len() int {
	return d.table.Len()
}

// Buckets returns the current bucket count.
func (d *Dictionary) Buckets() int {
	return d.table.Buckets()
}

// Resizable reports whether the dictionary may still grow.
func (d *Dictionary) Resizable() bool {
	return d.table.Resizable()
}

// Release drops every binding. Only namespace teardown calls it.
func (d *Dictionary) Release() {
	d.table.Release()
}
