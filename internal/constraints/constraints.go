// Package constraints implements the loader constraint table.
//
// A constraint states that every namespace it lists must resolve a name
// to the same descriptor. Its descriptor slot starts empty, is filled at
// most once, and never changes afterwards. All Table methods require the
// registry lock.
package constraints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
	"github.com/classreg/pkg/utils"
)

// initialLoaderCapacity is the capacity of a fresh constraint's namespace list.
const initialLoaderCapacity = 2

// Constraint is one agreement over a name.
type Constraint struct {
	name       *symbol.Symbol
	td         *model.TypeDescriptor
	namespaces []*namespace.Namespace
}

// Name returns the constrained name.
func (c *Constraint) Name() *symbol.Symbol { return c.name }

// Type returns the agreed descriptor, or nil while unset.
func (c *Constraint) Type() *model.TypeDescriptor { return c.td }

// Namespaces returns a copy of the namespaces bound by the constraint.
func (c *Constraint) Namespaces() []*namespace.Namespace {
	out := make([]*namespace.Namespace, len(c.namespaces))
	copy(out, c.namespaces)
	return out
}

func (c *Constraint) covers(ns *namespace.Namespace) bool {
	for _, n := range c.namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

// Table holds every constraint, grouped by name.
type Table struct {
	byName map[*symbol.Symbol][]*Constraint
	logger utils.Logger
}

// NewTable creates an empty table.
func NewTable(logger utils.Logger) *Table {
	return &Table{
		byName: make(map[*symbol.Symbol][]*Constraint),
		logger: utils.Component(logger, "constraints"),
	}
}

// find returns the constraint covering (name, ns) whose descriptor, if
// set, belongs to a live namespace.
func (t *Table) find(name *symbol.Symbol, ns *namespace.Namespace) *Constraint {
	for _, c := range t.byName[name] {
		if c.covers(ns) {
			return c
		}
	}
	return nil
}

// AddConstraint records that ns1 and ns2 must agree on name. td1 and td2
// are what each namespace currently resolves name to, or nil.
func (t *Table) AddConstraint(name *symbol.Symbol, ns1 *namespace.Namespace, td1 *model.TypeDescriptor,
	ns2 *namespace.Namespace, td2 *model.TypeDescriptor) error {
	if td1 != nil && td2 != nil {
		if td1 == td2 {
			return nil
		}
		return t.violation(name, ns1, ns2, "the namespaces resolved different types")
	}

	td := td1
	if td == nil {
		td = td2
	}

	c1 := t.find(name, ns1)
	if c1 != nil && c1.td != nil {
		if td == nil {
			td = c1.td
		} else if td != c1.td {
			return t.violation(name, ns1, ns2,
				fmt.Sprintf("%s already agreed on a different type", ns1))
		}
	}
	c2 := t.find(name, ns2)
	if c2 != nil && c2.td != nil {
		if td == nil {
			td = c2.td
		} else if td != c2.td {
			return t.violation(name, ns1, ns2,
				fmt.Sprintf("%s already agreed on a different type", ns2))
		}
	}

	switch {
	case c1 == nil && c2 == nil:
		name.IncRef()
		c := &Constraint{
			name:       name,
			td:         td,
			namespaces: make([]*namespace.Namespace, 0, initialLoaderCapacity),
		}
		c.namespaces = append(c.namespaces, ns1, ns2)
		t.byName[name] = append(t.byName[name], c)
		t.logger.Debug("adding new constraint for name: %s, namespace[0]: %s, namespace[1]: %s", name, ns1, ns2)
	case c1 == c2:
		if c1.td == nil {
			c1.td = td
		}
	case c1 == nil:
		t.extend(c2, ns1, td)
	case c2 == nil:
		t.extend(c1, ns2, td)
	default:
		t.merge(c1, c2, td)
	}
	return nil
}

func (t *Table) extend(c *Constraint, ns *namespace.Namespace, td *model.TypeDescriptor) {
	c.namespaces = append(c.namespaces, ns)
	if c.td == nil {
		c.td = td
	}
	t.logger.Debug("extending constraint for name %s by adding namespace %s", c.name, ns)
}

// merge folds the constraint with the smaller namespace list into the one
// with the larger capacity.
func (t *Table) merge(c1, c2 *Constraint, td *model.TypeDescriptor) {
	dest, src := c1, c2
	if cap(c2.namespaces) > cap(c1.namespaces) {
		dest, src = c2, c1
	}
	dest.namespaces = append(dest.namespaces, src.namespaces...)
	if dest.td == nil {
		dest.td = td
	}
	t.remove(src)
	t.logger.Debug("merged constraints for name %s, new namespace list has %d entries", dest.name, len(dest.namespaces))
}

func (t *Table) remove(c *Constraint) {
	list := t.byName[c.name]
	for i, x := range list {
		if x == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.byName, c.name)
	} else {
		t.byName[c.name] = list
	}
	c.name.DecRef()
}

// CheckOrUpdate verifies that td agrees with any constraint covering
// (name, ns), filling the constraint's descriptor if it is still unset.
func (t *Table) CheckOrUpdate(td *model.TypeDescriptor, ns *namespace.Namespace, name *symbol.Symbol) error {
	c := t.find(name, ns)
	if c == nil {
		return nil
	}
	if c.td != nil && c.td != td {
		err := apperrors.Newf(apperrors.CodeConstraintViolation,
			"loader constraint violation: %s wants to bind %s but a different type with the same name is already constrained for %s",
			ns, name, t.describe(c))
		t.logger.Warn("%v", err)
		return err
	}
	if c.td == nil {
		c.td = td
		t.logger.Debug("updating constraint for name %s, namespace %s, by setting type", name, ns)
	}
	return nil
}

// FindConstrainedType returns the descriptor ns has agreed on for name.
func (t *Table) FindConstrainedType(name *symbol.Symbol, ns *namespace.Namespace) *model.TypeDescriptor {
	if c := t.find(name, ns); c != nil {
		return c.td
	}
	return nil
}

// Purge drops dead namespaces from every constraint, clears descriptors
// defined by dead namespaces and removes constraints left with fewer than
// two namespaces. It returns how many constraints were removed.
func (t *Table) Purge(isLoaderAlive func(id uint64) bool) int {
	removed := 0
	for _, list := range t.byName {
		for _, c := range append([]*Constraint(nil), list...) {
			if c.td != nil && !isLoaderAlive(c.td.LoaderID) {
				t.logger.Debug("purging type %s from constraint", c.td.Name)
				c.td = nil
			}
			kept := c.namespaces[:0]
			for _, ns := range c.namespaces {
				if ns.IsAlive() {
					kept = append(kept, ns)
				}
			}
			for i := len(kept); i < len(c.namespaces); i++ {
				c.namespaces[i] = nil
			}
			c.namespaces = kept
			if len(c.namespaces) < 2 {
				t.remove(c)
				removed++
			}
		}
	}
	return removed
}

// Verify checks the table's invariants: each constraint covers at least
// two distinct live namespaces, no namespace appears in two constraints
// for the same name, and a set descriptor comes from a live namespace.
func (t *Table) Verify(isLoaderAlive func(id uint64) bool) error {
	for name, list := range t.byName {
		seen := make(map[*namespace.Namespace]bool)
		for _, c := range list {
			if len(c.namespaces) < 2 {
				return apperrors.Newf(apperrors.CodeConstraintViolation,
					"constraint for %s covers %d namespaces", name, len(c.namespaces))
			}
			if c.td != nil && !isLoaderAlive(c.td.LoaderID) {
				return apperrors.Newf(apperrors.CodeConstraintViolation,
					"constraint for %s holds a type of an unloaded namespace", name)
			}
			for _, ns := range c.namespaces {
				if seen[ns] {
					return apperrors.Newf(apperrors.CodeConstraintViolation,
						"namespace %s appears twice in constraints for %s", ns, name)
				}
				seen[ns] = true
			}
		}
	}
	return nil
}

// Len returns the number of constraints.
func (t *Table) Len() int {
	n := 0
	for _, list := range t.byName {
		n += len(list)
	}
	return n
}

// Each calls fn for every constraint in name order until fn returns false.
func (t *Table) Each(fn func(*Constraint) bool) {
	names := make([]*symbol.Symbol, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
	for _, name := range names {
		for _, c := range t.byName[name] {
			if !fn(c) {
				return
			}
		}
	}
}

func (t *Table) violation(name *symbol.Symbol, ns1, ns2 *namespace.Namespace, reason string) error {
	err := apperrors.Newf(apperrors.CodeConstraintViolation,
		"loader constraint violation for %s between %s and %s: %s", name, ns1, ns2, reason)
	t.logger.Warn("%v", err)
	return err
}

func (t *Table) describe(c *Constraint) string {
	parts := make([]string, len(c.namespaces))
	for i, ns := range c.namespaces {
		parts[i] = ns.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
