package sysdict

import (
	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// AddLoaderConstraint records that ns1 and ns2 must resolve name to the
// same type. Types either namespace already has bound for name take part
// in the check.
func (d *Dictionary) AddLoaderConstraint(name string, ns1, ns2 *namespace.Namespace) error {
	if name == "" || ns1 == nil || ns2 == nil {
		return apperrors.New(apperrors.CodeInvalidInput, "constraint needs a name and two namespaces")
	}
	if ns1 == ns2 {
		return nil
	}
	sym := d.symbols.Intern(name)
	defer sym.DecRef()

	d.lock.Lock()
	defer d.lock.Unlock()
	td1 := ns1.Dictionary().FindClass(sym)
	td2 := ns2.Dictionary().FindClass(sym)
	return d.constraints.AddConstraint(sym, ns1, td1, ns2, td2)
}

// CheckSignatureLoaders adds a constraint for every type name a
// signature mentions. It stops at the first violation.
func (d *Dictionary) CheckSignatureLoaders(names []string, ns1, ns2 *namespace.Namespace) error {
	if ns1 == ns2 {
		return nil
	}
	for _, name := range names {
		if err := d.AddLoaderConstraint(name, ns1, ns2); err != nil {
			return err
		}
	}
	return nil
}

// FindConstrainedType returns the type ns has agreed to resolve name to,
// or nil.
func (d *Dictionary) FindConstrainedType(name string, ns *namespace.Namespace) *model.TypeDescriptor {
	sym, ok := d.symbols.Lookup(name)
	if !ok || ns == nil {
		return nil
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.constraints.FindConstrainedType(sym, ns)
}

// VerifyConstraints checks the constraint table's internal consistency.
func (d *Dictionary) VerifyConstraints() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.constraints.Verify(d.isLoaderAlive)
}

func (d *Dictionary) isLoaderAlive(id uint64) bool {
	ns := d.namespaces.Lookup(id)
	return ns != nil && ns.IsAlive()
}
