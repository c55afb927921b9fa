package sysdict

import (
	"context"

	"github.com/classreg/internal/namespace"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// arrayKey identifies an array type by its component type, or by the
// primitive descriptor of a one-dimensional primitive array.
type arrayKey struct {
	component *model.TypeDescriptor
	primitive byte
}

// resolveArray resolves an array type name in ns. An object array shares
// the defining namespace of its element type and primitive arrays belong
// to the boot namespace. Array types are not bound by name; each
// component has exactly one array type.
func (d *Dictionary) resolveArray(ctx context.Context, name string, ns *namespace.Namespace, pd *model.ProtectionDomain) (*model.TypeDescriptor, error) {
	an, ok := model.ParseArrayName(name)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "malformed array type name %q", name)
	}
	key := arrayKey{primitive: an.Primitive}
	if an.Primitive == 0 {
		elem, err := d.resolveInstance(ctx, an.Element, ns, pd)
		if err != nil {
			return nil, err
		}
		key = arrayKey{component: elem}
	}
	td, err := d.arrayOf(ctx, key)
	for i := 1; err == nil && i < an.Dimensions; i++ {
		td, err = d.arrayOf(ctx, arrayKey{component: td})
	}
	return td, err
}

// arrayOf returns the array type for key, creating it on first use.
func (d *Dictionary) arrayOf(ctx context.Context, key arrayKey) (*model.TypeDescriptor, error) {
	if v, ok := d.arrays.Load(key); ok {
		return v.(*model.TypeDescriptor), nil
	}
	object, err := d.resolveInstance(ctx, model.ObjectTypeName, d.namespaces.Boot(), nil)
	if err != nil {
		return nil, d.linkError("array of "+key.String(), err)
	}
	td := &model.TypeDescriptor{
		SuperName:       model.ObjectTypeName,
		Super:           object,
		LoaderID:        namespace.BootID,
		LoaderKind:      model.LoaderKindBoot,
		SharedPathIndex: model.NoSharedPathIndex,
		Dimensions:      1,
	}
	if c := key.component; c != nil {
		td.Name = model.ArrayTypeName(c.Name)
		td.Component = c
		td.Dimensions = c.Dimensions + 1
		td.LoaderID = c.LoaderID
		td.LoaderKind = c.LoaderKind
		td.ModuleName = c.ModuleName
	} else {
		td.Name = "[" + string(key.primitive)
	}
	v, loaded := d.arrays.LoadOrStore(key, td)
	if !loaded {
		d.logger.Debug("created array type %s in namespace %d", td.Name, td.LoaderID)
	}
	return v.(*model.TypeDescriptor), nil
}

// findArray returns the array type for key without creating it.
func (d *Dictionary) findArray(key arrayKey) *model.TypeDescriptor {
	if v, ok := d.arrays.Load(key); ok {
		return v.(*model.TypeDescriptor)
	}
	return nil
}

// purgeArrays drops array types whose element type died with its
// namespace and returns how many were removed.
func (d *Dictionary) purgeArrays() int {
	removed := 0
	d.arrays.Range(func(k, v any) bool {
		if td := v.(*model.TypeDescriptor); !d.isLoaderAlive(td.LoaderID) {
			d.arrays.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

func (k arrayKey) String() string {
	if k.component != nil {
		return k.component.Name
	}
	return string(k.primitive)
}

// FindInstanceOrArrayType returns the type name denotes in ns without
// loading anything. For an array name the element type must be bound in
// ns with pd approved and the array type must already exist.
func (d *Dictionary) FindInstanceOrArrayType(name string, ns *namespace.Namespace, pd *model.ProtectionDomain) *model.TypeDescriptor {
	if !model.IsArrayName(name) {
		return d.FindInstanceType(name, ns, pd)
	}
	an, ok := model.ParseArrayName(name)
	if !ok {
		return nil
	}
	key := arrayKey{primitive: an.Primitive}
	if an.Primitive == 0 {
		elem := d.FindInstanceType(an.Element, ns, pd)
		if elem == nil {
			return nil
		}
		key = arrayKey{component: elem}
	}
	td := d.findArray(key)
	for i := 1; td != nil && i < an.Dimensions; i++ {
		td = d.findArray(arrayKey{component: td})
	}
	return td
}
