package dictionary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classreg/internal/chtable"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
	"github.com/classreg/pkg/symbol"
)

func newDictionary(size int) (*Dictionary, *symbol.Table) {
	return New(chtable.Options{InitialSize: size}, nil), symbol.NewTable()
}

func TestDictionary_AddAndFind(t *testing.T) {
	d, syms := newDictionary(107)
	name := syms.Intern("com/example/Foo")
	td := model.NewTypeDescriptor("com/example/Foo", model.ObjectTypeName)

	got, err := d.AddBinding(name, td)
	require.NoError(t, err)
	assert.Same(t, td, got)

	assert.Same(t, td, d.Find(name, nil))
	assert.Same(t, td, d.FindClass(name))
	assert.Nil(t, d.Find(syms.Intern("com/example/Missing"), nil))
	assert.Equal(t, 1, d.Len())
}

func TestDictionary_AddBindingDuplicate(t *testing.T) {
	d, syms := newDictionary(107)
	name := syms.Intern("Foo")
	first := model.NewTypeDescriptor("Foo", model.ObjectTypeName)
	second := model.NewTypeDescriptor("Foo", model.ObjectTypeName)

	_, err := d.AddBinding(name, first)
	require.NoError(t, err)

	// Same descriptor again is a no-op.
	got, err := d.AddBinding(name, first)
	require.NoError(t, err)
	assert.Same(t, first, got)

	got, err = d.AddBinding(name, second)
	assert.True(t, apperrors.IsDuplicateDefinition(err))
	assert.Same(t, first, got)
	assert.Same(t, first, d.FindClass(name))
}

func TestDictionary_ProtectionDomains(t *testing.T) {
	d, syms := newDictionary(107)
	name := syms.Intern("Foo")
	td := model.NewTypeDescriptor("Foo", model.ObjectTypeName)
	_, err := d.AddBinding(name, td)
	require.NoError(t, err)

	pd := model.NewProtectionDomain("file:/a.jar")
	assert.Nil(t, d.Find(name, pd), "unapproved domain must not see the binding")

	assert.True(t, d.ApprovePrincipalSet(name, pd))
	assert.False(t, d.ApprovePrincipalSet(name, pd))
	assert.Same(t, td, d.Find(name, pd))

	// Equal code source but a different principal set is a distinct domain.
	other := model.NewProtectionDomain("file:/a.jar")
	assert.False(t, d.IsApproved(name, other))
}

func TestDictionary_ConcurrentApprove(t *testing.T) {
	d, syms := newDictionary(107)
	name := syms.Intern("Foo")
	_, err := d.AddBinding(name, model.NewTypeDescriptor("Foo", model.ObjectTypeName))
	require.NoError(t, err)

	pds := make([]*model.ProtectionDomain, 32)
	for i := range pds {
		pds[i] = model.NewProtectionDomain(fmt.Sprintf("pd-%d", i))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, pd := range pds {
				d.ApprovePrincipalSet(name, pd)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, d.FindEntry(name).ProtectionDomains(), len(pds))
	for _, pd := range pds {
		assert.True(t, d.IsApproved(name, pd))
	}
}

func TestDictionary_ValidateProtectionDomain(t *testing.T) {
	d, syms := newDictionary(107)
	name := syms.Intern("Foo")
	td := model.NewTypeDescriptor("Foo", model.ObjectTypeName)
	_, err := d.AddBinding(name, td)
	require.NoError(t, err)

	allowed := model.NewProtectionDomain("allowed")
	denied := model.NewProtectionDomain("denied")
	calls := 0
	checker := PackageAccessFunc(func(_ context.Context, got *model.TypeDescriptor, pd *model.ProtectionDomain) error {
		calls++
		assert.Same(t, td, got)
		if pd == denied {
			return errors.New("no")
		}
		return nil
	})

	require.NoError(t, d.ValidateProtectionDomain(context.Background(), name, td, allowed, checker))
	require.NoError(t, d.ValidateProtectionDomain(context.Background(), name, td, allowed, checker))
	assert.Equal(t, 1, calls, "approved domains skip the check")

	err = d.ValidateProtectionDomain(context.Background(), name, td, denied, checker)
	assert.True(t, apperrors.IsAccessError(err))
	assert.False(t, d.IsApproved(name, denied))

	require.NoError(t, d.ValidateProtectionDomain(context.Background(), name, td, nil, checker))
	assert.Equal(t, 2, calls)
}

func TestDictionary_PurgeProtectionDomains(t *testing.T) {
	d, syms := newDictionary(107)
	name := syms.Intern("Foo")
	_, err := d.AddBinding(name, model.NewTypeDescriptor("Foo", model.ObjectTypeName))
	require.NoError(t, err)

	live := model.NewProtectionDomain("live")
	dead := model.NewProtectionDomain("dead")
	d.ApprovePrincipalSet(name, live)
	d.ApprovePrincipalSet(name, dead)

	removed := d.PurgeProtectionDomains(func(pd *model.ProtectionDomain) bool { return pd != dead })
	assert.Equal(t, 1, removed)
	assert.True(t, d.IsApproved(name, live))
	assert.False(t, d.IsApproved(name, dead))
	assert.Equal(t, 0, d.PurgeProtectionDomains(func(*model.ProtectionDomain) bool { return true }))
}

func TestDictionary_ConcurrentResizeIntegrity(t *testing.T) {
	const (
		workers   = 8
		total     = 10000
		perWorker = total / workers
	)
	d, syms := newDictionary(107)
	var lock sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := fmt.Sprintf("pkg/T%d_%d", w, i)
				name := syms.Intern(n)
				lock.Lock()
				_, err := d.AddBinding(name, model.NewTypeDescriptor(n, model.ObjectTypeName))
				lock.Unlock()
				assert.NoError(t, err)
				assert.NotNil(t, d.FindClass(name), "binding must be visible without the lock")
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, total, d.Len())
	assert.Greater(t, d.Buckets(), 107)

	seen := make(map[string]bool, total)
	d.Each(func(name *symbol.Symbol, td *model.TypeDescriptor) bool {
		assert.False(t, seen[name.String()], "duplicate %s", name)
		assert.Equal(t, name.String(), td.Name)
		seen[name.String()] = true
		return true
	})
	assert.Len(t, seen, total)
}
