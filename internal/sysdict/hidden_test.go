package sysdict_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/sysdict"
	"github.com/classreg/internal/testutil"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

func TestDefineHidden_NotBoundByName(t *testing.T) {
	d := newRegistry(t, sysdict.Options{Config: sysdict.DefaultConfig(), Loader: newLoader()})
	host := register(t, d, "host", namespace.Options{})
	ctx := context.Background()

	first, err := d.DefineHidden(ctx, fooBytes(), "com/a/Foo", host, nil, true)
	require.NoError(t, err)
	second, err := d.DefineHidden(ctx, fooBytes(), "com/a/Foo", host, nil, true)
	require.NoError(t, err)

	assert.True(t, first.Hidden)
	assert.True(t, strings.HasPrefix(first.Name, "com/a/Foo+0x"), first.Name)
	assert.NotEqual(t, first.Name, second.Name)
	testutil.AssertSuperChain(t, first, model.ObjectTypeName)

	assert.Nil(t, d.FindInstanceType("com/a/Foo", host, nil))
	assert.Nil(t, d.FindInstanceType(first.Name, host, nil))
	assert.Equal(t, host.ID(), first.LoaderID)
	assert.Contains(t, host.Defined(), first)
	assert.EqualValues(t, 2, d.Stats().Hidden)

	// The name stays free for an ordinary definition.
	foo, err := d.Define(ctx, fooBytes(), "com/a/Foo", host, nil)
	require.NoError(t, err)
	assert.False(t, foo.Hidden)

	err = d.ReleaseHidden(first)
	testutil.AssertCode(t, err, apperrors.CodeInvalidInput)
}

func TestDefineHidden_WeakUnloadsAlone(t *testing.T) {
	d := newRegistry(t, sysdict.Options{Config: sysdict.DefaultConfig(), Loader: newLoader()})
	host := register(t, d, "host", namespace.Options{})
	ctx := context.Background()

	td, err := d.DefineHidden(ctx, fooBytes(), "", host, nil, false)
	require.NoError(t, err)
	assert.Equal(t, model.LoaderKindHidden, td.LoaderKind)
	assert.NotEqual(t, host.ID(), td.LoaderID)

	owner := d.Namespaces().Lookup(td.LoaderID)
	require.NotNil(t, owner)
	assert.Same(t, host, owner.Parent())
	assert.Contains(t, owner.Dependencies(), host)

	// The hidden namespace keeps a released host alive.
	require.NoError(t, d.Namespaces().Release(host))
	assert.Empty(t, d.Unload())

	require.NoError(t, d.ReleaseHidden(td))
	dead := d.Unload()
	assert.Len(t, dead, 2)
	assert.False(t, host.IsAlive())
	assert.False(t, owner.IsAlive())
}

func TestDefineHidden_Errors(t *testing.T) {
	d := newRegistry(t, sysdict.Options{Config: sysdict.DefaultConfig(), Loader: newLoader()})
	ctx := context.Background()

	_, err := d.DefineHidden(ctx, fooBytes(), "", nil, nil, true)
	testutil.AssertCode(t, err, apperrors.CodeInvalidInput)

	_, err = d.DefineHidden(ctx, fooBytes(), "com/a/Other", d.Namespaces().App(), nil, true)
	testutil.AssertCode(t, err, apperrors.CodeLinkageError)

	testutil.AssertCode(t, d.ReleaseHidden(nil), apperrors.CodeInvalidInput)
}
