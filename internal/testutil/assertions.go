package testutil

import (
	"testing"

	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// AssertCode asserts that err carries code at its outermost level.
func AssertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Errorf("expected %s error, got nil", code)
		return
	}
	if got := apperrors.GetErrorCode(err); got != code {
		t.Errorf("expected %s error, got %s: %v", code, got, err)
	}
}

// AssertSuperChain asserts that td's super links spell out names, from
// td's direct super to the root.
func AssertSuperChain(t *testing.T, td *model.TypeDescriptor, names ...string) {
	t.Helper()
	cur := td
	for _, name := range names {
		if cur.Super == nil {
			t.Errorf("%s has no super, expected %s", cur.Name, name)
			return
		}
		if cur.Super.Name != name {
			t.Errorf("super of %s is %s, expected %s", cur.Name, cur.Super.Name, name)
		}
		cur = cur.Super
	}
	if cur.Super != nil {
		t.Errorf("chain continues past %s to %s", cur.Name, cur.Super.Name)
	}
}
