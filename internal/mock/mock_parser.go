// Package mock provides mock implementations for testing.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/classreg/internal/namespace"
	"github.com/classreg/internal/sysdict"
	"github.com/classreg/pkg/model"
)

// MockParser is a mock implementation of the sysdict.Parser interface.
type MockParser struct {
	mock.Mock
}

// Parse mocks the Parse method.
func (m *MockParser) Parse(ctx context.Context, req sysdict.ParseRequest) (*model.TypeDescriptor, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TypeDescriptor), args.Error(1)
}

// ExpectParse sets up an expectation for any Parse call.
func (m *MockParser) ExpectParse(result *model.TypeDescriptor, err error) *mock.Call {
	return m.On("Parse", mock.Anything, mock.Anything).Return(result, err)
}

// ExpectParseOf sets up an expectation for a Parse call with nameHint.
func (m *MockParser) ExpectParseOf(nameHint string, result *model.TypeDescriptor, err error) *mock.Call {
	return m.On("Parse", mock.Anything, mock.MatchedBy(func(req sysdict.ParseRequest) bool {
		return req.NameHint == nameHint
	})).Return(result, err)
}

// MockLoader is a mock implementation of the sysdict.Loader interface.
type MockLoader struct {
	mock.Mock
}

// Load mocks the Load method.
func (m *MockLoader) Load(ctx context.Context, name string, ns *namespace.Namespace) ([]byte, string, error) {
	args := m.Called(ctx, name, ns)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

// ExpectLoad sets up an expectation for loading name in any namespace.
func (m *MockLoader) ExpectLoad(name string, data []byte, source string, err error) *mock.Call {
	return m.On("Load", mock.Anything, name, mock.Anything).Return(data, source, err)
}

// MockPackageAccessChecker is a mock implementation of
// dictionary.PackageAccessChecker.
type MockPackageAccessChecker struct {
	mock.Mock
}

// CheckPackageAccess mocks the CheckPackageAccess method.
func (m *MockPackageAccessChecker) CheckPackageAccess(ctx context.Context, td *model.TypeDescriptor, pd *model.ProtectionDomain) error {
	args := m.Called(ctx, td, pd)
	return args.Error(0)
}
