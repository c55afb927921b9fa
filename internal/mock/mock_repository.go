package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/classreg/internal/repository"
)

// MockCatalogRepository is a mock implementation of repository.CatalogRepository.
type MockCatalogRepository struct {
	mock.Mock
}

// SaveSnapshot mocks the SaveSnapshot method.
func (m *MockCatalogRepository) SaveSnapshot(ctx context.Context, snap *repository.Snapshot, types []repository.TypeEntry, paths []repository.PathEntry) error {
	args := m.Called(ctx, snap, types, paths)
	return args.Error(0)
}

// GetSnapshot mocks the GetSnapshot method.
func (m *MockCatalogRepository) GetSnapshot(ctx context.Context, name string) (*repository.Snapshot, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Snapshot), args.Error(1)
}

// LatestSnapshot mocks the LatestSnapshot method.
func (m *MockCatalogRepository) LatestSnapshot(ctx context.Context) (*repository.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Snapshot), args.Error(1)
}

// ListTypes mocks the ListTypes method.
func (m *MockCatalogRepository) ListTypes(ctx context.Context, snapshotID int64) ([]repository.TypeEntry, error) {
	args := m.Called(ctx, snapshotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.TypeEntry), args.Error(1)
}

// ListPaths mocks the ListPaths method.
func (m *MockCatalogRepository) ListPaths(ctx context.Context, snapshotID int64) ([]repository.PathEntry, error) {
	args := m.Called(ctx, snapshotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.PathEntry), args.Error(1)
}

// DeleteSnapshot mocks the DeleteSnapshot method.
func (m *MockCatalogRepository) DeleteSnapshot(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// ExpectSaveSnapshot sets up an expectation for any SaveSnapshot call.
// The saved snapshot is given id.
func (m *MockCatalogRepository) ExpectSaveSnapshot(id int64, err error) *mock.Call {
	return m.On("SaveSnapshot", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if err == nil {
				args.Get(1).(*repository.Snapshot).ID = id
			}
		}).
		Return(err)
}
