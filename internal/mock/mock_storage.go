package mock

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the storage.Store interface.
type MockStore struct {
	mock.Mock
}

// Upload mocks the Upload method.
func (m *MockStore) Upload(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

// UploadFile mocks the UploadFile method.
func (m *MockStore) UploadFile(ctx context.Context, key string, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

// Download mocks the Download method.
func (m *MockStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// DownloadFile mocks the DownloadFile method.
func (m *MockStore) DownloadFile(ctx context.Context, key string, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

// Delete mocks the Delete method.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// Exists mocks the Exists method.
func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// GetURL mocks the GetURL method.
func (m *MockStore) GetURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// ExpectUploadFile sets up an expectation for UploadFile of key from any path.
func (m *MockStore) ExpectUploadFile(key string, err error) *mock.Call {
	return m.On("UploadFile", mock.Anything, key, mock.Anything).Return(err)
}

// ExpectGetURL sets up an expectation for GetURL.
func (m *MockStore) ExpectGetURL(key, url string) *mock.Call {
	return m.On("GetURL", key).Return(url)
}

// ExpectExists sets up an expectation for Exists.
func (m *MockStore) ExpectExists(key string, ok bool, err error) *mock.Call {
	return m.On("Exists", mock.Anything, key).Return(ok, err)
}

// ExpectDownloadFile sets up an expectation for DownloadFile of key to any path.
func (m *MockStore) ExpectDownloadFile(key string, err error) *mock.Call {
	return m.On("DownloadFile", mock.Anything, key, mock.Anything).Return(err)
}
