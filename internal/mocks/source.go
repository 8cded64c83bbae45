package mocks

import (
	"context"
	"io"

	"github.com/brettbedarf/ephemfs"
	"github.com/stretchr/testify/mock"
)

// MockContentSource implements ephemfs.ContentSource for testing across packages
type MockContentSource struct {
	mock.Mock
}

func (m *MockContentSource) Open(ctx context.Context) (io.ReadCloser, error) {
	args := m.Called(ctx)

	// Handle function return types (for complex tests)
	if fn, ok := args.Get(0).(func(context.Context) io.ReadCloser); ok {
		return fn(ctx), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

var _ ephemfs.ContentSource = (*MockContentSource)(nil)

// MockContentProvider implements ephemfs.ContentProvider for testing across packages
type MockContentProvider struct {
	mock.Mock
}

func (m *MockContentProvider) NewSource(raw []byte) (ephemfs.ContentSource, error) {
	args := m.Called(raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ephemfs.ContentSource), args.Error(1)
}

var _ ephemfs.ContentProvider = (*MockContentProvider)(nil)
