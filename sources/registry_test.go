package sources

import (
	"fmt"
	"sync"
	"testing"

	"github.com/brettbedarf/ephemfs/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegister_SingleProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider := &mocks.MockContentProvider{}

	r.Register(HTTPSourceType, mockProvider)
	provider, err := r.GetProvider(HTTPSourceType)

	require.NoError(t, err)
	assert.Equal(t, mockProvider, provider)
}

func TestRegister_DuplicateProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider1 := &mocks.MockContentProvider{}
	mockProvider2 := &mocks.MockContentProvider{}

	r.Register("test", mockProvider1)
	r.Register("test", mockProvider2)

	provider, err := r.GetProvider("test")
	require.NoError(t, err)
	assert.Same(t, mockProvider1, provider)
}

func TestRegister_Concurrent(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	r := NewRegistry()

	for i := range 100 {
		wg.Go(func() {
			sourceType := fmt.Sprintf("test%d", i)
			mockProvider := &mocks.MockContentProvider{}
			r.Register(sourceType, mockProvider)
			provider, err := r.GetProvider(sourceType)
			assert.NoError(t, err)
			assert.Same(t, mockProvider, provider)
		})
	}
	wg.Wait()
}

func TestGetProvider_NonExistentProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.GetProvider("nonexistent")
	assert.Error(t, err)
}

func TestNewSource_ValidConfig(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	mockProvider := &mocks.MockContentProvider{}
	mockSource := &mocks.MockContentSource{}
	r.Register("test", mockProvider)

	cfg := []byte(`{"type":"test"}`) // only need type field for tests
	mockProvider.On("NewSource", cfg).Return(mockSource, nil)
	ret, err := r.NewSource(cfg)
	require.NoError(t, err)
	mockProvider.AssertCalled(t, "NewSource", cfg)
	assert.Equal(t, mockSource, ret)
}

func TestNewSource_Errors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	failing := &mocks.MockContentProvider{}
	failing.On("NewSource", mock.Anything).Return(nil, fmt.Errorf("test error"))
	r.Register("failing", failing)

	tests := []struct {
		desc string
		raw  string
	}{
		{"not json", `nope`},
		{"missing type", `{"foo":"bar"}`},
		{"unregistered type", `{"type":"foo"}`},
		{"provider error", `{"type":"failing"}`},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := r.NewSource([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
	failing.AssertExpectations(t)
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	t.Run("all", func(t *testing.T) {
		r := NewRegistry()
		RegisterBuiltins(r)

		p, err := r.GetProvider(HTTPSourceType)
		require.NoError(t, err)
		assert.IsType(t, &HTTPProvider{}, p)
		p, err = r.GetProvider(InlineSourceType)
		require.NoError(t, err)
		assert.IsType(t, &InlineProvider{}, p)
	})

	t.Run("subset", func(t *testing.T) {
		r := NewRegistry()
		RegisterBuiltins(r, InlineSourceType)

		_, err := r.GetProvider(HTTPSourceType)
		assert.Error(t, err)
	})
}
