package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func TestHTTPProvider_NewSource(t *testing.T) {
	provider := NewHTTPProvider(&MockHTTPClient{})

	t.Run("URL validation", func(t *testing.T) {
		tests := []struct {
			url     string
			wantErr bool
			desc    string
		}{
			// Valid cases
			{"http://test.com", false, "basic HTTP URL"},
			{"https://test.com", false, "basic HTTPS URL"},
			{"  http://test.com   ", false, "URL with whitespace"},
			{"http://test.com/path?arg=1&arg2=2", false, "URL with path and query"},
			{"http://test.com:8080", false, "URL with port"},
			{"http://localhost:8080/test", false, "localhost with port"},
			{"http://123.123.123.123/test", false, "IP address"},
			{"http://mylocalnet/test", false, "single label hostname"},

			// Invalid cases
			{"", true, "empty string"},
			{" ", true, "whitespace only"},
			{"_", true, "invalid character"},
			{"ftp://test.com", true, "different scheme rejected"},
			{"test.com", true, "missing scheme"},
			{"http://user@test.com/path", true, "URL with user info"},
		}

		for _, tt := range tests {
			t.Run(tt.desc, func(t *testing.T) {
				src, err := provider.NewSource(createCfg(tt.url, nil))

				if tt.wantErr {
					assert.Error(t, err)
					assert.Nil(t, src)
				} else {
					require.NoError(t, err)
					require.NotNil(t, src)
					assert.IsType(t, &HTTPSource{}, src)
				}
			})
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := provider.NewSource([]byte(`{"url":`))
		assert.Error(t, err)
	})
}

func TestHTTPSource_Open(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte("remote content " + r.Header.Get("X-Test")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.Client())

	t.Run("successful request with headers", func(t *testing.T) {
		src, err := provider.NewSource(createCfg(srv.URL+"/ok", map[string]string{"X-Test": "hdr"}))
		require.NoError(t, err)

		rc, err := src.Open(context.Background())
		require.NoError(t, err)
		defer rc.Close() //nolint:errcheck
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "remote content hdr", string(data))
	})

	t.Run("HTTP error status", func(t *testing.T) {
		src, err := provider.NewSource(createCfg(srv.URL+"/missing", nil))
		require.NoError(t, err)

		_, err = src.Open(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestHTTPSource_Open_ClientError(t *testing.T) {
	t.Parallel()

	client := &MockHTTPClient{}
	client.On("Do", mock.Anything).Return(nil, io.ErrUnexpectedEOF)
	provider := NewHTTPProvider(client)

	src, err := provider.NewSource(createCfg("http://test.com/x", nil))
	require.NoError(t, err)
	_, err = src.Open(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	client.AssertExpectations(t)
}

// Test helpers

func createCfg(url string, headers map[string]string) []byte {
	config := HTTPSourceConfig{URL: url, Headers: headers}
	data, _ := json.Marshal(config)
	return data
}
