package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/cockroachdb/errors"
)

// HTTPClient is the subset of *http.Client used by [HTTPProvider]
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSourceConfig contains http-specific source request fields
type HTTPSourceConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HTTPProvider builds sources that GET their content once at seed time.
// All sources share the provider's client.
type HTTPProvider struct {
	client HTTPClient
}

func NewHTTPProvider(client HTTPClient) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{client: client}
}

func RegisterHTTP(r *Registry) {
	r.Register(HTTPSourceType, NewHTTPProvider(nil))
}

func (p *HTTPProvider) NewSource(raw []byte) (ephemfs.ContentSource, error) {
	var cfg HTTPSourceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "invalid http source")
	}
	u, err := validateURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &HTTPSource{client: p.client, url: u, headers: cfg.Headers}, nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("http source needs a url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Newf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Newf("url %q has no host", raw)
	}
	if u.User != nil {
		return "", errors.Newf("url %q must not embed credentials", raw)
	}
	return u.String(), nil
}

// HTTPSource implements [ephemfs.ContentSource] for a single URL
type HTTPSource struct {
	client  HTTPClient
	url     string
	headers map[string]string
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	logger := util.GetLogger("HTTPSource.Open")
	logger.Trace().Str("url", s.url).Msg("Open called")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", s.url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close() //nolint:errcheck
		return nil, errors.Newf("GET %s: unexpected status %s", s.url, resp.Status)
	}
	logger.Debug().Str("url", s.url).Int64("length", resp.ContentLength).Msg("Fetched source")
	return resp.Body, nil
}
