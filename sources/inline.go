package sources

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/brettbedarf/ephemfs"
	"github.com/cockroachdb/errors"
)

// InlineSourceConfig carries the content in the definition itself. Exactly one
// of Text and Base64 must be set.
type InlineSourceConfig struct {
	Text   *string `json:"text,omitempty"`
	Base64 *string `json:"base64,omitempty"`
}

type InlineProvider struct{}

func RegisterInline(r *Registry) {
	r.Register(InlineSourceType, &InlineProvider{})
}

func (p *InlineProvider) NewSource(raw []byte) (ephemfs.ContentSource, error) {
	var cfg InlineSourceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "invalid inline source")
	}
	switch {
	case cfg.Text != nil && cfg.Base64 != nil:
		return nil, errors.New("inline source sets both text and base64")
	case cfg.Text != nil:
		return &InlineSource{data: []byte(*cfg.Text)}, nil
	case cfg.Base64 != nil:
		data, err := base64.StdEncoding.DecodeString(*cfg.Base64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid inline base64")
		}
		return &InlineSource{data: data}, nil
	}
	return nil, errors.New("inline source needs text or base64")
}

// InlineSource serves bytes held in memory
type InlineSource struct {
	data []byte
}

func (s *InlineSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
