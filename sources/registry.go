// Package sources turns raw JSON source definitions into [ephemfs.ContentSource]
// values used to seed file content.
package sources

import (
	"encoding/json"

	"github.com/brettbedarf/ephemfs"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v4"
)

// Registry maps a source "type" key to the provider that builds it
type Registry struct {
	providers *xsync.Map[string, ephemfs.ContentProvider]
}

func NewRegistry() *Registry {
	return &Registry{providers: xsync.NewMap[string, ephemfs.ContentProvider]()}
}

// Register ties a provider to a "type" key. The first registration for a
// key wins; later ones are ignored.
func (r *Registry) Register(sourceType string, provider ephemfs.ContentProvider) {
	r.providers.LoadOrStore(sourceType, provider)
}

// GetProvider returns the provider registered for sourceType
func (r *Registry) GetProvider(sourceType string) (ephemfs.ContentProvider, error) {
	p, ok := r.providers.Load(sourceType)
	if !ok {
		return nil, errors.Newf("no provider registered for source type %q", sourceType)
	}
	return p, nil
}

// NewSource picks the provider based on the "type" field of raw and hands it
// the full definition
func (r *Registry) NewSource(raw []byte) (ephemfs.ContentSource, error) {
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(err, "invalid source definition")
	}
	if meta.Type == "" {
		return nil, errors.New("source definition has no type")
	}
	p, err := r.GetProvider(meta.Type)
	if err != nil {
		return nil, err
	}
	return p.NewSource(raw)
}
