package requests

import (
	"encoding/json"

	"github.com/brettbedarf/ephemfs"
)

// NodeRequestDTO is the JSON representation of [ephemfs.NodeRequest]
type NodeRequestDTO struct {
	Path  string                        `json:"path"`
	Type  ephemfs.NodeCreateRequestType `json:"type"`
	UUID  *string                       `json:"uuid,omitempty"`  // Optional UUID to correlate a request with logs
	Perms *uint32                       `json:"perms,omitempty"` // i.e. 0755; config default when unset
}

// FileRequestDTO is the JSON representation of [ephemfs.FileCreateRequest]
//
// Source fields depend on the "type" value:
//
// Ex. For type="http" (see [sources.HTTPSourceConfig]):
//
//	{"type": "http", "url": "https://example.com/a.bin", "headers": {"Accept": "*/*"}}
//
// Ex. For type="inline" (see [sources.InlineSourceConfig]):
//
//	{"type": "inline", "text": "hello"}
type FileRequestDTO struct {
	NodeRequestDTO
	Source json.RawMessage `json:"source,omitempty"`
	Size   *int64          `json:"size,omitempty"` // Zero-extend content to at least this many bytes
}

type DirRequestDTO struct {
	NodeRequestDTO
}
