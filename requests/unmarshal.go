// Package requests decodes node definition files into create requests and
// applies them to a filesystem.
package requests

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/filesystem"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/brettbedarf/ephemfs/sources"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Format of a node definition document
type Format string

const (
	JSONFormat Format = "json"
	YAMLFormat Format = "yaml"
)

// Nodes holds decoded requests split by kind
type Nodes struct {
	Dirs  []*ephemfs.DirCreateRequest
	Files []*ephemfs.FileCreateRequest
}

// GetNodeType extracts the node type from JSON without full unmarshaling
func GetNodeType(data []byte) (ephemfs.NodeCreateRequestType, error) {
	var meta struct {
		Type ephemfs.NodeCreateRequestType `json:"type"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return meta.Type, nil
}

// UnmarshalFileRequest handles file-specific unmarshaling. The source, when
// present, is built through reg.
func UnmarshalFileRequest(data []byte, reg *sources.Registry) (*ephemfs.FileCreateRequest, error) {
	var dto FileRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	if dto.Path == "" {
		return nil, errors.Wrap(ephemfs.ErrInvalidPath, "file request without path")
	}

	req := &ephemfs.FileCreateRequest{
		NodeRequest: convertNodeDTO(dto.NodeRequestDTO),
		Size:        valueOrDefault(dto.Size, 0),
	}
	if len(dto.Source) > 0 && string(dto.Source) != "null" {
		if reg == nil {
			return nil, errors.Newf("file %s has a source but no registry was given", dto.Path)
		}
		src, err := reg.NewSource(dto.Source)
		if err != nil {
			return nil, errors.Wrapf(err, "file %s", dto.Path)
		}
		req.Source = src
	}
	return req, nil
}

// UnmarshalDirRequest handles explicit directory unmarshaling (no sources)
func UnmarshalDirRequest(data []byte) (*ephemfs.DirCreateRequest, error) {
	var dto DirRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	if dto.Path == "" {
		return nil, errors.Wrap(ephemfs.ErrInvalidPath, "dir request without path")
	}

	return &ephemfs.DirCreateRequest{
		NodeRequest: convertNodeDTO(dto.NodeRequestDTO),
	}, nil
}

// UnmarshalNodes decodes a JSON array or YAML sequence of node definitions.
// Every entry is attempted; the returned error combines all entry failures
// while Nodes holds the entries that decoded.
func UnmarshalNodes(data []byte, format Format, reg *sources.Registry) (*Nodes, error) {
	logger := util.GetLogger("UnmarshalNodes")

	rawNodes, err := splitNodes(data, format)
	if err != nil {
		return nil, err
	}

	nodes := &Nodes{}
	var errs error
	for i, rawNode := range rawNodes {
		nodeType, err := GetNodeType(rawNode)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "node %d", i))
			continue
		}

		switch nodeType {
		case ephemfs.FileNodeType:
			fileReq, err := UnmarshalFileRequest(rawNode, reg)
			if err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "node %d", i))
				continue
			}
			nodes.Files = append(nodes.Files, fileReq)
			logger.Trace().Str("path", fileReq.Path).Msg("Processed file request")

		case ephemfs.DirNodeType:
			dirReq, err := UnmarshalDirRequest(rawNode)
			if err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "node %d", i))
				continue
			}
			nodes.Dirs = append(nodes.Dirs, dirReq)
			logger.Trace().Str("path", dirReq.Path).Msg("Processed directory request")

		default:
			errs = errors.CombineErrors(errs, errors.Newf("node %d: unknown node type %q", i, nodeType))
		}
	}

	logger.Debug().
		Int("files", len(nodes.Files)).
		Int("directories", len(nodes.Dirs)).
		Msg("Loaded node requests")
	return nodes, errs
}

// splitNodes returns each entry as JSON. YAML is decoded generically and
// re-encoded so one set of DTOs serves both formats.
func splitNodes(data []byte, format Format) ([]json.RawMessage, error) {
	var rawNodes []json.RawMessage
	switch format {
	case JSONFormat:
		if err := json.Unmarshal(data, &rawNodes); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal node definitions")
		}
	case YAMLFormat:
		var generic []any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal node definitions")
		}
		for _, node := range generic {
			raw, err := json.Marshal(node)
			if err != nil {
				return nil, errors.Wrap(err, "failed to convert yaml node")
			}
			rawNodes = append(rawNodes, raw)
		}
	default:
		return nil, errors.Newf("unknown node definition format %q", format)
	}
	return rawNodes, nil
}

// LoadNodesFile reads path and picks the format by extension
func LoadNodesFile(path string, reg *sources.Registry) (*Nodes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var format Format
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		format = YAMLFormat
	case ".json":
		format = JSONFormat
	default:
		return nil, errors.Newf("unknown node definition file extension: %s", path)
	}
	return UnmarshalNodes(data, format, reg)
}

// Apply seeds fs with nodes, directories first. It keeps going past failed
// entries and returns how many of each kind were added.
func Apply(ctx context.Context, fs *filesystem.FileSystem, nodes *Nodes) (dirs, files int, err error) {
	logger := util.GetLogger("requests.Apply")

	for _, req := range nodes.Dirs {
		if _, addErr := fs.AddDirNode(req); addErr != nil {
			err = errors.CombineErrors(err, addErr)
			continue
		}
		dirs++
	}
	for _, req := range nodes.Files {
		if _, addErr := fs.AddFileNode(ctx, req); addErr != nil {
			err = errors.CombineErrors(err, addErr)
			continue
		}
		files++
	}
	logger.Info().Int("dirs", dirs).Int("files", files).Msg("Seeded filesystem")
	return dirs, files, err
}

// Conversion logic with defaults in the unmarshaling layer
func convertNodeDTO(dto NodeRequestDTO) ephemfs.NodeRequest {
	return ephemfs.NodeRequest{
		Path:  dto.Path,
		Type:  dto.Type,
		UUID:  valueOrDefault(dto.UUID, uuid.New().String()),
		Perms: valueOrDefault(dto.Perms, 0),
	}
}

func valueOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr != nil {
		return *ptr
	}
	return defaultVal
}
