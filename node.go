package ephemfs

import (
	"io/fs"
	"time"
)

// FileInfo is a point-in-time snapshot of a node's metadata
type FileInfo struct {
	Name    string // last path segment; "" for root
	Path    string // canonical absolute path
	Size    int64  // logical length; 0 for directories
	IsDir   bool
	Mode    fs.FileMode
	ModTime time.Time
	Ino     uint64
}
