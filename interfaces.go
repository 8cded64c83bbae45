package ephemfs

import (
	"context"
	"io"
)

// StoreChannel is a positional handle over a file's bytes. Each channel has a
// private cursor; channels opened on equivalent paths share the same bytes.
// A channel is not safe for concurrent use by multiple goroutines.
type StoreChannel interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer

	// ReadFull fills p from the cursor or fails with [ErrShortRead]
	ReadFull(p []byte) error
	Position() (int64, error)
	SetPosition(off int64) error
	Size() (int64, error)
	Truncate(size int64) error

	Path() string
	ID() string
	Mode() OpenMode
}

// FileSystem is the public surface of an ephemeral filesystem instance.
// Relative paths are resolved against the instance's working directory.
type FileSystem interface {
	Open(path string, mode OpenMode) (StoreChannel, error)
	Create(path string) error
	Mkdirs(path string) error
	ListFiles(path string) ([]string, error)
	ListChildren(path string) ([]string, error)
	Delete(path string) error
	DeleteRecursively(path string) error
	Rename(from, to string) error

	Stat(path string) (FileInfo, error)
	FileExists(path string) bool
	IsDirectory(path string) bool
	Truncate(path string, size int64) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Walk(path string, fn func(info FileInfo) error) error

	OpenChannels() int
	Dispose()
}

// ContentSource supplies the initial bytes of a seeded file
type ContentSource interface {
	// Open returns a reader over the full content. Callers close it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ContentProvider is a factory for concrete [ContentSource] implementations
// generated from a raw source definition.
type ContentProvider interface {
	NewSource(raw []byte) (ContentSource, error)
}
