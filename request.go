package ephemfs

// NodeRequest has common fields embedded in concrete request types
type NodeRequest struct {
	Path  string
	Type  NodeCreateRequestType
	UUID  string // Optional UUID to correlate a request with logs
	Perms uint32 // i.e. 0755
}

// NodeCreateRequestType valid types are FileNodeType "file", DirNodeType "dir"
type NodeCreateRequestType string

const (
	FileNodeType NodeCreateRequestType = "file"
	DirNodeType  NodeCreateRequestType = "dir"
)

// FileCreateRequest seeds a file. Content is copied from Source when set,
// then the file is extended with zeros up to Size when Size is larger.
type FileCreateRequest struct {
	NodeRequest
	Source ContentSource
	Size   int64
}

// DirCreateRequest seeds a directory and any missing ancestors
type DirCreateRequest struct {
	NodeRequest
}
