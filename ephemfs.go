// Package ephemfs contains the core domain types and interfaces for the ephemeral
// in-process filesystem. Concrete implementations live in the filesystem package;
// instance lifecycle helpers live in the harness package.
package ephemfs

// OpenMode controls whether a [StoreChannel] accepts writes.
type OpenMode int

const (
	// ReadOnly channels reject every mutating call with [ErrReadOnly]
	ReadOnly OpenMode = iota
	// ReadWrite channels may read and write; opening a missing file in this
	// mode creates it
	ReadWrite
)

func (m OpenMode) String() string {
	switch m {
	case ReadOnly:
		return "r"
	case ReadWrite:
		return "rw"
	default:
		return "unknown"
	}
}

// Writable reports whether channels opened with m accept writes
func (m OpenMode) Writable() bool {
	return m == ReadWrite
}
