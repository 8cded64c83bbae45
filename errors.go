package ephemfs

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// Error kinds returned by filesystem and channel operations. Operations wrap
// them with the offending path, so match with errors.Is. Kinds with an OS
// equivalent carry it as a mark, which lets code written against a disk
// filesystem keep its os.ErrNotExist style checks.
var (
	ErrNotFound          = errors.Mark(errors.New("no such file or directory"), oserror.ErrNotExist)
	ErrNotADirectory     = errors.New("not a directory")
	ErrIsADirectory      = errors.New("is a directory")
	ErrAlreadyExists     = errors.Mark(errors.New("file already exists"), oserror.ErrExist)
	ErrReadOnly          = errors.Mark(errors.New("channel is read-only"), oserror.ErrPermission)
	ErrClosedChannel     = errors.Mark(errors.New("channel is closed"), oserror.ErrClosed)
	ErrShortRead         = errors.Mark(errors.New("short read"), io.ErrUnexpectedEOF)
	ErrOutOfRange        = errors.Mark(errors.New("offset out of range"), oserror.ErrInvalid)
	ErrInvalidPath       = errors.Mark(errors.New("invalid path"), oserror.ErrInvalid)
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrDisposed          = errors.New("filesystem disposed")
	ErrTooManyChannels   = errors.New("too many open channels")
)
