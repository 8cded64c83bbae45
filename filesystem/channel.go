package filesystem

import (
	"io"
	"sync/atomic"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Channel is a positional handle over a file's [ByteStore]. Every channel
// owns its cursor; the bytes are shared with all other channels on the file.
//
// The cursor is unsynchronized: a Channel belongs to one goroutine at a time.
// Content calls are serialized by the store's own lock.
type Channel struct {
	id      string
	path    CanonicalPath
	inode   *Inode
	store   *ByteStore
	mode    ephemfs.OpenMode
	pos     int64
	closed  atomic.Bool
	onClose func(c *Channel)
}

func newChannel(path CanonicalPath, node *Node, mode ephemfs.OpenMode, onClose func(c *Channel)) *Channel {
	return &Channel{
		id:      uuid.New().String(),
		path:    path,
		inode:   node.Inode,
		store:   node.Store(),
		mode:    mode,
		onClose: onClose,
	}
}

func (c *Channel) checkOpen(op string) error {
	if c.closed.Load() {
		return errors.Wrapf(ephemfs.ErrClosedChannel, "%s %s", op, c.path)
	}
	return nil
}

func (c *Channel) checkWritable(op string) error {
	if err := c.checkOpen(op); err != nil {
		return err
	}
	if !c.mode.Writable() {
		return errors.Wrapf(ephemfs.ErrReadOnly, "%s %s", op, c.path)
	}
	return nil
}

// Write writes all of p at the cursor and advances it
func (c *Channel) Write(p []byte) (int, error) {
	if err := c.checkWritable("write"); err != nil {
		return 0, err
	}
	n, err := c.store.WriteAt(p, c.pos)
	if err != nil {
		return 0, errors.Wrapf(err, "write %s", c.path)
	}
	c.pos += int64(n)
	if n > 0 {
		c.inode.Touch()
	}
	return n, nil
}

// WriteAt writes all of p at off without moving the cursor
func (c *Channel) WriteAt(p []byte, off int64) (int, error) {
	if err := c.checkWritable("write"); err != nil {
		return 0, err
	}
	n, err := c.store.WriteAt(p, off)
	if err != nil {
		return 0, errors.Wrapf(err, "write %s", c.path)
	}
	if n > 0 {
		c.inode.Touch()
	}
	return n, nil
}

// Read copies up to len(p) bytes from the cursor and advances it by the
// count returned. At or past the end it returns 0, io.EOF.
func (c *Channel) Read(p []byte) (int, error) {
	if err := c.checkOpen("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := c.store.ReadAt(p, c.pos)
	c.pos += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

// ReadAt reads at off without moving the cursor. Fewer than len(p) bytes are
// returned together with io.EOF.
func (c *Channel) ReadAt(p []byte, off int64) (int, error) {
	if err := c.checkOpen("read"); err != nil {
		return 0, err
	}
	n, err := c.store.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, errors.Wrapf(err, "read %s", c.path)
	}
	return n, err
}

// ReadFull fills p from the cursor. When the data ends first it fails with
// ErrShortRead and the cursor keeps the bytes that were consumed.
func (c *Channel) ReadFull(p []byte) error {
	if err := c.checkOpen("read"); err != nil {
		return err
	}
	n, err := c.store.ReadAt(p, c.pos)
	c.pos += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(err, "read %s", c.path)
	}
	if n < len(p) {
		return errors.Wrapf(ephemfs.ErrShortRead, "read %s: got %d of %d bytes", c.path, n, len(p))
	}
	return nil
}

func (c *Channel) Position() (int64, error) {
	if err := c.checkOpen("position"); err != nil {
		return 0, err
	}
	return c.pos, nil
}

// SetPosition moves the cursor. Positions past the end are allowed; the next
// write there zero-fills the gap.
func (c *Channel) SetPosition(off int64) error {
	if err := c.checkOpen("position"); err != nil {
		return err
	}
	if off < 0 {
		return errors.Wrapf(ephemfs.ErrOutOfRange, "position %s at %d", c.path, off)
	}
	c.pos = off
	return nil
}

func (c *Channel) Seek(offset int64, whence int) (int64, error) {
	if err := c.checkOpen("seek"); err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = c.pos
	case io.SeekEnd:
		base = c.store.Size()
	default:
		return 0, errors.Wrapf(ephemfs.ErrOutOfRange, "seek %s: bad whence %d", c.path, whence)
	}
	if err := c.SetPosition(base + offset); err != nil {
		return 0, err
	}
	return c.pos, nil
}

// Size returns the live length shared by every channel on the file
func (c *Channel) Size() (int64, error) {
	if err := c.checkOpen("size"); err != nil {
		return 0, err
	}
	return c.store.Size(), nil
}

// Truncate resizes the file and pulls the cursor back inside it
func (c *Channel) Truncate(size int64) error {
	if err := c.checkWritable("truncate"); err != nil {
		return err
	}
	if err := c.store.Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s", c.path)
	}
	c.pos = min(c.pos, size)
	c.inode.Touch()
	return nil
}

// Close releases the channel. The file's data is unaffected.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.Wrapf(ephemfs.ErrClosedChannel, "close %s", c.path)
	}
	logger := util.GetLogger("Channel.Close")
	logger.Trace().Str("id", c.id).Str("path", c.path.String()).Msg("Channel closed")
	if c.onClose != nil {
		c.onClose(c)
	}
	return nil
}

// Path is the canonical path the channel was opened on
func (c *Channel) Path() string {
	return c.path.String()
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Mode() ephemfs.OpenMode {
	return c.mode
}

var _ ephemfs.StoreChannel = (*Channel)(nil)
