package filesystem

import (
	iofs "io/fs"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

type Inode struct {
	// Low-level attributes; Size and Blocks are derived from store on copy.
	// Only access directly if handling locks manually
	attr  *fuse.Attr
	store *ByteStore // nil for directories; never reassigned
	mu    sync.RWMutex
}

// NewInode pairs attributes with a byte store. Pass a nil store for directories.
func NewInode(attr *fuse.Attr, store *ByteStore) *Inode {
	return &Inode{
		attr:  attr,
		store: store,
	}
}

// CopyAttr returns a thread-safe copy of the inode's attributes with the
// current size filled in
func (n *Inode) CopyAttr() fuse.Attr {
	n.mu.RLock()
	a := *n.attr
	n.mu.RUnlock()

	if n.store != nil {
		a.Size = uint64(n.store.Size())
		a.Blocks = (a.Size + blockSize - 1) / blockSize
	}
	return a
}

func (n *Inode) IsDir() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attr.Mode&syscall.S_IFMT == uint32(DirAttr)
}

// Store returns the file's bytes or nil for a directory
func (n *Inode) Store() *ByteStore {
	return n.store
}

// Ino returns the inode number; 0 until the node is linked into a tree
func (n *Inode) Ino() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attr.Ino
}

func (n *Inode) setIno(ino uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attr.Ino = ino
}

// Touch records a content or structure change
func (n *Inode) Touch() {
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attr.Mtime, n.attr.Mtimensec = uint64(now.Unix()), uint32(now.Nanosecond())
	n.attr.Ctime, n.attr.Ctimensec = n.attr.Mtime, n.attr.Mtimensec
}

// SetPerms replaces the permission bits, leaving the type bits
func (n *Inode) SetPerms(perms uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attr.Mode = n.attr.Mode&syscall.S_IFMT | perms&permMask
}

// fileMode converts raw attribute bits into an io/fs mode
func fileMode(a *fuse.Attr) iofs.FileMode {
	m := iofs.FileMode(a.Mode & 0o777)
	if a.Mode&syscall.S_IFMT == uint32(DirAttr) {
		m |= iofs.ModeDir
	}
	return m
}

func modTime(a *fuse.Attr) time.Time {
	return time.Unix(int64(a.Mtime), int64(a.Mtimensec))
}
