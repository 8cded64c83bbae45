package filesystem

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/config"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/cockroachdb/errors"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// FileSystem is an in-memory directory tree with byte-exact file contents.
//
// Structural changes (create, mkdirs, delete, rename) hold mu for writing;
// lookups hold it for reading. File contents are guarded per file by their
// [ByteStore], so reads and writes through channels never touch mu.
type FileSystem struct {
	cfg      *config.Config
	resolver *PathResolver
	mu       sync.RWMutex                // structural lock over the node tree
	root     *Node                       // Root of node tree
	lastIno  atomic.Uint64               // Last fuse Attr.Ino assigned; incremented when nodes are linked
	channels *xsync.Map[string, *Channel] // open channels by id
	slots    atomic.Int64                // channels open or being opened; bounded by cfg.MaxChannels
	disposed atomic.Bool                 // set under mu.Lock()
}

// NewFS builds an empty filesystem holding only the root directory
func NewFS(cfg *config.Config) (*FileSystem, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	resolver, err := NewPathResolver(cfg.WorkingDir)
	if err != nil {
		return nil, err
	}

	rootAttr := newDefaultAttr(fuse.FUSE_ROOT_ID)
	rootAttr.Mode = uint32(DirAttr) | cfg.DirPerms&permMask

	fs := FileSystem{
		cfg:      cfg,
		resolver: resolver,
		root:     NewNode("", NewInode(rootAttr, nil)),
		channels: xsync.NewMap[string, *Channel](),
	}
	fs.lastIno.Store(fuse.FUSE_ROOT_ID)
	return &fs, nil
}

// WorkingDir is the directory relative paths resolve against
func (fs *FileSystem) WorkingDir() string {
	return fs.resolver.WorkingDir().String()
}

// checkLive fails once the filesystem is disposed. Checked without mu it is
// only a fast path; callers re-check while holding mu before changing state.
func (fs *FileSystem) checkLive(op, path string) error {
	if fs.disposed.Load() {
		return errors.Wrapf(ephemfs.ErrDisposed, "%s %s", op, path)
	}
	return nil
}

// lockLive takes the structural write lock unless the filesystem is disposed
func (fs *FileSystem) lockLive(op string, p CanonicalPath) error {
	fs.mu.Lock()
	if err := fs.checkLive(op, p.String()); err != nil {
		fs.mu.Unlock()
		return err
	}
	return nil
}

// canonical checks liveness and canonicalizes path for op
func (fs *FileSystem) canonical(op, path string) (CanonicalPath, error) {
	if err := fs.checkLive(op, path); err != nil {
		return CanonicalPath{}, err
	}
	p, err := fs.resolver.Canonical(path)
	if err != nil {
		return CanonicalPath{}, errors.Wrapf(err, "%s", op)
	}
	return p, nil
}

// lookupCtx resolves p under the structural read lock and returns a locked
// NodeContext holding that lock until Close.
//
// Caller is responsible for closing the context when done `defer ctx.Close()`.
func (fs *FileSystem) lookupCtx(p CanonicalPath) (*NodeContext, error) {
	logger := util.GetLogger("FS.lookupCtx")
	logger.Trace().Str("path", p.String()).Msg("lookupCtx called")

	fs.mu.RLock()
	if err := fs.checkLive("lookup", p.String()); err != nil {
		fs.mu.RUnlock()
		return nil, err
	}
	node, err := fs.resolver.Walk(fs.root, p)
	if err != nil {
		fs.mu.RUnlock()
		logger.Trace().Err(err).Str("path", p.String()).Msg("No node found")
		return nil, err
	}
	ctx := &NodeContext{node: node, path: p}
	ctx.AddClose(fs.mu.RUnlock)
	node.mu.RLock()
	ctx.AddClose(node.mu.RUnlock)
	return ctx, nil
}

// Open returns a channel on the file at path. ReadWrite creates a missing
// file, but never its parent directories.
func (fs *FileSystem) Open(path string, mode ephemfs.OpenMode) (ephemfs.StoreChannel, error) {
	ch, err := fs.OpenChannel(path, mode)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// OpenChannel is [FileSystem.Open] returning the concrete channel
func (fs *FileSystem) OpenChannel(path string, mode ephemfs.OpenMode) (*Channel, error) {
	logger := util.GetLogger("FS.Open")
	logger.Trace().Str("path", path).Stringer("mode", mode).Msg("Open called")

	p, err := fs.canonical("open", path)
	if err != nil {
		return nil, err
	}
	if !fs.reserveSlot() {
		return nil, errors.Wrapf(ephemfs.ErrTooManyChannels, "open %s: limit %d", p, fs.cfg.MaxChannels)
	}
	ch, err := fs.openReserved(p, mode)
	if err != nil {
		fs.slots.Add(-1)
		return nil, err
	}
	return ch, nil
}

// reserveSlot claims room for one more channel without exceeding MaxChannels
func (fs *FileSystem) reserveSlot() bool {
	limit := int64(fs.cfg.MaxChannels)
	for {
		n := fs.slots.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if fs.slots.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// openReserved registers a channel while holding mu so Dispose either sees
// it or the open fails with ErrDisposed
func (fs *FileSystem) openReserved(p CanonicalPath, mode ephemfs.OpenMode) (*Channel, error) {
	ctx, err := fs.lookupCtx(p)
	if err == nil {
		defer ctx.Close()
		if ctx.IsDir() {
			return nil, errors.Wrapf(ephemfs.ErrIsADirectory, "open %s", p)
		}
		return fs.registerChannel(p, ctx.node, mode), nil
	}
	if !errors.Is(err, ephemfs.ErrNotFound) || !mode.Writable() {
		return nil, errors.Wrapf(err, "open %s", p)
	}

	if err := fs.lockLive("open", p); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()
	node, err := fs.createFileLocked(p, 0, true)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p)
	}
	return fs.registerChannel(p, node, mode), nil
}

// registerChannel stores a channel for a reserved slot. Caller must hold mu.
func (fs *FileSystem) registerChannel(p CanonicalPath, node *Node, mode ephemfs.OpenMode) *Channel {
	ch := newChannel(p, node, mode, func(c *Channel) {
		fs.channels.Delete(c.id)
		fs.slots.Add(-1)
	})
	fs.channels.Store(ch.id, ch)
	logger := util.GetLogger("FS.Open")
	logger.Debug().Str("id", ch.id).Str("path", p.String()).Uint64("ino", node.Ino()).Stringer("mode", mode).Msg("Opened channel")
	return ch
}

// createFileLocked links a new empty file at p. The parent must already
// exist. With reuse set an existing file is returned instead of failing.
// Caller must hold fs.mu.Lock().
func (fs *FileSystem) createFileLocked(p CanonicalPath, perms uint32, reuse bool) (*Node, error) {
	if p.IsRoot() {
		return nil, ephemfs.ErrIsADirectory
	}
	parent, err := fs.resolver.Walk(fs.root, p.Parent())
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, errors.Wrapf(ephemfs.ErrNotADirectory, "%s", p.Parent())
	}
	if existing, ok := parent.GetChild(p.Base()); ok {
		switch {
		case !reuse:
			return nil, ephemfs.ErrAlreadyExists
		case existing.IsDir():
			return nil, ephemfs.ErrIsADirectory
		}
		return existing, nil
	}
	node := fs.newFileNode(p.Base(), perms)
	fs.linkLocked(parent, node)
	return node, nil
}

// Create makes a new empty file. The parent directory must exist.
func (fs *FileSystem) Create(path string) error {
	logger := util.GetLogger("FS.Create")
	logger.Trace().Str("path", path).Msg("Create called")

	p, err := fs.canonical("create", path)
	if err != nil {
		return err
	}
	if err := fs.lockLive("create", p); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	if _, err := fs.createFileLocked(p, 0, false); err != nil {
		return errors.Wrapf(err, "create %s", p)
	}
	logger.Debug().Str("path", p.String()).Msg("Created file")
	return nil
}

// Mkdirs creates the directory at path and any missing ancestors. It is a
// no-op when the directory already exists.
func (fs *FileSystem) Mkdirs(path string) error {
	_, err := fs.mkdirs("mkdirs", path, 0)
	return err
}

func (fs *FileSystem) mkdirs(op, path string, perms uint32) (*Node, error) {
	logger := util.GetLogger("FS.Mkdirs")
	logger.Trace().Str("path", path).Msg("Mkdirs called")

	p, err := fs.canonical(op, path)
	if err != nil {
		return nil, err
	}
	if err := fs.lockLive(op, p); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()

	// perms apply to the leaf only; ancestors get the configured default
	newCnt := 0
	parent, err := fs.resolver.WalkCreating(fs.root, p, func(parent *Node, name string) *Node {
		newCnt++
		return fs.mkdirLocked(parent, name, 0)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", op, p)
	}
	leaf := parent
	if !p.IsRoot() {
		if child, ok := parent.GetChild(p.Base()); !ok {
			newCnt++
			leaf = fs.mkdirLocked(parent, p.Base(), perms)
		} else if !child.IsDir() {
			return nil, errors.Wrapf(ephemfs.ErrNotADirectory, "%s %s", op, p)
		} else {
			leaf = child
		}
	}
	if newCnt == 0 && perms != 0 {
		leaf.SetPerms(perms)
		leaf.Touch()
	}
	if newCnt > 0 {
		logger.Debug().Str("path", p.String()).Int("created", newCnt).Msg("Created new dir(s)")
	}
	return leaf, nil
}

// mkdirLocked links a new directory. Caller must hold fs.mu.Lock().
func (fs *FileSystem) mkdirLocked(parent *Node, name string, perms uint32) *Node {
	node := fs.newDirNode(name, perms)
	fs.linkLocked(parent, node)
	return node
}

// linkLocked numbers node and adds it under parent. Inode numbers are only
// spent on nodes that make it into the tree. Caller must hold fs.mu.Lock().
func (fs *FileSystem) linkLocked(parent, node *Node) {
	node.setIno(fs.lastIno.Add(1))
	parent.AddChild(node)
	parent.Touch()
}

// ListFiles returns the canonical absolute paths of the immediate children
// of the directory at path, sorted.
func (fs *FileSystem) ListFiles(path string) ([]string, error) {
	names, p, err := fs.listChildren("list", path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = p.Join(name).String()
	}
	return paths, nil
}

// ListChildren returns the names of the immediate children, sorted
func (fs *FileSystem) ListChildren(path string) ([]string, error) {
	names, _, err := fs.listChildren("list", path)
	return names, err
}

func (fs *FileSystem) listChildren(op, path string) ([]string, CanonicalPath, error) {
	p, err := fs.canonical(op, path)
	if err != nil {
		return nil, p, err
	}
	ctx, err := fs.lookupCtx(p)
	if err != nil {
		return nil, p, errors.Wrapf(err, "%s %s", op, p)
	}
	defer ctx.Close()
	if !ctx.IsDir() {
		return nil, p, errors.Wrapf(ephemfs.ErrNotADirectory, "%s %s", op, p)
	}
	return ctx.ChildNames(), p, nil
}

// Delete removes a file or an empty directory. Channels already open on a
// deleted file keep working on its detached bytes.
func (fs *FileSystem) Delete(path string) error {
	return fs.delete("delete", path, false)
}

// DeleteRecursively removes a node and its whole subtree
func (fs *FileSystem) DeleteRecursively(path string) error {
	return fs.delete("delete", path, true)
}

func (fs *FileSystem) delete(op, path string, recursive bool) error {
	logger := util.GetLogger("FS.Delete")
	logger.Trace().Str("path", path).Bool("recursive", recursive).Msg("Delete called")

	p, err := fs.canonical(op, path)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return errors.Wrapf(ephemfs.ErrInvalidPath, "%s %s: cannot delete root", op, p)
	}
	if err := fs.lockLive(op, p); err != nil {
		return err
	}
	defer fs.mu.Unlock()

	node, err := fs.resolver.Walk(fs.root, p)
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, p)
	}
	if !recursive && node.ChildCount() > 0 {
		return errors.Wrapf(ephemfs.ErrDirectoryNotEmpty, "%s %s", op, p)
	}
	parent := node.Parent()
	parent.RemoveChild(p.Base())
	parent.Touch()
	logger.Debug().Str("path", p.String()).Msg("Deleted node")
	return nil
}

// Rename moves the node at from to to. The target's parent must exist and
// the target itself must not. Channels keep the path they were opened on.
func (fs *FileSystem) Rename(from, to string) error {
	logger := util.GetLogger("FS.Rename")
	logger.Trace().Str("from", from).Str("to", to).Msg("Rename called")

	src, err := fs.canonical("rename", from)
	if err != nil {
		return err
	}
	dst, err := fs.canonical("rename", to)
	if err != nil {
		return err
	}
	if src.IsRoot() || dst.IsRoot() {
		return errors.Wrapf(ephemfs.ErrInvalidPath, "rename %s to %s: root cannot move", src, dst)
	}

	if err := fs.lockLive("rename", src); err != nil {
		return err
	}
	defer fs.mu.Unlock()

	node, err := fs.resolver.Walk(fs.root, src)
	if err != nil {
		return errors.Wrapf(err, "rename %s", src)
	}
	if src.Equal(dst) {
		return nil
	}
	if dst.HasPrefix(src) {
		return errors.Wrapf(ephemfs.ErrInvalidPath, "rename %s to %s: target inside source", src, dst)
	}
	dstParent, err := fs.resolver.Walk(fs.root, dst.Parent())
	if err != nil {
		return errors.Wrapf(err, "rename %s to %s", src, dst)
	}
	if !dstParent.IsDir() {
		return errors.Wrapf(ephemfs.ErrNotADirectory, "rename %s to %s", src, dst)
	}
	if _, ok := dstParent.GetChild(dst.Base()); ok {
		return errors.Wrapf(ephemfs.ErrAlreadyExists, "rename %s to %s", src, dst)
	}

	srcParent := node.Parent()
	srcParent.RemoveChild(src.Base())
	node.rename(dst.Base())
	dstParent.AddChild(node)
	srcParent.Touch()
	dstParent.Touch()
	logger.Debug().Str("from", src.String()).Str("to", dst.String()).Msg("Renamed node")
	return nil
}

// Stat returns a metadata snapshot of the node at path
func (fs *FileSystem) Stat(path string) (ephemfs.FileInfo, error) {
	p, err := fs.canonical("stat", path)
	if err != nil {
		return ephemfs.FileInfo{}, err
	}
	ctx, err := fs.lookupCtx(p)
	if err != nil {
		return ephemfs.FileInfo{}, errors.Wrapf(err, "stat %s", p)
	}
	defer ctx.Close()
	return ctx.Info(), nil
}

// FileExists reports whether any node exists at path
func (fs *FileSystem) FileExists(path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

func (fs *FileSystem) IsDirectory(path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.IsDir
}

// fileCtx resolves path to a file, rejecting directories
func (fs *FileSystem) fileCtx(op, path string) (*NodeContext, error) {
	p, err := fs.canonical(op, path)
	if err != nil {
		return nil, err
	}
	ctx, err := fs.lookupCtx(p)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", op, p)
	}
	if ctx.IsDir() {
		ctx.Close()
		return nil, errors.Wrapf(ephemfs.ErrIsADirectory, "%s %s", op, p)
	}
	return ctx, nil
}

// Truncate resizes the file at path
func (fs *FileSystem) Truncate(path string, size int64) error {
	ctx, err := fs.fileCtx("truncate", path)
	if err != nil {
		return err
	}
	defer ctx.Close()
	if err := ctx.Store().Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s", ctx.Path())
	}
	ctx.node.Touch()
	return nil
}

// ReadFile returns a copy of the whole file
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	ctx, err := fs.fileCtx("read", path)
	if err != nil {
		return nil, err
	}
	defer ctx.Close()
	return ctx.Store().Snapshot(), nil
}

// WriteFile replaces the content of the file at path, creating it if needed
func (fs *FileSystem) WriteFile(path string, data []byte) error {
	ch, err := fs.OpenChannel(path, ephemfs.ReadWrite)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck
	if err := ch.Truncate(0); err != nil {
		return err
	}
	_, err = ch.Write(data)
	return err
}

// Walk visits the subtree at path depth-first, parents before children and
// siblings in name order. It holds the structural read lock for the whole
// walk, so fn must not create, delete or rename nodes.
func (fs *FileSystem) Walk(path string, fn func(info ephemfs.FileInfo) error) error {
	p, err := fs.canonical("walk", path)
	if err != nil {
		return err
	}
	ctx, err := fs.lookupCtx(p)
	if err != nil {
		return errors.Wrapf(err, "walk %s", p)
	}
	defer ctx.Close()
	return walkCtx(ctx, fn)
}

func walkCtx(ctx *NodeContext, fn func(info ephemfs.FileInfo) error) error {
	if err := fn(ctx.Info()); err != nil {
		return err
	}
	if !ctx.IsDir() {
		return nil
	}
	return ctx.IterChildren(func(child *NodeContext) error {
		return walkCtx(child, fn)
	})
}

// OpenChannels returns the number of channels not yet closed
func (fs *FileSystem) OpenChannels() int {
	return fs.channels.Size()
}

// Dispose closes every open channel and drops the tree. Every later
// operation fails with ErrDisposed. Disposing twice is a no-op.
func (fs *FileSystem) Dispose() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.disposed.CompareAndSwap(false, true) {
		return
	}
	logger := util.GetLogger("FS.Dispose")

	// Channels register under mu, so none can appear after this range
	closed := 0
	fs.channels.Range(func(_ string, ch *Channel) bool {
		if ch.Close() == nil {
			closed++
		}
		return true
	})
	fs.root.children.Clear()
	logger.Debug().Str("name", fs.cfg.Name).Int("channels", closed).Msg("Filesystem disposed")
}

// AddDirNode creates the requested directory and any missing ancestors and
// returns the leaf. It is equivalent to calling `mkdir -p` from a shell.
func (fs *FileSystem) AddDirNode(req *ephemfs.DirCreateRequest) (*Node, error) {
	logger := util.GetLogger("AddDirNode")
	node, err := fs.mkdirs("add dir", req.Path, req.Perms)
	if err != nil {
		logger.Error().Err(err).Str("path", req.Path).Str("uuid", req.UUID).Msg("Failed to add dir node")
		return nil, err
	}
	logger.Trace().Str("path", req.Path).Uint64("ino", node.Ino()).Msg("Added dir node")
	return node, nil
}

// AddFileNode adds a new file node to the filesystem. It will add any missing
// directories in the path and return the newly created leaf node.
// Content is copied from the request's source before the node is linked, so
// a failing source leaves the tree untouched.
// If a node already exists at the requested path, it will return an error
func (fs *FileSystem) AddFileNode(ctx context.Context, req *ephemfs.FileCreateRequest) (*Node, error) {
	logger := util.GetLogger("AddFileNode")

	p, err := fs.canonical("add file", req.Path)
	if err != nil {
		return nil, err
	}
	if fs.FileExists(p.String()) {
		return nil, errors.Wrapf(ephemfs.ErrAlreadyExists, "add file %s", p)
	}

	node := fs.newFileNode(p.Base(), req.Perms)
	if req.Source != nil {
		if err := fillFromSource(ctx, node.Store(), req.Source); err != nil {
			logger.Error().Err(err).Str("path", p.String()).Str("uuid", req.UUID).Msg("Failed to copy file content")
			return nil, errors.Wrapf(err, "add file %s", p)
		}
	}
	if req.Size > node.Store().Size() {
		if err := node.Store().Truncate(req.Size); err != nil {
			return nil, errors.Wrapf(err, "add file %s", p)
		}
	}

	if err := fs.lockLive("add file", p); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()
	parent, err := fs.resolver.WalkCreating(fs.root, p, func(parent *Node, name string) *Node {
		return fs.mkdirLocked(parent, name, 0)
	})
	if err != nil {
		logger.Error().Err(err).Str("path", p.String()).Msg("Failed to create file's ancestor directory(s)")
		return nil, errors.Wrapf(err, "add file %s", p)
	}
	if p.IsRoot() {
		return nil, errors.Wrapf(ephemfs.ErrIsADirectory, "add file %s", p)
	}
	if _, ok := parent.GetChild(p.Base()); ok {
		return nil, errors.Wrapf(ephemfs.ErrAlreadyExists, "add file %s", p)
	}
	fs.linkLocked(parent, node)
	logger.Debug().Str("path", p.String()).Uint64("ino", node.Ino()).Int64("size", node.Store().Size()).Msg("Added new file node")
	return node, nil
}

func fillFromSource(ctx context.Context, store *ByteStore, src ephemfs.ContentSource) error {
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck
	_, err = io.Copy(io.NewOffsetWriter(store, 0), rc)
	return err
}

func (fs *FileSystem) newDirNode(name string, perms uint32) *Node {
	if perms == 0 {
		perms = fs.cfg.DirPerms
	}
	attr := newDefaultAttr(0)
	attr.Mode = uint32(DirAttr) | perms&permMask
	attr.Nlink = 2
	return NewNode(name, NewInode(attr, nil))
}

func (fs *FileSystem) newFileNode(name string, perms uint32) *Node {
	if perms == 0 {
		perms = fs.cfg.FilePerms
	}
	attr := newDefaultAttr(0)
	attr.Mode = uint32(FileAttr) | perms&permMask
	return NewNode(name, NewInode(attr, NewByteStore(fs.cfg.PageSize)))
}

// newDefaultAttr returns the default attributes for a new node
// NOTE: Make sure to set the Mode field appropriately
func newDefaultAttr(ino uint64) *fuse.Attr {
	now := time.Now()
	return &fuse.Attr{
		Ino:   ino,
		Nlink: 1,
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
		Atime:     uint64(now.Unix()),
		Mtime:     uint64(now.Unix()),
		Ctime:     uint64(now.Unix()),
		Atimensec: uint32(now.Nanosecond()),
		Mtimensec: uint32(now.Nanosecond()),
		Ctimensec: uint32(now.Nanosecond()),
		Blksize:   blockSize,
	}
}

var _ ephemfs.FileSystem = (*FileSystem)(nil)
