package filesystem

import (
	"github.com/brettbedarf/ephemfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// NodeContext wraps a locked [Node] (plus any upstream locks such as the
// structural tree lock it was resolved under).
// The Node is locked with mu.RLock() to protect access to name and parent.
// Children access within the context uses lock-free xsync.Map operations.
// Calling NodeContext.Close() unwinds all unlocking/cleanup callbacks in reverse order.
// Do NOT invoke any locking methods on the raw Node while this context is
// active. Use only the helpers below.
//
// NOTE: NodeContext itself is **not** thread-safe meaning references
// to it should not be shared between goroutines
type NodeContext struct {
	node     *Node
	path     CanonicalPath
	closeFns []func()
}

// NewNodeContext RLocks the Node and returns a new NodeContext for safe access
func NewNodeContext(node *Node, path CanonicalPath) *NodeContext {
	node.mu.RLock()
	ctx := &NodeContext{node: node, path: path}
	ctx.AddClose(node.mu.RUnlock)
	return ctx
}

// Name returns the node's name as of locking.
func (ctx *NodeContext) Name() string {
	return ctx.node.name
}

// Path is the canonical path the node was resolved from
func (ctx *NodeContext) Path() CanonicalPath {
	return ctx.path
}

// Attr returns a snapshot of the attributes.
func (ctx *NodeContext) Attr() fuse.Attr {
	// brief inode read-lock & release
	return ctx.node.CopyAttr()
}

func (ctx *NodeContext) IsDir() bool {
	return ctx.node.IsDir()
}

// Store returns the file's bytes or nil for a directory
func (ctx *NodeContext) Store() *ByteStore {
	return ctx.node.store
}

// Info snapshots the node's metadata
func (ctx *NodeContext) Info() ephemfs.FileInfo {
	a := ctx.Attr()
	return ephemfs.FileInfo{
		Name:    ctx.path.Base(),
		Path:    ctx.path.String(),
		Size:    int64(a.Size),
		IsDir:   ctx.node.store == nil,
		Mode:    fileMode(&a),
		ModTime: modTime(&a),
		Ino:     a.Ino,
	}
}

// ChildNames returns the names of the immediate children in sorted order
func (ctx *NodeContext) ChildNames() []string {
	return ctx.node.ChildNames()
}

// IterChildren visits children in name order. Each child is read-locked
// before the callback is invoked and unlocked automatically after it returns.
// Iteration stops at the first error.
func (ctx *NodeContext) IterChildren(fn func(ctx *NodeContext) error) error {
	for _, name := range ctx.node.ChildNames() {
		child, ok := ctx.node.GetChild(name)
		if !ok {
			continue
		}
		nc := NewNodeContext(child, ctx.path.Join(name))
		err := fn(nc)
		nc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// AddClose pushes a cleanup callback (e.g., unlock) onto the end of the stack.
func (ctx *NodeContext) AddClose(fn func()) {
	ctx.closeFns = append(ctx.closeFns, fn)
}

// Close unwinds all cleanup callbacks in reverse order.
// Safe to call even if ctx is nil or no locks were acquired; it is
// a no-op in those cases, so you can `defer ctx.Close()` unconditionally.
//
// Example:
//
//	ctx, err := fs.lookupCtx("/dir/file")
//	defer ctx.Close()
func (ctx *NodeContext) Close() {
	if ctx == nil {
		return
	}
	for i := len(ctx.closeFns) - 1; i >= 0; i-- {
		ctx.closeFns[i]()
	}
	ctx.closeFns = nil
}
