package filesystem

import (
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

type Node struct {
	name     string                    // Name of the node (last part of the path). Protected by mu
	parent   *Node                     // Lookup only; the parent owns this node. Protected by mu
	mu       sync.RWMutex              // Protects the fields above
	children *xsync.Map[string, *Node] // nil for files
	*Inode
}

// NewNode creates a detached Node.
//
// NOTE: Parent node is responsible for adding itself to the returned Node's
// Parent ref when linking as its child
func NewNode(name string, inode *Inode) *Node {
	node := &Node{
		Inode: inode,
		name:  name,
	}
	if inode.IsDir() {
		node.children = xsync.NewMap[string, *Node]()
	}
	return node
}

// Name returns the node's current name
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Parent returns the containing directory or nil for root and detached nodes
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Path rebuilds the node's absolute path from its parent links.
// A detached node reports the path of its detached subtree.
func (n *Node) Path() CanonicalPath {
	var segs []string
	for cur := n; ; {
		cur.mu.RLock()
		name, parent := cur.name, cur.parent
		cur.mu.RUnlock()
		if parent == nil {
			break
		}
		segs = append(segs, name)
		cur = parent
	}
	slices.Reverse(segs)
	return CanonicalPath{segs: segs}
}

// AddChild adds a child node to the node's children map
// and sets the child's parent to this node
func (n *Node) AddChild(child *Node) {
	child.mu.Lock()
	defer child.mu.Unlock()
	n.children.Store(child.name, child)
	child.parent = n
}

// GetChild returns a child node.
// Safe to call when Node is already locked
func (n *Node) GetChild(name string) (child *Node, ok bool) {
	if n.children == nil {
		return nil, false
	}
	return n.children.Load(name)
}

// RemoveChild detaches and returns the named child
func (n *Node) RemoveChild(name string) (*Node, bool) {
	if n.children == nil {
		return nil, false
	}
	child, exists := n.children.LoadAndDelete(name)
	if !exists {
		return nil, false
	}
	child.mu.Lock()
	defer child.mu.Unlock()
	child.parent = nil
	return child, true
}

// ChildCount is 0 for files
func (n *Node) ChildCount() int {
	if n.children == nil {
		return 0
	}
	return n.children.Size()
}

// ChildNames returns the names of the immediate children in sorted order
func (n *Node) ChildNames() []string {
	if n.children == nil {
		return nil
	}
	names := make([]string, 0, n.children.Size())
	n.children.Range(func(name string, _ *Node) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// rename changes the name of a detached node
func (n *Node) rename(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.name = name
}
