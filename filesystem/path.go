package filesystem

import (
	"slices"
	"strings"

	"github.com/brettbedarf/ephemfs"
	"github.com/cockroachdb/errors"
)

// CanonicalPath is an absolute path reduced to its segments: no ".", no "..",
// no empty segments. The zero value is root.
type CanonicalPath struct {
	segs []string
}

// RootPath is the canonical path of the root directory
var RootPath = CanonicalPath{}

func (p CanonicalPath) String() string {
	return "/" + strings.Join(p.segs, "/")
}

// Segments returns a copy of the path segments; empty for root
func (p CanonicalPath) Segments() []string {
	return slices.Clone(p.segs)
}

func (p CanonicalPath) IsRoot() bool {
	return len(p.segs) == 0
}

// Base returns the last segment or "" for root
func (p CanonicalPath) Base() string {
	if p.IsRoot() {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// Parent returns the containing directory. Root is its own parent.
func (p CanonicalPath) Parent() CanonicalPath {
	if p.IsRoot() {
		return p
	}
	return CanonicalPath{segs: p.segs[:len(p.segs)-1:len(p.segs)-1]}
}

// Join appends a single child name
func (p CanonicalPath) Join(name string) CanonicalPath {
	segs := make([]string, len(p.segs), len(p.segs)+1)
	copy(segs, p.segs)
	return CanonicalPath{segs: append(segs, name)}
}

// Equal reports whether both paths name the same node
func (p CanonicalPath) Equal(o CanonicalPath) bool {
	return slices.Equal(p.segs, o.segs)
}

// HasPrefix reports whether o is p or one of its ancestors
func (p CanonicalPath) HasPrefix(o CanonicalPath) bool {
	return len(o.segs) <= len(p.segs) && slices.Equal(p.segs[:len(o.segs)], o.segs)
}

// PathResolver canonicalizes textual paths against a working directory and
// walks them through a node tree.
type PathResolver struct {
	workingDir CanonicalPath
}

// NewPathResolver requires an absolute working directory
func NewPathResolver(workingDir string) (*PathResolver, error) {
	if !strings.HasPrefix(workingDir, "/") {
		return nil, errors.Wrapf(ephemfs.ErrInvalidPath, "working directory %q is not absolute", workingDir)
	}
	r := &PathResolver{}
	wd, err := r.Canonical(workingDir)
	if err != nil {
		return nil, err
	}
	r.workingDir = wd
	return r, nil
}

func (r *PathResolver) WorkingDir() CanonicalPath {
	return r.workingDir
}

// Canonical turns p into a canonical absolute path. Relative paths are joined
// to the working directory and ".." never climbs above root.
func (r *PathResolver) Canonical(p string) (CanonicalPath, error) {
	if p == "" {
		return CanonicalPath{}, errors.Wrap(ephemfs.ErrInvalidPath, "empty path")
	}
	if strings.IndexByte(p, 0) >= 0 {
		return CanonicalPath{}, errors.Wrapf(ephemfs.ErrInvalidPath, "%q contains NUL", p)
	}

	var segs []string
	if !strings.HasPrefix(p, "/") {
		segs = slices.Clone(r.workingDir.segs)
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}
	return CanonicalPath{segs: segs}, nil
}

// Walk follows p from root without creating anything. It fails with
// ErrNotFound for a missing segment and ErrNotADirectory when an
// intermediate segment is a file.
func (r *PathResolver) Walk(root *Node, p CanonicalPath) (*Node, error) {
	cur := root
	for i, name := range p.segs {
		if !cur.IsDir() {
			return nil, errors.Wrapf(ephemfs.ErrNotADirectory, "%s", CanonicalPath{segs: p.segs[:i]})
		}
		child, ok := cur.GetChild(name)
		if !ok {
			return nil, errors.Wrapf(ephemfs.ErrNotFound, "%s", CanonicalPath{segs: p.segs[:i+1]})
		}
		cur = child
	}
	return cur, nil
}

// WalkCreating follows every segment of p except the last, calling mkdir for
// each one that is missing, and returns the parent of the final segment.
// Caller must hold the structural write lock.
func (r *PathResolver) WalkCreating(root *Node, p CanonicalPath, mkdir func(parent *Node, name string) *Node) (*Node, error) {
	cur := root
	for i, name := range p.Parent().segs {
		child, ok := cur.GetChild(name)
		if !ok {
			child = mkdir(cur, name)
		} else if !child.IsDir() {
			return nil, errors.Wrapf(ephemfs.ErrNotADirectory, "%s", CanonicalPath{segs: p.segs[:i+1]})
		}
		cur = child
	}
	return cur, nil
}
