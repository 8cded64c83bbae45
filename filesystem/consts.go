package filesystem

import "github.com/hanwen/go-fuse/v2/fuse"

type SysAttrType uint32

const (
	DirAttr  SysAttrType = fuse.S_IFDIR
	FileAttr SysAttrType = fuse.S_IFREG

	// permission bits kept from request perms
	permMask = 0o7777
	// reported block size; also the unit of Attr.Blocks
	blockSize = 512
)
