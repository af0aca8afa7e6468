package pakfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

type FSNode struct {
	fs.Inode
	filesystem *PakFileSystem
	node       *treeNode
}

func (n *FSNode) fillAttr(out *fuse.Attr) {
	if n.node.isDir() {
		out.Mode = fuse.S_IFDIR | 0755
		return
	}
	out.Mode = fuse.S_IFREG | 0644
	out.Size = uint64(n.node.entry.FileLength)
}

func (n *FSNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if n.filesystem.verbose {
		log.Debug().Str("path", n.node.path).Msg("Getattr called")
	}

	n.fillAttr(&out.Attr)
	return fs.OK
}

func (n *FSNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.filesystem.verbose {
		log.Debug().Str("path", n.node.path).Str("name", name).Msg("Lookup called")
	}

	childPath := n.node.path + "/" + name
	if n.node.path == "/" {
		childPath = "/" + name
	}

	// Check the cache
	n.filesystem.cacheMutex.RLock()
	entry, found := n.filesystem.lookupCache[childPath]
	n.filesystem.cacheMutex.RUnlock()
	if found {
		out.Attr = entry.attr
		return entry.inode, fs.OK
	}

	child, exists := n.node.children[name]
	n.filesystem.metrics.RecordLookup(exists)
	if !exists {
		return nil, syscall.ENOENT
	}

	childNode := &FSNode{filesystem: n.filesystem, node: child}
	childNode.fillAttr(&out.Attr)

	mode := uint32(fuse.S_IFREG)
	if child.isDir() {
		mode = fuse.S_IFDIR
	}
	childInode := n.NewInode(ctx, childNode, fs.StableAttr{Mode: mode})

	// Cache the result
	n.filesystem.cacheMutex.Lock()
	n.filesystem.lookupCache[childPath] = &lookupCacheEntry{inode: childInode, attr: out.Attr}
	n.filesystem.cacheMutex.Unlock()

	return childInode, fs.OK
}

func (n *FSNode) Opendir(ctx context.Context) syscall.Errno {
	return fs.OK
}

func (n *FSNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if n.filesystem.verbose {
		log.Debug().Str("path", n.node.path).Msg("Readdir called")
	}

	children := n.node.sortedChildren()
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		mode := uint32(fuse.S_IFREG)
		if child.isDir() {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Mode: mode, Name: child.name})
	}

	return fs.NewListDirStream(entries), fs.OK
}

func (n *FSNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.node.isDir() {
		return nil, 0, syscall.EISDIR
	}
	return nil, 0, fs.OK
}

func (n *FSNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if n.node.isDir() {
		return nil, syscall.EISDIR
	}

	fileSize := int64(n.node.entry.FileLength)
	if off >= fileSize || fileSize == 0 {
		return fuse.ReadResultData(dest[:0]), fs.OK
	}

	readLen := int64(len(dest))
	if maxReadable := fileSize - off; readLen > maxReadable {
		readLen = maxReadable
	}

	nRead, err := n.filesystem.storage.ReadPayload(n.node.entry, dest[:readLen], off)
	n.filesystem.metrics.RecordRead(int64(nRead), err)
	if err != nil {
		log.Error().Str("path", n.node.path).Int64("offset", off).Err(err).Msg("payload read failed")
		return nil, syscall.EIO
	}

	return fuse.ReadResultData(dest[:nRead]), fs.OK
}

func (n *FSNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *FSNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *FSNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *FSNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *FSNode) Rename(ctx context.Context, oldName string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}
