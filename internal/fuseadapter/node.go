// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package fuseadapter

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/reinauer/AmiFUSE/internal/lockcache"
	"github.com/reinauer/AmiFUSE/internal/trackdisk"
)

// amiNode is one AmigaDOS path, file or directory, including the
// volume root (path ""). Every node shares the mount's single Cache
// and Device, so there is no separate root node type — see doc.go.
type amiNode struct {
	gofuse.Inode
	cache *lockcache.Cache
	dev   *trackdisk.Device
	path  string
}

var (
	_ gofuse.InodeEmbedder = (*amiNode)(nil)
	_ gofuse.NodeGetattrer = (*amiNode)(nil)
	_ gofuse.NodeLookuper  = (*amiNode)(nil)
	_ gofuse.NodeReaddirer = (*amiNode)(nil)
	_ gofuse.NodeOpener    = (*amiNode)(nil)
	_ gofuse.NodeReader    = (*amiNode)(nil)
	_ gofuse.NodeReleaser  = (*amiNode)(nil)
	_ gofuse.NodeStatfser  = (*amiNode)(nil)
)

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func (n *amiNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.cache.Stat(n.path)
	if err != nil {
		return lockcache.ToErrno(err, n.path == "")
	}
	out.Mode = modeFor(attr)
	out.Size = uint64(attr.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Mtime = uint64(attr.ModTime.Unix())
	out.Atime = out.Mtime
	out.Ctime = out.Mtime
	return 0
}

func (n *amiNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	path := childPath(n.path, name)
	attr, err := n.cache.Stat(path)
	if err != nil {
		return nil, lockcache.ToErrno(err, true)
	}
	mode := modeFor(attr)
	child := n.NewPersistentInode(ctx, &amiNode{cache: n.cache, dev: n.dev, path: path}, gofuse.StableAttr{Mode: mode & ^uint32(0o777)})
	out.Mode = mode
	out.Size = uint64(attr.Size)
	out.Mtime = uint64(attr.ModTime.Unix())
	return child, 0
}

func (n *amiNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := n.cache.Readdir(n.path)
	if err != nil {
		return nil, lockcache.ToErrno(err, true)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: modeFor(e.Attr)})
	}
	return &sliceDirStream{entries: out}, 0
}

func (n *amiNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	id, err := n.cache.Open(n.path)
	if err != nil {
		return nil, 0, lockcache.ToErrno(err, false)
	}
	return &fileHandle{id: id}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *amiNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh, ok := f.(*fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	nRead, err := n.cache.Read(fh.id, off, dest)
	if err != nil {
		return nil, lockcache.ToErrno(err, false)
	}
	return fuse.ReadResultData(dest[:nRead]), 0
}

func (n *amiNode) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	fh, ok := f.(*fileHandle)
	if !ok {
		return syscall.EBADF
	}
	if err := n.cache.Release(fh.id); err != nil {
		return lockcache.ToErrno(err, false)
	}
	return 0
}

// Statfs reports the virtual device's total block count with free
// always zero — the image is read-only and never gains free space
// (spec.md §4.7).
func (n *amiNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	if n.dev == nil {
		return syscall.ENOSYS
	}
	geom := n.dev.Geometry()
	out.Blocks = uint64(geom.TotalBlocks)
	out.Bfree = 0
	out.Bavail = 0
	out.Bsize = geom.BlockSize
	out.Frsize = geom.BlockSize
	out.NameLen = 107
	return 0
}

// fileHandle is the gofuse.FileHandle Open hands back: just the
// lockcache handle id, since the cache itself tracks position and the
// open AmigaDOS file handle.
type fileHandle struct {
	id int
}

// sliceDirStream implements gofuse.DirStream from a fixed slice,
// grounded on the same small adapter the teacher's FUSE layer uses.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
