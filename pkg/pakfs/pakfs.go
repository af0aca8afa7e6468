package pakfs

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"

	"github.com/packworks/pak/pkg/common"
	"github.com/packworks/pak/pkg/metrics"
	"github.com/packworks/pak/pkg/pak"
	"github.com/packworks/pak/pkg/storage"
)

type PakFileSystemOpts struct {
	Verbose bool
	Metrics *metrics.Metrics
}

// PakFileSystem exposes a read-only view of an archive. A PAK stores a flat
// list of entries with slash-separated names; the directory tree is
// synthesized once at construction.
type PakFileSystem struct {
	storage     storage.PakStorageInterface
	metrics     *metrics.Metrics
	root        *FSNode
	lookupCache map[string]*lookupCacheEntry
	cacheMutex  sync.RWMutex
	verbose     bool
}

type lookupCacheEntry struct {
	inode *fs.Inode
	attr  fuse.Attr
}

// treeNode is one synthesized directory or file. entry is nil for
// directories.
type treeNode struct {
	name     string
	path     string
	entry    *pak.EntryHeader
	children map[string]*treeNode
}

func NewFileSystem(s storage.PakStorageInterface, opts PakFileSystemOpts) (*PakFileSystem, error) {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	pfs := &PakFileSystem{
		storage:     s,
		metrics:     m,
		verbose:     opts.Verbose,
		lookupCache: make(map[string]*lookupCacheEntry),
	}

	root := buildTree(s.Archive())
	pfs.root = &FSNode{filesystem: pfs, node: root}

	return pfs, nil
}

func (pfs *PakFileSystem) Root() (fs.InodeEmbedder, error) {
	if pfs.root == nil {
		return nil, fmt.Errorf("root not initialized")
	}
	return pfs.root, nil
}

func (pfs *PakFileSystem) Metrics() *metrics.Metrics {
	return pfs.metrics
}

// teardown logs the session summary and releases the storage backend. It
// runs whether the mount served traffic or failed to come up.
func (pfs *PakFileSystem) teardown(s storage.PakStorageInterface) {
	pfs.metrics.LogSummary()
	if err := s.Cleanup(); err != nil {
		log.Error().Err(err).Msg("storage cleanup failed")
	}
}

// buildTree folds the flat entry list into a directory tree. Entries whose
// names are not stored in the archive appear as <namekey>.bin at the root.
func buildTree(archive *pak.PakArchive) *treeNode {
	root := &treeNode{name: "/", path: "/", children: map[string]*treeNode{}}

	for _, entry := range archive.Entries {
		name, ok := entry.EmbeddedName()
		if !ok {
			name = fmt.Sprintf("%s.bin", entry.NameKey())
		}

		parts := strings.Split(strings.Trim(name, "/"), "/")
		node := root
		for i, part := range parts {
			if part == "" {
				continue
			}

			child, exists := node.children[part]
			if !exists {
				child = &treeNode{
					name:     part,
					path:     node.path + part,
					children: map[string]*treeNode{},
				}
				if node.path != "/" {
					child.path = node.path + "/" + part
				}
				node.children[part] = child
			}
			if i == len(parts)-1 {
				child.entry = entry
			}
			node = child
		}
	}

	return root
}

func (n *treeNode) isDir() bool {
	return n.entry == nil
}

func (n *treeNode) sortedChildren() []*treeNode {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]*treeNode, len(names))
	for i, name := range names {
		children[i] = n.children[name]
	}
	return children
}

type MountOptions struct {
	ArchivePath string
	DataPath    string
	MountPoint  string
	CachePath   string
	StorageInfo *common.S3StorageInfo
	Credentials storage.PakStorageCredentials
	Verbose     bool
}

// Mount exposes an archive at a mount point. The returned start function
// begins serving; the error channel closes when the mount is unmounted.
func Mount(options MountOptions) (func() error, <-chan error, *fuse.Server, error) {
	log.Info().Msgf("mounting archive %s to %s", options.ArchivePath, options.MountPoint)

	if _, err := os.Stat(options.MountPoint); os.IsNotExist(err) {
		if err := os.MkdirAll(options.MountPoint, 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create mount point directory: %v", err)
		}
	}

	archiver := pak.NewPakArchiver()
	archive, err := archiver.ExtractMetadata(options.ArchivePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid archive: %v", err)
	}

	m := metrics.NewMetrics()
	s, err := storage.NewPakStorage(storage.PakStorageOpts{
		ArchivePath: options.ArchivePath,
		DataPath:    options.DataPath,
		CachePath:   options.CachePath,
		Archive:     archive,
		StorageInfo: options.StorageInfo,
		Credentials: options.Credentials,
		Metrics:     m,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not load storage: %v", err)
	}

	pfs, err := NewFileSystem(s, PakFileSystemOpts{Verbose: options.Verbose, Metrics: m})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not create filesystem: %v", err)
	}

	root, _ := pfs.Root()
	attrTimeout := time.Second * 60
	entryTimeout := time.Second * 60
	fsOptions := &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}
	server, err := fuse.NewServer(fs.NewNodeFS(root, fsOptions), options.MountPoint, &fuse.MountOptions{
		MaxBackground:  512,
		DisableXAttrs:  true,
		SyncRead:       false,
		RememberInodes: true,
		MaxReadAhead:   1024 * 128, // 128KB
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not create server: %v", err)
	}

	serverError := make(chan error, 1)
	startServer := func() error {
		go func() {
			go server.Serve()

			if err := server.WaitMount(); err != nil {
				pfs.teardown(s)
				serverError <- err
				return
			}

			server.Wait()
			pfs.teardown(s)

			close(serverError)
		}()

		return nil
	}

	return startServer, serverError, server, nil
}
