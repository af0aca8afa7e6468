package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/packworks/pak/pkg/pak"
)

type LocalPakStorage struct {
	archivePath string
	archive     *pak.PakArchive
	fileHandle  *os.File
}

type LocalPakStorageOpts struct {
	ArchivePath string
	DataPath    string
}

func NewLocalPakStorage(archive *pak.PakArchive, opts LocalPakStorageOpts) (*LocalPakStorage, error) {
	// Entry file offsets address the data component when the archive
	// carries one, and the archive file itself otherwise.
	payloadPath := opts.ArchivePath
	if archive.SeparateData() {
		if opts.DataPath == "" {
			return nil, errors.New("archive uses a separate data component, no data path given")
		}
		payloadPath = opts.DataPath
	}

	fileHandle, err := os.Open(payloadPath)
	if err != nil {
		return nil, err
	}

	return &LocalPakStorage{
		archive:     archive,
		archivePath: opts.ArchivePath,
		fileHandle:  fileHandle,
	}, nil
}

func (s *LocalPakStorage) ReadPayload(entry *pak.EntryHeader, dest []byte, off int64) (int, error) {
	n, err := s.fileHandle.ReadAt(dest, int64(entry.FileOffset())+off)
	if err != nil {
		return n, fmt.Errorf("unable to read payload: %w", err)
	}
	return n, nil
}

func (s *LocalPakStorage) CachedLocally() bool {
	return true
}

func (s *LocalPakStorage) Archive() *pak.PakArchive {
	return s.archive
}

func (s *LocalPakStorage) Cleanup() error {
	return s.fileHandle.Close()
}
