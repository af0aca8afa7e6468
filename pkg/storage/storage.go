package storage

import (
	"errors"

	"github.com/packworks/pak/pkg/common"
	"github.com/packworks/pak/pkg/metrics"
	"github.com/packworks/pak/pkg/pak"
)

// PakStorageInterface serves payload bytes for a decoded archive, wherever
// the archive's data actually lives.
type PakStorageInterface interface {
	ReadPayload(entry *pak.EntryHeader, dest []byte, offset int64) (int, error)
	Archive() *pak.PakArchive
	CachedLocally() bool
	Cleanup() error
}

type PakStorageCredentials struct {
	S3 *S3PakStorageCredentials
}

type PakStorageOpts struct {
	ArchivePath string

	// DataPath points at the separate data component for archives that
	// carry one; ignored otherwise.
	DataPath string

	CachePath   string
	Archive     *pak.PakArchive
	StorageInfo *common.S3StorageInfo
	Credentials PakStorageCredentials
	Metrics     *metrics.Metrics
}

// NewPakStorage picks a backend: S3 when storage info is provided, the
// local filesystem otherwise.
func NewPakStorage(opts PakStorageOpts) (PakStorageInterface, error) {
	if opts.Archive == nil {
		return nil, errors.New("archive metadata not provided")
	}

	if opts.StorageInfo != nil {
		var creds S3PakStorageCredentials
		if opts.Credentials.S3 != nil {
			creds = *opts.Credentials.S3
		}

		return NewS3PakStorage(opts.Archive, S3PakStorageOpts{
			Bucket:         opts.StorageInfo.Bucket,
			Region:         opts.StorageInfo.Region,
			Key:            opts.StorageInfo.Key,
			Endpoint:       opts.StorageInfo.Endpoint,
			ForcePathStyle: opts.StorageInfo.ForcePathStyle,
			CachePath:      opts.CachePath,
			AccessKey:      creds.AccessKey,
			SecretKey:      creds.SecretKey,
			Metrics:        opts.Metrics,
		})
	}

	return NewLocalPakStorage(opts.Archive, LocalPakStorageOpts{
		ArchivePath: opts.ArchivePath,
		DataPath:    opts.DataPath,
	})
}
