package common

// S3StorageInfo describes where an archive's bytes live when they are served
// from object storage rather than the local filesystem.
type S3StorageInfo struct {
	Bucket         string
	Region         string
	Key            string
	Endpoint       string
	ForcePathStyle bool
}
