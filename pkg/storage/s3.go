package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/packworks/pak/pkg/common"
	"github.com/packworks/pak/pkg/metrics"
	"github.com/packworks/pak/pkg/pak"
)

type S3PakStorageCredentials struct {
	AccessKey string
	SecretKey string
}

// S3PakStorage serves payload bytes out of an archive object in S3 with
// range GETs, and optionally caches the whole object locally in the
// background.
type S3PakStorage struct {
	svc            *s3.Client
	bucket         string
	key            string
	archive        *pak.PakArchive
	localCachePath string
	cachedLocally  bool
	cacheFile      *os.File
	metrics        *metrics.Metrics
}

type S3PakStorageOpts struct {
	Bucket         string
	Key            string
	Region         string
	Endpoint       string
	CachePath      string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	Metrics        *metrics.Metrics
}

const backgroundDownloadStartupDelay = time.Second * 30

func NewS3PakStorage(archive *pak.PakArchive, opts S3PakStorageOpts) (*S3PakStorage, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if opts.AccessKey != "" && opts.SecretKey != "" {
		accessKey = opts.AccessKey
		secretKey = opts.SecretKey
	}

	cfg, err := getAWSConfig(accessKey, secretKey, opts.Region, opts.Endpoint)
	if err != nil {
		return nil, err
	}

	svc := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// Check to see if we have access to the bucket
	_, err = svc.HeadBucket(context.TODO(), &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access bucket <%s>: %v", opts.Bucket, err)
	}

	c := &S3PakStorage{
		svc:            svc,
		bucket:         opts.Bucket,
		key:            opts.Key,
		archive:        archive,
		localCachePath: opts.CachePath,
		metrics:        opts.Metrics,
	}

	if opts.CachePath != "" {
		cacheFile, err := os.OpenFile(opts.CachePath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache file <%s>: %v", opts.CachePath, err)
		}
		c.cacheFile = cacheFile
		go c.startBackgroundDownload()
	}

	return c, nil
}

func getAWSConfig(accessKey string, secretKey string, region string, endpoint string) (aws.Config, error) {
	var cfg aws.Config
	var err error
	var endpointResolver aws.EndpointResolverWithOptions
	var useDualStack aws.DualStackEndpointState

	if endpoint != "" {
		endpointResolver = aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL: endpoint,
			}, nil
		})
	}

	httpClient := &http.Client{}
	if common.IsIPv6Available() {
		useDualStack = aws.DualStackEndpointStateEnabled
		ipv6Transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         common.DialContextIPv6,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		httpClient.Transport = ipv6Transport
	} else {
		useDualStack = aws.DualStackEndpointStateDisabled
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithUseDualStackEndpoint(useDualStack),
		config.WithHTTPClient(httpClient),
	}
	if endpointResolver != nil {
		opts = append(opts, config.WithEndpointResolverWithOptions(endpointResolver))
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err = config.LoadDefaultConfig(context.TODO(), opts...)
	return cfg, err
}

type progressReader struct {
	file *os.File
	size int64
	read int64
	ch   chan<- int
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.file.Read(p)
	if n > 0 {
		pr.read += int64(n)
		progress := int(float64(pr.read) / float64(pr.size) * 100)

		if pr.ch != nil {
			pr.ch <- progress
		}
	}
	return n, err
}

// Upload publishes a local archive (or data component) to the configured
// bucket and key.
func (s3c *S3PakStorage) Upload(ctx context.Context, archivePath string, progressChan chan<- int) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive <%s>: %v", archivePath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	length := fi.Size()

	pr := &progressReader{
		file: f,
		size: length,
		ch:   progressChan,
	}

	uploader := manager.NewUploader(s3c.svc, func(u *manager.Uploader) {
		u.Concurrency = 128
	})

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s3c.bucket),
		Key:           aws.String(s3c.key),
		Body:          pr,
		ContentLength: &length,
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive: %v", err)
	}

	return nil
}

func (s3c *S3PakStorage) startBackgroundDownload() {
	totalSize, err := s3c.getObjectSize()
	if err != nil {
		log.Error().Msgf("unable to get object size: %v", err)
		return
	}

	cacheFileInfo, err := s3c.cacheFile.Stat()
	if err == nil && cacheFileInfo.Size() == totalSize {
		log.Info().Msgf("cache file <%s> exists", s3c.localCachePath)
		s3c.cachedLocally = true
		return
	}

	// Wait a bit before kicking off the background download job
	time.Sleep(backgroundDownloadStartupDelay)

	tmpCacheFile := fmt.Sprintf("%s.%s", s3c.localCachePath, uuid.New().String()[:6])
	lockFilePath := fmt.Sprintf("%s.lock", s3c.localCachePath)

	fileLock := flock.New(lockFilePath)

	locked, err := fileLock.TryLock()
	if err != nil {
		log.Error().Msgf("error while trying to acquire file lock: %v", err)
		return
	}

	if !locked {
		log.Error().Msgf("another process is already caching %s, skipping download", s3c.localCachePath)
		return
	}

	defer fileLock.Unlock()
	defer os.Remove(lockFilePath)

	log.Info().Msgf("caching <%s>", s3c.localCachePath)
	startTime := time.Now()
	downloader := manager.NewDownloader(s3c.svc)
	downloader.Concurrency = 32

	f, err := os.Create(tmpCacheFile)
	if err != nil {
		log.Error().Msgf("failed to create file %q, %v", tmpCacheFile, err)
		return
	}
	defer f.Close()

	_, err = downloader.Download(context.TODO(), f, &s3.GetObjectInput{
		Bucket: aws.String(s3c.bucket),
		Key:    aws.String(s3c.key),
	})
	if err != nil {
		log.Error().Msgf("failed to download object: %v", err)
		os.Remove(tmpCacheFile)
		return
	}

	err = os.Rename(tmpCacheFile, s3c.localCachePath)
	if err != nil {
		log.Error().Msgf("failed to move downloaded file to cache path %q, %v", s3c.localCachePath, err)
		return
	}

	// Close open file handle after rename
	s3c.cacheFile.Close()

	cacheFile, err := os.OpenFile(s3c.localCachePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return
	}

	log.Info().Msgf("archive <%v> cached in %v", s3c.localCachePath, time.Since(startTime))

	s3c.cacheFile = cacheFile
	s3c.cachedLocally = true
}

func (s3c *S3PakStorage) CachedLocally() bool {
	return s3c.cachedLocally
}

func (s3c *S3PakStorage) getObjectSize() (int64, error) {
	resp, err := s3c.svc.HeadObject(context.TODO(), &s3.HeadObjectInput{
		Bucket: aws.String(s3c.bucket),
		Key:    aws.String(s3c.key),
	})
	if err != nil {
		return 0, err
	}

	return *resp.ContentLength, nil
}

func (s3c *S3PakStorage) ReadPayload(entry *pak.EntryHeader, dest []byte, off int64) (int, error) {
	start := int64(entry.FileOffset()) + off
	end := start + int64(len(dest)) - 1

	if !s3c.cachedLocally {
		return s3c.downloadChunk(dest, start, end)
	}

	n, err := s3c.cacheFile.ReadAt(dest, start)
	if err != nil {
		// Fall back to the remote source if the cache file fails
		return s3c.downloadChunk(dest, start, end)
	}

	return n, nil
}

func (s3c *S3PakStorage) downloadChunk(dest []byte, start int64, end int64) (int, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
	startTime := time.Now()
	resp, err := s3c.svc.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s3c.bucket),
		Key:    aws.String(s3c.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, dest)
	if s3c.metrics != nil {
		s3c.metrics.RecordRangeGet(s3c.key, int64(n), time.Since(startTime))
	}
	if err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

func (s3c *S3PakStorage) Archive() *pak.PakArchive {
	return s3c.archive
}

func (s3c *S3PakStorage) Cleanup() error {
	if s3c.cacheFile != nil {
		s3c.cacheFile.Close()
	}

	return nil
}
