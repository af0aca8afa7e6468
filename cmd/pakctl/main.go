package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/moby/sys/mountinfo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/packworks/pak/pkg/common"
	"github.com/packworks/pak/pkg/pak"
	"github.com/packworks/pak/pkg/pakfs"
	"github.com/packworks/pak/pkg/storage"
)

const defaultCacheDir = "/var/cache/pak"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "pack":
		packCommand()
	case "list":
		listCommand()
	case "extract":
		extractCommand()
	case "store-s3":
		storeS3Command()
	case "mount":
		mountCommand()
	case "umount", "unmount":
		umountCommand()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pakctl - PAK archive management tool

Usage:
  pakctl <command> [options]

Commands:
  pack      Build a PAK archive from a directory
  list      List the entries of an archive
  extract   Extract archive payloads to a directory
  store-s3  Upload an archive to S3
  mount     Mount an archive as a read-only filesystem
  umount    Unmount a mounted archive

Examples:
  # Pack game assets
  pakctl pack --input ./assets --output assets.pak

  # Pack with a separate data component
  pakctl pack --input ./assets --output assets.pak --data assets.dat

  # Browse an archive without extracting it
  pakctl mount --archive assets.pak --mountpoint /mnt/assets

  # Serve payloads straight from S3
  pakctl mount --archive assets.pak --mountpoint /mnt/assets --bucket game-assets --key assets.pak

Environment Variables:
  PAK_CACHE_DIR   Cache directory for remote archives (default: %s)
  PAK_LOG_LEVEL   Log level: debug, info, warn, error, disabled
  AWS_REGION      Region for store-s3 and S3-backed mounts

`, defaultCacheDir)
}

func packCommand() {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)

	var (
		inputPath = fs.String("input", "", "Input directory to archive (required)")
		output    = fs.String("output", "", "Output .pak file path (required)")
		dataFile  = fs.String("data", "", "Write payloads to a separate data component")
		bigEndian = fs.Bool("big-endian", false, "Write the entry table big-endian")
		verbose   = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Parse(os.Args[2:])
	requireFlags(fs, map[string]string{"--input": *inputPath, "--output": *output})
	setVerbosity(*verbose)

	archiver := pak.NewPakArchiver()
	err := archiver.Create(pak.PakArchiverOptions{
		SourcePath: *inputPath,
		OutputFile: *output,
		DataFile:   *dataFile,
		BigEndian:  *bigEndian,
		Verbose:    *verbose,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create archive")
	}

	log.Info().Msgf("archive created at %s", *output)
}

func listCommand() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)

	var (
		inputPath = fs.String("input", "", "Archive path (required)")
		verbose   = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Parse(os.Args[2:])
	requireFlags(fs, map[string]string{"--input": *inputPath})
	setVerbosity(*verbose)

	archive, err := pak.NewPakArchiver().ExtractMetadata(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read archive")
	}

	fmt.Printf("%-10s %-10s %-10s %-10s %s\n", "KEY", "TYPE", "OFFSET", "LENGTH", "NAME")
	for _, entry := range archive.Entries {
		name, ok := entry.EmbeddedName()
		if !ok {
			name = "<by reference>"
		}
		fmt.Printf("%-10s %-10s 0x%-8x %-10d %s\n",
			entry.NameKey(), entry.FileType, entry.FileOffset(), entry.FileLength, name)
	}
	fmt.Printf("%d entries\n", archive.Header.EntryCount)
}

func extractCommand() {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)

	var (
		inputPath  = fs.String("input", "", "Archive path (required)")
		dataFile   = fs.String("data", "", "Separate data component path, if the archive uses one")
		outputPath = fs.String("output", ".", "Output directory")
		verbose    = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Parse(os.Args[2:])
	requireFlags(fs, map[string]string{"--input": *inputPath})
	setVerbosity(*verbose)

	archiver := pak.NewPakArchiver()
	err := archiver.Extract(pak.PakArchiverOptions{
		ArchivePath: *inputPath,
		DataFile:    *dataFile,
		OutputPath:  *outputPath,
		Verbose:     *verbose,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to extract archive")
	}

	log.Info().Msgf("archive extracted to %s", *outputPath)
}

func storeS3Command() {
	fs := flag.NewFlagSet("store-s3", flag.ExitOnError)

	var (
		inputPath = fs.String("input", "", "Archive path (required)")
		bucket    = fs.String("bucket", "", "S3 bucket name (required)")
		key       = fs.String("key", "", "S3 object key (defaults to the archive file name)")
		endpoint  = fs.String("endpoint", "", "Custom S3 endpoint")
		verbose   = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Parse(os.Args[2:])
	requireFlags(fs, map[string]string{"--input": *inputPath, "--bucket": *bucket})
	setVerbosity(*verbose)

	if *key == "" {
		*key = filepath.Base(*inputPath)
	}

	archive, err := pak.NewPakArchiver().ExtractMetadata(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read archive")
	}

	s, err := storage.NewS3PakStorage(archive, storage.S3PakStorageOpts{
		Bucket:   *bucket,
		Key:      *key,
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: *endpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open S3 storage")
	}
	defer s.Cleanup()

	if err := s.Upload(context.Background(), *inputPath, nil); err != nil {
		log.Fatal().Err(err).Msg("failed to upload archive")
	}

	log.Info().Msgf("archive stored at s3://%s/%s", *bucket, *key)
}

func mountCommand() {
	fs := flag.NewFlagSet("mount", flag.ExitOnError)

	var (
		archivePath = fs.String("archive", "", "Archive path (required)")
		dataFile    = fs.String("data", "", "Separate data component path, if the archive uses one")
		mountPoint  = fs.String("mountpoint", "", "Mount point directory (required)")
		cacheDir    = fs.String("cache-dir", getEnvString("PAK_CACHE_DIR", defaultCacheDir), "Cache directory for remote archives")
		bucket      = fs.String("bucket", "", "Serve payloads from this S3 bucket instead of the local file")
		key         = fs.String("key", "", "S3 object key holding the payload bytes")
		endpoint    = fs.String("endpoint", "", "Custom S3 endpoint")
		verbose     = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Parse(os.Args[2:])
	requireFlags(fs, map[string]string{"--archive": *archivePath, "--mountpoint": *mountPoint})
	setVerbosity(*verbose)

	options := pakfs.MountOptions{
		ArchivePath: *archivePath,
		DataPath:    *dataFile,
		MountPoint:  *mountPoint,
		Verbose:     *verbose,
	}

	if *bucket != "" {
		if *key == "" {
			*key = filepath.Base(*archivePath)
		}
		options.StorageInfo = &common.S3StorageInfo{
			Bucket:   *bucket,
			Key:      *key,
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: *endpoint,
		}
		if err := os.MkdirAll(*cacheDir, 0755); err == nil {
			options.CachePath = filepath.Join(*cacheDir, *key)
		}
	}

	startServer, serverError, server, err := pakfs.Mount(options)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to mount archive")
	}

	if err := startServer(); err != nil {
		log.Fatal().Err(err).Msg("failed to start filesystem server")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serverError:
		if ok && err != nil {
			log.Fatal().Err(err).Msg("filesystem server failed")
		}
	case <-sigs:
		log.Info().Msg("unmounting")
		server.Unmount()
		<-serverError
	}
}

func umountCommand() {
	fs := flag.NewFlagSet("umount", flag.ExitOnError)

	var (
		mountPoint = fs.String("mountpoint", "", "Mount point directory (required)")
		verbose    = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Parse(os.Args[2:])
	requireFlags(fs, map[string]string{"--mountpoint": *mountPoint})
	setVerbosity(*verbose)

	mounted, err := mountinfo.Mounted(*mountPoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to inspect mount point")
	}
	if !mounted {
		log.Info().Msgf("%s is not mounted", *mountPoint)
		return
	}

	if err := unix.Unmount(*mountPoint, 0); err != nil {
		log.Fatal().Err(err).Msgf("failed to unmount %s", *mountPoint)
	}

	log.Info().Msgf("%s unmounted", *mountPoint)
}

func requireFlags(fs *flag.FlagSet, flags map[string]string) {
	for name, value := range flags {
		if value == "" {
			fmt.Fprintf(os.Stderr, "Error: %s is required\n\n", name)
			fs.Usage()
			os.Exit(1)
		}
	}
}

func setVerbosity(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	if level := os.Getenv("PAK_LOG_LEVEL"); level != "" {
		if err := common.SetLogLevel(level); err != nil {
			log.Warn().Err(err).Msg("ignoring PAK_LOG_LEVEL")
		}
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
