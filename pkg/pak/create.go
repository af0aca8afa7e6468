package pak

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/packworks/pak/pkg/common"
)

type PakArchiverOptions struct {
	Verbose     bool
	ArchivePath string
	SourcePath  string
	OutputFile  string
	OutputPath  string

	// DataFile, when set, receives the payload bytes as a separate data
	// component; the archive file then holds only the header and entry table.
	DataFile string

	// BigEndian selects the entry-table byte order. Little-endian when unset.
	BigEndian bool
}

type pendingEntry struct {
	sourcePath string
	entry      *EntryHeader
}

// Create builds an archive from a source directory. Every regular file
// becomes one entry; names are stored inline when they fit the name block,
// and by checksum reference otherwise.
func (pa *PakArchiver) Create(opts PakArchiverOptions) error {
	entries, err := pa.collectEntries(opts)
	if err != nil {
		return err
	}

	outFile, err := os.Create(opts.OutputFile)
	if err != nil {
		return err
	}
	defer outFile.Close()

	var dataFile *os.File
	archFlags := uint32(0)
	if opts.DataFile != "" {
		dataFile, err = os.Create(opts.DataFile)
		if err != nil {
			return err
		}
		defer dataFile.Close()
		archFlags |= PakHeaderFlagSeparateData
	}

	order := byteOrderLittle
	if opts.BigEndian {
		order = byteOrderBig
	}

	archive := &PakArchive{
		Header: PakArchiveHeader{
			Version:     PakFileFormatVersion,
			Order:       order,
			ArchFlags:   archFlags,
			EntryCount:  uint32(len(entries)),
			TableOffset: PakHeaderLength,
		},
		index: newEntryIndex(),
	}
	copy(archive.Header.StartBytes[:], PakFileStartBytes)

	// Lay out the entry table first so payload offsets are known up front.
	// Each header's size depends only on its own name representation.
	tableEnd := uint64(PakHeaderLength)
	for _, pe := range entries {
		pe.entry.HeaderOffset = uint32(tableEnd)
		tableEnd += uint64(pe.entry.HeaderLength())
	}
	if tableEnd > math.MaxUint32 {
		return fmt.Errorf("%w: entry table ends at %d", common.ErrArchiveTooLarge, tableEnd)
	}

	// Payloads follow the table in the archive file, or start at the top of
	// the data component. FileOffset (rel + header offset) must land on the
	// payload either way; unsigned wraparound makes the subtraction safe.
	// Every payload must start within the 32-bit offset space.
	payloadPos := tableEnd
	if dataFile != nil {
		payloadPos = 0
	}
	for _, pe := range entries {
		if payloadPos > math.MaxUint32 {
			return fmt.Errorf("%w: payload would start at %d", common.ErrArchiveTooLarge, payloadPos)
		}
		pe.entry.FileOffsetRel = uint32(payloadPos) - pe.entry.HeaderOffset
		payloadPos += uint64(pe.entry.FileLength)
		archive.Insert(pe.entry)
	}

	if err := pa.WriteMetadata(outFile, archive); err != nil {
		return err
	}

	payloadOut := outFile
	if dataFile != nil {
		payloadOut = dataFile
	}
	return pa.writePayloads(payloadOut, entries, opts)
}

func (pa *PakArchiver) collectEntries(opts PakArchiverOptions) ([]*pendingEntry, error) {
	var entries []*pendingEntry

	err := godirwalk.Walk(opts.SourcePath, &godirwalk.Options{
		Callback: func(fullPath string, de *godirwalk.Dirent) error {
			if de.IsDir() || de.IsSymlink() {
				return nil
			}

			fi, err := os.Stat(fullPath)
			if err != nil {
				return err
			}
			if fi.Size() > math.MaxUint32 {
				return fmt.Errorf("%w: %s is %d bytes", common.ErrFileTooLarge, fullPath, fi.Size())
			}

			rel, err := filepath.Rel(opts.SourcePath, fullPath)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)

			entry := NewEntryHeader()
			entry.FileType = common.KeyFromString(strings.TrimPrefix(path.Ext(name), "."))
			entry.FileLength = uint32(fi.Size())

			if _, err := encodeFixedName(name); err != nil {
				// Name does not fit the inline block; keep it by reference.
				log.Warn().Str("name", name).Msg("name does not fit inline, storing key reference only")
				entry.SetExternalName(name)
			} else {
				entry.SetEmbeddedName(name)
			}

			if opts.Verbose {
				log.Info().Str("name", name).Uint32("length", entry.FileLength).Msg("adding entry")
			}

			entries = append(entries, &pendingEntry{sourcePath: fullPath, entry: entry})
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (pa *PakArchiver) writePayloads(out *os.File, entries []*pendingEntry, opts PakArchiverOptions) error {
	writer := bufio.NewWriterSize(out, 512*1024)

	for _, pe := range entries {
		f, err := os.Open(pe.sourcePath)
		if err != nil {
			return fmt.Errorf("error opening source file %s: %w", pe.sourcePath, err)
		}

		copied, err := io.Copy(writer, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("error copying file %s: %w", pe.sourcePath, err)
		}

		if copied != int64(pe.entry.FileLength) {
			return fmt.Errorf("file %s changed during archiving: wrote %d bytes, expected %d",
				pe.sourcePath, copied, pe.entry.FileLength)
		}
	}

	return writer.Flush()
}
