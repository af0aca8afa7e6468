package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/packworks/pak/pkg/common"
	"github.com/tidwall/btree"
)

// PakArchive is the decoded view of an archive: the file header plus every
// entry header, indexed by name key.
type PakArchive struct {
	Header  PakArchiveHeader
	Entries []*EntryHeader

	index *btree.BTreeG[*EntryHeader]
}

func newEntryIndex() *btree.BTreeG[*EntryHeader] {
	return btree.NewBTreeG(func(a, b *EntryHeader) bool {
		return a.NameKey().Value() < b.NameKey().Value()
	})
}

func (a *PakArchive) Insert(e *EntryHeader) {
	a.Entries = append(a.Entries, e)
	a.index.Set(e)
}

// Get looks an entry up by its name key.
func (a *PakArchive) Get(key common.ChecksumKey) *EntryHeader {
	probe := &EntryHeader{name: externalName{fullKey: key}}

	item, ok := a.index.Get(probe)
	if !ok {
		return nil
	}
	return item
}

// GetByName looks an entry up by name text, checksumming it first.
func (a *PakArchive) GetByName(name string) *EntryHeader {
	return a.Get(common.KeyFromString(name))
}

// SeparateData reports whether payloads live in a companion data blob.
func (a *PakArchive) SeparateData() bool {
	return a.Header.ArchFlags&PakHeaderFlagSeparateData != 0
}

// PakArchiver reads and writes whole archives. It positions the stream for
// each entry; the entry codec itself never seeks.
type PakArchiver struct {
}

func NewPakArchiver() *PakArchiver {
	return &PakArchiver{}
}

// DecodeHeader decodes and verifies the fixed archive header block.
func (pa *PakArchiver) DecodeHeader(headerBytes []byte) (*PakArchiveHeader, error) {
	header := new(PakArchiveHeader)
	buf := bytes.NewBuffer(headerBytes)
	if err := binary.Read(buf, binary.LittleEndian, header); err != nil {
		return nil, common.ErrFileHeaderMismatch
	}

	if !bytes.Equal(header.StartBytes[:], PakFileStartBytes) || header.Version != PakFileFormatVersion {
		return nil, common.ErrFileHeaderMismatch
	}

	return header, nil
}

func (pa *PakArchiver) EncodeHeader(header *PakArchiveHeader) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractMetadata decodes every entry header from an archive file without
// touching any payload bytes.
func (pa *PakArchiver) ExtractMetadata(archivePath string) (*PakArchive, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return pa.ReadMetadata(file)
}

// ReadMetadata decodes the header and entry table from r. The reader must
// be positioned at the start of the archive.
func (pa *PakArchiver) ReadMetadata(r io.ReadSeeker) (*PakArchive, error) {
	headerBytes := make([]byte, PakHeaderLength)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, common.ErrFileHeaderMismatch
	}

	header, err := pa.DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	if _, err := r.Seek(int64(header.TableOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to entry table: %w", err)
	}

	archive := &PakArchive{
		Header: *header,
		index:  newEntryIndex(),
	}

	// Entry headers are packed back to back: each decode consumes exactly
	// HeaderLength bytes, which positions the stream at the next entry.
	s := NewReadStreamAt(r, header.EntryByteOrder(), header.TableOffset)
	for i := uint32(0); i < header.EntryCount; i++ {
		entry, err := DecodeEntryHeader(s)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		archive.Insert(entry)
	}

	return archive, nil
}

// WriteMetadata writes the archive header and the entry table to w. Entry
// HeaderOffset and FileOffsetRel fields must already be assigned; offsets
// recorded during a Create pass satisfy this.
func (pa *PakArchiver) WriteMetadata(w io.Writer, archive *PakArchive) error {
	headerBytes, err := pa.EncodeHeader(&archive.Header)
	if err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}

	s := NewWriteStreamAt(w, archive.Header.EntryByteOrder(), archive.Header.TableOffset)
	for i, entry := range archive.Entries {
		if err := entry.Encode(s); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}

	return nil
}
