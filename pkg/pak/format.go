package pak

import "encoding/binary"

var PakFileStartBytes = []byte{0x89, 0x50, 0x41, 0x4B, 0x0D, 0x0A, 0x1A, 0x0A}

const (
	PakHeaderLength            = 24
	PakFileFormatVersion uint8 = 0x01
)

const (
	byteOrderLittle uint8 = 0x00
	byteOrderBig    uint8 = 0x01
)

// PakHeaderFlagSeparateData marks an archive whose payloads live in a
// companion data blob instead of the archive file itself. Entry file
// offsets then address the blob.
const PakHeaderFlagSeparateData uint32 = 0x01

// PakArchiveHeader is the fixed block at the start of every archive. It is
// always written little-endian; the Order byte selects the byte order for
// the entry table and is the only endianness switch in the format.
type PakArchiveHeader struct {
	StartBytes  [8]byte
	Version     uint8
	Order       uint8
	Reserved    uint16
	ArchFlags   uint32
	EntryCount  uint32
	TableOffset uint32
}

func (h *PakArchiveHeader) EntryByteOrder() binary.ByteOrder {
	if h.Order == byteOrderBig {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
