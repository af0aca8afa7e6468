package pak

import (
	"fmt"
	"path"
	"strings"

	"github.com/packworks/pak/pkg/common"
)

const (
	// EntryFixedLength is the size of the fixed header block.
	EntryFixedLength uint32 = 0x20

	// EntryNameBlockLength is the size of the optional inline-name block
	// that follows the fixed block when FlagEmbeddedName is set.
	EntryNameBlockLength uint32 = 0xA0

	// EntryFullLength is the total header size when an inline name is present.
	EntryFullLength = EntryFixedLength + EntryNameBlockLength
)

// FlagEmbeddedName is the only defined bit of the entry flag word. All other
// bits are reserved and round-trip through decode/encode unchanged.
const FlagEmbeddedName uint32 = 0x20

// nameRef is the entry's name representation: exactly one of the two
// variants below. Entries toggle between them only through SetFlags,
// SetEmbeddedName, and ClearEmbeddedName, which keeps the redundant
// checksum fields consistent.
type nameRef interface {
	shortNameKey() common.ChecksumKey
}

// externalName identifies the entry only by checksum; the full path lives
// outside the archive (e.g. in a companion name manifest).
type externalName struct {
	fullKey  common.ChecksumKey
	shortKey common.ChecksumKey
}

func (n externalName) shortNameKey() common.ChecksumKey { return n.shortKey }

// inlineName stores the name text directly in the header's name block.
// fullKey is zero for any well-formed entry; decode preserves a non-zero
// value verbatim so malformed archives survive a round trip of the fixed
// fields (see SetFlags for how it is salvaged).
type inlineName struct {
	text     string
	key      common.ChecksumKey
	fullKey  common.ChecksumKey
	shortKey common.ChecksumKey
}

func (n inlineName) shortNameKey() common.ChecksumKey { return n.shortKey }

// EntryHeader describes one packed file: where its payload lives, how long
// it is, and how its name is represented.
//
// The header is 0x20 bytes on the wire, or 0xC0 when the name is stored
// inline. The name representation fields are deliberately unexported: the
// flag bit, the inline text, and the three name checksums are redundant
// with each other, and only the mutator methods keep them consistent.
type EntryHeader struct {
	// HeaderOffset is the absolute offset of this header's first byte.
	// Decode records it from the stream position; callers assign it before
	// encoding into a new archive.
	HeaderOffset uint32

	// FileType identifies the file's type or extension. It is not always
	// literally the extension checksum.
	FileType common.ChecksumKey

	// FileOffsetRel is the payload offset relative to HeaderOffset.
	FileOffsetRel uint32

	// FileLength is the payload length in bytes.
	FileLength uint32

	// Reserved is unused by the format and round-trips verbatim.
	Reserved uint32

	// flagBits holds every flag bit except FlagEmbeddedName, which is
	// derived from the name representation.
	flagBits uint32

	name nameRef
}

// NewEntryHeader returns a zeroed entry in the external-name state.
func NewEntryHeader() *EntryHeader {
	return &EntryHeader{name: externalName{}}
}

// EmbeddedName returns the inline name and true when one is stored in the
// header. The second return distinguishes an absent name from an empty one.
func (e *EntryHeader) EmbeddedName() (string, bool) {
	if n, ok := e.name.(inlineName); ok {
		return n.text, true
	}
	return "", false
}

// EmbeddedNameKey is the checksum of the inline name, or zero when the name
// is stored externally.
func (e *EntryHeader) EmbeddedNameKey() common.ChecksumKey {
	if n, ok := e.name.(inlineName); ok {
		return n.key
	}
	return 0
}

// FullNameKey is the checksum of the entry's full path when the name is
// stored by reference, and zero for any well-formed inline-named entry.
func (e *EntryHeader) FullNameKey() common.ChecksumKey {
	switch n := e.name.(type) {
	case externalName:
		return n.fullKey
	case inlineName:
		return n.fullKey
	}
	return 0
}

// ShortNameKey is the checksum of the file name without its extension. It is
// maintained whichever way the name is represented.
func (e *EntryHeader) ShortNameKey() common.ChecksumKey {
	return e.name.shortNameKey()
}

// NameKey is the key the entry is looked up by: the inline-name checksum
// when the name is embedded, the full-path checksum otherwise.
func (e *EntryHeader) NameKey() common.ChecksumKey {
	if n, ok := e.name.(inlineName); ok {
		return n.key
	}
	return e.FullNameKey()
}

// Flags returns the raw flag word: the opaque reserved bits plus
// FlagEmbeddedName when an inline name is present.
func (e *EntryHeader) Flags() uint32 {
	flags := e.flagBits
	if _, ok := e.name.(inlineName); ok {
		flags |= FlagEmbeddedName
	}
	return flags
}

// HasEmbeddedName reports whether the name is stored inline.
func (e *EntryHeader) HasEmbeddedName() bool {
	_, ok := e.name.(inlineName)
	return ok
}

// FileOffset is the absolute payload offset: FileOffsetRel + HeaderOffset,
// with 32-bit wraparound left unchecked as the format does.
func (e *EntryHeader) FileOffset() uint32 {
	return e.FileOffsetRel + e.HeaderOffset
}

// HeaderLength is the number of bytes this header occupies on the wire.
func (e *EntryHeader) HeaderLength() uint32 {
	if e.HasEmbeddedName() {
		return EntryFullLength
	}
	return EntryFixedLength
}

// SetFlags stores a raw flag word. The reserved bits are kept verbatim;
// FlagEmbeddedName drives the name-representation transition:
//
// Turning the bit on when no inline name exists initializes the name to the
// empty string and moves the full-name key into the embedded-name key slot.
// If an inline name already exists this is a no-op beyond the reserved bits.
//
// Turning the bit off discards the inline name. The embedded-name key is
// salvaged into the full-name key slot when that slot is zero; when it is
// already occupied the embedded-name key is dropped. The drop loses data,
// but it is how existing archives behave, so it stays.
func (e *EntryHeader) SetFlags(raw uint32) {
	e.flagBits = raw &^ FlagEmbeddedName

	if raw&FlagEmbeddedName != 0 {
		if n, ok := e.name.(externalName); ok {
			e.name = inlineName{
				text:     "",
				key:      n.fullKey,
				shortKey: n.shortKey,
			}
		}
		return
	}

	e.clearInline()
}

// SetEmbeddedName stores name inline: the embedded-name key becomes the
// checksum of name, the full-name key is zeroed, the short-name key is
// recomputed from the file name without its extension, and the flag bit is
// set. Length and encodability are checked at encode time, not here.
func (e *EntryHeader) SetEmbeddedName(name string) {
	e.name = inlineName{
		text:     name,
		key:      common.KeyFromString(name),
		shortKey: common.KeyFromString(shortName(name)),
	}
}

// ClearEmbeddedName discards the inline name, with the same
// salvage-or-discard rule as clearing the flag bit through SetFlags.
func (e *EntryHeader) ClearEmbeddedName() {
	e.clearInline()
}

// SetExternalName records a name kept outside the archive: the full-name
// key becomes the checksum of the whole path, the short-name key the
// checksum of the file name without its extension. Any inline name is
// replaced outright.
func (e *EntryHeader) SetExternalName(name string) {
	e.name = externalName{
		fullKey:  common.KeyFromString(name),
		shortKey: common.KeyFromString(shortName(name)),
	}
}

func (e *EntryHeader) clearInline() {
	n, ok := e.name.(inlineName)
	if !ok {
		return
	}

	fullKey := n.fullKey
	if fullKey.IsZero() {
		fullKey = n.key
	}
	e.name = externalName{fullKey: fullKey, shortKey: n.shortKey}
}

// shortName strips the directory and extension from a path:
// "textures/foo.tex" -> "foo".
func shortName(name string) string {
	base := path.Base(name)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// DecodeEntryHeader reads one entry header from the stream's current
// position. The fixed 0x20-byte block is read first; when FlagEmbeddedName
// is set in the decoded flag word, the 0xA0-byte NUL-padded name block
// follows. A short read at any point returns common.ErrTruncated and no
// partial record.
func DecodeEntryHeader(s *Stream) (*EntryHeader, error) {
	headerOffset := s.Position()

	var fixed [8]uint32
	for i := range fixed {
		v, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		fixed[i] = v
	}

	fileType := fixed[0]
	fileOffsetRel := fixed[1]
	fileLength := fixed[2]
	embeddedKey := fixed[3]
	fullKey := fixed[4]
	shortKey := fixed[5]
	reserved := fixed[6]
	flags := fixed[7]

	e := &EntryHeader{
		HeaderOffset:  headerOffset,
		FileType:      common.KeyFromUint32(fileType),
		FileOffsetRel: fileOffsetRel,
		FileLength:    fileLength,
		Reserved:      reserved,
		flagBits:      flags &^ FlagEmbeddedName,
	}

	if flags&FlagEmbeddedName != 0 {
		raw, err := s.ReadBytes(int(EntryNameBlockLength))
		if err != nil {
			return nil, err
		}
		e.name = inlineName{
			text:     decodeFixedName(raw),
			key:      common.KeyFromUint32(embeddedKey),
			fullKey:  common.KeyFromUint32(fullKey),
			shortKey: common.KeyFromUint32(shortKey),
		}
	} else {
		e.name = externalName{
			fullKey:  common.KeyFromUint32(fullKey),
			shortKey: common.KeyFromUint32(shortKey),
		}
	}

	return e, nil
}

// Encode writes the header at the stream's current position: the eight
// fixed fields, then the name block padded with NUL to exactly 0xA0 bytes
// when an inline name is present. A name that does not fit the block fails
// before anything is written.
func (e *EntryHeader) Encode(s *Stream) error {
	var nameBlock []byte
	if n, ok := e.name.(inlineName); ok {
		block, err := encodeFixedName(n.text)
		if err != nil {
			return err
		}
		nameBlock = block
	}

	fixed := [8]uint32{
		e.FileType.Value(),
		e.FileOffsetRel,
		e.FileLength,
		e.EmbeddedNameKey().Value(),
		e.FullNameKey().Value(),
		e.ShortNameKey().Value(),
		e.Reserved,
		e.Flags(),
	}

	for _, v := range fixed {
		if err := s.WriteUint32(v); err != nil {
			return err
		}
	}

	if nameBlock != nil {
		if err := s.WriteBytes(nameBlock); err != nil {
			return err
		}
	}

	return nil
}

// decodeFixedName interprets the name block as one byte per character
// (Latin-1) and trims the trailing NUL padding.
func decodeFixedName(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}

	runes := make([]rune, end)
	for i := 0; i < end; i++ {
		runes[i] = rune(raw[i])
	}
	return string(runes)
}

// encodeFixedName produces the 0xA0-byte NUL-padded name block, failing on
// characters outside the single-byte range or text longer than the block.
func encodeFixedName(name string) ([]byte, error) {
	block := make([]byte, EntryNameBlockLength)
	i := 0
	for _, r := range name {
		if r > 0xFF {
			return nil, fmt.Errorf("%w: %q", common.ErrInvalidName, name)
		}
		if i >= len(block) {
			return nil, fmt.Errorf("%w: %q", common.ErrNameTooLong, name)
		}
		block[i] = byte(r)
		i++
	}
	return block, nil
}
