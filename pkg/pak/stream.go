package pak

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/packworks/pak/pkg/common"
)

// Stream is a cursor-based binary reader/writer over a fixed byte order.
// The cursor is shared state: decoding or encoding entries through the same
// stream must happen strictly sequentially, in stream order.
type Stream struct {
	r     io.Reader
	w     io.Writer
	order binary.ByteOrder
	pos   uint32
}

func NewReadStream(r io.Reader, order binary.ByteOrder) *Stream {
	return &Stream{r: r, order: order}
}

// NewReadStreamAt behaves like NewReadStream but reports positions relative
// to base, for readers that start mid-archive (e.g. an io.SectionReader
// handed to an isolated per-entry decode).
func NewReadStreamAt(r io.Reader, order binary.ByteOrder, base uint32) *Stream {
	return &Stream{r: r, order: order, pos: base}
}

func NewWriteStream(w io.Writer, order binary.ByteOrder) *Stream {
	return &Stream{w: w, order: order}
}

func NewWriteStreamAt(w io.Writer, order binary.ByteOrder, base uint32) *Stream {
	return &Stream{w: w, order: order, pos: base}
}

// Position returns the absolute offset of the cursor.
func (s *Stream) Position() uint32 {
	return s.pos
}

func (s *Stream) ByteOrder() binary.ByteOrder {
	return s.order
}

func (s *Stream) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: reading uint32 at offset 0x%x: %w", common.ErrTruncated, s.pos, err)
	}
	s.pos += 4
	return s.order.Uint32(buf[:]), nil
}

func (s *Stream) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes at offset 0x%x: %w", common.ErrTruncated, n, s.pos, err)
	}
	s.pos += uint32(n)
	return buf, nil
}

func (s *Stream) WriteUint32(v uint32) error {
	var buf [4]byte
	s.order.PutUint32(buf[:], v)
	if _, err := s.w.Write(buf[:]); err != nil {
		return err
	}
	s.pos += 4
	return nil
}

func (s *Stream) WriteBytes(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.pos += uint32(len(b))
	return nil
}
