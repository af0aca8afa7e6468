package pak

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packworks/pak/pkg/common"
)

func TestStreamReadWriteUint32(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		buf := new(bytes.Buffer)
		ws := NewWriteStream(buf, order)
		require.NoError(t, ws.WriteUint32(0xCAFEBABE))
		require.NoError(t, ws.WriteBytes([]byte{1, 2, 3}))
		assert.Equal(t, uint32(7), ws.Position())

		rs := NewReadStream(bytes.NewReader(buf.Bytes()), order)
		v, err := rs.ReadUint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(0xCAFEBABE), v)

		b, err := rs.ReadBytes(3)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, b)
		assert.Equal(t, uint32(7), rs.Position())
	}
}

func TestStreamPositionBase(t *testing.T) {
	rs := NewReadStreamAt(bytes.NewReader([]byte{0, 0, 0, 0}), binary.LittleEndian, 0x400)
	assert.Equal(t, uint32(0x400), rs.Position())

	_, err := rs.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x404), rs.Position())
}

type failingReader struct {
	err error
}

func (r failingReader) Read([]byte) (int, error) {
	return 0, r.err
}

// A device error during a read surfaces alongside the truncation sentinel,
// so callers can still tell the two apart.
func TestStreamReadKeepsUnderlyingError(t *testing.T) {
	devErr := errors.New("device gone")

	rs := NewReadStream(failingReader{err: devErr}, binary.LittleEndian)
	_, err := rs.ReadUint32()
	require.ErrorIs(t, err, common.ErrTruncated)
	require.ErrorIs(t, err, devErr)

	rs = NewReadStream(failingReader{err: devErr}, binary.LittleEndian)
	_, err = rs.ReadBytes(8)
	require.ErrorIs(t, err, common.ErrTruncated)
	require.ErrorIs(t, err, devErr)
}

func TestStreamShortRead(t *testing.T) {
	rs := NewReadStream(bytes.NewReader([]byte{1, 2}), binary.LittleEndian)
	_, err := rs.ReadUint32()
	require.ErrorIs(t, err, common.ErrTruncated)

	rs = NewReadStream(bytes.NewReader([]byte{1, 2}), binary.LittleEndian)
	_, err = rs.ReadBytes(16)
	require.ErrorIs(t, err, common.ErrTruncated)
}
