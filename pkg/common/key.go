package common

import (
	"fmt"
	"hash/crc32"
)

// ChecksumKey identifies a file name, path, or type inside a PAK archive
// without storing the full string. The zero value is a reserved "absent"
// sentinel and never refers to a real name.
type ChecksumKey uint32

func KeyFromUint32(v uint32) ChecksumKey {
	return ChecksumKey(v)
}

// KeyFromString derives a key from text using CRC-32 (IEEE), the checksum
// the archive format uses for all name references.
func KeyFromString(s string) ChecksumKey {
	return ChecksumKey(crc32.ChecksumIEEE([]byte(s)))
}

func (k ChecksumKey) Value() uint32 {
	return uint32(k)
}

func (k ChecksumKey) IsZero() bool {
	return k == 0
}

func (k ChecksumKey) String() string {
	return fmt.Sprintf("%08x", uint32(k))
}
