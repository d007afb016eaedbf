// Package snapshot persists an index generation (documents plus their vectors) so a restart
// does not have to re-embed the whole corpus.
//
// Layout, little-endian:
//
//	magic      [4]byte "RCLS"
//	version    uint16
//	codec      uint8
//	reserved   uint8
//	dimension  uint32
//	count      uint64
//	created    int64 (unix nanoseconds)
//	embedder   uint16 length + bytes
//	generation uint16 length + bytes
//	payloadLen uint64
//	checksum   uint32 (CRC32 IEEE of the stored payload)
//	payload    payloadLen bytes, compressed with codec
//
// The uncompressed payload holds count entries of
// recordID int64, title (uint32 length + bytes), content (uint32 length + bytes), dimension float32.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"recall/internal/domain"
)

const (
	// Version is the current snapshot format version.
	Version uint16 = 1

	maxPayload = 1 << 32
	maxString  = 1 << 24
)

var magic = [4]byte{'R', 'C', 'L', 'S'}

var (
	// ErrCorrupt is returned for truncated, malformed or checksum-failing snapshots.
	ErrCorrupt = errors.New("snapshot corrupt")
	// ErrIncompatible is returned for snapshots written by an unsupported format version.
	ErrIncompatible = errors.New("snapshot incompatible")
	// ErrNotFound is returned by stores when no snapshot has been saved yet.
	ErrNotFound = errors.New("snapshot not found")
)

// Codec selects the payload compression.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a config value to a Codec. The empty string selects zstd.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "zstd", "":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("unknown snapshot codec: %s", s)
	}
}

// Snapshot is one persisted index generation.
type Snapshot struct {
	GenerationID string
	Embedder     string
	Dimension    int
	CreatedAt    time.Time
	Documents    []domain.Document
	Vectors      [][]float32
}
