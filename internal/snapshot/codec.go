package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"recall/internal/domain"
)

// Encode writes s to w using the given payload codec.
func Encode(w io.Writer, s *Snapshot, codec Codec) error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if len(s.Documents) != len(s.Vectors) {
		return fmt.Errorf("snapshot has %d documents but %d vectors", len(s.Documents), len(s.Vectors))
	}
	if len(s.Embedder) > math.MaxUint16 || len(s.GenerationID) > math.MaxUint16 {
		return errors.New("snapshot header string too long")
	}
	if s.Dimension < 0 || uint64(s.Dimension) > math.MaxUint32 {
		return fmt.Errorf("invalid snapshot dimension %d", s.Dimension)
	}

	raw, err := encodePayload(s)
	if err != nil {
		return err
	}
	payload, err := compress(codec, raw)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	hdr := make([]byte, 0, 64+len(s.Embedder)+len(s.GenerationID))
	hdr = append(hdr, magic[:]...)
	hdr = binary.LittleEndian.AppendUint16(hdr, Version)
	hdr = append(hdr, byte(codec), 0)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(s.Dimension))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(s.Documents)))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(s.CreatedAt.UnixNano()))
	hdr = appendShortString(hdr, s.Embedder)
	hdr = appendShortString(hdr, s.GenerationID)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(payload)))
	hdr = binary.LittleEndian.AppendUint32(hdr, crc32.ChecksumIEEE(payload))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func encodePayload(s *Snapshot) ([]byte, error) {
	size := 0
	for _, d := range s.Documents {
		size += 16 + len(d.Title) + len(d.Content) + 4*s.Dimension
	}
	buf := make([]byte, 0, size)
	for i, d := range s.Documents {
		vec := s.Vectors[i]
		if len(vec) != s.Dimension {
			return nil, fmt.Errorf("document %d: vector has dimension %d, want %d", d.RecordID, len(vec), s.Dimension)
		}
		if len(d.Title) > maxString || len(d.Content) > maxString {
			return nil, fmt.Errorf("document %d: text too long for snapshot", d.RecordID)
		}
		buf = binary.LittleEndian.AppendUint64(buf, uint64(d.RecordID))
		buf = appendLongString(buf, d.Title)
		buf = appendLongString(buf, d.Content)
		for _, f := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return buf, nil
}

func appendShortString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func appendLongString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// Decode reads a snapshot written by Encode. Malformed input yields ErrCorrupt and a
// different format version yields ErrIncompatible.
func Decode(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)

	var fixed [28]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	if [4]byte(fixed[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(fixed[4:6]); v != Version {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrIncompatible, v, Version)
	}
	codec := Codec(fixed[6])
	if codec > CodecLZ4 {
		return nil, fmt.Errorf("%w: unknown codec %d", ErrIncompatible, fixed[6])
	}
	dim := int(binary.LittleEndian.Uint32(fixed[8:12]))
	count := binary.LittleEndian.Uint64(fixed[12:20])
	created := int64(binary.LittleEndian.Uint64(fixed[20:28]))
	embedder, err := readShortString(br)
	if err != nil {
		return nil, fmt.Errorf("%w: read embedder: %v", ErrCorrupt, err)
	}
	return decodeRest(br, codec, dim, count, created, embedder)
}

func decodeRest(r io.Reader, codec Codec, dim int, count uint64, created int64, embedder string) (*Snapshot, error) {
	generation, err := readShortString(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read generation: %v", ErrCorrupt, err)
	}
	var tail [12]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, fmt.Errorf("%w: read payload header: %v", ErrCorrupt, err)
	}
	payloadLen := binary.LittleEndian.Uint64(tail[0:8])
	checksum := binary.LittleEndian.Uint32(tail[8:12])
	if payloadLen > maxPayload {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorrupt, payloadLen)
	}

	payload, err := io.ReadAll(io.LimitReader(r, int64(payloadLen)))
	if err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrCorrupt, err)
	}
	if uint64(len(payload)) != payloadLen {
		return nil, fmt.Errorf("%w: payload truncated at %d of %d bytes", ErrCorrupt, len(payload), payloadLen)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	raw, err := decompress(codec, payload)
	if err != nil {
		if errors.Is(err, ErrIncompatible) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}

	s := &Snapshot{
		GenerationID: generation,
		Embedder:     embedder,
		Dimension:    dim,
		CreatedAt:    time.Unix(0, created).UTC(),
	}
	if err := decodePayload(raw, count, s); err != nil {
		return nil, err
	}
	return s, nil
}

func decodePayload(raw []byte, count uint64, s *Snapshot) error {
	// every entry needs at least its fixed-size fields
	minEntry := uint64(16 + 4*s.Dimension)
	if count > uint64(len(raw))/minEntry {
		return fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrCorrupt, count, len(raw))
	}
	s.Documents = make([]domain.Document, 0, count)
	s.Vectors = make([][]float32, 0, count)
	p := payloadReader{buf: raw}
	for i := uint64(0); i < count; i++ {
		id := int64(p.uint64())
		title := p.string()
		content := p.string()
		vec := make([]float32, s.Dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(p.uint32())
		}
		if p.err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrCorrupt, i, p.err)
		}
		s.Documents = append(s.Documents, domain.NewDocument(domain.Record{ID: id, Title: title, Content: content}))
		s.Vectors = append(s.Vectors, vec)
	}
	if len(p.buf) != 0 {
		return fmt.Errorf("%w: %d trailing payload bytes", ErrCorrupt, len(p.buf))
	}
	return nil
}

func readShortString(r io.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", err
	}
	b := make([]byte, binary.LittleEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

var errShortPayload = errors.New("unexpected end of payload")

// payloadReader consumes a decoded payload and latches the first error.
type payloadReader struct {
	buf []byte
	err error
}

func (p *payloadReader) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || n > len(p.buf) {
		p.err = errShortPayload
		return nil
	}
	b := p.buf[:n]
	p.buf = p.buf[n:]
	return b
}

func (p *payloadReader) uint32() uint32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (p *payloadReader) uint64() uint64 {
	b := p.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (p *payloadReader) string() string {
	n := p.uint32()
	if n > maxString {
		if p.err == nil {
			p.err = fmt.Errorf("string length %d", n)
		}
		return ""
	}
	return string(p.take(int(n)))
}
