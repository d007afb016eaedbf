package snapshot

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/internal/domain"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		GenerationID: "6f1c2f7e-0d1f-4c54-9a51-2d1f0b2c9e11",
		Embedder:     "hashing",
		Dimension:    3,
		CreatedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Documents: []domain.Document{
			domain.NewDocument(domain.Record{ID: 1, Title: "Trip", Content: "Went to Paris in June"}),
			domain.NewDocument(domain.Record{ID: 7, Title: "Recipe", Content: "Pasta with basil"}),
		},
		Vectors: [][]float32{{0.1, 0.2, 0.3}, {-1, 0, 1.5}},
	}
}

func encode(t *testing.T, s *Snapshot, codec Codec) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, s, codec))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			want := sampleSnapshot()
			got, err := Decode(bytes.NewReader(encode(t, want, codec)))
			require.NoError(t, err)

			assert.Equal(t, want.GenerationID, got.GenerationID)
			assert.Equal(t, want.Embedder, got.Embedder)
			assert.Equal(t, want.Dimension, got.Dimension)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, want.Documents, got.Documents)
			assert.Equal(t, want.Vectors, got.Vectors)
		})
	}
}

func TestRoundTripEmpty(t *testing.T) {
	want := &Snapshot{GenerationID: "g", Embedder: "hashing", Dimension: 384, CreatedAt: time.Unix(0, 0)}
	got, err := Decode(bytes.NewReader(encode(t, want, CodecZstd)))
	require.NoError(t, err)
	assert.Empty(t, got.Documents)
	assert.Empty(t, got.Vectors)
	assert.Equal(t, 384, got.Dimension)
}

func TestEncodeRejectsInconsistentSnapshot(t *testing.T) {
	s := sampleSnapshot()
	s.Vectors = s.Vectors[:1]
	assert.Error(t, Encode(&bytes.Buffer{}, s, CodecNone))

	s = sampleSnapshot()
	s.Vectors[1] = []float32{1, 2}
	assert.Error(t, Encode(&bytes.Buffer{}, s, CodecNone))

	assert.Error(t, Encode(&bytes.Buffer{}, nil, CodecNone))
}

func TestDecodeBadMagic(t *testing.T) {
	data := encode(t, sampleSnapshot(), CodecNone)
	copy(data, "NOPE")
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeOtherVersion(t *testing.T) {
	data := encode(t, sampleSnapshot(), CodecZstd)
	binary.LittleEndian.PutUint16(data[4:6], Version+1)
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestDecodeUnknownCodec(t *testing.T) {
	data := encode(t, sampleSnapshot(), CodecNone)
	data[6] = 42
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestDecodeChecksumMismatch(t *testing.T) {
	data := encode(t, sampleSnapshot(), CodecLZ4)
	data[len(data)-1] ^= 0xff
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeTruncated(t *testing.T) {
	data := encode(t, sampleSnapshot(), CodecZstd)
	for _, n := range []int{0, 3, 10, 30, len(data) - 1} {
		_, err := Decode(bytes.NewReader(data[:n]))
		assert.ErrorIs(t, err, ErrCorrupt, "truncated to %d bytes", n)
	}
}

func TestDecodeCountLargerThanPayload(t *testing.T) {
	data := encode(t, sampleSnapshot(), CodecNone)
	binary.LittleEndian.PutUint64(data[12:20], 1<<40)
	_, err := Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecZstd, false},
		{"zstd", CodecZstd, false},
		{"lz4", CodecLZ4, false},
		{"none", CodecNone, false},
		{"gzip", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
