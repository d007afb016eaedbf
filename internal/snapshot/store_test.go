package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "index.snap"), CodecZstd)
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "index.snap")
	s := NewFileStore(path, CodecZstd)
	ctx := context.Background()

	first := sampleSnapshot()
	require.NoError(t, s.Save(ctx, first))

	second := sampleSnapshot()
	second.GenerationID = "second"
	second.Documents = second.Documents[:1]
	second.Vectors = second.Vectors[:1]
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", got.GenerationID)
	assert.Len(t, got.Documents, 1)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, "index.snap", entries[0].Name())
	assert.Equal(t, path, s.Location())
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.snap")
	require.NoError(t, os.WriteFile(path, []byte("garbage that is not a snapshot at all"), 0o644))

	_, err := NewFileStore(path, CodecZstd).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStoreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewFileStore(filepath.Join(t.TempDir(), "index.snap"), CodecNone)
	assert.ErrorIs(t, s.Save(ctx, sampleSnapshot()), context.Canceled)
}

func TestNewMinioStoreValidates(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"}, CodecZstd)
	assert.Error(t, err)
}

// TestMinioStore_Integration requires a running MinIO instance at RECALL_MINIO_ENDPOINT.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("RECALL_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("RECALL_MINIO_ENDPOINT not set")
	}
	bucket := "test-recall"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	missing := NewMinioStoreWithClient(client, bucket, "does/not/exist.snap", CodecZstd)
	_, err = missing.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	s := NewMinioStoreWithClient(client, bucket, "snapshots/index.snap", CodecLZ4)
	want := sampleSnapshot()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Documents, got.Documents)
	assert.Equal(t, want.Vectors, got.Vectors)
}
