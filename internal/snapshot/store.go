package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store saves and loads the most recent snapshot.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	// Load returns ErrNotFound when nothing has been saved.
	Load(ctx context.Context) (*Snapshot, error)
	Location() string
}

// FileStore keeps the snapshot in a single local file.
type FileStore struct {
	path  string
	codec Codec
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string, codec Codec) *FileStore {
	return &FileStore{path: path, codec: codec}
}

func (s *FileStore) Location() string { return s.path }

// Save writes to a temporary file in the same directory and renames it over the old snapshot,
// so readers never observe a partial file.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, snap, s.codec); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// MinioConfig describes an S3-compatible location for the snapshot object.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
	Secure    bool
	Region    string
}

// MinioStore keeps the snapshot as one object in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	key    string
	codec  Codec
}

// NewMinioStore connects a client for cfg. The bucket must already exist.
func NewMinioStore(cfg MinioConfig, codec Codec) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.Key == "" {
		return nil, errors.New("minio snapshot store needs endpoint, bucket and key")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinioStoreWithClient(client, cfg.Bucket, cfg.Key, codec), nil
}

// NewMinioStoreWithClient wraps an existing client.
func NewMinioStoreWithClient(client *minio.Client, bucket, key string, codec Codec) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, key: key, codec: codec}
}

func (s *MinioStore) Location() string { return s.bucket + "/" + s.key }

// Save uploads the encoded snapshot. A single PutObject replaces the object atomically.
func (s *MinioStore) Save(ctx context.Context, snap *Snapshot) error {
	var buf bytes.Buffer
	if err := Encode(&buf, snap, s.codec); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}

func (s *MinioStore) Load(ctx context.Context) (*Snapshot, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only shows up on Stat or the first read
	if _, err := obj.Stat(); err != nil {
		return nil, mapMinioError(err)
	}
	return Decode(obj)
}

func mapMinioError(err error) error {
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return ErrNotFound
	}
	return err
}
