// Package bolt is the embedded record store: one bbolt bucket of JSON records keyed by title.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"recall/internal/domain"
)

var bucketRecords = []byte("personal_data")

type record struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store implements domain.RecordStore on a single bbolt file.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrRecordStore, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", domain.ErrRecordStore, err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upsert stores content under title. An existing title keeps its id and creation time.
func (s *Store) Upsert(ctx context.Context, title, content string) (domain.UpsertOutcome, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return 0, fmt.Errorf("%w: title and content are required", domain.ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var outcome domain.UpsertOutcome
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		now := s.now().UTC()

		var rec record
		if data := b.Get([]byte(title)); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode record %q: %w", title, err)
			}
			outcome = domain.OutcomeUpdated
		} else {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec = record{ID: int64(id), Title: title, CreatedAt: now}
			outcome = domain.OutcomeInserted
		}
		rec.Content = content
		rec.UpdatedAt = now

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(title), data)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: upsert: %v", domain.ErrRecordStore, err)
	}
	return outcome, nil
}

// ListAll reads every record in one read transaction, most recently updated first.
func (s *Store) ListAll(ctx context.Context) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		out = make([]domain.Record, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %q: %w", k, err)
			}
			out = append(out, domain.Record{
				ID:        rec.ID,
				Title:     rec.Title,
				Content:   rec.Content,
				CreatedAt: rec.CreatedAt,
				UpdatedAt: rec.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrRecordStore, err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Ping checks that the bucket is readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRecords) == nil {
			return fmt.Errorf("%w: bucket missing", domain.ErrRecordStore)
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ domain.RecordStore = (*Store)(nil)
