package domain

import (
	"context"
	"time"
)

// Record is a single stored title/content pair. Titles are unique.
type Record struct {
	ID        int64
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is the unit that gets embedded and indexed: a record rendered as "{title} | {content}".
type Document struct {
	RecordID int64
	Title    string
	Content  string
	Text     string
}

// NewDocument renders a record into its indexable form.
func NewDocument(r Record) Document {
	return Document{
		RecordID: r.ID,
		Title:    r.Title,
		Content:  r.Content,
		Text:     r.Title + " | " + r.Content,
	}
}

// UpsertOutcome reports what a successful upsert did to the store.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota + 1
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// RecordStore is the durable title -> content table the index is built from.
type RecordStore interface {
	// Upsert inserts a record or replaces the content of the record with the same title.
	Upsert(ctx context.Context, title, content string) (UpsertOutcome, error)
	// ListAll returns every record from one consistent read, most recently updated first.
	ListAll(ctx context.Context) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// Embedder converts free text into a fixed-dimension vector.
// Implementations must be deterministic for identical input.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Refiner reduces a query to its salient content words.
type Refiner interface {
	Refine(query string) string
}
