package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument(Record{ID: 7, Title: "trip", Content: "Paris in June"})

	assert.Equal(t, int64(7), doc.RecordID)
	assert.Equal(t, "trip | Paris in June", doc.Text)
	assert.Equal(t, "trip", doc.Title)
	assert.Equal(t, "Paris in June", doc.Content)
}

func TestUpsertOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", OutcomeInserted.String())
	assert.Equal(t, "updated", OutcomeUpdated.String())
	assert.Equal(t, "unknown", UpsertOutcome(0).String())
}
