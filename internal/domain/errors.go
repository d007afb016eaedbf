package domain

import "errors"

var (
	// ErrConfiguration marks a component that cannot start (missing model, bad config).
	ErrConfiguration = errors.New("configuration error")
	// ErrEmbeddingFailure marks a text that could not be embedded.
	ErrEmbeddingFailure = errors.New("embedding failed")
	// ErrRetrievalUnavailable is returned by a search that could not be carried out.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrInvalidRecord is returned by record stores for empty titles or content.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrRecordStore wraps failures of the underlying record store.
	ErrRecordStore = errors.New("record store failure")
)
