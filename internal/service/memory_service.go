// Package service is the application layer shared by the HTTP API and the terminal UI.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"recall/internal/domain"
	"recall/internal/retrieval"
)

// NoDataAnswer is returned whenever no stored snippet answers a question.
const NoDataAnswer = "I don't have data for that."

// Index is the part of the retrieval engine the service drives.
type Index interface {
	Search(ctx context.Context, query string, k int) (retrieval.Result, error)
	Rebuild(ctx context.Context) (retrieval.RebuildStats, error)
	Stats() retrieval.Stats
}

// AddResult reports a stored record and whether the index caught up with it.
type AddResult struct {
	Outcome domain.UpsertOutcome
	Indexed bool
}

// Answer is what a user sees for a question: a stored snippet verbatim, or NoDataAnswer.
type Answer struct {
	Text     string
	Found    bool
	Title    string
	RecordID int64
	Distance float32
	Refined  string
}

// MemoryService stores personal snippets and answers questions from them.
type MemoryService struct {
	store  domain.RecordStore
	index  Index
	topK   int
	logger *zap.Logger
}

// NewMemoryService wires the record store and index. topK <= 0 selects retrieval.DefaultTopK.
func NewMemoryService(store domain.RecordStore, index Index, topK int, logger *zap.Logger) *MemoryService {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryService{store: store, index: index, topK: topK, logger: logger}
}

// AddText upserts a record and rebuilds the index. Store failures are returned; a failed
// rebuild is logged and reported through AddResult.Indexed.
func (s *MemoryService) AddText(ctx context.Context, title, content string) (AddResult, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)

	outcome, err := s.store.Upsert(ctx, title, content)
	if err != nil {
		return AddResult{}, err
	}
	res := AddResult{Outcome: outcome, Indexed: true}
	if _, err := s.index.Rebuild(ctx); err != nil {
		s.logger.Warn("rebuild after upsert failed", zap.String("title", title), zap.Error(err))
		res.Indexed = false
	}
	s.logger.Info("record stored",
		zap.String("title", title),
		zap.Stringer("outcome", outcome),
		zap.Bool("indexed", res.Indexed))
	return res, nil
}

// Ask answers query with the nearest stored snippet. An unavailable retrieval is answered with
// NoDataAnswer rather than an error, since the user must only ever see stored text or the sentinel.
func (s *MemoryService) Ask(ctx context.Context, query string) (Answer, error) {
	res, err := s.index.Search(ctx, query, s.topK)
	if err != nil {
		if errors.Is(err, domain.ErrRetrievalUnavailable) {
			s.logger.Warn("retrieval unavailable", zap.String("query", query), zap.Error(err))
			return Answer{Text: NoDataAnswer}, nil
		}
		return Answer{}, err
	}
	if !res.Found() {
		return Answer{Text: NoDataAnswer, Refined: res.Refined}, nil
	}
	return Answer{
		Text:     res.Document.Text,
		Found:    true,
		Title:    res.Document.Title,
		RecordID: res.Document.RecordID,
		Distance: res.Distance,
		Refined:  res.Refined,
	}, nil
}

// Rebuild forces a full index rebuild.
func (s *MemoryService) Rebuild(ctx context.Context) (retrieval.RebuildStats, error) {
	return s.index.Rebuild(ctx)
}

// Stats describes the current index generation.
func (s *MemoryService) Stats() retrieval.Stats {
	return s.index.Stats()
}

// Ready checks the record store.
func (s *MemoryService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ImportResult summarizes an ImportFiles call.
type ImportResult struct {
	Inserted int
	Updated  int
	Indexed  bool
}

// ImportFiles stores every .txt file matched by paths (plain paths or glob patterns) as a record
// titled by its file name without extension, then rebuilds once.
func (s *MemoryService) ImportFiles(ctx context.Context, paths []string) (ImportResult, error) {
	var files []string
	for _, p := range paths {
		if !strings.ContainsAny(p, "*?[") {
			// a plain path names exactly one file, which must be a .txt file
			if !isText(p) {
				return ImportResult{}, fmt.Errorf("%w: %s is not a .txt file", domain.ErrInvalidRecord, p)
			}
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return ImportResult{}, fmt.Errorf("%w: pattern %q: %v", domain.ErrInvalidRecord, p, err)
		}
		for _, m := range matches {
			if isText(m) {
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return ImportResult{}, fmt.Errorf("%w: no .txt files found", domain.ErrInvalidRecord)
	}

	var res ImportResult
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return res, err
		}
		title := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		outcome, err := s.store.Upsert(ctx, title, strings.TrimSpace(string(data)))
		if err != nil {
			return res, fmt.Errorf("import %s: %w", f, err)
		}
		if outcome == domain.OutcomeInserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	res.Indexed = true
	if _, err := s.index.Rebuild(ctx); err != nil {
		s.logger.Warn("rebuild after import failed", zap.Error(err))
		res.Indexed = false
	}
	s.logger.Info("files imported",
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Bool("indexed", res.Indexed))
	return res, nil
}

func isText(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}
