// Package retrieval keeps an exact vector index consistent with the record store and answers
// queries with the single nearest document.
//
// The index and its position-to-document map live together in one immutable Generation.
// Rebuilds construct a new Generation off to the side and publish it with one atomic store,
// so a search always works against exactly one generation and never waits for a rebuild.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recall/internal/domain"
	"recall/internal/snapshot"
	"recall/internal/vectorindex"
)

// DefaultTopK is the number of candidates a search ranks when callers have no preference.
const DefaultTopK = 1

// Generation is one complete index build. It is never modified after it is published.
type Generation struct {
	ID        uuid.UUID
	BuiltAt   time.Time
	Index     *vectorindex.Index
	Documents []domain.Document
}

// Len returns the number of indexed documents.
func (g *Generation) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Documents)
}

// Result is the outcome of a search: either a document or NotFound.
type Result struct {
	Document     domain.Document
	Distance     float32
	Refined      string
	GenerationID uuid.UUID
	found        bool
}

// Found reports whether the search matched a document.
func (r Result) Found() bool { return r.found }

// NotFound is the empty search result.
var NotFound = Result{}

// RebuildStats describes a finished rebuild.
type RebuildStats struct {
	GenerationID uuid.UUID
	Documents    int
	Embedded     int
	Reused       int
	Failed       int
	Duration     time.Duration
}

// Stats describes the current generation.
type Stats struct {
	GenerationID string    `json:"generation_id,omitempty"`
	Documents    int       `json:"documents"`
	Dimension    int       `json:"dimension"`
	BuiltAt      *time.Time `json:"built_at,omitempty"`
	Embedder     string    `json:"embedder"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRefiner sets the query refiner. Without one, queries are embedded as typed.
func WithRefiner(r domain.Refiner) Option {
	return func(e *Engine) {
		if r != nil {
			e.refiner = r
		}
	}
}

// WithSnapshots enables loading at Init and saving at Shutdown.
// With persistOnRebuild, every successful rebuild is saved as well.
func WithSnapshots(s snapshot.Store, persistOnRebuild bool) Option {
	return func(e *Engine) {
		e.snapshots = s
		e.persistOnRebuild = persistOnRebuild
	}
}

// WithWorkers bounds the number of concurrent Embed calls during a rebuild.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock overrides the build timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine composes the record store, embedder and refiner around the current generation.
type Engine struct {
	store    domain.RecordStore
	embedder domain.Embedder
	refiner  domain.Refiner
	logger   *zap.Logger

	snapshots        snapshot.Store
	persistOnRebuild bool
	workers          int
	now              func() time.Time

	current atomic.Pointer[Generation]
	buildMu sync.Mutex
}

// New creates an engine with no generation. Call Init before serving queries.
func New(store domain.RecordStore, embedder domain.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		refiner:  passThrough{},
		logger:   zap.NewNop(),
		workers:  4,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type passThrough struct{}

func (passThrough) Refine(q string) string { return q }

// Init loads the persisted generation, if any, and then rebuilds from the record store.
// A missing or unusable snapshot is logged and ignored. Only record store failures are returned.
func (e *Engine) Init(ctx context.Context) error {
	if e.snapshots != nil {
		e.loadSnapshot(ctx)
	}
	stats, err := e.Rebuild(ctx)
	switch {
	case err == nil:
		e.logger.Info("index ready",
			zap.Stringer("generation", stats.GenerationID),
			zap.Int("documents", stats.Documents),
			zap.Int("reused", stats.Reused),
			zap.Int("embedded", stats.Embedded))
		return nil
	case errors.Is(err, domain.ErrEmbeddingFailure):
		e.logger.Warn("initial rebuild embedded nothing, serving previous generation", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("initial rebuild: %w", err)
	}
}

func (e *Engine) loadSnapshot(ctx context.Context) {
	log := e.logger.With(zap.String("snapshot", e.snapshots.Location()))
	snap, err := e.snapshots.Load(ctx)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			log.Info("no snapshot found, starting empty")
		} else {
			log.Warn("discarding unreadable snapshot", zap.Error(err))
		}
		return
	}
	if snap.Embedder != e.embedder.Name() {
		log.Warn("discarding snapshot built by another embedder",
			zap.String("snapshot_embedder", snap.Embedder),
			zap.String("embedder", e.embedder.Name()))
		return
	}
	if d := e.embedder.Dimension(); d > 0 && len(snap.Documents) > 0 && snap.Dimension != d {
		log.Warn("discarding snapshot with different dimension",
			zap.Int("snapshot_dimension", snap.Dimension),
			zap.Int("dimension", d))
		return
	}
	idx, err := vectorindex.Build(snap.Dimension, snap.Vectors)
	if err != nil {
		log.Warn("discarding snapshot with invalid vectors", zap.Error(err))
		return
	}
	id, err := uuid.Parse(snap.GenerationID)
	if err != nil {
		id = uuid.New()
	}
	e.current.Store(&Generation{
		ID:        id,
		BuiltAt:   snap.CreatedAt,
		Index:     idx,
		Documents: snap.Documents,
	})
	log.Info("snapshot loaded", zap.Stringer("generation", id), zap.Int("documents", len(snap.Documents)))
}

// Rebuild replaces the current generation with one built from every record in the store.
// Concurrent calls queue. Documents that fail to embed are skipped; if all of them fail the
// current generation is kept and ErrEmbeddingFailure is returned. Cancelling ctx abandons the
// new generation.
func (e *Engine) Rebuild(ctx context.Context) (RebuildStats, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	start := time.Now()
	records, err := e.store.ListAll(ctx)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("list records: %w", err)
	}
	docs := make([]domain.Document, len(records))
	for i, r := range records {
		docs[i] = domain.NewDocument(r)
	}

	vectors, stats, err := e.embedAll(ctx, docs)
	if err != nil {
		return RebuildStats{}, err
	}

	dim := e.embedder.Dimension()
	if dim <= 0 {
		for _, v := range vectors {
			if v != nil {
				dim = len(v)
				break
			}
		}
	}

	keptDocs := make([]domain.Document, 0, len(docs))
	keptVecs := make([][]float32, 0, len(docs))
	for i, v := range vectors {
		if v == nil {
			continue
		}
		if len(v) != dim {
			e.logger.Warn("skipping document with unexpected vector size",
				zap.Int64("record_id", docs[i].RecordID),
				zap.Int("size", len(v)),
				zap.Int("dimension", dim))
			stats.Failed++
			continue
		}
		keptDocs = append(keptDocs, docs[i])
		keptVecs = append(keptVecs, v)
	}

	if len(docs) > 0 && len(keptDocs) == 0 {
		return RebuildStats{}, fmt.Errorf("%w: none of %d documents could be embedded", domain.ErrEmbeddingFailure, len(docs))
	}

	idx, err := vectorindex.Build(dim, keptVecs)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("build index: %w", err)
	}
	// the last point at which the rebuild can be abandoned
	if err := ctx.Err(); err != nil {
		return RebuildStats{}, err
	}

	gen := &Generation{
		ID:        uuid.New(),
		BuiltAt:   e.now(),
		Index:     idx,
		Documents: keptDocs,
	}
	e.current.Store(gen)

	stats.GenerationID = gen.ID
	stats.Documents = len(keptDocs)
	stats.Duration = time.Since(start)
	e.logger.Debug("index rebuilt",
		zap.Stringer("generation", gen.ID),
		zap.Int("documents", stats.Documents),
		zap.Int("embedded", stats.Embedded),
		zap.Int("reused", stats.Reused),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))

	if e.persistOnRebuild && e.snapshots != nil {
		if err := e.persist(ctx, gen); err != nil {
			e.logger.Warn("snapshot after rebuild failed", zap.Error(err))
		}
	}
	return stats, nil
}

// embedAll returns one vector per document, nil where embedding failed. Vectors of documents
// whose text is unchanged since the current generation are reused.
func (e *Engine) embedAll(ctx context.Context, docs []domain.Document) ([][]float32, RebuildStats, error) {
	var stats RebuildStats
	vectors := make([][]float32, len(docs))

	cur := e.current.Load()
	prev := make(map[string]int, cur.Len())
	if cur != nil {
		for i, d := range cur.Documents {
			prev[d.Text] = i
		}
	}

	var pending []int
	for i, d := range docs {
		if pos, ok := prev[d.Text]; ok {
			vectors[i] = cur.Index.Vector(pos)
			stats.Reused++
			continue
		}
		pending = append(pending, i)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, i := range pending {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := e.embedder.Embed(gctx, docs[i].Text)
			if err == nil && len(vec) == 0 {
				err = errors.New("empty vector")
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("skipping document that failed to embed",
					zap.Int64("record_id", docs[i].RecordID),
					zap.String("title", docs[i].Title),
					zap.Error(fmt.Errorf("%w: %v", domain.ErrEmbeddingFailure, err)))
				failed.Add(1)
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, fmt.Errorf("rebuild abandoned: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("rebuild abandoned: %w", err)
	}

	stats.Failed = int(failed.Load())
	stats.Embedded = len(pending) - stats.Failed
	return vectors, stats, nil
}

// Search refines and embeds query and returns the nearest document of the current generation.
// An empty corpus, a blank query or k <= 0 yields NotFound without error.
// A query that cannot be embedded yields ErrRetrievalUnavailable.
func (e *Engine) Search(ctx context.Context, query string, k int) (Result, error) {
	gen := e.current.Load()
	if gen.Len() == 0 || k <= 0 || strings.TrimSpace(query) == "" {
		return NotFound, nil
	}

	refined := e.refiner.Refine(query)
	vec, err := e.embedder.Embed(ctx, refined)
	if err != nil {
		return NotFound, fmt.Errorf("%w: embed query: %v", domain.ErrRetrievalUnavailable, err)
	}
	hits, err := gen.Index.Search(vec, k)
	if err != nil {
		return NotFound, fmt.Errorf("%w: %v", domain.ErrRetrievalUnavailable, err)
	}
	if len(hits) == 0 {
		return NotFound, nil
	}

	best := hits[0]
	e.logger.Debug("search",
		zap.String("refined", refined),
		zap.Int("position", best.Position),
		zap.Float32("distance", best.Distance),
		zap.Stringer("generation", gen.ID))
	return Result{
		Document:     gen.Documents[best.Position],
		Distance:     best.Distance,
		Refined:      refined,
		GenerationID: gen.ID,
		found:        true,
	}, nil
}

// Current returns the published generation, or nil before the first build.
func (e *Engine) Current() *Generation {
	return e.current.Load()
}

// Stats describes the current generation.
func (e *Engine) Stats() Stats {
	s := Stats{Embedder: e.embedder.Name(), Dimension: e.embedder.Dimension()}
	if gen := e.current.Load(); gen != nil {
		s.GenerationID = gen.ID.String()
		s.Documents = gen.Len()
		builtAt := gen.BuiltAt
		s.BuiltAt = &builtAt
		if gen.Index.Len() > 0 {
			s.Dimension = gen.Index.Dimension()
		}
	}
	return s
}

// Persist saves the current generation. It is a no-op without a snapshot store or generation.
func (e *Engine) Persist(ctx context.Context) error {
	gen := e.current.Load()
	if e.snapshots == nil || gen == nil {
		return nil
	}
	return e.persist(ctx, gen)
}

func (e *Engine) persist(ctx context.Context, gen *Generation) error {
	snap := &snapshot.Snapshot{
		GenerationID: gen.ID.String(),
		Embedder:     e.embedder.Name(),
		Dimension:    gen.Index.Dimension(),
		CreatedAt:    gen.BuiltAt,
		Documents:    gen.Documents,
		Vectors:      make([][]float32, gen.Index.Len()),
	}
	for i := range snap.Vectors {
		snap.Vectors[i] = gen.Index.Vector(i)
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot to %s: %w", e.snapshots.Location(), err)
	}
	e.logger.Debug("snapshot saved",
		zap.Stringer("generation", gen.ID),
		zap.String("location", e.snapshots.Location()))
	return nil
}

// Shutdown waits for an in-flight rebuild and persists the final generation.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	return e.Persist(ctx)
}
