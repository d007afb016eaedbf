package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/internal/domain"
	"recall/internal/embedding/hashing"
	"recall/internal/recordstore/bolt"
	"recall/internal/retrieval"
)

func newService(t *testing.T) (*MemoryService, *retrieval.Engine) {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "personal_data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := retrieval.New(store, hashing.NewEmbedder(hashing.DefaultDimension))
	require.NoError(t, engine.Init(context.Background()))
	return NewMemoryService(store, engine, 0, nil), engine
}

func TestAskEmptyReturnsSentinel(t *testing.T) {
	svc, _ := newService(t)

	ans, err := svc.Ask(context.Background(), "Where did I travel")
	require.NoError(t, err)
	assert.False(t, ans.Found)
	assert.Equal(t, NoDataAnswer, ans.Text)
}

func TestAddTextThenAsk(t *testing.T) {
	svc, engine := newService(t)
	ctx := context.Background()

	res, err := svc.AddText(ctx, "  Trip ", "Went to Paris in June ")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, res.Outcome)
	assert.True(t, res.Indexed)

	res, err = svc.AddText(ctx, "Recipe", "Pasta with basil")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, res.Outcome)

	ans, err := svc.Ask(ctx, "pasta")
	require.NoError(t, err)
	assert.True(t, ans.Found)
	assert.Equal(t, "Recipe | Pasta with basil", ans.Text)
	assert.Equal(t, "Recipe", ans.Title)

	ans, err = svc.Ask(ctx, "Paris")
	require.NoError(t, err)
	assert.Equal(t, "Trip | Went to Paris in June", ans.Text)
	assert.Equal(t, 2, engine.Stats().Documents)
}

func TestAddTextSameTitleUpdates(t *testing.T) {
	svc, engine := newService(t)
	ctx := context.Background()

	_, err := svc.AddText(ctx, "trip", "Paris in June")
	require.NoError(t, err)
	res, err := svc.AddText(ctx, "trip", "Rome in July")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)

	assert.Equal(t, 1, engine.Stats().Documents)
	ans, err := svc.Ask(ctx, "trip")
	require.NoError(t, err)
	assert.Equal(t, "trip | Rome in July", ans.Text)
}

func TestAddTextInvalid(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.AddText(context.Background(), "   ", "content")
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

// fakeIndex lets tests control search and rebuild outcomes.
type fakeIndex struct {
	result     retrieval.Result
	searchErr  error
	rebuildErr error
	rebuilds   int
	lastK      int
}

func (f *fakeIndex) Search(_ context.Context, _ string, k int) (retrieval.Result, error) {
	f.lastK = k
	return f.result, f.searchErr
}

func (f *fakeIndex) Rebuild(context.Context) (retrieval.RebuildStats, error) {
	f.rebuilds++
	return retrieval.RebuildStats{}, f.rebuildErr
}

func (f *fakeIndex) Stats() retrieval.Stats { return retrieval.Stats{} }

type okStore struct{ outcome domain.UpsertOutcome }

func (s okStore) Upsert(context.Context, string, string) (domain.UpsertOutcome, error) {
	return s.outcome, nil
}
func (okStore) ListAll(context.Context) ([]domain.Record, error) { return nil, nil }
func (okStore) Ping(context.Context) error                      { return nil }
func (okStore) Close() error                                    { return nil }

func TestAddTextReportsFailedRebuild(t *testing.T) {
	idx := &fakeIndex{rebuildErr: fmt.Errorf("%w: model offline", domain.ErrEmbeddingFailure)}
	svc := NewMemoryService(okStore{outcome: domain.OutcomeInserted}, idx, 1, nil)

	res, err := svc.AddText(context.Background(), "Trip", "Paris")
	require.NoError(t, err)
	assert.False(t, res.Indexed)
	assert.Equal(t, 1, idx.rebuilds)
}

func TestAskRetrievalUnavailableIsSentinel(t *testing.T) {
	idx := &fakeIndex{searchErr: fmt.Errorf("%w: embed query", domain.ErrRetrievalUnavailable)}
	svc := NewMemoryService(okStore{}, idx, 0, nil)

	ans, err := svc.Ask(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, NoDataAnswer, ans.Text)
	assert.Equal(t, retrieval.DefaultTopK, idx.lastK)
}

func TestAskOtherErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	svc := NewMemoryService(okStore{}, &fakeIndex{searchErr: boom}, 3, nil)

	_, err := svc.Ask(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
}

func TestImportFiles(t *testing.T) {
	svc, engine := newService(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Trip.txt"), []byte("Went to Paris in June\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Recipe.TXT"), []byte("Pasta with basil"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0o644))

	res, err := svc.ImportFiles(context.Background(), []string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.True(t, res.Indexed)
	assert.Equal(t, 2, engine.Stats().Documents)

	ans, err := svc.Ask(context.Background(), "basil")
	require.NoError(t, err)
	assert.Equal(t, "Recipe | Pasta with basil", ans.Text)

	res, err = svc.ImportFiles(context.Background(), []string{filepath.Join(dir, "Trip.txt")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
}

func TestImportFilesNothingMatched(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.ImportFiles(context.Background(), []string{filepath.Join(t.TempDir(), "*.txt")})
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestImportFilesRejectsBadInput(t *testing.T) {
	svc, engine := newService(t)
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(notes, []byte("not imported"), 0o644))

	cases := map[string][]string{
		"malformed pattern":     {filepath.Join(dir, "[a-")},
		"explicit non-txt file": {notes},
	}
	for name, paths := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ImportFiles(context.Background(), paths)
			assert.ErrorIs(t, err, domain.ErrInvalidRecord)
		})
	}
	assert.Equal(t, 0, engine.Stats().Documents)
}
