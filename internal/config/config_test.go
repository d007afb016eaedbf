package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/internal/domain"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "bolt", cfg.Store.Type)
	assert.Equal(t, "personal_data.db", cfg.Store.Bolt.Path)
	assert.Equal(t, "openai", cfg.Embedder.Type)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Embedder.OpenAI.BaseURL)
	assert.Equal(t, "all-minilm", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, 384, cfg.Embedder.OpenAI.Dimension)
	assert.Equal(t, "pos", cfg.Refiner.Type)
	assert.Equal(t, "file", cfg.Index.Snapshot.Type)
	assert.Equal(t, "index.snap", cfg.Index.Snapshot.File.Path)
	assert.True(t, cfg.Index.PersistOnRebuild)
	assert.Equal(t, 1, cfg.Retrieval.TopK)
	assert.NoError(t, cfg.Validate())
}

func TestLoadPartialFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
embedder:
  type: openai
  openai:
    base_url: http://localhost:11434/api
    model: nomic-embed-text
    requests_per_second: 5
index:
  persist_on_rebuild: true
  snapshot:
    type: file
    codec: lz4
store:
  type: postgres
  postgres:
    dsn: postgres://localhost/recall?sslmode=disable
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:11434/api", cfg.Embedder.OpenAI.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 30, cfg.Embedder.OpenAI.TimeoutSecs)
	assert.Equal(t, 5.0, cfg.Embedder.OpenAI.RequestsPerSecond)
	assert.True(t, cfg.Index.PersistOnRebuild)
	assert.Equal(t, "index.snap", cfg.Index.Snapshot.File.Path)
	assert.Equal(t, "lz4", cfg.Index.Snapshot.Codec)
	assert.Equal(t, 10, cfg.Store.Postgres.MaxOpenConns)
	assert.Equal(t, 4, cfg.Index.Workers)
}

func TestLoadEmbedderDefaults(t *testing.T) {
	cases := []struct {
		name      string
		yaml      string
		model     string
		dimension int
	}{
		{"bare openai type", "embedder:\n  type: openai\n", "all-minilm", 384},
		{"other model keeps dimension open", "embedder:\n  type: openai\n  openai:\n    model: nomic-embed-text\n", "nomic-embed-text", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))

			cfg, err := Load(path)
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			assert.Equal(t, tc.model, cfg.Embedder.OpenAI.Model)
			assert.Equal(t, tc.dimension, cfg.Embedder.OpenAI.Dimension)
			assert.Equal(t, "http://localhost:11434/v1", cfg.Embedder.OpenAI.BaseURL)
		})
	}

	t.Run("hashing is opt-in", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("embedder:\n  type: hashing\n"), 0o644))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 384, cfg.Embedder.Hashing.Dimension)
	})
}

func TestLoadPersistOnRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 1\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Index.PersistOnRebuild)
	assert.Equal(t, "file", cfg.Index.Snapshot.Type)

	require.NoError(t, os.WriteFile(path, []byte("index:\n  persist_on_rebuild: false\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Index.PersistOnRebuild)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidateRejectsUnknownTypes(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Type = "sqlite"
	cfg.Embedder.Type = "bert"
	cfg.Index.Snapshot.Codec = "gzip"
	cfg.Retrieval.TopK = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	for _, want := range []string{"sqlite", "bert", "gzip", "top_k"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("TEST_RECALL_DSN", "postgres://env/recall")
	pg := PostgresConfig{DSN: "postgres://file/recall", DSNEnv: "TEST_RECALL_DSN"}
	assert.Equal(t, "postgres://env/recall", pg.ResolveDSN())

	pg.DSNEnv = "TEST_RECALL_DSN_UNSET"
	assert.Equal(t, "postgres://file/recall", pg.ResolveDSN())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Server.Addr = "0.0.0.0:9000"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadDefaultWritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "recall", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, defaultConfig(), cfg)

	require.NoError(t, os.WriteFile("config.yaml", []byte("retrieval:\n  top_k: 3\n"), 0o644))
	cfg, path, err = LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", path)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
}
