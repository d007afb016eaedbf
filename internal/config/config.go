package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"recall/internal/domain"
)

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr               string   `yaml:"addr"`
	ReadTimeoutSecs    int      `yaml:"read_timeout_secs"`
	WriteTimeoutSecs   int      `yaml:"write_timeout_secs"`
	IdleTimeoutSecs    int      `yaml:"idle_timeout_secs"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

// BoltConfig locates the embedded record database.
type BoltConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains connection details for the PostgreSQL record store.
// DSNEnv names an environment variable that overrides DSN when set.
type PostgresConfig struct {
	DSN                 string `yaml:"dsn"`
	DSNEnv              string `yaml:"dsn_env"`
	MaxOpenConns        int    `yaml:"max_open_conns"`
	MaxIdleConns        int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSecs int    `yaml:"conn_max_lifetime_secs"`
}

// ResolveDSN returns the DSN from DSNEnv if that variable is set, else DSN.
func (c PostgresConfig) ResolveDSN() string {
	if c.DSNEnv != "" {
		if v := os.Getenv(c.DSNEnv); v != "" {
			return v
		}
	}
	return c.DSN
}

// StoreConfig selects and configures the record store implementation.
type StoreConfig struct {
	Type     string          `yaml:"type"`
	Bolt     *BoltConfig     `yaml:"bolt,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// HashingEmbedderConfig configures the offline feature-hashing embedder. It is lexical:
// a query only matches records that share words with it.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	Dimension         int     `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
}

// RefinerConfig selects the query refiner: "pos" or "none".
type RefinerConfig struct {
	Type string `yaml:"type"`
}

// FileSnapshotConfig locates a local snapshot file.
type FileSnapshotConfig struct {
	Path string `yaml:"path"`
}

// MinioSnapshotConfig locates a snapshot object in an S3-compatible bucket.
type MinioSnapshotConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Bucket       string `yaml:"bucket"`
	Key          string `yaml:"key"`
	Region       string `yaml:"region"`
	Secure       bool   `yaml:"secure"`
}

// SnapshotConfig selects where index generations are persisted.
type SnapshotConfig struct {
	Type  string               `yaml:"type"`
	Codec string               `yaml:"codec"`
	File  *FileSnapshotConfig  `yaml:"file,omitempty"`
	Minio *MinioSnapshotConfig `yaml:"minio,omitempty"`
}

// IndexConfig configures rebuilds and persistence.
type IndexConfig struct {
	Workers          int            `yaml:"workers"`
	PersistOnRebuild bool           `yaml:"persist_on_rebuild"`
	Snapshot         SnapshotConfig `yaml:"snapshot"`
}

// RetrievalConfig configures search.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Refiner   RefinerConfig   `yaml:"refiner"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	// booleans that default to true are seeded before decoding; a key in the file overrides them
	cfg := AppConfig{Index: IndexConfig{PersistOnRebuild: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/recall/config.yaml.
// If neither exists, it writes defaults to ~/.config/recall/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown component types and unusable sizes.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.Store.Type {
	case "bolt":
		if c.Store.Bolt == nil || c.Store.Bolt.Path == "" {
			errs = append(errs, errors.New("store.bolt.path is required"))
		}
	case "postgres":
		if c.Store.Postgres == nil || c.Store.Postgres.ResolveDSN() == "" {
			errs = append(errs, errors.New("store.postgres needs dsn or dsn_env"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type: %q", c.Store.Type))
	}

	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Hashing == nil || c.Embedder.Hashing.Dimension <= 0 {
			errs = append(errs, errors.New("embedder.hashing.dimension must be positive"))
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			errs = append(errs, errors.New("embedder.openai section is required"))
		} else if c.Embedder.OpenAI.Dimension < 0 {
			errs = append(errs, errors.New("embedder.openai.dimension must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedder type: %q", c.Embedder.Type))
	}

	switch c.Refiner.Type {
	case "pos", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown refiner type: %q", c.Refiner.Type))
	}

	switch c.Index.Snapshot.Type {
	case "none":
	case "file":
		if c.Index.Snapshot.File == nil || c.Index.Snapshot.File.Path == "" {
			errs = append(errs, errors.New("index.snapshot.file.path is required"))
		}
	case "minio":
		m := c.Index.Snapshot.Minio
		if m == nil || m.Endpoint == "" || m.Bucket == "" || m.Key == "" {
			errs = append(errs, errors.New("index.snapshot.minio needs endpoint, bucket and key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot type: %q", c.Index.Snapshot.Type))
	}
	switch c.Index.Snapshot.Codec {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot codec: %q", c.Index.Snapshot.Codec))
	}

	if c.Index.Workers <= 0 {
		errs = append(errs, errors.New("index.workers must be positive"))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Seconds converts a whole-second config value to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "recall", "config.yaml"), nil
}

// Embedding defaults: a local Ollama server's OpenAI-compatible endpoint serving
// all-minilm, a 384-dimensional sentence embedding model.
const (
	DefaultEmbeddingBaseURL   = "http://localhost:11434/v1"
	DefaultEmbeddingModel     = "all-minilm"
	DefaultEmbeddingDimension = 384
	HashingDimension          = 384
)

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Server: ServerConfig{
			Addr:               "127.0.0.1:8000",
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   60,
			IdleTimeoutSecs:    120,
			RequestTimeoutSecs: 60,
			AllowedOrigins:     []string{"http://localhost:3000"},
		},
		Store:     StoreConfig{Type: "bolt", Bolt: &BoltConfig{Path: "personal_data.db"}},
		Embedder: EmbedderConfig{Type: "openai", OpenAI: &OpenAIEmbedderConfig{
			BaseURL:     DefaultEmbeddingBaseURL,
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       DefaultEmbeddingModel,
			TimeoutSecs: 30,
			MaxRetries:  3,
			Dimension:   DefaultEmbeddingDimension,
		}},
		Refiner: RefinerConfig{Type: "pos"},
		Index: IndexConfig{
			Workers:          4,
			PersistOnRebuild: true,
			Snapshot: SnapshotConfig{
				Type:  "file",
				Codec: "zstd",
				File:  &FileSnapshotConfig{Path: "index.snap"},
			},
		},
		Retrieval: RetrievalConfig{TopK: 1},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = def.Server.ReadTimeoutSecs
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = def.Server.WriteTimeoutSecs
	}
	if cfg.Server.IdleTimeoutSecs == 0 {
		cfg.Server.IdleTimeoutSecs = def.Server.IdleTimeoutSecs
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = def.Server.RequestTimeoutSecs
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = def.Server.AllowedOrigins
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = def.Store.Type
	}
	if cfg.Store.Type == "bolt" {
		if cfg.Store.Bolt == nil {
			cfg.Store.Bolt = &BoltConfig{}
		}
		if cfg.Store.Bolt.Path == "" {
			cfg.Store.Bolt.Path = def.Store.Bolt.Path
		}
	}
	if cfg.Store.Type == "postgres" && cfg.Store.Postgres != nil {
		if cfg.Store.Postgres.DSNEnv == "" {
			cfg.Store.Postgres.DSNEnv = "RECALL_DATABASE_URL"
		}
		if cfg.Store.Postgres.MaxOpenConns == 0 {
			cfg.Store.Postgres.MaxOpenConns = 10
		}
		if cfg.Store.Postgres.MaxIdleConns == 0 {
			cfg.Store.Postgres.MaxIdleConns = 5
		}
		if cfg.Store.Postgres.ConnMaxLifetimeSecs == 0 {
			cfg.Store.Postgres.ConnMaxLifetimeSecs = 300
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = HashingDimension
		}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = DefaultEmbeddingBaseURL
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		// the pinned dimension belongs to the default model only
		if o.Model == "" {
			o.Model = DefaultEmbeddingModel
			if o.Dimension == 0 {
				o.Dimension = DefaultEmbeddingDimension
			}
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}

	if cfg.Refiner.Type == "" {
		cfg.Refiner.Type = def.Refiner.Type
	}

	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = def.Index.Workers
	}
	if cfg.Index.Snapshot.Type == "" {
		cfg.Index.Snapshot.Type = def.Index.Snapshot.Type
	}
	if cfg.Index.Snapshot.Codec == "" {
		cfg.Index.Snapshot.Codec = def.Index.Snapshot.Codec
	}
	if cfg.Index.Snapshot.Type == "file" {
		if cfg.Index.Snapshot.File == nil {
			cfg.Index.Snapshot.File = &FileSnapshotConfig{}
		}
		if cfg.Index.Snapshot.File.Path == "" {
			cfg.Index.Snapshot.File.Path = def.Index.Snapshot.File.Path
		}
	}
	if cfg.Index.Snapshot.Type == "minio" && cfg.Index.Snapshot.Minio != nil {
		if cfg.Index.Snapshot.Minio.AccessKeyEnv == "" {
			cfg.Index.Snapshot.Minio.AccessKeyEnv = "RECALL_MINIO_ACCESS_KEY"
		}
		if cfg.Index.Snapshot.Minio.SecretKeyEnv == "" {
			cfg.Index.Snapshot.Minio.SecretKeyEnv = "RECALL_MINIO_SECRET_KEY"
		}
		if cfg.Index.Snapshot.Minio.Key == "" {
			cfg.Index.Snapshot.Minio.Key = "recall/index.snap"
		}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}
