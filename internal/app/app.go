// Package app assembles the configured components into a running memory service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"recall/internal/config"
	"recall/internal/domain"
	"recall/internal/embedding/hashing"
	"recall/internal/embedding/openai"
	"recall/internal/recordstore/bolt"
	"recall/internal/recordstore/postgres"
	"recall/internal/refiner"
	"recall/internal/retrieval"
	"recall/internal/service"
	"recall/internal/snapshot"
)

// App owns every long-lived component.
type App struct {
	Store   domain.RecordStore
	Engine  *retrieval.Engine
	Service *service.MemoryService
	logger  *zap.Logger
}

// Build creates the components selected by cfg and loads the index.
func Build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	ref, err := newRefiner(cfg.Refiner)
	if err != nil {
		return nil, err
	}
	snaps, err := newSnapshotStore(cfg.Index.Snapshot)
	if err != nil {
		return nil, err
	}
	store, err := newRecordStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	opts := []retrieval.Option{
		retrieval.WithLogger(logger.Named("retrieval")),
		retrieval.WithRefiner(ref),
		retrieval.WithWorkers(cfg.Index.Workers),
	}
	if snaps != nil {
		opts = append(opts, retrieval.WithSnapshots(snaps, cfg.Index.PersistOnRebuild))
	}
	engine := retrieval.New(store, emb, opts...)
	if err := engine.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("components ready",
		zap.String("store", cfg.Store.Type),
		zap.String("embedder", emb.Name()),
		zap.String("refiner", cfg.Refiner.Type),
		zap.String("snapshot", cfg.Index.Snapshot.Type))

	return &App{
		Store:   store,
		Engine:  engine,
		Service: service.NewMemoryService(store, engine, cfg.Retrieval.TopK, logger.Named("service")),
		logger:  logger,
	}, nil
}

// Close persists the index and closes the record store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Engine.Shutdown(ctx); err != nil {
		a.logger.Error("failed to persist index", zap.Error(err))
		errs = append(errs, err)
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close record store: %w", err))
	}
	return errors.Join(errs...)
}

func newRecordStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (domain.RecordStore, error) {
	switch cfg.Type {
	case "bolt":
		return bolt.Open(cfg.Bolt.Path)
	case "postgres":
		pg := cfg.Postgres
		return postgres.Open(ctx, postgres.Config{
			DSN:             pg.ResolveDSN(),
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: config.Seconds(pg.ConnMaxLifetimeSecs),
		}, logger.Named("postgres"))
	default:
		return nil, fmt.Errorf("%w: unknown store: %s", domain.ErrConfiguration, cfg.Type)
	}
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing":
		return hashing.NewEmbedder(cfg.Hashing.Dimension), nil
	case "openai":
		o := cfg.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Timeout:           config.Seconds(o.TimeoutSecs),
			Dimension:         o.Dimension,
			MaxRetries:        o.MaxRetries,
			RequestsPerSecond: o.RequestsPerSecond,
			Burst:             o.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai embedder: %v", domain.ErrConfiguration, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, cfg.Type)
	}
}

func newRefiner(cfg config.RefinerConfig) (domain.Refiner, error) {
	switch cfg.Type {
	case "pos":
		r, err := refiner.NewEnglish()
		if err != nil {
			return nil, err
		}
		return r, nil
	case "none":
		return refiner.Disabled{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown refiner: %s", domain.ErrConfiguration, cfg.Type)
	}
}

// newSnapshotStore returns nil when persistence is disabled.
func newSnapshotStore(cfg config.SnapshotConfig) (snapshot.Store, error) {
	codec, err := snapshot.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	switch cfg.Type {
	case "none":
		return nil, nil
	case "file":
		return snapshot.NewFileStore(cfg.File.Path, codec), nil
	case "minio":
		m := cfg.Minio
		st, err := snapshot.NewMinioStore(snapshot.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: os.Getenv(m.AccessKeyEnv),
			SecretKey: os.Getenv(m.SecretKeyEnv),
			Bucket:    m.Bucket,
			Key:       m.Key,
			Secure:    m.Secure,
			Region:    m.Region,
		}, codec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unknown snapshot store: %s", domain.ErrConfiguration, cfg.Type)
	}
}
