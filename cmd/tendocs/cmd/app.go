package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tendocs/tendocs/internal/blob"
	"github.com/tendocs/tendocs/internal/chunk"
	"github.com/tendocs/tendocs/internal/config"
	"github.com/tendocs/tendocs/internal/embed"
	"github.com/tendocs/tendocs/internal/extract"
	"github.com/tendocs/tendocs/internal/index"
	"github.com/tendocs/tendocs/internal/logging"
	"github.com/tendocs/tendocs/internal/pipeline"
	"github.com/tendocs/tendocs/internal/search"
	"github.com/tendocs/tendocs/internal/store"
)

// app is the fully wired service stack, shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	meta      store.MetadataStore
	blobs     blob.Store
	embedder  embed.Embedder
	index     *index.Manager
	coord     *pipeline.Coordinator
	retriever *search.Retriever

	logCleanup func()
}

// loadConfig resolves the configuration with CLI flag overrides applied on
// top of file and environment settings.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
		cfg.Storage.MetadataPath = filepath.Join(cfg.DataDir, "metadata.db")
		if cfg.Storage.BlobBackend == "fs" {
			cfg.Storage.BlobDir = filepath.Join(cfg.DataDir, "blobs")
		}
		cfg.Logging.FilePath = filepath.Join(cfg.DataDir, "logs", "pipeline.log")
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// buildApp constructs the stack from configuration. withStderr mirrors logs
// to stderr, used by the long-running serve command.
func buildApp(flags *rootFlags, withStderr bool) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: withStderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, logCleanup: logCleanup}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	embedder, err := embed.New(embed.Settings{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		OllamaHost: cfg.Embeddings.OllamaHost,
		OpenAIKey:  cfg.Embeddings.OpenAIKey,
		CacheSize:  cfg.Embeddings.CacheSize,
		Timeout:    30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = embedder

	meta, err := store.NewSQLiteStore(cfg.Storage.MetadataPath,
		store.WithLease(cfg.Pipeline.LeaseTTL))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	a.meta = meta

	switch cfg.Storage.BlobBackend {
	case "minio":
		blobs, err := blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  cfg.Storage.MinioEndpoint,
			AccessKey: cfg.Storage.MinioAccessKey,
			SecretKey: cfg.Storage.MinioSecretKey,
			UseSSL:    cfg.Storage.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to minio: %w", err)
		}
		a.blobs = blobs
	default:
		blobs, err := blob.NewFSStore(cfg.Storage.BlobDir)
		if err != nil {
			return fmt.Errorf("failed to open blob store: %w", err)
		}
		a.blobs = blobs
	}

	idx, err := index.NewManager(index.Config{
		Dir:        cfg.IndexDir(),
		Dimensions: embedder.Dimensions(),
		Backend:    index.Backend(cfg.Index.LexicalBackend),
		M:          cfg.Index.M,
		EfSearch:   cfg.Index.EfSearch,
	})
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	a.index = idx

	var extractOpts []extract.Option
	if cfg.Extraction.OCRHost != "" {
		extractOpts = append(extractOpts, extract.WithOCR(
			extract.NewHTTPOCRClient(extract.HTTPOCRConfig{Host: cfg.Extraction.OCRHost})))
	}
	extractor := extract.New(a.blobs, a.logger, extractOpts...)
	chunker, err := chunk.New(embedder, a.logger,
		chunk.WithMaxTokens(cfg.Chunking.MaxTokens),
		chunk.WithSimilarityThreshold(cfg.Chunking.SimilarityThreshold))
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}
	indexer := pipeline.NewIndexer(idx, embedder, a.logger,
		pipeline.WithEmbedBatchSize(cfg.Embeddings.BatchSize))

	coord, err := pipeline.NewCoordinator(pipeline.Config{
		Workers:      cfg.Pipeline.Workers,
		PollInterval: cfg.Pipeline.PollInterval,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		TaskTimeout:  cfg.Pipeline.TaskTimeout,
		LockPath:     filepath.Join(cfg.DataDir, "coordinator.lock"),
	}, meta, a.blobs, extractor, chunker, indexer, idx, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	a.coord = coord

	a.retriever = search.New(idx, embedder, a.logger)
	return nil
}

// Close releases the stack in reverse dependency order. Safe on a partially
// wired app.
func (a *app) Close() {
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.blobs != nil {
		_ = a.blobs.Close()
	}
	if a.meta != nil {
		_ = a.meta.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
}
