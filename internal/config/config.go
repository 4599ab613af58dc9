// Package config loads and validates the service configuration.
//
// Configuration is resolved in three layers, later layers winning:
//  1. Built-in defaults (DefaultConfig)
//  2. YAML config file (tendocs.yaml)
//  3. TENDOCS_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// Config is the complete service configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Storage    StorageConfig    `yaml:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Index      IndexConfig      `yaml:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PipelineConfig configures the polling coordinator.
type PipelineConfig struct {
	// Workers is the fixed worker pool size. Each poll fetches at most this
	// many eligible documents.
	Workers int `yaml:"workers"`

	// PollInterval is the fixed sleep between polls, used for both the idle
	// and just-finished-a-batch cases.
	PollInterval time.Duration `yaml:"poll_interval"`

	// TaskTimeout bounds a single stage transition so a hung collaborator
	// call cannot pin a worker slot forever.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// LeaseTTL is how long a ListPending claim remains valid. A crashed
	// coordinator's claims expire after this and become eligible again.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// MaxRetries is the per-track retry bound before a document is evicted
	// from the pending-work set as a terminal failure.
	MaxRetries int `yaml:"max_retries"`
}

// StorageConfig configures the metadata store and the document (blob) store.
type StorageConfig struct {
	// MetadataPath is the SQLite database path. Empty uses
	// <data_dir>/metadata.db.
	MetadataPath string `yaml:"metadata_path"`

	// BlobBackend selects the document store: "fs" (default) or "minio".
	BlobBackend string `yaml:"blob_backend"`

	// BlobDir is the filesystem store root (fs backend). Empty uses
	// <data_dir>/blobs.
	BlobDir string `yaml:"blob_dir"`

	// MinIO settings (minio backend).
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" (default), "openai", "static".
	Provider string `yaml:"provider"`

	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`

	// OpenAIKey is the API key for the openai provider. Usually set via
	// TENDOCS_OPENAI_KEY or OPENAI_API_KEY.
	OpenAIKey string `yaml:"openai_key"`

	// CacheSize is the LRU embedding cache capacity (entries).
	CacheSize int `yaml:"cache_size"`
}

// ExtractionConfig configures the document extractor.
type ExtractionConfig struct {
	// OCRHost is an HTTP OCR service endpoint for recognizing text in
	// embedded PDF images. Empty disables OCR; image-only pages come back
	// without text.
	OCRHost string `yaml:"ocr_host"`
}

// ChunkingConfig configures the semantic chunker.
type ChunkingConfig struct {
	// MaxTokens is the word-count budget per fragment.
	MaxTokens int `yaml:"max_tokens"`

	// SimilarityThreshold is the cosine boundary between the accumulated
	// fragment and the next sentence. Fixed scalar, no dynamic calibration.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// IndexConfig configures the per-tenant vector index partitions.
type IndexConfig struct {
	// LexicalBackend selects the keyword index: "sqlite" (FTS5, default) or
	// "bleve".
	LexicalBackend string `yaml:"lexical_backend"`

	// HNSW parameters.
	M              int `yaml:"hnsw_m"`
	EfSearch       int `yaml:"hnsw_ef_search"`
}

// RetrievalConfig configures query-time behavior.
type RetrievalConfig struct {
	// TopK is the default number of results returned.
	TopK int `yaml:"top_k"`

	// Alpha blends vector similarity against lexical match (1.0 = pure
	// vector).
	Alpha float64 `yaml:"alpha"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	FilePath  string `yaml:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Pipeline: PipelineConfig{
			Workers:      5,
			PollInterval: 10 * time.Second,
			TaskTimeout:  5 * time.Minute,
			LeaseTTL:     10 * time.Minute,
			MaxRetries:   7,
		},
		Storage: StorageConfig{
			BlobBackend: "fs",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Chunking: ChunkingConfig{
			MaxTokens:           300,
			SimilarityThreshold: 0.4,
		},
		Index: IndexConfig{
			LexicalBackend: "sqlite",
			M:              16,
			EfSearch:       64,
		},
		Retrieval: RetrievalConfig{
			TopK:  3,
			Alpha: 0.5,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tendocs")
	}
	return filepath.Join(home, ".tendocs")
}

// Load reads configuration from path (optional), applies env overrides, and
// validates the result. An empty path loads defaults plus env only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, pipeerrors.New(pipeerrors.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("failed to parse config: %v", err), err)
		}
	}

	cfg.applyEnv()
	cfg.applyDerivedPaths()

	if err := cfg.Validate(); err != nil {
		return nil, pipeerrors.New(pipeerrors.ErrCodeConfigInvalid, err.Error(), err)
	}
	return cfg, nil
}

// applyEnv overrides selected fields from TENDOCS_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("TENDOCS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TENDOCS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TENDOCS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("TENDOCS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.PollInterval = d
		}
	}
	if v := os.Getenv("TENDOCS_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("TENDOCS_OCR_HOST"); v != "" {
		c.Extraction.OCRHost = v
	}
	if v := os.Getenv("TENDOCS_OPENAI_KEY"); v != "" {
		c.Embeddings.OpenAIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embeddings.OpenAIKey == "" {
		c.Embeddings.OpenAIKey = v
	}
	if v := os.Getenv("TENDOCS_MINIO_ENDPOINT"); v != "" {
		c.Storage.MinioEndpoint = v
	}
	if v := os.Getenv("TENDOCS_MINIO_ACCESS_KEY"); v != "" {
		c.Storage.MinioAccessKey = v
	}
	if v := os.Getenv("TENDOCS_MINIO_SECRET_KEY"); v != "" {
		c.Storage.MinioSecretKey = v
	}
}

// applyDerivedPaths fills empty paths from DataDir.
func (c *Config) applyDerivedPaths() {
	if c.Storage.MetadataPath == "" {
		c.Storage.MetadataPath = filepath.Join(c.DataDir, "metadata.db")
	}
	if c.Storage.BlobDir == "" {
		c.Storage.BlobDir = filepath.Join(c.DataDir, "blobs")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.DataDir, "logs", "pipeline.log")
	}
}

// IndexDir returns the vector index root directory.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be positive")
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be >= 1, got %d", c.Pipeline.MaxRetries)
	}
	switch c.Storage.BlobBackend {
	case "fs", "minio":
	default:
		return fmt.Errorf("storage.blob_backend must be fs or minio, got %q", c.Storage.BlobBackend)
	}
	if c.Storage.BlobBackend == "minio" && c.Storage.MinioEndpoint == "" {
		return fmt.Errorf("storage.minio_endpoint is required for the minio backend")
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be ollama, openai or static, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "openai" && c.Embeddings.OpenAIKey == "" {
		return fmt.Errorf("embeddings.openai_key is required for the openai provider")
	}
	if c.Chunking.MaxTokens < 1 {
		return fmt.Errorf("chunking.max_tokens must be >= 1, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.SimilarityThreshold < -1 || c.Chunking.SimilarityThreshold > 1 {
		return fmt.Errorf("chunking.similarity_threshold must be in [-1, 1], got %v", c.Chunking.SimilarityThreshold)
	}
	switch c.Index.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("index.lexical_backend must be sqlite or bleve, got %q", c.Index.LexicalBackend)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		return fmt.Errorf("retrieval.alpha must be in [0, 1], got %v", c.Retrieval.Alpha)
	}
	return nil
}
