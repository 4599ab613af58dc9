package embed

import (
	"fmt"
	"time"
)

// Settings selects and configures an embedding provider.
type Settings struct {
	Provider   string // "ollama", "openai", "static"
	Model      string
	Dimensions int
	OllamaHost string
	OpenAIKey  string
	CacheSize  int
	Timeout    time.Duration
}

// New creates the configured embedder wrapped in the bounded LRU cache.
func New(s Settings) (Embedder, error) {
	var inner Embedder
	switch s.Provider {
	case "ollama", "":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       s.OllamaHost,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Timeout:    s.Timeout,
		})
	case "openai":
		inner = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     s.OpenAIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		})
	case "static":
		inner = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", s.Provider)
	}
	return NewCachedEmbedder(inner, s.CacheSize), nil
}
