package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// DefaultOCRTimeout bounds a single recognition request. OCR on a large
// scanned page can be slow, so this is looser than the embedder timeout.
const DefaultOCRTimeout = 60 * time.Second

// HTTPOCRConfig configures the HTTP OCR client.
type HTTPOCRConfig struct {
	// Host is the OCR service endpoint, e.g. http://localhost:8884.
	Host string

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// HTTPOCRClient recognizes image text via an HTTP OCR service. The image
// bytes are posted as-is and the service answers with the recognized text.
type HTTPOCRClient struct {
	config HTTPOCRConfig
	client *http.Client
}

type ocrResponse struct {
	Text string `json:"text"`
}

// NewHTTPOCRClient creates an OCR client for the given service endpoint.
func NewHTTPOCRClient(cfg HTTPOCRConfig) *HTTPOCRClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOCRTimeout
	}
	return &HTTPOCRClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

var _ OCRClient = (*HTTPOCRClient)(nil)

// RecognizeImage posts the image to the OCR service and returns the
// recognized text. Failures are logged and skipped by the extractor, so a
// flaky OCR service degrades pages rather than failing documents.
func (c *HTTPOCRClient) RecognizeImage(ctx context.Context, r io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Host+"/ocr", r)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", pipeerrors.BackendUnreachable("ocr request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		respBody, _ := io.ReadAll(resp.Body)
		return "", pipeerrors.BackendUnreachable(
			fmt.Sprintf("ocr service returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", pipeerrors.ExtractionFailed(
			fmt.Sprintf("ocr service returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var apiResult ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return "", pipeerrors.ExtractionFailed("decoding ocr response", err)
	}
	return apiResult.Text, nil
}

// Close releases idle connections.
func (c *HTTPOCRClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
