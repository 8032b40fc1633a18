package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pagewise/pagewise/pkg/logger"
)

// TEIEncoder talks to a Hugging Face text-embeddings-inference server and
// requests raw token embeddings through /embed_all so pooling happens here.
type TEIEncoder struct {
	client *resty.Client
	model  string
}

type teiEmbedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

type teiInfo struct {
	ModelID string `json:"model_id"`
}

type teiError struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// NewTEIEncoder builds a client for the server at endpoint.
func NewTEIEncoder(endpoint, model, apiKey string, timeout time.Duration) (*TEIEncoder, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("embedder: tei endpoint is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &TEIEncoder{client: client, model: model}, nil
}

// Load checks the server is healthy and warns when it serves a model other
// than the configured one.
func (e *TEIEncoder) Load(ctx context.Context) error {
	resp, err := e.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("tei health check: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("tei health check: unexpected status %d", resp.StatusCode())
	}
	resp, err = e.client.R().SetContext(ctx).Get("/info")
	if err != nil {
		return fmt.Errorf("tei info: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("tei info: unexpected status %d", resp.StatusCode())
	}
	var info teiInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		logger.FromContext(ctx).Debug("Unable to decode embedding server info", "error", err)
		return nil
	}
	if e.model != "" && info.ModelID != "" && info.ModelID != e.model {
		logger.FromContext(ctx).Warn(
			"Embedding server serves a different model than configured",
			"configured", e.model,
			"served", info.ModelID,
		)
	}
	return nil
}

// Encode returns padded token embeddings for texts. Inputs longer than the
// model accepts are rejected by the server rather than truncated.
func (e *TEIEncoder) Encode(ctx context.Context, texts []string) (*TokenBatch, error) {
	if len(texts) == 0 {
		return &TokenBatch{}, nil
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(teiEmbedRequest{Inputs: texts, Truncate: false}).
		Post("/embed_all")
	if err != nil {
		return nil, fmt.Errorf("tei embed_all: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		var apiErr teiError
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, fmt.Errorf("tei embed_all: status %d: %s", resp.StatusCode(), msg)
	}
	var seqs [][][]float32
	if err := json.Unmarshal(resp.Body(), &seqs); err != nil {
		return nil, fmt.Errorf("tei embed_all: decode response: %w", err)
	}
	if len(seqs) != len(texts) {
		return nil, fmt.Errorf("tei embed_all: received %d sequences for %d inputs", len(seqs), len(texts))
	}
	return padSequences(seqs), nil
}
