package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pagewise/pagewise/pkg/logger"
)

const (
	pineconeAPIVersion   = "2024-07"
	pineconeUpsertChunk  = 100
	pineconeTextKey      = "text"
	pineconeVersionField = "X-Pinecone-API-Version"
)

// pineconeControlPlane resolves index hosts when no endpoint is configured.
var pineconeControlPlane = "https://api.pinecone.io"

type pineconeStore struct {
	client    *resty.Client
	namespace string
	dimension int
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func newPineconeStore(ctx context.Context, cfg *Config) (Store, error) {
	timeout := resolveTimeout(cfg.Timeout)
	host := cfg.Endpoint
	if host == "" {
		resolved, err := resolvePineconeHost(ctx, cfg)
		if err != nil {
			return nil, err
		}
		host = resolved
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(host, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader(pineconeVersionField, pineconeAPIVersion)
	if cfg.APIKey != "" {
		client.SetHeader("Api-Key", cfg.APIKey)
	}
	return &pineconeStore{client: client, namespace: cfg.Namespace, dimension: cfg.Dimension}, nil
}

func resolvePineconeHost(ctx context.Context, cfg *Config) (string, error) {
	resp, err := resty.New().
		SetTimeout(resolveTimeout(cfg.Timeout)).
		R().
		SetContext(ctx).
		SetHeader("Api-Key", cfg.APIKey).
		SetHeader(pineconeVersionField, pineconeAPIVersion).
		Get(pineconeControlPlane + "/indexes/" + url.PathEscape(cfg.Index))
	if err != nil {
		return "", fmt.Errorf("pinecone: describe index %q: %w", cfg.Index, err)
	}
	if resp.IsError() {
		return "", pineconeError("describe index", resp)
	}
	var described struct {
		Host      string `json:"host"`
		Dimension int    `json:"dimension"`
	}
	if err := json.Unmarshal(resp.Body(), &described); err != nil {
		return "", fmt.Errorf("pinecone: decode index description: %w", err)
	}
	if described.Host == "" {
		return "", fmt.Errorf("pinecone: index %q has no host yet", cfg.Index)
	}
	if described.Dimension > 0 && described.Dimension != cfg.Dimension {
		return "", fmt.Errorf(
			"pinecone: index %q has dimension %d, embedder produces %d",
			cfg.Index,
			described.Dimension,
			cfg.Dimension,
		)
	}
	logger.FromContext(ctx).Debug("Resolved pinecone index host", "index", cfg.Index, "host", described.Host)
	return described.Host, nil
}

func (p *pineconeStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	vectors := make([]pineconeVector, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := checkDimension(ProviderPinecone, rec.ID, len(rec.Embedding), p.dimension); err != nil {
			return err
		}
		metadata := cloneMetadata(rec.Metadata)
		if _, ok := metadata[pineconeTextKey]; !ok && rec.Text != "" {
			metadata[pineconeTextKey] = rec.Text
		}
		vectors = append(vectors, pineconeVector{ID: rec.ID, Values: rec.Embedding, Metadata: metadata})
	}
	for start := 0; start < len(vectors); start += pineconeUpsertChunk {
		end := min(start+pineconeUpsertChunk, len(vectors))
		body := map[string]any{"vectors": vectors[start:end], "namespace": p.namespace}
		if err := p.post(ctx, "/vectors/upsert", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *pineconeStore) Fetch(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	params := url.Values{"ids": ids}
	if p.namespace != "" {
		params.Set("namespace", p.namespace)
	}
	resp, err := p.client.R().SetContext(ctx).SetQueryParamsFromValues(params).Get("/vectors/fetch")
	if err != nil {
		return nil, fmt.Errorf("pinecone: fetch: %w", err)
	}
	if resp.IsError() {
		return nil, pineconeError("fetch", resp)
	}
	var response struct {
		Vectors map[string]pineconeVector `json:"vectors"`
	}
	if err := json.Unmarshal(resp.Body(), &response); err != nil {
		return nil, fmt.Errorf("pinecone: decode fetch response: %w", err)
	}
	found := make([]string, 0, len(response.Vectors))
	for _, id := range ids {
		if _, ok := response.Vectors[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (p *pineconeStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension(ProviderPinecone, "", len(query), p.dimension); err != nil {
		return nil, err
	}
	namespace := p.namespace
	if opts.Namespace != "" {
		namespace = opts.Namespace
	}
	request := map[string]any{
		"vector":          query,
		"topK":            resolveTopK(opts.TopK),
		"includeMetadata": true,
		"includeValues":   false,
		"namespace":       namespace,
	}
	if filter := buildPineconeFilter(opts.Filters); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Matches []pineconeMatch `json:"matches"`
	}
	if err := p.post(ctx, "/query", request, &response); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(response.Matches))
	for _, m := range response.Matches {
		if m.Score < opts.MinScore {
			continue
		}
		metadata := cloneMetadata(m.Metadata)
		matches = append(matches, Match{ID: m.ID, Score: m.Score, Text: matchText("", metadata), Metadata: metadata})
	}
	return matches, nil
}

func (p *pineconeStore) Delete(ctx context.Context, filter Filter) error {
	request := map[string]any{"namespace": p.namespace}
	switch {
	case len(filter.IDs) > 0:
		request["ids"] = filter.IDs
	case len(filter.Metadata) > 0:
		request["filter"] = buildPineconeFilter(filter.Metadata)
	default:
		return nil
	}
	return p.post(ctx, "/vectors/delete", request, nil)
}

func (p *pineconeStore) Close(context.Context) error {
	return nil
}

func buildPineconeFilter(filters map[string]string) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]any, len(filters))
	for key, value := range filters {
		out[key] = map[string]any{"$eq": value}
	}
	return out
}

func (p *pineconeStore) post(ctx context.Context, path string, body any, out any) error {
	resp, err := p.client.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("pinecone: %s: %w", path, err)
	}
	if resp.IsError() {
		return pineconeError(path, resp)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("pinecone: decode %s response: %w", path, err)
		}
	}
	return nil
}

func pineconeError(op string, resp *resty.Response) error {
	var apiErr struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(resp.Body(), &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error.Message
	}
	if msg == "" {
		return fmt.Errorf("pinecone: %s failed with status %d", op, resp.StatusCode())
	}
	return fmt.Errorf("pinecone: %s failed with status %d: %s", op, resp.StatusCode(), msg)
}
