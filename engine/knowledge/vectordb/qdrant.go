package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	qdrantIDKey        = "_id"
	qdrantNamespaceKey = "_namespace"
	qdrantTextKey      = "text"
)

type qdrantStore struct {
	client     *resty.Client
	collection string
	namespace  string
	dimension  int
	metric     string
}

// qdrantPoint is the shape shared by search and retrieve responses.
type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantResponse[T any] struct {
	Result T   `json:"result"`
	Status any `json:"status"`
}

func newQdrantStore(ctx context.Context, cfg *Config) (Store, error) {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(resolveTimeout(cfg.Timeout)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	store := &qdrantStore{
		client:     client,
		collection: cfg.Index,
		namespace:  cfg.Namespace,
		dimension:  cfg.Dimension,
		metric:     chooseQdrantMetric(cfg.Metric),
	}
	if cfg.EnsureIndex {
		if err := store.ensureCollection(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func chooseQdrantMetric(metric string) string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "euclid", "euclidean", "l2":
		return "Euclid"
	case "dot", "dotproduct":
		return "Dot"
	default:
		return "Cosine"
	}
}

// qdrantPointID maps arbitrary record ids onto the UUIDs qdrant accepts. The
// original id is kept in the payload.
func qdrantPointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (q *qdrantStore) collectionPath(suffix string) string {
	return "/collections/" + q.collection + suffix
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	resp, err := q.client.R().SetContext(ctx).Get(q.collectionPath(""))
	if err != nil {
		return fmt.Errorf("qdrant: inspect collection: %w", err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	if resp.StatusCode() != http.StatusNotFound {
		return qdrantError(resp)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": q.metric,
		},
	}
	return q.do(ctx, http.MethodPut, q.collectionPath(""), body, nil)
}

func (q *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := checkDimension(ProviderQdrant, rec.ID, len(rec.Embedding), q.dimension); err != nil {
			return err
		}
		payload := cloneMetadata(rec.Metadata)
		payload[qdrantTextKey] = rec.Text
		payload[qdrantIDKey] = rec.ID
		if q.namespace != "" {
			payload[qdrantNamespaceKey] = q.namespace
		}
		points = append(points, map[string]any{
			"id":      qdrantPointID(rec.ID),
			"vector":  rec.Embedding,
			"payload": payload,
		})
	}
	path := q.collectionPath("/points") + "?wait=true"
	return q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
}

func (q *qdrantStore) Fetch(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantPointID(id)
	}
	request := map[string]any{
		"ids":          pointIDs,
		"with_payload": []string{qdrantIDKey, qdrantNamespaceKey},
		"with_vector":  false,
	}
	var response qdrantResponse[[]qdrantPoint]
	if err := q.do(ctx, http.MethodPost, q.collectionPath("/points"), request, &response); err != nil {
		return nil, err
	}
	found := make([]string, 0, len(response.Result))
	for _, point := range response.Result {
		if ns, _ := point.Payload[qdrantNamespaceKey].(string); ns != q.namespace {
			continue
		}
		if id, ok := point.Payload[qdrantIDKey].(string); ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension(ProviderQdrant, "", len(query), q.dimension); err != nil {
		return nil, err
	}
	namespace := q.namespace
	if opts.Namespace != "" {
		namespace = opts.Namespace
	}
	request := map[string]any{
		"vector":       query,
		"limit":        resolveTopK(opts.TopK),
		"with_payload": true,
	}
	if opts.MinScore > 0 {
		request["score_threshold"] = opts.MinScore
	}
	if filter := buildQdrantFilter(opts.Filters, namespace); filter != nil {
		request["filter"] = filter
	}
	var response qdrantResponse[[]qdrantPoint]
	if err := q.do(ctx, http.MethodPost, q.collectionPath("/points/search"), request, &response); err != nil {
		return nil, err
	}
	return mapQdrantResults(response.Result, opts.MinScore), nil
}

func (q *qdrantStore) Delete(ctx context.Context, filter Filter) error {
	request := map[string]any{}
	switch {
	case len(filter.IDs) > 0:
		points := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			points[i] = qdrantPointID(id)
		}
		request["points"] = points
	case len(filter.Metadata) > 0:
		request["filter"] = buildQdrantFilter(filter.Metadata, q.namespace)
	default:
		return nil
	}
	return q.do(ctx, http.MethodPost, q.collectionPath("/points/delete")+"?wait=true", request, nil)
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

func buildQdrantFilter(filters map[string]string, namespace string) map[string]any {
	must := make([]any, 0, len(filters)+1)
	if namespace != "" {
		must = append(must, map[string]any{
			"key":   qdrantNamespaceKey,
			"match": map[string]any{"value": namespace},
		})
	}
	for _, key := range sortedKeys(filters) {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": filters[key]},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func mapQdrantResults(results []qdrantPoint, minScore float64) []Match {
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		if res.Score < minScore {
			continue
		}
		payload := cloneMetadata(res.Payload)
		id, ok := payload[qdrantIDKey].(string)
		if !ok {
			id = fmt.Sprint(res.ID)
		}
		delete(payload, qdrantIDKey)
		delete(payload, qdrantNamespaceKey)
		text, _ := payload[qdrantTextKey].(string)
		matches = append(matches, Match{
			ID:       id,
			Score:    res.Score,
			Text:     text,
			Metadata: payload,
		})
	}
	return matches
}

func (q *qdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	req := q.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.IsError() {
		return qdrantError(resp)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}

func qdrantError(resp *resty.Response) error {
	var apiErr struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &apiErr); err != nil || apiErr.Status.Error == "" {
		return fmt.Errorf("qdrant: request failed with status %d", resp.StatusCode())
	}
	return fmt.Errorf("qdrant: %s (%d)", apiErr.Status.Error, resp.StatusCode())
}
