package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps vectors in a Redis vector set. VSIM scores are already
// normalized to [0,1] with 1 meaning identical.
type redisStore struct {
	client    *redis.Client
	setKey    string
	prefix    string
	dimension int
	maxTopK   int
}

const (
	redisDefaultMaxTopK     = 1000
	redisTextAttrKey        = "text"
	redisMetadataAttrKey    = "_metadata"
	redisMetadataPrefix     = "meta_"
	redisDefaultVectorKey   = "pagewise_vectors"
	redisFilterEqualsFormat = `%s == "%s"`
)

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	options, err := redis.ParseURL(normalizeRedisDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("redis: invalid dsn: %w", err)
	}
	options.Protocol = 3
	options.UnstableResp3 = true
	if cfg.APIKey != "" && options.Password == "" {
		options.Password = cfg.APIKey
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return newRedisStoreWithClient(client, cfg), nil
}

func newRedisStoreWithClient(client *redis.Client, cfg *Config) *redisStore {
	prefix := sanitizeRedisKey(cfg.Index)
	if prefix == "" {
		prefix = redisDefaultVectorKey
	}
	maxTopK := cfg.MaxTopK
	if maxTopK <= 0 {
		maxTopK = redisDefaultMaxTopK
	}
	return &redisStore{
		client:    client,
		prefix:    prefix,
		setKey:    redisNamespaceKey(prefix, cfg.Namespace),
		dimension: cfg.Dimension,
		maxTopK:   maxTopK,
	}
}

// normalizeRedisDSN accepts bare host:port addresses as well as URLs.
func normalizeRedisDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		return dsn
	}
	return "redis://" + dsn
}

func redisNamespaceKey(prefix, namespace string) string {
	if ns := sanitizeRedisKey(namespace); ns != "" {
		return prefix + ":" + ns
	}
	return prefix
}

func sanitizeRedisKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
		case r == ':', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return strings.Trim(builder.String(), "_:-")
}

func (r *redisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for i := range records {
		record := records[i]
		if err := checkDimension(ProviderRedis, record.ID, len(record.Embedding), r.dimension); err != nil {
			return err
		}
		pipe.VAdd(ctx, r.setKey, record.ID, &redis.VectorValues{Val: float32ToFloat64(record.Embedding)})
		pipe.VSetAttr(ctx, r.setKey, record.ID, buildRedisAttributes(record))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: upsert pipeline: %w", err)
	}
	return nil
}

func (r *redisStore) Fetch(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.VEmb(ctx, r.setKey, id, false)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: fetch pipeline: %w", err)
	}
	found := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		values, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: fetch %q: %w", ids[i], err)
		}
		if len(values) > 0 {
			found = append(found, ids[i])
		}
	}
	return found, nil
}

func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension(ProviderRedis, "", len(query), r.dimension); err != nil {
		return nil, err
	}
	key := r.setKey
	if opts.Namespace != "" {
		key = redisNamespaceKey(r.prefix, opts.Namespace)
	}
	args := &redis.VSimArgs{Count: int64(r.searchCount(opts.TopK))}
	if filter := buildRedisFilter(opts.Filters); filter != "" {
		args.Filter = filter
	}
	results, err := r.client.VSimWithArgsWithScores(
		ctx,
		key,
		&redis.VectorValues{Val: float32ToFloat64(query)},
		args,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Match{}, nil
		}
		return nil, fmt.Errorf("redis: similarity search: %w", err)
	}
	if len(results) == 0 {
		return []Match{}, nil
	}
	payloads, err := r.loadAttributePayloads(ctx, key, results)
	if err != nil {
		return nil, err
	}
	return buildMatchesFromPayloads(results, payloads, opts.MinScore)
}

func (r *redisStore) Delete(ctx context.Context, filter Filter) error {
	targets := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			targets[trimmed] = struct{}{}
		}
	}
	if len(filter.Metadata) > 0 {
		ids, err := r.lookupIDsByMetadata(ctx, filter.Metadata)
		if err != nil {
			return err
		}
		for _, id := range ids {
			targets[id] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for id := range targets {
		pipe.VRem(ctx, r.setKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete vectors: %w", err)
	}
	return nil
}

func (r *redisStore) lookupIDsByMetadata(ctx context.Context, metadata map[string]string) ([]string, error) {
	total, err := r.client.VCard(ctx, r.setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: vcard: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	ones := make([]float64, r.dimension)
	for i := range ones {
		ones[i] = 1
	}
	names, err := r.client.VSimWithArgs(
		ctx,
		r.setKey,
		&redis.VectorValues{Val: ones},
		&redis.VSimArgs{Count: total, Filter: buildRedisFilter(metadata)},
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: metadata filter query: %w", err)
	}
	return names, nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func (r *redisStore) searchCount(topK int) int {
	count := resolveTopK(topK)
	if r.maxTopK > 0 && count > r.maxTopK {
		count = r.maxTopK
	}
	return count
}

func (r *redisStore) loadAttributePayloads(
	ctx context.Context,
	key string,
	results []redis.VectorScore,
) ([]string, error) {
	pipe := r.client.Pipeline()
	attrCmds := make([]*redis.StringCmd, len(results))
	for i := range results {
		attrCmds[i] = pipe.VGetAttr(ctx, key, results[i].Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: fetch attributes: %w", err)
	}
	payloads := make([]string, len(results))
	for i := range attrCmds {
		raw, err := attrCmds[i].Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis: read attributes for %q: %w", results[i].Name, err)
		}
		payloads[i] = raw
	}
	return payloads, nil
}

func buildMatchesFromPayloads(results []redis.VectorScore, payloads []string, minScore float64) ([]Match, error) {
	matches := make([]Match, 0, len(results))
	for i, item := range results {
		if item.Score < minScore {
			continue
		}
		text, metadata, err := parseAttributeJSON(payloads[i])
		if err != nil {
			return nil, fmt.Errorf("redis: parse attributes for %q: %w", item.Name, err)
		}
		matches = append(matches, Match{ID: item.Name, Score: item.Score, Text: text, Metadata: metadata})
	}
	return matches, nil
}

func float32ToFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}

// buildRedisAttributes stores the full metadata under one key for retrieval
// and flattened copies under meta_ keys so VSIM FILTER expressions can use them.
func buildRedisAttributes(record Record) map[string]any {
	attrs := make(map[string]any, len(record.Metadata)+2)
	attrs[redisTextAttrKey] = record.Text
	attrs[redisMetadataAttrKey] = cloneMetadata(record.Metadata)
	for key, value := range record.Metadata {
		attrs[metadataAttributeKey(key)] = fmt.Sprint(value)
	}
	return attrs
}

func metadataAttributeKey(key string) string {
	return redisMetadataPrefix + sanitizeAttributeKey(key)
}

func sanitizeAttributeKey(key string) string {
	builder := strings.Builder{}
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
		default:
			builder.WriteRune('_')
		}
	}
	result := strings.Trim(builder.String(), "_")
	if result == "" {
		return "unknown"
	}
	return result
}

func buildRedisFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	parts := make([]string, 0, len(filters))
	for _, key := range sortedKeys(filters) {
		attr := "." + metadataAttributeKey(key)
		parts = append(parts, fmt.Sprintf(redisFilterEqualsFormat, attr, replacer.Replace(filters[key])))
	}
	return strings.Join(parts, " && ")
}

func parseAttributeJSON(payload string) (string, map[string]any, error) {
	if strings.TrimSpace(payload) == "" {
		return "", make(map[string]any), nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", nil, err
	}
	meta := make(map[string]any)
	if raw, ok := decoded[redisMetadataAttrKey].(map[string]any); ok {
		meta = raw
	}
	text, _ := decoded[redisTextAttrKey].(string)
	return matchText(text, meta), meta, nil
}
