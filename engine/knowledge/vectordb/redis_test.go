package vectordb

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreHelpers(t *testing.T) {
	t.Run("Should derive namespaced vector set keys", func(t *testing.T) {
		store := newRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), &Config{
			Index:     "E5 Index",
			Namespace: "Tenant/A",
			Dimension: 2,
		})
		t.Cleanup(func() { _ = store.client.Close() })
		assert.Equal(t, "e5_index", store.prefix)
		assert.Equal(t, "e5_index:tenant_a", store.setKey)
		assert.Equal(t, redisDefaultMaxTopK, store.maxTopK)
		assert.Equal(t, 7, store.searchCount(7))
		assert.Equal(t, defaultTopK, store.searchCount(0))
	})

	t.Run("Should fall back to the default key", func(t *testing.T) {
		assert.Equal(t, redisDefaultVectorKey, redisNamespaceKey(redisDefaultVectorKey, ""))
		assert.Equal(t, "", sanitizeRedisKey("  "))
	})

	t.Run("Should build filter expressions on flattened attributes", func(t *testing.T) {
		filter := buildRedisFilter(map[string]string{"file_id": `a"b`, "Kind": "x"})
		assert.Equal(t, `.meta_kind == "x" && .meta_file_id == "a\"b"`, filter)
		assert.Empty(t, buildRedisFilter(nil))
	})

	t.Run("Should flatten metadata into attributes", func(t *testing.T) {
		attrs := buildRedisAttributes(Record{ID: "a", Text: "hi", Metadata: map[string]any{"marker": true}})
		assert.Equal(t, "hi", attrs[redisTextAttrKey])
		assert.Equal(t, "true", attrs["meta_marker"])
		assert.Equal(t, map[string]any{"marker": true}, attrs[redisMetadataAttrKey])
	})

	t.Run("Should parse attribute payloads", func(t *testing.T) {
		text, meta, err := parseAttributeJSON(`{"text":"","_metadata":{"text":"chunk","file_id":"f"}}`)
		require.NoError(t, err)
		assert.Equal(t, "chunk", text)
		assert.Equal(t, "f", meta["file_id"])
		_, _, err = parseAttributeJSON(`{broken`)
		require.Error(t, err)
	})

	t.Run("Should drop matches under the minimum score", func(t *testing.T) {
		results := []redis.VectorScore{{Name: "a", Score: 0.9}, {Name: "b", Score: 0.2}}
		payloads := []string{`{"text":"alpha","_metadata":{}}`, `{"text":"bravo","_metadata":{}}`}
		matches, err := buildMatchesFromPayloads(results, payloads, 0.5)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "alpha", matches[0].Text)
	})

	t.Run("Should accept bare addresses as dsn", func(t *testing.T) {
		assert.Equal(t, "redis://localhost:6379", normalizeRedisDSN("localhost:6379"))
		assert.Equal(t, "rediss://h:1/2", normalizeRedisDSN("rediss://h:1/2"))
	})
}
