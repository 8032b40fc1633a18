package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type mockSource struct {
	data       map[string]any
	sourceType SourceType
	err        error
}

func (m *mockSource) Load() (map[string]any, error) { return m.data, m.err }
func (m *mockSource) Type() SourceType              { return m.sourceType }

func TestLoader_Load(t *testing.T) {
	t.Run("Should load default configuration when no sources provided", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 512, cfg.Chunking.MaxLength)
		assert.Equal(t, 50, cfg.Chunking.Stride)
		assert.Equal(t, 100, cfg.Ingest.BatchSize)
		assert.Equal(t, "random", cfg.Ingest.IDStrategy)
		assert.Equal(t, "marker-", cfg.Ingest.MarkerPrefix)
		assert.InDelta(t, 1e-8, cfg.Ingest.MarkerValue, 1e-12)
		assert.InDelta(t, 0.75, cfg.Retrieval.Threshold, 1e-9)
		assert.Equal(t, "intfloat/e5-base-v2", cfg.Embedder.Model)
		assert.Equal(t, "passage: ", cfg.Embedder.InputPrefix)
		assert.Equal(t, 768, cfg.Embedder.Dimension)
		assert.Equal(t, "google/flan-t5-base", cfg.Generator.Model)
		assert.Equal(t, 150, cfg.Generator.MaxTokens)
		assert.InDelta(t, 0.7, cfg.Generator.Temperature, 1e-9)
		assert.Equal(t, "e5-768d-index", cfg.VectorDB.Index)
		assert.Equal(t, 10*time.Minute, cfg.Ingest.ClaimTTL)
	})

	t.Run("Should apply sources in precedence order", func(t *testing.T) {
		yamlSrc := &mockSource{
			sourceType: SourceYAML,
			data: map[string]any{
				"ingest":    map[string]any{"batch_size": 10, "workers": 4},
				"retrieval": map[string]any{"top_k": 8},
			},
		}
		cliSrc := &mockSource{
			sourceType: SourceCLI,
			data:       map[string]any{"ingest": map[string]any{"batch_size": 20}},
		}
		svc := NewService()
		cfg, err := svc.Load(t.Context(), yamlSrc, cliSrc)
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Ingest.BatchSize)
		assert.Equal(t, 4, cfg.Ingest.Workers)
		assert.Equal(t, 8, cfg.Retrieval.TopK)
		assert.Equal(t, SourceCLI, svc.GetSource("ingest.batch_size"))
		assert.Equal(t, SourceYAML, svc.GetSource("ingest.workers"))
		assert.Equal(t, SourceDefault, svc.GetSource("chunking.stride"))
	})

	t.Run("Should let environment override YAML and CLI override environment", func(t *testing.T) {
		t.Setenv("RETRIEVAL_THRESHOLD", "0.5")
		t.Setenv("INGEST_BATCH_SIZE", "42")
		t.Setenv("EMBEDDING_MODEL", "intfloat/e5-small-v2")
		yamlSrc := &mockSource{
			sourceType: SourceYAML,
			data:       map[string]any{"retrieval": map[string]any{"threshold": 0.9}},
		}
		cliSrc := NewCLIProvider(map[string]any{"batch-size": 7})
		cfg, err := NewService().Load(t.Context(), yamlSrc, cliSrc)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, cfg.Retrieval.Threshold, 1e-9)
		assert.Equal(t, 7, cfg.Ingest.BatchSize)
		assert.Equal(t, "intfloat/e5-small-v2", cfg.Embedder.Model)
	})

	t.Run("Should decode durations and secrets from the environment", func(t *testing.T) {
		t.Setenv("INGEST_CLAIM_TTL", "90s")
		t.Setenv("PINECONE_API_KEY", "pc-secret")
		cfg, err := NewService().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Ingest.ClaimTTL)
		assert.Equal(t, "pc-secret", cfg.VectorDB.APIKey.Value())
		assert.Equal(t, "[REDACTED]", cfg.VectorDB.APIKey.String())
	})

	t.Run("Should return error when a source fails", func(t *testing.T) {
		src := &mockSource{sourceType: SourceYAML, err: assert.AnError}
		_, err := NewService().Load(t.Context(), src)
		require.ErrorIs(t, err, assert.AnError)
	})
}

func TestLoader_Validate(t *testing.T) {
	svc := NewService()

	t.Run("Should reject stride not smaller than max length", func(t *testing.T) {
		cfg := Default()
		cfg.Chunking.Stride = cfg.Chunking.MaxLength
		err := svc.Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stride")
	})

	t.Run("Should reject an unknown id strategy", func(t *testing.T) {
		cfg := Default()
		cfg.Ingest.IDStrategy = "sequential"
		require.Error(t, svc.Validate(cfg))
	})

	t.Run("Should require a DSN for pgvector", func(t *testing.T) {
		cfg := Default()
		cfg.VectorDB.Provider = "pgvector"
		require.Error(t, svc.Validate(cfg))
		cfg.VectorDB.DSN = "postgres://localhost/db"
		require.NoError(t, svc.Validate(cfg))
	})

	t.Run("Should require a URL for the http sink", func(t *testing.T) {
		cfg := Default()
		cfg.Sink.Provider = "http"
		require.Error(t, svc.Validate(cfg))
	})

	t.Run("Should reject nil configuration", func(t *testing.T) {
		require.Error(t, svc.Validate(nil))
	})
}

func TestYAMLProvider(t *testing.T) {
	t.Run("Should load nested values and drop nulls", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pagewise.yaml")
		content := "chunking:\n  max_length: 256\n  stride: ~\nvector_db:\n  provider: memory\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		cfg, err := NewService().Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 256, cfg.Chunking.MaxLength)
		assert.Equal(t, 50, cfg.Chunking.Stride)
		assert.Equal(t, "memory", cfg.VectorDB.Provider)
	})

	t.Run("Should ignore a missing file", func(t *testing.T) {
		data, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("Should fail on malformed YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("chunking: [unterminated"), 0o600))
		_, err := NewYAMLProvider(path).Load()
		require.Error(t, err)
	})
}

func TestCLIProvider(t *testing.T) {
	t.Run("Should map known flags to config paths and ignore others", func(t *testing.T) {
		data, err := NewCLIProvider(map[string]any{"top-k": 9, "unknown": true}).Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"retrieval": map[string]any{"top_k": 9}}, data)
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("Should load variables without overriding existing ones", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("PAGEWISE_TEST_A=from-file\nPAGEWISE_TEST_B=from-file\n"), 0o600))
		t.Setenv("PAGEWISE_TEST_B", "from-env")
		t.Cleanup(func() { os.Unsetenv("PAGEWISE_TEST_A") })
		require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
		assert.Equal(t, "from-file", os.Getenv("PAGEWISE_TEST_A"))
		assert.Equal(t, "from-env", os.Getenv("PAGEWISE_TEST_B"))
	})
}

func TestEnvMappings(t *testing.T) {
	t.Run("Should expose mappings declared on struct tags", func(t *testing.T) {
		m := GenerateEnvToConfigMap()
		assert.Equal(t, "embedder.model", m["EMBEDDING_MODEL"])
		assert.Equal(t, "generator.model", m["GENERATIVE_MODEL"])
		assert.Equal(t, "vector_db.api_key", m["PINECONE_API_KEY"])
	})

	t.Run("Should flag secret paths", func(t *testing.T) {
		assert.True(t, IsSensitiveConfigPath("vector_db.api_key"))
		assert.True(t, IsSensitiveConfigPath("redis.password"))
		assert.False(t, IsSensitiveConfigPath("vector_db.index"))
		assert.False(t, IsSensitiveConfigPath("nope.nope"))
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact non-empty values when printed and marshaled", func(t *testing.T) {
		s := SensitiveString("secret")
		assert.Equal(t, "[REDACTED]", s.String())
		assert.Equal(t, "secret", s.Value())
		data, err := json.Marshal(struct {
			Key SensitiveString `json:"key"`
		}{Key: s})
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))
	})

	t.Run("Should redact values marshaled as YAML", func(t *testing.T) {
		data, err := yaml.Marshal(struct {
			Key SensitiveString `yaml:"key"`
		}{Key: "secret"})
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "secret")
	})

	t.Run("Should keep empty values empty", func(t *testing.T) {
		assert.Equal(t, "", SensitiveString("").String())
		data, err := json.Marshal(SensitiveString(""))
		require.NoError(t, err)
		assert.Equal(t, `""`, string(data))
	})

	t.Run("Should unmarshal plain strings", func(t *testing.T) {
		var s SensitiveString
		require.NoError(t, json.Unmarshal([]byte(`"v"`), &s))
		assert.Equal(t, "v", s.Value())
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should return the configuration attached to the context", func(t *testing.T) {
		cfg := Default()
		cfg.Retrieval.TopK = 11
		got := FromContext(ContextWithConfig(t.Context(), cfg))
		assert.Same(t, cfg, got)
	})

	t.Run("Should fall back to defaults", func(t *testing.T) {
		got := FromContext(t.Context())
		require.NotNil(t, got)
		assert.Equal(t, 512, got.Chunking.MaxLength)
	})
}
