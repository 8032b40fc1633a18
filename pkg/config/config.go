package config

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pagewise/pagewise/pkg/config/definition"
)

// Config represents the complete application configuration.
type Config struct {
	Runtime   RuntimeConfig   `koanf:"runtime"   json:"runtime"   yaml:"runtime"`
	Chunking  ChunkingConfig  `koanf:"chunking"  json:"chunking"  yaml:"chunking"`
	Ingest    IngestConfig    `koanf:"ingest"    json:"ingest"    yaml:"ingest"`
	Retrieval RetrievalConfig `koanf:"retrieval" json:"retrieval" yaml:"retrieval"`
	Embedder  EmbedderConfig  `koanf:"embedder"  json:"embedder"  yaml:"embedder"`
	Generator GeneratorConfig `koanf:"generator" json:"generator" yaml:"generator"`
	VectorDB  VectorDBConfig  `koanf:"vector_db" json:"vector_db" yaml:"vector_db"`
	Sink      SinkConfig      `koanf:"sink"      json:"sink"      yaml:"sink"`
	Redis     RedisConfig     `koanf:"redis"     json:"redis"     yaml:"redis"`
	Audit     AuditConfig     `koanf:"audit"     json:"audit"     yaml:"audit"`
}

type RuntimeConfig struct {
	Environment string `koanf:"environment" env:"RUNTIME_ENVIRONMENT" json:"environment" yaml:"environment"`
	LogLevel    string `koanf:"log_level"   env:"LOG_LEVEL"           json:"log_level"   yaml:"log_level"   validate:"oneof=debug info warn error disabled"`
	LogJSON     bool   `koanf:"log_json"    env:"LOG_JSON"            json:"log_json"    yaml:"log_json"`
	LogSource   bool   `koanf:"log_source"  env:"LOG_SOURCE"          json:"log_source"  yaml:"log_source"`
}

// ChunkingConfig controls the token windows produced for each document.
type ChunkingConfig struct {
	MaxLength int    `koanf:"max_length" env:"CHUNK_MAX_LENGTH" json:"max_length" yaml:"max_length" validate:"min=1"`
	Stride    int    `koanf:"stride"     env:"CHUNK_STRIDE"     json:"stride"     yaml:"stride"     validate:"min=0"`
	Encoding  string `koanf:"encoding"   env:"CHUNK_ENCODING"   json:"encoding"   yaml:"encoding"   validate:"required"`
}

type IngestConfig struct {
	BatchSize    int           `koanf:"batch_size"    env:"INGEST_BATCH_SIZE"    json:"batch_size"    yaml:"batch_size"    validate:"min=1"`
	Workers      int           `koanf:"workers"       env:"INGEST_WORKERS"       json:"workers"       yaml:"workers"       validate:"min=0"`
	IDStrategy   string        `koanf:"id_strategy"   env:"INGEST_ID_STRATEGY"   json:"id_strategy"   yaml:"id_strategy"   validate:"oneof=random deterministic"`
	MarkerPrefix string        `koanf:"marker_prefix" env:"INGEST_MARKER_PREFIX" json:"marker_prefix" yaml:"marker_prefix" validate:"required"`
	MarkerValue  float64       `koanf:"marker_value"  env:"INGEST_MARKER_VALUE"  json:"marker_value"  yaml:"marker_value"  validate:"gt=0"`
	ClaimEnabled bool          `koanf:"claim_enabled" env:"INGEST_CLAIM_ENABLED" json:"claim_enabled" yaml:"claim_enabled"`
	ClaimTTL     time.Duration `koanf:"claim_ttl"     env:"INGEST_CLAIM_TTL"     json:"claim_ttl"     yaml:"claim_ttl"`
}

type RetrievalConfig struct {
	TopK      int     `koanf:"top_k"     env:"RETRIEVAL_TOP_K"     json:"top_k"     yaml:"top_k"     validate:"min=1"`
	Threshold float64 `koanf:"threshold" env:"RETRIEVAL_THRESHOLD" json:"threshold" yaml:"threshold" validate:"gte=-1,lte=1"`
}

type EmbedderConfig struct {
	Provider    string          `koanf:"provider"     env:"EMBEDDING_PROVIDER"     json:"provider"     yaml:"provider"     validate:"oneof=tei openai ollama"`
	Model       string          `koanf:"model"        env:"EMBEDDING_MODEL"        json:"model"        yaml:"model"        validate:"required"`
	Endpoint    string          `koanf:"endpoint"     env:"EMBEDDING_ENDPOINT"     json:"endpoint"     yaml:"endpoint"`
	APIKey      SensitiveString `koanf:"api_key"      env:"EMBEDDING_API_KEY"      json:"api_key"      yaml:"api_key"      sensitive:"true"`
	Dimension   int             `koanf:"dimension"    env:"EMBEDDING_DIMENSION"    json:"dimension"    yaml:"dimension"    validate:"min=1"`
	InputPrefix string          `koanf:"input_prefix" env:"EMBEDDING_INPUT_PREFIX" json:"input_prefix" yaml:"input_prefix"`
	BatchSize   int             `koanf:"batch_size"   env:"EMBEDDING_BATCH_SIZE"   json:"batch_size"   yaml:"batch_size"   validate:"min=1"`
	CacheSize   int             `koanf:"cache_size"   env:"EMBEDDING_CACHE_SIZE"   json:"cache_size"   yaml:"cache_size"   validate:"min=0"`
	Serialize   bool            `koanf:"serialize"    env:"EMBEDDING_SERIALIZE"    json:"serialize"    yaml:"serialize"`
	Timeout     time.Duration   `koanf:"timeout"      env:"EMBEDDING_TIMEOUT"      json:"timeout"      yaml:"timeout"`
}

type GeneratorConfig struct {
	Provider    string          `koanf:"provider"    env:"GENERATIVE_PROVIDER"    json:"provider"    yaml:"provider"    validate:"oneof=openai ollama googleai anthropic mock"`
	Model       string          `koanf:"model"       env:"GENERATIVE_MODEL"       json:"model"       yaml:"model"       validate:"required"`
	Endpoint    string          `koanf:"endpoint"    env:"GENERATIVE_ENDPOINT"    json:"endpoint"    yaml:"endpoint"`
	APIKey      SensitiveString `koanf:"api_key"     env:"GENERATIVE_API_KEY"     json:"api_key"     yaml:"api_key"     sensitive:"true"`
	MaxTokens   int             `koanf:"max_tokens"  env:"GENERATIVE_MAX_TOKENS"  json:"max_tokens"  yaml:"max_tokens"  validate:"min=1"`
	Temperature float64         `koanf:"temperature" env:"GENERATIVE_TEMPERATURE" json:"temperature" yaml:"temperature" validate:"gte=0"`
}

type VectorDBConfig struct {
	Provider    string          `koanf:"provider"     env:"VECTOR_DB_PROVIDER"     json:"provider"     yaml:"provider"     validate:"oneof=memory filesystem pgvector qdrant redis pinecone"`
	Index       string          `koanf:"index"        env:"PINECONE_INDEX_NAME"    json:"index"        yaml:"index"`
	Namespace   string          `koanf:"namespace"    env:"VECTOR_DB_NAMESPACE"    json:"namespace"    yaml:"namespace"`
	Endpoint    string          `koanf:"endpoint"     env:"VECTOR_DB_ENDPOINT"     json:"endpoint"     yaml:"endpoint"`
	DSN         SensitiveString `koanf:"dsn"          env:"VECTOR_DB_DSN"          json:"dsn"          yaml:"dsn"          sensitive:"true"`
	Path        string          `koanf:"path"         env:"VECTOR_DB_PATH"         json:"path"         yaml:"path"`
	Table       string          `koanf:"table"        env:"VECTOR_DB_TABLE"        json:"table"        yaml:"table"`
	APIKey      SensitiveString `koanf:"api_key"      env:"PINECONE_API_KEY"       json:"api_key"      yaml:"api_key"      sensitive:"true"`
	Metric      string          `koanf:"metric"       env:"VECTOR_DB_METRIC"       json:"metric"       yaml:"metric"       validate:"omitempty,oneof=cosine dotproduct euclidean"`
	EnsureIndex bool            `koanf:"ensure_index" env:"VECTOR_DB_ENSURE_INDEX" json:"ensure_index" yaml:"ensure_index"`
	Timeout     time.Duration   `koanf:"timeout"      env:"VECTOR_DB_TIMEOUT"      json:"timeout"      yaml:"timeout"`
}

type SinkConfig struct {
	Provider string          `koanf:"provider" env:"METADATA_SINK_PROVIDER" json:"provider" yaml:"provider" validate:"oneof=none http postgres"`
	URL      string          `koanf:"url"      env:"METADATA_SINK_URL"      json:"url"      yaml:"url"`
	DSN      SensitiveString `koanf:"dsn"      env:"METADATA_SINK_DSN"      json:"dsn"      yaml:"dsn"      sensitive:"true"`
	Table    string          `koanf:"table"    env:"METADATA_SINK_TABLE"    json:"table"    yaml:"table"`
	Timeout  time.Duration   `koanf:"timeout"  env:"METADATA_SINK_TIMEOUT"  json:"timeout"  yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string          `koanf:"addr"     env:"REDIS_ADDR"     json:"addr"     yaml:"addr"`
	Password SensitiveString `koanf:"password" env:"REDIS_PASSWORD" json:"password" yaml:"password" sensitive:"true"`
	DB       int             `koanf:"db"       env:"REDIS_DB"       json:"db"       yaml:"db"       validate:"min=0"`
	Prefix   string          `koanf:"prefix"   env:"REDIS_PREFIX"   json:"prefix"   yaml:"prefix"`
}

type AuditConfig struct {
	Provider string `koanf:"provider" env:"AUDIT_PROVIDER" json:"provider" yaml:"provider" validate:"oneof=memory redis"`
}

// SensitiveString holds a secret that is redacted when printed or marshaled.
type SensitiveString string

const redacted = "[REDACTED]"

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the underlying secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal(redacted)
}

func (s SensitiveString) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SensitiveString(v)
	return nil
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type that provided a configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads configuration from defaults and the environment.
func Load(ctx context.Context) (*Config, error) {
	return NewService().Load(ctx)
}

// Default returns a Config populated from the definition registry.
func Default() *Config {
	registry := definition.CreateRegistry()
	return &Config{
		Runtime: RuntimeConfig{
			Environment: get[string](registry, "runtime.environment"),
			LogLevel:    get[string](registry, "runtime.log_level"),
			LogJSON:     get[bool](registry, "runtime.log_json"),
			LogSource:   get[bool](registry, "runtime.log_source"),
		},
		Chunking: ChunkingConfig{
			MaxLength: get[int](registry, "chunking.max_length"),
			Stride:    get[int](registry, "chunking.stride"),
			Encoding:  get[string](registry, "chunking.encoding"),
		},
		Ingest: IngestConfig{
			BatchSize:    get[int](registry, "ingest.batch_size"),
			Workers:      get[int](registry, "ingest.workers"),
			IDStrategy:   get[string](registry, "ingest.id_strategy"),
			MarkerPrefix: get[string](registry, "ingest.marker_prefix"),
			MarkerValue:  get[float64](registry, "ingest.marker_value"),
			ClaimEnabled: get[bool](registry, "ingest.claim_enabled"),
			ClaimTTL:     get[time.Duration](registry, "ingest.claim_ttl"),
		},
		Retrieval: RetrievalConfig{
			TopK:      get[int](registry, "retrieval.top_k"),
			Threshold: get[float64](registry, "retrieval.threshold"),
		},
		Embedder:  buildEmbedderConfig(registry),
		Generator: buildGeneratorConfig(registry),
		VectorDB:  buildVectorDBConfig(registry),
		Sink: SinkConfig{
			Provider: get[string](registry, "sink.provider"),
			URL:      get[string](registry, "sink.url"),
			DSN:      SensitiveString(get[string](registry, "sink.dsn")),
			Table:    get[string](registry, "sink.table"),
			Timeout:  get[time.Duration](registry, "sink.timeout"),
		},
		Redis: RedisConfig{
			Addr:     get[string](registry, "redis.addr"),
			Password: SensitiveString(get[string](registry, "redis.password")),
			DB:       get[int](registry, "redis.db"),
			Prefix:   get[string](registry, "redis.prefix"),
		},
		Audit: AuditConfig{
			Provider: get[string](registry, "audit.provider"),
		},
	}
}

func buildEmbedderConfig(registry *definition.Registry) EmbedderConfig {
	return EmbedderConfig{
		Provider:    get[string](registry, "embedder.provider"),
		Model:       get[string](registry, "embedder.model"),
		Endpoint:    get[string](registry, "embedder.endpoint"),
		APIKey:      SensitiveString(get[string](registry, "embedder.api_key")),
		Dimension:   get[int](registry, "embedder.dimension"),
		InputPrefix: get[string](registry, "embedder.input_prefix"),
		BatchSize:   get[int](registry, "embedder.batch_size"),
		CacheSize:   get[int](registry, "embedder.cache_size"),
		Serialize:   get[bool](registry, "embedder.serialize"),
		Timeout:     get[time.Duration](registry, "embedder.timeout"),
	}
}

func buildGeneratorConfig(registry *definition.Registry) GeneratorConfig {
	return GeneratorConfig{
		Provider:    get[string](registry, "generator.provider"),
		Model:       get[string](registry, "generator.model"),
		Endpoint:    get[string](registry, "generator.endpoint"),
		APIKey:      SensitiveString(get[string](registry, "generator.api_key")),
		MaxTokens:   get[int](registry, "generator.max_tokens"),
		Temperature: get[float64](registry, "generator.temperature"),
	}
}

func buildVectorDBConfig(registry *definition.Registry) VectorDBConfig {
	return VectorDBConfig{
		Provider:    get[string](registry, "vector_db.provider"),
		Index:       get[string](registry, "vector_db.index"),
		Namespace:   get[string](registry, "vector_db.namespace"),
		Endpoint:    get[string](registry, "vector_db.endpoint"),
		DSN:         SensitiveString(get[string](registry, "vector_db.dsn")),
		Path:        get[string](registry, "vector_db.path"),
		Table:       get[string](registry, "vector_db.table"),
		APIKey:      SensitiveString(get[string](registry, "vector_db.api_key")),
		Metric:      get[string](registry, "vector_db.metric"),
		EnsureIndex: get[bool](registry, "vector_db.ensure_index"),
		Timeout:     get[time.Duration](registry, "vector_db.timeout"),
	}
}

func get[T any](registry *definition.Registry, path string) T {
	var zero T
	if val := registry.GetDefault(path); val != nil {
		if typed, ok := val.(T); ok {
			return typed
		}
	}
	return zero
}
