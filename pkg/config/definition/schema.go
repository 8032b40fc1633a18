package definition

import (
	"reflect"
	"time"
)

var (
	stringType   = reflect.TypeOf("")
	intType      = reflect.TypeOf(0)
	boolType     = reflect.TypeOf(false)
	durationType = reflect.TypeOf(time.Duration(0))
	float64Type  = reflect.TypeOf(float64(0))
)

// CreateRegistry creates and populates the configuration registry.
// Defaults, CLI flags and env variables are all declared here.
func CreateRegistry() *Registry {
	registry := NewRegistry()
	registerRuntimeFields(registry)
	registerChunkingFields(registry)
	registerIngestFields(registry)
	registerRetrievalFields(registry)
	registerEmbedderFields(registry)
	registerGeneratorFields(registry)
	registerVectorDBFields(registry)
	registerSinkFields(registry)
	registerRedisFields(registry)
	registerAuditFields(registry)
	return registry
}

func registerRuntimeFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "runtime.environment",
		Default: "development",
		EnvVar:  "RUNTIME_ENVIRONMENT",
		Type:    stringType,
		Help:    "Deployment environment name",
	})
	registry.Register(&FieldDef{
		Path:    "runtime.log_level",
		Default: "info",
		CLIFlag: "log-level",
		EnvVar:  "LOG_LEVEL",
		Type:    stringType,
		Help:    "Log level (debug, info, warn, error)",
	})
	registry.Register(&FieldDef{
		Path:    "runtime.log_json",
		Default: false,
		CLIFlag: "log-json",
		EnvVar:  "LOG_JSON",
		Type:    boolType,
		Help:    "Emit logs as JSON",
	})
	registry.Register(&FieldDef{
		Path:    "runtime.log_source",
		Default: false,
		CLIFlag: "log-source",
		EnvVar:  "LOG_SOURCE",
		Type:    boolType,
		Help:    "Include caller location in logs",
	})
}

func registerChunkingFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "chunking.max_length",
		Default: 512,
		CLIFlag: "max-length",
		EnvVar:  "CHUNK_MAX_LENGTH",
		Type:    intType,
		Help:    "Maximum tokens per chunk",
	})
	registry.Register(&FieldDef{
		Path:    "chunking.stride",
		Default: 50,
		CLIFlag: "stride",
		EnvVar:  "CHUNK_STRIDE",
		Type:    intType,
		Help:    "Tokens shared between consecutive chunks",
	})
	registry.Register(&FieldDef{
		Path:    "chunking.encoding",
		Default: "cl100k_base",
		EnvVar:  "CHUNK_ENCODING",
		Type:    stringType,
		Help:    "Tokenizer encoding used for chunk windows",
	})
}

func registerIngestFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "ingest.batch_size",
		Default: 100,
		CLIFlag: "batch-size",
		EnvVar:  "INGEST_BATCH_SIZE",
		Type:    intType,
		Help:    "Chunks embedded and uploaded per batch",
	})
	registry.Register(&FieldDef{
		Path:    "ingest.workers",
		Default: 0,
		CLIFlag: "workers",
		EnvVar:  "INGEST_WORKERS",
		Type:    intType,
		Help:    "Concurrent batches (0 selects min(32, NumCPU+4))",
	})
	registry.Register(&FieldDef{
		Path:    "ingest.id_strategy",
		Default: "random",
		CLIFlag: "id-strategy",
		EnvVar:  "INGEST_ID_STRATEGY",
		Type:    stringType,
		Help:    "Record id strategy (random, deterministic)",
	})
	registry.Register(&FieldDef{
		Path:    "ingest.marker_prefix",
		Default: "marker-",
		EnvVar:  "INGEST_MARKER_PREFIX",
		Type:    stringType,
		Help:    "Prefix of completion marker ids",
	})
	registry.Register(&FieldDef{
		Path:    "ingest.marker_value",
		Default: 1e-8,
		EnvVar:  "INGEST_MARKER_VALUE",
		Type:    float64Type,
		Help:    "Component value of completion marker vectors",
	})
	registry.Register(&FieldDef{
		Path:    "ingest.claim_enabled",
		Default: false,
		CLIFlag: "claim",
		EnvVar:  "INGEST_CLAIM_ENABLED",
		Type:    boolType,
		Help:    "Take an atomic Redis claim before ingesting a document",
	})
	registry.Register(&FieldDef{
		Path:    "ingest.claim_ttl",
		Default: 10 * time.Minute,
		EnvVar:  "INGEST_CLAIM_TTL",
		Type:    durationType,
		Help:    "Expiry of an ingestion claim",
	})
}

func registerRetrievalFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "retrieval.top_k",
		Default: 5,
		CLIFlag: "top-k",
		EnvVar:  "RETRIEVAL_TOP_K",
		Type:    intType,
		Help:    "Nearest neighbours requested from the vector store",
	})
	registry.Register(&FieldDef{
		Path:    "retrieval.threshold",
		Default: 0.75,
		CLIFlag: "threshold",
		EnvVar:  "RETRIEVAL_THRESHOLD",
		Type:    float64Type,
		Help:    "Minimum similarity score for a match to be used as context",
	})
}

func registerEmbedderFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "embedder.provider",
		Default: "tei",
		CLIFlag: "embedder",
		EnvVar:  "EMBEDDING_PROVIDER",
		Type:    stringType,
		Help:    "Embedding provider (tei, openai, ollama)",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.model",
		Default: "intfloat/e5-base-v2",
		EnvVar:  "EMBEDDING_MODEL",
		Type:    stringType,
		Help:    "Embedding model name",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.endpoint",
		Default: "http://localhost:8080",
		EnvVar:  "EMBEDDING_ENDPOINT",
		Type:    stringType,
		Help:    "Embedding runtime base URL",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.api_key",
		Default: "",
		EnvVar:  "EMBEDDING_API_KEY",
		Type:    stringType,
		Help:    "Embedding provider API key",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.dimension",
		Default: 768,
		EnvVar:  "EMBEDDING_DIMENSION",
		Type:    intType,
		Help:    "Embedding vector dimension",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.input_prefix",
		Default: "passage: ",
		EnvVar:  "EMBEDDING_INPUT_PREFIX",
		Type:    stringType,
		Help:    "Prefix prepended to every embedded text",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.batch_size",
		Default: 32,
		EnvVar:  "EMBEDDING_BATCH_SIZE",
		Type:    intType,
		Help:    "Texts per request sent to the embedding runtime",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.cache_size",
		Default: 512,
		EnvVar:  "EMBEDDING_CACHE_SIZE",
		Type:    intType,
		Help:    "Query embeddings kept in memory (0 disables)",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.serialize",
		Default: false,
		EnvVar:  "EMBEDDING_SERIALIZE",
		Type:    boolType,
		Help:    "Serialize inference calls to the embedding runtime",
	})
	registry.Register(&FieldDef{
		Path:    "embedder.timeout",
		Default: 60 * time.Second,
		EnvVar:  "EMBEDDING_TIMEOUT",
		Type:    durationType,
		Help:    "HTTP timeout for embedding requests",
	})
}

func registerGeneratorFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "generator.provider",
		Default: "openai",
		CLIFlag: "generator",
		EnvVar:  "GENERATIVE_PROVIDER",
		Type:    stringType,
		Help:    "Generation provider (openai, ollama, googleai, anthropic, mock)",
	})
	registry.Register(&FieldDef{
		Path:    "generator.model",
		Default: "google/flan-t5-base",
		EnvVar:  "GENERATIVE_MODEL",
		Type:    stringType,
		Help:    "Generation model name",
	})
	registry.Register(&FieldDef{
		Path:    "generator.endpoint",
		Default: "",
		EnvVar:  "GENERATIVE_ENDPOINT",
		Type:    stringType,
		Help:    "Generation runtime base URL",
	})
	registry.Register(&FieldDef{
		Path:    "generator.api_key",
		Default: "",
		EnvVar:  "GENERATIVE_API_KEY",
		Type:    stringType,
		Help:    "Generation provider API key",
	})
	registry.Register(&FieldDef{
		Path:    "generator.max_tokens",
		Default: 150,
		EnvVar:  "GENERATIVE_MAX_TOKENS",
		Type:    intType,
		Help:    "Maximum new tokens per answer",
	})
	registry.Register(&FieldDef{
		Path:    "generator.temperature",
		Default: 0.7,
		EnvVar:  "GENERATIVE_TEMPERATURE",
		Type:    float64Type,
		Help:    "Sampling temperature",
	})
}

func registerVectorDBFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "vector_db.provider",
		Default: "pinecone",
		CLIFlag: "vector-db",
		EnvVar:  "VECTOR_DB_PROVIDER",
		Type:    stringType,
		Help:    "Vector store provider (memory, filesystem, pgvector, qdrant, redis, pinecone)",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.index",
		Default: "e5-768d-index",
		EnvVar:  "PINECONE_INDEX_NAME",
		Type:    stringType,
		Help:    "Vector index name",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.namespace",
		Default: "",
		CLIFlag: "namespace",
		EnvVar:  "VECTOR_DB_NAMESPACE",
		Type:    stringType,
		Help:    "Vector namespace",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.endpoint",
		Default: "",
		EnvVar:  "VECTOR_DB_ENDPOINT",
		Type:    stringType,
		Help:    "Base URL of an HTTP vector store (pinecone index host, qdrant)",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.dsn",
		Default: "",
		EnvVar:  "VECTOR_DB_DSN",
		Type:    stringType,
		Help:    "Postgres DSN for pgvector",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.path",
		Default: "",
		EnvVar:  "VECTOR_DB_PATH",
		Type:    stringType,
		Help:    "Snapshot file for the filesystem store",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.table",
		Default: "pagewise_vectors",
		EnvVar:  "VECTOR_DB_TABLE",
		Type:    stringType,
		Help:    "pgvector table name",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.api_key",
		Default: "",
		EnvVar:  "PINECONE_API_KEY",
		Type:    stringType,
		Help:    "Vector store API key",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.metric",
		Default: "cosine",
		EnvVar:  "VECTOR_DB_METRIC",
		Type:    stringType,
		Help:    "Similarity metric",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.ensure_index",
		Default: false,
		EnvVar:  "VECTOR_DB_ENSURE_INDEX",
		Type:    boolType,
		Help:    "Create the index or collection when missing",
	})
	registry.Register(&FieldDef{
		Path:    "vector_db.timeout",
		Default: 30 * time.Second,
		EnvVar:  "VECTOR_DB_TIMEOUT",
		Type:    durationType,
		Help:    "HTTP timeout for vector store requests",
	})
}

func registerSinkFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "sink.provider",
		Default: "none",
		CLIFlag: "sink",
		EnvVar:  "METADATA_SINK_PROVIDER",
		Type:    stringType,
		Help:    "Chunk metadata sink (none, http, postgres)",
	})
	registry.Register(&FieldDef{
		Path:    "sink.url",
		Default: "",
		EnvVar:  "METADATA_SINK_URL",
		Type:    stringType,
		Help:    "Endpoint receiving chunk records",
	})
	registry.Register(&FieldDef{
		Path:    "sink.dsn",
		Default: "",
		EnvVar:  "METADATA_SINK_DSN",
		Type:    stringType,
		Help:    "Postgres DSN for the chunk record table",
	})
	registry.Register(&FieldDef{
		Path:    "sink.table",
		Default: "text_chunks",
		EnvVar:  "METADATA_SINK_TABLE",
		Type:    stringType,
		Help:    "Chunk record table",
	})
	registry.Register(&FieldDef{
		Path:    "sink.timeout",
		Default: 10 * time.Second,
		EnvVar:  "METADATA_SINK_TIMEOUT",
		Type:    durationType,
		Help:    "HTTP timeout for the chunk sink",
	})
}

func registerRedisFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "redis.addr",
		Default: "localhost:6379",
		EnvVar:  "REDIS_ADDR",
		Type:    stringType,
		Help:    "Redis address",
	})
	registry.Register(&FieldDef{
		Path:    "redis.password",
		Default: "",
		EnvVar:  "REDIS_PASSWORD",
		Type:    stringType,
		Help:    "Redis password",
	})
	registry.Register(&FieldDef{
		Path:    "redis.db",
		Default: 0,
		EnvVar:  "REDIS_DB",
		Type:    intType,
		Help:    "Redis database",
	})
	registry.Register(&FieldDef{
		Path:    "redis.prefix",
		Default: "pagewise",
		EnvVar:  "REDIS_PREFIX",
		Type:    stringType,
		Help:    "Key prefix for claims and audit entries",
	})
}

func registerAuditFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "audit.provider",
		Default: "memory",
		EnvVar:  "AUDIT_PROVIDER",
		Type:    stringType,
		Help:    "Reconciliation audit log (memory, redis)",
	})
}
