package ingest

import (
	"runtime"

	"github.com/pagewise/pagewise/engine/knowledge/audit"
	"github.com/pagewise/pagewise/engine/knowledge/sink"
)

// IDStrategy selects how vector record ids are derived from chunks.
type IDStrategy string

const (
	// IDRandom gives every upload a fresh "{file_id}-{uuid}" id, so a retried
	// ingestion never overwrites earlier vectors.
	IDRandom IDStrategy = "random"
	// IDDeterministic uses "{file_id}-{chunk index}" so retries overwrite.
	IDDeterministic IDStrategy = "deterministic"
)

const (
	DefaultBatchSize    = 100
	DefaultMarkerPrefix = "marker-"
	DefaultMarkerValue  = 1e-8
	maxDefaultWorkers   = 32
)

// Options controls batching, identity and the optional collaborators of a
// Pipeline. Zero values select the defaults.
type Options struct {
	BatchSize    int
	Workers      int
	IDStrategy   IDStrategy
	MarkerPrefix string
	MarkerValue  float32
	// Dimension of the marker vector; defaults to the embedder dimension.
	Dimension int
	// Model is reported to the sink as model_used.
	Model string
	// Claimer, when set, is taken after the marker gate and released when
	// the run fails.
	Claimer Claimer
	// Sink receives one record per chunk after the marker is written.
	Sink sink.Sink
	// Audit records sink failures that leave vectors without metadata rows.
	Audit audit.Log
	// Replace ignores an existing marker and deletes every record tagged
	// with the file id, marker included, before uploading again.
	Replace bool
}

// DefaultWorkers mirrors the common thread pool sizing of min(32, cpus+4).
func DefaultWorkers() int {
	return min(maxDefaultWorkers, runtime.NumCPU()+4)
}

func (o Options) withDefaults(dimension int) Options {
	out := o
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.Workers <= 0 {
		out.Workers = DefaultWorkers()
	}
	if out.IDStrategy == "" {
		out.IDStrategy = IDRandom
	}
	if out.MarkerPrefix == "" {
		out.MarkerPrefix = DefaultMarkerPrefix
	}
	if out.MarkerValue <= 0 {
		out.MarkerValue = DefaultMarkerValue
	}
	if out.Dimension <= 0 {
		out.Dimension = dimension
	}
	return out
}
