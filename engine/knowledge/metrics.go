package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/pagewise/pagewise/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsMu             sync.Mutex
	metricsInitErr        error
	ingestDurationHist    metric.Float64Histogram
	chunkCounter          metric.Int64Counter
	batchFailureCounter   metric.Int64Counter
	markerSkipCounter     metric.Int64Counter
	sinkFailureCounter    metric.Int64Counter
	queryLatencyHist      metric.Float64Histogram
	retrievalEmptyCounter metric.Int64Counter
)

// Ingestion outcomes used as the "outcome" attribute.
const (
	OutcomeMarked  = "marked"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

func RecordIngestDuration(ctx context.Context, outcome string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordIngestChunks(ctx context.Context, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks))
}

func RecordBatchFailure(ctx context.Context, stage string) {
	if err := ensureMetrics(); err != nil || batchFailureCounter == nil {
		return
	}
	batchFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func RecordMarkerSkip(ctx context.Context) {
	if err := ensureMetrics(); err != nil || markerSkipCounter == nil {
		return
	}
	markerSkipCounter.Add(ctx, 1)
}

func RecordSinkFailure(ctx context.Context) {
	if err := ensureMetrics(); err != nil || sinkFailureCounter == nil {
		return
	}
	sinkFailureCounter.Add(ctx, 1)
}

func RecordQueryLatency(ctx context.Context, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds())
}

func RecordRetrievalEmpty(ctx context.Context) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCounter == nil {
		return
	}
	retrievalEmptyCounter.Add(ctx, 1)
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	chunkCounter = nil
	batchFailureCounter = nil
	markerSkipCounter = nil
	sinkFailureCounter = nil
	queryLatencyHist = nil
	retrievalEmptyCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("pagewise.knowledge")
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		if err := initRetrievalMetrics(meter); err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_duration_seconds"),
		metric.WithDescription("Latency of document ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.StageDurationBuckets...),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "chunks_total"),
		metric.WithDescription("Number of chunks uploaded to the vector store"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	batchFailureCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "batch_failures_total"),
		metric.WithDescription("Number of ingestion batches that failed, by stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	markerSkipCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "marker_skips_total"),
		metric.WithDescription("Number of ingestions skipped because a completion marker existed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	sinkFailureCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "sink_failures_total"),
		metric.WithDescription("Number of chunk records rejected by the metadata sink"),
		metric.WithUnit("1"),
	)
	return err
}

func initRetrievalMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "query_latency_seconds"),
		metric.WithDescription("Latency of retrieval queries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryDurationBuckets...),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "retrieval_empty_total"),
		metric.WithDescription("Number of queries where no match cleared the threshold"),
		metric.WithUnit("1"),
	)
	return err
}
