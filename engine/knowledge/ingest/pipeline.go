package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/engine/knowledge/audit"
	"github.com/pagewise/pagewise/engine/knowledge/chunk"
	"github.com/pagewise/pagewise/engine/knowledge/embedder"
	"github.com/pagewise/pagewise/engine/knowledge/sink"
	"github.com/pagewise/pagewise/engine/knowledge/vectordb"
	"github.com/pagewise/pagewise/pkg/logger"
)

// Chunker splits document text into token windows.
type Chunker interface {
	Chunk(text string) ([]chunk.Chunk, error)
}

// Document is a file's extracted text and the id its vectors are grouped by.
type Document struct {
	FileID string
	Text   string
}

// State is the terminal state of one ingestion call.
type State string

const (
	// StateSkipped means a completion marker already existed.
	StateSkipped State = "skipped"
	// StateMarked means every batch uploaded and the marker was written.
	StateMarked State = "marked"
	// StateFailed means at least one batch or the marker write failed; no
	// marker exists and a later call re-ingests the whole document.
	StateFailed State = "failed"
)

type Result struct {
	FileID  string
	State   State
	Chunks  int
	Batches int
	// Failed counts batches that did not upload.
	Failed int
	// Replaced is set when earlier records of the file were deleted first.
	Replaced bool
	// Reported counts chunk records accepted by the metadata sink.
	Reported int
	// Gap is the audit entry for a sink rejection, nil when reporting
	// succeeded or no sink is configured.
	Gap      *audit.Entry
	Duration time.Duration
}

type Pipeline struct {
	chunker  Chunker
	embedder embedder.Embedder
	store    vectordb.Store
	options  Options
}

func NewPipeline(chunker Chunker, emb embedder.Embedder, store vectordb.Store, opts Options) (*Pipeline, error) {
	if chunker == nil {
		return nil, errors.New("ingest: chunker is required")
	}
	if emb == nil {
		return nil, errors.New("ingest: embedder implementation is required")
	}
	if store == nil {
		return nil, errors.New("ingest: vector store is required")
	}
	resolved := opts.withDefaults(emb.Dimension())
	if resolved.Dimension <= 0 {
		return nil, errors.New("ingest: marker dimension must be positive")
	}
	switch resolved.IDStrategy {
	case IDRandom, IDDeterministic:
	default:
		return nil, fmt.Errorf("ingest: id strategy %q not supported", resolved.IDStrategy)
	}
	return &Pipeline{chunker: chunker, embedder: emb, store: store, options: resolved}, nil
}

// MarkerID returns the id of fileID's completion marker.
func (p *Pipeline) MarkerID(fileID string) string {
	return p.options.MarkerPrefix + fileID
}

// Ingest chunks, embeds and uploads doc unless its completion marker already
// exists or Options.Replace is set. Batches run concurrently and every submitted batch finishes before
// Ingest returns, whatever the outcome of the others. The marker is written
// only when all batches succeed.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (*Result, error) {
	fileID := strings.TrimSpace(doc.FileID)
	if fileID == "" {
		return nil, knowledge.Invalid("ingest", "file id is required")
	}
	log := logger.FromContext(ctx).With("file_id", fileID)
	start := time.Now()
	result := &Result{FileID: fileID}
	if !p.options.Replace && p.markerExists(ctx, fileID) {
		result.State = StateSkipped
		knowledge.RecordMarkerSkip(ctx)
		log.Info("Document already ingested, skipping embedding", "marker_id", p.MarkerID(fileID))
		err := p.reportSkipped(ctx, doc.Text, result)
		p.finish(ctx, result, start)
		return result, err
	}
	if p.options.Claimer != nil {
		if err := p.options.Claimer.Claim(ctx, fileID); err != nil {
			result.State = StateFailed
			p.finish(ctx, result, start)
			return result, err
		}
	}
	if p.options.Replace {
		if err := p.purge(ctx, fileID); err != nil {
			result.State = StateFailed
			p.release(ctx, fileID)
			p.finish(ctx, result, start)
			return result, fmt.Errorf("ingest %s: %w", fileID, err)
		}
		result.Replaced = true
	}
	chunks, err := p.upload(ctx, fileID, doc.Text, result)
	if err != nil {
		result.State = StateFailed
		p.release(ctx, fileID)
		p.finish(ctx, result, start)
		return result, fmt.Errorf("ingest %s: %w", fileID, err)
	}
	result.State = StateMarked
	log.Info(
		"Knowledge ingestion completed",
		"chunks", result.Chunks,
		"batches", result.Batches,
		"elapsed", time.Since(start),
	)
	err = p.report(ctx, fileID, chunks, result)
	p.finish(ctx, result, start)
	return result, err
}

func (p *Pipeline) finish(ctx context.Context, result *Result, start time.Time) {
	result.Duration = time.Since(start)
	outcome := knowledge.OutcomeFailed
	switch result.State {
	case StateMarked:
		outcome = knowledge.OutcomeMarked
	case StateSkipped:
		outcome = knowledge.OutcomeSkipped
	}
	knowledge.RecordIngestDuration(ctx, outcome, result.Duration)
}

// markerExists fails open: a lookup error is logged and treated as absent.
func (p *Pipeline) markerExists(ctx context.Context, fileID string) bool {
	markerID := p.MarkerID(fileID)
	found, err := p.store.Fetch(ctx, []string{markerID})
	if err != nil {
		logger.FromContext(ctx).Warn(
			"Marker lookup failed, continuing with ingestion",
			"file_id", fileID,
			"marker_id", markerID,
			"error", err,
		)
		return false
	}
	return slices.Contains(found, markerID)
}

// purge removes the chunk records and marker stored for fileID.
func (p *Pipeline) purge(ctx context.Context, fileID string) error {
	filter := vectordb.Filter{Metadata: map[string]string{"file_id": fileID}}
	if err := p.store.Delete(ctx, filter); err != nil {
		return knowledge.Wrap(knowledge.ErrStore, "delete previous records", err)
	}
	logger.FromContext(ctx).Info("Previous records deleted before re-ingest", "file_id", fileID)
	return nil
}

func (p *Pipeline) release(ctx context.Context, fileID string) {
	if p.options.Claimer == nil {
		return
	}
	if err := p.options.Claimer.Release(ctx, fileID); err != nil {
		logger.FromContext(ctx).Warn("Failed to release ingestion claim", "file_id", fileID, "error", err)
	}
}

func (p *Pipeline) upload(ctx context.Context, fileID, text string, result *Result) ([]chunk.Chunk, error) {
	log := logger.FromContext(ctx).With("file_id", fileID)
	chunkStart := time.Now()
	chunks, err := p.chunker.Chunk(text)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}
	result.Chunks = len(chunks)
	log.Debug("Document chunked", "chunks", len(chunks), "elapsed", time.Since(chunkStart))
	if len(chunks) == 0 {
		log.Warn("Document produced no chunks, writing marker only")
	}
	batches := splitBatches(chunks, p.options.BatchSize)
	result.Batches = len(batches)
	batchStart := time.Now()
	if err := p.runBatches(ctx, fileID, batches); err != nil {
		result.Failed = len(knowledge.BatchFailures(err))
		return nil, err
	}
	knowledge.RecordIngestChunks(ctx, len(chunks))
	log.Debug("All batches uploaded", "batches", len(batches), "elapsed", time.Since(batchStart))
	markerStart := time.Now()
	if err := p.store.Upsert(ctx, []vectordb.Record{p.marker(fileID)}); err != nil {
		return nil, fmt.Errorf("write marker: %w", err)
	}
	log.Debug("Completion marker written", "marker_id", p.MarkerID(fileID), "elapsed", time.Since(markerStart))
	return chunks, nil
}

// runBatches fans batches out on a bounded group. The group carries no
// cancel context, so one failure never abandons the other batches.
func (p *Pipeline) runBatches(ctx context.Context, fileID string, batches []batch) error {
	failures := make([]error, len(batches))
	var g errgroup.Group
	g.SetLimit(p.options.Workers)
	for i := range batches {
		g.Go(func() error {
			if err := p.processBatch(ctx, fileID, batches[i]); err != nil {
				failures[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failures...)
}

type batch struct {
	number int
	start  int
	chunks []chunk.Chunk
}

func splitBatches(chunks []chunk.Chunk, size int) []batch {
	out := make([]batch, 0, (len(chunks)+size-1)/size)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		out = append(out, batch{number: len(out), start: start, chunks: chunks[start:end]})
	}
	return out
}

func (p *Pipeline) processBatch(ctx context.Context, fileID string, b batch) error {
	fail := func(stage string, err error) error {
		knowledge.RecordBatchFailure(ctx, stage)
		logger.FromContext(ctx).Error(
			"Batch failed",
			"file_id", fileID,
			"batch", b.number,
			"stage", stage,
			"error", err,
		)
		return &knowledge.BatchFailure{Batch: b.number, Start: b.start, End: b.start + len(b.chunks), Err: err}
	}
	texts := make([]string, len(b.chunks))
	for i := range b.chunks {
		texts[i] = b.chunks[i].Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fail("embed", err)
	}
	if len(vectors) != len(b.chunks) {
		return fail("embed", fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(b.chunks)))
	}
	records := make([]vectordb.Record, len(b.chunks))
	for i := range b.chunks {
		records[i] = vectordb.Record{
			ID:        p.recordID(fileID, b.chunks[i].Index),
			Text:      b.chunks[i].Text,
			Embedding: vectors[i],
			Metadata: map[string]any{
				"text":    b.chunks[i].Text,
				"file_id": fileID,
			},
		}
	}
	uploadStart := time.Now()
	if err := p.store.Upsert(ctx, records); err != nil {
		return fail("upsert", err)
	}
	logger.FromContext(ctx).Debug(
		"Batch uploaded",
		"file_id", fileID,
		"batch", b.number,
		"records", len(records),
		"elapsed", time.Since(uploadStart),
	)
	return nil
}

func (p *Pipeline) recordID(fileID string, index int) string {
	if p.options.IDStrategy == IDDeterministic {
		return fileID + "-" + strconv.Itoa(index)
	}
	return fileID + "-" + uuid.NewString()
}

// marker is never the zero vector, which some stores reject.
func (p *Pipeline) marker(fileID string) vectordb.Record {
	values := make([]float32, p.options.Dimension)
	for i := range values {
		values[i] = p.options.MarkerValue
	}
	return vectordb.Record{
		ID:        p.MarkerID(fileID),
		Embedding: values,
		Metadata: map[string]any{
			"file_id": fileID,
			"marker":  true,
		},
	}
}

// reportSkipped still forwards chunk records for an already ingested file,
// since the metadata rows may be what is missing.
func (p *Pipeline) reportSkipped(ctx context.Context, text string, result *Result) error {
	if p.options.Sink == nil {
		return nil
	}
	chunks, err := p.chunker.Chunk(text)
	if err != nil {
		return fmt.Errorf("chunk document: %w", err)
	}
	result.Chunks = len(chunks)
	return p.report(ctx, result.FileID, chunks, result)
}

func (p *Pipeline) report(ctx context.Context, fileID string, chunks []chunk.Chunk, result *Result) error {
	if p.options.Sink == nil || len(chunks) == 0 {
		return nil
	}
	delivered, err := sink.Deliver(ctx, p.options.Sink, sink.Records(fileID, p.options.Model, chunks))
	result.Reported = delivered
	if err == nil {
		return nil
	}
	knowledge.RecordSinkFailure(ctx)
	log := logger.FromContext(ctx)
	log.Error(
		"Metadata sink rejected chunk after vectors were stored",
		"file_id", fileID,
		"delivered", delivered,
		"chunks", len(chunks),
		"error", err,
	)
	entry := audit.Entry{FileID: fileID, Reason: err.Error(), Chunks: len(chunks), Delivered: delivered}
	if p.options.Audit != nil {
		appended, auditErr := p.options.Audit.Append(ctx, entry)
		if auditErr != nil {
			log.Warn("Failed to record sink gap", "file_id", fileID, "error", auditErr)
		} else {
			entry = appended
		}
	}
	result.Gap = &entry
	return err
}
