package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagewise/pagewise/engine/knowledge/audit"
	"github.com/pagewise/pagewise/engine/knowledge/ingest"
	"github.com/pagewise/pagewise/pkg/config"
	"github.com/pagewise/pagewise/pkg/logger"
)

type ingestReport struct {
	Path     string        `json:"path"                 yaml:"path"`
	FileID   string        `json:"file_id"              yaml:"file_id"`
	State    ingest.State  `json:"state"                yaml:"state"`
	Chunks   int           `json:"chunks"               yaml:"chunks"`
	Batches  int           `json:"batches"              yaml:"batches"`
	Failed   int           `json:"failed_batches"       yaml:"failed_batches"`
	Replaced bool          `json:"replaced"             yaml:"replaced"`
	Reported int           `json:"reported"             yaml:"reported"`
	Duration time.Duration `json:"duration_ns"          yaml:"duration"`
	SinkGap  *audit.Entry  `json:"sink_gap,omitempty"   yaml:"sink_gap,omitempty"`
	Error    string        `json:"error,omitempty"      yaml:"error,omitempty"`
}

// IngestCmd embeds documents into the vector store, one completion marker per
// file.
func IngestCmd() *cobra.Command {
	var (
		fileID    string
		textFiles []string
		replace   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and upload documents",
		Long: `Chunk each document into token windows, embed them in concurrent batches and
upload the vectors. A document whose completion marker already exists is skipped.

--text-file accepts paths and doublestar globs such as "docs/**/*.md" and may
be repeated. Text and PDF files are supported. Without --file-id the sha256 of
each file's content is used as its id.

--replace deletes every record stored under the file id, completion marker
included, and ingests the document again.`,
		Example: `  pagewise ingest --text-file report.pdf --file-id report-2024
  pagewise ingest --text-file "docs/**/*.txt" --vector-db filesystem
  pagewise ingest --text-file report.pdf --file-id report-2024 --replace`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, fileID, textFiles, replace)
		},
	}
	cmd.Flags().StringVar(&fileID, "file-id", "", "Id to store the document under (single file only)")
	cmd.Flags().StringSliceVar(&textFiles, "text-file", nil, "File path or glob to ingest (repeatable)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete the file's stored records and ingest it again")
	addFormatFlag(cmd)
	if err := cmd.MarkFlagRequired("text-file"); err != nil {
		panic(err)
	}
	return cmd
}

func runIngest(cmd *cobra.Command, fileID string, patterns []string, replace bool) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	format, err := resolveFormat(cmd)
	if err != nil {
		return err
	}
	paths, err := ingest.ExpandPaths(ctx, patterns)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no files matched --text-file")
	}
	if fileID != "" && len(paths) > 1 {
		return fmt.Errorf("--file-id can only be used with a single file, %d matched", len(paths))
	}
	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to close components", "error", err)
		}
	}()
	pipeline, err := comps.pipeline(ctx, replace)
	if err != nil {
		return err
	}
	reports := make([]ingestReport, 0, len(paths))
	var errs []error
	for _, path := range paths {
		report, err := ingestPath(ctx, pipeline, path, fileID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		if report.SinkGap != nil && cfg.Audit.Provider != auditProviderRedis {
			log.Warn(
				"Sink gap is kept in memory only and will not be listed by a later audit command",
				"file_id", report.FileID,
				"hint", "set audit.provider=redis to persist gaps",
			)
		}
		reports = append(reports, report)
	}
	if err := writeIngestReports(cmd.OutOrStdout(), format, reports); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func ingestPath(ctx context.Context, pipeline *ingest.Pipeline, path, fileID string) (ingestReport, error) {
	report := ingestReport{Path: path, State: ingest.StateFailed}
	doc, err := ingest.LoadFile(ctx, path, fileID)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	report.FileID = doc.FileID
	result, err := pipeline.Ingest(ctx, doc)
	if result != nil {
		report.State = result.State
		report.Chunks = result.Chunks
		report.Batches = result.Batches
		report.Failed = result.Failed
		report.Replaced = result.Replaced
		report.Reported = result.Reported
		report.Duration = result.Duration
		report.SinkGap = result.Gap
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report, err
}

func writeIngestReports(w io.Writer, format string, reports []ingestReport) error {
	switch format {
	case OutputFormatJSON:
		return writeJSON(w, reports)
	case OutputFormatYAML:
		return writeYAML(w, reports)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tFILE ID\tSTATE\tCHUNKS\tBATCHES\tFAILED\tDURATION")
	for i := range reports {
		r := &reports[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Path, shortID(r.FileID), r.State, r.Chunks, r.Batches, r.Failed, r.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for i := range reports {
		if reports[i].Error != "" {
			fmt.Fprintln(w, style(w, warnStyle, reports[i].Path+": "+reports[i].Error))
		}
		if gap := reports[i].SinkGap; gap != nil {
			line := fmt.Sprintf("Sink gap %s: %s delivered %d of %d chunk records",
				gap.ID, shortID(gap.FileID), gap.Delivered, gap.Chunks)
			fmt.Fprintln(w, style(w, warnStyle, line))
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16]
}
