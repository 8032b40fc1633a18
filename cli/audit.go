package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"github.com/pagewise/pagewise/engine/knowledge/audit"
	"github.com/pagewise/pagewise/pkg/config"
	"github.com/pagewise/pagewise/pkg/logger"
)

// AuditCmd lists documents whose chunk metadata never reached the sink even
// though their vectors and marker were stored.
func AuditCmd() *cobra.Command {
	var (
		limit int
		since string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List ingestions with missing chunk metadata",
		Long: `List sink gaps: documents whose vectors and completion marker were written but
whose chunk records were rejected by the metadata sink. Re-running ingest for
such a file skips embedding and only re-delivers its chunk records.

Entries outlive the process only with audit.provider=redis.`,
		Example: `  pagewise audit --since 7d --limit 20`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, limit, since)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries, newest last (0 for all)")
	cmd.Flags().StringVar(&since, "since", "", "Only show entries newer than this age, e.g. 36h or 7d")
	addFormatFlag(cmd)
	return cmd
}

func runAudit(cmd *cobra.Command, limit int, since string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	format, err := resolveFormat(cmd)
	if err != nil {
		return err
	}
	var maxAge time.Duration
	if since != "" {
		maxAge, err = str2duration.ParseDuration(since)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", since, err)
		}
	}
	comps := &components{cfg: cfg}
	defer func() {
		if err := comps.Close(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("Failed to close components", "error", err)
		}
	}()
	entries, err := comps.auditLog().List(ctx, limit)
	if err != nil {
		return err
	}
	entries = filterSince(entries, maxAge, time.Now())
	return writeAuditEntries(cmd.OutOrStdout(), format, entries)
}

func filterSince(entries []audit.Entry, maxAge time.Duration, now time.Time) []audit.Entry {
	if maxAge <= 0 {
		return entries
	}
	cutoff := now.Add(-maxAge)
	out := entries[:0]
	for i := range entries {
		if entries[i].CreatedAt.After(cutoff) {
			out = append(out, entries[i])
		}
	}
	return out
}

func writeAuditEntries(w io.Writer, format string, entries []audit.Entry) error {
	switch format {
	case OutputFormatJSON:
		return writeJSON(w, entries)
	case OutputFormatYAML:
		return writeYAML(w, entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No sink gaps recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tFILE ID\tDELIVERED\tREASON")
	for i := range entries {
		e := &entries[i]
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n",
			e.CreatedAt.Format(time.RFC3339), shortID(e.FileID), e.Delivered, e.Chunks, e.Reason)
	}
	return tw.Flush()
}
