package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/engine/knowledge/retriever"
	"github.com/pagewise/pagewise/pkg/config"
	"github.com/pagewise/pagewise/pkg/logger"
)

type askSource struct {
	ID     string  `json:"id"      yaml:"id"`
	FileID string  `json:"file_id" yaml:"file_id"`
	Score  float64 `json:"score"   yaml:"score"`
}

type askResponse struct {
	Query   string      `json:"query"             yaml:"query"`
	Matched bool        `json:"matched"           yaml:"matched"`
	Answer  string      `json:"answer,omitempty"  yaml:"answer,omitempty"`
	FileID  string      `json:"file_id,omitempty" yaml:"file_id,omitempty"`
	Context []string    `json:"context,omitempty" yaml:"context,omitempty"`
	Sources []askSource `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// AskCmd answers a question from the most relevant ingested chunks.
func AskCmd() *cobra.Command {
	var (
		filters    map[string]string
		noGenerate bool
	)
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a question from ingested documents",
		Long: `Embed the query, search the vector store and answer from at most three
chunks scoring at least --threshold. When nothing passes the threshold no
answer is generated.`,
		Example: `  pagewise ask "What is the refund policy?" --top-k 10 --threshold 0.8`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), filters, noGenerate)
		},
	}
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "Metadata filter as key=value (repeatable)")
	cmd.Flags().BoolVar(&noGenerate, "no-generate", false, "Only print the retrieved context")
	addFormatFlag(cmd)
	return cmd
}

func runAsk(cmd *cobra.Command, query string, filters map[string]string, noGenerate bool) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	format, err := resolveFormat(cmd)
	if err != nil {
		return err
	}
	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("Failed to close components", "error", err)
		}
	}()
	svc, err := comps.retriever(ctx)
	if err != nil {
		return err
	}
	opts := retriever.Options{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.Threshold,
		Filters:   filters,
		Namespace: cfg.VectorDB.Namespace,
	}
	var answer *retriever.Answer
	if noGenerate {
		answer, err = svc.Retrieve(ctx, query, opts)
	} else {
		answer, err = svc.RetrieveAndAnswer(ctx, query, opts)
	}
	resp := askResponse{Query: query}
	switch {
	case errors.Is(err, knowledge.ErrNoMatch):
	case err != nil:
		return err
	default:
		resp = newAskResponse(answer)
	}
	return writeAskResponse(cmd.OutOrStdout(), format, &resp, opts.Threshold)
}

func newAskResponse(answer *retriever.Answer) askResponse {
	resp := askResponse{
		Query:   answer.Query,
		Matched: true,
		Answer:  answer.Answer,
		FileID:  answer.FileID,
		Context: answer.ContextChunks,
	}
	for i := range answer.Matches {
		m := &answer.Matches[i]
		fileID, _ := m.Metadata["file_id"].(string)
		resp.Sources = append(resp.Sources, askSource{ID: m.ID, FileID: fileID, Score: m.Score})
	}
	return resp
}

func writeAskResponse(w io.Writer, format string, resp *askResponse, threshold float64) error {
	switch format {
	case OutputFormatJSON:
		return writeJSON(w, resp)
	case OutputFormatYAML:
		return writeYAML(w, resp)
	}
	if !resp.Matched {
		_, err := fmt.Fprintln(w, style(w, warnStyle, fmt.Sprintf("No relevant context found above threshold %.2f", threshold)))
		return err
	}
	if resp.Answer != "" {
		fmt.Fprintln(w, style(w, headingStyle, "Answer"))
		fmt.Fprintln(w, resp.Answer)
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, style(w, headingStyle, "Context"))
		for _, text := range resp.Context {
			fmt.Fprintln(w, text)
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, style(w, headingStyle, "Sources"))
	for _, src := range resp.Sources {
		fmt.Fprintln(w, style(w, mutedStyle, fmt.Sprintf("  %.4f  %s  %s", src.Score, src.FileID, src.ID)))
	}
	return nil
}
