package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"gopkg.in/yaml.v3"
)

// Output format constants
const (
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"
	OutputFormatTable = "table"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "", "Output format (json, yaml, table); defaults to table on a terminal")
}

// resolveFormat returns the --format flag, or table for terminals and json
// for pipes when the flag is unset.
func resolveFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("failed to get format flag: %w", err)
	}
	switch format {
	case "":
		if isTerminal(cmd.OutOrStdout()) {
			return OutputFormatTable, nil
		}
		return OutputFormatJSON, nil
	case OutputFormatJSON, OutputFormatYAML, OutputFormatTable:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	data = pretty.Pretty(data)
	if isTerminal(w) {
		data = pretty.Color(data, pretty.TerminalStyle)
	}
	_, err = w.Write(data)
	return err
}

func writeYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return encoder.Close()
}

// style renders text with s only when w is a terminal.
func style(w io.Writer, s lipgloss.Style, text string) string {
	if !isTerminal(w) {
		return text
	}
	return s.Render(text)
}
