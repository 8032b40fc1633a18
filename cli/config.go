package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagewise/pagewise/pkg/config"
)

// Pre-compiled regex for URL token redaction
var tokenRegex = regexp.MustCompile(`token=[^&\s]+`)

// Sensitive patterns for environment variable detection
var sensitivePatterns = []string{
	"PASSWORD",
	"TOKEN",
	"API_KEY",
	"SECRET",
	"PRIVATE",
	"CREDENTIALS",
	"DSN",
}

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management and diagnostics",
	}
	cmd.AddCommand(
		configShowCmd(),
		configValidateCmd(),
		configEnvCmd(),
	)
	return cmd
}

func configShowCmd() *cobra.Command {
	var showSources bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration values and their sources",
		Long: `Display the effective configuration. With --sources each value is annotated
with the source that provided it (cli, yaml, env or default).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, showSources)
		},
	}
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show configuration sources")
	addFormatFlag(cmd)
	return cmd
}

func runConfigShow(cmd *cobra.Command, showSources bool) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	format, err := resolveFormat(cmd)
	if err != nil {
		return err
	}
	cfg, sources, err := loadConfigWithSources(cmd.Context(), cmd, configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return formatConfigOutput(cmd.OutOrStdout(), cfg, sources, format, showSources)
}

// formatConfigOutput formats and outputs configuration based on requested format
func formatConfigOutput(
	w io.Writer,
	cfg *config.Config,
	sources map[string]config.SourceType,
	format string,
	showSources bool,
) error {
	output := map[string]any{"config": cfg}
	if showSources && len(sources) > 0 {
		output["sources"] = sources
	}
	switch format {
	case OutputFormatJSON:
		return writeJSON(w, output)
	case OutputFormatYAML:
		return writeYAML(w, output)
	case OutputFormatTable:
		return outputTable(w, cfg, sources, showSources)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long:  `Load the configuration from every source and report validation errors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}
			if _, _, err := loadConfigWithSources(cmd.Context(), cmd, configFile); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
}

func configEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List environment variables and the configuration paths they set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return displayEnvMapping(cmd.OutOrStdout())
		},
	}
}

// loadConfigWithSources loads configuration and tracks sources
func loadConfigWithSources(
	ctx context.Context,
	cmd *cobra.Command,
	configFile string,
) (*config.Config, map[string]config.SourceType, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	service := config.NewService()
	var sources []config.Source
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	cliFlags := make(map[string]any)
	extractCLIFlags(cmd, cliFlags)
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	cfg, err := service.Load(ctx, sources...)
	if err != nil {
		return nil, nil, err
	}
	sourceMap := make(map[string]config.SourceType)
	collectSources(service, "", reflect.ValueOf(cfg).Elem(), sourceMap)
	return cfg, sourceMap, nil
}

// collectSources records the non-default source of every leaf key.
func collectSources(service config.Service, prefix string, val reflect.Value, sourceMap map[string]config.SourceType) {
	walkConfig(prefix, val, func(key string, _ reflect.Value) {
		if source := service.GetSource(key); source != config.SourceDefault {
			sourceMap[key] = source
		}
	})
}

// walkConfig visits every leaf field of a config struct by koanf path.
func walkConfig(prefix string, val reflect.Value, visit func(key string, field reflect.Value)) {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fieldVal := val.Field(i)
		if fieldVal.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			walkConfig(key, fieldVal, visit)
			continue
		}
		visit(key, fieldVal)
	}
}

// flattenConfig converts nested config to a flat key-value map, redacting
// secrets and credentials embedded in URLs.
func flattenConfig(cfg *config.Config) map[string]string {
	result := make(map[string]string)
	walkConfig("", reflect.ValueOf(cfg).Elem(), func(key string, field reflect.Value) {
		switch v := field.Interface().(type) {
		case config.SensitiveString:
			result[key] = v.String()
		case time.Duration:
			result[key] = v.String()
		case string:
			result[key] = redactURL(v)
		default:
			result[key] = fmt.Sprintf("%v", v)
		}
	})
	return result
}

func outputTable(w io.Writer, cfg *config.Config, sources map[string]config.SourceType, showSources bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	flatMap := flattenConfig(cfg)
	keys := make([]string, 0, len(flatMap))
	for k := range flatMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if showSources {
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
		fmt.Fprintln(tw, "---\t-----\t------")
	} else {
		fmt.Fprintln(tw, "KEY\tVALUE")
		fmt.Fprintln(tw, "---\t-----")
	}
	for _, key := range keys {
		value := flatMap[key]
		if !showSources {
			fmt.Fprintf(tw, "%s\t%s\n", key, value)
			continue
		}
		source := sources[key]
		if source == "" {
			source = config.SourceDefault
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, value, source)
	}
	return tw.Flush()
}

// redactURL redacts credentials from URLs and DSNs
func redactURL(urlStr string) string {
	if strings.Contains(urlStr, "://") && strings.Contains(urlStr, "@") {
		protocolEnd := strings.Index(urlStr, "://") + 3
		atIndex := strings.LastIndex(urlStr, "@")
		if atIndex > protocolEnd {
			return urlStr[:protocolEnd] + "[REDACTED]@" + urlStr[atIndex+1:]
		}
	}
	if strings.Contains(urlStr, "token=") {
		return tokenRegex.ReplaceAllString(urlStr, "token=[REDACTED]")
	}
	return urlStr
}

// isSensitiveEnvVar checks if an environment variable contains sensitive data
func isSensitiveEnvVar(envName, value string) bool {
	for _, pattern := range sensitivePatterns {
		if strings.Contains(envName, pattern) {
			return true
		}
	}
	return redactURL(value) != value
}

// displayEnvMapping shows environment variable mappings
func displayEnvMapping(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENVIRONMENT VARIABLE\tCONFIG PATH\tCURRENT VALUE")
	fmt.Fprintln(tw, "--------------------\t-----------\t-------------")
	for _, mapping := range config.GenerateEnvMappings() {
		value := os.Getenv(mapping.EnvVar)
		switch {
		case value == "":
			value = "(not set)"
		case config.IsSensitiveConfigPath(mapping.ConfigPath) || isSensitiveEnvVar(mapping.EnvVar, value):
			value = "[REDACTED]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", mapping.EnvVar, mapping.ConfigPath, value)
	}
	return tw.Flush()
}
