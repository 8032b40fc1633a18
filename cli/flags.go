package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pagewise/pagewise/pkg/config/definition"
)

// addConfigFlags registers one flag per registry field that declares a CLI
// flag, typed after the field.
func addConfigFlags(flags *pflag.FlagSet) {
	for _, field := range definition.CreateRegistry().Fields() {
		if field.CLIFlag == "" || flags.Lookup(field.CLIFlag) != nil {
			continue
		}
		switch def := field.Default.(type) {
		case string:
			flags.StringP(field.CLIFlag, field.Shorthand, def, field.Help)
		case int:
			flags.IntP(field.CLIFlag, field.Shorthand, def, field.Help)
		case bool:
			flags.BoolP(field.CLIFlag, field.Shorthand, def, field.Help)
		case float64:
			flags.Float64P(field.CLIFlag, field.Shorthand, def, field.Help)
		case time.Duration:
			flags.DurationP(field.CLIFlag, field.Shorthand, def, field.Help)
		}
	}
}

// extractCLIFlags copies the registry flags explicitly set by the user into
// flags, keyed by flag name.
func extractCLIFlags(cmd *cobra.Command, flags map[string]any) {
	getters := map[string]func(string) (any, error){
		"string":   func(name string) (any, error) { return cmd.Flags().GetString(name) },
		"int":      func(name string) (any, error) { return cmd.Flags().GetInt(name) },
		"bool":     func(name string) (any, error) { return cmd.Flags().GetBool(name) },
		"float64":  func(name string) (any, error) { return cmd.Flags().GetFloat64(name) },
		"duration": func(name string) (any, error) { return cmd.Flags().GetDuration(name) },
	}
	for flagName := range definition.CreateRegistry().GetCLIFlagMapping() {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil || !flag.Changed {
			continue
		}
		getter, ok := getters[flag.Value.Type()]
		if !ok {
			continue
		}
		if value, err := getter(flagName); err == nil {
			flags[flagName] = value
		}
	}
}
