package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagewise/pagewise/engine/infra/monitoring"
	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/pkg/config"
	"github.com/pagewise/pagewise/pkg/logger"
	"github.com/pagewise/pagewise/pkg/version"
)

const (
	defaultConfigFile = "pagewise.yaml"
	defaultEnvFile    = ".env"
)

// Process exit codes. ExitTempFail matches EX_TEMPFAIL from sysexits.h.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitTempFail = 75
)

type monitoringKey struct{}

// ExitCode maps the error returned by a command to a process exit code. A
// transient failure (store, embedding, sink, generation, batch) exits with
// ExitTempFail and a hint on cmd's error stream so scripts can retry.
func ExitCode(cmd *cobra.Command, err error) int {
	if err == nil {
		return ExitOK
	}
	if knowledge.IsRetryable(err) {
		fmt.Fprintln(cmd.ErrOrStderr(), "The failure looks transient; running the command again may succeed.")
		return ExitTempFail
	}
	return ExitFailure
}

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pagewise",
		Short:         "Ingest documents into a vector store and answer questions from them",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return shutdownMonitoring(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the YAML configuration file")
	flags.String("env-file", defaultEnvFile, "Path to a .env file loaded before configuration")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	addConfigFlags(flags)

	root.AddCommand(
		IngestCmd(),
		AskCmd(),
		AuditCmd(),
		WaitCmd(),
		ConfigCmd(),
	)

	return root
}

// SetupGlobalConfig loads the env file and configuration for cmd, configures
// the logger and attaches both to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := loadConfigWithSources(ctx, cmd, configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, cfg.Runtime.LogSource)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	ctx, err = startMonitoring(ctx, cmd)
	if err != nil {
		return err
	}
	cmd.SetContext(ctx)
	log.Debug("Configuration loaded", "config_file", configFile, "vector_db", cfg.VectorDB.Provider)
	return nil
}

func startMonitoring(ctx context.Context, cmd *cobra.Command) (context.Context, error) {
	addr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return ctx, fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	if addr == "" {
		return ctx, nil
	}
	service, err := monitoring.NewMonitoringService(ctx, monitoring.ForAddr(addr))
	if err != nil {
		return ctx, err
	}
	if err := service.Start(ctx); err != nil {
		return ctx, err
	}
	service.SetAsGlobal()
	return context.WithValue(ctx, monitoringKey{}, service), nil
}

func shutdownMonitoring(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	service, ok := ctx.Value(monitoringKey{}).(*monitoring.Service)
	if !ok {
		return nil
	}
	return service.Shutdown(context.WithoutCancel(ctx))
}
