package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/engine/knowledge/vectordb"
	"github.com/pagewise/pagewise/pkg/config"
	"github.com/pagewise/pagewise/pkg/logger"
)

const (
	waitTargetRedis = "redis"
	waitTargetStore = "store"
	readinessKey    = "pagewise-readiness-check"
)

// WaitCmd blocks until the configured backends accept requests.
func WaitCmd() *cobra.Command {
	var (
		targets  []string
		timeout  time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until Redis and the vector store are reachable",
		Long: `Poll the selected backends with exponential backoff until each responds or
--timeout elapses. Useful as an init step before ingest in containers.`,
		Example: `  pagewise wait --target redis,store --timeout 2m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWait(cmd.Context(), targets, timeout, interval)
		},
	}
	cmd.Flags().StringSliceVar(&targets, "target", []string{waitTargetRedis}, "Backends to wait for (redis, store)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Initial delay between attempts")
	return cmd
}

func runWait(ctx context.Context, targets []string, timeout, interval time.Duration) error {
	cfg := config.FromContext(ctx)
	comps := &components{cfg: cfg}
	defer func() { _ = comps.Close(context.WithoutCancel(ctx)) }()
	for _, target := range targets {
		var check func(context.Context) error
		switch target {
		case waitTargetRedis:
			check = func(ctx context.Context) error { return comps.redisClient().Ping(ctx).Err() }
		case waitTargetStore:
			check = func(ctx context.Context) error { return pingStore(ctx, cfg) }
		default:
			return fmt.Errorf("unknown wait target %q", target)
		}
		if err := waitFor(ctx, target, timeout, interval, check); err != nil {
			return err
		}
	}
	return nil
}

func waitFor(
	ctx context.Context,
	target string,
	timeout, interval time.Duration,
	check func(context.Context) error,
) error {
	log := logger.FromContext(ctx)
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	backoff := retry.WithMaxDuration(timeout, retry.WithCappedDuration(5*time.Second, retry.NewExponential(interval)))
	start := time.Now()
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := check(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, knowledge.ErrValidation) {
			return err
		}
		log.Debug("Backend not ready", "target", target, "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("%s not ready after %d attempts: %w", target, attempts, err)
	}
	log.Info("Backend ready", "target", target, "attempts", attempts, "elapsed", time.Since(start))
	return nil
}

func pingStore(ctx context.Context, cfg *config.Config) error {
	store, err := vectordb.New(ctx, vectordb.ConfigFromApp(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(ctx) }()
	_, err = store.Fetch(ctx, []string{readinessKey})
	return err
}
