package monitoring

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pagewise/pagewise/engine/infra/monitoring/metrics"
	"github.com/pagewise/pagewise/pkg/logger"
	"github.com/pagewise/pagewise/pkg/version"
)

var (
	buildInfo          metric.Float64Gauge
	uptimeGauge        metric.Float64ObservableGauge
	uptimeRegistration metric.Registration
	startTime          time.Time
	systemInitOnce     sync.Once
	systemResetMutex   sync.Mutex
)

func initSystemMetrics(ctx context.Context, meter metric.Meter) {
	systemInitOnce.Do(func() {
		log := logger.FromContext(ctx)
		var err error
		buildInfo, err = meter.Float64Gauge(
			metrics.MetricName("build_info"),
			metric.WithDescription("Build information (value=1)"),
		)
		if err != nil {
			log.Error("Failed to create build info gauge", "error", err)
		}
		uptimeGauge, err = meter.Float64ObservableGauge(
			metrics.MetricName("uptime_seconds"),
			metric.WithDescription("Process uptime in seconds"),
		)
		if err != nil {
			log.Error("Failed to create uptime gauge", "error", err)
			return
		}
		startTime = time.Now()
		uptimeRegistration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveFloat64(uptimeGauge, time.Since(startTime).Seconds())
			return nil
		}, uptimeGauge)
		if err != nil {
			log.Error("Failed to register uptime callback", "error", err)
		}
	})
}

func recordBuildInfo(ctx context.Context) {
	if buildInfo == nil {
		return
	}
	info := version.Get()
	buildInfo.Record(ctx, 1,
		metric.WithAttributes(
			attribute.String("version", info.Version),
			attribute.String("commit_hash", info.CommitHash),
			attribute.String("go_version", info.GoVersion),
		),
	)
	logger.FromContext(ctx).Debug("System metrics initialized",
		"version", info.Version,
		"commit", info.CommitHash,
		"go_version", info.GoVersion,
	)
}

// InitSystemMetrics initializes system health metrics and records build info
func InitSystemMetrics(ctx context.Context, meter metric.Meter) {
	initSystemMetrics(ctx, meter)
	recordBuildInfo(ctx)
}

func resetSystemMetrics() {
	systemResetMutex.Lock()
	defer systemResetMutex.Unlock()
	if uptimeRegistration != nil {
		if err := uptimeRegistration.Unregister(); err != nil {
			logger.GetDefault().Error("Failed to unregister uptime callback during reset", "error", err)
		}
		uptimeRegistration = nil
	}
	buildInfo = nil
	uptimeGauge = nil
	startTime = time.Time{}
	systemInitOnce = sync.Once{}
}
