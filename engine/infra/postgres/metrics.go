package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	monitoringmetrics "github.com/pagewise/pagewise/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultPoolLabel  = "default"
	postgresMeterName = "pagewise.postgres"
)

// poolGauges observes connection counts for every open pool.
type poolGauges struct {
	open  metric.Int64ObservableGauge
	inUse metric.Int64ObservableGauge
	idle  metric.Int64ObservableGauge
}

var (
	gaugesOnce sync.Once
	gaugesErr  error
	openPools  sync.Map // *poolMetrics -> struct{}
)

type poolMetrics struct {
	label string
	pool  *pgxpool.Pool
}

func trackPool(label string, pool *pgxpool.Pool) (*poolMetrics, error) {
	gaugesOnce.Do(func() {
		gaugesErr = registerPoolGauges(otel.GetMeterProvider().Meter(postgresMeterName))
	})
	if gaugesErr != nil {
		return nil, fmt.Errorf("postgres: init metrics: %w", gaugesErr)
	}
	tracker := &poolMetrics{label: label, pool: pool}
	openPools.Store(tracker, struct{}{})
	return tracker, nil
}

func (p *poolMetrics) unregister() {
	if p != nil {
		openPools.Delete(p)
	}
}

func registerPoolGauges(meter metric.Meter) error {
	var (
		g   poolGauges
		err error
	)
	gauge := func(name, desc string) metric.Int64ObservableGauge {
		if err != nil {
			return nil
		}
		var out metric.Int64ObservableGauge
		out, err = meter.Int64ObservableGauge(
			monitoringmetrics.MetricNameWithSubsystem("postgres", name),
			metric.WithDescription(desc),
		)
		return out
	}
	g.open = gauge("connections_open", "Number of open Postgres connections")
	g.inUse = gauge("connections_in_use", "Number of Postgres connections currently in use")
	g.idle = gauge("connections_idle", "Number of idle Postgres connections")
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(g.observe, g.open, g.inUse, g.idle)
	return err
}

func (g *poolGauges) observe(_ context.Context, observer metric.Observer) error {
	openPools.Range(func(key, _ any) bool {
		tracker, ok := key.(*poolMetrics)
		if !ok || tracker.pool == nil {
			return true
		}
		stats := tracker.pool.Stat()
		attrs := metric.WithAttributes(attribute.String("pool", tracker.label))
		observer.ObserveInt64(g.open, int64(stats.TotalConns()), attrs)
		observer.ObserveInt64(g.inUse, int64(stats.AcquiredConns()), attrs)
		observer.ObserveInt64(g.idle, int64(stats.IdleConns()), attrs)
		return true
	})
	return nil
}

// poolLabel names a pool after cfg.Label, or host-database when unset.
func poolLabel(cfg *Config, poolCfg *pgxpool.Config) string {
	if cfg != nil {
		if label := sanitizeLabel(cfg.Label); label != "" {
			return label
		}
	}
	if poolCfg == nil || poolCfg.ConnConfig == nil {
		return defaultPoolLabel
	}
	parts := make([]string, 0, 2)
	for _, c := range []string{poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Database} {
		if s := sanitizeLabel(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return defaultPoolLabel
	}
	return strings.Join(parts, "-")
}

func sanitizeLabel(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == ':':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(strings.TrimSpace(s)))
	return strings.Trim(mapped, "_")
}
