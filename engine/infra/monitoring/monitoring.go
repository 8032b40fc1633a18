package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/pagewise/pagewise/pkg/logger"
)

const meterName = "pagewise"

// Service owns the meter provider and the Prometheus scrape endpoint.
type Service struct {
	meter             metric.Meter
	exporter          *prometheus.Exporter
	provider          *sdkmetric.MeterProvider
	registry          *prom.Registry
	config            *Config
	server            *http.Server
	addr              string
	initialized       bool
	initializationErr error
}

func newDisabledService(cfg *Config, initErr error) *Service {
	return &Service{
		config:            cfg,
		meter:             noop.NewMeterProvider().Meter(meterName),
		initialized:       false,
		initializationErr: initErr,
	}
}

// NewMonitoringService creates a new monitoring service with Prometheus exporter
func NewMonitoringService(ctx context.Context, cfg *Config) (*Service, error) {
	log := logger.FromContext(ctx)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, using no-op meter")
		return newDisabledService(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	service := &Service{
		meter:       meter,
		exporter:    exporter,
		provider:    provider,
		registry:    registry,
		config:      cfg,
		initialized: true,
	}
	InitSystemMetrics(ctx, meter)
	log.Info("Monitoring service initialized successfully")
	return service, nil
}

// NewMonitoringServiceWithFallback degrades to a no-op service when the
// exporter cannot be initialized.
func NewMonitoringServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	service, err := NewMonitoringService(ctx, cfg)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to initialize monitoring, using no-op implementation", "error", err)
		if cfg == nil {
			cfg = DefaultConfig()
		}
		return newDisabledService(cfg, err)
	}
	return service
}

func (s *Service) Meter() metric.Meter {
	return s.meter
}

// ExporterHandler returns an HTTP handler for the scrape endpoint
func (s *Service) ExporterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
				logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
			}
			return
		}
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Start serves the scrape endpoint on the configured address until Shutdown.
// It is a no-op for a disabled service.
func (s *Service) Start(ctx context.Context) error {
	if !s.initialized {
		return nil
	}
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("monitoring: listen on %s: %w", s.config.Addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s.ExporterHandler())
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.addr = listener.Addr().String()
	log := logger.FromContext(ctx)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics endpoint stopped", "error", err)
		}
	}()
	log.Info("Metrics endpoint listening", "addr", s.addr, "path", s.config.Path)
	return nil
}

// Addr returns the bound listen address once Start succeeded.
func (s *Service) Addr() string {
	return s.addr
}

// Shutdown stops the scrape endpoint and flushes the meter provider.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown(ctx))
	}
	if s.provider != nil {
		errs = append(errs, s.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (s *Service) IsInitialized() bool {
	return s.initialized
}

func (s *Service) InitializationError() error {
	return s.initializationErr
}

// SetAsGlobal installs the provider as the global OpenTelemetry meter
// provider, which is where the knowledge metrics are recorded.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}
