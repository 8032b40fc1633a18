package config

import (
	"context"
	"sync"

	"github.com/pagewise/pagewise/pkg/logger"
)

// ContextKey is an alias used for storing values in context
type ContextKey string

const ConfigCtxKey ContextKey = "config"

var (
	defaultConfig     *Config
	defaultConfigOnce sync.Once
)

// ContextWithConfig stores the loaded configuration in the context.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ConfigCtxKey, cfg)
}

// FromContext returns the configuration attached to ctx. When none is found
// it falls back to defaults plus environment overrides, loaded once.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(ConfigCtxKey).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	defaultConfigOnce.Do(func() {
		cfg, err := NewService().Load(ctx)
		if err != nil {
			logger.FromContext(ctx).Warn("failed to load default configuration, using fallback defaults", "error", err)
			cfg = Default()
		}
		defaultConfig = cfg
	})
	return defaultConfig
}
