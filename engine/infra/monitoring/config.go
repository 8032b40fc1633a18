package monitoring

import (
	"fmt"
	"net"
	"strings"
)

// Config holds configuration for the metrics exporter.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Path    string `json:"path"    yaml:"path"    mapstructure:"path"`
	// Addr is the listen address of the scrape endpoint, e.g. ":9464".
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Path:    "/metrics",
		Addr:    ":9464",
	}
}

// Validate validates the monitoring configuration
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	if strings.ContainsRune(c.Path, '?') {
		return fmt.Errorf("monitoring path cannot contain query parameters")
	}
	if c.Enabled {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			return fmt.Errorf("monitoring addr %q is invalid: %w", c.Addr, err)
		}
	}
	return nil
}

// ForAddr returns an enabled config listening on addr, or a disabled default
// when addr is empty.
func ForAddr(addr string) *Config {
	cfg := DefaultConfig()
	if strings.TrimSpace(addr) == "" {
		return cfg
	}
	cfg.Enabled = true
	cfg.Addr = strings.TrimSpace(addr)
	return cfg
}
