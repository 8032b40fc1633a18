package embedder

import (
	"strings"

	appconfig "github.com/pagewise/pagewise/pkg/config"
)

// ConfigFromApp maps the embedder section of the application config.
func ConfigFromApp(app *appconfig.Config) *Config {
	e := app.Embedder
	return &Config{
		Provider:    Provider(strings.ToLower(strings.TrimSpace(e.Provider))),
		Model:       e.Model,
		Endpoint:    e.Endpoint,
		APIKey:      e.APIKey.Value(),
		Dimension:   e.Dimension,
		InputPrefix: e.InputPrefix,
		BatchSize:   e.BatchSize,
		CacheSize:   e.CacheSize,
		Serialize:   e.Serialize,
		Timeout:     e.Timeout,
	}
}
