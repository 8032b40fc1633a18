package sink

import appconfig "github.com/pagewise/pagewise/pkg/config"

// ConfigFromApp maps the sink section of the application config.
func ConfigFromApp(app *appconfig.Config) *Config {
	return &Config{
		Provider: Provider(app.Sink.Provider),
		URL:      app.Sink.URL,
		DSN:      app.Sink.DSN.Value(),
		Table:    app.Sink.Table,
		Timeout:  app.Sink.Timeout,
	}
}
