package generator

import appconfig "github.com/pagewise/pagewise/pkg/config"

// ConfigFromApp maps the generator section of the application config.
func ConfigFromApp(app *appconfig.Config) *Config {
	return &Config{
		Provider:    Provider(app.Generator.Provider),
		Model:       app.Generator.Model,
		Endpoint:    app.Generator.Endpoint,
		APIKey:      app.Generator.APIKey.Value(),
		MaxTokens:   app.Generator.MaxTokens,
		Temperature: app.Generator.Temperature,
	}
}
