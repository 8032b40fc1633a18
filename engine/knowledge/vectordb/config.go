package vectordb

import (
	"net/url"
	"strconv"
	"strings"

	appconfig "github.com/pagewise/pagewise/pkg/config"
)

// ConfigFromApp derives the store configuration from the application config.
// The redis provider falls back to the shared redis connection when no DSN is
// set.
func ConfigFromApp(app *appconfig.Config) *Config {
	if app == nil {
		return nil
	}
	vdb := app.VectorDB
	cfg := &Config{
		Provider:    Provider(strings.ToLower(strings.TrimSpace(vdb.Provider))),
		Index:       vdb.Index,
		Namespace:   vdb.Namespace,
		Endpoint:    vdb.Endpoint,
		DSN:         vdb.DSN.Value(),
		Path:        vdb.Path,
		Table:       vdb.Table,
		APIKey:      vdb.APIKey.Value(),
		Metric:      vdb.Metric,
		Dimension:   app.Embedder.Dimension,
		EnsureIndex: vdb.EnsureIndex,
		Timeout:     vdb.Timeout,
	}
	if cfg.Provider == ProviderRedis && strings.TrimSpace(cfg.DSN) == "" {
		cfg.DSN = redisURL(app.Redis)
	}
	return cfg
}

func redisURL(rc appconfig.RedisConfig) string {
	addr := strings.TrimSpace(rc.Addr)
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	u := &url.URL{Scheme: "redis", Host: addr, Path: "/" + strconv.Itoa(rc.DB)}
	if pwd := rc.Password.Value(); pwd != "" {
		u.User = url.UserPassword("", pwd)
	}
	return u.String()
}
