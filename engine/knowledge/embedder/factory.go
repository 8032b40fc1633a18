package embedder

import (
	"errors"
	"fmt"
)

// New builds the embedder selected by cfg.Provider.
func New(cfg *Config) (Embedder, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	resolved := cfg.withDefaults()
	switch resolved.Provider {
	case ProviderTEI:
		enc, err := NewTEIEncoder(resolved.Endpoint, resolved.Model, resolved.APIKey, resolved.Timeout)
		if err != nil {
			return nil, err
		}
		rt, err := NewRuntime(&resolved, enc)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case ProviderOpenAI, ProviderOllama:
		adapter, err := NewAdapter(&resolved)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("embedder: provider %q is not supported", resolved.Provider)
	}
}
