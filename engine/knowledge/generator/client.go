package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/pkg/logger"
)

// ModelFactory creates the underlying model on first use.
type ModelFactory func(ctx context.Context, cfg *Config) (llms.Model, error)

// Client renders the answer prompt and calls a langchaingo model with a
// fixed token budget and temperature. The model is created lazily and
// shared by all callers.
type Client struct {
	cfg     Config
	factory ModelFactory

	mu    sync.Mutex
	model llms.Model
}

func NewClient(cfg *Config) (*Client, error) {
	return NewClientWithFactory(cfg, NewModel)
}

// NewClientWithFactory binds a custom model constructor, mainly for tests.
func NewClientWithFactory(cfg *Config, factory ModelFactory) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("generator config is required")
	}
	if factory == nil {
		return nil, errors.New("generator: model factory is required")
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return nil, errors.New("generator: provider is required")
	}
	return &Client{cfg: cfg.withDefaults(), factory: factory}, nil
}

// Init creates the model once. Failures are not cached and match
// knowledge.ErrModelLoad.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.loadModel(ctx)
	return err
}

func (c *Client) loadModel(ctx context.Context) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		return c.model, nil
	}
	model, err := c.factory(ctx, &c.cfg)
	if err != nil {
		return nil, knowledge.Wrap(knowledge.ErrModelLoad, fmt.Sprintf("generator %s/%s", c.cfg.Provider, c.cfg.Model), err)
	}
	c.model = model
	return model, nil
}

// Generate answers question from context. Errors match knowledge.ErrGeneration
// or, when the model cannot be created, knowledge.ErrModelLoad.
func (c *Client) Generate(ctx context.Context, question, context string) (string, error) {
	model, err := c.loadModel(ctx)
	if err != nil {
		return "", err
	}
	prompt := BuildPrompt(question, context)
	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(
		ctx,
		model,
		prompt,
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	)
	if err != nil {
		return "", knowledge.Wrap(knowledge.ErrGeneration, "generate", err)
	}
	logger.FromContext(ctx).Debug(
		"Answer generated",
		"provider", c.cfg.Provider,
		"model", c.cfg.Model,
		"prompt_chars", len(prompt),
		"elapsed", time.Since(start),
	)
	return strings.TrimSpace(out), nil
}
