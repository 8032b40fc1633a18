package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TEITokenizer counts tokens with the tokenizer of the model served by a
// text-embeddings-inference server, so windows line up with what the
// embedder actually sees.
type TEITokenizer struct {
	client *resty.Client
}

type teiTokenizeRequest struct {
	Inputs           string `json:"inputs"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

type teiToken struct {
	ID      int  `json:"id"`
	Special bool `json:"special"`
}

type teiDecodeRequest struct {
	IDs               []int `json:"ids"`
	SkipSpecialTokens bool  `json:"skip_special_tokens"`
}

type teiInfo struct {
	MaxInputLength int `json:"max_input_length"`
}

// NewTEITokenizer builds a tokenizer backed by the server at endpoint.
func NewTEITokenizer(endpoint, apiKey string, timeout time.Duration) (*TEITokenizer, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("chunk: tei endpoint is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &TEITokenizer{client: client}, nil
}

func (t *TEITokenizer) Encode(text string) ([]int, error) {
	tokens, err := t.tokenize(context.Background(), text, false)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(tokens))
	for i := range tokens {
		ids[i] = tokens[i].ID
	}
	return ids, nil
}

func (t *TEITokenizer) Decode(tokens []int) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}
	resp, err := t.client.R().
		SetBody(teiDecodeRequest{IDs: tokens, SkipSpecialTokens: true}).
		Post("/decode")
	if err != nil {
		return "", fmt.Errorf("chunk: tei decode: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chunk: tei decode: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	// The server answers a single id list with a one-element array.
	var batch []string
	if err := json.Unmarshal(resp.Body(), &batch); err == nil {
		if len(batch) != 1 {
			return "", fmt.Errorf("chunk: tei decode: received %d texts for one sequence", len(batch))
		}
		return batch[0], nil
	}
	var text string
	if err := json.Unmarshal(resp.Body(), &text); err != nil {
		return "", fmt.Errorf("chunk: tei decode: decode response: %w", err)
	}
	return text, nil
}

// Overhead returns how many tokens the embedder adds to every window: the
// tokens of prefix plus the model's special tokens.
func (t *TEITokenizer) Overhead(ctx context.Context, prefix string) (int, error) {
	tokens, err := t.tokenize(ctx, prefix, true)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// MaxInputLength returns the longest sequence the server accepts.
func (t *TEITokenizer) MaxInputLength(ctx context.Context) (int, error) {
	resp, err := t.client.R().SetContext(ctx).Get("/info")
	if err != nil {
		return 0, fmt.Errorf("chunk: tei info: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("chunk: tei info: status %d", resp.StatusCode())
	}
	var info teiInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return 0, fmt.Errorf("chunk: tei info: decode response: %w", err)
	}
	return info.MaxInputLength, nil
}

func (t *TEITokenizer) tokenize(ctx context.Context, text string, special bool) ([]teiToken, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(teiTokenizeRequest{Inputs: text, AddSpecialTokens: special}).
		Post("/tokenize")
	if err != nil {
		return nil, fmt.Errorf("chunk: tei tokenize: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chunk: tei tokenize: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var seqs [][]teiToken
	if err := json.Unmarshal(resp.Body(), &seqs); err != nil {
		return nil, fmt.Errorf("chunk: tei tokenize: decode response: %w", err)
	}
	if len(seqs) != 1 {
		return nil, fmt.Errorf("chunk: tei tokenize: received %d sequences for one input", len(seqs))
	}
	return seqs[0], nil
}

// FitSettings shrinks settings so a window plus overhead tokens stays within
// maxInput. A non-positive maxInput leaves settings unchanged.
func FitSettings(settings Settings, maxInput, overhead int) (Settings, error) {
	if maxInput <= 0 {
		return settings, nil
	}
	limit := maxInput - overhead
	if limit <= 0 {
		return settings, fmt.Errorf("chunk: %d overhead tokens leave no room in a %d token input", overhead, maxInput)
	}
	if settings.MaxLength <= limit {
		return settings, nil
	}
	fitted := Settings{MaxLength: limit, Stride: settings.Stride}
	if fitted.Stride >= fitted.MaxLength {
		fitted.Stride = fitted.MaxLength / 10
	}
	return fitted, nil
}
