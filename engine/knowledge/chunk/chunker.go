package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Chunker splits text into overlapping token windows.
type Chunker struct {
	tokenizer Tokenizer
	settings  Settings
}

// NewChunker validates settings and binds them to a tokenizer.
func NewChunker(tokenizer Tokenizer, settings Settings) (*Chunker, error) {
	if tokenizer == nil {
		return nil, errors.New("chunk: tokenizer is required")
	}
	if settings.MaxLength <= 0 {
		return nil, errors.New("chunk: max length must be greater than zero")
	}
	if settings.Stride < 0 {
		return nil, errors.New("chunk: stride cannot be negative")
	}
	if settings.Stride >= settings.MaxLength {
		return nil, fmt.Errorf("chunk: stride %d must be smaller than max length %d", settings.Stride, settings.MaxLength)
	}
	return &Chunker{tokenizer: tokenizer, settings: settings}, nil
}

// Settings returns the window configuration in use.
func (c *Chunker) Settings() Settings {
	return c.settings
}

// Chunk tokenizes text and returns windows of at most MaxLength tokens. Each
// window starts Stride tokens before the end of the previous one. Windows that
// decode to nothing but whitespace or control characters are dropped and do
// not consume an index.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, nil
	}
	tokens, err := c.tokenizer.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("chunk: encode: %w", err)
	}
	offsets := Windows(len(tokens), c.settings)
	chunks := make([]Chunk, 0, len(offsets))
	for _, start := range offsets {
		end := min(start+c.settings.MaxLength, len(tokens))
		decoded, err := c.tokenizer.Decode(tokens[start:end])
		if err != nil {
			return nil, fmt.Errorf("chunk: decode window at %d: %w", start, err)
		}
		cleaned := clean(decoded)
		if cleaned == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   cleaned,
			Start:  start,
			Tokens: end - start,
		})
	}
	return chunks, nil
}

// Windows returns the start offset of every window over n tokens.
func Windows(n int, settings Settings) []int {
	if n <= 0 || settings.MaxLength <= 0 || settings.Stride >= settings.MaxLength {
		return nil
	}
	advance := settings.MaxLength - settings.Stride
	offsets := make([]int, 0, n/advance+1)
	for start := 0; ; start += advance {
		offsets = append(offsets, start)
		if start+settings.MaxLength >= n {
			break
		}
	}
	return offsets
}

func clean(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar
	})
}
