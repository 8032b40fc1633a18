package chunk

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TiktokenTokenizer implements Tokenizer with a BPE encoding from tiktoken-go.
type TiktokenTokenizer struct {
	encoding string
	tke      *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// NewTiktokenTokenizer resolves modelOrEncoding as an encoding name first,
// then as a model name, and finally falls back to cl100k_base.
func NewTiktokenTokenizer(modelOrEncoding string) (*TiktokenTokenizer, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}
	name := modelOrEncoding
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			tke, err = tiktoken.GetEncoding(defaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("chunk: load encoding %q: %w", defaultEncoding, err)
			}
		}
		name = defaultEncoding
	}
	return &TiktokenTokenizer{encoding: name, tke: tke}, nil
}

func (t *TiktokenTokenizer) Encoding() string {
	return t.encoding
}

func (t *TiktokenTokenizer) Encode(text string) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tke == nil {
		return nil, fmt.Errorf("chunk: encoding %s is not initialized", t.encoding)
	}
	return t.tke.Encode(text, nil, nil), nil
}

func (t *TiktokenTokenizer) Decode(tokens []int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tke == nil {
		return "", fmt.Errorf("chunk: encoding %s is not initialized", t.encoding)
	}
	return t.tke.Decode(tokens), nil
}
