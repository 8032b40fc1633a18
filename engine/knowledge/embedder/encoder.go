package embedder

import "context"

// TokenBatch holds padded per-token vectors and their attention masks.
// Vectors has shape [batch][tokens][dim]; Mask has shape [batch][tokens].
type TokenBatch struct {
	Vectors [][][]float32
	Mask    [][]int
}

// TokenEncoder is a model runtime that returns the last hidden state for
// each token of each input.
type TokenEncoder interface {
	// Load prepares the model. It is called once before the first inference.
	Load(ctx context.Context) error
	Encode(ctx context.Context, texts []string) (*TokenBatch, error)
}

// padSequences right-pads ragged token sequences to a common length and
// returns the matching mask.
func padSequences(seqs [][][]float32) *TokenBatch {
	longest, dim := 0, 0
	for _, seq := range seqs {
		longest = max(longest, len(seq))
		if dim == 0 && len(seq) > 0 {
			dim = len(seq[0])
		}
	}
	batch := &TokenBatch{
		Vectors: make([][][]float32, len(seqs)),
		Mask:    make([][]int, len(seqs)),
	}
	for i, seq := range seqs {
		vectors := make([][]float32, longest)
		mask := make([]int, longest)
		for j := 0; j < longest; j++ {
			if j < len(seq) {
				vectors[j] = seq[j]
				mask[j] = 1
				continue
			}
			vectors[j] = make([]float32, dim)
		}
		batch.Vectors[i] = vectors
		batch.Mask[i] = mask
	}
	return batch
}
