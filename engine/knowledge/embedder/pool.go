package embedder

import "fmt"

// maskFloor bounds the pooling denominator so fully masked input yields a zero vector.
const maskFloor = 1e-9

// Pool reduces per-token vectors to one vector by averaging the tokens whose
// mask entry is non-zero. Rows beyond len(mask) are treated as masked out.
func Pool(tokenVectors [][]float32, mask []int) []float32 {
	if len(tokenVectors) == 0 {
		return nil
	}
	dim := len(tokenVectors[0])
	sum := make([]float64, dim)
	var weight float64
	for i, vec := range tokenVectors {
		if i >= len(mask) || mask[i] == 0 {
			continue
		}
		m := float64(mask[i])
		for j := 0; j < dim && j < len(vec); j++ {
			sum[j] += float64(vec[j]) * m
		}
		weight += m
	}
	weight = max(weight, maskFloor)
	out := make([]float32, dim)
	for j := range sum {
		out[j] = float32(sum[j] / weight)
	}
	return out
}

// PoolBatch pools a padded batch of shape [batch][tokens][dim] with a mask of
// shape [batch][tokens].
func PoolBatch(batch [][][]float32, masks [][]int) ([][]float32, error) {
	if len(batch) != len(masks) {
		return nil, fmt.Errorf("embedder: %d token sequences with %d masks", len(batch), len(masks))
	}
	out := make([][]float32, len(batch))
	for i := range batch {
		out[i] = Pool(batch[i], masks[i])
	}
	return out, nil
}
