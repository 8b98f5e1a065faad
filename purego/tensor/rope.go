package tensor

import (
	"fmt"
	"math"
)

// RoPECache stores precomputed cos/sin tables, [max_seq_len, head_dim/2].
// Rotation pairs dimension i with i + head_dim/2, the layout HuggingFace
// Llama checkpoints are permuted for.
type RoPECache struct {
	cos, sin  []float32
	HeadDim   int
	MaxSeqLen int
	Base      float64
}

// NewRoPECache precomputes rotary tables for every position
func NewRoPECache(headDim, maxSeqLen int, base float64) *RoPECache {
	half := headDim / 2
	rc := &RoPECache{
		cos:       make([]float32, maxSeqLen*half),
		sin:       make([]float32, maxSeqLen*half),
		HeadDim:   headDim,
		MaxSeqLen: maxSeqLen,
		Base:      base,
	}

	for i := 0; i < half; i++ {
		freq := 1.0 / math.Pow(base, float64(2*i)/float64(headDim))
		for pos := 0; pos < maxSeqLen; pos++ {
			angle := float64(pos) * freq
			rc.cos[pos*half+i] = float32(math.Cos(angle))
			rc.sin[pos*half+i] = float32(math.Sin(angle))
		}
	}

	return rc
}

// Apply rotates every head in x (numHeads * head_dim values) in place
func (rc *RoPECache) Apply(x []float32, pos int) error {
	if pos < 0 || pos >= rc.MaxSeqLen {
		return fmt.Errorf("position %d outside rotary table of %d", pos, rc.MaxSeqLen)
	}

	half := rc.HeadDim / 2
	cos := rc.cos[pos*half : (pos+1)*half]
	sin := rc.sin[pos*half : (pos+1)*half]

	for h := 0; h+rc.HeadDim <= len(x); h += rc.HeadDim {
		head := x[h : h+rc.HeadDim]
		for i := 0; i < half; i++ {
			x0, x1 := head[i], head[i+half]
			head[i] = x0*cos[i] - x1*sin[i]
			head[i+half] = x0*sin[i] + x1*cos[i]
		}
	}
	return nil
}
