package tensor

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Greedy returns the index of the largest logit, lowest index on ties
func Greedy(logits []float32) int {
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return best
}

// Sampler draws tokens from logits. A zero temperature means greedy.
type Sampler struct {
	Temperature float32
	TopK        int     // 0 disables
	TopP        float32 // 1 disables
	rng         *rand.Rand
}

// NewSampler creates a sampler with a deterministic seeded source
func NewSampler(temperature float32, topK int, topP float32, seed int64) *Sampler {
	return &Sampler{
		Temperature: temperature,
		TopK:        topK,
		TopP:        topP,
		rng:         rand.New(rand.NewPCG(uint64(seed), 0x9E3779B97F4A7C15)),
	}
}

// Sample picks the next token. logits are not modified.
func (s *Sampler) Sample(logits []float32) int {
	if s == nil || s.Temperature <= 1e-10 {
		return Greedy(logits)
	}

	probs := make([]float32, len(logits))
	for i, l := range logits {
		probs[i] = l / s.Temperature
	}
	SoftmaxInPlace(probs)

	if s.TopK > 0 && s.TopK < len(probs) {
		topKFiltering(probs, s.TopK)
		normalize(probs)
	}
	if s.TopP > 0 && s.TopP < 1 {
		topPFiltering(probs, s.TopP)
	}

	return sampleMultinomial(probs, s.rng.Float32())
}

type indexedProb struct {
	idx  int
	prob float32
}

func sortedProbs(probs []float32) []indexedProb {
	indexed := make([]indexedProb, len(probs))
	for i, p := range probs {
		indexed[i] = indexedProb{i, p}
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})
	return indexed
}

// topKFiltering zeroes everything outside the k most likely tokens
func topKFiltering(probs []float32, k int) {
	for _, ip := range sortedProbs(probs)[k:] {
		probs[ip.idx] = 0
	}
}

// normalize rescales probs to sum to one
func normalize(probs []float32) {
	var total float32
	for _, p := range probs {
		total += p
	}
	if total <= 0 {
		return
	}
	for i := range probs {
		probs[i] /= total
	}
}

// topPFiltering keeps the smallest prefix whose mass reaches p
func topPFiltering(probs []float32, p float32) {
	var cum float32
	cut := false
	for _, ip := range sortedProbs(probs) {
		if cut {
			probs[ip.idx] = 0
			continue
		}
		cum += ip.prob
		if cum >= p {
			cut = true
		}
	}
}

// sampleMultinomial inverts the CDF at r in [0, 1), renormalizing on the fly
func sampleMultinomial(probs []float32, r float32) int {
	var total float32
	for _, p := range probs {
		total += p
	}
	if total <= 0 || math.IsNaN(float64(total)) {
		return Greedy(probs)
	}

	target := r * total
	var cum float32
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		cum += p
		last = i
		if target < cum {
			return i
		}
	}
	return last
}
