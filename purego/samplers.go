package purego

import (
	"sync"

	"baatcheet-go/baatcheet"
	"baatcheet-go/purego/tensor"
)

// samplerSet keeps one seeded sampler per live sequence so a sampled
// run is reproducible from its seed.
type samplerSet struct {
	mu       sync.Mutex
	samplers map[int64]*tensor.Sampler
}

func (s *samplerSet) get(seq *baatcheet.Sequence) *tensor.Sampler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samplers == nil {
		s.samplers = make(map[int64]*tensor.Sampler)
	}
	if sampler, ok := s.samplers[seq.SeqID]; ok {
		return sampler
	}

	p := seq.Params
	sampler := tensor.NewSampler(float32(p.Temperature), p.TopK, float32(p.TopP), p.Seed)
	s.samplers[seq.SeqID] = sampler
	return sampler
}

func (s *samplerSet) release(seqID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samplers, seqID)
}

func (s *samplerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samplers)
}
