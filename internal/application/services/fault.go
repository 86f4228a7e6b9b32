package services

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// FaultPolicy decides whether an operation fails on purpose.
type FaultPolicy interface {
	ShouldFail() bool
}

// ProbabilityFault fails with a fixed probability that can be changed at
// runtime.
type ProbabilityFault struct {
	mu   sync.Mutex
	rng  *rand.Rand
	bits atomic.Uint64
}

// NewProbabilityFault creates a policy failing with probability p. A nil rng
// uses a randomly seeded source.
func NewProbabilityFault(p float64, rng *rand.Rand) (*ProbabilityFault, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	f := &ProbabilityFault{rng: rng}
	if err := f.SetProbability(p); err != nil {
		return nil, err
	}
	return f, nil
}

// SetProbability changes the failure probability.
func (f *ProbabilityFault) SetProbability(p float64) error {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return fmt.Errorf("fault probability must be between 0 and 1, got: %v", p)
	}
	f.bits.Store(math.Float64bits(p))
	return nil
}

// Probability returns the current failure probability.
func (f *ProbabilityFault) Probability() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *ProbabilityFault) ShouldFail() bool {
	p := f.Probability()
	if p <= 0 {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < p
}

// AlwaysFail fails every call.
type AlwaysFail struct{}

func (AlwaysFail) ShouldFail() bool { return true }

// NeverFail never fails.
type NeverFail struct{}

func (NeverFail) ShouldFail() bool { return false }
