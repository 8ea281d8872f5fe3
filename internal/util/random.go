package util

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is a seedable randomness source safe for concurrent use. Deception
// components take it as a dependency instead of reaching for the global
// generator, so tests can pin the seed and assert exact outcomes.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a source seeded from the wall clock.
func NewRand() *Rand {
	return NewSeededRand(time.Now().UnixNano())
}

// NewSeededRand returns a source with a fixed seed.
func NewSeededRand(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

// Intn returns a uniform value in [0, n).
func (s *Rand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}

// Between returns a uniform value in [min, max].
func (s *Rand) Between(min, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.r.Intn(max-min+1)
}

// Float64 returns a uniform value in [0.0, 1.0).
func (s *Rand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Pick returns a uniformly chosen element of choices.
func (s *Rand) Pick(choices []string) string {
	return choices[s.Intn(len(choices))]
}
