package draw

import (
	crand "crypto/rand"
	"math/big"
	"math/rand/v2"
	"sync"
)

// Source picks a uniformly random index in [0, n). n is always positive.
type Source interface {
	IntN(n int) int
}

// SeededSource is a reproducible Source. It is safe for concurrent use.
type SeededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource returns a Source that yields the same sequence for the same seed.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

// NewCryptoSource returns the production Source.
func NewCryptoSource() CryptoSource {
	return CryptoSource{}
}

func (CryptoSource) IntN(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic("draw: crypto source unavailable: " + err.Error())
	}
	return int(v.Int64())
}
