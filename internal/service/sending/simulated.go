package sending

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// DefaultSuccessRate is the share of simulated messages that succeed.
const DefaultSuccessRate = 0.8

// ErrSimulatedFailure is the error carried by simulated failures.
var ErrSimulatedFailure = errors.New("simulated delivery failure")

// Simulated decides each delivery with a weighted coin flip. It stands in
// for a real channel provider during development and tests.
type Simulated struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

// NewSimulated creates a simulated vendor. A seed of 0 picks a random seed.
func NewSimulated(successRate float64, seed int64) *Simulated {
	if successRate < 0 || successRate > 1 {
		successRate = DefaultSuccessRate
	}
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Simulated{rng: rand.New(rand.NewSource(seed)), successRate: successRate}
}

// Send reports SENT with probability successRate.
func (s *Simulated) Send(ctx context.Context, to Recipient, message string) Outcome {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < s.successRate {
		return Sent("sim-" + uuid.NewString())
	}
	return Failed(ErrSimulatedFailure)
}

// Name returns "simulated".
func (s *Simulated) Name() string { return "simulated" }
