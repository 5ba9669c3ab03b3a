// Package oracle models the verifiable randomness source that seeds a game.
package oracle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/MJE43/pfrace/internal/engine"
)

// ErrUnknownRequest is returned when fulfilling a request that was never
// issued or has already been fulfilled.
var ErrUnknownRequest = errors.New("unknown randomness request")

// Randomness is a fulfilled seed together with its attestation.
type Randomness struct {
	Seed        string    `json:"seed"`
	Proof       string    `json:"proof"`
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber uint64    `json:"block_number"`
}

// Oracle issues randomness requests and fulfills them. Fulfillment may
// arrive after the requesting call has returned.
type Oracle interface {
	Request(ctx context.Context, gameID string) (string, error)
	Fulfill(ctx context.Context, requestID string) (Randomness, error)
	DerivePlayerSeed(seed, address, gameID string) string
}

// DerivePlayerSeed returns sha256(seed || address || gameID) as 0x-hex.
func DerivePlayerSeed(seed, address, gameID string) string {
	return engine.HashHex(seed, address, gameID)
}

// Simulator is an in-process stand-in for a VRF coordinator. Seeds are
// uniformly random; proofs are keyed hashes with no verifiable structure.
type Simulator struct {
	key     string
	counter atomic.Uint64
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]string // request id -> game id
}

// NewSimulator creates a simulator with a fresh private key.
func NewSimulator() (*Simulator, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("oracle: generate key: %w", err)
	}
	return &Simulator{
		key:     hex.EncodeToString(key),
		now:     time.Now,
		pending: make(map[string]string),
	}, nil
}

// Request registers a randomness request for gameID.
func (s *Simulator) Request(ctx context.Context, gameID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("vrf_request_%s_%d", gameID, s.counter.Inc())

	s.mu.Lock()
	s.pending[id] = gameID
	s.mu.Unlock()
	return id, nil
}

// Fulfill produces the seed for a pending request. Each request can be fulfilled once.
func (s *Simulator) Fulfill(ctx context.Context, requestID string) (Randomness, error) {
	if err := ctx.Err(); err != nil {
		return Randomness{}, err
	}

	s.mu.Lock()
	_, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if !ok {
		return Randomness{}, fmt.Errorf("oracle: %s: %w", requestID, ErrUnknownRequest)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Randomness{}, fmt.Errorf("oracle: draw seed: %w", err)
	}
	seed := "0x" + hex.EncodeToString(raw)
	now := s.now()

	return Randomness{
		Seed:      seed,
		Proof:     engine.HashHex(s.key, requestID, seed, now.UTC().Format(time.RFC3339Nano)),
		RequestID: requestID,
		Timestamp: now,
	}, nil
}

// DerivePlayerSeed implements Oracle.
func (s *Simulator) DerivePlayerSeed(seed, address, gameID string) string {
	return DerivePlayerSeed(seed, address, gameID)
}

// Pending returns the number of unfulfilled requests.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// VerifyProof checks the shape of a seed/proof pair.
func VerifyProof(seed, proof string) bool {
	return strings.HasPrefix(seed, "0x") && strings.HasPrefix(proof, "0x") && len(proof) == 66
}
