package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Variation bounds.
const (
	MaxDelta      = 20
	MaxVariations = 9
)

// DeltaSource produces per-coordinate perturbations in [-MaxDelta, MaxDelta].
type DeltaSource interface {
	Deltas(count int) ([]int, error)
}

// CryptoDeltas draws deltas uniformly with crypto/rand.
type CryptoDeltas struct{}

// Deltas returns count independent uniform integers in [-20, 20].
func (CryptoDeltas) Deltas(count int) ([]int, error) {
	span := big.NewInt(2*MaxDelta + 1)
	deltas := make([]int, count)
	for i := range deltas {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return nil, fmt.Errorf("draw delta %d: %w", i, err)
		}
		deltas[i] = int(n.Int64()) - MaxDelta
	}
	return deltas, nil
}

// FixedDeltas replays a fixed delta vector. Useful for replays and tests.
type FixedDeltas []int

// Deltas returns a copy of the fixed vector, or an error if count differs.
func (f FixedDeltas) Deltas(count int) ([]int, error) {
	if len(f) != count {
		return nil, fmt.Errorf("fixed deltas: have %d, want %d", len(f), count)
	}
	out := make([]int, count)
	copy(out, f)
	return out, nil
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyDeltas returns numbers[i]+deltas[i] clamped to [0, MaxNumber].
func ApplyDeltas(numbers, deltas []int) ([]int, error) {
	if len(numbers) != len(deltas) {
		return nil, ErrLengthMismatch
	}
	out := make([]int, len(numbers))
	for i, n := range numbers {
		out[i] = Clamp(n+deltas[i], 0, MaxNumber)
	}
	return out, nil
}

// ValidateNumbers checks a player vector has NumberCount entries in [0, MaxNumber].
func ValidateNumbers(numbers []int) error {
	if len(numbers) != NumberCount {
		return fmt.Errorf("expected %d numbers, got %d", NumberCount, len(numbers))
	}
	for i, n := range numbers {
		if n < 0 || n > MaxNumber {
			return fmt.Errorf("number %d out of range [0, %d]: %d", i, MaxNumber, n)
		}
	}
	return nil
}

// VariationResult is the outcome of one perturbation step.
type VariationResult struct {
	NewNumbers      []int    `json:"new_numbers"`
	Deltas          []int    `json:"deltas"`
	Output          int      `json:"output"`
	EncryptedState  []string `json:"encrypted_state"`
	EncryptedOutput string   `json:"encrypted_output"`
}

// Vary perturbs numbers with deltas from src and scores the result.
func Vary(f ScoringFunction, numbers []int, src DeltaSource) (VariationResult, error) {
	if err := ValidateNumbers(numbers); err != nil {
		return VariationResult{}, err
	}
	deltas, err := src.Deltas(len(numbers))
	if err != nil {
		return VariationResult{}, err
	}
	for i, d := range deltas {
		if d < -MaxDelta || d > MaxDelta {
			return VariationResult{}, fmt.Errorf("delta %d out of range: %d", i, d)
		}
	}
	next, err := ApplyDeltas(numbers, deltas)
	if err != nil {
		return VariationResult{}, err
	}
	output, err := f.Score(next)
	if err != nil {
		return VariationResult{}, err
	}

	state := make([]string, len(next))
	for i, n := range next {
		state[i] = fmt.Sprintf("enc_%d_%s", n, opaqueTag())
	}
	return VariationResult{
		NewNumbers:      next,
		Deltas:          deltas,
		Output:          output,
		EncryptedState:  state,
		EncryptedOutput: fmt.Sprintf("enc_output_%d_%s", output, opaqueTag()),
	}, nil
}

// opaqueTag returns 8 random hex characters.
func opaqueTag() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
