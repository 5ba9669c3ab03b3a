package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Default derivation parameters. The byte widths used when truncating
// hashes (8 for numbers, 4 for coefficients and bias) are part of the
// cross-implementation contract and must not change.
const (
	NumberCount     = 10
	MaxNumber       = 1000
	MaxCoefficient  = 100
	MaxBias         = 1000
	ScoreModulo     = 10000
	coefficientTag  = "coefficient"
	biasTag         = "bias"
	scoringSeedTag  = "VALIDATION_FUNCTION"
	numberHashBytes = 8
	coeffHashBytes  = 4
	hexPrefix       = "0x"
)

// ErrLengthMismatch is returned by Score when numbers and coefficients differ in length.
var ErrLengthMismatch = errors.New("numbers and coefficients must have same length")

// HashHex returns "0x" followed by the hex SHA-256 of the concatenated parts.
func HashHex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "")))
	return hexPrefix + hex.EncodeToString(sum[:])
}

func digest(parts ...string) [32]byte {
	return sha256.Sum256([]byte(strings.Join(parts, "")))
}

// DeriveNumbers derives count numbers in [0, max] from seed.
// number[i] = first 8 bytes of sha256(seed || i), big-endian, mod (max+1).
// max == math.MaxUint64 returns the raw 64-bit values.
func DeriveNumbers(seed string, count int, max uint64) []uint64 {
	numbers := make([]uint64, count)
	for i := 0; i < count; i++ {
		h := digest(seed, strconv.Itoa(i))
		v := binary.BigEndian.Uint64(h[:numberHashBytes])
		if max != math.MaxUint64 {
			v %= max + 1
		}
		numbers[i] = v
	}
	return numbers
}

// DerivePlayerNumbers is DeriveNumbers with the game defaults (10 numbers in [0, 1000]).
func DerivePlayerNumbers(seed string) []int {
	raw := DeriveNumbers(seed, NumberCount, MaxNumber)
	out := make([]int, len(raw))
	for i, n := range raw {
		out[i] = int(n)
	}
	return out
}

// DeriveCoefficients derives count coefficients in [0, max).
// coeff[i] = first 4 bytes of sha256(seed || "coefficient" || i), big-endian, mod max.
// The range is empty for max == 0; every coefficient is then 0.
func DeriveCoefficients(seed string, count int, max uint32) []int {
	coefficients := make([]int, count)
	if max == 0 {
		return coefficients
	}
	for i := 0; i < count; i++ {
		h := digest(seed, coefficientTag, strconv.Itoa(i))
		coefficients[i] = int(binary.BigEndian.Uint32(h[:coeffHashBytes]) % max)
	}
	return coefficients
}

// DeriveBias derives the constant term in [0, max].
func DeriveBias(seed string, max uint32) int {
	h := digest(seed, biasTag)
	v := binary.BigEndian.Uint32(h[:coeffHashBytes])
	if max != math.MaxUint32 {
		v %= max + 1
	}
	return int(v)
}

// DeriveScoringSeed binds the scoring function to the game seed and the
// second at which it was generated.
func DeriveScoringSeed(gameSeed string, unixSeconds int64) string {
	return HashHex(gameSeed, strconv.FormatInt(unixSeconds, 10), scoringSeedTag)
}

// ScoringFunction holds the derived coefficients and bias of a game.
type ScoringFunction struct {
	Seed         string `json:"seed"`
	Coefficients []int  `json:"coefficients"`
	Bias         int    `json:"bias"`
}

// NewScoringFunction derives coefficients and bias from a scoring seed using the defaults.
func NewScoringFunction(scoringSeed string) ScoringFunction {
	return ScoringFunction{
		Seed:         scoringSeed,
		Coefficients: DeriveCoefficients(scoringSeed, NumberCount, MaxCoefficient),
		Bias:         DeriveBias(scoringSeed, MaxBias),
	}
}

// Score evaluates the function against a number vector.
func (f ScoringFunction) Score(numbers []int) (int, error) {
	return Score(numbers, f.Coefficients, f.Bias)
}

// Score computes (bias + sum(numbers[i]*coefficients[i])) mod 10000.
// The result is always in [0, 9999] for non-negative inputs.
func Score(numbers, coefficients []int, bias int) (int, error) {
	if len(numbers) != len(coefficients) {
		return 0, ErrLengthMismatch
	}

	total := int64(bias)
	for i, n := range numbers {
		total += int64(n) * int64(coefficients[i])
	}

	result := total % ScoreModulo
	if result < 0 {
		result += ScoreModulo
	}
	return int(result), nil
}
