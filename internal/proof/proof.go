// Package proof defines the attestation gate consulted before commitments
// and final submissions are accepted.
package proof

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/MJE43/pfrace/internal/engine"
)

// CommitmentClaim is what the gate sees of a commitment.
type CommitmentClaim struct {
	PlayerAddress  string
	CommitmentHash string
	PublicKey      string
	Proof          string
}

// FinalClaim is what the gate sees of a final submission.
type FinalClaim struct {
	PlayerAddress   string
	OutputDeclared  int
	StateHash       string
	VariationsCount int
	Proof           string
}

// Gate accepts or rejects attestations. Only the boolean result is part of
// the contract; implementations are free to verify real proofs.
type Gate interface {
	VerifyCommitment(c CommitmentClaim) bool
	VerifyFinal(f FinalClaim) bool
}

// Simulator checks proof format only.
type Simulator struct{}

// VerifyCommitment accepts 0x-prefixed proofs over non-trivial hashes and keys.
func (Simulator) VerifyCommitment(c CommitmentClaim) bool {
	return strings.HasPrefix(c.Proof, "0x") &&
		len(c.CommitmentHash) > 10 &&
		len(c.PublicKey) > 10
}

// VerifyFinal accepts 0x-prefixed proofs with in-range claims.
func (Simulator) VerifyFinal(f FinalClaim) bool {
	return strings.HasPrefix(f.Proof, "0x") &&
		f.OutputDeclared >= 0 && f.OutputDeclared <= engine.ScoreModulo &&
		f.VariationsCount >= 0 && f.VariationsCount <= engine.MaxVariations
}

// GateFunc adapts a pair of functions to Gate.
type GateFunc struct {
	Commitment func(CommitmentClaim) bool
	Final      func(FinalClaim) bool
}

func (g GateFunc) VerifyCommitment(c CommitmentClaim) bool {
	return g.Commitment == nil || g.Commitment(c)
}

func (g GateFunc) VerifyFinal(f FinalClaim) bool {
	return g.Final == nil || g.Final(f)
}

// ProveCommitment produces a simulated commitment proof for a client.
func ProveCommitment(playerSeed string, numberCount int, publicKey string) (string, error) {
	salt, err := salt()
	if err != nil {
		return "", err
	}
	return engine.HashHex("zk_commitment:", playerSeed, ":", strconv.Itoa(numberCount), ":", publicKey, ":", salt), nil
}

// ProveFinal produces a simulated final-submission proof for a client.
func ProveFinal(playerSeed, scoringSeed string, outputDeclared, variationsCount int) (string, error) {
	salt, err := salt()
	if err != nil {
		return "", err
	}
	return engine.HashHex("zk_final:", playerSeed, ":", scoringSeed, ":",
		strconv.Itoa(outputDeclared), ":", strconv.Itoa(variationsCount), ":", salt), nil
}

func salt() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("proof: salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
