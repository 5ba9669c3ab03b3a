package api

import (
	"github.com/MJE43/pfrace/internal/game"
	"github.com/MJE43/pfrace/internal/ledger"
	"github.com/MJE43/pfrace/internal/store"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types
const (
	// Input errors
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeValidation    = "validation_error"

	// Protocol errors
	ErrTypeNotFound           = "not_found"
	ErrTypePhaseViolation     = "phase_violation"
	ErrTypeAlreadyExists      = "already_exists"
	ErrTypeCapacityExceeded   = "capacity_exceeded"
	ErrTypeSeedNotReady       = "seed_not_ready"
	ErrTypeInvalidPlayerState = "invalid_player_state"
	ErrTypeNoWinner           = "no_winner"

	// Token errors
	ErrTypeInsufficientFunds = "insufficient_funds"
	ErrTypeResourceExhausted = "resource_exhausted"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory groups error types for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryProtocol   ErrorCategory = "protocol"
	CategoryTokens     ErrorCategory = "tokens"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidParams, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeNotFound, ErrTypePhaseViolation, ErrTypeAlreadyExists, ErrTypeCapacityExceeded,
		ErrTypeSeedNotReady, ErrTypeInvalidPlayerState, ErrTypeNoWinner:
		return CategoryProtocol
	case ErrTypeInsufficientFunds, ErrTypeResourceExhausted:
		return CategoryTokens
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
	GoVersion     string `json:"go_version"`
	Modified      bool   `json:"modified,omitempty"`
}

// CreateGameRequest creates a game. MaxPlayers defaults to 3.
type CreateGameRequest struct {
	MaxPlayers *int `json:"max_players"`
}

// GamesResponse lists games
type GamesResponse struct {
	Games         []*game.Game `json:"games"`
	EngineVersion string       `json:"engine_version"`
}

// RegisterRequest registers a player
type RegisterRequest struct {
	PlayerAddress string `json:"player_address"`
}

// VariationRequest pays for a variation
type VariationRequest struct {
	PlayerAddress string `json:"player_address"`
}

// ComputeVariationRequest computes a paid variation
type ComputeVariationRequest struct {
	PlayerAddress  string `json:"player_address"`
	CurrentNumbers []int  `json:"current_numbers"`
}

// TransactionsResponse is one page of a game's audit log
type TransactionsResponse struct {
	GameID string `json:"game_id"`
	*store.TxPage
}

// TokenBalanceResponse reports a ledger balance
type TokenBalanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// AccountsResponse lists ledger accounts
type AccountsResponse struct {
	Accounts []ledger.Account `json:"accounts"`
	Total    int              `json:"total"`
}

// DeriveNumbersRequest derives a player's numbers from their seed
type DeriveNumbersRequest struct {
	Seed string `json:"seed"`
}

// DeriveNumbersResponse carries derived numbers
type DeriveNumbersResponse struct {
	Numbers []int `json:"numbers"`
}

// KeypairResponse carries a PEM encoded RSA keypair
type KeypairResponse struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// CommitmentProofRequest asks for a simulated commitment proof
type CommitmentProofRequest struct {
	PlayerSeed string `json:"player_seed"`
	PublicKey  string `json:"public_key"`
}

// FinalProofRequest asks for a simulated final-submission proof
type FinalProofRequest struct {
	PlayerSeed      string `json:"player_seed"`
	ScoringSeed     string `json:"scoring_seed"`
	OutputDeclared  int    `json:"output_declared"`
	VariationsCount int    `json:"variations_count"`
}

// ProofResponse carries a proof
type ProofResponse struct {
	Proof string `json:"proof"`
}
