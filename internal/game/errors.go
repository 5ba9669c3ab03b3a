package game

import (
	"errors"

	"github.com/MJE43/pfrace/internal/ledger"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is;
// the engine wraps them with the failing detail.
var (
	ErrNotFound           = errors.New("not found")
	ErrPhaseViolation     = errors.New("operation not allowed in current phase")
	ErrAlreadyRegistered  = errors.New("player already registered")
	ErrAlreadyCommitted   = errors.New("commitment already submitted")
	ErrAlreadySubmitted   = errors.New("final choice already submitted")
	ErrCapacityExceeded   = errors.New("game is full")
	ErrResourceExhausted  = errors.New("variation budget exhausted")
	ErrInsufficientFunds  = ledger.ErrInsufficientFunds
	ErrValidation         = errors.New("validation failed")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSeedNotReady       = errors.New("player seed not ready")
	ErrInvalidPlayerState = errors.New("invalid player state")
	ErrNoWinner           = errors.New("no winner determined")
)
