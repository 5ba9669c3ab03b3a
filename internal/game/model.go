package game

import (
	"time"

	"github.com/MJE43/pfrace/internal/oracle"
)

// Phase is the lifecycle state of a game. Phases only move forward.
type Phase string

const (
	PhaseRegistering       Phase = "REGISTERING"
	PhaseAwaitingSeed      Phase = "AWAITING_SEED"
	PhaseSeedFulfilled     Phase = "SEED_FULFILLED"
	PhaseAllCommitted      Phase = "ALL_COMMITTED"
	PhaseFunctionGenerated Phase = "FUNCTION_GENERATED"
	PhasePlaying           Phase = "PLAYING"
	PhaseAllSubmitted      Phase = "ALL_SUBMITTED"
	PhaseWinnerDeclared    Phase = "WINNER_DECLARED"
	PhaseCompleted         Phase = "COMPLETED"

	// Reserved for a challenge window. Never entered.
	PhaseChallenged Phase = "CHALLENGED"
	PhaseConfirmed  Phase = "CONFIRMED"
)

// PlayerStatus is the per-player lifecycle state.
type PlayerStatus string

const (
	StatusRegistered PlayerStatus = "REGISTERED"
	StatusCommitted  PlayerStatus = "COMMITTED"
	StatusGenerating PlayerStatus = "GENERATING"
	StatusSubmitted  PlayerStatus = "SUBMITTED"

	// Reserved. Never entered.
	StatusDisqualified PlayerStatus = "DISQUALIFIED"
	StatusTimedOut     PlayerStatus = "TIMED_OUT"
)

// canPlay reports whether a player may still vary or submit.
func (s PlayerStatus) canPlay() bool {
	return s == StatusCommitted || s == StatusGenerating
}

// Commitment binds a player to numbers they cannot reveal yet.
type Commitment struct {
	PlayerAddress        string    `json:"player_address"`
	CommitmentHash       string    `json:"commitment_hash"`
	PublicKey            string    `json:"public_key"`
	EncryptedNumbersHash string    `json:"encrypted_numbers_hash"`
	Proof                string    `json:"proof"`
	Timestamp            time.Time `json:"timestamp"`
	TxHash               string    `json:"tx_hash,omitempty"`
}

// Variation is one paid perturbation. Only opaque values are kept.
type Variation struct {
	Index           int       `json:"index"`
	EncryptedState  []string  `json:"encrypted_state"`
	EncryptedOutput string    `json:"encrypted_output"`
	Timestamp       time.Time `json:"timestamp"`
}

// FinalSubmission is a player's declared best output.
type FinalSubmission struct {
	PlayerAddress   string    `json:"player_address"`
	OutputDeclared  int       `json:"output_declared"`
	StateHash       string    `json:"state_hash"`
	VariationsCount int       `json:"variations_count"`
	Proof           string    `json:"proof"`
	Timestamp       time.Time `json:"timestamp"`
	TxHash          string    `json:"tx_hash,omitempty"`
}

// Player is a participant of exactly one game.
type Player struct {
	Address         string           `json:"address"`
	TokenBalance    int64            `json:"token_balance"`
	TokensSpent     int64            `json:"tokens_spent"`
	Status          PlayerStatus     `json:"status"`
	Seed            string           `json:"seed,omitempty"`
	Commitment      *Commitment      `json:"commitment,omitempty"`
	Variations      []Variation      `json:"variations"`
	VariationsPaid  int              `json:"variations_paid"`
	FinalSubmission *FinalSubmission `json:"final_submission,omitempty"`
	RegisteredAt    time.Time        `json:"registered_at"`
}

// Game is one round. Players are kept in registration order.
type Game struct {
	ID            string             `json:"game_id"`
	Status        Phase              `json:"status"`
	Players       []*Player          `json:"players"`
	MaxPlayers    int                `json:"max_players"`
	SeedRequestID string             `json:"seed_request_id,omitempty"`
	Randomness    *oracle.Randomness `json:"randomness,omitempty"`
	ScoringSeed   string             `json:"scoring_seed,omitempty"`
	Coefficients  []int              `json:"coefficients,omitempty"`
	Bias          int                `json:"bias"`
	Winner        string             `json:"winner,omitempty"`
	WinningOutput *int               `json:"winning_output,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

func (g *Game) player(address string) *Player {
	for _, p := range g.Players {
		if p.Address == address {
			return p
		}
	}
	return nil
}

func (g *Game) full() bool {
	return len(g.Players) >= g.MaxPlayers
}

func (g *Game) allCommitted() bool {
	for _, p := range g.Players {
		if p.Commitment == nil {
			return false
		}
	}
	return len(g.Players) > 0
}

func (g *Game) allSubmitted() bool {
	for _, p := range g.Players {
		if p.FinalSubmission == nil {
			return false
		}
	}
	return len(g.Players) > 0
}

// clone returns a deep copy safe to hand out after the game lock is released.
func (g *Game) clone() *Game {
	c := *g
	c.Players = make([]*Player, len(g.Players))
	for i, p := range g.Players {
		c.Players[i] = p.clone()
	}
	if g.Randomness != nil {
		r := *g.Randomness
		c.Randomness = &r
	}
	c.Coefficients = append([]int(nil), g.Coefficients...)
	if g.WinningOutput != nil {
		w := *g.WinningOutput
		c.WinningOutput = &w
	}
	if g.StartedAt != nil {
		t := *g.StartedAt
		c.StartedAt = &t
	}
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (p *Player) clone() *Player {
	c := *p
	if p.Commitment != nil {
		cm := *p.Commitment
		c.Commitment = &cm
	}
	if p.FinalSubmission != nil {
		fs := *p.FinalSubmission
		c.FinalSubmission = &fs
	}
	c.Variations = make([]Variation, len(p.Variations))
	for i, v := range p.Variations {
		v.EncryptedState = append([]string(nil), v.EncryptedState...)
		c.Variations[i] = v
	}
	return &c
}
