// Package game implements the round protocol: registration, seeded
// commitments, paid variations, proof-gated final submissions and
// settlement. Every mutation of a game happens under that game's lock.
package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/pfrace/internal/chain"
	"github.com/MJE43/pfrace/internal/engine"
	"github.com/MJE43/pfrace/internal/ledger"
	"github.com/MJE43/pfrace/internal/oracle"
	"github.com/MJE43/pfrace/internal/proof"
)

// Token economics.
const (
	InitialGrant  int64 = 10
	VariationCost int64 = 1
	FinalCost     int64 = 1
	WinnerReward  int64 = 100
)

// SeedMode selects how oracle fulfillment is delivered.
type SeedMode string

const (
	// SeedSync fulfills inline with the registration that fills the game.
	SeedSync SeedMode = "sync"
	// SeedAsync fulfills on a background goroutine.
	SeedAsync SeedMode = "async"
)

// Recorder writes an audit entry for an operation.
type Recorder interface {
	Record(ctx context.Context, call chain.Call) (chain.Receipt, error)
}

// Event is a lifecycle notification for subscribers of a game.
type Event struct {
	Type      string    `json:"type"`
	GameID    string    `json:"game_id"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types.
const (
	EventGameCreated       = "game_created"
	EventPlayerRegistered  = "player_registered"
	EventSeedFulfilled     = "seed_fulfilled"
	EventCommitment        = "commitment_submitted"
	EventFunctionGenerated = "function_generated"
	EventVariation         = "variation_computed"
	EventFinalSubmitted    = "final_submitted"
	EventWinnerDeclared    = "winner_declared"
	EventGameCompleted     = "game_completed"
)

// Publisher fans events out to subscribers. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Deps are the collaborators of an Engine. Ledger and Oracle are required.
type Deps struct {
	Ledger      *ledger.Ledger
	Oracle      oracle.Oracle
	Gate        proof.Gate
	Recorder    Recorder
	Publisher   Publisher
	Deltas      engine.DeltaSource
	Clock       func() time.Time
	Logger      *log.Logger
	SeedMode    SeedMode
	SeedTimeout time.Duration
}

// Engine owns all phase transitions.
type Engine struct {
	deps     Deps
	registry *Registry
	logger   *log.Logger
	wg       sync.WaitGroup
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, chain.Call) (chain.Receipt, error) {
	return chain.Receipt{}, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// NewEngine validates deps and fills defaults.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("%w: ledger is required", ErrInvalidArgument)
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("%w: oracle is required", ErrInvalidArgument)
	}
	if deps.Gate == nil {
		deps.Gate = proof.Simulator{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Deltas == nil {
		deps.Deltas = engine.CryptoDeltas{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stdout, "[GAME] ", log.LstdFlags)
	}
	switch deps.SeedMode {
	case "":
		deps.SeedMode = SeedSync
	case SeedSync, SeedAsync:
	default:
		return nil, fmt.Errorf("%w: unknown seed mode %q", ErrInvalidArgument, deps.SeedMode)
	}
	if deps.SeedTimeout <= 0 {
		deps.SeedTimeout = 30 * time.Second
	}

	return &Engine{deps: deps, registry: NewRegistry(), logger: deps.Logger}, nil
}

// Registry exposes the game registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Wait blocks until background seed deliveries have finished.
func (e *Engine) Wait() { e.wg.Wait() }

// record writes an audit entry. Failures are logged and never fail the caller.
func (e *Engine) record(ctx context.Context, call chain.Call) chain.Receipt {
	receipt, err := e.deps.Recorder.Record(ctx, call)
	if err != nil {
		e.logger.Printf("audit_failed function=%s game_id=%s error=%v", call.Function, call.GameID, err)
	}
	return receipt
}

func (e *Engine) publish(gameID, typ string, data any) {
	e.deps.Publisher.Publish(Event{Type: typ, GameID: gameID, Data: data, Timestamp: e.deps.Clock()})
}

func (e *Engine) lookup(gameID string) (*entry, error) {
	ent, ok := e.registry.get(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}
	return ent, nil
}

// snapshot copies g and refreshes balances from the ledger.
func (e *Engine) snapshot(g *Game) *Game {
	c := g.clone()
	for _, p := range c.Players {
		p.TokenBalance = e.deps.Ledger.Balance(p.Address)
	}
	return c
}

func newGameID() string {
	return "game_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// CreateGame starts a new game in REGISTERING and makes it active.
func (e *Engine) CreateGame(ctx context.Context, maxPlayers int) (*Game, error) {
	if maxPlayers < 1 {
		return nil, fmt.Errorf("%w: max_players must be at least 1, got %d", ErrInvalidArgument, maxPlayers)
	}

	g := &Game{
		ID:         newGameID(),
		Status:     PhaseRegistering,
		MaxPlayers: maxPlayers,
		CreatedAt:  e.deps.Clock(),
	}
	e.record(ctx, chain.Call{
		GameID:   g.ID,
		From:     chain.AddrGameFactory,
		Function: chain.FnCreateGame,
		Params:   map[string]any{"max_players": maxPlayers},
	})

	ent := e.registry.add(g)
	ent.mu.Lock()
	out := e.snapshot(g)
	ent.mu.Unlock()

	e.logger.Printf("game_created game_id=%s max_players=%d", g.ID, maxPlayers)
	e.publish(g.ID, EventGameCreated, out)
	return out, nil
}

// GetGame returns a snapshot of a game.
func (e *Engine) GetGame(gameID string) (*Game, error) {
	ent, err := e.lookup(gameID)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return e.snapshot(ent.game), nil
}

// ActiveGame returns the most recently created game.
func (e *Engine) ActiveGame() (*Game, error) {
	id, ok := e.registry.Active()
	if !ok {
		return nil, fmt.Errorf("%w: no active game", ErrNotFound)
	}
	return e.GetGame(id)
}

// ListGames returns snapshots of all games in creation order.
func (e *Engine) ListGames() []*Game {
	ids := e.registry.IDs()
	games := make([]*Game, 0, len(ids))
	for _, id := range ids {
		g, err := e.GetGame(id)
		if err != nil {
			continue
		}
		games = append(games, g)
	}
	return games
}

// TokenBalance returns the ledger balance of address.
func (e *Engine) TokenBalance(address string) int64 {
	return e.deps.Ledger.Balance(address)
}

// Accounts lists every funded address, sorted.
func (e *Engine) Accounts() []ledger.Account {
	return e.deps.Ledger.Snapshot()
}

// RegisterPlayer adds address to a game. The registration that fills the
// game triggers the seed request.
func (e *Engine) RegisterPlayer(ctx context.Context, gameID, address string) (*Player, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: player address is required", ErrInvalidArgument)
	}
	ent, err := e.lookup(gameID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	g := ent.game
	switch {
	case g.full():
		err := fmt.Errorf("%w: %d/%d players", ErrCapacityExceeded, len(g.Players), g.MaxPlayers)
		ent.mu.Unlock()
		return nil, err
	case g.Status != PhaseRegistering:
		err := fmt.Errorf("%w: game is %s", ErrPhaseViolation, g.Status)
		ent.mu.Unlock()
		return nil, err
	case g.player(address) != nil:
		ent.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, address)
	}

	if _, err := e.deps.Ledger.MintIfNew(address, InitialGrant); err != nil {
		ent.mu.Unlock()
		return nil, err
	}
	balance := e.deps.Ledger.Balance(address)
	if balance < 1 {
		ent.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has no tokens", ErrInsufficientFunds, address)
	}

	e.record(ctx, chain.Call{GameID: gameID, From: address, To: chain.AddrGameContract, Function: chain.FnRegister})

	p := &Player{
		Address:      address,
		TokenBalance: balance,
		Status:       StatusRegistered,
		RegisteredAt: e.deps.Clock(),
	}
	g.Players = append(g.Players, p)
	filled := g.full()
	if filled {
		g.Status = PhaseAwaitingSeed
	}
	out := p.clone()
	count, limit := len(g.Players), g.MaxPlayers
	ent.mu.Unlock()

	e.logger.Printf("player_registered game_id=%s address=%s players=%d/%d", gameID, address, count, limit)
	e.publish(gameID, EventPlayerRegistered, out)

	if filled {
		e.dispatchSeed(gameID)
	}
	return out, nil
}

// dispatchSeed delivers the seed according to the configured mode.
func (e *Engine) dispatchSeed(gameID string) {
	if e.deps.SeedMode == SeedSync {
		ctx, cancel := context.WithTimeout(context.Background(), e.deps.SeedTimeout)
		defer cancel()
		if err := e.requestSeed(ctx, gameID); err != nil {
			e.logger.Printf("seed_failed game_id=%s error=%v", gameID, err)
		}
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.deps.SeedTimeout)
		defer cancel()
		if err := e.requestSeed(ctx, gameID); err != nil {
			e.logger.Printf("seed_failed game_id=%s error=%v", gameID, err)
		}
	}()
}

// RetrySeed re-issues the oracle request of a game stuck in AWAITING_SEED.
func (e *Engine) RetrySeed(ctx context.Context, gameID string) error {
	ent, err := e.lookup(gameID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	status := ent.game.Status
	ent.mu.Unlock()
	if status != PhaseAwaitingSeed {
		return fmt.Errorf("%w: game is %s", ErrPhaseViolation, status)
	}
	return e.requestSeed(ctx, gameID)
}

func (e *Engine) requestSeed(ctx context.Context, gameID string) error {
	ent, err := e.lookup(gameID)
	if err != nil {
		return err
	}

	requestID, err := e.deps.Oracle.Request(ctx, gameID)
	if err != nil {
		return fmt.Errorf("%w: oracle request: %v", ErrValidation, err)
	}
	e.record(ctx, chain.Call{
		GameID:   gameID,
		From:     chain.AddrGameContract,
		To:       chain.AddrVRF,
		Function: chain.FnRequestRandomness,
		Params:   map[string]any{"request_id": requestID},
	})

	ent.mu.Lock()
	if ent.game.Status != PhaseAwaitingSeed {
		ent.mu.Unlock()
		return nil
	}
	ent.game.SeedRequestID = requestID
	ent.mu.Unlock()

	r, err := e.deps.Oracle.Fulfill(ctx, requestID)
	if err != nil {
		return fmt.Errorf("%w: oracle fulfill: %v", ErrValidation, err)
	}
	return e.ApplySeed(ctx, gameID, r)
}

// ApplySeed stores fulfilled randomness and derives every player's seed.
// Stale or duplicate fulfillments are ignored.
func (e *Engine) ApplySeed(ctx context.Context, gameID string, r oracle.Randomness) error {
	if !oracle.VerifyProof(r.Seed, r.Proof) {
		return fmt.Errorf("%w: randomness proof rejected", ErrValidation)
	}
	ent, err := e.lookup(gameID)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	g := ent.game
	if g.Status != PhaseAwaitingSeed || g.SeedRequestID != r.RequestID {
		status := g.Status
		ent.mu.Unlock()
		e.logger.Printf("seed_ignored game_id=%s request_id=%s status=%s", gameID, r.RequestID, status)
		return nil
	}

	receipt := e.record(ctx, chain.Call{
		GameID:   gameID,
		From:     chain.AddrVRF,
		To:       chain.AddrGameContract,
		Function: chain.FnFulfillRandomness,
		Params:   map[string]any{"request_id": r.RequestID},
	})
	r.BlockNumber = receipt.BlockNumber
	g.Randomness = &r
	for _, p := range g.Players {
		p.Seed = e.deps.Oracle.DerivePlayerSeed(r.Seed, p.Address, gameID)
	}
	started := e.deps.Clock()
	g.StartedAt = &started
	g.Status = PhaseSeedFulfilled
	ent.mu.Unlock()

	e.logger.Printf("seed_fulfilled game_id=%s request_id=%s", gameID, r.RequestID)
	e.publish(gameID, EventSeedFulfilled, map[string]any{"request_id": r.RequestID, "block_number": r.BlockNumber})
	return nil
}

// CommitmentRequest carries a player's commitment.
type CommitmentRequest struct {
	PlayerAddress    string   `json:"player_address"`
	PublicKey        string   `json:"public_key"`
	EncryptedNumbers []string `json:"encrypted_numbers"`
	Proof            string   `json:"proof"`
}

// SubmitCommitment stores a write-once commitment. The last commitment
// generates the scoring function and opens play.
func (e *Engine) SubmitCommitment(ctx context.Context, gameID string, req CommitmentRequest) (*Commitment, error) {
	ent, err := e.lookup(gameID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	g := ent.game

	if g.Status != PhaseSeedFulfilled && g.Status != PhaseAllCommitted {
		return nil, fmt.Errorf("%w: game is %s", ErrPhaseViolation, g.Status)
	}
	p := g.player(req.PlayerAddress)
	if p == nil {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, req.PlayerAddress)
	}
	if p.Commitment != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCommitted, req.PlayerAddress)
	}
	if p.Seed == "" {
		return nil, fmt.Errorf("%w: %s", ErrSeedNotReady, req.PlayerAddress)
	}
	if req.PublicKey == "" {
		return nil, fmt.Errorf("%w: public key is required", ErrValidation)
	}
	if len(req.EncryptedNumbers) != engine.NumberCount {
		return nil, fmt.Errorf("%w: expected %d encrypted numbers, got %d", ErrValidation, engine.NumberCount, len(req.EncryptedNumbers))
	}

	hash, err := engine.Commit(req.PublicKey, req.EncryptedNumbers)
	if err != nil {
		return nil, err
	}
	claim := proof.CommitmentClaim{
		PlayerAddress:  p.Address,
		CommitmentHash: hash,
		PublicKey:      req.PublicKey,
		Proof:          req.Proof,
	}
	if !e.deps.Gate.VerifyCommitment(claim) {
		return nil, fmt.Errorf("%w: commitment proof rejected", ErrValidation)
	}

	receipt := e.record(ctx, chain.Call{
		GameID:   gameID,
		From:     p.Address,
		To:       chain.AddrGameContract,
		Function: chain.FnSubmitCommitment,
		Params:   map[string]any{"commitment_hash": hash},
	})
	c := &Commitment{
		PlayerAddress:        p.Address,
		CommitmentHash:       hash,
		PublicKey:            req.PublicKey,
		EncryptedNumbersHash: engine.HashEncryptedNumbers(req.EncryptedNumbers),
		Proof:                req.Proof,
		Timestamp:            e.deps.Clock(),
		TxHash:               receipt.TxHash,
	}
	p.Commitment = c
	p.Status = StatusCommitted
	e.logger.Printf("commitment_submitted game_id=%s address=%s", gameID, p.Address)
	e.publish(gameID, EventCommitment, map[string]any{"player_address": p.Address, "commitment_hash": hash})

	if g.allCommitted() {
		g.Status = PhaseAllCommitted
		e.generateFunction(ctx, g)
	}

	out := *c
	return &out, nil
}

// generateFunction derives the scoring function once. Caller holds the game lock.
func (e *Engine) generateFunction(ctx context.Context, g *Game) {
	if g.ScoringSeed != "" || g.Randomness == nil {
		return
	}
	seed := engine.DeriveScoringSeed(g.Randomness.Seed, e.deps.Clock().Unix())
	f := engine.NewScoringFunction(seed)
	g.ScoringSeed = f.Seed
	g.Coefficients = f.Coefficients
	g.Bias = f.Bias
	g.Status = PhaseFunctionGenerated
	e.record(ctx, chain.Call{GameID: g.ID, From: chain.AddrGameContract, Function: chain.FnGenerateFunction})
	g.Status = PhasePlaying

	e.logger.Printf("function_generated game_id=%s", g.ID)
	e.publish(g.ID, EventFunctionGenerated, map[string]any{"scoring_seed": f.Seed})
}

func scoringFunction(g *Game) engine.ScoringFunction {
	return engine.ScoringFunction{Seed: g.ScoringSeed, Coefficients: g.Coefficients, Bias: g.Bias}
}

// VariationTicket is returned when a variation has been paid for.
type VariationTicket struct {
	VariationIndex  int   `json:"variation_index"`
	TokensRemaining int64 `json:"tokens_remaining"`
}

// RequestVariation burns one token for the next variation slot.
func (e *Engine) RequestVariation(ctx context.Context, gameID, address string) (*VariationTicket, error) {
	ent, err := e.lookup(gameID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	g := ent.game

	if g.Status != PhasePlaying {
		return nil, fmt.Errorf("%w: game is %s", ErrPhaseViolation, g.Status)
	}
	p := g.player(address)
	if p == nil {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, address)
	}
	if !p.Status.canPlay() {
		return nil, fmt.Errorf("%w: player is %s", ErrInvalidPlayerState, p.Status)
	}
	if p.VariationsPaid >= engine.MaxVariations {
		return nil, fmt.Errorf("%w: %d of %d used", ErrResourceExhausted, p.VariationsPaid, engine.MaxVariations)
	}

	remaining, err := e.deps.Ledger.Burn(address, VariationCost)
	if err != nil {
		return nil, fmt.Errorf("variation: %w", err)
	}

	index := p.VariationsPaid
	e.record(ctx, chain.Call{
		GameID:   gameID,
		From:     address,
		To:       chain.AddrGameContract,
		Function: chain.FnRequestVariation,
		Params:   map[string]any{"variation_index": index},
	})
	p.VariationsPaid++
	p.TokensSpent += VariationCost
	p.TokenBalance = remaining
	p.Status = StatusGenerating

	return &VariationTicket{VariationIndex: index, TokensRemaining: remaining}, nil
}

// VariationOutcome is the result of a computed variation.
type VariationOutcome struct {
	VariationIndex  int      `json:"variation_index"`
	Output          int      `json:"output"`
	EncryptedState  []string `json:"encrypted_state"`
	EncryptedOutput string   `json:"encrypted_output"`
	NewNumbers      []int    `json:"new_numbers"`
	Deltas          []int    `json:"deltas"`
	TokensRemaining int64    `json:"tokens_remaining"`
}

// ComputeVariation perturbs numbers for a paid variation slot and scores them.
func (e *Engine) ComputeVariation(ctx context.Context, gameID, address string, numbers []int) (*VariationOutcome, error) {
	ent, err := e.lookup(gameID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	g := ent.game

	if g.ScoringSeed == "" {
		return nil, fmt.Errorf("%w: scoring function not generated", ErrValidation)
	}
	if g.Status != PhasePlaying {
		return nil, fmt.Errorf("%w: game is %s", ErrPhaseViolation, g.Status)
	}
	p := g.player(address)
	if p == nil {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, address)
	}
	if !p.Status.canPlay() {
		return nil, fmt.Errorf("%w: player is %s", ErrInvalidPlayerState, p.Status)
	}
	if len(p.Variations) >= p.VariationsPaid {
		return nil, fmt.Errorf("%w: no paid variation pending", ErrValidation)
	}

	res, err := engine.Vary(scoringFunction(g), numbers, e.deps.Deltas)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	v := Variation{
		Index:           len(p.Variations),
		EncryptedState:  res.EncryptedState,
		EncryptedOutput: res.EncryptedOutput,
		Timestamp:       e.deps.Clock(),
	}
	p.Variations = append(p.Variations, v)

	e.publish(gameID, EventVariation, map[string]any{"player_address": address, "variation_index": v.Index})
	return &VariationOutcome{
		VariationIndex:  v.Index,
		Output:          res.Output,
		EncryptedState:  append([]string(nil), res.EncryptedState...),
		EncryptedOutput: res.EncryptedOutput,
		NewNumbers:      res.NewNumbers,
		Deltas:          res.Deltas,
		TokensRemaining: e.deps.Ledger.Balance(address),
	}, nil
}

// FinalRequest carries a player's final choice.
type FinalRequest struct {
	PlayerAddress   string `json:"player_address"`
	OutputDeclared  int    `json:"output_declared"`
	StateHash       string `json:"state_hash"`
	VariationsCount int    `json:"variations_count"`
	Proof           string `json:"proof"`
}

// SubmitFinalChoice stores a player's declared output. The last submission
// settles the game.
func (e *Engine) SubmitFinalChoice(ctx context.Context, gameID string, req FinalRequest) (*FinalSubmission, error) {
	ent, err := e.lookup(gameID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	g := ent.game

	if g.Status != PhasePlaying {
		return nil, fmt.Errorf("%w: game is %s", ErrPhaseViolation, g.Status)
	}
	p := g.player(req.PlayerAddress)
	if p == nil {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, req.PlayerAddress)
	}
	if p.FinalSubmission != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubmitted, req.PlayerAddress)
	}
	if !p.Status.canPlay() {
		return nil, fmt.Errorf("%w: player is %s", ErrInvalidPlayerState, p.Status)
	}
	if req.OutputDeclared < 0 || req.OutputDeclared >= engine.ScoreModulo {
		return nil, fmt.Errorf("%w: output %d out of range", ErrValidation, req.OutputDeclared)
	}
	if req.VariationsCount < 0 || req.VariationsCount > engine.MaxVariations {
		return nil, fmt.Errorf("%w: variations count %d out of range", ErrValidation, req.VariationsCount)
	}
	claim := proof.FinalClaim{
		PlayerAddress:   p.Address,
		OutputDeclared:  req.OutputDeclared,
		StateHash:       req.StateHash,
		VariationsCount: req.VariationsCount,
		Proof:           req.Proof,
	}
	if !e.deps.Gate.VerifyFinal(claim) {
		return nil, fmt.Errorf("%w: final proof rejected", ErrValidation)
	}

	remaining, err := e.deps.Ledger.Burn(p.Address, FinalCost)
	if err != nil {
		return nil, fmt.Errorf("final submission: %w", err)
	}

	receipt := e.record(ctx, chain.Call{
		GameID:   gameID,
		From:     p.Address,
		To:       chain.AddrGameContract,
		Function: chain.FnSubmitFinalChoice,
		Params:   map[string]any{"output": req.OutputDeclared, "variations_count": req.VariationsCount},
	})
	fs := &FinalSubmission{
		PlayerAddress:   p.Address,
		OutputDeclared:  req.OutputDeclared,
		StateHash:       req.StateHash,
		VariationsCount: req.VariationsCount,
		Proof:           req.Proof,
		Timestamp:       e.deps.Clock(),
		TxHash:          receipt.TxHash,
	}
	p.FinalSubmission = fs
	p.Status = StatusSubmitted
	p.TokensSpent += FinalCost
	p.TokenBalance = remaining

	e.logger.Printf("final_submitted game_id=%s address=%s output=%d", gameID, p.Address, req.OutputDeclared)
	e.publish(gameID, EventFinalSubmitted, map[string]any{"player_address": p.Address, "output_declared": req.OutputDeclared})

	if g.allSubmitted() {
		g.Status = PhaseAllSubmitted
		e.determineWinner(ctx, g)
		if err := e.distributeRewards(ctx, g); err != nil {
			e.logger.Printf("settlement_failed game_id=%s error=%v", gameID, err)
		}
	}

	out := *fs
	return &out, nil
}

// determineWinner picks the highest declared output; the earliest
// registrant wins ties. Caller holds the game lock.
func (e *Engine) determineWinner(ctx context.Context, g *Game) {
	best := -1
	winner := ""
	for _, p := range g.Players {
		if p.FinalSubmission == nil {
			continue
		}
		if p.FinalSubmission.OutputDeclared > best {
			best = p.FinalSubmission.OutputDeclared
			winner = p.Address
		}
	}
	if winner == "" {
		return
	}

	g.Winner = winner
	g.WinningOutput = &best
	g.Status = PhaseWinnerDeclared
	e.record(ctx, chain.Call{
		GameID:   g.ID,
		From:     chain.AddrGameContract,
		Function: chain.FnDetermineWinner,
		Params:   map[string]any{"winner": winner, "output": best},
	})

	e.logger.Printf("winner_declared game_id=%s winner=%s output=%d", g.ID, winner, best)
	e.publish(g.ID, EventWinnerDeclared, map[string]any{"winner": winner, "winning_output": best})
}

// distributeRewards mints the reward and completes the game. Caller holds the game lock.
func (e *Engine) distributeRewards(ctx context.Context, g *Game) error {
	if g.Winner == "" {
		return ErrNoWinner
	}
	if _, err := e.deps.Ledger.Mint(g.Winner, WinnerReward); err != nil {
		return fmt.Errorf("reward: %w", err)
	}
	e.record(ctx, chain.Call{
		GameID:   g.ID,
		From:     chain.AddrGameContract,
		To:       g.Winner,
		Function: chain.FnDistributeRewards,
		Params:   map[string]any{"amount": WinnerReward},
	})
	if p := g.player(g.Winner); p != nil {
		p.TokenBalance = e.deps.Ledger.Balance(g.Winner)
	}
	done := e.deps.Clock()
	g.CompletedAt = &done
	g.Status = PhaseCompleted

	e.logger.Printf("game_completed game_id=%s winner=%s reward=%d", g.ID, g.Winner, WinnerReward)
	e.publish(g.ID, EventGameCompleted, map[string]any{"winner": g.Winner, "reward": WinnerReward})
	return nil
}

// IsClientError reports whether err is one of the engine's sentinel errors.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrPhaseViolation, ErrAlreadyRegistered, ErrAlreadyCommitted,
		ErrAlreadySubmitted, ErrCapacityExceeded, ErrResourceExhausted,
		ErrInsufficientFunds, ErrValidation, ErrInvalidArgument, ErrSeedNotReady,
		ErrInvalidPlayerState, ErrNoWinner,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
