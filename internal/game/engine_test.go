package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/pfrace/internal/chain"
	"github.com/MJE43/pfrace/internal/engine"
	"github.com/MJE43/pfrace/internal/ledger"
	"github.com/MJE43/pfrace/internal/oracle"
	"github.com/MJE43/pfrace/internal/proof"
)

var testClock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

var zeroDeltas = engine.FixedDeltas{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

// stubOracle wraps the simulator with failure injection and capture.
type stubOracle struct {
	*oracle.Simulator

	mu           sync.Mutex
	failFulfills int
	last         oracle.Randomness
	blankSeedFor string
}

func (o *stubOracle) Fulfill(ctx context.Context, requestID string) (oracle.Randomness, error) {
	o.mu.Lock()
	if o.failFulfills > 0 {
		o.failFulfills--
		o.mu.Unlock()
		return oracle.Randomness{}, errors.New("vrf coordinator unavailable")
	}
	o.mu.Unlock()

	r, err := o.Simulator.Fulfill(ctx, requestID)
	if err == nil {
		o.mu.Lock()
		o.last = r
		o.mu.Unlock()
	}
	return r, err
}

func (o *stubOracle) DerivePlayerSeed(seed, address, gameID string) string {
	if address == o.blankSeedFor {
		return ""
	}
	return o.Simulator.DerivePlayerSeed(seed, address, gameID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type failingRecorder struct{ calls int }

func (r *failingRecorder) Record(context.Context, chain.Call) (chain.Receipt, error) {
	r.calls++
	return chain.Receipt{}, errors.New("disk full")
}

type harness struct {
	engine *Engine
	ledger *ledger.Ledger
	oracle *stubOracle
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	sim, err := oracle.NewSimulator()
	require.NoError(t, err)

	h := &harness{ledger: ledger.New(), oracle: &stubOracle{Simulator: sim}}
	deps := Deps{
		Ledger: h.ledger,
		Oracle: h.oracle,
		Gate:   proof.Simulator{},
		Deltas: zeroDeltas,
		Clock:  testClock,
		Logger: log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.engine, err = NewEngine(deps)
	require.NoError(t, err)
	return h
}

func encryptedNumbers() []string {
	out := make([]string, engine.NumberCount)
	for i := range out {
		out[i] = fmt.Sprintf("ciphertext_%02d", i)
	}
	return out
}

// commit submits a valid commitment for address.
func (h *harness) commit(t *testing.T, gameID, address string) *Commitment {
	t.Helper()
	g, err := h.engine.GetGame(gameID)
	require.NoError(t, err)

	var seed string
	for _, p := range g.Players {
		if p.Address == address {
			seed = p.Seed
		}
	}
	pk := "pk_" + address + "_0123456789"
	prf, err := proof.ProveCommitment(seed, engine.NumberCount, pk)
	require.NoError(t, err)

	c, err := h.engine.SubmitCommitment(context.Background(), gameID, CommitmentRequest{
		PlayerAddress:    address,
		PublicKey:        pk,
		EncryptedNumbers: encryptedNumbers(),
		Proof:            prf,
	})
	require.NoError(t, err)
	return c
}

func (h *harness) submit(t *testing.T, gameID, address string, output int) error {
	t.Helper()
	prf, err := proof.ProveFinal("seed", "scoring", output, 0)
	require.NoError(t, err)
	_, err = h.engine.SubmitFinalChoice(context.Background(), gameID, FinalRequest{
		PlayerAddress:  address,
		OutputDeclared: output,
		StateHash:      "0xstate",
		Proof:          prf,
	})
	return err
}

// playingGame creates a game, registers and commits every address.
func (h *harness) playingGame(t *testing.T, addresses ...string) string {
	t.Helper()
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, len(addresses))
	require.NoError(t, err)
	for _, a := range addresses {
		_, err := h.engine.RegisterPlayer(ctx, g.ID, a)
		require.NoError(t, err)
	}
	for _, a := range addresses {
		h.commit(t, g.ID, a)
	}
	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhasePlaying, got.Status)
	return g.ID
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Deps{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	sim, err := oracle.NewSimulator()
	require.NoError(t, err)
	_, err = NewEngine(Deps{Ledger: ledger.New(), Oracle: sim, SeedMode: "eventually"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateGame(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.CreateGame(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	g1, err := h.engine.CreateGame(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, PhaseRegistering, g1.Status)
	require.Regexp(t, `^game_[0-9a-f]{16}$`, g1.ID)

	g2, err := h.engine.CreateGame(ctx, 3)
	require.NoError(t, err)

	active, err := h.engine.ActiveGame()
	require.NoError(t, err)
	require.Equal(t, g2.ID, active.ID)

	games := h.engine.ListGames()
	require.Len(t, games, 2)
	require.Equal(t, g1.ID, games[0].ID)

	_, err = h.engine.GetGame("game_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestActiveGameEmpty(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.ActiveGame()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterCapacity(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, 3)
	require.NoError(t, err)

	for _, a := range []string{"0xA", "0xB", "0xC"} {
		p, err := h.engine.RegisterPlayer(ctx, g.ID, a)
		require.NoError(t, err)
		require.Equal(t, StatusRegistered, p.Status)
		require.Equal(t, InitialGrant, p.TokenBalance)
	}

	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xD")
	require.ErrorIs(t, err, ErrCapacityExceeded)

	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Len(t, got.Players, 3)
	require.Equal(t, PhaseSeedFulfilled, got.Status)
	require.NotNil(t, got.Randomness)
	require.NotNil(t, got.StartedAt)
	for _, p := range got.Players {
		require.Equal(t, oracle.DerivePlayerSeed(got.Randomness.Seed, p.Address, g.ID), p.Seed)
	}
	require.False(t, h.ledger.Exists("0xD"), "rejected registration must not mint")
}

func TestRegisterRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, 2)
	require.NoError(t, err)

	_, err = h.engine.RegisterPlayer(ctx, g.ID, "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.engine.RegisterPlayer(ctx, "game_nope", "0xA")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Len(t, got.Players, 1)
	require.Equal(t, InitialGrant, h.ledger.Balance("0xA"))
}

func TestGrantIsOncePerAddress(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	g1, err := h.engine.CreateGame(ctx, 2)
	require.NoError(t, err)
	g2, err := h.engine.CreateGame(ctx, 2)
	require.NoError(t, err)

	_, err = h.engine.RegisterPlayer(ctx, g1.ID, "0xA")
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g2.ID, "0xA")
	require.NoError(t, err)
	require.Equal(t, InitialGrant, h.ledger.Balance("0xA"))
}

func TestScenarioSinglePlayer(t *testing.T) {
	deltas := engine.FixedDeltas{20, -20, 5, -5, 0, 7, -1, 1, 3, -3}
	h := newHarness(t, func(d *Deps) { d.Deltas = deltas })
	ctx := context.Background()

	g, err := h.engine.CreateGame(ctx, 1)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xSolo")
	require.NoError(t, err)

	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseSeedFulfilled, got.Status)
	seed := got.Players[0].Seed
	require.NotEmpty(t, seed)

	h.commit(t, g.ID, "0xSolo")
	got, err = h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhasePlaying, got.Status)
	require.Equal(t, StatusCommitted, got.Players[0].Status)

	wantSeed := engine.DeriveScoringSeed(got.Randomness.Seed, testClock().Unix())
	require.Equal(t, wantSeed, got.ScoringSeed)
	f := engine.NewScoringFunction(wantSeed)
	require.Equal(t, f.Coefficients, got.Coefficients)
	require.Equal(t, f.Bias, got.Bias)

	numbers := engine.DerivePlayerNumbers(seed)
	best := -1
	for i := 0; i < 3; i++ {
		ticket, err := h.engine.RequestVariation(ctx, g.ID, "0xSolo")
		require.NoError(t, err)
		require.Equal(t, i, ticket.VariationIndex)
		require.Equal(t, InitialGrant-int64(i+1), ticket.TokensRemaining)

		out, err := h.engine.ComputeVariation(ctx, g.ID, "0xSolo", numbers)
		require.NoError(t, err)
		require.Equal(t, i, out.VariationIndex)
		for j, n := range out.NewNumbers {
			require.GreaterOrEqual(t, out.Deltas[j], -engine.MaxDelta)
			require.LessOrEqual(t, out.Deltas[j], engine.MaxDelta)
			require.Equal(t, engine.Clamp(numbers[j]+deltas[j], 0, engine.MaxNumber), n)
		}
		score, err := f.Score(out.NewNumbers)
		require.NoError(t, err)
		require.Equal(t, score, out.Output)
		if out.Output > best {
			best = out.Output
		}
		numbers = out.NewNumbers
	}

	prf, err := proof.ProveFinal(seed, wantSeed, best, 3)
	require.NoError(t, err)
	fs, err := h.engine.SubmitFinalChoice(ctx, g.ID, FinalRequest{
		PlayerAddress:   "0xSolo",
		OutputDeclared:  best,
		StateHash:       engine.HashHex("state"),
		VariationsCount: 3,
		Proof:           prf,
	})
	require.NoError(t, err)
	require.Equal(t, best, fs.OutputDeclared)

	got, err = h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, got.Status)
	require.Equal(t, "0xSolo", got.Winner)
	require.Equal(t, best, *got.WinningOutput)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Players[0].Variations, 3)
	require.Equal(t, int64(4), got.Players[0].TokensSpent)
	// 10 granted, 3 variations, 1 final, 100 reward.
	require.Equal(t, int64(106), h.ledger.Balance("0xSolo"))
	require.Equal(t, int64(106), got.Players[0].TokenBalance)
}

func TestVariationBudget(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.playingGame(t, "0xA", "0xB")
	numbers := make([]int, engine.NumberCount)

	for i := 0; i < engine.MaxVariations; i++ {
		_, err := h.engine.RequestVariation(ctx, id, "0xA")
		require.NoError(t, err)
		_, err = h.engine.ComputeVariation(ctx, id, "0xA", numbers)
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), h.ledger.Balance("0xA"))

	_, err := h.engine.RequestVariation(ctx, id, "0xA")
	require.ErrorIs(t, err, ErrResourceExhausted)
	require.Equal(t, int64(1), h.ledger.Balance("0xA"), "rejected request must not burn")

	require.NoError(t, h.submit(t, id, "0xA", 10))
	require.Equal(t, int64(0), h.ledger.Balance("0xA"))

	// 0xB wins, leaving 0xA with nothing for an eleventh burn.
	require.NoError(t, h.submit(t, id, "0xB", 20))
	require.Equal(t, int64(0), h.ledger.Balance("0xA"))
	require.Equal(t, InitialGrant-1+WinnerReward, h.ledger.Balance("0xB"))

	g2, err := h.engine.CreateGame(ctx, 2)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g2.ID, "0xA")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	got, err := h.engine.GetGame(g2.ID)
	require.NoError(t, err)
	require.Empty(t, got.Players)
}

func TestComputeVariationRequiresPaidSlot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.playingGame(t, "0xA")
	numbers := make([]int, engine.NumberCount)

	_, err := h.engine.ComputeVariation(ctx, id, "0xA", numbers)
	require.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.RequestVariation(ctx, id, "0xA")
	require.NoError(t, err)

	_, err = h.engine.ComputeVariation(ctx, id, "0xA", []int{1, 2, 3})
	require.ErrorIs(t, err, ErrValidation)
	_, err = h.engine.ComputeVariation(ctx, id, "0xA", []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 1001})
	require.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.ComputeVariation(ctx, id, "0xA", numbers)
	require.NoError(t, err)
	_, err = h.engine.ComputeVariation(ctx, id, "0xA", numbers)
	require.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.ComputeVariation(ctx, id, "0xGhost", numbers)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestComputeVariationBeforeFunctionGenerated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	numbers := make([]int, engine.NumberCount)

	g, err := h.engine.CreateGame(ctx, 1)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.NoError(t, err)
	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseSeedFulfilled, got.Status)

	_, err = h.engine.ComputeVariation(ctx, g.ID, "0xA", numbers)
	require.ErrorIs(t, err, ErrValidation)
	require.NotErrorIs(t, err, ErrPhaseViolation)

	// Once the round is over the function exists but the phase is wrong.
	id := h.playingGame(t, "0xB")
	require.NoError(t, h.submit(t, id, "0xB", 10))
	_, err = h.engine.ComputeVariation(ctx, id, "0xB", numbers)
	require.ErrorIs(t, err, ErrPhaseViolation)
}

func TestTieBreakFavorsEarliestRegistrant(t *testing.T) {
	h := newHarness(t, nil)
	id := h.playingGame(t, "0xFirst", "0xSecond", "0xThird")

	// Submission order differs from registration order.
	require.NoError(t, h.submit(t, id, "0xSecond", 5000))
	require.NoError(t, h.submit(t, id, "0xThird", 4999))
	require.NoError(t, h.submit(t, id, "0xFirst", 5000))

	got, err := h.engine.GetGame(id)
	require.NoError(t, err)
	require.Equal(t, "0xFirst", got.Winner)
	require.Equal(t, 5000, *got.WinningOutput)
	require.Equal(t, InitialGrant-1+WinnerReward, h.ledger.Balance("0xFirst"))
	require.Equal(t, InitialGrant-1, h.ledger.Balance("0xSecond"))
}

func TestPhaseViolationLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, 2)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.NoError(t, err)
	before, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)

	_, err = h.engine.RequestVariation(ctx, g.ID, "0xA")
	require.ErrorIs(t, err, ErrPhaseViolation)
	_, err = h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{PlayerAddress: "0xA"})
	require.ErrorIs(t, err, ErrPhaseViolation)
	require.ErrorIs(t, h.submit(t, g.ID, "0xA", 10), ErrPhaseViolation)
	_, err = h.engine.ComputeVariation(ctx, g.ID, "0xA", make([]int, engine.NumberCount))
	require.ErrorIs(t, err, ErrValidation)

	after, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, InitialGrant, h.ledger.Balance("0xA"))
}

func TestRegisterAfterSeedIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	id := h.playingGame(t, "0xA")
	_, err := h.engine.RegisterPlayer(context.Background(), id, "0xB")
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestCommitmentRules(t *testing.T) {
	reject := false
	h := newHarness(t, func(d *Deps) {
		d.Gate = proof.GateFunc{Commitment: func(proof.CommitmentClaim) bool { return !reject }}
	})
	h.oracle.blankSeedFor = "0xNoSeed"
	ctx := context.Background()

	g, err := h.engine.CreateGame(ctx, 3)
	require.NoError(t, err)
	for _, a := range []string{"0xA", "0xB", "0xNoSeed"} {
		_, err := h.engine.RegisterPlayer(ctx, g.ID, a)
		require.NoError(t, err)
	}

	_, err = h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{PlayerAddress: "0xNoSeed", PublicKey: "pk", EncryptedNumbers: encryptedNumbers(), Proof: "0x1"})
	require.ErrorIs(t, err, ErrSeedNotReady)

	_, err = h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{PlayerAddress: "0xA", PublicKey: "pk", EncryptedNumbers: []string{"x"}, Proof: "0x1"})
	require.ErrorIs(t, err, ErrValidation)

	reject = true
	_, err = h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{PlayerAddress: "0xA", PublicKey: "pk", EncryptedNumbers: encryptedNumbers(), Proof: "0x1"})
	require.ErrorIs(t, err, ErrValidation)

	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Nil(t, got.Players[0].Commitment)
	require.Equal(t, StatusRegistered, got.Players[0].Status)

	reject = false
	c := h.commit(t, g.ID, "0xA")
	require.Equal(t, engine.HashEncryptedNumbers(encryptedNumbers()), c.EncryptedNumbersHash)
	require.Len(t, c.CommitmentHash, 66)

	_, err = h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{PlayerAddress: "0xA", PublicKey: "pk", EncryptedNumbers: encryptedNumbers(), Proof: "0x1"})
	require.ErrorIs(t, err, ErrAlreadyCommitted)

	_, err = h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{PlayerAddress: "0xGhost"})
	require.ErrorIs(t, err, ErrNotFound)

	got, err = h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseSeedFulfilled, got.Status, "function must wait for every commitment")
	require.Empty(t, got.ScoringSeed)
}

func TestFinalSubmissionRules(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.playingGame(t, "0xA", "0xB")

	tests := []struct {
		name string
		req  FinalRequest
		want error
	}{
		{"output above range", FinalRequest{PlayerAddress: "0xA", OutputDeclared: 10000, Proof: "0xok"}, ErrValidation},
		{"negative output", FinalRequest{PlayerAddress: "0xA", OutputDeclared: -1, Proof: "0xok"}, ErrValidation},
		{"too many variations", FinalRequest{PlayerAddress: "0xA", VariationsCount: 10, Proof: "0xok"}, ErrValidation},
		{"bad proof", FinalRequest{PlayerAddress: "0xA", Proof: "nope"}, ErrValidation},
		{"unknown player", FinalRequest{PlayerAddress: "0xC", Proof: "0xok"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.SubmitFinalChoice(ctx, id, tt.req)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, InitialGrant, h.ledger.Balance("0xA"))
		})
	}

	require.NoError(t, h.submit(t, id, "0xA", 9999))
	require.ErrorIs(t, h.submit(t, id, "0xA", 1), ErrAlreadySubmitted)

	_, err := h.engine.RequestVariation(ctx, id, "0xA")
	require.ErrorIs(t, err, ErrInvalidPlayerState)
	require.Equal(t, InitialGrant-1, h.ledger.Balance("0xA"))
}

func TestFinalSubmissionNeedsFunds(t *testing.T) {
	h := newHarness(t, nil)
	id := h.playingGame(t, "0xA")

	_, err := h.ledger.Burn("0xA", InitialGrant)
	require.NoError(t, err)

	require.ErrorIs(t, h.submit(t, id, "0xA", 1), ErrInsufficientFunds)
	got, err := h.engine.GetGame(id)
	require.NoError(t, err)
	require.Nil(t, got.Players[0].FinalSubmission)
	require.Equal(t, PhasePlaying, got.Status)
}

func TestConcurrentRegistration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, 5)
	require.NoError(t, err)

	var mu sync.Mutex
	accepted := 0
	var eg errgroup.Group
	for i := 0; i < 40; i++ {
		addr := fmt.Sprintf("0xP%02d", i)
		eg.Go(func() error {
			_, err := h.engine.RegisterPlayer(ctx, g.ID, addr)
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
				return nil
			case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrPhaseViolation):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, 5, accepted)

	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Len(t, got.Players, 5)
	require.Equal(t, PhaseSeedFulfilled, got.Status)
	require.Zero(t, h.oracle.Pending())
}

func TestConcurrentVariationRequests(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.playingGame(t, "0xA", "0xB")

	var mu sync.Mutex
	indexes := map[int]bool{}
	var eg errgroup.Group
	for i := 0; i < 25; i++ {
		eg.Go(func() error {
			ticket, err := h.engine.RequestVariation(ctx, id, "0xA")
			if errors.Is(err, ErrResourceExhausted) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			indexes[ticket.VariationIndex] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Len(t, indexes, engine.MaxVariations)
	require.Equal(t, int64(1), h.ledger.Balance("0xA"))

	var compute errgroup.Group
	for i := 0; i < 12; i++ {
		compute.Go(func() error {
			_, err := h.engine.ComputeVariation(ctx, id, "0xA", make([]int, engine.NumberCount))
			if errors.Is(err, ErrValidation) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, compute.Wait())

	got, err := h.engine.GetGame(id)
	require.NoError(t, err)
	vars := got.Players[0].Variations
	require.Len(t, vars, engine.MaxVariations)
	for i, v := range vars {
		require.Equal(t, i, v.Index)
	}
}

func TestConcurrentCommitmentsGenerateOnce(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, func(d *Deps) { d.Publisher = pub })
	ctx := context.Background()

	addrs := []string{"0xA", "0xB", "0xC", "0xD"}
	g, err := h.engine.CreateGame(ctx, len(addrs))
	require.NoError(t, err)
	for _, a := range addrs {
		_, err := h.engine.RegisterPlayer(ctx, g.ID, a)
		require.NoError(t, err)
	}

	var eg errgroup.Group
	for _, a := range addrs {
		eg.Go(func() error {
			_, err := h.engine.SubmitCommitment(ctx, g.ID, CommitmentRequest{
				PlayerAddress:    a,
				PublicKey:        "pk_0123456789_" + a,
				EncryptedNumbers: encryptedNumbers(),
				Proof:            "0xproof",
			})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	generated := 0
	for _, typ := range pub.types() {
		if typ == EventFunctionGenerated {
			generated++
		}
	}
	require.Equal(t, 1, generated)
}

func TestAsyncSeedDelivery(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.SeedMode = SeedAsync
		d.SeedTimeout = time.Second
	})
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, 1)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.NoError(t, err)

	h.engine.Wait()
	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseSeedFulfilled, got.Status)
	require.NotEmpty(t, got.Players[0].Seed)
}

func TestSeedFailureAndRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.oracle.failFulfills = 1
	ctx := context.Background()

	g, err := h.engine.CreateGame(ctx, 1)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.NoError(t, err)

	got, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseAwaitingSeed, got.Status)
	require.Empty(t, got.Players[0].Seed)

	require.NoError(t, h.engine.RetrySeed(ctx, g.ID))
	got, err = h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, PhaseSeedFulfilled, got.Status)

	require.ErrorIs(t, h.engine.RetrySeed(ctx, g.ID), ErrPhaseViolation)
}

func TestDuplicateFulfillmentIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	g, err := h.engine.CreateGame(ctx, 1)
	require.NoError(t, err)
	_, err = h.engine.RegisterPlayer(ctx, g.ID, "0xA")
	require.NoError(t, err)

	before, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)

	replay := h.oracle.last
	replay.Seed = "0x" + replay.Seed[2:34] + replay.Seed[2:34]
	require.NoError(t, h.engine.ApplySeed(ctx, g.ID, replay))

	after, err := h.engine.GetGame(g.ID)
	require.NoError(t, err)
	require.Equal(t, before.Randomness.Seed, after.Randomness.Seed)
	require.Equal(t, before.Players[0].Seed, after.Players[0].Seed)

	require.ErrorIs(t, h.engine.ApplySeed(ctx, g.ID, oracle.Randomness{Seed: "bad"}), ErrValidation)
}

func TestAuditFailuresDoNotFailOperations(t *testing.T) {
	rec := &failingRecorder{}
	h := newHarness(t, func(d *Deps) { d.Recorder = rec })
	id := h.playingGame(t, "0xA")
	require.NoError(t, h.submit(t, id, "0xA", 42))

	got, err := h.engine.GetGame(id)
	require.NoError(t, err)
	require.Equal(t, PhaseCompleted, got.Status)
	require.Empty(t, got.Players[0].Commitment.TxHash)
	require.Greater(t, rec.calls, 0)
}

func TestLifecycleEvents(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, func(d *Deps) { d.Publisher = pub })
	id := h.playingGame(t, "0xA")
	require.NoError(t, h.submit(t, id, "0xA", 1))

	require.Equal(t, []string{
		EventGameCreated,
		EventPlayerRegistered,
		EventSeedFulfilled,
		EventCommitment,
		EventFunctionGenerated,
		EventFinalSubmitted,
		EventWinnerDeclared,
		EventGameCompleted,
	}, pub.types())
}

func TestIsClientError(t *testing.T) {
	require.True(t, IsClientError(fmt.Errorf("%w: x", ErrCapacityExceeded)))
	require.True(t, IsClientError(fmt.Errorf("burn: %w", ledger.ErrInsufficientFunds)))
	require.False(t, IsClientError(errors.New("boom")))
}
