package chain

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/pfrace/internal/store"
)

func newTestChain(t *testing.T, cfg Config) (*Chain, *store.SQLiteDB) {
	t.Helper()
	db, err := store.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	c, err := New(context.Background(), db, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetLogger(log.New(io.Discard, "", 0))
	return c, db
}

func TestEstimateGas(t *testing.T) {
	tests := map[string]int64{
		FnRegister:          50000,
		FnRequestRandomness: 100000,
		FnSubmitCommitment:  150000,
		FnGenerateFunction:  80000,
		FnRequestVariation:  30000,
		FnSubmitFinalChoice: 200000,
		FnDetermineWinner:   60000,
		FnDistributeRewards: 80000,
		FnCreateGame:        DefaultGas,
		"unknown":           DefaultGas,
	}
	for fn, want := range tests {
		if got := EstimateGas(fn); got != want {
			t.Errorf("EstimateGas(%s) = %d, want %d", fn, got, want)
		}
	}
}

func TestFee(t *testing.T) {
	got := Fee(200000, decimal.NewFromInt(20))
	if !got.Equal(decimal.RequireFromString("0.004")) {
		t.Errorf("Fee() = %s, want 0.004", got)
	}
}

func TestRecordMinesBlocks(t *testing.T) {
	c, db := newTestChain(t, Config{})
	ctx := context.Background()

	if c.Height() != 0 {
		t.Fatalf("Height() = %d after genesis, want 0", c.Height())
	}

	r1, err := c.Record(ctx, Call{GameID: "game_1", From: AddrGameFactory, Function: FnCreateGame, Params: map[string]any{"max_players": 3}})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	r2, err := c.Record(ctx, Call{GameID: "game_1", From: "0xP1", Function: FnRegister})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if r1.BlockNumber != 1 || r2.BlockNumber != 2 {
		t.Errorf("block numbers = %d, %d; want 1, 2", r1.BlockNumber, r2.BlockNumber)
	}
	if r1.TxHash == r2.TxHash {
		t.Error("Expected distinct transaction hashes")
	}
	if r2.GasUsed != 50000 {
		t.Errorf("GasUsed = %d, want 50000", r2.GasUsed)
	}

	tx, err := db.GetTransaction(ctx, r1.TxHash)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if tx.To != AddrContract || tx.ParamsJSON != `{"max_players":3}` {
		t.Errorf("Unexpected stored transaction: %+v", tx)
	}

	page, err := c.Transactions(ctx, "game_1", 1, 10)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if page.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", page.TotalCount)
	}

	recorded, failed := c.Stats()
	if recorded != 2 || failed != 0 {
		t.Errorf("Stats() = %d, %d", recorded, failed)
	}
}

func TestNewResumesFromHead(t *testing.T) {
	c, db := newTestChain(t, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Record(ctx, Call{From: "x", Function: FnRegister}); err != nil {
			t.Fatal(err)
		}
	}

	resumed, err := New(ctx, db, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if resumed.Height() != 3 {
		t.Errorf("Height() = %d, want 3", resumed.Height())
	}
}

func TestMiningDelayHonorsContext(t *testing.T) {
	c, _ := newTestChain(t, Config{MiningDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.Record(ctx, Call{From: "x", Function: FnRegister}); err == nil {
		t.Fatal("Expected context error")
	}
	if _, failed := c.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

// flakyStore rewrites the next mined transaction onto an existing hash so
// the insert fails inside the database transaction.
type flakyStore struct {
	*store.SQLiteDB
	collideWith string
}

func (f *flakyStore) SaveMined(ctx context.Context, block *store.Block, tx *store.Transaction) error {
	if f.collideWith != "" {
		tx.Hash, f.collideWith = f.collideWith, ""
	}
	return f.SQLiteDB.SaveMined(ctx, block, tx)
}

func TestRecordRecoversAfterFailedWrite(t *testing.T) {
	_, db := newTestChain(t, Config{})
	ctx := context.Background()
	flaky := &flakyStore{SQLiteDB: db}
	c, err := New(ctx, flaky, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetLogger(log.New(io.Discard, "", 0))

	first, err := c.Record(ctx, Call{From: "x", Function: FnRegister})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	flaky.collideWith = first.TxHash
	if _, err := c.Record(ctx, Call{From: "y", Function: FnRegister}); err == nil {
		t.Fatal("Expected colliding transaction to fail")
	}
	if c.Height() != 1 {
		t.Errorf("Height() = %d after failed write, want 1", c.Height())
	}

	for want := uint64(2); want <= 3; want++ {
		r, err := c.Record(ctx, Call{From: "z", Function: FnRegister})
		if err != nil {
			t.Fatalf("Record() after failure error = %v", err)
		}
		if r.BlockNumber != want {
			t.Errorf("BlockNumber = %d, want %d", r.BlockNumber, want)
		}
	}
	if recorded, failed := c.Stats(); recorded != 3 || failed != 1 {
		t.Errorf("Stats() = %d, %d; want 3, 1", recorded, failed)
	}
}
