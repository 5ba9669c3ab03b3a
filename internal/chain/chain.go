// Package chain is the audit collaborator of the game engine: a simulated
// chain that assigns transaction hashes, block numbers and gas costs to
// engine operations and persists them to the audit store. Nothing it does
// feeds back into game state.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"github.com/MJE43/pfrace/internal/engine"
	"github.com/MJE43/pfrace/internal/store"
)

// Well-known pseudo addresses used as transaction endpoints.
const (
	AddrGameFactory  = "0xGameFactory"
	AddrGameContract = "0xGameContract"
	AddrVRF          = "0xChainlinkVRF"
	AddrContract     = "0xContract"
)

// Operation names recorded on the chain.
const (
	FnCreateGame        = "createGame"
	FnRegister          = "register"
	FnRequestRandomness = "requestRandomness"
	FnFulfillRandomness = "fulfillRandomness"
	FnSubmitCommitment  = "submitCommitment"
	FnGenerateFunction  = "generateFunction"
	FnRequestVariation  = "requestVariation"
	FnSubmitFinalChoice = "submitFinalChoice"
	FnDetermineWinner   = "determineWinner"
	FnDistributeRewards = "distributeRewards"
)

// DefaultGas is charged for operations missing from the gas table.
const DefaultGas int64 = 21000

var gasTable = map[string]int64{
	FnRegister:          50000,
	FnRequestRandomness: 100000,
	FnSubmitCommitment:  150000,
	FnGenerateFunction:  80000,
	FnRequestVariation:  30000,
	FnSubmitFinalChoice: 200000,
	FnDetermineWinner:   60000,
	FnDistributeRewards: 80000,
}

// EstimateGas returns the fixed gas cost of an operation.
func EstimateGas(function string) int64 {
	if gas, ok := gasTable[function]; ok {
		return gas
	}
	return DefaultGas
}

// Fee converts gas at a gwei price into ETH.
func Fee(gas int64, gasPriceGwei decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(gas).Mul(gasPriceGwei).Shift(-9)
}

// Call describes an engine operation to be audited.
type Call struct {
	GameID   string
	From     string
	To       string
	Function string
	Params   map[string]any
}

// Receipt is returned once a call has been mined.
type Receipt struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	GasUsed     int64           `json:"gas_used"`
	Fee         decimal.Decimal `json:"fee_eth"`
}

// Config tunes the simulated chain.
type Config struct {
	GasPriceGwei decimal.Decimal
	MiningDelay  time.Duration
}

// Chain mines one block per recorded call.
type Chain struct {
	db     store.DB
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	height   uint64
	prevHash string

	recorded atomic.Uint64
	failed   atomic.Uint64
}

// New creates a chain on top of db and mines the genesis block.
func New(ctx context.Context, db store.DB, cfg Config) (*Chain, error) {
	if cfg.GasPriceGwei.IsZero() {
		cfg.GasPriceGwei = decimal.NewFromInt(20)
	}
	c := &Chain{
		db:     db,
		cfg:    cfg,
		logger: log.New(os.Stdout, "[CHAIN] ", log.LstdFlags),
		now:    time.Now,
	}

	latest, err := db.LatestBlock(ctx)
	switch {
	case err == nil:
		c.height = latest.Number
		c.prevHash = latest.Hash
		return c, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("chain: load head: %w", err)
	}

	genesis := &store.Block{Number: 0, Hash: engine.HashHex("genesis"), PreviousHash: "0x0", MinedAt: c.now()}
	if err := db.SaveBlock(ctx, genesis); err != nil {
		return nil, fmt.Errorf("chain: genesis: %w", err)
	}
	c.prevHash = genesis.Hash
	return c, nil
}

// SetLogger replaces the chain logger.
func (c *Chain) SetLogger(l *log.Logger) { c.logger = l }

// Height returns the number of the latest mined block.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Stats returns counts of recorded and failed calls.
func (c *Chain) Stats() (recorded, failed uint64) {
	return c.recorded.Load(), c.failed.Load()
}

// Record mines call into a new block and persists it.
func (c *Chain) Record(ctx context.Context, call Call) (Receipt, error) {
	if c.cfg.MiningDelay > 0 {
		select {
		case <-time.After(c.cfg.MiningDelay):
		case <-ctx.Done():
			c.failed.Inc()
			return Receipt{}, ctx.Err()
		}
	}

	params, err := json.Marshal(call.Params)
	if err != nil {
		c.failed.Inc()
		return Receipt{}, fmt.Errorf("chain: encode params: %w", err)
	}
	if call.To == "" {
		call.To = AddrContract
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	number := c.height + 1
	gas := EstimateGas(call.Function)
	fee := Fee(gas, c.cfg.GasPriceGwei)
	txHash := engine.HashHex(call.From, call.Function, string(params), strconv.FormatUint(number, 10), strconv.FormatInt(now.UnixNano(), 10))
	blockHash := engine.HashHex(strconv.FormatUint(number, 10), now.UTC().Format(time.RFC3339Nano), "1", c.prevHash)

	block := &store.Block{Number: number, Hash: blockHash, PreviousHash: c.prevHash, TxCount: 1, MinedAt: now}
	tx := &store.Transaction{
		Hash:        txHash,
		GameID:      call.GameID,
		From:        call.From,
		To:          call.To,
		Function:    call.Function,
		ParamsJSON:  string(params),
		GasUsed:     gas,
		FeeETH:      fee.String(),
		BlockNumber: number,
		CreatedAt:   now,
	}
	if err := c.db.SaveMined(ctx, block, tx); err != nil {
		c.failed.Inc()
		return Receipt{}, err
	}

	c.height = number
	c.prevHash = blockHash
	c.recorded.Inc()
	c.logger.Printf("tx_mined block=%d function=%s game_id=%s gas=%d fee_eth=%s", number, call.Function, call.GameID, gas, fee.String())

	return Receipt{TxHash: txHash, BlockNumber: number, GasUsed: gas, Fee: fee}, nil
}

// Transactions lists the audit log of one game.
func (c *Chain) Transactions(ctx context.Context, gameID string, page, perPage int) (*store.TxPage, error) {
	return c.db.ListTransactions(ctx, store.TxQuery{GameID: gameID, Page: page, PerPage: perPage})
}
