package store

import (
	"context"
	"time"
)

// DB is the audit log persistence interface.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error
	SaveBlock(ctx context.Context, block *Block) error
	SaveMined(ctx context.Context, block *Block, tx *Transaction) error
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	ListTransactions(ctx context.Context, query TxQuery) (*TxPage, error)
	LatestBlock(ctx context.Context) (*Block, error)
}

// TxQuery represents query parameters for listing transactions
type TxQuery struct {
	GameID   string `json:"game_id,omitempty"`
	Function string `json:"function,omitempty"`
	Page     int    `json:"page"`
	PerPage  int    `json:"perPage"`
}

// TxPage represents a paginated transactions response
type TxPage struct {
	Transactions []Transaction `json:"transactions"`
	TotalCount   int           `json:"totalCount"`
	Page         int           `json:"page"`
	PerPage      int           `json:"perPage"`
	TotalPages   int           `json:"totalPages"`
}

// Block is one mined block of the simulated chain.
type Block struct {
	Number       uint64    `json:"number" db:"number"`
	Hash         string    `json:"hash" db:"hash"`
	PreviousHash string    `json:"previous_hash" db:"previous_hash"`
	TxCount      int       `json:"tx_count" db:"tx_count"`
	MinedAt      time.Time `json:"mined_at" db:"mined_at"`
}

// Transaction is one audited engine operation.
type Transaction struct {
	ID          string    `json:"id" db:"id"`
	Hash        string    `json:"tx_hash" db:"hash"`
	GameID      string    `json:"game_id" db:"game_id"`
	From        string    `json:"from_address" db:"from_address"`
	To          string    `json:"to_address" db:"to_address"`
	Function    string    `json:"function_name" db:"function_name"`
	ParamsJSON  string    `json:"params_json" db:"params_json"`
	GasUsed     int64     `json:"gas_used" db:"gas_used"`
	FeeETH      string    `json:"fee_eth" db:"fee_eth"` // decimal string
	BlockNumber uint64    `json:"block_number" db:"block_number"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
