package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens a SQLite database. ":memory:" keeps the audit log for
// the lifetime of the process only.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// One connection: an in-memory database is per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Ping checks the connection is usable.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded goose migrations. It is safe to call repeatedly.
func (s *SQLiteDB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("store: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveBlock inserts a mined block.
func (s *SQLiteDB) SaveBlock(ctx context.Context, block *Block) error {
	return insertBlock(ctx, s.db, block)
}

// SaveMined inserts a block and the transaction it carries in one
// database transaction, assigning the transaction an ID if missing.
// Either both rows exist afterwards or neither does.
func (s *SQLiteDB) SaveMined(ctx context.Context, block *Block, tx *Transaction) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin block %d: %w", block.Number, err)
	}
	defer dbtx.Rollback()

	if err := insertBlock(ctx, dbtx, block); err != nil {
		return err
	}
	if err := insertTransaction(ctx, dbtx, tx); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("store: commit block %d: %w", block.Number, err)
	}
	return nil
}

func insertBlock(ctx context.Context, ex execer, block *Block) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO blocks (number, hash, previous_hash, tx_count, mined_at) VALUES (?, ?, ?, ?, ?)`,
		block.Number, block.Hash, block.PreviousHash, block.TxCount, block.MinedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: save block %d: %w", block.Number, err)
	}
	return nil
}

func insertTransaction(ctx context.Context, ex execer, tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.ParamsJSON == "" {
		tx.ParamsJSON = "{}"
	}
	if tx.Status == "" {
		tx.Status = "success"
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO transactions (
			id, hash, game_id, from_address, to_address, function_name,
			params_json, gas_used, fee_eth, block_number, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Hash, tx.GameID, tx.From, tx.To, tx.Function,
		tx.ParamsJSON, tx.GasUsed, tx.FeeETH, tx.BlockNumber, tx.Status, tx.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: save transaction %s: %w", tx.Hash, err)
	}
	return nil
}

const txColumns = `id, hash, game_id, from_address, to_address, function_name,
	params_json, gas_used, fee_eth, block_number, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	err := row.Scan(
		&tx.ID, &tx.Hash, &tx.GameID, &tx.From, &tx.To, &tx.Function,
		&tx.ParamsJSON, &tx.GasUsed, &tx.FeeETH, &tx.BlockNumber, &tx.Status, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransaction looks a transaction up by hash.
func (s *SQLiteDB) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE hash = ?`, hash)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns a page of transactions in insertion order.
func (s *SQLiteDB) ListTransactions(ctx context.Context, query TxQuery) (*TxPage, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PerPage < 1 || query.PerPage > 500 {
		query.PerPage = 100
	}

	var (
		where []string
		args  []any
	)
	if query.GameID != "" {
		where = append(where, "game_id = ?")
		args = append(args, query.GameID)
	}
	if query.Function != "" {
		where = append(where, "function_name = ?")
		args = append(args, query.Function)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("store: count transactions: %w", err)
	}

	offset := (query.Page - 1) * query.PerPage
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions`+whereClause+` ORDER BY block_number ASC, rowid ASC LIMIT ? OFFSET ?`,
		append(args, query.PerPage, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate transactions: %w", err)
	}

	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	return &TxPage{
		Transactions: txs,
		TotalCount:   totalCount,
		Page:         query.Page,
		PerPage:      query.PerPage,
		TotalPages:   totalPages,
	}, nil
}

// LatestBlock returns the highest block, or ErrNotFound on an empty chain.
func (s *SQLiteDB) LatestBlock(ctx context.Context) (*Block, error) {
	var b Block
	err := s.db.QueryRowContext(ctx,
		`SELECT number, hash, previous_hash, tx_count, mined_at FROM blocks ORDER BY number DESC LIMIT 1`,
	).Scan(&b.Number, &b.Hash, &b.PreviousHash, &b.TxCount, &b.MinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest block: %w", err)
	}
	return &b, nil
}
