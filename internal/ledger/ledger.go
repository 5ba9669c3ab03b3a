// Package ledger keeps the per-address token balances used to pay for
// registration, variations and final submissions.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when a burn exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for non-positive mint or burn amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Ledger is an in-memory token ledger. Balances never go negative: burn
// checks and debits under the same lock.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]int64)}
}

// Mint credits amount to address, opening the account at zero if unseen.
func (l *Ledger) Mint(address string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("mint %d: %w", amount, ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[address] += amount
	return l.balances[address], nil
}

// MintIfNew credits amount only when address has never been seen.
// It reports whether the grant was applied.
func (l *Ledger) MintIfNew(address string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("mint %d: %w", amount, ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[address]; ok {
		return false, nil
	}
	l.balances[address] = amount
	return true, nil
}

// Burn debits amount from address. On failure the balance is unchanged.
func (l *Ledger) Burn(address string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("burn %d: %w", amount, ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[address]
	if balance < amount {
		return balance, fmt.Errorf("burn %d from %s (balance %d): %w", amount, address, balance, ErrInsufficientFunds)
	}
	l.balances[address] = balance - amount
	return l.balances[address], nil
}

// Balance returns the balance of address, or 0 if unseen.
func (l *Ledger) Balance(address string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address]
}

// Exists reports whether address has ever been credited.
func (l *Ledger) Exists(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.balances[address]
	return ok
}

// Account is one row of a ledger snapshot.
type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// Snapshot returns all accounts sorted by address.
func (l *Ledger) Snapshot() []Account {
	l.mu.Lock()
	accounts := make([]Account, 0, len(l.balances))
	for addr, bal := range l.balances {
		accounts = append(accounts, Account{Address: addr, Balance: bal})
	}
	l.mu.Unlock()

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Address < accounts[j].Address })
	return accounts
}
