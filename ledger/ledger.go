// Package ledger holds account balances and implements the transfer
// primitive the escrow core settles through.
package ledger

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrInsufficientFunds signals a debit larger than the account balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrNotFound is returned for an account with no row.
	ErrNotFound = errors.New("ledger: account not found")
	// ErrAmountOutOfRange signals an amount too large for the signed
	// 64-bit balance column; the cast would flip its sign.
	ErrAmountOutOfRange = errors.New("ledger: amount exceeds storable range")
)

// Memory is an in-process ledger used by unit tests and the domain examples.
type Memory struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{balances: map[string]uint64{}}
}

// Deposit tops up an account.
func (m *Memory) Deposit(_ context.Context, account string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
	return nil
}

// Debit removes amount from an account, failing when the balance is short.
func (m *Memory) Debit(_ context.Context, account string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[account] < amount {
		return ErrInsufficientFunds
	}
	m.balances[account] -= amount
	return nil
}

// Transfer credits the account; it satisfies the escrow core's ledger
// interface where custody leaving escrow lands on the recipient.
func (m *Memory) Transfer(ctx context.Context, account string, amount uint64) error {
	return m.Deposit(ctx, account, amount)
}

// Balance reports the current balance of an account.
func (m *Memory) Balance(_ context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}
