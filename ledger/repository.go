package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores account balances in Postgres. Credits and debits run
// inside the caller's transaction so one escrow operation commits its custody
// movement and snapshot atomically.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Balance reports the current balance of an account.
func (r *Repository) Balance(ctx context.Context, account string) (uint64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return uint64(balance), nil
}

// Deposit tops up an account, creating the row on first use.
func (r *Repository) Deposit(ctx context.Context, account string, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountOutOfRange
	}
	const query = `
		INSERT INTO accounts (id, balance)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
	`
	if _, err := r.pool.Exec(ctx, query, account, int64(amount)); err != nil {
		return fmt.Errorf("ledger: deposit: %w", err)
	}
	return nil
}

// DebitTx removes amount from the account inside tx. The balance check and
// update share one statement so a concurrent debit cannot overdraw.
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, account string, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountOutOfRange
	}
	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $2
		WHERE id = $1 AND balance >= $2
	`, account, int64(amount))
	if err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// CreditTx adds amount to the account inside tx, creating the row if needed.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, account string, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountOutOfRange
	}
	const query = `
		INSERT INTO accounts (id, balance)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
	`
	if _, err := tx.Exec(ctx, query, account, int64(amount)); err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	return nil
}
