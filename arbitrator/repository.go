package arbitrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound     = errors.New("arbitrator: dispute not found")
	ErrAlreadyRuled = errors.New("arbitrator: dispute already ruled")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateTx opens a dispute row inside the escrow operation's transaction and
// returns its id, which becomes the escrow's dispute handle.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, escrowID string, choices uint64) (uint64, error) {
	var id uint64
	err := tx.QueryRow(ctx, `
		INSERT INTO disputes (escrow_id, choices, status)
		VALUES ($1, $2, 'open')
		RETURNING id
	`, escrowID, int64(choices)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("arbitrator: create dispute: %w", err)
	}
	return id, nil
}

// Get loads one dispute row.
func (r *Repository) Get(ctx context.Context, id uint64) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT id, escrow_id, choices, status::text, ruling, created_at, ruled_at
		FROM disputes WHERE id = $1
	`, id).Scan(&rec.ID, &rec.EscrowID, &rec.Choices, &rec.Status, &rec.Ruling, &rec.CreatedAt, &rec.RuledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("arbitrator: get dispute: %w", err)
	}
	return rec, nil
}

// MarkRuledTx records the ruling on an open dispute inside tx, the same
// transaction the registry settles the escrow in.
func (r *Repository) MarkRuledTx(ctx context.Context, tx pgx.Tx, id uint64, ruling int16) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = 'ruled', ruling = $2, ruled_at = now()
		WHERE id = $1 AND status = 'open'
	`, id, ruling)
	if err != nil {
		return fmt.Errorf("arbitrator: mark ruled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("arbitrator: mark ruled: %w", err)
		}
		return ErrAlreadyRuled
	}
	return nil
}

// List returns disputes newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
		SELECT id, escrow_id, choices, status::text, ruling, created_at, ruled_at
		FROM disputes
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("arbitrator: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EscrowID, &rec.Choices, &rec.Status, &rec.Ruling, &rec.CreatedAt, &rec.RuledAt); err != nil {
			return nil, fmt.Errorf("arbitrator: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arbitrator: iterate: %w", err)
	}
	return out, nil
}
