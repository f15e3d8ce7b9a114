package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hangleang/freescrow/escrow"
)

// Repository persists escrow snapshots: one row per instance carrying
// exactly the data-model fields, plus the append-only bid log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records a freshly created escrow inside tx.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error {
	const query = `
		INSERT INTO escrows (
			id, client_id, arbitrator_account, title, description,
			duration_seconds, fee_period_seconds, extra_data, fund, highest_bid, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err := tx.Exec(ctx, query,
		e.ID, e.Client, e.ArbitratorAccount, e.Title, e.Description,
		int64(e.Duration/time.Second), int64(e.FeeDepositPeriod/time.Second),
		e.ExtraData, int64(e.Fund), int64(e.HighestBid), string(e.Status),
	)
	if err != nil {
		return fmt.Errorf("registry: insert escrow: %w", err)
	}
	return nil
}

const snapshotColumns = `
	id, client_id, freelancer_id, arbitrator_account, title, description,
	duration_seconds, fee_period_seconds, extra_data, fund, highest_bid, status,
	started_at, delivered_at, deadline,
	min_bid, auction_started_at, auction_end_at,
	dispute_id, client_fee, freelancer_fee, ruling, first_fee_at
`

// LockLoad loads a snapshot under FOR UPDATE so the operation holds the row
// until its transaction commits. Bids are loaded in submission order.
func (r *Repository) LockLoad(ctx context.Context, tx pgx.Tx, id string) (*escrow.Escrow, error) {
	row := tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	e, err := scanSnapshot(row)
	if err != nil {
		return nil, err
	}
	if e.Auction != nil {
		rows, err := tx.Query(ctx, `
			SELECT participant, amount FROM escrow_bids
			WHERE escrow_id = $1 ORDER BY idx
		`, id)
		if err != nil {
			return nil, fmt.Errorf("registry: load bids: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var b escrow.Bid
			var amount int64
			if err := rows.Scan(&b.Participant, &amount); err != nil {
				return nil, fmt.Errorf("registry: scan bid: %w", err)
			}
			b.Amount = uint64(amount)
			e.Auction.Bids = append(e.Auction.Bids, b)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("registry: iterate bids: %w", err)
		}
	}
	return e, nil
}

// Save writes the snapshot back and appends any new bids. Bid rows are
// immutable once written.
func (r *Repository) Save(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error {
	var (
		freelancer                   *string
		startedAt, deliveredAt       *time.Time
		deadline                     *time.Time
		minBid                       *int64
		auctionStartedAt, auctionEnd *time.Time
		disputeID                    *int64
		clientFee, freelancerFee     int64
		ruling                       *int16
		firstFeeAt                   *time.Time
	)
	if e.Freelancer != "" {
		freelancer = &e.Freelancer
	}
	if !e.StartedAt.IsZero() {
		startedAt = &e.StartedAt
	}
	if !e.DeliveredAt.IsZero() {
		deliveredAt = &e.DeliveredAt
	}
	if !e.Deadline.IsZero() {
		deadline = &e.Deadline
	}
	if a := e.Auction; a != nil {
		mb := int64(a.MinBid)
		minBid = &mb
		auctionStartedAt = &a.StartedAt
		auctionEnd = &a.EndAt
	}
	if d := e.Dispute; d != nil {
		if d.ID != 0 {
			id := int64(d.ID)
			disputeID = &id
		}
		clientFee = int64(d.ClientFee)
		freelancerFee = int64(d.FreelancerFee)
		if e.Status == escrow.StatusResolved {
			rl := int16(d.Ruling)
			ruling = &rl
		}
		firstFeeAt = &d.FirstFeeAt
	}

	const query = `
		UPDATE escrows SET
			freelancer_id = $2, fund = $3, highest_bid = $4, status = $5,
			started_at = $6, delivered_at = $7, deadline = $8,
			min_bid = $9, auction_started_at = $10, auction_end_at = $11,
			dispute_id = $12, client_fee = $13, freelancer_fee = $14,
			ruling = $15, first_fee_at = $16,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query,
		e.ID, freelancer, int64(e.Fund), int64(e.HighestBid), string(e.Status),
		startedAt, deliveredAt, deadline,
		minBid, auctionStartedAt, auctionEnd,
		disputeID, clientFee, freelancerFee, ruling, firstFeeAt,
	)
	if err != nil {
		return fmt.Errorf("registry: save escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if e.Auction == nil {
		// Abandoned auction: drop its (empty) bid log for a clean retry.
		if _, err := tx.Exec(ctx, `DELETE FROM escrow_bids WHERE escrow_id = $1`, e.ID); err != nil {
			return fmt.Errorf("registry: clear bids: %w", err)
		}
		return nil
	}
	for i, b := range e.Auction.Bids {
		_, err := tx.Exec(ctx, `
			INSERT INTO escrow_bids (escrow_id, idx, participant, amount)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (escrow_id, idx) DO NOTHING
		`, e.ID, i, b.Participant, int64(b.Amount))
		if err != nil {
			return fmt.Errorf("registry: insert bid: %w", err)
		}
	}
	return nil
}

// Get loads one escrow without locking, bids included.
func (r *Repository) Get(ctx context.Context, id string) (*escrow.Escrow, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanSnapshot(row)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT participant, amount FROM escrow_bids
		WHERE escrow_id = $1 ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("registry: load bids: %w", err)
	}
	defer rows.Close()
	var bids []escrow.Bid
	for rows.Next() {
		var b escrow.Bid
		var amount int64
		if err := rows.Scan(&b.Participant, &amount); err != nil {
			return nil, fmt.Errorf("registry: scan bid: %w", err)
		}
		b.Amount = uint64(amount)
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate bids: %w", err)
	}
	if e.Auction != nil {
		e.Auction.Bids = bids
	}
	return e, nil
}

// List returns escrow ids in creation order, the append-only index of every
// instance the factory ever produced. Optionally filtered by client.
func (r *Repository) List(ctx context.Context, clientID string, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT id FROM escrows`
	args := []any{}
	if clientID != "" {
		query += ` WHERE client_id = $1`
		args = append(args, clientID)
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("registry: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate: %w", err)
	}
	return ids, nil
}

// ListDue finds escrows whose temporal window elapsed and which anyone may
// push forward: lapsed verify windows, missed delivery deadlines, and
// expired fee-deposit windows.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]DueAction, error) {
	const query = `
		SELECT id, status, delivered_at, deadline, first_fee_at, fee_period_seconds
		FROM escrows
		WHERE status IN ('work_delivered', 'auction_completed', 'fee_deposited')
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("registry: list due: %w", err)
	}
	defer rows.Close()

	out := []DueAction{}
	for rows.Next() {
		var (
			id, status            string
			deliveredAt, deadline *time.Time
			firstFeeAt            *time.Time
			feePeriodSeconds      int64
		)
		if err := rows.Scan(&id, &status, &deliveredAt, &deadline, &firstFeeAt, &feePeriodSeconds); err != nil {
			return nil, fmt.Errorf("registry: scan due: %w", err)
		}
		switch escrow.Status(status) {
		case escrow.StatusWorkDelivered:
			if deliveredAt != nil && !now.Before(deliveredAt.Add(escrow.MaxVerifyPeriod)) {
				out = append(out, DueAction{EscrowID: id, Kind: DueClaimPayment})
			}
		case escrow.StatusAuctionCompleted:
			if deadline != nil && !now.Before(*deadline) {
				out = append(out, DueAction{EscrowID: id, Kind: DueReclaimFunds})
			}
		case escrow.StatusFeeDeposited:
			if firstFeeAt != nil && !now.Before(firstFeeAt.Add(time.Duration(feePeriodSeconds)*time.Second)) {
				out = append(out, DueAction{EscrowID: id, Kind: DueTimeOut})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate due: %w", err)
	}
	return out, nil
}

// ListEvents returns an escrow's timeline in append order.
func (r *Repository) ListEvents(ctx context.Context, escrowID string) ([]TimelineEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, type, payload, COALESCE(actor_id, ''), created_at
		FROM timeline_events
		WHERE escrow_id = $1
		ORDER BY id
	`, escrowID)
	if err != nil {
		return nil, fmt.Errorf("registry: list events: %w", err)
	}
	defer rows.Close()
	events := []TimelineEvent{}
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.EscrowID, &ev.Type, &ev.Payload, &ev.ActorID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate events: %w", err)
	}
	return events, nil
}

// AppendEvent writes one immutable timeline event inside tx.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("registry: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const query = `
		INSERT INTO timeline_events (escrow_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4)
	`
	if _, err := tx.Exec(ctx, query, escrowID, eventType, body, actor); err != nil {
		return fmt.Errorf("registry: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox records a notification for asynchronous delivery inside tx.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("registry: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("registry: enqueue outbox: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*escrow.Escrow, error) {
	var (
		e                            escrow.Escrow
		freelancer                   *string
		durationSeconds, feeSeconds  int64
		fund, highestBid             int64
		status                       string
		startedAt, deliveredAt       *time.Time
		deadline                     *time.Time
		minBid                       *int64
		auctionStartedAt, auctionEnd *time.Time
		disputeID                    *int64
		clientFee, freelancerFee     int64
		ruling                       *int16
		firstFeeAt                   *time.Time
	)
	err := row.Scan(
		&e.ID, &e.Client, &freelancer, &e.ArbitratorAccount, &e.Title, &e.Description,
		&durationSeconds, &feeSeconds, &e.ExtraData, &fund, &highestBid, &status,
		&startedAt, &deliveredAt, &deadline,
		&minBid, &auctionStartedAt, &auctionEnd,
		&disputeID, &clientFee, &freelancerFee, &ruling, &firstFeeAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: scan escrow: %w", err)
	}
	if freelancer != nil {
		e.Freelancer = *freelancer
	}
	e.Duration = time.Duration(durationSeconds) * time.Second
	e.FeeDepositPeriod = time.Duration(feeSeconds) * time.Second
	e.Fund = uint64(fund)
	e.HighestBid = uint64(highestBid)
	e.Status = escrow.Status(status)
	if startedAt != nil {
		e.StartedAt = *startedAt
	}
	if deliveredAt != nil {
		e.DeliveredAt = *deliveredAt
	}
	if deadline != nil {
		e.Deadline = *deadline
	}
	if auctionStartedAt != nil && auctionEnd != nil {
		a := &escrow.Auction{StartedAt: *auctionStartedAt, EndAt: *auctionEnd}
		if minBid != nil {
			a.MinBid = uint64(*minBid)
		}
		e.Auction = a
	}
	if firstFeeAt != nil {
		d := &escrow.Dispute{
			ClientFee:     uint64(clientFee),
			FreelancerFee: uint64(freelancerFee),
			FirstFeeAt:    *firstFeeAt,
		}
		if disputeID != nil {
			d.ID = uint64(*disputeID)
		}
		if ruling != nil {
			d.Ruling = escrow.Ruling(*ruling)
		}
		e.Dispute = d
	}
	return &e, nil
}
