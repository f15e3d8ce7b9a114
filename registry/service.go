package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hangleang/freescrow/escrow"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the snapshot persistence the service drives.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error
	LockLoad(ctx context.Context, tx pgx.Tx, id string) (*escrow.Escrow, error)
	Save(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error
	AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType, actorID string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Accounts is the tx-scoped slice of the ledger the service needs.
type Accounts interface {
	DebitTx(ctx context.Context, tx pgx.Tx, account string, amount uint64) error
	CreditTx(ctx context.Context, tx pgx.Tx, account string, amount uint64) error
}

// Disputes maintains dispute rows for the arbitration service. Both calls
// run inside the escrow operation's transaction so the dispute bookkeeping
// and the escrow snapshot commit together.
type Disputes interface {
	CreateTx(ctx context.Context, tx pgx.Tx, escrowID string, choices uint64) (uint64, error)
	MarkRuledTx(ctx context.Context, tx pgx.Tx, id uint64, ruling int16) error
}

// Service is the factory/registry and the single entry point for every
// escrow operation.
type Service struct {
	pool     TxBeginner
	store    Store
	accounts Accounts
	disputes Disputes

	arbFee     uint64
	arbAccount string

	clock escrow.Clock
	idGen func() string
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func NewService(pool TxBeginner, store Store, accounts Accounts, disputes Disputes, arbFee uint64, arbAccount string) *Service {
	return &Service{
		pool:       pool,
		store:      store,
		accounts:   accounts,
		disputes:   disputes,
		arbFee:     arbFee,
		arbAccount: arbAccount,
		clock:      realClock{},
		idGen:      uuid.NewString,
	}
}

// WithClock overrides the ambient clock, for tests and simulations.
func (s *Service) WithClock(c escrow.Clock) *Service {
	s.clock = c
	return s
}

// txLedger settles custody into accounts within the operation's transaction.
type txLedger struct {
	tx       pgx.Tx
	accounts Accounts
}

func (l *txLedger) Transfer(ctx context.Context, account string, amount uint64) error {
	return l.accounts.CreditTx(ctx, l.tx, account, amount)
}

// txArbitrator quotes the configured fee and opens dispute rows, crediting
// the forwarded cost to the arbitrator account.
type txArbitrator struct {
	tx       pgx.Tx
	svc      *Service
	escrowID string
}

func (a *txArbitrator) ArbitrationCost(context.Context, []byte) (uint64, error) {
	return a.svc.arbFee, nil
}

func (a *txArbitrator) CreateDispute(ctx context.Context, choices uint64, _ []byte, value uint64) (uint64, error) {
	if err := a.svc.accounts.CreditTx(ctx, a.tx, a.svc.arbAccount, value); err != nil {
		return 0, err
	}
	return a.svc.disputes.CreateTx(ctx, a.tx, a.escrowID, choices)
}

// Create instantiates and indexes a new escrow. The creation notification
// goes through the outbox in the same transaction.
func (s *Service) Create(ctx context.Context, p CreateParams) (*escrow.Escrow, error) {
	e, err := escrow.New(escrow.Params{
		ID:                s.idGen(),
		Client:            p.Client,
		Title:             p.Title,
		Description:       p.Description,
		Duration:          p.Duration,
		ArbitratorAccount: s.arbAccount,
		ExtraData:         p.ExtraData,
		FeeDepositPeriod:  p.FeeDepositPeriod,
	}, s.clock, nil, nil)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Insert(ctx, tx, e); err != nil {
		return nil, err
	}
	if err := s.store.AppendEvent(ctx, tx, e.ID, EventCreated, p.Client, map[string]any{
		"title":            e.Title,
		"duration_seconds": int64(e.Duration / time.Second),
	}); err != nil {
		return nil, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicCreated, map[string]any{
		"escrow_id": e.ID,
		"client_id": e.Client,
		"title":     e.Title,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("registry: commit create: %w", err)
	}
	return e, nil
}

// apply runs one lifecycle operation as a single transaction: lock, load,
// rehydrate, mutate, persist, record. Ledger movement and the arbitration
// dispute row share the transaction, so a failed transfer rolls the whole
// operation back and the all-or-nothing guarantee holds.
func (s *Service) apply(ctx context.Context, escrowID, eventType, actorID string, extra map[string]any, op func(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := s.store.LockLoad(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	e.Bind(s.clock, &txLedger{tx: tx, accounts: s.accounts}, &txArbitrator{tx: tx, svc: s, escrowID: escrowID})

	previous := e.Status
	if err := op(ctx, tx, e); err != nil {
		return err
	}
	if err := s.store.Save(ctx, tx, e); err != nil {
		return err
	}

	payload := map[string]any{
		"previous_status": string(previous),
		"next_status":     string(e.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.store.AppendEvent(ctx, tx, escrowID, eventType, actorID, payload); err != nil {
		return err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicStatusChanged, map[string]any{
		"escrow_id": escrowID,
		"event":     eventType,
		"previous":  string(previous),
		"next":      string(e.Status),
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: commit %s: %w", eventType, err)
	}
	return nil
}

// Deposit debits the client's account and funds the escrow, optionally
// opening the auction in the same call.
func (s *Service) Deposit(ctx context.Context, escrowID, caller string, amount uint64, auctionDuration time.Duration, minBid uint64) error {
	return s.apply(ctx, escrowID, EventDeposited, caller, map[string]any{"amount": amount},
		func(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error {
			if err := s.accounts.DebitTx(ctx, tx, caller, amount); err != nil {
				return err
			}
			return e.Deposit(ctx, caller, amount, auctionDuration, minBid)
		})
}

func (s *Service) StartAuction(ctx context.Context, escrowID, caller string, auctionDuration time.Duration, minBid uint64) error {
	return s.apply(ctx, escrowID, EventAuctionStarted, caller, map[string]any{"min_bid": minBid},
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.StartAuction(ctx, caller, auctionDuration, minBid)
		})
}

func (s *Service) EndAuction(ctx context.Context, escrowID, caller string, requestedStart time.Time) error {
	return s.apply(ctx, escrowID, EventAuctionEnded, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.EndAuction(ctx, caller, requestedStart)
		})
}

// PlaceBid debits the bidder and records the bid; the superseded bidder's
// refund is credited back in the same transaction.
func (s *Service) PlaceBid(ctx context.Context, escrowID, caller string, amount uint64) error {
	return s.apply(ctx, escrowID, EventBidPlaced, caller, map[string]any{"amount": amount},
		func(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error {
			if err := s.accounts.DebitTx(ctx, tx, caller, amount); err != nil {
				return err
			}
			return e.PlaceBid(ctx, caller, amount)
		})
}

func (s *Service) ConfirmDelivered(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventDelivered, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.ConfirmDelivered(ctx, caller)
		})
}

func (s *Service) VerifyDelivered(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventVerified, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.VerifyDelivered(ctx, caller)
		})
}

func (s *Service) RejectDelivered(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventRejected, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.RejectDelivered(ctx, caller)
		})
}

func (s *Service) ReleaseFunds(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventReleased, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.ReleaseFunds(ctx, caller)
		})
}

func (s *Service) ClaimPayment(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventClaimed, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.ClaimPayment(ctx, caller)
		})
}

func (s *Service) ReclaimFunds(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventReclaimed, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.ReclaimFunds(ctx, caller)
		})
}

func (s *Service) CloseProject(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventClosed, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.CloseProject(ctx, caller)
		})
}

func (s *Service) DepositArbitrationFee(ctx context.Context, escrowID, caller string, amount uint64) error {
	return s.apply(ctx, escrowID, EventFeeDeposited, caller, map[string]any{"amount": amount},
		func(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error {
			if err := s.accounts.DebitTx(ctx, tx, caller, amount); err != nil {
				return err
			}
			return e.DepositArbitrationFee(ctx, caller, amount)
		})
}

func (s *Service) TimeOut(ctx context.Context, escrowID, caller string) error {
	return s.apply(ctx, escrowID, EventTimedOut, caller, nil,
		func(ctx context.Context, _ pgx.Tx, e *escrow.Escrow) error {
			return e.TimeOut(ctx, caller)
		})
}

// Rule delivers an arbitration ruling into the escrow. It implements the
// arbitration service's ruling sink. The dispute row is stamped ruled in
// the same transaction as the settlement, so a failure anywhere leaves the
// row open and the delivery retryable.
func (s *Service) Rule(ctx context.Context, escrowID, caller string, disputeID uint64, ruling escrow.Ruling) error {
	return s.apply(ctx, escrowID, EventRuled, caller, map[string]any{
		"dispute_id": disputeID,
		"ruling":     int16(ruling),
	}, func(ctx context.Context, tx pgx.Tx, e *escrow.Escrow) error {
		if err := e.Rule(ctx, caller, disputeID, ruling); err != nil {
			return err
		}
		return s.disputes.MarkRuledTx(ctx, tx, disputeID, int16(ruling))
	})
}
