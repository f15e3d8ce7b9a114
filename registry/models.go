// Package registry instantiates escrow instances, indexes them, and routes
// every lifecycle operation through one database transaction: lock the
// snapshot, rehydrate the domain object, apply the operation, persist,
// append a timeline event, enqueue an outbox notification.
package registry

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no escrow row exists for the identifier.
	ErrNotFound = errors.New("registry: escrow not found")
)

// Timeline event types, one per operation.
const (
	EventCreated        = "ESCROW_CREATED"
	EventDeposited      = "PAYMENT_DEPOSITED"
	EventAuctionStarted = "AUCTION_STARTED"
	EventAuctionEnded   = "AUCTION_ENDED"
	EventBidPlaced      = "BID_PLACED"
	EventDelivered      = "WORK_DELIVERED"
	EventVerified       = "DELIVERY_VERIFIED"
	EventRejected       = "DELIVERY_REJECTED"
	EventReleased       = "FUNDS_RELEASED"
	EventClaimed        = "PAYMENT_CLAIMED"
	EventReclaimed      = "FUNDS_RECLAIMED"
	EventClosed         = "PROJECT_CLOSED"
	EventFeeDeposited   = "ARBITRATION_FEE_DEPOSITED"
	EventTimedOut       = "DISPUTE_TIMED_OUT"
	EventRuled          = "DISPUTE_RULED"
)

// Outbox topics.
const (
	TopicCreated       = "escrow.created"
	TopicStatusChanged = "escrow.status_changed"
)

// CreateParams carries the factory inputs for a new escrow instance.
type CreateParams struct {
	Client           string
	Title            string
	Description      string
	Duration         time.Duration
	ExtraData        []byte
	FeeDepositPeriod time.Duration
}

// TimelineEvent is one row of an escrow's append-only history.
type TimelineEvent struct {
	ID        int64
	EscrowID  string
	Type      string
	Payload   json.RawMessage
	ActorID   string
	CreatedAt time.Time
}

// DueKind tags a time-triggered operation the sweeper may fire.
type DueKind string

const (
	DueClaimPayment DueKind = "claim_payment"
	DueReclaimFunds DueKind = "reclaim_funds"
	DueTimeOut      DueKind = "time_out"
)

// DueAction is one escrow whose temporal window has elapsed.
type DueAction struct {
	EscrowID string
	Kind     DueKind
}
