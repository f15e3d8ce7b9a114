package escrow

import (
	"context"
	"math"
	"time"
)

const (
	// MaxAuctionDuration bounds the bidding window a client may open.
	MaxAuctionDuration = 30 * 24 * time.Hour
	// MaxVerifyPeriod is how long the client has to verify or reject a
	// delivery before anyone may claim the payment for the freelancer.
	MaxVerifyPeriod = 2 * 24 * time.Hour
	// MaxAmount bounds any single value movement. Amounts live in signed
	// 64-bit columns in the store; anything larger would change sign on
	// the way through.
	MaxAmount uint64 = math.MaxInt64
)

// Clock supplies the ambient time. It must be monotonic non-decreasing but
// may repeat across calls in the same instant.
type Clock interface {
	Now() time.Time
}

// Ledger moves value out of escrow custody to a final recipient. A failed
// transfer must surface as an error; the surrounding transaction treats it as
// unrecoverable.
type Ledger interface {
	Transfer(ctx context.Context, account string, amount uint64) error
}

// Arbitrator is the external arbitration service: it quotes the cost of a
// dispute and opens one, with the quoted cost forwarded as value. Rulings
// come back through Escrow.Rule at the service's own pace.
type Arbitrator interface {
	ArbitrationCost(ctx context.Context, extraData []byte) (uint64, error)
	CreateDispute(ctx context.Context, choices uint64, extraData []byte, value uint64) (uint64, error)
}

// Ruling is the arbitration service's decision on a dispute.
type Ruling int16

const (
	// RulingRefused means the service declined to pick a side; custody is
	// split evenly, rounding down.
	RulingRefused    Ruling = 0
	RulingClient     Ruling = 1
	RulingFreelancer Ruling = 2
)

// Bid is a single auction entry. Past bids are kept for history; only the
// last one still holds custody.
type Bid struct {
	Participant string
	Amount      uint64
}

// Auction is the reverse-auction window owned by an escrow. Bids are
// append-only; every bid strictly exceeds the previous highest and all but
// the last have already been refunded.
type Auction struct {
	Bids      []Bid
	MinBid    uint64
	StartedAt time.Time
	EndAt     time.Time
}

// Dispute tracks arbitration fee custody per party. It is created lazily on
// the first fee deposit and consumed by settlement.
type Dispute struct {
	ID            uint64
	ClientFee     uint64
	FreelancerFee uint64
	Ruling        Ruling
	FirstFeeAt    time.Time
}

// Escrow is one project's escrow instance: metadata, custody balances,
// deadlines, and the lifecycle status, with the auction and dispute it owns.
// All mutation goes through the operation methods; callers outside the
// package treat the fields as a read-only snapshot.
type Escrow struct {
	ID          string
	Client      string
	Freelancer  string
	Title       string
	Description string

	// Duration is how long the freelancer has to deliver once work starts.
	Duration         time.Duration
	FeeDepositPeriod time.Duration

	Fund       uint64
	HighestBid uint64

	StartedAt   time.Time
	DeliveredAt time.Time
	Deadline    time.Time

	Status  Status
	Auction *Auction
	Dispute *Dispute

	// ArbitratorAccount is the only identity allowed to deliver rulings; it
	// also receives the forwarded arbitration fee.
	ArbitratorAccount string
	ExtraData         []byte

	clock  Clock
	ledger Ledger
	arb    Arbitrator
}

// Params carries the immutable inputs the factory supplies at creation.
type Params struct {
	ID                string
	Client            string
	Title             string
	Description       string
	Duration          time.Duration
	ArbitratorAccount string
	ExtraData         []byte
	FeeDepositPeriod  time.Duration
}

// New validates params and returns a fresh escrow in the initialized status.
func New(p Params, clock Clock, ledger Ledger, arb Arbitrator) (*Escrow, error) {
	if p.Client == "" {
		return nil, &InvalidAddressError{Field: "client", Got: p.Client}
	}
	if p.ArbitratorAccount == "" {
		return nil, &InvalidAddressError{Field: "arbitrator", Got: p.ArbitratorAccount}
	}
	if p.Duration <= 0 {
		return nil, &InvalidDurationError{Field: "duration", Got: p.Duration}
	}
	if p.FeeDepositPeriod <= 0 {
		return nil, &InvalidDurationError{Field: "fee_deposit_period", Got: p.FeeDepositPeriod}
	}
	e := &Escrow{
		ID:                p.ID,
		Client:            p.Client,
		Title:             p.Title,
		Description:       p.Description,
		Duration:          p.Duration,
		FeeDepositPeriod:  p.FeeDepositPeriod,
		ArbitratorAccount: p.ArbitratorAccount,
		ExtraData:         p.ExtraData,
		Status:            StatusInitialized,
	}
	e.Bind(clock, ledger, arb)
	return e, nil
}

// Bind attaches the external collaborators. The registry calls it after
// rehydrating a snapshot so transfers run inside the operation's transaction.
func (e *Escrow) Bind(clock Clock, ledger Ledger, arb Arbitrator) {
	e.clock = clock
	e.ledger = ledger
	e.arb = arb
}

// guardStatus rejects the operation unless the current status is one of want.
func (e *Escrow) guardStatus(op string, want ...Status) error {
	for _, s := range want {
		if e.Status == s {
			return nil
		}
	}
	return &UnexpectedStatusError{Op: op, Expected: want, Got: e.Status}
}

type role int

const (
	roleClient role = iota
	roleFreelancer
	roleClientOrFreelancer
	roleClientOrHighestBidder
	roleArbitrator
	roleAny
)

// counterpart is the freelancer-side identity: the current highest bidder
// while the auction runs, the assigned freelancer afterwards.
func (e *Escrow) counterpart() string {
	if e.Status == StatusAuctionStarted && e.Auction != nil && len(e.Auction.Bids) > 0 {
		return e.Auction.Bids[len(e.Auction.Bids)-1].Participant
	}
	return e.Freelancer
}

// authorize is the single caller-identity policy for every operation.
func (e *Escrow) authorize(op, caller string, r role) error {
	if caller == "" {
		return &InvalidAddressError{Field: "caller", Got: caller}
	}
	switch r {
	case roleAny:
		return nil
	case roleClient:
		if caller == e.Client {
			return nil
		}
		return &AccessDeniedError{Op: op, Expected: e.Client, Got: caller}
	case roleFreelancer:
		if cp := e.counterpart(); cp != "" && caller == cp {
			return nil
		}
		return &AccessDeniedError{Op: op, Expected: e.counterpart(), Got: caller}
	case roleClientOrFreelancer:
		if caller == e.Client {
			return nil
		}
		// With no counterpart established yet, the check degrades to client.
		if cp := e.counterpart(); cp != "" && caller == cp {
			return nil
		}
		return &AccessDeniedError{Op: op, Expected: "client or freelancer", Got: caller}
	case roleClientOrHighestBidder:
		if caller == e.Client {
			return nil
		}
		if e.Auction != nil && len(e.Auction.Bids) > 0 && caller == e.Auction.Bids[len(e.Auction.Bids)-1].Participant {
			return nil
		}
		return &AccessDeniedError{Op: op, Expected: "client or highest bidder", Got: caller}
	case roleArbitrator:
		if caller == e.ArbitratorAccount {
			return nil
		}
		return &AccessDeniedError{Op: op, Expected: e.ArbitratorAccount, Got: caller}
	}
	return &AccessDeniedError{Op: op, Expected: "known role", Got: caller}
}
