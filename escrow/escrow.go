package escrow

import (
	"context"
	"time"
)

// Deposit funds the escrow with amount and moves it into payment-in-hold.
// A non-zero auctionDuration immediately opens the bidding window. The
// initialized status is left permanently on the first successful call.
func (e *Escrow) Deposit(ctx context.Context, caller string, amount uint64, auctionDuration time.Duration, minBid uint64) error {
	if err := e.authorize("deposit", caller, roleClient); err != nil {
		return err
	}
	if err := e.guardStatus("deposit", StatusInitialized); err != nil {
		return err
	}
	if amount == 0 {
		return &InsufficientDepositError{Required: 1, Got: 0}
	}
	if amount > MaxAmount {
		return &OverMaximumError{Field: "amount", Max: MaxAmount, Got: amount}
	}
	// Validate the auction window up front so a rejected window leaves the
	// escrow untouched in initialized.
	if auctionDuration != 0 {
		if err := validateAuctionWindow(auctionDuration, minBid, amount); err != nil {
			return err
		}
	}
	e.Fund += amount
	e.Status = StatusPaymentInHold
	if auctionDuration != 0 {
		return e.StartAuction(ctx, caller, auctionDuration, minBid)
	}
	return nil
}

func validateAuctionWindow(auctionDuration time.Duration, minBid, fund uint64) error {
	if auctionDuration <= 0 {
		return &InvalidDurationError{Field: "auction_duration", Got: auctionDuration}
	}
	if auctionDuration > MaxAuctionDuration {
		return &OverMaximumError{
			Field: "auction_duration_seconds",
			Max:   uint64(MaxAuctionDuration / time.Second),
			Got:   uint64(auctionDuration / time.Second),
		}
	}
	if minBid >= fund {
		return &OverMaximumError{Field: "min_bid", Max: fund - 1, Got: minBid}
	}
	return nil
}

// StartAuction opens the reverse auction over [now, now+auctionDuration).
func (e *Escrow) StartAuction(_ context.Context, caller string, auctionDuration time.Duration, minBid uint64) error {
	if err := e.authorize("start_auction", caller, roleClient); err != nil {
		return err
	}
	if err := e.guardStatus("start_auction", StatusPaymentInHold); err != nil {
		return err
	}
	if err := validateAuctionWindow(auctionDuration, minBid, e.Fund); err != nil {
		return err
	}
	now := e.clock.Now()
	e.Auction = &Auction{
		MinBid:    minBid,
		StartedAt: now,
		EndAt:     now.Add(auctionDuration),
	}
	e.Status = StatusAuctionStarted
	return nil
}

// EndAuction closes the bidding window once it has elapsed. With no bids the
// escrow falls back to payment-in-hold so the client can retry or abandon.
// Otherwise the highest bidder becomes the freelancer, the work window
// starts at requestedStart (zero means now), and the deadline is derived.
func (e *Escrow) EndAuction(_ context.Context, caller string, requestedStart time.Time) error {
	if err := e.guardStatus("end_auction", StatusAuctionStarted); err != nil {
		return err
	}
	if err := e.authorize("end_auction", caller, roleClientOrHighestBidder); err != nil {
		return err
	}
	now := e.clock.Now()
	if now.Before(e.Auction.EndAt) {
		return &TooEarlyError{Op: "end_auction", NotBefore: e.Auction.EndAt, Now: now}
	}
	if len(e.Auction.Bids) == 0 {
		e.Auction = nil
		e.Status = StatusPaymentInHold
		return nil
	}
	start := requestedStart
	if start.IsZero() {
		start = now
	} else if start.Before(now) {
		return &PastDeadlineError{Op: "end_auction", Deadline: start, Now: now}
	}
	winner := e.Auction.Bids[len(e.Auction.Bids)-1]
	e.Freelancer = winner.Participant
	e.HighestBid = winner.Amount
	e.StartedAt = start
	e.Deadline = start.Add(e.Duration)
	e.Status = StatusAuctionCompleted
	return nil
}

// ConfirmDelivered records the freelancer's delivery before the deadline.
func (e *Escrow) ConfirmDelivered(_ context.Context, caller string) error {
	if err := e.guardStatus("confirm_delivered", StatusAuctionCompleted); err != nil {
		return err
	}
	if err := e.authorize("confirm_delivered", caller, roleFreelancer); err != nil {
		return err
	}
	now := e.clock.Now()
	if !now.Before(e.Deadline) {
		return &PastDeadlineError{Op: "confirm_delivered", Deadline: e.Deadline, Now: now}
	}
	e.DeliveredAt = now
	e.Status = StatusWorkDelivered
	return nil
}

// VerifyDelivered accepts the delivery and settles the full custody to the
// freelancer. Terminal.
func (e *Escrow) VerifyDelivered(ctx context.Context, caller string) error {
	if err := e.guardStatus("verify_delivered", StatusWorkDelivered); err != nil {
		return err
	}
	if err := e.authorize("verify_delivered", caller, roleClient); err != nil {
		return err
	}
	if err := e.guardVerifyWindow("verify_delivered"); err != nil {
		return err
	}
	payout := e.Fund + e.HighestBid
	return e.settle(ctx, StatusVerifiedAndSettled, Payout{Account: e.Freelancer, Amount: payout})
}

// RejectDelivered refuses the delivery, opening the dispute path. Rejection
// is not final: the client may still release, or either party escrows
// arbitration fees.
func (e *Escrow) RejectDelivered(_ context.Context, caller string) error {
	if err := e.guardStatus("reject_delivered", StatusWorkDelivered); err != nil {
		return err
	}
	if err := e.authorize("reject_delivered", caller, roleClient); err != nil {
		return err
	}
	if err := e.guardVerifyWindow("reject_delivered"); err != nil {
		return err
	}
	e.Status = StatusWorkRejected
	return nil
}

// ReleaseFunds pays the freelancer after a rejection. Terminal.
func (e *Escrow) ReleaseFunds(ctx context.Context, caller string) error {
	if err := e.guardStatus("release_funds", StatusWorkRejected); err != nil {
		return err
	}
	if err := e.authorize("release_funds", caller, roleClient); err != nil {
		return err
	}
	payout := e.Fund + e.HighestBid
	return e.settle(ctx, StatusVerifiedAndSettled, Payout{Account: e.Freelancer, Amount: payout})
}

// ClaimPayment releases funds to the freelancer once the client let the
// verify window lapse without a verdict. Anyone may trigger it. Terminal.
func (e *Escrow) ClaimPayment(ctx context.Context, caller string) error {
	if err := e.guardStatus("claim_payment", StatusWorkDelivered); err != nil {
		return err
	}
	if err := e.authorize("claim_payment", caller, roleAny); err != nil {
		return err
	}
	now := e.clock.Now()
	notBefore := e.DeliveredAt.Add(MaxVerifyPeriod)
	if now.Before(notBefore) {
		return &TooEarlyError{Op: "claim_payment", NotBefore: notBefore, Now: now}
	}
	payout := e.Fund + e.HighestBid
	return e.settle(ctx, StatusVerifiedAndSettled, Payout{Account: e.Freelancer, Amount: payout})
}

// ReclaimFunds refunds the client when the freelancer never delivered by the
// deadline. Anyone may trigger it. Terminal.
func (e *Escrow) ReclaimFunds(ctx context.Context, caller string) error {
	if err := e.guardStatus("reclaim_funds", StatusAuctionCompleted); err != nil {
		return err
	}
	if err := e.authorize("reclaim_funds", caller, roleAny); err != nil {
		return err
	}
	now := e.clock.Now()
	if now.Before(e.Deadline) {
		return &TooEarlyError{Op: "reclaim_funds", NotBefore: e.Deadline, Now: now}
	}
	payout := e.Fund + e.HighestBid
	return e.settle(ctx, StatusReclaimedAndClosed, Payout{Account: e.Client, Amount: payout})
}

// CloseProject refunds the client while the escrow is still in hold with no
// auction running. Terminal.
func (e *Escrow) CloseProject(ctx context.Context, caller string) error {
	if err := e.guardStatus("close_project", StatusPaymentInHold); err != nil {
		return err
	}
	if err := e.authorize("close_project", caller, roleClient); err != nil {
		return err
	}
	payout := e.Fund + e.HighestBid
	return e.settle(ctx, StatusReclaimedAndClosed, Payout{Account: e.Client, Amount: payout})
}

func (e *Escrow) guardVerifyWindow(op string) error {
	now := e.clock.Now()
	deadline := e.DeliveredAt.Add(MaxVerifyPeriod)
	if now.After(deadline) {
		return &PastDeadlineError{Op: op, Deadline: deadline, Now: now}
	}
	return nil
}
