package escrow

import "context"

// PlaceBid records a bid in the running auction. The first bid must exceed
// the floor, later ones the current highest. The superseded bidder is
// refunded immediately, so at most one non-winning bid ever holds custody.
func (e *Escrow) PlaceBid(ctx context.Context, caller string, amount uint64) error {
	if err := e.guardStatus("place_bid", StatusAuctionStarted); err != nil {
		return err
	}
	if err := e.authorize("place_bid", caller, roleAny); err != nil {
		return err
	}
	now := e.clock.Now()
	if now.After(e.Auction.EndAt) {
		return &PastDeadlineError{Op: "place_bid", Deadline: e.Auction.EndAt, Now: now}
	}
	if amount > MaxAmount {
		return &OverMaximumError{Field: "bid_amount", Max: MaxAmount, Got: amount}
	}
	floor := e.Auction.MinBid
	var prev *Bid
	if n := len(e.Auction.Bids); n > 0 {
		prev = &e.Auction.Bids[n-1]
		floor = prev.Amount
	}
	if amount <= floor {
		return &BelowMinimumError{Field: "bid_amount", Min: floor + 1, Got: amount}
	}
	e.Auction.Bids = append(e.Auction.Bids, Bid{Participant: caller, Amount: amount})
	if prev != nil {
		if err := e.ledger.Transfer(ctx, prev.Participant, prev.Amount); err != nil {
			return err
		}
	}
	return nil
}

// LastBid returns the current highest bid.
func (e *Escrow) LastBid() (Bid, error) {
	if e.Auction == nil || len(e.Auction.Bids) == 0 {
		return Bid{}, ErrNotYetDeposited
	}
	return e.Auction.Bids[len(e.Auction.Bids)-1], nil
}

// BidsCount returns how many bids were recorded.
func (e *Escrow) BidsCount() int {
	if e.Auction == nil {
		return 0
	}
	return len(e.Auction.Bids)
}

// BidAt returns the bid at index i in submission order.
func (e *Escrow) BidAt(i int) (Bid, error) {
	n := e.BidsCount()
	if i < 0 || i >= n {
		return Bid{}, &InvalidIndexError{Got: uint64(i), Limit: uint64(n)}
	}
	return e.Auction.Bids[i], nil
}
