package escrow

import (
	"context"
	"fmt"
)

// Payout is one final transfer computed by a terminal operation.
type Payout struct {
	Account string
	Amount  uint64
}

// settle is the single exit path for every terminal transition. Custody
// fields are zeroed and the terminal status committed before any transfer
// runs, so a reentrant call observes the terminal status and fails its
// guard. Zero amounts are skipped.
func (e *Escrow) settle(ctx context.Context, terminal Status, payouts ...Payout) error {
	if !terminal.Terminal() {
		return fmt.Errorf("escrow: settle into non-terminal status %s", terminal)
	}
	e.Fund = 0
	e.HighestBid = 0
	if e.Dispute != nil {
		e.Dispute.ClientFee = 0
		e.Dispute.FreelancerFee = 0
	}
	e.Status = terminal
	for _, p := range payouts {
		if p.Amount == 0 {
			continue
		}
		if err := e.ledger.Transfer(ctx, p.Account, p.Amount); err != nil {
			return fmt.Errorf("escrow: settle transfer to %s: %w", p.Account, err)
		}
	}
	return nil
}
