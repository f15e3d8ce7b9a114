package escrow

import "context"

// DepositArbitrationFee escrows the caller's contribution toward the quoted
// arbitration cost. Within one call the caller's running total must reach
// the quote; partial totals only arise when the service re-quotes a higher
// cost later. Once both parties cover the quote the dispute is raised: the
// cost is forwarded to the arbitration service, each party's overpayment is
// refunded, and one fee remains in custody awaiting the ruling.
func (e *Escrow) DepositArbitrationFee(ctx context.Context, caller string, amount uint64) error {
	if err := e.guardStatus("deposit_arbitration_fee", StatusWorkRejected, StatusFeeDeposited); err != nil {
		return err
	}
	if err := e.authorize("deposit_arbitration_fee", caller, roleClientOrFreelancer); err != nil {
		return err
	}
	now := e.clock.Now()
	if e.Status == StatusFeeDeposited {
		windowEnd := e.Dispute.FirstFeeAt.Add(e.FeeDepositPeriod)
		if now.After(windowEnd) {
			return &PastDeadlineError{Op: "deposit_arbitration_fee", Deadline: windowEnd, Now: now}
		}
	}
	if amount > MaxAmount {
		return &OverMaximumError{Field: "amount", Max: MaxAmount, Got: amount}
	}
	cost, err := e.arb.ArbitrationCost(ctx, e.ExtraData)
	if err != nil {
		return err
	}

	d := e.Dispute
	if d == nil {
		d = &Dispute{}
	}
	var total uint64
	if caller == e.Client {
		total = d.ClientFee + amount
	} else {
		total = d.FreelancerFee + amount
	}
	if total < cost {
		return &InsufficientDepositError{Required: cost, Got: total}
	}
	if total > MaxAmount {
		return &OverMaximumError{Field: "fee_total", Max: MaxAmount, Got: total}
	}
	if caller == e.Client {
		d.ClientFee = total
	} else {
		d.FreelancerFee = total
	}
	if e.Dispute == nil {
		d.FirstFeeAt = now
		e.Dispute = d
	}

	if d.ClientFee >= cost && d.FreelancerFee >= cost {
		return e.raiseDispute(ctx, cost)
	}
	e.Status = StatusFeeDeposited
	return nil
}

// raiseDispute forwards exactly the quoted cost to the arbitration service,
// refunds each party's overpayment, and leaves one fee in custody. Custody
// afterwards is fund + highestBid + cost.
func (e *Escrow) raiseDispute(ctx context.Context, cost uint64) error {
	d := e.Dispute
	refundClient := d.ClientFee - cost
	refundFreelancer := d.FreelancerFee - cost
	d.ClientFee = cost
	d.FreelancerFee = cost
	e.Status = StatusDisputeCreated

	id, err := e.arb.CreateDispute(ctx, 2, e.ExtraData, cost)
	if err != nil {
		return err
	}
	d.ID = id

	if refundClient > 0 {
		if err := e.ledger.Transfer(ctx, e.Client, refundClient); err != nil {
			return err
		}
	}
	if refundFreelancer > 0 {
		if err := e.ledger.Transfer(ctx, e.Freelancer, refundFreelancer); err != nil {
			return err
		}
	}
	return nil
}

// TimeOut applies default judgment once the fee-deposit window lapsed
// without both parties covering the cost. Anyone may trigger it. The party
// who covered the quote takes the full custody plus their fee; a partial
// depositor is refunded exactly their partial fee. Terminal.
func (e *Escrow) TimeOut(ctx context.Context, caller string) error {
	if err := e.guardStatus("time_out", StatusFeeDeposited); err != nil {
		return err
	}
	if err := e.authorize("time_out", caller, roleAny); err != nil {
		return err
	}
	now := e.clock.Now()
	windowEnd := e.Dispute.FirstFeeAt.Add(e.FeeDepositPeriod)
	if now.Before(windowEnd) {
		return &TooEarlyError{Op: "time_out", NotBefore: windowEnd, Now: now}
	}
	cost, err := e.arb.ArbitrationCost(ctx, e.ExtraData)
	if err != nil {
		return err
	}

	d := e.Dispute
	pot := e.Fund + e.HighestBid
	clientMet := d.ClientFee >= cost
	freelancerMet := d.FreelancerFee >= cost
	var toClient, toFreelancer uint64
	switch {
	case clientMet && !freelancerMet:
		toClient = pot + d.ClientFee
		toFreelancer = d.FreelancerFee
	case freelancerMet && !clientMet:
		toFreelancer = pot + d.FreelancerFee
		toClient = d.ClientFee
	case clientMet && freelancerMet:
		// Both covered a quote that later dropped; treat like a refused
		// ruling: fees back, pot split rounding down.
		toClient = d.ClientFee + pot/2
		toFreelancer = d.FreelancerFee + pot/2
	default:
		// Neither side ever covered the quote. Fees go back and the pot
		// returns to the client, as the rejected delivery stood unchallenged.
		toClient = d.ClientFee + pot
		toFreelancer = d.FreelancerFee
	}
	return e.settle(ctx, StatusResolved,
		Payout{Account: e.Client, Amount: toClient},
		Payout{Account: e.Freelancer, Amount: toFreelancer},
	)
}

// Rule applies the arbitration service's decision. The caller must be the
// recorded arbitrator and disputeID must match; a repeat delivery finds the
// escrow already resolved and fails the status guard. One fee remains in
// custody at this point (the other was forwarded with the dispute), so the
// winner recovers theirs and a refused ruling splits what is left. Terminal.
func (e *Escrow) Rule(ctx context.Context, caller string, disputeID uint64, ruling Ruling) error {
	if err := e.guardStatus("rule", StatusDisputeCreated); err != nil {
		return err
	}
	if err := e.authorize("rule", caller, roleArbitrator); err != nil {
		return err
	}
	d := e.Dispute
	if disputeID != d.ID {
		return &InvalidIndexError{Got: disputeID, Limit: d.ID}
	}

	pot := e.Fund + e.HighestBid
	var toClient, toFreelancer uint64
	switch ruling {
	case RulingClient:
		toClient = pot + d.ClientFee
	case RulingFreelancer:
		toFreelancer = pot + d.FreelancerFee
	case RulingRefused:
		half := (pot + d.ClientFee) / 2
		toClient, toFreelancer = half, half
	default:
		return &InvalidIndexError{Got: uint64(ruling), Limit: uint64(RulingFreelancer)}
	}
	d.Ruling = ruling
	return e.settle(ctx, StatusResolved,
		Payout{Account: e.Client, Amount: toClient},
		Payout{Account: e.Freelancer, Amount: toFreelancer},
	)
}
