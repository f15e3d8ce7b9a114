package escrow

// Status is the lifecycle state of an escrow. Transitions are validated by
// every operation before any field is mutated.
type Status string

const (
	StatusInitialized        Status = "initialized"
	StatusPaymentInHold      Status = "payment_in_hold"
	StatusAuctionStarted     Status = "auction_started"
	StatusAuctionCompleted   Status = "auction_completed"
	StatusWorkDelivered      Status = "work_delivered"
	StatusVerifiedAndSettled Status = "verified_and_payment_settled"
	StatusWorkRejected       Status = "work_rejected"
	StatusFeeDeposited       Status = "fee_deposited"
	StatusDisputeCreated     Status = "dispute_created"
	StatusResolved           Status = "resolved"
	StatusReclaimedAndClosed Status = "reclaimed_and_closed"
)

// Terminal reports whether the status has no outgoing transitions. Custody
// balances are zero from the moment a terminal status is entered.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerifiedAndSettled, StatusResolved, StatusReclaimedAndClosed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitialized, StatusPaymentInHold, StatusAuctionStarted,
		StatusAuctionCompleted, StatusWorkDelivered, StatusVerifiedAndSettled,
		StatusWorkRejected, StatusFeeDeposited, StatusDisputeCreated,
		StatusResolved, StatusReclaimedAndClosed:
		return true
	default:
		return false
	}
}
