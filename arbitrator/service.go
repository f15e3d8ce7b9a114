package arbitrator

import (
	"context"
	"fmt"

	"github.com/hangleang/freescrow/escrow"
)

// DisputeStore abstracts the repository for the service.
type DisputeStore interface {
	Get(ctx context.Context, id uint64) (Record, error)
}

// Ruler delivers a ruling into the escrow that raised the dispute. The
// registry implements it: the settlement and the ruled stamp on the dispute
// row commit in one transaction, and the escrow's status guard makes
// delivery exactly-once.
type Ruler interface {
	Rule(ctx context.Context, escrowID, caller string, disputeID uint64, ruling escrow.Ruling) error
}

// Service is a centralized arbitration service: a flat fee quote and rulings
// issued under a single arbitrator account.
type Service struct {
	store   DisputeStore
	fee     uint64
	account string
	ruler   Ruler
}

func NewService(store DisputeStore, fee uint64, account string) *Service {
	return &Service{store: store, fee: fee, account: account}
}

// SetRuler wires the ruling sink after both services exist.
func (s *Service) SetRuler(r Ruler) { s.ruler = r }

// Fee is the flat arbitration cost quoted for every dispute.
func (s *Service) Fee() uint64 { return s.fee }

// Account is the identity rulings are issued under; it also receives the
// forwarded arbitration fee.
func (s *Service) Account() string { return s.account }

// Rule resolves an open dispute by pushing the ruling into the escrow. The
// registry marks the row ruled while settling, so a failed delivery leaves
// it open and a later retry goes through.
func (s *Service) Rule(ctx context.Context, disputeID uint64, ruling escrow.Ruling) (Record, error) {
	if ruling < escrow.RulingRefused || ruling > escrow.RulingFreelancer {
		return Record{}, fmt.Errorf("arbitrator: invalid ruling %d", ruling)
	}
	rec, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusRuled {
		return Record{}, ErrAlreadyRuled
	}
	if s.ruler == nil {
		return Record{}, fmt.Errorf("arbitrator: no ruling sink wired")
	}
	if err := s.ruler.Rule(ctx, rec.EscrowID, s.account, disputeID, ruling); err != nil {
		return Record{}, err
	}
	return s.store.Get(ctx, disputeID)
}
