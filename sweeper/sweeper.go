// Package sweeper fires the time-triggered escrow operations: claiming
// payment after a silent verification window, reclaiming funds past the
// deadline, and timing out half-funded disputes.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hangleang/freescrow/registry"
)

// CallerID is the actor recorded on timeline events fired by the sweeper.
const CallerID = "sweeper"

// Registry is the slice of the escrow registry the sweeper drives.
type Registry interface {
	ClaimPayment(ctx context.Context, escrowID, caller string) error
	ReclaimFunds(ctx context.Context, escrowID, caller string) error
	TimeOut(ctx context.Context, escrowID, caller string) error
}

// DueLister reports escrows whose temporal windows have elapsed.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]registry.DueAction, error)
}

// Sweeper periodically scans for due escrows and applies the default
// operation for each. Individual failures are logged and skipped so one
// stuck escrow cannot block the rest of the batch.
type Sweeper struct {
	cron   *cron.Cron
	reg    Registry
	lister DueLister
	logger *zap.Logger
	now    func() time.Time
}

func New(reg Registry, lister DueLister, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cron:   cron.New(cron.WithSeconds()),
		reg:    reg,
		lister: lister,
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the clock used to decide due windows, for tests.
func (s *Sweeper) WithNow(fn func() time.Time) *Sweeper {
	s.now = fn
	return s
}

// Register schedules the sweep under the given cron expression.
func (s *Sweeper) Register(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("sweeper: register %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Sweep runs one pass over the due escrows. It returns the number of
// operations that succeeded.
func (s *Sweeper) Sweep(ctx context.Context) int {
	due, err := s.lister.ListDue(ctx, s.now())
	if err != nil {
		s.logger.Error("list due escrows", zap.Error(err))
		return 0
	}

	applied := 0
	for _, action := range due {
		if err := s.fire(ctx, action); err != nil {
			s.logger.Warn("due operation failed",
				zap.String("escrow_id", action.EscrowID),
				zap.String("kind", string(action.Kind)),
				zap.Error(err))
			continue
		}
		s.logger.Info("due operation applied",
			zap.String("escrow_id", action.EscrowID),
			zap.String("kind", string(action.Kind)))
		applied++
	}
	return applied
}

func (s *Sweeper) fire(ctx context.Context, action registry.DueAction) error {
	switch action.Kind {
	case registry.DueClaimPayment:
		return s.reg.ClaimPayment(ctx, action.EscrowID, CallerID)
	case registry.DueReclaimFunds:
		return s.reg.ReclaimFunds(ctx, action.EscrowID, CallerID)
	case registry.DueTimeOut:
		return s.reg.TimeOut(ctx, action.EscrowID, CallerID)
	default:
		return fmt.Errorf("sweeper: unknown due kind %q", action.Kind)
	}
}
