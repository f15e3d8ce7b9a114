package actors

import (
	"context"
	"math/rand"
	"time"

	"github.com/hangleang/freescrow/registry"
	"github.com/hangleang/freescrow/sweeper"
)

// Bidder keeps outbidding on the shared escrow from a pre-funded account.
// Rejections are routine under contention: stale floors, closed windows, and
// drained balances all surface as domain errors and are simply retried.
func Bidder(ctx context.Context, svc *registry.Service, escrowID, bidder string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := uint64(1 + rand.Intn(100))
		_ = svc.PlaceBid(ctx, escrowID, bidder, amount)
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Closer races to end the auction once its window elapses. At most one call
// can win; the rest bounce off the status guard.
func Closer(ctx context.Context, svc *registry.Service, escrowID, caller string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.EndAuction(ctx, escrowID, caller, time.Time{})
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Reader hammers the read path while writers hold row locks.
func Reader(ctx context.Context, repo *registry.Repository, escrowID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = repo.Get(ctx, escrowID)
		_, _ = repo.ListEvents(ctx, escrowID)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// OutboxWorker drains pending notifications concurrently with the writers.
func OutboxWorker(ctx context.Context, dispatcher *registry.OutboxDispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = dispatcher.Drain(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Sweep fires the time-triggered operations in a loop, racing the manual
// callers for the same transitions.
func Sweep(ctx context.Context, s *sweeper.Sweeper, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		s.Sweep(ctx)
		time.Sleep(200 * time.Millisecond)
	}
}
