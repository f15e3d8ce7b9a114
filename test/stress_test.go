package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hangleang/freescrow/arbitrator"
	"github.com/hangleang/freescrow/escrow"
	"github.com/hangleang/freescrow/ledger"
	"github.com/hangleang/freescrow/registry"
	"github.com/hangleang/freescrow/test/actors"
	"github.com/hangleang/freescrow/test/chaos"
	"github.com/hangleang/freescrow/test/infra"
	"github.com/hangleang/freescrow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent bidders")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

const (
	clientSeed = uint64(10_000)
	bidderSeed = uint64(1_000)
	arbFee     = uint64(10)
	arbAccount = "arbitration-pool"
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestAuctionConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("FREESCROW_TEST_PG_DSN") != "":
		dsn = os.Getenv("FREESCROW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no docker and no local postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplySchema(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	accounts := ledger.NewRepository(pool)
	escrowRepo := registry.NewRepository(pool)
	disputeRepo := arbitrator.NewRepository(pool)
	svc := registry.NewService(pool, escrowRepo, accounts, disputeRepo, arbFee, arbAccount)
	dispatcher := registry.NewOutboxDispatcher(pool, nil, time.Second)

	// seed accounts and one escrow with an auction spanning the whole run
	client := "stress-client"
	if err := accounts.Deposit(ctx, client, clientSeed); err != nil {
		t.Fatalf("seed client account: %v", err)
	}
	bidders := make([]string, *flConcurrency)
	for i := range bidders {
		bidders[i] = fmt.Sprintf("stress-bidder-%d", i)
		if err := accounts.Deposit(ctx, bidders[i], bidderSeed); err != nil {
			t.Fatalf("seed bidder account: %v", err)
		}
	}
	total := clientSeed + uint64(len(bidders))*bidderSeed

	e, err := svc.Create(ctx, registry.CreateParams{
		Client:           client,
		Title:            "stress auction",
		Duration:         time.Hour,
		FeeDepositPeriod: time.Hour,
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := svc.Deposit(ctx, e.ID, client, 1_000, *flDuration, 1); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, bidder := range bidders {
		bidder := bidder
		g.Go(func() error { return actors.Bidder(ctx2, svc, e.ID, bidder, stop) })
	}
	g.Go(func() error { return actors.Closer(ctx2, svc, e.ID, client, stop) })
	g.Go(func() error { return actors.Reader(ctx2, escrowRepo, e.ID, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, dispatcher, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// let the auction settle: one of these wins, the rest is tolerated
	endCtx, endCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer endCancel()
	_ = svc.EndAuction(endCtx, e.ID, client, time.Time{})

	final, err := escrowRepo.Get(endCtx, e.ID)
	if err != nil {
		t.Fatalf("load final snapshot: %v", err)
	}
	if final.Status != escrow.StatusAuctionCompleted && final.Status != escrow.StatusPaymentInHold {
		t.Fatalf("unexpected final status %s", final.Status)
	}
	if final.Status == escrow.StatusAuctionCompleted && final.Freelancer == "" {
		t.Fatal("auction completed without a winner")
	}

	// conservation: everything seeded is either in an account or in custody
	var balances int64
	if err := pool.QueryRow(endCtx, `SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&balances); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	custody := final.Fund + final.HighestBid
	if uint64(balances)+custody != total {
		dumpRecent(t, endCtx, pool)
		t.Fatalf("conservation violated: balances %d + custody %d != seeded %d (seed=%d)", balances, custody, total, seed)
	}

	if name, row, err := oracles.Run(endCtx, pool); err != nil {
		t.Fatalf("final oracle error: %v", err)
	} else if name != "" {
		dumpRecent(t, endCtx, pool)
		t.Fatalf("Oracle %s failed after settling. First row: %s (seed=%d)", name, row, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"escrows", `SELECT id, status, fund, highest_bid, freelancer_id FROM escrows ORDER BY created_at DESC LIMIT 10`},
		{"escrow_bids", `SELECT escrow_id, idx, participant, amount FROM escrow_bids ORDER BY idx DESC LIMIT 50`},
		{"accounts", `SELECT id, balance FROM accounts ORDER BY id LIMIT 50`},
		{"timeline_events", `SELECT id, escrow_id, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
