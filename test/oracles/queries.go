package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_bid_ledger_monotonic",
			SQL: `WITH seqs AS (
                      SELECT escrow_id, idx, amount,
                             LAG(amount) OVER (PARTITION BY escrow_id ORDER BY idx) AS prev
                      FROM escrow_bids)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND amount <= prev`,
		},
		{
			Name: "O2_no_negative_balance",
			SQL:  `SELECT * FROM accounts WHERE balance < 0`,
		},
		{
			Name: "O3_highest_bid_matches_ledger",
			SQL: `SELECT e.id, e.highest_bid FROM escrows e
                  WHERE e.auction_started_at IS NOT NULL
                    AND e.status IN ('auction_started', 'auction_completed')
                    AND e.highest_bid <> COALESCE(
                        (SELECT b.amount FROM escrow_bids b
                         WHERE b.escrow_id = e.id ORDER BY b.idx DESC LIMIT 1), 0)`,
		},
		{
			Name: "O4_terminal_custody_zero",
			SQL: `SELECT id, status, fund, highest_bid, client_fee, freelancer_fee FROM escrows
                  WHERE status IN ('verified_and_payment_settled', 'resolved', 'reclaimed_and_closed')
                    AND (fund <> 0 OR highest_bid <> 0 OR client_fee <> 0 OR freelancer_fee <> 0)`,
		},
		{
			Name: "O5_status_valid",
			SQL: `SELECT id, status FROM escrows WHERE status NOT IN (
                      'initialized', 'payment_in_hold', 'auction_started', 'auction_completed',
                      'work_delivered', 'verified_and_payment_settled', 'work_rejected',
                      'fee_deposited', 'dispute_created', 'resolved', 'reclaimed_and_closed')`,
		},
		{
			Name: "O6_single_dispute_per_escrow",
			SQL: `SELECT escrow_id, COUNT(*) FROM disputes
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_every_escrow_has_created_event",
			SQL: `SELECT e.id FROM escrows e
                  WHERE NOT EXISTS (
                      SELECT 1 FROM timeline_events t
                      WHERE t.escrow_id = e.id AND t.type = 'ESCROW_CREATED')`,
		},
		{
			Name: "O8_outbox_sent_stamped",
			SQL:  `SELECT id FROM outbox WHERE status = 'sent' AND sent_at IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
