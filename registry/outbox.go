package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// OutboxDispatcher drains pending outbox rows and publishes them. Delivery
// here is the structured log stream; downstream consumers tail it or replace
// Publish with a broker client.
type OutboxDispatcher struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	interval time.Duration
	batch    int
}

func NewOutboxDispatcher(pool *pgxpool.Pool, logger *zap.Logger, interval time.Duration) *OutboxDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxDispatcher{pool: pool, logger: logger, interval: interval, batch: 100}
}

// Run polls until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil {
				d.logger.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain claims one batch of pending rows and publishes them. SKIP LOCKED
// keeps concurrent dispatchers from double-delivering.
func (d *OutboxDispatcher) Drain(ctx context.Context) error {
	rows, err := d.pool.Query(ctx, `
		UPDATE outbox SET status = 'sent', attempts = attempts + 1, sent_at = now()
		WHERE id IN (
			SELECT id FROM outbox WHERE status = 'pending'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, payload
	`, d.batch)
	if err != nil {
		return fmt.Errorf("registry: claim outbox batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			topic   string
			payload []byte
		)
		if err := rows.Scan(&id, &topic, &payload); err != nil {
			return fmt.Errorf("registry: scan outbox row: %w", err)
		}
		d.logger.Info("outbox message delivered",
			zap.Int64("id", id),
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
		)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("registry: iterate outbox batch: %w", err)
	}
	return nil
}
