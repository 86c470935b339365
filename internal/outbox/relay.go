package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"go.uber.org/zap"
)

// Relay publishes committed outbox records to the bus. Records are marked
// published only after the bus acknowledged them, so a crash in between
// re-sends them (at-least-once).
type Relay struct {
	store    Store
	pub      events.Publisher
	log      *zap.Logger
	interval time.Duration
	batch    int
}

func NewRelay(store Store, pub events.Publisher, interval time.Duration, batch int, log *zap.Logger) *Relay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{store: store, pub: pub, log: log, interval: interval, batch: batch}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.log.Warn("outbox flush failed", zap.Error(err))
					}
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

// Flush publishes one batch of pending records and returns how many were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("load pending outbox: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	msgs := make([]events.Message, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, rec.Message())
		ids = append(ids, rec.ID)
	}
	if err := r.pub.Publish(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish outbox batch: %w", err)
	}
	if err := r.store.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	r.log.Debug("outbox flushed", zap.Int("count", len(recs)))
	return len(recs), nil
}
