// Package eventbus delivers durable outbox triggers to external systems.
//
// The dispatcher polls the outbox and hands due messages to a handler.
// Delivery is at-least-once: a message is only finalized after the
// handler returns, and failures retry with exponential backoff until
// the attempt budget runs out.
package eventbus

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/questline/internal/storage"
)

// Handler delivers one outbox message. Returning an error schedules a
// retry.
type Handler func(ctx context.Context, message storage.OutboxMessage) error

const (
	defaultInterval    = time.Second
	defaultBatchSize   = 32
	defaultMaxAttempts = 8
	defaultBackoff     = 2 * time.Second
)

// Dispatcher polls the outbox and delivers due messages.
type Dispatcher struct {
	Store   storage.OutboxStore
	Handler Handler

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
	Now         func() time.Time
}

func (d *Dispatcher) interval() time.Duration {
	if d.Interval > 0 {
		return d.Interval
	}
	return defaultInterval
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return defaultBatchSize
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return defaultMaxAttempts
}

func (d *Dispatcher) backoff() time.Duration {
	if d.Backoff > 0 {
		return d.Backoff
	}
	return defaultBackoff
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				log.Printf("level=error msg=\"outbox dispatch\" error=%q", err)
			}
		}
	}
}

// DispatchOnce delivers one batch of due messages and returns how many
// were handled successfully.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.now()
	due, err := d.Store.DuePending(ctx, now, d.batchSize())
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, message := range due {
		if err := d.Handler(ctx, message); err != nil {
			dead := message.Attempts+1 >= d.maxAttempts()
			next := now.Add(d.backoff() << uint(message.Attempts))
			if markErr := d.Store.MarkFailed(ctx, message.ID, next, dead); markErr != nil {
				return delivered, markErr
			}
			log.Printf("level=warn msg=\"trigger delivery failed\" id=%s topic=%s attempt=%d dead=%t error=%q",
				message.ID, message.Topic, message.Attempts+1, dead, err)
			continue
		}
		if err := d.Store.MarkDelivered(ctx, message.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
