// Package debounce coalesces bursts of inbound messages into a single
// delayed agent cycle per conversation.
package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "debounce:"

// leaseSlack keeps the lease alive slightly past the job's fire time so a
// late-firing job still observes it.
const leaseSlack = 2 * time.Second

// Enqueuer schedules the delayed agent cycle job. Implemented by the task
// queue client.
type Enqueuer interface {
	EnqueueAgentCycle(ctx context.Context, conversationID uuid.UUID, delay time.Duration) error
}

// Debouncer maintains one debounce lease per conversation in Redis and
// guarantees at most one pending delayed job per burst.
type Debouncer struct {
	rdb      redis.UniversalClient
	enqueuer Enqueuer
	window   time.Duration
	now      func() time.Time
}

// New creates a Debouncer with the given debounce window.
func New(rdb redis.UniversalClient, enqueuer Enqueuer, window time.Duration) *Debouncer {
	return &Debouncer{rdb: rdb, enqueuer: enqueuer, window: window, now: time.Now}
}

// Schedule records an inbound message for a conversation. The first message
// of a burst creates a lease and enqueues exactly one delayed job; subsequent
// messages extend the lease and take over as its triggering message.
// Freshness at fire time comes from the aggregator re-reading pending
// messages, not from rescheduling.
func (d *Debouncer) Schedule(ctx context.Context, conversationID, messageID uuid.UUID) (time.Time, error) {
	key := keyPrefix + conversationID.String()
	runAt := d.now().Add(d.window)
	leaseTTL := d.window + leaseSlack
	lease := leaseValue(runAt, messageID)

	created, err := d.rdb.SetNX(ctx, key, lease, leaseTTL).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to write debounce lease: %w", err)
	}

	if !created {
		// Burst continuation: rewrite the lease with the new triggering
		// message and push its expiry out, keeping the pending job.
		if err := d.rdb.Set(ctx, key, lease, leaseTTL).Err(); err != nil {
			return time.Time{}, fmt.Errorf("failed to extend debounce lease: %w", err)
		}
		return runAt, nil
	}

	if err := d.enqueuer.EnqueueAgentCycle(ctx, conversationID, d.window); err != nil {
		// Roll the lease back so the next message can schedule again.
		d.rdb.Del(ctx, key)
		return time.Time{}, fmt.Errorf("failed to enqueue agent cycle: %w", err)
	}
	return runAt, nil
}

// leaseValue is the stored lease document: the scheduled fire time and the
// message that last extended the lease.
func leaseValue(runAt time.Time, messageID uuid.UUID) string {
	return runAt.UTC().Format(time.RFC3339Nano) + " " + messageID.String()
}

// Consume clears the conversation's debounce lease after a cycle has run.
func (d *Debouncer) Consume(ctx context.Context, conversationID uuid.UUID) error {
	if err := d.rdb.Del(ctx, keyPrefix+conversationID.String()).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to consume debounce lease: %w", err)
	}
	return nil
}
