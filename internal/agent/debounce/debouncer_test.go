package debounce

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeEnqueuer struct {
	calls []time.Duration
	err   error
}

func (f *fakeEnqueuer) EnqueueAgentCycle(_ context.Context, _ uuid.UUID, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, delay)
	return nil
}

func newTestDebouncer(t *testing.T, window time.Duration) (*Debouncer, *fakeEnqueuer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	enq := &fakeEnqueuer{}
	return New(rdb, enq, window), enq, mr
}

func TestBurstEnqueuesSingleJob(t *testing.T) {
	debouncer, enq, _ := newTestDebouncer(t, 5*time.Second)
	ctx := context.Background()
	convID := uuid.New()

	for i := 0; i < 4; i++ {
		if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err != nil {
			t.Fatalf("Schedule #%d returned error: %v", i+1, err)
		}
	}

	if len(enq.calls) != 1 {
		t.Fatalf("expected exactly 1 enqueued job for a burst, got %d", len(enq.calls))
	}
	if enq.calls[0] != 5*time.Second {
		t.Fatalf("expected delay of 5s, got %v", enq.calls[0])
	}
}

func TestNewBurstAfterConsumeEnqueuesAgain(t *testing.T) {
	debouncer, enq, _ := newTestDebouncer(t, 5*time.Second)
	ctx := context.Background()
	convID := uuid.New()

	if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if err := debouncer.Consume(ctx, convID); err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err != nil {
		t.Fatalf("Schedule after consume returned error: %v", err)
	}

	if len(enq.calls) != 2 {
		t.Fatalf("expected 2 enqueued jobs across 2 bursts, got %d", len(enq.calls))
	}
}

func TestLeaseExpiryAllowsNewJob(t *testing.T) {
	debouncer, enq, mr := newTestDebouncer(t, 5*time.Second)
	ctx := context.Background()
	convID := uuid.New()

	if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	mr.FastForward(8 * time.Second)

	if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err != nil {
		t.Fatalf("Schedule after expiry returned error: %v", err)
	}
	if len(enq.calls) != 2 {
		t.Fatalf("expected a new job after lease expiry, got %d total", len(enq.calls))
	}
}

func TestLeaseTracksLatestTriggeringMessage(t *testing.T) {
	debouncer, _, mr := newTestDebouncer(t, 5*time.Second)
	ctx := context.Background()
	convID := uuid.New()
	first := uuid.New()
	second := uuid.New()

	if _, err := debouncer.Schedule(ctx, convID, first); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	lease, err := mr.Get("debounce:" + convID.String())
	if err != nil {
		t.Fatalf("failed to read lease: %v", err)
	}
	if !strings.Contains(lease, first.String()) {
		t.Fatalf("expected lease to record message %s, got %q", first, lease)
	}

	if _, err := debouncer.Schedule(ctx, convID, second); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	lease, err = mr.Get("debounce:" + convID.String())
	if err != nil {
		t.Fatalf("failed to read lease: %v", err)
	}
	if !strings.Contains(lease, second.String()) {
		t.Fatalf("expected lease to record message %s, got %q", second, lease)
	}
}

func TestConversationsDebounceIndependently(t *testing.T) {
	debouncer, enq, _ := newTestDebouncer(t, 5*time.Second)
	ctx := context.Background()

	if _, err := debouncer.Schedule(ctx, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if _, err := debouncer.Schedule(ctx, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	if len(enq.calls) != 2 {
		t.Fatalf("expected one job per conversation, got %d", len(enq.calls))
	}
}

func TestEnqueueFailureRollsBackLease(t *testing.T) {
	debouncer, enq, _ := newTestDebouncer(t, 5*time.Second)
	ctx := context.Background()
	convID := uuid.New()

	enq.err = errors.New("queue down")
	if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err == nil {
		t.Fatal("expected error when enqueue fails")
	}

	enq.err = nil
	if _, err := debouncer.Schedule(ctx, convID, uuid.New()); err != nil {
		t.Fatalf("Schedule after recovery returned error: %v", err)
	}
	if len(enq.calls) != 1 {
		t.Fatalf("expected the retry to enqueue a job, got %d", len(enq.calls))
	}
}
