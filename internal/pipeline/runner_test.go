package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/queue"
	"github.com/bilgisen/newswire/internal/storage"
)

func newTestRunner(t *testing.T) (*Runner, *queue.Queue) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q := queue.New(s.DB(), queue.Options{MaxAttempts: 3, BaseBackoff: time.Nanosecond, MaxBackoff: time.Nanosecond}, zerolog.Nop())
	return NewRunner(q, RunnerOptions{BatchSize: 10, Concurrency: 3}, zerolog.Nop()), q
}

func TestRunnerAcksSuccessAndNotFound(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRunner(t)
	r.Handle(models.TaskEnrich, func(ctx context.Context, env models.Envelope) error { return nil })
	r.Handle(models.TaskImage, func(ctx context.Context, env models.Envelope) error {
		return failure.NotFoundf("image", failure.ErrNotFound)
	})

	q.Enqueue(ctx, models.TaskEnrich, models.FinishedPayload{FinishedID: 1}, "g")
	q.Enqueue(ctx, models.TaskImage, models.FinishedPayload{FinishedID: 2}, "g")

	res, err := r.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Acked != 2 {
		t.Errorf("result = %+v", res)
	}
	stats, _ := q.Stats(ctx)
	if stats.Pending != 0 || stats.Inflight != 0 || stats.Dead != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunnerRetriesTransientThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRunner(t)
	calls := 0
	r.Handle(models.TaskDistribute, func(ctx context.Context, env models.Envelope) error {
		calls++
		return failure.Transientf("deliver", errors.New("connection reset"))
	})
	var hooked int
	r.OnExhausted(models.TaskDistribute, func(ctx context.Context, env models.Envelope, cause error) {
		hooked++
	})

	q.Enqueue(ctx, models.TaskDistribute, models.DistributePayload{FinishedID: 1, SiteID: 1}, "g")

	var total TickResult
	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		res, err := r.Tick(ctx)
		if err != nil {
			t.Fatal(err)
		}
		total.add(res)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
	if total.Retried != 2 || total.DeadLettered != 1 || hooked != 1 {
		t.Errorf("result = %+v, hooked = %d", total, hooked)
	}
	dead, _ := q.DeadLetters(ctx, 10)
	if len(dead) != 1 {
		t.Errorf("got %d dead letters, want 1", len(dead))
	}
}

func TestRunnerInvalidIsNotRetried(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRunner(t)
	calls := 0
	r.Handle(models.TaskFilterBatch, func(ctx context.Context, env models.Envelope) error {
		calls++
		return failure.Invalidf("filter", failure.ErrInvalidResponse)
	})
	q.Enqueue(ctx, models.TaskFilterBatch, models.FilterBatchPayload{SettingID: 1}, "g")

	r.Drain(ctx, 5)
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	stats, _ := q.Stats(ctx)
	if stats.Dead != 1 {
		t.Errorf("dead = %d, want 1", stats.Dead)
	}
}

func TestRunnerSurvivesPanicsAndUnknownKinds(t *testing.T) {
	ctx := context.Background()
	r, q := newTestRunner(t)
	r.Handle(models.TaskEnrich, func(ctx context.Context, env models.Envelope) error {
		panic("boom")
	})
	q.Enqueue(ctx, models.TaskEnrich, models.FinishedPayload{FinishedID: 1}, "g")
	q.Enqueue(ctx, models.TaskSiteTerms, models.SiteTermsPayload{SiteID: 1}, "g")

	res, err := r.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Retried != 1 || res.DeadLettered != 1 {
		t.Errorf("result = %+v", res)
	}
}
