package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, opts Options) (*Queue, *clock) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	q := New(s.DB(), opts, zerolog.Nop())
	q.SetClock(c.now)
	return q, c
}

func TestDequeueBatchIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{})

	for i := int64(1); i <= 5; i++ {
		if _, err := q.Enqueue(ctx, models.TaskRewrite, models.ArticlePayload{ArticleID: i}, "setting:1"); err != nil {
			t.Fatal(err)
		}
	}

	first, err := q.DequeueBatch(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || len(second) != 2 {
		t.Fatalf("batch sizes = %d, %d; want 3, 2", len(first), len(second))
	}

	var order []int64
	for _, env := range append(first, second...) {
		var p models.ArticlePayload
		if err := env.Decode(&p); err != nil {
			t.Fatal(err)
		}
		order = append(order, p.ArticleID)
	}
	for i, id := range order {
		if id != int64(i+1) {
			t.Fatalf("order = %v, want 1..5", order)
		}
	}

	stats, _ := q.Stats(ctx)
	if stats.Inflight != 5 || stats.Pending != 0 {
		t.Errorf("stats = %+v", stats)
	}

	for _, env := range first {
		if err := q.Ack(ctx, env); err != nil {
			t.Fatal(err)
		}
	}
	stats, _ = q.Stats(ctx)
	if stats.Inflight != 2 {
		t.Errorf("inflight after ack = %d, want 2", stats.Inflight)
	}
}

func TestTransientRetriedThenDeadLetteredOnce(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t, Options{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute})

	if _, err := q.Enqueue(ctx, models.TaskEnrich, models.FinishedPayload{FinishedID: 9}, ""); err != nil {
		t.Fatal(err)
	}

	cause := errors.New("provider timeout")
	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		c.advance(time.Hour)
		batch, err := q.DequeueBatch(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) == 0 {
			break
		}
		out, err := q.Fail(ctx, batch[0], cause, true, 0)
		if err != nil {
			t.Fatal(err)
		}
		outcomes = append(outcomes, out)
	}

	want := []Outcome{Requeued, Requeued, DeadLettered}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("attempt %d outcome = %v, want %v", i+1, outcomes[i], want[i])
		}
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].Attempts != 3 || dead[0].Reason != "provider timeout" {
		t.Errorf("dead letter = %+v", dead[0])
	}
}

func TestFailNonRetryableGoesStraightToDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{MaxAttempts: 5})

	_, _ = q.Enqueue(ctx, models.TaskFilterBatch, models.FilterBatchPayload{SettingID: 1}, "setting:1")
	batch, _ := q.DequeueBatch(ctx, 1)
	out, err := q.Fail(ctx, batch[0], errors.New("unparseable"), false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out != DeadLettered {
		t.Errorf("outcome = %v, want dead_lettered", out)
	}
	stats, _ := q.Stats(ctx)
	if stats.Pending != 0 || stats.Inflight != 0 || stats.Dead != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBackoffDelaysVisibility(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t, Options{BaseBackoff: 10 * time.Second, MaxBackoff: time.Minute})

	_, _ = q.Enqueue(ctx, models.TaskImage, models.FinishedPayload{FinishedID: 1}, "")
	batch, _ := q.DequeueBatch(ctx, 1)
	if _, err := q.Fail(ctx, batch[0], errors.New("503"), true, 0); err != nil {
		t.Fatal(err)
	}

	if got, _ := q.DequeueBatch(ctx, 1); len(got) != 0 {
		t.Fatal("retried envelope visible before backoff elapsed")
	}
	c.advance(11 * time.Second)
	got, _ := q.DequeueBatch(ctx, 1)
	if len(got) != 1 || got[0].Attempts != 1 {
		t.Fatalf("after backoff got %+v", got)
	}

	// Retry-After overrides the computed delay.
	if _, err := q.Fail(ctx, got[0], errors.New("429"), true, 5*time.Minute); err != nil {
		t.Fatal(err)
	}
	c.advance(time.Minute)
	if got, _ := q.DequeueBatch(ctx, 1); len(got) != 0 {
		t.Fatal("retry-after not honoured")
	}
}

func TestKindAttemptLimit(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t, Options{MaxAttempts: 5, KindAttempts: map[models.TaskKind]int{models.TaskRewrite: 2}, BaseBackoff: time.Second})

	_, _ = q.Enqueue(ctx, models.TaskRewrite, models.ArticlePayload{ArticleID: 1}, "")
	batch, _ := q.DequeueBatch(ctx, 1)
	out, _ := q.Fail(ctx, batch[0], errors.New("x"), true, 0)
	if out != Requeued {
		t.Fatalf("first failure = %v", out)
	}
	c.advance(time.Minute)
	batch, _ = q.DequeueBatch(ctx, 1)
	out, _ = q.Fail(ctx, batch[0], errors.New("x"), true, 0)
	if out != DeadLettered {
		t.Errorf("second failure = %v, want dead_lettered", out)
	}
}

func TestRecoverAndCancel(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue(t, Options{})

	_, _ = q.Enqueue(ctx, models.TaskExtract, models.ExtractPayload{ArticleID: 1}, "setting:1")
	id2, _ := q.Enqueue(ctx, models.TaskExtract, models.ExtractPayload{ArticleID: 2}, "setting:1")
	_, _ = q.Enqueue(ctx, models.TaskExtract, models.ExtractPayload{ArticleID: 3}, "setting:2")

	batch, _ := q.DequeueBatch(ctx, 1)
	if len(batch) != 1 {
		t.Fatal("expected one envelope")
	}

	if n, _ := q.Recover(ctx, time.Minute); n != 0 {
		t.Errorf("recovered %d fresh envelopes", n)
	}
	c.advance(2 * time.Minute)
	if n, _ := q.Recover(ctx, time.Minute); n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}

	if err := q.Cancel(ctx, id2); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(ctx, id2); !errors.Is(err, ErrNotPending) {
		t.Errorf("second cancel err = %v", err)
	}
	n, err := q.CancelGroup(ctx, "setting:1")
	if err != nil || n != 1 {
		t.Errorf("CancelGroup = %d, %v; want 1", n, err)
	}

	stats, _ := q.Stats(ctx)
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
}
