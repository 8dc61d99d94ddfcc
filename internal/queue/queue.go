package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/models"
)

const (
	statusPending  = "pending"
	statusInflight = "inflight"
)

// Options tune retry behaviour
type Options struct {
	MaxAttempts  int
	KindAttempts map[models.TaskKind]int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Queue is a durable FIFO of task envelopes stored in the job_queue table.
// It runs no goroutines of its own; a caller dequeues, processes and then
// acks or fails each envelope.
type Queue struct {
	db   *sql.DB
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

func New(db *sql.DB, opts Options, log zerolog.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	return &Queue{db: db, opts: opts, log: log, now: time.Now}
}

// SetClock overrides the time source
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue appends an envelope at the tail
func (q *Queue) Enqueue(ctx context.Context, kind models.TaskKind, payload any, groupID string) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO job_queue (kind, payload, group_id, attempts, status, available_at, enqueued_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		kind, string(raw), groupID, statusPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	q.log.Debug().Int64("envelope_id", id).Str("kind", string(kind)).Str("group", groupID).Msg("Enqueued")
	return id, nil
}

// DequeueBatch pops up to max visible pending envelopes in insertion order
// and marks them in-flight
func (q *Queue) DequeueBatch(ctx context.Context, max int) ([]models.Envelope, error) {
	if max <= 0 {
		return nil, nil
	}
	now := q.now().UnixMilli()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, payload, group_id, attempts, enqueued_at FROM job_queue
		WHERE status = ? AND available_at <= ?
		ORDER BY id LIMIT ?`,
		statusPending, now, max)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	var batch []models.Envelope
	for rows.Next() {
		var (
			env      models.Envelope
			payload  string
			enqueued int64
		)
		if err := rows.Scan(&env.ID, &env.Kind, &payload, &env.GroupID, &env.Attempts, &enqueued); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		env.Payload = json.RawMessage(payload)
		env.EnqueuedAt = time.UnixMilli(enqueued).UTC()
		batch = append(batch, env)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	rows.Close()

	for _, env := range batch {
		if _, err := tx.ExecContext(ctx,
			`UPDATE job_queue SET status = ?, started_at = ? WHERE id = ?`,
			statusInflight, now, env.ID); err != nil {
			return nil, fmt.Errorf("mark in-flight: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}
	return batch, nil
}

// Ack removes a processed envelope
func (q *Queue) Ack(ctx context.Context, env models.Envelope) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE id = ?`, env.ID); err != nil {
		return fmt.Errorf("ack envelope %d: %w", env.ID, err)
	}
	return nil
}

// Outcome is what Fail did with an envelope
type Outcome int

const (
	Requeued Outcome = iota
	DeadLettered
	// Dropped means the envelope was no longer in the queue
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Requeued:
		return "requeued"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "dropped"
	}
}

// Fail re-appends the envelope at the tail when retryable and under its
// attempt limit, otherwise moves it to dead_letters with cause as the reason.
// retryAfter, when positive, overrides the computed backoff.
func (q *Queue) Fail(ctx context.Context, env models.Envelope, cause error, retryable bool, retryAfter time.Duration) (Outcome, error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	attempts := env.Attempts + 1
	now := q.now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM job_queue WHERE id = ?`, env.ID)
	if err != nil {
		return 0, fmt.Errorf("remove envelope %d: %w", env.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Dropped, nil
	}

	outcome := DeadLettered
	if retryable && attempts < q.limit(env.Kind) {
		delay := retryAfter
		if delay <= 0 {
			delay = q.backoff(env.Attempts)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_queue (kind, payload, group_id, attempts, status, available_at, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			env.Kind, string(env.Payload), env.GroupID, attempts, statusPending,
			now.Add(delay).UnixMilli(), env.EnqueuedAt.UnixMilli()); err != nil {
			return 0, fmt.Errorf("requeue envelope %d: %w", env.ID, err)
		}
		outcome = Requeued
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (envelope_id, kind, payload, group_id, attempts, reason, failed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(envelope_id) DO NOTHING`,
			env.ID, env.Kind, string(env.Payload), env.GroupID, attempts, reason, now.UnixMilli()); err != nil {
			return 0, fmt.Errorf("dead-letter envelope %d: %w", env.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit fail: %w", err)
	}

	q.log.Warn().
		Int64("envelope_id", env.ID).
		Str("kind", string(env.Kind)).
		Int("attempts", attempts).
		Str("outcome", outcome.String()).
		Str("reason", reason).
		Msg("Envelope failed")
	return outcome, nil
}

func (q *Queue) limit(kind models.TaskKind) int {
	if n, ok := q.opts.KindAttempts[kind]; ok && n > 0 {
		return n
	}
	return q.opts.MaxAttempts
}

func (q *Queue) backoff(attempts int) time.Duration {
	d := q.opts.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

// Recover returns in-flight envelopes older than visibility to pending so a
// crashed consumer's work is redelivered
func (q *Queue) Recover(ctx context.Context, visibility time.Duration) (int64, error) {
	cutoff := q.now().Add(-visibility).UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = ?, started_at = 0
		WHERE status = ? AND started_at <= ?`,
		statusPending, statusInflight, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight: %w", err)
	}
	n, err := res.RowsAffected()
	if n > 0 {
		q.log.Warn().Int64("count", n).Msg("Recovered stale in-flight envelopes")
	}
	return n, err
}

// ErrNotPending is returned by Cancel for envelopes already in flight or gone
var ErrNotPending = errors.New("envelope is not pending")

// Cancel drops one pending envelope
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE id = ? AND status = ?`, id, statusPending)
	if err != nil {
		return fmt.Errorf("cancel envelope %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotPending
	}
	return nil
}

// CancelGroup drops every pending envelope of a group and returns how many were removed
func (q *Queue) CancelGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE group_id = ? AND status = ?`, groupID, statusPending)
	if err != nil {
		return 0, fmt.Errorf("cancel group %s: %w", groupID, err)
	}
	return res.RowsAffected()
}

// Stats summarizes the queue
type Stats struct {
	Pending  int `json:"pending"`
	Inflight int `json:"inflight"`
	Dead     int `json:"dead"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM job_queue WHERE status = ?),
			(SELECT COUNT(*) FROM job_queue WHERE status = ?),
			(SELECT COUNT(*) FROM dead_letters)`,
		statusPending, statusInflight).Scan(&s.Pending, &s.Inflight, &s.Dead)
	if err != nil {
		return s, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

// DeadLetters lists the most recent dead letters first
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, envelope_id, kind, payload, group_id, attempts, reason, failed_at
		FROM dead_letters ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []models.DeadLetter
	for rows.Next() {
		var (
			dl      models.DeadLetter
			payload string
			failed  int64
		)
		if err := rows.Scan(&dl.ID, &dl.EnvelopeID, &dl.Kind, &payload, &dl.GroupID, &dl.Attempts, &dl.Reason, &failed); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.Payload = json.RawMessage(payload)
		dl.FailedAt = time.UnixMilli(failed).UTC()
		out = append(out, dl)
	}
	return out, rows.Err()
}
