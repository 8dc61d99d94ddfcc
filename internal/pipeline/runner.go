package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/queue"
)

// Handler processes one envelope. The returned error's failure kind decides
// between ack, retry and dead-letter.
type Handler func(ctx context.Context, env models.Envelope) error

// ExhaustedHook runs after an envelope lands in the dead-letter table
type ExhaustedHook func(ctx context.Context, env models.Envelope, cause error)

// RunnerOptions bound one tick
type RunnerOptions struct {
	BatchSize   int
	Concurrency int
	Visibility  time.Duration
}

// TickResult counts what one tick did
type TickResult struct {
	Recovered    int64 `json:"recovered"`
	Processed    int   `json:"processed"`
	Acked        int   `json:"acked"`
	Retried      int   `json:"retried"`
	DeadLettered int   `json:"dead_lettered"`
}

func (r *TickResult) add(o TickResult) {
	r.Recovered += o.Recovered
	r.Processed += o.Processed
	r.Acked += o.Acked
	r.Retried += o.Retried
	r.DeadLettered += o.DeadLettered
}

// Runner drains the job queue cooperatively, one batch per Tick
type Runner struct {
	queue     *queue.Queue
	opts      RunnerOptions
	handlers  map[models.TaskKind]Handler
	exhausted map[models.TaskKind]ExhaustedHook
	log       zerolog.Logger

	mu sync.Mutex // serializes ticks
}

func NewRunner(q *queue.Queue, opts RunnerOptions, log zerolog.Logger) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 15 * time.Minute
	}
	return &Runner{
		queue:     q,
		opts:      opts,
		handlers:  make(map[models.TaskKind]Handler),
		exhausted: make(map[models.TaskKind]ExhaustedHook),
		log:       log,
	}
}

// Handle registers the handler for kind
func (r *Runner) Handle(kind models.TaskKind, h Handler) {
	r.handlers[kind] = h
}

// OnExhausted registers a dead-letter hook for kind
func (r *Runner) OnExhausted(kind models.TaskKind, h ExhaustedHook) {
	r.exhausted[kind] = h
}

// Tick recovers stale in-flight envelopes, dequeues one batch and processes
// it with bounded concurrency.
func (r *Runner) Tick(ctx context.Context) (TickResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res TickResult
	recovered, err := r.queue.Recover(ctx, r.opts.Visibility)
	if err != nil {
		return res, fmt.Errorf("recover inflight: %w", err)
	}
	res.Recovered = recovered

	batch, err := r.queue.DequeueBatch(ctx, r.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("dequeue batch: %w", err)
	}
	if len(batch) == 0 {
		return res, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, r.opts.Concurrency)

	for _, env := range batch {
		semaphore <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			one := r.process(ctx, env)
			mu.Lock()
			res.add(one)
			mu.Unlock()
		}()
	}
	wg.Wait()

	r.log.Debug().
		Int("processed", res.Processed).
		Int("acked", res.Acked).
		Int("retried", res.Retried).
		Int("dead_lettered", res.DeadLettered).
		Msg("Queue tick finished")
	return res, nil
}

// Drain ticks until the queue has nothing visible or maxTicks is reached
func (r *Runner) Drain(ctx context.Context, maxTicks int) (TickResult, error) {
	var total TickResult
	for i := 0; i < maxTicks; i++ {
		res, err := r.Tick(ctx)
		total.add(res)
		if err != nil {
			return total, err
		}
		if res.Processed == 0 {
			break
		}
	}
	return total, nil
}

func (r *Runner) process(ctx context.Context, env models.Envelope) TickResult {
	res := TickResult{Processed: 1}
	log := r.log.With().Int64("envelope_id", env.ID).Str("kind", string(env.Kind)).Logger()

	handler, ok := r.handlers[env.Kind]
	var err error
	if !ok {
		err = failure.Configurationf("dispatch", fmt.Errorf("no handler for task kind %q", env.Kind))
	} else {
		err = r.safeRun(ctx, handler, env)
	}

	switch kind := failure.KindOf(err); {
	case err == nil:
		if ackErr := r.queue.Ack(ctx, env); ackErr != nil {
			log.Error().Err(ackErr).Msg("Failed to ack envelope")
			return res
		}
		res.Acked++
	case kind == failure.NotFound:
		log.Warn().Err(err).Msg("Referenced entity is gone, dropping envelope")
		if ackErr := r.queue.Ack(ctx, env); ackErr != nil {
			log.Error().Err(ackErr).Msg("Failed to ack envelope")
			return res
		}
		res.Acked++
	default:
		outcome, failErr := r.queue.Fail(ctx, env, err, kind == failure.Transient, failure.RetryAfter(err))
		if failErr != nil {
			log.Error().Err(failErr).Msg("Failed to record envelope failure")
			return res
		}
		switch outcome {
		case queue.Requeued:
			res.Retried++
		case queue.DeadLettered:
			res.DeadLettered++
			if hook, ok := r.exhausted[env.Kind]; ok {
				hook(ctx, env, err)
			}
		}
	}
	return res
}

// safeRun turns a handler panic into a transient failure so the batch continues
func (r *Runner) safeRun(ctx context.Context, h Handler, env models.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = failure.Transientf("dispatch", fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return h(ctx, env)
}
