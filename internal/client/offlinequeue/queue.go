package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"pospay.backend/internal/client/api"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/pkg/logger"
	"pospay.backend/pkg/utils"
)

const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = time.Minute
)

// Sender delivers one job to the server.
type Sender interface {
	SubmitOffline(ctx context.Context, jobID uuid.UUID, jobType string, intent json.RawMessage) (*entities.OfflineOutcome, error)
}

// Result reports what happened to a job that left the queue. Err is set when the
// server permanently rejected it.
type Result struct {
	JobID   uuid.UUID
	JobType string
	Outcome *entities.OfflineOutcome
	Err     error
}

// DrainSummary counts what one drain pass did.
type DrainSummary struct {
	Delivered int
	Dropped   int
	Remaining int
	// LastError is the transient failure that stopped the pass, if any.
	LastError error
}

type Option func(*Queue)

func WithBackoff(base, max time.Duration) Option {
	return func(q *Queue) {
		if base > 0 {
			q.backoffBase = base
		}
		if max > 0 {
			q.backoffMax = max
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is the device's durable offline submission queue. Jobs leave strictly in
// FIFO order: a head job that keeps failing transiently blocks the ones behind it.
type Queue struct {
	store  *Store
	sender Sender

	backoffBase time.Duration
	backoffMax  time.Duration
	now         func() time.Time

	wake      chan struct{}
	resetDue  atomic.Bool
	drainMu   sync.Mutex
	handlerMu sync.RWMutex
	onResult  func(Result)
}

func New(store *Store, sender Sender, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		sender:      sender,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// OnDrainResult registers the callback invoked for every job that leaves the queue.
func (q *Queue) OnDrainResult(fn func(Result)) {
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	q.onResult = fn
}

// Enqueue persists a job and returns its id. It never touches the network.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (uuid.UUID, error) {
	if jobType == "" {
		return uuid.Nil, errors.New("job type is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	jobID := utils.GenerateUUIDv7()
	now := q.now()
	job := &Job{
		JobID:         jobID,
		JobType:       jobType,
		Payload:       body,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := q.store.Append(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist job: %w", err)
	}

	logger.Info(ctx, "Offline job queued", zap.String("job_id", jobID.String()), zap.String("job_type", jobType))
	q.signal()
	return jobID, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.store.Count(ctx)
	return int(n), err
}

// Jobs lists the queued jobs in delivery order.
func (q *Queue) Jobs(ctx context.Context) ([]Job, error) {
	return q.store.List(ctx)
}

// Notify tells the drain loop connectivity is back. Pending backoff is skipped.
func (q *Queue) Notify() {
	q.resetDue.Store(true)
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done, waking on Enqueue, Notify and the
// backoff timer.
func (q *Queue) Run(ctx context.Context) error {
	logger.Info(ctx, "Offline queue drain loop started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Offline queue drain loop stopped")
			return nil
		case <-q.wake:
		case <-timer.C:
		}

		wait, err := q.drain(ctx, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "Offline queue drain failed", zap.Error(err))
			wait = q.backoffBase
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if wait > 0 {
			timer.Reset(wait)
		}
	}
}

// DrainOnce attempts every eligible job now, ignoring the backoff schedule, and
// stops at the first transient failure.
func (q *Queue) DrainOnce(ctx context.Context) (DrainSummary, error) {
	var summary DrainSummary
	_, err := q.drainInto(ctx, true, &summary)
	if err != nil {
		return summary, err
	}
	n, err := q.store.Count(ctx)
	if err != nil {
		return summary, err
	}
	summary.Remaining = int(n)
	return summary, nil
}

func (q *Queue) drain(ctx context.Context, force bool) (time.Duration, error) {
	var summary DrainSummary
	return q.drainInto(ctx, force, &summary)
}

// drainInto processes head jobs until the queue is empty, the head is not yet
// due, or the head failed transiently. It returns how long to wait before the
// head becomes due again; zero means nothing is scheduled.
func (q *Queue) drainInto(ctx context.Context, force bool, summary *DrainSummary) (time.Duration, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	if force || q.resetDue.Swap(false) {
		if err := q.store.ResetSchedule(ctx, q.now()); err != nil {
			return 0, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		job, err := q.store.Head(ctx)
		if err != nil {
			return 0, err
		}
		if job == nil {
			return 0, nil
		}

		now := q.now()
		if job.NextAttemptAt.After(now) {
			return job.NextAttemptAt.Sub(now), nil
		}

		outcome, sendErr := q.sender.SubmitOffline(ctx, job.JobID, job.JobType, json.RawMessage(job.Payload))
		switch {
		case sendErr == nil:
			if err := q.store.Remove(ctx, job.JobID); err != nil {
				return 0, err
			}
			summary.Delivered++
			logger.Info(ctx, "Offline job delivered",
				zap.String("job_id", job.JobID.String()),
				zap.String("request_id", outcome.RequestID.String()),
				zap.Bool("duplicate", outcome.Duplicate),
			)
			q.emit(Result{JobID: job.JobID, JobType: job.JobType, Outcome: outcome})

		case api.IsPermanent(sendErr):
			if err := q.store.Remove(ctx, job.JobID); err != nil {
				return 0, err
			}
			summary.Dropped++
			logger.Warn(ctx, "Offline job rejected", zap.String("job_id", job.JobID.String()), zap.Error(sendErr))
			q.emit(Result{JobID: job.JobID, JobType: job.JobType, Err: sendErr})

		default:
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			attempts := job.AttemptCount + 1
			delay := q.backoff(attempts)
			var te *api.TransientError
			if errors.As(sendErr, &te) && te.RetryAfter > delay {
				delay = te.RetryAfter
			}
			if err := q.store.RecordFailure(ctx, job.JobID, attempts, sendErr.Error(), now.Add(delay)); err != nil {
				return 0, err
			}
			summary.LastError = sendErr
			logger.Warn(ctx, "Offline job delivery failed, will retry",
				zap.String("job_id", job.JobID.String()),
				zap.Int("attempt", attempts),
				zap.Duration("retry_in", delay),
				zap.Error(sendErr),
			)
			return delay, nil
		}
	}
}

// backoff doubles from the base per attempt and is capped at the max.
func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.backoffMax {
			return q.backoffMax
		}
	}
	if delay > q.backoffMax {
		return q.backoffMax
	}
	return delay
}

func (q *Queue) emit(r Result) {
	q.handlerMu.RLock()
	fn := q.onResult
	q.handlerMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}
