// Package engine implements the work registry described in spec section 4.3:
// a dynamically growing, dedup'd graph of asynchronous tasks that the rest of
// pushl submits work into, with quiescence detection at the top level.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel/codes"

	"pushl/internal/domain/entity"
	"pushl/internal/observability/logging"
	"pushl/internal/observability/metrics"
	"pushl/internal/observability/tracing"
)

// TaskFunc is the body of a unit of work submitted to the Scheduler. It
// receives a context carrying the task's correlation ID and the run's
// cancellation signal.
type TaskFunc func(ctx context.Context) error

// Scheduler owns the pool of in-flight tasks. It is safe for concurrent use;
// tasks submit further work into it from their own goroutines.
//
// Dedup is by (kind, key): a second Submit for an already-known key attaches
// to nothing and simply returns, matching spec section 4.3 ("a resubmit is a
// no-op"). Submission is fire-and-forget — callers never block waiting on a
// submitted task's result, which is what lets a task spawn children without
// risking self-deadlock under the global concurrency cap (spec section 9).
type Scheduler struct {
	ctx context.Context

	mu        sync.Mutex
	cond      *sync.Cond
	tasks     map[string]*entity.State
	submitted int64
	completed int64
	running   int64
	failed    int64
}

// New returns a Scheduler bound to ctx. When ctx is cancelled, any blocked
// AwaitQuiescent call returns ctx.Err() instead of waiting forever for tasks
// that will never reach a terminal state.
func New(ctx context.Context) *Scheduler {
	s := &Scheduler{
		ctx:   ctx,
		tasks: make(map[string]*entity.State),
	}
	s.cond = sync.NewCond(&s.mu)

	go func() {
		<-ctx.Done()
		s.cond.Broadcast()
	}()

	return s
}

// Submit enqueues fn under (kind, key) unless a task with that key already
// exists for this process run, in which case Submit is a no-op. The
// submitted-count is incremented synchronously, before Submit returns to its
// caller, so that a task calling Submit just before it completes is always
// observed by AwaitQuiescent ahead of that task's own completion.
func (s *Scheduler) Submit(kind entity.Kind, key string, fn TaskFunc) {
	full := entity.TaskKey(kind, key)

	s.mu.Lock()
	if _, exists := s.tasks[full]; exists {
		s.mu.Unlock()
		return
	}
	pending := entity.StatePending
	s.tasks[full] = &pending
	s.submitted++
	s.mu.Unlock()

	metrics.RecordTaskSubmitted(string(kind))

	taskID := uuid.NewString()
	go s.run(kind, full, taskID, fn)
}

func (s *Scheduler) run(kind entity.Kind, full, taskID string, fn TaskFunc) {
	s.mu.Lock()
	running := entity.StateRunning
	s.tasks[full] = &running
	s.running++
	metrics.SetTasksRunning(int(s.running))
	s.mu.Unlock()

	taskCtx := logging.WithTaskIDValue(s.ctx, taskID)
	taskCtx, span := tracing.GetTracer().Start(taskCtx, string(kind))
	defer span.End()

	err := fn(taskCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	s.mu.Lock()
	s.running--
	s.completed++
	metrics.SetTasksRunning(int(s.running))
	final := entity.StateDone
	outcome := "done"
	if err != nil {
		final = entity.StateFailed
		outcome = "failed"
		s.failed++
	}
	s.tasks[full] = &final
	s.cond.Broadcast()
	s.mu.Unlock()

	metrics.RecordTaskCompleted(string(kind), outcome)
}

// AwaitQuiescent blocks until every submitted task (transitively) has
// reached a terminal state: submitted-count equals completed-count and no
// task is currently running. It returns early with ctx.Err() if the
// Scheduler's context is cancelled first.
func (s *Scheduler) AwaitQuiescent() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !(s.submitted == s.completed && s.running == 0) {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

// Failed returns the number of tasks that completed with a non-nil error.
func (s *Scheduler) Failed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Submitted returns the total number of tasks admitted so far.
func (s *Scheduler) Submitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// StateOf reports the current state of the task keyed by (kind, key), and
// whether a task with that key has ever been submitted.
func (s *Scheduler) StateOf(kind entity.Kind, key string) (entity.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[entity.TaskKey(kind, key)]
	if !ok {
		return "", false
	}
	return *st, true
}
