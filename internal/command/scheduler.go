package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/hotswap/internal/logging"
	"github.com/dshills/hotswap/internal/metrics"
)

// Default timing values.
const (
	DefaultDelay        = 100 * time.Millisecond
	DefaultPollInterval = time.Second
)

// task is a scheduled command waiting in the pending set.
type task struct {
	cmd *Command
	due time.Time
	seq uint64
}

// Scheduler collapses bursts of equal commands into delayed executions.
//
// Schedule is safe to call from any goroutine, including from inside a
// running command. Commands execute one at a time.
type Scheduler struct {
	mu      sync.Mutex
	pending []*task
	seq     uint64

	// execMu serializes command execution between the worker and Flush.
	execMu sync.Mutex

	wake    chan struct{}
	stopped atomic.Bool
	running atomic.Bool
	done    chan struct{}

	delay time.Duration
	poll  time.Duration
	now   func() time.Time

	logger  *zap.Logger
	metrics *metrics.Metrics
	onError func(*ExecutionError)

	// Stats
	scheduled atomic.Uint64
	merged    atomic.Uint64
	skipped   atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithErrorHandler sets a function called with every failed execution,
// after it has been logged. It runs on the worker goroutine.
func WithErrorHandler(fn func(*ExecutionError)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// WithDefaultDelay sets the delay used by ScheduleDefault.
func WithDefaultDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithPollInterval sets the longest the worker sleeps when nothing is due.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// NewScheduler creates a scheduler. Call Run to start the worker.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		delay: DefaultDelay,
		poll:  DefaultPollInterval,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("command")
	return s
}

// ScheduleDefault schedules cmd with the default delay and PolicyMerge.
func (s *Scheduler) ScheduleDefault(cmd *Command) error {
	return s.Schedule(cmd, s.delay, PolicyMerge)
}

// Schedule adds cmd to the pending set, due after delay. If an equal
// command is already pending, policy decides between merging, skipping and
// inserting separately.
func (s *Scheduler) Schedule(cmd *Command, delay time.Duration, policy Policy) error {
	if cmd == nil || cmd.run == nil {
		return ErrNilCommand
	}
	if !policy.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, policy)
	}
	if s.stopped.Load() {
		return ErrSchedulerStopped
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	due := s.now().Add(delay)
	outcome := metrics.OutcomeInserted

	existing := s.findLocked(cmd.key, policy)
	switch {
	case existing != nil && policy == PolicyMerge:
		existing.cmd.merge(cmd)
		existing.due = due
		outcome = metrics.OutcomeMerged
		s.merged.Add(1)
	case existing != nil && policy == PolicySkip:
		outcome = metrics.OutcomeSkipped
		s.skipped.Add(1)
	default:
		s.seq++
		s.pending = append(s.pending, &task{cmd: cmd, due: due, seq: s.seq})
	}
	n := len(s.pending)
	s.mu.Unlock()

	s.scheduled.Add(1)
	s.metrics.CommandScheduled(policy.String(), outcome)
	s.metrics.SetPending(n)
	s.logger.Debug("command scheduled",
		zap.Stringer("command", cmd.key),
		zap.Stringer("policy", policy),
		zap.String("outcome", outcome),
		zap.Duration("delay", delay))

	s.signal()
	return nil
}

// findLocked returns the first pending task with key, or nil.
// PolicyEnqueueSeparately never matches.
func (s *Scheduler) findLocked(key Key, policy Policy) *task {
	if policy == PolicyEnqueueSeparately {
		return nil
	}
	for _, t := range s.pending {
		if t.cmd.key == key {
			return t
		}
	}
	return nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes due commands until ctx is done or Shutdown is called.
// It blocks and must be called at most once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.logger.Debug("scheduler started")
	defer s.logger.Debug("scheduler stopped")

	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	for {
		if s.stopped.Load() {
			return nil
		}

		due, next := s.takeDue(s.now())
		for _, t := range due {
			s.execute(ctx, t)
		}

		wait := s.poll
		if !next.IsZero() {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.stopped.Store(true)
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// takeDue removes and returns every task due at or before now, ordered by
// due time then scheduling order, plus the earliest due time still pending.
func (s *Scheduler) takeDue(now time.Time) ([]*task, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*task
	var next time.Time
	kept := s.pending[:0]
	for _, t := range s.pending {
		if !t.due.After(now) {
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
		if next.IsZero() || t.due.Before(next) {
			next = t.due
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept

	if len(due) > 0 {
		s.metrics.SetPending(len(s.pending))
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due, next
}

// execute runs one command, recovering panics. Failures are logged.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	start := time.Now()
	stack, err := run(ctx, t.cmd)
	elapsed := time.Since(start)
	s.executed.Add(1)

	if err == nil {
		s.metrics.CommandExecuted(metrics.ResultOK, elapsed)
		s.logger.Debug("command executed",
			zap.Stringer("command", t.cmd.key),
			zap.Int("payloads", len(t.cmd.payloads)),
			zap.Duration("elapsed", elapsed))
		return
	}

	s.failed.Add(1)
	execErr := &ExecutionError{Key: t.cmd.key, Payloads: len(t.cmd.payloads), Err: err, Stack: stack}
	fields := []zap.Field{
		zap.Stringer("command", t.cmd.key),
		zap.Error(execErr.Err),
	}
	result := metrics.ResultError
	if stack != nil {
		result = metrics.ResultPanic
		fields = append(fields, zap.ByteString("stack", stack))
	}
	s.metrics.CommandExecuted(result, elapsed)
	s.logger.Error("command execution failed", fields...)

	if s.onError != nil {
		s.onError(execErr)
	}
}

func run(ctx context.Context, cmd *Command) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = debug.Stack()
			err = fmt.Errorf("%w: %v", ErrCommandPanicked, r)
		}
	}()
	return nil, cmd.Execute(ctx)
}

// Flush executes every pending command now, regardless of due time, on the
// calling goroutine. Commands scheduled by flushed commands are left pending.
func (s *Scheduler) Flush(ctx context.Context) int {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()
	s.metrics.SetPending(0)

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].seq < tasks[j].seq
	})
	for _, t := range tasks {
		s.execute(ctx, t)
	}
	return len(tasks)
}

// Shutdown stops the worker. A sweep in progress finishes first; pending
// commands are left unexecuted. Shutdown waits for Run to return if it was
// started, or until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopped.Store(true)
	s.signal()

	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of pending tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsStopped reports whether Shutdown was called or Run's context ended.
func (s *Scheduler) IsStopped() bool {
	return s.stopped.Load()
}

// Stats contains scheduler statistics.
type Stats struct {
	// Scheduled is the number of accepted Schedule calls.
	Scheduled uint64
	// Merged is the number of calls merged into a pending command.
	Merged uint64
	// Skipped is the number of calls dropped by PolicySkip.
	Skipped uint64
	// Executed is the number of command executions.
	Executed uint64
	// Failed is the number of executions that returned an error or panicked.
	Failed uint64
	// Pending is the current pending set size.
	Pending int
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled: s.scheduled.Load(),
		Merged:    s.merged.Load(),
		Skipped:   s.skipped.Load(),
		Executed:  s.executed.Load(),
		Failed:    s.failed.Load(),
		Pending:   s.Pending(),
	}
}
