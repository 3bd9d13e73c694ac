package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"runq/internal/logging"
	"runq/internal/sched"
)

// ErrUnknownJob is returned for ids that were never launched or already killed.
var ErrUnknownJob = errors.New("unknown job")

// DefaultStep is how often a job samples whether it is allowed to run.
const DefaultStep = time.Millisecond

// Job is a simulated process: it accrues run time only while resumed.
type Job struct {
	ID      sched.ProcessID
	running atomic.Bool
	ran     atomic.Int64 // nanoseconds
	cancel  context.CancelFunc
	done    chan struct{}
}

// Running reports whether the job is currently resumed.
func (j *Job) Running() bool { return j.running.Load() }

// Ran returns the run time accrued so far.
func (j *Job) Ran() time.Duration { return time.Duration(j.ran.Load()) }

func (j *Job) work(ctx context.Context, step time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if j.running.Load() {
				j.ran.Add(int64(now.Sub(last)))
			}
			last = now
		}
	}
}

// Pool launches simulated processes and implements sched.Executor, so the
// scheduler task can suspend and resume them.
type Pool struct {
	mu     sync.Mutex
	jobs   map[sched.ProcessID]*Job
	step   time.Duration
	logger *slog.Logger
}

// NewPool creates an empty pool. A non-positive step uses DefaultStep.
func NewPool(step time.Duration, logger *slog.Logger) *Pool {
	if step <= 0 {
		step = DefaultStep
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pool{
		jobs:   make(map[sched.ProcessID]*Job),
		step:   step,
		logger: logger.With("component", "job-pool"),
	}
}

// Launch starts a suspended job for id. Jobs start suspended until the
// scheduler resumes them.
func (p *Pool) Launch(ctx context.Context, id sched.ProcessID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.jobs[id]; dup {
		return fmt.Errorf("job %d already launched", id)
	}
	jctx, cancel := context.WithCancel(ctx)
	j := &Job{ID: id, cancel: cancel, done: make(chan struct{})}
	p.jobs[id] = j
	go j.work(jctx, p.step)

	p.logger.Debug("job launched", "pid", id)
	return nil
}

// Kill stops the job and forgets it. Killing an unknown id is a no-op.
func (p *Pool) Kill(id sched.ProcessID) {
	p.mu.Lock()
	j, ok := p.jobs[id]
	delete(p.jobs, id)
	p.mu.Unlock()

	if !ok {
		return
	}
	j.cancel()
	<-j.done
	p.logger.Debug("job killed", "pid", id, "ran", j.Ran())
}

// Suspend implements sched.Executor.
func (p *Pool) Suspend(id sched.ProcessID) error {
	j, err := p.get(id)
	if err != nil {
		return err
	}
	j.running.Store(false)
	return nil
}

// Resume implements sched.Executor.
func (p *Pool) Resume(id sched.ProcessID) error {
	j, err := p.get(id)
	if err != nil {
		return err
	}
	j.running.Store(true)
	return nil
}

// Job returns the job for id.
func (p *Pool) Job(id sched.ProcessID) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	return j, ok
}

// Ran returns the accrued run time of id, zero for unknown ids.
func (p *Pool) Ran(id sched.ProcessID) time.Duration {
	if j, ok := p.Job(id); ok {
		return j.Ran()
	}
	return 0
}

// Close kills every job.
func (p *Pool) Close() {
	p.mu.Lock()
	ids := make([]sched.ProcessID, 0, len(p.jobs))
	for id := range p.jobs {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Kill(id)
	}
}

func (p *Pool) get(id sched.ProcessID) (*Job, error) {
	j, ok := p.Job(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	return j, nil
}
