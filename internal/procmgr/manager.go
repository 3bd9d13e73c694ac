package procmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"runq/internal/logging"
	"runq/internal/sched"
)

var (
	ErrSchedulingDisabled = errors.New("scheduling disabled")
	ErrProcessNotFound    = errors.New("process not found")
	ErrNotRunning         = errors.New("process is not running")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrPriorityBound      = errors.New("priority already at bound")
)

// Launcher starts and stops OS-level execution of created processes.
type Launcher interface {
	Launch(ctx context.Context, id sched.ProcessID) error
	Kill(id sched.ProcessID)
}

// Options wires the manager to its external collaborators. All are optional.
type Options struct {
	Executor sched.Executor
	Launcher Launcher
	Logger   *slog.Logger
}

// Process is an entry of the process table.
type Process struct {
	ID        sched.ProcessID `json:"id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
}

// Manager keeps the process table and, when scheduling is enabled, owns a
// Scheduler and the Task driving it.
type Manager struct {
	mu     sync.RWMutex
	procs  map[sched.ProcessID]*Process
	nextID atomic.Uint64

	core     *sched.Scheduler // nil when scheduling is disabled
	task     *sched.Task
	launcher Launcher
	ctx      context.Context
	logger   *slog.Logger
}

// New builds a manager. The scheduler pair is created and started only when
// cfg names a policy; ctx bounds the task and launched processes.
func New(ctx context.Context, cfg sched.Config, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		procs:    make(map[sched.ProcessID]*Process),
		launcher: opts.Launcher,
		ctx:      ctx,
		logger:   logger.With("component", "procmgr"),
	}

	if !cfg.Enabled() {
		m.logger.Info("scheduling disabled")
		return m, nil
	}

	policy, err := cfg.SchedPolicy()
	if err != nil {
		return nil, err
	}
	m.core = sched.New(policy, cfg.Quantum(), logger)
	m.task = sched.NewTask(m.core, opts.Executor, cfg, logger)
	if err := m.task.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler task: %w", err)
	}
	m.logger.Info("scheduling enabled", "policy", policy, "quantum", cfg.Quantum())
	return m, nil
}

// Enabled reports whether a scheduler is attached.
func (m *Manager) Enabled() bool { return m.core != nil }

// Create allocates an id, launches the process and registers it.
func (m *Manager) Create(name string, priority int) (Process, error) {
	priority = sched.ClampPriority(priority)
	id := sched.ProcessID(m.nextID.Add(1))
	p := &Process{ID: id, Name: name, Priority: priority, CreatedAt: time.Now().UTC()}

	if m.launcher != nil {
		if err := m.launcher.Launch(m.ctx, id); err != nil {
			return Process{}, fmt.Errorf("launch process %d: %w", id, err)
		}
	}
	if err := m.register(p); err != nil {
		if m.launcher != nil {
			m.launcher.Kill(id)
		}
		return Process{}, err
	}

	m.logger.Info("process created", "pid", id, "name", name, "priority", priority)
	return *p, nil
}

// Register handles a creation event for a process created elsewhere.
func (m *Manager) Register(id sched.ProcessID, name string, priority int) (Process, error) {
	// keep Create from handing out ids already in use
	for {
		cur := m.nextID.Load()
		if uint64(id) <= cur || m.nextID.CompareAndSwap(cur, uint64(id)) {
			break
		}
	}

	p := &Process{ID: id, Name: name, Priority: sched.ClampPriority(priority), CreatedAt: time.Now().UTC()}
	if err := m.register(p); err != nil {
		return Process{}, err
	}
	m.logger.Info("process registered", "pid", id, "name", name, "priority", p.Priority)
	return *p, nil
}

func (m *Manager) register(p *Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.procs[p.ID]; dup {
		return fmt.Errorf("%w: %d", sched.ErrDuplicateProcess, p.ID)
	}
	if m.core != nil {
		if err := m.core.Add(p.ID, p.Priority); err != nil {
			return err
		}
	}
	m.procs[p.ID] = p
	return nil
}

// Terminate handles a termination event. It is safe for ids that were never
// registered and reports whether the process was known.
func (m *Manager) Terminate(id sched.ProcessID) bool {
	m.mu.Lock()
	_, known := m.procs[id]
	delete(m.procs, id)
	m.mu.Unlock()

	if m.core != nil {
		cur, running := m.core.Current()
		if m.core.Remove(id) && running && cur == id {
			// give the successor the CPU without waiting for the next tick
			m.trigger()
		}
	}
	if m.launcher != nil {
		m.launcher.Kill(id)
	}

	if known {
		m.logger.Info("process terminated", "pid", id)
	}
	return known
}

// Yield gives up the CPU on behalf of the running process id.
func (m *Manager) Yield(id sched.ProcessID) error {
	if m.core == nil {
		return ErrSchedulingDisabled
	}
	if !m.core.Yield(id, time.Now()) {
		return fmt.Errorf("%w: %d", ErrNotRunning, id)
	}
	return m.task.Trigger()
}

// SetQuantum validates d and forwards it to the running task.
func (m *Manager) SetQuantum(d time.Duration) error {
	if m.core == nil {
		return ErrSchedulingDisabled
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s", sched.ErrInvalidQuantum, d)
	}
	return m.task.UpdateQuantum(d)
}

// SetPolicy switches the scheduling policy.
func (m *Manager) SetPolicy(p sched.Policy) error {
	if m.core == nil {
		return ErrSchedulingDisabled
	}
	m.core.SetPolicy(p)
	return nil
}

func (m *Manager) Pause() error {
	if m.task == nil {
		return ErrSchedulingDisabled
	}
	return m.task.Pause()
}

func (m *Manager) Resume() error {
	if m.task == nil {
		return ErrSchedulingDisabled
	}
	return m.task.Resume()
}

func (m *Manager) Trigger() error {
	if m.task == nil {
		return ErrSchedulingDisabled
	}
	return m.task.Trigger()
}

func (m *Manager) trigger() {
	if err := m.task.Trigger(); err != nil {
		m.logger.Debug("trigger ignored", logging.ErrAttr(err))
	}
}

// SetPriority updates the table and the scheduler.
func (m *Manager) SetPriority(id sched.ProcessID, priority int) error {
	if priority < sched.MinPriority || priority > sched.MaxPriority {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPriority, priority, sched.MinPriority, sched.MaxPriority)
	}

	m.mu.Lock()
	p, ok := m.procs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrProcessNotFound, id)
	}
	old := p.Priority
	p.Priority = priority
	m.mu.Unlock()

	if m.core != nil {
		if err := m.core.SetPriority(id, priority); err != nil {
			m.logger.Warn("scheduler priority update failed", "pid", id, logging.ErrAttr(err))
		}
	}
	m.logger.Info("priority updated", "pid", id, "from", old, "to", priority)
	return nil
}

// Boost raises the priority by one.
func (m *Manager) Boost(id sched.ProcessID) (int, error) {
	return m.step(id, +1)
}

// Lower drops the priority by one.
func (m *Manager) Lower(id sched.ProcessID) (int, error) {
	return m.step(id, -1)
}

func (m *Manager) step(id sched.ProcessID, delta int) (int, error) {
	p, ok := m.Process(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrProcessNotFound, id)
	}
	next := p.Priority + delta
	if next < sched.MinPriority || next > sched.MaxPriority {
		return p.Priority, fmt.Errorf("%w: %d", ErrPriorityBound, p.Priority)
	}
	if err := m.SetPriority(id, next); err != nil {
		return p.Priority, err
	}
	return next, nil
}

// Stats returns the scheduler snapshot.
func (m *Manager) Stats() (sched.Stats, error) {
	if m.core == nil {
		return sched.Stats{}, ErrSchedulingDisabled
	}
	return m.core.Stats(), nil
}

// TaskState returns the scheduler task state, or TaskNotStarted when
// scheduling is disabled.
func (m *Manager) TaskState() sched.TaskState {
	if m.task == nil {
		return sched.TaskNotStarted
	}
	return m.task.State()
}

// Current returns the running process.
func (m *Manager) Current() (sched.ProcessID, bool) {
	if m.core == nil {
		return 0, false
	}
	return m.core.Current()
}

// ProcessStats returns the scheduler's view of id.
func (m *Manager) ProcessStats(id sched.ProcessID) (sched.ProcessStats, bool) {
	if m.core == nil {
		return sched.ProcessStats{}, false
	}
	return m.core.ProcessStats(id)
}

// Process returns the table entry for id.
func (m *Manager) Process(id sched.ProcessID) (Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.procs[id]
	if !ok {
		return Process{}, false
	}
	return *p, true
}

// Processes returns the table ordered by id.
func (m *Manager) Processes() []Process {
	m.mu.RLock()
	out := make([]Process, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, *p)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Process) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Events exposes the task's event stream; nil when scheduling is disabled.
func (m *Manager) Events() <-chan sched.Event {
	if m.task == nil {
		return nil
	}
	return m.task.Events()
}

// Close shuts the scheduler task down and waits for it.
func (m *Manager) Close(ctx context.Context) error {
	if m.task == nil {
		return nil
	}
	return m.task.Shutdown(ctx)
}
