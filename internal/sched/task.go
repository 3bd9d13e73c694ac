package sched

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"runq/internal/logging"
)

// Executor pauses and resumes OS-level execution of a process. The task
// calls it only when the running process changes.
type Executor interface {
	Suspend(id ProcessID) error
	Resume(id ProcessID) error
}

// TaskState is the lifecycle of the scheduler task.
type TaskState int32

const (
	TaskNotStarted TaskState = iota
	TaskRunning
	TaskPaused
	TaskStopped
)

func (s TaskState) String() string {
	switch s {
	case TaskNotStarted:
		return "not_started"
	case TaskRunning:
		return "running"
	case TaskPaused:
		return "paused"
	case TaskStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CommandKind identifies a control command.
type CommandKind int

const (
	CmdUpdateQuantum CommandKind = iota
	CmdPause
	CmdResume
	CmdTrigger
	CmdShutdown
)

func (k CommandKind) String() string {
	switch k {
	case CmdUpdateQuantum:
		return "update_quantum"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdTrigger:
		return "trigger"
	case CmdShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Command is sent to the task's control loop.
type Command struct {
	Kind    CommandKind
	Quantum time.Duration // CmdUpdateQuantum only
}

// Task drives a Scheduler autonomously: it decides once per quantum and
// handles control commands in between. Only the task's goroutine calls
// Decide, so decisions are totally ordered.
type Task struct {
	core   *Scheduler
	exec   Executor // nil means logical scheduling only
	logger *slog.Logger
	clock  *TickClock
	cmds   chan Command
	events chan Event
	done   chan struct{}
	state  atomic.Int32
	now    func() time.Time

	// owned by the loop goroutine
	last    ProcessID
	hasLast bool
}

// NewTask creates a task for core. Buffer sizes come from cfg.
func NewTask(core *Scheduler, exec Executor, cfg Config, logger *slog.Logger) *Task {
	cfg = cfg.sanitize()
	if logger == nil {
		logger = logging.Discard()
	}
	return &Task{
		core:   core,
		exec:   exec,
		logger: logger.With("component", "scheduler-task"),
		clock:  NewTickClock(),
		cmds:   make(chan Command, cfg.CommandBuffer),
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the control loop. Cancelling ctx stops the loop as if
// Shutdown had been received.
func (t *Task) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TaskNotStarted), int32(TaskRunning)) {
		if t.State() == TaskStopped {
			return ErrTaskStopped
		}
		return ErrTaskStarted
	}
	t.clock.Start(t.core.Quantum())
	go t.loop(ctx)
	return nil
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Events exposes the read-only decision/command stream. It is closed when
// the task stops.
func (t *Task) Events() <-chan Event { return t.events }

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Ticks returns how many timer ticks the loop has handled.
func (t *Task) Ticks() int64 { return t.clock.Count() }

// Send queues a control command. Commands sent after Shutdown are logged and
// rejected with ErrTaskStopped.
func (t *Task) Send(cmd Command) error {
	select {
	case <-t.done:
		return t.rejectStopped(cmd)
	default:
	}
	if t.State() == TaskStopped {
		return t.rejectStopped(cmd)
	}

	select {
	case t.cmds <- cmd:
	case <-t.done:
		return t.rejectStopped(cmd)
	}

	// the loop may have exited between the state check and the enqueue, in
	// which case nobody will ever read cmd
	if cmd.Kind != CmdShutdown && t.State() == TaskStopped {
		return t.rejectStopped(cmd)
	}
	return nil
}

func (t *Task) rejectStopped(cmd Command) error {
	t.logger.Warn("command ignored, task stopped", "command", cmd.Kind)
	return ErrTaskStopped
}

// UpdateQuantum reconfigures the quantum and the tick period. A non-positive
// quantum is rejected by the loop and reported as EventRejected.
func (t *Task) UpdateQuantum(d time.Duration) error {
	return t.Send(Command{Kind: CmdUpdateQuantum, Quantum: d})
}

func (t *Task) Pause() error   { return t.Send(Command{Kind: CmdPause}) }
func (t *Task) Resume() error  { return t.Send(Command{Kind: CmdResume}) }
func (t *Task) Trigger() error { return t.Send(Command{Kind: CmdTrigger}) }

// Shutdown stops the loop and waits for it to exit. It is idempotent.
func (t *Task) Shutdown(ctx context.Context) error {
	if t.state.CompareAndSwap(int32(TaskNotStarted), int32(TaskStopped)) {
		t.finish()
		return nil
	}
	if t.State() != TaskStopped {
		// a concurrent stop makes Send fail; Done covers both cases
		_ = t.Send(Command{Kind: CmdShutdown})
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) loop(ctx context.Context) {
	defer t.finish()

	mode := "logical only"
	if t.exec != nil {
		mode = "with executor"
	}
	t.logger.Info("scheduler task started", "quantum", t.clock.Interval(), "mode", mode)

	for {
		select {
		case <-ctx.Done():
			t.logger.Warn("scheduler task context closed, shutting down", logging.ErrAttr(ctx.Err()))
			return
		case now := <-t.clock.C():
			t.clock.observe()
			t.decide(now, true)
		case cmd := <-t.cmds:
			if stop := t.handle(cmd); stop {
				return
			}
		}
	}
}

// handle applies one command and reports whether the loop must exit.
func (t *Task) handle(cmd Command) bool {
	switch cmd.Kind {
	case CmdUpdateQuantum:
		if err := t.core.SetQuantum(cmd.Quantum); err != nil {
			t.logger.Warn("quantum update rejected", "quantum", cmd.Quantum, logging.ErrAttr(err))
			t.emit(Event{Kind: EventRejected, Quantum: cmd.Quantum, Err: err})
			return false
		}
		t.clock.Reset(cmd.Quantum)
		t.emit(Event{Kind: EventQuantumUpdated, Quantum: cmd.Quantum})

	case CmdPause:
		if t.State() != TaskRunning {
			t.logger.Debug("pause ignored", "state", t.State())
			return false
		}
		t.clock.Stop()
		t.state.Store(int32(TaskPaused))
		t.logger.Info("scheduler task paused")
		t.emit(Event{Kind: EventPaused})

	case CmdResume:
		if t.State() != TaskPaused {
			t.logger.Debug("resume ignored", "state", t.State())
			return false
		}
		// fresh period: the process running across the pause is not charged for it
		t.clock.Start(t.core.Quantum())
		t.state.Store(int32(TaskRunning))
		t.logger.Info("scheduler task resumed", "quantum", t.clock.Interval())
		t.emit(Event{Kind: EventResumed})

	case CmdTrigger:
		t.decide(t.now(), false)

	case CmdShutdown:
		t.logger.Info("scheduler task shutting down")
		return true

	default:
		t.logger.Warn("unknown command", "command", int(cmd.Kind))
	}
	return false
}

// decide runs one scheduling decision and reports a change of the running
// process to the executor and the event stream. Tick decisions pass the
// tick's delivery time so dispatch and expiry are measured on the same clock.
func (t *Task) decide(now time.Time, tick bool) {
	d := t.core.decide(now, tick)

	if d.Idle {
		if t.hasLast {
			prev := t.last
			t.hasLast = false
			t.emit(Event{Kind: EventIdle, Prev: prev, HasPrev: true})
		}
		return
	}
	if t.hasLast && t.last == d.Next {
		return
	}

	prev, hadPrev := t.last, t.hasLast
	t.last, t.hasLast = d.Next, true
	t.switchTo(prev, hadPrev, d.Next)

	kind := EventDispatch
	if d.Preempted {
		kind = EventPreempt
	}
	t.logger.Debug("running process changed", "kind", kind, "prev", prev, "next", d.Next)
	t.emit(Event{Kind: kind, Prev: prev, HasPrev: hadPrev, Next: d.Next})
}

func (t *Task) switchTo(prev ProcessID, hadPrev bool, next ProcessID) {
	if t.exec == nil {
		return
	}
	// a removed process has terminated; there is nothing to suspend
	if hadPrev && t.core.Contains(prev) {
		if err := t.exec.Suspend(prev); err != nil {
			t.logger.Warn("suspend failed", "pid", prev, logging.ErrAttr(err))
		}
	}
	if err := t.exec.Resume(next); err != nil {
		t.logger.Warn("resume failed", "pid", next, logging.ErrAttr(err))
	}
}

// emit never blocks the loop; a full buffer drops the event.
func (t *Task) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = t.now()
	}
	select {
	case t.events <- ev:
	default:
		t.logger.Debug("event dropped, buffer full", "kind", ev.Kind)
	}
}

func (t *Task) finish() {
	t.state.Store(int32(TaskStopped))
	t.clock.Stop()
	for drained := false; !drained; {
		select {
		case cmd := <-t.cmds:
			t.logger.Debug("command dropped at shutdown", "command", cmd.Kind)
		default:
			drained = true
		}
	}
	t.emit(Event{Kind: EventStopped})
	close(t.events)
	close(t.done)
	t.logger.Info("scheduler task stopped")
}
