package sched

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runq/internal/logging"
)

// recordingExecutor records suspend/resume calls in order.
type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingExecutor) Suspend(id ProcessID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("suspend:%d", id))
	return nil
}

func (r *recordingExecutor) Resume(id ProcessID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("resume:%d", id))
	return nil
}

func (r *recordingExecutor) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func startTask(t *testing.T, policy Policy, quantum time.Duration) (*Scheduler, *Task, *recordingExecutor) {
	t.Helper()
	core := New(policy, quantum, nil)
	exec := &recordingExecutor{}
	task := NewTask(core, exec, DefaultConfig(), nil)
	require.NoError(t, task.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = task.Shutdown(ctx)
	})
	return core, task, exec
}

// waitEvent reads events until one of kind arrives.
func waitEvent(t *testing.T, task *Task, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			require.True(t, ok, "event stream closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func waitState(t *testing.T, task *Task, want TaskState) {
	t.Helper()
	require.Eventually(t, func() bool { return task.State() == want },
		2*time.Second, 5*time.Millisecond, "task never reached %s", want)
}

func TestTaskLifecycle(t *testing.T) {
	core := New(RoundRobin, time.Hour, nil)
	task := NewTask(core, nil, DefaultConfig(), nil)
	assert.Equal(t, TaskNotStarted, task.State())

	require.NoError(t, task.Start(context.Background()))
	assert.Equal(t, TaskRunning, task.State())
	require.ErrorIs(t, task.Start(context.Background()), ErrTaskStarted)

	require.NoError(t, task.Pause())
	waitState(t, task, TaskPaused)
	require.NoError(t, task.Resume())
	waitState(t, task, TaskRunning)

	ctx := context.Background()
	require.NoError(t, task.Shutdown(ctx))
	assert.Equal(t, TaskStopped, task.State())
	<-task.Done()

	require.ErrorIs(t, task.Trigger(), ErrTaskStopped)
	require.ErrorIs(t, task.UpdateQuantum(time.Second), ErrTaskStopped)
	require.NoError(t, task.Shutdown(ctx), "shutdown is idempotent")
	require.ErrorIs(t, task.Start(ctx), ErrTaskStopped)
}

func TestTaskShutdownBeforeStart(t *testing.T) {
	task := NewTask(New(Fair, time.Hour, nil), nil, DefaultConfig(), nil)
	require.NoError(t, task.Shutdown(context.Background()))
	assert.Equal(t, TaskStopped, task.State())

	ev := <-task.Events()
	assert.Equal(t, EventStopped, ev.Kind)
	_, open := <-task.Events()
	assert.False(t, open)
}

func TestTaskTriggerDecidesImmediately(t *testing.T) {
	core, task, exec := startTask(t, RoundRobin, time.Hour)
	require.NoError(t, core.Add(1, DefaultPriority))
	require.NoError(t, core.Add(2, DefaultPriority))

	require.NoError(t, task.Trigger())
	ev := waitEvent(t, task, EventDispatch)
	assert.Equal(t, ProcessID(1), ev.Next)
	assert.False(t, ev.HasPrev)
	assert.Equal(t, []string{"resume:1"}, exec.Calls())

	// the hour-long quantum has not expired, so a second trigger changes nothing
	require.NoError(t, task.Trigger())
	require.True(t, core.Yield(1, time.Now()))
	require.NoError(t, task.Trigger())

	ev = waitEvent(t, task, EventDispatch)
	assert.Equal(t, ProcessID(2), ev.Next)
	assert.Equal(t, ProcessID(1), ev.Prev)
	assert.Equal(t, []string{"resume:1", "suspend:1", "resume:2"}, exec.Calls())
	assert.Equal(t, uint64(0), core.Stats().Preemptions)
}

func TestTaskTickPreempts(t *testing.T) {
	core, task, exec := startTask(t, RoundRobin, 20*time.Millisecond)
	require.NoError(t, core.Add(1, DefaultPriority))
	require.NoError(t, core.Add(2, DefaultPriority))

	ev := waitEvent(t, task, EventPreempt)
	assert.Equal(t, ProcessID(1), ev.Prev)
	assert.Equal(t, ProcessID(2), ev.Next)
	assert.GreaterOrEqual(t, core.Stats().Preemptions, uint64(1))

	calls := exec.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{"resume:1", "suspend:1", "resume:2"}, calls[:3])
}

func TestTaskTickPreemptsEveryQuantum(t *testing.T) {
	const quantum = 20 * time.Millisecond
	core := New(RoundRobin, quantum, nil)
	for id := ProcessID(1); id <= 3; id++ {
		require.NoError(t, core.Add(id, DefaultPriority))
	}
	task := NewTask(core, nil, DefaultConfig(), nil)
	require.NoError(t, task.Start(context.Background()))

	require.Eventually(t, func() bool { return task.Ticks() >= 25 }, 5*time.Second, quantum)
	require.NoError(t, task.Shutdown(context.Background()))

	ticks := uint64(task.Ticks())
	st := core.Stats()
	// the first tick dispatches, every later one lands on an expired quantum
	assert.GreaterOrEqual(t, st.Preemptions, ticks-2)
	assert.Equal(t, ticks, st.TotalScheduled)
}

// failingExecutor rejects every call.
type failingExecutor struct{}

func (failingExecutor) Suspend(id ProcessID) error { return fmt.Errorf("suspend %d: %w", id, errNoSuchPid) }
func (failingExecutor) Resume(id ProcessID) error { return fmt.Errorf("resume %d: %w", id, errNoSuchPid) }

var errNoSuchPid = errors.New("no such pid")

func TestTaskLogsExecutorFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(slog.LevelWarn, "json", &buf)

	core := New(RoundRobin, time.Hour, nil)
	require.NoError(t, core.Add(1, DefaultPriority))
	task := NewTask(core, failingExecutor{}, DefaultConfig(), logger)
	require.NoError(t, task.Start(context.Background()))

	require.NoError(t, task.Trigger())
	waitEvent(t, task, EventDispatch)
	require.NoError(t, task.Shutdown(context.Background()))

	var found bool
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		if rec["msg"] == "resume failed" {
			found = true
			assert.EqualValues(t, 1, rec["pid"])
			assert.Equal(t, "resume 1: no such pid", rec["error"])
		}
	}
	assert.True(t, found, "executor failure was not logged")
}

func TestTaskDoesNotSuspendRemovedProcess(t *testing.T) {
	core, task, exec := startTask(t, Priority, time.Hour)
	require.NoError(t, core.Add(1, 10))
	require.NoError(t, core.Add(2, 5))

	require.NoError(t, task.Trigger())
	waitEvent(t, task, EventDispatch)

	core.Remove(1)
	require.NoError(t, task.Trigger())
	ev := waitEvent(t, task, EventDispatch)
	assert.Equal(t, ProcessID(2), ev.Next)
	assert.Equal(t, []string{"resume:1", "resume:2"}, exec.Calls())

	core.Remove(2)
	require.NoError(t, task.Trigger())
	ev = waitEvent(t, task, EventIdle)
	assert.Equal(t, ProcessID(2), ev.Prev)

	st := core.Stats()
	assert.Equal(t, uint64(2), st.ContextSwitches)
	assert.Equal(t, uint64(0), st.Preemptions)
}

func TestTaskUpdateQuantum(t *testing.T) {
	core, task, _ := startTask(t, Fair, time.Hour)

	require.NoError(t, task.UpdateQuantum(10*time.Millisecond))
	ev := waitEvent(t, task, EventQuantumUpdated)
	assert.Equal(t, 10*time.Millisecond, ev.Quantum)
	assert.Equal(t, 10*time.Millisecond, core.Quantum())

	// the timer was reconfigured in place: ticks now flow at the new period
	require.Eventually(t, func() bool { return task.Ticks() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, TaskRunning, task.State())
}

func TestTaskUpdateQuantumRejected(t *testing.T) {
	core, task, _ := startTask(t, Fair, 50*time.Millisecond)

	require.NoError(t, task.UpdateQuantum(0))
	ev := waitEvent(t, task, EventRejected)
	require.ErrorIs(t, ev.Err, ErrInvalidQuantum)
	assert.Equal(t, 50*time.Millisecond, core.Quantum())
	assert.Equal(t, TaskRunning, task.State(), "a rejected command does not stop the loop")
}

func TestTaskUpdateQuantumWhilePaused(t *testing.T) {
	core, task, _ := startTask(t, Fair, time.Hour)

	require.NoError(t, task.Pause())
	waitEvent(t, task, EventPaused)
	require.NoError(t, task.UpdateQuantum(5*time.Millisecond))
	waitEvent(t, task, EventQuantumUpdated)

	assert.Equal(t, TaskPaused, task.State())
	assert.Equal(t, 5*time.Millisecond, core.Quantum())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), task.Ticks(), "paused clock must not tick")
}

func TestTaskPauseLeavesRunningProcess(t *testing.T) {
	core, task, _ := startTask(t, RoundRobin, 20*time.Millisecond)
	require.NoError(t, core.Add(1, DefaultPriority))
	require.NoError(t, core.Add(2, DefaultPriority))

	require.NoError(t, task.Trigger())
	waitEvent(t, task, EventDispatch)
	require.NoError(t, task.Pause())
	waitEvent(t, task, EventPaused)

	before := core.Stats().Preemptions
	cur, _ := core.Current()
	time.Sleep(100 * time.Millisecond)

	after, ok := core.Current()
	require.True(t, ok)
	assert.Equal(t, cur, after)
	assert.Equal(t, before, core.Stats().Preemptions)
}

func TestTaskResumeSkipsMissedTicks(t *testing.T) {
	const quantum = 200 * time.Millisecond
	_, task, _ := startTask(t, Fair, quantum)

	require.NoError(t, task.Pause())
	waitState(t, task, TaskPaused)
	paused := task.Ticks()

	time.Sleep(3 * quantum)
	assert.Equal(t, paused, task.Ticks(), "no ticks while paused")

	require.NoError(t, task.Resume())
	waitState(t, task, TaskRunning)
	time.Sleep(quantum + quantum/2)

	assert.Equal(t, paused+1, task.Ticks(), "exactly one tick after resume, no catch-up burst")
}

func TestTaskStopsWhenContextCancelled(t *testing.T) {
	core := New(RoundRobin, time.Hour, nil)
	task := NewTask(core, nil, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, task.Start(ctx))

	cancel()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not stop after context cancellation")
	}
	assert.Equal(t, TaskStopped, task.State())
	require.ErrorIs(t, task.Pause(), ErrTaskStopped)
}

func TestTaskSendPrefersStopOverFreeBuffer(t *testing.T) {
	task := NewTask(New(RoundRobin, time.Hour, nil), nil, DefaultConfig(), nil)
	// the loop has exited but the stopped state is not visible yet
	task.state.Store(int32(TaskRunning))
	close(task.done)

	for i := 0; i < 100; i++ {
		require.ErrorIs(t, task.Trigger(), ErrTaskStopped)
	}
	assert.Zero(t, len(task.cmds), "no command may be queued for a loop that is gone")
}

func TestTaskSendRacingStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		core := New(RoundRobin, time.Hour, nil)
		require.NoError(t, core.Add(1, DefaultPriority))
		task := NewTask(core, nil, DefaultConfig(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, task.Start(ctx))

		var (
			wg       sync.WaitGroup
			lateSent atomic.Int32
		)
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					stopped := false
					select {
					case <-task.Done():
						stopped = true
					default:
					}
					err := task.Trigger()
					if stopped && err == nil {
						lateSent.Add(1)
					}
					if err != nil {
						return
					}
				}
			}()
		}

		time.Sleep(time.Millisecond)
		cancel()
		<-task.Done()
		wg.Wait()
		assert.Zero(t, lateSent.Load(), "a command was accepted after the loop stopped")
	}
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "not_started", TaskNotStarted.String())
	assert.Equal(t, "paused", TaskPaused.String())
	assert.Equal(t, "update_quantum", CmdUpdateQuantum.String())
	assert.Equal(t, "Preempt", EventPreempt.String())
}
