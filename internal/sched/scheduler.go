// internal/sched/scheduler.go

package sched

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"runq/internal/logging"
)

// Scheduler is the policy-driven run-queue and decision function. It knows
// nothing about timers: callers pass the current time to Decide.
type Scheduler struct {
	mu          sync.Mutex                  // protects everything below except stats
	policy      Policy                      // active policy, selects the queue representation
	quantum     time.Duration               // maximum run time before preemption
	queue       *runQueue                   // Ready entries
	running     *ProcessEntry               // nil when nothing is Running
	yielded     *ProcessEntry               // last entry that gave up the CPU via Yield
	entries     map[ProcessID]*ProcessEntry // every Ready/Running entry by id
	seq         uint64                      // insertion counter for FIFO tie-breaks
	minVruntime float64                     // last observed minimum vruntime (Fair)

	stats  counters
	logger *slog.Logger
}

// Decision is the outcome of one Decide call.
type Decision struct {
	Next      ProcessID // valid unless Idle
	Idle      bool      // run-queue empty, nothing to run
	Switched  bool      // the running process changed
	Preempted bool      // the previous process's quantum expired
}

// New creates a Scheduler. A non-positive quantum falls back to the default.
func New(policy Policy, quantum time.Duration, logger *slog.Logger) *Scheduler {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Scheduler{
		policy:  policy,
		quantum: quantum,
		queue:   newRunQueue(policy),
		entries: make(map[ProcessID]*ProcessEntry),
		logger:  logger.With("component", "scheduler"),
	}
	s.logger.Info("scheduler initialized", "policy", policy, "quantum", quantum)
	return s
}

// Add queues a new Ready process.
func (s *Scheduler) Add(id ProcessID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[id]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateProcess, id)
	}

	e := newEntry(id, priority)
	if s.policy == Fair {
		e.Vruntime = s.floorVruntime()
	}
	s.enqueue(e)
	s.entries[id] = e

	s.logger.Debug("process added", "pid", id, "priority", e.Priority, "vruntime", e.Vruntime)
	return nil
}

// Remove drops a process whatever its state. Removing an unknown id is a
// no-op; the return value reports whether anything was removed.
func (s *Scheduler) Remove(id ProcessID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if s.running == e {
		s.running = nil
	} else {
		s.queue.remove(e)
	}
	if s.yielded == e {
		s.yielded = nil
	}
	e.State = StateTerminated
	delete(s.entries, id)

	s.logger.Debug("process removed", "pid", id)
	return true
}

// Schedule runs one decision at now and returns the process that should be
// running, or false when the system is idle.
func (s *Scheduler) Schedule(now time.Time) (ProcessID, bool) {
	d := s.Decide(now)
	return d.Next, !d.Idle
}

// Decide is Schedule with the full decision detail.
func (s *Scheduler) Decide(now time.Time) Decision {
	return s.decide(now, false)
}

// expiryTolerance is how far short of a full quantum a tick-driven decision
// may measure and still treat the quantum as spent. Timer delivery jitters
// around the period boundary, so the measured elapsed time of a process that
// ran for exactly one tick period lands on either side of the quantum.
func expiryTolerance(quantum time.Duration) time.Duration {
	return quantum / 10
}

// decide runs one decision. tick marks decisions made on a timer tick, which
// allow expiryTolerance.
func (s *Scheduler) decide(now time.Time, tick bool) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.running
	if cur == nil {
		next := s.dispatch(now)
		if next == nil {
			return Decision{Idle: true}
		}
		s.stats.totalScheduled.Add(1)

		resumed := next == s.yielded
		s.yielded = nil
		if resumed {
			// the process that just yielded was the only one runnable
			return Decision{Next: next.ID}
		}
		s.stats.contextSwitches.Add(1)
		s.logger.Debug("dispatch", "pid", next.ID, "policy", s.policy)
		return Decision{Next: next.ID, Switched: true}
	}

	limit := s.quantum
	if tick {
		limit -= expiryTolerance(s.quantum)
	}
	elapsed := now.Sub(cur.QuantumStart)
	if elapsed < limit {
		s.stats.totalScheduled.Add(1)
		return Decision{Next: cur.ID}
	}

	// quantum expired: charge, requeue and pick the new head
	cur.charge(elapsed, s.policy)
	s.running = nil
	s.enqueue(cur)
	next := s.dispatch(now)
	s.stats.totalScheduled.Add(1)

	if next == cur {
		// sole runnable entry; it simply starts a fresh quantum
		return Decision{Next: cur.ID}
	}

	s.stats.preemptions.Add(1)
	s.stats.contextSwitches.Add(1)
	s.logger.Debug("preempt", "pid", cur.ID, "elapsed", elapsed, "next", next.ID)
	return Decision{Next: next.ID, Switched: true, Preempted: true}
}

// Yield makes the running process give up the CPU voluntarily. It is charged
// for the time it ran and requeued; the next decision selects a successor.
// It reports false when id is not the running process.
func (s *Scheduler) Yield(id ProcessID, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.running
	if cur == nil || cur.ID != id {
		return false
	}
	cur.charge(now.Sub(cur.QuantumStart), s.policy)
	s.running = nil
	s.yielded = cur
	s.enqueue(cur)

	s.logger.Debug("process yielded", "pid", id)
	return true
}

// SetPolicy rebuilds the run-queue under a new policy. The running entry keeps
// running; queued entries are reinserted in their previous dispatch order.
func (s *Scheduler) SetPolicy(policy Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if policy == s.policy {
		return
	}

	old := s.policy
	drained := s.queue.drain()

	if policy == Fair {
		// vruntimes are meaningless outside Fair; level everyone to the floor
		floor := s.minVruntime
		for _, e := range drained {
			e.Vruntime = floor
		}
		if s.running != nil {
			s.running.Vruntime = floor
		}
	}

	s.policy = policy
	s.queue = newRunQueue(policy)
	for _, e := range drained {
		s.enqueue(e)
	}

	s.logger.Info("policy changed", "from", old, "to", policy, "requeued", len(drained))
}

// SetQuantum changes the quantum for future decisions. The running entry's
// QuantumStart is left untouched.
func (s *Scheduler) SetQuantum(quantum time.Duration) error {
	if quantum <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidQuantum, quantum)
	}

	s.mu.Lock()
	s.quantum = quantum
	s.mu.Unlock()

	s.logger.Info("quantum updated", "quantum", quantum)
	return nil
}

// SetPriority changes an existing process's priority and re-keys it so future
// decisions reflect it.
func (s *Scheduler) SetPriority(id ProcessID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProcess, id)
	}

	if e == s.running {
		e.setPriority(priority)
	} else {
		s.queue.remove(e)
		e.setPriority(priority)
		s.enqueue(e)
	}

	s.logger.Debug("priority updated", "pid", id, "priority", e.Priority)
	return nil
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Quantum returns the active quantum.
func (s *Scheduler) Quantum() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantum
}

// Current returns the running process, if any.
func (s *Scheduler) Current() (ProcessID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return 0, false
	}
	return s.running.ID, true
}

// Contains reports whether id is Ready or Running.
func (s *Scheduler) Contains(id ProcessID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of Ready and Running processes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Queued returns the Ready processes in the order they would be dispatched.
func (s *Scheduler) Queued() []ProcessID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.queue.ordered()
	ids := make([]ProcessID, len(ordered))
	for i, e := range ordered {
		ids[i] = e.ID
	}
	return ids
}

// Stats returns a snapshot. Counters are read without the run-queue lock.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Preemptions:     s.stats.preemptions.Load(),
		ContextSwitches: s.stats.contextSwitches.Load(),
		TotalScheduled:  s.stats.totalScheduled.Load(),
	}
	s.mu.Lock()
	st.Active = len(s.entries)
	st.Policy = s.policy
	st.Quantum = s.quantum
	s.mu.Unlock()
	return st
}

// ProcessStats returns the view of a single process.
func (s *Scheduler) ProcessStats(id ProcessID) (ProcessStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ProcessStats{}, false
	}
	return e.stats(), true
}

// AllProcessStats returns every process ordered by id.
func (s *Scheduler) AllProcessStats() []ProcessStats {
	s.mu.Lock()
	out := make([]ProcessStats, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.stats())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b ProcessStats) int {
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

// enqueue marks e Ready and inserts it with a fresh insertion sequence.
// Caller holds s.mu.
func (s *Scheduler) enqueue(e *ProcessEntry) {
	s.seq++
	e.seq = s.seq
	e.State = StateReady
	s.queue.push(e)
}

// dispatch pops the head and makes it Running. Caller holds s.mu.
func (s *Scheduler) dispatch(now time.Time) *ProcessEntry {
	e := s.queue.pop()
	if e == nil {
		return nil
	}
	e.State = StateRunning
	e.QuantumStart = now
	s.running = e
	if s.policy == Fair && e.Vruntime > s.minVruntime {
		s.minVruntime = e.Vruntime
	}
	return e
}

// floorVruntime is the vruntime a newly added Fair entry starts at: the
// minimum over queued and running entries, or the last observed minimum when
// nothing is runnable. Caller holds s.mu.
func (s *Scheduler) floorVruntime() float64 {
	floor, ok := s.queue.minVruntime()
	if s.running != nil && (!ok || s.running.Vruntime < floor) {
		floor, ok = s.running.Vruntime, true
	}
	if !ok {
		return s.minVruntime
	}
	s.minVruntime = floor
	return floor
}
