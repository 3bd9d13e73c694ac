package sched

import "time"

// ProcessID uniquely identifies a process in the scheduler.
type ProcessID uint64

const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// State is the scheduling state of a ProcessEntry.
type State int

const (
	StateReady State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ProcessEntry represents one schedulable process.
type ProcessEntry struct {
	ID           ProcessID
	Priority     int           // 0 - 10, higher runs first
	Weight       float64       // max(1, Priority)
	Vruntime     float64       // nanoseconds, only advanced under Fair
	QuantumStart time.Time     // when the entry last became Running
	State        State
	CPUTime      time.Duration // wall time charged while Running

	seq uint64 // insertion order, refreshed on every (re)queue
}

// newEntry creates a Ready entry with a clamped priority and zeroed vruntime.
// NOTE: Vruntime is seeded by the scheduler when the entry is queued.
func newEntry(id ProcessID, priority int) *ProcessEntry {
	e := &ProcessEntry{ID: id, State: StateReady}
	e.setPriority(priority)
	return e
}

func (e *ProcessEntry) setPriority(priority int) {
	e.Priority = ClampPriority(priority)
	e.Weight = float64(max(e.Priority, 1))
}

// ClampPriority forces priority into [MinPriority, MaxPriority].
func ClampPriority(priority int) int {
	if priority < MinPriority {
		return MinPriority
	}
	if priority > MaxPriority {
		return MaxPriority
	}
	return priority
}

// charge accounts elapsed run time to the entry. Under Fair the vruntime
// advances inversely to the entry's weight.
func (e *ProcessEntry) charge(elapsed time.Duration, policy Policy) {
	if elapsed <= 0 {
		return
	}
	e.CPUTime += elapsed
	if policy == Fair {
		e.Vruntime += float64(elapsed) * baseWeight / e.Weight
	}
}

// baseWeight is the weight at which vruntime tracks wall time.
const baseWeight = float64(DefaultPriority)

// ProcessStats is a read-only view of one entry.
type ProcessStats struct {
	ID       ProcessID     `json:"id"`
	Priority int           `json:"priority"`
	State    string        `json:"state"`
	CPUTime  time.Duration `json:"cpu_time_ns"`
	Vruntime float64       `json:"vruntime"`
	Current  bool          `json:"current"`
}

func (e *ProcessEntry) stats() ProcessStats {
	return ProcessStats{
		ID:       e.ID,
		Priority: e.Priority,
		State:    e.State.String(),
		CPUTime:  e.CPUTime,
		Vruntime: e.Vruntime,
		Current:  e.State == StateRunning,
	}
}
