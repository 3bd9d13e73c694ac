package sched

import (
	"sync/atomic"
	"time"
)

// counters are updated by the deciding goroutine and read from anywhere
// without taking the run-queue lock.
type counters struct {
	preemptions     atomic.Uint64
	contextSwitches atomic.Uint64
	totalScheduled  atomic.Uint64
}

// Stats is a point-in-time snapshot of the scheduler.
type Stats struct {
	Preemptions     uint64        `json:"preemptions"`
	ContextSwitches uint64        `json:"context_switches"`
	TotalScheduled  uint64        `json:"total_scheduled"`
	Active          int           `json:"active"`
	Policy          Policy        `json:"policy"`
	Quantum         time.Duration `json:"quantum_ns"`
}
