// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// EventKind represents the type of scheduler task event
type EventKind int

const (
	EventIdle EventKind = iota
	EventDispatch
	EventPreempt
	EventPaused
	EventResumed
	EventQuantumUpdated
	EventRejected
	EventStopped
)

// Event is emitted on every change of the running process and on every
// handled (or rejected) control command.
type Event struct {
	Time    time.Time
	Kind    EventKind
	Prev    ProcessID // previous running process, valid when HasPrev
	HasPrev bool
	Next    ProcessID // new running process for Dispatch/Preempt
	Quantum time.Duration
	Err     error // set for EventRejected
}

func (ek EventKind) String() string {
	switch ek {
	case EventIdle:
		return "Idle"
	case EventDispatch:
		return "Dispatch"
	case EventPreempt:
		return "Preempt"
	case EventPaused:
		return "Paused"
	case EventResumed:
		return "Resumed"
	case EventQuantumUpdated:
		return "QuantumUpdated"
	case EventRejected:
		return "Rejected"
	case EventStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
