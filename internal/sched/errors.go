package sched

import "errors"

var (
	// ErrDuplicateProcess is returned by Add when the id is already scheduled.
	ErrDuplicateProcess = errors.New("process already scheduled")
	// ErrInvalidQuantum rejects non-positive quanta; the previous quantum stays.
	ErrInvalidQuantum = errors.New("quantum must be positive")
	// ErrUnknownProcess is returned for operations on an id the scheduler does not hold.
	ErrUnknownProcess = errors.New("no such process")
	// ErrTaskStopped is returned for commands sent after Shutdown.
	ErrTaskStopped = errors.New("scheduler task stopped")
	// ErrTaskStarted is returned when Start is called twice.
	ErrTaskStarted = errors.New("scheduler task already started")
)
