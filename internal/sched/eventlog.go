// internal/sched/eventlog.go

package sched

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"runq/internal/logging"
)

// EventLog consumes a task's event stream, logging each event and
// optionally appending it to a CSV file.
type EventLog struct {
	logger    *slog.Logger
	csvWriter *csv.Writer
	closer    io.Closer
}

// NewEventLog creates an event consumer that logs through logger.
func NewEventLog(logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = logging.Discard()
	}
	return &EventLog{logger: logger.With("component", "events")}
}

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before Consume.
func (l *EventLog) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.EnableCSV(f); err != nil {
		f.Close()
		return err
	}
	l.closer = f
	return nil
}

// EnableCSV writes CSV rows to w.
func (l *EventLog) EnableCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "event", "prev", "next", "quantum", "error"}); err != nil {
		return err
	}
	cw.Flush()
	l.csvWriter = cw
	return cw.Error()
}

// Consume blocks until events is closed.
func (l *EventLog) Consume(events <-chan Event) {
	for ev := range events {
		l.handle(ev)
	}
	if l.csvWriter != nil {
		l.csvWriter.Flush()
	}
	if l.closer != nil {
		l.closer.Close()
	}
}

func (l *EventLog) handle(ev Event) {
	attrs := []any{"event", ev.Kind.String()}
	if ev.HasPrev {
		attrs = append(attrs, "prev", ev.Prev)
	}
	switch ev.Kind {
	case EventDispatch, EventPreempt:
		attrs = append(attrs, "next", ev.Next)
	case EventQuantumUpdated:
		attrs = append(attrs, "quantum", ev.Quantum)
	}

	if ev.Err != nil {
		l.logger.Warn("scheduler event", append(attrs, "quantum", ev.Quantum, logging.ErrAttr(ev.Err))...)
	} else {
		l.logger.Info("scheduler event", attrs...)
	}

	if l.csvWriter == nil {
		return
	}
	rec := []string{
		ev.Time.Format(time.RFC3339Nano),
		ev.Kind.String(),
		"",
		"",
		"",
		"",
	}
	if ev.HasPrev {
		rec[2] = strconv.FormatUint(uint64(ev.Prev), 10)
	}
	if ev.Kind == EventDispatch || ev.Kind == EventPreempt {
		rec[3] = strconv.FormatUint(uint64(ev.Next), 10)
	}
	if ev.Quantum > 0 || ev.Kind == EventRejected {
		rec[4] = ev.Quantum.String()
	}
	if ev.Err != nil {
		rec[5] = ev.Err.Error()
	}
	l.csvWriter.Write(rec)
	l.csvWriter.Flush()
}
