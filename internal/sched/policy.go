package sched

import (
	"fmt"
	"strings"
)

// Policy selects the run-queue representation and ordering.
type Policy int

const (
	RoundRobin Policy = iota
	Priority
	Fair
)

func (p Policy) String() string {
	switch p {
	case RoundRobin:
		return "round_robin"
	case Priority:
		return "priority"
	case Fair:
		return "fair"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts the canonical names and the short aliases (rr, prio, cfs).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "round_robin", "roundrobin", "rr":
		return RoundRobin, nil
	case "priority", "prio":
		return Priority, nil
	case "fair", "cfs":
		return Fair, nil
	}
	return 0, fmt.Errorf("invalid policy %q (valid: round_robin, priority, fair)", s)
}

func (p Policy) MarshalText() ([]byte, error) {
	if p < RoundRobin || p > Fair {
		return nil, fmt.Errorf("invalid policy %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
