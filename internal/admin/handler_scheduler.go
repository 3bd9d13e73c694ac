package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"runq/internal/sched"
)

var errMissingQuantum = errors.New("quantum or quantum_ms is required")

type schedulerResponse struct {
	Enabled bool             `json:"enabled"`
	State   string           `json:"state"`
	Current *sched.ProcessID `json:"current"`
	Quantum string           `json:"quantum,omitempty"`
	Stats   *sched.Stats     `json:"stats,omitempty"`
}

func (s *Server) schedulerView() schedulerResponse {
	resp := schedulerResponse{Enabled: s.ctl.Enabled(), State: "disabled"}
	if !resp.Enabled {
		return resp
	}
	resp.State = s.ctl.TaskState().String()
	if id, ok := s.ctl.Current(); ok {
		resp.Current = &id
	}
	if st, err := s.ctl.Stats(); err == nil {
		resp.Quantum = st.Quantum.String()
		resp.Stats = &st
	}
	return resp
}

func (s *Server) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.schedulerView())
}

type policyRequest struct {
	Policy string `json:"policy"`
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("invalid JSON: %v", err))
		return
	}
	p, err := sched.ParsePolicy(req.Policy)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	}
	if err := s.ctl.SetPolicy(p); err != nil {
		status, apiErr := statusFor(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	s.logger.Info("policy set via api", "policy", p, "request_id", reqID)
	respondOK(w, reqID, s.schedulerView())
}

// quantumRequest accepts either a Go duration string or whole milliseconds.
type quantumRequest struct {
	Quantum   string `json:"quantum"`
	QuantumMS *int   `json:"quantum_ms"`
}

func (q quantumRequest) duration() (time.Duration, error) {
	if q.Quantum != "" {
		return time.ParseDuration(q.Quantum)
	}
	if q.QuantumMS != nil {
		return time.Duration(*q.QuantumMS) * time.Millisecond, nil
	}
	return 0, errMissingQuantum
}

func (s *Server) handleSetQuantum(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req quantumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("invalid JSON: %v", err))
		return
	}
	d, err := req.duration()
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	}
	if err := s.ctl.SetQuantum(d); err != nil {
		status, apiErr := statusFor(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	// the task applies the update asynchronously
	respondJSON(w, http.StatusAccepted, reqID, map[string]string{"quantum": d.String()}, nil)
}

// handleControl wraps the argument-less task commands.
func (s *Server) handleControl(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := RequestIDFromContext(r.Context())
		if err := fn(); err != nil {
			status, apiErr := statusFor(err)
			respondError(w, reqID, status, apiErr)
			return
		}
		s.logger.Debug("command sent", "command", name, "request_id", reqID)
		respondJSON(w, http.StatusAccepted, reqID, map[string]string{"command": name}, nil)
	}
}
