package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"runq/internal/procmgr"
	"runq/internal/sched"
)

type processResponse struct {
	procmgr.Process
	Sched *sched.ProcessStats `json:"sched,omitempty"`
}

func (s *Server) processView(p procmgr.Process) processResponse {
	resp := processResponse{Process: p}
	if ps, ok := s.ctl.ProcessStats(p.ID); ok {
		resp.Sched = &ps
	}
	return resp
}

func processID(r *http.Request) (sched.ProcessID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid process id %q", raw)
	}
	return sched.ProcessID(id), nil
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	procs := s.ctl.Processes()
	out := make([]processResponse, 0, len(procs))
	for _, p := range procs {
		out = append(out, s.processView(p))
	}
	respondOK(w, RequestIDFromContext(r.Context()), out)
}

type createProcessRequest struct {
	Name     string `json:"name"`
	Priority *int   `json:"priority"`
}

func (s *Server) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("invalid JSON: %v", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest, validationError("name is required"))
		return
	}
	priority := sched.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
		if priority < sched.MinPriority || priority > sched.MaxPriority {
			respondError(w, reqID, http.StatusBadRequest,
				validationError("priority %d not in [%d, %d]", priority, sched.MinPriority, sched.MaxPriority))
			return
		}
	}

	p, err := s.ctl.Create(req.Name, priority)
	if err != nil {
		status, apiErr := statusFor(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondCreated(w, reqID, s.processView(p))
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, err := processID(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	}
	p, ok := s.ctl.Process(id)
	if !ok {
		status, apiErr := statusFor(fmt.Errorf("%w: %d", procmgr.ErrProcessNotFound, id))
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, s.processView(p))
}

func (s *Server) handleTerminateProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, err := processID(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	}
	if !s.ctl.Terminate(id) {
		status, apiErr := statusFor(fmt.Errorf("%w: %d", procmgr.ErrProcessNotFound, id))
		respondError(w, reqID, status, apiErr)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "terminated": true})
}

// priorityRequest sets an absolute priority or steps it with
// adjust "boost"/"lower".
type priorityRequest struct {
	Priority *int   `json:"priority"`
	Adjust   string `json:"adjust"`
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, err := processID(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	}

	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("invalid JSON: %v", err))
		return
	}

	switch {
	case req.Priority != nil && req.Adjust != "":
		err = errors.New("priority and adjust are mutually exclusive")
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	case req.Priority != nil:
		err = s.ctl.SetPriority(id, *req.Priority)
	case req.Adjust == "boost":
		_, err = s.ctl.Boost(id)
	case req.Adjust == "lower":
		_, err = s.ctl.Lower(id)
	default:
		respondError(w, reqID, http.StatusBadRequest,
			validationError("priority or adjust (boost|lower) is required"))
		return
	}
	if err != nil {
		status, apiErr := statusFor(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	p, _ := s.ctl.Process(id)
	respondOK(w, reqID, s.processView(p))
}

func (s *Server) handleYield(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, err := processID(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, validationError("%v", err))
		return
	}
	if err := s.ctl.Yield(id); err != nil {
		status, apiErr := statusFor(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondJSON(w, http.StatusAccepted, reqID, map[string]any{"id": id, "yielded": true}, nil)
}
