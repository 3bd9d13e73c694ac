package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Started   string `json:"started"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	Processes int    `json:"processes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	state := "disabled"
	if s.ctl.Enabled() {
		state = s.ctl.TaskState().String()
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Started:   humanize.Time(s.startTime),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: state,
		Processes: len(s.ctl.Processes()),
	})
}
