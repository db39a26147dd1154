package endpoints

import (
	"net/http"

	"therapy-chat-sync/internal/service/sweep"
)

type UtilsEndpoints interface {
	Health(http.ResponseWriter, *http.Request) error
}

type HealthResponse struct {
	Status    string        `json:"status"`
	SweepRuns int           `json:"sweepRuns"`
	LastSweep *sweep.Report `json:"lastSweep,omitempty"`
}

type utilsEndpoints struct {
	sweep *sweep.Runner
}

// NewUtilsEndpoints takes an optional sweep runner whose last pass is
// reported by Health.
func NewUtilsEndpoints(runner *sweep.Runner) UtilsEndpoints {
	return &utilsEndpoints{sweep: runner}
}

func (h *utilsEndpoints) Health(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleHealth,
	})
}

func (h *utilsEndpoints) handleHealth(w http.ResponseWriter, r *http.Request) error {
	resp := HealthResponse{Status: "ok"}
	if h.sweep != nil {
		report, runs := h.sweep.Last()
		resp.SweepRuns = runs
		if runs > 0 {
			resp.LastSweep = &report
		}
	}
	return WriteJSON(w, http.StatusOK, resp)
}
