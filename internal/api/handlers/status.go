package handlers

import (
	"encoding/json"
	"net/http"

	"funding-arb/internal/orchestrator"
)

// Status bundles the read-only control-surface handlers. The orchestrator
// is the single source of truth; handlers never mutate it except through
// the explicit flatten trigger.
type Status struct {
	Orchestrator *orchestrator.Orchestrator
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Healthz reports process liveness; it never touches the orchestrator,
// so it stays responsive even mid-cycle.
func (s *Status) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "ok"})
}

// CycleStatus reports the last completed cycle's outcome and the
// consecutive-skip counter operators watch for stalls.
func (s *Status) CycleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Status())
}

// Portfolio reports the current in-memory PortfolioState snapshot.
func (s *Status) Portfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Portfolio())
}

// Flatten triggers an emergency flatten of every open pair. It is the
// one non-read-only action on the control surface, exposed for an
// operator to pull the rip cord without SSHing into the box.
func (s *Status) Flatten(w http.ResponseWriter, r *http.Request) {
	result := s.Orchestrator.EmergencyFlatten(r.Context())
	writeJSON(w, http.StatusOK, result)
}
