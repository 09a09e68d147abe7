package api

import (
	"net/http"

	"funding-arb/internal/api/handlers"
	"funding-arb/internal/api/middleware"
	"funding-arb/internal/orchestrator"
	"funding-arb/internal/websocket"

	"github.com/gorilla/mux"
)

// Dependencies wires the control surface to the running strategy process.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Hub          *websocket.Hub
	APIKeyHash   string
}

// SetupRoutes builds the read-only operator control surface: liveness,
// cycle status, portfolio snapshot, a live WebSocket feed of the same
// events the webhook notifier posts, and one write action (emergency
// flatten) gated behind the API key.
//
// Middleware order: Recovery, Logging, CORS, then APIKey on the
// authenticated subrouter.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if deps == nil || deps.Orchestrator == nil {
		return router
	}

	status := &handlers.Status{Orchestrator: deps.Orchestrator}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.APIKey(deps.APIKeyHash))
	v1.HandleFunc("/status", status.CycleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/portfolio", status.Portfolio).Methods(http.MethodGet)
	v1.HandleFunc("/flatten", status.Flatten).Methods(http.MethodPost)

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	return router
}
