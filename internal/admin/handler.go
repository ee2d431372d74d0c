package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/registry"
)

// Handler serves the operator surface: read-only health and circuit
// views plus manual overrides (poll trigger, error reset, circuit reset).
type Handler struct {
	logger   *slog.Logger
	registry *registry.Registry
	breakers *circuitbreaker.Registry
}

func NewHandler(logger *slog.Logger, reg *registry.Registry, breakers *circuitbreaker.Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		registry: reg,
		breakers: breakers,
	}
}

// Register attaches the admin routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /gateway/status", h.status)
	mux.HandleFunc("GET /gateway/services", h.listServices)
	mux.HandleFunc("GET /gateway/services/{name}", h.getService)
	mux.HandleFunc("POST /gateway/services/{name}/poll", h.triggerPoll)
	mux.HandleFunc("POST /gateway/services/{name}/reset-errors", h.resetErrors)
	mux.HandleFunc("GET /gateway/circuits", h.listCircuits)
	mux.HandleFunc("GET /gateway/circuits/{name}", h.getCircuit)
	mux.HandleFunc("POST /gateway/circuits/{name}/reset", h.resetCircuit)
	mux.HandleFunc("POST /gateway/circuits/reset", h.resetAllCircuits)
}

// backendStatus pairs the registry's advisory health view with the
// breaker's live-call view. The two are reported side by side, never
// merged into one state.
type backendStatus struct {
	Health  registry.HealthRecord   `json:"health"`
	Circuit circuitbreaker.Snapshot `json:"circuit"`
}

type fleetStats struct {
	Services registry.Stats `json:"services"`
	ByPhase  map[string]int `json:"circuits_by_phase"`
}

type statusResponse struct {
	Backends  map[string]backendStatus `json:"backends"`
	Fleet     fleetStats               `json:"fleet"`
	Timestamp time.Time                `json:"timestamp"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	records := h.registry.GetAll()

	response := statusResponse{
		Backends: make(map[string]backendStatus, len(records)),
		Fleet: fleetStats{
			Services: h.registry.GetStats(),
			ByPhase:  make(map[string]int),
		},
		Timestamp: time.Now(),
	}

	for _, record := range records {
		circuit := h.breakers.GetState(record.Name)
		response.Backends[record.Name] = backendStatus{
			Health:  record,
			Circuit: circuit,
		}
		response.Fleet.ByPhase[circuit.Phase]++
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.GetAll())
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	record, ok := h.registry.GetStatus(name)
	if !ok {
		writeUnknownService(w, name)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) triggerPoll(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.registry.TriggerPoll(r.Context(), name); err != nil {
		writeUnknownService(w, name)
		return
	}

	h.logger.Info("Manual poll triggered", slog.String("service", name))
	record, _ := h.registry.GetStatus(name)
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) resetErrors(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.registry.ResetErrors(name); err != nil {
		writeUnknownService(w, name)
		return
	}

	record, _ := h.registry.GetStatus(name)
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) listCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breakers.AllStates())
}

func (h *Handler) getCircuit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := h.registry.GetStatus(name); !ok {
		writeUnknownService(w, name)
		return
	}
	writeJSON(w, http.StatusOK, h.breakers.GetState(name))
}

func (h *Handler) resetCircuit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := h.registry.GetStatus(name); !ok {
		writeUnknownService(w, name)
		return
	}

	h.breakers.Reset(name)
	h.logger.Info("Circuit manually reset", slog.String("backend", name))
	writeJSON(w, http.StatusOK, h.breakers.GetState(name))
}

func (h *Handler) resetAllCircuits(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	h.logger.Info("All circuits manually reset")
	writeJSON(w, http.StatusOK, h.breakers.AllStates())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeUnknownService(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "unknown service",
		"service": name,
	})
}
