package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.Snapshot()
	resp := HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Cycles:         snap.Cycles,
		CurrentRoutine: snap.CurrentRoutine,
		Stopping:       snap.Stopping,
	}
	status := http.StatusOK
	if snap.Stopping {
		resp.Status = "stopping"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// handleRoutines handles GET /v1/routines.
func (s *Server) handleRoutines(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RoutinesResponse(s.runner.Snapshot()))
}

// handleQueues handles GET /v1/queues.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if s.queues == nil {
		s.writeError(w, http.StatusNotImplemented, "queue summary unavailable")
		return
	}
	counts, err := s.queues.QueueSummary(r.Context())
	if err != nil {
		s.logger.Error("failed to summarise queues", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to summarise queues")
		return
	}
	resp := QueuesResponse{Queues: make([]QueueCount, 0, len(counts))}
	for _, c := range counts {
		resp.Queues = append(resp.Queues, QueueCount{
			Category: string(c.Category),
			Queue:    string(c.Queue),
			Count:    c.Count,
		})
		resp.Total += c.Count
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
