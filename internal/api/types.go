package api

import "github.com/mattjoyce/tapemaint/internal/maintenance"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Cycles         uint64 `json:"cycles"`
	CurrentRoutine string `json:"current_routine,omitempty"`
	Stopping       bool   `json:"stopping"`
}

// RoutinesResponse is returned by GET /v1/routines.
type RoutinesResponse = maintenance.Snapshot

// QueueCount is one row of GET /v1/queues.
type QueueCount struct {
	Category string `json:"category"`
	Queue    string `json:"queue"`
	Count    int    `json:"count"`
}

// QueuesResponse is returned by GET /v1/queues.
type QueuesResponse struct {
	Queues []QueueCount `json:"queues"`
	Total  int          `json:"total"`
}
