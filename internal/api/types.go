package api

import (
	"github.com/mattjoyce/adworker/internal/joblog"
)

// CallResponse is returned by POST /v1/{service}/{method}.
type CallResponse struct {
	TaskID    string `json:"task_id"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	// Result is the record array, or the raw worker output for degraded calls.
	Result     any    `json:"result"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// TaskListResponse is returned by GET /tasks.
type TaskListResponse struct {
	Tasks []joblog.Record `json:"tasks"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Limit         int    `json:"limit"`
	Running       int    `json:"running"`
	Pending       int    `json:"pending"`
	Completed     int64  `json:"completed"`
}
