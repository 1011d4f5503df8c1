package api

import (
	"time"

	"github.com/mattjoyce/familiar/internal/jobstore"
)

// SubmitRequest is the JSON body for POST /jobs
type SubmitRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
	// Metadata values must be strings or integers. Keys are written in
	// sorted order since JSON objects carry none.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SubmitResponse is returned when a job lands in Jobs
type SubmitResponse struct {
	Name  string         `json:"name"`
	State jobstore.State `json:"state"`
	Path  string         `json:"path"`
}

// JobSummary is one row of GET /jobs
type JobSummary struct {
	Name     string         `json:"name"`
	State    jobstore.State `json:"state"`
	Size     int64          `json:"size"`
	Modified time.Time      `json:"modified"`
}

// JobListResponse is returned by GET /jobs
type JobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Jobs          map[jobstore.State]int `json:"jobs"`
}
