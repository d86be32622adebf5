package http

import "github.com/fyrsmithlabs/nbfix/internal/extraction"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ExecuteRequest is the request body for POST /api/v1/execute.
type ExecuteRequest struct {
	NotebookPath string `json:"notebook_path"`
}

// ExecuteResponse is the response body for POST /api/v1/execute.
type ExecuteResponse struct {
	NotebookPath string                   `json:"notebook_path"`
	OK           bool                     `json:"ok"`
	DurationMS   int64                    `json:"duration_ms"`
	Error        *extraction.ErrorDetails `json:"error,omitempty"`
}

// RepairRequest is the request body for POST /api/v1/repair. The response
// is the session's orchestrator.Report.
type RepairRequest struct {
	NotebookPath string `json:"notebook_path"`
	// MaxIterations overrides the configured budget when positive.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}
