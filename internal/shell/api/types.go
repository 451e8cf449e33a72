package api

import "github.com/artpar/stackctl/internal/core/domain"

// =============================================================================
// Response Types
// =============================================================================

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs   []domain.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// RunResponse is one run with its events.
type RunResponse struct {
	Run    domain.Run        `json:"run"`
	Events []domain.RunEvent `json:"events"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
