package http

// HealthResponse is the response body for the liveness endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the response body for GET /healthz/ready. Reason names
// the first dependency that failed its check. Degraded lists telemetry
// signals that fell back to no-op at startup.
type ReadinessResponse struct {
	Status   string   `json:"status"`
	Reason   string   `json:"reason,omitempty"`
	Degraded []string `json:"degraded,omitempty"`
}

// ErrorResponse is the body written by the error boundary. TraceID is empty
// when the request had no valid span.
type ErrorResponse struct {
	Detail  string `json:"detail"`
	TraceID string `json:"trace_id,omitempty"`
}
