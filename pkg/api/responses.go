package api

// Task endpoints respond with the service result types directly; they
// already carry the wire shapes. Only the health report has an
// API-local form.

// HealthCheck reports one dependency's health.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
