package api

import "time"

// SchemaVersion tags every control API payload.
const SchemaVersion = "v1"

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Lifecycle     string    `json:"lifecycle"`
	Fallback      bool      `json:"fallback_active"`
}
