package model

import "time"

// Status is the lifecycle status of the router manager.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
)

type ErrorCategory string

const (
	CategoryDependency    ErrorCategory = "dependency"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryRuntime       ErrorCategory = "runtime"
)

// Categories lists every category in reporting order.
var Categories = []ErrorCategory{
	CategoryDependency,
	CategoryTimeout,
	CategoryConfiguration,
	CategoryRuntime,
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type RecoveryAction string

const (
	RecoveryRetry    RecoveryAction = "retry"
	RecoveryFallback RecoveryAction = "fallback"
)

type Recovery struct {
	Action      RecoveryAction `json:"action"`
	Description string         `json:"description"`
	Fallback    string         `json:"fallback"`
}

// ErrorRecord is produced by the classifier and never mutated afterwards.
// Copies handed out by accessors do not share the Details map.
type ErrorRecord struct {
	ID          string            `json:"id"`
	Category    ErrorCategory     `json:"category"`
	Severity    Severity          `json:"severity"`
	Message     string            `json:"message"`
	UserMessage string            `json:"user_message"`
	Recovery    Recovery          `json:"recovery"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

func (r ErrorRecord) Clone() ErrorRecord {
	if r.Details != nil {
		details := make(map[string]string, len(r.Details))
		for k, v := range r.Details {
			details[k] = v
		}
		r.Details = details
	}
	return r
}

func (r ErrorRecord) IsWarning() bool {
	return r.Severity == SeverityWarning
}

// SnapshotSchemaVersion guards against snapshots written by other builds.
const SnapshotSchemaVersion = 1

// Snapshot is the persisted form of a successful lifecycle outcome.
type Snapshot struct {
	SchemaVersion        int       `json:"schema_version"`
	Status               Status    `json:"status"`
	InitializationTimeMs int64     `json:"initialization_time_ms"`
	Timestamp            time.Time `json:"timestamp"`
	URL                  string    `json:"url"`
	ClientFingerprint    string    `json:"client_fingerprint"`
}

// LifecycleState is a read-only copy of the manager's state.
type LifecycleState struct {
	Status               Status       `json:"status"`
	InitializationTimeMs int64        `json:"initialization_time_ms"`
	RetryCount           int          `json:"retry_count"`
	LastError            *ErrorRecord `json:"last_error,omitempty"`
	FallbackActive       bool         `json:"fallback_active"`
	RestoredFromSnapshot bool         `json:"restored_from_snapshot"`
	HasInstance          bool         `json:"has_instance"`
}

type OperationSummary struct {
	Count              int     `json:"count"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
	MinDurationMs      float64 `json:"min_duration_ms"`
	MaxDurationMs      float64 `json:"max_duration_ms"`
}

type ErrorStatistics struct {
	TotalErrors      int                         `json:"total_errors"`
	TotalWarnings    int                         `json:"total_warnings"`
	ErrorsByCategory map[ErrorCategory]int       `json:"errors_by_category"`
	LastError        *ErrorRecord                `json:"last_error,omitempty"`
	Performance      map[string]OperationSummary `json:"performance"`
}

// API error codes.
const (
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrLifecycleFailed    = "E_LIFECYCLE_FAILED"
	ErrUnauthorized       = "E_UNAUTHORIZED"
	ErrInternal           = "E_INTERNAL"
)
