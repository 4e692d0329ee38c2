package api

import (
	"time"

	"github.com/g960059/riskdesk/internal/document"
	"github.com/g960059/riskdesk/internal/model"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type RouterTransition struct {
	Requested  string    `json:"requested"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Path       string    `json:"path"`
	Redirected bool      `json:"redirected"`
	At         time.Time `json:"at"`
}

type RouterView struct {
	Current string             `json:"current"`
	Pages   []string           `json:"pages"`
	History []RouterTransition `json:"history"`
}

type LifecycleEnvelope struct {
	SchemaVersion string               `json:"schema_version"`
	GeneratedAt   time.Time            `json:"generated_at"`
	State         model.LifecycleState `json:"state"`
	Router        *RouterView          `json:"router,omitempty"`
}

type InitializeResponse struct {
	SchemaVersion string               `json:"schema_version"`
	GeneratedAt   time.Time            `json:"generated_at"`
	Ready         bool                 `json:"ready"`
	State         model.LifecycleState `json:"state"`
}

type NavigateRequest struct {
	Page     string `json:"page" binding:"required,max=128"`
	SkipLoad bool   `json:"skip_load,omitempty"`
	// Async returns once the page is visible, before its data loads.
	Async bool `json:"async,omitempty"`
}

type NavigationResult struct {
	Requested        string `json:"requested"`
	Page             string `json:"page,omitempty"`
	Mode             string `json:"mode,omitempty"`
	Redirected       bool   `json:"redirected"`
	Ignored          bool   `json:"ignored"`
	ContainerCreated bool   `json:"container_created"`
	Container        string `json:"container,omitempty"`
	Loaded           bool   `json:"loaded"`
	LoadError        string `json:"load_error,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

type NavigateResponse struct {
	SchemaVersion string           `json:"schema_version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	Result        NavigationResult `json:"result"`
}

type DocumentEnvelope struct {
	SchemaVersion string        `json:"schema_version"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Document      document.View `json:"document"`
}

type ErrorsEnvelope struct {
	SchemaVersion string                `json:"schema_version"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Window        string                `json:"window"`
	Statistics    model.ErrorStatistics `json:"statistics"`
	Recent        []model.ErrorRecord   `json:"recent"`
}

type PerformanceEnvelope struct {
	SchemaVersion string                            `json:"schema_version"`
	GeneratedAt   time.Time                         `json:"generated_at"`
	Operations    map[string]model.OperationSummary `json:"operations"`
}

type LoginRequest struct {
	Token  string   `json:"token" binding:"required"`
	UserID string   `json:"user_id" binding:"required"`
	Name   string   `json:"name"`
	Email  string   `json:"email" binding:"omitempty,email"`
	Roles  []string `json:"roles"`
}

type SessionUser struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

type SessionEnvelope struct {
	SchemaVersion string       `json:"schema_version"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Authenticated bool         `json:"authenticated"`
	User          *SessionUser `json:"user,omitempty"`
	Since         *time.Time   `json:"since,omitempty"`
}

type SessionStorageResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	SessionID     string    `json:"session_id"`
	Removed       int64     `json:"removed"`
}

type DependenciesEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Required      []string  `json:"required"`
	Provided      []string  `json:"provided"`
	Missing       []string  `json:"missing"`
}
