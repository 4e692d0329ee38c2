// Package diagnostics classifies lifecycle failures into typed error records
// and keeps the rolling error, warning and performance logs behind the
// diagnostics API.
//
// Every classification writes exactly one log line tagged with the category
// and severity, e.g.
//
//	[DEPENDENCY] WARNING: missing dependencies: RouterFactory (attempt 1/3)
//
// Log scrapers match on that prefix, so the format is part of the contract.
package diagnostics

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/security"
)

const (
	// MaxLogEntries bounds each rolling log and each performance window.
	MaxLogEntries      = 100
	DefaultStatsWindow = time.Hour
	maxConfigDetailLen = 256
)

var userMessages = map[model.ErrorCategory]string{
	model.CategoryDependency:    "Some application components are still loading. Please wait a moment.",
	model.CategoryTimeout:       "The application took too long to start. Basic navigation has been enabled.",
	model.CategoryConfiguration: "The application is not configured correctly. Basic navigation has been enabled.",
	model.CategoryRuntime:       "An unexpected error occurred while starting the application. Basic navigation has been enabled.",
}

var recoveries = map[model.ErrorCategory]model.Recovery{
	model.CategoryDependency: {
		Action:      model.RecoveryRetry,
		Description: "Wait for the required components to load, then retry initialization.",
		Fallback:    "Use basic navigation if the components never load.",
	},
	model.CategoryTimeout: {
		Action:      model.RecoveryFallback,
		Description: "Stop waiting for the router and switch to basic navigation.",
		Fallback:    "Reload the page to try again.",
	},
	model.CategoryConfiguration: {
		Action:      model.RecoveryFallback,
		Description: "Skip the router and switch to basic navigation.",
		Fallback:    "Fix the route configuration and reload.",
	},
	model.CategoryRuntime: {
		Action:      model.RecoveryFallback,
		Description: "Switch to basic navigation.",
		Fallback:    "Reload the page to try again.",
	},
}

// UserMessage returns the fixed human-facing text for a category.
func UserMessage(category model.ErrorCategory) string {
	return userMessages[category]
}

type Classifier struct {
	mu       sync.Mutex
	logger   *slog.Logger
	now      func() time.Time
	metrics  *Metrics
	errors   *rollingLog[model.ErrorRecord]
	warnings *rollingLog[model.ErrorRecord]
	perf     map[string]*rollingLog[perfSample]
}

type Option func(*Classifier)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logging.OrDefault(logger) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		logger:   slog.Default(),
		now:      time.Now,
		errors:   newRollingLog[model.ErrorRecord](MaxLogEntries),
		warnings: newRollingLog[model.ErrorRecord](MaxLogEntries),
		perf:     map[string]*rollingLog[perfSample]{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics exposes the prometheus collectors the classifier reports into, so
// other components can share them. May be nil.
func (c *Classifier) Metrics() *Metrics {
	return c.metrics
}

// ClassifyDependencyError reports missing dependencies. Severity stays
// warning while another attempt remains and turns critical on the last one.
func (c *Classifier) ClassifyDependencyError(missing []string, attempt, maxAttempts int) model.ErrorRecord {
	severity := model.SeverityWarning
	if attempt >= maxAttempts-1 {
		severity = model.SeverityCritical
	}
	names := strings.Join(missing, ", ")
	msg := fmt.Sprintf("missing dependencies: %s (attempt %d/%d)", names, attempt+1, maxAttempts)
	return c.record(model.CategoryDependency, severity, msg, map[string]string{
		"missing":      strings.Join(missing, ","),
		"attempt":      strconv.Itoa(attempt),
		"max_attempts": strconv.Itoa(maxAttempts),
	})
}

func (c *Classifier) ClassifyTimeoutError(elapsed, limit time.Duration) model.ErrorRecord {
	msg := fmt.Sprintf("initialization timed out after %dms (limit %dms)", elapsed.Milliseconds(), limit.Milliseconds())
	return c.record(model.CategoryTimeout, model.SeverityError, msg, map[string]string{
		"elapsed_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
		"limit_ms":   strconv.FormatInt(limit.Milliseconds(), 10),
	})
}

func (c *Classifier) ClassifyConfigurationError(cause error, offendingConfig any) model.ErrorRecord {
	msg := "invalid configuration"
	if cause != nil {
		msg += ": " + security.RedactError(cause)
	}
	return c.record(model.CategoryConfiguration, model.SeverityError, msg, map[string]string{
		"config": describeConfig(offendingConfig),
	})
}

func (c *Classifier) ClassifyRuntimeError(cause error, contextLabel string) model.ErrorRecord {
	label := strings.TrimSpace(contextLabel)
	if label == "" {
		label = "runtime"
	}
	msg := label
	if cause != nil {
		msg += ": " + security.RedactError(cause)
	}
	return c.record(model.CategoryRuntime, model.SeverityCritical, msg, map[string]string{
		"context": label,
	})
}

func (c *Classifier) record(category model.ErrorCategory, severity model.Severity, msg string, details map[string]string) model.ErrorRecord {
	rec := model.ErrorRecord{
		ID:          uuid.NewString(),
		Category:    category,
		Severity:    severity,
		Message:     msg,
		UserMessage: userMessages[category],
		Recovery:    recoveries[category],
		Details:     details,
		Timestamp:   c.now().UTC(),
	}

	c.mu.Lock()
	if rec.IsWarning() {
		c.warnings.push(rec)
	} else {
		c.errors.push(rec)
	}
	c.mu.Unlock()

	c.metrics.observeClassified(rec)

	line := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(category)), strings.ToUpper(string(severity)), msg)
	attrs := []any{"category", string(category), "severity", string(severity), "error_id", rec.ID}
	if rec.IsWarning() {
		c.logger.Warn(line, attrs...)
	} else {
		c.logger.Error(line, attrs...)
	}
	return rec.Clone()
}

// RecentErrors returns up to limit records from the error log, newest first.
func (c *Classifier) RecentErrors(limit int) []model.ErrorRecord {
	c.mu.Lock()
	items := c.errors.snapshot()
	c.mu.Unlock()
	out := make([]model.ErrorRecord, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, items[i].Clone())
	}
	return out
}

// GetErrorStatistics summarizes records whose timestamp falls within window
// of now. A non-positive window means DefaultStatsWindow.
func (c *Classifier) GetErrorStatistics(window time.Duration) model.ErrorStatistics {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	cutoff := c.now().UTC().Add(-window)

	c.mu.Lock()
	errs := c.errors.snapshot()
	warns := c.warnings.snapshot()
	c.mu.Unlock()

	stats := model.ErrorStatistics{
		ErrorsByCategory: map[model.ErrorCategory]int{},
		Performance:      c.GetPerformanceSummary(),
	}
	for _, cat := range model.Categories {
		stats.ErrorsByCategory[cat] = 0
	}
	for _, rec := range errs {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		stats.TotalErrors++
		stats.ErrorsByCategory[rec.Category]++
		last := rec.Clone()
		stats.LastError = &last
	}
	for _, rec := range warns {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		stats.TotalWarnings++
		stats.ErrorsByCategory[rec.Category]++
	}
	return stats
}

// Reset clears every log. Registered metrics keep their totals.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.errors = newRollingLog[model.ErrorRecord](MaxLogEntries)
	c.warnings = newRollingLog[model.ErrorRecord](MaxLogEntries)
	c.perf = map[string]*rollingLog[perfSample]{}
	c.mu.Unlock()
}

func describeConfig(v any) string {
	if v == nil {
		return "<nil>"
	}
	out := security.RedactPayload(fmt.Sprintf("%+v", v))
	if len(out) > maxConfigDetailLen {
		cut := maxConfigDetailLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	return out
}
