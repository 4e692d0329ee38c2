// Package lifecycle owns router construction: dependency polling with linear
// backoff, fast-path restore from a session snapshot, fallback activation
// and the ready/error/fallback callback registries.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/g960059/riskdesk/internal/backoff"
	"github.com/g960059/riskdesk/internal/diagnostics"
	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/probe"
	"github.com/g960059/riskdesk/internal/router"
)

var ErrInvalidConfiguration = errors.New("invalid lifecycle configuration")

const (
	DefaultMaxRetries     = 3
	DefaultRetryDelayBase = time.Second
	DefaultTimeout        = 10 * time.Second

	initializeOperation = "lifecycle.initialize"
	tracerName          = "github.com/g960059/riskdesk/internal/lifecycle"
)

// DefaultRequiredDependencies is the probe list used when Options leaves it
// empty.
var DefaultRequiredDependencies = []string{probe.RouterFactory, probe.AuthGuardFactory, probe.RouteConfig}

type Options struct {
	// Registry and Classifier are required.
	Registry   *probe.Registry
	Classifier *diagnostics.Classifier

	Snapshots    SnapshotStore
	EntryPoint   *EntryPoint
	Capabilities router.Capabilities
	Guard        router.GuardOptions
	Environment  Environment

	MaxRetries           int
	RetryDelayBase       time.Duration
	Timeout              time.Duration
	SnapshotTTL          time.Duration
	RequiredDependencies []string

	Logger *slog.Logger
	Tracer trace.Tracer
	Clock  func() time.Time
	// Sleep waits between attempts; it must return early with ctx.Err().
	Sleep func(ctx context.Context, d time.Duration) error
}

type (
	ReadyFunc    func(r *router.Router)
	ErrorFunc    func(rec model.ErrorRecord)
	FallbackFunc func()
)

type Manager struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *diagnostics.Metrics
	group   singleflight.Group

	mu         sync.Mutex
	generation uint64
	status     model.Status
	instance   *router.Router
	initMs     int64
	retryCount int
	lastError  *model.ErrorRecord
	fallback   bool
	restored   bool
	onReady    []ReadyFunc
	onError    []ErrorFunc
	onFallback []FallbackFunc

	release func()
}

// NewManager validates opts and returns a pending manager. Most callers go
// through Holder.Acquire instead.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: dependency registry is required", ErrInvalidConfiguration)
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("%w: error classifier is required", ErrInvalidConfiguration)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelayBase < 0 {
		return nil, fmt.Errorf("%w: negative retry delay", ErrInvalidConfiguration)
	}
	if opts.RetryDelayBase == 0 {
		opts.RetryDelayBase = DefaultRetryDelayBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = DefaultSnapshotTTL
	}
	if len(opts.RequiredDependencies) == 0 {
		opts.RequiredDependencies = DefaultRequiredDependencies
	}
	opts.RequiredDependencies = append([]string(nil), opts.RequiredDependencies...)
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = backoff.Sleep
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Manager{
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger).With("component", "lifecycle"),
		tracer:  tracer,
		metrics: opts.Classifier.Metrics(),
		status:  model.StatusPending,
	}, nil
}

// Initialize brings the router up and reports whether it is ready. Concurrent
// callers share one attempt. It never panics and never returns an error;
// LastError explains a false result. Cancelling ctx stops this caller from
// waiting but not the shared attempt.
func (m *Manager) Initialize(ctx context.Context) bool {
	if done, ok := m.settled(); done {
		return ok
	}
	ch := m.group.DoChan("initialize", func() (any, error) {
		return m.run(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return m.Status() == model.StatusReady
	}
}

// settled reports whether Initialize can answer without an attempt.
func (m *Manager) settled() (done, ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.status == model.StatusReady:
		return true, true
	case m.status == model.StatusFailed && m.fallback:
		return true, false
	}
	return false, false
}

func (m *Manager) run(ctx context.Context) bool {
	if done, ok := m.settled(); done {
		return ok
	}
	ctx, span := m.tracer.Start(ctx, initializeOperation)
	defer span.End()

	m.mu.Lock()
	gen := m.generation
	if err := m.setStatusLocked(model.StatusInitializing); err != nil {
		m.mu.Unlock()
		m.logger.Error("[LIFECYCLE] initialization refused", "error", err)
		return false
	}
	m.retryCount = 0
	m.mu.Unlock()

	start := m.opts.Clock()
	m.logger.Info("[LIFECYCLE] initialization started", "max_retries", m.opts.MaxRetries, "timeout", m.opts.Timeout)

	if r, ok := m.restore(ctx); ok {
		span.SetAttributes(attribute.Bool("lifecycle.restored", true))
		return m.succeed(ctx, gen, r, start, true)
	}

	r, rec := m.attempt(ctx, start)
	m.mu.Lock()
	retries := m.retryCount
	m.mu.Unlock()
	span.SetAttributes(attribute.Int("lifecycle.retries", retries))
	if r != nil {
		return m.succeed(ctx, gen, r, start, false)
	}
	span.SetStatus(codes.Error, rec.Message)
	return m.fail(gen, rec, start)
}

// restore tries the snapshot fast path. Any failure leaves the retry budget
// untouched.
func (m *Manager) restore(ctx context.Context) (*router.Router, bool) {
	if m.opts.Snapshots == nil {
		return nil, false
	}
	snap, found, err := m.opts.Snapshots.Load(ctx)
	if err != nil {
		m.logger.Warn("snapshot load failed", "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	if err := checkSnapshot(snap, m.opts.Environment, m.opts.Clock(), m.opts.SnapshotTTL); err != nil {
		m.logger.Debug("snapshot ignored", "reason", err.Error())
		return nil, false
	}
	if missing := m.opts.Registry.CheckDependencies(m.opts.RequiredDependencies); len(missing) > 0 {
		m.logger.Debug("snapshot ignored", "reason", "dependencies missing", "missing", missing)
		return nil, false
	}
	r, err := m.construct(ctx)
	if err != nil {
		m.logger.Warn("snapshot restore failed, discarding snapshot", "error", err)
		if derr := m.opts.Snapshots.Delete(ctx); derr != nil {
			m.logger.Warn("snapshot delete failed", "error", derr)
		}
		return nil, false
	}
	return r, true
}

// attempt runs the probe/construct loop until success, a non-retryable
// error, an exhausted budget or the wall-clock timeout.
func (m *Manager) attempt(ctx context.Context, start time.Time) (*router.Router, model.ErrorRecord) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	c := m.opts.Classifier
	maxRetries := m.opts.MaxRetries

	for {
		if m.expired(ctx, start) {
			return nil, c.ClassifyTimeoutError(m.opts.Clock().Sub(start), m.opts.Timeout)
		}

		m.mu.Lock()
		retries := m.retryCount
		m.mu.Unlock()

		var rec model.ErrorRecord
		if missing := m.opts.Registry.CheckDependencies(m.opts.RequiredDependencies); len(missing) > 0 {
			rec = c.ClassifyDependencyError(missing, retries, maxRetries)
		} else {
			r, err := m.construct(ctx)
			if err == nil {
				return r, model.ErrorRecord{}
			}
			var cfgErr *configurationError
			if errors.As(err, &cfgErr) {
				return nil, c.ClassifyConfigurationError(cfgErr.err, cfgErr.value)
			}
			if m.expired(ctx, start) {
				return nil, c.ClassifyTimeoutError(m.opts.Clock().Sub(start), m.opts.Timeout)
			}
			rec = c.ClassifyRuntimeError(err, "router construction")
		}

		m.mu.Lock()
		last := rec
		m.lastError = &last
		if retries >= maxRetries-1 {
			m.mu.Unlock()
			return nil, rec
		}
		m.retryCount = retries + 1
		m.mu.Unlock()
		m.metrics.IncRetry()

		delay := backoff.Linear(m.opts.RetryDelayBase, retries+1)
		m.logger.Debug("retrying initialization", "retry", retries+1, "delay", delay)
		if err := m.opts.Sleep(ctx, delay); err != nil {
			return nil, c.ClassifyTimeoutError(m.opts.Clock().Sub(start), m.opts.Timeout)
		}
	}
}

func (m *Manager) expired(ctx context.Context, start time.Time) bool {
	return ctx.Err() != nil || m.opts.Clock().Sub(start) >= m.opts.Timeout
}

// succeed persists the snapshot and then publishes r. The generation is
// checked again after the save so a Destroy that lands while the snapshot is
// written wins: r is torn down, the snapshot removed and no callback runs.
func (m *Manager) succeed(ctx context.Context, gen uint64, r *router.Router, start time.Time, restored bool) bool {
	elapsed := m.opts.Clock().Sub(start)

	if !m.current(gen) {
		// torn down while constructing
		_ = r.Destroy()
		return false
	}

	saved := false
	if m.opts.Snapshots != nil {
		snap := model.Snapshot{
			SchemaVersion:        model.SnapshotSchemaVersion,
			Status:               model.StatusReady,
			InitializationTimeMs: elapsed.Milliseconds(),
			Timestamp:            m.opts.Clock().UTC(),
			URL:                  m.opts.Environment.URL,
			ClientFingerprint:    m.opts.Environment.UserAgent,
		}
		if err := m.opts.Snapshots.Save(ctx, snap); err != nil {
			m.logger.Warn("snapshot save failed", "error", err)
		} else {
			saved = true
		}
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.abandon(ctx, r, saved)
		m.logger.Info("[LIFECYCLE] initialization abandoned, destroyed during publish")
		return false
	}
	if err := m.setStatusLocked(model.StatusReady); err != nil {
		m.mu.Unlock()
		m.abandon(ctx, r, saved)
		m.logger.Error("[LIFECYCLE] initialization refused", "error", err)
		return false
	}
	m.instance = r
	m.initMs = elapsed.Milliseconds()
	m.restored = restored
	retries := m.retryCount
	callbacks := m.onReady
	m.onReady = nil
	m.mu.Unlock()

	m.opts.Classifier.RecordPerformanceSample(initializeOperation, elapsed, true)
	m.metrics.SetStatus(model.StatusReady)
	if restored {
		m.logger.Info("[LIFECYCLE] restored from snapshot", "duration_ms", elapsed.Milliseconds())
	}
	m.logger.Info("[LIFECYCLE] initialization succeeded",
		"duration_ms", elapsed.Milliseconds(),
		"retries", retries,
		"restored", restored,
	)
	for _, cb := range callbacks {
		if !m.current(gen) {
			break
		}
		m.safeCall("ready callback", func() { cb(r) })
	}
	return true
}

// abandon discards a router that was built but never published.
func (m *Manager) abandon(ctx context.Context, r *router.Router, snapshotSaved bool) {
	_ = r.Destroy()
	if !snapshotSaved {
		return
	}
	if err := m.opts.Snapshots.Delete(ctx); err != nil {
		m.logger.Warn("snapshot delete failed", "error", err)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) fail(gen uint64, rec model.ErrorRecord, start time.Time) bool {
	elapsed := m.opts.Clock().Sub(start)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	if err := m.setStatusLocked(model.StatusFailed); err != nil {
		m.logger.Error("unexpected status change", "error", err)
		m.status = model.StatusFailed
	}
	last := rec
	m.lastError = &last
	m.initMs = elapsed.Milliseconds()
	callbacks := m.onError
	m.onError = nil
	m.mu.Unlock()

	m.opts.Classifier.RecordPerformanceSample(initializeOperation, elapsed, false)
	m.metrics.SetStatus(model.StatusFailed)
	m.logger.Error("[LIFECYCLE] initialization failed",
		"category", string(rec.Category),
		"error_id", rec.ID,
		"duration_ms", elapsed.Milliseconds(),
	)
	m.ActivateFallback()
	for _, cb := range callbacks {
		m.safeCall("error callback", func() { cb(rec.Clone()) })
	}
	return false
}

// ActivateFallback latches fallback mode, reinstates the original navigator
// and fires the fallback callbacks. Calling it again is a no-op.
func (m *Manager) ActivateFallback() {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("fallback activation panicked", "panic", fmt.Sprint(p))
		}
	}()

	m.mu.Lock()
	if m.fallback {
		m.mu.Unlock()
		return
	}
	m.fallback = true
	if m.status != model.StatusFailed {
		if err := m.setStatusLocked(model.StatusFailed); err != nil {
			m.status = model.StatusFailed
		}
	}
	inst := m.instance
	m.instance = nil
	callbacks := m.onFallback
	m.onFallback = nil
	m.mu.Unlock()

	if inst != nil {
		_ = inst.Destroy()
	}
	restored := m.opts.EntryPoint.Restore()
	m.metrics.SetStatus(model.StatusFailed)
	m.metrics.SetFallbackActive(true)
	m.logger.Warn("[FALLBACK] fallback mode activated", "original_navigator_restored", restored)
	for _, cb := range callbacks {
		m.safeCall("fallback callback", func() { cb() })
	}
}

// Destroy tears the router down, deletes the snapshot, resets every field
// to its pending default, drops all callbacks and releases the holder slot.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	inst := m.instance
	m.generation++
	m.status = model.StatusPending
	m.instance = nil
	m.initMs = 0
	m.retryCount = 0
	m.lastError = nil
	m.fallback = false
	m.restored = false
	m.onReady = nil
	m.onError = nil
	m.onFallback = nil
	release := m.release
	m.release = nil
	m.mu.Unlock()

	var errs []error
	if inst != nil {
		m.safeCall("router teardown", func() {
			if err := inst.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("router teardown: %w", err))
			}
		})
	}
	if m.opts.Snapshots != nil {
		if err := m.opts.Snapshots.Delete(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.metrics.SetStatus(model.StatusPending)
	m.metrics.SetFallbackActive(false)
	if release != nil {
		release()
	}
	m.logger.Info("[LIFECYCLE] destroyed")
	return errors.Join(errs...)
}

// OnReady runs cb now if the router is ready, otherwise on the next
// successful initialization.
func (m *Manager) OnReady(cb ReadyFunc) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	if m.status == model.StatusReady && m.instance != nil {
		r := m.instance
		m.mu.Unlock()
		m.safeCall("ready callback", func() { cb(r) })
		return
	}
	m.onReady = append(m.onReady, cb)
	m.mu.Unlock()
}

func (m *Manager) OnError(cb ErrorFunc) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	if m.status == model.StatusFailed && m.lastError != nil {
		rec := m.lastError.Clone()
		m.mu.Unlock()
		m.safeCall("error callback", func() { cb(rec) })
		return
	}
	m.onError = append(m.onError, cb)
	m.mu.Unlock()
}

func (m *Manager) OnFallback(cb FallbackFunc) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	if m.fallback {
		m.mu.Unlock()
		m.safeCall("fallback callback", func() { cb() })
		return
	}
	m.onFallback = append(m.onFallback, cb)
	m.mu.Unlock()
}

func (m *Manager) State() model.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.LifecycleState{
		Status:               m.status,
		InitializationTimeMs: m.initMs,
		RetryCount:           m.retryCount,
		FallbackActive:       m.fallback,
		RestoredFromSnapshot: m.restored,
		HasInstance:          m.instance != nil,
	}
	if m.lastError != nil {
		rec := m.lastError.Clone()
		st.LastError = &rec
	}
	return st
}

func (m *Manager) Status() model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Instance returns the published router, or nil unless status is ready.
func (m *Manager) Instance() *router.Router {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}

func (m *Manager) LastError() *model.ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastError == nil {
		return nil
	}
	rec := m.lastError.Clone()
	return &rec
}

func (m *Manager) FallbackActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

func (m *Manager) setStatusLocked(to model.Status) error {
	if err := checkTransition(m.status, to, m.fallback); err != nil {
		return err
	}
	m.status = to
	m.metrics.SetStatus(to)
	return nil
}

func (m *Manager) safeCall(label string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error(label+" panicked", "panic", fmt.Sprint(p))
		}
	}()
	fn()
}
