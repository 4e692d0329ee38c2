package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/riskdesk/internal/backoff"
	"github.com/g960059/riskdesk/internal/db"
	"github.com/g960059/riskdesk/internal/diagnostics"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/probe"
	"github.com/g960059/riskdesk/internal/router"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (kv *memKV) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[sessionID+"/"+key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (kv *memKV) Put(_ context.Context, sessionID, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[sessionID+"/"+key] = append([]byte(nil), value...)
	return nil
}

func (kv *memKV) Delete(_ context.Context, sessionID, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, sessionID+"/"+key)
	return nil
}

func (kv *memKV) has(sessionID, key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	_, ok := kv.data[sessionID+"/"+key]
	return ok
}

type user struct{}

func (user) IsAuthenticated() bool { return true }
func (user) HasRole(string) bool   { return false }

type harness struct {
	m      *Manager
	holder *Holder
	reg    *probe.Registry
	cls    *diagnostics.Classifier
	logs   *bytes.Buffer
	clock  *fakeClock
	kv     *memKV
	built  *atomic.Int32

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

var testEnv = Environment{URL: "http://localhost:3000/dashboard", UserAgent: "riskdesk-test/1.0"}

type harnessOption func(h *harness, opts *Options)

func withKV(kv *memKV) harnessOption {
	return func(h *harness, _ *Options) { h.kv = kv }
}

func withClockAt(t time.Time) harnessOption {
	return func(h *harness, _ *Options) { h.clock.now = t }
}

func withOptions(fn func(*Options)) harnessOption {
	return func(_ *harness, opts *Options) { fn(opts) }
}

func newHarness(t *testing.T, hopts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		reg:   probe.NewRegistry(),
		logs:  &bytes.Buffer{},
		clock: &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		kv:    newMemKV(),
		built: &atomic.Int32{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.cls = diagnostics.NewClassifier(diagnostics.WithLogger(logger), diagnostics.WithClock(h.clock.Now))
	opts := Options{
		Registry:       h.reg,
		Classifier:     h.cls,
		Capabilities:   user{},
		Environment:    testEnv,
		MaxRetries:     3,
		RetryDelayBase: time.Second,
		Timeout:        10 * time.Second,
		Logger:         logger,
		Clock:          h.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleepMu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.sleepMu.Unlock()
			h.clock.Advance(d)
			return ctx.Err()
		},
	}
	for _, o := range hopts {
		o(h, &opts)
	}
	opts.Snapshots = NewSessionSnapshotStore(h.kv, "tab-1")

	h.holder = &Holder{}
	m, err := h.holder.Acquire(opts)
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) countingFactory() router.Factory {
	return func(ctx context.Context, routes router.RouteConfig, guard *router.AuthGuard, opts router.Options) (*router.Router, error) {
		h.built.Add(1)
		return router.New(ctx, routes, guard, opts)
	}
}

func (h *harness) provideAll() {
	h.reg.Provide(probe.RouterFactory, h.countingFactory())
	h.reg.Provide(probe.AuthGuardFactory, router.AuthGuardFactory(router.NewAuthGuard))
	h.reg.Provide(probe.RouteConfig, router.DefaultRoutes())
}

func (h *harness) recordedSleeps() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func TestNewManagerRequiresClassifier(t *testing.T) {
	_, err := NewManager(Options{Registry: probe.NewRegistry()})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewManager(Options{Classifier: diagnostics.NewClassifier()})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestInitializeIsIdempotentUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.reg.Provide(probe.RouterFactory, router.Factory(func(ctx context.Context, routes router.RouteConfig, guard *router.AuthGuard, opts router.Options) (*router.Router, error) {
		h.built.Add(1)
		time.Sleep(20 * time.Millisecond)
		return router.New(ctx, routes, guard, opts)
	}))
	h.reg.Provide(probe.AuthGuardFactory, router.NewAuthGuard)
	h.reg.Provide(probe.RouteConfig, router.DefaultRoutes())

	const callers = 32
	results := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.m.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "caller %d", i)
	}
	for i := 0; i < 5; i++ {
		assert.True(t, h.m.Initialize(context.Background()))
	}
	assert.Equal(t, int32(1), h.built.Load())
	st := h.m.State()
	assert.Equal(t, model.StatusReady, st.Status)
	assert.True(t, st.HasInstance)
	assert.False(t, st.FallbackActive)
}

func TestRetryBoundWhenDependencyMissing(t *testing.T) {
	h := newHarness(t, withOptions(func(o *Options) { o.MaxRetries = 2 }))
	h.provideAll()
	h.reg.Withdraw(probe.AuthGuardFactory)

	ok := h.m.Initialize(context.Background())
	require.False(t, ok)

	st := h.m.State()
	assert.Equal(t, model.StatusFailed, st.Status)
	assert.True(t, st.FallbackActive)
	assert.LessOrEqual(t, st.RetryCount, 2)
	assert.False(t, st.HasInstance)
	require.NotNil(t, st.LastError)
	assert.Equal(t, model.CategoryDependency, st.LastError.Category)
	assert.Equal(t, model.SeverityCritical, st.LastError.Severity)
	assert.Equal(t, int32(0), h.built.Load())
	assert.Nil(t, h.m.Instance())
}

func TestBackoffIsLinear(t *testing.T) {
	h := newHarness(t, withOptions(func(o *Options) {
		o.MaxRetries = 4
		o.Timeout = time.Minute
	}))
	h.provideAll()
	h.reg.Withdraw(probe.RouteConfig)

	require.False(t, h.m.Initialize(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, h.recordedSleeps())
	assert.Equal(t, 3, h.m.State().RetryCount)

	stats := h.cls.GetErrorStatistics(time.Hour)
	assert.Equal(t, 3, stats.TotalWarnings)
	assert.Equal(t, 1, stats.TotalErrors)
}

func TestLateDependencyIsPickedUpByRetry(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	factory, _ := h.reg.Lookup(probe.RouterFactory)
	h.reg.Withdraw(probe.RouterFactory)
	h.m.opts.Sleep = func(ctx context.Context, d time.Duration) error {
		h.reg.Provide(probe.RouterFactory, factory)
		h.clock.Advance(d)
		return nil
	}

	require.True(t, h.m.Initialize(context.Background()))
	st := h.m.State()
	assert.Equal(t, 1, st.RetryCount)
	require.NotNil(t, st.LastError)
	assert.Equal(t, model.SeverityWarning, st.LastError.Severity)
}

func TestConfigurationErrorsAreNotRetried(t *testing.T) {
	cases := map[string]func(h *harness){
		"empty routes": func(h *harness) { h.reg.Provide(probe.RouteConfig, router.RouteConfig{}) },
		"wrong routes type": func(h *harness) {
			h.reg.Provide(probe.RouteConfig, []string{"dashboard"})
		},
		"wrong factory type": func(h *harness) { h.reg.Provide(probe.RouterFactory, "router") },
		"relative path": func(h *harness) {
			h.reg.Provide(probe.RouteConfig, router.RouteConfig{"dashboard": {Path: "dashboard"}})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.provideAll()
			mutate(h)

			require.False(t, h.m.Initialize(context.Background()))
			st := h.m.State()
			assert.Equal(t, 0, st.RetryCount)
			assert.Empty(t, h.recordedSleeps())
			require.NotNil(t, st.LastError)
			assert.Equal(t, model.CategoryConfiguration, st.LastError.Category)
			assert.Equal(t, model.RecoveryFallback, st.LastError.Recovery.Action)
			assert.True(t, st.FallbackActive)
		})
	}
}

func TestRuntimePanicIsRetried(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	var calls atomic.Int32
	h.reg.Provide(probe.RouterFactory, router.Factory(func(ctx context.Context, routes router.RouteConfig, guard *router.AuthGuard, opts router.Options) (*router.Router, error) {
		if calls.Add(1) == 1 {
			panic("router exploded")
		}
		return router.New(ctx, routes, guard, opts)
	}))

	require.True(t, h.m.Initialize(context.Background()))
	st := h.m.State()
	assert.Equal(t, 1, st.RetryCount)
	require.NotNil(t, st.LastError)
	assert.Equal(t, model.CategoryRuntime, st.LastError.Category)
	assert.Contains(t, st.LastError.Message, "router exploded")
	assert.Equal(t, []time.Duration{time.Second}, h.recordedSleeps())
}

func TestRuntimeErrorsExhaustBudget(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	h.reg.Provide(probe.RouterFactory, router.Factory(func(context.Context, router.RouteConfig, *router.AuthGuard, router.Options) (*router.Router, error) {
		return nil, errors.New("backend unavailable")
	}))

	require.False(t, h.m.Initialize(context.Background()))
	st := h.m.State()
	assert.Equal(t, 2, st.RetryCount)
	assert.Equal(t, model.CategoryRuntime, st.LastError.Category)
	assert.True(t, st.FallbackActive)
}

func TestWallClockTimeoutAbortsLoop(t *testing.T) {
	h := newHarness(t, withOptions(func(o *Options) {
		o.MaxRetries = 10
		o.Timeout = 2500 * time.Millisecond
	}))
	h.provideAll()
	h.reg.Withdraw(probe.RouterFactory)

	require.False(t, h.m.Initialize(context.Background()))
	st := h.m.State()
	require.NotNil(t, st.LastError)
	assert.Equal(t, model.CategoryTimeout, st.LastError.Category)
	assert.Equal(t, model.SeverityError, st.LastError.Severity)
	assert.Equal(t, 2, st.RetryCount)
	assert.True(t, st.FallbackActive)
	assert.Contains(t, h.logs.String(), "[TIMEOUT] ERROR:")
}

func TestFailedWithFallbackDoesNotReattempt(t *testing.T) {
	h := newHarness(t, withOptions(func(o *Options) { o.MaxRetries = 1 }))
	require.False(t, h.m.Initialize(context.Background()))

	h.provideAll()
	assert.False(t, h.m.Initialize(context.Background()))
	assert.Equal(t, int32(0), h.built.Load())
	assert.Equal(t, model.StatusFailed, h.m.Status())
}

func TestLoggingContract(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		h.provideAll()
		require.True(t, h.m.Initialize(context.Background()))
		logs := h.logs.String()
		assert.Contains(t, logs, "[LIFECYCLE] initialization started")
		assert.Contains(t, logs, "[LIFECYCLE] initialization succeeded")
		assert.NotContains(t, logs, "[FALLBACK]")
	})
	t.Run("failure", func(t *testing.T) {
		h := newHarness(t, withOptions(func(o *Options) { o.MaxRetries = 2 }))
		h.provideAll()
		h.reg.Withdraw(probe.RouteConfig)
		require.False(t, h.m.Initialize(context.Background()))
		logs := h.logs.String()
		start := strings.Index(logs, "[LIFECYCLE] initialization started")
		dep := strings.Index(logs, "[DEPENDENCY] CRITICAL:")
		fallback := strings.Index(logs, "[FALLBACK] fallback mode activated")
		require.GreaterOrEqual(t, start, 0)
		require.Greater(t, dep, start)
		require.Greater(t, fallback, dep)
		assert.Contains(t, logs, "[DEPENDENCY] WARNING:")
		assert.Contains(t, logs, "[LIFECYCLE] initialization failed")
	})
}

func TestInitializeTimingIsBounded(t *testing.T) {
	const runs = 8
	durations := make([]time.Duration, 0, runs)
	for i := 0; i < runs; i++ {
		h := newHarness(t)
		h.provideAll()
		start := time.Now()
		require.True(t, h.m.Initialize(context.Background()))
		durations = append(durations, time.Since(start))
	}
	var total time.Duration
	for _, d := range durations {
		assert.Less(t, d, 2*time.Second)
		total += d
	}
	mean := total / runs
	if mean < 5*time.Millisecond {
		return
	}
	for _, d := range durations {
		assert.LessOrEqual(t, d, 3*mean)
	}
}

func TestPublishedRouterIsUsable(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	require.True(t, h.m.Initialize(context.Background()))

	r := h.m.Instance()
	require.NotNil(t, r)
	for _, page := range []string{"dashboard", "risk-input", "rencana-strategis", "analisis-swot"} {
		tr, err := r.Navigate(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, page, tr.To)
	}
	again, err := h.holder.Acquire(Options{})
	require.NoError(t, err)
	assert.Same(t, h.m, again)
	assert.Same(t, r, again.Instance())
}

func TestCallbacksFireInOrderOncePerTransition(t *testing.T) {
	h := newHarness(t)
	h.provideAll()

	var order []string
	h.m.OnReady(func(*router.Router) { order = append(order, "first") })
	h.m.OnReady(func(*router.Router) { panic("bad callback") })
	h.m.OnReady(func(*router.Router) { order = append(order, "second") })

	require.True(t, h.m.Initialize(context.Background()))
	require.True(t, h.m.Initialize(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)

	var late *router.Router
	h.m.OnReady(func(r *router.Router) { late = r })
	assert.Same(t, h.m.Instance(), late)
	assert.Contains(t, h.logs.String(), "ready callback panicked")

	fired := false
	h.m.OnError(func(model.ErrorRecord) { fired = true })
	h.m.OnFallback(func() { fired = true })
	assert.False(t, fired)
}

func TestFailureCallbacks(t *testing.T) {
	h := newHarness(t, withOptions(func(o *Options) { o.MaxRetries = 1 }))

	var events []string
	h.m.OnError(func(rec model.ErrorRecord) { events = append(events, "error:"+string(rec.Category)) })
	h.m.OnFallback(func() { events = append(events, "fallback") })
	h.m.OnReady(func(*router.Router) { events = append(events, "ready") })

	require.False(t, h.m.Initialize(context.Background()))
	require.False(t, h.m.Initialize(context.Background()))
	assert.Equal(t, []string{"fallback", "error:dependency"}, events)

	h.m.OnError(func(rec model.ErrorRecord) { events = append(events, "late-error") })
	h.m.OnFallback(func() { events = append(events, "late-fallback") })
	assert.Equal(t, []string{"fallback", "error:dependency", "late-error", "late-fallback"}, events)
}

func TestActivateFallbackRestoresOriginalNavigator(t *testing.T) {
	var calls []string
	original := func(_ context.Context, page string) error {
		calls = append(calls, "original:"+page)
		return nil
	}
	entry := NewEntryPoint(original)
	h := newHarness(t, withOptions(func(o *Options) { o.EntryPoint = entry }))
	h.provideAll()

	h.m.OnReady(func(r *router.Router) {
		entry.Install(func(ctx context.Context, page string) error {
			calls = append(calls, "router:"+page)
			_, err := r.Navigate(ctx, page)
			return err
		})
	})
	require.True(t, h.m.Initialize(context.Background()))
	require.NoError(t, entry.Navigate(context.Background(), "dashboard"))

	fallbacks := 0
	h.m.OnFallback(func() { fallbacks++ })
	h.m.ActivateFallback()
	h.m.ActivateFallback()

	require.NoError(t, entry.Navigate(context.Background(), "dashboard"))
	assert.Equal(t, []string{"router:dashboard", "original:dashboard"}, calls)
	assert.Equal(t, 1, fallbacks)

	st := h.m.State()
	assert.Equal(t, model.StatusFailed, st.Status)
	assert.True(t, st.FallbackActive)
	assert.False(t, st.HasInstance)
	assert.False(t, h.m.Initialize(context.Background()))
}

func TestActivateFallbackWithoutEntryPointNeverPanics(t *testing.T) {
	h := newHarness(t)
	h.m.OnFallback(func() { panic("listener bug") })
	assert.NotPanics(t, h.m.ActivateFallback)
	assert.True(t, h.m.FallbackActive())
	assert.Equal(t, model.StatusFailed, h.m.Status())
}

func TestDestroyResetsAndReleases(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	require.True(t, h.m.Initialize(context.Background()))
	r := h.m.Instance()
	require.True(t, h.kv.has("tab-1", SnapshotKey))

	readyAgain := 0
	h.m.OnReady(func(*router.Router) { readyAgain++ })
	require.NoError(t, h.m.Destroy(context.Background()))

	_, err := r.Navigate(context.Background(), "dashboard")
	assert.ErrorIs(t, err, router.ErrDestroyed)
	assert.False(t, h.kv.has("tab-1", SnapshotKey))
	assert.Equal(t, model.LifecycleState{Status: model.StatusPending}, h.m.State())
	assert.Nil(t, h.holder.Current())

	fresh, err := h.holder.Acquire(h.m.opts)
	require.NoError(t, err)
	assert.NotSame(t, h.m, fresh)
	require.True(t, fresh.Initialize(context.Background()))
	assert.Equal(t, 1, readyAgain, "only the callback registered while ready fires")
	assert.False(t, fresh.State().RestoredFromSnapshot)
}

// destroyOnSave tears the manager down the first time a snapshot is written,
// the way a concurrent destroy request can land mid-initialization.
type destroyOnSave struct {
	SnapshotStore
	m    *Manager
	once sync.Once
}

func (d *destroyOnSave) Save(ctx context.Context, snap model.Snapshot) error {
	d.once.Do(func() { _ = d.m.Destroy(ctx) })
	return d.SnapshotStore.Save(ctx, snap)
}

func TestDestroyDuringPublishWins(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	var built *router.Router
	h.reg.Provide(probe.RouterFactory, router.Factory(func(ctx context.Context, routes router.RouteConfig, guard *router.AuthGuard, opts router.Options) (*router.Router, error) {
		r, err := router.New(ctx, routes, guard, opts)
		built = r
		return r, err
	}))
	opts := h.m.opts
	h.m.opts.Snapshots = &destroyOnSave{SnapshotStore: opts.Snapshots, m: h.m}

	readyFired := 0
	h.m.OnReady(func(*router.Router) { readyFired++ })

	assert.False(t, h.m.Initialize(context.Background()))
	assert.Equal(t, model.LifecycleState{Status: model.StatusPending}, h.m.State())
	assert.Nil(t, h.m.Instance())
	assert.False(t, h.kv.has("tab-1", SnapshotKey), "snapshot must not outlive the destroy")
	assert.Zero(t, readyFired)
	require.NotNil(t, built)
	_, err := built.Navigate(context.Background(), "dashboard")
	assert.ErrorIs(t, err, router.ErrDestroyed)

	fresh, err := h.holder.Acquire(opts)
	require.NoError(t, err)
	require.True(t, fresh.Initialize(context.Background()))
	assert.False(t, fresh.State().RestoredFromSnapshot)
}

func TestDestroyAfterFallbackAllowsFreshAttempt(t *testing.T) {
	h := newHarness(t, withOptions(func(o *Options) { o.MaxRetries = 1 }))
	require.False(t, h.m.Initialize(context.Background()))
	require.NoError(t, h.m.Destroy(context.Background()))

	h.provideAll()
	m, err := h.holder.Acquire(h.m.opts)
	require.NoError(t, err)
	assert.True(t, m.Initialize(context.Background()))
}

func TestSnapshotFastPathRestore(t *testing.T) {
	kv := newMemKV()
	first := newHarness(t, withKV(kv))
	first.provideAll()
	require.True(t, first.m.Initialize(context.Background()))
	require.True(t, kv.has("tab-1", SnapshotKey))

	// reload two minutes later
	second := newHarness(t, withKV(kv), withClockAt(first.clock.Now().Add(2*time.Minute)))
	second.provideAll()
	require.True(t, second.m.Initialize(context.Background()))
	st := second.m.State()
	assert.True(t, st.RestoredFromSnapshot)
	assert.Equal(t, 0, st.RetryCount)
	assert.Contains(t, second.logs.String(), "[LIFECYCLE] restored from snapshot")

	raw, err := kv.Get(context.Background(), "tab-1", SnapshotKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), second.clock.Now().Format("2006-01-02T15:04"))
}

func TestSnapshotFreshnessAndMatching(t *testing.T) {
	cases := map[string]struct {
		after time.Duration
		env   Environment
	}{
		"stale":               {after: 5*time.Minute + time.Second, env: testEnv},
		"different url":       {after: time.Minute, env: Environment{URL: "http://localhost:3000/risk-input", UserAgent: testEnv.UserAgent}},
		"different useragent": {after: time.Minute, env: Environment{URL: testEnv.URL, UserAgent: "other-browser"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			kv := newMemKV()
			first := newHarness(t, withKV(kv))
			first.provideAll()
			require.True(t, first.m.Initialize(context.Background()))

			second := newHarness(t,
				withKV(kv),
				withClockAt(first.clock.Now().Add(tc.after)),
				withOptions(func(o *Options) { o.Environment = tc.env }),
			)
			second.provideAll()
			require.True(t, second.m.Initialize(context.Background()))
			assert.False(t, second.m.State().RestoredFromSnapshot)
			assert.NotContains(t, second.logs.String(), "restored from snapshot")
		})
	}
}

func TestSnapshotIgnoredWhenDependenciesMissing(t *testing.T) {
	kv := newMemKV()
	first := newHarness(t, withKV(kv))
	first.provideAll()
	require.True(t, first.m.Initialize(context.Background()))

	second := newHarness(t, withKV(kv), withOptions(func(o *Options) { o.MaxRetries = 1 }))
	assert.False(t, second.m.Initialize(context.Background()))
	assert.Equal(t, model.CategoryDependency, second.m.LastError().Category)
}

func TestFailedRestoreDiscardsSnapshotAndKeepsBudget(t *testing.T) {
	kv := newMemKV()
	first := newHarness(t, withKV(kv))
	first.provideAll()
	require.True(t, first.m.Initialize(context.Background()))

	second := newHarness(t, withKV(kv))
	second.provideAll()
	var calls atomic.Int32
	second.reg.Provide(probe.RouterFactory, router.Factory(func(ctx context.Context, routes router.RouteConfig, guard *router.AuthGuard, opts router.Options) (*router.Router, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("restore construction failed")
		}
		return router.New(ctx, routes, guard, opts)
	}))

	require.True(t, second.m.Initialize(context.Background()))
	st := second.m.State()
	assert.False(t, st.RestoredFromSnapshot)
	assert.Equal(t, 0, st.RetryCount)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, second.logs.String(), "discarding snapshot")
	// success wrote a fresh one
	assert.True(t, kv.has("tab-1", SnapshotKey))
}

func TestRestoreIsFasterThanFullInitialize(t *testing.T) {
	kv := newMemKV()
	reg := probe.NewRegistry()
	cls := diagnostics.NewClassifier(diagnostics.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	factory := router.Factory(router.New)
	reg.Provide(probe.AuthGuardFactory, router.NewAuthGuard)
	reg.Provide(probe.RouteConfig, router.DefaultRoutes())

	opts := Options{
		Registry:       reg,
		Classifier:     cls,
		Snapshots:      NewSessionSnapshotStore(kv, "tab-1"),
		Environment:    testEnv,
		RetryDelayBase: 40 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			reg.Provide(probe.RouterFactory, factory)
			return backoff.Sleep(ctx, d)
		},
	}
	full, err := NewManager(opts)
	require.NoError(t, err)
	start := time.Now()
	require.True(t, full.Initialize(context.Background()))
	fullElapsed := time.Since(start)

	reload, err := NewManager(opts)
	require.NoError(t, err)
	start = time.Now()
	require.True(t, reload.Initialize(context.Background()))
	restoreElapsed := time.Since(start)

	assert.True(t, reload.State().RestoredFromSnapshot)
	assert.Less(t, restoreElapsed, fullElapsed/4)
}

func TestCallerCancellationDoesNotAbortSharedAttempt(t *testing.T) {
	h := newHarness(t)
	h.provideAll()
	release := make(chan struct{})
	h.reg.Provide(probe.RouterFactory, router.Factory(func(ctx context.Context, routes router.RouteConfig, guard *router.AuthGuard, opts router.Options) (*router.Router, error) {
		<-release
		return router.New(ctx, routes, guard, opts)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- h.m.Initialize(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.False(t, <-done)

	close(release)
	assert.True(t, h.m.Initialize(context.Background()))
	assert.Equal(t, model.StatusReady, h.m.Status())
}

func TestTransitionsTable(t *testing.T) {
	assert.NoError(t, checkTransition(model.StatusPending, model.StatusInitializing, false))
	assert.NoError(t, checkTransition(model.StatusInitializing, model.StatusReady, false))
	assert.NoError(t, checkTransition(model.StatusFailed, model.StatusInitializing, false))
	assert.Error(t, checkTransition(model.StatusFailed, model.StatusInitializing, true))
	assert.Error(t, checkTransition(model.StatusReady, model.StatusInitializing, false))
	assert.Error(t, checkTransition(model.StatusPending, model.StatusReady, false))
}
