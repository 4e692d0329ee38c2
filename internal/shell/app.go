// Package shell is the composition root of the page shell. It owns every
// long-lived component and wires the lifecycle callbacks to navigation.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/g960059/riskdesk/internal/appclient"
	"github.com/g960059/riskdesk/internal/auth"
	"github.com/g960059/riskdesk/internal/config"
	"github.com/g960059/riskdesk/internal/db"
	"github.com/g960059/riskdesk/internal/diagnostics"
	"github.com/g960059/riskdesk/internal/document"
	"github.com/g960059/riskdesk/internal/features"
	"github.com/g960059/riskdesk/internal/lifecycle"
	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/navigation"
	"github.com/g960059/riskdesk/internal/probe"
	"github.com/g960059/riskdesk/internal/router"
	"github.com/g960059/riskdesk/internal/security"
)

var (
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrClosed            = errors.New("shell closed")
)

type Options struct {
	Config config.Config
	// Store is required; it backs the lifecycle snapshot.
	Store  *db.Store
	Logger *slog.Logger
	// Backend defaults to a client for Config.APIBaseURL.
	Backend *appclient.Client
	Routes  router.RouteConfig

	// Test hooks forwarded to the lifecycle manager.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NavigateOptions control a single navigation request.
type NavigateOptions struct {
	SkipLoad bool
	// Async returns once the page is visible.
	Async bool
}

type App struct {
	cfg        config.Config
	base       *slog.Logger
	logger     *slog.Logger
	store      *db.Store
	routes     router.RouteConfig
	registry   *probe.Registry
	metricsReg *prometheus.Registry
	classifier *diagnostics.Classifier
	session    *auth.Session
	doc        *document.Document
	facade     *navigation.Facade
	entry      *lifecycle.EntryPoint
	snapshots  lifecycle.SnapshotStore
	modules    []*features.Module
	holder     lifecycle.Holder
	clock      func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	wired  *lifecycle.Manager
	closed bool
	stop   chan struct{}
	bg     sync.WaitGroup
}

func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if err := config.Validate(opts.Config); err != nil {
		return nil, err
	}
	cfg := opts.Config
	logger := logging.OrDefault(opts.Logger)
	routes := opts.Routes
	if routes == nil {
		routes = router.DefaultRoutes()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	classifier := diagnostics.NewClassifier(
		diagnostics.WithLogger(logger),
		diagnostics.WithClock(clock),
		diagnostics.WithMetrics(diagnostics.NewMetrics(reg)),
	)

	a := &App{
		cfg:        cfg,
		base:       logger,
		logger:     logger.With("component", "shell"),
		store:      opts.Store,
		routes:     routes,
		registry:   probe.NewRegistry(),
		metricsReg: reg,
		classifier: classifier,
		session:    auth.NewSession(),
		snapshots:  lifecycle.NewSessionSnapshotStore(opts.Store, cfg.SessionID),
		clock:      clock,
		sleep:      opts.Sleep,
		stop:       make(chan struct{}),
	}
	a.doc = document.NewShell(cfg.Navigation.AppName, shellPages(routes, cfg.Navigation.LoginPage))
	a.facade = navigation.New(navigation.Config{
		AppName:     cfg.Navigation.AppName,
		DefaultPage: cfg.Navigation.DefaultPage,
		AdminPages:  cfg.Navigation.AdminPages,
		AdminRoles:  cfg.Navigation.AdminRoles,
		Routes:      routes,
	}, a.doc, lifecycleView{holder: &a.holder}, a.session, classifier, logger)
	a.entry = lifecycle.NewEntryPoint(a.navigator(true))

	backend := opts.Backend
	if backend == nil {
		backend = appclient.NewWithClient(cfg.APIBaseURL, nil)
	}
	backend = backend.WithUnaryTimeout(cfg.Features.RequestTimeout).WithRetry(2, cfg.Features.ContainerRetryDelay)
	a.modules = features.RegisterAll(a.facade, features.Catalog(), backend, a.session, a.doc, features.Options{
		AuthWait:            cfg.Features.AuthWait,
		AuthPoll:            cfg.Features.AuthPoll,
		ContainerRetries:    cfg.Features.ContainerRetries,
		ContainerRetryDelay: cfg.Features.ContainerRetryDelay,
		Logger:              logger,
	})

	if cfg.APIToken != "" {
		user := auth.User{ID: "service", Name: "service account", Roles: cfg.APIRoles}
		if err := a.session.Login(cfg.APIToken, user); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func shellPages(routes router.RouteConfig, loginPage string) []string {
	pages := make([]string, 0, len(routes))
	for _, page := range routes.Pages() {
		if page != loginPage {
			pages = append(pages, page)
		}
	}
	return pages
}

// lifecycleView lets the facade follow whichever manager the holder has.
type lifecycleView struct {
	holder *lifecycle.Holder
}

func (v lifecycleView) Status() model.Status {
	if m := v.holder.Current(); m != nil {
		return m.Status()
	}
	return model.StatusPending
}

func (v lifecycleView) Instance() *router.Router {
	if m := v.holder.Current(); m != nil {
		return m.Instance()
	}
	return nil
}

func (a *App) lifecycleOptions() lifecycle.Options {
	lc := a.cfg.Lifecycle
	return lifecycle.Options{
		Registry:     a.registry,
		Classifier:   a.classifier,
		Snapshots:    a.snapshots,
		EntryPoint:   a.entry,
		Capabilities: a.session,
		Guard: router.GuardOptions{
			LoginPage:   a.cfg.Navigation.LoginPage,
			DefaultPage: a.cfg.Navigation.DefaultPage,
		},
		Environment: lifecycle.Environment{
			URL:       a.cfg.ShellURL,
			UserAgent: a.cfg.UserAgent,
		},
		MaxRetries:           lc.MaxRetries,
		RetryDelayBase:       lc.RetryDelayBase,
		Timeout:              lc.Timeout,
		SnapshotTTL:          lc.SnapshotTTL,
		RequiredDependencies: lc.RequiredDependencies,
		Logger:               a.base,
		Clock:                a.clock,
		Sleep:                a.sleep,
	}
}

// manager returns the held lifecycle manager, wiring callbacks the first
// time a given manager is seen.
func (a *App) manager() (*lifecycle.Manager, error) {
	m, err := a.holder.Acquire(a.lifecycleOptions())
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	fresh := a.wired != m
	a.wired = m
	a.mu.Unlock()
	if fresh {
		m.OnReady(func(*router.Router) {
			a.entry.Install(a.navigator(false))
			a.logger.Info("router navigation installed")
		})
		m.OnError(func(rec model.ErrorRecord) {
			a.logger.Warn("router unavailable", "category", rec.Category, "message", rec.UserMessage)
		})
		m.OnFallback(func() {
			a.logger.Warn("navigation switched to direct section toggling")
		})
	}
	return m, nil
}

type navCallKey struct{}

type navCall struct {
	opts   NavigateOptions
	result navigation.Result
}

// navigator adapts the facade to a lifecycle.NavigateFunc. Per-call options
// travel in ctx and the outcome is written back to the same navCall.
func (a *App) navigator(fallback bool) lifecycle.NavigateFunc {
	return func(ctx context.Context, page string) error {
		call, _ := ctx.Value(navCallKey{}).(*navCall)
		if call == nil {
			call = &navCall{}
		}
		opts := navigation.Options{SkipLoad: call.opts.SkipLoad}
		switch {
		case call.opts.Async:
			call.result = a.facade.NavigateAsync(page, opts)
		case fallback:
			call.result = a.facade.NavigateFallback(ctx, page, opts)
		default:
			call.result = a.facade.Navigate(ctx, page, opts)
		}
		return nil
	}
}

// Bootstrap registers the built-in dependencies, initializes the lifecycle
// and shows the default page. It reports whether the router came up.
func (a *App) Bootstrap(ctx context.Context) (bool, error) {
	if n, err := a.PurgeIdleSessions(ctx); err != nil {
		a.logger.Warn("purge idle sessions failed", "error", security.RedactError(err))
	} else if n > 0 {
		a.logger.Info("purged idle sessions", "count", n)
	}
	a.ProvideBuiltins(a.cfg.DependencyDelay)
	ready, err := a.Initialize(ctx)
	if err != nil {
		return false, err
	}
	if _, err := a.Navigate(ctx, a.cfg.Navigation.DefaultPage, NavigateOptions{Async: true}); err != nil {
		return ready, err
	}
	return ready, nil
}

func (a *App) Initialize(ctx context.Context) (bool, error) {
	if a.isClosed() {
		return false, ErrClosed
	}
	m, err := a.manager()
	if err != nil {
		return false, err
	}
	return m.Initialize(ctx), nil
}

// ActivateFallback forces direct section toggling.
func (a *App) ActivateFallback() error {
	m, err := a.manager()
	if err != nil {
		return err
	}
	m.ActivateFallback()
	return nil
}

// Destroy tears the lifecycle down so the next Initialize starts over.
func (a *App) Destroy(ctx context.Context) error {
	m := a.holder.Current()
	if m == nil {
		return nil
	}
	err := m.Destroy(ctx)
	a.entry.Restore()
	return err
}

func (a *App) State() model.LifecycleState {
	if m := a.holder.Current(); m != nil {
		return m.State()
	}
	return model.LifecycleState{Status: model.StatusPending}
}

func (a *App) Router() *router.Router {
	return lifecycleView{holder: &a.holder}.Instance()
}

// Navigate goes through the entry point, so it follows router or fallback
// mode as installed by the lifecycle.
func (a *App) Navigate(ctx context.Context, page string, opts NavigateOptions) (navigation.Result, error) {
	call := &navCall{opts: opts}
	err := a.entry.Navigate(context.WithValue(ctx, navCallKey{}, call), page)
	return call.result, err
}

func (a *App) Retry(ctx context.Context, page string) navigation.Result {
	return a.facade.Retry(ctx, page)
}

// WaitLoads blocks until background page loads finish.
func (a *App) WaitLoads() { a.facade.Wait() }

func (a *App) Document() *document.Document        { return a.doc }
func (a *App) Classifier() *diagnostics.Classifier { return a.classifier }
func (a *App) Session() *auth.Session               { return a.session }
func (a *App) Gatherer() prometheus.Gatherer        { return a.metricsReg }
func (a *App) Modules() []*features.Module          { return a.modules }
func (a *App) Config() config.Config                { return a.cfg }

// Builtins returns the values this process registers for each well-known
// dependency slot.
func (a *App) Builtins() map[string]any {
	return map[string]any{
		probe.RouterFactory:    router.Factory(router.New),
		probe.AuthGuardFactory: router.AuthGuardFactory(router.NewAuthGuard),
		probe.RouteConfig:      a.routes,
	}
}

// ProvideBuiltins registers every built-in dependency after delay. A zero
// delay registers them before returning.
func (a *App) ProvideBuiltins(delay time.Duration) {
	if delay <= 0 {
		for name, v := range a.Builtins() {
			a.registry.Provide(name, v)
		}
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-a.stop:
			return
		case <-timer.C:
		}
		for name, v := range a.Builtins() {
			a.registry.Provide(name, v)
		}
		a.logger.Info("late dependencies registered", "delay", delay.String())
	}()
}

func (a *App) Provide(name string) error {
	v, ok := a.Builtins()[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, name)
	}
	a.registry.Provide(name, v)
	return nil
}

func (a *App) Withdraw(name string) error {
	if _, ok := a.Builtins()[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, name)
	}
	a.registry.Withdraw(name)
	return nil
}

// Dependencies reports the required list, what is registered and what is
// still missing.
func (a *App) Dependencies() (required, provided, missing []string) {
	required = append([]string(nil), a.cfg.Lifecycle.RequiredDependencies...)
	return required, a.registry.Names(), a.registry.CheckDependencies(required)
}

// EndSession destroys the lifecycle and wipes this session's storage.
func (a *App) EndSession(ctx context.Context) (int64, error) {
	if err := a.Destroy(ctx); err != nil {
		a.logger.Warn("destroy before session end failed", "error", security.RedactError(err))
	}
	a.session.Logout()
	return a.store.ClearSession(ctx, a.cfg.SessionID)
}

// PurgeIdleSessions removes sessions idle longer than the configured TTL.
func (a *App) PurgeIdleSessions(ctx context.Context) (int64, error) {
	return a.store.PurgeIdleSessions(ctx, a.clock().Add(-a.cfg.SessionIdle))
}

// Close stops pending background registration and waits for page loads.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.stop)
	a.mu.Unlock()
	a.bg.Wait()
	a.facade.Wait()
}

func (a *App) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
