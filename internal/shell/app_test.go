package shell

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/riskdesk/internal/appclient"
	"github.com/g960059/riskdesk/internal/auth"
	"github.com/g960059/riskdesk/internal/config"
	"github.com/g960059/riskdesk/internal/db"
	"github.com/g960059/riskdesk/internal/lifecycle"
	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/navigation"
	"github.com/g960059/riskdesk/internal/probe"
	"github.com/g960059/riskdesk/internal/testutil"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig(apiURL string) config.Config {
	cfg := config.DefaultConfig()
	cfg.SocketPath = "/tmp/riskdesk-test.sock"
	cfg.DBPath = "unused.db"
	cfg.SessionID = "tab-1"
	cfg.APIBaseURL = apiURL
	cfg.Features.AuthWait = 0
	cfg.Features.RequestTimeout = 2 * time.Second
	cfg.Features.ContainerRetryDelay = time.Millisecond
	return cfg
}

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dashboard", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"total_risks":12,"high_risks":3}`)
	})
	mux.HandleFunc("/api/risk-inputs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"kode_risiko":"R-07","sasaran":"Efisiensi biaya"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newApp(t *testing.T, store *db.Store, mutate func(*config.Config)) *App {
	t.Helper()
	srv := backend(t)
	cfg := testConfig(srv.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	app, err := New(Options{
		Config:  cfg,
		Store:   store,
		Logger:  logging.Discard(),
		Backend: appclient.NewWithClient(srv.URL, srv.Client()),
		Sleep:   noSleep,
	})
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func signIn(t *testing.T, app *App, roles ...string) {
	t.Helper()
	require.NoError(t, app.Session().Login("tok", auth.User{ID: "u1", Name: "Rina", Roles: roles}))
}

func TestNewRequiresStoreAndValidConfig(t *testing.T) {
	_, err := New(Options{Config: testConfig("http://localhost:3000")})
	assert.Error(t, err)

	store, _ := testutil.NewStore(t)
	cfg := testConfig("http://localhost:3000")
	cfg.Navigation.AppName = ""
	_, err = New(Options{Config: cfg, Store: store})
	assert.Error(t, err)
}

func TestBootstrapInstallsRouterNavigation(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	app := newApp(t, store, nil)
	signIn(t, app)

	ready, err := app.Bootstrap(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	app.WaitLoads()

	state := app.State()
	assert.Equal(t, model.StatusReady, state.Status)
	assert.True(t, state.HasInstance)
	require.NotNil(t, app.Router())
	assert.Equal(t, "dashboard", app.Router().Current())
	assert.Contains(t, string(app.Document().ByID("dashboard-content").HTML()), "Total Risiko")

	res, err := app.Navigate(ctx, "risk-input", NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, navigation.ModeRouter, res.Mode)
	assert.True(t, res.Loaded, res.LoadError)
	assert.Equal(t, "Input Risiko - PINTAR MR", app.Document().Title())
	assert.Contains(t, string(app.Document().ByID("risk-input-content").HTML()), "R-07")
}

func TestRouterGuardRedirectsSignedOutUserToLogin(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	app := newApp(t, store, nil)
	app.ProvideBuiltins(0)
	ready, err := app.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	res, err := app.Navigate(ctx, "analisis-swot", NavigateOptions{SkipLoad: true})
	require.NoError(t, err)
	assert.True(t, res.Redirected)
	assert.Equal(t, "login", res.Page)
	assert.True(t, res.ContainerCreated)
}

func TestMissingDependenciesFallBackToSectionToggling(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	app := newApp(t, store, nil)
	signIn(t, app, "viewer")

	ready, err := app.Initialize(ctx)
	require.NoError(t, err)
	assert.False(t, ready)
	state := app.State()
	assert.Equal(t, model.StatusFailed, state.Status)
	assert.True(t, state.FallbackActive)
	require.NotNil(t, state.LastError)
	assert.Equal(t, model.CategoryDependency, state.LastError.Category)

	res, err := app.Navigate(ctx, "risk-input", NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, navigation.ModeFallback, res.Mode)
	assert.True(t, res.Loaded, res.LoadError)

	res, err = app.Navigate(ctx, "pengaturan", NavigateOptions{SkipLoad: true})
	require.NoError(t, err)
	assert.True(t, res.Redirected)
	assert.Equal(t, "dashboard", res.Page)

	_, _, missing := app.Dependencies()
	assert.Equal(t, []string{probe.RouterFactory, probe.AuthGuardFactory, probe.RouteConfig}, missing)

	again, err := app.Initialize(ctx)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestLateDependenciesAreAwaited(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	srv := backend(t)
	cfg := testConfig(srv.URL)
	cfg.Lifecycle.MaxRetries = 20
	cfg.Lifecycle.RetryDelayBase = 10 * time.Millisecond
	cfg.DependencyDelay = 40 * time.Millisecond
	app, err := New(Options{Config: cfg, Store: store, Logger: logging.Discard()})
	require.NoError(t, err)
	defer app.Close()
	signIn(t, app)

	ready, err := app.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Greater(t, app.State().RetryCount, 0)
}

func TestDestroyThenInitializeRewiresCallbacks(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	app := newApp(t, store, nil)
	signIn(t, app)
	app.ProvideBuiltins(0)

	ready, err := app.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, app.Destroy(ctx))
	assert.Equal(t, model.StatusPending, app.State().Status)
	assert.Nil(t, app.Router())
	res, err := app.Navigate(ctx, "dashboard", NavigateOptions{SkipLoad: true})
	require.NoError(t, err)
	assert.Equal(t, navigation.ModeFallback, res.Mode)

	ready, err = app.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	res, err = app.Navigate(ctx, "dashboard", NavigateOptions{SkipLoad: true})
	require.NoError(t, err)
	assert.Equal(t, navigation.ModeRouter, res.Mode)
}

func TestActivateFallbackRestoresDirectToggling(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	app := newApp(t, store, nil)
	signIn(t, app)
	app.ProvideBuiltins(0)
	ready, err := app.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, app.ActivateFallback())
	state := app.State()
	assert.True(t, state.FallbackActive)
	assert.False(t, state.HasInstance)
	res, err := app.Navigate(ctx, "risk-input", NavigateOptions{SkipLoad: true})
	require.NoError(t, err)
	assert.Equal(t, navigation.ModeFallback, res.Mode)
	assert.Equal(t, "risk-input", res.Page)
}

func TestSnapshotRestoresAcrossReload(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	first := newApp(t, store, nil)
	first.ProvideBuiltins(0)
	ready, err := first.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	assert.False(t, first.State().RestoredFromSnapshot)
	_, err = store.Get(ctx, "tab-1", lifecycle.SnapshotKey)
	require.NoError(t, err)

	second := newApp(t, store, nil)
	second.ProvideBuiltins(0)
	ready, err = second.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	assert.True(t, second.State().RestoredFromSnapshot)

	other := newApp(t, store, func(cfg *config.Config) { cfg.UserAgent = "another-browser" })
	other.ProvideBuiltins(0)
	ready, err = other.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	assert.False(t, other.State().RestoredFromSnapshot)
}

func TestEndSessionWipesStorage(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	app := newApp(t, store, nil)
	signIn(t, app)
	app.ProvideBuiltins(0)
	ready, err := app.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	require.NoError(t, store.Put(ctx, "tab-1", "ui.sidebar", []byte("collapsed")))

	removed, err := app.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, app.Session().IsAuthenticated())
	assert.Equal(t, model.StatusPending, app.State().Status)
	_, err = store.Get(ctx, "tab-1", lifecycle.SnapshotKey)
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestProvideAndWithdrawKnownDependenciesOnly(t *testing.T) {
	store, _ := testutil.NewStore(t)
	app := newApp(t, store, nil)

	assert.ErrorIs(t, app.Provide("jQuery"), ErrUnknownDependency)
	assert.ErrorIs(t, app.Withdraw("jQuery"), ErrUnknownDependency)

	require.NoError(t, app.Provide(probe.RouteConfig))
	required, provided, missing := app.Dependencies()
	assert.Len(t, required, 3)
	assert.Equal(t, []string{probe.RouteConfig}, provided)
	assert.Equal(t, []string{probe.RouterFactory, probe.AuthGuardFactory}, missing)

	require.NoError(t, app.Withdraw(probe.RouteConfig))
	_, provided, _ = app.Dependencies()
	assert.Empty(t, provided)
}

func TestPurgeIdleSessions(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	testutil.SeedSession(t, store, ctx, "stale", now.Add(-13*time.Hour), map[string]string{"k": "v"})
	testutil.SeedSession(t, store, ctx, "fresh", now.Add(-time.Hour), map[string]string{"k": "v"})

	srv := backend(t)
	app, err := New(Options{Config: testConfig(srv.URL), Store: store, Logger: logging.Discard(), Clock: func() time.Time { return now }})
	require.NoError(t, err)
	defer app.Close()

	n, err := app.PurgeIdleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].SessionID)
}

func TestServiceTokenSignsIn(t *testing.T) {
	store, _ := testutil.NewStore(t)
	app := newApp(t, store, func(cfg *config.Config) {
		cfg.APIToken = "svc-token"
		cfg.APIRoles = []string{"Admin"}
	})
	assert.True(t, app.Session().IsAuthenticated())
	assert.True(t, app.Session().HasRole("admin"))
	assert.Len(t, app.Modules(), 7)
}
