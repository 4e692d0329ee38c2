// Package navigation is the single entry point for switching pages. It
// resolves the page container, keeps exactly one section active, updates
// navigation highlight and title, enforces the admin-page guard and
// dispatches the page loader. It goes through the router while the
// lifecycle is ready and falls back to plain section toggling otherwise.
package navigation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/riskdesk/internal/diagnostics"
	"github.com/g960059/riskdesk/internal/document"
	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/router"
	"github.com/g960059/riskdesk/internal/security"
)

const (
	ModeRouter   = "router"
	ModeFallback = "fallback"

	defaultPreloadConcurrency = 4
	tracerName                = "github.com/g960059/riskdesk/internal/navigation"
)

// Loader fills a page container with data. Errors and panics are turned
// into an in-page error with a retry action.
type Loader func(ctx context.Context, container *document.Element) error

// Lifecycle is the slice of the lifecycle manager the facade reads.
type Lifecycle interface {
	Status() model.Status
	Instance() *router.Router
}

type Config struct {
	AppName            string
	DefaultPage        string
	AdminPages         []string
	AdminRoles         []string
	Routes             router.RouteConfig
	PreloadConcurrency int
}

type Options struct {
	// SkipLoad only switches the visible section.
	SkipLoad bool
}

type Result struct {
	Requested        string        `json:"requested"`
	Page             string        `json:"page,omitempty"`
	Mode             string        `json:"mode,omitempty"`
	Redirected       bool          `json:"redirected"`
	Ignored          bool          `json:"ignored"`
	ContainerCreated bool          `json:"container_created"`
	Container        string        `json:"container,omitempty"`
	Loaded           bool          `json:"loaded"`
	LoadError        string        `json:"load_error,omitempty"`
	Duration         time.Duration `json:"duration"`
}

type Facade struct {
	cfg        Config
	doc        *document.Document
	lifecycle  Lifecycle
	caps       router.Capabilities
	classifier *diagnostics.Classifier
	logger     *slog.Logger
	tracer     trace.Tracer

	// mu serializes the visible-page switch and container creation.
	mu       sync.Mutex
	loadersM sync.RWMutex
	loaders  map[string]Loader
	inflight sync.WaitGroup
}

func New(cfg Config, doc *document.Document, lc Lifecycle, caps router.Capabilities, classifier *diagnostics.Classifier, logger *slog.Logger) *Facade {
	if cfg.DefaultPage == "" {
		cfg.DefaultPage = "dashboard"
	}
	if cfg.PreloadConcurrency <= 0 {
		cfg.PreloadConcurrency = defaultPreloadConcurrency
	}
	if classifier == nil {
		classifier = diagnostics.NewClassifier(diagnostics.WithLogger(logger))
	}
	return &Facade{
		cfg:        cfg,
		doc:        doc,
		lifecycle:  lc,
		caps:       caps,
		classifier: classifier,
		logger:     logging.OrDefault(logger).With("component", "navigation"),
		tracer:     otel.Tracer(tracerName),
		loaders:    map[string]Loader{},
	}
}

// Register sets the loader for page. A nil loader removes it.
func (f *Facade) Register(page string, loader Loader) {
	f.loadersM.Lock()
	defer f.loadersM.Unlock()
	if loader == nil {
		delete(f.loaders, page)
		return
	}
	f.loaders[page] = loader
}

func (f *Facade) loader(page string) (Loader, bool) {
	f.loadersM.RLock()
	defer f.loadersM.RUnlock()
	l, ok := f.loaders[page]
	return l, ok
}

// NavigateToPage switches the visible page now and loads its data in the
// background. It never fails; use Wait to block on pending loads.
func (f *Facade) NavigateToPage(page string, opts Options) {
	f.NavigateAsync(page, opts)
}

// NavigateAsync is NavigateToPage returning what was shown. Load fields of
// the result stay unset because loading has not finished.
func (f *Facade) NavigateAsync(page string, opts Options) Result {
	res, load := f.show(context.Background(), page, opts, false)
	if load == nil {
		return res
	}
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		f.finishLoad(context.Background(), res, load)
	}()
	return res
}

// Navigate is NavigateToPage for callers that want the outcome. The loader
// runs before it returns.
func (f *Facade) Navigate(ctx context.Context, page string, opts Options) Result {
	res, load := f.show(ctx, page, opts, false)
	if load == nil {
		return res
	}
	return f.finishLoad(ctx, res, load)
}

// NavigateFallback is Navigate with the router bypassed.
func (f *Facade) NavigateFallback(ctx context.Context, page string, opts Options) Result {
	res, load := f.show(ctx, page, opts, true)
	if load == nil {
		return res
	}
	return f.finishLoad(ctx, res, load)
}

// Wait blocks until background loads started by NavigateToPage finish.
func (f *Facade) Wait() {
	f.inflight.Wait()
}

// Retry reruns the loader of page into its current container without
// switching pages. It backs the retry button of the error view.
func (f *Facade) Retry(ctx context.Context, page string) Result {
	res := Result{Requested: page, Page: page, Mode: f.mode()}
	loader, ok := f.loader(page)
	if !ok {
		res.Ignored = true
		return res
	}
	container, created := f.lockedContainer(page)
	res.ContainerCreated = created
	res.Container = container.String()
	return f.finishLoad(ctx, res, func(ctx context.Context) error { return loader(ctx, container) })
}

// Preload runs the loaders of several pages in parallel without changing
// the visible page. It returns the first loader error.
func (f *Facade) Preload(ctx context.Context, pages ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.PreloadConcurrency)
	for _, page := range pages {
		page := page
		loader, ok := f.loader(page)
		if !ok {
			continue
		}
		g.Go(func() error {
			container, _ := f.lockedContainer(page)
			res := f.finishLoad(gctx, Result{Requested: page, Page: page, Mode: f.mode()}, func(ctx context.Context) error {
				return loader(ctx, container)
			})
			if res.LoadError != "" {
				return fmt.Errorf("preload %s: %s", page, res.LoadError)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f *Facade) mode() string {
	if f.lifecycle != nil && f.lifecycle.Status() == model.StatusReady && f.lifecycle.Instance() != nil {
		return ModeRouter
	}
	return ModeFallback
}

// show performs the synchronous part of a navigation and returns the load
// step still to run, if any.
func (f *Facade) show(ctx context.Context, requested string, opts Options, forceFallback bool) (Result, func(context.Context) error) {
	page := strings.TrimSpace(requested)
	res := Result{Requested: requested}
	if page == "" || !f.known(page) {
		f.logger.Debug("ignoring navigation to unknown page", "page", requested)
		res.Ignored = true
		return res, nil
	}

	ctx, span := f.tracer.Start(ctx, "navigation.navigate", trace.WithAttributes(attribute.String("page.requested", page)))
	defer span.End()

	if f.isAdminPage(page) && !f.hasAdminRole() {
		f.logger.Warn("admin page requires an admin role, redirecting", "page", page, "redirect", f.cfg.DefaultPage)
		page = f.cfg.DefaultPage
		res.Redirected = true
	}

	res.Mode = ModeFallback
	if !forceFallback && f.mode() == ModeRouter {
		if r := f.lifecycle.Instance(); r != nil {
			tr, err := r.Navigate(ctx, page)
			switch {
			case err == nil:
				res.Mode = ModeRouter
				if tr.To != page {
					res.Redirected = true
					page = tr.To
				}
			case errors.Is(err, router.ErrUnknownRoute):
				// a page with a container or loader but no route still shows
				res.Mode = ModeRouter
			default:
				f.logger.Warn("router navigation failed, toggling directly", "page", page, "error", security.RedactError(err))
			}
		}
	}
	res.Page = page
	span.SetAttributes(attribute.String("page", page), attribute.String("navigation.mode", res.Mode))

	f.mu.Lock()
	container, created := f.resolveContainer(page)
	f.activate(container)
	f.highlight(page)
	f.doc.SetTitle(f.title(page))
	f.doc.SetLocation("/" + page)
	f.doc.SetMeta("current-page", page)
	f.mu.Unlock()

	res.ContainerCreated = created
	res.Container = container.String()
	if created {
		f.logger.Info("created page container", "page", page, "container", res.Container)
	}

	if opts.SkipLoad {
		return res, nil
	}
	loader, ok := f.loader(page)
	if !ok {
		return res, nil
	}
	return res, func(ctx context.Context) error { return loader(ctx, container) }
}

func (f *Facade) finishLoad(ctx context.Context, res Result, load func(context.Context) error) Result {
	start := time.Now()
	err := safeLoad(ctx, load)
	elapsed := time.Since(start)
	f.classifier.RecordPerformanceSample("page.load:"+res.Page, elapsed, err == nil)
	res.Duration = elapsed
	if err == nil {
		res.Loaded = true
		return res
	}
	rec := f.classifier.ClassifyRuntimeError(err, "page load "+res.Page)
	res.LoadError = rec.Message
	f.renderError(res.Page, rec)
	return res
}

func safeLoad(ctx context.Context, load func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("loader panic: %v", p)
		}
	}()
	return load(ctx)
}

var errorView = template.Must(template.New("page-error").Parse(
	`<div class="page-error" role="alert" data-page="{{.Page}}">` +
		`<h3>{{.Title}}</h3><p>{{.Message}}</p>` +
		`<button type="button" class="btn btn-retry" data-action="retry" data-page="{{.Page}}">Coba Lagi</button>` +
		`</div>`))

func (f *Facade) renderError(page string, rec model.ErrorRecord) {
	container, _ := f.lockedContainer(page)
	var buf bytes.Buffer
	err := errorView.Execute(&buf, struct {
		Page, Title, Message string
	}{
		Page:    page,
		Title:   "Gagal memuat " + f.routeTitle(page),
		Message: rec.Message,
	})
	if err != nil {
		container.SetText(rec.Message)
		return
	}
	container.SetHTML(template.HTML(buf.String()))
}

func (f *Facade) lockedContainer(page string) (*document.Element, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveContainer(page)
}

// resolveContainer finds the section for page, creating one under
// #main-content (or the body) when no convention matches. Callers hold f.mu.
func (f *Facade) resolveContainer(page string) (*document.Element, bool) {
	if el := FindContainer(f.doc, page, f.logger); el != nil {
		return el, false
	}
	el := f.doc.CreateElement("section")
	el.SetID(page + "-content")
	el.AddClass(document.SectionClass)
	parent := f.doc.ByID("main-content")
	if parent == nil {
		parent = f.doc.Body()
	}
	f.doc.Append(parent, el)
	return el, true
}

// ContainerSelectors lists the lookups tried for page, most specific first.
func ContainerSelectors(page string) []string {
	return []string{
		"#" + page + "-content",
		"#" + page,
		fmt.Sprintf(`.%s[%s="%s"]`, document.SectionClass, document.PageAttr, page),
		fmt.Sprintf(`[data-page-content="%s"]`, page),
	}
}

// FindContainer returns the first element matching ContainerSelectors, or nil.
func FindContainer(doc *document.Document, page string, logger *slog.Logger) *document.Element {
	for _, sel := range ContainerSelectors(page) {
		el, err := doc.Query(sel)
		if err != nil {
			logging.OrDefault(logger).Debug("container selector rejected", "selector", sel, "error", err)
			continue
		}
		if el != nil {
			return el
		}
	}
	return nil
}

func (f *Facade) activate(container *document.Element) {
	if !container.HasClass(document.SectionClass) {
		container.AddClass(document.SectionClass)
	}
	sections, _ := f.doc.QueryAll("." + document.SectionClass)
	for _, s := range sections {
		s.SetClass(document.ActiveClass, s == container)
	}
}

func (f *Facade) highlight(page string) {
	items, _ := f.doc.QueryAll(fmt.Sprintf("[%s]", document.PageAttr))
	for _, item := range items {
		if item.HasClass(document.SectionClass) {
			continue
		}
		v, _ := item.Attr(document.PageAttr)
		item.SetClass(document.ActiveClass, v == page)
	}
}

func (f *Facade) title(page string) string {
	if f.cfg.AppName == "" {
		return f.routeTitle(page)
	}
	return f.routeTitle(page) + " - " + f.cfg.AppName
}

func (f *Facade) routeTitle(page string) string {
	if f.cfg.Routes != nil {
		return f.cfg.Routes.Title(page)
	}
	return page
}

func (f *Facade) known(page string) bool {
	if _, ok := f.cfg.Routes[page]; ok {
		return true
	}
	if _, ok := f.loader(page); ok {
		return true
	}
	return FindContainer(f.doc, page, f.logger) != nil
}

func (f *Facade) isAdminPage(page string) bool {
	for _, p := range f.cfg.AdminPages {
		if p == page {
			return true
		}
	}
	return false
}

func (f *Facade) hasAdminRole() bool {
	if f.caps == nil {
		return false
	}
	for _, role := range f.cfg.AdminRoles {
		if f.caps.HasRole(role) {
			return true
		}
	}
	return false
}
