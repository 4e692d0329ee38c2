// Package features holds the page modules: each waits until a user is signed
// in, finds its page container, fetches its data from the backend REST API
// and renders it into the container.
package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/g960059/riskdesk/internal/appclient"
	"github.com/g960059/riskdesk/internal/backoff"
	"github.com/g960059/riskdesk/internal/document"
	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/navigation"
)

var (
	ErrNotAuthenticated  = errors.New("user is not authenticated")
	ErrContainerNotFound = errors.New("page container not found")
)

const tracerName = "github.com/g960059/riskdesk/internal/features"

// Auth is the part of the signed-in session a module needs.
type Auth interface {
	IsAuthenticated() bool
	Token() string
}

type Options struct {
	AuthWait            time.Duration
	AuthPoll            time.Duration
	ContainerRetries    int
	ContainerRetryDelay time.Duration
	Logger              *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.AuthPoll <= 0 {
		o.AuthPoll = 100 * time.Millisecond
	}
	if o.ContainerRetries < 0 {
		o.ContainerRetries = 0
	}
	return o
}

type Module struct {
	def    Definition
	client *appclient.Client
	auth   Auth
	doc    *document.Document
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

func NewModule(def Definition, client *appclient.Client, auth Auth, doc *document.Document, opts Options) *Module {
	opts = opts.withDefaults()
	return &Module{
		def:    def,
		client: client,
		auth:   auth,
		doc:    doc,
		opts:   opts,
		logger: logging.OrDefault(opts.Logger).With("component", "features", "page", def.Page),
		tracer: otel.Tracer(tracerName),
	}
}

func (m *Module) Page() string { return m.def.Page }

// Load is a navigation.Loader.
func (m *Module) Load(ctx context.Context, container *document.Element) (err error) {
	ctx, span := m.tracer.Start(ctx, "features.load", trace.WithAttributes(
		attribute.String("page", m.def.Page),
		attribute.String("endpoint", m.def.Endpoint),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := m.waitForAuth(ctx); err != nil {
		return err
	}
	container, err = m.container(ctx, container)
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if err := m.client.WithToken(m.auth.Token()).GetJSON(ctx, m.def.Endpoint, nil, &raw); err != nil {
		return fmt.Errorf("fetch %s: %w", m.def.Endpoint, err)
	}
	html, err := render(m.def, raw)
	if err != nil {
		return err
	}
	container.SetHTML(html)
	m.logger.Debug("page rendered", "bytes", len(html))
	return nil
}

func (m *Module) waitForAuth(ctx context.Context) error {
	if m.auth != nil && m.auth.IsAuthenticated() {
		return nil
	}
	if m.auth == nil || m.opts.AuthWait <= 0 {
		return ErrNotAuthenticated
	}
	waitCtx, cancel := context.WithTimeout(ctx, m.opts.AuthWait)
	defer cancel()
	ticker := time.NewTicker(m.opts.AuthPoll)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrNotAuthenticated
		case <-ticker.C:
			if m.auth.IsAuthenticated() {
				return nil
			}
		}
	}
}

// container returns the given element while it is still attached, and looks
// the page up again otherwise. Lookups repeat up to ContainerRetries times.
func (m *Module) container(ctx context.Context, given *document.Element) (*document.Element, error) {
	if given != nil && m.attached(given) {
		return given, nil
	}
	for attempt := 0; ; attempt++ {
		if el := navigation.FindContainer(m.doc, m.def.Page, m.logger); el != nil {
			return el, nil
		}
		if attempt >= m.opts.ContainerRetries {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, m.def.Page)
		}
		m.logger.Debug("container missing, retrying", "attempt", attempt+1)
		if err := backoff.Sleep(ctx, m.opts.ContainerRetryDelay); err != nil {
			return nil, err
		}
	}
}

func (m *Module) attached(el *document.Element) bool {
	if m.doc == nil {
		return true
	}
	body := m.doc.Body()
	for cur := el; cur != nil; cur = cur.Parent() {
		if cur == body {
			return true
		}
	}
	return false
}

// Registrar is implemented by navigation.Facade.
type Registrar interface {
	Register(page string, loader navigation.Loader)
}

// RegisterAll builds one module per definition and registers its loader.
func RegisterAll(reg Registrar, defs []Definition, client *appclient.Client, auth Auth, doc *document.Document, opts Options) []*Module {
	mods := make([]*Module, 0, len(defs))
	for _, def := range defs {
		mod := NewModule(def, client, auth, doc, opts)
		reg.Register(def.Page, mod.Load)
		mods = append(mods, mod)
	}
	return mods
}
