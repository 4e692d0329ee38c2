package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/g960059/riskdesk/internal/probe"
	"github.com/g960059/riskdesk/internal/router"
)

// configurationError marks construction failures that retrying cannot fix.
type configurationError struct {
	err   error
	value any
}

func (e *configurationError) Error() string { return e.err.Error() }
func (e *configurationError) Unwrap() error { return e.err }

func invalidConfig(value any, format string, args ...any) error {
	return &configurationError{
		err:   fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...)),
		value: value,
	}
}

// construct builds a router from the registry slots. Panics raised by the
// factories come back as runtime errors.
func (m *Manager) construct(ctx context.Context) (r *router.Router, err error) {
	defer func() {
		if p := recover(); p != nil {
			r = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	routes, err := m.routeConfig()
	if err != nil {
		return nil, err
	}
	newGuard, err := m.guardFactory()
	if err != nil {
		return nil, err
	}
	newRouter, err := m.routerFactory()
	if err != nil {
		return nil, err
	}

	guard := newGuard(m.opts.Capabilities, m.opts.Guard)
	if guard == nil {
		return nil, errors.New("auth guard factory returned nil")
	}
	r, err = newRouter(ctx, routes, guard, router.Options{})
	if err != nil {
		if errors.Is(err, router.ErrInvalidRoutes) {
			return nil, &configurationError{err: fmt.Errorf("%w: %w", ErrInvalidConfiguration, err), value: routes}
		}
		return nil, err
	}
	if r == nil {
		return nil, errors.New("router factory returned nil router")
	}
	return r, nil
}

func (m *Manager) routeConfig() (router.RouteConfig, error) {
	v, ok := m.opts.Registry.Lookup(probe.RouteConfig)
	if !ok {
		return nil, fmt.Errorf("%w: %s", probe.ErrMissingDependency, probe.RouteConfig)
	}
	var routes router.RouteConfig
	switch rc := v.(type) {
	case router.RouteConfig:
		routes = rc
	case map[string]router.Route:
		routes = rc
	default:
		return nil, invalidConfig(v, "%s has type %T", probe.RouteConfig, v)
	}
	if err := routes.Validate(); err != nil {
		return nil, &configurationError{err: fmt.Errorf("%w: %w", ErrInvalidConfiguration, err), value: routes}
	}
	return routes, nil
}

func (m *Manager) guardFactory() (router.AuthGuardFactory, error) {
	v, ok := m.opts.Registry.Lookup(probe.AuthGuardFactory)
	if !ok {
		return nil, fmt.Errorf("%w: %s", probe.ErrMissingDependency, probe.AuthGuardFactory)
	}
	switch f := v.(type) {
	case router.AuthGuardFactory:
		return f, nil
	case func(router.Capabilities, router.GuardOptions) *router.AuthGuard:
		return f, nil
	}
	return nil, invalidConfig(v, "%s has type %T", probe.AuthGuardFactory, v)
}

func (m *Manager) routerFactory() (router.Factory, error) {
	v, ok := m.opts.Registry.Lookup(probe.RouterFactory)
	if !ok {
		return nil, fmt.Errorf("%w: %s", probe.ErrMissingDependency, probe.RouterFactory)
	}
	switch f := v.(type) {
	case router.Factory:
		return f, nil
	case func(context.Context, router.RouteConfig, *router.AuthGuard, router.Options) (*router.Router, error):
		return f, nil
	}
	return nil, invalidConfig(v, "%s has type %T", probe.RouterFactory, v)
}
