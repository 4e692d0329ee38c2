// Package router implements the guarded page router the lifecycle manager
// constructs once dependencies are available.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrDestroyed = errors.New("router destroyed")

const defaultHistoryLimit = 50

// Factory is the type held by the RouterFactory dependency slot.
type Factory func(ctx context.Context, routes RouteConfig, guard *AuthGuard, opts Options) (*Router, error)

type Options struct {
	HistoryLimit int
}

type Transition struct {
	Requested  string    `json:"requested"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Path       string    `json:"path"`
	Redirected bool      `json:"redirected"`
	At         time.Time `json:"at"`
}

type Router struct {
	mu        sync.Mutex
	routes    RouteConfig
	guard     *AuthGuard
	limit     int
	current   string
	history   []Transition
	destroyed bool
}

// New builds a router over a validated copy of routes. It satisfies Factory.
func New(ctx context.Context, routes RouteConfig, guard *AuthGuard, opts Options) (*Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := routes.Validate(); err != nil {
		return nil, err
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Router{
		routes: routes.clone(),
		guard:  guard,
		limit:  limit,
	}, nil
}

// Resolve applies the guard to page and returns the page that should be
// shown instead, if any.
func (r *Router) Resolve(page string) (string, bool, error) {
	route, ok := r.routes[page]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownRoute, page)
	}
	if redirect := r.guard.Check(page, route); redirect != "" && redirect != page {
		return redirect, true, nil
	}
	return page, false, nil
}

func (r *Router) Navigate(ctx context.Context, page string) (Transition, error) {
	if err := ctx.Err(); err != nil {
		return Transition{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return Transition{}, ErrDestroyed
	}
	target, redirected, err := r.Resolve(page)
	if err != nil {
		return Transition{}, err
	}
	tr := Transition{
		Requested:  page,
		From:       r.current,
		To:         target,
		Path:       r.routes[target].Path,
		Redirected: redirected,
		At:         time.Now().UTC(),
	}
	r.current = target
	r.history = append(r.history, tr)
	if len(r.history) > r.limit {
		r.history = append([]Transition(nil), r.history[len(r.history)-r.limit:]...)
	}
	return tr, nil
}

func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Router) History() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.history...)
}

func (r *Router) Routes() RouteConfig {
	return r.routes.clone()
}

// Destroy releases the router; later navigations fail with ErrDestroyed.
func (r *Router) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = true
	r.history = nil
	r.current = ""
	return nil
}
