package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownRoute  = errors.New("unknown route")
	ErrInvalidRoutes = errors.New("invalid route configuration")
)

type Route struct {
	Path         string   `json:"path"`
	Title        string   `json:"title"`
	RequiresAuth bool     `json:"requires_auth"`
	Roles        []string `json:"roles,omitempty"`
}

// RouteConfig maps page names to routes.
type RouteConfig map[string]Route

// DefaultRoutes is the page map of the risk-management shell.
func DefaultRoutes() RouteConfig {
	return RouteConfig{
		"login":                   {Path: "/login", Title: "Login"},
		"dashboard":               {Path: "/dashboard", Title: "Dashboard", RequiresAuth: true},
		"rencana-strategis":       {Path: "/rencana-strategis", Title: "Rencana Strategis", RequiresAuth: true},
		"analisis-swot":           {Path: "/analisis-swot", Title: "Analisis SWOT", RequiresAuth: true},
		"indikator-kinerja-utama": {Path: "/indikator-kinerja-utama", Title: "Indikator Kinerja Utama", RequiresAuth: true},
		"risk-input":              {Path: "/risk-input", Title: "Input Risiko", RequiresAuth: true},
		"risk-register":           {Path: "/risk-register", Title: "Risk Register", RequiresAuth: true},
		"pengaturan":              {Path: "/pengaturan", Title: "Pengaturan", RequiresAuth: true, Roles: []string{"admin", "superadmin"}},
		"user-management":         {Path: "/user-management", Title: "Manajemen User", RequiresAuth: true, Roles: []string{"admin", "superadmin"}},
	}
}

// Validate reports the first structural problem in the map: empty map,
// blank page names, or routes without a rooted path.
func (c RouteConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: route map is nil", ErrInvalidRoutes)
	}
	if len(c) == 0 {
		return fmt.Errorf("%w: route map is empty", ErrInvalidRoutes)
	}
	paths := make(map[string]string, len(c))
	for _, name := range c.Pages() {
		route := c[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: blank page name", ErrInvalidRoutes)
		}
		if !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("%w: page %q has path %q", ErrInvalidRoutes, name, route.Path)
		}
		if other, dup := paths[route.Path]; dup {
			return fmt.Errorf("%w: pages %q and %q share path %q", ErrInvalidRoutes, other, name, route.Path)
		}
		paths[route.Path] = name
	}
	return nil
}

// Pages returns the page names in sorted order.
func (c RouteConfig) Pages() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c RouteConfig) Title(page string) string {
	if r, ok := c[page]; ok && r.Title != "" {
		return r.Title
	}
	return page
}

func (c RouteConfig) clone() RouteConfig {
	out := make(RouteConfig, len(c))
	for k, v := range c {
		v.Roles = append([]string(nil), v.Roles...)
		out[k] = v
	}
	return out
}
