package router

// Capabilities is the current-user view the guard consults.
type Capabilities interface {
	IsAuthenticated() bool
	HasRole(role string) bool
}

// AuthGuardFactory is the type held by the AuthGuardFactory dependency slot.
type AuthGuardFactory func(caps Capabilities, opts GuardOptions) *AuthGuard

type GuardOptions struct {
	LoginPage   string
	DefaultPage string
}

type AuthGuard struct {
	caps Capabilities
	opts GuardOptions
}

func NewAuthGuard(caps Capabilities, opts GuardOptions) *AuthGuard {
	if opts.LoginPage == "" {
		opts.LoginPage = "login"
	}
	if opts.DefaultPage == "" {
		opts.DefaultPage = "dashboard"
	}
	return &AuthGuard{caps: caps, opts: opts}
}

// Check returns the page to redirect to, or "" when the route may be shown.
func (g *AuthGuard) Check(page string, route Route) string {
	if g == nil {
		return ""
	}
	if route.RequiresAuth && (g.caps == nil || !g.caps.IsAuthenticated()) {
		if page == g.opts.LoginPage {
			return ""
		}
		return g.opts.LoginPage
	}
	if len(route.Roles) == 0 {
		return ""
	}
	if g.caps != nil {
		for _, role := range route.Roles {
			if g.caps.HasRole(role) {
				return ""
			}
		}
	}
	if page == g.opts.DefaultPage {
		return ""
	}
	return g.opts.DefaultPage
}
