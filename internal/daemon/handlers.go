package daemon

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/g960059/riskdesk/internal/api"
	"github.com/g960059/riskdesk/internal/auth"
	"github.com/g960059/riskdesk/internal/config"
	"github.com/g960059/riskdesk/internal/model"
	"github.com/g960059/riskdesk/internal/navigation"
	"github.com/g960059/riskdesk/internal/security"
	"github.com/g960059/riskdesk/internal/shell"
)

const (
	defaultErrorWindow = time.Hour
	defaultErrorLimit  = 20
	maxErrorLimit      = 100
)

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.app.Gatherer(), promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1")
	v1.GET("/health", s.handleHealth)

	v1.GET("/lifecycle", s.handleLifecycle)
	v1.POST("/lifecycle/initialize", s.handleInitialize)
	v1.POST("/lifecycle/destroy", s.handleDestroy)
	v1.POST("/lifecycle/fallback", s.handleFallback)

	v1.POST("/navigate", s.handleNavigate)
	v1.POST("/pages/:page/retry", s.handleRetry)
	v1.GET("/document", s.handleDocument)

	v1.GET("/diagnostics/errors", s.handleErrors)
	v1.GET("/diagnostics/performance", s.handlePerformance)

	v1.GET("/session", s.handleSession)
	v1.POST("/session/login", s.handleLogin)
	v1.POST("/session/logout", s.handleLogout)
	v1.DELETE("/session/storage", s.handleEndSession)

	v1.GET("/dependencies", s.handleDependencies)
	v1.PUT("/dependencies/:name", s.handleProvide)
	v1.DELETE("/dependencies/:name", s.handleWithdraw)
}

func (s *Server) handleHealth(c *gin.Context) {
	state := s.app.State()
	c.JSON(http.StatusOK, api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Version:       config.Version,
		Lifecycle:     string(state.Status),
		Fallback:      state.FallbackActive,
	})
}

func (s *Server) handleLifecycle(c *gin.Context) {
	c.JSON(http.StatusOK, s.lifecycleEnvelope())
}

func (s *Server) lifecycleEnvelope() api.LifecycleEnvelope {
	env := api.LifecycleEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		State:         s.app.State(),
	}
	if r := s.app.Router(); r != nil {
		view := &api.RouterView{Current: r.Current(), Pages: r.Routes().Pages()}
		for _, tr := range r.History() {
			view.History = append(view.History, api.RouterTransition{
				Requested:  tr.Requested,
				From:       tr.From,
				To:         tr.To,
				Path:       tr.Path,
				Redirected: tr.Redirected,
				At:         tr.At,
			})
		}
		env.Router = view
	}
	return env
}

func (s *Server) handleInitialize(c *gin.Context) {
	ready, err := s.app.Initialize(c.Request.Context())
	if err != nil {
		if errors.Is(err, shell.ErrClosed) {
			s.writeError(c, http.StatusServiceUnavailable, model.ErrPreconditionFailed, err.Error())
			return
		}
		s.writeError(c, http.StatusInternalServerError, model.ErrLifecycleFailed, security.RedactError(err))
		return
	}
	c.JSON(http.StatusOK, api.InitializeResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Ready:         ready,
		State:         s.app.State(),
	})
}

func (s *Server) handleDestroy(c *gin.Context) {
	if err := s.app.Destroy(c.Request.Context()); err != nil {
		s.logger.Warn("destroy reported errors", "error", security.RedactError(err))
	}
	c.JSON(http.StatusOK, s.lifecycleEnvelope())
}

func (s *Server) handleFallback(c *gin.Context) {
	if err := s.app.ActivateFallback(); err != nil {
		s.writeError(c, http.StatusInternalServerError, model.ErrLifecycleFailed, security.RedactError(err))
		return
	}
	c.JSON(http.StatusOK, s.lifecycleEnvelope())
}

func (s *Server) handleNavigate(c *gin.Context) {
	var req api.NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, model.ErrRefInvalid, "page is required")
		return
	}
	res, err := s.app.Navigate(c.Request.Context(), strings.TrimSpace(req.Page), shell.NavigateOptions{
		SkipLoad: req.SkipLoad,
		Async:    req.Async,
	})
	if err != nil {
		s.writeError(c, http.StatusServiceUnavailable, model.ErrPreconditionFailed, security.RedactError(err))
		return
	}
	c.JSON(http.StatusOK, navigateResponse(res))
}

func (s *Server) handleRetry(c *gin.Context) {
	page := strings.TrimSpace(c.Param("page"))
	res := s.app.Retry(c.Request.Context(), page)
	if res.Ignored {
		s.writeError(c, http.StatusNotFound, model.ErrRefNotFound, "no loader registered for page "+page)
		return
	}
	c.JSON(http.StatusOK, navigateResponse(res))
}

func navigateResponse(res navigation.Result) api.NavigateResponse {
	return api.NavigateResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Result: api.NavigationResult{
			Requested:        res.Requested,
			Page:             res.Page,
			Mode:             res.Mode,
			Redirected:       res.Redirected,
			Ignored:          res.Ignored,
			ContainerCreated: res.ContainerCreated,
			Container:        res.Container,
			Loaded:           res.Loaded,
			LoadError:        res.LoadError,
			DurationMs:       res.Duration.Milliseconds(),
		},
	}
}

func (s *Server) handleDocument(c *gin.Context) {
	doc := s.app.Document()
	if c.Query("format") == "html" {
		out, err := doc.Render()
		if err != nil {
			s.writeError(c, http.StatusInternalServerError, model.ErrInternal, "render failed")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
		return
	}
	c.JSON(http.StatusOK, api.DocumentEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Document:      doc.Snapshot(),
	})
}

func (s *Server) handleErrors(c *gin.Context) {
	window := defaultErrorWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(c, http.StatusBadRequest, model.ErrRefInvalid, "window must be a positive duration")
			return
		}
		window = d
	}
	limit := defaultErrorLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(c, http.StatusBadRequest, model.ErrRefInvalid, "limit must be a positive integer")
			return
		}
		limit = min(n, maxErrorLimit)
	}
	classifier := s.app.Classifier()
	c.JSON(http.StatusOK, api.ErrorsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Window:        window.String(),
		Statistics:    classifier.GetErrorStatistics(window),
		Recent:        classifier.RecentErrors(limit),
	})
}

func (s *Server) handlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, api.PerformanceEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Operations:    s.app.Classifier().GetPerformanceSummary(),
	})
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionEnvelope())
}

func (s *Server) sessionEnvelope() api.SessionEnvelope {
	session := s.app.Session()
	env := api.SessionEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Authenticated: session.IsAuthenticated(),
	}
	if env.Authenticated {
		u := session.User()
		since := session.Since()
		env.User = &api.SessionUser{ID: u.ID, Name: u.Name, Email: u.Email, Roles: u.Roles}
		env.Since = &since
	}
	return env
}

func (s *Server) handleLogin(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, model.ErrRefInvalid, "token and user_id are required")
		return
	}
	err := s.app.Session().Login(req.Token, auth.User{
		ID:    req.UserID,
		Name:  req.Name,
		Email: req.Email,
		Roles: req.Roles,
	})
	if err != nil {
		s.writeError(c, http.StatusUnauthorized, model.ErrUnauthorized, err.Error())
		return
	}
	s.logger.Info("user signed in", "user_id", req.UserID)
	c.JSON(http.StatusOK, s.sessionEnvelope())
}

func (s *Server) handleLogout(c *gin.Context) {
	s.app.Session().Logout()
	c.JSON(http.StatusOK, s.sessionEnvelope())
}

func (s *Server) handleEndSession(c *gin.Context) {
	removed, err := s.app.EndSession(c.Request.Context())
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, model.ErrInternal, security.RedactError(err))
		return
	}
	c.JSON(http.StatusOK, api.SessionStorageResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		SessionID:     s.app.Config().SessionID,
		Removed:       removed,
	})
}

func (s *Server) handleDependencies(c *gin.Context) {
	c.JSON(http.StatusOK, s.dependenciesEnvelope())
}

func (s *Server) dependenciesEnvelope() api.DependenciesEnvelope {
	required, provided, missing := s.app.Dependencies()
	return api.DependenciesEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Required:      required,
		Provided:      provided,
		Missing:       missing,
	}
}

func (s *Server) handleProvide(c *gin.Context) {
	s.changeDependency(c, s.app.Provide)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	s.changeDependency(c, s.app.Withdraw)
}

func (s *Server) changeDependency(c *gin.Context, change func(string) error) {
	if err := change(c.Param("name")); err != nil {
		if errors.Is(err, shell.ErrUnknownDependency) {
			s.writeError(c, http.StatusNotFound, model.ErrRefNotFound, err.Error())
			return
		}
		s.writeError(c, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.dependenciesEnvelope())
}
