// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
)

// DefaultCookieName is the session cookie name when none is configured.
const DefaultCookieName = "gatehouse_session"

// DefaultMaxBodyBytes caps form bodies.
const DefaultMaxBodyBytes = 64 << 10

var errMissingSession = oops.Code("WEB_SESSION_MISSING").Errorf("authenticated route reached without a session")

// Authenticator performs signup and login.
type Authenticator interface {
	Signup(ctx context.Context, creds auth.Credentials) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*auth.User, error)
}

// Sessions binds sessions to clients.
type Sessions interface {
	auth.SessionReader
	Create(ctx context.Context, cc *auth.ClientContext, principal *auth.User) (*auth.Session, error)
	Destroy(ctx context.Context, cc *auth.ClientContext) error
}

// UserFinder resolves a session principal.
type UserFinder interface {
	GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error)
}

// Options configures a Handler. Auth, Sessions and Users are required.
type Options struct {
	Auth         Authenticator
	Sessions     Sessions
	Users        UserFinder
	Renderer     Renderer
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	LoginPath    string
	LandingPath  string
	CookieName   string
	CookieSecure bool
	MaxBodyBytes int64
}

// Handler serves the signup, login, logout and profile routes.
type Handler struct {
	auth         Authenticator
	sessions     Sessions
	users        UserFinder
	guard        *auth.AccessGuard
	renderer     Renderer
	metrics      *observability.Metrics
	logger       *slog.Logger
	loginPath    string
	landingPath  string
	cookieName   string
	cookieSecure bool
	maxBody      int64
	mux          *http.ServeMux
}

// NewHandler creates a Handler with its routes registered.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Auth == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("authenticator is required")
	}
	if opts.Sessions == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("sessions are required")
	}
	if opts.Users == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("user finder is required")
	}

	guard, err := auth.NewAccessGuard(opts.Sessions, opts.LoginPath, opts.LandingPath)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		auth:         opts.Auth,
		sessions:     opts.Sessions,
		users:        opts.Users,
		guard:        guard,
		renderer:     opts.Renderer,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		loginPath:    opts.LoginPath,
		landingPath:  opts.LandingPath,
		cookieName:   opts.CookieName,
		cookieSecure: opts.CookieSecure,
		maxBody:      opts.MaxBodyBytes,
		mux:          http.NewServeMux(),
	}
	if h.renderer == nil {
		h.renderer = JSONRenderer{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.loginPath == "" {
		h.loginPath = auth.DefaultLoginPath
	}
	if h.landingPath == "" {
		h.landingPath = auth.DefaultLandingPath
	}
	if h.cookieName == "" {
		h.cookieName = DefaultCookieName
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}

	h.RegisterRoutes(h.mux)
	return h, nil
}

// RegisterRoutes adds the Gatehouse routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)

	mux.Handle("GET /signup", h.requireAnonymous(http.HandlerFunc(h.handleSignupForm)))
	mux.Handle("POST /signup", h.requireAnonymous(http.HandlerFunc(h.handleSignup)))
	mux.Handle("GET /login", h.requireAnonymous(http.HandlerFunc(h.handleLoginForm)))
	mux.Handle("POST /login", h.requireAnonymous(http.HandlerFunc(h.handleLogin)))

	mux.Handle("POST /logout", h.requireAuthenticated(http.HandlerFunc(h.handleLogout)))
	mux.Handle("GET /userProfile", h.requireAuthenticated(http.HandlerFunc(h.handleUserProfile)))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, view string, data any) {
	if err := h.renderer.Render(w, status, view, data); err != nil {
		// headers may already be written; log only
		h.logError(r.Context(), "render failed", err, "view", view)
	}
}

// fault renders the generic error view for errors without a user message.
func (h *Handler) fault(w http.ResponseWriter, r *http.Request, err error) {
	h.logError(r.Context(), "request failed", err,
		"method", r.Method,
		"path", r.URL.Path,
	)
	h.render(w, r, http.StatusInternalServerError, ViewError, ErrorData{ErrorMessage: MsgInternalError})
}
