// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/auth/memstore"
	"github.com/gatehouse-auth/gatehouse/internal/auth/mocks"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/pkg/errutil"
)

var discard = slog.New(slog.DiscardHandler)

type fixture struct {
	handler  *Handler
	users    *memstore.UserRepository
	sessions *memstore.SessionStore
	metrics  *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memstore.NewUserRepository()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewAuthServiceWithLogger(users, hasher, discard)
	require.NoError(t, err)

	store := memstore.NewSessionStore()
	mgr, err := auth.NewSessionManager(store, time.Hour, discard)
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h, err := NewHandler(Options{
		Auth:     svc,
		Sessions: mgr,
		Users:    users,
		Metrics:  metrics,
		Logger:   discard,
	})
	require.NoError(t, err)
	return &fixture{handler: h, users: users, sessions: store, metrics: metrics}
}

func serve(t *testing.T, h http.Handler, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type rendered struct {
	View string         `json:"view"`
	Data map[string]any `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) rendered {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out rendered
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	return nil
}

func signupForm(username, email, password string) url.Values {
	return url.Values{"username": {username}, "email": {email}, "password": {password}}
}

// signUp registers alice and returns her session cookie.
func (f *fixture) signUp(t *testing.T) *http.Cookie {
	t.Helper()
	rec := serve(t, f.handler, http.MethodPost, "/signup", signupForm("alice", "alice@example.com", "Secret1"), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	c := sessionCookie(rec)
	require.NotNil(t, c)
	return c
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	mgr, err := auth.NewSessionManager(memstore.NewSessionStore(), time.Hour, discard)
	require.NoError(t, err)
	users := memstore.NewUserRepository()
	svc, err := auth.NewAuthService(users, auth.NewArgon2idHasher())
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
	}{
		{"no auth", Options{Sessions: mgr, Users: users}},
		{"no sessions", Options{Auth: svc, Users: users}},
		{"no users", Options{Auth: svc, Sessions: mgr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler(tt.opts)
			errutil.AssertErrorCode(t, err, "WEB_HANDLER_INVALID")
		})
	}
}

func TestHandler_Index(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ViewIndex, decode(t, rec).View)

	rec = serve(t, f.handler, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Forms(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, http.MethodGet, "/signup", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ViewSignup, decode(t, rec).View)

	rec = serve(t, f.handler, http.MethodGet, "/login", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ViewLogin, decode(t, rec).View)
}

func TestHandler_SignupCreatesSessionAndRedirects(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, http.MethodPost, "/signup", signupForm("alice", "alice@example.com", "Secret1"), nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.DefaultLandingPath, rec.Header().Get("Location"))
	assert.Equal(t, 1, f.users.Len())
	assert.Equal(t, 1, f.sessions.Len())

	c := sessionCookie(rec)
	require.NotNil(t, c)
	assert.Len(t, c.Value, 2*auth.SessionTokenBytes)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.False(t, c.Secure)
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.Expires, time.Minute)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SignupsTotal.WithLabelValues(observability.OutcomeOK)), 0)
}

func TestHandler_SignupUserErrors(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantMsg    string
		outcome    string
	}{
		{"missing email", signupForm("bob", "", "Secret1"), http.StatusBadRequest, auth.MsgSignupMissingFields, observability.OutcomeInvalid},
		{"no form", url.Values{}, http.StatusBadRequest, auth.MsgSignupMissingFields, observability.OutcomeInvalid},
		{"weak password", signupForm("bob", "bob@example.com", "secret"), http.StatusBadRequest, auth.MsgWeakPassword, observability.OutcomeInvalid},
		{"duplicate username", signupForm("alice", "other@example.com", "Secret1"), http.StatusConflict, auth.MsgDuplicateCredential, observability.OutcomeDuplicate},
		{"duplicate email", signupForm("bob", "ALICE@example.com", "Secret1"), http.StatusConflict, auth.MsgDuplicateCredential, observability.OutcomeDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.signUp(t)

			rec := serve(t, f.handler, http.MethodPost, "/signup", tt.form, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, ViewSignup, out.View)
			assert.Equal(t, tt.wantMsg, out.Data["errorMessage"])
			assert.NotContains(t, rec.Body.String(), "Secret1")
			assert.Nil(t, sessionCookie(rec))
			assert.Equal(t, 1, f.users.Len())
			assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SignupsTotal.WithLabelValues(tt.outcome)), 0)
		})
	}
}

func TestHandler_SignupRedisplaysInput(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, http.MethodPost, "/signup", signupForm("bob", "bob@example.com", "weak"), nil)

	out := decode(t, rec)
	assert.Equal(t, "bob", out.Data["username"])
	assert.Equal(t, "bob@example.com", out.Data["email"])
	assert.NotContains(t, out.Data, "password")
}

func TestHandler_Login(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantMsg    string
	}{
		{"missing password", url.Values{"email": {"alice@example.com"}}, http.StatusBadRequest, auth.MsgLoginMissingFields},
		{"wrong password", url.Values{"email": {"alice@example.com"}, "password": {"Wrong1"}}, http.StatusUnauthorized, auth.MsgInvalidCredentials},
		{"unknown email", url.Values{"email": {"nobody@example.com"}, "password": {"Secret1"}}, http.StatusUnauthorized, auth.MsgInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, f.handler, http.MethodPost, "/login", tt.form, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, ViewLogin, out.View)
			assert.Equal(t, tt.wantMsg, out.Data["errorMessage"])
			assert.Nil(t, sessionCookie(rec))
		})
	}

	t.Run("success", func(t *testing.T) {
		form := url.Values{"email": {"Alice@Example.com"}, "password": {"Secret1"}}
		rec := serve(t, f.handler, http.MethodPost, "/login", form, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, auth.DefaultLandingPath, rec.Header().Get("Location"))
		assert.NotNil(t, sessionCookie(rec))
	})

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues(observability.OutcomeRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues(observability.OutcomeOK)), 0)
}

func TestHandler_AnonymousRoutesRedirectSignedInClients(t *testing.T) {
	f := newFixture(t)
	c := f.signUp(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/signup"},
		{http.MethodPost, "/signup"},
		{http.MethodGet, "/login"},
		{http.MethodPost, "/login"},
	} {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := serve(t, f.handler, route.method, route.path, url.Values{}, c)
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, auth.DefaultLandingPath, rec.Header().Get("Location"))
		})
	}
	assert.Equal(t, 1, f.users.Len())
}

func TestHandler_UserProfile(t *testing.T) {
	f := newFixture(t)
	c := f.signUp(t)

	rec := serve(t, f.handler, http.MethodGet, "/userProfile", nil, c)

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, ViewUserProfile, out.View)
	assert.Equal(t, "alice", out.Data["username"])
	assert.Equal(t, "alice@example.com", out.Data["email"])
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestHandler_UserProfileRequiresSession(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, http.MethodGet, "/userProfile", nil, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.DefaultLoginPath, rec.Header().Get("Location"))
	assert.Nil(t, sessionCookie(rec))

	stale := &http.Cookie{Name: DefaultCookieName, Value: "not-a-session"}
	rec = serve(t, f.handler, http.MethodGet, "/userProfile", nil, stale)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.GuardDecisionsTotal.WithLabelValues("authenticated", observability.DecisionRedirect)), 0)
}

func TestHandler_UserProfileOrphanedSession(t *testing.T) {
	f := newFixture(t)
	users := mocks.NewMockUserRepository(t)
	f.handler.users = users
	c := f.signUp(t)

	users.On("GetByID", mock.Anything, mock.Anything).
		Return(nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound))

	rec := serve(t, f.handler, http.MethodGet, "/userProfile", nil, c)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.DefaultLoginPath, rec.Header().Get("Location"))
	assert.Equal(t, 0, f.sessions.Len())
}

func TestHandler_Logout(t *testing.T) {
	f := newFixture(t)
	c := f.signUp(t)

	rec := serve(t, f.handler, http.MethodPost, "/logout", nil, c)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
	assert.Equal(t, 0, f.sessions.Len())

	rec = serve(t, f.handler, http.MethodGet, "/userProfile", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.DefaultLoginPath, rec.Header().Get("Location"))
}

func TestHandler_LogoutRequiresSession(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, f.handler, http.MethodPost, "/logout", nil, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.DefaultLoginPath, rec.Header().Get("Location"))
}

func TestHandler_LogoutDestroyFault(t *testing.T) {
	store := mocks.NewMockSessionStore(t)
	mgr, err := auth.NewSessionManager(store, time.Hour, discard)
	require.NoError(t, err)
	users := memstore.NewUserRepository()
	svc, err := auth.NewAuthService(users, auth.NewArgon2idHasher())
	require.NoError(t, err)
	h, err := NewHandler(Options{Auth: svc, Sessions: mgr, Users: users, Logger: discard})
	require.NoError(t, err)

	live, err := auth.NewSession(ulid.Make(), auth.HashSessionToken("tok"), time.Now().Add(time.Hour))
	require.NoError(t, err)
	store.On("Get", mock.Anything, auth.HashSessionToken("tok")).Return(live, nil)
	store.On("Delete", mock.Anything, auth.HashSessionToken("tok")).Return(errors.New("store down"))

	rec := serve(t, h, http.MethodPost, "/logout", nil, &http.Cookie{Name: DefaultCookieName, Value: "tok"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, ViewError, out.View)
	assert.Equal(t, MsgInternalError, out.Data["errorMessage"])
	assert.Nil(t, sessionCookie(rec), "cookie must survive a failed logout")
}

func TestHandler_GuardFault(t *testing.T) {
	store := mocks.NewMockSessionStore(t)
	mgr, err := auth.NewSessionManager(store, time.Hour, discard)
	require.NoError(t, err)
	users := memstore.NewUserRepository()
	svc, err := auth.NewAuthService(users, auth.NewArgon2idHasher())
	require.NoError(t, err)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h, err := NewHandler(Options{Auth: svc, Sessions: mgr, Users: users, Metrics: metrics, Logger: discard})
	require.NoError(t, err)

	store.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("store down"))

	rec := serve(t, h, http.MethodGet, "/userProfile", nil, &http.Cookie{Name: DefaultCookieName, Value: "tok"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ViewError, decode(t, rec).View)
	assert.NotContains(t, rec.Body.String(), "store down")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("authenticated", observability.DecisionError)), 0)
}

type stubAuth struct {
	signupErr error
	loginErr  error
}

func (s stubAuth) Signup(context.Context, auth.Credentials) (*auth.User, error) {
	return nil, s.signupErr
}

func (s stubAuth) Login(context.Context, string, string) (*auth.User, error) {
	return nil, s.loginErr
}

func TestHandler_StoreFailuresUseFaultHandler(t *testing.T) {
	mgr, err := auth.NewSessionManager(memstore.NewSessionStore(), time.Hour, discard)
	require.NoError(t, err)
	h, err := NewHandler(Options{
		Auth: stubAuth{
			signupErr: oops.Code("AUTH_SIGNUP_FAILED").
				Wrap(&auth.SignupError{Kind: auth.SignupStoreFailure, Cause: errors.New("db down")}),
			loginErr: oops.Code("AUTH_LOGIN_FAILED").
				Wrap(&auth.LoginError{Kind: auth.LoginStoreFailure, Cause: errors.New("db down")}),
		},
		Sessions: mgr,
		Users:    memstore.NewUserRepository(),
		Logger:   discard,
	})
	require.NoError(t, err)

	for _, path := range []string{"/signup", "/login"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(t, h, http.MethodPost, path, signupForm("alice", "alice@example.com", "Secret1"), nil)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, ViewError, out.View)
			assert.Equal(t, MsgInternalError, out.Data["errorMessage"])
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestHandler_CustomPathsAndSecureCookie(t *testing.T) {
	users := memstore.NewUserRepository()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewAuthService(users, hasher)
	require.NoError(t, err)
	mgr, err := auth.NewSessionManager(memstore.NewSessionStore(), time.Hour, discard)
	require.NoError(t, err)

	h, err := NewHandler(Options{
		Auth:         svc,
		Sessions:     mgr,
		Users:        users,
		Logger:       discard,
		LoginPath:    "/auth/login",
		LandingPath:  "/home",
		CookieName:   "sid",
		CookieSecure: true,
	})
	require.NoError(t, err)

	rec := serve(t, h, http.MethodGet, "/userProfile", nil, nil)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

	rec = serve(t, h, http.MethodPost, "/signup", signupForm("alice", "alice@example.com", "Secret1"), nil)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].Secure)
}

func TestHandler_UnreadableForm(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		maxBody int64
		status  int
		message string
	}{
		{
			name:    "oversized signup body",
			path:    "/signup",
			body:    signupForm("alice", "alice@example.com", "Secret1").Encode(),
			maxBody: 16,
			status:  http.StatusRequestEntityTooLarge,
			message: MsgRequestTooLarge,
		},
		{
			name:    "oversized login body",
			path:    "/login",
			body:    url.Values{"email": {"alice@example.com"}, "password": {"Secret1"}}.Encode(),
			maxBody: 16,
			status:  http.StatusRequestEntityTooLarge,
			message: MsgRequestTooLarge,
		},
		{
			name:    "malformed signup body",
			path:    "/signup",
			body:    "username=%zz&email=a%40x.com",
			status:  http.StatusBadRequest,
			message: MsgMalformedForm,
		},
		{
			name:    "malformed login body",
			path:    "/login",
			body:    "email=%zz",
			status:  http.StatusBadRequest,
			message: MsgMalformedForm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.maxBody > 0 {
				f.handler.maxBody = tt.maxBody
			}

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, ViewError, out.View)
			assert.Equal(t, tt.message, out.Data["errorMessage"])
			assert.NotEqual(t, auth.MsgSignupMissingFields, out.Data["errorMessage"])
			assert.Equal(t, 0, f.users.Len())
			assert.Nil(t, sessionCookie(rec))
		})
	}
}
