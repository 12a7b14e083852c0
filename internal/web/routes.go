// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
	"github.com/gatehouse-auth/gatehouse/pkg/errutil"
)

// Messages for failures that have no auth user message.
const (
	MsgInternalError   = "Something went wrong. Please try again later."
	MsgRequestTooLarge = "The submitted form is too large."
	MsgMalformedForm   = "The submitted form could not be read."
)

// rejectForm answers a request whose body could not be parsed as a form.
func (h *Handler) rejectForm(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusBadRequest, MsgMalformedForm
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status, msg = http.StatusRequestEntityTooLarge, MsgRequestTooLarge
	}
	h.logger.WarnContext(r.Context(), "form rejected",
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	h.render(w, r, status, ViewError, ErrorData{ErrorMessage: msg})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, ViewIndex, nil)
}

func (h *Handler) handleSignupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, ViewSignup, FormData{})
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, ViewLogin, FormData{})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.metrics.ObserveSignup(observability.OutcomeInvalid)
		h.rejectForm(w, r, err)
		return
	}

	creds := auth.Credentials{
		Username: r.PostForm.Get("username"),
		Email:    r.PostForm.Get("email"),
		Password: r.PostForm.Get("password"),
	}

	user, err := h.auth.Signup(r.Context(), creds)
	if err != nil {
		var signupErr *auth.SignupError
		if errors.As(err, &signupErr) && signupErr.Kind != auth.SignupStoreFailure {
			outcome, status := observability.OutcomeInvalid, http.StatusBadRequest
			if signupErr.Kind == auth.SignupDuplicateCredential {
				outcome, status = observability.OutcomeDuplicate, http.StatusConflict
			}
			h.metrics.ObserveSignup(outcome)
			msg, _ := auth.UserMessage(err)
			h.render(w, r, status, ViewSignup, FormData{
				ErrorMessage: msg,
				Username:     creds.Username,
				Email:        creds.Email,
			})
			return
		}
		h.metrics.ObserveSignup(observability.OutcomeError)
		h.fault(w, r, err)
		return
	}

	h.metrics.ObserveSignup(observability.OutcomeOK)
	h.startSession(w, r, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.metrics.ObserveLogin(observability.OutcomeInvalid)
		h.rejectForm(w, r, err)
		return
	}

	email := r.PostForm.Get("email")
	user, err := h.auth.Login(r.Context(), email, r.PostForm.Get("password"))
	if err != nil {
		var loginErr *auth.LoginError
		if errors.As(err, &loginErr) && loginErr.Kind != auth.LoginStoreFailure {
			outcome, status := observability.OutcomeInvalid, http.StatusBadRequest
			if loginErr.Kind == auth.LoginNotFoundOrMismatch {
				outcome, status = observability.OutcomeRejected, http.StatusUnauthorized
			}
			h.metrics.ObserveLogin(outcome)
			msg, _ := auth.UserMessage(err)
			h.render(w, r, status, ViewLogin, FormData{ErrorMessage: msg, Email: email})
			return
		}
		h.metrics.ObserveLogin(observability.OutcomeError)
		h.fault(w, r, err)
		return
	}

	h.metrics.ObserveLogin(observability.OutcomeOK)
	h.startSession(w, r, user)
}

// startSession binds a new session for user, sets the cookie and redirects
// to the landing page.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *auth.User) {
	cc := h.clientContext(r)
	session, err := h.sessions.Create(r.Context(), &cc, user)
	if err != nil {
		h.fault(w, r, err)
		return
	}
	h.setSessionCookie(w, cc.Token, session.ExpiresAt)
	http.Redirect(w, r, h.landingPath, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cc := h.clientContext(r)
	if err := h.sessions.Destroy(r.Context(), &cc); err != nil {
		h.fault(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.fault(w, r, errMissingSession)
		return
	}

	user, err := h.users.GetByID(r.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// principal was removed; the session is orphaned
			cc := h.clientContext(r)
			if destroyErr := h.sessions.Destroy(r.Context(), &cc); destroyErr != nil {
				h.fault(w, r, destroyErr)
				return
			}
			h.clearSessionCookie(w)
			http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
			return
		}
		h.fault(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, ViewUserProfile, ProfileData{
		ID:       user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
	})
}

func (h *Handler) logError(ctx context.Context, msg string, err error, attrs ...any) {
	errutil.LogErrorContext(ctx, h.logger, msg, err, attrs...)
}
