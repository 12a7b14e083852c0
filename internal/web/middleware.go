// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"net/http"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/observability"
)

type sessionContextKey struct{}

// SessionFromContext returns the session admitted by the authenticated guard.
func SessionFromContext(ctx context.Context) (*auth.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*auth.Session)
	return s, ok && s != nil
}

type guardFunc func(ctx context.Context, cc auth.ClientContext) (auth.Decision, error)

func (h *Handler) requireAuthenticated(next http.Handler) http.Handler {
	return h.guarded("authenticated", h.guard.RequireAuthenticated, next)
}

func (h *Handler) requireAnonymous(next http.Handler) http.Handler {
	return h.guarded("anonymous", h.guard.RequireAnonymous, next)
}

// guarded runs check before next. A denied request never reaches next.
func (h *Handler) guarded(name string, check guardFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cc := h.clientContext(r)

		decision, err := check(r.Context(), cc)
		if err != nil {
			h.metrics.ObserveGuard(name, observability.DecisionError)
			h.fault(w, r, err)
			return
		}

		if !decision.Allowed {
			h.metrics.ObserveGuard(name, observability.DecisionRedirect)
			if decision.Session == nil && cc.Token != "" {
				// stale or expired cookie
				h.clearSessionCookie(w)
			}
			http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
			return
		}

		h.metrics.ObserveGuard(name, observability.DecisionAllow)
		ctx := r.Context()
		if decision.Session != nil {
			ctx = context.WithValue(ctx, sessionContextKey{}, decision.Session)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
