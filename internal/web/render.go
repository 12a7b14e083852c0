// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"encoding/json"
	"net/http"

	"github.com/samber/oops"
)

// View names passed to Renderer.
const (
	ViewIndex       = "index"
	ViewSignup      = "auth/signup"
	ViewLogin       = "auth/login"
	ViewUserProfile = "users/user-profile"
	ViewError       = "error"
)

// Renderer writes a view with its data. Implementations set the status code.
type Renderer interface {
	Render(w http.ResponseWriter, status int, view string, data any) error
}

// FormData is the model for the signup and login views. The submitted
// password is never echoed back.
type FormData struct {
	ErrorMessage string `json:"errorMessage,omitempty"`
	Username     string `json:"username,omitempty"`
	Email        string `json:"email,omitempty"`
}

// ProfileData is the model for the user profile view.
type ProfileData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ErrorData is the model for the error view.
type ErrorData struct {
	ErrorMessage string `json:"errorMessage"`
}

// JSONRenderer renders views as {"view": name, "data": model}.
type JSONRenderer struct{}

type envelope struct {
	View string `json:"view"`
	Data any    `json:"data"`
}

// Render implements Renderer.
func (JSONRenderer) Render(w http.ResponseWriter, status int, view string, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{View: view, Data: data}); err != nil {
		return oops.Code("RENDER_FAILED").With("view", view).Wrap(err)
	}
	return nil
}
