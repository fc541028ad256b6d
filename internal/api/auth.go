package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quillchat/quill/internal/auth"
)

// AuthProxy is the slice of the auth client the proxy handlers need.
// Satisfied by *auth.Client.
type AuthProxy interface {
	SignIn(ctx context.Context, email, password string) (*auth.Session, string, error)
	SignOut(ctx context.Context, cookieHeader string) error
}

// authHandler proxies sign-in/sign-out to the external auth service so
// the browser only ever talks to this origin.
type authHandler struct {
	client AuthProxy
	logger *slog.Logger
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signIn handles POST /api/v1/auth/sign-in.
func (h *authHandler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "email and password are required", h.logger)
		return
	}

	sess, setCookie, err := h.client.SignIn(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", h.logger)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "auth_unavailable", "authentication service unavailable", h.logger)
		return
	}

	if setCookie != "" {
		w.Header().Set("Set-Cookie", setCookie)
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": sess.User})
}

// signOut handles POST /api/v1/auth/sign-out.
func (h *authHandler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.client.SignOut(r.Context(), r.Header.Get("Cookie")); err != nil {
		writeError(w, http.StatusBadGateway, "auth_unavailable", "authentication service unavailable", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
