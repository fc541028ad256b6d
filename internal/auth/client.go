// Package auth talks to the external authentication service.
//
// The service is a black box reached over HTTP; this client only forwards
// cookies and interprets the session payload. Quill never stores
// credentials or session state itself.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized indicates the auth service rejected the credentials.
var ErrUnauthorized = errors.New("unauthorized")

// defaultHTTPTimeout bounds a single auth service round trip.
const defaultHTTPTimeout = 10 * time.Second

// User is the authenticated principal as reported by the auth service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session is an active auth session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Client is a lightweight client for the auth service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an auth client for the given base URL.
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("auth base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid auth base URL: %w", err)
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}, nil
}

// sessionResponse is the auth service's session envelope.
type sessionResponse struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// Session resolves the session for a request's Cookie header.
// A missing or expired session returns (nil, nil); errors are reserved
// for transport and protocol failures.
func (c *Client) Session(ctx context.Context, cookieHeader string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/get-session", nil)
	if err != nil {
		return nil, fmt.Errorf("creating session request: %w", err)
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading auth response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("auth service error (status %d): %s", resp.StatusCode, string(body))
	}

	// The service returns "null" (or an empty envelope) for anonymous requests.
	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("parsing session response: %w", err)
	}
	if sr.Session == nil {
		return nil, nil
	}
	if sr.User != nil {
		sr.Session.User = *sr.User
	}
	if !sr.Session.ExpiresAt.IsZero() && sr.Session.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return sr.Session, nil
}

// SignIn exchanges email/password for a session. The returned string is
// the Set-Cookie header value to forward to the browser.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshaling sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/sign-in/email", bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("creating sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading sign-in response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, "", ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, "", fmt.Errorf("auth service error (status %d): %s", resp.StatusCode, string(body))
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, "", fmt.Errorf("parsing sign-in response: %w", err)
	}
	session := sr.Session
	if session == nil {
		session = &Session{}
	}
	if sr.User != nil {
		session.User = *sr.User
	}

	c.logger.Info("sign-in succeeded", "user_id", session.User.ID)
	return session, resp.Header.Get("Set-Cookie"), nil
}

// SignOut invalidates the session identified by the Cookie header.
func (c *Client) SignOut(ctx context.Context, cookieHeader string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/sign-out", nil)
	if err != nil {
		return fmt.Errorf("creating sign-out request: %w", err)
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("auth service error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}
