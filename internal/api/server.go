package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuthClient combines the two slices of the auth client the server uses.
type AuthClient interface {
	SessionResolver
	AuthProxy
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Store       ConversationStore // Required
	Completer   Completer         // Required
	Auth        AuthClient        // Required
	Pool        *pgxpool.Pool     // Optional: nil disables pool stats in /ready
	CORSOrigins []string          // Allowed origins for CORS
	IsDev       bool              // Disables HSTS (HTTP-only development)
	TrustProxy  bool              // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int               // Rate limiter burst size per IP (0 = default 20)
}

// Server is the JSON/SSE API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("auth client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &authHandler{client: cfg.Auth, logger: logger}
	convh := &conversationHandler{store: cfg.Store, logger: logger}
	ch := &chatHandler{store: cfg.Store, completer: cfg.Completer, logger: logger}

	mux := http.NewServeMux()

	// Auth proxy (exempt from the session guard)
	mux.HandleFunc("POST /api/v1/auth/sign-in", ah.signIn)
	mux.HandleFunc("POST /api/v1/auth/sign-out", ah.signOut)

	// Conversation CRUD
	mux.HandleFunc("GET /api/v1/conversations", convh.list)
	mux.HandleFunc("POST /api/v1/conversations", convh.create)
	mux.HandleFunc("GET /api/v1/conversations/{id}", convh.get)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", convh.messages)

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.completion)
	mux.HandleFunc("POST /api/v1/conversations/{id}/chat", ch.converse)
	mux.HandleFunc("POST /api/v1/conversations/{id}/title", ch.generateTitle)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → SessionGuard → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = sessionGuardMiddleware(cfg.Auth, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux separates health probes from the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
