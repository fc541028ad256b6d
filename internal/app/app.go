// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles all components: the PostgreSQL pool,
// Genkit with the OpenRouter model, the conversation store, the completion
// relay, the auth client, and the HTTP API server. Setup builds them in
// dependency order and Close releases them.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillchat/quill/internal/api"
	"github.com/quillchat/quill/internal/auth"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/conversation"
	"github.com/quillchat/quill/internal/relay"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit *genkit.Genkit
	DBPool *pgxpool.Pool
	Store  *conversation.Store
	Relay  *relay.Relay
	Auth   *auth.Client
	Server *api.Server
}

// Close releases all resources. Safe to call on a partially
// initialized App (Setup calls it on failure paths).
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}

	return nil
}
