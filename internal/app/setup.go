package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openai/openai-go/option"

	"github.com/quillchat/quill/db"
	"github.com/quillchat/quill/internal/api"
	"github.com/quillchat/quill/internal/auth"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/conversation"
	"github.com/quillchat/quill/internal/relay"
)

// openRouterBaseURL is the OpenAI-compatible endpoint OpenRouter exposes.
// Model names stay in OpenRouter form ("x-ai/grok-4-fast:free"); the plugin
// prefixes its provider name when registering them with Genkit.
const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Setup creates and initializes the application.
// Returns an App with all components wired; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, modelName, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Store = conversation.NewStore(pool, logger.With("component", "store"))

	a.Relay, err = relay.New(relay.Config{
		Genkit:      g,
		Logger:      logger.With("component", "relay"),
		ModelName:   modelName,
		Window:      config.NormalizeHistoryWindow(cfg.HistoryWindow),
		Timeout:     cfg.StreamTimeout(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating relay: %w", err)
	}

	a.Auth, err = auth.NewClient(cfg.AuthBaseURL, logger.With("component", "auth"))
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}

	a.Server, err = api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Store:       a.Store,
		Completer:   a.Relay,
		Auth:        a.Auth,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		IsDev:       cfg.Dev,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	return a, nil
}

// provideGenkit initializes Genkit with the OpenAI-compatible plugin pointed
// at OpenRouter and registers the configured model. Returns the Genkit
// instance and the fully qualified model name for the relay.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, string, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, "", errors.New("OPENROUTER_API_KEY environment variable is required")
	}

	plugin := &openai.OpenAI{
		APIKey: apiKey,
		Opts:   []option.RequestOption{option.WithBaseURL(openRouterBaseURL)},
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugin))
	if g == nil {
		return nil, "", errors.New("initializing genkit with openrouter provider")
	}

	// OpenRouter serves arbitrary upstream models, so the configured model
	// is never in the plugin's known-model list and needs explicit registration.
	model := plugin.DefineModel(cfg.ModelName, ai.ModelOptions{
		Label: cfg.ModelName,
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	})

	slog.Info("initialized Genkit with openrouter provider", "model", cfg.ModelName)
	return g, model.Name(), nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
