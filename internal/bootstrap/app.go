package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"bookforge-backend/internal/assemble"
	"bookforge-backend/internal/books"
	"bookforge-backend/internal/events"
	"bookforge-backend/internal/generation"
	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/llm"
	"bookforge-backend/internal/llm/gemini"
	"bookforge-backend/internal/llm/openai"
	"bookforge-backend/internal/llm/openrouter"
	"bookforge-backend/internal/orchestrator"
	"bookforge-backend/internal/pipeline"
	"bookforge-backend/internal/progresscache"
	"bookforge-backend/internal/scheduler"
	"bookforge-backend/internal/shared/config"
	"bookforge-backend/internal/shared/storage/db"
	"bookforge-backend/internal/shared/storage/object"
	localstore "bookforge-backend/internal/shared/storage/object/local"
	s3store "bookforge-backend/internal/shared/storage/object/s3"
	"bookforge-backend/internal/shared/telemetry"
)

// App holds the wired application dependencies shared by the API server and
// the worker.
type App struct {
	Config config.Config

	DB        *sql.DB
	Jobs      jobs.Repo
	Books     books.Repo
	Cache     *progresscache.Cache
	Publisher events.Publisher

	Gateway   *llm.Gateway
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	Orch      *orchestrator.Orchestrator
	Handler   *generation.Handler
}

// Build wires repositories, the provider gateway, the pipeline, the scheduler
// and the orchestrator from configuration. A missing or unreachable database
// falls back to in-memory repositories so local development works without
// Postgres.
func Build(ctx context.Context, cfg config.Config, dbOpts db.Options) (*App, error) {
	app := &App{Config: cfg}

	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(dbOpts))
		if err != nil {
			if cfg.Env == "production" {
				return nil, fmt.Errorf("connect database: %w", err)
			}
			telemetry.Warn("bootstrap.db_fallback", map[string]any{"error": err.Error()})
		} else if err := db.RunMigrations(ctx, conn); err != nil {
			if cfg.Env == "production" {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			telemetry.Warn("bootstrap.migrate_fallback", map[string]any{"error": err.Error()})
			conn.Close()
		} else {
			app.DB = conn
		}
	}

	if app.DB != nil {
		app.Jobs = &jobs.PGRepo{DB: app.DB}
		app.Books = &books.PGRepo{DB: app.DB}
	} else {
		app.Jobs = jobs.NewMemoryRepo()
		app.Books = books.NewMemoryRepo()
	}

	store, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.Publisher = buildPublisher(cfg)
	app.Cache = progresscache.New(cfg.ProgressCacheTTL)

	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	app.Gateway, err = llm.NewGateway(providers,
		llm.WithMaxRetries(cfg.MaxRetriesPerProvider),
		llm.WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	app.Pipeline = pipeline.New(pipeline.Options{
		Repo:         app.Jobs,
		Books:        app.Books,
		Generator:    app.Gateway,
		Assembler:    assemble.New(store),
		Publisher:    app.Publisher,
		Cache:        app.Cache,
		StageRetries: cfg.StageRetryLimit,
	})
	app.Scheduler = scheduler.New(app.Jobs, app.Pipeline, cfg.MaxConcurrentJobs, cfg.JobPollInterval)
	app.Orch = orchestrator.New(app.Jobs, app.Books, app.Cache, app.Scheduler)
	app.Handler = generation.NewHandler(app.Orch)

	telemetry.Info("bootstrap.ready", map[string]any{
		"db":        app.DB != nil,
		"store":     cfg.ObjectStoreType,
		"providers": app.Gateway.Providers(),
		"workers":   cfg.MaxConcurrentJobs,
	})
	return app, nil
}

// Close releases held connections.
func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			telemetry.Warn("bootstrap.db_close", map[string]any{"error": err.Error()})
		}
	}
}

func buildObjectStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	if cfg.ObjectStoreType == "s3" {
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("build s3 store: %w", err)
		}
		return store, nil
	}
	return localstore.New(cfg.LocalStoreDir), nil
}

func buildPublisher(cfg config.Config) events.Publisher {
	if cfg.NATSURL == "" {
		return events.LogPublisher{}
	}
	publisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		telemetry.Warn("bootstrap.nats_fallback", map[string]any{"error": err.Error()})
		return events.LogPublisher{}
	}
	return publisher
}

func buildProviders(cfg config.Config) ([]llm.Provider, error) {
	var providers []llm.Provider
	for _, name := range cfg.ProviderOrder {
		switch name {
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				continue
			}
			client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, "", cfg.ProviderTimeout)
			if err != nil {
				return nil, fmt.Errorf("build openai client: %w", err)
			}
			providers = append(providers, client)
		case "openrouter":
			if cfg.OpenRouterAPIKey == "" {
				continue
			}
			client, err := openrouter.NewClient(openrouter.Config{
				APIKey:  cfg.OpenRouterAPIKey,
				Model:   cfg.OpenRouterModel,
				BaseURL: cfg.OpenRouterBaseURL,
				Timeout: cfg.ProviderTimeout,
			})
			if err != nil {
				return nil, fmt.Errorf("build openrouter client: %w", err)
			}
			providers = append(providers, client)
		case "gemini":
			if cfg.GeminiAPIKey == "" {
				continue
			}
			client, err := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.ProviderTimeout)
			if err != nil {
				return nil, fmt.Errorf("build gemini client: %w", err)
			}
			providers = append(providers, client)
		default:
			telemetry.Warn("bootstrap.unknown_provider", map[string]any{"provider": name})
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured, set at least one of OPENAI_API_KEY, OPENROUTER_API_KEY, GEMINI_API_KEY")
	}
	return providers, nil
}
