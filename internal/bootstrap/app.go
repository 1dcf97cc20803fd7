package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"techdoc-backend/internal/llm"
	langchain "techdoc-backend/internal/llm/langchain"
	openai "techdoc-backend/internal/llm/openai"
	"techdoc-backend/internal/runs"
	"techdoc-backend/internal/services/health"
	"techdoc-backend/internal/shared/config"
	"techdoc-backend/internal/shared/server"
	"techdoc-backend/internal/shared/storage/db"
	"techdoc-backend/internal/shared/storage/object"
	localstore "techdoc-backend/internal/shared/storage/object/local"
	s3store "techdoc-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Store       object.ObjectStore
	RunsRepo    runs.Repo
	RunsService *runs.Service
	RunsHandler *runs.Handler
	Health      *health.Service
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:      app.Config,
		RunsHandler: app.RunsHandler,
		Health:      app.Health,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "langchain":
		client, err := langchain.NewClient(os.Getenv("OPENAI_API_KEY"), cfg.LLMModel, cfg.LLMBaseURL)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: langchain client unavailable; runs will fail until configured: %v", err)
				return llm.PlaceholderClient{}, nil
			}
			return nil, err
		}
		return client, nil
	case "placeholder":
		return llm.PlaceholderClient{}, nil
	default:
		client, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), cfg.LLMModel)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: openai client unavailable; runs will fail until configured: %v", err)
				return llm.PlaceholderClient{}, nil
			}
			return nil, err
		}
		return client, nil
	}
}

func buildServices(app *App) error {
	var repo runs.Repo
	if app.DB != nil {
		repo = &runs.PGRepo{DB: app.DB}
	} else {
		repo = runs.NewMemoryRepo()
	}

	llmClient, err := buildLLM(app.Config)
	if err != nil {
		return err
	}

	prompts, err := llm.LoadPack(app.Config.PromptsPath)
	if err != nil {
		return err
	}

	svc := &runs.Service{
		Repo:             repo,
		Store:            app.Store,
		LLM:              llmClient,
		Prompts:          prompts,
		Provider:         app.Config.LLMProvider,
		Model:            app.Config.LLMModel,
		GeneratorVersion: app.Config.GeneratorVersion,
		WorkerTimeout:    app.Config.WorkerTimeout,
		WorkerStagger:    app.Config.WorkerStagger,
	}

	handler := runs.NewHandler(svc)
	handler.Heartbeat = app.Config.StreamHeartbeat
	handler.MaxStreamAge = app.Config.StreamMaxAge

	app.RunsRepo = repo
	app.RunsService = svc
	app.RunsHandler = handler
	app.Health = health.NewService(app.Config.Env, app.Config.LLMProvider, app.Config.ObjectStoreType, app.Config.GeneratorVersion, app.DB)

	// Runs stranded in queued/processing by a previous crash would otherwise
	// sit there forever.
	if n, err := svc.ResetStuck(context.Background(), 0); err != nil {
		log.Printf("bootstrap: reset stuck runs failed: %v", err)
	} else if n > 0 {
		log.Printf("bootstrap: marked %d stuck runs failed", n)
	}

	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
