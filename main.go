package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/config"
	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/embeddings"
	"github.com/parkwise-ai/facts-engine/pkg/fetch"
	"github.com/parkwise-ai/facts-engine/pkg/handlers"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
	"github.com/parkwise-ai/facts-engine/pkg/services"
	"github.com/parkwise-ai/facts-engine/pkg/vector"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.String("qdrant", cfg.Qdrant.Host))

	ctx := context.Background()

	// Database pool and migrations
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	// Collaborators
	embedder, err := embeddings.New(&embeddings.Config{
		Provider:   cfg.Embeddings.Provider,
		VectorSize: cfg.Embeddings.VectorSize,
		BaseURL:    cfg.Embeddings.BaseURL,
		Model:      cfg.Embeddings.Model,
		APIKey:     cfg.Embeddings.APIKey,
	})
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}

	store, err := vector.NewQdrantStore(&vector.QdrantConfig{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Qdrant", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	fetcher := fetch.NewFetcher(time.Duration(cfg.Indexer.FetchTimeoutSeconds) * time.Second)
	chunker := services.NewChunker(cfg.Indexer.ChunkSizeChars, cfg.Indexer.ChunkOverlapChars)

	// Repositories
	tenantRepo := repositories.NewTenantRepository()
	versionRepo := repositories.NewFactsVersionRepository()
	changeLogRepo := repositories.NewChangeLogRepository()
	sourceRepo := repositories.NewKBSourceRepository()
	jobRepo := repositories.NewIndexJobRepository()
	indexRepo := repositories.NewKBIndexRepository()
	eventRepo := repositories.NewEventLogRepository()

	// Services
	factsService := services.NewFactsService(versionRepo, changeLogRepo, logger)
	sourceService := services.NewSourceService(sourceRepo, logger)
	indexerService := services.NewIndexerService(
		db, jobRepo, indexRepo, sourceRepo, fetcher, embedder, store, chunker, logger)

	// HTTP routes
	mux := http.NewServeMux()
	tenantMiddleware := handlers.NewTenantMiddleware(db, tenantRepo, logger)

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewTenantsHandler(db, tenantRepo, logger).RegisterRoutes(mux)
	handlers.NewFactsHandler(factsService, logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewSourcesHandler(sourceService, logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewIndexerHandler(indexerService, logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewEventsHandler(eventRepo, logger).RegisterRoutes(mux, tenantMiddleware)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting facts-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
