package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/api/handlers"
	"github.com/plantsage/backend/internal/cache"
	cachemem "github.com/plantsage/backend/internal/cache/memory"
	"github.com/plantsage/backend/internal/cache/redis"
	"github.com/plantsage/backend/internal/chunker"
	"github.com/plantsage/backend/internal/embedding"
	"github.com/plantsage/backend/internal/feedback"
	"github.com/plantsage/backend/internal/ingestion"
	"github.com/plantsage/backend/internal/llm"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/middleware/ratelimit"
	"github.com/plantsage/backend/internal/middleware/reqctx"
	"github.com/plantsage/backend/internal/middleware/security"
	"github.com/plantsage/backend/internal/middleware/validation"
	"github.com/plantsage/backend/internal/query"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/storage/sqlite"
	"github.com/plantsage/backend/internal/synthesis"
	"github.com/plantsage/backend/internal/vector"
	vectormem "github.com/plantsage/backend/internal/vector/memory"
	"github.com/plantsage/backend/internal/vector/milvus"
	"github.com/plantsage/backend/internal/vector/pgvector"
	"github.com/plantsage/backend/pkg/config"
	appLogger "github.com/plantsage/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting PlantSage API Server")
	metrics.Init()

	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	index, err := openVectorIndex(ctx, cfg.Vector)
	if err != nil {
		appLogger.Fatal("Failed to open vector index", zap.Error(err))
	}
	defer index.Close()

	readiness := map[string]handlers.Pinger{"sqlite": sqliteClient}

	store, closeCache, err := openCache(ctx, cfg.Redis)
	if err != nil {
		appLogger.Fatal("Failed to create cache", zap.Error(err))
	}
	defer closeCache.Close()
	if p, ok := store.(handlers.Pinger); ok {
		readiness["redis"] = p
	}

	llmTimeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second
	rawEmbedder, err := llm.NewEmbedder(ctx, cfg.Embedding, cfg.Vector.Dimension, llmTimeout)
	if err != nil {
		appLogger.Fatal("Failed to create embedding client", zap.Error(err))
	}
	embedder := embedding.NewCached(rawEmbedder, store, cfg.Embedding.Provider+"/"+cfg.Embedding.Model,
		time.Duration(cfg.Cache.EmbeddingTTLSec)*time.Second)

	completer, err := llm.NewCompleter(ctx, cfg.LLM)
	if err != nil {
		appLogger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	retriever := retrieval.NewRetriever(embedder, index, retrieval.Config{
		DocumentTopK:      cfg.Retrieval.DocumentTopK,
		TagTopK:           cfg.Retrieval.TagTopK,
		MaxTagsConsidered: cfg.Retrieval.MaxTagsConsidered,
		Policy:            retrieval.ScopingPolicy(cfg.Retrieval.ScopingPolicy),
	})
	synthesizer := synthesis.New(completer)

	queryEngine := query.NewEngine(retriever, synthesizer,
		query.WithHistoryStore(sqliteClient),
		query.WithCache(store, time.Duration(cfg.Cache.QueryTTLSec)*time.Second),
		query.WithMemory(query.NewMemory(0)),
	)

	processor := ingestion.NewProcessor(sqliteClient, index, embedder,
		chunker.New(chunker.WithWordsPerChunk(cfg.Chunker.WordsPerChunk)))

	feedbackLog, err := feedback.OpenJSONL(cfg.Feedback.LogPath, cfg.Feedback.Fsync)
	if err != nil {
		appLogger.Fatal("Failed to open feedback log", zap.Error(err))
	}
	defer feedbackLog.Close()
	feedbackLoop := feedback.NewLoop(feedbackLog, index)
	feedbackLoop.OnDemoted = queryEngine.InvalidateCache

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(reqctx.New(reqctx.Config{
		Base:    serveCtx,
		Timeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins(cfg.Server.AllowedOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	queryHandler := handlers.NewQueryHandler(queryEngine, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackLoop, cfg.Feedback.LogPath)
	healthHandler := handlers.NewHealthHandler(readiness)
	wsHandler := handlers.NewWebSocketHandler(queryEngine)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			Logger:            appLogger.Named("ratelimit"),
		})
		defer limiter.Stop()
		api.Use(limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.Named("validation"),
	}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Post("/timeseries", documentHandler.UploadTimeSeries)
	api.Post("/annotations", documentHandler.CreateAnnotation)
	api.Post("/rules", documentHandler.CreateRule)

	api.Post("/feedback", feedbackHandler.SubmitFeedback)
	api.Get("/feedback/report", feedbackHandler.GetReport)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopServing()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func openVectorIndex(ctx context.Context, cfg config.VectorConfig) (vector.Index, error) {
	switch cfg.Backend {
	case "milvus":
		idx, err := milvus.New(ctx, milvus.Config{
			Address:    cfg.Milvus.Address,
			APIKey:     cfg.Milvus.APIKey,
			Collection: cfg.Milvus.Collection,
			Dimension:  cfg.Dimension,
			NProbe:     cfg.Milvus.NProbe,
		})
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureCollection(ctx); err != nil {
			idx.Close()
			return nil, err
		}
		return idx, nil
	case "pgvector":
		idx, err := pgvector.New(ctx, pgvector.Config{
			DSN:       cfg.PGVector.DSN,
			Table:     cfg.PGVector.Table,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureSchema(ctx); err != nil {
			idx.Close()
			return nil, err
		}
		return idx, nil
	case "memory":
		appLogger.Warn("Using in-memory vector index; evidence is lost on restart")
		return vectormem.New(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend %q", cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openCache returns redis when enabled, else an in-process cache.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, io.Closer, error) {
	if !cfg.Enabled {
		return cachemem.New(10*time.Minute, 5*time.Minute), nopCloser{}, nil
	}
	c, err := redis.NewClient(ctx, cfg.Host, cfg.Port, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

func allowOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ", ")
}
