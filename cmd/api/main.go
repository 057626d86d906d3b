// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helpdeskhq/response-engine/internal/config"
	"github.com/helpdeskhq/response-engine/internal/engine"
	"github.com/helpdeskhq/response-engine/internal/handler"
	"github.com/helpdeskhq/response-engine/internal/jobs"
	"github.com/helpdeskhq/response-engine/internal/llm"
	"github.com/helpdeskhq/response-engine/internal/middleware"
	natsclient "github.com/helpdeskhq/response-engine/internal/nats"
	"github.com/helpdeskhq/response-engine/internal/prompt"
	"github.com/helpdeskhq/response-engine/internal/retrieval"
	"github.com/helpdeskhq/response-engine/internal/store"
	"github.com/helpdeskhq/response-engine/internal/tools"
	"github.com/helpdeskhq/response-engine/internal/usage"
	"github.com/helpdeskhq/response-engine/pkg/logger"
	"github.com/helpdeskhq/response-engine/pkg/tracing"
)

const (
	responseCacheBucket  = "response-cache"
	responseCacheTTL     = 24 * time.Hour
	embeddingCacheBucket = "embedding-cache"
	embeddingCacheTTL    = 30 * 24 * time.Hour
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Infow("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "response-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Postgres
	st, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Errorw("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Errorw("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	// Job stream and cache buckets
	dispatcher := jobs.NewNATSDispatcher(natsClient, log)
	if err := dispatcher.EnsureStream(ctx); err != nil {
		log.Errorw("failed to ensure jobs stream", "error", err)
		os.Exit(1)
	}
	responseKV, err := natsClient.OpenKeyValue(ctx, responseCacheBucket, responseCacheTTL)
	if err != nil {
		log.Errorw("failed to open response cache bucket", "error", err)
		os.Exit(1)
	}
	embeddingKV, err := natsClient.OpenKeyValue(ctx, embeddingCacheBucket, embeddingCacheTTL)
	if err != nil {
		log.Errorw("failed to open embedding cache bucket", "error", err)
		os.Exit(1)
	}

	// LLM clients
	if cfg.OpenAIAPIKey == "" {
		log.Errorw("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	completionClient, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		log.Errorw("failed to create OpenAI client", "error", err)
		os.Exit(1)
	}
	embedder, err := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey)
	if err != nil {
		log.Errorw("failed to create embedding client", "error", err)
		os.Exit(1)
	}
	var reasoningClient llm.Client
	if cfg.FireworksAPIKey != "" {
		reasoningClient, err = llm.NewFireworksClient(cfg.FireworksAPIKey)
		if err != nil {
			log.Warnw("failed to create Fireworks client, reasoning disabled", "error", err)
			reasoningClient = nil
		}
	}
	summaryClient, summaryModel, err := llm.NewSummaryClient(cfg.DefaultLLM, cfg.OpenAIAPIKey, cfg.AnthropicAPIKey)
	if err != nil {
		log.Errorw("failed to create summary client", "provider", cfg.DefaultLLM, "error", err)
		os.Exit(1)
	}

	// Orchestration wiring
	cachedEmbedder := retrieval.NewCachedEmbedder(embedder, embeddingKV, log)
	aggregator := retrieval.NewAggregator(st, cachedEmbedder, log)
	promptBuilder := prompt.NewBuilder(aggregator)
	toolExecutor := tools.NewExecutor(st, log)
	toolBuilder := tools.NewBuilder(st, aggregator, tools.NewMetadataClient(), toolExecutor, dispatcher, log)
	tracker := usage.NewTracker(st, log)
	responseCache := engine.NewResponseCache(responseKV, log)

	eng := engine.New(st, completionClient, reasoningClient, summaryClient, promptBuilder, toolBuilder, tracker, responseCache, dispatcher, engine.Options{
		ReasoningEnabled:     cfg.ReasoningEnabled,
		CompletionTimeout:    cfg.CompletionTimeout,
		CheckResolutionDelay: cfg.CheckResolutionDelay(),
		SummaryModel:         summaryModel,
	}, log)

	// Handlers
	healthHandler := handler.NewHealthHandler(natsClient, st)
	chatHandler := handler.NewChatHandler(st, eng, dispatcher, log)
	conversationHandler := handler.NewConversationHandler(st, eng, log)
	messageHandler := handler.NewMessageHandler(st, eng, log)

	// Router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)
		r.Options("/chat", chatHandler.Chat)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)

			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/messages", messageHandler.List)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireStaff())
					r.Patch("/", conversationHandler.Update)
					r.Post("/draft", messageHandler.GenerateDraft)
				})
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Infow("server stopped")
}
