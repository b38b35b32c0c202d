// Agora - multi-agent personality chat and market data server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/agora-labs/internal/api"
	"github.com/ashureev/agora-labs/internal/chat"
	"github.com/ashureev/agora-labs/internal/config"
	"github.com/ashureev/agora-labs/internal/generator"
	"github.com/ashureev/agora-labs/internal/identity"
	"github.com/ashureev/agora-labs/internal/market"
	"github.com/ashureev/agora-labs/internal/metrics"
	"github.com/ashureev/agora-labs/internal/middleware"
	"github.com/ashureev/agora-labs/internal/profile"
	"github.com/ashureev/agora-labs/internal/store"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	profiles := profile.NewStore(repo)
	loaded, err := profiles.Hydrate(ctx)
	if err != nil {
		slog.Error("Failed to load profiles", "error", err)
		os.Exit(1)
	}
	slog.Info("Profiles loaded", "count", loaded)

	if cfg.ProfilesPath != "" {
		seeded, err := profiles.LoadSeedFile(ctx, cfg.ProfilesPath)
		if err != nil {
			slog.Error("Failed to seed profiles", "path", cfg.ProfilesPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Profiles seeded", "path", cfg.ProfilesPath, "count", seeded)
	}

	gen, err := generator.New(cfg.Generator)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err)
		os.Exit(1)
	}
	slog.Info("Generator initialized", "backend", cfg.Generator.Backend)

	orch := chat.New(gen, chat.Options{
		Repository:               repo,
		SessionTTL:               cfg.Chat.SessionTTL,
		MaxSessions:              cfg.Chat.MaxSessions,
		MaxConcurrentGenerations: cfg.Chat.MaxConcurrentGenerations,
		GenerationTimeout:        cfg.Chat.GenerationTimeout,
	})

	healthChecks := map[string]api.Pinger{"database": repo}

	var cache market.Cache
	//nolint:nestif // Optional cache wiring stays inline with the rest of startup.
	if cfg.Market.RedisAddr != "" {
		redisCache := market.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.Market.RedisAddr}))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("Redis unreachable, market cache disabled", "addr", cfg.Market.RedisAddr, "error", err)
			_ = redisCache.Close()
		} else {
			defer func() {
				if closeErr := redisCache.Close(); closeErr != nil {
					slog.Debug("Failed to close redis client", "error", closeErr)
				}
			}()
			cache = redisCache
			healthChecks["redis"] = redisCache
			slog.Info("Market cache enabled", "addr", cfg.Market.RedisAddr, "ttl", cfg.Market.CacheTTL)
		}
	}

	marketClient := market.NewClient(market.Options{
		BaseURL:           cfg.Market.BaseURL,
		APIKey:            cfg.Market.APIKey,
		RequestsPerMinute: cfg.Market.RequestsPerMinute,
		Timeout:           cfg.Market.Timeout,
		Cache:             cache,
		CacheTTL:          cfg.Market.CacheTTL,
	})

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(profiles, orch, marketClient, cfg.AllowedOrigins, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(healthChecks, 5*time.Second)
	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	healthHandler.RegisterHealth(r)

	// API routes carry an anonymous client identity for rate limiting.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Use(middleware.RateLimit(limiter))
		apiHandler.RegisterRoutes(r)
	})

	// Create server.
	// WriteTimeout stays 0 so websocket chats are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// gRPC health service.
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health server listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC server failed", "error", err)
		}
	}()

	// Start session sweeper.
	chat.StartSweeper(ctx, orch, cfg.Chat.SweepInterval, nil)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	slog.Info("Server stopped successfully")
}
