// Brand onboarding API server.
package main

import (
	"context"
	"errors"
	"fmt"
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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/brand-onboarding/internal/api"
	"github.com/ashureev/brand-onboarding/internal/app"
	"github.com/ashureev/brand-onboarding/internal/config"
	"github.com/ashureev/brand-onboarding/internal/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Assistant.Provider)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close application", "error", closeErr)
		}
	}()

	h := api.NewHandler(a.Service, a.Repo, api.Options{
		Logger:         logger,
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	h.RegisterRoutes(r)

	// No WriteTimeout: turns wait on the assistant and sockets stay open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	healthSrv := health.NewServer()
	var grpcSrv *grpc.Server
	if cfg.GRPCHealthPort != "" {
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		g.Go(func() error {
			lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
			if err != nil {
				return err
			}
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			return grpcSrv.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...", "sessions", a.Sessions.Len())
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
