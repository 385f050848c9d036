// Package app wires configuration into a running onboarding service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/brand-onboarding/internal/assistant"
	"github.com/ashureev/brand-onboarding/internal/config"
	"github.com/ashureev/brand-onboarding/internal/onboarding"
	"github.com/ashureev/brand-onboarding/internal/session"
	"github.com/ashureev/brand-onboarding/internal/store"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

// openStore is replaced in tests.
var openStore = store.Open

// App holds the long-lived dependencies shared by the server and the CLI.
type App struct {
	Config     *config.Config
	Repo       *store.SQLStore
	Assistant  assistant.Provider
	Transcript transcript.Logger
	Sessions   *session.Store
	Service    *onboarding.Service
	logger     *slog.Logger
}

// Build opens the store, connects the assistant and starts the transcript
// logger. Anything opened before a failure is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	built := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = built.Close()
		}
	}()

	if err := cfg.PrepareStorage(); err != nil {
		return nil, err
	}

	built.Repo, err = openStore(cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open brand store: %w", err)
	}
	if err := built.Repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "dialect", built.Repo.Dialect())

	built.Assistant, err = assistant.New(ctx, cfg.AssistantOptions())
	if err != nil {
		return nil, fmt.Errorf("init assistant: %w", err)
	}
	logger.Info("Assistant ready", "provider", built.Assistant.Name(), "model", cfg.Assistant.Model)

	built.Transcript, err = transcript.New(cfg.TranscriptOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("init transcript logger: %w", err)
	}

	built.Sessions = session.NewStore()
	built.Service = onboarding.NewService(built.Sessions, built.Assistant, built.Repo,
		onboarding.WithLogger(logger),
		onboarding.WithTranscript(built.Transcript),
	)
	return built, nil
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Transcript != nil {
		if err := a.Transcript.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transcript: %w", err))
		}
	}
	if a.Assistant != nil {
		if err := a.Assistant.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close assistant: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	return errors.Join(errs...)
}
