package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/comigor/huddle/internal/agent"
	"github.com/comigor/huddle/internal/api"
	"github.com/comigor/huddle/internal/config"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/idempotency"
	"github.com/comigor/huddle/internal/llm"
	"github.com/comigor/huddle/internal/logger"
	"github.com/comigor/huddle/internal/memory"
	"github.com/comigor/huddle/internal/recipes"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logger.L.Debug("no .env file loaded", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	messages := history.Open(cfg.History.DBPath)
	defer messages.Close()

	deps := agent.Deps{
		Messages: messages,
		Guard:    idempotency.New(cfg.Assistant.IdempotencyLimit),
		Cache:    memory.NewCache(cfg.Assistant.CacheTTL, cfg.Assistant.CacheLimit),
	}

	if cfg.LLM.Enabled() {
		deps.LLM = llm.NewClient(cfg.LLM)
		logger.L.Info("completion service enabled", "model", cfg.LLM.Model)
	} else {
		logger.L.Info("completion service not configured, using deterministic replies only")
	}

	recipeClient, err := recipes.Connect(ctx, cfg.Recipes)
	switch {
	case errors.Is(err, recipes.ErrDisabled):
		logger.L.Info("recipe lookup disabled")
	case err != nil:
		logger.L.Warn("recipe server unavailable, continuing without dinner ideas", "error", err)
	default:
		deps.Recipes = recipeClient
		defer func() {
			if cerr := recipeClient.Close(); cerr != nil {
				logger.L.Warn("recipe client close error", "error", cerr)
			}
		}()
	}

	router := api.NewRouter(agent.New(deps, *cfg), messages)

	// Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.L.Info("starting server", "address", srv.Addr)
	if err := runServer(ctx, srv); err != nil {
		logger.L.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
