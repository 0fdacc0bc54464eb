package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"courier.app/courier/common/id"
	"courier.app/courier/common/logger"
	"courier.app/courier/core/config"
	"courier.app/courier/internal/dispatch"
	courierhttp "courier.app/courier/internal/http"
	"courier.app/courier/internal/platform"
	"courier.app/courier/internal/provider"
	"courier.app/courier/internal/tools"
	"courier.app/courier/internal/trace"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Setup(cfg)
	slog.InfoContext(ctx, "courier starting", "env", cfg.Env, "provider", cfg.Agent.Provider)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	emitter, redisClient, err := setupEmitters(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up trace emitters", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	prov, err := setupProvider(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up provider", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "provider ready", "provider", prov.Name(), "model", prov.Model())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           courierhttp.NewRouter(prov),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
		}
	}()

	// Console connector: each stdin line is a direct message. EOF counts as
	// a shutdown request.
	console := platform.NewConsole(os.Stdin, os.Stdout)
	dispatcher := dispatch.New(dispatch.Config{
		Provider:  prov,
		Messenger: console,
		Emitter:   emitter,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := console.Run(ctx, dispatcher.Handle); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "console connector failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.InfoContext(ctx, "signal received, shutting down")
	case <-done:
		slog.InfoContext(ctx, "input closed, shutting down")
	}
	cancel()

	// Drain in-flight cycles before closing the trace sinks.
	dispatcher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "http server shutdown error", "error", err)
	}

	slog.InfoContext(ctx, "shutdown complete")
}

func setupEmitters(ctx context.Context, cfg config.Config) (trace.Emitter, *redis.Client, error) {
	emitters := trace.MultiEmitter{trace.NewStreamEmitter(os.Stdout)}

	if !cfg.Trace.RedisEnabled() {
		return emitters, nil, nil
	}

	opts, err := redis.ParseURL(cfg.Trace.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}
	slog.InfoContext(ctx, "trace redis sink connected", "stream", cfg.Trace.RedisStream)

	emitters = append(emitters, trace.NewRedisEmitter(client, cfg.Trace.RedisStream))
	return emitters, client, nil
}

func setupProvider(cfg config.Config) (provider.Provider, error) {
	var runner provider.ToolRunner
	if cfg.GitHub.Enabled() {
		gh, err := tools.NewGitHub(tools.GitHubConfig{
			Token:         cfg.GitHub.Token,
			BaseURL:       cfg.GitHub.BaseURL,
			DefaultOwner:  cfg.GitHub.DefaultOwner,
			DefaultRepo:   cfg.GitHub.DefaultRepo,
			DefaultBranch: cfg.GitHub.DefaultBranch,
		})
		if err != nil {
			return nil, err
		}
		executor := tools.NewExecutor(cfg.Agent.MaxAttempts, cfg.Agent.Backoff)
		gh.RegisterAll(executor)
		runner = executor
	}

	creds := cfg.Provider(cfg.Agent.Provider)
	return provider.New(provider.Config{
		Variant:       cfg.Agent.Provider,
		APIKey:        creds.APIKey,
		Model:         creds.Model,
		BaseURL:       creds.BaseURL,
		MaxAttempts:   cfg.Agent.MaxAttempts,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Backoff:       cfg.Agent.Backoff,
		CallTimeout:   cfg.Agent.CallTimeout,
		Tools:         runner,
	})
}
