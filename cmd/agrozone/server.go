package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kassym/agrozone/internal/api"
	"github.com/kassym/agrozone/internal/chat"
	"github.com/kassym/agrozone/internal/config"
	"github.com/kassym/agrozone/internal/genai"
	"github.com/kassym/agrozone/internal/jobs"
	"github.com/kassym/agrozone/internal/modelserver"
	"github.com/kassym/agrozone/internal/pipeline"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/suitability"
	"github.com/kassym/agrozone/internal/weather"
)

// sweepInterval is how often an idle-thread sweep job is queued.
const sweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agrozone server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// app is the fully wired service graph shared by serve and mcp.
type app struct {
	cfg     config.Config
	store   *storage.Store
	pipe    *pipeline.Pipeline
	chat    *chat.Service
	threads *chat.ThreadStore
	weather *weather.Cache
	worker  *jobs.Worker
}

func buildApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Database.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	model := modelserver.New(cfg.Model.BaseURL)
	pipe := pipeline.New(store, suitability.NewModelContext(model, model), cfg.Model.TopK, nil)

	threads := chat.NewThreadStore(cfg.Chat.MaxMessages, nil)
	chatSvc := chat.NewService(
		threads,
		chat.NewBuilder(nil),
		chat.NewRouter(),
		chat.KeywordTopicClassifier{},
		genai.New(cfg.GenAI.BaseURL, cfg.GenAI.APIKey),
		store,
		cfg.GenAI.Timeout,
	)

	cache := weather.NewCache(weather.New(weather.Config{
		WeatherAPIKey: cfg.External.WeatherAPIKey,
		NewsAPIKey:    cfg.External.NewsAPIKey,
	}), 0)

	worker := jobs.NewWorker(store, pipe, cache, threads, cfg.Chat.ThreadTTL, 500*time.Millisecond)

	return &app{
		cfg:     cfg,
		store:   store,
		pipe:    pipe,
		chat:    chatSvc,
		threads: threads,
		weather: cache,
		worker:  worker,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "agrozone version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewAppHandler(api.AppDeps{
		Store:     a.store,
		Pipeline:  a.pipe,
		Chat:      a.chat,
		Weather:   a.weather,
		JWTSecret: cfg.Auth.JWTSecret,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go a.worker.Run(ctx)

	// Queue periodic idle-thread sweeps.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.store.EnqueueJob(jobs.NewSweepJob()); err != nil {
					slog.Error("queueing thread sweep failed", "error", err)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "agrozone listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr; stdout carries the MCP protocol.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	go a.worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   a.store,
		Chat:    a.chat,
		Weather: a.weather,
	})

	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
