// Package main provides the taskforge binary entry point.
// TaskForge decomposes natural-language goals into task plans, executes
// them against remote tools and LLM skills, and gates uncertain results
// behind human review.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	natsserver "github.com/nats-io/nats-server/v2/server"

	// Register LLM providers via init()
	_ "github.com/taskforge-ai/taskforge/llm/providers"

	"github.com/taskforge-ai/taskforge/api"
	"github.com/taskforge-ai/taskforge/config"
	"github.com/taskforge-ai/taskforge/judge"
	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/orchestrator"
	"github.com/taskforge-ai/taskforge/planner"
	"github.com/taskforge-ai/taskforge/store"
	"github.com/taskforge-ai/taskforge/tool"
	"github.com/taskforge-ai/taskforge/trace"
	"github.com/taskforge-ai/taskforge/worker"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "taskforge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "taskforge",
		Short: "Agent workflow orchestrator",
		Long: `TaskForge is an agent workflow orchestrator.

It accepts a natural-language goal, plans it into a dependency-ordered
task list with an LLM, executes the tasks against remote tools and
local skills, scores every result, and routes borderline outcomes to
human review before a session can complete.

Session state lives in NATS JetStream key-value buckets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("TaskForge starting", "version", Version)

	ctx := context.Background()

	// NATS: embedded server or external connection.
	natsURL := cfg.NATS.URL
	var embedded *natsserver.Server
	if cfg.NATS.Embedded && natsURL == "" {
		embedded, natsURL, err = startEmbeddedNATS(logger)
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		defer embedded.Shutdown()
	}

	nc, err := connectNATS(natsURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	// Storage and tracing.
	st, err := store.New(ctx, js, store.Config{
		SessionTTL: cfg.Store.SessionTTL,
		ReviewTTL:  cfg.Store.ReviewTTL,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	sink, err := trace.NewKVSink(ctx, js, 0)
	if err != nil {
		return fmt.Errorf("create trace sink: %w", err)
	}

	// LLM client with fallback chain.
	chain := make([]llm.Endpoint, 0, len(cfg.LLM.Endpoints))
	for _, ep := range cfg.LLM.Endpoints {
		chain = append(chain, llm.Endpoint{
			Provider: ep.Provider,
			BaseURL:  ep.BaseURL,
			Model:    ep.Model,
			APIKey:   ep.APIKey(),
		})
	}
	llmClient, err := llm.NewClient(chain,
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
		llm.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	// Remote tool registry.
	registry := tool.NewRegistry()
	for _, name := range cfg.Tools.Names {
		var opts []tool.HTTPExecutorOption
		if key := cfg.Tools.APIKey(); key != "" {
			opts = append(opts, tool.WithAPIKey(key))
		}
		if err := registry.Register(tool.NewHTTPExecutor(name, cfg.Tools.BaseURL, opts...)); err != nil {
			return fmt.Errorf("register tool %s: %w", name, err)
		}
	}
	logger.Info("Tools registered", "count", len(cfg.Tools.Names))

	toolClient := tool.NewClient(registry,
		tool.WithTraceSink(sink),
		tool.WithLogger(logger),
	)

	// Pipeline stages.
	pl := planner.New(llmClient, registry,
		planner.WithMaxTasks(cfg.Orchestrator.MaxTasks),
		planner.WithLogger(logger),
	)
	wk := worker.New(toolClient, llmClient, worker.WithLogger(logger))
	jd := judge.New(llmClient, judge.WithLogger(logger))

	orch := orchestrator.New(st, pl, wk, jd,
		orchestrator.WithConfig(orchestrator.Config{
			ReviewWindow:    cfg.Orchestrator.ReviewWindow,
			SweepInterval:   cfg.Orchestrator.SweepInterval,
			ConflictRetries: cfg.Orchestrator.ConflictRetries,
		}),
		orchestrator.WithTraceSink(sink),
		orchestrator.WithLogger(logger),
	)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	orch.StartSweeper(signalCtx)

	// HTTP API.
	mux := http.NewServeMux()
	api.NewHandler(orch, logger).RegisterHTTPHandlers("api/v1", mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Info("TaskForge ready")

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	// Let in-flight sessions land their final writes.
	orch.Wait()

	logger.Info("TaskForge shutdown complete")
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg := config.DefaultConfig()
		fileCfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(fileCfg)
		return cfg, nil
	}
	return config.NewLoader(nil).Load()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// startEmbeddedNATS runs an in-process NATS server with JetStream enabled.
// Data persists under the user cache directory so sessions survive restarts.
func startEmbeddedNATS(logger *slog.Logger) (*natsserver.Server, string, error) {
	storeDir := filepath.Join(os.TempDir(), "taskforge-jetstream")
	if cacheDir, err := os.UserCacheDir(); err == nil {
		storeDir = filepath.Join(cacheDir, "taskforge", "jetstream")
	}

	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return nil, "", err
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		return nil, "", fmt.Errorf("embedded NATS did not become ready")
	}

	logger.Info("Embedded NATS started", "url", srv.ClientURL(), "store_dir", storeDir)
	return srv, srv.ClientURL(), nil
}

func connectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		url = envURL
	}

	logger.Info("Connecting to NATS", "url", url)

	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, wrapNATSError(err, url)
	}
	return nc, nil
}

// wrapNATSError provides guidance when the NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start a server with:
  docker run -p 4222:4222 nats:latest -js

or leave nats.url empty to use the embedded server.`, err, url)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}
