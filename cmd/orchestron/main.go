// Orchestron server entry point: loads configuration, wires the execution
// store, completion gateways, retrieval, and the orchestrator, and serves
// the HTTP API until shutdown.
//
// Usage:
//
//	orchestron serve                        # start the server
//	orchestron serve --config config.yaml   # with a config file
//	orchestron version                      # print version info
//	orchestron health                       # probe a running server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orchestron-ai/orchestron/api/handlers"
	"github.com/orchestron-ai/orchestron/config"
	"github.com/orchestron-ai/orchestron/gateway"
	"github.com/orchestron-ai/orchestron/gateway/anthropic"
	"github.com/orchestron-ai/orchestron/gateway/openai"
	"github.com/orchestron-ai/orchestron/internal/database"
	"github.com/orchestron-ai/orchestron/internal/metrics"
	"github.com/orchestron-ai/orchestron/orchestrator"
	"github.com/orchestron-ai/orchestron/retrieval"
	"github.com/orchestron-ai/orchestron/store"
)

// Build-time injected version info.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Printf("orchestron %s (%s)\n", Version, GitCommit)
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting orchestron",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
	)

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("orchestron stopped")
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Execution store.
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("init connection pool: %w", err)
	}
	defer pool.Close()

	st := store.NewGormStore(pool, logger)
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// Completion gateways: throttle each provider, then retry transient
	// failures around the throttle.
	registryGW := gateway.NewRegistry()
	retryPolicy := gateway.DefaultRetryPolicy()
	retryPolicy.MaxRetries = cfg.Providers.MaxRetries
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		gw := gateway.WithThrottle(openai.New(key),
			cfg.Providers.OpenAI.RequestsPerSecond, cfg.Providers.OpenAI.Burst)
		registryGW.Register(gateway.WithRetry(gw, retryPolicy, logger))
		logger.Info("provider registered", zap.String("provider", "openai"))
	}
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		gw := gateway.WithThrottle(anthropic.New(key),
			cfg.Providers.Anthropic.RequestsPerSecond, cfg.Providers.Anthropic.Burst)
		registryGW.Register(gateway.WithRetry(gw, retryPolicy, logger))
		logger.Info("provider registered", zap.String("provider", "anthropic"))
	}

	// Retrieval, optionally cached in Redis.
	var retriever retrieval.Gateway
	var redisClient *redis.Client
	if cfg.Retrieval.Enabled {
		retriever = retrieval.NewHTTPGateway(cfg.Retrieval.Endpoint, cfg.Retrieval.Timeout, logger)
		if cfg.Redis.Enabled {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()
			retriever = retrieval.NewCachedGateway(retriever, redisClient, cfg.Redis.CacheTTL, logger)
		}
	}

	// Orchestrator and run manager.
	orch, err := orchestrator.New(orchestrator.Config{
		Store:             st,
		Gateways:          registryGW,
		Retriever:         retriever,
		Metrics:           collector,
		Logger:            logger,
		CompletionTimeout: cfg.Orchestrator.CompletionTimeout,
		RetrievalTimeout:  cfg.Orchestrator.RetrievalTimeout,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	runs := orchestrator.NewRunManager(ctx, orch, st, cfg.Orchestrator.MaxConcurrentRuns, logger)

	// HTTP surface.
	health := handlers.NewHealthHandler(logger)
	health.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
	if redisClient != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	mux := handlers.Router(
		handlers.NewWorkflowHandler(runs, st, logger),
		handlers.NewExecutionHandler(runs, st, logger),
		handlers.NewStreamHandler(st, cfg.Orchestrator.StreamPollInterval, logger),
		health,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      Chain(mux, Recovery(logger), RequestID(), RequestLogger(logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		// Outstanding runs finish their current turn and observe the
		// cancelled base context at the next boundary.
		return runs.Wait()
	})

	return group.Wait()
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printUsage() {
	fmt.Println(`Orchestron - agent workflow orchestration engine

Usage:
  orchestron <command> [options]

Commands:
  serve     Start the orchestron server
  version   Show version information
  health    Probe a running server
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  orchestron serve
  orchestron serve --config /etc/orchestron/config.yaml
  orchestron health --addr http://localhost:8080`)
}
