// Package main is the entry point for the gqlscope capture server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/avolkov/gqlscope/internal/collector"
	"github.com/avolkov/gqlscope/internal/config"
	"github.com/avolkov/gqlscope/internal/execution"
	"github.com/avolkov/gqlscope/internal/filter"
	"github.com/avolkov/gqlscope/internal/graphql/fieldtrace"
	gqlmetrics "github.com/avolkov/gqlscope/internal/graphql/metrics"
	"github.com/avolkov/gqlscope/internal/graphql/proxy"
	"github.com/avolkov/gqlscope/internal/observability"
	"github.com/avolkov/gqlscope/internal/subscription"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GQLSCOPE_CONFIG_PATH", "configs/gqlscope.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GQLSCOPE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GQLSCOPE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("gqlscope version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// fatal logs the error and exits.
func fatal(logger observability.Logger, msg string, err error) {
	logger.Error(msg, observability.Error(err))
	_ = logger.Sync()
	os.Exit(1)
}

// loadConfig loads and validates the configuration.
func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting gqlscope",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadAndValidateConfig(configPath)
	if err != nil {
		fatal(logger, "failed to load configuration", err)
	}

	logger.Info("configuration loaded",
		observability.String("service", cfg.ServiceName),
		observability.String("collector", cfg.Collector.Output),
		observability.Bool("tracing", cfg.Tracing.Enabled),
		observability.Bool("fieldTracing", cfg.Operations.FieldTracing.Enabled),
	)

	return cfg
}

// application holds all application components.
type application struct {
	server    *http.Server
	sink      collector.Collector
	forwarder *proxy.Forwarder
	executor  *execution.Coordinator
	subs      *subscription.Coordinator
	tracer    *observability.Tracer
	config    *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	gqlmetrics.InitVecMetrics()

	tracer := initTracer(cfg, logger)
	sink := buildCollector(cfg, logger)

	recordFilter, err := filter.New(cfg.Filter.Expression, logger)
	if err != nil {
		fatal(logger, "invalid filter expression", err)
	}

	executor := execution.NewCoordinator(
		execution.Config{
			MaxQuerySize:      cfg.Operations.MaxQuerySize,
			RecommendedDepth:  cfg.Operations.RecommendedDepth,
			NPlusOneThreshold: cfg.Operations.NPlusOneThreshold,
			MaxResponseSize:   cfg.Operations.MaxResponseSize,
			SensitivePatterns: cfg.Operations.SensitivePatterns,
			Trace: fieldtrace.Config{
				Enabled:       cfg.Operations.FieldTracing.Enabled,
				SampleRate:    cfg.Operations.FieldTracing.SampleRate,
				SlowThreshold: cfg.Operations.FieldTracing.SlowThreshold.Duration(),
				MaxTraces:     cfg.Operations.FieldTracing.MaxTraces,
			},
		},
		sink,
		execution.WithLogger(logger),
		execution.WithFilter(recordFilter),
		execution.WithTracer(tracer),
	)

	registry := subscription.NewRegistry(
		subscription.WithMaxConnections(cfg.Subscriptions.MaxConnections),
		subscription.WithMaxSubscriptionsPerConnection(cfg.Subscriptions.MaxSubscriptionsPerConnection),
		subscription.WithRegistryLogger(logger),
	)
	subs := subscription.NewCoordinator(
		subscription.Config{
			TrackConnectionEvents: cfg.Subscriptions.TrackConnectionEvents,
			TrackMessages:         cfg.Subscriptions.TrackMessages,
			BufferMessagePayloads: cfg.Subscriptions.BufferMessagePayloads,
			MaxTrackedMessages:    cfg.Subscriptions.MaxTrackedMessages,
			MaxQuerySize:          cfg.Operations.MaxQuerySize,
			SensitivePatterns:     cfg.Operations.SensitivePatterns,
		},
		registry,
		sink,
		subscription.WithCoordinatorLogger(logger),
	)
	observer := subscription.NewObserver(subs, subscription.Transport(cfg.Subscriptions.Transport),
		subscription.WithObserverLogger(logger))

	forwarder := buildForwarder(cfg, logger)
	router := buildRouter(cfg, executor, observer, forwarder, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration(),
	}

	return &application{
		server:    server,
		sink:      sink,
		forwarder: forwarder,
		executor:  executor,
		subs:      subs,
		tracer:    tracer,
		config:    cfg,
	}
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracerCfg := cfg.Tracing
	if tracerCfg.ServiceName == "" {
		tracerCfg.ServiceName = cfg.ServiceName
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		fatal(logger, "failed to initialize tracer", err)
	}
	return tracer
}

// buildCollector builds the record sink selected by the configuration.
func buildCollector(cfg *config.Config, logger observability.Logger) collector.Collector {
	metrics := collector.NewMetrics(nil)

	switch cfg.Collector.Output {
	case "stdout":
		return collector.NewWriter(os.Stdout,
			collector.WithWriterLogger(logger),
			collector.WithWriterMetrics(metrics),
			collector.WithWriterBufferSize(cfg.Collector.BufferSize),
			collector.WithWriterRateLimit(int(cfg.Collector.RateLimit), cfg.Collector.RateBurst),
		)
	case "file":
		f, err := os.OpenFile(cfg.Collector.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fatal(logger, "failed to open collector file", err)
		}
		return collector.NewWriter(f,
			collector.WithWriterLogger(logger),
			collector.WithWriterMetrics(metrics),
			collector.WithWriterBufferSize(cfg.Collector.BufferSize),
			collector.WithWriterRateLimit(int(cfg.Collector.RateLimit), cfg.Collector.RateBurst),
		)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Collector.Redis.Addr,
			Password: cfg.Collector.Redis.Password,
			DB:       cfg.Collector.Redis.DB,
		})
		return collector.NewRedisExporter(client,
			collector.WithRedisLogger(logger),
			collector.WithRedisMetrics(metrics),
			collector.WithRedisBufferSize(cfg.Collector.BufferSize),
			collector.WithRedisStream(cfg.Collector.Redis.Stream),
			collector.WithRedisStreamMaxLen(cfg.Collector.Redis.MaxLen),
		)
	default:
		return collector.NewNopCollector()
	}
}

// buildForwarder builds the upstream forwarder, or nil when no upstream
// is configured.
func buildForwarder(cfg *config.Config, logger observability.Logger) *proxy.Forwarder {
	if cfg.Server.Upstream == "" {
		return nil
	}

	forwarder, err := proxy.New(cfg.Server.Upstream,
		proxy.WithLogger(logger),
		proxy.WithTimeout(cfg.Server.UpstreamTimeout.Duration()),
	)
	if err != nil {
		fatal(logger, "failed to build upstream forwarder", err)
	}
	return forwarder
}

// buildRouter mounts the metrics, capture, and GraphQL routes.
func buildRouter(
	cfg *config.Config,
	executor *execution.Coordinator,
	observer *subscription.Observer,
	forwarder *proxy.Forwarder,
	logger observability.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(cfg.Server.MetricsPath, gin.WrapH(promhttp.Handler()))
	router.GET(cfg.Server.CapturePath, func(c *gin.Context) {
		if err := observer.HandleCapture(c.Writer, c.Request); err != nil {
			logger.Warn("capture feed failed", observability.Error(err))
		}
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	if forwarder != nil {
		router.POST(cfg.Server.GraphQLPath, execution.Middleware(executor), gin.WrapH(forwarder))
	}

	return router
}

// run starts the server and blocks until shutdown.
func run(app *application, configPath string, logger observability.Logger) {
	go func() {
		logger.Info("server listening", observability.String("addr", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "server error", err)
		}
	}()

	watcher := startConfigWatcher(configPath, logger)

	waitForShutdown(app, watcher, logger)
}

// startConfigWatcher starts the configuration watcher. Changes that can
// be applied without a restart are logged; the rest require one.
func startConfigWatcher(configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed; restart to apply",
			observability.String("service", newCfg.ServiceName),
		)
	}, config.WithLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal and stops everything
// gracefully.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if app.forwarder != nil {
		app.forwarder.Close()
	}

	if err := app.sink.Close(); err != nil {
		logger.Error("failed to close collector", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gqlscope stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
