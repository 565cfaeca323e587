// Docindexd serves the document index over HTTP.
//
// It restores committed indexes from the index directory at startup, builds
// new ones on request and answers similarity queries against them.
//
// Configuration is loaded from ~/.config/docindex/config.yaml (or the file
// named by -config) with environment variables taking precedence. See
// internal/config for the keys.
//
// Usage:
//
//	# Start with defaults
//	docindexd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 EMBEDDINGS_BASE_URL=http://tei:8080 docindexd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docindex/internal/config"
	"github.com/fyrsmithlabs/docindex/internal/embeddings"
	"github.com/fyrsmithlabs/docindex/internal/events"
	httpserver "github.com/fyrsmithlabs/docindex/internal/http"
	"github.com/fyrsmithlabs/docindex/internal/indexer"
	"github.com/fyrsmithlabs/docindex/internal/indexstore"
	"github.com/fyrsmithlabs/docindex/internal/logging"
	"github.com/fyrsmithlabs/docindex/internal/query"
	"github.com/fyrsmithlabs/docindex/internal/registry"
	"github.com/fyrsmithlabs/docindex/internal/synthesis"
	"github.com/fyrsmithlabs/docindex/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const instrumentationPrefix = "github.com/fyrsmithlabs/docindex/internal/"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  docindexd [-config file]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  docindexd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("docindexd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the server and blocks until ctx is canceled, then shuts down
// gracefully. It returns nil after a clean shutdown.
//
// Startup order:
//  1. Logger and telemetry
//  2. Index store, staging cleanup and registry restore
//  3. Embedding provider and batcher
//  4. Event publisher and synthesis client (both optional)
//  5. Indexer, query engine and HTTP server
func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zlog := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version), zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			zlog.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting docindexd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("index_dir", cfg.Index.Dir),
		zap.String("embeddings_provider", cfg.Embeddings.Provider))

	deps, err := initDependencies(ctx, cfg, tel, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	reg := registry.New(zlog)
	records, err := deps.store.ListCurrent(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index catalog: %w", err)
	}
	logger.Info(ctx, "restored committed indexes", zap.Int("documents", reg.Restore(records)))

	ix, err := indexer.New(reg, deps.embedder, deps.store, indexer.Options{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
		Publisher: deps.publisher,
		Tracer:    tel.Tracer(instrumentationPrefix + "indexer"),
		Logger:    zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	threshold := cfg.Query.DefaultThreshold
	engine, err := query.New(reg, deps.embedder, deps.store, query.Options{
		DefaultK:         cfg.Query.DefaultK,
		MaxK:             cfg.Query.MaxK,
		DefaultThreshold: &threshold,
		HighCut:          cfg.Query.HighCut,
		LowCut:           cfg.Query.LowCut,
		CacheSize:        cfg.Query.CacheSize,
		Synthesizer:      deps.synthesizer,
		Tracer:           tel.Tracer(instrumentationPrefix + "query"),
		Logger:           zlog,
	})
	if err != nil {
		return fmt.Errorf("failed to create query engine: %w", err)
	}

	srv, err := httpserver.NewServer(reg, ix, engine, zlog, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
		Meter:   tel.Meter(instrumentationPrefix + "http"),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc, global.GetLoggerProvider())
}

// dependencies holds the infrastructure the services are built on.
type dependencies struct {
	store       *indexstore.Store
	provider    embeddings.Provider
	embedder    *embeddings.Batcher
	publisher   events.Publisher
	synthesizer synthesis.Synthesizer
	logger      *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			d.logger.Warn("closing embedding provider", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing index store", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, logger *zap.Logger) (_ *dependencies, err error) {
	d := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.store, err = indexstore.Open(cfg.Index.Dir, indexstore.Options{
		RetainVersions: cfg.Index.RetainVersions,
		PersistTimeout: cfg.Index.PersistTimeout.Duration(),
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}
	removed, err := d.store.CleanupStaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleaning staged artifacts: %w", err)
	}
	logger.Info("index store opened", zap.String("dir", cfg.Index.Dir), zap.Int("stale_removed", removed))

	d.provider, err = embeddings.NewProvider(embeddings.ProviderConfigFrom(cfg.Embeddings))
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	d.embedder, err = embeddings.NewBatcher(d.provider, embeddings.BatcherConfigFrom(cfg.Embeddings),
		embeddings.WithLogger(logger),
		embeddings.WithMetrics(embeddings.NewMetrics(tel.Meter(instrumentationPrefix+"embeddings"), logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding batcher: %w", err)
	}
	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", d.embedder.Dimension()))

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.Events.NATSURL, err)
		}
		d.publisher = pub
		logger.Info("publishing lifecycle events", zap.String("url", cfg.Events.NATSURL))
	} else {
		d.publisher = events.Nop{}
	}

	if cfg.Synthesis.Enabled {
		client, err := synthesis.NewOpenAIClient(synthesis.OpenAIConfigFrom(cfg.Synthesis))
		if err != nil {
			return nil, fmt.Errorf("creating synthesis client: %w", err)
		}
		d.synthesizer = synthesis.NewService(client, logger)
		logger.Info("answer synthesis enabled", zap.String("model", cfg.Synthesis.Model))
	}

	return d, nil
}
