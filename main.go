package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/corterra/answerd/internal/cache"
	"github.com/corterra/answerd/internal/circuitbreaker"
	"github.com/corterra/answerd/internal/config"
	"github.com/corterra/answerd/internal/embeddings"
	"github.com/corterra/answerd/internal/external"
	"github.com/corterra/answerd/internal/generation"
	"github.com/corterra/answerd/internal/health"
	"github.com/corterra/answerd/internal/httpapi"
	"github.com/corterra/answerd/internal/merge"
	"github.com/corterra/answerd/internal/orchestrator"
	"github.com/corterra/answerd/internal/ranking"
	"github.com/corterra/answerd/internal/rerank"
	"github.com/corterra/answerd/internal/retrieval"
	"github.com/corterra/answerd/internal/tracing"
	"github.com/corterra/answerd/internal/vectordb"
)

func main() {
	configPath := flag.String("config", "", "path to answerd.yaml (defaults to $CONFIG_PATH or config/answerd.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Observability.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start circuit breaker metrics collection
	circuitbreaker.StartMetricsCollection()

	if cfg.Observability.Tracing.Enabled {
		tracingCfg := tracing.Config{
			Enabled:      true,
			ServiceName:  "answerd",
			OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
		}
		if err := tracing.Initialize(tracingCfg, logger); err != nil {
			logger.Warn("Failed to initialize tracing", zap.Error(err))
		}
	}

	// ------------------------------------------------------------------
	// Bring up the health manager and admin endpoints early so probes
	// respond while the pipeline components come up.
	// ------------------------------------------------------------------
	hm := health.NewManager(30*time.Second, logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	if cfg.Observability.Metrics.Enabled {
		adminMux.Handle("/metrics", promhttp.Handler())
	}
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", cfg.Server.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Optional shared Redis: L2 answer cache plus embedding cache
	var embCache embeddings.Cache
	var answerL2 *cache.RedisLayer
	if cfg.Cache.RedisEnabled && cfg.Cache.RedisAddr != "" {
		if l2, err := cache.NewRedisLayer(cfg.Cache.RedisAddr, time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger); err == nil {
			answerL2 = l2
			_ = hm.RegisterChecker(health.NewRedisChecker(l2.Wrapper()))
		} else {
			logger.Warn("Answer cache Redis init failed, continuing in-memory only", zap.Error(err))
		}
		if rc, err := embeddings.NewRedisCache(cfg.Cache.RedisAddr, logger); err == nil {
			embCache = rc
		} else {
			logger.Warn("Embeddings Redis cache init failed, continuing without it", zap.Error(err))
		}
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Collaborators.EmbeddingURL,
		DefaultModel: cfg.Collaborators.EmbeddingModel,
		Dimensions:   cfg.Collaborators.EmbeddingDim,
	}, embCache)

	// Vector index backend
	var index vectordb.Index
	switch cfg.Collaborators.VectorBackend {
	case "sqlite":
		idx, err := vectordb.NewSQLiteIndex(cfg.Collaborators.SQLitePath)
		if err != nil {
			logger.Fatal("Failed to open SQLite index", zap.Error(err))
		}
		defer idx.Close()
		index = idx
	default:
		index = vectordb.NewClient(vectordb.Config{
			Host:       cfg.Collaborators.QdrantHost,
			Port:       cfg.Collaborators.QdrantPort,
			Collection: cfg.Collaborators.Collection,
		}, logger)
	}
	_ = hm.RegisterChecker(health.NewVectorIndexChecker(index, cfg.Collaborators.VectorBackend))
	_ = hm.RegisterChecker(health.NewServiceChecker("embedding", cfg.Collaborators.EmbeddingURL+"/health", true, logger))
	_ = hm.RegisterChecker(health.NewServiceChecker("generator", cfg.Collaborators.GeneratorURL+"/health", true, logger))
	if cfg.Collaborators.RerankURL != "" {
		// Non-critical: retrieval degrades to the lexical fallback
		_ = hm.RegisterChecker(health.NewServiceChecker("reranker", cfg.Collaborators.RerankURL+"/health", false, logger))
	}

	reranker := rerank.New(rerank.NewHTTPScorer(rerank.Config{BaseURL: cfg.Collaborators.RerankURL}, logger), logger)
	retriever := retrieval.New(retrieval.Config{
		TopK:              cfg.Retrieval.TopK,
		MinRetrievalScore: cfg.Retrieval.MinRetrievalScore,
		MinFinalScore:     cfg.Retrieval.MinFinalScore,
	}, embedder, index, reranker, logger)

	generator := generation.New(generation.Config{
		NCandidates:        cfg.Generation.NCandidates,
		MaxConcurrency:     cfg.Generation.MaxConcurrency,
		TargetTokens:       cfg.Generation.TargetTokens,
		ContextTokenBudget: cfg.Generation.ContextTokenBudget,
	}, generation.NewHTTPRuntime(generation.RuntimeConfig{BaseURL: cfg.Collaborators.GeneratorURL}, logger), logger)

	var agent orchestrator.ExternalAgent
	if cfg.Collaborators.ExternalURL != "" {
		agent = external.NewClient(external.Config{BaseURL: cfg.Collaborators.ExternalURL}, logger)
	}

	store := cache.NewStore(
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		time.Duration(cfg.Cache.SweepSeconds)*time.Second,
		logger,
	)
	defer store.Close()
	if answerL2 != nil {
		store.AttachRedis(answerL2)
	}

	orc := orchestrator.New(cfg,
		retriever,
		generator,
		ranking.New(logger),
		merge.New(cfg.Merge.Alpha, cfg.Merge.Beta, logger),
		agent,
		store,
		logger,
	)

	startConfigWatcher(ctx, *configPath, orc, logger)

	if err := hm.Start(ctx); err != nil {
		logger.Warn("Health manager start failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	httpapi.NewQAHandler(orc, logger).Register(mux)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(cfg.Deadlines.TotalMs)*time.Millisecond + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("answerd listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin HTTP server shutdown failed", zap.Error(err))
	}
	hm.Stop()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown failed", zap.Error(err))
	}
}

// startConfigWatcher hot-reloads the orchestrator's tunables (gate
// threshold, deadlines) when the config file changes, published as an
// immutable snapshot swap. Structural settings such as ports and backend
// selection require a restart.
func startConfigWatcher(ctx context.Context, path string, orc *orchestrator.Orchestrator, logger *zap.Logger) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/answerd.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	mgr, err := config.NewManager(filepath.Dir(path), logger)
	if err != nil {
		logger.Warn("Config manager init failed", zap.Error(err))
		return
	}

	file := filepath.Base(path)
	mgr.RegisterValidator(file, func(_ map[string]interface{}) error {
		_, err := config.Load(path)
		return err
	})
	mgr.RegisterHandler(file, func(ev config.ChangeEvent) error {
		next, err := config.Load(path)
		if err != nil {
			return err
		}
		orc.ApplyConfig(next)
		logger.Info("Configuration reloaded",
			zap.String("file", ev.File),
			zap.Float64("theta_local", next.Gate.ThetaLocal),
		)
		return nil
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Warn("Config manager start failed", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	return zcfg.Build()
}
