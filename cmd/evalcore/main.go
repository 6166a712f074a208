// evalcore runs the evaluation pipeline's worker pool and thin HTTP API:
// durable queue consumption for probe/summarize jobs, rate-limited calls
// out to the producer service, the recovery scheduler, and run
// introspection endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/evalforge/evalcore/pkg/api"
	"github.com/evalforge/evalcore/pkg/config"
	"github.com/evalforge/evalcore/pkg/database"
	"github.com/evalforge/evalcore/pkg/handler"
	"github.com/evalforge/evalcore/pkg/metrics"
	"github.com/evalforge/evalcore/pkg/notify"
	"github.com/evalforge/evalcore/pkg/producer"
	"github.com/evalforge/evalcore/pkg/provider"
	"github.com/evalforge/evalcore/pkg/queue"
	"github.com/evalforge/evalcore/pkg/ratelimiter"
	"github.com/evalforge/evalcore/pkg/run"
	"github.com/evalforge/evalcore/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "directory holding evalcore.yaml and .env")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, filepath.Join(*configDir, "evalcore.yaml"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dbClient, err := database.NewClient(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	slog.Info("connected to database")

	pool := dbClient.Pool
	runs := store.NewRunStore(pool)
	definitions := store.NewDefinitionStore(pool)
	scenarios := store.NewScenarioStore(pool)
	transcripts := store.NewTranscriptStore(pool)
	probeResults := store.NewProbeResultStore(pool)
	analyses := store.NewAnalysisStore(pool)
	settings := store.NewSettingsStore(pool)

	registry := provider.New(settings, time.Duration(cfg.Providers.CacheTTLSeconds)*time.Second)

	limiterMgr := ratelimiter.NewManager()
	providers, err := settings.LoadProviders(ctx)
	if err != nil {
		log.Fatalf("failed to load providers: %v", err)
	}
	limiterMgr.Reload(providers, cfg.Providers.SummarizeConcurrency)

	queueStore := queue.NewStore(pool)
	router := queue.NewRouter(registry)
	enqueuer := queue.NewRoutedEnqueuer(queueStore, router)

	var publisher notify.Publisher = notify.NewNoop()
	if cfg.Redis.Addr != "" {
		redisPublisher, err := notify.NewRedisPublisher(cfg.Redis.Addr, "", 0, cfg.Redis.Channel)
		if err != nil {
			slog.Warn("failed to connect to redis, falling back to no-op broadcast", "error", err)
		} else {
			publisher = redisPublisher
			defer redisPublisher.Close()
			slog.Info("publishing run state changes to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		}
	}

	controller := run.NewController(runs, definitions, scenarios, transcripts, probeResults, queueStore, router, enqueuer, registry, publisher)

	producerURL := getEnv("PRODUCER_URL", "http://localhost:9090")
	producerClient := producer.NewHTTPClient(producerURL, 120*time.Second)

	probeHandler := handler.NewProbeHandler(runs, scenarios, definitions, transcripts, probeResults, registry, limiterMgr, producerClient, enqueuer, cfg.Queue.DefaultRetryLimit)
	summarizeHandler := handler.NewSummarizeHandler(runs, transcripts, analyses, settings, registry, limiterMgr, producerClient, enqueuer, cfg.Queue.DefaultRetryLimit)

	podID := getEnv("POD_ID", fmt.Sprintf("evalcore-%d", os.Getpid()))
	workerPool := queue.NewPool(podID, queueStore, cfg.Queue.OrphanDetectionInterval, cfg.Queue.OrphanThreshold)

	pollCfg := queue.PollConfig{PollInterval: cfg.Queue.PollInterval, PollIntervalJitter: cfg.Queue.PollIntervalJitter}
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		workerPool.Register(fmt.Sprintf("probe_%s", p.Name), p.MaxParallelRequests, probeHandler.Handle, pollCfg)
	}
	workerPool.Register("summarize_transcript", 10, summarizeHandler.Handle, pollCfg)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	go runReconciliationLoop(ctx, controller, cfg.Queue.OrphanDetectionInterval)

	queueNames := make([]string, 0, len(providers)+1)
	for _, p := range providers {
		if p.Enabled {
			queueNames = append(queueNames, fmt.Sprintf("probe_%s", p.Name))
		}
	}
	queueNames = append(queueNames, "summarize_transcript")
	reporter := metrics.NewQueueDepthReporter(queueStore, queueNames, 15*time.Second)
	go reporter.Run(ctx)

	server := api.NewServer(dbClient, runs, controller)
	httpServer := &http.Server{Addr: ":" + httpPort, Handler: server.Handler()}

	go func() {
		slog.Info("http server listening", "port", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
}

// runReconciliationLoop periodically re-enqueues probe/summarize jobs
// missing for non-terminal runs, in addition to the one-shot reconcile a
// deployment should run at startup before traffic resumes.
func runReconciliationLoop(ctx context.Context, controller *run.Controller, interval time.Duration) {
	if err := controller.ReconcileAll(ctx); err != nil {
		slog.Error("startup reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := controller.ReconcileAll(ctx); err != nil {
				slog.Error("periodic reconciliation failed", "error", err)
			}
		}
	}
}
