// gradingd is the grading orchestration server: it wires configuration, the
// PostgreSQL-backed checkpoint store, the cross-process event bus, and the
// grading graph into a queue.WorkerPool, then exposes a minimal health
// endpoint. Submitting and inspecting runs is an external transport
// concern (spec §1); the Orchestrator type is the real public surface, and
// this binary only proves it wires together end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/gradingco/gradingd/pkg/batch"
	"github.com/gradingco/gradingd/pkg/checkpoint"
	"github.com/gradingco/gradingd/pkg/config"
	"github.com/gradingco/gradingd/pkg/database"
	"github.com/gradingco/gradingd/pkg/events"
	"github.com/gradingco/gradingd/pkg/llm"
	"github.com/gradingco/gradingd/pkg/orchestrator"
	"github.com/gradingco/gradingd/pkg/queue"
	"github.com/gradingco/gradingd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	stats := cfg.Stats()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("Connected to PostgreSQL database, migrations applied")

	llmProvider, err := cfg.GetLLMProvider(cfg.Defaults.LLMProvider)
	if err != nil {
		log.Fatalf("Failed to resolve default LLM provider %q: %v", cfg.Defaults.LLMProvider, err)
	}
	llmClient, err := llm.NewHTTPClient(llmProvider)
	if err != nil {
		log.Fatalf("Failed to construct LLM client: %v", err)
	}

	checkpointer := checkpoint.NewPostgresStore(dbClient.Pool())

	bus := events.NewBus(cfg.Defaults.EventBufferSize)
	notifyBus := events.NewNotifyBus(bus, dbClient.Pool(), "gradingd_events")
	if err := notifyBus.Start(ctx); err != nil {
		log.Fatalf("Failed to start cross-process event bus: %v", err)
	}
	defer notifyBus.Stop()

	orch := orchestrator.New(orchestrator.Deps{
		Checkpointer: checkpointer,
		Events:       bus,
		LLMClient:    llmClient,
		Estimator:    batch.NewDefaultEstimator(),
		Defaults:     cfg.Defaults,
	})

	replicaID := getEnv("REPLICA_ID", fmt.Sprintf("gradingd-%d", os.Getpid()))
	pool := queue.NewWorkerPool(replicaID, dbClient.Pool(), cfg.Queue, orch)
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	log.Println("Worker pool started", replicaID)

	router := gin.Default()
	router.GET("/healthz", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, dbClient.Pool())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbHealth,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"version":       version.Full(),
			"database":      dbHealth,
			"worker_pool":   pool.Health(reqCtx),
			"configuration": gin.H{"llm_providers": stats.LLMProviders},
		})
	})

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining worker pool")
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
