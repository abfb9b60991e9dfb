// Package main is the entry point for the PhenoMap server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phenomap/server/internal/api"
	"github.com/phenomap/server/internal/cache"
	"github.com/phenomap/server/internal/config"
	"github.com/phenomap/server/internal/data/cellseg"
	"github.com/phenomap/server/internal/render"
	"github.com/phenomap/server/internal/selector"
	"github.com/phenomap/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting PhenoMap server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: cfg.Cache.PlotSizeMB,
		PlotTTL:         time.Duration(cfg.Cache.PlotTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	// Initialize map renderer (shared across all datasets)
	mapRenderer := render.NewMapRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		PointRadius:     cfg.Render.PointRadius,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	// Load each dataset
	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		table, err := cellseg.Read(ds.CellSegPath, cellseg.DefaultSchema())
		if err != nil {
			log.Fatalf("Failed to load cell seg data for dataset %q: %v", datasetID, err)
		}
		log.Printf("  [%s] Loaded %d cells from: %s", datasetID, table.NumRows(), ds.CellSegPath)

		rules, err := selector.ParseRuleSet(ds.PhenotypeRules)
		if err != nil {
			log.Fatalf("Failed to parse phenotype rules for dataset %q: %v", datasetID, err)
		}
		if len(rules) > 0 {
			log.Printf("  [%s] %d phenotype rule(s)", datasetID, len(rules))
		}

		registry.Register(datasetID, service.NewDataset(service.DatasetConfig{
			ID:              datasetID,
			Table:           table,
			Rules:           rules,
			Colors:          ds.Colors,
			PixelsPerMicron: ds.PixelsPerMicron,
		}))
	}

	// Initialize job manager for analysis jobs (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Analysis.MaxConcurrent,
		SQLitePath:    cfg.Analysis.SQLitePath,
		RetentionDays: cfg.Analysis.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Analysis job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Analysis.MaxConcurrent, cfg.Analysis.RetentionDays, cfg.Analysis.SQLitePath)

	// Wire up the analyzer as job executor
	analyzer := service.NewAnalyzer(registry)
	jobManager.Executor = analyzer.ExecuteAnalysisJob

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
		Cache:       cacheManager,
		Renderer:    mapRenderer,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	cacheManager.Close()
	log.Println("Server stopped")
}
