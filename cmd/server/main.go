// Package main is the entry point for the genome tile server.
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

	log "github.com/sirupsen/logrus"

	"github.com/genome-tiles/server/internal/api"
	"github.com/genome-tiles/server/internal/cache"
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/logging"
	"github.com/genome-tiles/server/internal/render"
	"github.com/genome-tiles/server/internal/service"
	"github.com/genome-tiles/server/internal/source"
	"github.com/genome-tiles/server/internal/store"
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
	if err := logging.Setup(cfg.Log.Level, os.Stderr); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	log.Infof("Starting genome tile server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all tracks)
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Persistent payload store
	payloads, err := store.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open payload store: %v", err)
	}
	defer payloads.Close()

	janitor := service.NewJanitor(payloads, time.Duration(cfg.Store.RetentionDays)*24*time.Hour, time.Hour)
	janitor.Start()
	defer janitor.Stop()

	// Data service client
	client, err := source.NewHTTPClient(source.HTTPConfig{
		BaseURL: cfg.Data.ServiceURL,
		Timeout: time.Duration(cfg.Data.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to create data service client: %v", err)
	}
	defer client.Close()

	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize: cfg.Render.TileSize,
	})

	log.Infof("Initializing %d track(s) from %s", len(cfg.Data.Tracks), cfg.Data.ServiceURL)
	trackService, err := service.NewTrackService(service.TrackServiceConfig{
		Tracks:             cfg.Data.Tracks,
		Fetcher:            client,
		Checker:            client,
		Store:              payloads,
		Cache:              cacheManager,
		Renderer:           tileRenderer,
		ReferenceDatasetID: cfg.Data.ReferenceDatasetID,
		DataElements:       cfg.Cache.DataElements,
		FeatureTiles:       cfg.Cache.FeatureTiles,
		LineTiles:          cfg.Cache.LineTiles,
		MaxRows:            cfg.Render.MaxRows,
		QueryWait:          time.Duration(cfg.Data.QueryWaitMS) * time.Millisecond,
		ToolQueryWait:      time.Duration(cfg.Data.ToolQueryWaitMS) * time.Millisecond,
		ViewWidth:          cfg.Render.ViewWidth,
		FrameInterval:      time.Duration(cfg.Render.FrameIntervalMS) * time.Millisecond,
		PrefetchWorkers:    cfg.Render.PrefetchWorkers,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracks: %v", err)
	}
	defer trackService.Close()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     trackService,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       cfg.Server.Title,
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
		log.Infof("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
