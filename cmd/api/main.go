package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pressroom/api/internal/app"
	"pressroom/api/internal/config"
	"pressroom/api/internal/metrics"
	"pressroom/api/internal/search"
	"pressroom/api/internal/sitecache"
	"pressroom/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var documents app.Store
	if cfg.UsesPostgres() {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("schema setup failed: %v", err)
		}
		documents = store.NewPostgres(db)
		log.Printf("Using PostgreSQL document store")
	} else if strings.TrimSpace(cfg.ContentAPIURL) != "" {
		documents = store.NewContentAPIWithBaseURL(cfg.ContentAPIURL, cfg.ContentDataset, cfg.ContentToken)
		log.Printf("Using content API document store at %s", cfg.ContentAPIURL)
	} else {
		documents = store.NewContentAPI(cfg.ContentProjectID, cfg.ContentDataset, cfg.ContentToken)
		log.Printf("Using hosted content API document store")
	}

	service := app.New(cfg, documents)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		sites, err := sitecache.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer sites.Close()
		service.UseSiteCache(sites)
		log.Printf("Using Redis site cache")
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		service.UseIndexer(meiliClient)
		log.Printf("Search indexing enabled")
	}

	service.UseMetrics(metrics.New())

	if missing := cfg.Missing(); len(missing) > 0 {
		log.Printf("WARNING: missing configuration: %s", strings.Join(missing, ", "))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Pressroom API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
