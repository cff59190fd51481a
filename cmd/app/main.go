package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/docextract/internal/config"
	"github.com/local/docextract/internal/document"
	"github.com/local/docextract/internal/extract"
	"github.com/local/docextract/internal/limiter"
	logpkg "github.com/local/docextract/internal/logger"
	"github.com/local/docextract/internal/metrics"
	"github.com/local/docextract/internal/render"
	"github.com/local/docextract/internal/server"
	"github.com/local/docextract/internal/statuscheck"
	"github.com/local/docextract/internal/store"
	web "github.com/local/docextract/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Redis-backed stores
	docs, err := store.NewDocumentStore(cfg.Redis.URL, cfg.Redis.DocTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init document store")
	}
	defer docs.Close()

	thumbs, err := store.NewThumbStore(cfg.Redis.URL, cfg.Redis.ThumbTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init thumbnail store")
	}
	defer thumbs.Close()

	sessions, err := store.NewSessionStore(cfg.Redis.URL, cfg.Redis.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init session store")
	}
	defer sessions.Close()

	// Render gate: per-document concurrency cap + extractor failure cooldowns
	gate, err := limiter.New(limiter.Options{
		RedisURL:    cfg.Redis.URL,
		MaxInflight: cfg.Thumbs.MaxInflightRender,
		BaseBackoff: cfg.Extract.BreakerBase,
		MaxBackoff:  cfg.Extract.BreakerMax,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init render gate")
	}
	defer gate.Close()

	checker := statuscheck.New(statuscheck.Options{
		Redis:     docs,
		Cooldowns: gate,
		UploadDir: cfg.Server.UploadDir,
	})

	srv := server.New(cfg, server.Dependencies{
		Loader:    document.NewLoader(cfg.Extract.MetadataTimeout),
		Documents: docs,
		Thumbs:    thumbs,
		Sessions:  sessions,
		Renderer: render.New(render.Options{
			DPI:       cfg.Thumbs.DPI,
			Quality:   cfg.Thumbs.Quality,
			Grayscale: cfg.Thumbs.Grayscale,
		}),
		Extractor: extract.New(),
		Gate:      gate,
		Checker:   checker,
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	// Dashboard
	dash := web.New(cfg)
	dash.RegisterRoutes(mux)

	// Sweep stale temp downloads hourly
	sweep := time.NewTicker(1 * time.Hour)
	defer sweep.Stop()
	go func() {
		for range sweep.C {
			document.CleanupTemps(1 * time.Hour)
		}
	}()

	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
