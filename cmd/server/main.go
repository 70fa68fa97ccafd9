package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	mindcareweb "github.com/mindcare-mx/mindcare-web"
	"github.com/mindcare-mx/mindcare-web/internal/handlers"
	"github.com/mindcare-mx/mindcare-web/internal/services"
)

func main() {
	// A missing .env is fine; the environment may be set by the deployment.
	_ = godotenv.Load()

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	if cfg.ConfigPath != "" {
		raw, err := os.ReadFile(cfg.ConfigPath)
		if err != nil {
			log.Fatalf("failed to read config file: %v", err)
		}
		if err := cfg.applyFile(raw); err != nil {
			log.Fatal(err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	llm, model, err := cfg.buildLLM(logger)
	if err != nil {
		log.Fatal(err)
	}
	if llm == nil {
		logger.Warn("No usable provider credential configured; chat will answer with a configuration error")
	}

	moderator, err := cfg.buildModerator(logger)
	if err != nil {
		log.Fatal(err)
	}

	var verifier handlers.TokenVerifier
	if cfg.GoogleClientID != "" {
		verifier = handlers.NewGoogleVerifier(cfg.GoogleClientID)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID is empty; identity verification is DISABLED")
	}

	var placeCache handlers.PlaceCache
	cache, err := services.NewBoltCache(cfg.NearbyCachePath, cfg.NearbyCacheTTL)
	if err != nil {
		logger.Warn("Failed to open nearby cache; lookups will always hit the upstream",
			slog.String("err", err.Error()))
	} else {
		placeCache = cache
		defer cache.Close()
	}

	m := handlers.NewMain(handlers.MainConfig{
		LLM:        llm,
		Moderator:  moderator,
		Verifier:   verifier,
		Places:     services.NewOverpass(cfg.OverpassURL, logger),
		PlaceCache: placeCache,
		Provider:   cfg.provider(),
		Model:      model,
		LLMTimeout: cfg.LLMTimeout,
		Logger:     logger,
	})

	staticFS, err := fs.Sub(mindcareweb.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/api/chat", m.HandleChat)
	mux.HandleFunc("/api/health", m.HandleHealth)
	mux.HandleFunc("/api/nearby", m.HandleNearby)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port),
			slog.String("provider", cfg.provider()), slog.Bool("hasKey", llm != nil))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("err", err.Error()))
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
