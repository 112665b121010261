package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexfield/timeliner/internal/api"
	"github.com/lexfield/timeliner/internal/config"
	"github.com/lexfield/timeliner/internal/extract"
	"github.com/lexfield/timeliner/internal/parser"
	"github.com/lexfield/timeliner/internal/pipeline"
	"github.com/lexfield/timeliner/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Error("failed to create upload dir", "path", cfg.UploadDir, "error", err)
		os.Exit(1)
	}

	texts := &parser.Extractor{FallbackPdftotext: cfg.PDFFallbackPdftotext}

	var events pipeline.EventExtractor
	var groq *extract.GroqClient
	if cfg.GroqAPIKey != "" {
		groq = extract.NewGroqClient(cfg.GroqAPIKey, cfg.LLMModel)
		events = groq
	} else {
		log.Warn("GROQ_API_KEY not set; using mock event extractor")
		events = extract.NewMock()
	}

	orch := pipeline.NewOrchestrator(cfg, st, texts, events, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, st, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Drain HTTP first so no in-flight upload submits to a stopped queue.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()

		if groq != nil {
			groq.Close()
		}
		st.Close()
	}()

	log.Info("starting timeliner", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
