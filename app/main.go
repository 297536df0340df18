package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curioread/curioread/app/api"
	"github.com/curioread/curioread/app/cfg"
	"github.com/curioread/curioread/app/content"
	"github.com/curioread/curioread/app/database"
	"github.com/curioread/curioread/app/llm"
	"github.com/curioread/curioread/app/pipeline"
	"github.com/curioread/curioread/app/queue"
	"github.com/curioread/curioread/app/scrape"
	"github.com/curioread/curioread/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting CurioRead server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	articleRepo := database.NewArticleRepository(db)
	quizRepo := database.NewQuizRepository(db)
	hookSetRepo := database.NewHookSetRepository(db)
	sessionRepo := database.NewSessionRepository(db)

	store, err := content.NewStore(appCfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize content store", "dir", appCfg.DataDir, "error", err)
		os.Exit(1)
	}

	prompts, err := llm.LoadPrompts(appCfg.PromptsFile)
	if err != nil {
		slog.Error("Failed to load prompts", "file", appCfg.PromptsFile, "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(appCfg.LLMEndpoint, appCfg.LLMModel, appCfg.LLMAPIKey)
	scraper := scrape.NewScraper(&http.Client{}, appCfg.UserAgent, appCfg.MinContentLength)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Articles:       articleRepo,
		Quizzes:        quizRepo,
		HookSets:       hookSetRepo,
		Sessions:       sessionRepo,
		Store:          store,
		Scraper:        scraper,
		Analyzer:       llm.NewAnalyzer(llmClient, prompts),
		Generator:      llm.NewGenerator(llmClient, prompts),
		Freshness:      time.Duration(appCfg.FreshnessDays) * 24 * time.Hour,
		StallThreshold: time.Duration(appCfg.StallMinutes) * time.Minute,
		MaxRetries:     appCfg.MaxRetries,
	})

	scheduler := tasks.NewScheduler(sessionRepo, orchestrator)
	controller := queue.NewController(sessionRepo, scheduler, appCfg.QueueSlots)
	scheduler.SetQueueFiller(controller)

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.SchedulerInterval)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(articleRepo, quizRepo, hookSetRepo, sessionRepo, controller, scheduler)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
