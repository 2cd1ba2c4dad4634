package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusdev/teamsync/internal/adapters/github"
	"github.com/campusdev/teamsync/internal/adapters/jira"
	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/events"
	api "github.com/campusdev/teamsync/internal/http"
	"github.com/campusdev/teamsync/internal/jobs"
	"github.com/campusdev/teamsync/internal/logger"
	"github.com/campusdev/teamsync/internal/repo"
	"github.com/campusdev/teamsync/internal/services"
	"github.com/campusdev/teamsync/internal/vault"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	repository := repo.NewRepository(db, log)

	// Adapters
	gh := github.NewClient(cfg, log)
	jc := jira.NewClient(cfg, log)

	// Services
	v := vault.New(cfg.VaultKey, log)
	hub := events.NewHub(log)
	creds := services.NewCredentials(v, repository, jc, log)
	commits := services.NewCommits(cfg, log, gh, repository)
	tracker := services.NewTracker(jc, repository, hub, log)
	identity := services.NewIdentity(repository, log)
	ranking := services.NewRanking(repository, log)
	orch := services.NewOrchestrator(repository, commits, tracker, creds, cfg.HistoryLimit, log)

	// HTTP server (Gin)
	handlers := api.NewHandlers(cfg, log, repository, orch, tracker, ranking, identity, creds, hub)
	router := api.NewRouter(cfg, log, handlers)

	// Cron
	cron := jobs.NewCron(cfg, log, orch, repository)
	cron.Start()
	defer cron.Stop()

	// graceful shutdown
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	time.Sleep(500 * time.Millisecond)
}
