package jobs

import (
	"context"
	"time"

	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/repo"
	"github.com/campusdev/teamsync/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// lock key shared by every instance; only one runs the sweep at a time.
const syncLockKey int64 = 727272

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	orch *services.Orchestrator
	repo *repo.Repository
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, orch *services.Orchestrator, r *repo.Repository) *Cron {
	loc, _ := time.LoadLocation(cfg.TZ)
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, orch: orch, repo: r, c: c}
	_, _ = c.AddFunc(cfg.SyncCron, cr.sweep)
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

// sweep reconciles every team sequentially under an advisory lock so that
// overlapping instances never double-sync.
func (cr *Cron) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ok, err := cr.repo.TryAdvisoryLock(ctx, syncLockKey)
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: lock error")
		return
	}
	if !ok {
		cr.log.Info().Msg("cron: sync already running elsewhere")
		return
	}
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), syncLockKey) }()

	teams, err := cr.repo.ListTeams(ctx)
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: list teams failed")
		return
	}
	cr.log.Info().Int("teams", len(teams)).Msg("cron: sync sweep started")
	for _, t := range teams {
		if ctx.Err() != nil {
			cr.log.Warn().Msg("cron: sweep deadline reached, stopping early")
			return
		}
		res := cr.orch.SyncTeam(ctx, t.ID)
		if n := len(res.AllErrors()); n > 0 {
			cr.log.Warn().Int64("team", t.ID).Str("run", res.RunID).Int("errors", n).Msg("cron: team sync finished with errors")
		}
	}
}
