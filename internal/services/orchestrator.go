package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campusdev/teamsync/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type OrchestratorStore interface {
	GetTeam(ctx context.Context, id int64) (*domain.Team, error)
	GetLeader(ctx context.Context, teamID int64) (*domain.TeamMember, error)
	SetTeamSynced(ctx context.Context, teamID int64, at time.Time, entry domain.SyncHistoryEntry, limit int) error
}

// SyncResult is the structured outcome of one orchestration run. It is always
// returned, even when both legs fail.
type SyncResult struct {
	RunID   string            `json:"run_id"`
	TeamID  int64             `json:"team_id"`
	Commits CommitSyncResult  `json:"commits"`
	Tracker TrackerSyncResult `json:"tracker"`
	Errors  []string          `json:"errors,omitempty"`
}

// AllErrors flattens the run-level and per-leg error lists.
func (r SyncResult) AllErrors() []string {
	out := append([]string{}, r.Errors...)
	out = append(out, r.Commits.Errors...)
	out = append(out, r.Tracker.Errors...)
	return out
}

// Orchestrator runs one full reconciliation pass per team: the VCS leg and
// the tracker leg execute concurrently, isolated from each other, and the
// run is recorded in the team's bounded sync history.
type Orchestrator struct {
	store        OrchestratorStore
	commits      *Commits
	tracker      *Tracker
	creds        *Credentials
	historyLimit int
	log          zerolog.Logger
}

func NewOrchestrator(store OrchestratorStore, commits *Commits, tracker *Tracker, creds *Credentials, historyLimit int, log zerolog.Logger) *Orchestrator {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Orchestrator{store: store, commits: commits, tracker: tracker, creds: creds, historyLimit: historyLimit, log: log}
}

// SyncTeam never returns an error: every failure ends up inside the result.
func (o *Orchestrator) SyncTeam(ctx context.Context, teamID int64) SyncResult {
	res := SyncResult{RunID: uuid.NewString(), TeamID: teamID}

	team, err := o.store.GetTeam(ctx, teamID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("load team: %v", err))
		return res
	}
	leader, err := o.store.GetLeader(ctx, teamID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("no team leader to sync with: %v", err))
	} else {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			res.Commits = o.commitLeg(ctx, *team, leader.ID)
		}()
		go func() {
			defer wg.Done()
			res.Tracker = o.trackerLeg(ctx, *team, leader.ID)
		}()
		wg.Wait()
	}

	entry := domain.SyncHistoryEntry{
		RunID:          res.RunID,
		At:             time.Now().UTC(),
		CommitsFetched: res.Commits.Fetched,
		CommitsCounted: res.Commits.Counted,
		SprintsSynced:  res.Tracker.Sprints,
		TasksSynced:    res.Tracker.Tasks,
		Errors:         res.AllErrors(),
	}
	if err := o.store.SetTeamSynced(ctx, teamID, entry.At, entry, o.historyLimit); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("record sync history: %v", err))
	}
	o.log.Info().Str("run", res.RunID).Int64("team", teamID).
		Int("commits", res.Commits.Fetched).Int("counted", res.Commits.Counted).
		Int("sprints", res.Tracker.Sprints).Int("tasks", res.Tracker.Tasks).
		Int("errors", len(entry.Errors)).Msg("sync run finished")
	return res
}

func (o *Orchestrator) commitLeg(ctx context.Context, team domain.Team, leaderID int64) (res CommitSyncResult) {
	defer func() {
		if p := recover(); p != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("github leg panic: %v", p))
		}
	}()
	cred, err := o.creds.Get(ctx, leaderID, domain.ProviderGithub)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("github: %v", err))
		return res
	}
	return o.commits.Sync(ctx, team, cred.Github.AccessToken)
}

func (o *Orchestrator) trackerLeg(ctx context.Context, team domain.Team, leaderID int64) (res TrackerSyncResult) {
	defer func() {
		if p := recover(); p != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("jira leg panic: %v", p))
		}
	}()
	err := o.creds.WithFreshToken(ctx, leaderID, func(cred *domain.JiraCredential) error {
		r, err := o.tracker.FullSync(ctx, team, cred.AccessToken, cred.CloudID)
		res = r
		return err
	})
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("jira: %v", err))
	}
	return res
}
