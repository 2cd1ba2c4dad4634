package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusdev/teamsync/internal/adapters/jira"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/campusdev/teamsync/internal/events"
	"github.com/rs/zerolog"
)

type TrackerClient interface {
	Sprints(ctx context.Context, token, cloudID string, boardID int64) ([]jira.Sprint, error)
	SprintIssues(ctx context.Context, token, cloudID string, sprintID int64) ([]jira.Issue, error)
	Project(ctx context.Context, token, cloudID, key string) (*jira.Project, error)
}

type TrackerStore interface {
	UpsertSprint(ctx context.Context, s domain.Sprint) (int64, error)
	EnsureFallbackSprint(ctx context.Context, teamID int64) (int64, error)
	UpsertTask(ctx context.Context, t domain.Task) (bool, error)
	DeleteTaskByExtID(ctx context.Context, extID string) (bool, error)
	ResolveMemberByAccountID(ctx context.Context, teamID int64, accountID string) (*domain.TeamMember, error)
	FindTeamByProjectKey(ctx context.Context, projectKey string) (*domain.Team, error)
	SetLeader(ctx context.Context, teamID, memberID int64) error
}

type TrackerSyncResult struct {
	Sprints int      `json:"sprints"`
	Tasks   int      `json:"tasks"`
	Errors  []string `json:"errors,omitempty"`
}

// IssueEvent is one issue lifecycle event delivered by the tracker webhook.
type IssueEvent struct {
	Kind              string // created | updated | deleted
	IssueID           string
	Key               string
	Summary           string
	Status            string
	StatusCategory    string
	AssigneeAccountID string
	Estimate          float64
	ProjectKey        string
}

// Tracker syncs sprints and tasks from the issue tracker, both in bulk and
// incrementally from webhook events. Every successful task mutation is
// published to live subscribers.
type Tracker struct {
	client TrackerClient
	store  TrackerStore
	pub    events.Publisher
	log    zerolog.Logger
}

func NewTracker(client TrackerClient, store TrackerStore, pub events.Publisher, log zerolog.Logger) *Tracker {
	return &Tracker{client: client, store: store, pub: pub, log: log}
}

func teamScope(teamID int64) string { return fmt.Sprintf("team:%d", teamID) }

func sprintState(state string) domain.SprintState {
	switch domain.SprintState(state) {
	case domain.SprintActive, domain.SprintFuture, domain.SprintClosed:
		return domain.SprintState(state)
	default:
		return domain.SprintFuture
	}
}

// FullSync fetches every sprint on the team's board and the tasks within
// each sprint. Item-level failures are recorded and skipped; only
// authorization failures propagate, so the token lifecycle can react.
func (s *Tracker) FullSync(ctx context.Context, team domain.Team, token, cloudID string) (TrackerSyncResult, error) {
	var res TrackerSyncResult
	sprints, err := s.client.Sprints(ctx, token, cloudID, team.JiraBoardID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return res, err
		}
		res.Errors = append(res.Errors, fmt.Sprintf("fetch sprints: %v", err))
		return res, nil
	}
	for _, sp := range sprints {
		sprintID, err := s.store.UpsertSprint(ctx, domain.Sprint{
			TeamID:  team.ID,
			ExtID:   sp.ID,
			Name:    sp.Name,
			State:   sprintState(sp.State),
			StartAt: sp.StartAt,
			EndAt:   sp.EndAt,
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("sprint %d: %v", sp.ID, err))
			continue
		}
		res.Sprints++

		issues, err := s.client.SprintIssues(ctx, token, cloudID, sp.ID)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				return res, err
			}
			res.Errors = append(res.Errors, fmt.Sprintf("sprint %d issues: %v", sp.ID, err))
			continue
		}
		for _, iss := range issues {
			if _, err := s.upsertTask(ctx, team.ID, &sprintID, iss.ID, iss.Key, iss.Summary,
				iss.Status, iss.StatusCategory, iss.AssigneeAccountID, iss.Estimate); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("task %s: %v", iss.Key, err))
				continue
			}
			res.Tasks++
		}
	}
	return res, nil
}

func (s *Tracker) upsertTask(ctx context.Context, teamID int64, sprintID *int64,
	extID, key, summary, status, statusCategory, assigneeAccountID string, estimate float64) (string, error) {
	task := domain.Task{
		TeamID:            teamID,
		SprintID:          sprintID,
		ExtID:             extID,
		Key:               key,
		Summary:           summary,
		Status:            status,
		StatusCategory:    statusCategory,
		AssigneeAccountID: assigneeAccountID,
		Estimate:          estimate,
	}
	member, err := s.store.ResolveMemberByAccountID(ctx, teamID, assigneeAccountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if member != nil {
		task.AssigneeMemberID = &member.ID
	}
	inserted, err := s.store.UpsertTask(ctx, task)
	if err != nil {
		return "", err
	}
	action := "updated"
	if inserted {
		action = "created"
	}
	s.pub.Emit(teamScope(teamID), "task:"+action, map[string]any{"key": key, "issue_id": extID, "action": action})
	return action, nil
}

// HandleIssueEvent processes one webhook event. Unknown project keys and
// unknown issues are acknowledged no-ops; the sender never sees a failure
// for an event we do not recognize.
func (s *Tracker) HandleIssueEvent(ctx context.Context, evt IssueEvent) error {
	if evt.IssueID == "" {
		s.log.Info().Str("kind", evt.Kind).Msg("webhook event without issue id ignored")
		return nil
	}
	team, err := s.store.FindTeamByProjectKey(ctx, evt.ProjectKey)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info().Str("project", evt.ProjectKey).Str("issue", evt.Key).Msg("webhook for unmapped project ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve team for %q: %w", evt.ProjectKey, err)
	}

	switch evt.Kind {
	case "deleted":
		removed, err := s.store.DeleteTaskByExtID(ctx, evt.IssueID)
		if err != nil {
			return fmt.Errorf("delete task %s: %w", evt.IssueID, err)
		}
		if removed {
			s.pub.Emit(teamScope(team.ID), "task:deleted", map[string]any{"key": evt.Key, "issue_id": evt.IssueID, "action": "deleted"})
		}
		return nil
	case "created", "updated":
		sprintID, err := s.store.EnsureFallbackSprint(ctx, team.ID)
		if err != nil {
			return fmt.Errorf("ensure fallback sprint: %w", err)
		}
		_, err = s.upsertTask(ctx, team.ID, &sprintID, evt.IssueID, evt.Key, evt.Summary,
			evt.Status, evt.StatusCategory, evt.AssigneeAccountID, evt.Estimate)
		return err
	default:
		s.log.Info().Str("kind", evt.Kind).Str("issue", evt.Key).Msg("unhandled webhook event kind ignored")
		return nil
	}
}

// SyncProjectLead reconciles the team's leader role with the tracker
// project's lead. Explicitly invoked; never a side effect of a read.
func (s *Tracker) SyncProjectLead(ctx context.Context, team domain.Team, token, cloudID string) error {
	proj, err := s.client.Project(ctx, token, cloudID, team.JiraProjectKey)
	if err != nil {
		return err
	}
	member, err := s.store.ResolveMemberByAccountID(ctx, team.ID, proj.LeadAccountID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info().Str("account", proj.LeadAccountID).Int64("team", team.ID).
			Msg("project lead has no mapped member, leaving roles untouched")
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.SetLeader(ctx, team.ID, member.ID)
}
