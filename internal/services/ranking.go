package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
)

type RankingStore interface {
	ListMembers(ctx context.Context, teamID int64) ([]domain.TeamMember, error)
	ListSprints(ctx context.Context, teamID int64) ([]domain.Sprint, error)
	ListTasksByTeam(ctx context.Context, teamID int64) ([]domain.Task, error)
	ListCommits(ctx context.Context, teamID int64) ([]domain.Commit, error)
}

type MemberScore struct {
	Member           domain.TeamMember `json:"member"`
	CompletedTasks   int               `json:"completed_tasks"`
	CompletedPoints  float64           `json:"completed_points"`
	TotalTasks       int               `json:"total_tasks"`
	TotalPoints      float64           `json:"total_points"`
	QualifiedCommits int               `json:"qualified_commits"`
}

type DashboardSummary struct {
	TotalTasks     int        `json:"total_tasks"`
	DoneTasks      int        `json:"done_tasks"`
	DonePercent    float64    `json:"done_percent"`
	TotalCommits   int        `json:"total_commits"`
	CountedCommits int        `json:"counted_commits"`
	LastCommitAt   *time.Time `json:"last_commit_at,omitempty"`
	SprintsActive  int        `json:"sprints_active"`
	SprintsFuture  int        `json:"sprints_future"`
	SprintsClosed  int        `json:"sprints_closed"`
}

// Ranking derives per-member contribution metrics from persisted records. It
// never mutates anything.
type Ranking struct {
	store RankingStore
	log   zerolog.Logger
}

func NewRanking(store RankingStore, log zerolog.Logger) *Ranking {
	return &Ranking{store: store, log: log}
}

// Leaderboard orders members by completed story points, ties broken by
// qualified commit count, stable in member enumeration order beyond that.
func (s *Ranking) Leaderboard(ctx context.Context, teamID int64) ([]MemberScore, error) {
	members, err := s.store.ListMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasksByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	commits, err := s.store.ListCommits(ctx, teamID)
	if err != nil {
		return nil, err
	}

	scores := make([]MemberScore, 0, len(members))
	for _, m := range members {
		sc := MemberScore{Member: m}
		if m.JiraAccountID != "" {
			for _, t := range tasks {
				if t.AssigneeAccountID != m.JiraAccountID {
					continue
				}
				sc.TotalTasks++
				sc.TotalPoints += t.Estimate
				if t.StatusCategory == domain.StatusCategoryDone {
					sc.CompletedTasks++
					sc.CompletedPoints += t.Estimate
				}
			}
		}
		if m.Email != "" {
			for _, c := range commits {
				if c.Counted && strings.EqualFold(c.AuthorEmail, m.Email) {
					sc.QualifiedCommits++
				}
			}
		}
		scores = append(scores, sc)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].CompletedPoints != scores[j].CompletedPoints {
			return scores[i].CompletedPoints > scores[j].CompletedPoints
		}
		return scores[i].QualifiedCommits > scores[j].QualifiedCommits
	})
	return scores, nil
}

func (s *Ranking) Dashboard(ctx context.Context, teamID int64) (*DashboardSummary, error) {
	sprints, err := s.store.ListSprints(ctx, teamID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasksByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	commits, err := s.store.ListCommits(ctx, teamID)
	if err != nil {
		return nil, err
	}

	sum := &DashboardSummary{TotalTasks: len(tasks), TotalCommits: len(commits)}
	for _, t := range tasks {
		if t.StatusCategory == domain.StatusCategoryDone {
			sum.DoneTasks++
		}
	}
	if sum.TotalTasks > 0 {
		sum.DonePercent = float64(sum.DoneTasks) * 100 / float64(sum.TotalTasks)
	}
	for _, c := range commits {
		if c.Counted {
			sum.CountedCommits++
		}
		if sum.LastCommitAt == nil || c.CommittedAt.After(*sum.LastCommitAt) {
			at := c.CommittedAt
			sum.LastCommitAt = &at
		}
	}
	for _, sp := range sprints {
		switch sp.State {
		case domain.SprintActive:
			sum.SprintsActive++
		case domain.SprintFuture:
			sum.SprintsFuture++
		default:
			sum.SprintsClosed++
		}
	}
	return sum, nil
}
