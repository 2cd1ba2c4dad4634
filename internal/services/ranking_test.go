package services

import (
	"context"
	"testing"
	"time"

	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type memRankingStore struct {
	members []domain.TeamMember
	sprints []domain.Sprint
	tasks   []domain.Task
	commits []domain.Commit
}

func (s *memRankingStore) ListMembers(ctx context.Context, teamID int64) ([]domain.TeamMember, error) {
	return s.members, nil
}

func (s *memRankingStore) ListSprints(ctx context.Context, teamID int64) ([]domain.Sprint, error) {
	return s.sprints, nil
}

func (s *memRankingStore) ListTasksByTeam(ctx context.Context, teamID int64) ([]domain.Task, error) {
	return s.tasks, nil
}

func (s *memRankingStore) ListCommits(ctx context.Context, teamID int64) ([]domain.Commit, error) {
	return s.commits, nil
}

func doneTask(account string, pts float64) domain.Task {
	return domain.Task{AssigneeAccountID: account, StatusCategory: domain.StatusCategoryDone, Estimate: pts}
}

func TestLeaderboard_TiesBrokenByQualifiedCommits(t *testing.T) {
	st := &memRankingStore{
		members: []domain.TeamMember{
			{ID: 1, Name: "Alice", Email: "alice@campus.edu", JiraAccountID: "acc-a"},
			{ID: 2, Name: "Bob", Email: "bob@campus.edu", JiraAccountID: "acc-b"},
		},
		tasks: []domain.Task{doneTask("acc-a", 5), doneTask("acc-b", 5)},
		commits: []domain.Commit{
			{AuthorEmail: "alice@campus.edu", Counted: true},
			{AuthorEmail: "alice@campus.edu", Counted: true},
			{AuthorEmail: "alice@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
			{AuthorEmail: "bob@campus.edu", Counted: true},
		},
	}
	svc := NewRanking(st, zerolog.Nop())

	scores, err := svc.Leaderboard(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	require.Equal(t, "Bob", scores[0].Member.Name)
	require.Equal(t, 7, scores[0].QualifiedCommits)
	require.Equal(t, "Alice", scores[1].Member.Name)
}

func TestLeaderboard_ZeroActivityRanksLast(t *testing.T) {
	st := &memRankingStore{
		members: []domain.TeamMember{
			{ID: 1, Name: "Idle", JiraAccountID: "acc-idle"},
			{ID: 2, Name: "Active", Email: "active@campus.edu", JiraAccountID: "acc-act"},
		},
		tasks:   []domain.Task{doneTask("acc-act", 2)},
		commits: []domain.Commit{{AuthorEmail: "active@campus.edu", Counted: true}},
	}
	svc := NewRanking(st, zerolog.Nop())

	scores, err := svc.Leaderboard(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Active", scores[0].Member.Name)
	require.Equal(t, "Idle", scores[1].Member.Name)
	require.Zero(t, scores[1].CompletedPoints)
}

func TestLeaderboard_CommitEmailMatchIsCaseInsensitive(t *testing.T) {
	st := &memRankingStore{
		members: []domain.TeamMember{{ID: 1, Name: "Alice", Email: "Alice@Campus.edu"}},
		commits: []domain.Commit{
			{AuthorEmail: "alice@campus.edu", Counted: true},
			{AuthorEmail: "alice@campus.edu", Counted: false},
		},
	}
	svc := NewRanking(st, zerolog.Nop())

	scores, err := svc.Leaderboard(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, scores[0].QualifiedCommits)
}

func TestLeaderboard_UnmappedMemberGetsNoTasks(t *testing.T) {
	st := &memRankingStore{
		members: []domain.TeamMember{{ID: 1, Name: "Unmapped"}},
		tasks:   []domain.Task{doneTask("", 3)},
	}
	svc := NewRanking(st, zerolog.Nop())

	scores, err := svc.Leaderboard(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, scores[0].TotalTasks)
}

func TestDashboard_EmptyTeamIsAllZeros(t *testing.T) {
	svc := NewRanking(&memRankingStore{}, zerolog.Nop())

	sum, err := svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, sum.TotalTasks)
	require.Zero(t, sum.DonePercent)
	require.Nil(t, sum.LastCommitAt)
}

func TestDashboard_AggregatesProgressAndSprints(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := &memRankingStore{
		tasks: []domain.Task{
			doneTask("acc-a", 3),
			doneTask("acc-b", 2),
			{AssigneeAccountID: "acc-a", StatusCategory: "indeterminate", Estimate: 5},
			{AssigneeAccountID: "acc-b", StatusCategory: "new", Estimate: 1},
		},
		commits: []domain.Commit{
			{AuthorEmail: "a@campus.edu", Counted: true, CommittedAt: t0},
			{AuthorEmail: "b@campus.edu", Counted: false, CommittedAt: t0.Add(time.Hour)},
		},
		sprints: []domain.Sprint{
			{ExtID: 1, State: domain.SprintClosed},
			{ExtID: 2, State: domain.SprintActive},
			{ExtID: 3, State: domain.SprintFuture},
		},
	}
	svc := NewRanking(st, zerolog.Nop())

	sum, err := svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 4, sum.TotalTasks)
	require.Equal(t, 2, sum.DoneTasks)
	require.InDelta(t, 50.0, sum.DonePercent, 0.001)
	require.Equal(t, 2, sum.TotalCommits)
	require.Equal(t, 1, sum.CountedCommits)
	require.NotNil(t, sum.LastCommitAt)
	require.True(t, sum.LastCommitAt.Equal(t0.Add(time.Hour)))
	require.Equal(t, 1, sum.SprintsActive)
	require.Equal(t, 1, sum.SprintsFuture)
	require.Equal(t, 1, sum.SprintsClosed)
}

func TestDashboard_AllDoneIsHundredPercent(t *testing.T) {
	st := &memRankingStore{tasks: []domain.Task{doneTask("a", 1), doneTask("b", 2)}}
	svc := NewRanking(st, zerolog.Nop())

	sum, err := svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	require.InDelta(t, 100.0, sum.DonePercent, 0.001)
}
