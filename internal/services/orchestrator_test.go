package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusdev/teamsync/internal/adapters/jira"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type memOrchStore struct {
	team    *domain.Team
	leader  *domain.TeamMember
	entries []domain.SyncHistoryEntry
}

func (s *memOrchStore) GetTeam(ctx context.Context, id int64) (*domain.Team, error) {
	if s.team == nil {
		return nil, domain.ErrNotFound
	}
	return s.team, nil
}

func (s *memOrchStore) GetLeader(ctx context.Context, teamID int64) (*domain.TeamMember, error) {
	if s.leader == nil {
		return nil, domain.ErrNotFound
	}
	return s.leader, nil
}

func (s *memOrchStore) SetTeamSynced(ctx context.Context, teamID int64, at time.Time, entry domain.SyncHistoryEntry, limit int) error {
	s.entries = append(s.entries, entry)
	return nil
}

type orchFixture struct {
	orch      *Orchestrator
	store     *memOrchStore
	fetcher   *fakeFetcher
	commitSt  *memCommitStore
	client    *fakeTrackerClient
	trackerSt *memTrackerStore
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()
	store := &memOrchStore{
		team:   &domain.Team{ID: 5, RepoOwner: "campus", RepoName: "proj", JiraBoardID: 12, JiraProjectKey: "CAMP"},
		leader: &domain.TeamMember{ID: 31, TeamID: 5, Role: domain.RoleLeader},
	}
	fetcher := &fakeFetcher{}
	commitSt := newMemCommitStore()
	client := &fakeTrackerClient{issues: map[int64][]jira.Issue{}}
	trackerSt := newMemTrackerStore()

	creds, _ := credService(&fakeExchanger{})
	require.NoError(t, creds.Connect(context.Background(), 31, domain.ProviderCredential{
		Provider: domain.ProviderGithub,
		Github:   &domain.GithubCredential{AccessToken: "gh-token", Username: "leader"},
	}))
	seedJira(t, creds, 31, "jira-token", "jira-refresh")

	commits := commitsService(fetcher, commitSt)
	tracker := NewTracker(client, trackerSt, &recPub{}, zerolog.Nop())
	orch := NewOrchestrator(store, commits, tracker, creds, 20, zerolog.Nop())
	return &orchFixture{orch: orch, store: store, fetcher: fetcher, commitSt: commitSt, client: client, trackerSt: trackerSt}
}

func TestSyncTeam_RunsBothLegsAndRecordsHistory(t *testing.T) {
	fx := newOrchFixture(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fx.fetcher.commits = []domain.VCSCommit{
		{Hash: "h1", AuthorEmail: "dev@campus.edu", Message: "wire up endpoints", CommittedAt: t0},
	}
	fx.client.sprints = []jira.Sprint{{ID: 101, Name: "Sprint 1", State: "active"}}
	fx.client.issues[101] = []jira.Issue{{ID: "9001", Key: "CAMP-1", Summary: "task", StatusCategory: "new"}}

	res := fx.orch.SyncTeam(context.Background(), 5)

	require.NotEmpty(t, res.RunID)
	require.Equal(t, 1, res.Commits.Fetched)
	require.Equal(t, 1, res.Commits.Counted)
	require.Equal(t, 1, res.Tracker.Sprints)
	require.Equal(t, 1, res.Tracker.Tasks)
	require.Empty(t, res.AllErrors())

	require.Len(t, fx.store.entries, 1)
	entry := fx.store.entries[0]
	require.Equal(t, res.RunID, entry.RunID)
	require.Equal(t, 1, entry.CommitsCounted)
	require.Equal(t, 1, entry.TasksSynced)
}

func TestSyncTeam_LegFailuresAreIsolated(t *testing.T) {
	fx := newOrchFixture(t)
	fx.fetcher.err = errors.New("github down")
	fx.client.sprints = []jira.Sprint{{ID: 101, Name: "Sprint 1", State: "active"}}

	res := fx.orch.SyncTeam(context.Background(), 5)

	require.Len(t, res.Commits.Errors, 1)
	require.Equal(t, 1, res.Tracker.Sprints)
	require.Len(t, fx.store.entries, 1)
	require.Len(t, fx.store.entries[0].Errors, 1)
}

func TestSyncTeam_MissingLeaderSkipsLegsButRecordsRun(t *testing.T) {
	fx := newOrchFixture(t)
	fx.store.leader = nil

	res := fx.orch.SyncTeam(context.Background(), 5)

	require.Len(t, res.Errors, 1)
	require.Zero(t, res.Commits.Fetched)
	require.Zero(t, res.Tracker.Sprints)
	require.Len(t, fx.store.entries, 1)
}

func TestSyncTeam_UnknownTeamReturnsResultWithoutHistory(t *testing.T) {
	fx := newOrchFixture(t)
	fx.store.team = nil

	res := fx.orch.SyncTeam(context.Background(), 404)

	require.Len(t, res.Errors, 1)
	require.Empty(t, fx.store.entries)
}
