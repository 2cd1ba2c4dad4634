package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/campusdev/teamsync/internal/adapters/jira"
	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/campusdev/teamsync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubTrackerClient struct{}

func (stubTrackerClient) Sprints(ctx context.Context, token, cloudID string, boardID int64) ([]jira.Sprint, error) {
	return nil, nil
}

func (stubTrackerClient) SprintIssues(ctx context.Context, token, cloudID string, sprintID int64) ([]jira.Issue, error) {
	return nil, nil
}

func (stubTrackerClient) Project(ctx context.Context, token, cloudID, key string) (*jira.Project, error) {
	return nil, domain.ErrNotFound
}

type stubTrackerStore struct {
	team  *domain.Team
	tasks map[string]domain.Task
}

func (s *stubTrackerStore) UpsertSprint(ctx context.Context, sp domain.Sprint) (int64, error) {
	return 1, nil
}

func (s *stubTrackerStore) EnsureFallbackSprint(ctx context.Context, teamID int64) (int64, error) {
	return 1, nil
}

func (s *stubTrackerStore) UpsertTask(ctx context.Context, t domain.Task) (bool, error) {
	_, exists := s.tasks[t.ExtID]
	s.tasks[t.ExtID] = t
	return !exists, nil
}

func (s *stubTrackerStore) DeleteTaskByExtID(ctx context.Context, extID string) (bool, error) {
	_, ok := s.tasks[extID]
	delete(s.tasks, extID)
	return ok, nil
}

func (s *stubTrackerStore) ResolveMemberByAccountID(ctx context.Context, teamID int64, accountID string) (*domain.TeamMember, error) {
	return nil, domain.ErrNotFound
}

func (s *stubTrackerStore) FindTeamByProjectKey(ctx context.Context, projectKey string) (*domain.Team, error) {
	if s.team != nil && s.team.JiraProjectKey == projectKey {
		return s.team, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubTrackerStore) SetLeader(ctx context.Context, teamID, memberID int64) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Emit(scope, event string, payload any) {}

func webhookRouter(store *stubTrackerStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	tracker := services.NewTracker(stubTrackerClient{}, store, nopPublisher{}, zerolog.Nop())
	h := &Handlers{cfg: config.Config{}, log: zerolog.Nop(), tracker: tracker}
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.POST("/webhooks/jira", h.JiraWebhook)
	return r
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	webhookRouter(&stubTrackerStore{tasks: map[string]domain.Task{}}).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestJiraWebhook_GarbagePayloadStillAcknowledged(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/jira", strings.NewReader("not json"))
	webhookRouter(&stubTrackerStore{tasks: map[string]domain.Task{}}).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":true`)
}

func TestJiraWebhook_UnknownProjectAcknowledged(t *testing.T) {
	store := &stubTrackerStore{tasks: map[string]domain.Task{}}
	body := `{"webhookEvent":"jira:issue_created","issue":{"id":"1","key":"NOPE-1","fields":{"summary":"x","status":{"name":"To Do","statusCategory":{"key":"new"}},"project":{"key":"NOPE"}}}}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/jira", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	webhookRouter(store).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, store.tasks)
}

func TestJiraWebhook_CreatedEventStoresTask(t *testing.T) {
	store := &stubTrackerStore{
		team:  &domain.Team{ID: 5, JiraProjectKey: "CAMP"},
		tasks: map[string]domain.Task{},
	}
	body := `{"webhookEvent":"jira:issue_created","issue":{"id":"9001","key":"CAMP-1","fields":{"summary":"build it","status":{"name":"To Do","statusCategory":{"key":"new"}},"assignee":{"accountId":"acc-1"},"project":{"key":"CAMP"},"customfield_10016":3}}}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/jira", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	webhookRouter(store).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	task, ok := store.tasks["9001"]
	require.True(t, ok)
	require.Equal(t, "CAMP-1", task.Key)
	require.Equal(t, "acc-1", task.AssigneeAccountID)
	require.InDelta(t, 3.0, task.Estimate, 0.001)
}
