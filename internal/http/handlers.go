package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/campusdev/teamsync/internal/config"
	"github.com/campusdev/teamsync/internal/domain"
	"github.com/campusdev/teamsync/internal/events"
	"github.com/campusdev/teamsync/internal/repo"
	"github.com/campusdev/teamsync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Handlers struct {
	cfg      config.Config
	log      zerolog.Logger
	repo     *repo.Repository
	orch     *services.Orchestrator
	tracker  *services.Tracker
	ranking  *services.Ranking
	identity *services.Identity
	creds    *services.Credentials
	hub      *events.Hub
}

func NewHandlers(cfg config.Config, log zerolog.Logger, r *repo.Repository,
	orch *services.Orchestrator, tracker *services.Tracker, ranking *services.Ranking,
	identity *services.Identity, creds *services.Credentials, hub *events.Hub) *Handlers {
	return &Handlers{cfg: cfg, log: log, repo: r, orch: orch, tracker: tracker,
		ranking: ranking, identity: identity, creds: creds, hub: hub}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// JiraWebhook always acknowledges: the sender must never be pushed into a
// retry storm by our internal failures.
func (h *Handlers) JiraWebhook(c *gin.Context) {
	var payload struct {
		WebhookEvent string `json:"webhookEvent"`
		Issue        *struct {
			ID     string `json:"id"`
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name           string `json:"name"`
					StatusCategory struct {
						Key string `json:"key"`
					} `json:"statusCategory"`
				} `json:"status"`
				Assignee *struct {
					AccountID string `json:"accountId"`
				} `json:"assignee"`
				Project struct {
					Key string `json:"key"`
				} `json:"project"`
				Estimate *float64 `json:"customfield_10016"`
			} `json:"fields"`
		} `json:"issue"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Issue == nil {
		h.log.Info().Err(err).Msg("jira webhook with unreadable payload acknowledged")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	evt := services.IssueEvent{
		Kind:           strings.TrimPrefix(payload.WebhookEvent, "jira:issue_"),
		IssueID:        payload.Issue.ID,
		Key:            payload.Issue.Key,
		Summary:        payload.Issue.Fields.Summary,
		Status:         payload.Issue.Fields.Status.Name,
		StatusCategory: strings.ToLower(payload.Issue.Fields.Status.StatusCategory.Key),
		ProjectKey:     payload.Issue.Fields.Project.Key,
	}
	if payload.Issue.Fields.Assignee != nil {
		evt.AssigneeAccountID = payload.Issue.Fields.Assignee.AccountID
	}
	if payload.Issue.Fields.Estimate != nil {
		evt.Estimate = *payload.Issue.Fields.Estimate
	}
	if err := h.tracker.HandleIssueEvent(c.Request.Context(), evt); err != nil {
		h.log.Error().Err(err).Str("issue", evt.Key).Msg("jira webhook processing failed")
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SyncTeam queues a reconciliation run detached from the HTTP request so the
// caller's disconnect cannot cancel it.
func (h *Handlers) SyncTeam(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	go func() { _ = h.orch.SyncTeam(context.Background(), teamID) }()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) SyncLead(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	team, err := h.repo.GetTeam(ctx, teamID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	leader, err := h.repo.GetLeader(ctx, teamID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "team has no leader"})
		return
	}
	err = h.creds.WithFreshToken(ctx, leader.ID, func(cred *domain.JiraCredential) error {
		return h.tracker.SyncProjectLead(ctx, *team, cred.AccessToken, cred.CloudID)
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) SyncHistory(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	history, err := h.repo.GetSyncHistory(c.Request.Context(), teamID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *Handlers) Leaderboard(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	scores, err := h.ranking.Leaderboard(c.Request.Context(), teamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": scores})
}

func (h *Handlers) Dashboard(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	sum, err := h.ranking.Dashboard(c.Request.Context(), teamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// TeamEvents streams task mutation events for the team over SSE.
func (h *Handlers) TeamEvents(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	ch, cancel := h.hub.Subscribe(fmt.Sprintf("team:%d", teamID))
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(msg.Event, msg.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handlers) GetMember(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	m, err := h.repo.GetMember(c.Request.Context(), memberID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

// ResolveMember answers which member the external account id maps to within
// the team; 404 when nobody claimed it yet.
func (h *Handlers) ResolveMember(c *gin.Context) {
	teamID, ok := pathID(c)
	if !ok {
		return
	}
	m, err := h.identity.Resolve(c.Request.Context(), teamID, c.Param("account"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no member mapped to account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

func (h *Handlers) UpdateIdentity(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	var body struct {
		JiraAccountID  *string `json:"jira_account_id"`
		GithubUsername *string `json:"github_username"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := h.identity.SetMapping(c.Request.Context(), memberID, body.JiraAccountID, body.GithubUsername)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

func (h *Handlers) Connect(c *gin.Context) {
	memberID, ok := pathID(c)
	if !ok {
		return
	}
	provider := domain.Provider(c.Param("provider"))
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Username     string `json:"username"`
		AccountID    string `json:"account_id"`
		CloudID      string `json:"cloud_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cred := domain.ProviderCredential{Provider: provider}
	switch provider {
	case domain.ProviderGithub:
		cred.Github = &domain.GithubCredential{AccessToken: body.AccessToken, Username: body.Username}
	case domain.ProviderJira:
		cred.Jira = &domain.JiraCredential{
			AccessToken:  body.AccessToken,
			RefreshToken: body.RefreshToken,
			AccountID:    body.AccountID,
			CloudID:      body.CloudID,
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}
	if err := h.creds.Connect(c.Request.Context(), memberID, cred); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
