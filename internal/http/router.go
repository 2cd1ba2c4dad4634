package http

import (
	"github.com/campusdev/teamsync/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, h *Handlers) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	r.GET("/healthz", h.Healthz)

	r.POST("/webhooks/jira", h.JiraWebhook)

	r.POST("/teams/:id/sync", h.SyncTeam)
	r.POST("/teams/:id/sync-lead", h.SyncLead)
	r.GET("/teams/:id/history", h.SyncHistory)
	r.GET("/teams/:id/leaderboard", h.Leaderboard)
	r.GET("/teams/:id/dashboard", h.Dashboard)
	r.GET("/teams/:id/events", h.TeamEvents)

	r.GET("/teams/:id/members/by-account/:account", h.ResolveMember)

	r.GET("/members/:id", h.GetMember)
	r.PUT("/members/:id/identity", h.UpdateIdentity)
	r.POST("/members/:id/integrations/:provider", h.Connect)

	return r
}
