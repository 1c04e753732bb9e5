// Package httpapi wires the gin router: the public, session-authenticated
// surface (spec.md §6) and the internal, preshared-key-authenticated
// surface (spec.md §4.2), plus the live-update websocket upgrade.
// Grounded on the teacher's internal/httpapi/router.go — same gin.New(),
// middleware.Recovery()/RequestID(), NoRoute/NoMethod via common.Fail.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/config"
	"github.com/opencrew/agent-mesh/internal/crypto"
	"github.com/opencrew/agent-mesh/internal/dispatcher"
	"github.com/opencrew/agent-mesh/internal/httpapi/handlers"
	"github.com/opencrew/agent-mesh/internal/httpapi/middleware"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

func NewRouter(db *gorm.DB, cfg config.Config, cipher *crypto.TokenCipher, repo *turnengine.Repo, disp *dispatcher.Dispatcher, hub *liveupdate.Hub) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, cipher, repo, disp, hub)

	// Live-update channel lives at the root path (spec.md §6: "a persistent
	// bidirectional connection at /"), outside the /api tree entirely —
	// it is not a REST resource.
	r.GET("/", hub.ServeWS(cfg.SessionSigningKey))

	api := r.Group("/api")

	authPublic := api.Group("/auth")
	authPublic.POST("/register", h.Register)
	authPublic.POST("/login", h.Login)

	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.SessionSigningKey))
	{
		authGroup.POST("/auth/logout", h.Logout)
		authGroup.GET("/auth/me", h.Me)

		authGroup.GET("/agents", h.ListAgents)
		authGroup.POST("/agents", h.CreateAgent)

		authGroup.GET("/tokens", h.ListTokens)
		authGroup.POST("/tokens", h.CreateToken)
		authGroup.DELETE("/tokens/:id", h.DeleteToken)
		authGroup.POST("/tokens/:id/enable", h.EnableToken)
		authGroup.POST("/tokens/:id/disable", h.DisableToken)

		authGroup.GET("/projects", h.ListProjects)
		authGroup.POST("/projects", h.CreateProject)
		authGroup.GET("/projects/:id", h.GetProject)
		authGroup.DELETE("/projects/:id", h.DeleteProject)
		authGroup.POST("/projects/:id/status", h.SetProjectStatus)

		authGroup.PATCH("/settings/project/:id/token", h.SetProjectToken)
		authGroup.PATCH("/settings/project/:id/pause", h.SetProjectPause)
		authGroup.PATCH("/settings/project/:id/limit", h.SetProjectLimit)

		authGroup.GET("/conversations/:projectId", h.ListConversations)
		authGroup.POST("/conversations/:projectId", h.CreateConversation)

		authGroup.GET("/messages/:conversationId", h.ListMessages)
		authGroup.POST("/messages/:conversationId", h.CreateMessage)

		authGroup.GET("/logs/:projectId", h.ListLogs)
		authGroup.DELETE("/logs/:projectId", h.ClearLogs)
	}

	internalGroup := api.Group("/internal")
	internalGroup.Use(middleware.InternalKeyRequired(cfg.InternalAPIKey))
	{
		internalGroup.GET("/projects/:projectId/context", h.GetContext)
		internalGroup.GET("/projects/:projectId/pending-queue", h.PendingQueue)
		internalGroup.POST("/messages", h.CreateAgentMessage)
		internalGroup.PATCH("/messages/:id/status", h.UpdateMessageStatus)
		internalGroup.POST("/logs", h.CreateLog)
		internalGroup.POST("/projects/:projectId/summaries", h.UpsertSummary)
		internalGroup.GET("/projects/:projectId/summaries", h.ListSummaries)
		internalGroup.GET("/projects/:projectId/summaries/:agentId", h.GetSummary)
		internalGroup.POST("/projects/:projectId/budget/decrement", h.DecrementBudget)
		internalGroup.POST("/projects/:projectId/agents/:agentId/increment-count", h.IncrementAgentCount)
		internalGroup.GET("/projects/:projectId/flags", h.GetProjectFlags)
		internalGroup.GET("/projects/:projectId/agents/:agentId/recent-messages", h.RecentAgentMessages)
		internalGroup.GET("/projects/active", h.ActiveProjects)
		internalGroup.GET("/projects/:projectId/oldest-pending", h.OldestPending)
		internalGroup.POST("/projects/:projectId/pause", h.PauseProjectInternal)
	}

	return r
}
