package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/store"
)

func agentDTO(a models.Agent) gin.H {
	return gin.H{
		"id":          a.ID,
		"name":        a.Name,
		"role":        a.Role,
		"description": a.Description,
		"model":       a.Model,
		"createdAt":   a.CreatedAt,
	}
}

// ListAgents returns every agent the caller owns (spec.md §4.1: "list/
// create per owner"). The singleton System agent has no owner and is
// never listed here — it is implicit in every project, never a resource
// a user manages.
func (h *Handler) ListAgents(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var agents []models.Agent
	if err := h.DB.WithContext(c.Request.Context()).Where("owner_user_id = ?", userID).Order("created_at ASC").Find(&agents).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list agents", err))
		return
	}
	out := make([]gin.H, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentDTO(a))
	}
	common.OK(c, out)
}

type createAgentReq struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Model       string `json:"model"`
}

// CreateAgent allocates a fresh integer agent id (the System agent alone
// owns id 0) and inserts the row under the caller's ownership.
func (h *Handler) CreateAgent(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)

	var req createAgentReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		common.FailErr(c, apperr.New(apperr.KindValidation, "name is required"))
		return
	}

	var agent models.Agent
	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		id, err := store.NextAgentID(tx)
		if err != nil {
			return err
		}
		agent = models.Agent{
			ID:          id,
			OwnerUserID: &userID,
			Name:        req.Name,
			Role:        req.Role,
			Description: req.Description,
			Model:       req.Model,
		}
		return tx.Create(&agent).Error
	})
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to create agent", err))
		return
	}

	common.OK(c, agentDTO(agent))
}
