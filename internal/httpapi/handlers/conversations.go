package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/models"
)

func conversationDTO(cv models.Conversation) gin.H {
	return gin.H{
		"id":         cv.ID,
		"projectId":  cv.ProjectID,
		"senderId":   cv.SenderID,
		"receiverId": cv.ReceiverID,
		"createdAt":  cv.CreatedAt,
	}
}

// ListConversations returns every conversation in a project the caller
// owns.
func (h *Handler) ListConversations(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	projectID := c.Param("projectId")
	if _, err := h.loadOwnedProject(c, projectID, userID); err != nil {
		common.FailErr(c, err)
		return
	}

	var convs []models.Conversation
	if err := h.DB.WithContext(c.Request.Context()).Where("project_id = ?", projectID).Order("created_at ASC").Find(&convs).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list conversations", err))
		return
	}
	out := make([]gin.H, 0, len(convs))
	for _, cv := range convs {
		out = append(out, conversationDTO(cv))
	}
	common.OK(c, out)
}

type createConversationReq struct {
	ReceiverID uint64 `json:"receiverId"`
	Title      string `json:"title"`
}

// CreateConversation is always sender=System (spec.md §4.1: "create
// (user-initiated) is constrained to pairs where the user acts as the
// System agent"). Title is accepted but never persisted — spec.md §9
// treats it as a derived presentation concern, not core model state.
func (h *Handler) CreateConversation(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	projectID := c.Param("projectId")
	if _, err := h.loadOwnedProject(c, projectID, userID); err != nil {
		common.FailErr(c, err)
		return
	}

	var req createConversationReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	var member models.ProjectMember
	err := h.DB.WithContext(c.Request.Context()).First(&member, "project_id = ? AND agent_id = ?", projectID, req.ReceiverID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.FailErr(c, apperr.New(apperr.KindValidation, "receiverId is not a member of this project"))
		return
	}
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to verify member", err))
		return
	}

	pair := conversationPairKey(models.SystemAgentID, req.ReceiverID)
	conv := models.Conversation{
		ID:         common.NewULID(),
		ProjectID:  projectID,
		SenderID:   pair[0],
		ReceiverID: pair[1],
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&conv).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindConflict, "conversation already exists for this pair", err))
		return
	}
	common.OK(c, conversationDTO(conv))
}
