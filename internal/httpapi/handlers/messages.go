package handlers

import (
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/models"
)

func messageDTO(m models.Message) gin.H {
	return gin.H{
		"id":             m.ID,
		"conversationId": m.ConversationID,
		"projectId":      m.ProjectID,
		"senderId":       m.SenderID,
		"receiverId":     m.ReceiverID,
		"content":        m.Content,
		"type":           m.Type,
		"status":         m.Status,
		"createdAt":      m.CreatedAt,
	}
}

// loadOwnedConversation loads a conversation and confirms the caller owns
// its project.
func (h *Handler) loadOwnedConversation(c *gin.Context, id, userID string) (*models.Conversation, error) {
	var cv models.Conversation
	if err := h.DB.WithContext(c.Request.Context()).First(&cv, "id = ?", id).Error; err != nil {
		return nil, apperr.ErrNotFound
	}
	if _, err := h.loadOwnedProject(c, cv.ProjectID, userID); err != nil {
		return nil, err
	}
	return &cv, nil
}

// ListMessages returns a conversation's messages oldest-first.
func (h *Handler) ListMessages(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	convID := c.Param("conversationId")
	if _, err := h.loadOwnedConversation(c, convID, userID); err != nil {
		common.FailErr(c, err)
		return
	}

	var msgs []models.Message
	if err := h.DB.WithContext(c.Request.Context()).Where("conversation_id = ?", convID).Order("created_at ASC").Find(&msgs).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list messages", err))
		return
	}
	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO(m))
	}
	common.OK(c, out)
}

type createMessageReq struct {
	Content string `json:"content"`
}

// CreateMessage posts a user message into a conversation, attributed to the
// System agent (spec.md §4.1/§4.5): the receiver is whichever conversation
// party isn't System. The nudge is published only after the transaction
// commits, and it goes out over the durable AMQP path rather than the
// in-process Nudge, since the API service and the worker are separate
// processes (spec.md §4.5).
func (h *Handler) CreateMessage(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	convID := c.Param("conversationId")
	cv, err := h.loadOwnedConversation(c, convID, userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var req createMessageReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if req.Content == "" {
		common.FailErr(c, apperr.New(apperr.KindValidation, "content is required"))
		return
	}
	if utf8.RuneCountInString(req.Content) > h.Cfg.MaxMessageLength {
		common.FailErr(c, apperr.New(apperr.KindValidation, "content exceeds maximum length"))
		return
	}

	receiver := cv.ReceiverID
	if receiver == models.SystemAgentID {
		receiver = cv.SenderID
	}

	var msg models.Message
	var project models.Project
	var blocked *apperr.Error
	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, "id = ?", cv.ProjectID).Error; err != nil {
			return err
		}
		if project.Paused {
			blocked = apperr.ErrPaused
			return blocked
		}
		if project.RemainingBudget <= 0 {
			blocked = apperr.New(apperr.KindBudgetExhausted, "message limit reached")
			return blocked
		}

		msg = models.Message{
			ID:             common.NewULID(),
			ConversationID: cv.ID,
			ProjectID:      cv.ProjectID,
			SenderID:       models.SystemAgentID,
			ReceiverID:     receiver,
			Content:        req.Content,
			Type:           models.MessageTypeUser,
			Status:         models.MessageStatusPending,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&project).Update("last_activity_at", time.Now()).Error
	})
	if err != nil {
		if blocked != nil {
			common.FailErr(c, blocked)
			return
		}
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to create message", err))
		return
	}

	if h.Hub != nil {
		h.Hub.Publish(c.Request.Context(), cv.ProjectID, liveupdate.Event{
			Type: liveupdate.EventNewMessage, Payload: messageDTO(msg),
		})
	}
	if h.Disp != nil {
		if err := h.Disp.PublishNudge(c.Request.Context(), cv.ProjectID); err != nil {
			common.FailErr(c, apperr.Wrap(apperr.KindInternal, "message stored but failed to schedule processing", err))
			return
		}
	}

	common.OK(c, messageDTO(msg))
}
