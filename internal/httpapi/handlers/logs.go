package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/models"
)

func logDTO(l models.Log) gin.H {
	return gin.H{
		"id":        l.ID,
		"projectId": l.ProjectID,
		"level":     l.Level,
		"code":      l.Code,
		"message":   l.Message,
		"createdAt": l.CreatedAt,
	}
}

// ListLogs returns a project's activity log, newest first.
func (h *Handler) ListLogs(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	projectID := c.Param("projectId")
	if _, err := h.loadOwnedProject(c, projectID, userID); err != nil {
		common.FailErr(c, err)
		return
	}

	var logs []models.Log
	if err := h.DB.WithContext(c.Request.Context()).Where("project_id = ?", projectID).Order("created_at DESC").Find(&logs).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list logs", err))
		return
	}
	out := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		out = append(out, logDTO(l))
	}
	common.OK(c, out)
}

// ClearLogs bulk-deletes a project's log history.
func (h *Handler) ClearLogs(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	projectID := c.Param("projectId")
	if _, err := h.loadOwnedProject(c, projectID, userID); err != nil {
		common.FailErr(c, err)
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Where("project_id = ?", projectID).Delete(&models.Log{}).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to clear logs", err))
		return
	}
	common.OK(c, gin.H{})
}
