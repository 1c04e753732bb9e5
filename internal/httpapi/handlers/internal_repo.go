// Internal-surface handlers: thin REST wrappers over turnengine.Repo,
// exposed so external tooling can observe/drive project state the same way
// cmd/worker and cmd/watchdog do in-process (spec.md §4.2). Neither of
// those two processes calls through this HTTP surface themselves — they
// hold the *turnengine.Repo directly, which is strictly cheaper — this
// exists purely for external parity with the spec's documented contract.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/models"
)

// GetContext exposes turnengine.Repo.GetContext.
func (h *Handler) GetContext(c *gin.Context) {
	projectID := c.Param("projectId")
	snap, err := h.Repo.GetContext(c.Request.Context(), projectID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to load context", err))
		return
	}

	members := make([]gin.H, 0, len(snap.Members))
	for _, m := range snap.Members {
		members = append(members, gin.H{
			"agentId":      m.AgentID,
			"name":         m.Name,
			"role":         m.Role,
			"prompt":       m.Prompt,
			"model":        m.Model,
			"canAddress":   m.CanAddress,
			"summary":      m.Summary,
			"messageCount": m.MessageCount,
		})
	}
	conversations := make([]gin.H, 0, len(snap.Conversations))
	for pair, id := range snap.Conversations {
		conversations = append(conversations, gin.H{"senderId": pair[0], "receiverId": pair[1], "conversationId": id})
	}

	resp := gin.H{
		"project":       projectDTO(snap.Project),
		"members":       members,
		"conversations": conversations,
	}
	if snap.Token != nil {
		resp["tokenId"] = snap.Token.ID
	}
	common.OK(c, resp)
}

// PendingQueue exposes turnengine.Repo.PendingQueue.
func (h *Handler) PendingQueue(c *gin.Context) {
	projectID := c.Param("projectId")
	msgs, err := h.Repo.PendingQueue(c.Request.Context(), projectID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to load pending queue", err))
		return
	}
	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO(m))
	}
	common.OK(c, out)
}

type createAgentMessageReq struct {
	ConversationID string             `json:"conversationId"`
	ProjectID      string             `json:"projectId"`
	SenderID       uint64             `json:"senderId"`
	ReceiverID     uint64             `json:"receiverId"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type"`
}

// CreateAgentMessage exposes turnengine.Repo.CreateAgentMessage.
func (h *Handler) CreateAgentMessage(c *gin.Context) {
	var req createAgentMessageReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	msg := models.Message{
		ID:             common.NewULID(),
		ConversationID: req.ConversationID,
		ProjectID:      req.ProjectID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Type:           req.Type,
		Status:         models.MessageStatusPending,
	}
	if err := h.Repo.CreateAgentMessage(c.Request.Context(), &msg); err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to create message", err))
		return
	}
	common.OK(c, messageDTO(msg))
}

type updateMessageStatusReq struct {
	Status models.MessageStatus `json:"status"`
}

// UpdateMessageStatus exposes turnengine.Repo.UpdateMessageStatus.
func (h *Handler) UpdateMessageStatus(c *gin.Context) {
	var req updateMessageStatusReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if err := h.Repo.UpdateMessageStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to update message status", err))
		return
	}
	common.OK(c, gin.H{})
}

type createLogReq struct {
	ProjectID string          `json:"projectId"`
	Level     models.LogLevel `json:"level"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
}

// CreateLog exposes turnengine.Repo.CreateLog.
func (h *Handler) CreateLog(c *gin.Context) {
	var req createLogReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if err := h.Repo.CreateLog(c.Request.Context(), req.ProjectID, req.Level, req.Code, req.Message); err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to create log", err))
		return
	}
	common.OK(c, gin.H{})
}

type upsertSummaryReq struct {
	AgentID      uint64 `json:"agentId"`
	Summary      string `json:"summary"`
	SnapshotJSON string `json:"snapshotJson"`
}

// UpsertSummary exposes turnengine.Repo.UpsertSummary.
func (h *Handler) UpsertSummary(c *gin.Context) {
	projectID := c.Param("projectId")
	var req upsertSummaryReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if err := h.Repo.UpsertSummary(c.Request.Context(), projectID, req.AgentID, req.Summary, req.SnapshotJSON); err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to upsert summary", err))
		return
	}
	common.OK(c, gin.H{})
}

func summaryDTO(s models.AgentMemorySummary) gin.H {
	return gin.H{
		"projectId": s.ProjectID,
		"agentId":   s.AgentID,
		"summary":   s.Summary,
		"updatedAt": s.UpdatedAt,
	}
}

// GetSummary exposes turnengine.Repo.GetSummary.
func (h *Handler) GetSummary(c *gin.Context) {
	projectID := c.Param("projectId")
	agentID, err := parseUint64Param(c, "agentId")
	if err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid agentId"))
		return
	}
	s, err := h.Repo.GetSummary(c.Request.Context(), projectID, agentID)
	if err != nil {
		common.FailErr(c, apperr.ErrNotFound)
		return
	}
	common.OK(c, summaryDTO(*s))
}

// ListSummaries exposes turnengine.Repo.ListSummaries.
func (h *Handler) ListSummaries(c *gin.Context) {
	projectID := c.Param("projectId")
	summaries, err := h.Repo.ListSummaries(c.Request.Context(), projectID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list summaries", err))
		return
	}
	out := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryDTO(s))
	}
	common.OK(c, out)
}

// DecrementBudget exposes turnengine.Repo.DecrementBudget.
func (h *Handler) DecrementBudget(c *gin.Context) {
	projectID := c.Param("projectId")
	remaining, err := h.Repo.DecrementBudget(c.Request.Context(), projectID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to decrement budget", err))
		return
	}
	common.OK(c, gin.H{"remainingBudget": remaining})
}

// IncrementAgentCount exposes turnengine.Repo.IncrementAgentCount.
func (h *Handler) IncrementAgentCount(c *gin.Context) {
	projectID := c.Param("projectId")
	agentID, err := parseUint64Param(c, "agentId")
	if err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid agentId"))
		return
	}
	count, err := h.Repo.IncrementAgentCount(c.Request.Context(), projectID, agentID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to increment agent count", err))
		return
	}
	common.OK(c, gin.H{"messageCount": count})
}

// GetProjectFlags exposes turnengine.Repo.GetProjectFlags.
func (h *Handler) GetProjectFlags(c *gin.Context) {
	projectID := c.Param("projectId")
	flags, err := h.Repo.GetProjectFlags(c.Request.Context(), projectID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to load project flags", err))
		return
	}
	common.OK(c, gin.H{"paused": flags.Paused, "budget": flags.Budget, "tokenActive": flags.TokenActive})
}

// RecentAgentMessages exposes turnengine.Repo.RecentAgentMessages.
func (h *Handler) RecentAgentMessages(c *gin.Context) {
	projectID := c.Param("projectId")
	agentID, err := parseUint64Param(c, "agentId")
	if err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid agentId"))
		return
	}
	limit := 20
	if l, ok := c.GetQuery("limit"); ok {
		if n, err := parseInt(l); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.Repo.RecentAgentMessages(c.Request.Context(), projectID, agentID, limit)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to load recent messages", err))
		return
	}
	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO(m))
	}
	common.OK(c, out)
}

// ActiveProjects exposes turnengine.Repo.ActiveProjects.
func (h *Handler) ActiveProjects(c *gin.Context) {
	projects, err := h.Repo.ActiveProjects(c.Request.Context())
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list active projects", err))
		return
	}
	out := make([]gin.H, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectDTO(p))
	}
	common.OK(c, out)
}

// OldestPending exposes turnengine.Repo.OldestPending.
func (h *Handler) OldestPending(c *gin.Context) {
	projectID := c.Param("projectId")
	m, err := h.Repo.OldestPending(c.Request.Context(), projectID)
	if err != nil {
		common.FailErr(c, apperr.ErrNotFound)
		return
	}
	common.OK(c, messageDTO(*m))
}

type pauseReq struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PauseProjectInternal exposes turnengine.Repo.Pause for the watchdog's own
// HTTP-reachable contract.
func (h *Handler) PauseProjectInternal(c *gin.Context) {
	projectID := c.Param("projectId")
	var req pauseReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if err := h.Repo.Pause(c.Request.Context(), projectID, req.Code, req.Message); err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to pause project", err))
		return
	}
	common.OK(c, gin.H{})
}
