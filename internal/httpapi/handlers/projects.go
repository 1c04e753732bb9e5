package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/store"
)

func projectDTO(p models.Project) gin.H {
	return gin.H{
		"id":              p.ID,
		"title":           p.Title,
		"description":     p.Description,
		"systemPrompt":    p.SystemPrompt,
		"paused":          p.Paused,
		"remainingBudget": p.RemainingBudget,
		"tokenId":         p.TokenID,
		"createdAt":       p.CreatedAt,
		"lastActivityAt":  p.LastActivityAt,
	}
}

// loadOwnedProject loads a project by id and confirms the caller owns it,
// returning not-found for either absence or a mismatched owner — the
// caller can't distinguish the two, matching spec.md §7's "not-found —
// resource absent or not owned".
func (h *Handler) loadOwnedProject(c *gin.Context, id, userID string) (*models.Project, error) {
	var p models.Project
	if err := h.DB.WithContext(c.Request.Context()).First(&p, "id = ?", id).Error; err != nil {
		return nil, apperr.ErrNotFound
	}
	if p.OwnerUserID != userID {
		return nil, apperr.ErrNotFound
	}
	return &p, nil
}

// ListProjects returns every project the caller owns.
func (h *Handler) ListProjects(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var projects []models.Project
	if err := h.DB.WithContext(c.Request.Context()).Where("owner_user_id = ?", userID).Order("created_at DESC").Find(&projects).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list projects", err))
		return
	}
	out := make([]gin.H, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectDTO(p))
	}
	common.OK(c, out)
}

// GetProject returns the project plus its membership and conversation
// graph, the "detailed" view spec.md §6 calls for.
func (h *Handler) GetProject(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	p, err := h.loadOwnedProject(c, c.Param("id"), userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var members []models.ProjectMember
	if err := h.DB.WithContext(c.Request.Context()).Where("project_id = ?", p.ID).Find(&members).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list members", err))
		return
	}
	agentIDs := make([]uint64, 0, len(members))
	for _, m := range members {
		agentIDs = append(agentIDs, m.AgentID)
	}
	var agents []models.Agent
	if len(agentIDs) > 0 {
		if err := h.DB.WithContext(c.Request.Context()).Where("id IN ?", agentIDs).Find(&agents).Error; err != nil {
			common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to load agents", err))
			return
		}
	}
	agentByID := make(map[uint64]models.Agent, len(agents))
	for _, a := range agents {
		agentByID[a.ID] = a
	}

	canAddressByAgent, err := store.CanAddressForProject(h.DB.WithContext(c.Request.Context()), p.ID)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to load member permissions", err))
		return
	}

	memberViews := make([]gin.H, 0, len(members))
	for _, m := range members {
		a := agentByID[m.AgentID]
		memberViews = append(memberViews, gin.H{
			"agentId":       m.AgentID,
			"name":          a.Name,
			"role":          firstNonEmpty(m.RoleOverride, a.Role),
			"model":         a.Model,
			"canMessageIds": canAddressByAgent[m.AgentID],
		})
	}

	var convs []models.Conversation
	if err := h.DB.WithContext(c.Request.Context()).Where("project_id = ?", p.ID).Find(&convs).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list conversations", err))
		return
	}
	convViews := make([]gin.H, 0, len(convs))
	for _, cv := range convs {
		convViews = append(convViews, conversationDTO(cv))
	}

	resp := projectDTO(*p)
	resp["members"] = memberViews
	resp["conversations"] = convViews
	common.OK(c, resp)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type createProjectAgentReq struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	Description   string `json:"description"`
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	CanMessageIds []int  `json:"canMessageIds"`
}

type createProjectReq struct {
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	SystemPrompt string                  `json:"systemPrompt"`
	TokenID      *string                 `json:"tokenId"`
	Agents       []createProjectAgentReq `json:"agents"`
}

// CreateProject atomically inserts the project, every inline agent
// definition, the membership rows carrying each agent's allowed
// recipients, and one conversation per unordered pair those recipient
// sets imply (spec.md §4.1).
//
// canMessageIds entries are 0-based indices into this same request's
// agents[] array, not persisted agent ids — at request time the new
// agents don't have ids yet, and indices are the only way one inline
// agent can name another as an allowed recipient in the same call. An
// agent addressing one it doesn't know about (index out of range, or
// itself) is simply dropped from its allow-list rather than rejecting
// the whole request.
func (h *Handler) CreateProject(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)

	var req createProjectReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		common.FailErr(c, apperr.New(apperr.KindValidation, "title is required"))
		return
	}

	if req.TokenID != nil {
		if _, err := h.loadOwnedToken(c, *req.TokenID, userID); err != nil {
			common.FailErr(c, apperr.New(apperr.KindValidation, "tokenId does not reference a token you own"))
			return
		}
	}

	var project models.Project
	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		project = models.Project{
			ID:           store.NewUUID(),
			OwnerUserID:  userID,
			Title:        req.Title,
			Description:  req.Description,
			SystemPrompt: req.SystemPrompt,
			Paused:       true,
			TokenID:      req.TokenID,
		}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}

		agentIDs := make([]uint64, len(req.Agents))
		for i, a := range req.Agents {
			id, err := store.NextAgentID(tx)
			if err != nil {
				return err
			}
			agent := models.Agent{
				ID:          id,
				OwnerUserID: &userID,
				Name:        a.Name,
				Role:        a.Role,
				Description: a.Description,
				Model:       a.Model,
			}
			if err := tx.Create(&agent).Error; err != nil {
				return err
			}
			agentIDs[i] = id
		}

		pairs := make(map[[2]uint64]struct{})
		for i, a := range req.Agents {
			canAddress := make([]uint64, 0, len(a.CanMessageIds))
			for _, idx := range a.CanMessageIds {
				if idx < 0 || idx >= len(agentIDs) || idx == i {
					continue
				}
				target := agentIDs[idx]
				canAddress = append(canAddress, target)
				pairs[conversationPairKey(agentIDs[i], target)] = struct{}{}
			}
			member := models.ProjectMember{
				ProjectID:      project.ID,
				AgentID:        agentIDs[i],
				PromptOverride: a.Prompt,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
			if err := store.SetCanAddress(tx, project.ID, agentIDs[i], canAddress); err != nil {
				return err
			}
		}

		for pair := range pairs {
			conv := models.Conversation{
				ID:         common.NewULID(),
				ProjectID:  project.ID,
				SenderID:   pair[0],
				ReceiverID: pair[1],
			}
			if err := tx.Create(&conv).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindConflict, "failed to create project (title may already be in use)", err))
		return
	}

	common.OK(c, projectDTO(project))
}

func conversationPairKey(a, b uint64) [2]uint64 {
	if a <= b {
		return [2]uint64{a, b}
	}
	return [2]uint64{b, a}
}

// DeleteProject cascades to members, conversations, messages, summaries,
// and logs, in a single transaction. Demo/snapshot projects are read-only.
func (h *Handler) DeleteProject(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	p, err := h.loadOwnedProject(c, c.Param("id"), userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if h.isDemoProject(p.ID) {
		common.FailErr(c, apperr.ErrForbiddenDemo)
		return
	}

	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range []struct {
			model any
			where string
		}{
			{&models.Log{}, "project_id = ?"},
			{&models.AgentMemorySummary{}, "project_id = ?"},
			{&models.Message{}, "project_id = ?"},
			{&models.Conversation{}, "project_id = ?"},
			{&models.ProjectMemberAddressable{}, "project_id = ?"},
			{&models.ProjectMember{}, "project_id = ?"},
		} {
			if err := tx.Where(stmt.where, p.ID).Delete(stmt.model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Project{}, "id = ?", p.ID).Error
	})
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to delete project", err))
		return
	}
	common.OK(c, gin.H{})
}

type statusReq struct {
	Paused bool `json:"paused"`
}

// SetProjectStatus toggles paused; resuming bumps last_activity_at and
// nudges the worker so it notices immediately instead of waiting for the
// watchdog's next sweep.
func (h *Handler) SetProjectStatus(c *gin.Context) {
	var req statusReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	h.setProjectPaused(c, c.Param("id"), req.Paused)
}

// setProjectPaused is shared by /projects/:id/status and
// /settings/project/:id/pause — spec.md §6 exposes the same mutation
// through both routes.
func (h *Handler) setProjectPaused(c *gin.Context, projectID string, paused bool) {
	userID, _ := auth.UserIDFromContext(c)
	p, err := h.loadOwnedProject(c, projectID, userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if h.isDemoProject(p.ID) && paused != p.Paused {
		common.FailErr(c, apperr.ErrForbiddenDemo)
		return
	}

	updates := map[string]any{"paused": paused}
	if !paused {
		updates["last_activity_at"] = time.Now()
	}
	if err := h.DB.WithContext(c.Request.Context()).Model(p).Updates(updates).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to update project status", err))
		return
	}

	p.Paused = paused
	if h.Hub != nil {
		h.Hub.Publish(c.Request.Context(), p.ID, liveupdate.Event{
			Type: liveupdate.EventProjectUpdated, Payload: gin.H{"project": p.ID, "paused": paused},
		})
	}
	if !paused {
		h.Disp.Nudge(c.Request.Context(), p.ID)
	}

	common.OK(c, projectDTO(*p))
}
