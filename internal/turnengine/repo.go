package turnengine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/store"
)

// Repo is the internal-surface data access layer (spec §4.2): every
// method here is a single atomic operation the worker and watchdog use to
// observe and mutate project state.
type Repo struct {
	db  *gorm.DB
	hub *liveupdate.Hub
}

func NewRepo(db *gorm.DB, hub *liveupdate.Hub) *Repo {
	return &Repo{db: db, hub: hub}
}

// MemberView is one project member's effective configuration, folding in
// per-project overrides.
type MemberView struct {
	AgentID      uint64
	Name         string
	Role         string
	Prompt       string
	Model        string
	CanAddress   []uint64
	Summary      string
	MessageCount int
}

// Snapshot is the atomic get-context result: everything a run needs to
// process a project without re-querying per turn.
type Snapshot struct {
	Project       models.Project
	Members       map[uint64]MemberView
	Conversations map[[2]uint64]string // sorted (a,b) -> conversation id
	Token         *models.Token
}

// GetContext builds the read-consistent snapshot in a single transaction.
func (r *Repo) GetContext(ctx context.Context, projectID string) (*Snapshot, error) {
	snap := &Snapshot{
		Members:       make(map[uint64]MemberView),
		Conversations: make(map[[2]uint64]string),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&snap.Project, "id = ?", projectID).Error; err != nil {
			return err
		}

		var members []models.ProjectMember
		if err := tx.Where("project_id = ?", projectID).Find(&members).Error; err != nil {
			return err
		}

		agentIDs := make([]uint64, 0, len(members)+1)
		agentIDs = append(agentIDs, models.SystemAgentID)
		for _, m := range members {
			agentIDs = append(agentIDs, m.AgentID)
		}

		var agents []models.Agent
		if err := tx.Where("id IN ?", agentIDs).Find(&agents).Error; err != nil {
			return err
		}
		agentByID := make(map[uint64]models.Agent, len(agents))
		for _, a := range agents {
			agentByID[a.ID] = a
		}

		var summaries []models.AgentMemorySummary
		if err := tx.Where("project_id = ?", projectID).Find(&summaries).Error; err != nil {
			return err
		}
		summaryByAgent := make(map[uint64]models.AgentMemorySummary, len(summaries))
		for _, s := range summaries {
			summaryByAgent[s.AgentID] = s
		}

		canAddressByAgent, err := store.CanAddressForProject(tx, projectID)
		if err != nil {
			return err
		}

		for _, m := range members {
			a := agentByID[m.AgentID]
			role := a.Role
			if m.RoleOverride != "" {
				role = m.RoleOverride
			}
			prompt := a.Description
			if m.PromptOverride != "" {
				prompt = m.PromptOverride
			}
			view := MemberView{
				AgentID:    m.AgentID,
				Name:       a.Name,
				Role:       role,
				Prompt:     prompt,
				Model:      a.Model,
				CanAddress: canAddressByAgent[m.AgentID],
			}
			if s, ok := summaryByAgent[m.AgentID]; ok {
				view.Summary = s.Summary
				view.MessageCount = s.MessageCount
			}
			snap.Members[m.AgentID] = view
		}
		// System is an implicit member of every project and may address
		// anyone; it never needs an override row.
		if _, ok := snap.Members[models.SystemAgentID]; !ok {
			snap.Members[models.SystemAgentID] = MemberView{
				AgentID: models.SystemAgentID,
				Name:    "System",
			}
		}

		var convs []models.Conversation
		if err := tx.Where("project_id = ?", projectID).Find(&convs).Error; err != nil {
			return err
		}
		for _, c := range convs {
			snap.Conversations[pairKey(c.SenderID, c.ReceiverID)] = c.ID
		}

		if snap.Project.TokenID != nil {
			var tok models.Token
			if err := tx.First(&tok, "id = ?", *snap.Project.TokenID).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			} else {
				snap.Token = &tok
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func pairKey(a, b uint64) [2]uint64 {
	if a <= b {
		return [2]uint64{a, b}
	}
	return [2]uint64{b, a}
}

// PendingQueue returns pending messages oldest-first (created_at asc,
// then id asc as the tie-break).
func (r *Repo) PendingQueue(ctx context.Context, projectID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, models.MessageStatusPending).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

// CreateAgentMessage inserts an assistant message, bumps last_activity_at,
// and publishes new_message — atomic, and does not nudge (the worker
// calling this is already active).
func (r *Repo) CreateAgentMessage(ctx context.Context, m *models.Message) error {
	m.ID = common.NewULID()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&models.Project{}).Where("id = ?", m.ProjectID).
			Update("last_activity_at", time.Now()).Error
	})
	if err != nil {
		return err
	}
	if r.hub != nil {
		r.hub.Publish(ctx, m.ProjectID, liveupdate.Event{Type: liveupdate.EventNewMessage, Payload: m})
	}
	return nil
}

// UpdateMessageStatus transitions pending->sent or pending->failed and
// publishes message_updated.
func (r *Repo) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus) error {
	var m models.Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return err
	}
	if r.hub != nil {
		r.hub.Publish(ctx, m.ProjectID, liveupdate.Event{
			Type: liveupdate.EventMessageUpdated,
			Payload: map[string]any{
				"id": id, "status": status, "conversation": m.ConversationID,
			},
		})
	}
	return nil
}

// CreateLog appends a log row.
func (r *Repo) CreateLog(ctx context.Context, projectID string, level models.LogLevel, code, message string) error {
	log := &models.Log{
		ID:        common.NewULID(),
		ProjectID: projectID,
		Level:     level,
		Code:      code,
		Message:   message,
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// UpsertSummary replaces the summary text, zeroes message_count, and
// increments summary_count.
func (r *Repo) UpsertSummary(ctx context.Context, projectID string, agentID uint64, summary, snapshotJSON string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AgentMemorySummary
		err := tx.First(&existing, "project_id = ? AND agent_id = ?", projectID, agentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.AgentMemorySummary{
				ProjectID:    projectID,
				AgentID:      agentID,
				Summary:      summary,
				SnapshotJSON: snapshotJSON,
				MessageCount: 0,
				SummaryCount: 1,
				UpdatedAt:    time.Now(),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"summary":       summary,
			"snapshot_json": snapshotJSON,
			"message_count": 0,
			"summary_count": existing.SummaryCount + 1,
			"updated_at":    time.Now(),
		}).Error
	})
}

// GetSummary reads the current (project, agent) memory row.
func (r *Repo) GetSummary(ctx context.Context, projectID string, agentID uint64) (*models.AgentMemorySummary, error) {
	var s models.AgentMemorySummary
	err := r.db.WithContext(ctx).First(&s, "project_id = ? AND agent_id = ?", projectID, agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSummaries reads every (project, agent) memory row for a project.
func (r *Repo) ListSummaries(ctx context.Context, projectID string) ([]models.AgentMemorySummary, error) {
	var out []models.AgentMemorySummary
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&out).Error
	return out, err
}

// DecrementBudget atomically decrements the project's remaining budget by
// one; if the new value is <= 0 it also pauses the project and logs a
// warn with code message-limit. Returns the new budget value.
func (r *Repo) DecrementBudget(ctx context.Context, projectID string) (int, error) {
	var newBudget int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.Clauses().First(&p, "id = ?", projectID).Error; err != nil {
			return err
		}
		newBudget = p.RemainingBudget - 1
		updates := map[string]any{"remaining_budget": newBudget}
		pausing := newBudget <= 0 && !p.Paused
		if newBudget <= 0 {
			updates["paused"] = true
		}
		if err := tx.Model(&p).Updates(updates).Error; err != nil {
			return err
		}
		if pausing {
			if err := tx.Create(&models.Log{
				ID: common.NewULID(), ProjectID: projectID,
				Level: models.LogLevelWarn, Code: "message-limit",
				Message: "message limit reached, project paused",
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if newBudget <= 0 && r.hub != nil {
		r.hub.Publish(ctx, projectID, liveupdate.Event{
			Type: liveupdate.EventProjectUpdated,
			Payload: map[string]any{"project": projectID, "paused": true, "remainingBudget": newBudget},
		})
	}
	return newBudget, nil
}

// IncrementAgentCount upserts the agent's memory row and bumps its
// message_count, returning the new count.
func (r *Repo) IncrementAgentCount(ctx context.Context, projectID string, agentID uint64) (int, error) {
	var newCount int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AgentMemorySummary
		err := tx.First(&existing, "project_id = ? AND agent_id = ?", projectID, agentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			newCount = 1
			return tx.Create(&models.AgentMemorySummary{
				ProjectID: projectID, AgentID: agentID,
				MessageCount: 1, UpdatedAt: time.Now(),
			}).Error
		}
		if err != nil {
			return err
		}
		newCount = existing.MessageCount + 1
		return tx.Model(&existing).Update("message_count", newCount).Error
	})
	return newCount, err
}

// ProjectFlags is the cheap per-iteration status check.
type ProjectFlags struct {
	Paused      bool
	Budget      int
	TokenActive bool
}

func (r *Repo) GetProjectFlags(ctx context.Context, projectID string) (ProjectFlags, error) {
	var p models.Project
	if err := r.db.WithContext(ctx).First(&p, "id = ?", projectID).Error; err != nil {
		return ProjectFlags{}, err
	}
	flags := ProjectFlags{Paused: p.Paused, Budget: p.RemainingBudget}
	if p.TokenID != nil {
		var tok models.Token
		if err := r.db.WithContext(ctx).First(&tok, "id = ?", *p.TokenID).Error; err == nil {
			flags.TokenActive = tok.Active
		}
	}
	return flags, nil
}

// RecentAgentMessages returns the last N sent user/assistant messages
// involving agentID, newest first.
func (r *Repo) RecentAgentMessages(ctx context.Context, projectID string, agentID uint64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ? AND type IN ? AND (sender_id = ? OR receiver_id = ?)",
			projectID, models.MessageStatusSent,
			[]models.MessageType{models.MessageTypeUser, models.MessageTypeAssistant},
			agentID, agentID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// ActiveProjects returns every non-paused project, for the watchdog scan.
func (r *Repo) ActiveProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.WithContext(ctx).Where("paused = ?", false).Find(&projects).Error
	return projects, err
}

// OldestPending returns the oldest pending message for a project, or nil
// if there is none.
func (r *Repo) OldestPending(ctx context.Context, projectID string) (*models.Message, error) {
	var m models.Message
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, models.MessageStatusPending).
		Order("created_at ASC, id ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Pause idempotently pauses a project and logs a warn with the given
// machine code.
func (r *Repo) Pause(ctx context.Context, projectID, code, message string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Project
		if err := tx.First(&p, "id = ?", projectID).Error; err != nil {
			return err
		}
		if p.Paused {
			return nil
		}
		if err := tx.Model(&p).Update("paused", true).Error; err != nil {
			return err
		}
		return tx.Create(&models.Log{
			ID: common.NewULID(), ProjectID: projectID,
			Level: models.LogLevelWarn, Code: code, Message: message,
		}).Error
	})
	if err != nil {
		return err
	}
	if r.hub != nil {
		r.hub.Publish(ctx, projectID, liveupdate.Event{
			Type: liveupdate.EventProjectUpdated, Payload: map[string]any{"project": projectID, "paused": true},
		})
	}
	return nil
}
