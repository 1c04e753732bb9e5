// Package models declares the persistent entities shared by the API
// service, the turn worker, and the watchdog.
package models

import "time"

// SystemAgentID is the fixed identifier of the singleton System agent.
// Every project implicitly includes it as a member; every user-originated
// message is attributed to it. Agent ids are integers (not uuids) because
// the LLM-facing reply schema requires an integer recipient_id, and the
// System agent's id is fixed at zero per the data model.
const SystemAgentID uint64 = 0

type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeSystem    MessageType = "system"
	MessageTypeError     MessageType = "error"
)

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	DisplayName  string    `gorm:"type:varchar(64);not null" json:"displayName"`
	Email        string    `gorm:"type:varchar(190);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(100);not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (User) TableName() string { return "users" }

type Agent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OwnerUserID *string   `gorm:"type:varchar(36);index" json:"ownerUserId,omitempty"`
	Name        string    `gorm:"type:varchar(64);not null" json:"name"`
	Role        string    `gorm:"type:varchar(64)" json:"role"`
	Description string    `gorm:"type:text" json:"description"`
	Model       string    `gorm:"type:varchar(64)" json:"model"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Agent) TableName() string { return "agents" }

// IsSystem reports whether this row is the singleton System agent.
func (a Agent) IsSystem() bool { return a.ID == SystemAgentID }

type Token struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerUserID string    `gorm:"type:varchar(36);index;not null" json:"ownerUserId"`
	Label       string    `gorm:"type:varchar(64);not null" json:"label"`
	Ciphertext  string    `gorm:"type:text;not null" json:"-"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Token) TableName() string { return "tokens" }

type Project struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerUserID     string    `gorm:"type:varchar(36);index;not null" json:"ownerUserId"`
	Title           string    `gorm:"type:varchar(120);not null;uniqueIndex:uniq_owner_title" json:"title"`
	Description     string    `gorm:"type:text" json:"description"`
	SystemPrompt    string    `gorm:"type:text" json:"systemPrompt"`
	Paused          bool      `gorm:"not null;default:true" json:"paused"`
	RemainingBudget int       `gorm:"not null;default:0" json:"remainingBudget"`
	TokenID         *string   `gorm:"type:varchar(36);index" json:"tokenId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

func (Project) TableName() string { return "projects" }

// ProjectMember is the (project, agent) membership row.
type ProjectMember struct {
	ProjectID      string    `gorm:"type:varchar(36);primaryKey" json:"projectId"`
	AgentID        uint64    `gorm:"primaryKey" json:"agentId"`
	RoleOverride   string    `gorm:"type:varchar(64)" json:"roleOverride,omitempty"`
	PromptOverride string    `gorm:"type:text" json:"promptOverride,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (ProjectMember) TableName() string { return "project_members" }

// ProjectMemberAddressable is one (member -> allowed recipient) edge.
// canMessageIds is a semantic set of agent ids, not text: it is persisted
// as one row per pair here instead of a comma-joined column, per spec.md
// §9's DESIGN NOTES (the comma-joined string a naive port reaches for is a
// storage accident to eliminate, not preserve).
type ProjectMemberAddressable struct {
	ProjectID     string `gorm:"type:varchar(36);primaryKey" json:"projectId"`
	AgentID       uint64 `gorm:"primaryKey" json:"agentId"`
	TargetAgentID uint64 `gorm:"primaryKey" json:"targetAgentId"`
}

func (ProjectMemberAddressable) TableName() string { return "project_member_addressable" }

type Conversation struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProjectID  string    `gorm:"type:varchar(36);index;not null;uniqueIndex:uniq_conv_pair,priority:1" json:"projectId"`
	SenderID   uint64    `gorm:"not null;uniqueIndex:uniq_conv_pair,priority:2" json:"senderId"`
	ReceiverID uint64    `gorm:"not null;uniqueIndex:uniq_conv_pair,priority:3" json:"receiverId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             string        `gorm:"type:varchar(26);primaryKey" json:"id"`
	ConversationID string        `gorm:"type:varchar(36);index;not null" json:"conversationId"`
	ProjectID      string        `gorm:"type:varchar(36);index;not null" json:"projectId"`
	SenderID       uint64        `gorm:"not null" json:"senderId"`
	ReceiverID     uint64        `gorm:"not null" json:"receiverId"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	Type           MessageType   `gorm:"type:varchar(16);not null" json:"type"`
	Status         MessageStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt      time.Time     `gorm:"index" json:"createdAt"`
}

func (Message) TableName() string { return "messages" }

// AgentMemorySummary is the (project, agent) long-term memory row.
type AgentMemorySummary struct {
	ProjectID    string    `gorm:"type:varchar(36);primaryKey" json:"projectId"`
	AgentID      uint64    `gorm:"primaryKey" json:"agentId"`
	Summary      string    `gorm:"type:text" json:"summary"`
	SnapshotJSON string    `gorm:"type:text;column:snapshot_json" json:"-"`
	MessageCount int       `gorm:"not null;default:0" json:"messageCount"`
	SummaryCount int       `gorm:"not null;default:0" json:"summaryCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (AgentMemorySummary) TableName() string { return "agent_history_summaries" }

type Log struct {
	ID        string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	ProjectID string    `gorm:"type:varchar(36);index;not null" json:"projectId"`
	Level     LogLevel  `gorm:"type:varchar(16);not null" json:"level"`
	Code      string    `gorm:"type:varchar(64)" json:"code,omitempty"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (Log) TableName() string { return "logs" }
