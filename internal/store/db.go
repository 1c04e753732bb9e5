// Package store bootstraps the persistent database connection and seeds
// fixed rows the rest of the system depends on.
package store

import (
	"log"

	"github.com/google/uuid"
	glebarezsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/models"
)

// Connect opens the production database. A DSN starting with "sqlite://"
// or "file:" opens the pure-Go sqlite driver instead of mysql, which is
// how local dev and CI run the full stack without a mysql server.
func Connect(dsn string) *gorm.DB {
	var dialector gorm.Dialector
	switch {
	case len(dsn) >= 9 && dsn[:9] == "sqlite://":
		dialector = glebarezsqlite.Open(dsn[9:])
	case len(dsn) >= 5 && dsn[:5] == "file:":
		dialector = glebarezsqlite.Open(dsn)
	default:
		dialector = mysql.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return db
}

// AutoMigrate creates/updates every table this system owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Agent{},
		&models.Token{},
		&models.Project{},
		&models.ProjectMember{},
		&models.ProjectMemberAddressable{},
		&models.Conversation{},
		&models.Message{},
		&models.AgentMemorySummary{},
		&models.Log{},
	)
}

// SeedSystemAgent inserts the singleton System agent row if it doesn't
// already exist. Idempotent, safe to call on every boot.
func SeedSystemAgent(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Agent{}).Where("id = ?", models.SystemAgentID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	system := &models.Agent{
		ID:          models.SystemAgentID,
		Name:        "System",
		Role:        "system",
		Description: "Attributed sender of every user-originated message.",
	}
	return db.Create(system).Error
}

// NewUUID returns a fresh v4 identifier for users/agents/projects/tokens.
func NewUUID() string {
	return uuid.NewString()
}

// NextAgentID allocates the next integer agent id inside tx. Agent.ID is
// declared autoIncrement:false (see internal/models) because the System
// agent's row must carry the literal id 0, which most autoincrement
// sequences refuse to hand out on their own — so every non-system agent
// gets its id from this helper instead. Call it inside the same
// transaction that inserts the row: gorm's default transaction isolation
// serializes concurrent callers enough for this system's write volume,
// and sqlite (the dev/CI dialect) only ever has one writer at a time.
func NextAgentID(tx *gorm.DB) (uint64, error) {
	var max uint64
	if err := tx.Model(&models.Agent{}).Select("COALESCE(MAX(id), 0)").Scan(&max).Error; err != nil {
		return 0, err
	}
	return max + 1, nil
}

// SetCanAddress replaces one member's allowed-recipient edges. Call it
// inside the same transaction that creates or updates the member row.
func SetCanAddress(tx *gorm.DB, projectID string, agentID uint64, targets []uint64) error {
	if err := tx.Where("project_id = ? AND agent_id = ?", projectID, agentID).
		Delete(&models.ProjectMemberAddressable{}).Error; err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	rows := make([]models.ProjectMemberAddressable, len(targets))
	for i, t := range targets {
		rows[i] = models.ProjectMemberAddressable{ProjectID: projectID, AgentID: agentID, TargetAgentID: t}
	}
	return tx.Create(&rows).Error
}

// CanAddress loads one member's allowed-recipient set.
func CanAddress(tx *gorm.DB, projectID string, agentID uint64) ([]uint64, error) {
	var rows []models.ProjectMemberAddressable
	if err := tx.Where("project_id = ? AND agent_id = ?", projectID, agentID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]uint64, len(rows))
	for i, r := range rows {
		out[i] = r.TargetAgentID
	}
	return out, nil
}

// CanAddressForProject loads every member's allowed-recipient set for a
// project in one query, keyed by member agent id.
func CanAddressForProject(tx *gorm.DB, projectID string) (map[uint64][]uint64, error) {
	var rows []models.ProjectMemberAddressable
	if err := tx.Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64][]uint64, len(rows))
	for _, r := range rows {
		out[r.AgentID] = append(out[r.AgentID], r.TargetAgentID)
	}
	return out, nil
}
