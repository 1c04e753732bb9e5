package turnengine

import (
	"context"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Project{}, &models.ProjectMember{}, &models.Agent{},
		&models.Conversation{}, &models.Message{}, &models.AgentMemorySummary{},
		&models.Log{}, &models.Token{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedProject(t *testing.T, db *gorm.DB, budget int) *models.Project {
	t.Helper()
	p := &models.Project{ID: "proj-1", OwnerUserID: "u1", Title: "t", Paused: false, RemainingBudget: budget}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := db.Model(p).Update("paused", false).Error; err != nil {
		t.Fatalf("seed project: reset paused: %v", err)
	}
	return p
}

func TestDecrementBudget_PausesAtZero(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 1)

	newBudget, err := repo.DecrementBudget(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if newBudget != 0 {
		t.Fatalf("expected budget 0, got %d", newBudget)
	}

	var p models.Project
	if err := db.First(&p, "id = ?", "proj-1").Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if !p.Paused {
		t.Fatalf("expected project to auto-pause when budget hits zero")
	}

	var logs []models.Log
	if err := db.Where("project_id = ?", "proj-1").Find(&logs).Error; err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Code != "message-limit" {
		t.Fatalf("expected a single message-limit log, got %+v", logs)
	}
}

func TestDecrementBudget_DoesNotPauseAboveZero(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 5)

	newBudget, err := repo.DecrementBudget(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if newBudget != 4 {
		t.Fatalf("expected budget 4, got %d", newBudget)
	}

	var p models.Project
	if err := db.First(&p, "id = ?", "proj-1").Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if p.Paused {
		t.Fatalf("did not expect project to pause while budget remains")
	}
}

func TestPause_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 10)

	if err := repo.Pause(context.Background(), "proj-1", "STUCK_QUEUE_TIMEOUT", "stalled"); err != nil {
		t.Fatalf("first pause: %v", err)
	}
	if err := repo.Pause(context.Background(), "proj-1", "STUCK_QUEUE_TIMEOUT", "stalled"); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	var logs []models.Log
	if err := db.Where("project_id = ?", "proj-1").Find(&logs).Error; err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected exactly one log from the first pause, got %d", len(logs))
	}
}

func TestPendingQueue_OrdersOldestFirst(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 10)

	for i, id := range []string{"m1", "m2", "m3"} {
		msg := models.Message{
			ID: id, ConversationID: "c1", ProjectID: "proj-1",
			SenderID: 0, ReceiverID: 1, Content: "hi", Type: models.MessageTypeUser,
			Status: models.MessageStatusPending,
		}
		if err := db.Create(&msg).Error; err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	msgs, err := repo.PendingQueue(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("pending queue: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 pending messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Fatalf("expected insertion order m1,m2,m3, got %v", []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 10)

	msg := models.Message{
		ID: "m1", ConversationID: "c1", ProjectID: "proj-1",
		SenderID: 0, ReceiverID: 1, Content: "hi", Type: models.MessageTypeUser,
		Status: models.MessageStatusPending,
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if err := repo.UpdateMessageStatus(context.Background(), "m1", models.MessageStatusSent); err != nil {
		t.Fatalf("update status: %v", err)
	}

	var reloaded models.Message
	if err := db.First(&reloaded, "id = ?", "m1").Error; err != nil {
		t.Fatalf("reload message: %v", err)
	}
	if reloaded.Status != models.MessageStatusSent {
		t.Fatalf("expected status sent, got %s", reloaded.Status)
	}
}

func TestIncrementAgentCount_CreatesThenIncrements(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 10)

	first, err := repo.IncrementAgentCount(context.Background(), "proj-1", 7)
	if err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected count 1, got %d", first)
	}

	second, err := repo.IncrementAgentCount(context.Background(), "proj-1", 7)
	if err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected count 2, got %d", second)
	}
}

func TestOldestPending_NilWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)
	seedProject(t, db, 10)

	m, err := repo.OldestPending(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("oldest pending: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil for an empty queue, got %+v", m)
	}
}

func TestActiveProjects_ExcludesPaused(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db, nil)

	active := &models.Project{ID: "active", OwnerUserID: "u1", Title: "a", Paused: false}
	if err := db.Create(active).Error; err != nil {
		t.Fatalf("seed active: %v", err)
	}
	if err := db.Model(active).Update("paused", false).Error; err != nil {
		t.Fatalf("seed active: reset paused: %v", err)
	}
	if err := db.Create(&models.Project{ID: "paused", OwnerUserID: "u1", Title: "b", Paused: true}).Error; err != nil {
		t.Fatalf("seed paused: %v", err)
	}

	projects, err := repo.ActiveProjects(context.Background())
	if err != nil {
		t.Fatalf("active projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "active" {
		t.Fatalf("expected only the active project, got %+v", projects)
	}
}
