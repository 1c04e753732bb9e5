package watchdog

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Project{}, &models.Message{}, &models.Log{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSweep_PausesOnStalledPending(t *testing.T) {
	db := openTestDB(t)
	repo := turnengine.NewRepo(db, liveupdate.NewHub(nil, 10))
	wd := New(repo, time.Minute, 10*time.Minute, 10*time.Minute)

	p := models.Project{ID: "proj-1", OwnerUserID: "u1", Title: "t", Paused: false, LastActivityAt: time.Now()}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := db.Model(&p).Update("paused", false).Error; err != nil {
		t.Fatalf("seed project: reset paused: %v", err)
	}
	msg := models.Message{
		ID: "m1", ConversationID: "c1", ProjectID: "proj-1",
		SenderID: 0, ReceiverID: 1, Content: "hi", Type: models.MessageTypeUser,
		Status: models.MessageStatusPending,
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := db.Model(&models.Message{}).Where("id = ?", "m1").Update("created_at", stale).Error; err != nil {
		t.Fatalf("backdate message: %v", err)
	}

	wd.sweep(context.Background())

	var reloaded models.Project
	if err := db.First(&reloaded, "id = ?", "proj-1").Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if !reloaded.Paused {
		t.Fatalf("expected project to be paused after a stalled pending sweep")
	}

	var logs []models.Log
	if err := db.Where("project_id = ? AND code = ?", "proj-1", "STUCK_QUEUE_TIMEOUT").Find(&logs).Error; err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one STUCK_QUEUE_TIMEOUT log, got %d", len(logs))
	}
}

func TestSweep_PausesOnIdle(t *testing.T) {
	db := openTestDB(t)
	repo := turnengine.NewRepo(db, liveupdate.NewHub(nil, 10))
	wd := New(repo, time.Minute, 10*time.Minute, 10*time.Minute)

	p := models.Project{
		ID: "proj-2", OwnerUserID: "u1", Title: "t", Paused: false,
		LastActivityAt: time.Now().Add(-time.Hour),
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := db.Model(&p).Update("paused", false).Error; err != nil {
		t.Fatalf("seed project: reset paused: %v", err)
	}

	wd.sweep(context.Background())

	var reloaded models.Project
	if err := db.First(&reloaded, "id = ?", "proj-2").Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if !reloaded.Paused {
		t.Fatalf("expected project to be paused after an idle sweep")
	}

	var logs []models.Log
	if err := db.Where("project_id = ? AND code = ?", "proj-2", "IDLE_TIMEOUT").Find(&logs).Error; err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one IDLE_TIMEOUT log, got %d", len(logs))
	}
}

func TestSweep_LeavesFreshProjectsAlone(t *testing.T) {
	db := openTestDB(t)
	repo := turnengine.NewRepo(db, liveupdate.NewHub(nil, 10))
	wd := New(repo, time.Minute, 10*time.Minute, 10*time.Minute)

	p := models.Project{ID: "proj-3", OwnerUserID: "u1", Title: "t", Paused: false, LastActivityAt: time.Now()}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := db.Model(&p).Update("paused", false).Error; err != nil {
		t.Fatalf("seed project: reset paused: %v", err)
	}

	wd.sweep(context.Background())

	var reloaded models.Project
	if err := db.First(&reloaded, "id = ?", "proj-3").Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if reloaded.Paused {
		t.Fatalf("did not expect a freshly active project to be paused")
	}
}

func TestSweep_StalledPendingSkipsIdleCheck(t *testing.T) {
	db := openTestDB(t)
	repo := turnengine.NewRepo(db, liveupdate.NewHub(nil, 10))
	wd := New(repo, time.Minute, 10*time.Minute, 10*time.Minute)

	p := models.Project{
		ID: "proj-4", OwnerUserID: "u1", Title: "t", Paused: false,
		LastActivityAt: time.Now().Add(-time.Hour),
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := db.Model(&p).Update("paused", false).Error; err != nil {
		t.Fatalf("seed project: reset paused: %v", err)
	}
	msg := models.Message{
		ID: "m4", ConversationID: "c1", ProjectID: "proj-4",
		SenderID: 0, ReceiverID: 1, Content: "hi", Type: models.MessageTypeUser,
		Status: models.MessageStatusPending,
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := db.Model(&models.Message{}).Where("id = ?", "m4").Update("created_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate message: %v", err)
	}

	wd.sweep(context.Background())

	var logs []models.Log
	if err := db.Where("project_id = ?", "proj-4").Find(&logs).Error; err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Code != "STUCK_QUEUE_TIMEOUT" {
		t.Fatalf("expected only the stall pause to fire (continue skips the idle check), got %+v", logs)
	}
}
