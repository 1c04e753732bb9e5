package models

import (
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Project{}, &Conversation{}, &ProjectMember{}, &ProjectMemberAddressable{}, &Agent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestProjectMemberAddressable_UniquePerEdge(t *testing.T) {
	db := openTestDB(t)

	edge := ProjectMemberAddressable{ProjectID: "p1", AgentID: 1, TargetAgentID: 2}
	if err := db.Create(&edge).Error; err != nil {
		t.Fatalf("create edge: %v", err)
	}
	dup := ProjectMemberAddressable{ProjectID: "p1", AgentID: 1, TargetAgentID: 2}
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected duplicate (project, agent, target) edge to be rejected")
	}
	distinct := ProjectMemberAddressable{ProjectID: "p1", AgentID: 1, TargetAgentID: 3}
	if err := db.Create(&distinct).Error; err != nil {
		t.Fatalf("expected a distinct target to be accepted: %v", err)
	}
}

func TestAgent_IsSystem(t *testing.T) {
	system := Agent{ID: SystemAgentID}
	if !system.IsSystem() {
		t.Fatalf("expected agent id %d to be the system agent", SystemAgentID)
	}
	other := Agent{ID: 7}
	if other.IsSystem() {
		t.Fatalf("expected agent id 7 not to be the system agent")
	}
}

func TestConversation_UniqueSenderReceiverPerProject(t *testing.T) {
	db := openTestDB(t)

	proj := Project{ID: "proj-1", OwnerUserID: "u1", Title: "t"}
	if err := db.Create(&proj).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}

	first := Conversation{ID: "c1", ProjectID: proj.ID, SenderID: 0, ReceiverID: 5}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("create first conversation: %v", err)
	}

	dup := Conversation{ID: "c2", ProjectID: proj.ID, SenderID: 0, ReceiverID: 5}
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected duplicate (project, sender, receiver) to be rejected")
	}

	distinct := Conversation{ID: "c3", ProjectID: proj.ID, SenderID: 0, ReceiverID: 6}
	if err := db.Create(&distinct).Error; err != nil {
		t.Fatalf("expected a distinct receiver to be accepted: %v", err)
	}
}
