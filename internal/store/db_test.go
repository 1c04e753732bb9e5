package store

import (
	"reflect"
	"sort"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestNextAgentID_StartsAtZeroThenIncrements(t *testing.T) {
	db := openTestDB(t)

	first, err := NextAgentID(db)
	if err != nil {
		t.Fatalf("next agent id: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected the first allocated id to be 1 (MAX over an empty table is 0), got %d", first)
	}

	if err := db.Create(&models.Agent{ID: first, Name: "a"}).Error; err != nil {
		t.Fatalf("create agent: %v", err)
	}

	second, err := NextAgentID(db)
	if err != nil {
		t.Fatalf("next agent id: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected the next id to be 2, got %d", second)
	}
}

func TestSetCanAddress_RoundTripAndReplace(t *testing.T) {
	db := openTestDB(t)

	if err := SetCanAddress(db, "proj-1", 1, []uint64{2, 3, 4}); err != nil {
		t.Fatalf("set can-address: %v", err)
	}
	got, err := CanAddress(db, "proj-1", 1)
	if err != nil {
		t.Fatalf("can-address: %v", err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !reflect.DeepEqual(got, []uint64{2, 3, 4}) {
		t.Fatalf("round trip mismatch: got %v", got)
	}

	if err := SetCanAddress(db, "proj-1", 1, []uint64{5}); err != nil {
		t.Fatalf("replace can-address: %v", err)
	}
	got, err = CanAddress(db, "proj-1", 1)
	if err != nil {
		t.Fatalf("can-address after replace: %v", err)
	}
	if !reflect.DeepEqual(got, []uint64{5}) {
		t.Fatalf("expected replace to drop the old edges, got %v", got)
	}
}

func TestSetCanAddress_Empty(t *testing.T) {
	db := openTestDB(t)

	if err := SetCanAddress(db, "proj-1", 1, nil); err != nil {
		t.Fatalf("set empty can-address: %v", err)
	}
	got, err := CanAddress(db, "proj-1", 1)
	if err != nil {
		t.Fatalf("can-address: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no edges, got %v", got)
	}
}

func TestCanAddressForProject_GroupsByMember(t *testing.T) {
	db := openTestDB(t)

	if err := SetCanAddress(db, "proj-1", 1, []uint64{2, 3}); err != nil {
		t.Fatalf("set member 1: %v", err)
	}
	if err := SetCanAddress(db, "proj-1", 2, []uint64{1}); err != nil {
		t.Fatalf("set member 2: %v", err)
	}

	byAgent, err := CanAddressForProject(db, "proj-1")
	if err != nil {
		t.Fatalf("can-address for project: %v", err)
	}
	sort.Slice(byAgent[1], func(i, j int) bool { return byAgent[1][i] < byAgent[1][j] })
	if !reflect.DeepEqual(byAgent[1], []uint64{2, 3}) {
		t.Fatalf("expected member 1's edges, got %v", byAgent[1])
	}
	if !reflect.DeepEqual(byAgent[2], []uint64{1}) {
		t.Fatalf("expected member 2's edges, got %v", byAgent[2])
	}
}
