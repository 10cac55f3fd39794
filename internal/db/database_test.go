package db

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "cowrite-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestRoomOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := db.CreateRoom("test-room", "Test Room")
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	room, err := db.GetRoom("test-room")
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	if room == nil {
		t.Fatal("Room should exist")
	}
	if room.ID != "test-room" {
		t.Errorf("Expected room ID 'test-room', got '%s'", room.ID)
	}
	if room.Name != "Test Room" {
		t.Errorf("Expected room name 'Test Room', got '%s'", room.Name)
	}

	room, err = db.GetRoom("non-existent")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if room != nil {
		t.Error("Non-existent room should return nil")
	}

	err = db.DeleteRoom("test-room")
	if err != nil {
		t.Fatalf("Failed to delete room: %v", err)
	}

	room, err = db.GetRoom("test-room")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if room != nil {
		t.Error("Deleted room should not exist")
	}
}

func TestListRooms(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		err := db.CreateRoom("room-"+string(rune('a'+i)), "Room "+string(rune('A'+i)))
		if err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}

	rooms, err := db.ListRooms(10, 0)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 5 {
		t.Errorf("Expected 5 rooms, got %d", len(rooms))
	}

	rooms, err = db.ListRooms(2, 0)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("Expected 2 rooms with limit, got %d", len(rooms))
	}

	rooms, err = db.ListRooms(2, 3)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("Expected 2 rooms with offset, got %d", len(rooms))
	}
}

func TestVersionLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Archiving into a room that only ever lived in memory creates
	// the room row implicitly.
	v, err := db.CreateVersion("memory-room", "first draft", "before review", "Hello", "hash-1", "alice", false)
	if err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}
	if v == nil || v.Name != "first draft" || v.Content != "Hello" || v.IsAuto {
		t.Fatalf("Unexpected version: %+v", v)
	}

	room, err := db.GetRoom("memory-room")
	if err != nil || room == nil {
		t.Fatalf("Room row not created: %v, %v", room, err)
	}

	got, err := db.GetVersion(v.ID)
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if got.CreatedBy != "alice" || got.ContentHash != "hash-1" {
		t.Errorf("Unexpected version: %+v", got)
	}

	missing, err := db.GetVersion(99999)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("Non-existent version should return nil")
	}

	if err := db.DeleteVersion(v.ID); err != nil {
		t.Fatalf("Failed to delete version: %v", err)
	}
	gone, _ := db.GetVersion(v.ID)
	if gone != nil {
		t.Error("Deleted version should not exist")
	}
}

func TestListAndLatestVersions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	roomID := "versions-room"
	for i := 0; i < 4; i++ {
		name := "v" + string(rune('1'+i))
		if _, err := db.CreateVersion(roomID, name, "", "content "+name, "hash-"+name, "bob", false); err != nil {
			t.Fatalf("Failed to create version: %v", err)
		}
	}

	versions, err := db.ListVersions(roomID, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 4 {
		t.Fatalf("Expected 4 versions, got %d", len(versions))
	}
	if versions[0].Name != "v4" {
		t.Errorf("Expected newest first, got %s", versions[0].Name)
	}

	latest, err := db.GetLatestVersion(roomID)
	if err != nil {
		t.Fatalf("Failed to get latest version: %v", err)
	}
	if latest.Name != "v4" {
		t.Errorf("Expected latest v4, got %s", latest.Name)
	}

	count, err := db.GetVersionCount(roomID)
	if err != nil {
		t.Fatalf("Failed to count versions: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected count 4, got %d", count)
	}
}

func TestDeleteOldAutoVersions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	roomID := "auto-room"
	for i := 0; i < 6; i++ {
		name := "auto-" + string(rune('a'+i))
		if _, err := db.CreateVersion(roomID, name, "", "c", "h", "autosave", true); err != nil {
			t.Fatalf("Failed to create version: %v", err)
		}
	}
	if _, err := db.CreateVersion(roomID, "manual", "", "c", "h", "alice", false); err != nil {
		t.Fatalf("Failed to create version: %v", err)
	}

	if err := db.DeleteOldAutoVersions(roomID, 2); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}

	versions, err := db.ListVersions(roomID, 20, 0)
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("Expected 2 auto + 1 manual after prune, got %d", len(versions))
	}
	for _, v := range versions {
		if v.Name == "manual" {
			continue
		}
		if v.Name != "auto-e" && v.Name != "auto-f" {
			t.Errorf("Unexpected surviving auto version %s", v.Name)
		}
	}
}

func TestStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if err := db.CreateRoom("stats-room-"+string(rune('a'+i)), ""); err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := db.CreateVersion("stats-room-a", "v", "", "c", "h", "", true); err != nil {
			t.Fatalf("Failed to create version: %v", err)
		}
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats["room_count"].(int) != 3 {
		t.Errorf("Expected 3 rooms, got %v", stats["room_count"])
	}
	if stats["version_count"].(int) != 5 {
		t.Errorf("Expected 5 versions, got %v", stats["version_count"])
	}
}
