// Package autosave periodically checkpoints live room documents into
// the version archive. It runs outside the hub loop and only reads
// room state through the hub's snapshot command, so it never stalls
// message handling.
package autosave

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cowrite/backend/internal/db"
	"github.com/cowrite/backend/internal/ws"
)

type Config struct {
	Interval         time.Duration
	KeepAutoVersions int
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		KeepAutoVersions: 20,
	}
}

type Service struct {
	hub      *ws.Hub
	database *db.Database
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(hub *ws.Hub, database *db.Database, config Config) *Service {
	return &Service{
		hub:      hub,
		database: database,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Autosave service started (interval: %v, keep: %d auto versions)",
		s.config.Interval, s.config.KeepAutoVersions)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("Autosave service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkpointAllRooms()
		}
	}
}

func (s *Service) checkpointAllRooms() {
	saved := 0
	for _, roomID := range s.hub.LiveRoomIDs() {
		ok, err := s.checkpointRoom(roomID)
		if err != nil {
			log.Printf("Autosave: failed for room %s: %v", roomID, err)
			continue
		}
		if ok {
			saved++
		}
	}

	if saved > 0 {
		log.Printf("Autosaved %d rooms", saved)
	}
}

// checkpointRoom archives one room's live document. Returns false
// when there was nothing new to save.
func (s *Service) checkpointRoom(roomID string) (bool, error) {
	snap, ok := s.hub.SnapshotRoom(roomID)
	if !ok || snap.Document == "" {
		return false, nil
	}

	hash := hashContent(snap.Document)
	latest, err := s.database.GetLatestVersion(roomID)
	if err != nil {
		return false, err
	}
	if latest != nil && latest.ContentHash == hash {
		// Unchanged since the last checkpoint.
		return false, nil
	}

	name := fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
	if _, err := s.database.CreateVersion(roomID, name, "", snap.Document, hash, "autosave", true); err != nil {
		return false, err
	}

	if err := s.database.DeleteOldAutoVersions(roomID, s.config.KeepAutoVersions); err != nil {
		return false, err
	}

	return true, nil
}

// CheckpointNow archives one room immediately, outside the ticker.
func (s *Service) CheckpointNow(roomID string) error {
	_, err := s.checkpointRoom(roomID)
	return err
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}
