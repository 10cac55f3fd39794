// Package api is the HTTP management surface: room metadata, live
// snapshots, the privileged reset path, edit policy, and the version
// archive. Everything that touches live room state goes through the
// hub; everything durable goes through the archive.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cowrite/backend/internal/db"
	"github.com/cowrite/backend/internal/ws"
)

type API struct {
	hub      *ws.Hub
	database *db.Database
}

func New(hub *ws.Hub, database *db.Database) *API {
	return &API{
		hub:      hub,
		database: database,
	}
}

// Routes builds the full route table.
func (a *API) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms", a.CreateRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}", a.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}", a.DeleteRoomHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/rooms/{id}/snapshot", a.RoomSnapshotHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/reset", a.ResetRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/policy", a.RoomPolicyHandler).Methods(http.MethodPut)
	r.HandleFunc("/api/rooms/{id}/versions", a.ListVersionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/versions", a.CreateVersionHandler).Methods(http.MethodPost)

	r.HandleFunc("/api/versions/diff", a.DiffVersionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/versions/{id}", a.GetVersionHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/versions/{id}", a.DeleteVersionHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/versions/{id}/restore", a.RestoreVersionHandler).Methods(http.MethodPost)
	return r
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"live_rooms":     a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["archived_rooms"] = dbStats["room_count"]
			stats["archived_versions"] = dbStats["version_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.ActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			Name:        room.Name,
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
			ActiveUsers: activeRooms[room.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if err := a.database.CreateRoom(req.ID, req.Name); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	room, err := a.database.GetRoom(req.ID)
	if err != nil || room == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	jsonResponse(w, http.StatusCreated, RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	room, err := a.database.GetRoom(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	activeRooms := a.hub.ActiveRooms()

	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
		ActiveUsers: activeRooms[roomID],
	})
}

func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	if err := a.database.DeleteRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

// Live-state handlers

// RoomSnapshotHandler serves the same full-state snapshot a WebSocket
// client gets on join, for tooling and the autosaver.
func (a *API) RoomSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	snap, ok := a.hub.SnapshotRoom(roomID)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Room has no live session")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room":     roomID,
		"document": snap.Document,
		"version":  snap.Version,
		"sync_seq": snap.SyncSeq,
	})
}

type ResetRoomRequest struct {
	Content string `json:"content"`
}

// ResetRoomHandler replaces a room's live document wholesale. This is
// the privileged out-of-band path; deployments gate it with whatever
// sits in front of the API.
func (a *API) ResetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	var req ResetRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	a.hub.ResetDocument(roomID, req.Content)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Document reset",
		"room":    roomID,
	})
}

type RoomPolicyRequest struct {
	ReadOnly *bool  `json:"read_only,omitempty"`
	Block    string `json:"block,omitempty"`
	Unblock  string `json:"unblock,omitempty"`
}

func (a *API) RoomPolicyHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	var req RoomPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ReadOnly != nil {
		a.hub.SetReadOnly(roomID, *req.ReadOnly)
	}
	if req.Block != "" {
		a.hub.SetBlocked(roomID, req.Block, true)
	}
	if req.Unblock != "" {
		a.hub.SetBlocked(roomID, req.Unblock, false)
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Policy updated"})
}

// Version handlers

type CreateVersionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	CreatedBy   string `json:"created_by"`
	IsAuto      bool   `json:"is_auto"`
}

type VersionResponse struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"` // omitted in list view
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

func versionResponse(v *db.Version, withContent bool) VersionResponse {
	resp := VersionResponse{
		ID:          v.ID,
		RoomID:      v.RoomID,
		Name:        v.Name,
		Description: v.Description,
		ContentHash: v.ContentHash,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		IsAuto:      v.IsAuto,
	}
	if withContent {
		resp.Content = v.Content
	}
	return resp
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}

func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	versions, err := a.database.ListVersions(roomID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}

	response := make([]VersionResponse, len(versions))
	for i := range versions {
		response[i] = versionResponse(&versions[i], false)
	}

	total, _ := a.database.GetVersionCount(roomID)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"versions": response,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// CreateVersionHandler archives a checkpoint. When the request body
// carries no content, the room's live document is captured instead.
func (a *API) CreateVersionHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Content == "" {
		snap, ok := a.hub.SnapshotRoom(roomID)
		if !ok {
			errorResponse(w, http.StatusNotFound, "Room has no live session and no content was provided")
			return
		}
		req.Content = snap.Document
	}

	if req.Name == "" {
		if req.IsAuto {
			req.Name = fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
		} else {
			req.Name = fmt.Sprintf("Version %s", time.Now().Format("Jan 2, 3:04 PM"))
		}
	}

	contentHash := hashContent(req.Content)

	// Identical consecutive auto-saves are collapsed into the
	// existing checkpoint.
	latest, err := a.database.GetLatestVersion(roomID)
	if err == nil && latest != nil && latest.ContentHash == contentHash && req.IsAuto {
		jsonResponse(w, http.StatusOK, versionResponse(latest, false))
		return
	}

	version, err := a.database.CreateVersion(
		roomID, req.Name, req.Description, req.Content, contentHash, req.CreatedBy, req.IsAuto,
	)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create version")
		return
	}

	if req.IsAuto {
		if err := a.database.DeleteOldAutoVersions(roomID, 20); err != nil {
			log.Printf("Failed to clean up old auto versions: %v", err)
		}
	}

	jsonResponse(w, http.StatusCreated, versionResponse(version, false))
}

func (a *API) GetVersionHandler(w http.ResponseWriter, r *http.Request) {
	versionID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	version, err := a.database.GetVersion(versionID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}

	if version == nil {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	jsonResponse(w, http.StatusOK, versionResponse(version, true))
}

func (a *API) DeleteVersionHandler(w http.ResponseWriter, r *http.Request) {
	versionID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	if err := a.database.DeleteVersion(versionID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete version")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Version deleted"})
}

// RestoreVersionHandler loads an archived version into the live room
// and records the restore as a new checkpoint. Connected clients are
// resynced with fresh snapshots by the reset.
func (a *API) RestoreVersionHandler(w http.ResponseWriter, r *http.Request) {
	versionID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	version, err := a.database.GetVersion(versionID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}

	if version == nil {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	a.hub.ResetDocument(version.RoomID, version.Content)

	restoreName := fmt.Sprintf("Restored from: %s", version.Name)
	newVersion, err := a.database.CreateVersion(
		version.RoomID,
		restoreName,
		fmt.Sprintf("Restored to version %d (%s)", version.ID, version.Name),
		version.Content,
		version.ContentHash,
		"",
		false,
	)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create restore version")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":       "Version restored",
		"restored_from": version.ID,
		"new_version":   newVersion.ID,
		"room_id":       version.RoomID,
		"content":       version.Content,
	})
}

// DiffVersionsHandler computes a line diff between two archived
// versions.
func (a *API) DiffVersionsHandler(w http.ResponseWriter, r *http.Request) {
	fromID, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid 'from' version ID")
		return
	}

	toID, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid 'to' version ID")
		return
	}

	fromVersion, err := a.database.GetVersion(fromID)
	if err != nil || fromVersion == nil {
		errorResponse(w, http.StatusNotFound, "From version not found")
		return
	}

	toVersion, err := a.database.GetVersion(toID)
	if err != nil || toVersion == nil {
		errorResponse(w, http.StatusNotFound, "To version not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"from": versionResponse(fromVersion, false),
		"to":   versionResponse(toVersion, false),
		"diff": computeDiff(fromVersion.Content, toVersion.Content),
	})
}

// DiffLine is one line of a version diff.
type DiffLine struct {
	Type    string `json:"type"` // "added", "removed", "unchanged"
	Content string `json:"content"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// computeDiff is a plain LCS line diff.
func computeDiff(oldContent, newContent string) []DiffLine {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	m, n := len(oldLines), len(newLines)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if oldLines[i-1] == newLines[j-1] {
				lcs[i][j] = lcs[i-1][j-1] + 1
			} else {
				lcs[i][j] = max(lcs[i-1][j], lcs[i][j-1])
			}
		}
	}

	// Walk back from the corner, then reverse.
	var reversed []DiffLine
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && oldLines[i-1] == newLines[j-1]:
			reversed = append(reversed, DiffLine{Type: "unchanged", Content: oldLines[i-1], OldLine: i, NewLine: j})
			i--
			j--
		case j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]):
			reversed = append(reversed, DiffLine{Type: "added", Content: newLines[j-1], NewLine: j})
			j--
		default:
			reversed = append(reversed, DiffLine{Type: "removed", Content: oldLines[i-1], OldLine: i})
			i--
		}
	}

	diff := make([]DiffLine, len(reversed))
	for k := range reversed {
		diff[k] = reversed[len(reversed)-1-k]
	}
	return diff
}
