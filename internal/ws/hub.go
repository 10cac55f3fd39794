package ws

import (
	"log"
	"time"

	"github.com/cowrite/backend/internal/gate"
	"github.com/cowrite/backend/internal/protocol"
	"github.com/cowrite/backend/internal/session"
)

const (
	defaultIdleTTL       = time.Hour
	defaultSweepInterval = 10 * time.Minute
)

// Hub owns every room session and the set of connected clients. A
// single Run goroutine handles registration, inbound operations,
// administrative commands, and the idle-room sweep, so each message is
// a complete serialized transaction against room state and the
// sessions need no locking.
type Hub struct {
	registry *session.Registry
	policy   *gate.Policy

	// Clients by room, touched only inside Run.
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	commands   chan command

	idleTTL       time.Duration
	sweepInterval time.Duration
}

type inbound struct {
	client *Client
	msg    *protocol.ClientMessage
}

// command crosses from HTTP handlers (and the autosaver) into the Run
// loop; done is closed once fn has executed, so callers read their
// results synchronously without touching room state themselves.
type command struct {
	fn   func()
	done chan struct{}
}

func NewHub(policy *gate.Policy) *Hub {
	return &Hub{
		registry:      session.NewRegistry(),
		policy:        policy,
		rooms:         make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inbound, 64),
		commands:      make(chan command),
		idleTTL:       defaultIdleTTL,
		sweepInterval: defaultSweepInterval,
	}
}

func (h *Hub) Run() {
	sweep := time.NewTicker(h.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case in := <-h.inbound:
			h.handleMessage(in.client, in.msg)

		case cmd := <-h.commands:
			cmd.fn()
			close(cmd.done)

		case <-sweep.C:
			evicted := h.registry.EvictIdle(h.idleTTL, func(id string) bool {
				return len(h.rooms[id]) > 0
			})
			for _, id := range evicted {
				log.Printf("Evicted idle room %s", id)
			}
		}
	}
}

func (h *Hub) addClient(c *Client) {
	if h.rooms[c.roomID] == nil {
		h.rooms[c.roomID] = make(map[*Client]bool)
	}
	h.rooms[c.roomID][c] = true

	// Joining puts the client in sync immediately.
	h.sendSnapshot(c)
	log.Printf("Client %s joined room %s (members: %d)", c.authorID, c.roomID, len(h.rooms[c.roomID]))
}

func (h *Hub) removeClient(c *Client) {
	clients, ok := h.rooms[c.roomID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		// The session stays in the registry until the idle sweep.
		delete(h.rooms, c.roomID)
		log.Printf("Room %s has no members", c.roomID)
	} else {
		log.Printf("Client %s left room %s (remaining: %d)", c.authorID, c.roomID, len(clients))
	}
}

func (h *Hub) handleMessage(c *Client, msg *protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeOp:
		h.handleOp(c, msg)
	case protocol.TypeSnapshot:
		h.sendSnapshot(c)
	case protocol.TypeCursor:
		h.fanOutCursor(c, msg.Pos)
	}
}

func (h *Hub) handleOp(c *Client, msg *protocol.ClientMessage) {
	if !h.policy.CanEdit(c.roomID, c.authorID) {
		// The edit is dropped and never reaches the room; a snapshot
		// lets the submitter roll its speculative state back.
		h.sendSnapshot(c)
		return
	}

	sess := h.registry.Get(c.roomID)
	committed, version, err := sess.ApplyIncoming(msg.Op(c.authorID), msg.BaseVersion)
	if err != nil {
		// The client claims a version the server has not reached:
		// its state is unusable for rebasing, so resync it wholesale.
		log.Printf("Resyncing stale client %s in room %s (base %d > version %d)",
			c.authorID, c.roomID, msg.BaseVersion, sess.Version())
		h.sendSnapshot(c)
		return
	}

	// Everyone, the sender included, applies the same rebased op.
	data := protocol.Encode(protocol.NewCommit(c.roomID, committed, version))
	for member := range h.rooms[c.roomID] {
		h.send(member, data)
	}
}

func (h *Hub) fanOutCursor(c *Client, pos int) {
	data := protocol.Encode(protocol.CursorMessage{
		Type:   protocol.TypeCursor,
		Room:   c.roomID,
		Author: c.authorID,
		Pos:    pos,
	})
	for member := range h.rooms[c.roomID] {
		if member != c {
			h.send(member, data)
		}
	}
}

func (h *Hub) sendSnapshot(c *Client) {
	snap := h.registry.Get(c.roomID).Snapshot()
	h.send(c, protocol.Encode(protocol.NewSnapshot(c.roomID, snap.Document, snap.Version, snap.SyncSeq)))
}

// send enqueues data for one client, dropping the connection if its
// buffer is full rather than stalling the loop for every room.
func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		delete(h.rooms[c.roomID], c)
		close(c.send)
		if len(h.rooms[c.roomID]) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
}

// do runs fn inside the Run loop and waits for it to finish.
func (h *Hub) do(fn func()) {
	done := make(chan struct{})
	h.commands <- command{fn: fn, done: done}
	<-done
}

// SnapshotRoom returns the current state of a room, if it exists.
// Safe to call from any goroutine.
func (h *Hub) SnapshotRoom(roomID string) (session.Snapshot, bool) {
	var snap session.Snapshot
	var ok bool
	h.do(func() {
		if s, exists := h.registry.Lookup(roomID); exists {
			snap = s.Snapshot()
			ok = true
		}
	})
	return snap, ok
}

// ResetDocument replaces a room's document wholesale, zeroing its
// version and history, and pushes fresh snapshots to every member.
// This is the privileged out-of-band replacement path; authorization
// happens at the HTTP layer, not here.
func (h *Hub) ResetDocument(roomID, content string) {
	h.do(func() {
		sess := h.registry.Get(roomID)
		sess.Reset(content)
		for member := range h.rooms[roomID] {
			h.sendSnapshot(member)
		}
		log.Printf("Room %s document reset (%d bytes)", roomID, len(content))
	})
}

// SetReadOnly flips a room's read-only flag.
func (h *Hub) SetReadOnly(roomID string, readOnly bool) {
	h.do(func() { h.policy.SetReadOnly(roomID, readOnly) })
}

// SetBlocked adds or removes an author on a room's blocklist.
func (h *Hub) SetBlocked(roomID, authorID string, blocked bool) {
	h.do(func() {
		if blocked {
			h.policy.Block(roomID, authorID)
		} else {
			h.policy.Unblock(roomID, authorID)
		}
	})
}

// ActiveRooms returns the member count per occupied room.
func (h *Hub) ActiveRooms() map[string]int {
	counts := make(map[string]int)
	h.do(func() {
		for id, clients := range h.rooms {
			counts[id] = len(clients)
		}
	})
	return counts
}

// LiveRoomIDs returns the ids of every session in the registry,
// occupied or not.
func (h *Hub) LiveRoomIDs() []string {
	var ids []string
	h.do(func() { ids = h.registry.IDs() })
	return ids
}

// GetRoomCount returns the number of live sessions.
func (h *Hub) GetRoomCount() int {
	var n int
	h.do(func() { n = h.registry.Len() })
	return n
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	var n int
	h.do(func() {
		for _, clients := range h.rooms {
			n += len(clients)
		}
	})
	return n
}
