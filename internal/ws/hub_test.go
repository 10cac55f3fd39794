package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cowrite/backend/internal/gate"
	"github.com/cowrite/backend/internal/protocol"
)

// Connects a test member to the hub without a real WebSocket; the hub
// only ever touches the send channel and the room/author ids.
func newTestClient(room, author string) *Client {
	return &Client{
		send:     make(chan []byte, 64),
		roomID:   room,
		authorID: author,
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(gate.NewPolicy())
	go h.Run()
	return h
}

func recv(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad message %s: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func submitOp(h *Hub, c *Client, kind string, pos int, text string, length, base int) {
	h.inbound <- inbound{client: c, msg: &protocol.ClientMessage{
		Type:        protocol.TypeOp,
		Kind:        kind,
		Pos:         pos,
		Text:        text,
		Length:      length,
		BaseVersion: base,
	}}
}

func TestJoinReceivesSnapshot(t *testing.T) {
	h := startHub(t)
	c := newTestClient("doc", "alice")
	h.register <- c

	msg := recv(t, c)
	if msg["type"] != "snapshot" || msg["version"].(float64) != 0 {
		t.Fatalf("expected empty snapshot on join, got %v", msg)
	}
}

func TestCommitBroadcastIncludesSender(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	bob := newTestClient("doc", "bob")
	h.register <- alice
	h.register <- bob
	recv(t, alice)
	recv(t, bob)

	submitOp(h, alice, protocol.KindInsert, 0, "Hello", 0, 0)

	for _, c := range []*Client{alice, bob} {
		msg := recv(t, c)
		if msg["type"] != "commit" || msg["text"] != "Hello" || msg["version"].(float64) != 1 {
			t.Fatalf("%s got %v", c.authorID, msg)
		}
		if msg["author"] != "alice" {
			t.Errorf("%s saw author %v", c.authorID, msg["author"])
		}
	}
}

func TestConcurrentSubmissionsConverge(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	bob := newTestClient("doc", "bob")
	h.register <- alice
	h.register <- bob
	recv(t, alice)
	recv(t, bob)

	// Both type at position 0 against version 0; bob's insert is
	// rebased past alice's before it is broadcast.
	submitOp(h, alice, protocol.KindInsert, 0, "Hello", 0, 0)
	submitOp(h, bob, protocol.KindInsert, 0, "World", 0, 0)

	recv(t, alice)
	second := recv(t, alice)
	if second["author"] != "bob" || second["pos"].(float64) != 5 {
		t.Fatalf("bob's rebased commit: %v", second)
	}

	snap, ok := h.SnapshotRoom("doc")
	if !ok || snap.Document != "HelloWorld" || snap.Version != 2 {
		t.Fatalf("room state: %+v ok=%v", snap, ok)
	}
}

func TestStaleClientGetsSnapshotOnly(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	bob := newTestClient("doc", "bob")
	h.register <- alice
	h.register <- bob
	recv(t, alice)
	recv(t, bob)

	submitOp(h, alice, protocol.KindInsert, 0, "x", 0, 9)

	msg := recv(t, alice)
	if msg["type"] != "snapshot" {
		t.Fatalf("expected resync snapshot, got %v", msg)
	}
	select {
	case data := <-bob.send:
		t.Fatalf("bob received %s for a rejected op", data)
	case <-time.After(50 * time.Millisecond):
	}

	if snap, _ := h.SnapshotRoom("doc"); snap.Version != 0 || snap.Document != "" {
		t.Fatalf("rejected op mutated room: %+v", snap)
	}
}

func TestSnapshotRequestRepliesToRequesterOnly(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	bob := newTestClient("doc", "bob")
	h.register <- alice
	h.register <- bob
	recv(t, alice)
	recv(t, bob)

	h.inbound <- inbound{client: alice, msg: &protocol.ClientMessage{Type: protocol.TypeSnapshot}}

	if msg := recv(t, alice); msg["type"] != "snapshot" {
		t.Fatalf("got %v", msg)
	}
	select {
	case data := <-bob.send:
		t.Fatalf("bob received %s for alice's snapshot request", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadOnlyRoomDropsEdits(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	bob := newTestClient("doc", "bob")
	h.register <- alice
	h.register <- bob
	recv(t, alice)
	recv(t, bob)

	h.SetReadOnly("doc", true)
	submitOp(h, alice, protocol.KindInsert, 0, "nope", 0, 0)

	// The submitter gets a snapshot to roll back its speculative
	// state; nobody else hears about the edit.
	if msg := recv(t, alice); msg["type"] != "snapshot" {
		t.Fatalf("got %v", msg)
	}
	select {
	case data := <-bob.send:
		t.Fatalf("bob received %s from a read-only room", data)
	case <-time.After(50 * time.Millisecond):
	}

	h.SetReadOnly("doc", false)
	submitOp(h, alice, protocol.KindInsert, 0, "yes", 0, 0)
	if msg := recv(t, bob); msg["type"] != "commit" {
		t.Fatalf("got %v after unfreezing", msg)
	}
}

func TestBlockedAuthorDropsEdits(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	h.register <- alice
	recv(t, alice)

	h.SetBlocked("doc", "alice", true)
	submitOp(h, alice, protocol.KindInsert, 0, "nope", 0, 0)
	if msg := recv(t, alice); msg["type"] != "snapshot" {
		t.Fatalf("got %v", msg)
	}

	h.SetBlocked("doc", "alice", false)
	submitOp(h, alice, protocol.KindInsert, 0, "ok", 0, 0)
	if msg := recv(t, alice); msg["type"] != "commit" {
		t.Fatalf("got %v after unblocking", msg)
	}
}

func TestCursorFanOutExcludesSender(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	bob := newTestClient("doc", "bob")
	h.register <- alice
	h.register <- bob
	recv(t, alice)
	recv(t, bob)

	h.inbound <- inbound{client: alice, msg: &protocol.ClientMessage{Type: protocol.TypeCursor, Pos: 7}}

	msg := recv(t, bob)
	if msg["type"] != "cursor" || msg["author"] != "alice" || msg["pos"].(float64) != 7 {
		t.Fatalf("got %v", msg)
	}
	select {
	case data := <-alice.send:
		t.Fatalf("alice received her own cursor: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResetDocumentResyncsMembers(t *testing.T) {
	h := startHub(t)
	alice := newTestClient("doc", "alice")
	h.register <- alice
	recv(t, alice)

	submitOp(h, alice, protocol.KindInsert, 0, "old", 0, 0)
	recv(t, alice)

	h.ResetDocument("doc", "replacement")

	msg := recv(t, alice)
	if msg["type"] != "snapshot" || msg["document"] != "replacement" || msg["version"].(float64) != 0 {
		t.Fatalf("got %v", msg)
	}

	// Editing continues from version 0 on the new document.
	submitOp(h, alice, protocol.KindInsert, 11, "!", 0, 0)
	recv(t, alice)
	if snap, _ := h.SnapshotRoom("doc"); snap.Document != "replacement!" || snap.Version != 1 {
		t.Fatalf("room state after reset+edit: %+v", snap)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	h := startHub(t)
	a := newTestClient("alpha", "alice")
	b := newTestClient("beta", "bob")
	h.register <- a
	h.register <- b
	recv(t, a)
	recv(t, b)

	submitOp(h, a, protocol.KindInsert, 0, "only alpha", 0, 0)
	recv(t, a)

	select {
	case data := <-b.send:
		t.Fatalf("beta member received %s", data)
	case <-time.After(50 * time.Millisecond):
	}

	if snap, _ := h.SnapshotRoom("beta"); snap.Document != "" {
		t.Fatalf("beta document: %q", snap.Document)
	}
}

func TestCounts(t *testing.T) {
	h := startHub(t)
	a := newTestClient("alpha", "alice")
	b := newTestClient("alpha", "bob")
	c := newTestClient("beta", "carol")
	for _, cl := range []*Client{a, b, c} {
		h.register <- cl
		recv(t, cl)
	}

	if n := h.GetClientCount(); n != 3 {
		t.Errorf("client count = %d, want 3", n)
	}
	if n := h.GetRoomCount(); n != 2 {
		t.Errorf("room count = %d, want 2", n)
	}
	rooms := h.ActiveRooms()
	if rooms["alpha"] != 2 || rooms["beta"] != 1 {
		t.Errorf("active rooms = %v", rooms)
	}

	h.unregister <- b
	deadline := time.Now().Add(time.Second)
	for h.ActiveRooms()["alpha"] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("active rooms after leave = %v", h.ActiveRooms())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
