// Package protocol defines the JSON messages exchanged over the
// WebSocket and validates inbound payloads before they reach the
// transform algebra.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cowrite/backend/internal/ot"
)

// Client → server message types.
const (
	TypeOp       = "op"
	TypeSnapshot = "snapshot"
	TypeCursor   = "cursor"
)

// Server → client message types (TypeSnapshot is shared).
const (
	TypeCommit = "commit"
	TypeError  = "error"
)

// Operation kinds on the wire.
const (
	KindInsert = "insert"
	KindDelete = "delete"
)

// ClientMessage is anything a client sends. Fields beyond Type are
// populated per type: op carries Kind/Pos/Text/Length/BaseVersion,
// cursor carries Pos, snapshot carries nothing extra.
type ClientMessage struct {
	Type        string `json:"type"`
	Kind        string `json:"kind,omitempty"`
	Pos         int    `json:"pos"`
	Text        string `json:"text,omitempty"`
	Length      int    `json:"length,omitempty"`
	BaseVersion int    `json:"base_version"`
}

// CommitMessage broadcasts one committed operation to every member of
// a room, the sender included: the sender reconciles by replaying the
// authoritative stream, not by trusting its own submission.
type CommitMessage struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Kind    string `json:"kind"`
	Pos     int    `json:"pos"`
	Text    string `json:"text,omitempty"`
	Length  int    `json:"length,omitempty"`
	Author  string `json:"author"`
	Version int    `json:"version"`
}

// SnapshotMessage carries full room state for join and resync.
type SnapshotMessage struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Document string `json:"document"`
	Version  int    `json:"version"`
	SyncSeq  int    `json:"sync_seq"`
}

// CursorMessage relays one member's caret position. Pure fan-out; the
// server never transforms or versions these.
type CursorMessage struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Author string `json:"author"`
	Pos    int    `json:"pos"`
}

// ErrorMessage tells a client its message was dropped. Diagnostic
// only; malformed input is never surfaced to other clients.
type ErrorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch msg.Type {
	case TypeOp:
		if err := validateOp(&msg); err != nil {
			return nil, err
		}
	case TypeSnapshot:
	case TypeCursor:
		if msg.Pos < 0 {
			return nil, fmt.Errorf("negative cursor position %d", msg.Pos)
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// validateOp enforces the operation shape so the algebra, which
// trusts its inputs, never sees a malformed edit: a known kind, a
// non-negative position and base version, and exactly one of
// text/length meaningful for the kind.
func validateOp(msg *ClientMessage) error {
	if msg.Pos < 0 {
		return fmt.Errorf("negative position %d", msg.Pos)
	}
	if msg.BaseVersion < 0 {
		return fmt.Errorf("negative base version %d", msg.BaseVersion)
	}
	switch msg.Kind {
	case KindInsert:
		if msg.Text == "" {
			return fmt.Errorf("insert without text")
		}
		if msg.Length != 0 {
			return fmt.Errorf("insert carries a length")
		}
	case KindDelete:
		if msg.Length <= 0 {
			return fmt.Errorf("delete with length %d", msg.Length)
		}
		if msg.Text != "" {
			return fmt.Errorf("delete carries text")
		}
	default:
		return fmt.Errorf("unknown operation kind %q", msg.Kind)
	}
	return nil
}

// Op converts a validated op message into an algebra operation
// attributed to author.
func (m *ClientMessage) Op(author string) ot.Op {
	if m.Kind == KindInsert {
		return ot.Insert{Pos: m.Pos, Text: m.Text, Author: author}
	}
	return ot.Delete{Pos: m.Pos, Length: m.Length, Author: author}
}

// NewCommit builds the broadcast message for a committed operation.
func NewCommit(room string, op ot.Op, version int) CommitMessage {
	msg := CommitMessage{Type: TypeCommit, Room: room, Version: version, Author: op.AuthorID()}
	switch o := op.(type) {
	case ot.Insert:
		msg.Kind = KindInsert
		msg.Pos = o.Pos
		msg.Text = o.Text
	case ot.Delete:
		msg.Kind = KindDelete
		msg.Pos = o.Pos
		msg.Length = o.Length
	}
	return msg
}

// NewSnapshot builds a snapshot message for a room.
func NewSnapshot(room, document string, version, syncSeq int) SnapshotMessage {
	return SnapshotMessage{
		Type:     TypeSnapshot,
		Room:     room,
		Document: document,
		Version:  version,
		SyncSeq:  syncSeq,
	}
}

// Encode marshals any outbound message, panicking on marshal failure:
// every outbound type here is a plain struct and cannot fail to
// encode.
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
