// Package session holds the server-authoritative state of one
// collaboration room: the canonical document, a version counter, and
// the ordered history of committed operations used to rebase edits
// from clients that have fallen behind.
package session

import (
	"errors"
	"time"

	"github.com/cowrite/backend/internal/ot"
)

// ErrFutureVersion is returned when a client claims to have seen a
// server version that does not exist yet. The connection should be
// resynchronized with a full snapshot rather than partially repaired.
var ErrFutureVersion = errors.New("session: operation based on a future version")

// Snapshot is the full state handed to a client on join or resync.
type Snapshot struct {
	Document string
	Version  int
	SyncSeq  int
}

// Session is one room's state. It is not safe for concurrent use; the
// hub's event loop is its single owner and serializes all access.
type Session struct {
	ID         string
	document   string
	version    int
	history    []ot.Op
	syncSeq    int
	lastActive time.Time
}

// New returns an empty session for the given room id.
func New(id string) *Session {
	return &Session{ID: id, lastActive: time.Now()}
}

func (s *Session) Document() string { return s.document }
func (s *Session) Version() int     { return s.version }

// LastActive reports when the session last committed an operation or
// was reset. Snapshots do not count as activity: the autosaver reads
// every live room on a timer, and a room nobody edits should still
// age out. The registry's idle sweep keys off this.
func (s *Session) LastActive() time.Time { return s.lastActive }

// ApplyIncoming rebases a client operation authored at baseVersion
// onto everything committed since, applies it, and appends it to the
// history. It returns the rebased operation and the version it
// committed as; that pair is what gets broadcast, and every replica
// applies the same rebased operation, which is what makes them
// converge.
//
// history[i] is the operation that moved the document from version i
// to version i+1, so the ops the client has not seen are exactly
// history[baseVersion:], walked in commit order. Transforming against
// each of them in sequence, not just the most recent, is what keeps
// three-way and deeper concurrency correct.
func (s *Session) ApplyIncoming(op ot.Op, baseVersion int) (ot.Op, int, error) {
	if baseVersion > s.version {
		return nil, 0, ErrFutureVersion
	}
	for _, committed := range s.history[baseVersion:] {
		op = ot.Transform(op, committed)
	}
	s.document = op.Apply(s.document)
	s.history = append(s.history, op)
	s.version++
	s.lastActive = time.Now()
	return op, s.version, nil
}

// Snapshot returns the full current state. The sync sequence number
// increments on every call so repeated snapshots at the same version
// are distinguishable on the client side.
func (s *Session) Snapshot() Snapshot {
	s.syncSeq++
	return Snapshot{Document: s.document, Version: s.version, SyncSeq: s.syncSeq}
}

// Reset replaces the document wholesale and discards the version
// counter and history. Callers are responsible for pushing fresh
// snapshots to connected clients afterwards; any operation still in
// flight against the old numbering resolves through the normal
// stale-resync path.
func (s *Session) Reset(document string) {
	s.document = document
	s.version = 0
	s.history = nil
	s.lastActive = time.Now()
}
