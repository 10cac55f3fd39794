// Package gate answers one question for the hub: may this author edit
// this room right now? Ownership, sharing, and moderation live outside
// the sync core; the hub only consults the verdict before an
// operation reaches a session.
package gate

// Gate is consulted before every incoming operation is applied.
type Gate interface {
	CanEdit(roomID, authorID string) bool
}

// AllowAll permits everything. The zero policy for deployments that
// do their gating upstream.
type AllowAll struct{}

func (AllowAll) CanEdit(string, string) bool { return true }

// Policy is an in-memory gate with per-room read-only flags and author
// blocklists. It is owned by the hub loop, which serializes all
// access, so it carries no lock.
type Policy struct {
	readOnly map[string]bool
	blocked  map[string]map[string]bool
}

func NewPolicy() *Policy {
	return &Policy{
		readOnly: make(map[string]bool),
		blocked:  make(map[string]map[string]bool),
	}
}

func (p *Policy) CanEdit(roomID, authorID string) bool {
	if p.readOnly[roomID] {
		return false
	}
	return !p.blocked[roomID][authorID]
}

// SetReadOnly freezes or unfreezes a room for everyone.
func (p *Policy) SetReadOnly(roomID string, readOnly bool) {
	if readOnly {
		p.readOnly[roomID] = true
	} else {
		delete(p.readOnly, roomID)
	}
}

// Block bars one author from editing a room; their connection stays
// open and keeps receiving broadcasts.
func (p *Policy) Block(roomID, authorID string) {
	if p.blocked[roomID] == nil {
		p.blocked[roomID] = make(map[string]bool)
	}
	p.blocked[roomID][authorID] = true
}

func (p *Policy) Unblock(roomID, authorID string) {
	delete(p.blocked[roomID], authorID)
	if len(p.blocked[roomID]) == 0 {
		delete(p.blocked, roomID)
	}
}

// IsReadOnly reports the room's read-only flag.
func (p *Policy) IsReadOnly(roomID string) bool { return p.readOnly[roomID] }
