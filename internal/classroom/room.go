package classroom

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrEmptyMessage = errors.New("chat message is empty")

const (
	// MaxChatRunes is the stored length limit for a single chat message.
	MaxChatRunes = 500
	// MaxReactionRunes bounds the ephemeral reaction field.
	MaxReactionRunes = 16
)

// Role identifies one of the two fixed participant kinds in a session.
// Each role owns its own candidate queue.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// ParseRole maps a caller-supplied role string to a Role. Anything that is
// not exactly "host" is treated as guest, matching the public API contract.
func ParseRole(s string) Role {
	if s == string(RoleHost) {
		return RoleHost
	}
	return RoleGuest
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// ChatMessage is one entry in a room's chat log. Timestamps are Unix
// milliseconds because they travel to JS clients.
type ChatMessage struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
}

// PresenceState is the last-write-wins per-participant status blob.
type PresenceState struct {
	Role          Role   `json:"role"`
	UserID        string `json:"userId"`
	MicEnabled    bool   `json:"micEnabled"`
	CamEnabled    bool   `json:"camEnabled"`
	HandRaised    bool   `json:"handRaised"`
	SharingScreen bool   `json:"sharingScreen"`
	Reaction      string `json:"reaction"`
	TS            int64  `json:"ts"`
}

// Room is the negotiation record for one live session. All mutation and
// snapshot methods take the room lock, so concurrent requests against the
// same room see one writer at a time. Session descriptions and candidates
// are opaque to the relay and stored as raw JSON.
type Room struct {
	ID string

	mu              sync.Mutex
	offer           json.RawMessage
	answer          json.RawMessage
	hostCandidates  Feed[json.RawMessage]
	guestCandidates Feed[json.RawMessage]
	chat            Feed[ChatMessage]
	presence        PresenceSet
	updatedAt       time.Time
}

func newRoom(id string, now time.Time) *Room {
	return &Room{ID: id, updatedAt: now}
}

// SetOffer overwrites the stored offer. Only the latest value is ever
// visible; there is no renegotiation history.
func (r *Room) SetOffer(offer json.RawMessage, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offer = offer
	r.updatedAt = now
}

func (r *Room) Offer() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offer
}

// SetAnswer overwrites the stored answer.
func (r *Room) SetAnswer(answer json.RawMessage, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answer = answer
	r.updatedAt = now
}

func (r *Room) Answer() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answer
}

// AppendCandidate adds an ICE candidate to the queue owned by role.
func (r *Room) AppendCandidate(role Role, candidate json.RawMessage, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role == RoleHost {
		r.hostCandidates.Append(candidate)
	} else {
		r.guestCandidates.Append(candidate)
	}
	r.updatedAt = now
}

// CandidatesFor returns the suffix of the queue the caller should consume:
// the *other* role's candidates, starting at cursor.
func (r *Room) CandidatesFor(caller Role, cursor int) ([]json.RawMessage, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller == RoleHost {
		return r.guestCandidates.Since(cursor)
	}
	return r.hostCandidates.Since(cursor)
}

// AppendChat validates, truncates and stores a chat message. The text must
// be non-empty after trimming; empty messages are rejected without mutating
// the room. Text longer than MaxChatRunes is truncated before storage.
func (r *Room) AppendChat(msg ChatMessage, now time.Time) error {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	if runes := []rune(msg.Text); len(runes) > MaxChatRunes {
		msg.Text = string(runes[:MaxChatRunes])
	}
	msg.TS = now.UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat.Append(msg)
	r.updatedAt = now
	return nil
}

// ChatSince returns chat messages starting at cursor in submission order.
func (r *Room) ChatSince(cursor int) ([]ChatMessage, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chat.Since(cursor)
}

// PublishPresence replaces the stored state for (state.Role, state.UserID).
// The timestamp is assigned here, at receipt, so ordering is by arrival and
// never by client clocks.
func (r *Room) PublishPresence(state PresenceState, now time.Time) {
	if runes := []rune(state.Reaction); len(runes) > MaxReactionRunes {
		state.Reaction = string(runes[:MaxReactionRunes])
	}
	state.TS = now.UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence.Publish(state)
	r.updatedAt = now
}

// Presence returns all current entries ordered by descending recency.
func (r *Room) Presence() []PresenceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.List()
}

// Touched reports when the room was last mutated.
func (r *Room) Touched() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}
