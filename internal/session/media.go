// Package session manages one participant's end of a classroom call: media
// acquisition, SDP/candidate negotiation through the relay, the poll loop,
// and presence. Everything platform-specific sits behind the interfaces in
// this file so the lifecycle logic is testable without a real peer
// connection.
package session

import (
	"context"
	"encoding/json"

	"github.com/tutorlane/tutorlane/internal/classroom"
)

// Track is a handle on one local media track.
type Track interface {
	// Kind reports "audio" or "video".
	Kind() string
	// SetEnabled mutes or unmutes the track without releasing it.
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the underlying capture. Idempotent.
	Stop()
	// OnEnded registers a callback fired when capture ends outside the
	// manager's control, e.g. the user stops a screen share from the OS.
	OnEnded(fn func())
}

// MediaDevice acquires local capture tracks.
type MediaDevice interface {
	AcquireUserMedia(ctx context.Context) (audio Track, video Track, err error)
	AcquireScreen(ctx context.Context) (Track, error)
}

// PeerLink is the negotiation surface of a single peer connection. SDP and
// ICE payloads stay opaque blobs; the manager never inspects them.
type PeerLink interface {
	AddTrack(t Track) error
	// ReplaceVideoTrack swaps the outgoing video track in place, without
	// renegotiation. The previous track keeps capturing.
	ReplaceVideoTrack(t Track) error
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error
	AcceptOfferCreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	AddRemoteCandidate(candidate json.RawMessage) error
	OnLocalCandidate(fn func(candidate json.RawMessage))
	// OnRemoteTrack fires when the first remote media arrives.
	OnRemoteTrack(fn func())
	Close() error
}

// Signaler is the slice of the relay API the manager consumes. The concrete
// implementation is signal.Client.
type Signaler interface {
	PublishOffer(ctx context.Context, roomID string, offer json.RawMessage) error
	FetchOffer(ctx context.Context, roomID string) (json.RawMessage, error)
	PublishAnswer(ctx context.Context, roomID string, answer json.RawMessage) error
	FetchAnswer(ctx context.Context, roomID string) (json.RawMessage, error)
	PublishCandidate(ctx context.Context, roomID string, role classroom.Role, candidate json.RawMessage) error
	FetchCandidates(ctx context.Context, roomID string, role classroom.Role, after int) ([]json.RawMessage, int, error)
	PublishChat(ctx context.Context, roomID string, role classroom.Role, text string) error
	FetchChat(ctx context.Context, roomID string, after int) ([]classroom.ChatMessage, int, error)
	PublishPresence(ctx context.Context, roomID string, state classroom.PresenceState) error
	FetchPresence(ctx context.Context, roomID string) ([]classroom.PresenceState, error)
}
