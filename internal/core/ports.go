package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Call/internal/domain"
)

// Transport carries signaling envelopes to the peer. Delivery is assumed
// reliable and ordered within one room; the engine never reorders.
// Owned by the adapter; the adapter must Close() it.
type Transport interface {
	Send(env domain.Envelope) error
	Close()
}

// MediaStream is the handle for acquired local capture resources.
// It is exclusively owned by the MediaDevices guard and lent to the
// negotiation layer for the session's duration.
type MediaStream interface {
	// Tracks exposes the local tracks for attachment to a peer connection.
	Tracks() []webrtc.TrackLocal
	// ToggleAudio / ToggleVideo flip the enabled flag and return the new
	// value. Purely local, never triggers signaling or renegotiation.
	ToggleAudio() bool
	ToggleVideo() bool
	AudioEnabled() bool
	VideoEnabled() bool
	// Close stops every track. Safe to call more than once.
	Close()
}

// MediaDevices acquires and releases local capture devices.
type MediaDevices interface {
	// Acquire requests audio capture, plus video for a video call.
	// On error no resources are held.
	Acquire(ctx context.Context, kind domain.CallKind) (MediaStream, error)
	// Release stops the stream. Must be an idempotent no-op for a nil
	// or already-released handle; cleanup reaches here from several
	// transitions.
	Release(s MediaStream)
}

// MediaConnection is one peer connection's negotiation surface.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection
	// lifetime to ctx.
	Start(ctx context.Context) error
	Close()
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(ci webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	// OnClosed sets a callback fired when the connection dies underneath us.
	OnClosed(fn func())
}

// MediaFactory builds a peer connection with the lent stream attached.
type MediaFactory interface {
	NewConnection(room domain.RoomID, stream MediaStream) (MediaConnection, error)
}

// EventSink is the read-only UI boundary: status changes and the
// once-per-second duration tick while connected. Implementations must
// not call back into the engine.
type EventSink interface {
	CallStatus(sess domain.CallSession, reason string)
	CallTick(room domain.RoomID, seconds int)
}

// NopSink is for embedders that do not render anything.
type NopSink struct{}

func (NopSink) CallStatus(domain.CallSession, string) {}
func (NopSink) CallTick(domain.RoomID, int)           {}
