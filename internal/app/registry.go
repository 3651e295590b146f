package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Registry is the only component the embedding UI talks to. It enforces
// the one-non-terminal-session invariant ahead of the state machine: a
// second call attempt while one is pending fails with a typed error and
// leaves the running call untouched.
type Registry struct {
	mu  sync.Mutex
	cur *Session

	devices     core.MediaDevices
	media       core.MediaFactory
	out         core.Transport
	sink        core.EventSink
	self        domain.UserID
	ringTimeout time.Duration
}

func NewRegistry(self domain.UserID, devices core.MediaDevices, media core.MediaFactory, out core.Transport, sink core.EventSink, ringTimeout time.Duration) *Registry {
	if sink == nil {
		sink = core.NopSink{}
	}
	return &Registry{
		devices:     devices,
		media:       media,
		out:         out,
		sink:        sink,
		self:        self,
		ringTimeout: ringTimeout,
	}
}

// InitiateCall starts an outgoing call and returns its room id.
func (r *Registry) InitiateCall(ctx context.Context, conversationID string, peer domain.UserID, kind domain.CallKind) (domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveLocked() != nil {
		return "", core.ErrCallInProgress
	}

	room := domain.NewCallRoomID(conversationID, time.Now())
	s := newSession(r, domain.CallSession{
		RoomID:       room,
		PeerID:       peer,
		Kind:         kind,
		Direction:    domain.DirectionOutgoing,
		Status:       domain.StatusCalling,
		VideoEnabled: kind == domain.CallVideo,
	})
	r.cur = s
	log.Info().Str("module", "app.registry").Str("room", string(room)).Str("peer", string(peer)).Str("kind", string(kind)).Msg("initiating call")

	s.beginOutgoing(ctx)
	return room, nil
}

func (r *Registry) AcceptCall(ctx context.Context) error {
	s := r.live()
	if s == nil {
		return core.ErrNoActiveCall
	}
	return s.Accept(ctx)
}

func (r *Registry) RejectCall() error {
	s := r.live()
	if s == nil {
		return core.ErrNoActiveCall
	}
	return s.Reject()
}

func (r *Registry) EndCall() error {
	s := r.live()
	if s == nil {
		return core.ErrNoActiveCall
	}
	return s.End()
}

func (r *Registry) ToggleMute() (bool, error) {
	s := r.live()
	if s == nil {
		return false, core.ErrNoActiveCall
	}
	return s.ToggleMute()
}

func (r *Registry) ToggleVideo() (bool, error) {
	s := r.live()
	if s == nil {
		return false, core.ErrNoActiveCall
	}
	return s.ToggleVideo()
}

// Current exposes the session snapshot for rendering.
func (r *Registry) Current() (domain.CallSession, bool) {
	s := r.live()
	if s == nil {
		return domain.CallSession{}, false
	}
	return s.Snapshot(), true
}

// FailTransport fails the active call when the signaling channel drops.
func (r *Registry) FailTransport(err error) {
	if s := r.live(); s != nil {
		s.FailTransport(err)
	}
}

// handleInvite admits an incoming call, or answers busy if a session is
// already live. The live session is never disturbed.
func (r *Registry) handleInvite(env domain.Envelope) {
	r.mu.Lock()
	if r.liveLocked() != nil {
		r.mu.Unlock()
		log.Warn().Str("module", "app.registry").Str("room", string(env.RoomID)).Str("from", string(env.From)).Msg("invite while busy, rejecting")
		if err := r.out.Send(domain.Envelope{
			Kind:   domain.SignalRejected,
			RoomID: env.RoomID,
			From:   r.self,
			To:     env.From,
			Reason: "busy",
		}); err != nil {
			log.Error().Err(err).Str("module", "app.registry").Msg("busy reject send failed")
		}
		return
	}

	kind := env.CallType
	if kind != domain.CallVideo {
		kind = domain.CallVoice
	}
	s := newSession(r, domain.CallSession{
		RoomID:       env.RoomID,
		PeerID:       env.From,
		Kind:         kind,
		Direction:    domain.DirectionIncoming,
		Status:       domain.StatusRinging,
		VideoEnabled: kind == domain.CallVideo,
	})
	r.cur = s
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("room", string(env.RoomID)).Str("from", string(env.From)).Msg("incoming call")
	s.beginIncoming()
}

// sessionFor returns the live session matching the room, or nil.
func (r *Registry) sessionFor(room domain.RoomID) *Session {
	s := r.live()
	if s == nil || s.RoomID() != room {
		return nil
	}
	return s
}

func (r *Registry) live() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked()
}

// liveLocked expires the slot lazily; a terminated session is gone even
// if nothing has asked about it since.
func (r *Registry) liveLocked() *Session {
	if r.cur != nil && r.cur.Terminated() {
		r.cur = nil
	}
	return r.cur
}
