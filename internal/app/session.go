package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Session is the authoritative owner of one call attempt's lifecycle.
// All mutation happens under s.mu; completions of asynchronous work
// (device acquisition, the deadline timer) re-enter through the lock and
// become no-ops if the session went terminal in the meantime.
type Session struct {
	mu   sync.Mutex
	done atomic.Bool

	sess      domain.CallSession
	stream    core.MediaStream
	neg       *Negotiator
	accepting bool

	deadline *time.Timer
	tickStop chan struct{}

	devices     core.MediaDevices
	media       core.MediaFactory
	out         core.Transport
	sink        core.EventSink
	self        domain.UserID
	ringTimeout time.Duration
}

func newSession(r *Registry, sess domain.CallSession) *Session {
	return &Session{
		sess:        sess,
		devices:     r.devices,
		media:       r.media,
		out:         r.out,
		sink:        r.sink,
		self:        r.self,
		ringTimeout: r.ringTimeout,
	}
}

// Terminated is safe to read without the session lock; the registry uses
// it to expire its current-session slot lazily.
func (s *Session) Terminated() bool { return s.done.Load() }

func (s *Session) RoomID() domain.RoomID { return s.sess.RoomID }

// Snapshot returns a copy for rendering.
func (s *Session) Snapshot() domain.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// beginOutgoing acquires local media off the lock, then sends the invite
// and arms the deadline. A hangup racing the acquisition wins: the
// completion only releases the stream.
func (s *Session) beginOutgoing(ctx context.Context) {
	s.mu.Lock()
	s.emitLocked("")
	s.mu.Unlock()
	go func() {
		stream, err := s.devices.Acquire(ctx, s.sess.Kind)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sess.Status != domain.StatusCalling {
			// a hangup won the race; only the resource matters now
			s.devices.Release(stream)
			return
		}
		if err != nil {
			s.failLocked(err)
			return
		}
		s.stream = stream
		s.applyTogglesLocked()

		s.send(domain.Envelope{
			Kind:     domain.SignalInvite,
			RoomID:   s.sess.RoomID,
			From:     s.self,
			To:       s.sess.PeerID,
			CallType: s.sess.Kind,
		})
		s.armDeadlineLocked()
	}()
}

// beginIncoming surfaces the prompt, confirms alerting to the caller and
// arms the deadline. No media is touched until the user accepts.
func (s *Session) beginIncoming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(domain.Envelope{
		Kind:   domain.SignalRinging,
		RoomID: s.sess.RoomID,
		From:   s.self,
		To:     s.sess.PeerID,
	})
	s.armDeadlineLocked()
	s.emitLocked("")
}

// Accept latches before acquiring so a double tap cannot start a
// second acquisition against the exclusive capture guard.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.sess.Direction != domain.DirectionIncoming || s.sess.Status != domain.StatusRinging || s.accepting {
		s.mu.Unlock()
		return core.ErrBadCallState
	}
	s.accepting = true
	s.mu.Unlock()

	go func() {
		stream, err := s.devices.Acquire(ctx, s.sess.Kind)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sess.Status != domain.StatusRinging {
			s.devices.Release(stream)
			return
		}
		if err != nil {
			s.failLocked(err)
			return
		}
		s.stream = stream
		s.applyTogglesLocked()
		s.stopDeadlineLocked()

		s.send(domain.Envelope{
			Kind:   domain.SignalAccepted,
			RoomID: s.sess.RoomID,
			From:   s.self,
			To:     s.sess.PeerID,
		})
		s.connectLocked(ctx, false)
	}()
	return nil
}

func (s *Session) Reject() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Direction != domain.DirectionIncoming || s.sess.Status != domain.StatusRinging {
		return core.ErrBadCallState
	}
	s.send(domain.Envelope{
		Kind:   domain.SignalRejected,
		RoomID: s.sess.RoomID,
		From:   s.self,
		To:     s.sess.PeerID,
	})
	s.finishLocked(domain.StatusRejected, "rejected")
	return nil
}

// End is the unconditional hangup. It sends exactly one ended envelope
// per session no matter how often or from which state it is invoked.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status.Terminal() {
		return nil
	}
	env := domain.Envelope{
		Kind:   domain.SignalEnded,
		RoomID: s.sess.RoomID,
		From:   s.self,
		To:     s.sess.PeerID,
	}
	reason := "cancelled"
	if s.sess.Status == domain.StatusConnected {
		env.Duration = s.sess.Duration(time.Now())
		reason = "hangup"
	} else {
		env.Reason = reason
	}
	s.send(env)
	s.finishLocked(domain.StatusEnded, reason)
	return nil
}

func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status.Terminal() {
		return false, core.ErrNoActiveCall
	}
	s.sess.Muted = !s.sess.Muted
	s.applyTogglesLocked()
	return s.sess.Muted, nil
}

func (s *Session) ToggleVideo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status.Terminal() {
		return false, core.ErrNoActiveCall
	}
	if s.sess.Kind != domain.CallVideo {
		return false, core.ErrBadCallState
	}
	s.sess.VideoEnabled = !s.sess.VideoEnabled
	s.applyTogglesLocked()
	return s.sess.VideoEnabled, nil
}

// HandleRinging: the remote confirmed it is alerting the user.
func (s *Session) HandleRinging() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status != domain.StatusCalling {
		return
	}
	s.sess.Status = domain.StatusRinging
	s.emitLocked("")
}

func (s *Session) HandleAccepted(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Direction != domain.DirectionOutgoing {
		return
	}
	if s.sess.Status != domain.StatusCalling && s.sess.Status != domain.StatusRinging {
		return
	}
	s.stopDeadlineLocked()
	s.connectLocked(ctx, true)
}

func (s *Session) HandleRejected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status != domain.StatusCalling && s.sess.Status != domain.StatusRinging {
		return
	}
	if reason == "" {
		reason = "rejected"
	}
	s.finishLocked(domain.StatusRejected, reason)
}

// HandleEnded tears the session down without replying; the peer already
// considers the call over.
func (s *Session) HandleEnded(env domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status.Terminal() {
		return
	}
	reason := env.Reason
	if reason == "" {
		reason = "hangup"
	}
	s.finishLocked(domain.StatusEnded, reason)
}

// HandleOffer / HandleAnswer / HandleCandidate bypass the state machine
// and feed the negotiation controller directly.
func (s *Session) HandleOffer(ctx context.Context, sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status != domain.StatusConnected || s.neg == nil {
		log.Warn().Str("module", "app.session").Str("room", string(s.sess.RoomID)).Msg("offer outside negotiation, dropped")
		return
	}
	if err := s.neg.HandleOffer(sdp); err != nil {
		s.failLocked(err)
	}
}

func (s *Session) HandleAnswer(ctx context.Context, sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status != domain.StatusConnected || s.neg == nil {
		log.Warn().Str("module", "app.session").Str("room", string(s.sess.RoomID)).Msg("answer outside negotiation, dropped")
		return
	}
	if err := s.neg.HandleAnswer(sdp); err != nil {
		s.failLocked(err)
	}
}

func (s *Session) HandleCandidate(c domain.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status != domain.StatusConnected || s.neg == nil {
		log.Warn().Str("module", "app.session").Str("room", string(s.sess.RoomID)).Msg("candidate outside negotiation, dropped")
		return
	}
	if err := s.neg.HandleCandidate(c); err != nil {
		s.failLocked(err)
	}
}

// FailTransport reports a lost signaling channel under an active call.
func (s *Session) FailTransport(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status.Terminal() {
		return
	}
	s.failLocked(err)
}

// connectLocked enters Connected and brings up negotiation. offerer is
// the original caller, which starts describing once accepted.
func (s *Session) connectLocked(ctx context.Context, offerer bool) {
	s.sess.Status = domain.StatusConnected
	s.sess.StartedAt = time.Now()
	s.emitLocked("")
	s.startTickerLocked()

	conn, err := s.media.NewConnection(s.sess.RoomID, s.stream)
	if err != nil {
		s.failLocked(err)
		return
	}
	s.neg = NewNegotiator(conn, s.out, s.sess.RoomID, s.self, s.sess.PeerID)
	conn.OnClosed(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sess.Status.Terminal() {
			return
		}
		s.failLocked(core.ErrNegotiation)
	})
	if err := conn.Start(ctx); err != nil {
		s.failLocked(err)
		return
	}
	if offerer {
		if err := s.neg.StartOffer(); err != nil {
			s.failLocked(err)
		}
	}
}

func (s *Session) armDeadlineLocked() {
	s.deadline = time.AfterFunc(s.ringTimeout, s.onDeadline)
}

func (s *Session) stopDeadlineLocked() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// onDeadline fires at most once and only counts if the session is still
// waiting for an answer.
func (s *Session) onDeadline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.Status != domain.StatusCalling && s.sess.Status != domain.StatusRinging {
		return
	}
	s.send(domain.Envelope{
		Kind:   domain.SignalEnded,
		RoomID: s.sess.RoomID,
		From:   s.self,
		To:     s.sess.PeerID,
		Reason: "timeout",
	})
	s.finishLocked(domain.StatusMissed, "timeout")
}

func (s *Session) startTickerLocked() {
	stop := make(chan struct{})
	s.tickStop = stop
	started := s.sess.StartedAt
	room := s.sess.RoomID
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				if s.done.Load() {
					return
				}
				s.sink.CallTick(room, int(now.Sub(started)/time.Second))
			}
		}
	}()
}

// failLocked resolves any local failure into Failed plus a best-effort
// ended notification to the peer.
func (s *Session) failLocked(err error) {
	log.Error().Err(err).Str("module", "app.session").Str("room", string(s.sess.RoomID)).Msg("call failed")
	s.send(domain.Envelope{
		Kind:   domain.SignalEnded,
		RoomID: s.sess.RoomID,
		From:   s.self,
		To:     s.sess.PeerID,
		Reason: "error",
	})
	s.finishLocked(domain.StatusFailed, err.Error())
}

// finishLocked is the single terminal doorway: status, cleanup, event.
// Reachable from several transitions, effective exactly once.
func (s *Session) finishLocked(status domain.CallStatus, reason string) {
	if s.done.Load() {
		return
	}
	s.sess.Status = status
	s.done.Store(true)

	s.stopDeadlineLocked()
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	if s.neg != nil {
		s.neg.Close()
		s.neg = nil
	}
	s.devices.Release(s.stream)
	s.stream = nil

	s.emitLocked(reason)
}

func (s *Session) applyTogglesLocked() {
	if s.stream == nil {
		return
	}
	if s.stream.AudioEnabled() == s.sess.Muted {
		s.stream.ToggleAudio()
	}
	if s.stream.VideoEnabled() != s.sess.VideoEnabled {
		s.stream.ToggleVideo()
	}
}

func (s *Session) emitLocked(reason string) {
	s.sink.CallStatus(s.sess, reason)
}

func (s *Session) send(env domain.Envelope) {
	if err := s.out.Send(env); err != nil {
		log.Error().Err(err).Str("module", "app.session").Str("room", string(env.RoomID)).Str("kind", string(env.Kind)).Msg("signal send failed")
	}
}
