package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/domain"
)

// Router demultiplexes inbound signaling by room. Invites may open a new
// session; everything else must match the currently tracked room or it
// is logged and dropped. A malformed or stale message never reaches the
// state machine.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

func (rt *Router) Dispatch(ctx context.Context, env domain.Envelope) {
	if env.Kind == domain.SignalInvite {
		rt.reg.handleInvite(env)
		return
	}

	s := rt.reg.sessionFor(env.RoomID)
	if s == nil {
		log.Warn().Str("module", "app.router").Str("room", string(env.RoomID)).Str("kind", string(env.Kind)).Msg("stale signal, dropped")
		return
	}

	switch env.Kind {
	case domain.SignalRinging:
		s.HandleRinging()
	case domain.SignalAccepted:
		s.HandleAccepted(ctx)
	case domain.SignalRejected:
		s.HandleRejected(env.Reason)
	case domain.SignalEnded:
		s.HandleEnded(env)
	case domain.SignalOffer:
		s.HandleOffer(ctx, env.SDP)
	case domain.SignalAnswer:
		s.HandleAnswer(ctx, env.SDP)
	case domain.SignalCandidate:
		if env.Candidate == nil {
			log.Warn().Str("module", "app.router").Str("room", string(env.RoomID)).Msg("candidate signal without payload")
			return
		}
		s.HandleCandidate(*env.Candidate)
	default:
		log.Warn().Str("module", "app.router").Str("kind", string(env.Kind)).Msg("unknown signal")
	}
}
