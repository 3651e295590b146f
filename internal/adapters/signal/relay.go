package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/domain"
)

// RunSweeper periodically drops unanswered rooms whose invite window is
// long past, so abandoned attempts do not pile up.
func (ctl *Controller) RunSweeper(ctx context.Context, every, maxAge time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, room := range ctl.rooms.Sweep(maxAge) {
				log.Info().Str("module", "signal").Str("room", string(room.ID)).Msg("stale room swept")
			}
		}
	}
}

// route forwards one envelope toward the other side of its room.
// Ordering per room is preserved because each recipient has a single
// write pump fed in arrival order.
func (ctl *Controller) route(uid domain.UserID, c *Conn, env domain.Envelope) {
	// identity always comes from the connection, whatever the payload says
	env.From = uid
	switch env.Kind {
	case domain.SignalInvite:
		ctl.handleInvite(uid, c, env)

	case domain.SignalRinging, domain.SignalAccepted,
		domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate:
		ctl.forwardInRoom(uid, env)
		if env.Kind == domain.SignalAccepted {
			ctl.rooms.MarkAccepted(env.RoomID)
		}

	case domain.SignalRejected, domain.SignalEnded:
		ctl.forwardInRoom(uid, env)
		ctl.rooms.Drop(env.RoomID)

	default:
		log.Warn().Str("module", "signal").Str("kind", string(env.Kind)).Msg("unknown signal")
	}
}

func (ctl *Controller) handleInvite(uid domain.UserID, c *Conn, env domain.Envelope) {
	if env.RoomID == "" || env.To == "" {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("invite without room or recipient")
		return
	}
	if !ctl.limiter.Allow(uid) {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("invite rate limited")
		ctl.sendJSON(c, domain.Envelope{
			Kind:   domain.SignalRejected,
			RoomID: env.RoomID,
			From:   env.To,
			To:     uid,
			Reason: "rate_limited",
		})
		return
	}

	peer, ok := ctl.reg.Get(env.To)
	if !ok {
		log.Info().Str("module", "signal").Str("user", string(uid)).Str("peer", string(env.To)).Msg("invite to offline peer")
		ctl.sendJSON(c, domain.Envelope{
			Kind:   domain.SignalRejected,
			RoomID: env.RoomID,
			From:   env.To,
			To:     uid,
			Reason: "offline",
		})
		return
	}

	ctl.rooms.Open(env.RoomID, uid, env.To, env.CallType)
	log.Info().Str("module", "signal").Str("room", string(env.RoomID)).Str("caller", string(uid)).Str("callee", string(env.To)).Msg("call room opened")
	ctl.sendJSON(peer, env)
}

func (ctl *Controller) forwardInRoom(uid domain.UserID, env domain.Envelope) {
	other, ok := ctl.rooms.Other(env.RoomID, uid)
	if !ok {
		log.Warn().Str("module", "signal").Str("room", string(env.RoomID)).Str("kind", string(env.Kind)).Msg("signal for unknown room, dropped")
		return
	}
	peer, ok := ctl.reg.Get(other)
	if !ok {
		log.Warn().Str("module", "signal").Str("room", string(env.RoomID)).Str("peer", string(other)).Msg("room member offline, dropped")
		return
	}
	env.To = other
	ctl.sendJSON(peer, env)
}

// OnDisconnect tears down every room the user participated in and tells
// the surviving member the peer is gone. A caller mid-call learns about
// the drop the same way a hangup would arrive. A stale pump whose user
// already rebound only closes itself; the fresh session keeps its rooms.
func (ctl *Controller) OnDisconnect(uid domain.UserID, c *Conn) {
	if !ctl.reg.Unbind(uid, c) {
		log.Info().Str("module", "signal").Str("user", string(uid)).Msg("stale connection closed")
		return
	}
	for _, room := range ctl.rooms.DropByUser(uid) {
		other := room.Caller
		if other == uid {
			other = room.Callee
		}
		if peer, ok := ctl.reg.Get(other); ok {
			ctl.sendJSON(peer, domain.Envelope{
				Kind:   domain.SignalEnded,
				RoomID: room.ID,
				From:   uid,
				To:     other,
				Reason: "peer_disconnected",
			})
		}
		log.Info().Str("module", "signal").Str("room", string(room.ID)).Str("user", string(uid)).Msg("room dropped on disconnect")
	}
}
