package app

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Negotiator sequences the offer/answer/candidate exchange for one
// connected session. Remote candidates arriving before the remote
// description are queued and flushed in receipt order the moment the
// description lands; applying a candidate against a missing description
// is the classic failure mode this type exists to prevent.
type Negotiator struct {
	conn core.MediaConnection
	out  core.Transport
	room domain.RoomID
	self domain.UserID
	peer domain.UserID

	mu        sync.Mutex
	remoteSet bool
	pending   []domain.Candidate
}

func NewNegotiator(conn core.MediaConnection, out core.Transport, room domain.RoomID, self, peer domain.UserID) *Negotiator {
	n := &Negotiator{conn: conn, out: out, room: room, self: self, peer: peer}
	conn.OnICECandidate(n.onLocalCandidate)
	return n
}

// StartOffer runs on the offerer side once the call is accepted.
func (n *Negotiator) StartOffer() error {
	offer, err := n.conn.CreateAndSetOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", core.ErrNegotiation, err)
	}
	return n.send(domain.Envelope{
		Kind:   domain.SignalOffer,
		RoomID: n.room,
		From:   n.self,
		To:     n.peer,
		SDP:    offer.SDP,
	})
}

// HandleOffer applies the remote offer, answers it, and flushes any
// candidates that raced ahead of the description.
func (n *Negotiator) HandleOffer(sdp string) error {
	answer, err := n.conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("%w: apply offer: %v", core.ErrNegotiation, err)
	}
	if err := n.markRemoteSet(); err != nil {
		return err
	}
	return n.send(domain.Envelope{
		Kind:   domain.SignalAnswer,
		RoomID: n.room,
		From:   n.self,
		To:     n.peer,
		SDP:    answer.SDP,
	})
}

func (n *Negotiator) HandleAnswer(sdp string) error {
	err := n.conn.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("%w: apply answer: %v", core.ErrNegotiation, err)
	}
	return n.markRemoteSet()
}

// HandleCandidate applies immediately once the remote description is
// known, otherwise parks the candidate for the flush.
func (n *Negotiator) HandleCandidate(c domain.Candidate) error {
	n.mu.Lock()
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := n.conn.AddICECandidate(toICEInit(c)); err != nil {
		return fmt.Errorf("%w: add candidate: %v", core.ErrNegotiation, err)
	}
	return nil
}

func (n *Negotiator) Close() {
	n.conn.Close()
}

func (n *Negotiator) markRemoteSet() error {
	n.mu.Lock()
	n.remoteSet = true
	queued := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, c := range queued {
		if err := n.conn.AddICECandidate(toICEInit(c)); err != nil {
			return fmt.Errorf("%w: flush candidate: %v", core.ErrNegotiation, err)
		}
	}
	return nil
}

// onLocalCandidate forwards freshly gathered candidates as they appear.
// Fired from the media stack's goroutines; touches no session state.
func (n *Negotiator) onLocalCandidate(ci webrtc.ICECandidateInit) {
	err := n.send(domain.Envelope{
		Kind:      domain.SignalCandidate,
		RoomID:    n.room,
		From:      n.self,
		To:        n.peer,
		Candidate: fromICEInit(ci),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiate").Str("room", string(n.room)).Msg("candidate send failed")
	}
}

func (n *Negotiator) send(env domain.Envelope) error {
	return n.out.Send(env)
}

func toICEInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func fromICEInit(ci webrtc.ICECandidateInit) *domain.Candidate {
	return &domain.Candidate{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}
