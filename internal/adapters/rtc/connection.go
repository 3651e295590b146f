package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Connection wraps one pion PeerConnection for a call room.
type Connection struct {
	pc     *webrtc.PeerConnection
	room   domain.RoomID
	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onClosed func()
}

func ConfigFromSTUN(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// Factory builds connections with the lent local stream attached,
// implementing core.MediaFactory.
type Factory struct {
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) NewConnection(room domain.RoomID, stream core.MediaStream) (core.MediaConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, room: room}
	if stream != nil {
		for _, track := range stream.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("room", string(c.room)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("room", string(c.room)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			if fn := c.onClosed; fn != nil {
				go fn()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("room", string(c.room)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
	})

	return nil
}

func (c *Connection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

// OnClosed sets the callback for a connection dying underneath the
// session. Invoked on its own goroutine, never from Close.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("room", string(c.room)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("room", string(c.room)).Msg("closed")
		}
	}
}
