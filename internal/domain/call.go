package domain

import (
	"fmt"
	"time"
)

type RoomID string

// NewCallRoomID derives the signaling room for one call attempt.
// The initiator generates it; both sides key every message on it.
func NewCallRoomID(conversationID string, now time.Time) RoomID {
	return RoomID(fmt.Sprintf("call_%s_%d", conversationID, now.UnixMilli()))
}

type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

type CallStatus string

const (
	StatusCalling   CallStatus = "calling"
	StatusRinging   CallStatus = "ringing"
	StatusConnected CallStatus = "connected"
	StatusEnded     CallStatus = "ended"
	StatusRejected  CallStatus = "rejected"
	StatusMissed    CallStatus = "missed"
	StatusFailed    CallStatus = "failed"
)

// Terminal reports whether the status permits nothing but cleanup.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed, StatusFailed:
		return true
	}
	return false
}

// CallSession is the unit of a single call attempt. It is owned by the
// session registry and discarded, never persisted, once terminal.
type CallSession struct {
	RoomID       RoomID        `json:"room"`
	PeerID       UserID        `json:"peer"`
	Kind         CallKind      `json:"kind"`
	Direction    CallDirection `json:"direction"`
	Status       CallStatus    `json:"status"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	Muted        bool          `json:"muted"`
	VideoEnabled bool          `json:"video_enabled"`
}

// Duration is the connected time in whole seconds, zero before connect.
func (s *CallSession) Duration(now time.Time) int {
	if s.StartedAt.IsZero() {
		return 0
	}
	return int(now.Sub(s.StartedAt) / time.Second)
}
