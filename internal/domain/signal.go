package domain

type SignalKind string

const (
	SignalInvite    SignalKind = "invite"
	SignalRinging   SignalKind = "ringing"
	SignalAccepted  SignalKind = "accepted"
	SignalRejected  SignalKind = "rejected"
	SignalEnded     SignalKind = "ended"
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Candidate mirrors an ICE candidate on the wire without dragging the
// webrtc types into the envelope. Adapters convert at the edge.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Envelope is the wire-level signaling message. Exactly one payload group
// is meaningful per kind; the rest stay at their zero values.
type Envelope struct {
	Kind   SignalKind `json:"type"`
	RoomID RoomID     `json:"room"`
	From   UserID     `json:"from,omitempty"`
	To     UserID     `json:"to,omitempty"`

	CallType  CallKind   `json:"call_type,omitempty"` // invite
	SDP       string     `json:"sdp,omitempty"`       // offer, answer
	Candidate *Candidate `json:"candidate,omitempty"` // candidate
	Duration  int        `json:"duration,omitempty"`  // ended
	Reason    string     `json:"reason,omitempty"`    // ended, rejected
}
