package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Call/internal/domain"
)

// Room pairs the two participants of one call attempt. The relay only
// needs who is on which side; call state lives at the endpoints.
type Room struct {
	ID        domain.RoomID
	Caller    domain.UserID
	Callee    domain.UserID
	Kind      domain.CallKind
	Accepted  bool
	CreatedAt time.Time
}

type Rooms struct {
	mu   sync.RWMutex
	byID map[domain.RoomID]*Room
}

func NewRooms() *Rooms {
	return &Rooms{byID: make(map[domain.RoomID]*Room)}
}

func (rs *Rooms) Open(id domain.RoomID, caller, callee domain.UserID, kind domain.CallKind) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.byID[id] = &Room{
		ID:        id,
		Caller:    caller,
		Callee:    callee,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
}

// Other returns the member opposite of from, if the room exists and
// from belongs to it. Messages from outsiders do not resolve.
func (rs *Rooms) Other(id domain.RoomID, from domain.UserID) (domain.UserID, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.byID[id]
	if !ok {
		return "", false
	}
	switch from {
	case r.Caller:
		return r.Callee, true
	case r.Callee:
		return r.Caller, true
	}
	return "", false
}

func (rs *Rooms) MarkAccepted(id domain.RoomID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.byID[id]; ok {
		r.Accepted = true
	}
}

func (rs *Rooms) Drop(id domain.RoomID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.byID, id)
}

// DropByUser removes and returns every room the user was part of.
func (rs *Rooms) DropByUser(uid domain.UserID) []*Room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []*Room
	for id, r := range rs.byID {
		if r.Caller == uid || r.Callee == uid {
			out = append(out, r)
			delete(rs.byID, id)
		}
	}
	return out
}

// Sweep drops unanswered rooms older than maxAge. The endpoints run
// their own invite deadline; this only stops the map from leaking when
// both sides vanished without a word.
func (rs *Rooms) Sweep(maxAge time.Duration) []*Room {
	cutoff := time.Now().Add(-maxAge)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []*Room
	for id, r := range rs.byID {
		if !r.Accepted && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
			delete(rs.byID, id)
		}
	}
	return out
}
