package signal

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/domain"
)

type connEntry struct {
	conn   *Conn
	cancel context.CancelFunc
}

// Registry maps connected users to their signaling connections. A user
// reconnecting replaces the previous binding; the stale connection is
// cancelled and closed.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.UserID]*connEntry)}
}

func (r *Registry) Bind(uid domain.UserID, c *Conn, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.conns[uid]
	r.conns[uid] = &connEntry{conn: c, cancel: cancel}
	r.mu.Unlock()

	if prev != nil {
		if prev.cancel != nil {
			prev.cancel()
		}
		prev.conn.Close()
	}
	log.Info().Str("module", "signal.registry").Str("user", string(uid)).Msg("bound connection")
}

func (r *Registry) Get(uid domain.UserID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[uid]; ok {
		return e.conn, true
	}
	return nil, false
}

// Unbind removes the binding only while c still owns it. A pump
// tearing down after its user rebound must not touch the fresh
// connection.
func (r *Registry) Unbind(uid domain.UserID, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[uid]
	if !ok || e.conn != c {
		return false
	}
	delete(r.conns, uid)
	log.Info().Str("module", "signal.registry").Str("user", string(uid)).Msg("unbound connection")
	return true
}
