// Package presence computes whether users are online from their live
// connections.
package presence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

type entry struct {
	mu       sync.Mutex
	conns    map[string]struct{}
	status   domain.Status
	custom   string
	lastSeen time.Time
	dead     bool
}

// Registry maps users to their live connections. A user is online exactly
// when at least one connection is registered.
type Registry struct {
	users  sync.Map // userID -> *entry
	online atomic.Int64
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// Add registers connID for userID. The status is applied only when the user
// comes online; later connections inherit the current one. It reports
// whether this is the user's first connection.
func (r *Registry) Add(userID, connID string, status domain.Status, custom string) bool {
	if !status.Settable() {
		status = domain.StatusOnline
	}
	for {
		e := r.load(userID)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		first := len(e.conns) == 0
		e.conns[connID] = struct{}{}
		if first {
			e.status = status
			e.custom = custom
			r.online.Add(1)
		}
		e.lastSeen = r.now()
		e.mu.Unlock()
		return first
	}
}

// Remove unregisters connID. It reports whether it was the user's last
// connection.
func (r *Registry) Remove(userID, connID string) bool {
	v, ok := r.users.Load(userID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)
	e.lastSeen = r.now()
	if len(e.conns) > 0 {
		return false
	}
	e.dead = true
	r.users.CompareAndDelete(userID, e)
	r.online.Add(-1)
	return true
}

// SetStatus changes the advertised status of an online user. It returns
// false when the user has no connection.
func (r *Registry) SetStatus(userID string, status domain.Status, custom string) bool {
	v, ok := r.users.Load(userID)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return false
	}
	e.status = status
	e.custom = custom
	e.lastSeen = r.now()
	return true
}

// Connections returns the live connections of userID.
func (r *Registry) Connections(userID string) []string {
	v, ok := r.users.Load(userID)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.conns))
	for id := range e.conns {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether userID has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	return len(r.Connections(userID)) > 0
}

// Get returns the user's presence as known to this instance.
func (r *Registry) Get(userID string) domain.Presence {
	p := domain.Presence{UserID: userID, Status: domain.StatusOffline}
	v, ok := r.users.Load(userID)
	if !ok {
		return p
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.conns) == 0 {
		return p
	}
	p.Online = true
	p.Status = e.status
	p.CustomStatus = e.custom
	p.Connections = len(e.conns)
	p.LastSeen = e.lastSeen
	return p
}

// OnlineCount returns the number of online users.
func (r *Registry) OnlineCount() int {
	return int(r.online.Load())
}

func (r *Registry) load(userID string) *entry {
	if v, ok := r.users.Load(userID); ok {
		return v.(*entry)
	}
	v, _ := r.users.LoadOrStore(userID, &entry{conns: make(map[string]struct{})})
	return v.(*entry)
}
