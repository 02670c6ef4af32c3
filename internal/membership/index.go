// Package membership tracks which live connections belong to which rooms.
//
// Each room owns its own lock, so traffic in one room never waits on another.
// A connection entry is locked before any room it touches.
package membership

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

// ErrConnectionClosed is returned when joining with a connection that was
// never opened or has already been closed.
var ErrConnectionClosed = errors.New("connection closed")

type room struct {
	mu      sync.Mutex
	members map[string]struct{}
	dead    bool // removed from the index; callers must retry with a fresh room
}

type conn struct {
	mu     sync.Mutex
	userID string
	rooms  map[domain.RoomKey]struct{}
	closed bool
}

// Index is the bidirectional room <-> connection index.
type Index struct {
	rooms     sync.Map // domain.RoomKey -> *room
	conns     sync.Map // connID -> *conn
	roomCount atomic.Int64
}

func NewIndex() *Index {
	return &Index{}
}

// Open registers an authenticated connection. Opening an open connection is a
// no-op; opening a closed one fails.
func (x *Index) Open(connID, userID string) error {
	v, _ := x.conns.LoadOrStore(connID, &conn{userID: userID, rooms: make(map[domain.RoomKey]struct{})})
	c := v.(*conn)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return nil
}

// Join adds connID to key. It reports whether the membership is new.
func (x *Index) Join(connID string, key domain.RoomKey) (bool, error) {
	c, ok := x.conn(connID)
	if !ok {
		return false, ErrConnectionClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrConnectionClosed
	}
	return x.join(c, connID, key), nil
}

// JoinVia adds connID to key only while it is still a member of via. The
// check and the join happen under the connection lock, so a concurrent
// Leave of via either precedes the join or sees key as well.
func (x *Index) JoinVia(connID string, via, key domain.RoomKey) (bool, error) {
	c, ok := x.conn(connID)
	if !ok {
		return false, ErrConnectionClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrConnectionClosed
	}
	if _, ok := c.rooms[via]; !ok {
		return false, nil
	}
	return x.join(c, connID, key), nil
}

// join requires c.mu.
func (x *Index) join(c *conn, connID string, key domain.RoomKey) bool {
	if _, ok := c.rooms[key]; ok {
		return false
	}
	for {
		r := x.loadOrCreate(key)
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		r.members[connID] = struct{}{}
		r.mu.Unlock()
		break
	}
	c.rooms[key] = struct{}{}
	return true
}

// Leave removes connID from key. It reports whether it was a member.
func (x *Index) Leave(connID string, key domain.RoomKey) bool {
	c, ok := x.conn(connID)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[key]; !ok {
		return false
	}
	delete(c.rooms, key)
	x.removeMember(key, connID)
	return true
}

// Close removes connID from every room and forbids further joins. It returns
// the rooms the connection was in.
func (x *Index) Close(connID string) []domain.RoomKey {
	c, ok := x.conn(connID)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.closed = true
	keys := make([]domain.RoomKey, 0, len(c.rooms))
	for key := range c.rooms {
		x.removeMember(key, connID)
		keys = append(keys, key)
	}
	c.rooms = nil
	c.mu.Unlock()

	x.conns.CompareAndDelete(connID, c)
	return keys
}

// Members returns a snapshot of the connections in key.
func (x *Index) Members(key domain.RoomKey) []string {
	v, ok := x.rooms.Load(key)
	if !ok {
		return nil
	}
	r := v.(*room)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// Size returns the number of connections in key.
func (x *Index) Size(key domain.RoomKey) int {
	v, ok := x.rooms.Load(key)
	if !ok {
		return 0
	}
	r := v.(*room)
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Contains reports whether connID is in key.
func (x *Index) Contains(key domain.RoomKey, connID string) bool {
	c, ok := x.conn(connID)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, in := c.rooms[key]
	return in
}

// RoomsOf returns the rooms connID is in.
func (x *Index) RoomsOf(connID string) []domain.RoomKey {
	c, ok := x.conn(connID)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RoomKey, 0, len(c.rooms))
	for key := range c.rooms {
		out = append(out, key)
	}
	return out
}

// UserOf returns the user that opened connID.
func (x *Index) UserOf(connID string) (string, bool) {
	c, ok := x.conn(connID)
	if !ok {
		return "", false
	}
	return c.userID, true
}

// RoomCount returns the number of non-empty rooms.
func (x *Index) RoomCount() int {
	return int(x.roomCount.Load())
}

func (x *Index) conn(connID string) (*conn, bool) {
	v, ok := x.conns.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*conn), true
}

func (x *Index) loadOrCreate(key domain.RoomKey) *room {
	if v, ok := x.rooms.Load(key); ok {
		return v.(*room)
	}
	v, loaded := x.rooms.LoadOrStore(key, &room{members: make(map[string]struct{})})
	if !loaded {
		x.roomCount.Add(1)
	}
	return v.(*room)
}

// removeMember drops connID from key and retires the room once empty.
// The caller holds the connection lock.
func (x *Index) removeMember(key domain.RoomKey, connID string) {
	v, ok := x.rooms.Load(key)
	if !ok {
		return
	}
	r := v.(*room)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connID)
	if len(r.members) == 0 && !r.dead {
		r.dead = true
		if x.rooms.CompareAndDelete(key, r) {
			x.roomCount.Add(-1)
		}
	}
}
