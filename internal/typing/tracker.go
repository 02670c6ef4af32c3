// Package typing tracks who is typing in which room and expires stale
// indicators.
package typing

import (
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

// DefaultExpiry is how long an indicator lives without a refresh.
const DefaultExpiry = 10 * time.Second

// ExpireFunc is called, without locks held, when an indicator times out.
type ExpireFunc func(room domain.RoomKey, userID, username string)

type typist struct {
	username string
	timer    *time.Timer
	gen      uint64
}

type roomState struct {
	mu      sync.Mutex
	typists map[string]*typist
	dead    bool // removed from rooms once empty; Start retries with a fresh state
}

// Tracker holds typing indicators per room.
type Tracker struct {
	rooms    sync.Map // domain.RoomKey -> *roomState
	expiry   time.Duration
	onExpire ExpireFunc
}

func NewTracker(expiry time.Duration, onExpire ExpireFunc) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Tracker{expiry: expiry, onExpire: onExpire}
}

// Start marks userID as typing in room, refreshing the expiry if already
// marked. It reports whether the user was not typing before.
func (t *Tracker) Start(room domain.RoomKey, userID, username string) bool {
	var rs *roomState
	for {
		rs = t.state(room)
		rs.mu.Lock()
		if !rs.dead {
			break
		}
		rs.mu.Unlock()
	}
	defer rs.mu.Unlock()

	if ty, ok := rs.typists[userID]; ok {
		ty.gen++
		ty.timer.Stop()
		ty.timer = t.arm(room, userID, ty.gen)
		return false
	}
	ty := &typist{username: username, gen: 1}
	ty.timer = t.arm(room, userID, ty.gen)
	rs.typists[userID] = ty
	return true
}

// Stop clears userID's indicator in room. It reports whether one existed.
func (t *Tracker) Stop(room domain.RoomKey, userID string) bool {
	v, ok := t.rooms.Load(room)
	if !ok {
		return false
	}
	rs := v.(*roomState)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ty, ok := rs.typists[userID]
	if !ok {
		return false
	}
	ty.timer.Stop()
	t.remove(room, rs, userID)
	return true
}

// Clear stops userID's indicators in the given rooms and returns the rooms
// where one was active.
func (t *Tracker) Clear(userID string, rooms []domain.RoomKey) []domain.RoomKey {
	var cleared []domain.RoomKey
	for _, room := range rooms {
		if t.Stop(room, userID) {
			cleared = append(cleared, room)
		}
	}
	return cleared
}

// Typing returns the users currently typing in room.
func (t *Tracker) Typing(room domain.RoomKey) []string {
	v, ok := t.rooms.Load(room)
	if !ok {
		return nil
	}
	rs := v.(*roomState)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, 0, len(rs.typists))
	for id := range rs.typists {
		out = append(out, id)
	}
	return out
}

func (t *Tracker) state(room domain.RoomKey) *roomState {
	if v, ok := t.rooms.Load(room); ok {
		return v.(*roomState)
	}
	v, _ := t.rooms.LoadOrStore(room, &roomState{typists: make(map[string]*typist)})
	return v.(*roomState)
}

// remove drops userID and retires the room state once empty. The caller
// holds rs.mu.
func (t *Tracker) remove(room domain.RoomKey, rs *roomState, userID string) {
	delete(rs.typists, userID)
	if len(rs.typists) == 0 && !rs.dead {
		rs.dead = true
		t.rooms.CompareAndDelete(room, rs)
	}
}

func (t *Tracker) arm(room domain.RoomKey, userID string, gen uint64) *time.Timer {
	return time.AfterFunc(t.expiry, func() { t.expire(room, userID, gen) })
}

// expire drops the indicator only if it was not refreshed since gen was armed.
func (t *Tracker) expire(room domain.RoomKey, userID string, gen uint64) {
	v, ok := t.rooms.Load(room)
	if !ok {
		return
	}
	rs := v.(*roomState)
	rs.mu.Lock()
	ty, ok := rs.typists[userID]
	if !ok || ty.gen != gen {
		rs.mu.Unlock()
		return
	}
	t.remove(room, rs, userID)
	username := ty.username
	rs.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(room, userID, username)
	}
}
