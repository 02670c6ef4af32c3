package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
)

// HandleTyping starts or stops the sender's indicator in room. Transitions
// are broadcast to the other members; refreshes are silent.
func (e *engine) HandleTyping(ctx context.Context, c *hub.Client, room domain.RoomKey, typing bool) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if room.ID == "" {
		return domain.Validation("roomId or todoId is required")
	}
	userID := c.Session.GetUserID()
	username := c.Session.GetUsername()

	if !typing {
		if e.typing.Stop(room, userID) {
			e.broadcastRoom(room, domain.NewTypingEvent(domain.MsgTypeUserStoppedTyping, room, userID, username), c.ID)
		}
		return nil
	}

	groupID, err := e.resolveRoom(ctx, c, room)
	if err != nil {
		return err
	}
	if room.Kind == domain.RoomResource {
		unlock := e.lockRoom(room)
		e.propagate(room, groupID)
		unlock()
	}
	if e.typing.Start(room, userID, username) {
		e.broadcastRoom(room, domain.NewTypingEvent(domain.MsgTypeUserTyping, room, userID, username), c.ID)
	}
	return nil
}

func (e *engine) onTypingExpired(room domain.RoomKey, userID, username string) {
	e.broadcastRoom(room, domain.NewTypingEvent(domain.MsgTypeUserStoppedTyping, room, userID, username), "")
}

// clearTyping drops userID's indicators in rooms and announces each one.
func (e *engine) clearTyping(userID, username string, rooms []domain.RoomKey) {
	for _, room := range e.typing.Clear(userID, rooms) {
		e.broadcastRoom(room, domain.NewTypingEvent(domain.MsgTypeUserStoppedTyping, room, userID, username), "")
	}
}
