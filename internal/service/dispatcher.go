package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/dedup"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/kafka"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/internal/scheduler"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

// Deletion reasons carried by message_deleted.
const (
	DeleteReasonDeleted = "deleted"
	DeleteReasonExpired = "expired"
)

func (e *engine) HandleSendMessage(ctx context.Context, c *hub.Client, kind domain.RoomKind, req *domain.SendMessageRequest) error {
	ctx, span := tracer.Start(ctx, "realtime.send_message")
	defer span.End()
	started := time.Now()

	if err := requireAuth(c); err != nil {
		return err
	}
	room, err := requestRoom(kind, req)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(req.Content)
	if err := e.validateContent(content, req.Attachments); err != nil {
		return err
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !domain.ValidMessageType(msgType) {
		return domain.Validation("unknown message type %q", req.MessageType)
	}

	now := e.now()
	scheduledAt := req.ScheduledAt
	if scheduledAt != nil && !scheduledAt.After(now) {
		scheduledAt = nil
	}
	if req.SelfDestructAt != nil {
		visibleAt := now
		if scheduledAt != nil {
			visibleAt = *scheduledAt
		}
		if !req.SelfDestructAt.After(visibleAt) {
			return domain.Validation("selfDestructAt must be after the message becomes visible")
		}
	}

	groupID, err := e.resolveRoom(ctx, c, room)
	if err != nil {
		return err
	}
	if req.GroupID != "" && string(req.GroupID) != groupID {
		return domain.Validation("room does not belong to group %s", req.GroupID)
	}
	if err := e.verifyAttachments(ctx, req.Attachments); err != nil {
		return err
	}

	userID := c.Session.GetUserID()
	keys := attachmentKeys(req.Attachments)
	fp := dedup.Fingerprint(userID, room.String(), content, keys)
	dup, err := e.dedup.Seen(ctx, fp)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("dedup window unavailable, accepting message")
	}
	if dup {
		metrics.DuplicatesSuppressed.Inc()
		return domain.ErrDuplicate
	}

	id, err := e.newID()
	if err != nil {
		e.dedup.Forget(ctx, fp)
		return err
	}
	key, err := newMessageKey()
	if err != nil {
		e.dedup.Forget(ctx, fp)
		return domain.Internal(err, "failed to generate message key")
	}

	msg := &domain.Message{
		ID:             id,
		Room:           room,
		GroupID:        groupID,
		SenderID:       userID,
		SenderName:     c.Session.GetUsername(),
		Content:        content,
		Type:           msgType,
		Attachments:    req.Attachments,
		Mentions:       mentionTargets(req.Mentions, userID),
		ReplyToID:      req.ReplyToID,
		ThreadID:       req.ThreadID,
		State:          domain.MessageSent,
		ScheduledAt:    scheduledAt,
		SelfDestructAt: req.SelfDestructAt,
		EncryptionKey:  key,
		CreatedAt:      now,
	}
	if scheduledAt != nil {
		msg.State = domain.MessagePending
	} else {
		msg.DeliveredAt = &now
	}

	if e.typing.Stop(room, userID) {
		e.broadcastRoom(room, domain.NewTypingEvent(domain.MsgTypeUserStoppedTyping, room, userID, msg.SenderName), c.ID)
	}

	unlock := e.lockRoom(room)
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		unlock()
		e.dedup.Forget(ctx, fp)
		return domain.Persistence(err, "failed to save message")
	}
	if msg.State == domain.MessageSent {
		e.deliverLocked(msg, req.ClientMessageID)
	}
	unlock()

	audit.LogTarget(ctx, audit.ActionSendMessage, userID, room.String(), "message sent")
	detached := log.Detach(ctx)

	if msg.State == domain.MessagePending {
		e.scheduleDelivery(detached, msg)
		metrics.MessagesDispatched.WithLabelValues(room.Kind.String(), "scheduled").Inc()
		if err := c.SendMessage(&domain.MessageScheduledMessage{
			Type:        domain.MsgTypeMessageScheduled,
			MessageID:   msg.ID,
			ScheduledAt: *msg.ScheduledAt,
			ClientMsgID: req.ClientMessageID,
		}); err != nil {
			return err
		}
	} else {
		metrics.MessagesDispatched.WithLabelValues(room.Kind.String(), "immediate").Inc()
		metrics.DispatchDuration.WithLabelValues(room.Kind.String()).Observe(time.Since(started).Seconds())
		e.afterDelivery(detached, msg)
	}
	if msg.SelfDestructAt != nil {
		e.scheduleExpiry(detached, msg)
	}
	return nil
}

// deliverLocked broadcasts a visible message to its room. The caller holds
// the room lock; for todo rooms the owning group is propagated first.
func (e *engine) deliverLocked(msg *domain.Message, clientMsgID string) int {
	eventType := domain.MsgTypeNewMessage
	if msg.Room.Kind == domain.RoomResource {
		e.propagate(msg.Room, msg.GroupID)
		eventType = domain.MsgTypeNewTodoMessage
	}
	payload := domain.NewMessagePayload(eventType, msg)
	payload.ClientMsgID = clientMsgID
	return e.broadcastRoom(msg.Room, payload, "")
}

// afterDelivery runs the side channels of a message that just became
// visible. They never affect the delivery itself.
func (e *engine) afterDelivery(ctx context.Context, msg *domain.Message) {
	e.produce(ctx, kafka.EventMessageCreated, msg.Room.String(), domain.NewMessagePayload(domain.MsgTypeNewMessage, msg))
	if len(msg.Mentions) > 0 {
		e.notifyMentions(ctx, msg)
	}
}

func (e *engine) scheduleDelivery(ctx context.Context, msg *domain.Message) {
	id := msg.ID
	e.schedule(ctx, scheduler.PrefixDeliver+id, *msg.ScheduledAt, func(ctx context.Context) {
		e.deliverScheduled(ctx, id)
	})
}

func (e *engine) scheduleExpiry(ctx context.Context, msg *domain.Message) {
	id := msg.ID
	e.schedule(ctx, scheduler.PrefixExpire+id, *msg.SelfDestructAt, func(ctx context.Context) {
		e.expireMessage(ctx, id)
	})
}

// deliverScheduled publishes a pending message exactly once. The conditional
// update decides the winner if two timers race.
func (e *engine) deliverScheduled(ctx context.Context, id string) {
	l := log.Ctx(ctx).With().Str(log.FieldMessageID, id).Logger()
	msg, err := e.store.GetMessage(ctx, id)
	if err != nil {
		l.Error().Err(err).Msg("scheduled message could not be loaded")
		return
	}
	if msg.Deleted || msg.State != domain.MessagePending {
		return
	}

	now := e.now()
	unlock := e.lockRoom(msg.Room)
	// Edits and deletes take the same room lock, so the row read here is
	// the one that gets delivered.
	msg, err = e.store.GetMessage(ctx, id)
	if err != nil || msg.Deleted || msg.State != domain.MessagePending {
		unlock()
		if err != nil {
			l.Error().Err(err).Msg("scheduled message could not be reloaded")
		}
		return
	}
	ok, err := e.store.MarkDelivered(ctx, id, now)
	if err != nil || !ok {
		unlock()
		if err != nil {
			l.Error().Err(err).Msg("failed to mark scheduled message delivered")
		}
		return
	}
	msg.State = domain.MessageSent
	msg.DeliveredAt = &now
	n := e.deliverLocked(msg, "")
	unlock()

	metrics.ScheduledPending.Set(float64(e.scheduler.Pending()))
	l.Info().Int("recipients", n).Msg("scheduled message delivered")
	e.afterDelivery(ctx, msg)
}

// expireMessage soft-deletes a self-destructing message.
func (e *engine) expireMessage(ctx context.Context, id string) {
	l := log.Ctx(ctx).With().Str(log.FieldMessageID, id).Logger()
	e.scheduler.Cancel(scheduler.PrefixDeliver + id)

	msg, err := e.store.GetMessage(ctx, id)
	if err != nil {
		l.Error().Err(err).Msg("expiring message could not be loaded")
		return
	}
	if msg.Deleted {
		return
	}
	if err := e.softDelete(ctx, msg, "", DeleteReasonExpired, nil); err != nil {
		l.Error().Err(err).Msg("failed to expire message")
		return
	}
	metrics.ScheduledPending.Set(float64(e.scheduler.Pending()))
}

// softDelete blanks the message and tells whoever could see it. A message
// that was never delivered is acknowledged to requester only. Visibility is
// read under the room lock so a delivery racing the delete is observed.
func (e *engine) softDelete(ctx context.Context, stale *domain.Message, by, reason string, requester *hub.Client) error {
	now := e.now()
	unlock := e.lockRoom(stale.Room)
	msg, err := e.store.GetMessage(ctx, stale.ID)
	if err != nil {
		unlock()
		return storeError(err, "message")
	}
	if msg.Deleted {
		unlock()
		return domain.NotFound("message %s not found", msg.ID)
	}
	ok, err := e.store.SoftDeleteMessage(ctx, msg.ID, now)
	if err != nil {
		unlock()
		return domain.Persistence(err, "failed to delete message")
	}
	if !ok {
		unlock()
		return domain.NotFound("message %s not found", msg.ID)
	}
	ev := &domain.MessageDeletedMessage{
		Type:      domain.MsgTypeMessageDeleted,
		MessageID: msg.ID,
		RoomType:  msg.Room.Kind.String(),
		DeletedBy: by,
		Reason:    reason,
		DeletedAt: now,
	}
	domain.SetRoomFields(msg.Room, &ev.RoomID, &ev.TodoID)
	if msg.Visible() {
		if msg.Room.Kind == domain.RoomResource {
			e.propagate(msg.Room, msg.GroupID)
		}
		e.broadcastRoom(msg.Room, ev, "")
	} else if requester != nil {
		requester.SendMessage(ev)
	}
	unlock()

	e.purgeAttachments(ctx, msg.Attachments)
	e.produce(ctx, kafka.EventMessageDeleted, msg.Room.String(), ev)
	return nil
}

func (e *engine) HandleEditMessage(ctx context.Context, c *hub.Client, req *domain.EditMessageRequest) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if req.MessageID == "" {
		return domain.Validation("messageId is required")
	}
	content := strings.TrimSpace(req.Content)
	msg, err := e.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return storeError(err, "message")
	}
	if msg.Deleted {
		return domain.NotFound("message %s not found", req.MessageID)
	}
	userID := c.Session.GetUserID()
	if msg.SenderID != userID {
		return domain.AccessDenied("only the sender may edit a message")
	}
	if err := e.validateContent(content, msg.Attachments); err != nil {
		return err
	}

	now := e.now()
	unlock := e.lockRoom(msg.Room)
	msg, err = e.store.GetMessage(ctx, msg.ID)
	if err != nil {
		unlock()
		return storeError(err, "message")
	}
	if msg.Deleted {
		unlock()
		return domain.NotFound("message %s not found", req.MessageID)
	}
	if err := e.store.UpdateMessageContent(ctx, msg.ID, content, now); err != nil {
		unlock()
		return storeError(err, "message")
	}
	ev := &domain.MessageEditedMessage{
		Type:      domain.MsgTypeMessageEdited,
		MessageID: msg.ID,
		RoomType:  msg.Room.Kind.String(),
		Content:   content,
		EditedAt:  now,
	}
	domain.SetRoomFields(msg.Room, &ev.RoomID, &ev.TodoID)
	if msg.Visible() {
		if msg.Room.Kind == domain.RoomResource {
			e.propagate(msg.Room, msg.GroupID)
		}
		e.broadcastRoom(msg.Room, ev, "")
	}
	unlock()

	if !msg.Visible() {
		// The delivery task reloads the row under the room lock, so the
		// edit rides along.
		c.SendMessage(ev)
	}
	audit.LogTarget(ctx, audit.ActionEditMessage, userID, msg.ID, "message edited")
	e.produce(ctx, kafka.EventMessageEdited, msg.Room.String(), ev)
	return nil
}

func (e *engine) HandleDeleteMessage(ctx context.Context, c *hub.Client, req *domain.DeleteMessageRequest) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if req.MessageID == "" {
		return domain.Validation("messageId is required")
	}
	msg, err := e.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return storeError(err, "message")
	}
	if msg.Deleted {
		return domain.NotFound("message %s not found", req.MessageID)
	}
	userID := c.Session.GetUserID()
	if msg.SenderID != userID {
		role, err := e.store.GroupRole(ctx, userID, msg.GroupID)
		if err != nil && !isNotFound(err) {
			return domain.Persistence(err, "failed to check group role")
		}
		if !domain.IsGroupAdmin(role) {
			return domain.AccessDenied("only the sender or a group admin may delete a message")
		}
	}

	e.scheduler.Cancel(scheduler.PrefixDeliver + msg.ID)
	e.scheduler.Cancel(scheduler.PrefixExpire + msg.ID)
	metrics.ScheduledPending.Set(float64(e.scheduler.Pending()))

	if err := e.softDelete(ctx, msg, userID, DeleteReasonDeleted, c); err != nil {
		return err
	}
	audit.LogTarget(ctx, audit.ActionDeleteMessage, userID, msg.ID, "message deleted")
	return nil
}

func (e *engine) HandleReaction(ctx context.Context, c *hub.Client, req *domain.ReactionMessage, add bool) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	emoji := strings.TrimSpace(req.Emoji)
	if req.MessageID == "" || emoji == "" {
		return domain.Validation("messageId and emoji are required")
	}
	if utf8.RuneCountInString(emoji) > 16 {
		return domain.Validation("emoji is too long")
	}
	msg, err := e.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return storeError(err, "message")
	}
	if msg.Deleted || !msg.Visible() {
		return domain.NotFound("message %s not found", req.MessageID)
	}
	if err := e.authorizedFor(ctx, c, msg.GroupID); err != nil {
		return err
	}

	userID := c.Session.GetUserID()
	var changed bool
	eventType := domain.MsgTypeReactionAdded
	if add {
		changed, err = e.store.AddReaction(ctx, &domain.Reaction{MessageID: msg.ID, UserID: userID, Emoji: emoji, CreatedAt: e.now()})
	} else {
		eventType = domain.MsgTypeReactionRemoved
		changed, err = e.store.RemoveReaction(ctx, msg.ID, userID, emoji)
	}
	if err != nil {
		return domain.Persistence(err, "failed to save reaction")
	}
	if !changed {
		return nil
	}

	ev := &domain.ReactionEventMessage{
		Type:      eventType,
		MessageID: msg.ID,
		RoomType:  msg.Room.Kind.String(),
		UserID:    userID,
		Emoji:     emoji,
	}
	domain.SetRoomFields(msg.Room, &ev.RoomID, &ev.TodoID)
	unlock := e.lockRoom(msg.Room)
	if msg.Room.Kind == domain.RoomResource {
		e.propagate(msg.Room, msg.GroupID)
	}
	e.broadcastRoom(msg.Room, ev, "")
	unlock()
	return nil
}

func (e *engine) HandleMarkRead(ctx context.Context, c *hub.Client, req *domain.MarkReadMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	room := domain.GroupRoom(string(req.RoomID))
	if req.TodoID != "" {
		room = domain.ResourceRoom(string(req.TodoID))
	} else if req.RoomID == "" {
		return domain.Validation("roomId or todoId is required")
	}
	ids := compactIDs(req.MessageIDs)
	if len(ids) == 0 {
		return domain.Validation("messageIds is required")
	}
	groupID, err := e.resolveRoom(ctx, c, room)
	if err != nil {
		return err
	}

	userID := c.Session.GetUserID()
	now := e.now()
	if err := e.store.MarkRead(ctx, userID, ids, now); err != nil {
		return domain.Persistence(err, "failed to save read receipts")
	}
	ev := &domain.MessagesReadMessage{
		Type:       domain.MsgTypeMessagesRead,
		RoomType:   room.Kind.String(),
		UserID:     userID,
		MessageIDs: ids,
		ReadAt:     now,
	}
	domain.SetRoomFields(room, &ev.RoomID, &ev.TodoID)
	unlock := e.lockRoom(room)
	if room.Kind == domain.RoomResource {
		e.propagate(room, groupID)
	}
	e.broadcastRoom(room, ev, "")
	unlock()
	return nil
}

func (e *engine) validateContent(content string, attachments []domain.Attachment) error {
	if content == "" && len(attachments) == 0 {
		return domain.Validation("message needs content or an attachment")
	}
	if utf8.RuneCountInString(content) > e.cfg.MaxContentLength {
		return domain.Validation("message is longer than %d characters", e.cfg.MaxContentLength)
	}
	if len(attachments) > e.cfg.MaxAttachments {
		return domain.Validation("at most %d attachments are allowed", e.cfg.MaxAttachments)
	}
	for _, a := range attachments {
		if a.Key == "" {
			return domain.Validation("attachment key is required")
		}
	}
	return nil
}

func (e *engine) verifyAttachments(ctx context.Context, attachments []domain.Attachment) error {
	if !e.cfg.VerifyAttachments || e.storage == nil {
		return nil
	}
	for _, a := range attachments {
		ok, err := e.storage.Exists(ctx, a.Key)
		if err != nil {
			return domain.Internal(err, "failed to check attachment")
		}
		if !ok {
			return domain.Validation("attachment %s was not uploaded", a.Key)
		}
	}
	return nil
}

// purgeAttachments removes the blobs of a deleted message. Failures leave
// orphans for the storage lifecycle policy.
func (e *engine) purgeAttachments(ctx context.Context, attachments []domain.Attachment) {
	if e.storage == nil {
		return
	}
	for _, a := range attachments {
		if err := e.storage.Delete(ctx, a.Key); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("key", a.Key).Msg("failed to purge attachment")
		}
	}
}

func requestRoom(kind domain.RoomKind, req *domain.SendMessageRequest) (domain.RoomKey, error) {
	switch kind {
	case domain.RoomGroup:
		if req.RoomID == "" {
			return domain.RoomKey{}, domain.Validation("roomId is required")
		}
		return domain.GroupRoom(string(req.RoomID)), nil
	case domain.RoomResource:
		if req.TodoID == "" {
			return domain.RoomKey{}, domain.Validation("todoId is required")
		}
		return domain.ResourceRoom(string(req.TodoID)), nil
	default:
		return domain.RoomKey{}, domain.BadRequest("messages cannot be sent to %s rooms", kind)
	}
}

// newMessageKey returns a random hex-encoded ChaCha20-Poly1305 key.
func newMessageKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	if _, err := chacha20poly1305.New(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

func attachmentKeys(attachments []domain.Attachment) []string {
	keys := make([]string, len(attachments))
	for i, a := range attachments {
		keys[i] = a.Key
	}
	return keys
}

func mentionTargets(ids []domain.ID, sender string) []string {
	out := domain.IDs(ids)
	for i, id := range out {
		if id == sender {
			return append(out[:i], out[i+1:]...)
		}
	}
	return out
}

func compactIDs(ids []string) []string {
	in := make([]domain.ID, len(ids))
	for i, id := range ids {
		in[i] = domain.ID(strings.TrimSpace(id))
	}
	return domain.IDs(in)
}
