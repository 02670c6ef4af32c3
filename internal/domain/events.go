package domain

import (
	"encoding/json"
	"time"
)

// Client -> server event types.
const (
	MsgTypeAuthenticate     = "authenticate"
	MsgTypePresenceUpdate   = "presence_update"
	MsgTypeJoinRoom         = "join_room"
	MsgTypeJoinTodoChat     = "join-todo-chat"
	MsgTypeLeaveTodoChat    = "leave-todo-chat"
	MsgTypeSendMessage      = "send_message"
	MsgTypeChatMessage      = "chat-message"
	MsgTypeTodoMessage      = "todoMessage"
	MsgTypeTypingStart      = "typing_start"
	MsgTypeTypingStop       = "typing_stop"
	MsgTypeTodoTyping       = "todoTyping"
	MsgTypeTodoStopTyping   = "todoStopTyping"
	MsgTypeAddReaction      = "add_reaction"
	MsgTypeRemoveReaction   = "remove_reaction"
	MsgTypeMarkRead         = "mark_read"
	MsgTypeEditMessage      = "edit_message"
	MsgTypeDeleteMessage    = "delete_message"
	MsgTypeCallOffer        = "call_offer"
	MsgTypeCallAnswer       = "call_answer"
	MsgTypeCallICECandidate = "call_ice_candidate"
	MsgTypeCallEnd          = "call_end"
	MsgTypePing             = "ping"
)

// Server -> client event types.
const (
	MsgTypeAuthenticated      = "authenticated"
	MsgTypeAuthError          = "auth_error"
	MsgTypeError              = "error"
	MsgTypePong               = "pong"
	MsgTypeUserOnline         = "user_online"
	MsgTypeUserOffline        = "user_offline"
	MsgTypePresenceChanged    = "presence_changed"
	MsgTypeRoomJoined         = "room_joined"
	MsgTypeRoomLeft           = "room_left"
	MsgTypeUserJoinedRoom     = "user_joined_room"
	MsgTypeUserJoinedTodoRoom = "userJoinedTodoRoom"
	MsgTypeNewMessage         = "new_message"
	MsgTypeNewTodoMessage     = "newTodoMessage"
	MsgTypeMessageScheduled   = "message_scheduled"
	MsgTypeMessageEdited      = "message_edited"
	MsgTypeMessageDeleted     = "message_deleted"
	MsgTypeReactionAdded      = "reaction_added"
	MsgTypeReactionRemoved    = "reaction_removed"
	MsgTypeMessagesRead       = "messages_read"
	MsgTypeUserTyping         = "user_typing"
	MsgTypeUserStoppedTyping  = "user_stopped_typing"
	MsgTypeNotification       = "notification"
	MsgTypeNewInvitation      = "new-invitation"
	MsgTypeNewAssignment      = "new-assignment"
	MsgTypeTodoCompleted      = "todoCompleted"
	MsgTypeInvitationResponse = "invitation-response"
	MsgTypeCallInitiated      = "call_initiated"
	MsgTypeCallFailed         = "call_failed"
)

// BaseMessage is the envelope shared by every frame.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type AuthenticateMessage struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	Status       Status `json:"status,omitempty"`
	CustomStatus string `json:"customStatus,omitempty"`
}

type PresenceUpdateMessage struct {
	Type         string `json:"type"`
	Status       Status `json:"status"`
	CustomStatus string `json:"customStatus"`
}

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID ID     `json:"roomId"`
}

type JoinTodoChatMessage struct {
	Type    string `json:"type"`
	TodoID  ID     `json:"todoId"`
	GroupID ID     `json:"groupId"`
}

type LeaveTodoChatMessage struct {
	Type   string `json:"type"`
	TodoID ID     `json:"todoId"`
}

// SendMessageRequest is used by send_message (group rooms, roomId) and by
// chat-message / todoMessage (todo rooms, todoId). The content type travels in
// messageType because type names the event.
type SendMessageRequest struct {
	Type            string       `json:"type"`
	RoomID          ID           `json:"roomId"`
	TodoID          ID           `json:"todoId"`
	GroupID         ID           `json:"groupId"`
	Content         string       `json:"content"`
	MessageType     string       `json:"messageType"`
	ReplyToID       string       `json:"replyToId"`
	ThreadID        string       `json:"threadId"`
	Attachments     []Attachment `json:"attachments"`
	Mentions        []ID         `json:"mentions"`
	ScheduledAt     *time.Time   `json:"scheduledAt"`
	SelfDestructAt  *time.Time   `json:"selfDestructAt"`
	ClientMessageID string       `json:"clientMessageId"`
}

type TypingMessage struct {
	Type   string `json:"type"`
	RoomID ID     `json:"roomId"`
	TodoID ID     `json:"todoId"`
}

type ReactionMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type MarkReadMessage struct {
	Type       string   `json:"type"`
	RoomID     ID       `json:"roomId"`
	TodoID     ID       `json:"todoId"`
	MessageIDs []string `json:"messageIds"`
}

type EditMessageRequest struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageRequest struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type CallOfferMessage struct {
	Type         string          `json:"type"`
	TargetUserID ID              `json:"targetUserId"`
	CallType     string          `json:"callType"`
	Offer        json.RawMessage `json:"offer"`
}

type CallAnswerMessage struct {
	Type   string          `json:"type"`
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer"`
}

type CallICECandidateMessage struct {
	Type      string          `json:"type"`
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndMessage struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// Server -> Client messages

type AuthenticatedMessage struct {
	Type         string   `json:"type"`
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId"`
	Username     string   `json:"username,omitempty"`
	Status       Status   `json:"status"`
	CustomStatus string   `json:"customStatus,omitempty"`
	Groups       []string `json:"groups"`
}

type AuthErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PresenceMessage struct {
	Type         string    `json:"type"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username,omitempty"`
	Status       Status    `json:"status"`
	CustomStatus string    `json:"customStatus,omitempty"`
	LastSeen     time.Time `json:"lastSeen"`
}

type RoomJoinedMessage struct {
	Type     string `json:"type"`
	RoomType string `json:"roomType"`
	RoomID   string `json:"roomId,omitempty"`
	TodoID   string `json:"todoId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	Members  int    `json:"members"`
}

type UserJoinedMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId,omitempty"`
	TodoID   string `json:"todoId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// MessagePayload is the wire form of a Message.
type MessagePayload struct {
	Type           string       `json:"type"`
	ID             string       `json:"id"`
	RoomType       string       `json:"roomType"`
	RoomID         string       `json:"roomId,omitempty"`
	TodoID         string       `json:"todoId,omitempty"`
	GroupID        string       `json:"groupId"`
	SenderID       string       `json:"senderId"`
	SenderName     string       `json:"senderName,omitempty"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType"`
	Attachments    []Attachment `json:"attachments"`
	Mentions       []string     `json:"mentions,omitempty"`
	ReplyToID      string       `json:"replyToId,omitempty"`
	ThreadID       string       `json:"threadId,omitempty"`
	ScheduledAt    *time.Time   `json:"scheduledAt,omitempty"`
	SelfDestructAt *time.Time   `json:"selfDestructAt,omitempty"`
	EditedAt       *time.Time   `json:"editedAt,omitempty"`
	Deleted        bool         `json:"deleted"`
	EncryptionKey  string       `json:"encryptionKey,omitempty"`
	ClientMsgID    string       `json:"clientMessageId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// NewMessagePayload renders m as the given event type.
func NewMessagePayload(eventType string, m *Message) *MessagePayload {
	p := &MessagePayload{
		Type:           eventType,
		ID:             m.ID,
		RoomType:       m.Room.Kind.String(),
		GroupID:        m.GroupID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		MessageType:    m.Type,
		Attachments:    m.Attachments,
		Mentions:       m.Mentions,
		ReplyToID:      m.ReplyToID,
		ThreadID:       m.ThreadID,
		ScheduledAt:    m.ScheduledAt,
		SelfDestructAt: m.SelfDestructAt,
		EditedAt:       m.EditedAt,
		Deleted:        m.Deleted,
		EncryptionKey:  m.EncryptionKey,
		CreatedAt:      m.CreatedAt,
	}
	if p.Attachments == nil {
		p.Attachments = []Attachment{}
	}
	SetRoomFields(m.Room, &p.RoomID, &p.TodoID)
	return p
}

type MessageScheduledMessage struct {
	Type        string    `json:"type"`
	MessageID   string    `json:"messageId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	ClientMsgID string    `json:"clientMessageId,omitempty"`
}

type MessageEditedMessage struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	RoomType  string    `json:"roomType"`
	RoomID    string    `json:"roomId,omitempty"`
	TodoID    string    `json:"todoId,omitempty"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeletedMessage struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	RoomType  string    `json:"roomType"`
	RoomID    string    `json:"roomId,omitempty"`
	TodoID    string    `json:"todoId,omitempty"`
	DeletedBy string    `json:"deletedBy,omitempty"`
	Reason    string    `json:"reason"`
	DeletedAt time.Time `json:"deletedAt"`
}

type ReactionEventMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	RoomType  string `json:"roomType"`
	RoomID    string `json:"roomId,omitempty"`
	TodoID    string `json:"todoId,omitempty"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type MessagesReadMessage struct {
	Type       string    `json:"type"`
	RoomType   string    `json:"roomType"`
	RoomID     string    `json:"roomId,omitempty"`
	TodoID     string    `json:"todoId,omitempty"`
	UserID     string    `json:"userId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

type TypingEventMessage struct {
	Type     string `json:"type"`
	RoomType string `json:"roomType"`
	RoomID   string `json:"roomId,omitempty"`
	TodoID   string `json:"todoId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// NewTypingEvent renders a typing transition for room.
func NewTypingEvent(eventType string, room RoomKey, userID, username string) *TypingEventMessage {
	m := &TypingEventMessage{
		Type:     eventType,
		RoomType: room.Kind.String(),
		UserID:   userID,
		Username: username,
	}
	SetRoomFields(room, &m.RoomID, &m.TodoID)
	return m
}

type NotificationMessage struct {
	Type             string         `json:"type"`
	ID               string         `json:"id,omitempty"`
	NotificationType string         `json:"notificationType"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Data             map[string]any `json:"data,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// ServerEventMessage forwards a REST API event to live connections.
type ServerEventMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type CallSignalMessage struct {
	Type         string          `json:"type"`
	CallID       string          `json:"callId"`
	FromUserID   string          `json:"fromUserId"`
	FromUsername string          `json:"fromUsername,omitempty"`
	CallType     string          `json:"callType,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

type CallInitiatedMessage struct {
	Type         string `json:"type"`
	CallID       string `json:"callId"`
	TargetUserID string `json:"targetUserId"`
	CallType     string `json:"callType"`
}

type CallFailedMessage struct {
	Type         string `json:"type"`
	CallID       string `json:"callId,omitempty"`
	TargetUserID string `json:"targetUserId"`
	Reason       string `json:"reason"`
}

type CallEndedMessage struct {
	Type     string     `json:"type"`
	CallID   string     `json:"callId"`
	EndedBy  string     `json:"endedBy,omitempty"`
	Reason   string     `json:"reason"`
	EndedAt  *time.Time `json:"endedAt"`
	Duration int64      `json:"durationSeconds"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func NewErrorMessage(code, message, event string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
		Event:   event,
	}
}

// SetRoomFields writes room.ID into roomID or todoID by room kind.
func SetRoomFields(room RoomKey, roomID, todoID *string) {
	if room.Kind == RoomResource {
		*todoID = room.ID
		return
	}
	*roomID = room.ID
}
