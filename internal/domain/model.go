package domain

import (
	"time"

	"github.com/weiawesome/wes-io-live/pkg/database"
)

// GroupMemberModel is a row of group_members. Written by the REST API.
type GroupMemberModel struct {
	GroupID   string    `gorm:"type:varchar(64);primaryKey"`
	UserID    string    `gorm:"type:varchar(64);primaryKey;index"`
	Role      string    `gorm:"type:varchar(20);not null;default:'member'"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (GroupMemberModel) TableName() string {
	return "group_members"
}

// Group roles with moderation rights.
const (
	GroupRoleOwner  = "owner"
	GroupRoleAdmin  = "admin"
	GroupRoleMember = "member"
)

// IsGroupAdmin reports whether role may moderate the group's rooms.
func IsGroupAdmin(role string) bool {
	return role == GroupRoleOwner || role == GroupRoleAdmin
}

// Invitation statuses.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
)

// GroupInvitationModel is a row of group_invitations. An accepted invitation
// authorizes the invitee like a membership row does.
type GroupInvitationModel struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	GroupID   string    `gorm:"type:varchar(64);index;not null"`
	InviterID string    `gorm:"type:varchar(64);not null"`
	InviteeID string    `gorm:"type:varchar(64);index;not null"`
	Status    string    `gorm:"type:varchar(20);not null;default:'pending'"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (GroupInvitationModel) TableName() string {
	return "group_invitations"
}

// TodoModel is a row of todos; only the owning group matters here.
type TodoModel struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	GroupID   string    `gorm:"type:varchar(64);index;not null"`
	Title     string    `gorm:"type:varchar(200)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (TodoModel) TableName() string {
	return "todos"
}

// MessageModel is the GORM model for messages. Soft deletion is a domain
// state (the row stays visible to queries), so gorm.DeletedAt is not used.
type MessageModel struct {
	ID             string                      `gorm:"type:varchar(64);primaryKey"`
	RoomKey        string                      `gorm:"type:varchar(80);index;not null"`
	GroupID        string                      `gorm:"type:varchar(64);index;not null"`
	SenderID       string                      `gorm:"type:varchar(64);index;not null"`
	SenderName     string                      `gorm:"type:varchar(100)"`
	Content        string                      `gorm:"type:text"`
	Type           string                      `gorm:"type:varchar(20);not null;default:'text'"`
	Attachments    database.JSON[[]Attachment] `gorm:"type:text"`
	Mentions       database.StringArray        `gorm:"type:text"`
	ReplyToID      string                      `gorm:"type:varchar(64)"`
	ThreadID       string                      `gorm:"type:varchar(64);index"`
	State          string                      `gorm:"type:varchar(20);index;not null"`
	ScheduledAt    *time.Time                  `gorm:"index"`
	SelfDestructAt *time.Time                  `gorm:"index"`
	EditedAt       *time.Time
	Deleted        bool                        `gorm:"not null;default:false"`
	DeletedAt      *time.Time
	DeliveredAt    *time.Time
	EncryptionKey  string                      `gorm:"type:varchar(64)"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	room, _ := ParseRoomKey(m.RoomKey)
	return &Message{
		ID:             m.ID,
		Room:           room,
		GroupID:        m.GroupID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Type:           m.Type,
		Attachments:    m.Attachments.Val,
		Mentions:       []string(m.Mentions),
		ReplyToID:      m.ReplyToID,
		ThreadID:       m.ThreadID,
		State:          MessageState(m.State),
		ScheduledAt:    m.ScheduledAt,
		SelfDestructAt: m.SelfDestructAt,
		EditedAt:       m.EditedAt,
		Deleted:        m.Deleted,
		DeletedAt:      m.DeletedAt,
		DeliveredAt:    m.DeliveredAt,
		EncryptionKey:  m.EncryptionKey,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(m *Message) *MessageModel {
	return &MessageModel{
		ID:             m.ID,
		RoomKey:        m.Room.String(),
		GroupID:        m.GroupID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Type:           m.Type,
		Attachments:    database.JSON[[]Attachment]{Val: m.Attachments},
		Mentions:       database.StringArray(m.Mentions),
		ReplyToID:      m.ReplyToID,
		ThreadID:       m.ThreadID,
		State:          string(m.State),
		ScheduledAt:    m.ScheduledAt,
		SelfDestructAt: m.SelfDestructAt,
		EditedAt:       m.EditedAt,
		Deleted:        m.Deleted,
		DeletedAt:      m.DeletedAt,
		DeliveredAt:    m.DeliveredAt,
		EncryptionKey:  m.EncryptionKey,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageReactionModel is one (message, user, emoji) triple.
type MessageReactionModel struct {
	MessageID string    `gorm:"type:varchar(64);primaryKey"`
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	Emoji     string    `gorm:"type:varchar(32);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (MessageReactionModel) TableName() string {
	return "message_reactions"
}

// MessageReadModel is a read receipt.
type MessageReadModel struct {
	MessageID string    `gorm:"type:varchar(64);primaryKey"`
	UserID    string    `gorm:"type:varchar(64);primaryKey;index"`
	ReadAt    time.Time `gorm:"not null"`
}

func (MessageReadModel) TableName() string {
	return "message_reads"
}

// NotificationModel is the GORM model for notifications.
type NotificationModel struct {
	ID        string                        `gorm:"type:varchar(64);primaryKey"`
	UserID    string                        `gorm:"type:varchar(64);index;not null"`
	Type      string                        `gorm:"type:varchar(32);not null"`
	Title     string                        `gorm:"type:varchar(200)"`
	Message   string                        `gorm:"type:text"`
	Data      database.JSON[map[string]any] `gorm:"type:text"`
	Read      bool                          `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time                     `gorm:"autoCreateTime;index"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

func (m *NotificationModel) ToDomain() *Notification {
	return &Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      m.Type,
		Title:     m.Title,
		Message:   m.Message,
		Data:      m.Data.Val,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func NotificationToModel(n *Notification) *NotificationModel {
	return &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      database.JSON[map[string]any]{Val: n.Data},
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

// CallSessionModel is the GORM model for call_sessions.
type CallSessionModel struct {
	ID              string               `gorm:"type:varchar(64);primaryKey"`
	InitiatorID     string               `gorm:"type:varchar(64);index;not null"`
	CalleeID        string               `gorm:"type:varchar(64);index;not null"`
	CallType        string               `gorm:"type:varchar(10);not null"`
	Participants    database.StringArray `gorm:"type:text"`
	State           string               `gorm:"type:varchar(20);index;not null"`
	EndReason       string               `gorm:"type:varchar(20)"`
	EndedBy         string               `gorm:"type:varchar(64)"`
	CreatedAt       time.Time            `gorm:"index"`
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	DurationSeconds int64
}

func (CallSessionModel) TableName() string {
	return "call_sessions"
}

func (m *CallSessionModel) ToDomain() *CallSession {
	return &CallSession{
		ID:           m.ID,
		InitiatorID:  m.InitiatorID,
		CalleeID:     m.CalleeID,
		CallType:     m.CallType,
		Participants: []string(m.Participants),
		State:        CallState(m.State),
		EndReason:    m.EndReason,
		EndedBy:      m.EndedBy,
		CreatedAt:    m.CreatedAt,
		AnsweredAt:   m.AnsweredAt,
		EndedAt:      m.EndedAt,
		Duration:     time.Duration(m.DurationSeconds) * time.Second,
	}
}

func CallSessionToModel(c *CallSession) *CallSessionModel {
	return &CallSessionModel{
		ID:              c.ID,
		InitiatorID:     c.InitiatorID,
		CalleeID:        c.CalleeID,
		CallType:        c.CallType,
		Participants:    database.StringArray(c.Participants),
		State:           string(c.State),
		EndReason:       c.EndReason,
		EndedBy:         c.EndedBy,
		CreatedAt:       c.CreatedAt,
		AnsweredAt:      c.AnsweredAt,
		EndedAt:         c.EndedAt,
		DurationSeconds: int64(c.Duration / time.Second),
	}
}

// AllModels lists every table owned or read by the engine, for migrations.
func AllModels() []interface{} {
	return []interface{}{
		&GroupMemberModel{},
		&GroupInvitationModel{},
		&TodoModel{},
		&MessageModel{},
		&MessageReactionModel{},
		&MessageReadModel{},
		&NotificationModel{},
		&CallSessionModel{},
	}
}
