package domain

import "time"

// MessageState tracks scheduled delivery.
type MessageState string

const (
	// MessagePending is persisted but not yet visible to the room.
	MessagePending MessageState = "pending"
	// MessageSent has been broadcast.
	MessageSent MessageState = "sent"
)

// Message content types accepted from clients.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

// ValidMessageType reports whether t is an accepted content type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

// Attachment references a blob uploaded through the REST API.
type Attachment struct {
	Key         string `json:"key"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Message is a chat message in a group or todo room.
type Message struct {
	ID             string
	Room           RoomKey
	GroupID        string // owning group; equals Room.ID for group rooms
	SenderID       string
	SenderName     string
	Content        string
	Type           string
	Attachments    []Attachment
	Mentions       []string
	ReplyToID      string
	ThreadID       string
	State          MessageState
	ScheduledAt    *time.Time
	SelfDestructAt *time.Time
	EditedAt       *time.Time
	Deleted        bool
	DeletedAt      *time.Time
	DeliveredAt    *time.Time
	EncryptionKey  string
	CreatedAt      time.Time
}

// Visible reports whether room members may see the message.
func (m *Message) Visible() bool {
	return m.State == MessageSent
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}
