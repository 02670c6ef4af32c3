package domain

import "time"

// Notification types written by the engine.
const (
	NotificationMention    = "mention"
	NotificationAssignment = "assignment"
	NotificationInvitation = "invitation"
)

// Notification is a durable notice for a user, delivered live when possible.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
}
