package store

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
)

// MembershipStore answers authorization questions. Rows are written by the
// REST API; the engine only reads them.
type MembershipStore interface {
	// AuthorizedGroups returns the groups userID belongs to, directly or by an
	// accepted invitation.
	AuthorizedGroups(ctx context.Context, userID string) ([]string, error)
	IsGroupAuthorized(ctx context.Context, userID, groupID string) (bool, error)
	// GroupRole returns ErrNotFound when userID has no membership row.
	GroupRole(ctx context.Context, userID, groupID string) (string, error)
	// ResourceGroup returns the group owning todoID.
	ResourceGroup(ctx context.Context, todoID string) (string, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	// SoftDeleteMessage blanks a message. It returns false when the message
	// was already deleted.
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkDelivered moves a pending message to sent. It returns false when
	// another worker already did.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	PendingScheduled(ctx context.Context) ([]*domain.Message, error)
	PendingSelfDestruct(ctx context.Context) ([]*domain.Message, error)
	AddReaction(ctx context.Context, r *domain.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error)
}

type CallStore interface {
	CreateCall(ctx context.Context, c *domain.CallSession) error
	UpdateCall(ctx context.Context, c *domain.CallSession) error
	GetCall(ctx context.Context, id string) (*domain.CallSession, error)
	// ExpireStaleCalls ends calls still initiating since before.
	ExpireStaleCalls(ctx context.Context, before, at time.Time) (int64, error)
}

// Store is everything the engine persists.
type Store interface {
	MembershipStore
	MessageStore
	NotificationStore
	CallStore
	Ping(ctx context.Context) error
	Close() error
}
