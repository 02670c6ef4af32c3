package store

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

const maxNotificationPage = 100

func (s *GormStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	model := domain.NotificationToModel(n)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, n.UserID).Msg("failed to create notification")
		return err
	}
	n.CreatedAt = model.CreatedAt
	return nil
}

func (s *GormStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	if limit < 1 || limit > maxNotificationPage {
		limit = maxNotificationPage
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var models []domain.NotificationModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list notifications")
		return nil, err
	}
	out := make([]*domain.Notification, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

