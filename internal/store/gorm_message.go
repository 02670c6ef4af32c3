package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

func (s *GormStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	model := domain.MessageToModel(msg)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to create message in db")
		return err
	}
	msg.CreatedAt = model.CreatedAt
	return nil
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to get message")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

func (s *GormStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":   content,
			"edited_at": editedAt,
		})
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to update message")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]interface{}{
			"content":     "",
			"attachments": database.JSON[[]domain.Attachment]{},
			"deleted":     true,
			"deleted_at":  at,
		})
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to soft delete message")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND state = ? AND deleted = ?", id, string(domain.MessagePending), false).
		Updates(map[string]interface{}{
			"state":        string(domain.MessageSent),
			"delivered_at": at,
		})
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to mark message delivered")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) PendingScheduled(ctx context.Context) ([]*domain.Message, error) {
	return s.findMessages(ctx, "state = ? AND deleted = ? AND scheduled_at IS NOT NULL", string(domain.MessagePending), false)
}

func (s *GormStore) PendingSelfDestruct(ctx context.Context) ([]*domain.Message, error) {
	return s.findMessages(ctx, "deleted = ? AND self_destruct_at IS NOT NULL", false)
}

func (s *GormStore) findMessages(ctx context.Context, query string, args ...interface{}) ([]*domain.Message, error) {
	var models []domain.MessageModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at ASC").Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to query messages")
		return nil, err
	}
	msgs := make([]*domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].ToDomain()
	}
	return msgs, nil
}

func (s *GormStore) AddReaction(ctx context.Context, r *domain.Reaction) (bool, error) {
	model := &domain.MessageReactionModel{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, r.MessageID).Msg("failed to add reaction")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&domain.MessageReactionModel{})
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, messageID).Msg("failed to remove reaction")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	rows := make([]domain.MessageReadModel, len(messageIDs))
	for i, id := range messageIDs {
		rows[i] = domain.MessageReadModel{MessageID: id, UserID: userID, ReadAt: at}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to mark messages read")
		return err
	}
	return nil
}
