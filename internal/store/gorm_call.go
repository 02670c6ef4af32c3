package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

func (s *GormStore) CreateCall(ctx context.Context, c *domain.CallSession) error {
	if err := s.db.WithContext(ctx).Create(domain.CallSessionToModel(c)).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldCallID, c.ID).Msg("failed to create call session")
		return err
	}
	return nil
}

func (s *GormStore) UpdateCall(ctx context.Context, c *domain.CallSession) error {
	result := s.db.WithContext(ctx).Save(domain.CallSessionToModel(c))
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldCallID, c.ID).Msg("failed to update call session")
		return result.Error
	}
	return nil
}

func (s *GormStore) GetCall(ctx context.Context, id string) (*domain.CallSession, error) {
	var model domain.CallSessionModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

func (s *GormStore) ExpireStaleCalls(ctx context.Context, before, at time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.CallSessionModel{}).
		Where("state = ? AND created_at < ?", string(domain.CallInitiating), before).
		Updates(map[string]interface{}{
			"state":      string(domain.CallEnded),
			"end_reason": domain.EndReasonTimeout,
			"ended_at":   at,
		})
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Msg("failed to expire stale calls")
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
