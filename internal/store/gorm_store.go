package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate to create missing tables.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates every table the engine reads and writes.
func (s *GormStore) Migrate() error {
	return database.AutoMigrate(s.db, domain.AllModels()...)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) AuthorizedGroups(ctx context.Context, userID string) ([]string, error) {
	l := log.Ctx(ctx)

	var member []string
	if err := s.db.WithContext(ctx).Model(&domain.GroupMemberModel{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &member).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list group memberships")
		return nil, err
	}

	var invited []string
	if err := s.db.WithContext(ctx).Model(&domain.GroupInvitationModel{}).
		Where("invitee_id = ? AND status = ?", userID, domain.InvitationAccepted).
		Pluck("group_id", &invited).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list accepted invitations")
		return nil, err
	}

	seen := make(map[string]struct{}, len(member)+len(invited))
	groups := make([]string, 0, len(member)+len(invited))
	for _, g := range append(member, invited...) {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *GormStore) IsGroupAuthorized(ctx context.Context, userID, groupID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.GroupMemberModel{}).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := s.db.WithContext(ctx).Model(&domain.GroupInvitationModel{}).
		Where("invitee_id = ? AND group_id = ? AND status = ?", userID, groupID, domain.InvitationAccepted).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) GroupRole(ctx context.Context, userID, groupID string) (string, error) {
	var model domain.GroupMemberModel
	result := s.db.WithContext(ctx).First(&model, "user_id = ? AND group_id = ?", userID, groupID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", result.Error
	}
	return model.Role, nil
}

func (s *GormStore) ResourceGroup(ctx context.Context, todoID string) (string, error) {
	var model domain.TodoModel
	result := s.db.WithContext(ctx).Select("id", "group_id").First(&model, "id = ?", todoID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str("todo_id", todoID).Msg("failed to get todo")
		return "", result.Error
	}
	return model.GroupID, nil
}
