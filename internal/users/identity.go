package users

import (
	"context"
	"fmt"

	"github.com/scottteague/indentr/internal/replication"
	"github.com/scottteague/indentr/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ownedColumns lists every column that references a user id.
var ownedColumns = []struct {
	entityType store.EntityType
	model      any
	column     string
}{
	{entityType: store.EntityNote, model: &store.Note{}, column: "owner_id"},
	{entityType: store.EntityNote, model: &store.Note{}, column: "created_by"},
	{entityType: store.EntityKanbanBoard, model: &store.KanbanBoard{}, column: "owner_id"},
	{entityType: store.EntityScratchpad, model: &store.Scratchpad{}, column: "user_id"},
}

// AdoptRemoteIdentity replaces the local user's id with the id the remote
// store holds for the same username. Rows owned by the old id are re-pointed
// and logged for push, and the pending log entries for the old user row are
// dropped because the remote store already has the user.
func (s *Service) AdoptRemoteIdentity(ctx context.Context, username string) (store.User, error) {
	username = normalize(username)
	if username == "" {
		return store.User{}, ErrInvalidUsername
	}
	if s.remote == nil {
		return store.User{}, ErrRemoteNotConfigured
	}

	remoteUser, err := findByUsername(s.remote.WithContext(ctx), username)
	if err != nil {
		return store.User{}, fmt.Errorf("users: remote lookup: %w", err)
	}
	if remoteUser == nil {
		return store.User{}, ErrRemoteUserNotFound
	}

	err = s.local.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		localUser, err := findByUsername(tx, username)
		if err != nil {
			return err
		}
		if localUser == nil {
			return tx.Create(remoteUser).Error
		}
		if localUser.ID == remoteUser.ID {
			return nil
		}
		return s.rewriteIdentity(tx, *localUser, *remoteUser)
	})
	if err != nil {
		return store.User{}, err
	}
	s.logger.Info("local identity adopted from remote store",
		zap.String("username", username),
		zap.String("user_id", remoteUser.ID))
	return *remoteUser, nil
}

func (s *Service) rewriteIdentity(tx *gorm.DB, localUser store.User, remoteUser store.User) error {
	now := s.now().UTC()

	// Free the username before the remote row takes it.
	if err := tx.Model(&store.User{}).
		Where("id = ?", localUser.ID).
		Update("username", localUser.Username+"~"+localUser.ID).Error; err != nil {
		return err
	}
	if err := tx.Create(&remoteUser).Error; err != nil {
		return err
	}

	for _, owned := range ownedColumns {
		var ids []string
		if err := tx.Model(owned.model).Where(owned.column+" = ?", localUser.ID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		if err := tx.Model(owned.model).
			Where("id IN ?", ids).
			Updates(map[string]any{
				owned.column:    remoteUser.ID,
				"updated_at_ms": store.Millis(now),
			}).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if err := replication.AppendChange(tx, owned.entityType, id, store.OperationUpdate, now); err != nil {
				return err
			}
		}
		s.logger.Debug("rows re-pointed to adopted identity",
			zap.String("entity_type", owned.entityType.String()),
			zap.String("column", owned.column),
			zap.Int("rows", len(ids)))
	}

	if err := tx.Where("entity_type = ? AND entity_id = ?", store.EntityUser, localUser.ID).
		Delete(&store.ChangeLogEntry{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", localUser.ID).Delete(&store.User{}).Error
}
