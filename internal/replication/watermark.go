package replication

import (
	"context"
	"errors"
	"time"

	"github.com/scottteague/indentr/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WatermarkStore persists the remote-clock time of the last successful pull.
type WatermarkStore interface {
	// Load returns the watermark, or the zero time when the store never synced.
	Load(ctx context.Context) (time.Time, error)
	// Advance moves the watermark from previous to next. It fails with
	// ErrWatermarkMoved when the stored value is no longer previous.
	Advance(ctx context.Context, previous time.Time, next time.Time) error
}

type gormWatermarkStore struct {
	db *gorm.DB
}

// NewWatermarkStore returns a WatermarkStore backed by the sync_state table.
func NewWatermarkStore(db *gorm.DB) WatermarkStore {
	return &gormWatermarkStore{db: db}
}

func (s *gormWatermarkStore) Load(ctx context.Context) (time.Time, error) {
	state, err := findRow[store.SyncState](s.db.WithContext(ctx), queryByID, store.SyncStateRowID)
	if err != nil {
		return time.Time{}, err
	}
	if state == nil {
		return time.Time{}, nil
	}
	return store.FromMillis(state.LastSyncedAtMs), nil
}

func (s *gormWatermarkStore) Advance(ctx context.Context, previous time.Time, next time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&store.SyncState{ID: store.SyncStateRowID}).Error; err != nil {
			return err
		}
		result := tx.Model(&store.SyncState{}).
			Where("id = ? AND last_synced_at_ms = ?", store.SyncStateRowID, store.Millis(previous)).
			Updates(map[string]any{
				"last_synced_at_ms": store.Millis(next),
				"version":           gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrWatermarkMoved
		}
		return nil
	})
}

// isWatermarkMoved reports whether err came from a lost Advance race.
func isWatermarkMoved(err error) bool {
	return errors.Is(err, ErrWatermarkMoved)
}
