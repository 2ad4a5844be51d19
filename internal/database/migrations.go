package database

import (
	"context"
	"errors"
	"time"

	"github.com/scottteague/indentr/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationSeedSyncState           = "2025-06-01_seed_sync_state"
	migrationBackfillNoteContentHash = "2025-06-02_backfill_note_content_hash"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func orderedMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationSeedSyncState, apply: seedSyncState},
		{name: migrationBackfillNoteContentHash, apply: backfillContentHashes},
	}
}

// SchemaVersion names the newest migration this build knows about.
func SchemaVersion() string {
	migrations := orderedMigrations()
	return migrations[len(migrations)-1].name
}

// Migrator brings a store's schema to the version this build expects.
type Migrator struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewMigrator binds a Migrator to db.
func NewMigrator(db *gorm.DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger, clock: time.Now}
}

// MigrateTo creates missing tables and applies pending named migrations.
// It is safe to call on every sync cycle.
func (m *Migrator) MigrateTo(ctx context.Context) error {
	db := m.db.WithContext(ctx)
	models := append(store.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, m.logger, m.clock)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, clock func() time.Time) error {
	for _, migration := range orderedMigrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := clock().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedSyncState(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&store.SyncState{ID: store.SyncStateRowID}).Error
}

func backfillContentHashes(db *gorm.DB) error {
	var notes []store.Note
	if err := db.Where("content_hash = ?", "").Find(&notes).Error; err != nil {
		return err
	}
	for _, note := range notes {
		if err := db.Model(&store.Note{}).
			Where("id = ?", note.ID).
			Update("content_hash", store.ContentHash(note.Content)).Error; err != nil {
			return err
		}
	}

	var scratchpads []store.Scratchpad
	if err := db.Where("content_hash = ?", "").Find(&scratchpads).Error; err != nil {
		return err
	}
	for _, scratchpad := range scratchpads {
		if err := db.Model(&store.Scratchpad{}).
			Where("id = ?", scratchpad.ID).
			Update("content_hash", store.ContentHash(scratchpad.Content)).Error; err != nil {
			return err
		}
	}
	return nil
}
