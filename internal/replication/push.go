package replication

import (
	"context"
	"errors"

	"github.com/scottteague/indentr/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PushStats summarizes one push phase.
type PushStats struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Retired  int `json:"retired"`
	// Deferred counts notes whose parent is not on the remote yet. Their log
	// entries stay pending and are replayed every cycle until the parent lands.
	Deferred int `json:"deferred"`
}

// Pusher replays the local change log against the remote store.
type Pusher struct {
	local  *gorm.DB
	remote *gorm.DB
	blobs  store.BlobStore
	logger *zap.Logger
}

// NewPusher binds a Pusher to a local and remote store.
func NewPusher(local, remote *gorm.DB, blobs store.BlobStore, logger *zap.Logger) *Pusher {
	if blobs == nil {
		blobs = store.NewBlobStore()
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Pusher{local: local, remote: remote, blobs: blobs, logger: logger}
}

// Push applies every pending change to the remote store in dependency order:
// upserts parents-first, then deletes children-first. Log entries are retired
// only after their remote write succeeds; the first error stops the replay and
// leaves the remaining entries for the next cycle.
func (p *Pusher) Push(ctx context.Context) (PushStats, error) {
	var stats PushStats

	entries, err := ReadChangeLog(ctx, p.local)
	if err != nil {
		logError(p.logger, opChangeLogRead, "query_failed", err)
		return stats, newSyncError(opChangeLogRead, "query_failed", err)
	}
	plan := PlanPush(entries)

	if len(plan.Invalid) > 0 {
		p.logger.Warn("discarding unreplicable change log entries", zap.Int("count", len(plan.Invalid)))
		if err := p.retire(ctx, &stats, plan.Invalid); err != nil {
			return stats, err
		}
	}
	if plan.Empty() {
		return stats, nil
	}

	for _, entityType := range store.UpsertOrder() {
		groups := plan.Upserts[entityType]
		if len(groups) == 0 {
			continue
		}
		if entityType == store.EntityNote {
			if err := p.pushNotes(ctx, &stats, groups); err != nil {
				return stats, err
			}
			continue
		}
		for _, group := range groups {
			pushed, err := p.pushUpsert(ctx, group)
			if err != nil {
				return stats, err
			}
			if pushed {
				stats.Upserted++
			} else {
				stats.Skipped++
			}
			if err := p.retire(ctx, &stats, group.LogIDs); err != nil {
				return stats, err
			}
		}
	}

	if stats.Deferred > 0 {
		p.logger.Warn("notes held in change log until their parents reach the remote",
			zap.Int("deferred", stats.Deferred))
	}

	for _, entityType := range store.DeleteOrder() {
		for _, group := range plan.Deletes[entityType] {
			err := p.remote.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return deleteRow(tx, entityType, group.EntityID)
			})
			if err != nil {
				logError(p.logger, opPush, "delete_failed", err,
					zap.String("entity_type", entityType.String()),
					zap.String("entity_id", group.EntityID))
				return stats, newSyncError(opPush, "delete_failed", err)
			}
			stats.Deleted++
			if err := p.retire(ctx, &stats, group.LogIDs); err != nil {
				return stats, err
			}
		}
	}

	return stats, nil
}

// pushNotes writes every note without its parent, then sets parents for the
// notes that were written. Note log entries are retired after the second pass.
func (p *Pusher) pushNotes(ctx context.Context, stats *PushStats, groups []ChangeGroup) error {
	written := make([]store.Note, 0, len(groups))
	writtenGroups := make([]ChangeGroup, 0, len(groups))

	for _, group := range groups {
		note, err := findRow[store.Note](p.local.WithContext(ctx), queryByID, group.EntityID)
		if err != nil {
			logError(p.logger, opPush, "local_select_failed", err, zap.String("note_id", group.EntityID))
			return newSyncError(opPush, "local_select_failed", err)
		}
		if note == nil {
			stats.Skipped++
			if err := p.retire(ctx, stats, group.LogIDs); err != nil {
				return err
			}
			continue
		}
		if err := upsertNoteWithoutParent(p.remote.WithContext(ctx), *note); err != nil {
			logError(p.logger, opPush, "upsert_failed", err,
				zap.String("entity_type", store.EntityNote.String()),
				zap.String("entity_id", note.ID))
			return newSyncError(opPush, "upsert_failed", err)
		}
		stats.Upserted++
		written = append(written, *note)
		writtenGroups = append(writtenGroups, group)
	}

	for index, note := range written {
		if note.ParentID != nil {
			parentExists, err := rowExists(p.remote.WithContext(ctx), store.EntityNote, *note.ParentID)
			if err != nil {
				logError(p.logger, opPush, "parent_select_failed", err, zap.String("note_id", note.ID))
				return newSyncError(opPush, "parent_select_failed", err)
			}
			if !parentExists {
				stats.Deferred++
				p.logger.Warn("note parent missing on remote; parent link deferred",
					zap.String("note_id", note.ID),
					zap.String("parent_id", *note.ParentID))
				continue
			}
		}
		if err := setNoteParent(p.remote.WithContext(ctx), note.ID, note.ParentID); err != nil {
			logError(p.logger, opPush, "parent_update_failed", err, zap.String("note_id", note.ID))
			return newSyncError(opPush, "parent_update_failed", err)
		}
		if err := p.retire(ctx, stats, writtenGroups[index].LogIDs); err != nil {
			return err
		}
	}
	return nil
}

// pushUpsert writes the live local row for group. It reports false when the
// row no longer exists locally; a later Delete entry covers the remote side.
func (p *Pusher) pushUpsert(ctx context.Context, group ChangeGroup) (bool, error) {
	fields := []zap.Field{
		zap.String("entity_type", group.EntityType.String()),
		zap.String("entity_id", group.EntityID),
	}

	if group.EntityType == store.EntityAttachment {
		outcome, err := replicateAttachment(ctx,
			attachmentEndpoint{db: p.local, blobs: p.blobs},
			attachmentEndpoint{db: p.remote, blobs: p.blobs},
			group.EntityID,
		)
		if err != nil {
			logError(p.logger, opReplicateBlob, "push_failed", err, fields...)
			return false, newSyncError(opReplicateBlob, "push_failed", err)
		}
		return outcome != attachmentMissing, nil
	}

	row, err := p.loadLocal(ctx, group)
	if err != nil {
		logError(p.logger, opPush, "local_select_failed", err, fields...)
		return false, newSyncError(opPush, "local_select_failed", err)
	}
	if row == nil {
		return false, nil
	}

	err = p.remote.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if user, ok := row.(*store.User); ok {
			if err := checkRemoteIdentity(tx, *user); err != nil {
				return err
			}
		}
		return upsertRow(tx, group.EntityType, row)
	})
	if err != nil {
		var conflict *IdentityConflictError
		if errors.As(err, &conflict) {
			p.logger.Error("identity conflict during push", append(fields, zap.Error(err))...)
			return false, err
		}
		logError(p.logger, opPush, "upsert_failed", err, fields...)
		return false, newSyncError(opPush, "upsert_failed", err)
	}
	return true, nil
}

func (p *Pusher) loadLocal(ctx context.Context, group ChangeGroup) (any, error) {
	db := p.local.WithContext(ctx)
	switch group.EntityType {
	case store.EntityUser:
		return nilIfMissing(findRow[store.User](db, queryByID, group.EntityID))
	case store.EntityScratchpad:
		return nilIfMissing(findRow[store.Scratchpad](db, queryByID, group.EntityID))
	case store.EntityKanbanBoard:
		return nilIfMissing(findRow[store.KanbanBoard](db, queryByID, group.EntityID))
	case store.EntityKanbanColumn:
		return nilIfMissing(findRow[store.KanbanColumn](db, queryByID, group.EntityID))
	case store.EntityKanbanCard:
		return nilIfMissing(findRow[store.KanbanCard](db, queryByID, group.EntityID))
	default:
		return nil, store.ErrUnknownEntityType
	}
}

// nilIfMissing converts a typed nil row into an untyped nil interface.
func nilIfMissing[T any](row *T, err error) (any, error) {
	if err != nil || row == nil {
		return nil, err
	}
	return row, nil
}

// checkRemoteIdentity rejects a user whose username already belongs to a
// different id on the remote store.
func checkRemoteIdentity(tx *gorm.DB, user store.User) error {
	existing, err := findRow[store.User](tx, "username = ? AND id <> ?", user.Username, user.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &IdentityConflictError{Username: user.Username, LocalID: user.ID, RemoteID: existing.ID}
	}
	return nil
}

func (p *Pusher) retire(ctx context.Context, stats *PushStats, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := DeleteChangeLogEntries(ctx, p.local, ids); err != nil {
		logError(p.logger, opChangeLogRetire, "delete_failed", err, zap.Int("count", len(ids)))
		return newSyncError(opChangeLogRetire, "delete_failed", err)
	}
	stats.Retired += len(ids)
	return nil
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("replication error", attrs...)
}

var noOpLogger = zap.NewNop()
