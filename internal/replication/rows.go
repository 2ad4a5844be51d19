package replication

import (
	"errors"

	"github.com/scottteague/indentr/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	fieldID          = "id"
	fieldUserID      = "user_id"
	fieldParentID    = "parent_id"
	fieldUpdatedAtMs = "updated_at_ms"
	fieldDeletedAtMs = "deleted_at_ms"
	fieldIsRoot      = "is_root"

	queryByID     = fieldID + " = ?"
	queryByUserID = fieldUserID + " = ?"
)

// upsertSpec is the per-table conflict target and the columns an upsert overwrites.
type upsertSpec struct {
	conflictColumn string
	updateColumns  []string
}

// Notes never overwrite parent_id here; parents are set in a second pass once
// every note in the batch exists. created_by and created_at_ms are immutable.
var upsertSpecs = map[store.EntityType]upsertSpec{
	store.EntityUser: {
		conflictColumn: fieldID,
		updateColumns:  []string{"username"},
	},
	store.EntityNote: {
		conflictColumn: fieldID,
		updateColumns: []string{
			"is_root", "title", "content", "content_hash", "owner_id",
			"is_private", "sort_order", fieldUpdatedAtMs, fieldDeletedAtMs,
		},
	},
	store.EntityScratchpad: {
		conflictColumn: fieldUserID,
		updateColumns:  []string{"content", "content_hash", fieldUpdatedAtMs},
	},
	store.EntityKanbanBoard: {
		conflictColumn: fieldID,
		updateColumns:  []string{"title", "owner_id", fieldUpdatedAtMs, fieldDeletedAtMs},
	},
	store.EntityKanbanColumn: {
		conflictColumn: fieldID,
		updateColumns:  []string{"board_id", "title", "sort_order", fieldUpdatedAtMs, fieldDeletedAtMs},
	},
	store.EntityKanbanCard: {
		conflictColumn: fieldID,
		updateColumns:  []string{"column_id", "note_id", "title", "sort_order", fieldUpdatedAtMs, fieldDeletedAtMs},
	},
}

// entityModels returns an empty model used to address a table in deletes.
var entityModels = map[store.EntityType]func() any{
	store.EntityUser:         func() any { return &store.User{} },
	store.EntityNote:         func() any { return &store.Note{} },
	store.EntityAttachment:   func() any { return &store.Attachment{} },
	store.EntityScratchpad:   func() any { return &store.Scratchpad{} },
	store.EntityKanbanBoard:  func() any { return &store.KanbanBoard{} },
	store.EntityKanbanColumn: func() any { return &store.KanbanColumn{} },
	store.EntityKanbanCard:   func() any { return &store.KanbanCard{} },
}

// upsertRow writes row into tx using the table's conflict target.
func upsertRow(tx *gorm.DB, entityType store.EntityType, row any) error {
	spec, ok := upsertSpecs[entityType]
	if !ok {
		return store.ErrUnknownEntityType
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: spec.conflictColumn}},
		DoUpdates: clause.AssignmentColumns(spec.updateColumns),
	}).Create(row).Error
}

// findRow loads the row matching query, returning nil when it does not exist.
func findRow[T any](db *gorm.DB, query string, args ...any) (*T, error) {
	var row T
	err := db.Where(query, args...).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// rowExists reports whether a row with id exists in entityType's table.
func rowExists(db *gorm.DB, entityType store.EntityType, id string) (bool, error) {
	model, ok := entityModels[entityType]
	if !ok {
		return false, store.ErrUnknownEntityType
	}
	var count int64
	if err := db.Model(model()).Where(queryByID, id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// upsertNoteWithoutParent writes note with a NULL parent on insert and leaves
// an existing row's parent untouched.
func upsertNoteWithoutParent(tx *gorm.DB, note store.Note) error {
	note.ParentID = nil
	note.Parent = nil
	note.Owner = nil
	return upsertRow(tx, store.EntityNote, &note)
}

func setNoteParent(tx *gorm.DB, noteID string, parentID *string) error {
	return tx.Model(&store.Note{}).Where(queryByID, noteID).Update(fieldParentID, parentID).Error
}

// deleteRow hard-deletes the row with id. Notes and attachments free their
// blobs first. Missing rows are not an error.
func deleteRow(tx *gorm.DB, entityType store.EntityType, id string) error {
	switch entityType {
	case store.EntityAttachment:
		return store.DeleteAttachment(tx, id)
	case store.EntityNote:
		if err := store.DeleteAttachmentsForNote(tx, id); err != nil {
			return err
		}
	}
	model, ok := entityModels[entityType]
	if !ok {
		return store.ErrUnknownEntityType
	}
	return tx.Where(queryByID, id).Delete(model()).Error
}

func sameOptionalString(left, right *string) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}

func sameOptionalInt64(left, right *int64) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}
