package replication

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/scottteague/indentr/internal/database"
	"github.com/scottteague/indentr/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) int64 {
	return store.Millis(baseTime.Add(offset))
}

func openStore(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:replication_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := database.OpenLocal(context.Background(), database.DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

func createRows(t *testing.T, db *gorm.DB, rows ...any) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}
}

func logChange(t *testing.T, db *gorm.DB, entityType store.EntityType, id string, operation store.Operation) {
	t.Helper()
	require.NoError(t, AppendChange(db, entityType, id, operation, baseTime))
}

func pendingEntries(t *testing.T, db *gorm.DB) []store.ChangeLogEntry {
	t.Helper()
	entries, err := ReadChangeLog(context.Background(), db)
	require.NoError(t, err)
	return entries
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

func loadNote(t *testing.T, db *gorm.DB, id string) *store.Note {
	t.Helper()
	note, err := findRow[store.Note](db, queryByID, id)
	require.NoError(t, err)
	return note
}

func ptr[T any](value T) *T {
	return &value
}

func newUser(id, username string) *store.User {
	return &store.User{ID: id, Username: username, CreatedAtMs: at(-48 * time.Hour)}
}

func newNote(id, ownerID string, parentID *string, title, content string, updatedAtMs int64) *store.Note {
	return &store.Note{
		ID:          id,
		ParentID:    parentID,
		Title:       title,
		Content:     content,
		ContentHash: store.ContentHash(content),
		OwnerID:     ownerID,
		CreatedBy:   ownerID,
		CreatedAtMs: at(-24 * time.Hour),
		UpdatedAtMs: updatedAtMs,
	}
}

func newAttachment(t *testing.T, db *gorm.DB, id, noteID string, data []byte, createdAtMs int64) *store.Attachment {
	t.Helper()
	handle, err := store.NewBlobStore().CreateFromBytes(db, data)
	require.NoError(t, err)
	attachment := &store.Attachment{
		ID:          id,
		NoteID:      noteID,
		BlobHandle:  handle,
		Filename:    id + ".bin",
		MimeType:    "application/octet-stream",
		Size:        int64(len(data)),
		CreatedAtMs: createdAtMs,
	}
	createRows(t, db, attachment)
	return attachment
}

func readAttachmentBytes(t *testing.T, db *gorm.DB, id string) []byte {
	t.Helper()
	attachment, err := findRow[store.Attachment](db, queryByID, id)
	require.NoError(t, err)
	require.NotNil(t, attachment)
	data, err := store.NewBlobStore().ReadBytes(db, attachment.BlobHandle)
	require.NoError(t, err)
	return data
}

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("generated-%d", s.next), nil
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time {
		return value
	}
}
