package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedNoteWithAttachment(t *testing.T, db *gorm.DB, data []byte) (Note, Attachment) {
	t.Helper()
	user := User{ID: "user-1", Username: "ada", CreatedAtMs: 1}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	note := Note{
		ID:          "note-1",
		Title:       "Inbox",
		Content:     "hello",
		ContentHash: ContentHash("hello"),
		OwnerID:     user.ID,
		CreatedBy:   user.ID,
		CreatedAtMs: 1,
		UpdatedAtMs: 1,
	}
	if err := db.Create(&note).Error; err != nil {
		t.Fatalf("failed to insert note: %v", err)
	}
	handle, err := NewBlobStore().CreateFromBytes(db, data)
	if err != nil {
		t.Fatalf("failed to create blob: %v", err)
	}
	attachment := Attachment{
		ID:          "attachment-1",
		NoteID:      note.ID,
		BlobHandle:  handle,
		Filename:    "photo.png",
		MimeType:    "image/png",
		Size:        int64(len(data)),
		CreatedAtMs: 1,
	}
	if err := db.Create(&attachment).Error; err != nil {
		t.Fatalf("failed to insert attachment: %v", err)
	}
	return note, attachment
}

func countBlobs(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&AttachmentBlob{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count blobs: %v", err)
	}
	return count
}

func TestBlobStoreRoundTrip(t *testing.T) {
	db := openTestDatabase(t)
	blobs := NewBlobStore()

	handle, err := blobs.CreateFromBytes(db, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if handle == 0 {
		t.Fatalf("expected a non-zero handle")
	}

	data, err := blobs.ReadBytes(db, handle)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "\x01\x02\x03" {
		t.Fatalf("unexpected blob bytes %v", data)
	}

	if err := blobs.Delete(db, handle); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := blobs.ReadBytes(db, handle); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestDeleteAttachmentFreesBlob(t *testing.T) {
	db := openTestDatabase(t)
	_, attachment := seedNoteWithAttachment(t, db, []byte("bytes"))

	if err := DeleteAttachment(db, attachment.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if count := countBlobs(t, db); count != 0 {
		t.Fatalf("expected blob to be freed, found %d", count)
	}
	if err := DeleteAttachment(db, attachment.ID); err != nil {
		t.Fatalf("expected deleting a missing attachment to be a no-op: %v", err)
	}
}

func TestDeleteAttachmentsForNoteFreesEveryBlob(t *testing.T) {
	db := openTestDatabase(t)
	note, _ := seedNoteWithAttachment(t, db, []byte("first"))

	handle, err := NewBlobStore().CreateFromBytes(db, []byte("second"))
	if err != nil {
		t.Fatalf("failed to create blob: %v", err)
	}
	second := Attachment{ID: "attachment-2", NoteID: note.ID, BlobHandle: handle, Filename: "b.txt", MimeType: "text/plain", Size: 6, CreatedAtMs: 2}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("failed to insert attachment: %v", err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		return DeleteAttachmentsForNote(tx, note.ID)
	}); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var remaining int64
	if err := db.Model(&Attachment{}).Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count attachments: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected attachments to be deleted, found %d", remaining)
	}
	if count := countBlobs(t, db); count != 0 {
		t.Fatalf("expected blobs to be freed, found %d", count)
	}
}

func TestParseEntityType(t *testing.T) {
	entityType, err := ParseEntityType(" Kanban_Cards ")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if entityType != EntityKanbanCard {
		t.Fatalf("unexpected entity type %q", entityType)
	}
	if _, err := ParseEntityType("settings"); !errors.Is(err, ErrUnknownEntityType) {
		t.Fatalf("expected ErrUnknownEntityType, got %v", err)
	}
}

func TestParseOperation(t *testing.T) {
	operation, err := ParseOperation("update")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !operation.IsUpsert() {
		t.Fatalf("expected update to be an upsert")
	}
	operation, err = ParseOperation("DELETE")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if operation.IsUpsert() {
		t.Fatalf("expected delete not to be an upsert")
	}
	if _, err := ParseOperation("TRUNCATE"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestDeleteOrderReversesUpsertOrder(t *testing.T) {
	upserts := UpsertOrder()
	deletes := DeleteOrder()
	if len(upserts) != len(deletes) {
		t.Fatalf("expected matching lengths, got %d and %d", len(upserts), len(deletes))
	}
	if upserts[0] != EntityUser || upserts[len(upserts)-1] != EntityKanbanCard {
		t.Fatalf("unexpected upsert order %v", upserts)
	}
	for index := range upserts {
		if upserts[index] != deletes[len(deletes)-1-index] {
			t.Fatalf("delete order is not the reverse of upsert order: %v vs %v", upserts, deletes)
		}
	}
}

func TestMillisRoundTrip(t *testing.T) {
	value := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	if got := FromMillis(Millis(value)); !got.Equal(value) {
		t.Fatalf("expected %s, got %s", value, got)
	}
	if !FromMillis(0).IsZero() {
		t.Fatalf("expected zero millis to map to the zero time")
	}
	if Millis(time.Time{}) != 0 {
		t.Fatalf("expected zero time to map to zero millis")
	}
}
