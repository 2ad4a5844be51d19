package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrBlobNotFound indicates that a blob handle does not resolve in the store.
var ErrBlobNotFound = errors.New("store: blob not found")

// BlobHandle is a store-local reference to attachment bytes. Handles are only
// meaningful within the store that issued them.
type BlobHandle int64

// AttachmentBlob holds the bytes behind a BlobHandle.
type AttachmentBlob struct {
	Handle BlobHandle `gorm:"column:handle;primaryKey;autoIncrement"`
	Data   []byte     `gorm:"column:data;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AttachmentBlob) TableName() string {
	return "attachment_blobs"
}

// BlobStore hides how a store keeps attachment bytes. All methods run on the
// caller's transaction.
type BlobStore interface {
	ReadBytes(tx *gorm.DB, handle BlobHandle) ([]byte, error)
	CreateFromBytes(tx *gorm.DB, data []byte) (BlobHandle, error)
	Delete(tx *gorm.DB, handle BlobHandle) error
}

// TableBlobStore keeps blobs in the attachment_blobs table.
type TableBlobStore struct{}

// NewBlobStore returns the blob store used by both SQLite and PostgreSQL stores.
func NewBlobStore() BlobStore {
	return TableBlobStore{}
}

// ReadBytes loads the bytes referenced by handle.
func (TableBlobStore) ReadBytes(tx *gorm.DB, handle BlobHandle) ([]byte, error) {
	var blob AttachmentBlob
	err := tx.Where("handle = ?", handle).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrBlobNotFound, handle)
	}
	if err != nil {
		return nil, err
	}
	if blob.Data == nil {
		return []byte{}, nil
	}
	return blob.Data, nil
}

// CreateFromBytes stores data and returns a fresh handle.
func (TableBlobStore) CreateFromBytes(tx *gorm.DB, data []byte) (BlobHandle, error) {
	if data == nil {
		data = []byte{}
	}
	blob := AttachmentBlob{Data: data}
	if err := tx.Create(&blob).Error; err != nil {
		return 0, err
	}
	return blob.Handle, nil
}

// Delete removes the blob referenced by handle. Unknown handles are ignored.
func (TableBlobStore) Delete(tx *gorm.DB, handle BlobHandle) error {
	if handle == 0 {
		return nil
	}
	return tx.Where("handle = ?", handle).Delete(&AttachmentBlob{}).Error
}

// AfterDelete frees the blob whenever an attachment row is deleted through GORM.
func (a *Attachment) AfterDelete(tx *gorm.DB) error {
	if a == nil || a.BlobHandle == 0 {
		return nil
	}
	return TableBlobStore{}.Delete(tx, a.BlobHandle)
}

// DeleteAttachment removes the attachment row with id and its blob. Missing rows are ignored.
func DeleteAttachment(tx *gorm.DB, id string) error {
	var attachment Attachment
	err := tx.Where("id = ?", id).Take(&attachment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.Delete(&attachment).Error
}

// DeleteAttachmentsForNote removes every attachment of noteID through the
// blob-freeing delete path. Call before hard-deleting a note.
func DeleteAttachmentsForNote(tx *gorm.DB, noteID string) error {
	var attachments []Attachment
	if err := tx.Where("note_id = ?", noteID).Find(&attachments).Error; err != nil {
		return err
	}
	for index := range attachments {
		if err := tx.Delete(&attachments[index]).Error; err != nil {
			return err
		}
	}
	return nil
}
