package replication

import (
	"context"

	"github.com/scottteague/indentr/internal/store"
	"gorm.io/gorm"
)

type attachmentOutcome int

const (
	attachmentMissing attachmentOutcome = iota
	attachmentCopied
	attachmentTombstoned
)

// attachmentEndpoint is one side of an attachment copy.
type attachmentEndpoint struct {
	db    *gorm.DB
	blobs store.BlobStore
}

// replicateAttachment copies attachment id from source to target. A soft-deleted
// source only propagates its tombstone. Otherwise the target row and its blob
// are replaced in one transaction; blob handles never cross stores.
func replicateAttachment(ctx context.Context, source, target attachmentEndpoint, id string) (attachmentOutcome, error) {
	var (
		row  *store.Attachment
		data []byte
	)
	err := source.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findRow[store.Attachment](tx, queryByID, id)
		if err != nil || found == nil {
			return err
		}
		row = found
		if row.DeletedAtMs != nil {
			return nil
		}
		data, err = source.blobs.ReadBytes(tx, row.BlobHandle)
		return err
	})
	if err != nil {
		return attachmentMissing, err
	}
	if row == nil {
		return attachmentMissing, nil
	}

	if row.DeletedAtMs != nil {
		result := target.db.WithContext(ctx).
			Model(&store.Attachment{}).
			Where(queryByID, id).
			Update(fieldDeletedAtMs, *row.DeletedAtMs)
		if result.Error != nil {
			return attachmentMissing, result.Error
		}
		if result.RowsAffected == 0 {
			return attachmentMissing, nil
		}
		return attachmentTombstoned, nil
	}

	err = target.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.DeleteAttachment(tx, id); err != nil {
			return err
		}
		handle, err := target.blobs.CreateFromBytes(tx, data)
		if err != nil {
			return err
		}
		copied := *row
		copied.BlobHandle = handle
		copied.Note = nil
		return tx.Create(&copied).Error
	})
	if err != nil {
		return attachmentMissing, err
	}
	return attachmentCopied, nil
}
