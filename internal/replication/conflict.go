package replication

import (
	"fmt"
	"time"

	"github.com/scottteague/indentr/internal/store"
)

// noteAction is the pull decision for one remote note.
type noteAction int

const (
	noteInsert noteAction = iota
	noteNoop
	noteApply
	noteKeepLocal
	noteConflict
)

func (a noteAction) String() string {
	switch a {
	case noteInsert:
		return "insert"
	case noteNoop:
		return "noop"
	case noteApply:
		return "apply"
	case noteKeepLocal:
		return "keep_local"
	case noteConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

const (
	conflictTitlePrefix     = "⚠ CONFLICT: "
	conflictTimestampLayout = "2006-01-02 15:04"
)

// decideNote compares a remote note with its local counterpart. watermarkMs is
// the unbuffered watermark; a row is "changed" when updated after it.
func decideNote(local *store.Note, remote store.Note, watermarkMs int64) noteAction {
	if local == nil {
		return noteInsert
	}

	localChanged := local.UpdatedAtMs > watermarkMs

	if remote.ContentHash == local.ContentHash {
		if sameNoteMetadata(*local, remote) {
			return noteNoop
		}
		if localChanged {
			return noteKeepLocal
		}
		return noteApply
	}

	// Re-pulled through the safety buffer: the remote row predates the
	// watermark, so only a local edit since then can outrank it.
	if remote.UpdatedAtMs <= watermarkMs {
		if localChanged {
			return noteKeepLocal
		}
		return noteApply
	}

	if !localChanged {
		return noteApply
	}
	return noteConflict
}

func sameNoteMetadata(local, remote store.Note) bool {
	return local.Title == remote.Title &&
		local.IsRoot == remote.IsRoot &&
		local.OwnerID == remote.OwnerID &&
		local.IsPrivate == remote.IsPrivate &&
		local.SortOrder == remote.SortOrder &&
		sameOptionalString(local.ParentID, remote.ParentID) &&
		sameOptionalInt64(local.DeletedAtMs, remote.DeletedAtMs)
}

// conflictTitle names the sibling that preserves a conflicting remote version.
// It must stay a pure function of its inputs: the duplicate guard matches on it.
func conflictTitle(remoteTitle string, remoteUsername string, remoteUpdatedAt time.Time) string {
	return fmt.Sprintf("%s%s (by %s on %s)",
		conflictTitlePrefix,
		remoteTitle,
		remoteUsername,
		remoteUpdatedAt.UTC().Format(conflictTimestampLayout),
	)
}

// conflictSibling builds the note that carries the remote version next to the
// local original.
func conflictSibling(id string, local store.Note, remote store.Note, title string, now time.Time) store.Note {
	nowMs := store.Millis(now)
	var parentID *string
	if local.ParentID != nil {
		value := *local.ParentID
		parentID = &value
	}
	return store.Note{
		ID:          id,
		ParentID:    parentID,
		Title:       title,
		Content:     remote.Content,
		ContentHash: remote.ContentHash,
		OwnerID:     remote.OwnerID,
		CreatedBy:   remote.OwnerID,
		IsPrivate:   remote.IsPrivate,
		SortOrder:   local.SortOrder + 1,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
}
