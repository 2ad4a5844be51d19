package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityConflict indicates that a username maps to different user ids locally and remotely.
	ErrIdentityConflict = errors.New("replication: identity conflict")
	// ErrWatermarkMoved indicates that another writer advanced the watermark first.
	ErrWatermarkMoved = errors.New("replication: watermark moved concurrently")

	errMissingLocalDatabase = errors.New("local database handle is required")
)

// SyncError carries a stable "<operation>.<reason>" code alongside the cause.
type SyncError struct {
	code string
	err  error
}

func (e *SyncError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *SyncError) Unwrap() error {
	return e.err
}

func (e *SyncError) Code() string {
	return e.code
}

const (
	opEngineNew       = "replication.engine.new"
	opPush            = "replication.push"
	opPull            = "replication.pull"
	opReplicateBlob   = "replication.attachment"
	opWatermark       = "replication.watermark"
	opSyncOnce        = "replication.sync_once"
	opChangeLogRead   = "replication.changelog.read"
	opChangeLogRetire = "replication.changelog.retire"
)

func newSyncError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &SyncError{code: code, err: cause}
}

// IdentityConflictError reports a username that resolves to a different id on each side.
// The operator resolves it by re-deriving the local identity from the remote store.
type IdentityConflictError struct {
	Username string
	LocalID  string
	RemoteID string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf(
		"identity conflict: username %q is %s locally but %s on the remote store; re-derive the local identity from the remote store and retry",
		e.Username, e.LocalID, e.RemoteID,
	)
}

func (e *IdentityConflictError) Unwrap() error {
	return ErrIdentityConflict
}
