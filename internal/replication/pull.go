package replication

import (
	"context"
	"errors"
	"time"

	"github.com/scottteague/indentr/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PullStats summarizes one pull phase.
type PullStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
	Deleted   int `json:"deleted"`
}

// PullerConfig describes the dependencies of a Puller.
type PullerConfig struct {
	Local        *gorm.DB
	Remote       *gorm.DB
	Blobs        store.BlobStore
	IDProvider   store.IDProvider
	Clock        func() time.Time
	SafetyBuffer time.Duration
	Logger       *zap.Logger
}

// Puller applies remote changes made since the watermark to the local store.
type Puller struct {
	local        *gorm.DB
	remote       *gorm.DB
	blobs        store.BlobStore
	idProvider   store.IDProvider
	clock        func() time.Time
	safetyBuffer time.Duration
	logger       *zap.Logger
}

// NewPuller constructs a Puller, defaulting the blob store, id provider, clock and logger.
func NewPuller(cfg PullerConfig) *Puller {
	puller := &Puller{
		local:        cfg.Local,
		remote:       cfg.Remote,
		blobs:        cfg.Blobs,
		idProvider:   cfg.IDProvider,
		clock:        cfg.Clock,
		safetyBuffer: cfg.SafetyBuffer,
		logger:       cfg.Logger,
	}
	if puller.blobs == nil {
		puller.blobs = store.NewBlobStore()
	}
	if puller.idProvider == nil {
		puller.idProvider = store.NewUUIDProvider()
	}
	if puller.clock == nil {
		puller.clock = time.Now
	}
	if puller.logger == nil {
		puller.logger = noOpLogger
	}
	return puller
}

// pullWindow carries the two watermark views used during one pull: rows are
// selected through the buffered boundary, decisions use the exact watermark.
type pullWindow struct {
	sinceMs     int64
	watermarkMs int64
	pending     map[string]struct{}
}

func (w pullWindow) isPending(id string) bool {
	_, ok := w.pending[id]
	return ok
}

// Pull fetches every remote row updated after watermark minus the safety
// buffer and reconciles it locally, then removes local rows that vanished
// remotely. Rows with unpushed local changes are never deleted.
func (p *Puller) Pull(ctx context.Context, watermark time.Time) (PullStats, error) {
	var stats PullStats

	pending, err := PendingPushIDs(ctx, p.local)
	if err != nil {
		logError(p.logger, opPull, "pending_select_failed", err)
		return stats, newSyncError(opPull, "pending_select_failed", err)
	}
	watermarkMs := store.Millis(watermark)
	window := pullWindow{
		sinceMs:     watermarkMs - p.safetyBuffer.Milliseconds(),
		watermarkMs: watermarkMs,
		pending:     pending,
	}

	phases := []struct {
		name string
		run  func(context.Context, pullWindow, *PullStats) error
	}{
		{name: "users", run: p.pullUsers},
		{name: "notes", run: p.pullNotes},
		{name: "attachments", run: p.pullAttachments},
		{name: "scratchpads", run: p.pullScratchpads},
		{name: "kanban_boards", run: p.pullBoards},
		{name: "kanban_columns", run: p.pullColumns},
		{name: "kanban_cards", run: p.pullCards},
		{name: "remote_deletes", run: p.detectRemoteDeletes},
	}
	for _, phase := range phases {
		if err := phase.run(ctx, window, &stats); err != nil {
			var conflict *IdentityConflictError
			if errors.As(err, &conflict) {
				p.logger.Error("identity conflict during pull", zap.Error(err))
				return stats, err
			}
			logError(p.logger, opPull, phase.name+"_failed", err)
			return stats, newSyncError(opPull, phase.name+"_failed", err)
		}
	}
	return stats, nil
}

// pullUsers mirrors every remote user. Users are few, so the whole table is read.
func (p *Puller) pullUsers(ctx context.Context, _ pullWindow, stats *PullStats) error {
	var remoteUsers []store.User
	if err := p.remote.WithContext(ctx).Order("id ASC").Find(&remoteUsers).Error; err != nil {
		return err
	}
	for _, remoteUser := range remoteUsers {
		err := p.local.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			clash, err := findRow[store.User](tx, "username = ? AND id <> ?", remoteUser.Username, remoteUser.ID)
			if err != nil {
				return err
			}
			if clash != nil {
				return &IdentityConflictError{Username: remoteUser.Username, LocalID: clash.ID, RemoteID: remoteUser.ID}
			}
			existing, err := findRow[store.User](tx, queryByID, remoteUser.ID)
			if err != nil {
				return err
			}
			if existing != nil && existing.Username == remoteUser.Username {
				stats.Unchanged++
				return nil
			}
			if err := upsertRow(tx, store.EntityUser, &remoteUser); err != nil {
				return err
			}
			if existing == nil {
				stats.Inserted++
			} else {
				stats.Updated++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Puller) pullNotes(ctx context.Context, window pullWindow, stats *PullStats) error {
	var remoteNotes []store.Note
	if err := p.remote.WithContext(ctx).
		Where(fieldUpdatedAtMs+" > ?", window.sinceMs).
		Order(fieldUpdatedAtMs + " ASC").
		Find(&remoteNotes).Error; err != nil {
		return err
	}

	written := make([]store.Note, 0, len(remoteNotes))
	for _, remoteNote := range remoteNotes {
		localNote, err := findRow[store.Note](p.local.WithContext(ctx), queryByID, remoteNote.ID)
		if err != nil {
			return err
		}

		action := decideNote(localNote, remoteNote, window.watermarkMs)
		switch action {
		case noteInsert, noteApply:
			if err := upsertNoteWithoutParent(p.local.WithContext(ctx), remoteNote); err != nil {
				return err
			}
			written = append(written, remoteNote)
			if action == noteInsert {
				stats.Inserted++
			} else {
				stats.Updated++
			}
		case noteConflict:
			created, err := p.resolveConflict(ctx, *localNote, remoteNote)
			if err != nil {
				return err
			}
			if created {
				stats.Conflicts++
			} else {
				stats.Unchanged++
			}
		default:
			stats.Unchanged++
		}
		p.logger.Debug("note reconciled",
			zap.String("note_id", remoteNote.ID),
			zap.String("action", action.String()))
	}

	for _, note := range written {
		if note.ParentID != nil {
			parentExists, err := rowExists(p.local.WithContext(ctx), store.EntityNote, *note.ParentID)
			if err != nil {
				return err
			}
			if !parentExists {
				stats.Skipped++
				p.logger.Warn("note parent not present locally; parent link skipped",
					zap.String("note_id", note.ID),
					zap.String("parent_id", *note.ParentID))
				continue
			}
		}
		if err := setNoteParent(p.local.WithContext(ctx), note.ID, note.ParentID); err != nil {
			return err
		}
	}
	return nil
}

// resolveConflict keeps the local note and stores the remote version as a
// sibling. Both rows are logged so the next push carries them to the remote
// store. It reports false when an earlier pull already created the sibling.
func (p *Puller) resolveConflict(ctx context.Context, localNote store.Note, remoteNote store.Note) (bool, error) {
	username, err := p.usernameFor(ctx, remoteNote.OwnerID)
	if err != nil {
		return false, err
	}
	title := conflictTitle(remoteNote.Title, username, store.FromMillis(remoteNote.UpdatedAtMs))

	created := false
	err = p.local.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		siblings := tx.Model(&store.Note{}).Where("title = ?", title)
		if localNote.ParentID == nil {
			siblings = siblings.Where(fieldParentID + " IS NULL")
		} else {
			siblings = siblings.Where(fieldParentID+" = ?", *localNote.ParentID)
		}
		var existing int64
		if err := siblings.Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		siblingID, err := p.idProvider.NewID()
		if err != nil {
			return err
		}
		now := p.clock().UTC()
		sibling := conflictSibling(siblingID, localNote, remoteNote, title, now)
		if err := tx.Create(&sibling).Error; err != nil {
			return err
		}
		if err := tx.Model(&store.Note{}).
			Where(queryByID, localNote.ID).
			Update(fieldUpdatedAtMs, store.Millis(now)).Error; err != nil {
			return err
		}
		if err := AppendChange(tx, store.EntityNote, sibling.ID, store.OperationInsert, now); err != nil {
			return err
		}
		if err := AppendChange(tx, store.EntityNote, localNote.ID, store.OperationUpdate, now); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		p.logger.Info("note conflict preserved as sibling",
			zap.String("note_id", localNote.ID),
			zap.String("title", title))
	}
	return created, nil
}

func (p *Puller) usernameFor(ctx context.Context, userID string) (string, error) {
	user, err := findRow[store.User](p.local.WithContext(ctx), queryByID, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		user, err = findRow[store.User](p.remote.WithContext(ctx), queryByID, userID)
		if err != nil {
			return "", err
		}
	}
	if user == nil {
		return userID, nil
	}
	return user.Username, nil
}

// pullAttachments copies new remote attachments and remote tombstones.
// Attachment contents are immutable, so an attachment present on both sides
// only changes through its tombstone.
func (p *Puller) pullAttachments(ctx context.Context, window pullWindow, stats *PullStats) error {
	var remoteAttachments []store.Attachment
	if err := p.remote.WithContext(ctx).
		Where("created_at_ms > ? OR "+fieldDeletedAtMs+" > ?", window.sinceMs, window.sinceMs).
		Order("created_at_ms ASC").
		Find(&remoteAttachments).Error; err != nil {
		return err
	}

	source := attachmentEndpoint{db: p.remote, blobs: p.blobs}
	target := attachmentEndpoint{db: p.local, blobs: p.blobs}
	for _, remoteAttachment := range remoteAttachments {
		localAttachment, err := findRow[store.Attachment](p.local.WithContext(ctx), queryByID, remoteAttachment.ID)
		if err != nil {
			return err
		}
		if localAttachment != nil {
			if remoteAttachment.DeletedAtMs == nil || localAttachment.DeletedAtMs != nil {
				stats.Unchanged++
				continue
			}
		} else {
			if remoteAttachment.DeletedAtMs != nil {
				stats.Unchanged++
				continue
			}
			noteExists, err := rowExists(p.local.WithContext(ctx), store.EntityNote, remoteAttachment.NoteID)
			if err != nil {
				return err
			}
			if !noteExists {
				stats.Skipped++
				continue
			}
		}

		outcome, err := replicateAttachment(ctx, source, target, remoteAttachment.ID)
		if err != nil {
			return err
		}
		switch outcome {
		case attachmentCopied:
			stats.Inserted++
		case attachmentTombstoned:
			stats.Updated++
		default:
			stats.Skipped++
		}
	}
	return nil
}

func (p *Puller) pullScratchpads(ctx context.Context, window pullWindow, stats *PullStats) error {
	var rows []store.Scratchpad
	if err := p.selectUpdated(ctx, window, &rows); err != nil {
		return err
	}
	for index := range rows {
		row := &rows[index]
		err := p.applyRemoteWins(ctx, stats, store.EntityScratchpad, row,
			[]parentRef{{entityType: store.EntityUser, id: row.UserID}},
			localExists[store.Scratchpad](queryByUserID, row.UserID))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Puller) pullBoards(ctx context.Context, window pullWindow, stats *PullStats) error {
	var rows []store.KanbanBoard
	if err := p.selectUpdated(ctx, window, &rows); err != nil {
		return err
	}
	for index := range rows {
		row := &rows[index]
		err := p.applyRemoteWins(ctx, stats, store.EntityKanbanBoard, row,
			[]parentRef{{entityType: store.EntityUser, id: row.OwnerID}},
			localExists[store.KanbanBoard](queryByID, row.ID))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Puller) pullColumns(ctx context.Context, window pullWindow, stats *PullStats) error {
	var rows []store.KanbanColumn
	if err := p.selectUpdated(ctx, window, &rows); err != nil {
		return err
	}
	for index := range rows {
		row := &rows[index]
		err := p.applyRemoteWins(ctx, stats, store.EntityKanbanColumn, row,
			[]parentRef{{entityType: store.EntityKanbanBoard, id: row.BoardID}},
			localExists[store.KanbanColumn](queryByID, row.ID))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Puller) pullCards(ctx context.Context, window pullWindow, stats *PullStats) error {
	var rows []store.KanbanCard
	if err := p.selectUpdated(ctx, window, &rows); err != nil {
		return err
	}
	for index := range rows {
		row := &rows[index]
		parents := []parentRef{{entityType: store.EntityKanbanColumn, id: row.ColumnID}}
		if row.NoteID != nil {
			parents = append(parents, parentRef{entityType: store.EntityNote, id: *row.NoteID})
		}
		err := p.applyRemoteWins(ctx, stats, store.EntityKanbanCard, row, parents,
			localExists[store.KanbanCard](queryByID, row.ID))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Puller) selectUpdated(ctx context.Context, window pullWindow, rows any) error {
	return p.remote.WithContext(ctx).
		Where(fieldUpdatedAtMs+" > ?", window.sinceMs).
		Order(fieldUpdatedAtMs + " ASC").
		Find(rows).Error
}

type parentRef struct {
	entityType store.EntityType
	id         string
}

// localPresence reports whether the local store already holds the row a
// remote row maps to.
type localPresence func(tx *gorm.DB) (bool, error)

func localExists[T any](query string, key string) localPresence {
	return func(tx *gorm.DB) (bool, error) {
		existing, err := findRow[T](tx, query, key)
		if err != nil {
			return false, err
		}
		return existing != nil, nil
	}
}

// applyRemoteWins upserts every selected remote row over its local copy.
// Local and remote timestamps are never compared.
// Rows whose parents have not reached the local store yet are skipped; they
// are picked up again once the parent arrives and the row changes.
func (p *Puller) applyRemoteWins(
	ctx context.Context,
	stats *PullStats,
	entityType store.EntityType,
	row any,
	parents []parentRef,
	presence localPresence,
) error {
	return p.local.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, parent := range parents {
			exists, err := rowExists(tx, parent.entityType, parent.id)
			if err != nil {
				return err
			}
			if !exists {
				stats.Skipped++
				p.logger.Debug("remote row skipped until its parent is present",
					zap.String("entity_type", entityType.String()),
					zap.String("parent_type", parent.entityType.String()),
					zap.String("parent_id", parent.id))
				return nil
			}
		}

		found, err := presence(tx)
		if err != nil {
			return err
		}
		if err := upsertRow(tx, entityType, row); err != nil {
			return err
		}
		if found {
			stats.Updated++
		} else {
			stats.Inserted++
		}
		return nil
	})
}

// remoteDeleteOrder lists the tables checked for rows deleted remotely.
// Users and scratchpads are never deleted this way.
var remoteDeleteOrder = []store.EntityType{
	store.EntityKanbanBoard,
	store.EntityKanbanColumn,
	store.EntityKanbanCard,
	store.EntityNote,
}

type idVersion struct {
	ID          string `gorm:"column:id"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms"`
}

// detectRemoteDeletes removes local rows absent remotely when they are not
// awaiting push and have not changed since the watermark. Root notes are
// never removed. The pending set is re-read here because the notes phase
// logs the conflict siblings it creates.
func (p *Puller) detectRemoteDeletes(ctx context.Context, window pullWindow, stats *PullStats) error {
	pending, err := PendingPushIDs(ctx, p.local)
	if err != nil {
		return err
	}
	window.pending = pending

	for _, entityType := range remoteDeleteOrder {
		model := entityModels[entityType]

		remoteQuery := p.remote.WithContext(ctx).Model(model())
		localQuery := p.local.WithContext(ctx).Model(model())
		if entityType == store.EntityNote {
			remoteQuery = remoteQuery.Where(fieldIsRoot+" = ?", false)
			localQuery = localQuery.Where(fieldIsRoot+" = ?", false)
		}

		var remoteIDs []string
		if err := remoteQuery.Pluck(fieldID, &remoteIDs).Error; err != nil {
			return err
		}
		present := make(map[string]struct{}, len(remoteIDs))
		for _, id := range remoteIDs {
			present[id] = struct{}{}
		}

		var localRows []idVersion
		if err := localQuery.Select(fieldID, fieldUpdatedAtMs).Find(&localRows).Error; err != nil {
			return err
		}

		for _, localRow := range localRows {
			if _, ok := present[localRow.ID]; ok {
				continue
			}
			if window.isPending(localRow.ID) || localRow.UpdatedAtMs > window.watermarkMs {
				continue
			}
			err := p.local.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return deleteRow(tx, entityType, localRow.ID)
			})
			if err != nil {
				return err
			}
			stats.Deleted++
			p.logger.Debug("local row removed after remote delete",
				zap.String("entity_type", entityType.String()),
				zap.String("entity_id", localRow.ID))
		}
	}
	return nil
}
