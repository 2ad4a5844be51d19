package store

// User is the account that owns notes, boards and scratchpads.
type User struct {
	ID          string `gorm:"column:id;primaryKey;size:36;not null"`
	Username    string `gorm:"column:username;size:190;not null;uniqueIndex"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return string(EntityUser)
}

// Note is a node in the per-user notes tree.
type Note struct {
	ID          string  `gorm:"column:id;primaryKey;size:36;not null"`
	ParentID    *string `gorm:"column:parent_id;size:36;index"`
	IsRoot      bool    `gorm:"column:is_root;not null"`
	Title       string  `gorm:"column:title;size:512;not null"`
	Content     string  `gorm:"column:content;type:text;not null"`
	ContentHash string  `gorm:"column:content_hash;size:64;not null"`
	OwnerID     string  `gorm:"column:owner_id;size:36;not null;index"`
	CreatedBy   string  `gorm:"column:created_by;size:36;not null"`
	IsPrivate   bool    `gorm:"column:is_private;not null"`
	SortOrder   int     `gorm:"column:sort_order;not null"`
	CreatedAtMs int64   `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs int64   `gorm:"column:updated_at_ms;not null;index"`
	DeletedAtMs *int64  `gorm:"column:deleted_at_ms"`

	Parent *Note `gorm:"foreignKey:ParentID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
	Owner  *User `gorm:"foreignKey:OwnerID;references:ID" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return string(EntityNote)
}

// Attachment is the metadata row for a binary object stored in attachment_blobs.
type Attachment struct {
	ID          string     `gorm:"column:id;primaryKey;size:36;not null"`
	NoteID      string     `gorm:"column:note_id;size:36;not null;index"`
	BlobHandle  BlobHandle `gorm:"column:blob_handle;not null"`
	Filename    string     `gorm:"column:filename;size:512;not null"`
	MimeType    string     `gorm:"column:mime_type;size:190;not null"`
	Size        int64      `gorm:"column:size;not null"`
	CreatedAtMs int64      `gorm:"column:created_at_ms;not null;index"`
	DeletedAtMs *int64     `gorm:"column:deleted_at_ms"`

	Note *Note `gorm:"foreignKey:NoteID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Attachment) TableName() string {
	return string(EntityAttachment)
}

// Scratchpad is the single free-form text buffer each user owns.
type Scratchpad struct {
	ID          string `gorm:"column:id;primaryKey;size:36;not null"`
	UserID      string `gorm:"column:user_id;size:36;not null;uniqueIndex"`
	Content     string `gorm:"column:content;type:text;not null"`
	ContentHash string `gorm:"column:content_hash;size:64;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null;index"`

	User *User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Scratchpad) TableName() string {
	return string(EntityScratchpad)
}

// KanbanBoard groups ordered columns of cards.
type KanbanBoard struct {
	ID          string `gorm:"column:id;primaryKey;size:36;not null"`
	Title       string `gorm:"column:title;size:512;not null"`
	OwnerID     string `gorm:"column:owner_id;size:36;not null;index"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null;index"`
	DeletedAtMs *int64 `gorm:"column:deleted_at_ms"`

	Owner *User `gorm:"foreignKey:OwnerID;references:ID" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (KanbanBoard) TableName() string {
	return string(EntityKanbanBoard)
}

// KanbanColumn is an ordered lane on a board.
type KanbanColumn struct {
	ID          string `gorm:"column:id;primaryKey;size:36;not null"`
	BoardID     string `gorm:"column:board_id;size:36;not null;index"`
	Title       string `gorm:"column:title;size:512;not null"`
	SortOrder   int    `gorm:"column:sort_order;not null"`
	UpdatedAtMs int64  `gorm:"column:updated_at_ms;not null;index"`
	DeletedAtMs *int64 `gorm:"column:deleted_at_ms"`

	Board *KanbanBoard `gorm:"foreignKey:BoardID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (KanbanColumn) TableName() string {
	return string(EntityKanbanColumn)
}

// KanbanCard is an ordered card within a column, optionally linked to a note.
type KanbanCard struct {
	ID          string  `gorm:"column:id;primaryKey;size:36;not null"`
	ColumnID    string  `gorm:"column:column_id;size:36;not null;index"`
	NoteID      *string `gorm:"column:note_id;size:36;index"`
	Title       string  `gorm:"column:title;size:512;not null"`
	SortOrder   int     `gorm:"column:sort_order;not null"`
	CreatedAtMs int64   `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs int64   `gorm:"column:updated_at_ms;not null;index"`
	DeletedAtMs *int64  `gorm:"column:deleted_at_ms"`

	Column *KanbanColumn `gorm:"foreignKey:ColumnID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Note   *Note         `gorm:"foreignKey:NoteID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (KanbanCard) TableName() string {
	return string(EntityKanbanCard)
}

// ChangeLogEntry records one local mutation awaiting push.
type ChangeLogEntry struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EntityType  EntityType `gorm:"column:entity_type;size:32;not null"`
	EntityID    string     `gorm:"column:entity_id;size:36;not null;index"`
	Operation   Operation  `gorm:"column:operation;size:8;not null"`
	CreatedAtMs int64      `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeLogEntry) TableName() string {
	return "sync_log"
}

// SyncStateRowID is the primary key of the singleton sync_state row.
const SyncStateRowID = 1

// SyncState holds the watermark singleton.
type SyncState struct {
	ID             int   `gorm:"column:id;primaryKey;autoIncrement:false"`
	LastSyncedAtMs int64 `gorm:"column:last_synced_at_ms;not null"`
	Version        int64 `gorm:"column:version;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SyncState) TableName() string {
	return "sync_state"
}

// Models lists every table in creation order.
func Models() []any {
	return []any{
		&User{},
		&Note{},
		&AttachmentBlob{},
		&Attachment{},
		&Scratchpad{},
		&KanbanBoard{},
		&KanbanColumn{},
		&KanbanCard{},
		&ChangeLogEntry{},
		&SyncState{},
	}
}
