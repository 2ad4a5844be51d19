package replication

import (
	"context"
	"sort"
	"time"

	"github.com/scottteague/indentr/internal/store"
	"gorm.io/gorm"
)

const changeLogDeleteBatchSize = 500

// ChangeGroup is one remote operation derived from the change log, together
// with every log id it retires.
type ChangeGroup struct {
	EntityType  store.EntityType
	EntityID    string
	Operation   store.Operation
	LatestLogID int64
	LogIDs      []int64
}

// PushPlan is the deduplicated view of the change log.
type PushPlan struct {
	Upserts map[store.EntityType][]ChangeGroup
	Deletes map[store.EntityType][]ChangeGroup
	Invalid []int64
}

// Empty reports whether the plan has no remote work.
func (p PushPlan) Empty() bool {
	return len(p.Upserts) == 0 && len(p.Deletes) == 0
}

type entityKey struct {
	entityType store.EntityType
	entityID   string
}

// PlanPush collapses Insert/Update entries per entity to the most recent one,
// keeping every log id for cleanup. Delete entries are kept one-for-one.
// Entries with an unknown type or operation are returned in Invalid.
func PlanPush(entries []store.ChangeLogEntry) PushPlan {
	plan := PushPlan{
		Upserts: make(map[store.EntityType][]ChangeGroup),
		Deletes: make(map[store.EntityType][]ChangeGroup),
	}
	upserts := make(map[entityKey]*ChangeGroup)
	upsertKeys := make([]entityKey, 0)

	for _, entry := range entries {
		entityType, typeErr := store.ParseEntityType(string(entry.EntityType))
		operation, opErr := store.ParseOperation(string(entry.Operation))
		if typeErr != nil || opErr != nil || entry.EntityID == "" {
			plan.Invalid = append(plan.Invalid, entry.ID)
			continue
		}

		if operation == store.OperationDelete {
			plan.Deletes[entityType] = append(plan.Deletes[entityType], ChangeGroup{
				EntityType:  entityType,
				EntityID:    entry.EntityID,
				Operation:   operation,
				LatestLogID: entry.ID,
				LogIDs:      []int64{entry.ID},
			})
			continue
		}

		key := entityKey{entityType: entityType, entityID: entry.EntityID}
		group, ok := upserts[key]
		if !ok {
			group = &ChangeGroup{EntityType: entityType, EntityID: entry.EntityID}
			upserts[key] = group
			upsertKeys = append(upsertKeys, key)
		}
		group.LogIDs = append(group.LogIDs, entry.ID)
		if entry.ID >= group.LatestLogID {
			group.LatestLogID = entry.ID
			group.Operation = operation
		}
	}

	for _, key := range upsertKeys {
		group := upserts[key]
		plan.Upserts[key.entityType] = append(plan.Upserts[key.entityType], *group)
	}
	for entityType := range plan.Upserts {
		groups := plan.Upserts[entityType]
		sort.SliceStable(groups, func(left, right int) bool {
			return groups[left].LatestLogID < groups[right].LatestLogID
		})
	}
	return plan
}

// ReadChangeLog returns every pending entry ordered by id.
func ReadChangeLog(ctx context.Context, db *gorm.DB) ([]store.ChangeLogEntry, error) {
	var entries []store.ChangeLogEntry
	if err := db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendChange records a local mutation for the next push. It runs on the
// caller's transaction so the log entry commits with the row it describes.
func AppendChange(tx *gorm.DB, entityType store.EntityType, entityID string, operation store.Operation, now time.Time) error {
	entry := store.ChangeLogEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   operation,
		CreatedAtMs: store.Millis(now),
	}
	return tx.Create(&entry).Error
}

// DeleteChangeLogEntries removes processed log ids.
func DeleteChangeLogEntries(ctx context.Context, db *gorm.DB, ids []int64) error {
	for start := 0; start < len(ids); start += changeLogDeleteBatchSize {
		end := start + changeLogDeleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := db.WithContext(ctx).
			Where("id IN ?", ids[start:end]).
			Delete(&store.ChangeLogEntry{}).Error; err != nil {
			return err
		}
	}
	return nil
}

// PendingPushIDs returns the entity ids that still have change log entries.
func PendingPushIDs(ctx context.Context, db *gorm.DB) (map[string]struct{}, error) {
	var ids []string
	if err := db.WithContext(ctx).
		Model(&store.ChangeLogEntry{}).
		Distinct("entity_id").
		Pluck("entity_id", &ids).Error; err != nil {
		return nil, err
	}
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}
	return pending, nil
}
