package store

import (
	"errors"
	"fmt"
	"strings"
)

// EntityType enumerates the replicated tables. Values match the table names
// recorded in the change log.
type EntityType string

const (
	EntityUser         EntityType = "users"
	EntityNote         EntityType = "notes"
	EntityAttachment   EntityType = "attachments"
	EntityScratchpad   EntityType = "scratchpads"
	EntityKanbanBoard  EntityType = "kanban_boards"
	EntityKanbanColumn EntityType = "kanban_columns"
	EntityKanbanCard   EntityType = "kanban_cards"
)

// Operation enumerates change log operations.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

var (
	// ErrUnknownEntityType indicates a change log entry names a table outside the replicated set.
	ErrUnknownEntityType = errors.New("store: unknown entity type")
	// ErrUnknownOperation indicates a change log entry carries an unsupported operation.
	ErrUnknownOperation = errors.New("store: unknown operation")
)

// upsertOrder lists entity types parents-first so foreign keys resolve on insert.
var upsertOrder = []EntityType{
	EntityUser,
	EntityNote,
	EntityAttachment,
	EntityScratchpad,
	EntityKanbanBoard,
	EntityKanbanColumn,
	EntityKanbanCard,
}

// UpsertOrder returns the dependency order used for inserts and updates.
func UpsertOrder() []EntityType {
	return append([]EntityType(nil), upsertOrder...)
}

// DeleteOrder returns the reverse dependency order used for deletes.
func DeleteOrder() []EntityType {
	order := make([]EntityType, 0, len(upsertOrder))
	for index := len(upsertOrder) - 1; index >= 0; index-- {
		order = append(order, upsertOrder[index])
	}
	return order
}

// ParseEntityType validates a raw change log entity type.
func ParseEntityType(raw string) (EntityType, error) {
	candidate := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range upsertOrder {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, raw)
}

// String returns the table name for the entity type.
func (t EntityType) String() string {
	return string(t)
}

// ParseOperation validates a raw change log operation.
func ParseOperation(raw string) (Operation, error) {
	switch Operation(strings.ToUpper(strings.TrimSpace(raw))) {
	case OperationInsert:
		return OperationInsert, nil
	case OperationUpdate:
		return OperationUpdate, nil
	case OperationDelete:
		return OperationDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
	}
}

// IsUpsert reports whether the operation writes row contents.
func (o Operation) IsUpsert() bool {
	return o == OperationInsert || o == OperationUpdate
}
