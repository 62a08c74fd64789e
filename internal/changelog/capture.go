// Package changelog implements change capture (C6): given an entity
// transition {old, new, op}, derives the set of per-field change records
// recorded in sysChangeLog.
//
// Grounded on the teacher's domain.AuditEvent / security/audit.go
// actor-resource-action logging shape, retargeted at per-field before/after
// stringified values instead of free-form actions.
package changelog

import (
	"reflect"
	"time"

	"github.com/dataengine/core/internal/domain"
)

// Capture derives the ChangeLogRecords for one write. old is the zero Value
// for Insert; new is the zero Value for Delete. idFor supplies a fresh
// record id per call (typically a ULID generator).
//
// Ordering: primary key first, then declared field order, per §3's
// "Change-log append order within a single write is deterministic" and
// §4.6's "primary key first, then declaration order."
func Capture(desc *domain.Descriptor, tableName, entityID, changedBy string, old, new reflect.Value, op domain.Op, at time.Time, idFor func() string) []domain.ChangeLogRecord {
	var records []domain.ChangeLogRecord

	orderedTracked := orderedWithKeyFirst(desc)

	for _, fd := range orderedTracked {
		var oldStr, newStr *string

		switch op {
		case domain.OpInsert:
			s := domain.Stringify(domain.FieldValue(new, fd))
			if s == "" {
				continue // "one record per non-null tracked field"
			}
			newStr = &s
		case domain.OpUpdate:
			oldVal := domain.Stringify(domain.FieldValue(old, fd))
			newVal := domain.Stringify(domain.FieldValue(new, fd))
			if oldVal == newVal {
				continue
			}
			oldStr, newStr = &oldVal, &newVal
		case domain.OpDelete:
			s := domain.Stringify(domain.FieldValue(old, fd))
			oldStr = &s
		}

		records = append(records, domain.ChangeLogRecord{
			ID:           idFor(),
			TableName:    tableName,
			EntityID:     entityID,
			PropertyName: fd.Name,
			ChangedBy:    changedBy,
			ChangedAt:    at,
			OldValue:     oldStr,
			NewValue:     newStr,
			Op:           op,
		})
	}

	return records
}

// orderedWithKeyFirst returns the tracked fields with the key field (if it
// is itself tracked) moved to the front, then the remaining tracked fields
// in declaration order.
func orderedWithKeyFirst(desc *domain.Descriptor) []domain.FieldDescriptor {
	tracked := desc.TrackedFields()
	keyIdx := -1
	for i, fd := range tracked {
		if fd.Name == desc.Key.Name {
			keyIdx = i
			break
		}
	}
	if keyIdx <= 0 {
		return tracked
	}
	ordered := make([]domain.FieldDescriptor, 0, len(tracked))
	ordered = append(ordered, tracked[keyIdx])
	ordered = append(ordered, tracked[:keyIdx]...)
	ordered = append(ordered, tracked[keyIdx+1:]...)
	return ordered
}
