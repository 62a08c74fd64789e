// Package hashchain implements the tamper-evident hash chain (C5): each
// change to an integrity-protected field appends a SHA-256 hash over its
// canonical byte string, chained to the previous hash for the same
// (table, entity, property) triple.
//
// Grounded on the teacher's security/audit.go JSONL tamper-evidence logger
// (each entry's trustworthiness depends on append order) and, for the
// chaining idea itself, the pack's transparency-log reference
// (other_examples/f1895ccc_transparency-dev-trillian-tessera__storage-aws-
// aws.go.go) — both are "each record's integrity depends on what came
// before it" designs. Unlike that reference's Merkle tile store, this chain
// is linear per (table, entity, property), not a tree, per §4.5.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/dataengine/core/internal/domain"
)

const fieldSeparator = "\x1f"

// Hash computes the lowercase hex SHA-256 hash for one integrity log entry:
// tableName \x1F entityId \x1F propertyName \x1F newValue \x1F previousHash.
func Hash(tableName, entityID, propertyName, newValue, previousHash string) string {
	sum := sha256.Sum256([]byte(
		tableName + fieldSeparator +
			entityID + fieldSeparator +
			propertyName + fieldSeparator +
			newValue + fieldSeparator +
			previousHash,
	))
	return hex.EncodeToString(sum[:])
}

// Append builds the next IntegrityLogRecord for a (table, entity, property)
// triple given the previous record's hash (empty string if this is the
// first record in the chain).
func Append(id, tableName, entityID, propertyName, newValue, previousHash string, at time.Time) domain.IntegrityLogRecord {
	return domain.IntegrityLogRecord{
		ID:           id,
		TableName:    tableName,
		EntityID:     entityID,
		PropertyName: propertyName,
		Hash:         Hash(tableName, entityID, propertyName, newValue, previousHash),
		PreviousHash: previousHash,
		Timestamp:    at,
	}
}

// Verify recomputes the chain over records (which must all share the same
// (tableName, entityId, propertyName) triple and the newValue each hash was
// computed over) and fails with domain.ErrIntegrity on the first mismatch.
// Records are sorted ascending by timestamp, ties broken by slice order
// (insertion order), before verification, per §4.5.
func Verify(records []VerifyRecord) error {
	sorted := make([]VerifyRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Record.Timestamp.Before(sorted[j].Record.Timestamp)
	})

	previousHash := ""
	for _, vr := range sorted {
		expected := Hash(vr.Record.TableName, vr.Record.EntityID, vr.Record.PropertyName, vr.NewValue, previousHash)
		if expected != vr.Record.Hash {
			return domain.NewSubSystemError("hashchain", "hashchain.Verify", domain.ErrIntegrity,
				fmt.Sprintf("entityId=%s propertyName=%s expected=%s actual=%s", vr.Record.EntityID, vr.Record.PropertyName, expected, vr.Record.Hash))
		}
		previousHash = vr.Record.Hash
	}
	return nil
}

// VerifyRecord pairs an IntegrityLogRecord with the newValue its hash was
// computed over, since the live row (or change log) is the source of that
// value — the integrity log itself stores only the hash, not the value.
type VerifyRecord struct {
	Record   domain.IntegrityLogRecord
	NewValue string
}
