package engine

import (
	"context"
	"time"

	"github.com/dataengine/core/internal/domain"
	"github.com/dataengine/core/internal/hashchain"
	"github.com/dataengine/core/internal/timeseries"
)

// ScoredEntity pairs a loaded row with its distance to a search query.
type ScoredEntity[T any] struct {
	Entity T
	Score  float32
}

// SearchEmbeddings embeds queryText, searches this table's vector-index
// namespace, and loads the matched rows, per §6's searchEmbeddings contract.
func (e *Engine[T]) SearchEmbeddings(ctx context.Context, queryText string, topK int) ([]ScoredEntity[T], error) {
	vecs, err := e.embedder.Embed(ctx, []string{queryText})
	if err != nil || len(vecs) == 0 {
		return nil, domain.NewDomainError("Engine.SearchEmbeddings", domain.ErrVectorSearch, "query embedding failed")
	}

	matches := e.index.Search(e.table, vecs[0], topK)
	if len(matches) == 0 {
		return nil, nil
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	results := make([]ScoredEntity[T], 0, len(matches))
	for _, m := range matches {
		row, found, err := tx.Find(ctx, e.table, m.EmbeddingID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		results = append(results, ScoredEntity[T]{Entity: e.unrowify(row), Score: m.Distance})
	}
	return results, nil
}

// GetInterpolated answers a range query over one entity's timeseries field,
// per §6's getInterpolated contract.
func (e *Engine[T]) GetInterpolated(ctx context.Context, entityID, propertyName string, from, to time.Time, step time.Duration, method domain.InterpolationMethod) ([]domain.TimeseriesPoint, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pairs, err := tx.TimeseriesRun(ctx, e.table, entityID, propertyName)
	if err != nil {
		return nil, err
	}
	return timeseries.GetInterpolated(pairs, from, to, step, method)
}

// VerifyIntegrity recomputes the hash chain for one (entityID, propertyName)
// triple. Every record but the last is checked against the value the change
// log recorded for that write, since the integrity log itself stores only
// hashes. The last record is checked against the property's current live
// value, which is how an out-of-band write that bypasses the pipeline (and
// so never touches the change log or integrity log) is still caught: its
// hash was computed over a value the live row no longer holds.
//
// This relies on every integrity field also being tracked (enforced by
// domain.FieldFlags' parseTag, not re-checked here) so changeRecords has a
// matching entry for every non-terminal integrityRecords entry.
func (e *Engine[T]) VerifyIntegrity(ctx context.Context, entityID, propertyName string) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	integrityRecords, err := tx.AllIntegrityRecords(ctx, e.table, entityID, propertyName)
	if err != nil {
		return err
	}
	if len(integrityRecords) == 0 {
		return nil
	}

	changeRecords, err := tx.ChangeLogForProperty(ctx, e.table, entityID, propertyName)
	if err != nil {
		return err
	}
	row, found, err := tx.Find(ctx, e.table, entityID)
	if err != nil {
		return err
	}

	verifyRecords := make([]hashchain.VerifyRecord, len(integrityRecords))
	for i, ir := range integrityRecords {
		var newValue string
		if i == len(integrityRecords)-1 {
			if found {
				newValue = row[propertyName]
			}
		} else if i < len(changeRecords) && changeRecords[i].NewValue != nil {
			newValue = *changeRecords[i].NewValue
		}
		verifyRecords[i] = hashchain.VerifyRecord{Record: ir, NewValue: newValue}
	}
	return hashchain.Verify(verifyRecords)
}

// VerifyAllIntegrity walks every (entityID, propertyName) triple this table
// has an integrity log for and reports the ones whose hash chain no longer
// verifies, satisfying the maintenance sweep's IntegrityChecker contract.
func (e *Engine[T]) VerifyAllIntegrity(ctx context.Context) []IntegrityFailure {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return []IntegrityFailure{{Table: e.table, Err: err}}
	}
	triples, err := tx.IntegrityTriples(ctx, e.table)
	tx.Rollback()
	if err != nil {
		return []IntegrityFailure{{Table: e.table, Err: err}}
	}

	var failures []IntegrityFailure
	for _, triple := range triples {
		if err := e.VerifyIntegrity(ctx, triple.EntityID, triple.PropertyName); err != nil {
			failures = append(failures, IntegrityFailure{
				Table:        e.table,
				EntityID:     triple.EntityID,
				PropertyName: triple.PropertyName,
				Err:          err,
			})
		}
	}
	return failures
}
