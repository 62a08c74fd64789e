// Package engine implements the write pipeline (C8): the single entry point
// that drives change capture, the integrity hash chain, the timeseries
// recorder, the vector index, and the event bus for every mutation of a
// registered entity type.
//
// Grounded on the teacher's usecase/agent orchestration loop shape (a single
// exported type driving several collaborating subsystems per call,
// constructed once with its dependencies injected) generalized from a chat
// turn to the ten-step write pipeline in §4.8.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dataengine/core/internal/changelog"
	"github.com/dataengine/core/internal/domain"
	"github.com/dataengine/core/internal/hashchain"
	"github.com/dataengine/core/internal/render"
	"github.com/dataengine/core/internal/store"
	"github.com/dataengine/core/internal/timeseries"
	"github.com/dataengine/core/internal/vectorindex"
)

// Engine is the registered write pipeline for one table of entity type T.
// The embedding provider and vector index are process-wide singletons
// shared across tables per §5's resource-scoping rule; the store is the
// relational collaborator, scoped per operation.
type Engine[T any] struct {
	table     string
	desc      *domain.Descriptor
	store     store.Store
	embedder  domain.EmbeddingProvider
	index     *vectorindex.Index
	bus       domain.EventBus
	changedBy string
	logger    *slog.Logger

	idFor func() string
	now   func() time.Time // for testing
}

// Option configures an Engine at construction time.
type Option[T any] func(*Engine[T])

// WithChangedBy sets the changedBy actor recorded on every change-log entry.
// Defaults to "system".
func WithChangedBy[T any](who string) Option[T] {
	return func(e *Engine[T]) { e.changedBy = who }
}

// WithLogger overrides the default slog logger used for post-commit warnings.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(e *Engine[T]) { e.logger = logger }
}

// New registers table as backed by st, embedder, and idx, publishing to bus.
// T's field descriptor is resolved once via domain.BuildDescriptor.
func New[T any](table string, st store.Store, embedder domain.EmbeddingProvider, idx *vectorindex.Index, bus domain.EventBus, opts ...Option[T]) *Engine[T] {
	e := &Engine[T]{
		table:     table,
		desc:      domain.BuildDescriptor[T](),
		store:     st,
		embedder:  embedder,
		index:     idx,
		bus:       bus,
		changedBy: "system",
		logger:    slog.Default(),
		idFor:     func() string { return ulid.Make().String() },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Insert writes each entity as a new row, per §4.8 steps 1-10.
func (e *Engine[T]) Insert(ctx context.Context, entities []T) error {
	for _, entity := range entities {
		if err := e.write(ctx, domain.OpInsert, entity, ""); err != nil {
			return err
		}
	}
	return nil
}

// Update mutates an existing row identified by entity's key field.
func (e *Engine[T]) Update(ctx context.Context, entity T) error {
	return e.write(ctx, domain.OpUpdate, entity, "")
}

// Upsert inserts entity if its key is absent, otherwise updates it.
func (e *Engine[T]) Upsert(ctx context.Context, entity T) error {
	id := e.keyOf(reflect.ValueOf(entity))
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	_, found, err := tx.Find(ctx, e.table, id)
	tx.Rollback()
	if err != nil {
		return err
	}
	if found {
		return e.write(ctx, domain.OpUpdate, entity, "")
	}
	return e.write(ctx, domain.OpInsert, entity, "")
}

// Delete removes the row identified by id.
func (e *Engine[T]) Delete(ctx context.Context, id string) error {
	var zero T
	return e.write(ctx, domain.OpDelete, zero, id)
}

// write drives the ten-step pipeline for one entity mutation. id is used
// directly for Delete (where entity is the zero value); for Insert/Update it
// is derived from entity's key field.
func (e *Engine[T]) write(ctx context.Context, op domain.Op, entity T, id string) error {
	entityVal := reflect.ValueOf(entity)
	if op != domain.OpDelete {
		id = e.keyOf(entityVal)
	}
	if id == "" {
		return domain.NewDomainError("Engine.write", domain.ErrValidation, "missing key value")
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}

	priorRow, found, err := tx.Find(ctx, e.table, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	if (op == domain.OpUpdate || op == domain.OpDelete) && !found {
		tx.Rollback()
		return domain.NewSubSystemError("entity", "Engine.write", domain.ErrNotFound, fmt.Sprintf("table=%s id=%s", e.table, id))
	}

	var priorVal reflect.Value
	if found {
		prior := e.unrowify(priorRow)
		priorVal = reflect.ValueOf(prior)
	}

	at := e.now()

	switch op {
	case domain.OpInsert:
		if err := tx.Insert(ctx, e.table, id, e.rowify(entityVal)); err != nil {
			tx.Rollback()
			return err
		}
	case domain.OpUpdate:
		if err := tx.Update(ctx, e.table, id, e.rowify(entityVal)); err != nil {
			tx.Rollback()
			return err
		}
	case domain.OpDelete:
		if err := tx.Delete(ctx, e.table, id); err != nil {
			tx.Rollback()
			return err
		}
	}

	var newVal reflect.Value
	if op != domain.OpDelete {
		newVal = entityVal
	}

	records := changelog.Capture(e.desc, e.table, id, e.changedBy, priorVal, newVal, op, at, e.idFor)
	for _, r := range records {
		if err := tx.AppendChangeLog(ctx, r); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := e.appendIntegrity(ctx, tx, id, priorVal, newVal, op, at); err != nil {
		tx.Rollback()
		return err
	}

	if op != domain.OpDelete {
		if err := e.appendTimeseries(ctx, tx, id, priorVal, newVal, at); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		tx.Rollback()
		return domain.NewDomainError("Engine.write", domain.ErrCancelled, err.Error())
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	e.postCommit(ctx, op, id, newVal)
	e.publish(ctx, op, id, records, at)
	return nil
}

// appendIntegrity appends a chained IntegrityLogRecord for each integrity
// field that changed (Update), or for every integrity field (Insert/Delete).
func (e *Engine[T]) appendIntegrity(ctx context.Context, tx store.Tx, id string, priorVal, newVal reflect.Value, op domain.Op, at time.Time) error {
	for _, fd := range e.desc.IntegrityFields() {
		var newValue string
		switch op {
		case domain.OpInsert:
			newValue = domain.Stringify(domain.FieldValue(newVal, fd))
		case domain.OpUpdate:
			oldStr := domain.Stringify(domain.FieldValue(priorVal, fd))
			newStr := domain.Stringify(domain.FieldValue(newVal, fd))
			if oldStr == newStr {
				continue
			}
			newValue = newStr
		case domain.OpDelete:
			newValue = ""
		}

		prevHash, err := tx.LatestIntegrityHash(ctx, e.table, id, fd.Name)
		if err != nil {
			return err
		}
		record := hashchain.Append(e.idFor(), e.table, id, fd.Name, newValue, prevHash, at)
		if err := tx.AppendIntegrityLog(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// appendTimeseries records a new sample for each timeseries field whose
// value differs from the prior row (always true on Insert, since there is
// no prior).
func (e *Engine[T]) appendTimeseries(ctx context.Context, tx store.Tx, id string, priorVal, newVal reflect.Value, at time.Time) error {
	for _, fd := range e.desc.TimeseriesFields() {
		newStr := domain.Stringify(domain.FieldValue(newVal, fd))
		if priorVal.IsValid() {
			oldStr := domain.Stringify(domain.FieldValue(priorVal, fd))
			if oldStr == newStr {
				continue
			}
		}

		latest, err := tx.LatestTimeseries(ctx, e.table, id, fd.Name)
		if err != nil {
			return err
		}
		res, err := timeseries.Append(e.table, id, fd.Name, newStr, at, latest, e.idFor)
		if err != nil {
			return err
		}
		if err := tx.UpsertTimeseriesBase(ctx, res.Base); err != nil {
			return err
		}
		if err := tx.UpsertTimeseriesDelta(ctx, res.Delta); err != nil {
			return err
		}
	}
	return nil
}

// postCommit re-renders, embeds, and upserts the vector index entry for a
// non-delete write, or tears both down for a delete. Failures here are
// logged as warnings per §7: the write is already committed.
func (e *Engine[T]) postCommit(ctx context.Context, op domain.Op, id string, newVal reflect.Value) {
	if op == domain.OpDelete {
		e.deleteEmbedding(ctx, id)
		return
	}

	rendering := render.Render(e.desc, newVal)
	if rendering == "" {
		return
	}

	vecs, err := e.embedder.Embed(ctx, []string{rendering})
	if err != nil || len(vecs) == 0 {
		e.logger.Warn("post-commit embedding failed", "table", e.table, "entityId", id, "error", err)
		e.publishEmbeddingStale(ctx, id)
		return
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		e.logger.Warn("post-commit embedding upsert failed to open tx", "table", e.table, "entityId", id, "error", err)
		e.publishEmbeddingStale(ctx, id)
		return
	}
	record := domain.EmbeddingRecord{ID: e.idFor(), TableName: e.table, EntityID: id, Vector: vecs[0]}
	if err := tx.UpsertEmbedding(ctx, record); err != nil {
		tx.Rollback()
		e.logger.Warn("post-commit embedding upsert failed", "table", e.table, "entityId", id, "error", err)
		e.publishEmbeddingStale(ctx, id)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger.Warn("post-commit embedding commit failed", "table", e.table, "entityId", id, "error", err)
		e.publishEmbeddingStale(ctx, id)
		return
	}

	if err := e.index.Update(e.table, id, vecs[0]); err != nil {
		e.logger.Warn("post-commit vector index update failed", "table", e.table, "entityId", id, "error", err)
		e.publishEmbeddingStale(ctx, id)
		return
	}

	e.bus.Publish(ctx, domain.Event{
		Type:      domain.EventEmbeddingIndexed,
		Timestamp: e.now(),
		Table:     e.table,
		EntityID:  id,
	})
}

// publishEmbeddingStale notifies subscribers that this entity's vector index
// entry did not get refreshed by the write that just committed, so a reader
// relying on fresh similarity search knows to treat it as stale until the
// next successful write or a maintenance Rebuild repairs it.
func (e *Engine[T]) publishEmbeddingStale(ctx context.Context, id string) {
	e.bus.Publish(ctx, domain.Event{
		Type:      domain.EventEmbeddingStale,
		Timestamp: e.now(),
		Table:     e.table,
		EntityID:  id,
	})
}

func (e *Engine[T]) deleteEmbedding(ctx context.Context, id string) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		e.logger.Warn("post-commit embedding delete failed to open tx", "table", e.table, "entityId", id, "error", err)
		return
	}
	if err := tx.DeleteEmbedding(ctx, e.table, id); err != nil {
		tx.Rollback()
		e.logger.Warn("post-commit embedding delete failed", "table", e.table, "entityId", id, "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger.Warn("post-commit embedding delete commit failed", "table", e.table, "entityId", id, "error", err)
	}
	e.index.Remove(e.table, id)
}

// publish builds and publishes the post-commit EntityChangeEvent, covering
// every field the change log recorded for this write.
func (e *Engine[T]) publish(ctx context.Context, op domain.Op, id string, records []domain.ChangeLogRecord, at time.Time) {
	changed := make(map[string]domain.PropertyChange, len(records))
	for _, r := range records {
		var pc domain.PropertyChange
		if r.OldValue != nil {
			pc.Old = *r.OldValue
		}
		if r.NewValue != nil {
			pc.New = *r.NewValue
		}
		changed[r.PropertyName] = pc
	}

	eventType := domain.EventEntityInserted
	switch op {
	case domain.OpUpdate:
		eventType = domain.EventEntityUpdated
	case domain.OpDelete:
		eventType = domain.EventEntityDeleted
	}

	payload := &domain.EntityChangeEvent{
		ID:                e.idFor(),
		TableName:         e.table,
		EntityID:          id,
		Op:                op,
		ChangedProperties: changed,
		Timestamp:         at,
	}
	e.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: at,
		Table:     e.table,
		EntityID:  id,
		Payload:   payload,
	})
}

// Subscribe attaches handler to this engine's event bus, scoped to events
// for this engine's table only.
func (e *Engine[T]) Subscribe(handler domain.EventHandler) func() {
	return e.bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		if ev.Table == e.table {
			handler(ctx, ev)
		}
	})
}

// Rebuild populates the vector index from every persisted EmbeddingRecord
// for this table, per §4.8's "Rebuild at startup."
func (e *Engine[T]) Rebuild(ctx context.Context) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	records, err := tx.AllEmbeddings(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.TableName != e.table {
			continue
		}
		if err := e.index.Add(e.table, r.EntityID, r.Vector); err != nil {
			e.logger.Warn("rebuild skipped malformed embedding", "table", e.table, "entityId", r.EntityID, "error", err)
		}
	}
	return nil
}

func (e *Engine[T]) keyOf(v reflect.Value) string {
	return domain.Stringify(domain.FieldValue(v, e.desc.Key))
}

func (e *Engine[T]) rowify(v reflect.Value) store.Row {
	row := make(store.Row, len(e.desc.Fields))
	for _, fd := range e.desc.Fields {
		row[fd.Name] = domain.Stringify(domain.FieldValue(v, fd))
	}
	return row
}

func (e *Engine[T]) unrowify(row store.Row) T {
	var entity T
	v := reflect.ValueOf(&entity).Elem()
	for _, fd := range e.desc.Fields {
		s, ok := row[fd.Name]
		if !ok {
			continue
		}
		setField(v.Field(fd.Index), s)
	}
	return entity
}

func setField(f reflect.Value, s string) {
	if f.Type() == reflect.TypeOf(time.Time{}) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Set(reflect.ValueOf(t))
		}
		return
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Bool:
		if b, err := strconv.ParseBool(s); err == nil {
			f.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			f.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			f.SetFloat(n)
		}
	}
}
