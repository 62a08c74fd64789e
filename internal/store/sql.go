package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dataengine/core/internal/domain"
	"github.com/dataengine/core/internal/timeseries"
)

// Row is a property-name -> stringified-value map for one user entity,
// serving as the "transactional key-value-of-rows store" this engine treats
// the relational provider as.
type Row map[string]string

// Store is the relational collaborator surface this engine depends on:
// transaction scoping, schema creation, and raw SQL execution returning
// untyped rows. Everything beyond this — SQL dialect, connection pooling,
// query planning — is the external collaborator's responsibility.
type Store interface {
	EnsureSchema(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	ExecuteSQL(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Tx is a single write-pipeline transaction: user-row access plus the five
// bookkeeping stores, committed or rolled back as one unit per §4.8 steps
// 1-8.
type Tx interface {
	Find(ctx context.Context, table, id string) (Row, bool, error)
	Insert(ctx context.Context, table, id string, row Row) error
	Update(ctx context.Context, table, id string, row Row) error
	Delete(ctx context.Context, table, id string) error

	AppendChangeLog(ctx context.Context, r domain.ChangeLogRecord) error
	ChangeLogForProperty(ctx context.Context, table, entityID, property string) ([]domain.ChangeLogRecord, error)
	LatestIntegrityHash(ctx context.Context, table, entityID, property string) (string, error)
	AppendIntegrityLog(ctx context.Context, r domain.IntegrityLogRecord) error
	AllIntegrityRecords(ctx context.Context, table, entityID, property string) ([]domain.IntegrityLogRecord, error)
	IntegrityTriples(ctx context.Context, table string) ([]IntegrityTriple, error)

	LatestTimeseries(ctx context.Context, table, entityID, property string) (*timeseries.BaseDelta, error)
	UpsertTimeseriesBase(ctx context.Context, b domain.TimeseriesBase) error
	UpsertTimeseriesDelta(ctx context.Context, d domain.TimeseriesDelta) error
	TimeseriesRun(ctx context.Context, table, entityID, property string) ([]timeseries.BaseDelta, error)

	UpsertEmbedding(ctx context.Context, r domain.EmbeddingRecord) error
	DeleteEmbedding(ctx context.Context, table, entityID string) error
	AllEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error)

	Commit() error
	Rollback() error
}

// SQLStore is a modernc.org/sqlite-backed Store, matching the teacher's
// choice of a pure-Go driver in adapter/memory/vector/store.go and
// adapter/tenant/sqlite.go, with SetMaxOpenConns(1) for the single-writer
// discipline SQLite requires.
type SQLStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dsn and applies the
// engine's pragmas. Call EnsureSchema before first use.
func Open(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "store.Open", domain.ErrStorage, err.Error())
	}
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, domain.NewSubSystemError("store", "store.Open", domain.ErrStorage, err.Error())
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if err := migrate(s.db); err != nil {
		return domain.NewSubSystemError("store", "SQLStore.EnsureSchema", domain.ErrStorage, err.Error())
	}
	return nil
}

func (s *SQLStore) ExecuteSQL(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "SQLStore.ExecuteSQL", domain.ErrStorage, err.Error())
	}
	return rows, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "SQLStore.BeginTx", domain.ErrStorage, err.Error())
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func wrapStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewSubSystemError("store", op, domain.ErrStorage, err.Error())
}

func (t *sqlTx) Find(ctx context.Context, table, id string) (Row, bool, error) {
	var data string
	err := t.tx.QueryRowContext(ctx, `SELECT data FROM entities WHERE tableName = ? AND entityId = ?`, table, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStorageErr("sqlTx.Find", err)
	}
	var row Row
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, false, wrapStorageErr("sqlTx.Find", err)
	}
	return row, true, nil
}

func (t *sqlTx) Insert(ctx context.Context, table, id string, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return wrapStorageErr("sqlTx.Insert", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO entities (tableName, entityId, data) VALUES (?, ?, ?)`, table, id, string(data))
	return wrapStorageErr("sqlTx.Insert", err)
}

func (t *sqlTx) Update(ctx context.Context, table, id string, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return wrapStorageErr("sqlTx.Update", err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE entities SET data = ? WHERE tableName = ? AND entityId = ?`, string(data), table, id)
	if err != nil {
		return wrapStorageErr("sqlTx.Update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("entity", "sqlTx.Update", domain.ErrNotFound, fmt.Sprintf("table=%s id=%s", table, id))
	}
	return nil
}

func (t *sqlTx) Delete(ctx context.Context, table, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM entities WHERE tableName = ? AND entityId = ?`, table, id)
	if err != nil {
		return wrapStorageErr("sqlTx.Delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("entity", "sqlTx.Delete", domain.ErrNotFound, fmt.Sprintf("table=%s id=%s", table, id))
	}
	return nil
}

func (t *sqlTx) AppendChangeLog(ctx context.Context, r domain.ChangeLogRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sysChangeLog (id, tableName, entityId, propertyName, changedBy, changedAt, oldValue, newValue, changeType)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TableName, r.EntityID, r.PropertyName, r.ChangedBy, r.ChangedAt.UTC().Format(time.RFC3339Nano), r.OldValue, r.NewValue, string(r.Op))
	return wrapStorageErr("sqlTx.AppendChangeLog", err)
}

func (t *sqlTx) ChangeLogForProperty(ctx context.Context, table, entityID, property string) ([]domain.ChangeLogRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, tableName, entityId, propertyName, changedBy, changedAt, oldValue, newValue, changeType
		 FROM sysChangeLog WHERE tableName = ? AND entityId = ? AND propertyName = ?
		 ORDER BY changedAt ASC, rowid ASC`, table, entityID, property)
	if err != nil {
		return nil, wrapStorageErr("sqlTx.ChangeLogForProperty", err)
	}
	defer rows.Close()

	var out []domain.ChangeLogRecord
	for rows.Next() {
		var r domain.ChangeLogRecord
		var changedAt, op string
		if err := rows.Scan(&r.ID, &r.TableName, &r.EntityID, &r.PropertyName, &r.ChangedBy, &changedAt, &r.OldValue, &r.NewValue, &op); err != nil {
			return nil, wrapStorageErr("sqlTx.ChangeLogForProperty", err)
		}
		r.ChangedAt, _ = time.Parse(time.RFC3339Nano, changedAt)
		r.Op = domain.Op(op)
		out = append(out, r)
	}
	return out, wrapStorageErr("sqlTx.ChangeLogForProperty", rows.Err())
}

// IntegrityTriple identifies one (entityId, propertyName) pair within a
// table that has at least one integrity log entry.
type IntegrityTriple struct {
	EntityID     string
	PropertyName string
}

func (t *sqlTx) IntegrityTriples(ctx context.Context, table string) ([]IntegrityTriple, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT entityId, propertyName FROM sysIntegrityLog WHERE tableName = ?`, table)
	if err != nil {
		return nil, wrapStorageErr("sqlTx.IntegrityTriples", err)
	}
	defer rows.Close()

	var out []IntegrityTriple
	for rows.Next() {
		var it IntegrityTriple
		if err := rows.Scan(&it.EntityID, &it.PropertyName); err != nil {
			return nil, wrapStorageErr("sqlTx.IntegrityTriples", err)
		}
		out = append(out, it)
	}
	return out, wrapStorageErr("sqlTx.IntegrityTriples", rows.Err())
}

func (t *sqlTx) LatestIntegrityHash(ctx context.Context, table, entityID, property string) (string, error) {
	var hash string
	err := t.tx.QueryRowContext(ctx,
		`SELECT hash FROM sysIntegrityLog WHERE tableName = ? AND entityId = ? AND propertyName = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT 1`, table, entityID, property).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapStorageErr("sqlTx.LatestIntegrityHash", err)
	}
	return hash, nil
}

func (t *sqlTx) AppendIntegrityLog(ctx context.Context, r domain.IntegrityLogRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sysIntegrityLog (id, tableName, entityId, propertyName, hash, previousHash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TableName, r.EntityID, r.PropertyName, r.Hash, r.PreviousHash, r.Timestamp.UTC().Format(time.RFC3339Nano))
	return wrapStorageErr("sqlTx.AppendIntegrityLog", err)
}

func (t *sqlTx) AllIntegrityRecords(ctx context.Context, table, entityID, property string) ([]domain.IntegrityLogRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, tableName, entityId, propertyName, hash, previousHash, timestamp
		 FROM sysIntegrityLog WHERE tableName = ? AND entityId = ? AND propertyName = ?
		 ORDER BY timestamp ASC, rowid ASC`, table, entityID, property)
	if err != nil {
		return nil, wrapStorageErr("sqlTx.AllIntegrityRecords", err)
	}
	defer rows.Close()

	var out []domain.IntegrityLogRecord
	for rows.Next() {
		var r domain.IntegrityLogRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.TableName, &r.EntityID, &r.PropertyName, &r.Hash, &r.PreviousHash, &ts); err != nil {
			return nil, wrapStorageErr("sqlTx.AllIntegrityRecords", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, wrapStorageErr("sqlTx.AllIntegrityRecords", rows.Err())
}

func (t *sqlTx) LatestTimeseries(ctx context.Context, table, entityID, property string) (*timeseries.BaseDelta, error) {
	var b domain.TimeseriesBase
	var startTime string
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, tableName, entityId, propertyName, value, startTime FROM sysTimeseriesBase
		 WHERE tableName = ? AND entityId = ? AND propertyName = ? ORDER BY startTime DESC, rowid DESC LIMIT 1`,
		table, entityID, property).Scan(&b.ID, &b.TableName, &b.EntityID, &b.PropertyName, &b.Value, &startTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorageErr("sqlTx.LatestTimeseries", err)
	}
	b.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)

	var d domain.TimeseriesDelta
	err = t.tx.QueryRowContext(ctx,
		`SELECT id, baseId, compressedDeltas, lastTimestamp, version FROM sysTimeseriesDelta WHERE baseId = ?`, b.ID).
		Scan(&d.ID, &d.BaseID, &d.CompressedDeltas, &d.LastTimestamp, &d.Version)
	if err != nil {
		return nil, wrapStorageErr("sqlTx.LatestTimeseries", err)
	}
	return &timeseries.BaseDelta{Base: b, Delta: d}, nil
}

func (t *sqlTx) UpsertTimeseriesBase(ctx context.Context, b domain.TimeseriesBase) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sysTimeseriesBase (id, tableName, entityId, propertyName, value, startTime)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET value = excluded.value, startTime = excluded.startTime`,
		b.ID, b.TableName, b.EntityID, b.PropertyName, b.Value, b.StartTime.UTC().Format(time.RFC3339Nano))
	return wrapStorageErr("sqlTx.UpsertTimeseriesBase", err)
}

func (t *sqlTx) UpsertTimeseriesDelta(ctx context.Context, d domain.TimeseriesDelta) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sysTimeseriesDelta (id, baseId, compressedDeltas, lastTimestamp, version)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET compressedDeltas = excluded.compressedDeltas,
			lastTimestamp = excluded.lastTimestamp, version = excluded.version`,
		d.ID, d.BaseID, d.CompressedDeltas, d.LastTimestamp, d.Version)
	return wrapStorageErr("sqlTx.UpsertTimeseriesDelta", err)
}

func (t *sqlTx) TimeseriesRun(ctx context.Context, table, entityID, property string) ([]timeseries.BaseDelta, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT b.id, b.tableName, b.entityId, b.propertyName, b.value, b.startTime,
			d.id, d.baseId, d.compressedDeltas, d.lastTimestamp, d.version
		 FROM sysTimeseriesBase b JOIN sysTimeseriesDelta d ON d.baseId = b.id
		 WHERE b.tableName = ? AND b.entityId = ? AND b.propertyName = ?
		 ORDER BY b.startTime ASC`, table, entityID, property)
	if err != nil {
		return nil, wrapStorageErr("sqlTx.TimeseriesRun", err)
	}
	defer rows.Close()

	var out []timeseries.BaseDelta
	for rows.Next() {
		var bd timeseries.BaseDelta
		var startTime string
		if err := rows.Scan(&bd.Base.ID, &bd.Base.TableName, &bd.Base.EntityID, &bd.Base.PropertyName, &bd.Base.Value, &startTime,
			&bd.Delta.ID, &bd.Delta.BaseID, &bd.Delta.CompressedDeltas, &bd.Delta.LastTimestamp, &bd.Delta.Version); err != nil {
			return nil, wrapStorageErr("sqlTx.TimeseriesRun", err)
		}
		bd.Base.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
		out = append(out, bd)
	}
	return out, wrapStorageErr("sqlTx.TimeseriesRun", rows.Err())
}

func (t *sqlTx) UpsertEmbedding(ctx context.Context, r domain.EmbeddingRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sysEmbedding (id, tableName, entityId, vector) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET vector = excluded.vector`,
		r.ID, r.TableName, r.EntityID, floatsToBytes(r.Vector))
	return wrapStorageErr("sqlTx.UpsertEmbedding", err)
}

func (t *sqlTx) DeleteEmbedding(ctx context.Context, table, entityID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sysEmbedding WHERE tableName = ? AND entityId = ?`, table, entityID)
	return wrapStorageErr("sqlTx.DeleteEmbedding", err)
}

func (t *sqlTx) AllEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, tableName, entityId, vector FROM sysEmbedding`)
	if err != nil {
		return nil, wrapStorageErr("sqlTx.AllEmbeddings", err)
	}
	defer rows.Close()

	var out []domain.EmbeddingRecord
	for rows.Next() {
		var r domain.EmbeddingRecord
		var blob []byte
		if err := rows.Scan(&r.ID, &r.TableName, &r.EntityID, &blob); err != nil {
			return nil, wrapStorageErr("sqlTx.AllEmbeddings", err)
		}
		r.Vector = bytesToFloats(blob)
		out = append(out, r)
	}
	return out, wrapStorageErr("sqlTx.AllEmbeddings", rows.Err())
}

func (t *sqlTx) Commit() error   { return wrapStorageErr("sqlTx.Commit", t.tx.Commit()) }
func (t *sqlTx) Rollback() error { return wrapStorageErr("sqlTx.Rollback", t.tx.Rollback()) }

// floatsToBytes packs a vector as little-endian float32, no framing, per §6.
func floatsToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesToFloats(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
