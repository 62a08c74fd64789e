// Package store implements the relational-side collaborator this engine
// treats as external per spec: a transactional key-value-of-rows store for
// user entities, a schema creator for the fixed bookkeeping tables (C9),
// and raw SQL execution returning untyped rows.
//
// Grounded on the teacher's adapter/tenant/sqlite.go repository pattern and
// adapter/memory/vector/migrate.go's CREATE TABLE IF NOT EXISTS +
// PRAGMA journal_mode=WAL style.
package store

import "database/sql"

// bookkeepingSchema creates the five fixed tables C3-C7 and the change/
// integrity logs are built on, plus the generic user-row table this engine
// uses as the "transactional key-value-of-rows store" the relational
// provider is scoped down to. Column names match record field names per
// §4.9; primary keys are the id GUIDs (ULIDs); compound indexes on
// (tableName, entityId, propertyName) for logs and timeseries, on
// (tableName, entityId) for embeddings.
const bookkeepingSchema = `
CREATE TABLE IF NOT EXISTS entities (
	tableName TEXT NOT NULL,
	entityId  TEXT NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (tableName, entityId)
);

CREATE TABLE IF NOT EXISTS sysChangeLog (
	id           TEXT PRIMARY KEY,
	tableName    TEXT NOT NULL,
	entityId     TEXT NOT NULL,
	propertyName TEXT NOT NULL,
	changedBy    TEXT NOT NULL,
	changedAt    TEXT NOT NULL,
	oldValue     TEXT,
	newValue     TEXT,
	changeType   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sysChangeLog_tep ON sysChangeLog (tableName, entityId, propertyName);

CREATE TABLE IF NOT EXISTS sysIntegrityLog (
	id           TEXT PRIMARY KEY,
	tableName    TEXT NOT NULL,
	entityId     TEXT NOT NULL,
	propertyName TEXT NOT NULL,
	hash         TEXT NOT NULL,
	previousHash TEXT NOT NULL,
	timestamp    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sysIntegrityLog_tep ON sysIntegrityLog (tableName, entityId, propertyName);

CREATE TABLE IF NOT EXISTS sysTimeseriesBase (
	id           TEXT PRIMARY KEY,
	tableName    TEXT NOT NULL,
	entityId     TEXT NOT NULL,
	propertyName TEXT NOT NULL,
	value        TEXT NOT NULL,
	startTime    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sysTimeseriesBase_tep ON sysTimeseriesBase (tableName, entityId, propertyName);

CREATE TABLE IF NOT EXISTS sysTimeseriesDelta (
	id               TEXT PRIMARY KEY,
	baseId           TEXT NOT NULL,
	compressedDeltas BLOB NOT NULL,
	lastTimestamp    INTEGER NOT NULL,
	version          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sysTimeseriesDelta_baseId ON sysTimeseriesDelta (baseId);

CREATE TABLE IF NOT EXISTS sysEmbedding (
	id        TEXT PRIMARY KEY,
	tableName TEXT NOT NULL,
	entityId  TEXT NOT NULL,
	vector    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sysEmbedding_te ON sysEmbedding (tableName, entityId);
`

// pragmas tune SQLite for the engine's single-writer discipline (§5).
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(bookkeepingSchema)
	return err
}
