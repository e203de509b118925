package sqlquery

import "time"

const (
	jobColumns = "id, name, targets, schedule, enabled, notify_enabled, priority, last_listing_id, last_run, last_status, created_at, updated_at"

	NewJob          = "INSERT INTO jobs (name, targets, schedule, enabled, notify_enabled, priority, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id"
	GetJob          = "SELECT " + jobColumns + " FROM jobs WHERE id = $1"
	GetJobByName    = "SELECT " + jobColumns + " FROM jobs WHERE name = $1"
	ListJobs        = "SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, id DESC"
	ListEnabledJobs = "SELECT " + jobColumns + " FROM jobs WHERE enabled ORDER BY id"
	UpdateJob       = "UPDATE jobs SET name = $1, targets = $2, schedule = $3, enabled = $4, notify_enabled = $5, priority = $6, updated_at = $7 WHERE id = $8"
	DeleteJob       = "DELETE FROM jobs WHERE id = $1"
	UpdateRunResult = "UPDATE jobs SET last_run = $1, last_status = $2, last_listing_id = " + forwardWatermark + ", updated_at = $4 WHERE id = $5"
	JobStats        = "SELECT COUNT(*), " +
		"COALESCE(SUM(CASE WHEN enabled THEN 1 ELSE 0 END), 0), " +
		"COALESCE(SUM(CASE WHEN last_status = 'success' THEN 1 ELSE 0 END), 0), " +
		"COALESCE(SUM(CASE WHEN last_status = 'failed' THEN 1 ELSE 0 END), 0), " +
		"COALESCE(SUM(CASE WHEN last_status IS NULL THEN 1 ELSE 0 END), 0) " +
		"FROM jobs"
	GetConfig                = "SELECT value FROM global_config WHERE key = $1"
	ListConfig               = "SELECT key, value, description, updated_at FROM global_config ORDER BY key"
	UpsertConfig             = "INSERT INTO global_config (key, value, description, updated_at) VALUES ($1, $2, '', $3) ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	SeedConfig               = "INSERT INTO global_config (key, value, description, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (key) DO NOTHING"
	DatabaseOperationTimeout = time.Second * 5
)

// forwardWatermark keeps the stored watermark unless the new one is numerically greater.
const forwardWatermark = "CASE " +
	"WHEN CAST($3 AS TEXT) IS NULL THEN last_listing_id " +
	"WHEN last_listing_id IS NULL OR CAST(CAST($3 AS TEXT) AS BIGINT) > CAST(last_listing_id AS BIGINT) THEN CAST($3 AS TEXT) " +
	"ELSE last_listing_id END"

// Schema returns the DDL statements for the given database/sql driver name.
func Schema(driverName string) []string {
	if driverName == "sqlite3" {
		return sqliteSchema
	}
	return postgresSchema
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		targets TEXT NOT NULL,
		schedule TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		notify_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		priority BOOLEAN NOT NULL DEFAULT FALSE,
		last_listing_id TEXT,
		last_run TIMESTAMPTZ,
		last_status TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS global_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		targets TEXT NOT NULL,
		schedule TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		notify_enabled BOOLEAN NOT NULL DEFAULT 0,
		priority BOOLEAN NOT NULL DEFAULT 0,
		last_listing_id TEXT,
		last_run TIMESTAMP,
		last_status TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS global_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`,
}
