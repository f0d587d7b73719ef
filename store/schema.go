package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS slaves (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname TEXT NOT NULL,
	address TEXT NOT NULL,
	fingerprint TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'online',
	last_heartbeat TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slave_id INTEGER NOT NULL REFERENCES slaves(id),
	serial TEXT NOT NULL,
	kind TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	last_seen TEXT,
	UNIQUE (slave_id, serial)
);

CREATE TABLE IF NOT EXISTS reservations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	device_id INTEGER NOT NULL REFERENCES devices(id),
	user_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	end_reason TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS reservations_open_device
	ON reservations (device_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS events_outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL,
	published_at TEXT
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS slaves (
	id BIGSERIAL PRIMARY KEY,
	hostname TEXT NOT NULL,
	address TEXT NOT NULL,
	fingerprint TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'online',
	last_heartbeat TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id BIGSERIAL PRIMARY KEY,
	slave_id BIGINT NOT NULL REFERENCES slaves(id),
	serial TEXT NOT NULL,
	kind TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	last_seen TEXT,
	UNIQUE (slave_id, serial)
);

CREATE TABLE IF NOT EXISTS reservations (
	id BIGSERIAL PRIMARY KEY,
	token TEXT NOT NULL UNIQUE,
	device_id BIGINT NOT NULL REFERENCES devices(id),
	user_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	end_reason TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS reservations_open_device
	ON reservations (device_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS events_outbox (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TEXT NOT NULL,
	published_at TEXT
);
`
