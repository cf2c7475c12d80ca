/*
Package storage provides SQLite-backed state persistence for fats.

	┌──────────────────── SQLITE STORAGE ──────────────────────┐
	│                                                            │
	│  File: <dataDir>/fats.db, WAL mode, foreign keys on       │
	│                                                            │
	│  projects            (id, name, version unique, image,   │
	│                        desired_secrets, timestamps)       │
	│  service_records      (id, generation, container_id,      │
	│                        hostname, port, project_id FK)      │
	│  generation_counter   (singleton row, id = 1)             │
	│  secrets              (name primary key, value)           │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

SQLiteStore implements Store over database/sql with the
modernc.org/sqlite pure-Go driver. UpsertProject enforces the
(name, version) uniqueness at the schema level and overwrites the
existing row on conflict rather than erroring. NextGeneration runs the
read-increment-persist sequence inside a transaction so two concurrent
process starts against the same database file can never observe the
same generation.
*/
package storage
