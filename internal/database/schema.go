package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements create the tables used by the server. Every statement is
// idempotent so EnsureSchema can run at each startup.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS editors (
		id SERIAL PRIMARY KEY,
		username VARCHAR(32) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT 'editor',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS zone_stacks (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		owner_id INTEGER,
		anchor GEOMETRY(POINT, 4326) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_stacks_anchor ON zone_stacks USING GIST(anchor)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_stacks_owner ON zone_stacks(owner_id)`,
	`CREATE TABLE IF NOT EXISTS stack_zones (
		stack_id VARCHAR(64) NOT NULL REFERENCES zone_stacks(id) ON DELETE CASCADE,
		zone_id VARCHAR(64) NOT NULL,
		position INTEGER NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		is_circle BOOLEAN NOT NULL DEFAULT FALSE,
		center GEOMETRY(POINT, 4326),
		radius DOUBLE PRECISION NOT NULL DEFAULT 0,
		ring GEOMETRY(POLYGON, 4326) NOT NULL,
		color VARCHAR(16) NOT NULL,
		opacity DOUBLE PRECISION NOT NULL,
		editable BOOLEAN NOT NULL DEFAULT TRUE,
		z_index INTEGER NOT NULL,
		PRIMARY KEY (stack_id, zone_id)
	)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
