package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresDB opens a pooled connection to the given DSN and verifies it
// with a ping before returning.
func NewPostgresDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// RunMigrations creates the capsule/blob/memory schema. It is idempotent:
// safe to run on every startup.
func RunMigrations(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("Acquiring migration lock...")
	if _, err := db.ExecContext(ctx, "SELECT pg_advisory_lock(123456789)"); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := db.Exec("SELECT pg_advisory_unlock(123456789)"); err != nil {
			log.Printf("failed to release migration lock: %v", err)
		}
	}()
	log.Println("Migration lock acquired")

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration statement: %w\n%s", err, stmt)
		}
	}

	log.Println("Schema up to date")
	return nil
}

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

	`CREATE TABLE IF NOT EXISTS capsules (
		capsule_id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS blobs (
		blob_id TEXT PRIMARY KEY,
		capsule_id UUID NOT NULL REFERENCES capsules(capsule_id),
		size BIGINT NOT NULL,
		sha256 BYTEA NOT NULL,
		chunk_count INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL,
		ref_count INTEGER NOT NULL DEFAULT 0,
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS memories (
		memory_id UUID PRIMARY KEY,
		capsule_id UUID NOT NULL REFERENCES capsules(capsule_id),
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_capsule ON memories(capsule_id)`,

	`CREATE INDEX IF NOT EXISTS idx_blobs_capsule ON blobs(capsule_id)`,

	`CREATE TABLE IF NOT EXISTS memory_blob_assets (
		memory_id UUID NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		blob_id TEXT NOT NULL REFERENCES blobs(blob_id),
		asset_metadata JSONB NOT NULL DEFAULT '{}',
		PRIMARY KEY (memory_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS memory_inline_assets (
		memory_id UUID NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		bytes BYTEA NOT NULL,
		asset_metadata JSONB NOT NULL DEFAULT '{}',
		PRIMARY KEY (memory_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS memory_idempotency (
		capsule_id UUID NOT NULL,
		caller TEXT NOT NULL,
		idem_key TEXT NOT NULL,
		memory_id UUID NOT NULL REFERENCES memories(memory_id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (capsule_id, caller, idem_key)
	)`,
}
