// Package blobregistry is the Blob Registry: it maps blob_id to BlobMeta and
// owns ref counting. Chunk bytes themselves live in chunkstore; this package
// only ever touches the blobs table, following the raw-SQL,
// RETURNING-clause style the rest of the corpus's repositories use.
package blobregistry

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/clockid"
	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

// Registry is the Postgres-backed Blob Registry.
type Registry struct {
	db  *sql.DB
	ids *clockid.BlobIDSource
	clk clockid.Clock
}

func New(db *sql.DB, ids *clockid.BlobIDSource, clk clockid.Clock) *Registry {
	return &Registry{db: db, ids: ids, clk: clk}
}

// Alloc allocates a fresh blob id and persists its BlobMeta with ref_count
// 0, as the sole commit point of uploads_finish. capsuleID scopes the blob
// to the session's capsule so memory creation can reject cross-capsule
// references; it is internal bookkeeping, not part of the exported BlobMeta.
func (r *Registry) Alloc(ctx context.Context, capsuleID uuid.UUID, size uint64, sha256 [32]byte, chunkCount, chunkSize uint32) (core.BlobMeta, error) {
	meta := core.BlobMeta{
		BlobID:     r.ids.Next(),
		Size:       size,
		SHA256:     sha256,
		ChunkCount: chunkCount,
		ChunkSize:  chunkSize,
		UploadedAt: r.clk.Now(),
		RefCount:   0,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blobs (blob_id, capsule_id, size, sha256, chunk_count, chunk_size, uploaded_at, ref_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	`, string(meta.BlobID), capsuleID, int64(meta.Size), meta.SHA256[:], int32(meta.ChunkCount), int32(meta.ChunkSize), meta.UploadedAt)
	if err != nil {
		return core.BlobMeta{}, core.Internal(err, "persist blob %s", meta.BlobID)
	}
	return meta, nil
}

// CapsuleOf returns the capsule a live blob was allocated under, for the
// memory store's same-capsule reference check.
func (r *Registry) CapsuleOf(ctx context.Context, id core.BlobID) (uuid.UUID, error) {
	var capsuleID uuid.UUID
	err := r.db.QueryRowContext(ctx,
		`SELECT capsule_id FROM blobs WHERE blob_id = $1 AND deleted_at IS NULL`, string(id)).Scan(&capsuleID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, core.NotFound("blob %s not found", id)
	}
	if err != nil {
		return uuid.Nil, core.Internal(err, "load capsule for blob %s", id)
	}
	return capsuleID, nil
}

// GetMeta returns the BlobMeta for a live (non-deleted) blob.
func (r *Registry) GetMeta(ctx context.Context, id core.BlobID) (core.BlobMeta, error) {
	meta, err := r.scanMeta(ctx, r.db, id)
	if err != nil {
		return core.BlobMeta{}, err
	}
	if meta.DeletedAt != nil {
		return core.BlobMeta{}, core.NotFound("blob %s not found", id)
	}
	return meta, nil
}

func (r *Registry) scanMeta(ctx context.Context, q querier, id core.BlobID) (core.BlobMeta, error) {
	var meta core.BlobMeta
	var sha []byte
	var size, chunkCount, chunkSize int64
	row := q.QueryRowContext(ctx, `
		SELECT blob_id, size, sha256, chunk_count, chunk_size, uploaded_at, ref_count, deleted_at
		FROM blobs WHERE blob_id = $1
	`, string(id))
	var blobID string
	var refCount int64
	if err := row.Scan(&blobID, &size, &sha, &chunkCount, &chunkSize, &meta.UploadedAt, &refCount, &meta.DeletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BlobMeta{}, core.NotFound("blob %s not found", id)
		}
		return core.BlobMeta{}, core.Internal(err, "load blob %s", id)
	}
	meta.BlobID = core.BlobID(blobID)
	meta.Size = uint64(size)
	meta.ChunkCount = uint32(chunkCount)
	meta.ChunkSize = uint32(chunkSize)
	meta.RefCount = uint32(refCount)
	copy(meta.SHA256[:], sha)
	return meta, nil
}

// RecoverIDFloor returns the highest numeric suffix among existing blob_id
// values, so a restarted process can resume BlobIDSource above it instead of
// reallocating ids that already occupy the primary key. Returns 0 when the
// table is empty.
func RecoverIDFloor(ctx context.Context, db *sql.DB) (uint64, error) {
	var floor sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT MAX(substring(blob_id from length($1) + 1)::bigint)
		FROM blobs WHERE blob_id LIKE $1 || '%'
	`, core.BlobIDPrefix).Scan(&floor)
	if err != nil {
		return 0, core.Internal(err, "recover blob id floor")
	}
	if !floor.Valid {
		return 0, nil
	}
	return uint64(floor.Int64), nil
}

// Incref bumps ref_count by n and returns the new count. Memory creation
// does not call it; memorystore increments inside its own transaction.
func (r *Registry) Incref(ctx context.Context, id core.BlobID, n uint32) (uint32, error) {
	return r.addRefCount(ctx, r.db, id, int64(n))
}

// Decref lowers ref_count by n (never below zero) and returns the new count.
func (r *Registry) Decref(ctx context.Context, id core.BlobID, n uint32) (uint32, error) {
	return r.addRefCount(ctx, r.db, id, -int64(n))
}

func (r *Registry) addRefCount(ctx context.Context, q querier, id core.BlobID, delta int64) (uint32, error) {
	var newCount int64
	err := q.QueryRowContext(ctx, `
		UPDATE blobs
		SET ref_count = GREATEST(ref_count + $2, 0)
		WHERE blob_id = $1 AND deleted_at IS NULL
		RETURNING ref_count
	`, string(id), delta).Scan(&newCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.NotFound("blob %s not found", id)
	}
	if err != nil {
		return 0, core.Internal(err, "update ref count for blob %s", id)
	}
	return uint32(newCount), nil
}

// DeleteIfUnreferenced removes the blob row (marking it deleted) iff its
// current ref_count is 0. Returns whether it deleted.
func (r *Registry) DeleteIfUnreferenced(ctx context.Context, id core.BlobID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE blobs SET deleted_at = $2
		WHERE blob_id = $1 AND ref_count = 0 AND deleted_at IS NULL
	`, string(id), r.clk.Now())
	if err != nil {
		return false, core.Internal(err, "delete blob %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.Internal(err, "delete blob %s", id)
	}
	return n > 0, nil
}

// querier is satisfied by *sql.DB and *sql.Tx, letting the registry's scans
// run either standalone or inside a caller-managed transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
