// Package memorystore is the Memory Store and Reference Manager: it
// persists MemoryRecord aggregates in Postgres, enforces atomic multi-asset
// creation (Invariant M1) and drives the ref-count bookkeeping that backs
// cascade vs. selective deletion (Invariant M3).
package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/blobregistry"
	"github.com/552020/futura-alpha-icp-sub003/internal/chunkstore"
	"github.com/552020/futura-alpha-icp-sub003/internal/clockid"
	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

// Store is the Postgres-backed Memory Store.
type Store struct {
	db     *sql.DB
	blobs  *blobregistry.Registry
	chunks *chunkstore.Store
	clk    clockid.Clock
}

func New(db *sql.DB, blobs *blobregistry.Registry, chunks *chunkstore.Store, clk clockid.Clock) *Store {
	return &Store{db: db, blobs: blobs, chunks: chunks, clk: clk}
}

// CreateWithAssets implements memories_create_with_internal_blobs_and_inline_assets.
// All blob increfs happen inside a single transaction before the record is
// persisted, so a failure leaves no partial ref-count changes (Invariant M1).
func (s *Store) CreateWithAssets(ctx context.Context, capsuleID uuid.UUID, caller string, metadata map[string]interface{}, blobAssets []core.InternalBlobAsset, inlineAssets []core.InlineAsset, idem string) (core.MemoryID, error) {
	for _, a := range inlineAssets {
		if len(a.Bytes) > core.InlineMax {
			return uuid.Nil, core.InvalidArgument("inline asset of %d bytes exceeds INLINE_MAX", len(a.Bytes))
		}
	}

	if idem != "" {
		existing, err := s.lookupIdempotent(ctx, capsuleID, caller, idem)
		if err != nil {
			return uuid.Nil, err
		}
		if existing != uuid.Nil {
			return existing, nil
		}
	}

	for _, a := range blobAssets {
		owner, err := s.blobs.CapsuleOf(ctx, a.BlobID)
		if err != nil {
			return uuid.Nil, core.InvalidArgument("blob %s: %v", a.BlobID, err)
		}
		if owner != capsuleID {
			return uuid.Nil, core.InvalidArgument("blob %s does not belong to capsule %s", a.BlobID, capsuleID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, core.Internal(err, "begin memory creation transaction")
	}
	defer tx.Rollback()

	for _, a := range blobAssets {
		if _, err := s.increfTx(ctx, tx, a.BlobID, 1); err != nil {
			return uuid.Nil, err
		}
	}

	memoryID := uuid.New()
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, core.Internal(err, "marshal memory metadata")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (memory_id, capsule_id, metadata) VALUES ($1, $2, $3)`,
		memoryID, capsuleID, metaJSON); err != nil {
		return uuid.Nil, core.Internal(err, "persist memory record")
	}

	for i, a := range blobAssets {
		assetJSON, err := json.Marshal(a.AssetMeta)
		if err != nil {
			return uuid.Nil, core.Internal(err, "marshal blob asset metadata")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_blob_assets (memory_id, position, blob_id, asset_metadata) VALUES ($1, $2, $3, $4)`,
			memoryID, i, string(a.BlobID), assetJSON); err != nil {
			return uuid.Nil, core.Internal(err, "persist blob asset")
		}
	}
	for i, a := range inlineAssets {
		assetJSON, err := json.Marshal(a.AssetMeta)
		if err != nil {
			return uuid.Nil, core.Internal(err, "marshal inline asset metadata")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_inline_assets (memory_id, position, bytes, asset_metadata) VALUES ($1, $2, $3, $4)`,
			memoryID, i, a.Bytes, assetJSON); err != nil {
			return uuid.Nil, core.Internal(err, "persist inline asset")
		}
	}

	if idem != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_idempotency (capsule_id, caller, idem_key, memory_id) VALUES ($1, $2, $3, $4)`,
			capsuleID, caller, idem, memoryID); err != nil {
			return uuid.Nil, core.Internal(err, "persist idempotency record")
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, core.Internal(err, "commit memory creation")
	}
	return memoryID, nil
}

func (s *Store) lookupIdempotent(ctx context.Context, capsuleID uuid.UUID, caller, idem string) (uuid.UUID, error) {
	var memoryID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT memory_id FROM memory_idempotency WHERE capsule_id = $1 AND caller = $2 AND idem_key = $3`,
		capsuleID, caller, idem).Scan(&memoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, core.Internal(err, "lookup idempotency record")
	}
	return memoryID, nil
}

func (s *Store) increfTx(ctx context.Context, tx *sql.Tx, id core.BlobID, n int64) (uint32, error) {
	var newCount int64
	err := tx.QueryRowContext(ctx, `
		UPDATE blobs SET ref_count = ref_count + $2
		WHERE blob_id = $1 AND deleted_at IS NULL
		RETURNING ref_count
	`, string(id), n).Scan(&newCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.InvalidArgument("blob %s not found or deleted", id)
	}
	if err != nil {
		return 0, core.Internal(err, "incref blob %s", id)
	}
	return uint32(newCount), nil
}

// Read implements memories_read.
func (s *Store) Read(ctx context.Context, memoryID uuid.UUID) (core.MemoryRecord, error) {
	var rec core.MemoryRecord
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT memory_id, capsule_id, metadata, created_at, deleted_at FROM memories WHERE memory_id = $1`,
		memoryID).Scan(&rec.MemoryID, &rec.CapsuleID, &metaJSON, &rec.CreatedAt, &rec.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) || rec.DeletedAt != nil {
		return core.MemoryRecord{}, core.NotFound("memory %s not found", memoryID)
	}
	if err != nil {
		return core.MemoryRecord{}, core.Internal(err, "load memory %s", memoryID)
	}
	if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
		return core.MemoryRecord{}, core.Internal(err, "unmarshal memory metadata")
	}

	blobRows, err := s.db.QueryContext(ctx,
		`SELECT blob_id, asset_metadata FROM memory_blob_assets WHERE memory_id = $1 ORDER BY position`, memoryID)
	if err != nil {
		return core.MemoryRecord{}, core.Internal(err, "load blob assets for memory %s", memoryID)
	}
	defer blobRows.Close()
	for blobRows.Next() {
		var a core.InternalBlobAsset
		var blobID string
		var assetJSON []byte
		if err := blobRows.Scan(&blobID, &assetJSON); err != nil {
			return core.MemoryRecord{}, core.Internal(err, "scan blob asset")
		}
		a.BlobID = core.BlobID(blobID)
		if err := json.Unmarshal(assetJSON, &a.AssetMeta); err != nil {
			return core.MemoryRecord{}, core.Internal(err, "unmarshal blob asset metadata")
		}
		rec.BlobAssets = append(rec.BlobAssets, a)
	}

	inlineRows, err := s.db.QueryContext(ctx,
		`SELECT bytes, asset_metadata FROM memory_inline_assets WHERE memory_id = $1 ORDER BY position`, memoryID)
	if err != nil {
		return core.MemoryRecord{}, core.Internal(err, "load inline assets for memory %s", memoryID)
	}
	defer inlineRows.Close()
	for inlineRows.Next() {
		var a core.InlineAsset
		var assetJSON []byte
		if err := inlineRows.Scan(&a.Bytes, &assetJSON); err != nil {
			return core.MemoryRecord{}, core.Internal(err, "scan inline asset")
		}
		if err := json.Unmarshal(assetJSON, &a.AssetMeta); err != nil {
			return core.MemoryRecord{}, core.Internal(err, "unmarshal inline asset metadata")
		}
		rec.InlineAssets = append(rec.InlineAssets, a)
	}

	return rec, nil
}

// Delete implements memories_delete, including the cascade (delete_assets
// true) vs. selective (false) ref-count semantics of Invariant M3.
func (s *Store) Delete(ctx context.Context, memoryID uuid.UUID, deleteAssets bool) error {
	rec, err := s.Read(ctx, memoryID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Internal(err, "begin memory deletion transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE memory_id = $1`, memoryID); err != nil {
		return core.Internal(err, "delete memory record %s", memoryID)
	}
	if err := tx.Commit(); err != nil {
		return core.Internal(err, "commit memory deletion")
	}

	for _, a := range rec.BlobAssets {
		newCount, err := s.blobs.Decref(ctx, a.BlobID, 1)
		if err != nil {
			return err
		}
		if deleteAssets && newCount == 0 {
			deleted, err := s.blobs.DeleteIfUnreferenced(ctx, a.BlobID)
			if err != nil {
				return err
			}
			if deleted {
				if err := s.chunks.RemoveAll(chunkstore.NamespaceBlobs, string(a.BlobID)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
