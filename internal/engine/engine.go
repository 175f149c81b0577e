// Package engine wires the Session Manager, Chunk Store, Blob Registry,
// Memory Store, capsule registry, and authorization hook into the single
// operation surface a transport layer calls, mirroring the teacher's
// ArtifactService orchestration role.
package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/552020/futura-alpha-icp-sub003/internal/chunkstore"
	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
)

// Engine is the capsule-scoped upload and asset storage core.
type Engine struct {
	sessions  core.SessionManager
	chunks    core.ChunkStore
	blobs     core.BlobRegistry
	memories  core.MemoryStore
	capsules  core.CapsuleRegistry
	authz     core.AuthzHook
	limiters  *rateLimiterSet
	logger    *logger.Logger
}

// Config bundles the dependencies the engine orchestrates. UploadRatePerSecond
// configures the per-capsule token bucket surfaced via AllowUpload.
type Config struct {
	Sessions             core.SessionManager
	Chunks               core.ChunkStore
	Blobs                core.BlobRegistry
	Memories             core.MemoryStore
	Capsules             core.CapsuleRegistry
	Authz                core.AuthzHook
	UploadRatePerSecond  float64
	Logger               *logger.Logger
}

func New(cfg Config) *Engine {
	return &Engine{
		sessions: cfg.Sessions,
		chunks:   cfg.Chunks,
		blobs:    cfg.Blobs,
		memories: cfg.Memories,
		capsules: cfg.Capsules,
		authz:    cfg.Authz,
		limiters: newRateLimiterSet(cfg.UploadRatePerSecond),
		logger:   cfg.Logger,
	}
}

func (e *Engine) requireWrite(ctx context.Context, caller string, capsuleID core.CapsuleID) error {
	if !e.authz.MayWrite(ctx, caller, capsuleID) {
		return core.Unauthorized("caller %s may not write to capsule %s", caller, capsuleID)
	}
	return nil
}

// CapsulesCreate implements capsules_create.
func (e *Engine) CapsulesCreate(ctx context.Context, seed *core.CapsuleID) (core.CapsuleID, error) {
	return e.capsules.Create(ctx, seed)
}

// UploadsBegin implements uploads_begin.
func (e *Engine) UploadsBegin(ctx context.Context, caller string, capsuleID core.CapsuleID, chunkCount uint32, idem string) (core.BeginOutcome, error) {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return core.BeginOutcome{}, err
	}
	return e.sessions.Begin(ctx, capsuleID, caller, chunkCount, idem)
}

// UploadsPutChunk implements uploads_put_chunk.
func (e *Engine) UploadsPutChunk(ctx context.Context, caller string, capsuleID core.CapsuleID, sessionID core.SessionID, index uint32, data []byte) error {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return err
	}
	return e.sessions.PutChunk(ctx, sessionID, index, data)
}

// AllowUpload reports whether capsuleID's upload token bucket has capacity,
// for the transport layer to enforce as an HTTP 429 ahead of calling
// UploadsPutChunk. Backpressure lives outside the closed error taxonomy on
// purpose: it is a transport-level concern, not a core invariant.
func (e *Engine) AllowUpload(capsuleID core.CapsuleID) bool {
	return e.limiters.Allow(capsuleID)
}

// UploadsAbort implements uploads_abort.
func (e *Engine) UploadsAbort(ctx context.Context, caller string, capsuleID core.CapsuleID, sessionID core.SessionID) error {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return err
	}
	return e.sessions.Abort(ctx, sessionID)
}

// UploadsFinish implements uploads_finish, the Finalizer's entry point. It
// verifies length and hash over the concatenated chunks, promotes staged
// chunks to a fresh blob_id, and commits the session. Retry-safe: a
// verification failure leaves the session Open; an internal failure during
// the chunk move also leaves it Open and marks the blob row allocated for
// that attempt deleted, so a blob_id only stays live once the move succeeds.
func (e *Engine) UploadsFinish(ctx context.Context, caller string, capsuleID core.CapsuleID, sessionID core.SessionID, expectedSHA256 [32]byte, expectedLen uint64) (core.UploadFinishResult, error) {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return core.UploadFinishResult{}, err
	}

	sess, err := e.sessions.BeginFinalize(ctx, sessionID)
	if err != nil {
		return core.UploadFinishResult{}, err
	}

	if uint32(sess.ReceivedCount()) != sess.ExpectedChunkCount {
		_ = e.sessions.RevertToOpen(ctx, sessionID)
		return core.UploadFinishResult{}, core.IncompleteUpload("session %d received %d/%d chunks", uint64(sessionID), sess.ReceivedCount(), sess.ExpectedChunkCount)
	}

	hasher := sha256.New()
	var actualLen uint64
	sessionObjectID := fmt.Sprint(uint64(sessionID))
	for i := uint32(0); i < sess.ExpectedChunkCount; i++ {
		data, err := e.chunks.Get(chunkstore.NamespaceSessions, sessionObjectID, i)
		if err != nil {
			_ = e.sessions.RevertToOpen(ctx, sessionID)
			return core.UploadFinishResult{}, core.Internal(err, "read staged chunk %d for session %d", i, uint64(sessionID))
		}
		hasher.Write(data)
		actualLen += uint64(len(data))
	}

	if actualLen != expectedLen {
		_ = e.sessions.RevertToOpen(ctx, sessionID)
		return core.UploadFinishResult{}, core.LengthMismatch("expected %d bytes, staged %d", expectedLen, actualLen)
	}
	var actualSHA256 [32]byte
	copy(actualSHA256[:], hasher.Sum(nil))
	if !bytes.Equal(actualSHA256[:], expectedSHA256[:]) {
		_ = e.sessions.RevertToOpen(ctx, sessionID)
		return core.UploadFinishResult{}, core.HashMismatch("content hash does not match expected_sha256")
	}

	chunkSize := uint32(core.ChunkSizeMax)
	meta, err := e.blobs.Alloc(ctx, capsuleID, actualLen, actualSHA256, sess.ExpectedChunkCount, chunkSize)
	if err != nil {
		_ = e.sessions.RevertToOpen(ctx, sessionID)
		return core.UploadFinishResult{}, err
	}

	if err := e.chunks.Move(chunkstore.NamespaceSessions, sessionObjectID, chunkstore.NamespaceBlobs, string(meta.BlobID)); err != nil {
		_, _ = e.blobs.DeleteIfUnreferenced(ctx, meta.BlobID)
		_ = e.sessions.RevertToOpen(ctx, sessionID)
		return core.UploadFinishResult{}, err
	}

	if err := e.sessions.CommitFinalize(ctx, sessionID, meta.BlobID); err != nil {
		return core.UploadFinishResult{}, err
	}

	return core.UploadFinishResult{BlobID: meta.BlobID}, nil
}

// BlobGetMeta implements blob_get_meta.
func (e *Engine) BlobGetMeta(ctx context.Context, id core.BlobID) (core.BlobMeta, error) {
	return e.blobs.GetMeta(ctx, id)
}

// BlobReadChunk implements blob_read_chunk.
func (e *Engine) BlobReadChunk(ctx context.Context, id core.BlobID, index uint32) ([]byte, error) {
	if _, err := e.blobs.GetMeta(ctx, id); err != nil {
		return nil, err
	}
	return e.chunks.Get(chunkstore.NamespaceBlobs, string(id), index)
}

// BlobRead implements blob_read: the full, concatenated byte sequence.
func (e *Engine) BlobRead(ctx context.Context, id core.BlobID) ([]byte, error) {
	meta, err := e.blobs.GetMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, meta.Size)
	for i := uint32(0); i < meta.ChunkCount; i++ {
		data, err := e.chunks.Get(chunkstore.NamespaceBlobs, string(id), i)
		if err != nil {
			return nil, core.Internal(err, "read chunk %d of blob %s", i, id)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// BlobDelete implements blob_delete: only succeeds when ref_count == 0.
func (e *Engine) BlobDelete(ctx context.Context, caller string, capsuleID core.CapsuleID, id core.BlobID) error {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return err
	}
	meta, err := e.blobs.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta.RefCount > 0 {
		return core.InvalidArgument("blob %s is still referenced by %d memory asset(s)", id, meta.RefCount)
	}
	deleted, err := e.blobs.DeleteIfUnreferenced(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return core.InvalidArgument("blob %s is still referenced", id)
	}
	return e.chunks.RemoveAll(chunkstore.NamespaceBlobs, string(id))
}

// MemoriesCreateWithInternalBlobsAndInlineAssets implements the primary
// memory creation API.
func (e *Engine) MemoriesCreateWithInternalBlobsAndInlineAssets(ctx context.Context, caller string, capsuleID core.CapsuleID, metadata map[string]interface{}, blobAssets []core.InternalBlobAsset, inlineAssets []core.InlineAsset, idem string) (core.MemoryID, error) {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return core.MemoryID{}, err
	}
	return e.memories.CreateWithAssets(ctx, capsuleID, caller, metadata, blobAssets, inlineAssets, idem)
}

// MemoriesCreate implements the legacy single-asset creation form: it
// normalizes to the same multi-asset storage path with exactly one asset.
func (e *Engine) MemoriesCreate(ctx context.Context, caller string, capsuleID core.CapsuleID, inline []byte, blobRef *core.BlobID, assetMetadata core.AssetMetadata, idem string) (core.MemoryID, error) {
	var blobAssets []core.InternalBlobAsset
	var inlineAssets []core.InlineAsset
	switch {
	case blobRef != nil && inline != nil:
		return core.MemoryID{}, core.InvalidArgument("legacy memories_create accepts exactly one asset, got both inline and blob_ref")
	case blobRef != nil:
		blobAssets = []core.InternalBlobAsset{{BlobID: *blobRef, AssetMeta: assetMetadata}}
	case inline != nil:
		inlineAssets = []core.InlineAsset{{Bytes: inline, AssetMeta: assetMetadata}}
	default:
		return core.MemoryID{}, core.InvalidArgument("legacy memories_create requires either inline bytes or a blob_ref")
	}
	return e.MemoriesCreateWithInternalBlobsAndInlineAssets(ctx, caller, capsuleID, map[string]interface{}(assetMetadata), blobAssets, inlineAssets, idem)
}

// MemoriesRead implements memories_read.
func (e *Engine) MemoriesRead(ctx context.Context, id core.MemoryID) (core.MemoryRecord, error) {
	return e.memories.Read(ctx, id)
}

// MemoriesDelete implements memories_delete.
func (e *Engine) MemoriesDelete(ctx context.Context, caller string, capsuleID core.CapsuleID, id core.MemoryID, deleteAssets bool) error {
	if err := e.requireWrite(ctx, caller, capsuleID); err != nil {
		return err
	}
	return e.memories.Delete(ctx, id, deleteAssets)
}

// UploadsStatus is a supplemented read-only operation reporting a session's
// progress, grounded on the teacher's upload-progress handler.
func (e *Engine) UploadsStatus(ctx context.Context, id core.SessionID) (core.UploadSession, error) {
	return e.sessions.Get(ctx, id)
}

// rateLimiterSet hands out one token bucket per capsule, the Backpressure
// section's "no implicit queueing" requirement implemented as an HTTP-level
// 429 rather than blocking inside put_chunk.
type rateLimiterSet struct {
	perSecond float64
	mu        sync.Mutex
	limiters  map[core.CapsuleID]*rate.Limiter
}

func newRateLimiterSet(perSecond float64) *rateLimiterSet {
	if perSecond <= 0 {
		perSecond = 50
	}
	return &rateLimiterSet{perSecond: perSecond, limiters: make(map[core.CapsuleID]*rate.Limiter)}
}

func (s *rateLimiterSet) Allow(capsuleID core.CapsuleID) bool {
	s.mu.Lock()
	l, ok := s.limiters[capsuleID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.perSecond), int(s.perSecond))
		s.limiters[capsuleID] = l
	}
	s.mu.Unlock()
	return l.Allow()
}
