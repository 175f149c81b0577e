package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/chunkstore"
	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
)

// fakeSessions is a minimal in-memory core.SessionManager for exercising the
// engine's orchestration logic without Redis.
type fakeSessions struct {
	next     uint64
	sessions map[core.SessionID]*core.UploadSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[core.SessionID]*core.UploadSession)}
}

func (f *fakeSessions) Begin(ctx context.Context, capsuleID core.CapsuleID, caller string, chunkCount uint32, idem string) (core.BeginOutcome, error) {
	f.next++
	id := core.SessionID(f.next)
	f.sessions[id] = &core.UploadSession{
		SessionID:          id,
		CapsuleID:          capsuleID,
		Caller:             caller,
		IdemKey:            idem,
		ExpectedChunkCount: chunkCount,
		Received:           make(map[uint32]bool),
		ChunkByteLen:       make(map[uint32]int),
		ChunkChecksums:     make(map[uint32]string),
		State:              core.SessionOpen,
	}
	return core.BeginOutcome{SessionID: id, State: core.SessionOpen}, nil
}

func (f *fakeSessions) PutChunk(ctx context.Context, id core.SessionID, index uint32, data []byte) error {
	s, ok := f.sessions[id]
	if !ok {
		return core.NotFound("session %d not found", uint64(id))
	}
	s.Received[index] = true
	s.ChunkByteLen[index] = len(data)
	return nil
}

func (f *fakeSessions) Abort(ctx context.Context, id core.SessionID) error {
	s, ok := f.sessions[id]
	if !ok {
		return core.NotFound("session %d not found", uint64(id))
	}
	s.State = core.SessionAborted
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, id core.SessionID) (core.UploadSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return core.UploadSession{}, core.NotFound("session %d not found", uint64(id))
	}
	return *s, nil
}

func (f *fakeSessions) BeginFinalize(ctx context.Context, id core.SessionID) (core.UploadSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return core.UploadSession{}, core.NotFound("session %d not found", uint64(id))
	}
	if s.State != core.SessionOpen {
		return core.UploadSession{}, core.InvalidState("session %d is %s, not Open", uint64(id), s.State)
	}
	s.State = core.SessionFinalizing
	return *s, nil
}

func (f *fakeSessions) RevertToOpen(ctx context.Context, id core.SessionID) error {
	s, ok := f.sessions[id]
	if !ok {
		return core.NotFound("session %d not found", uint64(id))
	}
	s.State = core.SessionOpen
	return nil
}

func (f *fakeSessions) CommitFinalize(ctx context.Context, id core.SessionID, blobID core.BlobID) error {
	s, ok := f.sessions[id]
	if !ok {
		return core.NotFound("session %d not found", uint64(id))
	}
	s.State = core.SessionCommitted
	s.CommittedBlobID = blobID
	return nil
}

// fakeBlobs is a minimal in-memory core.BlobRegistry.
type fakeBlobs struct {
	next  int
	metas map[core.BlobID]*core.BlobMeta
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{metas: make(map[core.BlobID]*core.BlobMeta)} }

func (f *fakeBlobs) Alloc(ctx context.Context, capsuleID core.CapsuleID, size uint64, sha256 [32]byte, chunkCount, chunkSize uint32) (core.BlobMeta, error) {
	f.next++
	id := core.BlobID(fmt.Sprintf("blob_%d", f.next))
	meta := core.BlobMeta{BlobID: id, Size: size, SHA256: sha256, ChunkCount: chunkCount, ChunkSize: chunkSize}
	f.metas[id] = &meta
	return meta, nil
}

func (f *fakeBlobs) GetMeta(ctx context.Context, id core.BlobID) (core.BlobMeta, error) {
	m, ok := f.metas[id]
	if !ok || m.DeletedAt != nil {
		return core.BlobMeta{}, core.NotFound("blob %s not found", id)
	}
	return *m, nil
}

func (f *fakeBlobs) DeleteIfUnreferenced(ctx context.Context, id core.BlobID) (bool, error) {
	m, ok := f.metas[id]
	if !ok {
		return false, core.NotFound("blob %s not found", id)
	}
	if m.RefCount != 0 {
		return false, nil
	}
	delete(f.metas, id)
	return true, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSessions, *fakeBlobs, *chunkstore.Store) {
	t.Helper()
	sessions := newFakeSessions()
	blobs := newFakeBlobs()
	chunks, err := chunkstore.New(chunkstore.Config{BasePath: t.TempDir(), DataShards: 4, ParityShards: 2}, logger.NewLogger("test"))
	if err != nil {
		t.Fatalf("chunkstore.New: %v", err)
	}
	eng := New(Config{
		Sessions: sessions,
		Chunks:   chunks,
		Blobs:    blobs,
		Authz:    allowAll{},
		Logger:   logger.NewLogger("test"),
	})
	return eng, sessions, blobs, chunks
}

type allowAll struct{}

func (allowAll) MayWrite(ctx context.Context, caller string, capsuleID core.CapsuleID) bool {
	return true
}

func TestUploadsFinishHappyPath(t *testing.T) {
	eng, sessions, _, chunks := newTestEngine(t)
	ctx := context.Background()
	capsuleID := uuid.New()

	outcome, err := eng.UploadsBegin(ctx, "alice", capsuleID, 2, "idem-1")
	if err != nil {
		t.Fatalf("UploadsBegin: %v", err)
	}

	payload := []byte("hello world, this is chunked content")
	half := len(payload) / 2
	sessionObjectID := fmt.Sprint(uint64(outcome.SessionID))
	if err := chunks.Put(chunkstore.NamespaceSessions, sessionObjectID, 0, payload[:half]); err != nil {
		t.Fatalf("stage chunk 0: %v", err)
	}
	if err := chunks.Put(chunkstore.NamespaceSessions, sessionObjectID, 1, payload[half:]); err != nil {
		t.Fatalf("stage chunk 1: %v", err)
	}
	if err := sessions.PutChunk(ctx, outcome.SessionID, 0, payload[:half]); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	if err := sessions.PutChunk(ctx, outcome.SessionID, 1, payload[half:]); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	sum := sha256.Sum256(payload)
	result, err := eng.UploadsFinish(ctx, "alice", capsuleID, outcome.SessionID, sum, uint64(len(payload)))
	if err != nil {
		t.Fatalf("UploadsFinish: %v", err)
	}
	if result.BlobID == "" {
		t.Fatal("expected a non-empty blob id")
	}

	got, err := chunks.Get(chunkstore.NamespaceBlobs, string(result.BlobID), 0)
	if err != nil {
		t.Fatalf("Get moved chunk: %v", err)
	}
	if string(got) != string(payload[:half]) {
		t.Fatal("moved chunk content does not match what was staged")
	}
}

func TestUploadsFinishIncompleteUpload(t *testing.T) {
	eng, sessions, _, _ := newTestEngine(t)
	ctx := context.Background()
	capsuleID := uuid.New()

	outcome, err := eng.UploadsBegin(ctx, "alice", capsuleID, 3, "idem-2")
	if err != nil {
		t.Fatalf("UploadsBegin: %v", err)
	}
	if err := sessions.PutChunk(ctx, outcome.SessionID, 0, []byte("only one chunk")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	var sum [32]byte
	_, err = eng.UploadsFinish(ctx, "alice", capsuleID, outcome.SessionID, sum, 100)
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindIncompleteUpload {
		t.Fatalf("got %v, want IncompleteUpload", err)
	}

	sess, getErr := eng.UploadsStatus(ctx, outcome.SessionID)
	if getErr != nil {
		t.Fatalf("UploadsStatus: %v", getErr)
	}
	if sess.State != core.SessionOpen {
		t.Fatalf("got state %s, want Open after incomplete finish reverts", sess.State)
	}
}

func TestUploadsFinishHashMismatchRevertsToOpen(t *testing.T) {
	eng, sessions, _, chunks := newTestEngine(t)
	ctx := context.Background()
	capsuleID := uuid.New()

	outcome, err := eng.UploadsBegin(ctx, "alice", capsuleID, 1, "idem-3")
	if err != nil {
		t.Fatalf("UploadsBegin: %v", err)
	}
	payload := []byte("exact bytes")
	sessionObjectID := fmt.Sprint(uint64(outcome.SessionID))
	if err := chunks.Put(chunkstore.NamespaceSessions, sessionObjectID, 0, payload); err != nil {
		t.Fatalf("stage chunk: %v", err)
	}
	if err := sessions.PutChunk(ctx, outcome.SessionID, 0, payload); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	var wrongSum [32]byte
	_, err = eng.UploadsFinish(ctx, "alice", capsuleID, outcome.SessionID, wrongSum, uint64(len(payload)))
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindHashMismatch {
		t.Fatalf("got %v, want HashMismatch", err)
	}

	sess, err := eng.UploadsStatus(ctx, outcome.SessionID)
	if err != nil {
		t.Fatalf("UploadsStatus: %v", err)
	}
	if sess.State != core.SessionOpen {
		t.Fatalf("got state %s, want Open after hash mismatch reverts", sess.State)
	}
}

func TestBlobDeleteRejectsReferencedBlob(t *testing.T) {
	eng, _, blobs, _ := newTestEngine(t)
	ctx := context.Background()
	capsuleID := uuid.New()

	meta, err := blobs.Alloc(ctx, capsuleID, 10, sha256.Sum256([]byte("x")), 1, core.ChunkSizeMax)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	blobs.metas[meta.BlobID].RefCount = 1

	err = eng.BlobDelete(ctx, "alice", capsuleID, meta.BlobID)
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindInvalidArgument {
		t.Fatalf("got %v, want InvalidArgument for a still-referenced blob", err)
	}
}

func TestBlobDeleteSucceedsWhenUnreferenced(t *testing.T) {
	eng, _, blobs, chunks := newTestEngine(t)
	ctx := context.Background()
	capsuleID := uuid.New()

	meta, err := blobs.Alloc(ctx, capsuleID, 10, sha256.Sum256([]byte("x")), 1, core.ChunkSizeMax)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := chunks.Put(chunkstore.NamespaceBlobs, string(meta.BlobID), 0, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := eng.BlobDelete(ctx, "alice", capsuleID, meta.BlobID); err != nil {
		t.Fatalf("BlobDelete: %v", err)
	}
	if _, err := eng.BlobGetMeta(ctx, meta.BlobID); err == nil {
		t.Fatal("expected blob to be gone after delete")
	}
}

func TestUploadsBeginDeniedByAuthz(t *testing.T) {
	sessions := newFakeSessions()
	eng := New(Config{
		Sessions: sessions,
		Authz:    denyAll{},
		Logger:   logger.NewLogger("test"),
	})
	_, err := eng.UploadsBegin(context.Background(), "mallory", uuid.New(), 1, "idem")
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindUnauthorized {
		t.Fatalf("got %v, want Unauthorized", err)
	}
}

type denyAll struct{}

func (denyAll) MayWrite(ctx context.Context, caller string, capsuleID core.CapsuleID) bool { return false }

func TestMemoriesCreateLegacyRejectsBothAssetKinds(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	blobID := core.BlobID("blob_1")
	_, err := eng.MemoriesCreate(context.Background(), "alice", uuid.New(), []byte("inline"), &blobID, nil, "idem")
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindInvalidArgument {
		t.Fatalf("got %v, want InvalidArgument when both inline and blob_ref are set", err)
	}
}

func TestMemoriesCreateLegacyRejectsNeitherAssetKind(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	_, err := eng.MemoriesCreate(context.Background(), "alice", uuid.New(), nil, nil, nil, "idem")
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindInvalidArgument {
		t.Fatalf("got %v, want InvalidArgument when neither inline nor blob_ref is set", err)
	}
}

func TestRateLimiterSetPerCapsule(t *testing.T) {
	set := newRateLimiterSet(1)
	capsuleA := uuid.New()
	capsuleB := uuid.New()

	if !set.Allow(capsuleA) {
		t.Fatal("first request for capsule A should be allowed")
	}
	if set.Allow(capsuleA) {
		t.Fatal("second immediate request for capsule A should be rate-limited")
	}
	if !set.Allow(capsuleB) {
		t.Fatal("capsule B has its own bucket and should be allowed")
	}
}
