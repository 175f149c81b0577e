package chunkstore

import (
	"bytes"
	"os"
	"testing"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{BasePath: dir, DataShards: 4, ParityShards: 2}, logger.NewLogger("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := []byte("the quick brown fox jumps over the lazy dog")
	if err := s.Put(NamespaceSessions, "sess-1", 0, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(NamespaceSessions, "sess-1", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetMissingChunkReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(NamespaceSessions, "sess-1", 0)
	ce, ok := core.As(err)
	if !ok || ce.Kind != core.KindNotFound {
		t.Fatalf("got %v, want a NotFound core.Error", err)
	}
}

func TestPutOverwritesPriorChunk(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(NamespaceSessions, "sess-1", 0, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(NamespaceSessions, "sess-1", 0, []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(NamespaceSessions, "sess-1", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}

func TestSurvivesMissingShards(t *testing.T) {
	s := newTestStore(t)
	want := bytes.Repeat([]byte("x"), 10_000)
	if err := s.Put(NamespaceBlobs, "blob_1", 3, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	dir := s.chunkDir(NamespaceBlobs, "blob_1", 3)
	if err := os.Remove(dir + "/shard-0.bin"); err != nil {
		t.Fatalf("remove shard: %v", err)
	}

	got, err := s.Get(NamespaceBlobs, "blob_1", 3)
	if err != nil {
		t.Fatalf("Get after losing a shard: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("reconstructed data does not match original")
	}
}

func TestMoveTransfersOwnership(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(NamespaceSessions, "sess-1", 0, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Move(NamespaceSessions, "sess-1", NamespaceBlobs, "blob_1"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := s.Get(NamespaceSessions, "sess-1", 0); err == nil {
		t.Fatal("expected source chunk to be gone after Move")
	}
	got, err := s.Get(NamespaceBlobs, "blob_1", 0)
	if err != nil {
		t.Fatalf("Get at destination: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestMoveIsIdempotentAfterSuccess(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(NamespaceSessions, "sess-1", 0, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Move(NamespaceSessions, "sess-1", NamespaceBlobs, "blob_1"); err != nil {
		t.Fatalf("first Move: %v", err)
	}
	if err := s.Move(NamespaceSessions, "sess-1", NamespaceBlobs, "blob_1"); err != nil {
		t.Fatalf("retried Move should be a no-op, got: %v", err)
	}
}

func TestRemoveAll(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(NamespaceBlobs, "blob_1", 0, []byte("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(NamespaceBlobs, "blob_1", 1, []byte("b")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.RemoveAll(NamespaceBlobs, "blob_1"); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if _, err := s.Get(NamespaceBlobs, "blob_1", 0); err == nil {
		t.Fatal("expected chunk 0 to be gone after RemoveAll")
	}
	if _, err := s.Get(NamespaceBlobs, "blob_1", 1); err == nil {
		t.Fatal("expected chunk 1 to be gone after RemoveAll")
	}
}
