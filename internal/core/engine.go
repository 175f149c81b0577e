package core

import (
	"context"
)

// SessionManager is the subset of uploadsession.Manager the engine depends
// on. Defined here, implemented there, to keep core free of a Redis import.
type SessionManager interface {
	Begin(ctx context.Context, capsuleID CapsuleID, caller string, chunkCount uint32, idem string) (BeginOutcome, error)
	PutChunk(ctx context.Context, id SessionID, index uint32, data []byte) error
	Abort(ctx context.Context, id SessionID) error
	Get(ctx context.Context, id SessionID) (UploadSession, error)
	BeginFinalize(ctx context.Context, id SessionID) (UploadSession, error)
	RevertToOpen(ctx context.Context, id SessionID) error
	CommitFinalize(ctx context.Context, id SessionID, blobID BlobID) error
}

// ChunkStore is the subset of chunkstore.Store the engine depends on.
type ChunkStore interface {
	Put(namespace, objectID string, index uint32, data []byte) error
	Get(namespace, objectID string, index uint32) ([]byte, error)
	RemoveAll(namespace, objectID string) error
	Move(srcNamespace, srcID, dstNamespace, dstID string) error
}

// BlobRegistry is the subset of blobregistry.Registry the engine depends on.
type BlobRegistry interface {
	Alloc(ctx context.Context, capsuleID CapsuleID, size uint64, sha256 [32]byte, chunkCount, chunkSize uint32) (BlobMeta, error)
	GetMeta(ctx context.Context, id BlobID) (BlobMeta, error)
	DeleteIfUnreferenced(ctx context.Context, id BlobID) (bool, error)
}

// MemoryStore is the subset of memorystore.Store the engine depends on.
type MemoryStore interface {
	CreateWithAssets(ctx context.Context, capsuleID CapsuleID, caller string, metadata map[string]interface{}, blobAssets []InternalBlobAsset, inlineAssets []InlineAsset, idem string) (MemoryID, error)
	Read(ctx context.Context, memoryID MemoryID) (MemoryRecord, error)
	Delete(ctx context.Context, memoryID MemoryID, deleteAssets bool) error
}

// CapsuleRegistry is the subset of capsule.Registry the engine depends on.
type CapsuleRegistry interface {
	Create(ctx context.Context, seed *CapsuleID) (CapsuleID, error)
}

// AuthzHook gates every mutating operation.
type AuthzHook interface {
	MayWrite(ctx context.Context, caller string, capsuleID CapsuleID) bool
}
