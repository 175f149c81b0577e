package core

import (
	"time"

	"github.com/google/uuid"
)

// BlobID is an opaque, process-unique identifier with the literal prefix
// "blob_" followed by a monotonic decimal. Stable for the lifetime of the blob.
type BlobID string

// SessionID identifies an in-flight upload session.
type SessionID uint64

// CapsuleID is the opaque access-control scope the core trusts an
// authorization hook to have already validated.
type CapsuleID = uuid.UUID

// MemoryID identifies a memory record.
type MemoryID = uuid.UUID

// SessionState is the upload session's lifecycle state.
type SessionState string

const (
	SessionOpen       SessionState = "Open"
	SessionFinalizing SessionState = "Finalizing"
	SessionCommitted  SessionState = "Committed"
	SessionAborted    SessionState = "Aborted"
)

// Hard limits observable to clients; MUST be preserved bit-for-bit.
const (
	ChunkSizeMax = 1_800_000
	InlineMax    = 32 * 1024
	BlobIDPrefix = "blob_"
)

// BlobMeta is immutable after finalization except RefCount and DeletedAt.
type BlobMeta struct {
	BlobID      BlobID
	Size        uint64
	SHA256      [32]byte
	ChunkCount  uint32
	ChunkSize   uint32
	UploadedAt  time.Time
	RefCount    uint32
	DeletedAt   *time.Time
}

// UploadSession is the mutable, short-lived state of an in-flight upload.
type UploadSession struct {
	SessionID           SessionID
	CapsuleID           CapsuleID
	Caller              string
	IdemKey             string
	ExpectedChunkCount  uint32
	Received            map[uint32]bool
	ChunkByteLen        map[uint32]int
	ChunkChecksums      map[uint32]string // sha256 hex, for duplicate-index equality checks
	StagedBytesTotal    int64
	State               SessionState
	CreatedAt           time.Time
	LastActivityAt      time.Time
	CommittedBlobID     BlobID // set once State == Committed
}

// ReceivedCount returns how many distinct chunk indices have been accepted.
func (s *UploadSession) ReceivedCount() int { return len(s.Received) }

// AssetMetadata is an opaque bag the core round-trips verbatim. The core
// reads none of its fields, name and mime_type included.
type AssetMetadata map[string]interface{}

// InternalBlobAsset references a live blob by id from within a memory.
type InternalBlobAsset struct {
	BlobID       BlobID
	AssetMeta    AssetMetadata
}

// InlineAsset embeds bytes directly in a memory record, bounded by InlineMax.
type InlineAsset struct {
	Bytes     []byte
	AssetMeta AssetMetadata
}

// MemoryRecord aggregates metadata, internal blob references, and inline assets.
type MemoryRecord struct {
	MemoryID          MemoryID
	CapsuleID         CapsuleID
	Metadata          map[string]interface{}
	BlobAssets        []InternalBlobAsset
	InlineAssets      []InlineAsset
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// UploadFinishResult is returned by uploads_finish on success.
type UploadFinishResult struct {
	BlobID BlobID
}

// BeginOutcome is returned by uploads_begin. A fresh call always returns
// State == SessionOpen with a new SessionID. An idempotent replay against a
// non-terminal session returns the same SessionID and its current state; a
// replay against a terminal session returns the terminal outcome instead of
// erroring, with CommittedBlobID set when State == SessionCommitted.
type BeginOutcome struct {
	SessionID       SessionID
	State           SessionState
	CommittedBlobID BlobID
}
