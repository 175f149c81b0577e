// Package chunkstore persists (namespace, object id, chunk index) -> bytes
// and exposes random-access chunk reads. Chunks are stored erasure-coded so
// a single underlying shard file can be lost without losing the chunk.
//
// Two namespaces share one store: "sessions" holds chunks staged by an
// in-flight upload session; "blobs" holds chunks owned by a finalized blob.
// uploads_finish transfers ownership between them with Move, an os.Rename
// of the object's directory — atomic at the filesystem level, never a copy.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
)

const (
	NamespaceSessions = "sessions"
	NamespaceBlobs    = "blobs"
)

// Config configures the on-disk layout and erasure parameters.
type Config struct {
	BasePath     string
	DataShards   int
	ParityShards int
}

// Store is the Chunk Store.
type Store struct {
	basePath string
	coder    *erasureCoder
	mu       sync.RWMutex
	logger   *logger.Logger
}

type chunkMeta struct {
	Size           int            `json:"size"`
	Checksum       string         `json:"checksum"`
	TotalShards    int            `json:"total_shards"`
	DataShards     int            `json:"data_shards"`
	ParityShards   int            `json:"parity_shards"`
	ShardChecksums map[int]string `json:"shard_checksums"`
}

// New creates a Store rooted at cfg.BasePath, creating it if necessary.
func New(cfg Config, l *logger.Logger) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("chunkstore: base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("chunkstore: create base directory: %w", err)
	}
	coder, err := newErasureCoder(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: %w", err)
	}
	return &Store{basePath: cfg.BasePath, coder: coder, logger: l}, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) objectDir(namespace, objectID string) string {
	return filepath.Join(s.basePath, namespace, objectID)
}

func (s *Store) chunkDir(namespace, objectID string, index uint32) string {
	return filepath.Join(s.objectDir(namespace, objectID), fmt.Sprintf("chunk-%d", index))
}

// Put stores bytes for (namespace, objectID, index), overwriting any prior
// write at that key.
func (s *Store) Put(namespace, objectID string, index uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.chunkDir(namespace, objectID, index)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("chunkstore: clear previous chunk: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("chunkstore: create chunk directory: %w", err)
	}

	shards, err := s.coder.encode(data)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("chunkstore: encode chunk: %w", err)
	}

	shardChecksums := make(map[int]string, len(shards))
	for i, shard := range shards {
		shardChecksums[i] = checksum(shard)
		path := filepath.Join(dir, fmt.Sprintf("shard-%d.bin", i))
		if err := os.WriteFile(path, shard, 0644); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("chunkstore: write shard %d: %w", i, err)
		}
	}

	meta := chunkMeta{
		Size:           len(data),
		Checksum:       checksum(data),
		TotalShards:    len(shards),
		DataShards:     s.coder.dataShards,
		ParityShards:   s.coder.parityShards,
		ShardChecksums: shardChecksums,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("chunkstore: marshal chunk metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), metaBytes, 0644); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("chunkstore: write chunk metadata: %w", err)
	}
	return nil
}

// Get reads back the bytes stored at (namespace, objectID, index).
func (s *Store) Get(namespace, objectID string, index uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.chunkDir(namespace, objectID, index)
	metaBytes, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if os.IsNotExist(err) {
		return nil, core.NotFound("chunk %s/%s/%d not found", namespace, objectID, index)
	}
	if err != nil {
		return nil, core.Internal(err, "read chunk metadata")
	}
	var meta chunkMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, core.Internal(err, "parse chunk metadata")
	}

	shards := make([][]byte, meta.TotalShards)
	for i := 0; i < meta.TotalShards; i++ {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("shard-%d.bin", i)))
		if err != nil {
			continue // erasure coding can tolerate missing shards
		}
		if expected, ok := meta.ShardChecksums[i]; ok && checksum(data) != expected {
			continue // treat a corrupt shard as missing
		}
		shards[i] = data
	}

	data, err := s.coder.decode(shards, meta.Size)
	if err != nil {
		return nil, core.Internal(err, "reconstruct chunk %s/%s/%d", namespace, objectID, index)
	}
	if checksum(data) != meta.Checksum {
		return nil, core.Internal(fmt.Errorf("checksum mismatch"), "reconstructed chunk %s/%s/%d failed verification", namespace, objectID, index)
	}
	return data, nil
}

// RemoveAll deletes every chunk stored under (namespace, objectID).
func (s *Store) RemoveAll(namespace, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.objectDir(namespace, objectID)); err != nil {
		return core.Internal(err, "remove chunks for %s/%s", namespace, objectID)
	}
	return nil
}

// Move transfers ownership of every chunk from (srcNamespace, srcID) to
// (dstNamespace, dstID) via directory rename: atomic, never a byte copy.
// A no-op (returns nil) if the source is gone and the destination already
// exists, so retrying a move that already succeeded is safe; if both are
// absent it returns an Internal error.
func (s *Store) Move(srcNamespace, srcID, dstNamespace, dstID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcDir := s.objectDir(srcNamespace, srcID)
	dstDir := s.objectDir(dstNamespace, dstID)

	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		if _, err := os.Stat(dstDir); err == nil {
			return nil // already moved by a prior attempt
		}
		return core.Internal(err, "move chunks: source %s missing and destination absent", srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(dstDir), 0755); err != nil {
		return core.Internal(err, "move chunks: prepare destination parent")
	}
	if err := os.Rename(srcDir, dstDir); err != nil {
		return core.Internal(err, "move chunks from %s to %s", srcDir, dstDir)
	}
	return nil
}
