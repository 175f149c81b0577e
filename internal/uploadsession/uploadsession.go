// Package uploadsession is the Session Manager: it owns in-flight
// UploadSession records end to end (admission, chunk acceptance, abort,
// expiry, idempotency) backed by Redis, whose native per-key TTL maps
// naturally onto SESSION_IDLE_TTL and IDEM_RETENTION without a cron table
// scan. Chunk bytes themselves are staged in the chunk store, never in Redis.
package uploadsession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/552020/futura-alpha-icp-sub003/internal/chunkstore"
	"github.com/552020/futura-alpha-icp-sub003/internal/clockid"
	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
)

const (
	sessionKeyPrefix = "upload:session:"
	idemKeyPrefix    = "upload:idem:"
)

// Config holds the Session Manager's tunables.
type Config struct {
	IdleTTL       time.Duration // SESSION_IDLE_TTL
	IdemRetention time.Duration // IDEM_RETENTION, counted from the terminal transition
	MaxChunks     int
}

// Manager is the Redis-backed Session Manager.
type Manager struct {
	rdb    *redis.Client
	chunks *chunkstore.Store
	ids    *clockid.SessionIDSource
	clk    clockid.Clock
	cfg    Config
	logger *logger.Logger

	locksMu sync.Mutex
	locks   map[core.SessionID]*sync.Mutex
}

func New(rdb *redis.Client, chunks *chunkstore.Store, ids *clockid.SessionIDSource, clk clockid.Clock, cfg Config, l *logger.Logger) *Manager {
	return &Manager{
		rdb:    rdb,
		chunks: chunks,
		ids:    ids,
		clk:    clk,
		cfg:    cfg,
		logger: l,
		locks:  make(map[core.SessionID]*sync.Mutex),
	}
}

// RecoverIDFloor scans the live session keyspace for the highest session id
// still outstanding, so a restarted process can resume SessionIDSource above
// it instead of risking a freshly-minted id colliding with a still-live,
// non-terminal session. Returns 0 when no sessions are live.
func RecoverIDFloor(ctx context.Context, rdb *redis.Client) (uint64, error) {
	var floor uint64
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, core.Internal(err, "scan session keys")
		}
		for _, key := range keys {
			id, err := strconv.ParseUint(key[len(sessionKeyPrefix):], 10, 64)
			if err != nil {
				continue
			}
			if id > floor {
				floor = id
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return floor, nil
}

// lockFor serializes chunk acceptance within a single session, per the
// concurrency model's one-writer-at-a-time requirement.
func (m *Manager) lockFor(id core.SessionID) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func sessionKey(id core.SessionID) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, uint64(id))
}

func idemKey(capsuleID, caller, idem string) string {
	return fmt.Sprintf("%s%s:%s:%s", idemKeyPrefix, capsuleID, caller, idem)
}

// touchIdemKey extends the idempotency record's TTL alongside the session
// record's own TTL. A no-op when the session wasn't given an idempotency key.
func (m *Manager) touchIdemKey(ctx context.Context, sess *core.UploadSession, ttl time.Duration) error {
	if sess.IdemKey == "" {
		return nil
	}
	key := idemKey(sess.CapsuleID.String(), sess.Caller, sess.IdemKey)
	if err := m.rdb.Expire(ctx, key, ttl).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return core.Internal(err, "extend idempotency retention for session %d", uint64(sess.SessionID))
	}
	return nil
}

func (m *Manager) save(ctx context.Context, sess *core.UploadSession, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return core.Internal(err, "marshal session %d", sess.SessionID)
	}
	if err := m.rdb.Set(ctx, sessionKey(sess.SessionID), data, ttl).Err(); err != nil {
		return core.Internal(err, "persist session %d", sess.SessionID)
	}
	return nil
}

func (m *Manager) rawLoad(ctx context.Context, id core.SessionID) (*core.UploadSession, error) {
	data, err := m.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.NotFound("session %d not found", uint64(id))
	}
	if err != nil {
		return nil, core.Internal(err, "load session %d", uint64(id))
	}
	var sess core.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, core.Internal(err, "unmarshal session %d", uint64(id))
	}
	return &sess, nil
}

// load fetches a session and, if it has gone idle past IdleTTL while still
// non-terminal, expires it in place before returning it.
func (m *Manager) load(ctx context.Context, id core.SessionID) (*core.UploadSession, error) {
	sess, err := m.rawLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.isStale(sess) {
		if err := m.expireInPlace(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (m *Manager) isStale(sess *core.UploadSession) bool {
	if sess.State != core.SessionOpen && sess.State != core.SessionFinalizing {
		return false
	}
	return m.clk.Now().Sub(sess.LastActivityAt) > m.cfg.IdleTTL
}

func (m *Manager) expireInPlace(ctx context.Context, sess *core.UploadSession) error {
	sess.State = core.SessionAborted
	if err := m.chunks.RemoveAll(chunkstore.NamespaceSessions, fmt.Sprint(uint64(sess.SessionID))); err != nil {
		return err
	}
	if err := m.touchIdemKey(ctx, sess, m.cfg.IdemRetention); err != nil {
		return err
	}
	return m.save(ctx, sess, m.cfg.IdemRetention)
}

// Begin implements uploads_begin, including idempotent replay per S2.
func (m *Manager) Begin(ctx context.Context, capsuleID uuid.UUID, caller string, chunkCount uint32, idem string) (core.BeginOutcome, error) {
	if chunkCount == 0 {
		return core.BeginOutcome{}, core.InvalidArgument("chunk_count must be greater than zero")
	}
	if int(chunkCount) > m.cfg.MaxChunks {
		return core.BeginOutcome{}, core.InvalidArgument("chunk_count %d exceeds maximum of %d", chunkCount, m.cfg.MaxChunks)
	}

	key := idemKey(capsuleID.String(), caller, idem)
	if idem != "" {
		sidStr, err := m.rdb.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return core.BeginOutcome{}, core.Internal(err, "load idempotency record")
		}
		if err == nil {
			sid, parseErr := strconv.ParseUint(sidStr, 10, 64)
			if parseErr != nil {
				return core.BeginOutcome{}, core.Internal(parseErr, "parse idempotency record")
			}
			sess, loadErr := m.load(ctx, core.SessionID(sid))
			if loadErr == nil {
				if sess.ExpectedChunkCount != chunkCount {
					return core.BeginOutcome{}, core.Conflict("idempotency key %q already used with chunk_count %d", idem, sess.ExpectedChunkCount)
				}
				return core.BeginOutcome{SessionID: sess.SessionID, State: sess.State, CommittedBlobID: sess.CommittedBlobID}, nil
			}
			// The session record expired out from under a live idempotency
			// key (clock skew between the two TTLs); fall through and mint
			// a fresh session rather than surface an internal error.
		}
	}

	sid := m.ids.Next()
	now := m.clk.Now()
	sess := &core.UploadSession{
		SessionID:          sid,
		CapsuleID:          capsuleID,
		Caller:             caller,
		IdemKey:            idem,
		ExpectedChunkCount: chunkCount,
		Received:           make(map[uint32]bool),
		ChunkByteLen:       make(map[uint32]int),
		ChunkChecksums:     make(map[uint32]string),
		State:              core.SessionOpen,
		CreatedAt:          now,
		LastActivityAt:     now,
	}
	if err := m.save(ctx, sess, m.cfg.IdleTTL); err != nil {
		return core.BeginOutcome{}, err
	}
	if idem != "" {
		if err := m.rdb.Set(ctx, key, strconv.FormatUint(uint64(sid), 10), m.cfg.IdleTTL).Err(); err != nil {
			return core.BeginOutcome{}, core.Internal(err, "persist idempotency record")
		}
	}
	return core.BeginOutcome{SessionID: sid, State: core.SessionOpen}, nil
}

// PutChunk implements uploads_put_chunk, rejecting on the earliest failing
// predicate in the fixed order the algorithm requires.
func (m *Manager) PutChunk(ctx context.Context, id core.SessionID, index uint32, data []byte) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if sess.State != core.SessionOpen {
		return core.InvalidState("session %d is not open", uint64(id))
	}
	if index >= sess.ExpectedChunkCount {
		return core.OutOfRange("chunk index %d out of range [0, %d)", index, sess.ExpectedChunkCount)
	}
	if len(data) > core.ChunkSizeMax {
		return core.TooLarge("chunk of %d bytes exceeds CHUNK_SIZE_MAX", len(data))
	}

	sum := sha256Hex(data)
	if sess.Received[index] && sess.ChunkChecksums[index] != sum {
		return core.Conflict("chunk index %d already received with different bytes", index)
	}

	if err := m.chunks.Put(chunkstore.NamespaceSessions, fmt.Sprint(uint64(id)), index, data); err != nil {
		return core.Internal(err, "stage chunk %d for session %d", index, uint64(id))
	}

	prevLen, hadPrev := sess.ChunkByteLen[index]
	sess.Received[index] = true
	sess.ChunkByteLen[index] = len(data)
	sess.ChunkChecksums[index] = sum
	if hadPrev {
		sess.StagedBytesTotal += int64(len(data) - prevLen)
	} else {
		sess.StagedBytesTotal += int64(len(data))
	}
	sess.LastActivityAt = m.clk.Now()

	if err := m.touchIdemKey(ctx, sess, m.cfg.IdleTTL); err != nil {
		return err
	}
	return m.save(ctx, sess, m.cfg.IdleTTL)
}

// Abort implements uploads_abort: idempotent once terminal.
func (m *Manager) Abort(ctx context.Context, id core.SessionID) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.rawLoad(ctx, id)
	if err != nil {
		return err
	}
	if sess.State == core.SessionCommitted || sess.State == core.SessionAborted {
		return nil
	}
	sess.State = core.SessionAborted
	sess.LastActivityAt = m.clk.Now()
	if err := m.chunks.RemoveAll(chunkstore.NamespaceSessions, fmt.Sprint(uint64(id))); err != nil {
		return err
	}
	if err := m.touchIdemKey(ctx, sess, m.cfg.IdemRetention); err != nil {
		return err
	}
	return m.save(ctx, sess, m.cfg.IdemRetention)
}

// Get returns a read-only snapshot of a session, honoring lazy expiry.
func (m *Manager) Get(ctx context.Context, id core.SessionID) (core.UploadSession, error) {
	sess, err := m.load(ctx, id)
	if err != nil {
		return core.UploadSession{}, err
	}
	return *sess, nil
}

// BeginFinalize transitions Open -> Finalizing and returns the snapshot the
// finalizer needs to verify and commit. Returns InvalidState if the session
// isn't Open.
func (m *Manager) BeginFinalize(ctx context.Context, id core.SessionID) (core.UploadSession, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return core.UploadSession{}, err
	}
	if sess.State != core.SessionOpen {
		return core.UploadSession{}, core.InvalidState("session %d is not open", uint64(id))
	}
	sess.State = core.SessionFinalizing
	sess.LastActivityAt = m.clk.Now()
	if err := m.touchIdemKey(ctx, sess, m.cfg.IdleTTL); err != nil {
		return core.UploadSession{}, err
	}
	if err := m.save(ctx, sess, m.cfg.IdleTTL); err != nil {
		return core.UploadSession{}, err
	}
	return *sess, nil
}

// RevertToOpen moves a Finalizing session back to Open after a failed
// verification, per the finalizer's retry-safety contract.
func (m *Manager) RevertToOpen(ctx context.Context, id core.SessionID) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.rawLoad(ctx, id)
	if err != nil {
		return err
	}
	if sess.State != core.SessionFinalizing {
		return nil
	}
	sess.State = core.SessionOpen
	return m.save(ctx, sess, m.cfg.IdleTTL)
}

// CommitFinalize transitions Finalizing -> Committed and records the blob.
func (m *Manager) CommitFinalize(ctx context.Context, id core.SessionID, blobID core.BlobID) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.rawLoad(ctx, id)
	if err != nil {
		return err
	}
	if sess.State != core.SessionFinalizing {
		return core.Internal(fmt.Errorf("unexpected state %s", sess.State), "commit session %d", uint64(id))
	}
	sess.State = core.SessionCommitted
	sess.CommittedBlobID = blobID
	sess.LastActivityAt = m.clk.Now()

	if err := m.touchIdemKey(ctx, sess, m.cfg.IdemRetention); err != nil {
		return err
	}
	return m.save(ctx, sess, m.cfg.IdemRetention)
}

// Sweep scans for idle, non-terminal sessions and aborts them. Run
// periodically by RunSweeper; load applies the same expiry lazily to the one
// session it reads.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	swept := 0
	var cursor uint64
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return swept, core.Internal(err, "scan session keys")
		}
		for _, key := range keys {
			data, err := m.rdb.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				m.logger.Error(fmt.Sprintf("sweep: read %s", key), err)
				continue
			}
			var sess core.UploadSession
			if err := json.Unmarshal(data, &sess); err != nil {
				m.logger.Error(fmt.Sprintf("sweep: unmarshal %s", key), err)
				continue
			}
			if !m.isStale(&sess) {
				continue
			}
			lock := m.lockFor(sess.SessionID)
			lock.Lock()
			if err := m.expireInPlace(ctx, &sess); err != nil {
				m.logger.Error(fmt.Sprintf("sweep: expire session %d", uint64(sess.SessionID)), err)
			} else {
				swept++
			}
			lock.Unlock()
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return swept, nil
}

// RunSweeper runs Sweep on a ticker until ctx is canceled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.logger.Error("session sweep failed", err)
			} else if n > 0 {
				m.logger.Info(fmt.Sprintf("session sweep expired %d idle session(s)", n))
			}
		}
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
