package api

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/middleware"
)

type beginUploadRequest struct {
	ChunkCount uint32 `json:"chunk_count"`
	Idem       string `json:"idem"`
}

func (s *Server) handleUploadsBegin(c *gin.Context) {
	capsuleID, err := uuid.Parse(c.Param("capsule_id"))
	if err != nil {
		writeError(c, core.InvalidArgument("invalid capsule_id: %v", err))
		return
	}
	var req beginUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.InvalidArgument("invalid request body: %v", err))
		return
	}

	outcome, err := s.engine.UploadsBegin(c.Request.Context(), middleware.Caller(c), capsuleID, req.ChunkCount, req.Idem)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":        outcome.SessionID,
		"state":             outcome.State,
		"committed_blob_id": outcome.CommittedBlobID,
	})
}

func parseSessionID(c *gin.Context) (core.SessionID, error) {
	n, err := strconv.ParseUint(c.Param("session_id"), 10, 64)
	if err != nil {
		return 0, core.InvalidArgument("invalid session_id: %v", err)
	}
	return core.SessionID(n), nil
}

func (s *Server) handleUploadsPutChunk(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	index64, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		writeError(c, core.InvalidArgument("invalid chunk index: %v", err))
		return
	}

	sess, err := s.engine.UploadsStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !s.engine.AllowUpload(sess.CapsuleID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited", "message": "upload rate limit exceeded for this capsule"})
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		writeError(c, core.InvalidArgument("failed to read chunk body: %v", err))
		return
	}

	if err := s.engine.UploadsPutChunk(c.Request.Context(), middleware.Caller(c), sess.CapsuleID, sessionID, uint32(index64), data); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type finishUploadRequest struct {
	ExpectedSHA256 string `json:"expected_sha256"`
	ExpectedLen    uint64 `json:"expected_len"`
}

func (s *Server) handleUploadsFinish(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req finishUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.InvalidArgument("invalid request body: %v", err))
		return
	}
	digest, err := hex.DecodeString(req.ExpectedSHA256)
	if err != nil || len(digest) != 32 {
		writeError(c, core.InvalidArgument("expected_sha256 must be 32 hex-encoded bytes"))
		return
	}
	var expectedSHA256 [32]byte
	copy(expectedSHA256[:], digest)

	sess, err := s.engine.UploadsStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := s.engine.UploadsFinish(c.Request.Context(), middleware.Caller(c), sess.CapsuleID, sessionID, expectedSHA256, req.ExpectedLen)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blob_id": result.BlobID})
}

func (s *Server) handleUploadsAbort(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := s.engine.UploadsStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.engine.UploadsAbort(c.Request.Context(), middleware.Caller(c), sess.CapsuleID, sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleUploadsStatus is a supplemented read-only endpoint reporting upload
// progress, not part of the closed operation surface but grounded on the
// teacher's upload-progress handler.
func (s *Server) handleUploadsStatus(c *gin.Context) {
	sessionID, err := parseSessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := s.engine.UploadsStatus(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":            sess.SessionID,
		"state":                 sess.State,
		"expected_chunk_count":  sess.ExpectedChunkCount,
		"received_chunk_count":  sess.ReceivedCount(),
		"staged_bytes_total":    sess.StagedBytesTotal,
		"created_at":            sess.CreatedAt,
		"last_activity_at":      sess.LastActivityAt,
	})
}
