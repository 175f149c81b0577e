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

func (s *Server) handleBlobGetMeta(c *gin.Context) {
	id := core.BlobID(c.Param("blob_id"))
	meta, err := s.engine.BlobGetMeta(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blob_id":     meta.BlobID,
		"size":        meta.Size,
		"sha256":      hex.EncodeToString(meta.SHA256[:]),
		"chunk_count": meta.ChunkCount,
		"chunk_size":  meta.ChunkSize,
		"uploaded_at": meta.UploadedAt,
		"ref_count":   meta.RefCount,
	})
}

func (s *Server) handleBlobReadChunk(c *gin.Context) {
	id := core.BlobID(c.Param("blob_id"))
	index, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		writeError(c, core.InvalidArgument("invalid chunk index: %v", err))
		return
	}
	data, err := s.engine.BlobReadChunk(c.Request.Context(), id, uint32(index))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleBlobRead(c *gin.Context) {
	id := core.BlobID(c.Param("blob_id"))
	data, err := s.engine.BlobRead(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// blob_delete's input table carries only blob_id; clients supply the
// capsule scope via ?capsule_id for the authorization hook to check against.
func (s *Server) handleBlobDelete(c *gin.Context) {
	id := core.BlobID(c.Param("blob_id"))
	capsuleID, err := uuid.Parse(c.Query("capsule_id"))
	if err != nil {
		writeError(c, core.InvalidArgument("capsule_id query parameter is required and must be a valid id: %v", err))
		return
	}
	if err := s.engine.BlobDelete(c.Request.Context(), middleware.Caller(c), capsuleID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
