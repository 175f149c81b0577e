package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
	"github.com/552020/futura-alpha-icp-sub003/internal/middleware"
)

type blobAssetRequest struct {
	BlobID        string                 `json:"blob_id"`
	AssetMetadata map[string]interface{} `json:"asset_metadata"`
}

type inlineAssetRequest struct {
	Bytes         string                 `json:"bytes"` // base64-encoded
	AssetMetadata map[string]interface{} `json:"asset_metadata"`
}

type createMemoryRequest struct {
	CapsuleID      string                 `json:"capsule_id"`
	MemoryMetadata map[string]interface{} `json:"memory_metadata"`
	BlobAssets     []blobAssetRequest     `json:"blob_assets"`
	InlineAssets   []inlineAssetRequest   `json:"inline_assets"`
	Idem           string                 `json:"idem"`
}

func (s *Server) handleMemoriesCreate(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.InvalidArgument("invalid request body: %v", err))
		return
	}
	capsuleID, err := uuid.Parse(req.CapsuleID)
	if err != nil {
		writeError(c, core.InvalidArgument("invalid capsule_id: %v", err))
		return
	}

	blobAssets := make([]core.InternalBlobAsset, len(req.BlobAssets))
	for i, a := range req.BlobAssets {
		blobAssets[i] = core.InternalBlobAsset{BlobID: core.BlobID(a.BlobID), AssetMeta: a.AssetMetadata}
	}
	inlineAssets := make([]core.InlineAsset, len(req.InlineAssets))
	for i, a := range req.InlineAssets {
		raw, err := base64.StdEncoding.DecodeString(a.Bytes)
		if err != nil {
			writeError(c, core.InvalidArgument("inline asset %d: bytes must be base64: %v", i, err))
			return
		}
		inlineAssets[i] = core.InlineAsset{Bytes: raw, AssetMeta: a.AssetMetadata}
	}

	memoryID, err := s.engine.MemoriesCreateWithInternalBlobsAndInlineAssets(
		c.Request.Context(), middleware.Caller(c), capsuleID, req.MemoryMetadata, blobAssets, inlineAssets, req.Idem)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory_id": memoryID})
}

type createMemoryLegacyRequest struct {
	CapsuleID     string                 `json:"capsule_id"`
	InlineBytes   string                 `json:"inline_bytes,omitempty"` // base64
	BlobRef       string                 `json:"blob_ref,omitempty"`
	AssetMetadata map[string]interface{} `json:"asset_metadata"`
	Idem          string                 `json:"idem"`
}

func (s *Server) handleMemoriesCreateLegacy(c *gin.Context) {
	var req createMemoryLegacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.InvalidArgument("invalid request body: %v", err))
		return
	}
	capsuleID, err := uuid.Parse(req.CapsuleID)
	if err != nil {
		writeError(c, core.InvalidArgument("invalid capsule_id: %v", err))
		return
	}

	var inline []byte
	if req.InlineBytes != "" {
		inline, err = base64.StdEncoding.DecodeString(req.InlineBytes)
		if err != nil {
			writeError(c, core.InvalidArgument("inline_bytes must be base64: %v", err))
			return
		}
	}
	var blobRef *core.BlobID
	if req.BlobRef != "" {
		id := core.BlobID(req.BlobRef)
		blobRef = &id
	}

	memoryID, err := s.engine.MemoriesCreate(c.Request.Context(), middleware.Caller(c), capsuleID, inline, blobRef, req.AssetMetadata, req.Idem)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory_id": memoryID})
}

func (s *Server) handleMemoriesRead(c *gin.Context) {
	memoryID, err := uuid.Parse(c.Param("memory_id"))
	if err != nil {
		writeError(c, core.InvalidArgument("invalid memory_id: %v", err))
		return
	}
	rec, err := s.engine.MemoriesRead(c.Request.Context(), memoryID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleMemoriesDelete(c *gin.Context) {
	memoryID, err := uuid.Parse(c.Param("memory_id"))
	if err != nil {
		writeError(c, core.InvalidArgument("invalid memory_id: %v", err))
		return
	}
	capsuleID, err := uuid.Parse(c.Query("capsule_id"))
	if err != nil {
		writeError(c, core.InvalidArgument("capsule_id query parameter is required and must be a valid id: %v", err))
		return
	}
	deleteAssets := c.Query("delete_assets") == "true"

	if err := s.engine.MemoriesDelete(c.Request.Context(), middleware.Caller(c), capsuleID, memoryID, deleteAssets); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
