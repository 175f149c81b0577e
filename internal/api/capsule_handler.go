package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

type createCapsuleRequest struct {
	Seed string `json:"seed,omitempty"`
}

func (s *Server) handleCapsulesCreate(c *gin.Context) {
	var req createCapsuleRequest
	_ = c.ShouldBindJSON(&req)

	var seed *core.CapsuleID
	if req.Seed != "" {
		id, err := uuid.Parse(req.Seed)
		if err != nil {
			writeError(c, core.InvalidArgument("seed is not a valid id: %v", err))
			return
		}
		seed = &id
	}

	id, err := s.engine.CapsulesCreate(c.Request.Context(), seed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
