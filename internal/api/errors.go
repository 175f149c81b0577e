package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

// writeError maps a core.Error's Kind onto the closed status-code table and
// writes it as the response body. Any other error is treated as Internal.
func writeError(c *gin.Context, err error) {
	ce, ok := core.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": err.Error()})
		return
	}
	c.JSON(statusFor(ce.Kind), gin.H{"error": string(ce.Kind), "message": ce.Message})
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidArgument, core.KindOutOfRange, core.KindLengthMismatch, core.KindHashMismatch, core.KindIncompleteUpload:
		return http.StatusBadRequest
	case core.KindInvalidState:
		return http.StatusConflict
	case core.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.KindConflict, core.KindAlreadyExists:
		return http.StatusConflict
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
