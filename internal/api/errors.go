package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expertgate/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:      http.StatusBadRequest,
	apperr.KindUnauthenticated: http.StatusUnauthorized,
	apperr.KindForbidden:       http.StatusForbidden,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindUpstream:        http.StatusBadGateway,
}

// respondError writes err as {"error": msg} with the status of its kind.
// Upstream and internal causes are logged, never sent.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	switch kind {
	case apperr.KindUpstream:
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "agent invocation failed, try again", "detail": apperr.Message(err)})
	case apperr.KindValidation, apperr.KindUnauthenticated, apperr.KindForbidden, apperr.KindNotFound, apperr.KindConflict:
		c.JSON(status, gin.H{"error": apperr.Message(err)})
	default:
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error"})
	}
}

// bindJSON decodes the request body and reports malformed JSON as a validation error
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}
