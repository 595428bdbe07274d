package httpapi

import (
	"errors"
	"net/http"

	"fleet-ledger/internal/apperrors"
	"fleet-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errForbiddenScope = errors.New("scope not permitted for caller")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errForbiddenScope):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidStateTransition), errors.Is(err, apperrors.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNoActiveTenant):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrChainBroken):
		return http.StatusLocked
	case errors.Is(err, apperrors.ErrChainContention):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its class code. Internal errors are attached
// to the gin context for the request logger and their text is withheld.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": apperrors.Code(err), "message": err.Error()}

	var (
		te *apperrors.TransitionError
		cb *apperrors.ChainBrokenError
		ve *apperrors.ValidationError
	)
	switch {
	case errors.As(err, &te):
		body["current"] = te.Current
		body["required"] = te.Required
	case errors.As(err, &cb):
		body["scope"] = cb.Scope
		if cb.At > 0 {
			body["sequence_id"] = cb.At
		}
		logger.FromGin(c).Warn("request refused on broken audit chain",
			zap.String("scope", cb.Scope), zap.Int64("sequence_id", cb.At))
	case errors.As(err, &ve):
		body["field"] = ve.Field
	}

	switch status {
	case http.StatusForbidden:
		body["error"] = "forbidden"
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
	case http.StatusInternalServerError:
		_ = c.Error(err)
		body["message"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

func badJSON(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "invalid json: " + err.Error()})
}
