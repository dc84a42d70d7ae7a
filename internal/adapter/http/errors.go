package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightperks/points-backend/internal/domain"
)

// errorBody is the JSON error envelope: a stable machine-readable code plus
// a human-readable message.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapError translates domain errors to HTTP status codes.
// Mapping:
//   - validation            -> 400
//   - not found             -> 404
//   - budget/pool state     -> 409
//   - stale recipients      -> 409 (caller must re-preview)
//   - idempotency conflict  -> 409
//   - insufficient funds    -> 422
//   - monthly cap           -> 422
//   - integrity violation   -> 500 (pool already quarantined)
func mapError(c *gin.Context, err error) {
	var integrityErr *domain.IntegrityError

	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "VALIDATION", Message: err.Error()}})

	case errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrBudgetNotFound),
		errors.Is(err, domain.ErrTransferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{Code: "NOT_FOUND", Message: err.Error()}})

	case errors.Is(err, domain.ErrStaleRecipients):
		c.JSON(http.StatusConflict, gin.H{"error": errorBody{Code: "STALE_RECIPIENTS", Message: err.Error()}})

	case errors.Is(err, domain.ErrIdempotencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": errorBody{Code: "IDEMPOTENCY_CONFLICT", Message: err.Error()}})

	case errors.Is(err, domain.ErrBudgetState),
		errors.Is(err, domain.ErrAllocationExceedsBudget),
		errors.Is(err, domain.ErrPoolFrozen),
		errors.Is(err, domain.ErrPoolQuarantined):
		c.JSON(http.StatusConflict, gin.H{"error": errorBody{Code: "STATE_CONFLICT", Message: err.Error()}})

	case errors.Is(err, domain.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errorBody{Code: "INSUFFICIENT_FUNDS", Message: err.Error()}})

	case errors.Is(err, domain.ErrMonthlyCapExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errorBody{Code: "MONTHLY_CAP_EXCEEDED", Message: err.Error()}})

	case errors.As(err, &integrityErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{Code: "INTEGRITY_VIOLATION", Message: err.Error()}})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{Code: "INTERNAL", Message: "internal error"}})
	}
}
