package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/ledger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/logger"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/vault"
	"go.uber.org/zap"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

var statusByCode = map[string]int{
	"INVALID_AMOUNT":          http.StatusBadRequest,
	"INVALID_HOLDER":          http.StatusBadRequest,
	"UNKNOWN_CAPABILITY":      http.StatusBadRequest,
	"INVALID_BRIDGE_MESSAGE":  http.StatusBadRequest,
	"WRONG_DESTINATION":       http.StatusBadRequest,
	"UNAUTHORIZED":            http.StatusForbidden,
	"RATE_INCREASE_REJECTED":  http.StatusConflict,
	"INSUFFICIENT_BALANCE":    http.StatusUnprocessableEntity,
	"INSUFFICIENT_COLLATERAL": http.StatusUnprocessableEntity,
	"INSUFFICIENT_RESERVES":   http.StatusUnprocessableEntity,
	"PAYOUT_REJECTED":         http.StatusUnprocessableEntity,
	"PAYOUT_FAILED":           http.StatusUnprocessableEntity,
	"ARITHMETIC_OVERFLOW":     http.StatusUnprocessableEntity,
	"FUNDING_UNSUPPORTED":     http.StatusNotImplemented,
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, successResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   message,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	}})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// handleError maps domain errors to their status, anything else to 500.
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	code := ""
	if errors.Is(err, vault.ErrPayoutFailed) {
		code = vault.ErrPayoutFailed.Code
	} else {
		var domainErr *ledger.DomainError
		if errors.As(err, &domainErr) {
			code = domainErr.Code
		}
	}

	status, known := statusByCode[code]
	if !known {
		logger.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred")
		return
	}
	fail(c, status, code, err.Error())
}
