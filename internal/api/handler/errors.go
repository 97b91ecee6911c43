package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// codeBadRequest classifies requests rejected before reaching the ledger
// (malformed JSON, unparsable path or query parameters).
const codeBadRequest = "BAD_REQUEST"

// statusFor maps a ledger error classification onto an HTTP status.
func statusFor(code ledger.Code) int {
	switch code {
	case ledger.CodeValidation:
		return http.StatusUnprocessableEntity
	case ledger.CodeAuthenticationFailure:
		return http.StatusUnauthorized
	case ledger.CodeNotFound:
		return http.StatusNotFound
	case ledger.CodeAlreadyInvalidated, ledger.CodeTamperDetected, ledger.CodeChainBroken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "code"}. Storage failures are logged
// and their detail is not returned to the caller.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	code := ledger.Classify(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(op, zap.Error(err))
		msg = "internal storage failure"
	}
	c.JSON(status, gin.H{"error": msg, "code": string(code)})
}

// badRequest rejects a malformed request.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": codeBadRequest})
}
