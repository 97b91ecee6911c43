package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/identity"
	"github.com/jmerrifield20/clinledger/internal/signature"
	"go.uber.org/zap"
)

// SignatureHandler exposes electronic-signature endpoints and the
// authentication attempt log behind them.
type SignatureHandler struct {
	svc      *signature.Service
	attempts authgate.AttemptStore
	tokens   *identity.TokenIssuer
	logger   *zap.Logger
}

// NewSignatureHandler creates a new SignatureHandler.
func NewSignatureHandler(svc *signature.Service, attempts authgate.AttemptStore, tokens *identity.TokenIssuer, logger *zap.Logger) *SignatureHandler {
	return &SignatureHandler{svc: svc, attempts: attempts, tokens: tokens, logger: logger}
}

// Register mounts the signature routes on the given router group.
func (h *SignatureHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/signatures")
	{
		s.POST("", h.Sign)
		s.GET("", h.List)
		s.GET("/stats", h.Stats)
		s.GET("/meanings", h.Meanings)
		s.GET("/:id/verify", h.Verify)

		investigator := identity.RequireRole(h.tokens, identity.RoleInvestigator)
		s.GET("/attempts", investigator, h.ListAttempts)
		s.GET("/attempts/stats", investigator, h.AttemptStats)
	}
}

type signRequest struct {
	TableName  string `json:"table_name" binding:"required"`
	RecordID   string `json:"record_id" binding:"required"`
	SignerID   string `json:"signer_id" binding:"required"`
	Credential string `json:"credential"`
	Meaning    string `json:"meaning" binding:"required"`
	SessionID  string `json:"session_id"`
}

// Sign handles POST /signatures. The caller's address and user agent are
// captured as the signing context.
func (h *SignatureHandler) Sign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	meaning, err := signature.ParseMeaning(req.Meaning)
	if err != nil {
		respondError(c, h.logger, "sign", err)
		return
	}

	res, err := h.svc.Sign(c.Request.Context(), signature.SignRequest{
		TableName:  req.TableName,
		RecordID:   req.RecordID,
		SignerID:   req.SignerID,
		Credential: req.Credential,
		Meaning:    meaning,
		Context: signature.Context{
			IPAddress: c.ClientIP(),
			SessionID: req.SessionID,
			UserAgent: c.Request.UserAgent(),
		},
	})
	if err != nil {
		respondError(c, h.logger, "sign", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Verify handles GET /signatures/:id/verify.
func (h *SignatureHandler) Verify(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	v, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "verify signature", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// List handles GET /signatures?table=&record_id=.
func (h *SignatureHandler) List(c *gin.Context) {
	table := c.Query("table")
	if table == "" {
		badRequest(c, "table query parameter is required")
		return
	}
	sigs, err := h.svc.ListForRecord(c.Request.Context(), table, c.Query("record_id"))
	if err != nil {
		respondError(c, h.logger, "list signatures", err)
		return
	}
	if sigs == nil {
		sigs = []signature.Signature{}
	}
	c.JSON(http.StatusOK, gin.H{"signatures": sigs, "count": len(sigs)})
}

// Stats handles GET /signatures/stats.
func (h *SignatureHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "signature stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Meanings handles GET /signatures/meanings.
func (h *SignatureHandler) Meanings(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, m := range signature.Meanings() {
		out = append(out, gin.H{"meaning": m, "description": m.Description()})
	}
	c.JSON(http.StatusOK, gin.H{"meanings": out})
}

// ListAttempts handles GET /signatures/attempts?signer_id=&outcome=&since=&limit=.
func (h *SignatureHandler) ListAttempts(c *gin.Context) {
	f := authgate.AttemptFilter{
		SignerID: c.Query("signer_id"),
		Outcome:  authgate.Outcome(c.Query("outcome")),
		Limit:    100,
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(c, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		f.Limit = n
	}

	records, err := h.attempts.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list auth attempts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attempts", "code": "STORAGE_FAILURE"})
		return
	}
	if records == nil {
		records = []authgate.AttemptRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": records, "count": len(records)})
}

// AttemptStats handles GET /signatures/attempts/stats.
func (h *SignatureHandler) AttemptStats(c *gin.Context) {
	st, err := h.attempts.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("auth attempt stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query attempts", "code": "STORAGE_FAILURE"})
		return
	}
	c.JSON(http.StatusOK, st)
}
