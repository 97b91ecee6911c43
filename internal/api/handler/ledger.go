package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/identity"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// maxListLimit caps the page size of entry listings.
const maxListLimit = 500

// LedgerHandler exposes namespace-generic ledger endpoints: heads, entries,
// verification, invalidation and statistics.
type LedgerHandler struct {
	core   *ledger.Core
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. tokens verifies the operator
// tokens required to invalidate entries.
func NewLedgerHandler(core *ledger.Core, tokens *identity.TokenIssuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{core: core, tokens: tokens, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Heads)
		l.GET("/:ns/head", h.Head)
		l.GET("/:ns/verify", h.VerifyChain)
		l.GET("/:ns/stats", h.Stats)
		l.GET("/:ns/entries", h.ListEntries)
		l.GET("/:ns/entries/:id", h.GetEntry)
		l.GET("/:ns/entries/:id/verify", h.VerifyEntry)
		l.GET("/:ns/sequence/:seq", h.GetBySequence)
		l.POST("/:ns/entries/:id/invalidate",
			identity.RequireRole(h.tokens, identity.RoleInvestigator), h.Invalidate)
	}
}

// namespace resolves the :ns parameter against the registered namespaces.
func (h *LedgerHandler) namespace(c *gin.Context) (ledger.Namespace, bool) {
	ns := ledger.Namespace(c.Param("ns"))
	for _, known := range h.core.Namespaces() {
		if known == ns {
			return ns, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error": "unknown namespace " + strconv.Quote(string(ns)),
		"code":  string(ledger.CodeNotFound),
	})
	return "", false
}

func entryID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Heads handles GET /ledger and returns the head of every namespace.
func (h *LedgerHandler) Heads(c *gin.Context) {
	heads, err := h.core.Heads(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ledger heads", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"heads": heads})
}

// Head handles GET /ledger/:ns/head.
func (h *LedgerHandler) Head(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	head, err := h.core.Head(c.Request.Context(), ns)
	if err != nil {
		respondError(c, h.logger, "ledger head", err)
		return
	}
	c.JSON(http.StatusOK, head)
}

// VerifyChain handles GET /ledger/:ns/verify by walking the whole chain. A broken
// chain is a successful verification with is_valid=false.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	report, err := h.core.VerifyChain(c.Request.Context(), ns)
	if err != nil {
		respondError(c, h.logger, "verify chain", err)
		return
	}
	if !report.IsValid {
		h.logger.Warn("chain verification failed",
			zap.String("namespace", ns.String()),
			zap.String("break", string(report.Break)),
			zap.String("detail", report.Detail),
		)
	}
	c.JSON(http.StatusOK, report)
}

// ListEntries handles GET /ledger/:ns/entries.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}

	f := ledger.Filter{
		Field: c.Query("field"),
		Value: c.Query("value"),
		Limit: 100,
	}
	if (f.Field == "") != (f.Value == "") {
		badRequest(c, "field and value must be supplied together")
		return
	}
	if s := c.Query("status"); s != "" {
		st, err := ledger.ParseStatus(s)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		f.Status = st
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		f.Limit = n
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}

	entries, err := h.core.List(c.Request.Context(), ns, f)
	if err != nil {
		respondError(c, h.logger, "list entries", err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetEntry handles GET /ledger/:ns/entries/:id.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	id, ok := entryID(c)
	if !ok {
		return
	}
	e, err := h.core.Get(c.Request.Context(), ns, id)
	if err != nil {
		respondError(c, h.logger, "get entry", err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetBySequence handles GET /ledger/:ns/sequence/:seq.
func (h *LedgerHandler) GetBySequence(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		badRequest(c, "seq must be a positive integer")
		return
	}
	e, err := h.core.GetBySequence(c.Request.Context(), ns, seq)
	if err != nil {
		respondError(c, h.logger, "get entry", err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// VerifyEntry handles GET /ledger/:ns/entries/:id/verify.
func (h *LedgerHandler) VerifyEntry(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	id, ok := entryID(c)
	if !ok {
		return
	}
	v, err := h.core.VerifyEntry(c.Request.Context(), ns, id)
	if err != nil {
		respondError(c, h.logger, "verify entry", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type invalidateRequest struct {
	// Reason is checked by the ledger so that a missing or short reason is
	// the same validation failure.
	Reason string `json:"reason"`
}

// Invalidate handles POST /ledger/:ns/entries/:id/invalidate. The operator
// named by the bearer token is recorded as the invalidating actor.
func (h *LedgerHandler) Invalidate(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	id, ok := entryID(c)
	if !ok {
		return
	}
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	claims := identity.ClaimsFromCtx(c)
	res, err := h.core.Invalidate(c.Request.Context(), ns, id, claims.Subject, req.Reason)
	if err != nil {
		respondError(c, h.logger, "invalidate entry", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Stats handles GET /ledger/:ns/stats?by=field[,field...].
func (h *LedgerHandler) Stats(c *gin.Context) {
	ns, ok := h.namespace(c)
	if !ok {
		return
	}
	var fields []string
	for _, v := range c.QueryArray("by") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	st, err := h.core.Stats(c.Request.Context(), ns, fields...)
	if err != nil {
		respondError(c, h.logger, "ledger stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
