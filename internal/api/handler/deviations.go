package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/clinledger/internal/deviation"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// DeviationHandler exposes protocol-deviation endpoints.
type DeviationHandler struct {
	svc    *deviation.Service
	logger *zap.Logger
}

// NewDeviationHandler creates a new DeviationHandler.
func NewDeviationHandler(svc *deviation.Service, logger *zap.Logger) *DeviationHandler {
	return &DeviationHandler{svc: svc, logger: logger}
}

// Register mounts the deviation routes on the given router group.
func (h *DeviationHandler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/deviations")
	{
		d.POST("", h.Report)
		d.GET("", h.List)
		d.GET("/stats", h.Stats)
		d.GET("/:id/verify", h.Verify)
	}
}

// reportRequest carries dates as YYYY-MM-DD strings.
type reportRequest struct {
	ProtocolID       string `json:"protocol_id"`
	SubjectID        string `json:"subject_id"`
	Category         string `json:"category"`
	Severity         string `json:"severity"`
	Description      string `json:"description"`
	OccurredOn       string `json:"occurred_on"`
	DetectedOn       string `json:"detected_on"`
	ReportedBy       string `json:"reported_by"`
	CorrectiveAction string `json:"corrective_action"`
}

func (r reportRequest) toRequest() (deviation.ReportRequest, error) {
	category, err := deviation.ParseCategory(r.Category)
	if err != nil {
		return deviation.ReportRequest{}, err
	}
	severity, err := deviation.ParseSeverity(r.Severity)
	if err != nil {
		return deviation.ReportRequest{}, err
	}
	occurred, err := parseDate("occurred_on", r.OccurredOn)
	if err != nil {
		return deviation.ReportRequest{}, err
	}
	detected, err := parseDate("detected_on", r.DetectedOn)
	if err != nil {
		return deviation.ReportRequest{}, err
	}
	return deviation.ReportRequest{
		ProtocolID:       r.ProtocolID,
		SubjectID:        r.SubjectID,
		Category:         category,
		Severity:         severity,
		Description:      r.Description,
		OccurredOn:       occurred,
		DetectedOn:       detected,
		ReportedBy:       r.ReportedBy,
		CorrectiveAction: r.CorrectiveAction,
	}, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ledger.ValidationErrorf("%s is required", field)
	}
	t, err := time.Parse(deviation.DateLayout, s)
	if err != nil {
		return time.Time{}, ledger.ValidationErrorf("%s must be a %s date", field, deviation.DateLayout)
	}
	return t, nil
}

// Report handles POST /deviations.
func (h *DeviationHandler) Report(c *gin.Context) {
	var body reportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		respondError(c, h.logger, "report deviation", err)
		return
	}
	res, err := h.svc.Report(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "report deviation", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Verify handles GET /deviations/:id/verify.
func (h *DeviationHandler) Verify(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	v, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "verify deviation", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// List handles GET /deviations?protocol_id= or ?subject_id=.
func (h *DeviationHandler) List(c *gin.Context) {
	protocolID, subjectID := c.Query("protocol_id"), c.Query("subject_id")

	var (
		out []deviation.Deviation
		err error
	)
	switch {
	case protocolID != "" && subjectID != "":
		badRequest(c, "supply protocol_id or subject_id, not both")
		return
	case protocolID != "":
		out, err = h.svc.ListByProtocol(c.Request.Context(), protocolID)
	case subjectID != "":
		out, err = h.svc.ListBySubject(c.Request.Context(), subjectID)
	default:
		badRequest(c, "protocol_id or subject_id query parameter is required")
		return
	}
	if err != nil {
		respondError(c, h.logger, "list deviations", err)
		return
	}
	if out == nil {
		out = []deviation.Deviation{}
	}
	c.JSON(http.StatusOK, gin.H{"deviations": out, "count": len(out)})
}

// Stats handles GET /deviations/stats.
func (h *DeviationHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "deviation stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
