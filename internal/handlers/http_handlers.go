package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"

	"luckydraw/internal/draw"
	"luckydraw/internal/models"
	"luckydraw/internal/reel"
	"luckydraw/internal/roster"
	"luckydraw/internal/services"
)

// winnersChanged is the HTMX event that refreshes the status and winners panels.
const winnersChanged = "winners-changed"

// HTTPHandler holds the dependencies for the HTTP handlers, like the lottery service.
type HTTPHandler struct {
	service   *services.LotteryService
	templates *template.Template
	reel      *reel.Reel
	// disclose shows eligibility rules and counts on the page.
	disclose bool
	upgrader websocket.Upgrader
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(service *services.LotteryService, templates *template.Template, r *reel.Reel, disclose bool) *HTTPHandler {
	return &HTTPHandler{
		service:   service,
		templates: templates,
		reel:      r,
		disclose:  disclose,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// renderPage is a helper to perform a two-step template rendering.
// It first executes the content template into a buffer, then executes the main
// layout template, passing the rendered content as a variable.
func (h *HTTPHandler) renderPage(c *gin.Context, pageData gin.H, contentTmpl string) {
	buf := new(bytes.Buffer)
	err := h.templates.ExecuteTemplate(buf, contentTmpl, pageData)
	if err != nil {
		logger.Errorf("Error executing content template %s: %v", contentTmpl, err)
		c.String(http.StatusInternalServerError, "Template rendering error")
		return
	}

	pageData["PageContent"] = template.HTML(buf.String())

	c.Header("Content-Type", "text/html; charset=utf-8")
	err = h.templates.ExecuteTemplate(c.Writer, "layout.html", pageData)
	if err != nil {
		logger.Errorf("Error executing layout template: %v", err)
		c.String(http.StatusInternalServerError, "Template rendering error")
	}
}

// renderPartial renders an HTMX fragment.
func (h *HTTPHandler) renderPartial(c *gin.Context, name string, data gin.H) {
	buf := new(bytes.Buffer)
	if err := h.templates.ExecuteTemplate(buf, name, data); err != nil {
		logger.Errorf("Error executing template %s: %v", name, err)
		c.String(http.StatusInternalServerError, "Template error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// pageData collects what every template needs about the tenant's session.
func (h *HTTPHandler) pageData(tenantID string) gin.H {
	counts := make([]int, h.service.MaxWinnersPerDraw())
	for i := range counts {
		counts[i] = i + 1
	}
	policy := h.service.Engine().Policy
	return gin.H{
		"Snapshot":    h.service.Snapshot(tenantID),
		"Tiers":       models.Tiers(),
		"Counts":      counts,
		"Disclose":    h.disclose,
		"TenureYears": float64(policy.MinTenure) / float64(draw.TenureYear),
		"Notice":      "",
	}
}

// RegisterPublicRoutes registers routes that need no tenant.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
}

// RegisterTenantRoutes registers the routes that operate on the caller's session.
func (h *HTTPHandler) RegisterTenantRoutes(router *gin.RouterGroup) {
	router.GET("/", h.ShowLotteryPage)
	router.GET("/status", h.GetStatusPartial)
	router.GET("/winners", h.GetWinnersPartial)
	router.POST("/roster", h.UploadRosterTSV)
	router.POST("/selection", h.UpdateSelection)
	router.POST("/draw", h.PerformDraw)
	router.POST("/draw/start", h.StartDraw)
	router.POST("/draw/stop", h.StopDraw)
	router.GET("/draw/stream", h.StreamDraw)
	router.GET("/export-results-csv", h.ExportResultsCSV)
	router.POST("/reset", h.ResetSession)
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ShowLotteryPage handles the request for the main lottery drawing page.
func (h *HTTPHandler) ShowLotteryPage(c *gin.Context) {
	tenantID := tenantFrom(c)
	data := h.pageData(tenantID)
	data["title"] = "抽奖界面"
	if round := h.service.CurrentRound(tenantID); round != nil {
		data["Round"] = round
		data["Slots"] = make([]struct{}, round.Count)
	}
	h.renderPage(c, data, "lottery.html")
}

// GetStatusPartial returns the roster and eligibility panel.
func (h *HTTPHandler) GetStatusPartial(c *gin.Context) {
	h.renderPartial(c, "status.html", h.pageData(tenantFrom(c)))
}

// GetWinnersPartial returns the cumulative winners grouped by tier.
func (h *HTTPHandler) GetWinnersPartial(c *gin.Context) {
	h.renderPartial(c, "winners.html", h.pageData(tenantFrom(c)))
}

// UploadRosterTSV handles the TSV upload of participants. Skipped rows are listed
// back to the user; they never abort the upload.
func (h *HTTPHandler) UploadRosterTSV(c *gin.Context) {
	tenantID := tenantFrom(c)

	fileHeader, err := c.FormFile("rosterTSV")
	if err != nil {
		c.String(http.StatusBadRequest, "Error retrieving file: %v", err)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.String(http.StatusBadRequest, "Error opening file: %v", err)
		return
	}
	defer file.Close()

	res, err := roster.Load(file)
	if err != nil {
		logger.Warningf("Rejected roster upload for tenant %s: %v", tenantID, err)
		c.String(http.StatusBadRequest, "Error reading roster: %v", err)
		return
	}
	for _, issue := range res.Issues {
		logger.Infof("Skipping roster record: %v", issue)
	}

	notice := ""
	if err := h.service.LoadRoster(tenantID, res.Participants); err != nil {
		notice = err.Error()
	}

	data := h.pageData(tenantID)
	data["Issues"] = res.Issues
	data["Notice"] = notice
	h.renderPartial(c, "status.html", data)
}

type selectionForm struct {
	Tier  int `form:"tier" binding:"required,min=1,max=5"`
	Count int `form:"count" binding:"omitempty,min=1"`
}

// UpdateSelection records the tier and winner count for the next draw.
func (h *HTTPHandler) UpdateSelection(c *gin.Context) {
	tenantID := tenantFrom(c)

	var form selectionForm
	if err := c.ShouldBind(&form); err != nil {
		c.String(http.StatusBadRequest, "请选择奖项和抽取人数")
		return
	}

	notice := ""
	if err := h.service.Select(tenantID, models.Tier(form.Tier), form.Count); err != nil {
		if !isUserError(err) {
			h.internalError(c, err)
			return
		}
		notice = err.Error()
	}

	data := h.pageData(tenantID)
	data["Notice"] = notice
	h.renderPartial(c, "status.html", data)
}

// StartDraw opens a round; the browser then follows it on /draw/stream.
func (h *HTTPHandler) StartDraw(c *gin.Context) {
	round, err := h.service.Start(tenantFrom(c))
	if err != nil {
		h.renderStageError(c, err)
		return
	}
	h.renderPartial(c, "stage.html", gin.H{
		"Round": round,
		"Slots": make([]struct{}, round.Count),
	})
}

// StopDraw draws the winners of the running round.
func (h *HTTPHandler) StopDraw(c *gin.Context) {
	winners, err := h.service.Stop(tenantFrom(c))
	if err != nil {
		h.renderStageError(c, err)
		return
	}
	c.Header("HX-Trigger", winnersChanged)
	h.renderPartial(c, "stage.html", gin.H{"Drawn": winners})
}

// PerformDraw handles a one-shot draw without the reel.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	var form selectionForm
	if err := c.ShouldBind(&form); err != nil {
		c.String(http.StatusBadRequest, "请选择奖项和抽取人数")
		return
	}

	winners, err := h.service.Draw(tenantFrom(c), models.Tier(form.Tier), form.Count)
	if err != nil {
		h.renderStageError(c, err)
		return
	}
	c.Header("HX-Trigger", winnersChanged)
	h.renderPartial(c, "stage.html", gin.H{"Drawn": winners})
}

// ExportResultsCSV handles the request to download the lottery results as a CSV file.
func (h *HTTPHandler) ExportResultsCSV(c *gin.Context) {
	winners := h.service.Winners(tenantFrom(c))

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment;filename=lottery_results.csv")

	// Add BOM to ensure UTF-8 compatibility in Excel
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)
	if err := w.Write([]string{"奖项", "工号", "姓名", "入职时间", "中奖时间"}); err != nil {
		logger.Errorf("Error writing CSV header: %v", err)
		return
	}
	for _, winner := range winners {
		row := []string{
			winner.Tier.Label(),
			winner.EmployeeID,
			winner.Name,
			winner.HireDateString(),
			winner.DrawnAt.Format("2006-01-02 15:04:05"),
		}
		if err := w.Write(row); err != nil {
			logger.Errorf("Error writing CSV row: %v", err)
			return
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		logger.Errorf("Error flushing CSV writer: %v", err)
	}
}

// ResetSession drops the tenant's roster and winners.
func (h *HTTPHandler) ResetSession(c *gin.Context) {
	h.service.ClearSession(tenantFrom(c))
	c.Header("HX-Redirect", "/")
	c.Status(http.StatusOK)
}

// renderStageError shows expected draw refusals as a notice and fails on anything else.
func (h *HTTPHandler) renderStageError(c *gin.Context, err error) {
	if !isUserError(err) {
		h.internalError(c, err)
		return
	}
	h.renderPartial(c, "stage.html", gin.H{"Notice": err.Error()})
}

func (h *HTTPHandler) internalError(c *gin.Context, err error) {
	logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.String(http.StatusInternalServerError, "Internal error")
}

// isUserError reports whether err is an expected condition to show to the user.
func isUserError(err error) bool {
	for _, target := range []error{
		services.ErrInsufficientEligiblePool,
		services.ErrDrawInProgress,
		services.ErrNoDrawInProgress,
		services.ErrEmptyRoster,
		services.ErrInvalidTier,
		services.ErrInvalidCount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
