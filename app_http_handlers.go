package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"labelstudio/labeling"
)

// sessionFromContext looks up the session named by the :id parameter and
// answers 404 when it does not exist.
func (app *App) sessionFromContext(c *gin.Context) (*sessionEntry, bool) {
	entry, ok := app.Sessions.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return entry, true
}

// respondSessionError maps session errors onto HTTP status codes.
func respondSessionError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, labeling.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, labeling.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error %s: %v", action, err)})
		log.Errorf("Error %s: %v", action, err)
	}
}

// createSessionHandler handles the POST /api/sessions endpoint
func (app *App) createSessionHandler(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
			return
		}
	}

	entry, err := app.newSession(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.DocumentID != "" {
		if err := entry.Session.SelectDocument(c.Request.Context(), req.DocumentID); err != nil {
			respondSessionError(c, "loading document", err)
			return
		}
		app.prefetchPageImages(entry.Session)
	}

	c.JSON(http.StatusCreated, entry.Session.Snapshot())
}

// getSessionHandler handles the GET /api/sessions/:id endpoint
func (app *App) getSessionHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// selectDocumentHandler handles the POST /api/sessions/:id/document endpoint
func (app *App) selectDocumentHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	var req SelectDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	if err := entry.Session.SelectDocument(c.Request.Context(), req.DocumentID); err != nil {
		respondSessionError(c, "loading document", err)
		return
	}
	app.prefetchPageImages(entry.Session)
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

func (app *App) nextPageHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	if err := entry.Session.NextPage(c.Request.Context()); err != nil {
		respondSessionError(c, "changing page", err)
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

func (app *App) prevPageHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	if err := entry.Session.PrevPage(c.Request.Context()); err != nil {
		respondSessionError(c, "changing page", err)
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// goToPageHandler handles POST /api/sessions/:id/pages/:page with a zero-based page
func (app *App) goToPageHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return
	}
	if err := entry.Session.GoToPage(c.Request.Context(), page); err != nil {
		respondSessionError(c, "changing page", err)
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// setModeHandler handles the PUT /api/sessions/:id/mode endpoint
func (app *App) setModeHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	mode, err := labeling.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry.Session.SetMode(mode)
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// addLabelHandler handles the POST /api/sessions/:id/labels endpoint.
// Degenerate rectangles are not an error; they are reported with added=false.
func (app *App) addLabelHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	var draft labeling.LabelDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	label, added, err := entry.Session.AddLabel(draft)
	if err != nil {
		respondSessionError(c, "adding label", err)
		return
	}
	if !added {
		c.JSON(http.StatusOK, gin.H{"added": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": true, "label": label})
}

// updateLabelHandler handles the PATCH /api/sessions/:id/labels/:label_id endpoint
func (app *App) updateLabelHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	var req LabelTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	found, err := entry.Session.UpdateLabelText(c.Param("label_id"), req.Text)
	if err != nil {
		respondSessionError(c, "updating label", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Label not found"})
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// deleteLabelHandler handles the DELETE /api/sessions/:id/labels/:label_id endpoint
func (app *App) deleteLabelHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	found, err := entry.Session.DeleteLabel(c.Param("label_id"))
	if err != nil {
		respondSessionError(c, "deleting label", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Label not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// startEditFieldHandler handles the POST /api/sessions/:id/fields/:field/edit endpoint
func (app *App) startEditFieldHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	if err := entry.Session.StartEditField(c.Param("field")); err != nil {
		respondSessionError(c, "starting field edit", err)
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// pointerHandler handles the POST /api/sessions/:id/pointer endpoint
func (app *App) pointerHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	var req PointerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	session := entry.Session
	switch req.Type {
	case "down":
		started, err := session.PointerDown(req.Point())
		if err != nil {
			respondSessionError(c, "starting draw", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"drawing": started})
	case "move":
		session.PointerMove(req.Point())
		c.JSON(http.StatusOK, gin.H{"draft": session.Snapshot().Draft})
	case "up":
		label, added := session.PointerUp()
		if !added {
			c.JSON(http.StatusOK, gin.H{"added": false})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"added": true, "label": label})
	case "leave":
		session.PointerLeave()
		c.JSON(http.StatusOK, gin.H{"drawing": false})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported pointer event: %s", req.Type)})
	}
}

// commitHandler handles the POST /api/sessions/:id/commit endpoint. The labels
// are applied locally at once; the write to the document store is queued.
func (app *App) commitHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	commit, err := entry.Session.Commit()
	if err != nil {
		respondSessionError(c, "committing labels", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"commit": commit, "session": entry.Session.Snapshot()})
}

// approvalHandler handles the POST /api/sessions/:id/approval endpoint
func (app *App) approvalHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	if err := entry.Session.SubmitApproval(c.Request.Context(), req.Status); err != nil {
		respondSessionError(c, "submitting approval", err)
		return
	}
	c.JSON(http.StatusOK, entry.Session.Snapshot())
}

// notificationsHandler handles the GET /api/sessions/:id/notifications endpoint
func (app *App) notificationsHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entry.Notes.Drain())
}

// pageParam reads the zero-based :page parameter and the page data of the session.
func (app *App) pageParam(c *gin.Context, entry *sessionEntry) (int, labeling.PageData, labeling.ImageSize, bool) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return 0, labeling.PageData{}, labeling.ImageSize{}, false
	}
	data, size, err := entry.Session.Page(page)
	if err != nil {
		if errors.Is(err, labeling.ErrNotReady) {
			respondSessionError(c, "reading page", err)
		} else {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		}
		return 0, labeling.PageData{}, labeling.ImageSize{}, false
	}
	return page, data, size, true
}

// hocrHandler handles the GET /api/sessions/:id/pages/:page/hocr endpoint
func (app *App) hocrHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	page, data, size, ok := app.pageParam(c, entry)
	if !ok {
		return
	}
	if !size.Valid() && app.Images != nil && data.ImageURL != "" {
		resolved, err := app.Images.ImageSize(c.Request.Context(), data.ImageURL)
		if err != nil {
			log.WithError(err).Warn("Could not resolve page image size for hOCR, using default frame")
		} else {
			size = resolved
		}
	}

	out, err := exportPageHOCR(entry.Session.Document(), page, data, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		log.Errorf("Error exporting hOCR: %v", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

// previewHandler handles the GET /api/sessions/:id/pages/:page/preview endpoint
func (app *App) previewHandler(c *gin.Context) {
	entry, ok := app.sessionFromContext(c)
	if !ok {
		return
	}
	_, data, _, ok := app.pageParam(c, entry)
	if !ok {
		return
	}
	if app.Images == nil || data.ImageURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No page image available"})
		return
	}
	width, _ := strconv.Atoi(c.DefaultQuery("width", "0"))

	preview, err := app.Images.Preview(c.Request.Context(), data.ImageURL, width)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Error rendering preview: %v", err)})
		log.Errorf("Error rendering preview: %v", err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", preview)
}

func jobResponse(job Job) gin.H {
	response := gin.H{
		"job_id":      job.ID,
		"commit_id":   job.CommitID,
		"document_id": job.DocumentID,
		"page_index":  job.PageIndex,
		"kind":        job.Kind,
		"status":      job.Status,
		"attempts":    job.Attempts,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.Status == "failed" || job.Status == "cancelled" {
		response["error"] = job.Result
	}
	return response
}

func (app *App) getJobStatusHandler(c *gin.Context) {
	job, exists := app.JobStore.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

func (app *App) getAllJobsHandler(c *gin.Context) {
	jobs := app.JobStore.GetAllJobs()

	jobList := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		jobList = append(jobList, jobResponse(job))
	}

	c.JSON(http.StatusOK, jobList)
}

// Section for local-db actions

func (app *App) getCommitHistoryHandler(c *gin.Context) {
	if app.Database == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Commit history is not available"})
		return
	}
	records, err := GetLabelCommits(app.Database, c.Param("document_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve commit history"})
		log.Errorf("Failed to retrieve commit history: %v", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// getSettingsHandler handles the GET /api/settings endpoint
func getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, currentSettings())
}

// updateSettingsHandler handles the POST /api/settings endpoint. Open sessions
// keep the settings they were created with.
func updateSettingsHandler(c *gin.Context) {
	var req Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if err := updateSettings(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, currentSettings())
}
