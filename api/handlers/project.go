package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/feichai0017/timechange/internal/models"
	store "github.com/feichai0017/timechange/internal/project"
	"github.com/feichai0017/timechange/internal/service/project"
	"github.com/feichai0017/timechange/internal/transform"
	"github.com/feichai0017/timechange/pkg/logger"
)

const maxWait = 5 * time.Minute

type ProjectHandler struct {
	service project.ProjectService
	logger  logger.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Added lists the uploads stored before a multi-file upload failed.
	Added []string `json:"added,omitempty"`
}

// JobResponse acknowledges an enqueued job.
type JobResponse struct {
	ID  string         `json:"id"`
	Job models.JobType `json:"job"`
}

type ProjectResponse struct {
	Name        string                     `json:"name"`
	CSVLabels   []string                   `json:"csvLabels"`
	ImageLabels []string                   `json:"imageLabels"`
	Transform   models.TransformParameters `json:"transform"`
	Model       models.ModelParameters     `json:"model"`
}

type ColumnsRequest struct {
	Columns []string `json:"columns"`
}

func NewProjectHandler(service project.ProjectService, logger logger.Logger) *ProjectHandler {
	return &ProjectHandler{
		service: service,
		logger:  logger,
	}
}

// GetProject summarizes the open project.
func (h *ProjectHandler) GetProject(c *gin.Context) {
	images, err := h.service.ImageLabels()
	if err != nil {
		h.handleError(c, "Failed to list image labels", err)
		return
	}
	tp, err := h.service.TransformParameters()
	if err != nil {
		h.handleError(c, "Failed to read transform parameters", err)
		return
	}
	mp, err := h.service.ModelParameters()
	if err != nil {
		h.handleError(c, "Failed to read model parameters", err)
		return
	}

	c.JSON(http.StatusOK, ProjectResponse{
		Name:        h.service.Name(),
		CSVLabels:   h.service.CSVLabels(),
		ImageLabels: images,
		Transform:   tp,
		Model:       mp,
	})
}

// ListLabels lists csv labels, or image labels with ?kind=images.
func (h *ProjectHandler) ListLabels(c *gin.Context) {
	switch kind := c.DefaultQuery("kind", "csv"); kind {
	case "csv":
		c.JSON(http.StatusOK, gin.H{"labels": h.service.CSVLabels()})
	case "images":
		labels, err := h.service.ImageLabels()
		if err != nil {
			h.handleError(c, "Failed to list image labels", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels})
	default:
		h.respondError(c, http.StatusBadRequest, "Unknown label kind", fmt.Errorf("kind must be csv or images, got %q", kind))
	}
}

func (h *ProjectHandler) ListFiles(c *gin.Context) {
	label := c.Param("label")
	c.JSON(http.StatusOK, gin.H{
		"label": label,
		"files": h.service.TrainingFiles(label),
	})
}

// UploadFiles stores every multipart "file" part under the label.
func (h *ProjectHandler) UploadFiles(c *gin.Context) {
	label := c.Param("label")
	form, err := c.MultipartForm()
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		h.respondError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	for _, header := range files {
		if err := h.service.CheckUpload(header); err != nil {
			h.handleError(c, "Rejected training file", err)
			return
		}
	}

	added := make([]string, 0, len(files))
	for _, header := range files {
		if err := h.service.AddUpload(label, header); err != nil {
			h.writeError(c, errorStatus(err), ErrorResponse{
				Error:   err.Error(),
				Message: "Failed to add training file",
				Added:   added,
			})
			return
		}
		added = append(added, header.Filename)
	}
	c.JSON(http.StatusCreated, gin.H{
		"label": label,
		"added": added,
	})
}

func (h *ProjectHandler) DeleteFile(c *gin.Context) {
	label, file := c.Param("label"), c.Param("file")
	if err := h.service.RemoveTrainingFile(label, file); err != nil {
		h.handleError(c, "Failed to remove training file", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProjectHandler) GetColumns(c *gin.Context) {
	columns, err := h.service.Columns(c.Param("label"), c.Param("file"))
	if err != nil {
		h.handleError(c, "Failed to read columns", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": columns})
}

func (h *ProjectHandler) SetColumns(c *gin.Context) {
	var req ColumnsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.service.SetColumns(req.Columns); err != nil {
		h.handleError(c, "Failed to set columns", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProjectHandler) GetTransformParameters(c *gin.Context) {
	p, err := h.service.TransformParameters()
	if err != nil {
		h.handleError(c, "Failed to read transform parameters", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) SetTransformParameters(c *gin.Context) {
	params, ok := h.bindParameters(c)
	if !ok {
		return
	}
	if err := h.service.SetTransformParameters(params); err != nil {
		h.handleError(c, "Failed to set transform parameters", err)
		return
	}
	h.GetTransformParameters(c)
}

func (h *ProjectHandler) GetModelParameters(c *gin.Context) {
	p, err := h.service.ModelParameters()
	if err != nil {
		h.handleError(c, "Failed to read model parameters", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) SetModelParameters(c *gin.Context) {
	params, ok := h.bindParameters(c)
	if !ok {
		return
	}
	if err := h.service.SetModelParameters(params); err != nil {
		h.handleError(c, "Failed to set model parameters", err)
		return
	}
	h.GetModelParameters(c)
}

// bindParameters reads a flat JSON object. Lists become comma separated
// values the way the config files store them.
func (h *ProjectHandler) bindParameters(c *gin.Context) (map[string]any, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	params := make(map[string]any, len(body))
	for k, v := range body {
		list, ok := v.([]any)
		if !ok {
			params[k] = v
			continue
		}
		parts := make([]string, len(list))
		for i, item := range list {
			s, err := cast.ToStringE(item)
			if err != nil {
				h.respondError(c, http.StatusBadRequest, "Invalid parameter", fmt.Errorf("%s: %w", k, err))
				return nil, false
			}
			parts[i] = s
		}
		params[k] = strings.Join(parts, ",")
	}
	return params, true
}

// SubmitJob enqueues transform, build_model or train.
func (h *ProjectHandler) SubmitJob(c *gin.Context) {
	job := models.JobType(c.Param("job"))
	id, err := h.service.Submit(c.Request.Context(), job)
	if err != nil {
		h.handleError(c, "Failed to submit job", err)
		return
	}
	c.JSON(http.StatusAccepted, JobResponse{ID: id, Job: job})
}

// NextResult returns the oldest unread result, or 204 when none is ready.
func (h *ProjectHandler) NextResult(c *gin.Context) {
	res, err := h.service.PollResult(c.Request.Context())
	if err != nil {
		h.handleError(c, "Failed to poll results", err)
		return
	}
	if res == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, res)
}

// WaitResult blocks up to ?timeout= (default 30s) for the next result.
func (h *ProjectHandler) WaitResult(c *gin.Context) {
	timeout, err := time.ParseDuration(c.DefaultQuery("timeout", "30s"))
	if err != nil || timeout <= 0 {
		h.respondError(c, http.StatusBadRequest, "Invalid timeout", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), min(timeout, maxWait))
	defer cancel()

	res, err := h.service.WaitResult(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.Status(http.StatusNoContent)
			return
		}
		h.handleError(c, "Failed to wait for results", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ProjectHandler) ListJournal(c *gin.Context) {
	limit, err := cast.ToIntE(c.DefaultQuery("limit", "50"))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	entries, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, "Failed to read journal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": entries})
}

func (h *ProjectHandler) GetJournalEntry(c *gin.Context) {
	id := c.Param("id")
	res, err := h.service.JobResult(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, "Failed to read journal", err)
		return
	}
	if res == nil {
		h.respondError(c, http.StatusNotFound, "Job not found", fmt.Errorf("no finished job %s", id))
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleError maps domain errors onto status codes.
func (h *ProjectHandler) handleError(c *gin.Context, message string, err error) {
	h.respondError(c, errorStatus(err), message, err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrInvalidName),
		errors.Is(err, project.ErrUnknownJob),
		errors.Is(err, transform.ErrInvalidMethod),
		errors.Is(err, transform.ErrInvalidParameters):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *ProjectHandler) respondError(c *gin.Context, status int, message string, err error) {
	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	h.writeError(c, status, response)
}

func (h *ProjectHandler) writeError(c *gin.Context, status int, response ErrorResponse) {
	fields := []logger.Field{logger.String("path", c.Request.URL.Path), logger.String("error", response.Error)}
	if status >= http.StatusInternalServerError {
		h.logger.Error(response.Message, fields...)
	} else {
		h.logger.Warn(response.Message, fields...)
	}
	c.AbortWithStatusJSON(status, response)
}
