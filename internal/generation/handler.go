package generation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bookforge-backend/internal/jobs"
	"bookforge-backend/internal/orchestrator"
	"bookforge-backend/internal/shared/server/middleware"
	"bookforge-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the generation orchestrator.
type Handler struct {
	Orch *orchestrator.Orchestrator
}

// NewHandler constructs a Handler.
func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{Orch: orch}
}

// RegisterRoutes attaches generation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/generation/start", h.start)
	rg.GET("/generation/progress/:jobID", h.progress)
	rg.POST("/generation/cancel/:jobID", h.cancel)
	rg.POST("/generation/retry/:jobID", h.retry)
	rg.GET("/generation/jobs", h.listJobs)
	rg.DELETE("/generation/jobs/:jobID", h.deleteJob)
	rg.GET("/generation/stats", h.stats)
}

func (h *Handler) start(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, jobs.ErrorCodeValidation, "invalid request body", err.Error())
		return
	}

	result, err := h.Orch.StartGeneration(c.Request.Context(), req.BookID, ownerID, req.Config)
	if err != nil {
		h.writeError(c, err, "failed to start generation")
		return
	}

	respond.JSON(c, http.StatusAccepted, result)
}

func (h *Handler) progress(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)
	jobID := c.Param("jobID")

	snapshot, err := h.Orch.GetProgress(c.Request.Context(), jobID, ownerID)
	if err != nil {
		h.writeError(c, err, "failed to fetch progress")
		return
	}

	respond.OK(c, snapshot)
}

func (h *Handler) cancel(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)
	jobID := c.Param("jobID")

	if err := h.Orch.CancelGeneration(c.Request.Context(), jobID, ownerID); err != nil {
		h.writeError(c, err, "failed to cancel generation")
		return
	}

	respond.OK(c, gin.H{"jobId": jobID, "cancelled": true})
}

func (h *Handler) retry(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)
	jobID := c.Param("jobID")

	result, err := h.Orch.RetryGeneration(c.Request.Context(), jobID, ownerID)
	if err != nil {
		h.writeError(c, err, "failed to retry generation")
		return
	}

	respond.JSON(c, http.StatusAccepted, result)
}

func (h *Handler) listJobs(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	listed, err := h.Orch.ListJobs(c.Request.Context(), ownerID, c.Query("status"), limit, offset)
	if err != nil {
		h.writeError(c, err, "failed to list jobs")
		return
	}

	respond.OK(c, gin.H{"jobs": listed, "limit": limit, "offset": offset})
}

func (h *Handler) deleteJob(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)
	jobID := c.Param("jobID")

	if err := h.Orch.DeleteJob(c.Request.Context(), jobID, ownerID); err != nil {
		h.writeError(c, err, "failed to delete job")
		return
	}

	respond.OK(c, gin.H{"jobId": jobID, "deleted": true})
}

func (h *Handler) stats(c *gin.Context) {
	ownerID := middleware.OwnerFromContext(c)

	stats, err := h.Orch.GetJobStats(c.Request.Context(), ownerID)
	if err != nil {
		h.writeError(c, err, "failed to compute job stats")
		return
	}

	respond.OK(c, stats)
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		respond.Error(c, http.StatusBadRequest, jobs.ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, jobs.ErrConflict):
		respond.Error(c, http.StatusConflict, jobs.ErrorCodeConflict, err.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		respond.Error(c, http.StatusNotFound, jobs.ErrorCodeNotFound, "job or book not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, jobs.ErrorCodeInternal, fallback, nil)
	}
}
