package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"marketscout/internal/agent"
	"marketscout/internal/models"
	"marketscout/internal/provider"
	"marketscout/internal/repository"
	"marketscout/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db           *gorm.DB
	repo         *repository.Repository
	agent        *agent.Agent
	scheduler    *scheduler.Scheduler
	providers    []provider.Client
	triggerToken string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, ag *agent.Agent, sched *scheduler.Scheduler, providers []provider.Client, triggerToken string) *Handlers {
	return &Handlers{
		db:           db,
		repo:         repo,
		agent:        ag,
		scheduler:    sched,
		providers:    providers,
		triggerToken: triggerToken,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		// Search jobs
		api.GET("/jobs", h.GetJobs)
		api.POST("/jobs", h.CreateJob)
		api.GET("/jobs/:id", h.GetJob)
		api.PUT("/jobs/:id", h.UpdateJob)
		api.DELETE("/jobs/:id", h.DeleteJob)
		api.PATCH("/jobs/:id/enable", h.EnableJob)
		api.PATCH("/jobs/:id/disable", h.DisableJob)

		// Run history
		api.GET("/runs", h.GetRuns)

		// Manual trigger, bearer-gated
		api.POST("/agent/run", h.TriggerRun)

		// Scheduler control
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Providers: make(map[string]string),
		Metrics:   make(map[string]string),
	}

	// Check database connection
	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	for _, p := range h.providers {
		response.Providers[p.Name()] = "enabled"
	}

	// Check scheduler status
	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// GetJobs returns all search jobs
func (h *Handlers) GetJobs(c *gin.Context) {
	jobs, err := h.repo.AllJobs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch jobs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]models.SearchJobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}

	c.JSON(http.StatusOK, responses)
}

// CreateJob creates a new search job
func (h *Handlers) CreateJob(c *gin.Context) {
	var req models.SearchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if msg := validateJobRequest(&req); msg != "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: msg,
			Code:    http.StatusBadRequest,
		})
		return
	}

	// Set default enabled value
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sortKey := req.SortKey
	if sortKey == "" {
		sortKey = provider.SortBestMatch
	}

	job := models.SearchJob{
		UserID:     req.UserID,
		Label:      req.Label,
		Keywords:   req.Keywords,
		PriceMin:   req.PriceMin,
		PriceMax:   req.PriceMax,
		Conditions: req.Conditions,
		SortKey:    sortKey,
		Enabled:    enabled,
	}

	if err := h.repo.CreateJob(&job); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, toJobResponse(job))
}

// GetJob returns a specific search job
func (h *Handlers) GetJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.repo.GetJob(id)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "Job not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(*job))
}

// UpdateJob updates a search job
func (h *Handlers) UpdateJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	var req models.SearchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if msg := validateJobRequest(&req); msg != "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: msg,
			Code:    http.StatusBadRequest,
		})
		return
	}

	job, err := h.repo.GetJob(id)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "Job not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	// Update fields
	job.Label = req.Label
	job.Keywords = req.Keywords
	job.PriceMin = req.PriceMin
	job.PriceMax = req.PriceMax
	job.Conditions = req.Conditions
	if req.SortKey != "" {
		job.SortKey = req.SortKey
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if err := h.repo.SaveJob(job); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(*job))
}

// DeleteJob deletes a search job and its seen records
func (h *Handlers) DeleteJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.repo.DeleteJob(id); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// EnableJob enables a search job
func (h *Handlers) EnableJob(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableJob disables a search job
func (h *Handlers) DisableJob(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handlers) setEnabled(c *gin.Context, enabled bool) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.repo.SetJobEnabled(id, enabled); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetRuns returns recent run logs
func (h *Handlers) GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	logs, err := h.repo.RunLogs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch run logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  logs,
		"limit": limit,
	})
}

// TriggerRun starts one agent run. The bearer token is required; force=true
// skips the per-job minimum interval.
func (h *Handlers) TriggerRun(c *gin.Context) {
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "Missing or invalid bearer token",
			Code:    http.StatusUnauthorized,
		})
		return
	}

	force := c.Query("force") == "true"

	report, err := h.agent.RunOnce(c.Request.Context(), force)
	if err != nil {
		if errors.Is(err, agent.ErrRunInProgress) {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "run_in_progress",
				Message: "An agent run is already in progress",
				Code:    http.StatusConflict,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "run_error",
			Message: "Agent run failed",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// authorized checks the Authorization header against the configured trigger
// token in constant time.
func (h *Handlers) authorized(c *gin.Context) bool {
	if h.triggerToken == "" {
		return false
	}

	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.triggerToken)) == 1
}

// StartScheduler starts the periodic agent scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the periodic agent scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}

func (h *Handlers) jobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid job ID",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

// validateJobRequest checks semantics gin's binding tags cannot express.
func validateJobRequest(req *models.SearchJobRequest) string {
	for _, kw := range req.Keywords {
		if strings.TrimSpace(kw) == "" {
			return "Keywords must not be blank"
		}
	}
	if req.PriceMin != nil && *req.PriceMin < 0 {
		return "price_min must not be negative"
	}
	if req.PriceMin != nil && req.PriceMax != nil && *req.PriceMin > *req.PriceMax {
		return "price_min must not exceed price_max"
	}
	if req.SortKey != "" {
		switch req.SortKey {
		case provider.SortBestMatch, provider.SortPriceAsc, provider.SortPriceDesc,
			provider.SortNewest, provider.SortNewestDesc:
		default:
			return "Unknown sort_key"
		}
	}
	return ""
}

func toJobResponse(job models.SearchJob) models.SearchJobResponse {
	return models.SearchJobResponse{
		ID:         job.ID,
		UserID:     job.UserID,
		Label:      job.Label,
		Keywords:   job.Keywords,
		PriceMin:   job.PriceMin,
		PriceMax:   job.PriceMax,
		Conditions: job.Conditions,
		SortKey:    job.SortKey,
		Enabled:    job.Enabled,
		LastRunAt:  job.LastRunAt,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
}
