package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/database"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/jobs"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

type snapshotStore interface {
	Load() (*models.Job, error)
}

type damagedRegistry interface {
	List() ([]models.DamagedFileEntry, error)
}

type progressSource interface {
	GetActiveJob(ctx context.Context) (*models.Job, error)
	GetProgress(ctx context.Context, jobID string) (*models.Progress, error)
	Ping(ctx context.Context) error
}

type jobHistory interface {
	ListJobs(ctx context.Context, limit int) ([]database.JobSummary, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

type outputLister interface {
	ListOutputs(ctx context.Context, jobID string) ([]string, error)
}

type systemStats interface {
	Latest() (monitoring.Stats, bool)
}

// API serves read-only job status. Optional sources are nil when their
// integration is disabled.
type API struct {
	stateDir string
	store    snapshotStore
	registry damagedRegistry
	profiles profileCatalog
	progress progressSource
	history  jobHistory
	outputs  outputLister
	system   systemStats
}

type profileCatalog struct {
	Encoding []models.EncodingProfile `json:"encoding"`
	Repair   []models.RepairProfile   `json:"repair"`
}

// jobResponse is the last job snapshot plus the live lock owner.
type jobResponse struct {
	Job     *models.Job      `json:"job"`
	Counts  models.JobCounts `json:"counts"`
	Running *jobs.LockOwner  `json:"running,omitempty"`
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if _, err := api.store.Load(); err != nil {
		checks["state"] = err.Error()
		healthy = false
	} else {
		checks["state"] = "ok"
	}

	if api.progress != nil {
		if err := api.progress.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"checks": checks,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"checks": checks,
	})
}

// Last job snapshot endpoint
func (api *API) getCurrentJob(c *gin.Context) {
	job, err := api.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job recorded"})
		return
	}

	resp := jobResponse{Job: job, Counts: job.Counts()}
	if owner, ok := jobs.ReadLockOwner(api.stateDir); ok {
		resp.Running = &owner
	}
	c.JSON(http.StatusOK, resp)
}

// Live progress endpoint
func (api *API) getProgress(c *gin.Context) {
	if api.progress == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Progress mirror is disabled"})
		return
	}

	ctx := c.Request.Context()
	job, err := api.progress.GetActiveJob(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No job is running"})
		return
	}

	progress, err := api.progress.GetProgress(ctx, job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.ID,
		"status":   job.Status,
		"counts":   job.Counts(),
		"progress": progress,
	})
}

// Job history endpoint
func (api *API) listJobs(c *gin.Context) {
	if api.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Job history is disabled"})
		return
	}

	limit := 20
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	summaries, err := api.history.ListJobs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  summaries,
		"limit": limit,
	})
}

// Archived job endpoint
func (api *API) getJob(c *gin.Context) {
	if api.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Job history is disabled"})
		return
	}

	job, err := api.history.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobResponse{Job: job, Counts: job.Counts()})
}

// Published outputs endpoint
func (api *API) getJobOutputs(c *gin.Context) {
	if api.outputs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Output publishing is disabled"})
		return
	}

	keys, err := api.outputs.ListOutputs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if keys == nil {
		keys = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"outputs": keys})
}

// Damaged file registry endpoint
func (api *API) listDamaged(c *gin.Context) {
	entries, err := api.registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []models.DamagedFileEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"files": entries,
		"total": len(entries),
	})
}

// Profiles endpoint
func (api *API) listProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, api.profiles)
}

// System telemetry endpoint
func (api *API) getSystem(c *gin.Context) {
	if api.system == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "System monitoring is disabled"})
		return
	}

	stats, ok := api.system.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No sample yet"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
