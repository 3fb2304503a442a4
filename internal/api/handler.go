// Package api serves the outreach REST endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/outreach/internal/auth"
	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/extraction"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

// Store is the persistence the handlers read and write.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobsByUser(ctx context.Context, userID string) ([]domain.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error
	ListResultsByJob(ctx context.Context, jobID string) ([]domain.Result, error)
	ListRecentResultsByUser(ctx context.Context, userID string, limit int) ([]domain.Result, error)
	ReleaseExtracts(ctx context.Context, userID string, n int) error

	CreateTemplate(ctx context.Context, tpl *domain.Template) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListTemplatesByUser(ctx context.Context, userID string) ([]domain.Template, error)
	UpdateTemplate(ctx context.Context, tpl *domain.Template) error
	DeleteTemplate(ctx context.Context, id string) error

	CreateCampaign(ctx context.Context, campaign *domain.Campaign, items []domain.QueueItem) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaignsByUser(ctx context.Context, userID string) ([]domain.Campaign, error)
	ListQueueItems(ctx context.Context, campaignID string) ([]domain.QueueItem, error)
	TransitionCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, from ...domain.CampaignStatus) error
}

// Quotas admits work against the caller's daily limits.
type Quotas interface {
	Current(ctx context.Context, userID string) (*domain.Quota, error)
	AdmitExtraction(ctx context.Context, userID string, n int) error
	CheckDMs(ctx context.Context, userID string) error
}

// Launcher hands admitted runs to the background dispatcher.
type Launcher interface {
	LaunchExtraction(job domain.Job, domains []string) (string, error)
	LaunchCampaign(campaignID string) (string, error)
	CampaignActive(campaignID string) bool
}

type Handler struct {
	store    Store
	quotas   Quotas
	launcher Launcher
	log      logger.Logger
}

func NewHandler(store Store, quotas Quotas, launcher Launcher, log logger.Logger) *Handler {
	return &Handler{store: store, quotas: quotas, launcher: launcher, log: log}
}

type meResponse struct {
	*domain.Quota
	ExtractsRemaining int `json:"extracts_remaining"`
	DMsRemaining      int `json:"dms_remaining"`
}

// Me returns the caller's quota after applying any pending daily reset.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	q, err := h.quotas.Current(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "load quota", err)
		return
	}

	c.JSON(http.StatusOK, meResponse{Quota: q, ExtractsRemaining: q.ExtractsRemaining(), DMsRemaining: q.DMsRemaining()})
}

type createExtractionRequest struct {
	Domains []string `json:"domains" binding:"required"`
}

// CreateExtraction admits a domain batch and starts it in the background.
func (h *Handler) CreateExtraction(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domains must be a list"})
		return
	}

	domains := extraction.NormalizeDomains(req.Domains)
	if len(domains) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one domain is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.quotas.AdmitExtraction(ctx, userID, len(domains)); err != nil {
		h.quotaError(c, err)
		return
	}

	job := &domain.Job{
		UserID: userID,
		Kind:   domain.JobKindExtraction,
		Status: domain.JobStatusPending,
		Total:  len(domains),
		Meta:   domain.JobMeta{Domains: domains},
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		h.releaseExtracts(ctx, userID, len(domains))
		h.internalError(c, "create job", err)
		return
	}

	taskID, err := h.launcher.LaunchExtraction(*job, domains)
	if err != nil {
		h.releaseExtracts(ctx, userID, len(domains))
		if statusErr := h.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed); statusErr != nil {
			h.log.Error("Failed to mark unlaunched job failed", logger.JobID(job.ID), logger.Error(statusErr))
		}
		h.unavailable(c, "launch extraction", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "task_id": taskID, "total": job.Total})
}

func (h *Handler) ListExtractions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	jobs, err := h.store.ListJobsByUser(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "list jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// ExtractionResults lists a job's results; other users' jobs are reported as missing.
func (h *Handler) ExtractionResults(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job, err := h.store.GetJob(ctx, c.Param("id"))
	if err != nil || job.UserID != userID {
		h.notFoundOr(c, "get job", err, "job")
		return
	}

	results, err := h.store.ListResultsByJob(ctx, job.ID)
	if err != nil {
		h.internalError(c, "list results", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job, "results": results})
}

const (
	defaultRecentResults = 10
	maxRecentResults     = 100
)

// RecentResults lists the newest results across the caller's jobs.
func (h *Handler) RecentResults(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRecentResults)))
	if limit <= 0 {
		limit = defaultRecentResults
	}
	limit = min(limit, maxRecentResults)

	results, err := h.store.ListRecentResultsByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.internalError(c, "list recent results", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

type createTemplateRequest struct {
	Name     string `json:"name"      binding:"required"`
	Content  string `json:"content"   binding:"required"`
	SendRate string `json:"send_rate"`
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and content are required"})
		return
	}

	tpl := &domain.Template{
		UserID:   userID,
		Name:     strings.TrimSpace(req.Name),
		Content:  req.Content,
		SendRate: domain.ParseSendRate(req.SendRate),
	}
	if err := h.store.CreateTemplate(c.Request.Context(), tpl); err != nil {
		h.internalError(c, "create template", err)
		return
	}

	c.JSON(http.StatusCreated, tpl)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	templates, err := h.store.ListTemplatesByUser(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "list templates", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// updateTemplateRequest leaves omitted fields unchanged.
type updateTemplateRequest struct {
	Name     *string `json:"name"`
	Content  *string `json:"content"`
	SendRate *string `json:"send_rate"`
}

func (h *Handler) UpdateTemplate(c *gin.Context) {
	tpl, ok := h.ownedTemplate(c)
	if !ok {
		return
	}

	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name != nil {
		tpl.Name = strings.TrimSpace(*req.Name)
	}
	if req.Content != nil {
		tpl.Content = *req.Content
	}
	if req.SendRate != nil {
		tpl.SendRate = domain.ParseSendRate(*req.SendRate)
	}
	if tpl.Name == "" || tpl.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and content must not be empty"})
		return
	}

	if err := h.store.UpdateTemplate(c.Request.Context(), tpl); err != nil {
		h.notFoundOr(c, "update template", err, "template")
		return
	}

	c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate retires the template. Campaigns already created from it are unaffected.
func (h *Handler) DeleteTemplate(c *gin.Context) {
	tpl, ok := h.ownedTemplate(c)
	if !ok {
		return
	}

	if err := h.store.DeleteTemplate(c.Request.Context(), tpl.ID); err != nil {
		h.notFoundOr(c, "delete template", err, "template")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "template deleted"})
}

// ownedTemplate loads the :id template and answers 404 when the caller does not own it.
func (h *Handler) ownedTemplate(c *gin.Context) (*domain.Template, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return nil, false
	}

	tpl, err := h.store.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil || tpl.UserID != userID {
		h.notFoundOr(c, "get template", err, "template")
		return nil, false
	}

	return tpl, true
}

type createCampaignRequest struct {
	Name        string     `json:"name"         binding:"required"`
	TemplateID  string     `json:"template_id"  binding:"required"`
	Handles     []string   `json:"handles"      binding:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// CreateCampaign renders the template for every handle and stores the queue.
func (h *Handler) CreateCampaign(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, template_id and handles are required"})
		return
	}

	handles := cleanHandles(req.Handles)
	if len(handles) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one handle is required"})
		return
	}

	ctx := c.Request.Context()
	tpl, err := h.store.GetTemplate(ctx, req.TemplateID)
	if err != nil || tpl.UserID != userID {
		h.notFoundOr(c, "get template", err, "template")
		return
	}

	items := make([]domain.QueueItem, len(handles))
	for i, handle := range handles {
		items[i] = domain.QueueItem{Handle: handle, Message: tpl.Render(handle)}
	}

	campaign := &domain.Campaign{
		UserID:      userID,
		TemplateID:  tpl.ID,
		Name:        strings.TrimSpace(req.Name),
		Status:      domain.CampaignStatusDraft,
		SendRate:    tpl.SendRate,
		ScheduledAt: req.ScheduledAt,
	}
	if req.ScheduledAt != nil {
		campaign.Status = domain.CampaignStatusScheduled
	}

	if err := h.store.CreateCampaign(ctx, campaign, items); err != nil {
		h.internalError(c, "create campaign", err)
		return
	}

	c.JSON(http.StatusCreated, campaign)
}

func (h *Handler) ListCampaigns(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	campaigns, err := h.store.ListCampaignsByUser(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "list campaigns", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// CampaignQueue lists every queue item with its delivery status and error.
func (h *Handler) CampaignQueue(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}

	items, err := h.store.ListQueueItems(c.Request.Context(), campaign.ID)
	if err != nil {
		h.internalError(c, "list queue", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaign": campaign, "queue": items})
}

// StartCampaign moves a startable campaign to running and launches its run.
func (h *Handler) StartCampaign(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}

	if !campaign.Status.CanStart() {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign cannot be started from status " + string(campaign.Status)})
		return
	}
	if h.launcher.CampaignActive(campaign.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "previous run of this campaign has not finished yet"})
		return
	}

	ctx := c.Request.Context()
	if err := h.quotas.CheckDMs(ctx, campaign.UserID); err != nil {
		h.quotaError(c, err)
		return
	}

	err := h.store.TransitionCampaignStatus(ctx, campaign.ID, domain.CampaignStatusRunning, campaign.Status)
	if errors.Is(err, domain.ErrInvalidStatus) {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign status changed, try again"})
		return
	}
	if err != nil {
		h.internalError(c, "start campaign", err)
		return
	}

	taskID, err := h.launcher.LaunchCampaign(campaign.ID)
	if err != nil {
		if revertErr := h.store.TransitionCampaignStatus(
			ctx, campaign.ID, campaign.Status, domain.CampaignStatusRunning,
		); revertErr != nil {
			h.log.Error("Failed to revert campaign status", logger.CampaignID(campaign.ID), logger.Error(revertErr))
		}
		if errors.Is(err, domain.ErrCampaignActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "previous run of this campaign has not finished yet"})
			return
		}
		h.unavailable(c, "launch campaign", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"campaign_id": campaign.ID, "task_id": taskID, "status": domain.CampaignStatusRunning})
}

// PauseCampaign flips a running campaign to paused. The runner stops before its next item.
func (h *Handler) PauseCampaign(c *gin.Context) {
	campaign, ok := h.ownedCampaign(c)
	if !ok {
		return
	}

	err := h.store.TransitionCampaignStatus(c.Request.Context(), campaign.ID,
		domain.CampaignStatusPaused, domain.CampaignStatusRunning)
	if errors.Is(err, domain.ErrInvalidStatus) {
		c.JSON(http.StatusConflict, gin.H{"error": "only running campaigns can be paused"})
		return
	}
	if err != nil {
		h.internalError(c, "pause campaign", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaign_id": campaign.ID, "status": domain.CampaignStatusPaused})
}

func (h *Handler) ownedCampaign(c *gin.Context) (*domain.Campaign, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return nil, false
	}

	campaign, err := h.store.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil || campaign.UserID != userID {
		h.notFoundOr(c, "get campaign", err, "campaign")
		return nil, false
	}

	return campaign, true
}

// cleanHandles trims entries, drops empties and adds the leading "@".
func cleanHandles(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" || h == "@" {
			continue
		}
		if !strings.HasPrefix(h, "@") {
			h = "@" + h
		}
		out = append(out, h)
	}
	return out
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return userID, ok
}

func (h *Handler) releaseExtracts(ctx context.Context, userID string, n int) {
	if err := h.store.ReleaseExtracts(ctx, userID, n); err != nil {
		h.log.Error("Failed to release reserved extracts", logger.UserID(userID), logger.Error(err))
	}
}

func (h *Handler) quotaError(c *gin.Context, err error) {
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     qe.Error(),
			"kind":      qe.Kind,
			"required":  qe.Required,
			"remaining": qe.Remaining,
		})
		return
	}
	h.internalError(c, "check quota", err)
}

// notFoundOr maps a missing or foreign row to 404 and anything else to 500.
func (h *Handler) notFoundOr(c *gin.Context, op string, err error, what string) {
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	h.internalError(c, op, err)
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	logger.FromContext(c.Request.Context(), h.log).Error("Request failed", logger.String("op", op), logger.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func (h *Handler) unavailable(c *gin.Context, op string, err error) {
	logger.FromContext(c.Request.Context(), h.log).Warn("Background dispatch refused", logger.String("op", op), logger.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy, try again later"})
}
