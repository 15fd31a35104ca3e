package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/campaign"
	"github.com/ltfpqrr/mailroom/internal/engine"
	"github.com/ltfpqrr/mailroom/internal/metrics"
	"github.com/ltfpqrr/mailroom/internal/queue"
	"github.com/ltfpqrr/mailroom/internal/store"
)

// QueueRepository is the queue surface the API needs.
type QueueRepository interface {
	Enqueue(ctx context.Context, it *queue.Item) error
	Get(ctx context.Context, id uuid.UUID) (*queue.Item, error)
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// LogRepository exposes the audit trail.
type LogRepository interface {
	ActivitySince(ctx context.Context, cutoff time.Time) (*store.ActivityStats, error)
	ListByQueueID(ctx context.Context, queueID uuid.UUID) ([]*queue.LogRecord, error)
}

// Ops triggers manual drains and retention sweeps.
type Ops interface {
	ProcessLimit(ctx context.Context, limit int) engine.Stats
	Cleanup(ctx context.Context, retentionDays int) (queueDeleted, logsDeleted int64)
}

// CampaignService runs fanouts.
type CampaignService interface {
	Create(ctx context.Context, c *queue.Campaign) error
	Send(ctx context.Context, id uuid.UUID) (*queue.Campaign, error)
	Resume(ctx context.Context, id uuid.UUID) (*queue.Campaign, error)
}

// CampaignReader reads campaign state.
type CampaignReader interface {
	Get(ctx context.Context, id uuid.UUID) (*queue.Campaign, error)
	List(ctx context.Context, limit int) ([]*queue.Campaign, error)
}

// EnqueueRequest represents the incoming enqueue body. Either a template
// reference or literal content is required.
type EnqueueRequest struct {
	To           string         `json:"to"`
	FromEmail    string         `json:"from_email,omitempty"`
	FromName     string         `json:"from_name,omitempty"`
	ReplyTo      string         `json:"reply_to,omitempty"`
	Subject      string         `json:"subject,omitempty"`
	HTMLBody     string         `json:"html_body,omitempty"`
	TextBody     string         `json:"text_body,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	EmailType    string         `json:"email_type,omitempty"`
	TemplateName string         `json:"template_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
}

// EnqueueResponse is returned after enqueueing an email.
type EnqueueResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CampaignRequest creates a draft campaign.
type CampaignRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	TemplateName string         `json:"template_name"`
	TargetType   string         `json:"target_type"`
	Criteria     map[string]any `json:"criteria,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	queues    QueueRepository
	logs      LogRepository
	ops       Ops
	campaigns CampaignService
	reader    CampaignReader
}

// NewHandler creates a new API handler
func NewHandler(
	logger *zap.Logger,
	queues QueueRepository,
	logs LogRepository,
	ops Ops,
	campaigns CampaignService,
	reader CampaignReader,
) *Handler {
	return &Handler{
		logger:    logger,
		queues:    queues,
		logs:      logs,
		ops:       ops,
		campaigns: campaigns,
		reader:    reader,
	}
}

// EnqueueEmail handles POST /v1/emails
func (h *Handler) EnqueueEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.To == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "to is required")
		return
	}
	if req.TemplateName == "" && (req.Subject == "" || req.HTMLBody == "") {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing content",
			"either template_name or subject and html_body are required")
		return
	}

	it := &queue.Item{
		To:           req.To,
		FromEmail:    req.FromEmail,
		FromName:     req.FromName,
		ReplyTo:      req.ReplyTo,
		Subject:      req.Subject,
		HTMLBody:     req.HTMLBody,
		TextBody:     req.TextBody,
		Priority:     queue.ParsePriority(req.Priority),
		EmailType:    req.EmailType,
		TemplateName: req.TemplateName,
		Metadata:     req.Metadata,
	}
	if req.ScheduledAt != nil {
		it.ScheduledAt = req.ScheduledAt.UTC()
	}

	if err := h.queues.Enqueue(ctx, it); err != nil {
		h.logger.Error("failed to enqueue email",
			zap.Error(err),
			zap.String("to", req.To),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to enqueue email", "")
		return
	}

	metrics.RecordEmailEnqueued(it.EmailType, it.Priority.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(EnqueueResponse{
		ID:     it.ID.String(),
		Status: string(it.Status),
	})
}

// GetEmail handles GET /v1/emails/{id}
func (h *Handler) GetEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid queue item ID", "ID must be a valid UUID")
		return
	}

	it, err := h.queues.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Queue item not found", "")
			return
		}
		h.logger.Error("failed to get queue item", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get queue item", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(it)
}

// GetEmailLogs handles GET /v1/emails/{id}/logs
func (h *Handler) GetEmailLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid queue item ID", "ID must be a valid UUID")
		return
	}

	records, err := h.logs.ListByQueueID(ctx, id)
	if err != nil {
		h.logger.Error("failed to list log records", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list log records", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  records,
		"count": len(records),
	})
}

// RequeueEmail handles POST /v1/emails/{id}/requeue. Only failed items
// can be re-queued; the retry budget resets.
func (h *Handler) RequeueEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid queue item ID", "ID must be a valid UUID")
		return
	}

	if err := h.queues.Requeue(ctx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotClaimable) {
			h.writeError(w, http.StatusConflict, "invalid_state", "Item is not failed",
				"only failed items can be re-queued")
			return
		}
		h.logger.Error("failed to requeue item", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to requeue item", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     id.String(),
		"status": string(queue.StatusPending),
	})
}

// GetStatus handles GET /v1/status: queue depth by status plus last-24h
// delivery activity.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.queues.CountByStatus(ctx)
	if err != nil {
		h.logger.Error("failed to count queue", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read queue status", "")
		return
	}

	activity, err := h.logs.ActivitySince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		h.logger.Error("failed to read log activity", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to read activity", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"queue":    counts,
		"last_24h": activity,
	})
}

// ProcessQueue handles POST /v1/process?limit=50: a manual drain pass.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	stats := h.ops.ProcessLimit(r.Context(), limit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// CleanupQueue handles POST /v1/cleanup?days=30: a manual retention sweep.
func (h *Handler) CleanupQueue(w http.ResponseWriter, r *http.Request) {
	days := 0
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid days", "days must be a positive integer")
			return
		}
		days = d
	}

	queueDeleted, logsDeleted := h.ops.Cleanup(r.Context(), days)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{
		"queue_deleted": queueDeleted,
		"logs_deleted":  logsDeleted,
	})
}

// CreateCampaign handles POST /v1/campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Name == "" || req.TemplateName == "" || req.TargetType == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"name, template_name, and target_type are required")
		return
	}

	c := &queue.Campaign{
		Name:         req.Name,
		Description:  req.Description,
		TemplateName: req.TemplateName,
		TargetType:   req.TargetType,
		Criteria:     req.Criteria,
	}

	if err := h.campaigns.Create(ctx, c); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown template",
				"template_name does not match an active template")
			return
		}
		h.logger.Error("failed to create campaign", zap.Error(err), zap.String("name", req.Name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create campaign", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(c)
}

// GetCampaign handles GET /v1/campaigns/{id}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid campaign ID", "ID must be a valid UUID")
		return
	}

	c, err := h.reader.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Campaign not found", "")
			return
		}
		h.logger.Error("failed to get campaign", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get campaign", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(c)
}

// ListCampaigns handles GET /v1/campaigns?limit=20
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	campaigns, err := h.reader.List(ctx, limit)
	if err != nil {
		h.logger.Error("failed to list campaigns", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list campaigns", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  campaigns,
		"count": len(campaigns),
	})
}

// SendCampaign handles POST /v1/campaigns/{id}/send
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	h.runCampaign(w, r, h.campaigns.Send, campaign.ErrNotDraft,
		"only draft campaigns can be sent; use resume for interrupted runs")
}

// ResumeCampaign handles POST /v1/campaigns/{id}/resume
func (h *Handler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.runCampaign(w, r, h.campaigns.Resume, campaign.ErrNotSending,
		"only campaigns in sending can be resumed")
}

func (h *Handler) runCampaign(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, uuid.UUID) (*queue.Campaign, error),
	stateErr error,
	stateDetail string,
) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid campaign ID", "ID must be a valid UUID")
		return
	}

	c, err := op(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Campaign not found", "")
		case errors.Is(err, stateErr):
			h.writeError(w, http.StatusConflict, "invalid_state", "Campaign state conflict", stateDetail)
		default:
			h.logger.Error("campaign run failed", zap.Error(err), zap.String("id", id.String()))
			h.writeError(w, http.StatusInternalServerError, "campaign_error", "Campaign run failed", "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(c)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
