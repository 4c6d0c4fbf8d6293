package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/pkg/httputil"
)

// Handler exposes the notification read/ack API and admin test endpoint.
type Handler struct {
	queue    *Queue
	validate *validator.Validate
}

// NewHandler creates a notifications HTTP handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{
		queue:    queue,
		validate: validator.New(),
	}
}

var notificationErrorMappings = []httputil.ErrorMapping{
	{Error: ErrNoChannels, Status: http.StatusBadRequest},
	{Error: ErrQueueStopped, Status: http.StatusServiceUnavailable},
}

// RegisterRoutes registers the authenticated user-facing routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me/notifications", h.ListMine)
	r.Post("/me/notifications/{id}/read", h.MarkRead)
}

// RegisterAdminRoutes registers hotel-admin routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/notifications/test", h.SendTest)
}

// ListMine handles GET /me/notifications.
// Query: limit (default 50, max 100), since (RFC3339 cursor).
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	identity := httputil.GetIdentity(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid since, expected RFC3339")
			return
		}
		since = parsed
	}

	items, err := h.queue.ListForRecipient(r.Context(), identity.UserID, limit, since)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, notificationErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// MarkRead handles POST /me/notifications/{id}/read. Idempotent; acking a
// notification that is not yours or does not exist is a 204 no-op.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity := httputil.GetIdentity(r.Context())
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.Error(w, http.StatusBadRequest, "missing notification id")
		return
	}

	if err := h.queue.MarkAsRead(r.Context(), id, identity.UserID); err != nil {
		httputil.HandleError(r.Context(), w, err, notificationErrorMappings)
		return
	}

	httputil.JSON(w, http.StatusNoContent, nil)
}

type testNotificationRequest struct {
	RecipientID string            `json:"recipient_id" validate:"required"`
	Title       string            `json:"title" validate:"required,max=200"`
	Message     string            `json:"message" validate:"max=2000"`
	Channels    []string          `json:"channels" validate:"required,min=1,dive,oneof=app chat email"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Data        map[string]string `json:"data"`
}

// SendTest handles POST /notifications/test. Lets an admin exercise the
// delivery pipeline end to end against a real recipient.
func (h *Handler) SendTest(w http.ResponseWriter, r *http.Request) {
	identity := httputil.GetIdentity(r.Context())

	var req testNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, c := range req.Channels {
		channels = append(channels, domain.Channel(c))
	}

	priority := domain.Priority(req.Priority)
	if req.Priority == "" {
		priority = domain.PriorityNormal
	}

	n, err := h.queue.Create(r.Context(), CreateInput{
		TenantID:    identity.TenantID,
		RecipientID: req.RecipientID,
		Type:        domain.NotificationSystemAlert,
		Title:       req.Title,
		Message:     req.Message,
		Data:        req.Data,
		Channels:    channels,
		Priority:    priority,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, notificationErrorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, n)
}
