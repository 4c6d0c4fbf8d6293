package realtime

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pantrywatch/pantrywatch/internal/auth"
	"github.com/pantrywatch/pantrywatch/internal/pkg/ctxlog"
	"github.com/pantrywatch/pantrywatch/internal/pkg/httputil"
)

// TokenParser verifies stream access tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Handler exposes the SSE attach endpoint and registry introspection.
type Handler struct {
	registry *Registry
	tokens   TokenParser
}

// NewHandler creates a realtime HTTP handler.
func NewHandler(registry *Registry, tokens TokenParser) *Handler {
	return &Handler{registry: registry, tokens: tokens}
}

// RegisterRoutes registers the public stream endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.Stream)
}

// RegisterAdminRoutes registers registry introspection endpoints.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/realtime/stats", h.GetStats)
}

// Stream handles GET /stream. The browser EventSource API cannot set request
// headers, so the access token is accepted as a query parameter with the
// Authorization header as fallback.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		httputil.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}

	claims, err := h.tokens.Parse(token)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := newHTTPStream(w, flusher)
	h.registry.AddClient(claims.TenantID, claims.Subject, claims.Name, claims.Role, stream)

	// Block until the client disconnects or the registry drops the stream
	// (superseded, heartbeat failure, shutdown).
	select {
	case <-r.Context().Done():
	case <-stream.Done():
	}

	h.registry.DetachStream(claims.TenantID, claims.Subject, stream)
	_ = stream.Close()
	ctxlog.FromContext(r.Context()).Debug("sse stream closed",
		"tenant_id", claims.TenantID,
		"user_id", claims.Subject,
	)
}

// GetStats handles GET /realtime/stats.
func (h *Handler) GetStats(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.registry.Stats())
}
