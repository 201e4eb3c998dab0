package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/auth"
	"github.com/mikhael221/gighub-realtime/internal/domain"
	obsmw "github.com/mikhael221/gighub-realtime/internal/observability/middleware"
	"github.com/mikhael221/gighub-realtime/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// Handler serves the REST surface: history re-sync, notification inbox and
// server-to-server notification pushes.
type Handler struct {
	chat          *service.ChatService
	notifications *service.NotificationService
	pageSize      int
	logger        *slog.Logger
}

type RouterOptions struct {
	Verifier    *auth.Verifier
	CORSOrigins string
	PageSize    int
	WSHandler   http.Handler
	Metrics     http.Handler
}

func NewRouter(chat *service.ChatService, notifications *service.NotificationService, logger *slog.Logger, opts RouterOptions) http.Handler {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	h := &Handler{
		chat:          chat,
		notifications: notifications,
		pageSize:      opts.PageSize,
		logger:        logger.With(slog.String("component", "http")),
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.AccessLog)
	r.Use(obsmw.WithMetrics)
	r.Use(httprate.LimitByIP(300, 1*time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(opts.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.WSHandler != nil {
		// The websocket handler does its own token check; the timeout
		// middleware must not wrap a long-lived connection.
		r.Handle("/ws", opts.WSHandler)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(chimw.Timeout(30 * time.Second))
		pr.Use(opts.Verifier.Middleware)

		pr.Get("/conversations/{id}/messages", h.handleHistory)
		pr.Get("/conversations/{id}/unread", h.handleConversationUnread)
		pr.Get("/notifications", h.handleListNotifications)
		pr.Post("/notifications", h.handlePushNotification)
		pr.Get("/notifications/unread", h.handleNotificationUnread)
		pr.Post("/notifications/{id}/read", h.handleMarkNotificationRead)
		pr.Post("/notifications/read-all", h.handleMarkAllNotificationsRead)
	})

	return r
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", h.pageSize)
	if size > h.pageSize {
		size = h.pageSize
	}

	msgs, err := h.chat.History(r.Context(), convID, userID, page, size)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": convID,
		"page":           page,
		"messages":       msgs,
	})
}

func (h *Handler) handleConversationUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	count, err := h.chat.UnreadCount(r.Context(), convID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	limit := queryInt(r, "limit", 10)
	recs, err := h.notifications.List(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": recs})
}

type pushNotificationRequest struct {
	UserID     uuid.UUID `json:"userId"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	RelatedURL string    `json:"relatedUrl"`
	Encrypt    bool      `json:"encrypt"`
}

// handlePushNotification lets trusted backend jobs push a notification to
// any user. The caller authenticates like any other client; deployment
// keeps this route off the public edge.
func (h *Handler) handlePushNotification(w http.ResponseWriter, r *http.Request) {
	var req pushNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.UserID == uuid.Nil {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	rec, err := h.notifications.Notify(r.Context(), service.NotifyInput{
		UserID:     req.UserID,
		Title:      req.Title,
		Body:       req.Body,
		Type:       req.Type,
		RelatedURL: req.RelatedURL,
		Encrypt:    req.Encrypt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": rec.ID})
}

func (h *Handler) handleNotificationUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	count, err := h.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), id, userID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.notifications.MarkAllRead(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		http.Error(w, "not authenticated", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrAccessDenied):
		http.Error(w, "access denied or not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrConflictingState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func splitOrigins(raw string) []string {
	out := []string{}
	for _, o := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
