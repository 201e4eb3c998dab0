package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/auth"
	"github.com/mikhael221/gighub-realtime/internal/domain"
	"github.com/mikhael221/gighub-realtime/internal/observability/metrics"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const dispatchTimeout = 30 * time.Second

// Handler upgrades authenticated requests to websocket sessions and routes
// inbound events to the services.
type Handler struct {
	verifier      *auth.Verifier
	presence      *realtime.Presence
	groups        *realtime.Groups
	chat          *service.ChatService
	calls         *service.CallService
	notifications *service.NotificationService
	logger        *slog.Logger

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pongTimeout  time.Duration
	sendBuffer   int
}

type HandlerOptions struct {
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
	CheckOrigin  func(r *http.Request) bool
}

func NewHandler(verifier *auth.Verifier, presence *realtime.Presence, groups *realtime.Groups, chat *service.ChatService, calls *service.CallService, notifications *service.NotificationService, logger *slog.Logger, opts HandlerOptions) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		verifier:      verifier,
		presence:      presence,
		groups:        groups,
		chat:          chat,
		calls:         calls,
		notifications: notifications,
		logger:        logger.With(slog.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		writeTimeout: opts.WriteTimeout,
		pongTimeout:  opts.PongTimeout,
		sendBuffer:   opts.SendBuffer,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.FromRequest(r)
	if err != nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := newClient(ws, userID, h.sendBuffer, h.writeTimeout, h.pongTimeout, h.logger)
	h.presence.Register(userID, c)
	h.groups.Join(realtime.UserGroup(userID), c)
	metrics.WSConnectionsActive.Inc()
	c.logger.Info("connected")

	go c.writePump()
	c.readPump(h.dispatch)

	h.presence.Unregister(c)
	h.groups.LeaveAll(c)
	metrics.WSConnectionsActive.Dec()
	// Only tear down the user's calls when no fresher connection took over.
	if _, stillOnline := h.presence.Lookup(userID); !stillOnline {
		h.calls.DropUser(userID)
	}
	c.logger.Info("disconnected")
}

type joinConversationReq struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type sendMessageReq struct {
	ConversationID string     `json:"conversationId"`
	Message        string     `json:"message"`
	MessageType    string     `json:"messageType"`
	TargetUserID   *uuid.UUID `json:"targetUserId"`
}

type sendFileReq struct {
	ConversationID uuid.UUID `json:"conversationId"`
	FileName       string    `json:"fileName"`
	FileURL        string    `json:"fileUrl"`
	FileType       string    `json:"fileType"`
	FileSize       int64     `json:"fileSize"`
}

type markReadReq struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type typingReq struct {
	ConversationID uuid.UUID `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
}

type startCallReq struct {
	ChannelID    string    `json:"channelId"`
	TargetUserID uuid.UUID `json:"targetUserId"`
}

type callChannelReq struct {
	ChannelID string `json:"channelId"`
}

type endCallReq struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type signalReq struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Payload        string    `json:"payload"`
}

// dispatch runs one inbound operation. Each runs on its own goroutine so a
// slow database call never stalls the read pump.
func (h *Handler) dispatch(c *client, env envelope) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		ctx = auth.WithUserID(ctx, c.userID)

		if err := h.handle(ctx, c, env); err != nil {
			code, msg := classifyError(err)
			if code == "internal" {
				c.logger.Error("operation failed", "event", env.Event, "error", err)
			}
			c.sendError(env.Event, code, msg)
		}
	}()
}

func (h *Handler) handle(ctx context.Context, c *client, env envelope) error {
	switch env.Event {
	case "join_conversation":
		var req joinConversationReq
		if err := decode(env, &req); err != nil {
			return err
		}
		conv, err := h.chat.ResolveExisting(ctx, req.ConversationID, c.userID)
		if err != nil {
			return err
		}
		h.groups.Join(realtime.ConversationGroup(conv.ID), c)
		return nil

	case "join_personal":
		// The personal channel is joined automatically on connect; an
		// explicit join is only honored for the caller's own id.
		var req struct {
			UserID uuid.UUID `json:"userId"`
		}
		if err := decode(env, &req); err != nil {
			return err
		}
		if req.UserID != c.userID {
			return domain.ErrAccessDenied
		}
		h.groups.Join(realtime.UserGroup(c.userID), c)
		return nil

	case "leave_conversation":
		var req joinConversationReq
		if err := decode(env, &req); err != nil {
			return err
		}
		h.groups.Leave(realtime.ConversationGroup(req.ConversationID), c)
		return nil

	case "send_message":
		var req sendMessageReq
		if err := decode(env, &req); err != nil {
			return err
		}
		_, err := h.chat.SendMessage(ctx, service.SendMessageInput{
			ConversationID: req.ConversationID,
			SenderID:       c.userID,
			SenderConn:     c,
			Text:           req.Message,
			Type:           req.MessageType,
			TargetUserID:   req.TargetUserID,
		})
		return err

	case "send_file":
		var req sendFileReq
		if err := decode(env, &req); err != nil {
			return err
		}
		_, err := h.chat.SendFile(ctx, service.SendFileInput{
			ConversationID: req.ConversationID,
			SenderID:       c.userID,
			SenderConn:     c,
			FileName:       req.FileName,
			FileURL:        req.FileURL,
			FileSize:       req.FileSize,
			FileType:       req.FileType,
		})
		return err

	case "mark_read":
		var req markReadReq
		if err := decode(env, &req); err != nil {
			return err
		}
		_, err := h.chat.MarkRead(ctx, req.ConversationID, c.userID)
		return err

	case "set_typing":
		var req typingReq
		if err := decode(env, &req); err != nil {
			return err
		}
		// Typing failures are deliberately silent.
		h.chat.SetTyping(ctx, req.ConversationID, c.userID, c, req.IsTyping)
		return nil

	case "start_call":
		var req startCallReq
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.calls.Start(ctx, req.ChannelID, c.userID, req.TargetUserID, c)

	case "accept_call":
		var req callChannelReq
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.calls.Accept(ctx, req.ChannelID, c.userID, c)

	case "decline_call":
		var req callChannelReq
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.calls.Decline(ctx, req.ChannelID, c.userID)

	case "end_call":
		var req endCallReq
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.calls.End(ctx, req.ConversationID, c.userID)

	case "offer", "answer", "ice_candidate":
		var req signalReq
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.calls.Relay(ctx, env.Event, req.ConversationID, c.userID, c, req.Payload)

	case "signal":
		var req struct {
			Kind           string    `json:"kind"`
			ConversationID uuid.UUID `json:"conversationId"`
			Payload        string    `json:"payload"`
		}
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.calls.Relay(ctx, req.Kind, req.ConversationID, c.userID, c, req.Payload)

	case "mark_notification_read":
		var req struct {
			NotificationID uuid.UUID `json:"notificationId"`
		}
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.notifications.MarkRead(ctx, req.NotificationID, c.userID)

	case "mark_all_notifications_read":
		return h.notifications.MarkAllRead(ctx, c.userID)

	default:
		return errUnknownEvent
	}
}

var errUnknownEvent = errors.New("ws: unknown event")

func decode(env envelope, dst any) error {
	if len(env.Data) == 0 {
		return domain.ErrInvalidRequest
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

func classifyError(err error) (code, msg string) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return "not_authenticated", "not authenticated"
	case errors.Is(err, domain.ErrAccessDenied):
		return "access_denied", "access denied or not found"
	case errors.Is(err, domain.ErrDecryptionFailed):
		return "decryption_failed", "content could not be decrypted"
	case errors.Is(err, domain.ErrConflictingState):
		return "conflicting_state", err.Error()
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request", err.Error()
	case errors.Is(err, errUnknownEvent):
		return "invalid_request", "unknown event"
	default:
		return "internal", "internal error"
	}
}
