package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"
	"github.com/mikhael221/gighub-realtime/internal/observability/metrics"
	"github.com/mikhael221/gighub-realtime/internal/realtime"
	"github.com/mikhael221/gighub-realtime/internal/roomcrypto"
	"github.com/mikhael221/gighub-realtime/internal/store"

	"github.com/google/uuid"
)

const encryptedPlaceholder = "[encrypted]"

// NotificationService persists inbox notifications and pushes them to the
// owner's live connection. Sensitive notifications are encrypted at rest
// under the owner's derived key; the live push always carries plaintext.
type NotificationService struct {
	store        *store.Store
	presence     *realtime.Presence
	groups       *realtime.Groups
	masterSecret []byte
	logger       *slog.Logger
	now          func() time.Time
}

func NewNotificationService(st *store.Store, presence *realtime.Presence, groups *realtime.Groups, masterSecret []byte, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		store:        st,
		presence:     presence,
		groups:       groups,
		masterSecret: masterSecret,
		logger:       logger.With(slog.String("component", "notification")),
		now:          time.Now,
	}
}

type NotifyInput struct {
	UserID     domain.UserID
	Title      string
	Body       string
	Type       string
	RelatedURL string
	Encrypt    bool
}

// Notify stores the notification and pushes it plus the owner's fresh
// unread count to their personal channel.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*domain.Notification, error) {
	if strings.TrimSpace(in.Title) == "" || in.Type == "" {
		return nil, fmt.Errorf("%w: title and type required", domain.ErrInvalidRequest)
	}

	rec := &domain.Notification{
		ID:        uuid.New(),
		UserID:    in.UserID,
		Title:     in.Title,
		Body:      in.Body,
		Type:      in.Type,
		CreatedAt: s.now().UTC(),
	}
	if in.RelatedURL != "" {
		rec.RelatedURL = &in.RelatedURL
	}

	if in.Encrypt {
		key := roomcrypto.DeriveUserKey(s.masterSecret, in.UserID.String())
		encTitle, err := roomcrypto.Encrypt(in.Title, key)
		if err != nil {
			return nil, err
		}
		encBody, err := roomcrypto.Encrypt(in.Body, key)
		if err != nil {
			return nil, err
		}
		rec.IsEncrypted = true
		rec.EncryptedTitle = &encTitle
		rec.EncryptedBody = &encBody
		rec.Title = encryptedPlaceholder
		rec.Body = encryptedPlaceholder
	}

	if err := s.store.Notifications().Create(ctx, rec); err != nil {
		return nil, err
	}
	metrics.NotificationsStoredTotal.WithLabelValues(in.Type).Inc()

	data := NotificationData{
		ID:         rec.ID,
		Title:      in.Title,
		Body:       in.Body,
		Type:       in.Type,
		RelatedURL: in.RelatedURL,
		CreatedAt:  rec.CreatedAt,
	}
	publishToUser(s.presence, s.groups, in.UserID, realtime.Event{Name: EvNotificationPushed, Data: data})
	s.publishUnread(ctx, in.UserID)
	return rec, nil
}

// List returns the owner's most recent notifications decrypted for display.
func (s *NotificationService) List(ctx context.Context, userID domain.UserID, limit int) ([]NotificationData, error) {
	recs, err := s.store.Notifications().ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	key := roomcrypto.DeriveUserKey(s.masterSecret, userID.String())
	out := make([]NotificationData, 0, len(recs))
	for i := range recs {
		out = append(out, s.decryptForDisplay(&recs[i], key))
	}
	return out, nil
}

// MarkRead flips one notification. Only the owner may do so; a foreign id
// reads as not found.
func (s *NotificationService) MarkRead(ctx context.Context, id domain.NotificationID, userID domain.UserID) error {
	rec, err := s.store.Notifications().GetByID(ctx, id)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return domain.ErrAccessDenied
		}
		return err
	}
	if rec.UserID != userID {
		return domain.ErrAccessDenied
	}
	if rec.IsRead {
		return nil
	}
	if err := s.store.Notifications().MarkRead(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.publishUnread(ctx, userID)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID domain.UserID) error {
	if err := s.store.Notifications().MarkAllRead(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	s.publishUnread(ctx, userID)
	return nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID domain.UserID) (int64, error) {
	return s.store.Notifications().UnreadCount(ctx, userID)
}

func (s *NotificationService) decryptForDisplay(rec *domain.Notification, key [roomcrypto.KeySize]byte) NotificationData {
	data := NotificationData{
		ID:        rec.ID,
		Title:     rec.Title,
		Body:      rec.Body,
		Type:      rec.Type,
		CreatedAt: rec.CreatedAt,
	}
	if rec.RelatedURL != nil {
		data.RelatedURL = *rec.RelatedURL
	}
	if !rec.IsEncrypted {
		return data
	}
	if rec.EncryptedTitle != nil {
		if title, err := roomcrypto.Decrypt(*rec.EncryptedTitle, key); err == nil {
			data.Title = title
		} else {
			s.logger.Warn("undecryptable notification title", "notification_id", rec.ID)
		}
	}
	if rec.EncryptedBody != nil {
		if body, err := roomcrypto.Decrypt(*rec.EncryptedBody, key); err == nil {
			data.Body = body
		}
	}
	return data
}

func (s *NotificationService) publishUnread(ctx context.Context, userID domain.UserID) {
	count, err := s.store.Notifications().UnreadCount(ctx, userID)
	if err != nil {
		s.logger.Warn("unread count failed", "user_id", userID, "error", err)
		return
	}
	publishToUser(s.presence, s.groups, userID, realtime.Event{Name: EvUnreadCountUpdated, Data: UnreadCountData{
		Scope: "notifications",
		Count: count,
	}})
}
