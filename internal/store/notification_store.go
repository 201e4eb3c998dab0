package store

import (
	"context"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationStore struct{ db *gorm.DB }

func (s *Store) Notifications() *NotificationStore { return &NotificationStore{db: s.DB} }

func (n *NotificationStore) Create(ctx context.Context, rec *domain.Notification) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return n.db.WithContext(ctx).Create(rec).Error
}

func (n *NotificationStore) GetByID(ctx context.Context, id domain.NotificationID) (*domain.Notification, error) {
	var rec domain.Notification
	if err := n.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (n *NotificationStore) ListForUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []domain.Notification
	err := n.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (n *NotificationStore) UnreadCount(ctx context.Context, userID domain.UserID) (int64, error) {
	var count int64
	err := n.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND NOT is_read", userID).
		Count(&count).Error
	return count, err
}

func (n *NotificationStore) MarkRead(ctx context.Context, id domain.NotificationID, at time.Time) error {
	return n.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_read": true, "read_at": at}).Error
}

func (n *NotificationStore) MarkAllRead(ctx context.Context, userID domain.UserID, at time.Time) error {
	return n.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND NOT is_read", userID).
		Updates(map[string]any{"is_read": true, "read_at": at}).Error
}
