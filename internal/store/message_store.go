package store

import (
	"context"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	return m.db.WithContext(ctx).Create(msg).Error
}

// ListPage returns the newest page of non-deleted messages in send order,
// page 1 first.
func (m *MessageStore) ListPage(ctx context.Context, convID domain.ConversationID, page, size int) ([]domain.Message, error) {
	if page < 1 {
		page = 1
	}
	var msgs []domain.Message
	err := m.db.WithContext(ctx).
		Where("conversation_id = ? AND NOT is_deleted", convID).
		Order("sent_at desc").
		Offset((page - 1) * size).
		Limit(size).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead flips every unread message in the conversation that was not sent
// by the reader and returns the affected rows so callers can broadcast a
// read receipt.
func (m *MessageStore) MarkRead(ctx context.Context, convID domain.ConversationID, readerID domain.UserID, at time.Time) ([]domain.Message, error) {
	var unread []domain.Message
	err := m.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id <> ? AND NOT is_read AND NOT is_deleted", convID, readerID).
		Find(&unread).Error
	if err != nil {
		return nil, err
	}
	if len(unread) == 0 {
		return nil, nil
	}
	ids := make([]domain.MessageID, 0, len(unread))
	for i := range unread {
		ids = append(ids, unread[i].ID)
		unread[i].IsRead = true
		unread[i].ReadAt = &at
	}
	err = m.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"is_read": true, "read_at": at}).Error
	if err != nil {
		return nil, err
	}
	return unread, nil
}

// UnreadCount counts messages the given user has not yet read, i.e. unread
// rows sent by the counterparty.
func (m *MessageStore) UnreadCount(ctx context.Context, convID domain.ConversationID, forUser domain.UserID) (int64, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND NOT is_read AND NOT is_deleted", convID, forUser).
		Count(&n).Error
	return n, err
}

// SoftDelete hides a message without removing the row.
func (m *MessageStore) SoftDelete(ctx context.Context, id domain.MessageID, at time.Time) error {
	return m.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at}).Error
}
