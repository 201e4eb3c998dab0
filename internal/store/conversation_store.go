package store

import (
	"context"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationStore struct{ db *gorm.DB }

func (s *Store) Conversations() *ConversationStore { return &ConversationStore{db: s.DB} }

func (c *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.Type == domain.ConversationGeneral && conv.ParticipantPair == "" {
		conv.ParticipantPair = domain.PairKey(conv.User1ID, conv.User2ID)
	}
	return c.db.WithContext(ctx).Create(conv).Error
}

func (c *ConversationStore) GetByID(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// FindActiveGeneral looks up the active general conversation for an
// unordered participant pair.
func (c *ConversationStore) FindActiveGeneral(ctx context.Context, a, b domain.UserID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.db.WithContext(ctx).
		Where("participant_pair = ? AND type = ? AND is_active", domain.PairKey(a, b), domain.ConversationGeneral).
		First(&conv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (c *ConversationStore) TouchActivity(ctx context.Context, id domain.ConversationID, at time.Time) error {
	return c.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
}

func (c *ConversationStore) Deactivate(ctx context.Context, id domain.ConversationID) error {
	return c.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}
