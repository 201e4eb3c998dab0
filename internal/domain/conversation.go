package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation types. General rooms are the lazily-created two-party chats;
// project and mentorship rooms are linked to their owning entity.
const (
	ConversationGeneral    = "general"
	ConversationProject    = "project"
	ConversationMentorship = "mentorship"
)

type Conversation struct {
	ID              ConversationID `gorm:"type:uuid;primaryKey"`
	User1ID         UserID         `gorm:"type:uuid;not null;index"`
	User2ID         UserID         `gorm:"type:uuid;not null;index"`
	Type            string         `gorm:"type:varchar(20);not null;default:'general'"`
	ProjectID       *uuid.UUID     `gorm:"type:uuid"`
	MentorshipID    *uuid.UUID     `gorm:"type:uuid"`
	ParticipantPair string         `gorm:"type:varchar(80);not null;default:'';uniqueIndex:ux_conversations_active_pair,where:participant_pair <> '' AND is_active"`
	CreatedAt       time.Time      `gorm:"not null"`
	LastActivityAt  *time.Time
	IsActive        bool `gorm:"not null;default:true"`
}

func (Conversation) TableName() string { return "conversations" }

// HasParticipant reports whether the user is one of the two parties.
func (c *Conversation) HasParticipant(userID UserID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// OtherParticipant returns the counterparty for a given participant.
func (c *Conversation) OtherParticipant(userID UserID) UserID {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// PairKey builds the order-independent participant key that backs the
// uniqueness constraint on active general conversations.
func PairKey(a, b UserID) string {
	as, bs := a.String(), b.String()
	if strings.Compare(as, bs) > 0 {
		as, bs = bs, as
	}
	return as + "|" + bs
}
