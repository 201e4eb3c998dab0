package domain

import "time"

// Message types carried both at rest and on the live event surface.
const (
	MessageText   = "text"
	MessageFile   = "file"
	MessageImage  = "image"
	MessageVideo  = "video"
	MessageSystem = "system"
)

// Message stores the at-rest form of a chat message. Payload holds
// base64(IV || ciphertext) for every type except system messages, which are
// written by the server and kept plaintext. Rows are soft-deleted only.
type Message struct {
	ID             MessageID      `gorm:"type:uuid;primaryKey"`
	ConversationID ConversationID `gorm:"type:uuid;not null;index:idx_messages_conv_sent,priority:1"`
	SenderID       UserID         `gorm:"type:uuid;not null"`
	Payload        string         `gorm:"type:text;not null"`
	Type           string         `gorm:"type:varchar(20);not null"`
	FileURL        *string        `gorm:"type:text"`
	FileType       *string        `gorm:"type:varchar(100)"`
	FileSize       *int64
	SentAt         time.Time `gorm:"not null;index:idx_messages_conv_sent,priority:2"`
	IsRead         bool      `gorm:"not null;default:false"`
	ReadAt         *time.Time
	IsDeleted      bool `gorm:"not null;default:false"`
	DeletedAt      *time.Time
}

func (Message) TableName() string { return "messages" }
