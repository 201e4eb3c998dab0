package domain

import "time"

// Notification is the persisted inbox record. When IsEncrypted is set the
// Title/Body columns hold a placeholder and the real content lives in the
// EncryptedTitle/EncryptedBody columns, keyed per owning user.
type Notification struct {
	ID             NotificationID `gorm:"type:uuid;primaryKey"`
	UserID         UserID         `gorm:"type:uuid;not null;index:idx_notifications_user_created,priority:1"`
	Title          string         `gorm:"type:varchar(100);not null"`
	Body           string         `gorm:"type:varchar(500);not null"`
	Type           string         `gorm:"type:varchar(50);not null"`
	RelatedURL     *string        `gorm:"type:text"`
	IsEncrypted    bool           `gorm:"not null;default:false"`
	EncryptedTitle *string        `gorm:"type:text"`
	EncryptedBody  *string        `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_notifications_user_created,priority:2"`
	IsRead         bool           `gorm:"not null;default:false"`
	ReadAt         *time.Time
}

func (Notification) TableName() string { return "notifications" }
