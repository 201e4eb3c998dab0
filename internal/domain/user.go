package domain

import "time"

// User is owned by the account system; this service only reads it for
// display names and photos on live events.
type User struct {
	ID        UserID    `gorm:"type:uuid;primaryKey"`
	FirstName string    `gorm:"type:varchar(100);not null"`
	LastName  string    `gorm:"type:varchar(100);not null"`
	PhotoURL  string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "user_accounts" }

func (u *User) FullName() string { return u.FirstName + " " + u.LastName }
