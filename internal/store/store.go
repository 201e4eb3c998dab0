package store

import (
	"context"
	"errors"

	"github.com/mikhael221/gighub-realtime/internal/domain"

	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("store: record not found")

type Store struct {
	DB *gorm.DB
}

// New wraps a gorm handle. Open the handle with TranslateError enabled so
// unique-constraint violations surface as gorm.ErrDuplicatedKey on both the
// postgres and sqlite drivers.
func New(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(
		&domain.User{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Notification{},
	)
}
