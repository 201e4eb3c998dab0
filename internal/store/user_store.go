package store

import (
	"context"

	"github.com/mikhael221/gighub-realtime/internal/domain"

	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB} }

func (u *UserStore) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Create exists for seeding and tests; accounts are owned by the account
// system in production.
func (u *UserStore) Create(ctx context.Context, user *domain.User) error {
	return u.db.WithContext(ctx).Create(user).Error
}
