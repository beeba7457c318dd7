package memory

import (
	"context"
	"sync"

	"github.com/djmorgan26/up2d8/internal/news"
	"github.com/djmorgan26/up2d8/internal/store"
)

// UserStore is an in-memory news.UserStore.
type UserStore struct {
	mu    sync.RWMutex
	users []news.User
}

// NewUserStore constructs a store seeded with the given users.
func NewUserStore(users ...news.User) *UserStore {
	return &UserStore{users: users}
}

// ListSubscribed returns users with notifications enabled.
func (s *UserStore) ListSubscribed(_ context.Context) ([]news.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var subscribed []news.User
	for _, u := range s.users {
		if u.Preferences.NotificationsEnabled {
			subscribed = append(subscribed, u)
		}
	}
	return subscribed, nil
}

// GetByEmail finds one user by address.
func (s *UserStore) GetByEmail(_ context.Context, email string) (news.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return news.User{}, store.ErrNotFound
}
