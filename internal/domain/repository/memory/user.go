package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"course_zone/internal/common"
	"course_zone/internal/domain/model"
)

type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: map[string]*model.User{}}
}

func cloneUser(u *model.User) *model.User {
	out := *u
	out.Perms = append([]string(nil), u.Perms...)
	out.OrganizationIDs = append([]string(nil), u.OrganizationIDs...)
	out.ClassIDs = append([]string(nil), u.ClassIDs...)
	if u.CurrentParticipationID != nil {
		id := *u.CurrentParticipationID
		out.CurrentParticipationID = &id
	}
	return &out
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findWhere(func(u *model.User) bool { return u.Email == email })
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findWhere(func(u *model.User) bool { return u.Username == username })
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findWhere(func(u *model.User) bool { return u.ID == id })
}

func (r *UserRepository) findWhere(match func(*model.User) bool) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *UserRepository) SetCurrentParticipation(ctx context.Context, tx *sql.Tx, userID string, participationID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return common.ErrNotFound
	}
	if participationID == nil {
		u.CurrentParticipationID = nil
	} else {
		id := *participationID
		u.CurrentParticipationID = &id
	}
	u.UpdatedAt = time.Now()
	return nil
}

// Seed inserts a user directly, bypassing uniqueness checks.
func (r *UserRepository) Seed(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = cloneUser(u)
}
