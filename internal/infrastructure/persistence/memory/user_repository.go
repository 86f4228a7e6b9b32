// Package memory provides in-memory repositories.
package memory

import (
	"context"
	"sync"
	"time"

	"observability-demo/internal/domain/user"
	apperrors "observability-demo/pkg/errors"
)

// UserRepository keeps users in insertion order behind a single RWMutex.
type UserRepository struct {
	mu     sync.RWMutex
	users  []user.User
	nextID int
	now    func() time.Time
}

var _ user.Repository = (*UserRepository)(nil)

// NewUserRepository creates an empty repository. IDs start at 1.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new user under the next id.
func (r *UserRepository) Create(ctx context.Context, req user.CreateUserRequest) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u := user.User{
		ID:        r.nextID,
		Name:      req.Name,
		Email:     req.Email,
		Age:       copyAge(req.Age),
		CreatedAt: r.now(),
	}
	r.nextID++
	r.users = append(r.users, u)

	return &u, nil
}

// List returns a copy of all users in creation order.
func (r *UserRepository) List(ctx context.Context) ([]user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]user.User, len(r.users))
	copy(out, r.users)
	return out, nil
}

// Get returns the user with id.
func (r *UserRepository) Get(ctx context.Context, id int) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, apperrors.NewNotFound("User not found")
}

// Delete removes the user with id and returns it.
func (r *UserRepository) Delete(ctx context.Context, id int) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, u := range r.users {
		if u.ID == id {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return &u, nil
		}
	}
	return nil, apperrors.NewNotFound("User not found")
}

// Count returns the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func copyAge(age *int) *int {
	if age == nil {
		return nil
	}
	v := *age
	return &v
}
