package user

import "context"

// Repository stores users.
type Repository interface {
	// Create assigns the next id and stores the record.
	Create(ctx context.Context, req CreateUserRequest) (*User, error)
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int) (*User, error)
	Delete(ctx context.Context, id int) (*User, error)
	Count() int
}
