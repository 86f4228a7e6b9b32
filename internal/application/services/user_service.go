package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"observability-demo/internal/domain/user"
	apperrors "observability-demo/pkg/errors"
)

// InjectedFaultMessage is the detail of a creation failed by the fault policy.
const InjectedFaultMessage = "Random server error"

// UserService serves the user resource. Every operation first waits for the
// processing delay; creation may additionally fail on purpose.
type UserService struct {
	repo   user.Repository
	delay  DelayProvider
	slow   DelayProvider
	faults FaultPolicy
	logger *zap.Logger
}

// UserServiceOptions holds the simulation collaborators of a UserService.
// Nil fields mean no delay and no faults.
type UserServiceOptions struct {
	Delay  DelayProvider
	Slow   DelayProvider
	Faults FaultPolicy
}

// NewUserService creates a new user service
func NewUserService(repo user.Repository, opts UserServiceOptions, logger *zap.Logger) *UserService {
	s := &UserService{
		repo:   repo,
		delay:  opts.Delay,
		slow:   opts.Slow,
		faults: opts.Faults,
		logger: logger,
	}
	if s.delay == nil {
		s.delay = NoDelay{}
	}
	if s.slow == nil {
		s.slow = NoDelay{}
	}
	if s.faults == nil {
		s.faults = NeverFail{}
	}
	return s
}

// CreateUser validates req, waits for the processing delay and stores a new
// user unless the fault policy fires.
func (s *UserService) CreateUser(ctx context.Context, req user.CreateUserRequest) (*user.User, error) {
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	if _, err := s.delay.Delay(ctx); err != nil {
		return nil, err
	}
	if s.faults.ShouldFail() {
		s.logger.Warn("Injected fault on user creation", zap.String("email", req.Email))
		return nil, apperrors.NewInjectedFault(InjectedFaultMessage)
	}

	u, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created user", zap.Int("user_id", u.ID), zap.String("email", u.Email))
	return u, nil
}

// ListUsers returns every stored user.
func (s *UserService) ListUsers(ctx context.Context) ([]user.User, error) {
	if _, err := s.delay.Delay(ctx); err != nil {
		return nil, err
	}
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Listed users", zap.Int("count", len(users)))
	return users, nil
}

func (s *UserService) GetUser(ctx context.Context, id int) (*user.User, error) {
	if _, err := s.delay.Delay(ctx); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// DeleteUser removes the user and returns the removed record.
func (s *UserService) DeleteUser(ctx context.Context, id int) (*user.User, error) {
	if _, err := s.delay.Delay(ctx); err != nil {
		return nil, err
	}
	u, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Deleted user", zap.Int("user_id", u.ID))
	return u, nil
}

// Slow waits for the slow operation delay and returns how long it took.
func (s *UserService) Slow(ctx context.Context) (time.Duration, error) {
	return s.slow.Delay(ctx)
}

// Count returns the number of stored users.
func (s *UserService) Count() int {
	return s.repo.Count()
}
