package services

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"observability-demo/internal/domain/user"
	"observability-demo/internal/infrastructure/persistence/memory"
	apperrors "observability-demo/pkg/errors"
)

func intPtr(v int) *int { return &v }

// blockingDelay waits until release is closed.
type blockingDelay struct {
	entered chan struct{}
	release chan struct{}
}

func (d blockingDelay) Delay(ctx context.Context) (time.Duration, error) {
	close(d.entered)
	select {
	case <-d.release:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestRandomDelayStaysInRange(t *testing.T) {
	d := RandomDelay{Min: time.Millisecond, Max: 3 * time.Millisecond}

	for i := 0; i < 20; i++ {
		got, err := d.Delay(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, d.Min)
		assert.LessOrEqual(t, got, d.Max)
	}
}

func TestRandomDelayHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := RandomDelay{Min: time.Hour, Max: time.Hour}.Delay(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFixedAndNoDelay(t *testing.T) {
	got, err := FixedDelay(2 * time.Millisecond).Delay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, got)

	got, err = NoDelay{}.Delay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NoDelay{}.Delay(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbabilityFault(t *testing.T) {
	f, err := NewProbabilityFault(0, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.False(t, f.ShouldFail())
	}

	require.NoError(t, f.SetProbability(1))
	assert.Equal(t, 1.0, f.Probability())
	for i := 0; i < 100; i++ {
		assert.True(t, f.ShouldFail())
	}

	assert.Error(t, f.SetProbability(1.5))
	assert.Error(t, f.SetProbability(-0.1))
	assert.Equal(t, 1.0, f.Probability(), "invalid update is ignored")

	_, err = NewProbabilityFault(2, nil)
	assert.Error(t, err)
}

func TestProbabilityFaultRate(t *testing.T) {
	f, err := NewProbabilityFault(0.1, rand.New(rand.NewPCG(42, 7)))
	require.NoError(t, err)

	var failures int
	for i := 0; i < 10000; i++ {
		if f.ShouldFail() {
			failures++
		}
	}
	assert.InDelta(t, 1000, failures, 150)
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     user.CreateUserRequest
		message string
	}{
		{name: "valid", req: user.CreateUserRequest{Name: "Ann", Email: "ann@x.com", Age: intPtr(30)}},
		{name: "age omitted", req: user.CreateUserRequest{Name: "Ann", Email: "ann@x.com"}},
		{name: "missing name", req: user.CreateUserRequest{Email: "ann@x.com"}, message: "name is required"},
		{name: "bad email", req: user.CreateUserRequest{Name: "Ann", Email: "ann"}, message: "email must be a valid email"},
		{name: "negative age", req: user.CreateUserRequest{Name: "Ann", Email: "ann@x.com", Age: intPtr(-1)}, message: "age must be at least 0"},
		{name: "all missing", req: user.CreateUserRequest{}, message: "name is required; email is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.message, apperrors.Message(err))
		})
	}
}

func TestUserServiceLifecycle(t *testing.T) {
	svc := NewUserService(memory.NewUserRepository(), UserServiceOptions{}, zap.NewNop())
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, user.CreateUserRequest{Name: "Ann", Email: "ann@x.com", Age: intPtr(30)})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, 1, svc.Count())

	got, err := svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	deleted, err := svc.DeleteUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", deleted.Name)

	_, err = svc.GetUser(ctx, 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUserServiceInjectedFault(t *testing.T) {
	svc := NewUserService(memory.NewUserRepository(), UserServiceOptions{Faults: AlwaysFail{}}, zap.NewNop())

	_, err := svc.CreateUser(context.Background(), user.CreateUserRequest{Name: "Ann", Email: "ann@x.com"})

	assert.True(t, apperrors.IsInjectedFault(err))
	assert.Equal(t, InjectedFaultMessage, apperrors.Message(err))
	assert.Equal(t, 0, svc.Count())
}

func TestUserServiceRejectsInvalidInputBeforeDelay(t *testing.T) {
	d := blockingDelay{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewUserService(memory.NewUserRepository(), UserServiceOptions{Delay: d}, zap.NewNop())

	_, err := svc.CreateUser(context.Background(), user.CreateUserRequest{Name: "Ann"})

	assert.True(t, apperrors.IsValidation(err))
	select {
	case <-d.entered:
		t.Fatal("delay ran for invalid input")
	default:
	}
}

func TestUserServiceDelayDoesNotHoldRepository(t *testing.T) {
	repo := memory.NewUserRepository()
	d := blockingDelay{entered: make(chan struct{}), release: make(chan struct{})}
	slowSvc := NewUserService(repo, UserServiceOptions{Delay: d}, zap.NewNop())
	fastSvc := NewUserService(repo, UserServiceOptions{}, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := slowSvc.CreateUser(context.Background(), user.CreateUserRequest{Name: "Slow", Email: "slow@x.com"})
		done <- err
	}()
	<-d.entered

	created, err := fastSvc.CreateUser(context.Background(), user.CreateUserRequest{Name: "Fast", Email: "fast@x.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)

	close(d.release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, repo.Count())
}

func TestUserServiceCancelledDuringDelay(t *testing.T) {
	svc := NewUserService(memory.NewUserRepository(), UserServiceOptions{
		Delay: FixedDelay(time.Hour),
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.CreateUser(ctx, user.CreateUserRequest{Name: "Ann", Email: "ann@x.com"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, svc.Count())
}

func TestUserServiceSlow(t *testing.T) {
	svc := NewUserService(memory.NewUserRepository(), UserServiceOptions{Slow: FixedDelay(time.Millisecond)}, zap.NewNop())

	took, err := svc.Slow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, took)
}
