package repository

import (
	"context"
	"time"

	"phone-auth/backend/internal/user/domain"
)

// Repository defines persistence for users. Lookups return nil, nil when the row does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// IncrementFailedAttempts atomically adds one to failed_login_attempts and returns the new value.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	SetFailedAttempts(ctx context.Context, id string, n int) error
	Lock(ctx context.Context, id string, until time.Time) error
	TouchLogin(ctx context.Context, id, ip string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}
