package server

import (
	"context"

	"phone-auth/backend/internal/autherr"
	"phone-auth/backend/internal/security"
)

// rejectAll is the authenticator used when no auth service is configured.
type rejectAll struct{}

func (rejectAll) Authenticate(context.Context, string) (*security.VerifiedToken, error) {
	return nil, autherr.ErrTokenInvalid
}
