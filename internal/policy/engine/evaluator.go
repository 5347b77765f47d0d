package engine

import (
	"context"
)

// Revocation reasons a standing check can yield. They double as session revoked_reason values.
const (
	ReasonAccountDeactivated = "account_deactivated"
	ReasonAccountLocked      = "account_locked"
	ReasonRemovedFromOrg     = "removed_from_org"
)

// StandingInput is what a refresh knows about the account behind a session.
type StandingInput struct {
	UserActive       bool
	UserLocked       bool
	MembershipExists bool
	Role             string
}

// Evaluator decides whether an account is still in good standing for its session.
type Evaluator interface {
	// EvaluateStanding returns "" when the session may continue, otherwise the revocation reason.
	EvaluateStanding(ctx context.Context, in StandingInput) (string, error)
}

// builtinStanding applies the default rules without OPA. Used when evaluation fails.
func builtinStanding(in StandingInput) string {
	switch {
	case !in.UserActive:
		return ReasonAccountDeactivated
	case in.UserLocked:
		return ReasonAccountLocked
	case !in.MembershipExists:
		return ReasonRemovedFromOrg
	}
	return ""
}
