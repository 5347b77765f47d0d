package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const standingQuery = "data.phoneauth.standing.deny_reason"

// Default Rego policy. The first matching rule wins.
const defaultRegoPolicy = `package phoneauth.standing

default deny_reason := ""

deny_reason := "account_deactivated" if {
	not input.user.is_active
} else := "account_locked" if {
	input.user.is_locked
} else := "removed_from_org" if {
	not input.membership.exists
}
`

// OPAEvaluator evaluates the standing policy with an in-process OPA Rego engine. The policy is
// compiled once; a custom module must define data.phoneauth.standing.deny_reason.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

// NewOPAEvaluator compiles module (the default policy when empty). log may be nil.
func NewOPAEvaluator(ctx context.Context, module string, log *zap.Logger) (*OPAEvaluator, error) {
	if module == "" {
		module = defaultRegoPolicy
	}
	if log == nil {
		log = zap.NewNop()
	}
	pq, err := rego.New(
		rego.Query(standingQuery),
		rego.Module("standing.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile standing policy: %w", err)
	}
	return &OPAEvaluator{query: pq, log: log}, nil
}

// NewOPAEvaluatorFromFile compiles the policy at path, or the default policy when path is empty.
func NewOPAEvaluatorFromFile(ctx context.Context, path string, log *zap.Logger) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", log)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read standing policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(src), log)
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
// Does not touch the database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	probe, err := NewOPAEvaluator(ctx, "", nil)
	if err != nil {
		return err
	}
	reason, err := probe.eval(ctx, StandingInput{UserActive: true, MembershipExists: true})
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if reason != "" {
		return fmt.Errorf("default policy denied a healthy account: %q", reason)
	}
	return nil
}

// EvaluateStanding evaluates the policy for in. If evaluation fails the built-in rules decide,
// so a broken custom policy can never let a deactivated account refresh.
func (e *OPAEvaluator) EvaluateStanding(ctx context.Context, in StandingInput) (string, error) {
	reason, err := e.eval(ctx, in)
	if err != nil {
		e.log.Error("standing policy evaluation failed, using built-in rules", zap.Error(err))
		return builtinStanding(in), nil
	}
	return reason, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, in StandingInput) (string, error) {
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"is_active": in.UserActive,
			"is_locked": in.UserLocked,
		},
		"membership": map[string]interface{}{
			"exists": in.MembershipExists,
			"role":   in.Role,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", errors.New("policy query returned no result")
	}
	reason, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("deny_reason is %T, want string", rs[0].Expressions[0].Value)
	}
	return reason, nil
}
