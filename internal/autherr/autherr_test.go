package autherr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", SessionRevoked("token_expired"))
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatal("errors.Is(SessionRevoked) = false")
	}
	if errors.Is(err, ErrSessionNotFound) {
		t.Fatal("SessionRevoked must not match SessionNotFound")
	}
	if KindOf(err) != KindSessionRevoked {
		t.Errorf("KindOf = %q", KindOf(err))
	}
}

func TestError_ExpiredAndInvalidAreDistinct(t *testing.T) {
	if errors.Is(ErrTokenExpired, ErrTokenInvalid) || errors.Is(ErrTokenInvalid, ErrTokenExpired) {
		t.Fatal("TokenExpired and TokenInvalid must not match each other")
	}
}

func TestError_InternalHidesCause(t *testing.T) {
	cause := errors.New(`pq: relation "sessions" does not exist`)
	err := Internal(cause)
	if strings.Contains(err.Error(), "sessions") {
		t.Errorf("Error() leaks cause: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("unclassified error should be Internal")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{-time.Second, 1},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{10 * time.Minute, 600},
	}
	for _, c := range cases {
		if got := RetryAfterSeconds(c.in); got != c.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRateLimited_Message(t *testing.T) {
	err := RateLimited(90 * time.Second)
	if !strings.Contains(err.Error(), "90s") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSessionNotFound_KeepsReasonOutOfMessage(t *testing.T) {
	err := SessionNotFound("token_expired")
	if err.Reason != "token_expired" {
		t.Errorf("Reason = %q", err.Reason)
	}
	if err.Error() != "invalid refresh token" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("should match ErrSessionNotFound")
	}
}

func TestUnauthorized(t *testing.T) {
	if KindOf(Unauthorized("session owner mismatch")) != KindUnauthorized {
		t.Error("kind should be Unauthorized")
	}
}
