package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"phone-auth/backend/internal/audit"
	auditdomain "phone-auth/backend/internal/audit/domain"
	"phone-auth/backend/internal/autherr"
	identitydomain "phone-auth/backend/internal/identity/domain"
	"phone-auth/backend/internal/lockout"
	"phone-auth/backend/internal/logger"
	membershipdomain "phone-auth/backend/internal/membership/domain"
	"phone-auth/backend/internal/mfa"
	"phone-auth/backend/internal/mfa/sms"
	"phone-auth/backend/internal/policy/engine"
	"phone-auth/backend/internal/ratelimit"
	"phone-auth/backend/internal/security"
	"phone-auth/backend/internal/session"
	sessiondomain "phone-auth/backend/internal/session/domain"
	"phone-auth/backend/internal/telemetry"
	userdomain "phone-auth/backend/internal/user/domain"
)

// AccountRepo is the minimal account repository needed by the auth service.
type AccountRepo interface {
	FindUserByPhone(ctx context.Context, phone string) (*userdomain.User, error)
	CreateUserWithDefaultOrg(ctx context.Context, phone, name string) (*identitydomain.OrgContext, bool, error)
	GetUserOrgContext(ctx context.Context, userID, orgID string) (*identitydomain.OrgContext, error)
	GetPrimaryMembership(ctx context.Context, userID string) (*membershipdomain.Membership, error)
}

// LoginRecorder stores the last successful login of a user.
type LoginRecorder interface {
	TouchLogin(ctx context.Context, id, ip string, at time.Time) error
}

// SessionStore is the session lifecycle the auth service drives.
type SessionStore interface {
	Create(ctx context.Context, n session.NewSession) (*sessiondomain.Session, error)
	FindByHash(ctx context.Context, refreshHash string) (*sessiondomain.Session, error)
	FindActiveByHash(ctx context.Context, refreshHash string) (*sessiondomain.Session, error)
	Rotate(ctx context.Context, sessionID, oldHash, newHash string, newExpiresAt time.Time) error
	Revoke(ctx context.Context, sessionID, reason string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Deps are the collaborators of AuthService. Audit, Metrics, Tracer and Log may be nil.
type Deps struct {
	Accounts     AccountRepo
	Logins       LoginRecorder
	Sessions     SessionStore
	Challenges   *mfa.ChallengeManager
	SMS          sms.Sender
	PhoneLimiter *ratelimit.Limiter
	IPLimiter    *ratelimit.Limiter
	Lockout      *lockout.Policy
	Tokens       *security.TokenIssuer
	Standing     engine.Evaluator
	Audit        audit.AuditLogger
	Metrics      *telemetry.Metrics
	Tracer       trace.Tracer
	Log          *zap.Logger
}

// ChallengeResult is returned by SendChallenge.
type ChallengeResult struct {
	MaskedPhone string
	ExpiresIn   int64 // seconds
	Message     string
}

// AuthResult is returned by VerifyAndLogin and Refresh.
type AuthResult struct {
	Tokens    *security.TokenPair
	IsNewUser bool
	UserID    string
	OrgID     string
	Role      string
	SessionID string
}

// LogoutResult reports how many sessions a logout ended.
type LogoutResult struct {
	DevicesLoggedOut int64
}

// AuthService implements phone OTP login, refresh-token rotation, and logout.
// Every returned error is an *autherr.Error.
type AuthService struct {
	accounts     AccountRepo
	logins       LoginRecorder
	sessions     SessionStore
	challenges   *mfa.ChallengeManager
	sms          sms.Sender
	phoneLimiter *ratelimit.Limiter
	ipLimiter    *ratelimit.Limiter
	lock         *lockout.Policy
	tokens       *security.TokenIssuer
	standing     engine.Evaluator
	audit        audit.AuditLogger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
	log          *zap.Logger
	nowF         func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) (*AuthService, error) {
	switch {
	case d.Accounts == nil, d.Logins == nil, d.Sessions == nil:
		return nil, errors.New("auth service: account, login and session stores are required")
	case d.Challenges == nil, d.SMS == nil:
		return nil, errors.New("auth service: challenge manager and SMS sender are required")
	case d.PhoneLimiter == nil, d.IPLimiter == nil:
		return nil, errors.New("auth service: phone and IP rate limiters are required")
	case d.Lockout == nil, d.Tokens == nil, d.Standing == nil:
		return nil, errors.New("auth service: lockout policy, token issuer and standing evaluator are required")
	}
	s := &AuthService{
		accounts:     d.Accounts,
		logins:       d.Logins,
		sessions:     d.Sessions,
		challenges:   d.Challenges,
		sms:          d.SMS,
		phoneLimiter: d.PhoneLimiter,
		ipLimiter:    d.IPLimiter,
		lock:         d.Lockout,
		tokens:       d.Tokens,
		standing:     d.Standing,
		audit:        d.Audit,
		metrics:      d.Metrics,
		tracer:       d.Tracer,
		log:          d.Log,
		nowF:         time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.metrics == nil {
		s.metrics = telemetry.Nop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// SendChallenge rate-limits by phone and then by IP, issues a fresh code and delivers it by SMS.
// A delivery failure leaves the challenge in place; the caller may simply send again.
func (s *AuthService) SendChallenge(ctx context.Context, phone, ip string) (_ *ChallengeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.SendChallenge")
	defer func() { endSpan(span, err) }()
	log := logger.From(ctx, s.log)

	if mfa.ValidatePhone(phone) != nil {
		return nil, autherr.InvalidArgument("phone must be in E.164 format")
	}
	masked := mfa.MaskPhone(phone)
	if err := s.allow(ctx, s.phoneLimiter, phone); err != nil {
		log.Info("otp send rate limited", zap.String("phone", masked), zap.String("scope", "phone"))
		return nil, err
	}
	if err := s.allow(ctx, s.ipLimiter, ipKey(ip)); err != nil {
		log.Info("otp send rate limited", zap.String("phone", masked), zap.String("scope", "ip"))
		return nil, err
	}

	code, err := s.challenges.Issue(ctx, phone)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if err := s.sms.Send(ctx, phone, code); err != nil {
		log.Warn("otp delivery failed", zap.String("phone", masked), zap.Error(err))
		return nil, autherr.OtpDeliveryFailed(err)
	}

	s.metrics.OTPSent(ctx)
	s.audit.LogEvent(ctx, audit.Event{
		Action:   auditdomain.ActionOtpSent,
		Resource: auditdomain.ResourceAuth,
		IP:       ip,
		Metadata: map[string]string{"phone": masked},
	})
	log.Info("otp sent", zap.String("phone", masked))
	return &ChallengeResult{
		MaskedPhone: masked,
		ExpiresIn:   int64(s.challenges.TTL() / time.Second),
		Message:     "Verification code sent to " + masked,
	}, nil
}

func (s *AuthService) allow(ctx context.Context, l *ratelimit.Limiter, key string) error {
	res, err := l.Check(ctx, key)
	if err != nil {
		return autherr.Internal(err)
	}
	if !res.Allowed {
		return autherr.RateLimited(res.RetryAfter)
	}
	return nil
}

func ipKey(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}

// VerifyAndLogin consumes the code for phone and opens a session. An unknown phone is
// bootstrapped with a personal organization it owns. A locked account is refused before
// the code is looked at, so the code survives the lock.
func (s *AuthService) VerifyAndLogin(ctx context.Context, phone, code string, device identitydomain.Device, ip string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.VerifyAndLogin")
	defer func() { endSpan(span, err) }()
	log := logger.From(ctx, s.log)

	if mfa.ValidatePhone(phone) != nil {
		return nil, autherr.InvalidArgument("phone must be in E.164 format")
	}
	masked := mfa.MaskPhone(phone)
	u, err := s.accounts.FindUserByPhone(ctx, phone)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	now := s.nowF().UTC()
	if u != nil {
		if err := s.lock.Check(u, now); err != nil {
			s.recordFailure(ctx, u.ID, ip, autherr.KindAccountLocked)
			s.metrics.LoginFailure(ctx, string(autherr.KindAccountLocked))
			log.Info("login refused for locked account", zap.String("phone", masked))
			return nil, err
		}
	}
	ok, err := s.challenges.Verify(ctx, phone, code)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if !ok {
		err := s.failLogin(ctx, u, ip)
		s.metrics.LoginFailure(ctx, string(autherr.KindOf(err)))
		log.Info("otp verification failed", zap.String("phone", masked), zap.String("kind", string(autherr.KindOf(err))))
		return nil, err
	}

	res := &AuthResult{}
	if u == nil {
		oc, created, err := s.accounts.CreateUserWithDefaultOrg(ctx, phone, "")
		if err != nil {
			return nil, autherr.Internal(err)
		}
		if oc == nil || oc.User == nil {
			return nil, autherr.Internal(errors.New("account bootstrap returned no user"))
		}
		if created {
			if oc.Org == nil || oc.Membership == nil {
				return nil, autherr.Internal(errors.New("account bootstrap returned no organization"))
			}
			res.UserID, res.OrgID, res.Role = oc.User.ID, oc.Org.ID, oc.Role()
			res.IsNewUser = true
			log.Info("account bootstrapped", zap.String("user_id", res.UserID), zap.String("org_id", res.OrgID))
		} else {
			// Lost a signup race; the winner's account is admitted like any existing one.
			u = oc.User
		}
	}
	if u != nil {
		if err := s.admit(ctx, u, now, ip, res); err != nil {
			s.metrics.LoginFailure(ctx, string(autherr.KindOf(err)))
			return nil, err
		}
	}

	res.SessionID = uuid.New().String()
	pair, err := s.tokens.Issue(security.Claims{
		UserID:    res.UserID,
		OrgID:     res.OrgID,
		Role:      res.Role,
		SessionID: res.SessionID,
	})
	if err != nil {
		return nil, autherr.Internal(err)
	}
	// The pair is only handed out once the session row backing it exists.
	if _, err := s.sessions.Create(ctx, session.NewSession{
		ID:               res.SessionID,
		UserID:           res.UserID,
		OrgID:            res.OrgID,
		RefreshTokenHash: security.HashToken(pair.RefreshToken),
		DeviceID:         device.DeviceID,
		Platform:         device.Platform,
		IPAddress:        ip,
		ExpiresAt:        pair.RefreshExpiresAt,
	}); err != nil {
		return nil, autherr.Internal(err)
	}
	res.Tokens = pair

	if err := s.logins.TouchLogin(ctx, res.UserID, ip, now); err != nil {
		log.Warn("record last login failed", zap.String("user_id", res.UserID), zap.Error(err))
	}
	span.SetAttributes(attribute.String("auth.user_id", res.UserID), attribute.Bool("auth.new_user", res.IsNewUser))
	s.metrics.LoginSuccess(ctx, res.IsNewUser)
	s.audit.LogEvent(ctx, audit.Event{
		OrgID:    res.OrgID,
		UserID:   res.UserID,
		Action:   auditdomain.ActionLoginSuccess,
		Resource: auditdomain.ResourceAuth,
		IP:       ip,
		Metadata: map[string]string{
			"session_id":  res.SessionID,
			"is_new_user": strconv.FormatBool(res.IsNewUser),
			"device_id":   device.DeviceID,
			"platform":    device.Platform,
		},
	})
	log.Info("login succeeded", zap.String("user_id", res.UserID), zap.String("session_id", res.SessionID))
	return res, nil
}

// admit checks an existing account's standing for login and fills res with its primary org.
func (s *AuthService) admit(ctx context.Context, u *userdomain.User, now time.Time, ip string, res *AuthResult) error {
	if err := s.lock.Check(u, now); err != nil {
		s.recordFailure(ctx, u.ID, ip, autherr.KindAccountLocked)
		return err
	}
	if !u.IsActive {
		s.recordFailure(ctx, u.ID, ip, autherr.KindUnauthorized)
		return autherr.Unauthorized(engine.ReasonAccountDeactivated)
	}
	if err := s.lock.RecordSuccess(ctx, u); err != nil {
		return autherr.Internal(err)
	}
	m, err := s.accounts.GetPrimaryMembership(ctx, u.ID)
	if err != nil {
		return autherr.Internal(err)
	}
	if m == nil {
		s.recordFailure(ctx, u.ID, ip, autherr.KindUnauthorized)
		return autherr.Unauthorized(engine.ReasonRemovedFromOrg)
	}
	res.UserID, res.OrgID, res.Role = u.ID, m.OrgID, string(m.Role)
	return nil
}

// failLogin classifies a rejected code. Known users count toward the lock.
func (s *AuthService) failLogin(ctx context.Context, u *userdomain.User, ip string) error {
	if u == nil {
		s.recordFailure(ctx, "", ip, autherr.KindOtpInvalid)
		return autherr.OtpInvalid(-1)
	}
	out, err := s.lock.RecordFailure(ctx, u)
	if err != nil {
		return autherr.Internal(err)
	}
	if !out.Locked {
		s.recordFailure(ctx, u.ID, ip, autherr.KindOtpInvalid)
		return autherr.OtpInvalid(out.Remaining)
	}
	s.metrics.AccountLocked(ctx)
	s.recordFailure(ctx, u.ID, ip, autherr.KindAccountLocked)
	if n, err := s.sessions.RevokeAllForUser(ctx, u.ID, sessiondomain.ReasonAccountLocked); err != nil {
		logger.From(ctx, s.log).Warn("revoke sessions of locked account failed", zap.String("user_id", u.ID), zap.Error(err))
	} else if n > 0 {
		s.audit.LogEvent(ctx, audit.Event{
			UserID:   u.ID,
			Action:   auditdomain.ActionSessionRevoked,
			Resource: auditdomain.ResourceSession,
			IP:       ip,
			Metadata: map[string]string{"reason": sessiondomain.ReasonAccountLocked, "count": strconv.FormatInt(n, 10)},
		})
	}
	return autherr.AccountLocked(out.LockedUntil)
}

func (s *AuthService) recordFailure(ctx context.Context, userID, ip string, kind autherr.Kind) {
	s.audit.LogEvent(ctx, audit.Event{
		UserID:   userID,
		Action:   auditdomain.ActionLoginFailure,
		Resource: auditdomain.ResourceAuth,
		IP:       ip,
		Metadata: map[string]string{"reason": string(kind)},
	})
}

// Refresh rotates the refresh token of a live session after re-checking the account's standing.
// Replaying a rotated token fails; so does the loser of two concurrent refreshes.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(autherr.KindOf(err))
		}
		s.metrics.Refresh(ctx, outcome)
		endSpan(span, err)
	}()
	log := logger.From(ctx, s.log)

	vt, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, tokenError(err)
	}
	oldHash := security.HashToken(refreshToken)
	sess, err := s.sessions.FindActiveByHash(ctx, oldHash)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if sess == nil {
		return nil, s.classifyInactive(ctx, oldHash)
	}
	if !security.TokenHashEqual(refreshToken, sess.RefreshTokenHash) || sess.ID != vt.SessionID || sess.UserID != vt.UserID {
		log.Warn("refresh token claims do not match session", zap.String("session_id", sess.ID))
		return nil, autherr.New(autherr.KindTokenInvalid, nil)
	}
	span.SetAttributes(attribute.String("auth.session_id", sess.ID))

	oc, err := s.accounts.GetUserOrgContext(ctx, sess.UserID, sess.OrgID)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	reason, err := s.standing.EvaluateStanding(ctx, standingInput(oc, s.nowF().UTC()))
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if reason != "" {
		s.revoke(ctx, sess, reason)
		return nil, autherr.SessionRevoked(reason)
	}

	role := oc.Role()
	pair, err := s.tokens.Issue(security.Claims{
		UserID:    sess.UserID,
		OrgID:     sess.OrgID,
		Role:      role,
		SessionID: sess.ID,
	})
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if err := s.sessions.Rotate(ctx, sess.ID, oldHash, security.HashToken(pair.RefreshToken), pair.RefreshExpiresAt); err != nil {
		if errors.Is(err, session.ErrStaleSession) {
			log.Info("refresh lost rotation race", zap.String("session_id", sess.ID))
			return nil, autherr.SessionRevoked("")
		}
		return nil, autherr.Internal(err)
	}

	s.audit.LogEvent(ctx, audit.Event{
		OrgID:    sess.OrgID,
		UserID:   sess.UserID,
		Action:   auditdomain.ActionTokenRefreshed,
		Resource: auditdomain.ResourceSession,
		Metadata: map[string]string{"session_id": sess.ID},
	})
	return &AuthResult{
		Tokens:    pair,
		UserID:    sess.UserID,
		OrgID:     sess.OrgID,
		Role:      role,
		SessionID: sess.ID,
	}, nil
}

// classifyInactive explains why no live session owns hash. An active row past its expiry is
// revoked here, since expiry is only enforced lazily.
func (s *AuthService) classifyInactive(ctx context.Context, hash string) error {
	sess, err := s.sessions.FindByHash(ctx, hash)
	if err != nil {
		return autherr.Internal(err)
	}
	if sess == nil {
		return autherr.SessionNotFound("")
	}
	if !sess.IsActive {
		return autherr.SessionRevoked(sess.RevokedReason)
	}
	s.revoke(ctx, sess, sessiondomain.ReasonTokenExpired)
	return autherr.SessionNotFound(sessiondomain.ReasonTokenExpired)
}

// revoke ends sess with reason. Failures are logged; the caller's request fails either way.
func (s *AuthService) revoke(ctx context.Context, sess *sessiondomain.Session, reason string) {
	log := logger.From(ctx, s.log)
	revoked, err := s.sessions.Revoke(ctx, sess.ID, reason)
	if err != nil {
		log.Warn("revoke session failed", zap.String("session_id", sess.ID), zap.String("reason", reason), zap.Error(err))
		return
	}
	if !revoked {
		return
	}
	log.Info("session revoked", zap.String("session_id", sess.ID), zap.String("reason", reason))
	s.audit.LogEvent(ctx, audit.Event{
		OrgID:    sess.OrgID,
		UserID:   sess.UserID,
		Action:   auditdomain.ActionSessionRevoked,
		Resource: auditdomain.ResourceSession,
		Metadata: map[string]string{"session_id": sess.ID, "reason": reason},
	})
}

func standingInput(oc *identitydomain.OrgContext, now time.Time) engine.StandingInput {
	if oc == nil || oc.User == nil {
		return engine.StandingInput{}
	}
	return engine.StandingInput{
		UserActive:       oc.User.IsActive,
		UserLocked:       oc.User.IsLocked(now),
		MembershipExists: oc.Membership != nil,
		Role:             oc.Role(),
	}
}

// Logout ends the caller's session identified by refreshToken, or every session of userID when
// allDevices is set. userID comes from the caller's verified access token.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string, allDevices bool) (_ *LogoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Bool("auth.all_devices", allDevices))
	log := logger.From(ctx, s.log)

	if userID == "" {
		return nil, autherr.Unauthorized("missing caller identity")
	}
	if allDevices {
		n, err := s.sessions.RevokeAllForUser(ctx, userID, sessiondomain.ReasonUserLogoutAllDevices)
		if err != nil {
			return nil, autherr.Internal(err)
		}
		s.metrics.Logout(ctx, true)
		s.audit.LogEvent(ctx, audit.Event{
			UserID:   userID,
			Action:   auditdomain.ActionLogoutAllDevices,
			Resource: auditdomain.ResourceSession,
			Metadata: map[string]string{"devices_logged_out": strconv.FormatInt(n, 10)},
		})
		log.Info("logged out of all devices", zap.String("user_id", userID), zap.Int64("sessions", n))
		return &LogoutResult{DevicesLoggedOut: n}, nil
	}

	if refreshToken == "" {
		return nil, autherr.InvalidArgument("refresh token is required")
	}
	sess, err := s.sessions.FindByHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		return nil, autherr.Internal(err)
	}
	if sess == nil {
		return nil, autherr.SessionNotFound("")
	}
	if !sess.IsActive {
		return nil, autherr.SessionRevoked(sess.RevokedReason)
	}
	if sess.UserID != userID {
		log.Warn("logout of foreign session rejected", zap.String("user_id", userID), zap.String("session_id", sess.ID))
		return nil, autherr.Unauthorized("session belongs to another user")
	}
	revoked, err := s.sessions.Revoke(ctx, sess.ID, sessiondomain.ReasonUserLogout)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	var n int64
	if revoked {
		n = 1
	}
	s.metrics.Logout(ctx, false)
	s.audit.LogEvent(ctx, audit.Event{
		OrgID:    sess.OrgID,
		UserID:   userID,
		Action:   auditdomain.ActionLogout,
		Resource: auditdomain.ResourceSession,
		Metadata: map[string]string{"session_id": sess.ID},
	})
	return &LogoutResult{DevicesLoggedOut: n}, nil
}

// ListSessions returns the caller's live sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	if userID == "" {
		return nil, autherr.Unauthorized("missing caller identity")
	}
	list, err := s.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, autherr.Internal(err)
	}
	return list, nil
}

// Authenticate verifies an access token and returns its claims.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*security.VerifiedToken, error) {
	vt, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, tokenError(err)
	}
	return vt, nil
}

// tokenError maps TokenIssuer errors onto the auth error kinds.
func tokenError(err error) error {
	switch {
	case errors.Is(err, security.ErrTokenMalformed):
		return autherr.New(autherr.KindTokenMalformed, err)
	case errors.Is(err, security.ErrTokenExpired):
		return autherr.New(autherr.KindTokenExpired, err)
	case errors.Is(err, security.ErrTokenInvalid):
		return autherr.New(autherr.KindTokenInvalid, err)
	default:
		return autherr.Internal(err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(autherr.KindOf(err)))
	}
	span.End()
}
