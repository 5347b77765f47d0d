// Package handler exposes the phone authentication service over gRPC.
package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	identitydomain "phone-auth/backend/internal/identity/domain"
	"phone-auth/backend/internal/identity/service"
	"phone-auth/backend/internal/server/interceptors"
	sessiondomain "phone-auth/backend/internal/session/domain"
)

// Service is the subset of *service.AuthService the handler calls.
type Service interface {
	SendChallenge(ctx context.Context, phone, ip string) (*service.ChallengeResult, error)
	VerifyAndLogin(ctx context.Context, phone, code string, device identitydomain.Device, ip string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, userID, refreshToken string, allDevices bool) (*service.LogoutResult, error)
	ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// AuthServer implements AuthServiceServer on top of Service.
// When the service is nil every RPC returns Unimplemented.
type AuthServer struct {
	auth Service
	log  *zap.Logger
}

// NewAuthServer returns a new Auth gRPC server. log may be nil.
func NewAuthServer(auth Service, log *zap.Logger) *AuthServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServer{auth: auth, log: log}
}

func (s *AuthServer) unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

// SendChallenge texts a one-time code to the phone.
func (s *AuthServer) SendChallenge(ctx context.Context, req *SendChallengeRequest) (*SendChallengeResponse, error) {
	if s.auth == nil {
		return nil, s.unimplemented("SendChallenge")
	}
	res, err := s.auth.SendChallenge(ctx, req.Phone, interceptors.ClientIP(ctx))
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return &SendChallengeResponse{
		MaskedPhone: res.MaskedPhone,
		ExpiresIn:   res.ExpiresIn,
		Message:     res.Message,
	}, nil
}

// VerifyAndLogin exchanges a code for a token pair, creating the account on first login.
func (s *AuthServer) VerifyAndLogin(ctx context.Context, req *VerifyAndLoginRequest) (*AuthResponse, error) {
	if s.auth == nil {
		return nil, s.unimplemented("VerifyAndLogin")
	}
	device := identitydomain.Device{DeviceID: req.DeviceID, Platform: req.Platform}
	res, err := s.auth.VerifyAndLogin(ctx, req.Phone, req.Code, device, interceptors.ClientIP(ctx))
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return authResponse(res), nil
}

// Refresh rotates the refresh token.
func (s *AuthServer) Refresh(ctx context.Context, req *RefreshRequest) (*AuthResponse, error) {
	if s.auth == nil {
		return nil, s.unimplemented("Refresh")
	}
	res, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return authResponse(res), nil
}

// Logout ends the current session, or all of the caller's sessions.
func (s *AuthServer) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	if s.auth == nil {
		return nil, s.unimplemented("Logout")
	}
	userID, _ := interceptors.GetUserID(ctx)
	res, err := s.auth.Logout(ctx, userID, req.RefreshToken, req.AllDevices)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	return &LogoutResponse{DevicesLoggedOut: res.DevicesLoggedOut}, nil
}

// ListSessions returns the caller's live sessions.
func (s *AuthServer) ListSessions(ctx context.Context, _ *ListSessionsRequest) (*ListSessionsResponse, error) {
	if s.auth == nil {
		return nil, s.unimplemented("ListSessions")
	}
	userID, _ := interceptors.GetUserID(ctx)
	current, _ := interceptors.GetSessionID(ctx)
	list, err := s.auth.ListSessions(ctx, userID)
	if err != nil {
		return nil, toStatus(ctx, s.log, err)
	}
	out := &ListSessionsResponse{Sessions: make([]SessionInfo, 0, len(list))}
	for _, sess := range list {
		out.Sessions = append(out.Sessions, SessionInfo{
			ID:         sess.ID,
			DeviceID:   sess.DeviceID,
			Platform:   sess.Platform,
			IPAddress:  sess.IPAddress,
			CreatedAt:  sess.CreatedAt,
			LastSeenAt: sess.LastSeenAt,
			ExpiresAt:  sess.ExpiresAt,
			Current:    sess.ID == current,
		})
	}
	return out, nil
}

func authResponse(r *service.AuthResult) *AuthResponse {
	return &AuthResponse{
		AccessToken:      r.Tokens.AccessToken,
		RefreshToken:     r.Tokens.RefreshToken,
		TokenType:        r.Tokens.TokenType,
		ExpiresIn:        r.Tokens.ExpiresIn,
		RefreshExpiresAt: r.Tokens.RefreshExpiresAt,
		IsNewUser:        r.IsNewUser,
		UserID:           r.UserID,
		OrgID:            r.OrgID,
		Role:             r.Role,
		SessionID:        r.SessionID,
	}
}
