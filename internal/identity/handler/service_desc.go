package handler

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "phoneauth.auth.v1.AuthService"

// Full method names, as seen by interceptors.
const (
	MethodSendChallenge  = "/" + ServiceName + "/SendChallenge"
	MethodVerifyAndLogin = "/" + ServiceName + "/VerifyAndLogin"
	MethodRefresh        = "/" + ServiceName + "/Refresh"
	MethodLogout         = "/" + ServiceName + "/Logout"
	MethodListSessions   = "/" + ServiceName + "/ListSessions"
)

// PublicMethods are callable without a Bearer access token.
var PublicMethods = map[string]bool{
	MethodSendChallenge:  true,
	MethodVerifyAndLogin: true,
	MethodRefresh:        true,
}

// AuthServiceServer is the server API for AuthService.
type AuthServiceServer interface {
	SendChallenge(context.Context, *SendChallengeRequest) (*SendChallengeResponse, error)
	VerifyAndLogin(context.Context, *VerifyAndLoginRequest) (*AuthResponse, error)
	Refresh(context.Context, *RefreshRequest) (*AuthResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// AuthServiceDesc describes AuthService for grpc.Server.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendChallenge", Handler: sendChallengeHandler},
		{MethodName: "VerifyAndLogin", Handler: verifyAndLoginHandler},
		{MethodName: "Refresh", Handler: refreshHandler},
		{MethodName: "Logout", Handler: logoutHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "phoneauth/auth/v1/auth.json",
}

func sendChallengeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendChallengeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).SendChallenge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSendChallenge}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).SendChallenge(ctx, req.(*SendChallengeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyAndLoginHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(VerifyAndLoginRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).VerifyAndLogin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodVerifyAndLogin}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).VerifyAndLogin(ctx, req.(*VerifyAndLoginRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RefreshRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Refresh(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRefresh}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).Refresh(ctx, req.(*RefreshRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func logoutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LogoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Logout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLogout}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).Logout(ctx, req.(*LogoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listSessionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListSessionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListSessions}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).ListSessions(ctx, req.(*ListSessionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AuthServiceClient calls AuthService using the JSON codec.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthServiceClient returns a client over cc.
func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *AuthServiceClient) SendChallenge(ctx context.Context, in *SendChallengeRequest, opts ...grpc.CallOption) (*SendChallengeResponse, error) {
	out := new(SendChallengeResponse)
	if err := c.invoke(ctx, MethodSendChallenge, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) VerifyAndLogin(ctx context.Context, in *VerifyAndLoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.invoke(ctx, MethodVerifyAndLogin, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.invoke(ctx, MethodRefresh, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	out := new(LogoutResponse)
	if err := c.invoke(ctx, MethodLogout, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) ListSessions(ctx context.Context, in *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	out := new(ListSessionsResponse)
	if err := c.invoke(ctx, MethodListSessions, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
