package interceptors

import (
	"context"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

type clientIPKey struct{}

// TrustedProxies is the set of networks whose x-forwarded-for and x-real-ip headers are believed.
// The zero value trusts nobody.
type TrustedProxies struct {
	nets []*net.IPNet
}

// ParseTrustedProxies accepts CIDRs ("10.0.0.0/8") and bare addresses ("127.0.0.1").
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q is not an IP or CIDR", e)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			t.nets = append(t.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		t.nets = append(t.nets, n)
	}
	return t, nil
}

func (t *TrustedProxies) trusts(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the caller's address. Forwarding headers are only read when the direct peer is
// a trusted proxy; x-forwarded-for is walked from the right past trusted hops.
func (t *TrustedProxies) Resolve(ctx context.Context) string {
	remote := peerIP(ctx)
	if !t.trusts(net.ParseIP(remote)) {
		return remote
	}
	md, _ := metadata.FromIncomingContext(ctx)
	if hops := forwardedHops(md.Get("x-forwarded-for")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(hops[i])
			if ip == nil {
				return remote
			}
			if i == 0 || !t.trusts(ip) {
				return hops[i]
			}
		}
	}
	if vals := md.Get("x-real-ip"); len(vals) > 0 {
		if s := strings.TrimSpace(vals[0]); net.ParseIP(s) != nil {
			return s
		}
	}
	return remote
}

func forwardedHops(vals []string) []string {
	var hops []string
	for _, v := range vals {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	return hops
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
		return host
	}
	return p.Addr.String()
}

// ClientIPUnary resolves the caller's address once per request for ClientIP.
func ClientIPUnary(trusted *TrustedProxies) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(context.WithValue(ctx, clientIPKey{}, trusted.Resolve(ctx)), req)
	}
}

// ClientIP returns the address resolved by ClientIPUnary, or the peer address when the
// interceptor did not run. It returns "" when nothing identifies the caller.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return peerIP(ctx)
}
