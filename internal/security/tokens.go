package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrTokenMalformed is returned when the token cannot be decoded as a JWT.
	ErrTokenMalformed = errors.New("malformed token")
	// ErrTokenExpired is returned for an authentic token whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, wrong issuer or audience, and a token of the wrong use.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrInvalidClaims is returned by Issue when a required claim is empty.
	ErrInvalidClaims = errors.New("invalid claims")
	// ErrWeakSecret is returned when an HMAC secret is shorter than MinSecretLen.
	ErrWeakSecret = errors.New("hmac secret too short")
)

// MinSecretLen is the minimum HS256 secret length in bytes.
const MinSecretLen = 32

const (
	useAccess  = "access"
	useRefresh = "refresh"
	// TokenTypeBearer is the token_type reported with every pair.
	TokenTypeBearer = "Bearer"
)

// KeySet signs and verifies one kind of token.
type KeySet struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// Alg returns the JWT alg header value for the key set.
func (k KeySet) Alg() string {
	if k.method == nil {
		return ""
	}
	return k.method.Alg()
}

// HMACKey returns an HS256 key set for secret.
func HMACKey(secret []byte) (KeySet, error) {
	if len(secret) < MinSecretLen {
		return KeySet{}, ErrWeakSecret
	}
	return KeySet{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret}, nil
}

// AsymmetricKey returns an RS256 or ES256 key set depending on the key type.
func AsymmetricKey(priv crypto.Signer, pub crypto.PublicKey) (KeySet, error) {
	if priv == nil || pub == nil {
		return KeySet{}, ErrInvalidKey
	}
	switch pub.(type) {
	case *rsa.PublicKey:
		return KeySet{method: jwt.SigningMethodRS256, signKey: priv, verifyKey: pub}, nil
	case *ecdsa.PublicKey:
		return KeySet{method: jwt.SigningMethodES256, signKey: priv, verifyKey: pub}, nil
	default:
		return KeySet{}, ErrInvalidKey
	}
}

// DeriveHMACKeys expands one master secret into independent access and refresh HS256 keys
// with HKDF-SHA256, so a token signed for one use never verifies as the other.
func DeriveHMACKeys(master []byte) (access, refresh KeySet, err error) {
	if len(master) < MinSecretLen {
		return KeySet{}, KeySet{}, ErrWeakSecret
	}
	a, err := expand(master, "phone-auth/jwt/access")
	if err != nil {
		return KeySet{}, KeySet{}, err
	}
	r, err := expand(master, "phone-auth/jwt/refresh")
	if err != nil {
		return KeySet{}, KeySet{}, err
	}
	access, _ = HMACKey(a)
	refresh, _ = HMACKey(r)
	return access, refresh, nil
}

func expand(master []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// Claims are the identity fields bound into both tokens of a pair.
type Claims struct {
	UserID    string
	OrgID     string
	Role      string
	SessionID string
}

func (c Claims) validate() error {
	if c.UserID == "" || c.OrgID == "" || c.Role == "" || c.SessionID == "" {
		return ErrInvalidClaims
	}
	return nil
}

// TokenClaims is the JWT payload.
type TokenClaims struct {
	jwt.RegisteredClaims
	OrgID     string `json:"org_id"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	TokenUse  string `json:"token_use"`
}

// VerifiedToken is what a successful verification yields.
type VerifiedToken struct {
	Claims
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is returned to the client after login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // access token lifetime in seconds
	RefreshExpiresAt time.Time
	TokenType        string
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	AccessKey  KeySet
	RefreshKey KeySet
}

// TokenIssuer issues and verifies access and refresh JWTs with independent key sets.
type TokenIssuer struct {
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	access     KeySet
	refresh    KeySet
	nowF       func() time.Time
}

// NewTokenIssuer validates cfg and returns a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token issuer: issuer and audience are required")
	}
	if cfg.AccessTTL < time.Second || cfg.RefreshTTL < time.Second {
		return nil, errors.New("token issuer: ttl must be at least 1s")
	}
	if cfg.AccessKey.method == nil || cfg.RefreshKey.method == nil {
		return nil, errors.New("token issuer: access and refresh keys are required")
	}
	return &TokenIssuer{
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL.Truncate(time.Second),
		refreshTTL: cfg.RefreshTTL.Truncate(time.Second),
		access:     cfg.AccessKey,
		refresh:    cfg.RefreshKey,
		nowF:       time.Now,
	}, nil
}

// Issue signs a new access/refresh pair for c. Both tokens get a fresh jti.
func (p *TokenIssuer) Issue(c Claims) (*TokenPair, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	now := p.nowF().UTC().Truncate(time.Second)
	access, err := p.sign(p.access, c, useAccess, now, now.Add(p.accessTTL))
	if err != nil {
		return nil, err
	}
	refreshExp := now.Add(p.refreshTTL)
	refresh, err := p.sign(p.refresh, c, useRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(p.accessTTL / time.Second),
		RefreshExpiresAt: refreshExp,
		TokenType:        TokenTypeBearer,
	}, nil
}

func (p *TokenIssuer) sign(k KeySet, c Claims, use string, now, exp time.Time) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   c.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		OrgID:     c.OrgID,
		Role:      c.Role,
		SessionID: c.SessionID,
		TokenUse:  use,
	}
	return jwt.NewWithClaims(k.method, claims).SignedString(k.signKey)
}

// VerifyAccess verifies an access token: signature, exp, iss, aud and token_use.
func (p *TokenIssuer) VerifyAccess(token string) (*VerifiedToken, error) {
	return p.verify(p.access, token, useAccess)
}

// VerifyRefresh verifies a refresh token: signature, exp, iss, aud and token_use.
func (p *TokenIssuer) VerifyRefresh(token string) (*VerifiedToken, error) {
	return p.verify(p.refresh, token, useRefresh)
}

func (p *TokenIssuer) verify(k KeySet, tokenString, use string) (*VerifiedToken, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{k.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	claims := &TokenClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return k.verifyKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if claims.TokenUse != use || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	out := &VerifiedToken{
		Claims: Claims{
			UserID:    claims.Subject,
			OrgID:     claims.OrgID,
			Role:      claims.Role,
			SessionID: claims.SessionID,
		},
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// classify maps jwt errors onto the three verification outcomes. Issuer and audience are checked
// before expiry because the validator joins every claim error.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
