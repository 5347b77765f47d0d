package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Literal "\n" sequences in inline PEM (common in env files) are turned into newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// KeySource is the raw signing material from configuration.
type KeySource struct {
	Secret            string
	AccessSecret      string
	RefreshSecret     string
	PrivateKey        string
	PublicKey         string
	RefreshPrivateKey string
	RefreshPublicKey  string
}

// ResolveKeys picks the access and refresh key sets from src.
//
// Access: the PEM pair when set, otherwise HS256. Refresh: the refresh PEM pair when set,
// otherwise HS256. HS256 keys use AccessSecret/RefreshSecret when both are given; otherwise
// both are derived from the first non-empty of Secret, AccessSecret, RefreshSecret.
func ResolveKeys(src KeySource) (access, refresh KeySet, err error) {
	var derivedAccess, derivedRefresh KeySet
	hmac := func() error {
		if derivedAccess.method != nil {
			return nil
		}
		if src.AccessSecret != "" && src.RefreshSecret != "" && src.AccessSecret != src.RefreshSecret {
			var err error
			if derivedAccess, err = HMACKey([]byte(src.AccessSecret)); err != nil {
				return fmt.Errorf("access secret: %w", err)
			}
			if derivedRefresh, err = HMACKey([]byte(src.RefreshSecret)); err != nil {
				return fmt.Errorf("refresh secret: %w", err)
			}
			return nil
		}
		master := firstNonEmpty(src.Secret, src.AccessSecret, src.RefreshSecret)
		if master == "" {
			return errors.New("no jwt signing secret or key pair configured")
		}
		var err error
		derivedAccess, derivedRefresh, err = DeriveHMACKeys([]byte(master))
		return err
	}

	if src.PrivateKey != "" || src.PublicKey != "" {
		if access, err = loadPair(src.PrivateKey, src.PublicKey); err != nil {
			return KeySet{}, KeySet{}, fmt.Errorf("access key pair: %w", err)
		}
	} else {
		if err = hmac(); err != nil {
			return KeySet{}, KeySet{}, err
		}
		access = derivedAccess
	}

	if src.RefreshPrivateKey != "" || src.RefreshPublicKey != "" {
		if refresh, err = loadPair(src.RefreshPrivateKey, src.RefreshPublicKey); err != nil {
			return KeySet{}, KeySet{}, fmt.Errorf("refresh key pair: %w", err)
		}
	} else {
		if err = hmac(); err != nil {
			return KeySet{}, KeySet{}, err
		}
		refresh = derivedRefresh
	}
	return access, refresh, nil
}

func loadPair(privPEM, pubPEM string) (KeySet, error) {
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return KeySet{}, err
	}
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		return KeySet{}, err
	}
	return AsymmetricKey(priv, pub)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
