package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"regexp"
	"strings"
)

const (
	otpDigits = 6
	otpMin    = 100000
	otpSpan   = 900000 // otpMin..999999 inclusive
)

// ErrInvalidPhone is returned for phone numbers that are not E.164 normalised.
var ErrInvalidPhone = errors.New("phone number must be E.164 (e.g. +919876543210)")

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// ValidatePhone checks that phone is already normalised. It never rewrites input.
func ValidatePhone(phone string) error {
	if !e164.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// GenerateOTP returns a uniformly random 6-digit code in [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", err
	}
	code := n.Int64() + otpMin
	return big.NewInt(code).String(), nil
}

// HashOTP returns a SHA-256 hash of the OTP string, hex-encoded.
func HashOTP(otp string) string {
	h := sha256.Sum256([]byte(otp))
	return hex.EncodeToString(h[:])
}

// OTPEqual performs constant-time comparison of the provided OTP's hash with the stored hash.
func OTPEqual(providedOTP, storedHash string) bool {
	providedHash := HashOTP(providedOTP)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// MaskPhone keeps the leading "+", the country prefix up to 2 digits and the last 4
// digits: "+919876543210" -> "+91******3210".
func MaskPhone(phone string) string {
	digits := strings.TrimPrefix(phone, "+")
	plus := len(digits) != len(phone)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	head := 0
	if plus && len(digits) > 8 {
		head = 2
	}
	var b strings.Builder
	if plus {
		b.WriteByte('+')
	}
	b.WriteString(digits[:head])
	b.WriteString(strings.Repeat("*", len(digits)-head-4))
	b.WriteString(digits[len(digits)-4:])
	return b.String()
}
