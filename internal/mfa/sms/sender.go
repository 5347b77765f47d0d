// Package sms delivers OTP codes to phones.
package sms

import "context"

// Sender delivers a one-time code to a phone number. Implementations must not log the code.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, phone, code string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, phone, code string) error { return f(ctx, phone, code) }
