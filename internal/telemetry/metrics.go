// Package telemetry holds the authentication counters. Providers and exporters live in the otel
// subpackage.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName names the tracer and meter of the auth core.
const InstrumentationName = "phone-auth/backend/internal/identity"

// Metrics are the per-flow auth counters. The zero value is not usable; use NewMetrics or Nop.
type Metrics struct {
	otpSent       metric.Int64Counter
	loginSuccess  metric.Int64Counter
	loginFailure  metric.Int64Counter
	accountLocked metric.Int64Counter
	refresh       metric.Int64Counter
	logout        metric.Int64Counter
}

// NewMetrics registers the counters on meter. A nil meter yields no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(InstrumentationName)
	}
	var m Metrics
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{event}"))
		errs = append(errs, err)
		return c
	}
	m.otpSent = counter("auth.otp.sent", "Verification codes delivered")
	m.loginSuccess = counter("auth.login.success", "Successful phone logins")
	m.loginFailure = counter("auth.login.failure", "Rejected login attempts")
	m.accountLocked = counter("auth.account.locked", "Accounts locked after repeated failures")
	m.refresh = counter("auth.refresh", "Refresh attempts by outcome")
	m.logout = counter("auth.logout", "Logouts")
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Nop returns Metrics that record nothing.
func Nop() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}

func (m *Metrics) OTPSent(ctx context.Context) {
	m.otpSent.Add(ctx, 1)
}

func (m *Metrics) LoginSuccess(ctx context.Context, newUser bool) {
	m.loginSuccess.Add(ctx, 1, metric.WithAttributes(attribute.Bool("new_user", newUser)))
}

// LoginFailure counts a rejected login; reason is an autherr kind.
func (m *Metrics) LoginFailure(ctx context.Context, reason string) {
	m.loginFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) AccountLocked(ctx context.Context) {
	m.accountLocked.Add(ctx, 1)
}

// Refresh counts a refresh attempt; outcome is "ok" or an autherr kind.
func (m *Metrics) Refresh(ctx context.Context, outcome string) {
	m.refresh.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Logout(ctx context.Context, allDevices bool) {
	m.logout.Add(ctx, 1, metric.WithAttributes(attribute.Bool("all_devices", allDevices)))
}
