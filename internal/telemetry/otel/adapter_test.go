package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"phone-auth/backend/internal/audit"
)

// recordCapture stores every Record passed to Emit for assertion.
type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func TestNewAuditEmitter_NilProvider_ReturnsNop(t *testing.T) {
	em := NewAuditEmitter(nil)
	if _, ok := em.(audit.Nop); !ok {
		t.Fatalf("NewAuditEmitter(nil) = %T, want audit.Nop", em)
	}
	em.LogEvent(context.Background(), audit.Event{Action: "logout"})
}

func TestNewAuditEmitter_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewAuditEmitter(provider)
	if _, ok := em.(*AuditEmitter); !ok {
		t.Fatalf("NewAuditEmitter = %T, want *AuditEmitter", em)
	}
	em.LogEvent(context.Background(), audit.Event{Action: "logout", UserID: "u1"})
}

func TestAuditEmitter_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := newAuditEmitter(capture)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	em.nowF = func() time.Time { return fixed }

	em.LogEvent(context.Background(), audit.Event{
		OrgID:    "org1",
		UserID:   "user1",
		Action:   "login_success",
		Resource: "authentication",
		IP:       "10.0.0.1",
		Metadata: map[string]string{"session_id": "sess1", "is_new_user": "true"},
	})
	if len(capture.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.recs))
	}
	rec := capture.recs[0]
	if got := rec.Body().AsString(); got != "login_success" {
		t.Errorf("body = %q", got)
	}
	if !rec.Timestamp().Equal(fixed) {
		t.Errorf("timestamp = %v", rec.Timestamp())
	}

	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"action":           "login_success",
		"resource":         "authentication",
		"org_id":           "org1",
		"user_id":          "user1",
		"client_ip":        "10.0.0.1",
		"meta.session_id":  "sess1",
		"meta.is_new_user": "true",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestAuditEmitter_OmitsEmptyFields(t *testing.T) {
	capture := &recordCapture{}
	em := newAuditEmitter(capture)
	em.LogEvent(context.Background(), audit.Event{Action: "otp_sent"})
	if len(capture.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.recs))
	}
	if n := capture.recs[0].AttributesLen(); n != 1 {
		t.Errorf("attributes = %d, want only action", n)
	}
}

func TestAuditEmitter_SkipsEventWithoutAction(t *testing.T) {
	capture := &recordCapture{}
	newAuditEmitter(capture).LogEvent(context.Background(), audit.Event{UserID: "u1"})
	if len(capture.recs) != 0 {
		t.Errorf("records = %d, want 0", len(capture.recs))
	}
}
